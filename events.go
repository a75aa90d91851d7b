package pyramid

import (
	"reflect"
	"slices"
	"sync"
)

// EventKind tells what changed in a store.
type EventKind uint8

const (
	PyramidAdded EventKind = iota + 1
	PyramidUpdated
	PyramidDeleted
	MosaicAdded
	MosaicUpdated
	MosaicDeleted
	TilesAdded
	TilesUpdated
	TilesDeleted
	DataUpdated
)

var eventKindNames = [...]string{
	PyramidAdded:   "pyramid-added",
	PyramidUpdated: "pyramid-updated",
	PyramidDeleted: "pyramid-deleted",
	MosaicAdded:    "mosaic-added",
	MosaicUpdated:  "mosaic-updated",
	MosaicDeleted:  "mosaic-deleted",
	TilesAdded:     "tiles-added",
	TilesUpdated:   "tiles-updated",
	TilesDeleted:   "tiles-deleted",
	DataUpdated:    "data-updated",
}

func (k EventKind) String() string {
	if int(k) < len(eventKindNames) && eventKindNames[k] != "" {
		return eventKindNames[k]
	}
	return "unknown"
}

// Event describes a completed structural change.
type Event struct {
	Kind      EventKind
	PyramidID string
	MosaicID  string
	// Tiles lists the affected tiles of tile events.
	Tiles []TilePos
}

// Listener receives events after the mutation completed.
type Listener interface {
	OnEvent(e Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(e Event)

// OnEvent implements Listener.
func (f ListenerFunc) OnEvent(e Event) {
	f(e)
}

// Notifier fans events out to registered listeners.
type Notifier struct {
	mu        sync.RWMutex
	listeners []Listener
}

// AddListener registers l.
func (n *Notifier) AddListener(l Listener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, l)
}

// RemoveListener unregisters the most recent registration of l. Functions
// are matched by their code, so closures of one literal are interchangeable.
func (n *Notifier) RemoveListener(l Listener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.listeners) - 1; i >= 0; i-- {
		if sameListener(n.listeners[i], l) {
			n.listeners = slices.Delete(n.listeners, i, i+1)
			return
		}
	}
}

func sameListener(a, b Listener) bool {
	ta := reflect.TypeOf(a)
	if ta != reflect.TypeOf(b) {
		return false
	}
	switch {
	case ta == nil:
		return true
	case ta.Comparable():
		return a == b
	case ta.Kind() == reflect.Func:
		return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
	}
	return false
}

// Fire delivers e synchronously to every listener.
func (n *Notifier) Fire(e Event) {
	n.mu.RLock()
	ls := slices.Clone(n.listeners)
	n.mu.RUnlock()
	for _, l := range ls {
		l.OnEvent(e)
	}
}
