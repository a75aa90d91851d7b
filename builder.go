package pyramid

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Dimension is a non-spatial axis of a source, such as time or depth.
type Dimension struct {
	Name   string
	Values []string
}

// SliceSource serves the 2D coverages of a multi-dimensional source.
type SliceSource interface {
	Dimensions() []Dimension
	// Slice returns the coverage at one value per dimension.
	Slice(ctx context.Context, coords map[string]string) (*Coverage, error)
}

// BuildRequest is a WriteRequest applied to every slice of a source. Source
// and Slice of the embedded request are set per slice.
type BuildRequest struct {
	WriteRequest
	// Prefix is prepended to every slice key.
	Prefix string
}

// Builder writes every slice of a multi-dimensional source.
type Builder struct {
	writer *Writer
	log    logrus.FieldLogger
}

// NewBuilder returns a builder writing through w.
func NewBuilder(w *Writer, opts ...Option) *Builder {
	return &Builder{writer: w, log: newSettings(opts).log}
}

// Build iterates the cartesian product of the source dimensions and writes
// each slice into mosaics grouped by its slice key.
func (b *Builder) Build(ctx context.Context, src SliceSource, req BuildRequest) error {
	for _, coords := range Combinations(src.Dimensions()) {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := req.Prefix + SliceKey(coords)
		log := b.log.WithField("slice", key)

		cov, err := src.Slice(ctx, coords)
		if err != nil {
			return fmt.Errorf("failed to load slice %s: %w", key, err)
		}
		if cov == nil {
			log.Debug("slice has no data, skipping")
			continue
		}
		wr := req.WriteRequest
		wr.Source = cov
		wr.Slice = key
		log.Info("writing slice")
		if err := b.writer.Write(ctx, wr); err != nil {
			return fmt.Errorf("failed to write slice %s: %w", key, err)
		}
	}
	return nil
}

// Combinations lists every combination of one value per dimension, the last
// dimension varying fastest. Without dimensions it yields a single empty
// combination.
func Combinations(dims []Dimension) []map[string]string {
	out := []map[string]string{{}}
	for _, d := range dims {
		next := make([]map[string]string, 0, len(out)*len(d.Values))
		for _, c := range out {
			for _, v := range d.Values {
				m := make(map[string]string, len(c)+1)
				for k, cv := range c {
					m[k] = cv
				}
				m[d.Name] = v
				next = append(next, m)
			}
		}
		out = next
	}
	return out
}

// SliceKey encodes coordinates as "name=value" pairs sorted by name and joined
// with ';'.
func SliceKey(coords map[string]string) string {
	names := make([]string, 0, len(coords))
	for k := range coords {
		names = append(names, k)
	}
	slices.Sort(names)
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = n + "=" + coords[n]
	}
	return strings.Join(parts, ";")
}

// ParseSliceKey decodes a key built by SliceKey.
func ParseSliceKey(key string) (map[string]string, error) {
	out := make(map[string]string)
	if key == "" {
		return out, nil
	}
	for _, part := range strings.Split(key, ";") {
		name, value, ok := strings.Cut(part, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("malformed slice key %q: %w", key, ErrInvalidParameters)
		}
		out[name] = value
	}
	return out, nil
}

// StackedSource is an in-memory SliceSource.
type StackedSource struct {
	mu     sync.RWMutex
	dims   []Dimension
	slices map[string]*Coverage
}

// NewStackedSource returns an empty source over dims.
func NewStackedSource(dims ...Dimension) *StackedSource {
	return &StackedSource{dims: dims, slices: make(map[string]*Coverage)}
}

// Add stores the coverage of one slice.
func (s *StackedSource) Add(coords map[string]string, cov *Coverage) error {
	for _, d := range s.dims {
		v, ok := coords[d.Name]
		if !ok || !slices.Contains(d.Values, v) {
			return fmt.Errorf("slice %s: no value of dimension %s: %w", SliceKey(coords), d.Name, ErrInvalidParameters)
		}
	}
	if len(coords) != len(s.dims) {
		return fmt.Errorf("slice %s: unknown dimension: %w", SliceKey(coords), ErrInvalidParameters)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slices[SliceKey(coords)] = cov
	return nil
}

// Dimensions implements SliceSource.
func (s *StackedSource) Dimensions() []Dimension {
	return s.dims
}

// Slice implements SliceSource. Slices never added yield nil.
func (s *StackedSource) Slice(_ context.Context, coords map[string]string) (*Coverage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slices[SliceKey(coords)], nil
}
