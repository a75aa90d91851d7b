package pyramid

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps tiles in memory.
type MemoryStore struct {
	Notifier

	set  *PyramidSet
	opts []Option

	mu    sync.RWMutex
	tiles map[string]*Raster
}

// NewMemoryStore returns an empty store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		set:   NewPyramidSet(NewID(), "raw"),
		opts:  opts,
		tiles: make(map[string]*Raster),
	}
}

// PyramidSet implements Store.
func (s *MemoryStore) PyramidSet(context.Context) (*PyramidSet, error) {
	return s.set, nil
}

// CreatePyramid implements Store.
func (s *MemoryStore) CreatePyramid(_ context.Context, crs CRS) (*Pyramid, error) {
	p := NewPyramid(NewID(), crs)
	if err := s.set.AddPyramid(p); err != nil {
		return nil, err
	}
	s.Fire(Event{Kind: PyramidAdded, PyramidID: p.ID})
	return p, nil
}

// CreateMosaic implements Store.
func (s *MemoryStore) CreateMosaic(_ context.Context, pyramidID string, def MosaicDef) (*GridMosaic, error) {
	p := s.set.Pyramid(pyramidID)
	if p == nil {
		return nil, fmt.Errorf("unknown pyramid %s", pyramidID)
	}
	m := NewGridMosaic(NewID(), pyramidID, def, s, s.opts...)
	if err := p.AddMosaic(m); err != nil {
		return nil, err
	}
	s.set.ExtendEnvelope(m.Bound(), p.CRS)
	s.Fire(Event{Kind: MosaicAdded, PyramidID: pyramidID, MosaicID: m.ID})
	return m, nil
}

// WriteTile implements Store. The raster is stored as is and must not be
// modified afterwards.
func (s *MemoryStore) WriteTile(_ context.Context, m *GridMosaic, col, row int, r *Raster) error {
	if !m.InGrid(col, row) {
		return fmt.Errorf("tile %d/%d outside grid of mosaic %s", col, row, m.ID)
	}
	if r.Width != m.TileWidth || r.Height != m.TileHeight {
		return fmt.Errorf("tile size %dx%d does not match mosaic %dx%d", r.Width, r.Height, m.TileWidth, m.TileHeight)
	}
	key := m.TileKey(col, row)
	s.mu.Lock()
	_, existed := s.tiles[key]
	s.tiles[key] = r
	s.mu.Unlock()

	kind := TilesAdded
	if existed {
		kind = TilesUpdated
	}
	s.Fire(Event{Kind: kind, PyramidID: m.PyramidID, MosaicID: m.ID, Tiles: []TilePos{{Col: col, Row: row}}})
	return nil
}

// DeleteTile removes a tile, flagging the cell missing again.
func (s *MemoryStore) DeleteTile(m *GridMosaic, col, row int) {
	s.mu.Lock()
	delete(s.tiles, m.TileKey(col, row))
	s.mu.Unlock()
	s.Fire(Event{Kind: TilesDeleted, PyramidID: m.PyramidID, MosaicID: m.ID, Tiles: []TilePos{{Col: col, Row: row}}})
}

// IsMissing implements TileSource.
func (s *MemoryStore) IsMissing(m *GridMosaic, col, row int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tiles[m.TileKey(col, row)]
	return !ok
}

// TileReference implements TileSource.
func (s *MemoryStore) TileReference(_ context.Context, m *GridMosaic, col, row int) (TileReference, error) {
	s.mu.RLock()
	r, ok := s.tiles[m.TileKey(col, row)]
	s.mu.RUnlock()
	if !ok {
		return TileReference{}, fmt.Errorf("tile %d/%d of mosaic %s: %w", col, row, m.ID, ErrTileMissing)
	}
	return NewInMemoryReference(col, row, r), nil
}
