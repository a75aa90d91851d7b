// Package pyramid stores and retrieves geospatial rasters as pyramids of
// tiled mosaics, one pyramid per coordinate reference system.
package pyramid

import (
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/paulmach/orb"
	"github.com/teris-io/shortid"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// NewID generates an identifier for pyramid sets, pyramids and mosaics.
func NewID() string {
	return shortid.MustGenerate()
}

// scaleEqual compares scales with a relative tolerance.
func scaleEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(math.Abs(a), math.Abs(b))
}

// Pyramid is the set of mosaics of one CRS, ordered from coarsest to finest.
type Pyramid struct {
	ID  string
	CRS CRS

	mu      sync.RWMutex
	mosaics []*GridMosaic
}

// NewPyramid returns an empty pyramid.
func NewPyramid(id string, crs CRS) *Pyramid {
	return &Pyramid{ID: id, CRS: crs}
}

// AddMosaic inserts a mosaic keeping scale order. A mosaic of the same slice
// at the same scale yields ErrDuplicateScale.
func (p *Pyramid) AddMosaic(m *GridMosaic) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("mosaic %s: %w", m.ID, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, o := range p.mosaics {
		if o.Slice == m.Slice && scaleEqual(o.Scale, m.Scale) {
			return fmt.Errorf("mosaic at scale %v in pyramid %s: %w", m.Scale, p.ID, ErrDuplicateScale)
		}
	}
	i, _ := slices.BinarySearchFunc(p.mosaics, m, compareMosaics)
	p.mosaics = slices.Insert(p.mosaics, i, m)
	return nil
}

// coarse to fine, then by slice
func compareMosaics(a, b *GridMosaic) int {
	switch {
	case a.Scale > b.Scale:
		return -1
	case a.Scale < b.Scale:
		return 1
	case a.Slice < b.Slice:
		return -1
	case a.Slice > b.Slice:
		return 1
	}
	return 0
}

// Mosaics returns every mosaic from coarsest to finest.
func (p *Pyramid) Mosaics() []*GridMosaic {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.mosaics)
}

// SliceMosaics returns the mosaics of one slice from coarsest to finest.
func (p *Pyramid) SliceMosaics(slice string) []*GridMosaic {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*GridMosaic
	for _, m := range p.mosaics {
		if m.Slice == slice {
			out = append(out, m)
		}
	}
	return out
}

// Slices lists the distinct slice keys in the pyramid.
func (p *Pyramid) Slices() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []string
	for _, m := range p.mosaics {
		if !slices.Contains(out, m.Slice) {
			out = append(out, m.Slice)
		}
	}
	slices.Sort(out)
	return out
}

// Mosaic looks a mosaic up by identifier.
func (p *Pyramid) Mosaic(id string) *GridMosaic {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, m := range p.mosaics {
		if m.ID == id {
			return m
		}
	}
	return nil
}

// MosaicAtScale returns the mosaic of slice at scale, or nil.
func (p *Pyramid) MosaicAtScale(slice string, scale float64) *GridMosaic {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, m := range p.mosaics {
		if m.Slice == slice && scaleEqual(m.Scale, scale) {
			return m
		}
	}
	return nil
}

// FindMosaic selects a level of slice for the wanted resolution, see FindMosaic.
func (p *Pyramid) FindMosaic(slice string, wanted, tolerance float64, envelope orb.Bound, maxTiles int) *GridMosaic {
	return FindMosaic(p.SliceMosaics(slice), wanted, tolerance, envelope, maxTiles)
}

// Bound is the union of the mosaic envelopes.
func (p *Pyramid) Bound() orb.Bound {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var b orb.Bound
	for i, m := range p.mosaics {
		if i == 0 {
			b = m.Bound()
			continue
		}
		b = b.Union(m.Bound())
	}
	return b
}

// PyramidSet is the collection of pyramids describing one raster resource.
type PyramidSet struct {
	ID        string
	Encodings []string

	mu          sync.RWMutex
	pyramids    *orderedmap.OrderedMap[string, *Pyramid]
	envelope    orb.Bound
	envelopeCRS CRS
}

// NewPyramidSet returns an empty set.
func NewPyramidSet(id string, encodings ...string) *PyramidSet {
	return &PyramidSet{
		ID:        id,
		Encodings: encodings,
		pyramids:  orderedmap.New[string, *Pyramid](),
	}
}

// AddPyramid appends a pyramid. Two pyramids may not share a CRS.
func (s *PyramidSet) AddPyramid(p *Pyramid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for pair := s.pyramids.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.CRS.Equal(p.CRS) {
			return fmt.Errorf("pyramid for %s in set %s: %w", p.CRS, s.ID, ErrDuplicateCRS)
		}
	}
	s.pyramids.Set(p.ID, p)
	return nil
}

// Pyramids returns the pyramids in insertion order.
func (s *PyramidSet) Pyramids() []*Pyramid {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Pyramid, 0, s.pyramids.Len())
	for pair := s.pyramids.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Pyramid looks a pyramid up by identifier.
func (s *PyramidSet) Pyramid(id string) *Pyramid {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, _ := s.pyramids.Get(id)
	return p
}

// PyramidFor returns the pyramid of exactly crs, or nil. Use FindPyramid for
// the lookup with fallback.
func (s *PyramidSet) PyramidFor(crs CRS) *Pyramid {
	for _, p := range s.Pyramids() {
		if p.CRS.Equal(crs) {
			return p
		}
	}
	return nil
}

// Mosaic finds a mosaic by pyramid and mosaic identifier.
func (s *PyramidSet) Mosaic(pyramidID, mosaicID string) *GridMosaic {
	p := s.Pyramid(pyramidID)
	if p == nil {
		return nil
	}
	return p.Mosaic(mosaicID)
}

// Len is the number of pyramids.
func (s *PyramidSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pyramids.Len()
}

// ExtendEnvelope grows the approximate envelope by b expressed in crs. The
// first call fixes the envelope CRS; later bounds are transformed into it
// when possible and ignored otherwise.
func (s *PyramidSet) ExtendEnvelope(b orb.Bound, crs CRS) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.envelopeCRS.IsZero() {
		s.envelope, s.envelopeCRS = b, crs
		return
	}
	t, err := FindTransform(crs, s.envelopeCRS)
	if err != nil {
		return
	}
	s.envelope = s.envelope.Union(TransformBound(t, b))
}

// Envelope returns the approximate extent of the set and its CRS. It is only
// suited for coarse filtering; the CRS is zero while the set is empty.
func (s *PyramidSet) Envelope() (orb.Bound, CRS) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.envelope, s.envelopeCRS
}
