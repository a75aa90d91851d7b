package pyramid

import (
	"context"
	"fmt"
	"math"
	"math/bits"
	"runtime"
	"slices"
	"sync/atomic"

	"github.com/google/hilbert"
	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// WriteTarget asks for one pyramid level per scale in CRS over Envelope.
type WriteTarget struct {
	CRS CRS
	// Envelope of the pyramid; a zero envelope covers the source footprint.
	Envelope orb.Bound
	// Scales in CRS units per pixel, one mosaic each.
	Scales []float64
	// TileWidth and TileHeight override the writer configuration when set.
	TileWidth  int
	TileHeight int
}

// WriteRequest ingests a source coverage into one or more pyramids.
type WriteRequest struct {
	Source  *Coverage
	Targets []WriteTarget
	// Fill holds one value per band for tile pixels mapping outside the
	// source; defaults to zero.
	Fill []float64
	// OnlyMissing leaves populated tiles untouched.
	OnlyMissing   bool
	Interpolation Interpolation
	// Region restricts the write to the tiles intersecting it, in source CRS
	// coordinates. A zero region covers the whole source.
	Region orb.Bound
	// Slice tags the written mosaics.
	Slice string
	// Model of the written tiles; defaults to the source model.
	Model *SampleModel
	// Progress is called after each tile with the tiles done so far and the
	// total of the current mosaic.
	Progress func(m *GridMosaic, done, total int)
}

// Writer resamples source coverages into the tiles of a store.
type Writer struct {
	store Store
	cfg   WriterConfig
	log   logrus.FieldLogger
}

// NewWriter returns a writer into store.
func NewWriter(store Store, cfg WriterConfig, opts ...Option) (*Writer, error) {
	if err := prepare(&cfg); err != nil {
		return nil, err
	}
	return &Writer{store: store, cfg: cfg, log: newSettings(opts).log}, nil
}

// Write creates missing pyramids and mosaics and writes every tile of them
// intersecting the source footprint.
func (w *Writer) Write(ctx context.Context, req WriteRequest) error {
	if req.Source == nil || req.Source.Raster == nil {
		return fmt.Errorf("write request without source")
	}
	if req.Interpolation == "" {
		req.Interpolation = w.cfg.Interpolation
	}
	if _, err := req.Interpolation.kernel(); err != nil {
		return err
	}
	for _, t := range req.Targets {
		if err := w.writeTarget(ctx, req, t); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeTarget(ctx context.Context, req WriteRequest, t WriteTarget) error {
	src := req.Source
	toTarget, err := FindTransform(src.CRS, t.CRS)
	if err != nil {
		return err
	}
	srcRegion := src.Bounds()
	if req.Region != (orb.Bound{}) {
		var ok bool
		if srcRegion, ok = intersect(srcRegion, req.Region); !ok {
			return nil
		}
	}
	footprint := t.CRS.ClipToDomain(TransformBound(toTarget, srcRegion))

	envelope := t.Envelope
	if envelope == (orb.Bound{}) {
		envelope = footprint
	}
	if !(envelope.Max[0] > envelope.Min[0]) || !(envelope.Max[1] > envelope.Min[1]) {
		return fmt.Errorf("empty target envelope %v in %s", envelope, t.CRS)
	}

	p, err := w.pyramid(ctx, t.CRS)
	if err != nil {
		return err
	}
	model := src.Model
	if req.Model != nil {
		model = *req.Model
	}
	tw, th := t.TileWidth, t.TileHeight
	if tw <= 0 {
		tw = w.cfg.TileWidth
	}
	if th <= 0 {
		th = w.cfg.TileHeight
	}

	for _, scale := range t.Scales {
		m, err := w.mosaic(ctx, p, req.Slice, scale, envelope, tw, th, model)
		if err != nil {
			return err
		}
		area, ok := intersect(footprint, m.Bound())
		if !ok {
			continue
		}
		if err := w.writeMosaic(ctx, req, m, m.TileRange(area), t.CRS, model); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) pyramid(ctx context.Context, crs CRS) (*Pyramid, error) {
	set, err := w.store.PyramidSet(ctx)
	if err != nil {
		return nil, err
	}
	if p := set.PyramidFor(crs); p != nil {
		return p, nil
	}
	w.log.WithField("crs", crs.String()).Info("creating pyramid")
	return w.store.CreatePyramid(ctx, crs)
}

func (w *Writer) mosaic(ctx context.Context, p *Pyramid, slice string, scale float64, envelope orb.Bound, tw, th int, model SampleModel) (*GridMosaic, error) {
	if m := p.MosaicAtScale(slice, scale); m != nil {
		return m, nil
	}
	def := MosaicDef{
		Slice:      slice,
		UpperLeft:  orb.Point{envelope.Min[0], envelope.Max[1]},
		GridWidth:  int(math.Ceil((envelope.Max[0]-envelope.Min[0])/(scale*float64(tw)) - TileEpsilon)),
		GridHeight: int(math.Ceil((envelope.Max[1]-envelope.Min[1])/(scale*float64(th)) - TileEpsilon)),
		TileWidth:  tw,
		TileHeight: th,
		Scale:      scale,
		Model:      &model,
	}
	def.GridWidth, def.GridHeight = max(def.GridWidth, 1), max(def.GridHeight, 1)
	w.log.WithFields(logrus.Fields{
		"pyramid": p.ID,
		"scale":   scale,
		"grid":    fmt.Sprintf("%dx%d", def.GridWidth, def.GridHeight),
	}).Info("creating mosaic")
	return w.store.CreateMosaic(ctx, p.ID, def)
}

func (w *Writer) writeMosaic(ctx context.Context, req WriteRequest, m *GridMosaic, rng TileRange, crs CRS, model SampleModel) error {
	positions, err := hilbertOrder(rng)
	if err != nil {
		return err
	}
	rs := Resampler{Interpolation: req.Interpolation, Fill: req.Fill}
	workers := w.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	log := w.log.WithFields(logrus.Fields{"pyramid": m.PyramidID, "mosaic": m.ID})
	log.WithField("tiles", len(positions)).Debug("writing tiles")

	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, pos := range positions {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if req.OnlyMissing && !m.IsMissing(pos.Col, pos.Row) {
				w.progress(req, m, &done, len(positions))
				return nil
			}
			toSrc, err := PixelTransform(m.TileGridToCRS(pos.Col, pos.Row), crs, req.Source)
			if err != nil {
				return err
			}
			tile := NewRaster(m.TileWidth, m.TileHeight, model)
			if err := rs.Resample(gctx, req.Source.Raster, tile, toSrc); err != nil {
				return err
			}
			if err := w.store.WriteTile(gctx, m, pos.Col, pos.Row, tile); err != nil {
				return fmt.Errorf("failed to write tile %d/%d: %w", pos.Col, pos.Row, err)
			}
			w.progress(req, m, &done, len(positions))
			return nil
		})
	}
	return g.Wait()
}

func (w *Writer) progress(req WriteRequest, m *GridMosaic, done *atomic.Int64, total int) {
	n := done.Add(1)
	if req.Progress != nil {
		req.Progress(m, int(n), total)
	}
}

// hilbertOrder lists the tiles of rng along a Hilbert curve so neighbouring
// jobs touch neighbouring source pixels.
func hilbertOrder(rng TileRange) ([]TilePos, error) {
	positions := rng.Positions()
	if len(positions) <= 1 {
		return positions, nil
	}
	side := max(rng.Cols(), rng.Rows())
	n := 1 << bits.Len(uint(side-1))
	h, err := hilbert.NewHilbert(n)
	if err != nil {
		return nil, fmt.Errorf("failed to build hilbert curve: %w", err)
	}
	keys := make(map[TilePos]int, len(positions))
	for _, p := range positions {
		d, err := h.MapInverse(p.Col-rng.MinCol, p.Row-rng.MinRow)
		if err != nil {
			return nil, err
		}
		keys[p] = d
	}
	slices.SortFunc(positions, func(a, b TilePos) int {
		return keys[a] - keys[b]
	})
	return positions, nil
}

func intersect(a, b orb.Bound) (orb.Bound, bool) {
	out := orb.Bound{
		Min: orb.Point{math.Max(a.Min[0], b.Min[0]), math.Max(a.Min[1], b.Min[1])},
		Max: orb.Point{math.Min(a.Max[0], b.Max[0]), math.Min(a.Max[1], b.Max[1])},
	}
	if !(out.Min[0] < out.Max[0]) || !(out.Min[1] < out.Max[1]) {
		return out, false
	}
	return out, true
}
