package pyramid

import (
	"context"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
)

// ReadRequest asks for an envelope at a resolution.
type ReadRequest struct {
	// Envelope in EnvelopeCRS. A zero envelope reads the set envelope.
	Envelope    orb.Bound
	EnvelopeCRS CRS
	// CRS of the result; taken from EnvelopeCRS when unset and vice versa.
	CRS CRS
	// Resolution in CRS units per pixel; zero selects the coarsest usable level.
	Resolution float64
	// Slice selects the mosaics of one slice of a multi-dimensional source.
	Slice string
	// Band subsetting is not supported; setting either yields
	// ErrUnsupportedParameter.
	SourceBands      []int
	DestinationBands []int
	// Reproject resamples the result into CRS when the pyramid serving the
	// read uses another CRS. Without it the tile-aligned result stays in the
	// pyramid CRS.
	Reproject bool
	// MaxTiles overrides the configured tile budget when positive.
	MaxTiles int
}

// Reader answers envelope reads against a pyramid set.
type Reader struct {
	set *PyramidSet
	cfg ReaderConfig
	log logrus.FieldLogger
}

// NewReader returns a reader over set.
func NewReader(set *PyramidSet, cfg ReaderConfig, opts ...Option) (*Reader, error) {
	if err := prepare(&cfg); err != nil {
		return nil, err
	}
	return &Reader{set: set, cfg: cfg, log: newSettings(opts).log}, nil
}

// Read composites the tiles covering the request into one coverage. The
// result is aligned to the tile grid of the selected mosaic. Missing tiles and
// tiles failing to decode are left filled with the no-data value; a read
// without any tile returns a no-data coverage of the right size.
//
// When ctx is cancelled mid-read the partially composited coverage is
// returned together with an error wrapping the context error.
func (r *Reader) Read(ctx context.Context, req ReadRequest) (*Coverage, error) {
	if len(req.SourceBands) > 0 || len(req.DestinationBands) > 0 {
		return nil, fmt.Errorf("band subsetting: %w", ErrUnsupportedParameter)
	}
	envelope, envCRS, crs, err := r.normalize(req)
	if err != nil {
		return nil, err
	}

	p := FindPyramid(r.set, crs, r.log)
	if p == nil {
		return nil, fmt.Errorf("pyramid set %s: %w", r.set.ID, ErrNoPyramid)
	}
	toPyramid, err := FindTransform(envCRS, p.CRS)
	if err != nil {
		return nil, err
	}
	env := p.CRS.ClipToDomain(TransformBound(toPyramid, envelope))

	resolution := AnyResolution
	if req.Resolution > 0 {
		resolution = convertResolution(req.Resolution, envelope, env)
	}
	maxTiles := r.cfg.MaxTiles
	if req.MaxTiles > 0 {
		maxTiles = req.MaxTiles
	}
	m := p.FindMosaic(req.Slice, resolution, r.cfg.Tolerance, env, maxTiles)
	if m == nil {
		return nil, fmt.Errorf("pyramid %s slice %q: %w", p.ID, req.Slice, ErrNoMosaic)
	}
	log := r.log.WithFields(logrus.Fields{"pyramid": p.ID, "mosaic": m.ID, "scale": m.Scale})

	rng := m.TileRange(env)
	cov, err := r.composite(ctx, m, rng, log)
	if err != nil {
		return cov, err
	}

	if req.Reproject && !crs.Equal(p.CRS) {
		return r.reproject(ctx, cov, crs, envelope, envCRS, req.Resolution)
	}
	return cov, nil
}

func (r *Reader) normalize(req ReadRequest) (orb.Bound, CRS, CRS, error) {
	envelope, envCRS, crs := req.Envelope, req.EnvelopeCRS, req.CRS
	if !envCRS.IsZero() && !crs.IsZero() && !envCRS.Equal(crs) {
		return envelope, envCRS, crs, fmt.Errorf("envelope crs %s conflicts with crs %s: %w", envCRS, crs, ErrInvalidParameters)
	}
	if envelope == (orb.Bound{}) {
		envelope, envCRS = r.set.Envelope()
		if !crs.IsZero() && !envCRS.IsZero() && !crs.Equal(envCRS) {
			t, err := FindTransform(envCRS, crs)
			if err != nil {
				return envelope, envCRS, crs, err
			}
			envelope, envCRS = crs.ClipToDomain(TransformBound(t, envelope)), crs
		}
	}
	switch {
	case envCRS.IsZero() && crs.IsZero():
		if ps := r.set.Pyramids(); len(ps) > 0 {
			envCRS, crs = ps[0].CRS, ps[0].CRS
		}
	case envCRS.IsZero():
		envCRS = crs
	case crs.IsZero():
		crs = envCRS
	}
	return envelope, envCRS, crs, nil
}

// convertResolution carries a resolution over to the envelope transformed
// into another CRS, keeping the pixel count across the envelope.
func convertResolution(res float64, from, to orb.Bound) float64 {
	fw, tw := from.Max[0]-from.Min[0], to.Max[0]-to.Min[0]
	if !(fw > 0) || !isFinite(tw) || tw <= 0 {
		return res
	}
	return res * tw / fw
}

func (r *Reader) composite(ctx context.Context, m *GridMosaic, rng TileRange, log logrus.FieldLogger) (*Coverage, error) {
	tw, th := m.TileSpan()
	cov := &Coverage{
		GridToCRS: Affine{
			A: m.Scale, C: m.UpperLeft[0] + float64(rng.MinCol)*tw,
			E: -m.Scale, F: m.UpperLeft[1] - float64(rng.MinRow)*th,
		},
	}
	if p := r.set.Pyramid(m.PyramidID); p != nil {
		cov.CRS = p.CRS
	}
	width, height := rng.Cols()*m.TileWidth, rng.Rows()*m.TileHeight

	var out *Raster
	var positions []TilePos
	for _, pos := range rng.Positions() {
		if !m.IsMissing(pos.Col, pos.Row) {
			positions = append(positions, pos)
		}
	}
	log.WithFields(logrus.Fields{"tiles": len(positions), "range": rng.Count()}).Debug("reading tiles")

	finish := func() *Coverage {
		if out == nil {
			model := DefaultSampleModel(1, Float64)
			if m.Model != nil {
				model = *m.Model
			}
			out = NewRaster(width, height, model)
		}
		cov.Raster = out
		return cov
	}
	if len(positions) == 0 {
		return finish(), nil
	}

	stream := m.Tiles(ctx, positions, StreamOptions{Workers: r.cfg.Workers, BufferSize: r.cfg.BufferSize})
	defer stream.Cancel()
	for {
		if err := ctx.Err(); err != nil {
			stream.Cancel()
			log.WithError(err).Info("read cancelled, returning partial result")
			return finish(), fmt.Errorf("read cancelled: %w", err)
		}
		res, status := stream.Poll(r.cfg.PollInterval)
		switch status {
		case PollTimeout:
			continue
		case PollEnd:
			if err := stream.Err(); err != nil {
				return finish(), fmt.Errorf("read cancelled: %w", err)
			}
			return finish(), nil
		}
		if out == nil {
			// the first tile fixes the sample model of the result
			out = NewRaster(width, height, res.Raster.Model)
		}
		out.Paste(res.Raster, (res.Col-rng.MinCol)*m.TileWidth, (res.Row-rng.MinRow)*m.TileHeight)
	}
}

func (r *Reader) reproject(ctx context.Context, cov *Coverage, crs CRS, envelope orb.Bound, envCRS CRS, resolution float64) (*Coverage, error) {
	if !envCRS.Equal(crs) {
		t, err := FindTransform(envCRS, crs)
		if err != nil {
			return nil, err
		}
		envelope = TransformBound(t, envelope)
	}
	if !(resolution > 0) {
		// keep roughly the source pixel count across the envelope
		toCRS, err := FindTransform(cov.CRS, crs)
		if err != nil {
			return nil, err
		}
		b := TransformBound(toCRS, cov.Bounds())
		if cov.Width > 0 {
			resolution = (b.Max[0] - b.Min[0]) / float64(cov.Width)
		}
	}
	if !(resolution > 0) || !isFinite(resolution) {
		return nil, fmt.Errorf("cannot derive a resolution in %s: %w", crs, ErrTransform)
	}
	width := max(int(math.Ceil((envelope.Max[0]-envelope.Min[0])/resolution-TileEpsilon)), 1)
	height := max(int(math.Ceil((envelope.Max[1]-envelope.Min[1])/resolution-TileEpsilon)), 1)
	gridToCRS := Affine{A: resolution, C: envelope.Min[0], E: -resolution, F: envelope.Max[1]}

	fill := make([]float64, cov.Model.Bands)
	for i := range fill {
		fill[i] = cov.Model.NoData
	}
	rs := Resampler{Interpolation: r.cfg.Interpolation, Fill: fill}
	return rs.Warp(ctx, cov, crs, gridToCRS, width, height)
}
