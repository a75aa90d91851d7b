// Package cog serves Cloud Optimized GeoTIFFs as read-only pyramid stores:
// one pyramid per file, one mosaic per resolution level, one tile per TIFF
// block.
package cog

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
	"github.com/tingold/pyramid"
	"github.com/valyala/fasthttp"
)

type settings struct {
	log       logrus.FieldLogger
	client    *fasthttp.Client
	readAhead int
	timeout   time.Duration
	crs       pyramid.CRS
}

// Option configures Open.
type Option func(*settings)

// WithLogger sets the logger. The default is the logrus standard logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *settings) {
		if log != nil {
			s.log = log
		}
	}
}

// WithHTTPClient sets the client used for remote files.
func WithHTTPClient(c *fasthttp.Client) Option {
	return func(s *settings) {
		s.client = c
	}
}

// WithReadAhead sets the minimum size of one range request.
func WithReadAhead(n int) Option {
	return func(s *settings) {
		s.readAhead = n
	}
}

// WithTimeout bounds every range request.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.timeout = d
	}
}

// WithCRS overrides the CRS declared by the GeoKeys, or supplies one for
// files without.
func WithCRS(crs pyramid.CRS) Option {
	return func(s *settings) {
		s.crs = crs
	}
}

// Store is a read-only pyramid store over one GeoTIFF. Mutating methods
// return pyramid.ErrWriteUnsupported.
type Store struct {
	pyramid.Notifier

	name   string
	r      io.ReaderAt
	closer io.Closer
	file   *tiffFile
	geo    georef
	images map[string]*ifdImage
	set    *pyramid.PyramidSet
	log    logrus.FieldLogger
}

// IsRemote reports whether pathOrURL names an HTTP resource.
func IsRemote(pathOrURL string) bool {
	return strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://")
}

// Open opens a COG from a file path or an http(s) URL and reads its
// structure. Pixels are read on demand.
func Open(pathOrURL string, opts ...Option) (*Store, error) {
	s := newSettings(opts)
	if IsRemote(pathOrURL) {
		rr, err := NewHTTPRangeReader(pathOrURL, s.client, s.readAhead, s.timeout)
		if err != nil {
			return nil, err
		}
		return open(pathOrURL, rr, nil, s)
	}

	f, err := os.Open(pathOrURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	st, err := open(pathOrURL, f, f, s)
	if err != nil {
		f.Close()
		return nil, err
	}
	return st, nil
}

// OpenReader reads a COG from r. name identifies the file in logs and as
// the pyramid set ID.
func OpenReader(name string, r io.ReaderAt, opts ...Option) (*Store, error) {
	return open(name, r, nil, newSettings(opts))
}

func newSettings(opts []Option) settings {
	s := settings{log: logrus.StandardLogger()}
	for _, o := range opts {
		o(&s)
	}
	return s
}

func open(name string, r io.ReaderAt, closer io.Closer, s settings) (*Store, error) {
	tf, err := parseTIFF(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	geo, err := readGeoref(tf.ifds[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read georeferencing of %s: %w", name, err)
	}
	if !s.crs.IsZero() {
		geo.CRS = s.crs
	}
	if geo.CRS.IsZero() {
		return nil, fmt.Errorf("%s declares no EPSG coded crs", name)
	}

	st := &Store{
		name:   name,
		r:      r,
		closer: closer,
		file:   tf,
		geo:    geo,
		images: make(map[string]*ifdImage),
		log:    s.log.WithField("cog", name),
	}
	if err := st.buildSet(); err != nil {
		return nil, fmt.Errorf("failed to map %s to a pyramid: %w", name, err)
	}
	return st, nil
}

// buildSet maps every non-mask IFD to a mosaic. Overviews share the upper
// left corner of the full resolution image; their scale grows with the
// reduction factor.
func (s *Store) buildSet() error {
	g := s.geo.GridToCRS
	if g.B != 0 || g.D != 0 {
		return fmt.Errorf("rotated images are not supported")
	}
	if g.A <= 0 || g.E >= 0 {
		return fmt.Errorf("only north-up images are supported")
	}
	if math.Abs(g.A+g.E) > 1e-9*g.A {
		return fmt.Errorf("non-square pixels %vx%v are not supported", g.A, -g.E)
	}

	base, err := readImage(s.file, 0)
	if err != nil {
		return fmt.Errorf("IFD 0: %w", err)
	}
	p := pyramid.NewPyramid(pyramid.NewID(), s.geo.CRS)
	s.set = pyramid.NewPyramidSet(path.Base(s.name), "geotiff")
	if err := s.set.AddPyramid(p); err != nil {
		return err
	}

	for i := range s.file.ifds {
		im := base
		if i > 0 {
			if im, err = readImage(s.file, i); err != nil {
				s.log.WithError(err).WithField("ifd", i).Warn("skipping unreadable IFD")
				continue
			}
		}
		if im.Mask {
			continue
		}
		if im.Bands != base.Bands || im.Type != base.Type {
			s.log.WithField("ifd", i).Warn("skipping IFD with a different sample layout")
			continue
		}

		model := im.Model()
		def := pyramid.MosaicDef{
			UpperLeft:  orb.Point{g.C, g.F},
			GridWidth:  im.BlocksAcross(),
			GridHeight: im.BlocksDown(),
			TileWidth:  im.BlockWidth,
			TileHeight: im.BlockHeight,
			Scale:      g.A * float64(base.Width) / float64(im.Width),
			Model:      &model,
		}
		if err := def.Validate(); err != nil {
			return fmt.Errorf("IFD %d: %w", i, err)
		}
		id := fmt.Sprintf("ifd%d", i)
		m := pyramid.NewGridMosaic(id, p.ID, def, s, pyramid.WithLogger(s.log))
		if err := p.AddMosaic(m); err != nil {
			s.log.WithError(err).WithField("ifd", i).Warn("skipping IFD")
			continue
		}
		s.images[id] = im
	}
	if len(s.images) == 0 {
		return fmt.Errorf("no usable image")
	}
	s.set.ExtendEnvelope(p.Bound(), p.CRS)
	return nil
}

// Close releases the underlying file.
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// CRS is the reference system of the file.
func (s *Store) CRS() pyramid.CRS {
	return s.geo.CRS
}

// GridToCRS maps full resolution pixel corners to CRS coordinates.
func (s *Store) GridToCRS() pyramid.Affine {
	return s.geo.GridToCRS
}

// PyramidSet implements pyramid.Store.
func (s *Store) PyramidSet(context.Context) (*pyramid.PyramidSet, error) {
	return s.set, nil
}

// CreatePyramid implements pyramid.Store.
func (s *Store) CreatePyramid(context.Context, pyramid.CRS) (*pyramid.Pyramid, error) {
	return nil, fmt.Errorf("cog %s: %w", s.name, pyramid.ErrWriteUnsupported)
}

// CreateMosaic implements pyramid.Store.
func (s *Store) CreateMosaic(context.Context, string, pyramid.MosaicDef) (*pyramid.GridMosaic, error) {
	return nil, fmt.Errorf("cog %s: %w", s.name, pyramid.ErrWriteUnsupported)
}

// WriteTile implements pyramid.Store.
func (s *Store) WriteTile(context.Context, *pyramid.GridMosaic, int, int, *pyramid.Raster) error {
	return fmt.Errorf("cog %s: %w", s.name, pyramid.ErrWriteUnsupported)
}

// IsMissing implements pyramid.TileSource. Sparse blocks are missing.
func (s *Store) IsMissing(m *pyramid.GridMosaic, col, row int) bool {
	im := s.images[m.ID]
	return im == nil || !im.present(col, row)
}

// TileReference implements pyramid.TileSource.
func (s *Store) TileReference(_ context.Context, m *pyramid.GridMosaic, col, row int) (pyramid.TileReference, error) {
	im := s.images[m.ID]
	if im == nil || !im.present(col, row) {
		return pyramid.TileReference{}, fmt.Errorf("block %d/%d of %s: %w", col, row, m.ID, pyramid.ErrTileMissing)
	}
	return pyramid.NewExternalReference(col, row, &blockHandle{store: s, col: col, row: row}, im.Index), nil
}

// image returns the layout of IFD index.
func (s *Store) image(index int) *ifdImage {
	for _, im := range s.images {
		if im.Index == index {
			return im
		}
	}
	return nil
}
