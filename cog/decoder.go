package cog

import (
	"context"
	"fmt"
	"runtime"

	"github.com/tingold/pyramid"
	"golang.org/x/sync/errgroup"
)

// blockHandle opens decoders for one block position; the IFD is chosen by
// the index passed to Decode.
type blockHandle struct {
	store    *Store
	col, row int
}

// Open implements pyramid.DecoderHandle. Decoders read through ReadAt and
// hold no state besides the position, so every tile gets its own.
func (h *blockHandle) Open(ctx context.Context) (pyramid.TileDecoder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &blockDecoder{h: h}, nil
}

type blockDecoder struct {
	h      *blockHandle
	closed bool
}

// Decode implements pyramid.TileDecoder.
func (d *blockDecoder) Decode(ctx context.Context, index int) (*pyramid.Raster, error) {
	if d.closed {
		return nil, fmt.Errorf("decoder closed")
	}
	im := d.h.store.image(index)
	if im == nil {
		return nil, fmt.Errorf("no image at IFD %d", index)
	}
	return d.h.store.readBlock(ctx, im, d.h.col, d.h.row)
}

// Close implements pyramid.TileDecoder.
func (d *blockDecoder) Close() error {
	d.closed = true
	return nil
}

// readBlock decodes the block at col, row into a raster of the full block
// size. Pixels beyond the image edge are no-data.
func (s *Store) readBlock(ctx context.Context, im *ifdImage, col, row int) (*pyramid.Raster, error) {
	out := pyramid.NewRaster(im.BlockWidth, im.BlockHeight, im.Model())
	// strips at the bottom are short; tiles are always padded to full size
	rows := im.BlockHeight
	if !im.Tiled {
		rows = min(im.BlockHeight, im.Height-row*im.BlockHeight)
	}
	validW := min(im.BlockWidth, im.Width-col*im.BlockWidth)
	validH := min(rows, im.Height-row*im.BlockHeight)

	planes, spp := 1, im.Bands
	if im.Planar == planarSeparate {
		planes, spp = im.Bands, 1
	}
	for band := 0; band < planes; band++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		idx := im.blockIndex(col, row, band)
		if idx >= len(im.Offsets) || idx >= len(im.ByteCounts) {
			return nil, fmt.Errorf("block %d/%d band %d has no offset", col, row, band)
		}
		samples, err := s.readSamples(im, im.Offsets[idx], im.ByteCounts[idx], rows, spp)
		if err != nil {
			return nil, fmt.Errorf("block %d/%d of IFD %d: %w", col, row, im.Index, err)
		}

		for y := 0; y < validH; y++ {
			for x := 0; x < validW; x++ {
				src := (y*im.BlockWidth + x) * spp
				if spp == 1 {
					out.Set(band, x, y, samples[src])
					continue
				}
				copy(out.Data[out.Index(0, x, y):out.Index(0, x, y)+spp], samples[src:src+spp])
			}
		}
	}
	return out, nil
}

func (s *Store) readSamples(im *ifdImage, offset, count uint64, rows, spp int) ([]float64, error) {
	if count == 0 {
		return nil, fmt.Errorf("sparse block")
	}
	raw := getBuffer(int(count))
	defer putBuffer(raw)
	if _, err := s.r.ReadAt(raw, int64(offset)); err != nil {
		return nil, fmt.Errorf("failed to read %d bytes at %d: %w", count, offset, err)
	}
	return im.decodeSamples(raw, im.BlockWidth, rows, spp)
}

// Coverage decodes the whole image of one resolution level, 0 being the
// full resolution. Sparse blocks stay no-data. Blocks decode in parallel.
func (s *Store) Coverage(ctx context.Context, level int) (*pyramid.Coverage, error) {
	set, _ := s.PyramidSet(ctx)
	mosaics := set.Pyramids()[0].Mosaics()
	if level < 0 || level >= len(mosaics) {
		return nil, fmt.Errorf("level %d of %d: %w", level, len(mosaics), pyramid.ErrNoMosaic)
	}
	// mosaics run coarse to fine
	m := mosaics[len(mosaics)-1-level]
	im := s.images[m.ID]

	out := pyramid.NewRaster(im.Width, im.Height, im.Model())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for row := 0; row < im.BlocksDown(); row++ {
		for col := 0; col < im.BlocksAcross(); col++ {
			if !im.present(col, row) {
				continue
			}
			g.Go(func() error {
				block, err := s.readBlock(gctx, im, col, row)
				if err != nil {
					return err
				}
				// blocks do not overlap, so concurrent pastes touch disjoint pixels
				out.Paste(block, col*im.BlockWidth, row*im.BlockHeight)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	scale := m.Scale / s.geo.GridToCRS.A
	return &pyramid.Coverage{
		Raster:    out,
		CRS:       s.geo.CRS,
		GridToCRS: pyramid.Affine{A: scale, E: scale}.Then(s.geo.GridToCRS),
	}, nil
}

// ReadCoverage loads the full resolution image of a GeoTIFF as a source
// coverage.
func ReadCoverage(ctx context.Context, pathOrURL string, opts ...Option) (*pyramid.Coverage, error) {
	s, err := Open(pathOrURL, opts...)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	return s.Coverage(ctx, 0)
}
