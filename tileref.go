package pyramid

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// TileKind tells how a TileReference materializes its pixels.
type TileKind uint8

const (
	// InMemoryTile references an already decoded raster.
	InMemoryTile TileKind = iota + 1
	// ExternalTile references a tile behind a decoder acquired per resolution.
	ExternalTile
)

// DecoderHandle opens decoders over one external byte source. Every call to
// Open returns a new decoder owned by the caller.
type DecoderHandle interface {
	Open(ctx context.Context) (TileDecoder, error)
}

// TileDecoder decodes images from an opened source.
type TileDecoder interface {
	// Decode returns the image at index (frame, IFD or tile number depending
	// on the format).
	Decode(ctx context.Context, index int) (*Raster, error)
	Close() error
}

// TileReference is a short-lived, non-owning description of how to obtain
// one tile's pixels.
type TileReference struct {
	Kind     TileKind
	Col, Row int

	raster *Raster
	handle DecoderHandle
	index  int
}

// NewInMemoryReference references a decoded raster.
func NewInMemoryReference(col, row int, r *Raster) TileReference {
	return TileReference{Kind: InMemoryTile, Col: col, Row: row, raster: r}
}

// NewExternalReference references image index behind handle.
func NewExternalReference(col, row int, handle DecoderHandle, index int) TileReference {
	return TileReference{Kind: ExternalTile, Col: col, Row: row, handle: handle, index: index}
}

// Resolve materializes the tile. External decoders are released on every
// path; a failure to release is logged and never masks the decode result.
func (t TileReference) Resolve(ctx context.Context, log logrus.FieldLogger) (*Raster, error) {
	switch t.Kind {
	case InMemoryTile:
		if t.raster == nil {
			return nil, fmt.Errorf("tile %d/%d has no raster: %w", t.Col, t.Row, ErrTileDecode)
		}
		return t.raster, nil
	case ExternalTile:
		return t.decode(ctx, log)
	default:
		return nil, fmt.Errorf("tile %d/%d: unknown reference kind %d: %w", t.Col, t.Row, t.Kind, ErrTileDecode)
	}
}

func (t TileReference) decode(ctx context.Context, log logrus.FieldLogger) (*Raster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dec, err := t.handle.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open decoder for tile %d/%d: %w: %w", t.Col, t.Row, ErrTileDecode, err)
	}
	defer func() {
		if err := dec.Close(); err != nil {
			log.WithError(err).WithFields(logrus.Fields{"col": t.Col, "row": t.Row}).Warn("failed to close tile decoder")
		}
	}()

	r, err := dec.Decode(ctx, t.index)
	if err != nil {
		return nil, fmt.Errorf("failed to decode tile %d/%d: %w: %w", t.Col, t.Row, ErrTileDecode, err)
	}
	return r, nil
}
