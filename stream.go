package pyramid

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// StreamOptions tunes a tile stream.
type StreamOptions struct {
	// Workers decoding concurrently; defaults to the number of CPUs.
	Workers int
	// BufferSize bounds the decoded tiles waiting for the consumer.
	BufferSize int
	// Ordered delivers tiles in the order of the requested positions.
	Ordered bool
}

// TileResult is one decoded tile of a stream.
type TileResult struct {
	Col, Row int
	Raster   *Raster
}

// PollStatus is the outcome of TileStream.Poll.
type PollStatus uint8

const (
	// PollTile means a tile was returned.
	PollTile PollStatus = iota
	// PollTimeout means no tile was available yet.
	PollTimeout
	// PollEnd means the stream is exhausted or was cancelled.
	PollEnd
)

// TileStream delivers decoded tiles of one mosaic produced by a pool of
// workers. Missing tiles are skipped; tiles failing to decode are logged and
// skipped.
type TileStream struct {
	results chan TileResult
	cancel  context.CancelFunc

	mu       sync.Mutex
	err      error
	finished bool
}

// Tiles starts decoding the tiles at positions and returns the stream
// delivering them. The stream stops when ctx is done or Cancel is called.
func (m *GridMosaic) Tiles(ctx context.Context, positions []TilePos, opts StreamOptions) *TileStream {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = opts.Workers
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &TileStream{
		results: make(chan TileResult, opts.BufferSize),
		cancel:  cancel,
	}
	go s.produce(ctx, m, positions, opts)
	return s
}

type orderedSlot struct {
	pos TilePos
	ch  chan *Raster
}

func (s *TileStream) produce(ctx context.Context, m *GridMosaic, positions []TilePos, opts StreamOptions) {
	defer close(s.results)

	g := new(errgroup.Group)
	g.SetLimit(opts.Workers)

	var pending []orderedSlot
	for _, pos := range positions {
		if ctx.Err() != nil {
			break
		}
		if m.IsMissing(pos.Col, pos.Row) {
			continue
		}
		slot := orderedSlot{pos: pos, ch: make(chan *Raster, 1)}
		if opts.Ordered {
			pending = append(pending, slot)
		}
		g.Go(func() error {
			var r *Raster
			if ctx.Err() == nil {
				r = s.decode(ctx, m, pos)
			}
			if opts.Ordered {
				slot.ch <- r
			} else if r != nil {
				s.send(ctx, TileResult{Col: pos.Col, Row: pos.Row, Raster: r})
			}
			return nil
		})
		if opts.Ordered {
			pending = s.forward(ctx, pending, false)
		}
	}
	if opts.Ordered {
		s.forward(ctx, pending, true)
	}
	_ = g.Wait()

	s.mu.Lock()
	if err := ctx.Err(); err != nil && s.err == nil {
		s.err = err
	}
	s.finished = true
	s.mu.Unlock()
	s.cancel()
}

// forward delivers completed slots in order and returns the remaining ones.
// Without wait it stops at the first slot still being decoded.
func (s *TileStream) forward(ctx context.Context, pending []orderedSlot, wait bool) []orderedSlot {
	for len(pending) > 0 {
		var r *Raster
		if wait {
			select {
			case r = <-pending[0].ch:
			case <-ctx.Done():
				return nil
			}
		} else {
			select {
			case r = <-pending[0].ch:
			default:
				return pending
			}
		}
		pos := pending[0].pos
		pending = pending[1:]
		if r != nil && !s.send(ctx, TileResult{Col: pos.Col, Row: pos.Row, Raster: r}) {
			return nil
		}
	}
	return pending
}

func (s *TileStream) decode(ctx context.Context, m *GridMosaic, pos TilePos) *Raster {
	r, err := m.Tile(ctx, pos.Col, pos.Row)
	if err != nil {
		if ctx.Err() == nil && !errors.Is(err, ErrTileMissing) {
			m.log.WithError(err).WithFields(logrus.Fields{"col": pos.Col, "row": pos.Row}).Warn("skipping unreadable tile")
		}
		return nil
	}
	return r
}

func (s *TileStream) send(ctx context.Context, r TileResult) bool {
	select {
	case s.results <- r:
		return true
	case <-ctx.Done():
		return false
	}
}

// Poll waits up to timeout for the next tile.
func (s *TileStream) Poll(timeout time.Duration) (TileResult, PollStatus) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r, ok := <-s.results:
		if !ok {
			return TileResult{}, PollEnd
		}
		return r, PollTile
	case <-timer.C:
		return TileResult{}, PollTimeout
	}
}

// Results exposes the stream as a channel closed at the end of the stream.
func (s *TileStream) Results() <-chan TileResult {
	return s.results
}

// Cancel stops the stream. Decodes in flight finish but no new decode starts.
func (s *TileStream) Cancel() {
	s.mu.Lock()
	if s.err == nil && !s.finished {
		s.err = context.Canceled
	}
	s.mu.Unlock()
	s.cancel()
}

// Err returns why the stream ended early, or nil if it delivered every tile.
// It is meaningful once Poll has returned PollEnd.
func (s *TileStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
