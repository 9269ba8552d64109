// Package piece implements the Piece and PieceSet primitives from spec
// §3/§4.1/§4.2 (C1, C2): the unit of a segmented download, and the pure
// geometry/striping computation that turns a size into pieces and
// round-robin work groups.
//
// A Piece decouples a range worker (producer) from the sequential reader
// (single consumer): writes append to an internal buffer while a read
// cursor advances monotonically, and the reader blocks in bounded waits
// until either more bytes arrive or the piece is marked complete.
package piece

import (
	"bytes"
	"context"
	"strconv"
	"sync"
	"time"
)

// Piece is one contiguous byte range of a segmented download.
type Piece struct {
	Index     int
	Start     int64
	End       int64 // half-open: size is End-Start
	LastPiece bool

	mu       sync.Mutex
	buf      bytes.Buffer
	complete bool
	err      error
	notifyCh chan struct{}

	gate     chan struct{}
	gateOnce sync.Once
}

// New creates a Piece covering the half-open range [start, end).
func New(index int, start, end int64) *Piece {
	return &Piece{
		Index:    index,
		Start:    start,
		End:      end,
		notifyCh: make(chan struct{}),
		gate:     make(chan struct{}),
	}
}

// Size returns the number of bytes this piece covers.
func (p *Piece) Size() int64 { return p.End - p.Start }

func (p *Piece) String() string { return "index:" + strconv.Itoa(p.Index) }

// Write appends bytes to the piece's buffer, preserving the current read
// cursor position (bytes.Buffer already only consumes from the front on
// Read, so append-then-notify is sufficient).
func (p *Piece) Write(b []byte) {
	if len(b) == 0 {
		return
	}

	p.mu.Lock()
	p.buf.Write(b)
	old := p.notifyCh
	p.notifyCh = make(chan struct{})
	p.mu.Unlock()
	close(old)
}

// Read returns up to n bytes from the current read cursor. If no bytes
// are available and the piece is not yet complete, the call blocks in
// bounded (<=100ms) waits until data arrives or completion is signalled.
// It returns a nil slice with a nil error only once the piece is
// complete and its buffer is exhausted; a non-nil error means the piece
// was Fail()-ed (the §9 redesign: a premature end-of-stream surfaces as
// an error instead of hanging the reader forever).
func (p *Piece) Read(n int) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}

	for {
		p.mu.Lock()
		if p.buf.Len() > 0 {
			k := n
			if k > p.buf.Len() {
				k = p.buf.Len()
			}
			out := make([]byte, k)
			_, _ = p.buf.Read(out)
			p.mu.Unlock()
			return out, nil
		}

		if p.complete {
			err := p.err
			p.mu.Unlock()
			return nil, err
		}

		ch := p.notifyCh
		p.mu.Unlock()

		select {
		case <-ch:
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// SetComplete idempotently marks the piece finished and frozen; any
// pending Read unblocks and observes an exhausted, complete piece.
func (p *Piece) SetComplete() {
	p.mu.Lock()
	if p.complete {
		p.mu.Unlock()
		return
	}
	p.complete = true
	old := p.notifyCh
	p.notifyCh = make(chan struct{})
	p.mu.Unlock()
	close(old)
}

// Fail marks the piece complete with an error, so a blocked Read returns
// the error instead of an empty slice. First failure wins; a Fail after
// SetComplete (or a second Fail) is a no-op.
func (p *Piece) Fail(err error) {
	if err == nil {
		p.SetComplete()
		return
	}

	p.mu.Lock()
	if p.complete {
		p.mu.Unlock()
		return
	}
	p.complete = true
	p.err = err
	old := p.notifyCh
	p.notifyCh = make(chan struct{})
	p.mu.Unlock()
	close(old)
}

// IsComplete reports whether SetComplete/Fail has been called.
func (p *Piece) IsComplete() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.complete
}

// OpenGate is the one-shot admission gate set by the reader to bound
// outstanding work (the sliding-window invariant in spec §5).
func (p *Piece) OpenGate() {
	p.gateOnce.Do(func() { close(p.gate) })
}

// GateOpen reports whether the admission gate has been opened, without
// blocking.
func (p *Piece) GateOpen() bool {
	select {
	case <-p.gate:
		return true
	default:
		return false
	}
}

// WaitGate blocks until the admission gate opens, the poll interval
// elapses (returning false so the caller can re-check a cancel signal),
// or ctx is done (returning false).
func (p *Piece) WaitGate(ctx context.Context, pollInterval time.Duration) bool {
	select {
	case <-p.gate:
		return true
	case <-ctx.Done():
		return false
	case <-time.After(pollInterval):
		return false
	}
}
