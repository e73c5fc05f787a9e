package camloop

import (
	"context"
	"errors"
	"sync/atomic"
)

var ErrPoolClosed = errors.New("frame pool closed")

// FramePool is a fixed set of equally sized frame buffers. Get blocks while
// every buffer is in use, which mirrors the bounded buffer ring of a capture
// device.
type FramePool struct {
	size    int
	buffers chan []byte
	closed  chan struct{}
	once    atomic.Bool
}

func NewFramePool(frameSize, count int) *FramePool {
	p := &FramePool{
		size:    frameSize,
		buffers: make(chan []byte, count),
		closed:  make(chan struct{}),
	}
	for range count {
		p.buffers <- make([]byte, frameSize)
	}
	return p
}

func (p *FramePool) FrameSize() int {
	return p.size
}

// Get takes a buffer out of the pool.
func (p *FramePool) Get(ctx context.Context) ([]byte, error) {
	select {
	case <-p.closed:
		return nil, ErrPoolClosed
	default:
	}
	select {
	case buf := <-p.buffers:
		return buf, nil
	case <-p.closed:
		return nil, ErrPoolClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Put returns a buffer. Buffers of the wrong size are discarded.
func (p *FramePool) Put(buf []byte) {
	if cap(buf) < p.size {
		return
	}
	select {
	case p.buffers <- buf[:p.size]:
	default:
	}
}

// Available reports how many buffers are currently free.
func (p *FramePool) Available() int {
	return len(p.buffers)
}

// Close wakes up all blocked Get calls. Subsequent Gets fail.
func (p *FramePool) Close() {
	if p.once.CompareAndSwap(false, true) {
		close(p.closed)
	}
}

// Frame takes a buffer and wraps it into a RawFrame that returns the buffer
// on release.
func (p *FramePool) Frame(ctx context.Context, width, height int, timestamp, duration float64) (*RawFrame, error) {
	buf, err := p.Get(ctx)
	if err != nil {
		return nil, err
	}
	return NewRawFrame(buf, width, height, timestamp, duration, func() { p.Put(buf) }), nil
}
