package camloop

import (
	"context"
	"image"
	"sync/atomic"
)

// RawFrame is a single captured, uncompressed I420 frame. The stage holding a
// RawFrame owns it and must call Release once it no longer needs Data.
// Capture sources hand out frames from a fixed set of buffers, so frames that
// are never released eventually stall the source.
type RawFrame struct {
	Data      []byte
	Width     int
	Height    int
	Timestamp float64 // microseconds
	Duration  float64 // microseconds, 0 if unknown

	release  func()
	released atomic.Bool
}

// NewRawFrame wraps data into a RawFrame. release is called exactly once,
// on the first call to Release. It may be nil.
func NewRawFrame(data []byte, width, height int, timestamp, duration float64, release func()) *RawFrame {
	return &RawFrame{
		Data:      data,
		Width:     width,
		Height:    height,
		Timestamp: timestamp,
		Duration:  duration,
		release:   release,
	}
}

// Release returns the frame buffer to its owner. Calls after the first are
// no-ops.
func (f *RawFrame) Release() {
	if !f.released.CompareAndSwap(false, true) {
		return
	}
	if f.release != nil {
		f.release()
	}
}

func (f *RawFrame) Released() bool {
	return f.released.Load()
}

// DecodedFrame is a frame produced by a decoder, ready to be painted.
type DecodedFrame struct {
	Image     *image.YCbCr
	Timestamp float64
	Duration  float64

	release  func()
	released atomic.Bool
}

func NewDecodedFrame(img *image.YCbCr, timestamp, duration float64, release func()) *DecodedFrame {
	return &DecodedFrame{
		Image:     img,
		Timestamp: timestamp,
		Duration:  duration,
		release:   release,
	}
}

func (f *DecodedFrame) Release() {
	if !f.released.CompareAndSwap(false, true) {
		return
	}
	if f.release != nil {
		f.release()
	}
}

func (f *DecodedFrame) Released() bool {
	return f.released.Load()
}

// FrameSource yields raw frames one at a time. Errors are transient unless
// they are io.EOF, which finite sources (files) return once exhausted.
// NextFrame must return when ctx is done.
type FrameSource interface {
	NextFrame(ctx context.Context) (*RawFrame, error)
}

// FrameSink paints a decoded frame. Paint is synchronous and must not retain
// the frame after it returns.
type FrameSink interface {
	Paint(frame *DecodedFrame)
}

type FrameSinkFunc func(*DecodedFrame)

func (f FrameSinkFunc) Paint(frame *DecodedFrame) {
	f(frame)
}

// MultiSink paints every frame on each sink in order.
type MultiSink []FrameSink

func (m MultiSink) Paint(frame *DecodedFrame) {
	for _, s := range m {
		s.Paint(frame)
	}
}

// ChunkTap observes encoded chunks on the producer side, e.g. to record them.
type ChunkTap interface {
	WriteChunk(EncodedChunk) error
}
