// Package codec wraps synchronous codec engines (libvpx, or in-memory fakes in
// tests) into asynchronous encoder and decoder sessions with completion
// callbacks, and provides raw frame sources and sinks for Y4M files.
package codec

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/mengelbart/camloop"
)

// ErrCorrupt is wrapped by decoder engines when the bitstream references state
// the decoder does not have, i.e. the session lost sync with the encoder.
var ErrCorrupt = errors.New("corrupt or unreferenceable frame")

type Info struct {
	Width       uint
	Height      uint
	TimebaseNum int
	TimebaseDen int
}

// FrameDuration returns the duration of one frame at the rate described by
// the timebase. Info uses the y4m convention of TimebaseNum/TimebaseDen
// frames per second.
func (i Info) FrameDuration() time.Duration {
	if i.TimebaseNum <= 0 || i.TimebaseDen <= 0 {
		return 0
	}
	fps := float64(i.TimebaseNum) / float64(i.TimebaseDen)
	return time.Duration(float64(time.Second) / fps)
}

func (i Info) FPS() float64 {
	if i.TimebaseDen == 0 {
		return 0
	}
	return float64(i.TimebaseNum) / float64(i.TimebaseDen)
}

// Config is the fixed configuration of an encoder session.
type Config struct {
	Codec       camloop.CodecType
	Width       uint
	Height      uint
	TimebaseNum int
	TimebaseDen int
	// TargetRate in bits per second.
	TargetRate uint
	// KeyFrameInterval is the maximum distance between key frames in frames.
	// Zero leaves the choice to the engine.
	KeyFrameInterval uint
}

func (c Config) Validate() error {
	if c.Width == 0 || c.Height == 0 {
		return fmt.Errorf("invalid frame size %vx%v", c.Width, c.Height)
	}
	if c.Codec != camloop.VP8 && c.Codec != camloop.VP9 {
		return fmt.Errorf("unsupported codec: %v", c.Codec)
	}
	return nil
}

// Frame is the output of an encoder engine for one input picture. Payload
// must be owned by the caller, engines must not reuse it.
type Frame struct {
	IsKeyFrame bool
	Payload    []byte
}

// EncoderEngine encodes pictures synchronously. pts is in microseconds.
// An engine may return a nil Frame or an empty Payload when it decides to
// drop a picture.
type EncoderEngine interface {
	Encode(img *image.YCbCr, pts int64, duration time.Duration, forceKeyFrame bool) (*Frame, error)
	Close() error
}

type EncoderEngineFactory func(Config) (EncoderEngine, error)

// DecoderEngine decodes compressed frames synchronously. A nil image without
// error means the frame produced no picture.
type DecoderEngine interface {
	Decode(payload []byte) (*image.YCbCr, error)
	Close() error
}

type DecoderEngineFactory func(camloop.CodecType) (DecoderEngine, error)

// Recycler is implemented by decoder engines that reuse picture memory. The
// decoder session hands pictures back once the frame was released.
type Recycler interface {
	Recycle(*image.YCbCr)
}

type SessionState int32

const (
	Unconfigured SessionState = iota
	Configured
	Closed
)

func (s SessionState) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case Configured:
		return "configured"
	case Closed:
		return "closed"
	}
	return "unknown"
}

func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

const defaultQueueSize = 2
