package codec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mengelbart/camloop"
	"golang.org/x/time/rate"
)

type Y4MSourceOption func(*Y4MSource)

// Y4MPaced makes the source hand out frames no faster than the frame rate
// in the stream header, like a camera would.
func Y4MPaced() Y4MSourceOption {
	return func(s *Y4MSource) {
		s.paced = true
	}
}

// Y4MLoop restarts the file when it is exhausted. The underlying reader must
// implement io.Seeker.
func Y4MLoop() Y4MSourceOption {
	return func(s *Y4MSource) {
		s.loop = true
	}
}

// Y4MBuffers sets the number of frame buffers that may be in flight.
func Y4MBuffers(n int) Y4MSourceOption {
	return func(s *Y4MSource) {
		if n > 0 {
			s.buffers = n
		}
	}
}

// Y4MSource reads I420 frames from a Y4M stream. It implements
// camloop.FrameSource.
type Y4MSource struct {
	src     io.Reader
	reader  *y4mReader
	header  Y4MHeader
	pool    *camloop.FramePool
	limiter *rate.Limiter

	paced   bool
	loop    bool
	buffers int

	frameDuration time.Duration
	count         int64
}

func NewY4MSource(reader io.Reader, opts ...Y4MSourceOption) (*Y4MSource, error) {
	y4mReader, err := newY4MReader(reader)
	if err != nil {
		return nil, err
	}
	if !y4mReader.header.is420() {
		return nil, fmt.Errorf("unsupported colorspace: %v", y4mReader.header.Colorspace)
	}
	s := &Y4MSource{
		src:     reader,
		reader:  y4mReader,
		header:  y4mReader.header,
		buffers: 4,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.loop {
		if _, ok := reader.(io.Seeker); !ok {
			return nil, errors.New("looping requires a seekable reader")
		}
	}
	info := s.Info()
	s.frameDuration = info.FrameDuration()
	s.pool = camloop.NewFramePool(I420Size(s.header.Width, s.header.Height), s.buffers)
	if s.paced && info.FPS() > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(info.FPS()), 1)
	}
	return s, nil
}

func (s *Y4MSource) Info() Info {
	return Info{
		Width:       uint(s.header.Width),
		Height:      uint(s.header.Height),
		TimebaseNum: s.header.FrameRate.Numerator,
		TimebaseDen: s.header.FrameRate.Denominator,
	}
}

// NextFrame returns the next frame of the stream. Timestamps count frames at
// the nominal frame rate starting from zero and keep increasing across loops.
// NextFrame returns io.EOF at the end of the stream unless looping.
func (s *Y4MSource) NextFrame(ctx context.Context) (*camloop.RawFrame, error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	data, err := s.readFrame()
	if err != nil {
		return nil, err
	}
	ts := float64(s.count) * float64(s.frameDuration.Microseconds())
	frame, err := s.pool.Frame(ctx, s.header.Width, s.header.Height, ts, float64(s.frameDuration.Microseconds()))
	if err != nil {
		return nil, err
	}
	if len(data) < len(frame.Data) {
		frame.Release()
		return nil, fmt.Errorf("short y4m frame: %v bytes, want %v", len(data), len(frame.Data))
	}
	copy(frame.Data, data)
	s.count++
	return frame, nil
}

func (s *Y4MSource) readFrame() ([]byte, error) {
	data, err := s.reader.readFrame()
	if !errors.Is(err, io.EOF) || !s.loop {
		return data, err
	}
	if _, err = s.src.(io.Seeker).Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	if s.reader, err = newY4MReader(s.src); err != nil {
		return nil, err
	}
	return s.reader.readFrame()
}

// Close fails pending and future calls to NextFrame.
func (s *Y4MSource) Close() error {
	s.pool.Close()
	if c, ok := s.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
