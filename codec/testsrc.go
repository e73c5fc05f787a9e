package codec

import (
	"context"
	"io"
	"time"

	"github.com/mengelbart/camloop"
	"golang.org/x/time/rate"
)

// TestSource generates a moving gradient test pattern. It implements
// camloop.FrameSource.
type TestSource struct {
	info    Info
	pool    *camloop.FramePool
	limiter *rate.Limiter
	limit   int64
	count   int64
}

// NewTestSource creates a pattern source with the size and frame rate in
// info. If paced, frames are produced in real time. If limit is positive the
// source returns io.EOF after limit frames.
func NewTestSource(info Info, paced bool, limit int, buffers int) *TestSource {
	if buffers <= 0 {
		buffers = 4
	}
	s := &TestSource{
		info:  info,
		pool:  camloop.NewFramePool(I420Size(int(info.Width), int(info.Height)), buffers),
		limit: int64(limit),
	}
	if paced && info.FPS() > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(info.FPS()), 1)
	}
	return s
}

func (s *TestSource) Info() Info {
	return s.info
}

func (s *TestSource) NextFrame(ctx context.Context) (*camloop.RawFrame, error) {
	if s.limit > 0 && s.count >= s.limit {
		return nil, io.EOF
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	d := s.info.FrameDuration()
	ts := float64(s.count) * float64(d.Microseconds())
	w, h := int(s.info.Width), int(s.info.Height)
	frame, err := s.pool.Frame(ctx, w, h, ts, float64(d/time.Microsecond))
	if err != nil {
		return nil, err
	}
	paint(I420Image(frame.Data, w, h).Y, w, h, int(s.count))
	cw, ch := chromaSize(w, h)
	chroma := frame.Data[w*h:]
	for i := range chroma[:cw*ch] {
		chroma[i] = 128 - byte(i%cw)/4
	}
	for i := range chroma[cw*ch:] {
		chroma[cw*ch+i] = 128 + byte(i%cw)/4
	}
	s.count++
	return frame, nil
}

func paint(y []byte, w, h, n int) {
	for r := range h {
		for c := range w {
			y[r*w+c] = byte(c + r + 2*n)
		}
	}
}

func (s *TestSource) Close() error {
	s.pool.Close()
	return nil
}
