package http

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"github.com/mengelbart/camloop"
	"golang.org/x/image/draw"
	"golang.org/x/time/rate"
)

var ErrNoSnapshot = errors.New("no frame painted yet")

type SnapshotOption func(*SnapshotSink)

// SnapshotWidth scales snapshots to the given width, keeping the aspect
// ratio. Zero keeps the decoded size.
func SnapshotWidth(width int) SnapshotOption {
	return func(s *SnapshotSink) {
		s.width = width
	}
}

// SnapshotRate limits how many painted frames per second are copied.
func SnapshotRate(perSecond float64) SnapshotOption {
	return func(s *SnapshotSink) {
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

func SnapshotQuality(quality int) SnapshotOption {
	return func(s *SnapshotSink) {
		s.quality = quality
	}
}

// SnapshotSink is a FrameSink which keeps a scaled RGBA copy of the most
// recently painted frame and serves it as JPEG.
type SnapshotSink struct {
	width   int
	quality int
	limiter *rate.Limiter

	lock      sync.Mutex
	img       *image.RGBA
	timestamp float64
	painted   time.Time
	frames    uint64
}

func NewSnapshotSink(opts ...SnapshotOption) *SnapshotSink {
	s := &SnapshotSink{
		width:   640,
		quality: jpeg.DefaultQuality,
		limiter: rate.NewLimiter(5, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SnapshotSink) Paint(frame *camloop.DecodedFrame) {
	if !s.limiter.Allow() {
		return
	}
	src := frame.Image
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if s.width > 0 && w > 0 && s.width != w {
		h = h * s.width / w
		w = s.width
	}
	if w == 0 || h == 0 {
		return
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if s.img == nil || s.img.Rect.Dx() != w || s.img.Rect.Dy() != h {
		s.img = image.NewRGBA(image.Rect(0, 0, w, h))
	}
	if w == bounds.Dx() && h == bounds.Dy() {
		draw.Draw(s.img, s.img.Rect, src, bounds.Min, draw.Src)
	} else {
		draw.ApproxBiLinear.Scale(s.img, s.img.Rect, src, bounds, draw.Src, nil)
	}
	s.timestamp = frame.Timestamp
	s.painted = time.Now()
	s.frames++
}

// Snapshot is a JPEG encoded copy of a painted frame.
type Snapshot struct {
	JPEG      []byte
	Timestamp float64
	Painted   time.Time
	Width     int
	Height    int
}

// Snapshot encodes the latest copy. It returns ErrNoSnapshot before the first
// frame was painted.
func (s *SnapshotSink) Snapshot() (*Snapshot, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.img == nil {
		return nil, ErrNoSnapshot
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, s.img, &jpeg.Options{Quality: s.quality}); err != nil {
		return nil, err
	}
	return &Snapshot{
		JPEG:      buf.Bytes(),
		Timestamp: s.timestamp,
		Painted:   s.painted,
		Width:     s.img.Rect.Dx(),
		Height:    s.img.Rect.Dy(),
	}, nil
}

// Frames returns how many painted frames were copied.
func (s *SnapshotSink) Frames() uint64 {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.frames
}
