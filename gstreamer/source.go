package gstreamer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"
	"github.com/mengelbart/camloop"
	"github.com/mengelbart/camloop/codec"
)

type Device int

const (
	Videotestsrc Device = iota
	V4L2
)

func ParseDevice(s string) (Device, error) {
	switch s {
	case "videotestsrc", "test":
		return Videotestsrc, nil
	case "v4l2", "camera":
		return V4L2, nil
	}
	return 0, fmt.Errorf("unknown capture device: %q", s)
}

type SourceOption func(*Source) error

func SourceDevice(d Device) SourceOption {
	return func(s *Source) error {
		s.device = d
		return nil
	}
}

// SourceDevicePath sets the device node of a V4L2 source, e.g. /dev/video0.
func SourceDevicePath(path string) SourceOption {
	return func(s *Source) error {
		s.devicePath = path
		return nil
	}
}

func SourceLogger(logger *slog.Logger) SourceOption {
	return func(s *Source) error {
		s.logger = logger
		return nil
	}
}

// SourceBuffers sets how many frames may be in flight.
func SourceBuffers(n int) SourceOption {
	return func(s *Source) error {
		if n <= 0 {
			return fmt.Errorf("invalid buffer count: %v", n)
		}
		s.buffers = n
		return nil
	}
}

// Source captures I420 frames through an appsink. It implements
// camloop.FrameSource. Frames arriving while the consumer of NextFrame lags
// are dropped at the appsink.
type Source struct {
	device     Device
	devicePath string
	info       codec.Info
	buffers    int
	logger     *slog.Logger

	pipeline *gst.Pipeline
	sink     *app.Sink
	pool     *camloop.FramePool
	frames   chan []byte
	errs     chan error
	eos      chan struct{}
	quit     chan struct{}
	wg       sync.WaitGroup
	start    time.Time

	started atomic.Bool
	closed  atomic.Bool

	captured atomic.Uint64
	dropped  atomic.Uint64
	restarts atomic.Uint64
}

func NewSource(info codec.Info, opts ...SourceOption) (*Source, error) {
	s := &Source{
		device:     Videotestsrc,
		devicePath: "/dev/video0",
		info:       info,
		buffers:    4,
		logger:     slog.Default(),
		frames:     make(chan []byte, 1),
		errs:       make(chan error, 1),
		eos:        make(chan struct{}),
		quit:       make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if info.Width == 0 || info.Height == 0 || info.FPS() <= 0 {
		return nil, fmt.Errorf("invalid capture format %vx%v@%v", info.Width, info.Height, info.FPS())
	}
	s.pool = camloop.NewFramePool(codec.I420Size(int(info.Width), int(info.Height)), s.buffers)

	initGStreamer()
	pipeline, err := gst.NewPipelineFromString(s.description())
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	elem, err := pipeline.GetElementByName("sink")
	if err != nil {
		return nil, fmt.Errorf("appsink not found: %w", err)
	}
	s.pipeline = pipeline
	s.sink = app.SinkFromElement(elem)
	if err := SetProperties(s.sink.Element, map[string]any{
		"sync":        false,
		"max-buffers": uint(1),
		"drop":        true,
	}); err != nil {
		return nil, err
	}
	s.sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.onNewSample,
	})
	return s, nil
}

func (s *Source) description() string {
	var src string
	switch s.device {
	case V4L2:
		src = fmt.Sprintf("v4l2src device=%v", s.devicePath)
	default:
		src = "videotestsrc is-live=true pattern=ball"
	}
	return fmt.Sprintf(
		"%v ! videoconvert ! videoscale ! videorate ! video/x-raw,format=I420,width=%d,height=%d,framerate=%d/%d ! appsink name=sink",
		src, s.info.Width, s.info.Height, s.info.TimebaseNum, s.info.TimebaseDen,
	)
}

func (s *Source) Info() codec.Info {
	return s.info
}

// Start sets the pipeline to playing.
func (s *Source) Start(ctx context.Context) error {
	if s.closed.Load() {
		return camloop.ErrClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}
	s.start = time.Now()
	s.wg.Go(func() {
		defer close(s.eos)
		superviseCapture(func() error {
			return runPipeline(s.pipeline, s.logger, s.quit)
		}, s.errs, s.quit, s.logger, &s.restarts)
	})
	return nil
}

const (
	restartDelay    = 100 * time.Millisecond
	maxRestartDelay = 5 * time.Second
)

// superviseCapture calls run until it returns nil, which it does at end of
// stream or once quit is closed. A failure is offered to errs, so NextFrame
// reports it, and run is called again after an exponential backoff. The
// backoff starts over once a run lasted longer than maxRestartDelay.
func superviseCapture(run func() error, errs chan<- error, quit <-chan struct{}, logger *slog.Logger, restarts *atomic.Uint64) {
	delay := restartDelay
	for {
		started := time.Now()
		err := run()
		if err == nil {
			return
		}
		select {
		case <-quit:
			return
		default:
		}
		if time.Since(started) > maxRestartDelay {
			delay = restartDelay
		}
		select {
		case errs <- err:
		default:
		}
		restarts.Add(1)
		logger.Warn("capture pipeline failed, restarting", "error", err, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-quit:
			timer.Stop()
			return
		case <-timer.C:
		}
		delay = min(2*delay, maxRestartDelay)
	}
}

func (s *Source) onNewSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		s.logger.Warn("failed to pull sample from appsink, skipping frame")
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		s.logger.Warn("failed to get buffer from sample, skipping frame")
		return gst.FlowOK
	}
	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.AsUint8Slice()
	if len(data) < s.pool.FrameSize() {
		buffer.Unmap()
		s.logger.Warn("short buffer received", "length", len(data), "want", s.pool.FrameSize())
		return gst.FlowOK
	}
	frame := make([]byte, s.pool.FrameSize())
	copy(frame, data)
	buffer.Unmap()

	s.captured.Add(1)
	select {
	case s.frames <- frame:
	default:
		s.dropped.Add(1)
		s.logger.Debug("dropping frame, reader is busy")
	}
	return gst.FlowOK
}

// NextFrame waits for the next captured frame. It returns io.EOF once the
// pipeline reached end of stream. A pipeline error is returned once while
// the pipeline restarts, so the caller can retry.
func (s *Source) NextFrame(ctx context.Context) (*camloop.RawFrame, error) {
	if !s.started.Load() {
		return nil, errors.New("source not started")
	}
	if s.closed.Load() {
		return nil, camloop.ErrClosed
	}
	var data []byte
	select {
	case data = <-s.frames:
	case err := <-s.errs:
		return nil, err
	case <-s.eos:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	ts := float64(time.Since(s.start).Microseconds())
	frame, err := s.pool.Frame(ctx, int(s.info.Width), int(s.info.Height), ts, float64(s.info.FrameDuration().Microseconds()))
	if err != nil {
		return nil, err
	}
	copy(frame.Data, data)
	return frame, nil
}

// Stats returns the number of captured and dropped frames and how often the
// pipeline was restarted after an error.
func (s *Source) Stats() (captured, dropped, restarts uint64) {
	return s.captured.Load(), s.dropped.Load(), s.restarts.Load()
}

func (s *Source) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(s.quit)
	s.wg.Wait()
	s.pool.Close()
	if !s.started.Load() {
		return s.pipeline.SetState(gst.StateNull)
	}
	return nil
}
