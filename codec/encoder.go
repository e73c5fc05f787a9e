package codec

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mengelbart/camloop"
)

type encodeJob struct {
	buf       []byte
	timestamp float64
	duration  float64
	forceKey  bool
	err       error
	barrier   chan struct{}
}

type EncoderOption func(*Encoder)

// EncoderQueueSize sets how many frames may wait for the engine. Frames
// arriving while the queue is full are dropped.
func EncoderQueueSize(n int) EncoderOption {
	return func(e *Encoder) {
		if n > 0 {
			e.queueSize = n
		}
	}
}

func EncoderLogger(logger *slog.Logger) EncoderOption {
	return func(e *Encoder) {
		e.logger = logger
	}
}

// Encoder is an asynchronous encoder session. Encode only queues a copy of
// the frame; the engine runs on a dedicated goroutine which also invokes the
// callbacks. Callbacks are never invoked from inside Encode and never after
// Close returned. Callbacks must not call Close.
type Encoder struct {
	newEngine EncoderEngineFactory
	onChunk   func(camloop.EncodedChunk)
	onError   func(error)
	logger    *slog.Logger
	queueSize int

	lock      sync.Mutex // serializes Configure and Close
	state     atomic.Int32
	engine    EncoderEngine
	config    Config
	frameSize int
	jobs      chan *encodeJob
	done      chan struct{}
	wg        sync.WaitGroup
	buffers   sync.Pool

	forceKey atomic.Bool

	submitted atomic.Uint64
	dropped   atomic.Uint64
	encoded   atomic.Uint64
	keyFrames atomic.Uint64
	failed    atomic.Uint64
}

// NewEncoder creates an unconfigured encoder session. onChunk receives every
// successfully encoded frame, onError every failure.
func NewEncoder(newEngine EncoderEngineFactory, onChunk func(camloop.EncodedChunk), onError func(error), opts ...EncoderOption) *Encoder {
	e := &Encoder{
		newEngine: newEngine,
		onChunk:   onChunk,
		onError:   onError,
		logger:    slog.Default(),
		queueSize: defaultQueueSize,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.jobs = make(chan *encodeJob, e.queueSize)
	return e
}

func (e *Encoder) State() SessionState {
	return SessionState(e.state.Load())
}

func (e *Encoder) Config() Config {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.config
}

// Configure creates the engine. Errors are CodecErrors of kind
// ConfigurationFailed and leave the session unconfigured.
func (e *Encoder) Configure(c Config) error {
	e.lock.Lock()
	defer e.lock.Unlock()

	if s := e.State(); s != Unconfigured {
		return camloop.NewCodecError(camloop.ConfigurationFailed, fmt.Errorf("encoder is %v", s))
	}
	if err := c.Validate(); err != nil {
		return camloop.NewCodecError(camloop.ConfigurationFailed, err)
	}
	engine, err := e.newEngine(c)
	if err != nil {
		return camloop.NewCodecError(camloop.ConfigurationFailed, err)
	}
	e.engine = engine
	e.config = c
	e.frameSize = I420Size(int(c.Width), int(c.Height))
	e.buffers.New = func() any {
		return make([]byte, e.frameSize)
	}
	e.state.Store(int32(Configured))
	e.wg.Go(e.run)

	e.logger.Info("encoder configured", "codec", c.Codec, "width", c.Width, "height", c.Height, "target-rate", c.TargetRate)
	return nil
}

// ForceKeyFrame makes the next submitted frame a key frame.
func (e *Encoder) ForceKeyFrame() {
	e.forceKey.Store(true)
}

// Encode submits frame for encoding and releases it before returning, no
// matter whether it was queued, dropped or rejected.
func (e *Encoder) Encode(frame *camloop.RawFrame) {
	defer frame.Release()

	if e.State() != Configured {
		e.dropped.Add(1)
		return
	}

	job := &encodeJob{
		timestamp: frame.Timestamp,
		duration:  frame.Duration,
	}
	if frame.Width != int(e.config.Width) || frame.Height != int(e.config.Height) || len(frame.Data) < e.frameSize {
		job.err = fmt.Errorf("frame %vx%v (%v bytes) does not match configured size %vx%v", frame.Width, frame.Height, len(frame.Data), e.config.Width, e.config.Height)
	} else {
		job.buf = e.buffers.Get().([]byte)
		copy(job.buf, frame.Data[:e.frameSize])
		job.forceKey = e.forceKey.Swap(false)
	}

	select {
	case e.jobs <- job:
		e.submitted.Add(1)
	default:
		e.dropped.Add(1)
		e.recycle(job)
		if job.forceKey {
			e.forceKey.Store(true)
		}
		e.logger.Debug("encoder queue full, dropping frame", "pts", frame.Timestamp)
	}
}

// Sync blocks until all frames submitted before the call were encoded and
// their callbacks returned. Unlike Encode it waits for room in the queue.
func (e *Encoder) Sync(ctx context.Context) error {
	if e.State() != Configured {
		return camloop.ErrClosed
	}
	barrier := make(chan struct{})
	select {
	case e.jobs <- &encodeJob{barrier: barrier}:
	case <-e.done:
		return camloop.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-barrier:
		return nil
	case <-e.done:
		return camloop.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Encoder) recycle(job *encodeJob) {
	if job.buf != nil {
		e.buffers.Put(job.buf)
		job.buf = nil
	}
}

func (e *Encoder) run() {
	for {
		select {
		case <-e.done:
			return
		case job := <-e.jobs:
			e.encode(job)
		}
	}
}

func (e *Encoder) encode(job *encodeJob) {
	defer e.recycle(job)

	if job.barrier != nil {
		close(job.barrier)
		return
	}

	if job.err != nil {
		e.failed.Add(1)
		e.emitError(camloop.NewCodecError(camloop.EncodeFailed, job.err))
		return
	}

	img := I420Image(job.buf, int(e.config.Width), int(e.config.Height))
	duration := time.Duration(job.duration * float64(time.Microsecond))

	start := time.Now()
	frame, err := e.engine.Encode(img, int64(job.timestamp), duration, job.forceKey)
	latency := time.Since(start)
	if err != nil {
		e.failed.Add(1)
		e.emitError(camloop.NewCodecError(camloop.EncodeFailed, err))
		return
	}
	if frame == nil || len(frame.Payload) == 0 {
		e.dropped.Add(1)
		e.logger.Debug("engine dropped frame", "pts", job.timestamp)
		return
	}

	kind := camloop.Delta
	if frame.IsKeyFrame {
		kind = camloop.Key
		e.keyFrames.Add(1)
	}
	e.encoded.Add(1)
	e.logger.Debug("encoded frame", "pts", job.timestamp, "length", len(frame.Payload), "keyframe", frame.IsKeyFrame, "latency", latency)

	select {
	case <-e.done:
		return
	default:
	}
	e.onChunk(camloop.EncodedChunk{
		Payload:   frame.Payload,
		Timestamp: job.timestamp,
		Duration:  job.duration,
		Kind:      kind,
	})
}

func (e *Encoder) emitError(err error) {
	select {
	case <-e.done:
		return
	default:
	}
	if e.onError != nil {
		e.onError(err)
	}
}

// Close stops the session. Queued frames are discarded. Close is idempotent.
func (e *Encoder) Close() error {
	e.lock.Lock()
	defer e.lock.Unlock()

	prev := e.State()
	if prev == Closed {
		return nil
	}
	e.state.Store(int32(Closed))
	if prev == Unconfigured {
		return nil
	}

	close(e.done)
	e.wg.Wait()
	for len(e.jobs) > 0 {
		e.recycle(<-e.jobs)
	}
	e.logger.Info("encoder closed", "encoded", e.encoded.Load(), "dropped", e.dropped.Load(), "failed", e.failed.Load())
	return e.engine.Close()
}

type EncoderStats struct {
	State     SessionState `json:"state"`
	Submitted uint64       `json:"submitted"`
	Dropped   uint64       `json:"dropped"`
	Encoded   uint64       `json:"encoded"`
	KeyFrames uint64       `json:"key_frames"`
	Failed    uint64       `json:"failed"`
}

func (e *Encoder) Stats() EncoderStats {
	return EncoderStats{
		State:     e.State(),
		Submitted: e.submitted.Load(),
		Dropped:   e.dropped.Load(),
		Encoded:   e.encoded.Load(),
		KeyFrames: e.keyFrames.Load(),
		Failed:    e.failed.Load(),
	}
}
