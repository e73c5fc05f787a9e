package codec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mengelbart/camloop"
)

type KeyFrameState int32

const (
	NoKeyFrameYet KeyFrameState = iota
	Streaming
)

func (s KeyFrameState) String() string {
	switch s {
	case NoKeyFrameYet:
		return "no-key-frame-yet"
	case Streaming:
		return "streaming"
	}
	return "unknown"
}

func (s KeyFrameState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type decodeJob struct {
	chunk   camloop.EncodedChunk
	barrier chan struct{}
}

type DecoderOption func(*Decoder)

func DecoderQueueSize(n int) DecoderOption {
	return func(d *Decoder) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

func DecoderLogger(logger *slog.Logger) DecoderOption {
	return func(d *Decoder) {
		d.logger = logger
	}
}

// Decoder is an asynchronous decoder session. It accepts Delta chunks only
// after it accepted a Key chunk. A session never goes back to waiting for a
// key frame, recovering from lost sync requires a new session.
//
// Like Encoder, callbacks run on the session goroutine, never inside Decode
// and never after Close returned. Callbacks must not call Close or Sync.
type Decoder struct {
	newEngine DecoderEngineFactory
	onFrame   func(*camloop.DecodedFrame)
	onError   func(error)
	logger    *slog.Logger
	queueSize int

	lock     sync.Mutex // serializes Configure and Close
	state    atomic.Int32
	keyState atomic.Int32
	engine   DecoderEngine
	codec    camloop.CodecType
	jobs     chan *decodeJob
	wake     chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup

	// lost is set when a chunk could not be queued while streaming.
	lost atomic.Bool
	// rejections counts delta chunks rejected but not yet reported. They
	// bypass the queue, so a full queue cannot swallow them.
	rejections atomic.Uint64
	// seeded is only accessed by the session goroutine.
	seeded bool

	submitted atomic.Uint64
	decoded   atomic.Uint64
	rejected  atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

func NewDecoder(newEngine DecoderEngineFactory, onFrame func(*camloop.DecodedFrame), onError func(error), opts ...DecoderOption) *Decoder {
	d := &Decoder{
		newEngine: newEngine,
		onFrame:   onFrame,
		onError:   onError,
		logger:    slog.Default(),
		queueSize: defaultQueueSize,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.jobs = make(chan *decodeJob, d.queueSize)
	return d
}

func (d *Decoder) State() SessionState {
	return SessionState(d.state.Load())
}

func (d *Decoder) KeyFrameState() KeyFrameState {
	return KeyFrameState(d.keyState.Load())
}

// AwaitingKeyFrame reports whether the session still rejects Delta chunks.
func (d *Decoder) AwaitingKeyFrame() bool {
	return d.KeyFrameState() == NoKeyFrameYet
}

func (d *Decoder) Configure(c camloop.CodecType) error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if s := d.State(); s != Unconfigured {
		return camloop.NewCodecError(camloop.ConfigurationFailed, fmt.Errorf("decoder is %v", s))
	}
	engine, err := d.newEngine(c)
	if err != nil {
		return camloop.NewCodecError(camloop.ConfigurationFailed, err)
	}
	d.engine = engine
	d.codec = c
	d.state.Store(int32(Configured))
	d.wg.Go(d.run)

	d.logger.Info("decoder configured", "codec", c)
	return nil
}

// Decode submits chunk. Rejections and failures are reported through the
// error callback.
func (d *Decoder) Decode(chunk camloop.EncodedChunk) {
	if d.State() != Configured {
		d.dropped.Add(1)
		return
	}

	if d.AwaitingKeyFrame() {
		if chunk.Kind != camloop.Key {
			d.rejected.Add(1)
			d.rejections.Add(1)
			select {
			case d.wake <- struct{}{}:
			default:
			}
			return
		}
		d.keyState.Store(int32(Streaming))
	}

	if !d.trySubmit(&decodeJob{chunk: chunk}) {
		// Every later delta chunk references the one dropped here.
		d.dropped.Add(1)
		d.lost.Store(true)
		d.logger.Warn("decoder queue full, dropping chunk", "pts", chunk.Timestamp, "kind", chunk.Kind)
		return
	}
	d.submitted.Add(1)
}

func (d *Decoder) trySubmit(job *decodeJob) bool {
	select {
	case d.jobs <- job:
		return true
	default:
		return false
	}
}

// Sync blocks until all chunks submitted before the call were processed.
func (d *Decoder) Sync(ctx context.Context) error {
	if d.State() != Configured {
		return camloop.ErrClosed
	}
	barrier := make(chan struct{})
	select {
	case d.jobs <- &decodeJob{barrier: barrier}:
	case <-d.done:
		return camloop.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-barrier:
		return nil
	case <-d.done:
		return camloop.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Decoder) run() {
	for {
		select {
		case <-d.done:
			return
		case <-d.wake:
			d.flushRejections()
		case job := <-d.jobs:
			// rejections of earlier Decode calls are reported first
			d.flushRejections()
			d.process(job)
		}
		if d.lost.Swap(false) {
			d.emitError(camloop.NewCodecError(camloop.DesyncFatal, errors.New("chunk dropped while streaming")))
		}
	}
}

func (d *Decoder) flushRejections() {
	for n := d.rejections.Swap(0); n > 0; n-- {
		d.emitError(camloop.NewCodecError(camloop.MissingKeyFrame, errors.New("delta chunk before first key frame")))
	}
}

func (d *Decoder) process(job *decodeJob) {
	if job.barrier != nil {
		close(job.barrier)
		return
	}

	img, err := d.engine.Decode(job.chunk.Payload)
	if err != nil {
		d.failed.Add(1)
		kind := camloop.DecodeFailed
		if errors.Is(err, ErrCorrupt) || !d.seeded {
			kind = camloop.DesyncFatal
		}
		d.emitError(camloop.NewCodecError(kind, err))
		return
	}
	if job.chunk.Kind == camloop.Key {
		d.seeded = true
	}
	if img == nil {
		return
	}
	d.decoded.Add(1)
	d.logger.Debug("decoded frame", "pts", job.chunk.Timestamp, "length", len(job.chunk.Payload), "width", img.Rect.Dx(), "height", img.Rect.Dy())

	var release func()
	if r, ok := d.engine.(Recycler); ok {
		release = func() { r.Recycle(img) }
	}
	frame := camloop.NewDecodedFrame(img, job.chunk.Timestamp, job.chunk.Duration, release)

	select {
	case <-d.done:
		frame.Release()
		return
	default:
	}
	d.onFrame(frame)
}

func (d *Decoder) emitError(err error) {
	select {
	case <-d.done:
		return
	default:
	}
	if d.onError != nil {
		d.onError(err)
	}
}

// Close stops the session. Queued chunks are discarded. Close is idempotent.
func (d *Decoder) Close() error {
	d.lock.Lock()
	defer d.lock.Unlock()

	prev := d.State()
	if prev == Closed {
		return nil
	}
	d.state.Store(int32(Closed))
	if prev == Unconfigured {
		return nil
	}

	close(d.done)
	d.wg.Wait()
	for len(d.jobs) > 0 {
		<-d.jobs
	}
	d.logger.Info("decoder closed", "decoded", d.decoded.Load(), "rejected", d.rejected.Load(), "failed", d.failed.Load())
	return d.engine.Close()
}

type DecoderStats struct {
	State         SessionState  `json:"state"`
	KeyFrameState KeyFrameState `json:"key_frame_state"`
	Submitted     uint64        `json:"submitted"`
	Decoded       uint64        `json:"decoded"`
	Rejected      uint64        `json:"rejected"`
	Dropped       uint64        `json:"dropped"`
	Failed        uint64        `json:"failed"`
}

func (d *Decoder) Stats() DecoderStats {
	return DecoderStats{
		State:         d.State(),
		KeyFrameState: d.KeyFrameState(),
		Submitted:     d.submitted.Load(),
		Decoded:       d.decoded.Load(),
		Rejected:      d.rejected.Load(),
		Dropped:       d.dropped.Load(),
		Failed:        d.failed.Load(),
	}
}
