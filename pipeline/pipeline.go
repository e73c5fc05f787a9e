// Package pipeline connects a frame source to a frame sink through an
// encoder, a single slot mailbox and a decoder.
//
// The producer half runs on its own goroutine once Start was called: it pulls
// frames from the source and feeds the encoder, whose completions overwrite
// the mailbox. The consumer half runs on the goroutine that calls Step: each
// call looks at the newest chunk in the mailbox and decodes it if it was not
// looked at before. Decoded frames are painted on the decoder goroutine.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mengelbart/camloop"
	"github.com/mengelbart/camloop/codec"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const defaultKeyRequestInterval = 500 * time.Millisecond

type state int

const (
	idle state = iota
	running
	stopped
)

func (s state) String() string {
	switch s {
	case idle:
		return "idle"
	case running:
		return "running"
	case stopped:
		return "stopped"
	}
	return "unknown"
}

// Starter is implemented by sources that need to be started before the first
// frame can be pulled, e.g. capture devices.
type Starter interface {
	Start(ctx context.Context) error
}

type Pipeline struct {
	id     uuid.UUID
	source camloop.FrameSource
	sink   camloop.FrameSink
	config codec.Config

	logger      *slog.Logger
	producerLog *slog.Logger
	consumerLog *slog.Logger

	newEncoder         codec.EncoderEngineFactory
	newDecoder         codec.DecoderEngineFactory
	taps               []camloop.ChunkTap
	tolerateGaps       bool
	keyRequestInterval time.Duration
	encoderQueue       int
	decoderQueue       int

	mailbox *camloop.ChunkMailbox

	lock     sync.Mutex // guards the lifecycle
	state    state
	cancel   context.CancelFunc
	group    *errgroup.Group
	done     chan struct{}
	doneOnce sync.Once

	encoder atomic.Pointer[codec.Encoder]
	decoder atomic.Pointer[codec.Decoder]

	// consumer state, guarded by stepLock
	stepLock    sync.Mutex
	lastSeq     uint64
	lastDecoded *camloop.EncodedChunk
	keyRequests *rate.Limiter

	desync       atomic.Bool
	keyRequested atomic.Bool

	pulled           atomic.Uint64
	sourceErrors     atomic.Uint64
	chunks           atomic.Uint64
	tapErrors        atomic.Uint64
	encodeErrors     atomic.Uint64
	evaluations      atomic.Uint64
	duplicates       atomic.Uint64
	missingKeyFrames atomic.Uint64
	desyncs          atomic.Uint64
	keyFrameRequests atomic.Uint64
	decodeErrors     atomic.Uint64
	painted          atomic.Uint64
	decoderSessions  atomic.Uint64
}

// New creates a pipeline. Nothing runs until Start or Step are called.
func New(source camloop.FrameSource, sink camloop.FrameSink, config codec.Config, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		id:                 uuid.New(),
		source:             source,
		sink:               sink,
		config:             config,
		logger:             slog.Default(),
		keyRequestInterval: defaultKeyRequestInterval,
		mailbox:            camloop.NewChunkMailbox(),
		done:               make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	if p.sink == nil {
		return nil, errors.New("missing frame sink")
	}
	if p.newEncoder == nil || p.newDecoder == nil {
		return nil, errors.New("missing codec engine")
	}
	p.logger = p.logger.With("pipeline", p.id.String())
	p.producerLog = p.logger.With("component", "producer")
	p.consumerLog = p.logger.With("component", "consumer")
	p.keyRequests = rate.NewLimiter(rate.Every(p.keyRequestInterval), 1)
	return p, nil
}

func (p *Pipeline) ID() uuid.UUID {
	return p.id
}

// Mailbox returns the mailbox between the producer and the consumer. Putting
// chunks directly drives the consumer half without a source.
func (p *Pipeline) Mailbox() *camloop.ChunkMailbox {
	return p.mailbox
}

// Done is closed when the producer stopped, either because the source was
// exhausted or because the pipeline was stopped.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// Start acquires the source, configures the encoder and starts pulling
// frames. If Start fails, nothing keeps running.
func (p *Pipeline) Start(ctx context.Context) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.state != idle {
		return fmt.Errorf("cannot start %v pipeline", p.state)
	}
	if p.source == nil {
		return errors.New("missing frame source")
	}
	if s, ok := p.source.(Starter); ok {
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("failed to start source: %w", err)
		}
	}

	opts := []codec.EncoderOption{codec.EncoderLogger(p.producerLog)}
	if p.encoderQueue > 0 {
		opts = append(opts, codec.EncoderQueueSize(p.encoderQueue))
	}
	enc := codec.NewEncoder(p.newEncoder, p.onChunk, p.onEncodeError, opts...)
	if err := enc.Configure(p.config); err != nil {
		if c, ok := p.source.(io.Closer); ok {
			if cerr := c.Close(); cerr != nil {
				p.producerLog.Warn("failed to close source", "error", cerr)
			}
		}
		return err
	}
	p.encoder.Store(enc)

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	group.Go(func() error {
		defer p.closeDone()
		return p.pull(groupCtx, enc)
	})
	p.cancel = cancel
	p.group = group
	p.state = running
	p.producerLog.Info("pipeline started", "codec", p.config.Codec, "width", p.config.Width, "height", p.config.Height)
	return nil
}

func (p *Pipeline) closeDone() {
	p.doneOnce.Do(func() {
		close(p.done)
	})
}

func (p *Pipeline) pull(ctx context.Context, enc *codec.Encoder) error {
	for {
		frame, err := p.source.NextFrame(ctx)
		if ctx.Err() != nil {
			if frame != nil {
				frame.Release()
			}
			return nil
		}
		if errors.Is(err, io.EOF) {
			p.producerLog.Info("source exhausted", "pulled", p.pulled.Load())
			return nil
		}
		if err != nil {
			p.sourceErrors.Add(1)
			p.producerLog.Warn("failed to pull frame", "error", &camloop.SourceError{Err: err})
			continue
		}
		p.pulled.Add(1)
		if p.keyRequested.Swap(false) {
			enc.ForceKeyFrame()
		}
		enc.Encode(frame)
	}
}

func (p *Pipeline) onChunk(chunk camloop.EncodedChunk) {
	p.mailbox.Put(chunk)
	p.chunks.Add(1)
	for _, tap := range p.taps {
		if err := tap.WriteChunk(chunk); err != nil {
			p.tapErrors.Add(1)
			p.producerLog.Warn("chunk tap failed", "error", err, "pts", chunk.Timestamp)
		}
	}
}

func (p *Pipeline) onEncodeError(err error) {
	p.encodeErrors.Add(1)
	p.producerLog.Warn("failed to encode frame", "error", err)
}

// Step evaluates the mailbox once. It decodes the newest chunk unless it was
// evaluated before. Only failures to set up the decoder are returned.
func (p *Pipeline) Step() error {
	p.stepLock.Lock()
	defer p.stepLock.Unlock()

	if p.stopped() {
		return camloop.ErrClosed
	}

	if p.desync.Load() && p.decoder.Load() != nil {
		p.consumerLog.Warn("decoder lost sync, starting new session")
		p.resetDecoder()
	}
	dec, err := p.ensureDecoder()
	if err != nil {
		return err
	}

	letter, ok := p.mailbox.Peek()
	if !ok {
		return nil
	}
	if letter.Seq == p.lastSeq {
		p.duplicates.Add(1)
		return nil
	}
	if p.lastDecoded != nil && sameChunk(*p.lastDecoded, letter.Chunk) {
		p.lastSeq = letter.Seq
		p.duplicates.Add(1)
		return nil
	}
	prev := p.lastSeq
	gap := prev != 0 && letter.Seq > prev+1
	p.lastSeq = letter.Seq
	p.evaluations.Add(1)

	chunk := letter.Chunk
	if chunk.Kind == camloop.Delta {
		if dec.AwaitingKeyFrame() {
			p.missingKeyFrames.Add(1)
			p.consumerLog.Info("waiting for key frame", "error", camloop.NewCodecError(camloop.MissingKeyFrame, nil), "seq", letter.Seq, "pts", chunk.Timestamp)
			p.requestKeyFrame()
			return nil
		}
		if gap && !p.tolerateGaps {
			p.desyncs.Add(1)
			p.consumerLog.Warn("skipped chunks while streaming", "error", camloop.NewCodecError(camloop.DesyncFatal, nil), "seq", letter.Seq, "skipped", letter.Seq-prev-1)
			p.resetDecoder()
			if _, err := p.ensureDecoder(); err != nil {
				return err
			}
			return nil
		}
	}
	dec.Decode(chunk)
	p.lastDecoded = &chunk
	return nil
}

// sameChunk reports whether a and b carry the same encoded frame.
func sameChunk(a, b camloop.EncodedChunk) bool {
	return a.Timestamp == b.Timestamp && a.Kind == b.Kind && bytes.Equal(a.Payload, b.Payload)
}

func (p *Pipeline) stopped() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.state == stopped
}

func (p *Pipeline) ensureDecoder() (*codec.Decoder, error) {
	if dec := p.decoder.Load(); dec != nil {
		return dec, nil
	}
	opts := []codec.DecoderOption{codec.DecoderLogger(p.consumerLog)}
	if p.decoderQueue > 0 {
		opts = append(opts, codec.DecoderQueueSize(p.decoderQueue))
	}
	dec := codec.NewDecoder(p.newDecoder, p.onFrame, p.onDecodeError, opts...)
	if err := dec.Configure(p.config.Codec); err != nil {
		return nil, err
	}
	p.desync.Store(false)
	p.decoder.Store(dec)
	p.decoderSessions.Add(1)
	return dec, nil
}

// resetDecoder closes the current decoder session. The next session needs a
// key frame, so one is requested right away.
func (p *Pipeline) resetDecoder() {
	p.lastDecoded = nil
	if dec := p.decoder.Swap(nil); dec != nil {
		if err := dec.Close(); err != nil {
			p.consumerLog.Warn("failed to close decoder", "error", err)
		}
	}
	p.desync.Store(false)
	p.requestKeyFrame()
}

func (p *Pipeline) requestKeyFrame() {
	if !p.keyRequests.Allow() {
		return
	}
	p.keyFrameRequests.Add(1)
	p.keyRequested.Store(true)
	p.consumerLog.Debug("requesting key frame")
}

func (p *Pipeline) onFrame(frame *camloop.DecodedFrame) {
	defer frame.Release()
	p.sink.Paint(frame)
	p.painted.Add(1)
}

func (p *Pipeline) onDecodeError(err error) {
	kind, _ := camloop.KindOf(err)
	switch kind {
	case camloop.DesyncFatal:
		p.desyncs.Add(1)
		p.desync.Store(true)
		p.consumerLog.Warn("decoder lost sync", "error", err)
	case camloop.MissingKeyFrame:
		p.missingKeyFrames.Add(1)
		p.requestKeyFrame()
		p.consumerLog.Info("decoder needs key frame", "error", err)
	default:
		p.decodeErrors.Add(1)
		p.consumerLog.Warn("failed to decode chunk", "error", err)
	}
}

// Sync waits until the decoder processed every chunk handed to it by earlier
// calls to Step.
func (p *Pipeline) Sync(ctx context.Context) error {
	p.stepLock.Lock()
	defer p.stepLock.Unlock()

	dec := p.decoder.Load()
	if dec == nil {
		return nil
	}
	return dec.Sync(ctx)
}

// Drain waits until the encoder handled every pulled frame, evaluates the
// mailbox one last time and waits for the decoder. It is meant to be called
// once Done is closed.
func (p *Pipeline) Drain(ctx context.Context) error {
	if enc := p.encoder.Load(); enc != nil {
		if err := enc.Sync(ctx); err != nil {
			return err
		}
	}
	if err := p.Step(); err != nil {
		return err
	}
	return p.Sync(ctx)
}

// Drive calls Step every interval until ctx is done or the pipeline is
// stopped. It returns the first error of Step.
func (p *Pipeline) Drive(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.Step(); err != nil {
				if errors.Is(err, camloop.ErrClosed) {
					return nil
				}
				return err
			}
		}
	}
}

// Stop cancels the producer, waits for it and closes both codec sessions.
// No frame is painted after Stop returned. Stop is idempotent.
func (p *Pipeline) Stop() error {
	p.lock.Lock()
	if p.state == stopped {
		p.lock.Unlock()
		return nil
	}
	prev := p.state
	p.state = stopped
	p.lock.Unlock()

	var errs []error
	if prev == running {
		p.cancel()
		if err := p.group.Wait(); err != nil {
			errs = append(errs, err)
		}
	}
	p.closeDone()
	if enc := p.encoder.Load(); enc != nil {
		errs = append(errs, enc.Close())
	}

	p.stepLock.Lock()
	if dec := p.decoder.Load(); dec != nil {
		errs = append(errs, dec.Close())
	}
	p.stepLock.Unlock()

	p.logger.Info("pipeline stopped", "pulled", p.pulled.Load(), "chunks", p.chunks.Load(), "painted", p.painted.Load())
	return errors.Join(errs...)
}
