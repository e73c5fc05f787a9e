package pipeline

import (
	"errors"
	"log/slog"
	"time"

	"github.com/mengelbart/camloop"
	"github.com/mengelbart/camloop/codec"
)

type Option func(*Pipeline) error

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			return errors.New("nil logger")
		}
		p.logger = logger
		return nil
	}
}

// WithTaps adds observers which receive every encoded chunk after it was put
// into the mailbox.
func WithTaps(taps ...camloop.ChunkTap) Option {
	return func(p *Pipeline) error {
		p.taps = append(p.taps, taps...)
		return nil
	}
}

// TolerateGaps keeps decoding delta chunks after the consumer skipped
// chunks. By default a gap forces a new decoder session.
func TolerateGaps() Option {
	return func(p *Pipeline) error {
		p.tolerateGaps = true
		return nil
	}
}

func EncoderEngine(f codec.EncoderEngineFactory) Option {
	return func(p *Pipeline) error {
		p.newEncoder = f
		return nil
	}
}

func DecoderEngine(f codec.DecoderEngineFactory) Option {
	return func(p *Pipeline) error {
		p.newDecoder = f
		return nil
	}
}

// KeyFrameRequestInterval limits how often the consumer asks the producer
// for a key frame.
func KeyFrameRequestInterval(d time.Duration) Option {
	return func(p *Pipeline) error {
		if d < 0 {
			return errors.New("negative key frame request interval")
		}
		p.keyRequestInterval = d
		return nil
	}
}

// QueueSizes sets the job queue sizes of the encoder and decoder sessions.
func QueueSizes(encoder, decoder int) Option {
	return func(p *Pipeline) error {
		p.encoderQueue = encoder
		p.decoderQueue = decoder
		return nil
	}
}
