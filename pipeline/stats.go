package pipeline

import (
	"github.com/mengelbart/camloop"
	"github.com/mengelbart/camloop/codec"
)

type ProducerStats struct {
	Pulled       uint64 `json:"pulled"`
	SourceErrors uint64 `json:"source_errors"`
	Chunks       uint64 `json:"chunks"`
	TapErrors    uint64 `json:"tap_errors"`
	EncodeErrors uint64 `json:"encode_errors"`
}

type ConsumerStats struct {
	Evaluations      uint64 `json:"evaluations"`
	Duplicates       uint64 `json:"duplicates"`
	MissingKeyFrames uint64 `json:"missing_key_frames"`
	Desyncs          uint64 `json:"desyncs"`
	KeyFrameRequests uint64 `json:"key_frame_requests"`
	DecodeErrors     uint64 `json:"decode_errors"`
	Painted          uint64 `json:"painted"`
	DecoderSessions  uint64 `json:"decoder_sessions"`
}

type Stats struct {
	ID       string               `json:"id"`
	State    string               `json:"state"`
	Producer ProducerStats        `json:"producer"`
	Consumer ConsumerStats        `json:"consumer"`
	Mailbox  camloop.MailboxStats `json:"mailbox"`
	Encoder  *codec.EncoderStats  `json:"encoder,omitempty"`
	Decoder  *codec.DecoderStats  `json:"decoder,omitempty"`
}

// Stats returns a snapshot of the pipeline counters. Counters are read one by
// one, so a snapshot taken while the pipeline runs is not atomic.
func (p *Pipeline) Stats() Stats {
	p.lock.Lock()
	st := p.state
	p.lock.Unlock()

	s := Stats{
		ID:    p.id.String(),
		State: st.String(),
		Producer: ProducerStats{
			Pulled:       p.pulled.Load(),
			SourceErrors: p.sourceErrors.Load(),
			Chunks:       p.chunks.Load(),
			TapErrors:    p.tapErrors.Load(),
			EncodeErrors: p.encodeErrors.Load(),
		},
		Consumer: ConsumerStats{
			Evaluations:      p.evaluations.Load(),
			Duplicates:       p.duplicates.Load(),
			MissingKeyFrames: p.missingKeyFrames.Load(),
			Desyncs:          p.desyncs.Load(),
			KeyFrameRequests: p.keyFrameRequests.Load(),
			DecodeErrors:     p.decodeErrors.Load(),
			Painted:          p.painted.Load(),
			DecoderSessions:  p.decoderSessions.Load(),
		},
		Mailbox: p.mailbox.Stats(),
	}
	// a stopped pipeline reports sessions it never created as closed
	if enc := p.encoder.Load(); enc != nil {
		es := enc.Stats()
		s.Encoder = &es
	} else if st == stopped {
		s.Encoder = &codec.EncoderStats{State: codec.Closed}
	}
	if dec := p.decoder.Load(); dec != nil {
		ds := dec.Stats()
		s.Decoder = &ds
	} else if st == stopped {
		s.Decoder = &codec.DecoderStats{State: codec.Closed}
	}
	return s
}
