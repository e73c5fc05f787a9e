// Package ivf records encoded chunks to IVF files and reads them back.
package ivf

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/mengelbart/camloop"
	"github.com/mengelbart/camloop/internal/logging"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
)

const (
	defaultMTU  = 1200
	payloadType = 96
)

var ErrUnsupportedCodec = errors.New("ivf recorder only supports vp8")

type RecorderOption func(*Recorder)

// WithRTPLogger logs every packet the recorder produces.
func WithRTPLogger(l *logging.RTPLogger) RecorderOption {
	return func(r *Recorder) {
		r.rtpLogger = l
	}
}

func WithMTU(mtu uint16) RecorderOption {
	return func(r *Recorder) {
		r.mtu = mtu
	}
}

// Recorder writes chunks to an IVF file. It implements camloop.ChunkTap.
// Chunks are packetized to RTP and handed to the pion IVF writer, which
// reassembles the frames and skips everything before the first key frame.
type Recorder struct {
	lock       sync.Mutex
	writer     *ivfwriter.IVFWriter
	packetizer rtp.Packetizer
	rtpLogger  *logging.RTPLogger
	mtu        uint16
	clockRate  uint32

	lastDuration float64
	chunks       int
	closed       bool
}

func NewRecorder(w io.Writer, c camloop.CodecType, opts ...RecorderOption) (*Recorder, error) {
	if c != camloop.VP8 {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedCodec, c)
	}
	ivfWriter, err := ivfwriter.NewWith(w)
	if err != nil {
		return nil, err
	}
	r := &Recorder{
		writer:    ivfWriter,
		mtu:       defaultMTU,
		clockRate: c.ClockRate(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.packetizer = rtp.NewPacketizer(r.mtu, payloadType, 1, &codecs.VP8Payloader{}, rtp.NewRandomSequencer(), r.clockRate)
	return r, nil
}

func (r *Recorder) WriteChunk(chunk camloop.EncodedChunk) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.closed {
		return camloop.ErrClosed
	}
	duration := chunk.Duration
	if duration <= 0 {
		duration = r.lastDuration
	}
	r.lastDuration = duration
	samples := uint32(duration * float64(r.clockRate) / 1e6)

	pkts := r.packetizer.Packetize(chunk.Payload, samples)
	for _, pkt := range pkts {
		if r.rtpLogger != nil {
			r.rtpLogger.LogRTPPacket(&pkt.Header, pkt.Payload, chunk.Timestamp)
		}
		if err := r.writer.WriteRTP(pkt); err != nil {
			return err
		}
	}
	r.chunks++
	return nil
}

// Chunks returns the number of chunks written.
func (r *Recorder) Chunks() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.chunks
}

// Close finishes the file. The underlying writer is closed if it is an
// io.Closer.
func (r *Recorder) Close() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.writer.Close()
}
