package ivf

import (
	"fmt"
	"io"
	"strings"

	"github.com/mengelbart/camloop"
	"github.com/mengelbart/camloop/codec"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
)

// Reader reads frames of an IVF file as encoded chunks. Timestamps start at
// zero for the first frame.
type Reader struct {
	reader *ivfreader.IVFReader
	header *ivfreader.IVFFileHeader
	closer io.Closer
	codec  camloop.CodecType

	// ticks per second of the frame timestamps
	clockRate float64
	first     uint64
	started   bool
	lastTS    float64
}

// NewReader parses the file header of r. If clockRate is zero, frame
// timestamps are interpreted in the timebase of the file header. Files
// written by Recorder carry RTP timestamps and should be read with the
// clock rate of the codec.
func NewReader(r io.Reader, clockRate uint32) (*Reader, error) {
	ivfReader, ivfHeader, err := ivfreader.NewWith(r)
	if err != nil {
		return nil, err
	}
	c, err := codecOf(ivfHeader.FourCC)
	if err != nil {
		return nil, err
	}
	rate := float64(clockRate)
	if rate == 0 && ivfHeader.TimebaseNumerator > 0 {
		rate = float64(ivfHeader.TimebaseDenominator) / float64(ivfHeader.TimebaseNumerator)
	}
	if rate <= 0 {
		return nil, fmt.Errorf("invalid ivf timebase %v/%v", ivfHeader.TimebaseNumerator, ivfHeader.TimebaseDenominator)
	}
	s := &Reader{
		reader:    ivfReader,
		header:    ivfHeader,
		codec:     c,
		clockRate: rate,
	}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s, nil
}

func codecOf(fourCC string) (camloop.CodecType, error) {
	switch strings.ToUpper(fourCC) {
	case "VP80":
		return camloop.VP8, nil
	case "VP90":
		return camloop.VP9, nil
	}
	return 0, fmt.Errorf("unsupported ivf fourcc: %q", fourCC)
}

func (s *Reader) Codec() camloop.CodecType {
	return s.codec
}

// Size returns the frame size stored in the file header.
func (s *Reader) Size() (int, int) {
	return int(s.header.Width), int(s.header.Height)
}

// ReadChunk returns the next frame. The kind is taken from the bitstream.
// The duration of a chunk is unknown until the next frame is read, so it is
// left zero. ReadChunk returns io.EOF after the last frame.
func (s *Reader) ReadChunk() (camloop.EncodedChunk, error) {
	payload, header, err := s.reader.ParseNextFrame()
	if err != nil {
		return camloop.EncodedChunk{}, err
	}
	if !s.started {
		s.started = true
		s.first = header.Timestamp
	}
	ts := s.lastTS
	if header.Timestamp >= s.first {
		ts = max(ts, float64(header.Timestamp-s.first)*1e6/s.clockRate)
	}
	s.lastTS = ts
	return camloop.EncodedChunk{
		Payload:   payload,
		Timestamp: ts,
		Kind:      codec.FrameKindOf(s.codec, payload),
	}, nil
}

func (s *Reader) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
