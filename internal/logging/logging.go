package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/pion/rtp"
)

type Format string

const (
	TextFormat Format = "text"
	JSONFormat Format = "json"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case TextFormat, JSONFormat:
		return f, nil
	}
	return "", fmt.Errorf("unknown log format: %q", s)
}

// New returns a logger writing to writer (stderr if nil) in the given format.
func New(format Format, level slog.Level, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = os.Stderr
	}
	ho := &slog.HandlerOptions{
		AddSource:   false,
		Level:       level,
		ReplaceAttr: nil,
	}
	switch format {
	case JSONFormat:
		return slog.New(slog.NewJSONHandler(writer, ho))
	case TextFormat:
		return slog.New(slog.NewTextHandler(writer, ho))
	default:
		panic(fmt.Sprintf("unexpected logging.format: %#v", format))
	}
}

// Configure installs a logger created by New as the slog default.
func Configure(format Format, level slog.Level, writer io.Writer) {
	slog.SetDefault(New(format, level, writer))
}

// RTPLogger logs the RTP packets a chunk was split into, together with the
// capture timestamp of the chunk.
type RTPLogger struct {
	logger *slog.Logger
	seq    *Unwrapper
}

func NewRTPLogger(vantagePoint string, logger *slog.Logger) *RTPLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &RTPLogger{
		logger: logger.With("vantage-point", vantagePoint).WithGroup("rtp-packet"),
		seq:    &Unwrapper{},
	}
}

func (l *RTPLogger) LogRTPPacket(header *rtp.Header, payload []byte, pts float64) {
	u := l.seq.Unwrap(header.SequenceNumber)
	l.logger.Info(
		"rtp packet",
		"marker", header.Marker,
		"payload-type", header.PayloadType,
		"sequence-number", header.SequenceNumber,
		"unwrapped-sequence-number", u,
		"timestamp", header.Timestamp,
		"ssrc", header.SSRC,
		"payload-length", header.MarshalSize()+len(payload),
		"pts", pts,
	)
}
