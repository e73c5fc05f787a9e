package camloop

import (
	"errors"
	"fmt"
)

var ErrClosed = errors.New("codec session closed")

type ErrorKind int

const (
	ConfigurationFailed ErrorKind = iota
	EncodeFailed
	DecodeFailed
	MissingKeyFrame
	DesyncFatal
)

func (k ErrorKind) String() string {
	switch k {
	case ConfigurationFailed:
		return "configuration-failed"
	case EncodeFailed:
		return "encode-failed"
	case DecodeFailed:
		return "decode-failed"
	case MissingKeyFrame:
		return "missing-key-frame"
	case DesyncFatal:
		return "desync-fatal"
	}
	return "unknown"
}

// CodecError is reported by encoder and decoder sessions.
type CodecError struct {
	Kind ErrorKind
	Err  error
}

func NewCodecError(kind ErrorKind, err error) *CodecError {
	return &CodecError{Kind: kind, Err: err}
}

func (e *CodecError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

// Is matches another CodecError of the same kind, so errors.Is(err,
// &CodecError{Kind: MissingKeyFrame}) works through wrapping.
func (e *CodecError) Is(target error) bool {
	t, ok := target.(*CodecError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Err == nil
}

// KindOf returns the kind of the first CodecError in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var ce *CodecError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return 0, false
}

// SourceError wraps a failed frame pull. It is always transient.
type SourceError struct {
	Err error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("frame source: %v", e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}
