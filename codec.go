package camloop

import (
	"fmt"
	"strings"
)

type CodecType int

const (
	VP8 CodecType = iota
	VP9
)

func ParseCodecType(s string) (CodecType, error) {
	switch strings.ToLower(s) {
	case "vp8":
		return VP8, nil
	case "vp9":
		return VP9, nil
	}
	return VP8, fmt.Errorf("unknown codec: %s", s)
}

func (c CodecType) String() string {
	switch c {
	case VP8:
		return "vp8"
	case VP9:
		return "vp9"
	}
	return "unknown"
}

// ClockRate is the RTP clock rate used when chunks of this codec are
// packetized for recording.
func (c CodecType) ClockRate() uint32 {
	return 90_000
}

// MarshalText lets CodecType be used directly in YAML and JSON documents.
func (c CodecType) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *CodecType) UnmarshalText(b []byte) error {
	ct, err := ParseCodecType(string(b))
	if err != nil {
		return err
	}
	*c = ct
	return nil
}
