package camloop

type FrameKind int

const (
	// Delta chunks need decoder state seeded by an earlier Key chunk.
	Delta FrameKind = iota
	// Key chunks are self-contained.
	Key
)

func (k FrameKind) String() string {
	switch k {
	case Key:
		return "key"
	case Delta:
		return "delta"
	}
	return "unknown"
}

// EncodedChunk is one compressed frame as emitted by an encoder. Timestamp and
// Duration are in microseconds of capture time; a zero Duration means the
// duration is unknown. A chunk must not be modified once it was handed on.
type EncodedChunk struct {
	Payload   []byte
	Timestamp float64
	Duration  float64
	Kind      FrameKind
}

func (c EncodedChunk) IsKey() bool {
	return c.Kind == Key
}

// Len returns the payload size in bytes.
func (c EncodedChunk) Len() int {
	return len(c.Payload)
}
