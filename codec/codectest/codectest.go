// Package codectest provides in-memory codec engines for tests. The encoded
// format is not a real bitstream: each payload carries its frame kind, the
// picture size, the pts and the first luma sample so a matching Decoder can
// rebuild a flat picture from it.
package codectest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/mengelbart/camloop"
	"github.com/mengelbart/camloop/codec"
)

const (
	magic       = 0xca
	keyFlag     = 0x01
	payloadSize = 1 + 1 + 2 + 2 + 8 + 1
)

// Encode builds a fake payload. It is exported so tests can craft chunks
// without an encoder.
func Encode(key bool, width, height int, pts int64, luma byte) []byte {
	b := make([]byte, payloadSize)
	b[0] = magic
	if key {
		b[1] = keyFlag
	}
	binary.BigEndian.PutUint16(b[2:], uint16(width))
	binary.BigEndian.PutUint16(b[4:], uint16(height))
	binary.BigEndian.PutUint64(b[6:], uint64(pts))
	b[14] = luma
	return b
}

// Chunk returns an EncodedChunk with a fake payload.
func Chunk(kind camloop.FrameKind, width, height int, pts int64, luma byte) camloop.EncodedChunk {
	return camloop.EncodedChunk{
		Payload:   Encode(kind == camloop.Key, width, height, pts, luma),
		Timestamp: float64(pts),
		Kind:      kind,
	}
}

type header struct {
	key    bool
	width  int
	height int
	pts    int64
	luma   byte
}

func parse(b []byte) (header, error) {
	if len(b) != payloadSize || b[0] != magic {
		return header{}, fmt.Errorf("not a codectest payload (%v bytes)", len(b))
	}
	return header{
		key:    b[1]&keyFlag != 0,
		width:  int(binary.BigEndian.Uint16(b[2:])),
		height: int(binary.BigEndian.Uint16(b[4:])),
		pts:    int64(binary.BigEndian.Uint64(b[6:])),
		luma:   b[14],
	}, nil
}

// Encoder is a fake codec.EncoderEngine. Frame n (counting from 0) is a key
// frame if n is a multiple of KeyInterval or a key frame was forced.
type Encoder struct {
	KeyInterval int
	// Fail, if set, is asked before each frame whether encoding it fails.
	Fail func(n int) error
	// Block, if set, is received from before each frame is encoded.
	Block chan struct{}

	config codec.Config

	lock   sync.Mutex
	n      int
	forced int
	closed bool
}

func (e *Encoder) Encode(img *image.YCbCr, pts int64, _ time.Duration, forceKeyFrame bool) (*codec.Frame, error) {
	if e.Block != nil {
		<-e.Block
	}
	e.lock.Lock()
	defer e.lock.Unlock()

	if e.closed {
		return nil, camloop.ErrClosed
	}
	n := e.n
	e.n++
	if e.Fail != nil {
		if err := e.Fail(n); err != nil {
			return nil, err
		}
	}
	if forceKeyFrame {
		e.forced++
	}
	key := forceKeyFrame || n == 0 || (e.KeyInterval > 0 && n%e.KeyInterval == 0)
	var luma byte
	if len(img.Y) > 0 {
		luma = img.Y[0]
	}
	return &codec.Frame{
		IsKeyFrame: key,
		Payload:    Encode(key, img.Rect.Dx(), img.Rect.Dy(), pts, luma),
	}, nil
}

func (e *Encoder) Close() error {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.closed = true
	return nil
}

func (e *Encoder) Closed() bool {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.closed
}

// Frames returns how many frames reached the engine.
func (e *Encoder) Frames() int {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.n
}

// Forced returns how many frames were forced to be key frames.
func (e *Encoder) Forced() int {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.forced
}

func (e *Encoder) Configured() codec.Config {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.config
}

// EncoderFactory returns a factory that hands out e. If err is not nil the
// factory fails instead.
func EncoderFactory(e *Encoder, err error) codec.EncoderEngineFactory {
	return func(c codec.Config) (codec.EncoderEngine, error) {
		if err != nil {
			return nil, err
		}
		e.lock.Lock()
		e.config = c
		e.lock.Unlock()
		return e, nil
	}
}

// Decoder is a fake codec.DecoderEngine. Like a real decoder it fails on
// delta frames until it decoded a key frame.
type Decoder struct {
	// Fail, if set, is asked before each payload whether decoding fails.
	Fail func(n int) error

	lock    sync.Mutex
	n       int
	hasKey  bool
	decoded []int64
	closed  bool
}

func (d *Decoder) Decode(payload []byte) (*image.YCbCr, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.closed {
		return nil, camloop.ErrClosed
	}
	n := d.n
	d.n++
	if d.Fail != nil {
		if err := d.Fail(n); err != nil {
			return nil, err
		}
	}
	h, err := parse(payload)
	if err != nil {
		return nil, err
	}
	if !h.key && !d.hasKey {
		return nil, fmt.Errorf("delta frame without reference: %w", codec.ErrCorrupt)
	}
	if h.key {
		d.hasKey = true
	}
	img := image.NewYCbCr(image.Rect(0, 0, h.width, h.height), image.YCbCrSubsampleRatio420)
	for i := range img.Y {
		img.Y[i] = h.luma
	}
	d.decoded = append(d.decoded, h.pts)
	return img, nil
}

func (d *Decoder) Close() error {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.closed = true
	return nil
}

func (d *Decoder) Closed() bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.closed
}

// Decoded returns the pts of every successfully decoded payload.
func (d *Decoder) Decoded() []int64 {
	d.lock.Lock()
	defer d.lock.Unlock()
	return append([]int64(nil), d.decoded...)
}

// DecoderFactory hands out the decoders in order, one per session. Once all
// are used it fails.
func DecoderFactory(decoders ...*Decoder) codec.DecoderEngineFactory {
	var lock sync.Mutex
	return func(camloop.CodecType) (codec.DecoderEngine, error) {
		lock.Lock()
		defer lock.Unlock()
		if len(decoders) == 0 {
			return nil, errors.New("no decoder left")
		}
		d := decoders[0]
		decoders = decoders[1:]
		return d, nil
	}
}
