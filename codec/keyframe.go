package codec

import "github.com/mengelbart/camloop"

// IsKeyFrame inspects the start of a raw VP8 or VP9 frame and reports whether
// it is a key frame.
func IsKeyFrame(c camloop.CodecType, payload []byte) bool {
	switch c {
	case camloop.VP8:
		return isVP8KeyFrame(payload)
	case camloop.VP9:
		return isVP9KeyFrame(payload)
	}
	return false
}

// FrameKindOf is IsKeyFrame mapped to a camloop.FrameKind.
func FrameKindOf(c camloop.CodecType, payload []byte) camloop.FrameKind {
	if IsKeyFrame(c, payload) {
		return camloop.Key
	}
	return camloop.Delta
}

// The VP8 frame tag is 3 bytes, bit 0 is the inverse key frame flag. Key
// frames carry the start code 9d 01 2a right after the tag (RFC 6386 9.1).
func isVP8KeyFrame(b []byte) bool {
	if len(b) < 3 {
		return false
	}
	if b[0]&0x01 != 0 {
		return false
	}
	if len(b) >= 6 {
		return b[3] == 0x9d && b[4] == 0x01 && b[5] == 0x2a
	}
	return true
}

// VP9 uncompressed header: frame_marker(2) profile_low(1) profile_high(1)
// [reserved_zero(1) if profile == 3] show_existing_frame(1) frame_type(1).
func isVP9KeyFrame(b []byte) bool {
	if len(b) < 1 {
		return false
	}
	r := bitReader{buf: b}
	if r.read(2) != 2 {
		return false
	}
	low := r.read(1)
	high := r.read(1)
	if high<<1|low == 3 {
		r.read(1)
	}
	if r.read(1) == 1 {
		// show_existing_frame repeats an already decoded frame
		return false
	}
	if r.err {
		return false
	}
	frameType := r.read(1)
	return !r.err && frameType == 0
}

type bitReader struct {
	buf []byte
	pos int
	err bool
}

func (r *bitReader) read(n int) uint {
	var v uint
	for range n {
		if r.pos >= len(r.buf)*8 {
			r.err = true
			return 0
		}
		bit := (r.buf[r.pos/8] >> (7 - uint(r.pos%8))) & 1
		v = v<<1 | uint(bit)
		r.pos++
	}
	return v
}
