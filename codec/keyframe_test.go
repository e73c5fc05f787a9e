package codec

import (
	"testing"

	"github.com/mengelbart/camloop"
	"github.com/stretchr/testify/assert"
)

func TestIsKeyFrame(t *testing.T) {
	cases := []struct {
		name    string
		codec   camloop.CodecType
		payload []byte
		key     bool
	}{
		{"vp8 key", camloop.VP8, []byte{0x50, 0x42, 0x00, 0x9d, 0x01, 0x2a, 0x40, 0x01}, true},
		{"vp8 key without start code", camloop.VP8, []byte{0x50, 0x42, 0x00, 0x00, 0x00, 0x00}, false},
		{"vp8 inter", camloop.VP8, []byte{0x31, 0x02, 0x00, 0x11, 0x22, 0x33}, false},
		{"vp8 short", camloop.VP8, []byte{0x00}, false},
		{"vp9 key profile 0", camloop.VP9, []byte{0x82, 0x49, 0x83, 0x42}, true},
		{"vp9 inter profile 0", camloop.VP9, []byte{0x86, 0x00}, false},
		{"vp9 show existing", camloop.VP9, []byte{0x88}, false},
		{"vp9 key profile 3", camloop.VP9, []byte{0xb0}, true},
		{"vp9 bad marker", camloop.VP9, []byte{0x02}, false},
		{"vp9 empty", camloop.VP9, nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.key, IsKeyFrame(tc.codec, tc.payload))
		})
	}
}

func TestFrameKindOf(t *testing.T) {
	assert.Equal(t, camloop.Key, FrameKindOf(camloop.VP8, []byte{0x50, 0x42, 0x00, 0x9d, 0x01, 0x2a}))
	assert.Equal(t, camloop.Delta, FrameKindOf(camloop.VP8, []byte{0x31, 0x02, 0x00}))
}

func TestI420(t *testing.T) {
	assert.Equal(t, 6*4+2*3*2, I420Size(6, 4))
	assert.Equal(t, 5*3+2*3*2, I420Size(5, 3))

	buf := make([]byte, I420Size(4, 2))
	for i := range buf {
		buf[i] = byte(i)
	}
	img := I420Image(buf, 4, 2)
	assert.Equal(t, buf[:8], img.Y)
	assert.Equal(t, buf[8:10], img.Cb)
	assert.Equal(t, buf[10:12], img.Cr)
	assert.Equal(t, buf, CopyI420(nil, img))
}

func TestCopyI420RemovesPadding(t *testing.T) {
	buf := make([]byte, I420Size(2, 2))
	for i := range buf {
		buf[i] = byte(i + 1)
	}
	img := I420Image(buf, 2, 2)
	padded := *img
	padded.YStride = 4
	padded.Y = []byte{1, 2, 0, 0, 3, 4, 0, 0}
	padded.CStride = 2
	padded.Cb = []byte{5, 0}
	padded.Cr = []byte{6, 0}

	assert.Equal(t, buf, CopyI420(make([]byte, 1), &padded))
}
