package codec

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"testing/synctest"
	"time"

	"github.com/mengelbart/camloop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopCloser struct {
	*bytes.Buffer
	closed bool
}

func (c *nopCloser) Close() error {
	c.closed = true
	return nil
}

// writeY4M writes n flat frames of size w x h where frame i has luma i.
func writeY4M(t *testing.T, w, h, n int) []byte {
	t.Helper()
	out := &nopCloser{Buffer: &bytes.Buffer{}}
	sink := NewY4MSink(out, 30, 1)
	for i := range n {
		buf := make([]byte, I420Size(w, h))
		for j := range buf {
			buf[j] = byte(i)
		}
		f := camloop.NewDecodedFrame(I420Image(buf, w, h), float64(i), 0, nil)
		sink.Paint(f)
	}
	require.NoError(t, sink.Close())
	assert.Equal(t, n, sink.Frames())
	assert.True(t, out.closed)
	return out.Bytes()
}

func TestY4MSinkFormat(t *testing.T) {
	data := writeY4M(t, 4, 2, 2)
	header := "YUV4MPEG2 W4 H2 F30:1 Ip A0:0 C420jpeg\n"
	frame := len("FRAME\n") + I420Size(4, 2)
	require.Len(t, data, len(header)+2*frame)
	assert.Equal(t, header, string(data[:len(header)]))
	assert.Equal(t, "FRAME\n", string(data[len(header):len(header)+6]))
}

func TestY4MSinkRejectsSizeChange(t *testing.T) {
	sink := NewY4MSink(&bytes.Buffer{}, 30, 1)
	sink.Paint(camloop.NewDecodedFrame(I420Image(make([]byte, I420Size(4, 2)), 4, 2), 0, 0, nil))
	sink.Paint(camloop.NewDecodedFrame(I420Image(make([]byte, I420Size(2, 2)), 2, 2), 0, 0, nil))
	assert.Error(t, sink.Err())
	assert.Equal(t, 1, sink.Frames())
	assert.Error(t, sink.Close())
}

func TestY4MSourceReadsFrames(t *testing.T) {
	data := writeY4M(t, 4, 2, 3)
	src, err := NewY4MSource(bytes.NewReader(data))
	require.NoError(t, err)
	defer src.Close()

	info := src.Info()
	assert.Equal(t, uint(4), info.Width)
	assert.Equal(t, uint(2), info.Height)
	assert.Equal(t, float64(30), info.FPS())

	ctx := context.Background()
	for i := range 3 {
		f, err := src.NextFrame(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, f.Width)
		assert.Equal(t, 2, f.Height)
		assert.Equal(t, float64(i)*float64(info.FrameDuration().Microseconds()), f.Timestamp)
		assert.Equal(t, byte(i), f.Data[0])
		f.Release()
	}
	_, err = src.NextFrame(ctx)
	assert.True(t, errors.Is(err, io.EOF))
}

func TestY4MSourceLoops(t *testing.T) {
	data := writeY4M(t, 4, 2, 2)
	src, err := NewY4MSource(bytes.NewReader(data), Y4MLoop(), Y4MBuffers(1))
	require.NoError(t, err)
	defer src.Close()

	ctx := context.Background()
	var luma []byte
	for range 5 {
		f, err := src.NextFrame(ctx)
		require.NoError(t, err)
		luma = append(luma, f.Data[0])
		f.Release()
	}
	assert.Equal(t, []byte{0, 1, 0, 1, 0}, luma)
}

func TestY4MSourceLoopNeedsSeeker(t *testing.T) {
	data := writeY4M(t, 4, 2, 1)
	_, err := NewY4MSource(bytes.NewBuffer(data), Y4MLoop())
	assert.Error(t, err)
}

func TestY4MSourcePaced(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		data := writeY4M(t, 4, 2, 4)
		src, err := NewY4MSource(bytes.NewReader(data), Y4MPaced())
		require.NoError(t, err)
		defer src.Close()

		ctx := context.Background()
		start := time.Now()
		for range 4 {
			f, err := src.NextFrame(ctx)
			require.NoError(t, err)
			f.Release()
		}
		// the first frame is immediate, the others wait one frame interval
		assert.InDelta(t, float64(3*src.Info().FrameDuration()), float64(time.Since(start)), float64(time.Millisecond))
	})
}

func TestTestSource(t *testing.T) {
	src := NewTestSource(Info{Width: 8, Height: 6, TimebaseNum: 25, TimebaseDen: 1}, false, 3, 2)
	defer src.Close()

	ctx := context.Background()
	var frames []*camloop.RawFrame
	for range 2 {
		f, err := src.NextFrame(ctx)
		require.NoError(t, err)
		assert.Len(t, f.Data, I420Size(8, 6))
		frames = append(frames, f)
	}
	assert.Equal(t, float64(0), frames[0].Timestamp)
	assert.Equal(t, float64(40_000), frames[1].Timestamp)
	assert.NotEqual(t, frames[0].Data[0], frames[1].Data[0])

	// both buffers are in use
	ctx2, cancel := context.WithTimeout(ctx, time.Millisecond)
	defer cancel()
	_, err := src.NextFrame(ctx2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	frames[0].Release()
	f, err := src.NextFrame(ctx)
	require.NoError(t, err)
	f.Release()
	frames[1].Release()

	_, err = src.NextFrame(ctx)
	assert.ErrorIs(t, err, io.EOF)
}
