package codec_test

import (
	"context"
	"errors"
	"testing"
	"testing/synctest"

	"github.com/mengelbart/camloop"
	"github.com/mengelbart/camloop/codec"
	"github.com/mengelbart/camloop/codec/codectest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWidth  = 8
	testHeight = 6
)

func testConfig() codec.Config {
	return codec.Config{
		Codec:       camloop.VP8,
		Width:       testWidth,
		Height:      testHeight,
		TimebaseNum: 30,
		TimebaseDen: 1,
		TargetRate:  500_000,
	}
}

type encoderRecorder struct {
	chunks []camloop.EncodedChunk
	errs   []error
}

func (r *encoderRecorder) onChunk(c camloop.EncodedChunk) {
	r.chunks = append(r.chunks, c)
}

func (r *encoderRecorder) onError(err error) {
	r.errs = append(r.errs, err)
}

func newFrame(t *testing.T, pool *camloop.FramePool, ts float64) *camloop.RawFrame {
	t.Helper()
	f, err := pool.Frame(context.Background(), testWidth, testHeight, ts, 33_333)
	require.NoError(t, err)
	for i := range f.Data {
		f.Data[i] = byte(ts)
	}
	return f
}

func TestEncoderEncodesInOrder(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		engine := &codectest.Encoder{}
		rec := &encoderRecorder{}
		enc := codec.NewEncoder(codectest.EncoderFactory(engine, nil), rec.onChunk, rec.onError, codec.EncoderQueueSize(8))
		defer enc.Close()

		assert.Equal(t, codec.Unconfigured, enc.State())
		require.NoError(t, enc.Configure(testConfig()))
		assert.Equal(t, codec.Configured, enc.State())
		assert.Equal(t, testConfig(), engine.Configured())

		pool := camloop.NewFramePool(codec.I420Size(testWidth, testHeight), 4)
		frames := make([]*camloop.RawFrame, 0, 4)
		for i := range 4 {
			f := newFrame(t, pool, float64(i*33_333))
			frames = append(frames, f)
			enc.Encode(f)
		}
		for _, f := range frames {
			assert.True(t, f.Released())
		}
		assert.Equal(t, 4, pool.Available())

		synctest.Wait()

		assert.Empty(t, rec.errs)
		require.Len(t, rec.chunks, 4)
		assert.Equal(t, camloop.Key, rec.chunks[0].Kind)
		for i, c := range rec.chunks {
			assert.Equal(t, float64(i*33_333), c.Timestamp)
			assert.Equal(t, float64(33_333), c.Duration)
			assert.NotEmpty(t, c.Payload)
			if i > 0 {
				assert.Equal(t, camloop.Delta, c.Kind)
			}
		}

		stats := enc.Stats()
		assert.Equal(t, uint64(4), stats.Submitted)
		assert.Equal(t, uint64(4), stats.Encoded)
		assert.Equal(t, uint64(1), stats.KeyFrames)
	})
}

func TestEncoderConfigureFailure(t *testing.T) {
	rec := &encoderRecorder{}
	enc := codec.NewEncoder(codectest.EncoderFactory(&codectest.Encoder{}, errors.New("no such codec")), rec.onChunk, rec.onError)

	err := enc.Configure(testConfig())
	kind, ok := camloop.KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, camloop.ConfigurationFailed, kind)
	assert.Equal(t, codec.Unconfigured, enc.State())

	bad := testConfig()
	bad.Width = 0
	enc = codec.NewEncoder(codectest.EncoderFactory(&codectest.Encoder{}, nil), rec.onChunk, rec.onError)
	err = enc.Configure(bad)
	assert.ErrorIs(t, err, &camloop.CodecError{Kind: camloop.ConfigurationFailed})
	assert.NoError(t, enc.Close())
}

func TestEncoderUnconfiguredReleasesFrame(t *testing.T) {
	rec := &encoderRecorder{}
	enc := codec.NewEncoder(codectest.EncoderFactory(&codectest.Encoder{}, nil), rec.onChunk, rec.onError)
	pool := camloop.NewFramePool(codec.I420Size(testWidth, testHeight), 1)

	f := newFrame(t, pool, 0)
	enc.Encode(f)
	assert.True(t, f.Released())
	assert.Equal(t, uint64(1), enc.Stats().Dropped)
	assert.Empty(t, rec.chunks)
}

func TestEncoderDropsWhenQueueFull(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		engine := &codectest.Encoder{Block: make(chan struct{})}
		rec := &encoderRecorder{}
		enc := codec.NewEncoder(codectest.EncoderFactory(engine, nil), rec.onChunk, rec.onError, codec.EncoderQueueSize(1))
		require.NoError(t, enc.Configure(testConfig()))

		pool := camloop.NewFramePool(codec.I420Size(testWidth, testHeight), 3)

		// the worker takes the first frame and blocks inside the engine
		enc.Encode(newFrame(t, pool, 0))
		synctest.Wait()
		enc.Encode(newFrame(t, pool, 1))
		third := newFrame(t, pool, 2)
		enc.Encode(third)
		assert.True(t, third.Released())
		assert.Equal(t, 3, pool.Available())

		close(engine.Block)
		synctest.Wait()

		require.Len(t, rec.chunks, 2)
		assert.Equal(t, float64(0), rec.chunks[0].Timestamp)
		assert.Equal(t, float64(1), rec.chunks[1].Timestamp)
		stats := enc.Stats()
		assert.Equal(t, uint64(1), stats.Dropped)
		assert.Equal(t, uint64(2), stats.Submitted)
		assert.NoError(t, enc.Close())
	})
}

func TestEncoderEngineFailureContinues(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		engine := &codectest.Encoder{
			Fail: func(n int) error {
				if n == 1 {
					return errors.New("boom")
				}
				return nil
			},
		}
		rec := &encoderRecorder{}
		enc := codec.NewEncoder(codectest.EncoderFactory(engine, nil), rec.onChunk, rec.onError, codec.EncoderQueueSize(4))
		defer enc.Close()
		require.NoError(t, enc.Configure(testConfig()))

		pool := camloop.NewFramePool(codec.I420Size(testWidth, testHeight), 3)
		for i := range 3 {
			enc.Encode(newFrame(t, pool, float64(i)))
		}
		synctest.Wait()

		assert.Len(t, rec.chunks, 2)
		require.Len(t, rec.errs, 1)
		assert.ErrorIs(t, rec.errs[0], &camloop.CodecError{Kind: camloop.EncodeFailed})
		assert.Equal(t, uint64(1), enc.Stats().Failed)
	})
}

func TestEncoderRejectsWrongFrameSize(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		rec := &encoderRecorder{}
		enc := codec.NewEncoder(codectest.EncoderFactory(&codectest.Encoder{}, nil), rec.onChunk, rec.onError)
		defer enc.Close()
		require.NoError(t, enc.Configure(testConfig()))

		f := camloop.NewRawFrame(make([]byte, codec.I420Size(4, 4)), 4, 4, 0, 0, nil)
		enc.Encode(f)
		assert.True(t, f.Released())
		synctest.Wait()

		assert.Empty(t, rec.chunks)
		require.Len(t, rec.errs, 1)
		kind, _ := camloop.KindOf(rec.errs[0])
		assert.Equal(t, camloop.EncodeFailed, kind)
	})
}

func TestEncoderForceKeyFrame(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		engine := &codectest.Encoder{}
		rec := &encoderRecorder{}
		enc := codec.NewEncoder(codectest.EncoderFactory(engine, nil), rec.onChunk, rec.onError, codec.EncoderQueueSize(4))
		defer enc.Close()
		require.NoError(t, enc.Configure(testConfig()))

		pool := camloop.NewFramePool(codec.I420Size(testWidth, testHeight), 3)
		enc.Encode(newFrame(t, pool, 0))
		enc.Encode(newFrame(t, pool, 1))
		enc.ForceKeyFrame()
		enc.Encode(newFrame(t, pool, 2))
		synctest.Wait()

		require.Len(t, rec.chunks, 3)
		assert.Equal(t, camloop.Key, rec.chunks[0].Kind)
		assert.Equal(t, camloop.Delta, rec.chunks[1].Kind)
		assert.Equal(t, camloop.Key, rec.chunks[2].Kind)
		assert.Equal(t, 1, engine.Forced())
	})
}

func TestEncoderNoCallbacksAfterClose(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		engine := &codectest.Encoder{}
		rec := &encoderRecorder{}
		enc := codec.NewEncoder(codectest.EncoderFactory(engine, nil), rec.onChunk, rec.onError, codec.EncoderQueueSize(4))
		require.NoError(t, enc.Configure(testConfig()))

		pool := camloop.NewFramePool(codec.I420Size(testWidth, testHeight), 4)
		enc.Encode(newFrame(t, pool, 0))
		enc.Encode(newFrame(t, pool, 1))
		require.NoError(t, enc.Close())
		n := len(rec.chunks)

		f := newFrame(t, pool, 2)
		enc.Encode(f)
		assert.True(t, f.Released())
		synctest.Wait()

		assert.Len(t, rec.chunks, n)
		assert.Equal(t, codec.Closed, enc.State())
		assert.True(t, engine.Closed())
		assert.NoError(t, enc.Close())
		assert.Equal(t, 4, pool.Available())
	})
}

func TestEncoderSync(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		engine := &codectest.Encoder{Block: make(chan struct{})}
		rec := &encoderRecorder{}
		enc := codec.NewEncoder(codectest.EncoderFactory(engine, nil), rec.onChunk, rec.onError, codec.EncoderQueueSize(4))
		defer enc.Close()
		require.NoError(t, enc.Configure(testConfig()))

		pool := camloop.NewFramePool(codec.I420Size(testWidth, testHeight), 4)
		enc.Encode(newFrame(t, pool, 1))
		enc.Encode(newFrame(t, pool, 2))

		synced := make(chan error, 1)
		go func() {
			synced <- enc.Sync(context.Background())
		}()
		synctest.Wait()
		select {
		case <-synced:
			t.Fatal("sync returned before the queued frames were encoded")
		default:
		}

		close(engine.Block)
		require.NoError(t, <-synced)
		assert.Len(t, rec.chunks, 2)
		assert.Equal(t, uint64(2), enc.Stats().Submitted)

		require.NoError(t, enc.Close())
		assert.ErrorIs(t, enc.Sync(context.Background()), camloop.ErrClosed)
	})
}
