package codec_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"testing/synctest"

	"github.com/mengelbart/camloop"
	"github.com/mengelbart/camloop/codec"
	"github.com/mengelbart/camloop/codec/codectest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type decoderRecorder struct {
	frames []float64
	errs   []error
	// block, if set, is received from in onFrame
	block chan struct{}
	// errBlock, if set, is received from in onError
	errBlock chan struct{}
}

func (r *decoderRecorder) onFrame(f *camloop.DecodedFrame) {
	if r.block != nil {
		<-r.block
	}
	r.frames = append(r.frames, f.Timestamp)
	f.Release()
}

func (r *decoderRecorder) onError(err error) {
	if r.errBlock != nil {
		<-r.errBlock
	}
	r.errs = append(r.errs, err)
}

func (r *decoderRecorder) kinds() []camloop.ErrorKind {
	kinds := make([]camloop.ErrorKind, 0, len(r.errs))
	for _, err := range r.errs {
		k, _ := camloop.KindOf(err)
		kinds = append(kinds, k)
	}
	return kinds
}

func chunk(kind camloop.FrameKind, pts int64) camloop.EncodedChunk {
	return codectest.Chunk(kind, testWidth, testHeight, pts, byte(pts))
}

func TestDecoderRejectsDeltaBeforeKey(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		engine := &codectest.Decoder{}
		rec := &decoderRecorder{}
		dec := codec.NewDecoder(codectest.DecoderFactory(engine), rec.onFrame, rec.onError)
		defer dec.Close()
		require.NoError(t, dec.Configure(camloop.VP8))

		dec.Decode(chunk(camloop.Delta, 1))
		dec.Decode(chunk(camloop.Delta, 2))
		synctest.Wait()

		assert.Equal(t, []camloop.ErrorKind{camloop.MissingKeyFrame, camloop.MissingKeyFrame}, rec.kinds())
		assert.Empty(t, rec.frames)
		assert.Empty(t, engine.Decoded())
		assert.True(t, dec.AwaitingKeyFrame())
		assert.Equal(t, codec.NoKeyFrameYet, dec.KeyFrameState())
		assert.Equal(t, uint64(2), dec.Stats().Rejected)

		dec.Decode(chunk(camloop.Key, 3))
		dec.Decode(chunk(camloop.Delta, 4))
		synctest.Wait()

		assert.Equal(t, codec.Streaming, dec.KeyFrameState())
		assert.Equal(t, []float64{3, 4}, rec.frames)
		assert.Equal(t, []int64{3, 4}, engine.Decoded())
	})
}

func TestDecoderReportsEveryRejection(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		rec := &decoderRecorder{errBlock: make(chan struct{})}
		dec := codec.NewDecoder(codectest.DecoderFactory(&codectest.Decoder{}), rec.onFrame, rec.onError, codec.DecoderQueueSize(1))
		defer dec.Close()
		require.NoError(t, dec.Configure(camloop.VP8))

		dec.Decode(chunk(camloop.Delta, 1))
		synctest.Wait()
		// the first rejection is stuck in the error callback
		for i := range 3 {
			dec.Decode(chunk(camloop.Delta, int64(i+2)))
		}
		close(rec.errBlock)
		synctest.Wait()

		assert.Equal(t, uint64(4), dec.Stats().Rejected)
		assert.Equal(t, []camloop.ErrorKind{
			camloop.MissingKeyFrame,
			camloop.MissingKeyFrame,
			camloop.MissingKeyFrame,
			camloop.MissingKeyFrame,
		}, rec.kinds())

		dec.Decode(chunk(camloop.Key, 5))
		require.NoError(t, dec.Sync(context.Background()))
		assert.Equal(t, []float64{5}, rec.frames)
		assert.Len(t, rec.errs, 4)
	})
}

func TestDecoderSync(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		rec := &decoderRecorder{}
		dec := codec.NewDecoder(codectest.DecoderFactory(&codectest.Decoder{}), rec.onFrame, rec.onError, codec.DecoderQueueSize(8))
		defer dec.Close()
		require.NoError(t, dec.Configure(camloop.VP9))

		dec.Decode(chunk(camloop.Key, 0))
		for i := range 4 {
			dec.Decode(chunk(camloop.Delta, int64(i+1)))
		}
		require.NoError(t, dec.Sync(context.Background()))
		assert.Equal(t, []float64{0, 1, 2, 3, 4}, rec.frames)
		assert.Equal(t, uint64(5), dec.Stats().Decoded)
	})
}

func TestDecoderSyncAfterClose(t *testing.T) {
	dec := codec.NewDecoder(codectest.DecoderFactory(&codectest.Decoder{}), func(*camloop.DecodedFrame) {}, nil)
	assert.ErrorIs(t, dec.Sync(context.Background()), camloop.ErrClosed)
	assert.NoError(t, dec.Close())
	assert.Equal(t, codec.Closed, dec.State())
}

func TestDecoderFailureKinds(t *testing.T) {
	cases := []struct {
		name   string
		fail   func(n int) error
		chunks []camloop.EncodedChunk
		kinds  []camloop.ErrorKind
		frames []float64
	}{
		{
			name: "key frame fails",
			fail: func(n int) error {
				if n == 0 {
					return errors.New("bad key frame")
				}
				return nil
			},
			chunks: []camloop.EncodedChunk{chunk(camloop.Key, 0), chunk(camloop.Delta, 1)},
			kinds:  []camloop.ErrorKind{camloop.DesyncFatal, camloop.DesyncFatal},
			frames: nil,
		},
		{
			name: "delta fails",
			fail: func(n int) error {
				if n == 1 {
					return errors.New("bad delta")
				}
				return nil
			},
			chunks: []camloop.EncodedChunk{chunk(camloop.Key, 0), chunk(camloop.Delta, 1), chunk(camloop.Delta, 2)},
			kinds:  []camloop.ErrorKind{camloop.DecodeFailed},
			frames: []float64{0, 2},
		},
		{
			name: "corrupt reference",
			fail: func(n int) error {
				if n == 2 {
					return fmt.Errorf("missing reference: %w", codec.ErrCorrupt)
				}
				return nil
			},
			chunks: []camloop.EncodedChunk{chunk(camloop.Key, 0), chunk(camloop.Delta, 1), chunk(camloop.Delta, 2)},
			kinds:  []camloop.ErrorKind{camloop.DesyncFatal},
			frames: []float64{0, 1},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			synctest.Test(t, func(t *testing.T) {
				rec := &decoderRecorder{}
				dec := codec.NewDecoder(codectest.DecoderFactory(&codectest.Decoder{Fail: tc.fail}), rec.onFrame, rec.onError, codec.DecoderQueueSize(8))
				defer dec.Close()
				require.NoError(t, dec.Configure(camloop.VP8))

				for _, c := range tc.chunks {
					dec.Decode(c)
				}
				require.NoError(t, dec.Sync(context.Background()))

				assert.Equal(t, tc.kinds, rec.kinds())
				assert.Equal(t, tc.frames, rec.frames)
			})
		})
	}
}

func TestDecoderQueueOverflowIsFatal(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		rec := &decoderRecorder{block: make(chan struct{})}
		dec := codec.NewDecoder(codectest.DecoderFactory(&codectest.Decoder{}), rec.onFrame, rec.onError, codec.DecoderQueueSize(1))
		require.NoError(t, dec.Configure(camloop.VP8))

		dec.Decode(chunk(camloop.Key, 0))
		synctest.Wait()
		dec.Decode(chunk(camloop.Delta, 1))
		dec.Decode(chunk(camloop.Delta, 2))

		close(rec.block)
		synctest.Wait()

		assert.Equal(t, []float64{0, 1}, rec.frames)
		assert.Equal(t, []camloop.ErrorKind{camloop.DesyncFatal}, rec.kinds())
		assert.Equal(t, uint64(1), dec.Stats().Dropped)
		assert.NoError(t, dec.Close())
	})
}

func TestDecoderConfigureFailure(t *testing.T) {
	dec := codec.NewDecoder(codectest.DecoderFactory(), func(*camloop.DecodedFrame) {}, nil)
	err := dec.Configure(camloop.VP8)
	assert.ErrorIs(t, err, &camloop.CodecError{Kind: camloop.ConfigurationFailed})
	assert.Equal(t, codec.Unconfigured, dec.State())

	// unconfigured sessions drop chunks silently
	dec.Decode(chunk(camloop.Key, 0))
	assert.Equal(t, uint64(1), dec.Stats().Dropped)
}

func TestDecoderClose(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		engine := &codectest.Decoder{}
		rec := &decoderRecorder{}
		dec := codec.NewDecoder(codectest.DecoderFactory(engine), rec.onFrame, rec.onError, codec.DecoderQueueSize(4))
		require.NoError(t, dec.Configure(camloop.VP8))

		dec.Decode(chunk(camloop.Key, 0))
		require.NoError(t, dec.Close())
		n := len(rec.frames)

		dec.Decode(chunk(camloop.Delta, 1))
		synctest.Wait()
		assert.Len(t, rec.frames, n)
		assert.True(t, engine.Closed())
		assert.Equal(t, codec.Closed, dec.State())
		assert.ErrorIs(t, dec.Configure(camloop.VP8), &camloop.CodecError{Kind: camloop.ConfigurationFailed})
	})
}
