package http

import (
	"bytes"
	"encoding/json"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/synctest"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/mengelbart/camloop"
	"github.com/mengelbart/camloop/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticStats pipeline.Stats

func (s staticStats) Stats() pipeline.Stats {
	return pipeline.Stats(s)
}

func frame(width, height int, luma byte, ts float64) *camloop.DecodedFrame {
	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio420)
	for i := range img.Y {
		img.Y[i] = luma
	}
	for i := range img.Cb {
		img.Cb[i] = 128
		img.Cr[i] = 128
	}
	return camloop.NewDecodedFrame(img, ts, 0, nil)
}

func TestSnapshotSinkScales(t *testing.T) {
	s := NewSnapshotSink(SnapshotWidth(4))
	_, err := s.Snapshot()
	assert.ErrorIs(t, err, ErrNoSnapshot)

	s.Paint(frame(8, 6, 200, 42))
	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Width)
	assert.Equal(t, 3, snap.Height)
	assert.Equal(t, float64(42), snap.Timestamp)

	img, err := jpeg.Decode(bytes.NewReader(snap.JPEG))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 3), img.Bounds())
	r, g, b, _ := img.At(1, 1).RGBA()
	assert.InDelta(t, 200, r>>8, 8)
	assert.InDelta(t, 200, g>>8, 8)
	assert.InDelta(t, 200, b>>8, 8)
}

func TestSnapshotQuality(t *testing.T) {
	encode := func(quality int) []byte {
		f := frame(64, 48, 0, 1)
		for i := range f.Image.Y {
			f.Image.Y[i] = byte(i * 37)
		}
		s := NewSnapshotSink(SnapshotWidth(0), SnapshotQuality(quality))
		s.Paint(f)
		snap, err := s.Snapshot()
		require.NoError(t, err)
		return snap.JPEG
	}
	assert.Less(t, len(encode(10)), len(encode(100)))
}

func TestSnapshotSinkRate(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		s := NewSnapshotSink(SnapshotRate(5), SnapshotWidth(0))
		s.Paint(frame(8, 6, 10, 1))
		s.Paint(frame(8, 6, 10, 2))
		assert.Equal(t, uint64(1), s.Frames())

		time.Sleep(200 * time.Millisecond)
		s.Paint(frame(8, 6, 10, 3))
		assert.Equal(t, uint64(2), s.Frames())

		snap, err := s.Snapshot()
		require.NoError(t, err)
		assert.Equal(t, float64(3), snap.Timestamp)
		assert.Equal(t, 8, snap.Width)
	})
}

func newTestRouter(api *API) *httprouter.Router {
	mux := httprouter.New()
	api.RegisterRoutes(mux)
	return mux
}

func TestGetStats(t *testing.T) {
	stats := staticStats{ID: "abc", State: "running"}
	stats.Consumer.Evaluations = 3
	mux := newTestRouter(NewAPI(stats, nil))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "abc", got["id"])
	assert.Equal(t, "running", got["state"])
	assert.Equal(t, float64(3), got["consumer"].(map[string]any)["evaluations"])
}

func TestGetSnapshot(t *testing.T) {
	sink := NewSnapshotSink()
	mux := newTestRouter(NewAPI(nil, sink))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/snapshot", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	sink.Paint(frame(16, 8, 90, 1234))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/snapshot", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.Equal(t, "1234", rec.Header().Get("X-Frame-Timestamp"))
	_, err := jpeg.Decode(rec.Body)
	assert.NoError(t, err)
}

func TestMissingProviders(t *testing.T) {
	mux := newTestRouter(NewAPI(nil, nil))
	for _, path := range []string{"/api/v1/stats", "/api/v1/snapshot"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestIndex(t *testing.T) {
	mux := newTestRouter(NewAPI(nil, nil, RefreshInterval(250*time.Millisecond)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/api/v1/snapshot")
	assert.Contains(t, rec.Body.String(), "250")
}
