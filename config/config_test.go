package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mengelbart/camloop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestDecodeOverridesDefaults(t *testing.T) {
	c, err := Decode(strings.NewReader(`
codec: vp9
width: 320
height: 240
render_interval: 50ms
source:
  type: y4m
  path: in.y4m
  loop: true
record: out.ivf
`))
	require.NoError(t, err)
	assert.Equal(t, camloop.VP9, c.Codec)
	assert.Equal(t, uint(320), c.Width)
	assert.Equal(t, uint(240), c.Height)
	assert.Equal(t, 50*time.Millisecond, c.RenderInterval)
	assert.Equal(t, Y4MSource, c.Source.Type)
	assert.True(t, c.Source.Loop)
	assert.Equal(t, "out.ivf", c.Record)

	// untouched keys keep their defaults
	assert.Equal(t, 30, c.FrameRate)
	assert.Equal(t, uint(1_000_000), c.Bitrate)
	assert.Equal(t, 500*time.Millisecond, c.KeyFrameRequestInterval)
	assert.Equal(t, 75, c.Sink.SnapshotQuality)
	assert.Equal(t, time.Second, c.HTTPShutdownTimeout)
	assert.NoError(t, c.Validate())
}

func TestDecodeEmpty(t *testing.T) {
	c, err := Decode(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	_, err := Decode(strings.NewReader("widht: 10\n"))
	assert.Error(t, err)
	_, err = Decode(strings.NewReader("codec: h264\n"))
	assert.Error(t, err)
}

func TestWriteAndLoad(t *testing.T) {
	c := Default()
	c.Codec = camloop.VP9
	c.TolerateGaps = true
	c.Sink.Y4M = "out.y4m"

	var buf bytes.Buffer
	require.NoError(t, c.Write(&buf))
	assert.Contains(t, buf.String(), "codec: vp9")
	assert.Contains(t, buf.String(), "render_interval: 33ms")

	path := filepath.Join(t.TempDir(), "camloop.yaml")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, c, loaded)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		modify func(*Config)
	}{
		{"odd width", func(c *Config) { c.Width = 641 }},
		{"zero height", func(c *Config) { c.Height = 0 }},
		{"frame rate", func(c *Config) { c.FrameRate = 0 }},
		{"bitrate", func(c *Config) { c.Bitrate = 0 }},
		{"render interval", func(c *Config) { c.RenderInterval = 0 }},
		{"y4m without path", func(c *Config) { c.Source.Type = Y4MSource }},
		{"unknown source", func(c *Config) { c.Source.Type = "screen" }},
		{"codec", func(c *Config) { c.Codec = camloop.CodecType(7) }},
		{"snapshot quality", func(c *Config) { c.Sink.SnapshotQuality = 101 }},
		{"certificate without key", func(c *Config) { c.HTTPCertFile = "cert.pem" }},
		{"shutdown timeout", func(c *Config) { c.HTTPShutdownTimeout = -time.Second }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.modify(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestCodecConfig(t *testing.T) {
	c := Default()
	cc := c.CodecConfig()
	assert.Equal(t, camloop.VP8, cc.Codec)
	assert.Equal(t, uint(640), cc.Width)
	assert.Equal(t, 30, cc.TimebaseNum)
	assert.Equal(t, 1, cc.TimebaseDen)
	assert.Equal(t, uint(1_000_000), cc.TargetRate)
	assert.NoError(t, cc.Validate())
	assert.Equal(t, time.Second/30, c.Info().FrameDuration())
}
