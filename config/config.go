// Package config holds the settings of a camloop pipeline. Settings are read
// from an optional YAML file and may be overridden by command line flags.
package config

import (
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"os"
	"time"

	"github.com/mengelbart/camloop"
	"github.com/mengelbart/camloop/codec"
	"gopkg.in/yaml.v3"
)

type SourceType string

const (
	TestSource      SourceType = "test"
	Y4MSource       SourceType = "y4m"
	GStreamerSource SourceType = "gstreamer"
)

type Source struct {
	Type SourceType `yaml:"type"`
	// Path is the y4m file for Y4MSource or the device node for
	// GStreamerSource.
	Path string `yaml:"path,omitempty"`
	// Device selects the GStreamer element: v4l2 or test.
	Device string `yaml:"device,omitempty"`
	Loop   bool   `yaml:"loop,omitempty"`
	Paced  bool   `yaml:"paced"`
	// Frames limits the test source. Zero means unlimited.
	Frames int `yaml:"frames,omitempty"`
}

type Sink struct {
	// Y4M is written if set.
	Y4M string `yaml:"y4m,omitempty"`
	// SnapshotWidth of the HTTP snapshots, zero keeps the decoded width.
	SnapshotWidth int `yaml:"snapshot_width,omitempty"`
	// SnapshotQuality is the JPEG quality from 1 to 100.
	SnapshotQuality int `yaml:"snapshot_quality"`
}

type Config struct {
	Codec            camloop.CodecType `yaml:"codec"`
	Width            uint              `yaml:"width"`
	Height           uint              `yaml:"height"`
	FrameRate        int               `yaml:"frame_rate"`
	Bitrate          uint              `yaml:"bitrate"`
	KeyFrameInterval uint              `yaml:"key_frame_interval"`

	Source Source `yaml:"source"`
	Sink   Sink   `yaml:"sink"`

	RenderInterval          time.Duration `yaml:"render_interval"`
	KeyFrameRequestInterval time.Duration `yaml:"key_frame_request_interval"`
	TolerateGaps            bool          `yaml:"tolerate_gaps"`

	// Record is the IVF file chunks are recorded to. Empty disables recording.
	Record      string `yaml:"record,omitempty"`
	TraceRTP    bool   `yaml:"trace_rtp,omitempty"`
	HTTPAddress string `yaml:"http_address,omitempty"`
	// HTTPCertFile and HTTPKeyFile switch the server to HTTPS.
	HTTPCertFile        string        `yaml:"http_cert,omitempty"`
	HTTPKeyFile         string        `yaml:"http_key,omitempty"`
	HTTPShutdownTimeout time.Duration `yaml:"http_shutdown_timeout"`
	LogRequests         bool          `yaml:"log_requests,omitempty"`
}

func Default() Config {
	return Config{
		Codec:            camloop.VP8,
		Width:            640,
		Height:           480,
		FrameRate:        30,
		Bitrate:          1_000_000,
		KeyFrameInterval: 0,
		Source: Source{
			Type:  TestSource,
			Paced: true,
		},
		Sink: Sink{
			SnapshotWidth:   640,
			SnapshotQuality: jpeg.DefaultQuality,
		},
		RenderInterval:          33 * time.Millisecond,
		KeyFrameRequestInterval: 500 * time.Millisecond,
		HTTPShutdownTimeout:     time.Second,
	}
}

// Load reads a YAML file on top of Default. Keys missing from the file keep
// their default.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	return Decode(f)
}

func Decode(r io.Reader) (Config, error) {
	c := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

func (c Config) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}

func (c Config) Validate() error {
	var errs []error
	if c.Codec != camloop.VP8 && c.Codec != camloop.VP9 {
		errs = append(errs, fmt.Errorf("unsupported codec %v", c.Codec))
	}
	if c.Width == 0 || c.Height == 0 || c.Width%2 != 0 || c.Height%2 != 0 {
		errs = append(errs, fmt.Errorf("invalid frame size %vx%v", c.Width, c.Height))
	}
	if c.FrameRate <= 0 {
		errs = append(errs, fmt.Errorf("invalid frame rate %v", c.FrameRate))
	}
	if c.Bitrate == 0 {
		errs = append(errs, errors.New("bitrate must be positive"))
	}
	if c.RenderInterval <= 0 {
		errs = append(errs, fmt.Errorf("invalid render interval %v", c.RenderInterval))
	}
	if c.KeyFrameRequestInterval < 0 {
		errs = append(errs, fmt.Errorf("invalid key frame request interval %v", c.KeyFrameRequestInterval))
	}
	switch c.Source.Type {
	case TestSource:
	case Y4MSource:
		if c.Source.Path == "" {
			errs = append(errs, errors.New("y4m source needs a path"))
		}
	case GStreamerSource:
	default:
		errs = append(errs, fmt.Errorf("unknown source type %q", c.Source.Type))
	}
	if c.Source.Frames < 0 {
		errs = append(errs, fmt.Errorf("invalid frame limit %v", c.Source.Frames))
	}
	if c.Sink.SnapshotQuality < 1 || c.Sink.SnapshotQuality > 100 {
		errs = append(errs, fmt.Errorf("invalid snapshot quality %v", c.Sink.SnapshotQuality))
	}
	if (c.HTTPCertFile == "") != (c.HTTPKeyFile == "") {
		errs = append(errs, errors.New("HTTPS needs a certificate and a key file"))
	}
	if c.HTTPShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("invalid shutdown timeout %v", c.HTTPShutdownTimeout))
	}
	return errors.Join(errs...)
}

// CodecConfig returns the encoder settings.
func (c Config) CodecConfig() codec.Config {
	return codec.Config{
		Codec:            c.Codec,
		Width:            c.Width,
		Height:           c.Height,
		TimebaseNum:      c.FrameRate,
		TimebaseDen:      1,
		TargetRate:       c.Bitrate,
		KeyFrameInterval: c.KeyFrameInterval,
	}
}

func (c Config) Info() codec.Info {
	return codec.Info{
		Width:       c.Width,
		Height:      c.Height,
		TimebaseNum: c.FrameRate,
		TimebaseDen: 1,
	}
}
