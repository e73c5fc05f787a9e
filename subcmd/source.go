package subcmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mengelbart/camloop"
	"github.com/mengelbart/camloop/codec"
	"github.com/mengelbart/camloop/config"
	"github.com/mengelbart/camloop/gstreamer"
	"github.com/mengelbart/camloop/internal/logging"
	"github.com/mengelbart/camloop/ivf"
)

type frameSource interface {
	camloop.FrameSource
	Info() codec.Info
	Close() error
}

func openSource(c config.Config, logger *slog.Logger) (frameSource, error) {
	switch c.Source.Type {
	case config.TestSource:
		return codec.NewTestSource(c.Info(), c.Source.Paced, c.Source.Frames, 4), nil

	case config.Y4MSource:
		f, err := os.Open(c.Source.Path)
		if err != nil {
			return nil, err
		}
		var opts []codec.Y4MSourceOption
		if c.Source.Paced {
			opts = append(opts, codec.Y4MPaced())
		}
		if c.Source.Loop {
			opts = append(opts, codec.Y4MLoop())
		}
		s, err := codec.NewY4MSource(f, opts...)
		if err != nil {
			f.Close()
			return nil, err
		}
		return s, nil

	case config.GStreamerSource:
		opts := []gstreamer.SourceOption{gstreamer.SourceLogger(logger)}
		if c.Source.Device != "" {
			d, err := gstreamer.ParseDevice(c.Source.Device)
			if err != nil {
				return nil, err
			}
			opts = append(opts, gstreamer.SourceDevice(d))
		}
		if c.Source.Path != "" {
			opts = append(opts, gstreamer.SourceDevicePath(c.Source.Path))
		}
		s, err := gstreamer.NewSource(c.Info(), opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown source type %q", c.Source.Type)
}

// codecConfig uses the picture format of the source, which for files
// differs from the configured one.
func codecConfig(c config.Config, info codec.Info) codec.Config {
	cc := c.CodecConfig()
	cc.Width = info.Width
	cc.Height = info.Height
	cc.TimebaseNum = info.TimebaseNum
	cc.TimebaseDen = info.TimebaseDen
	return cc
}

func createRecorder(c config.Config, logger *slog.Logger) (*ivf.Recorder, error) {
	f, err := os.Create(c.Record)
	if err != nil {
		return nil, err
	}
	var opts []ivf.RecorderOption
	if c.TraceRTP {
		opts = append(opts, ivf.WithRTPLogger(logging.NewRTPLogger("recorder", logger)))
	}
	rec, err := ivf.NewRecorder(f, c.Codec, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	return rec, nil
}
