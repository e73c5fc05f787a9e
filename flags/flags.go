// Package flags implements command-line flags for camloop.
//
// The design idea is taken from [upspin.io/flags], but most of the code is
// modified. This package uses a slightly modified version of [RegisterInto] and
// the internal [flags]-map. See [Upspin LICENSE] for upspins copyright and
// license information.
//
// [upspin.io/flags]: https://github.com/upspin/upspin/tree/334f107fe3d98225d7adfbb35b74e066fbca9875/flags
// [Upspin LICENSE]: https://github.com/upspin/upspin/blob/334f107fe3d98225d7adfbb35b74e066fbca9875/LICENSE
package flags

import (
	"flag"
	"fmt"
	"time"

	"github.com/mengelbart/camloop"
	"github.com/mengelbart/camloop/config"
)

type FlagName string

// flag keys
const (
	ConfigFlag FlagName = "config"

	CodecFlag            FlagName = "codec"
	BitrateFlag          FlagName = "bitrate"
	WidthFlag            FlagName = "width"
	HeightFlag           FlagName = "height"
	FrameRateFlag        FlagName = "frame-rate"
	KeyFrameIntervalFlag FlagName = "key-frame-interval"

	SourceTypeFlag   FlagName = "source"
	SourcePathFlag   FlagName = "source-path"
	SourceDeviceFlag FlagName = "device"
	LoopFlag         FlagName = "loop"
	PacedFlag        FlagName = "paced"
	FramesFlag       FlagName = "frames"

	Y4MSinkFlag         FlagName = "y4m-out"
	SnapshotWidthFlag   FlagName = "snapshot-width"
	SnapshotQualityFlag FlagName = "snapshot-quality"

	RenderIntervalFlag     FlagName = "render-interval"
	KeyRequestIntervalFlag FlagName = "key-request-interval"
	TolerateGapsFlag       FlagName = "tolerate-gaps"

	RecordFlag   FlagName = "record"
	TraceRTPFlag FlagName = "trace-rtp"

	HTTPAddrFlag            FlagName = "http-address"
	HTTPCertFlag            FlagName = "http-cert"
	HTTPKeyFlag             FlagName = "http-key"
	HTTPShutdownTimeoutFlag FlagName = "http-shutdown-timeout"
	LogRequestsFlag         FlagName = "log-requests"
)

var defaults = config.Default()

// Flag vars
var (
	ConfigFile = ""

	Codec            = defaults.Codec.String()
	Bitrate          = defaults.Bitrate
	Width            = defaults.Width
	Height           = defaults.Height
	FrameRate        = uint(defaults.FrameRate)
	KeyFrameInterval = defaults.KeyFrameInterval

	SourceType   = string(defaults.Source.Type)
	SourcePath   = ""
	SourceDevice = "test"
	Loop         = false
	Paced        = defaults.Source.Paced
	Frames       = uint(0)

	Y4MSink         = ""
	SnapshotWidth   = uint(defaults.Sink.SnapshotWidth)
	SnapshotQuality = uint(defaults.Sink.SnapshotQuality)

	RenderInterval     = defaults.RenderInterval
	KeyRequestInterval = defaults.KeyFrameRequestInterval
	TolerateGaps       = false

	// Record is the IVF file to record encoded chunks to
	Record   = ""
	TraceRTP = false

	HTTPAddr            = ""
	HTTPCert            = ""
	HTTPKey             = ""
	HTTPShutdownTimeout = defaults.HTTPShutdownTimeout
	LogRequests         = false
)

type flagVar func(*flag.FlagSet)

func stringVar(p *string, name FlagName, defaultValue *string, usage string) func(*flag.FlagSet) {
	return func(fs *flag.FlagSet) {
		fs.StringVar(p, string(name), *defaultValue, usage)
	}
}

func uintVar(p *uint, name FlagName, defaultValue *uint, usage string) func(*flag.FlagSet) {
	return func(fs *flag.FlagSet) {
		fs.UintVar(p, string(name), *defaultValue, usage)
	}
}

func boolVar(p *bool, name FlagName, defaultValue *bool, usage string) func(*flag.FlagSet) {
	return func(fs *flag.FlagSet) {
		fs.BoolVar(p, string(name), *defaultValue, usage)
	}
}

func durationVar(p *time.Duration, name FlagName, defaultValue *time.Duration, usage string) func(*flag.FlagSet) {
	return func(fs *flag.FlagSet) {
		fs.DurationVar(p, string(name), *defaultValue, usage)
	}
}

var flags = map[FlagName]flagVar{
	ConfigFlag: stringVar(&ConfigFile, ConfigFlag, &ConfigFile, "YAML config file. Flags set on the command line override it."),

	// Codec flags
	CodecFlag:            stringVar(&Codec, CodecFlag, &Codec, "Codec to use (vp8, vp9)"),
	BitrateFlag:          uintVar(&Bitrate, BitrateFlag, &Bitrate, "Encoder target rate in bits per second"),
	WidthFlag:            uintVar(&Width, WidthFlag, &Width, "Frame width"),
	HeightFlag:           uintVar(&Height, HeightFlag, &Height, "Frame height"),
	FrameRateFlag:        uintVar(&FrameRate, FrameRateFlag, &FrameRate, "Frames per second"),
	KeyFrameIntervalFlag: uintVar(&KeyFrameInterval, KeyFrameIntervalFlag, &KeyFrameInterval, "Maximum distance between key frames in frames (0: encoder default)"),

	// IO Flags
	SourceTypeFlag:   stringVar(&SourceType, SourceTypeFlag, &SourceType, "Frame source (test, y4m, gstreamer)"),
	SourcePathFlag:   stringVar(&SourcePath, SourcePathFlag, &SourcePath, "Input file for the y4m source or device node for the gstreamer source"),
	SourceDeviceFlag: stringVar(&SourceDevice, SourceDeviceFlag, &SourceDevice, "GStreamer source element (v4l2, test)"),
	LoopFlag:         boolVar(&Loop, LoopFlag, &Loop, "Restart the y4m source at the end of the file"),
	PacedFlag:        boolVar(&Paced, PacedFlag, &Paced, "Deliver file and test frames in real time"),
	FramesFlag:       uintVar(&Frames, FramesFlag, &Frames, "Number of frames the test source produces (0: unlimited)"),

	Y4MSinkFlag:         stringVar(&Y4MSink, Y4MSinkFlag, &Y4MSink, "Write decoded frames to this y4m file"),
	SnapshotWidthFlag:   uintVar(&SnapshotWidth, SnapshotWidthFlag, &SnapshotWidth, "Width of HTTP snapshots (0: decoded width)"),
	SnapshotQualityFlag: uintVar(&SnapshotQuality, SnapshotQualityFlag, &SnapshotQuality, "JPEG quality of HTTP snapshots (1-100)"),

	// Consumer flags
	RenderIntervalFlag:     durationVar(&RenderInterval, RenderIntervalFlag, &RenderInterval, "Interval between two consumer steps"),
	KeyRequestIntervalFlag: durationVar(&KeyRequestInterval, KeyRequestIntervalFlag, &KeyRequestInterval, "Minimum interval between two key frame requests"),
	TolerateGapsFlag:       boolVar(&TolerateGaps, TolerateGapsFlag, &TolerateGaps, "Keep decoding delta chunks after skipped chunks"),

	RecordFlag:   stringVar(&Record, RecordFlag, &Record, "Record encoded chunks to this IVF file (vp8 only)"),
	TraceRTPFlag: boolVar(&TraceRTP, TraceRTPFlag, &TraceRTP, "Log the RTP packets of recorded chunks"),

	// HTTP flags
	HTTPAddrFlag:            stringVar(&HTTPAddr, HTTPAddrFlag, &HTTPAddr, "Serve snapshots and stats on this address (empty: disabled)"),
	HTTPCertFlag:            stringVar(&HTTPCert, HTTPCertFlag, &HTTPCert, "TLS certificate file, serves HTTPS together with -http-key"),
	HTTPKeyFlag:             stringVar(&HTTPKey, HTTPKeyFlag, &HTTPKey, "TLS key file"),
	HTTPShutdownTimeoutFlag: durationVar(&HTTPShutdownTimeout, HTTPShutdownTimeoutFlag, &HTTPShutdownTimeout, "Time open HTTP requests get to finish on shutdown"),
	LogRequestsFlag:         boolVar(&LogRequests, LogRequestsFlag, &LogRequests, "Log every HTTP request"),
}

func RegisterInto(fs *flag.FlagSet, names ...FlagName) {
	if len(names) == 0 {
		for _, f := range flags {
			f(fs)
		}
	} else {
		for _, n := range names {
			f, ok := flags[n]
			if !ok {
				panic(fmt.Sprintf("unknown flag: %q", n))
			}
			f(fs)
		}
	}
}

// Config loads the config file, if one was given, and applies every flag
// that was set on fs.
func Config(fs *flag.FlagSet) (config.Config, error) {
	c := config.Default()
	if ConfigFile != "" {
		var err error
		c, err = config.Load(ConfigFile)
		if err != nil {
			return config.Config{}, err
		}
	}
	var err error
	fs.Visit(func(f *flag.Flag) {
		if err != nil {
			return
		}
		err = apply(&c, FlagName(f.Name))
	})
	if err != nil {
		return config.Config{}, err
	}
	return c, c.Validate()
}

func apply(c *config.Config, name FlagName) error {
	switch name {
	case CodecFlag:
		codec, err := camloop.ParseCodecType(Codec)
		if err != nil {
			return err
		}
		c.Codec = codec
	case BitrateFlag:
		c.Bitrate = Bitrate
	case WidthFlag:
		c.Width = Width
	case HeightFlag:
		c.Height = Height
	case FrameRateFlag:
		c.FrameRate = int(FrameRate)
	case KeyFrameIntervalFlag:
		c.KeyFrameInterval = KeyFrameInterval
	case SourceTypeFlag:
		c.Source.Type = config.SourceType(SourceType)
	case SourcePathFlag:
		c.Source.Path = SourcePath
	case SourceDeviceFlag:
		c.Source.Device = SourceDevice
	case LoopFlag:
		c.Source.Loop = Loop
	case PacedFlag:
		c.Source.Paced = Paced
	case FramesFlag:
		c.Source.Frames = int(Frames)
	case Y4MSinkFlag:
		c.Sink.Y4M = Y4MSink
	case SnapshotWidthFlag:
		c.Sink.SnapshotWidth = int(SnapshotWidth)
	case SnapshotQualityFlag:
		c.Sink.SnapshotQuality = int(SnapshotQuality)
	case RenderIntervalFlag:
		c.RenderInterval = RenderInterval
	case KeyRequestIntervalFlag:
		c.KeyFrameRequestInterval = KeyRequestInterval
	case TolerateGapsFlag:
		c.TolerateGaps = TolerateGaps
	case RecordFlag:
		c.Record = Record
	case TraceRTPFlag:
		c.TraceRTP = TraceRTP
	case HTTPAddrFlag:
		c.HTTPAddress = HTTPAddr
	case HTTPCertFlag:
		c.HTTPCertFile = HTTPCert
	case HTTPKeyFlag:
		c.HTTPKeyFile = HTTPKey
	case HTTPShutdownTimeoutFlag:
		c.HTTPShutdownTimeout = HTTPShutdownTimeout
	case LogRequestsFlag:
		c.LogRequests = LogRequests
	}
	return nil
}
