package subcmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mengelbart/camloop"
	"github.com/mengelbart/camloop/cmdmain"
	"github.com/mengelbart/camloop/codec"
	"github.com/mengelbart/camloop/flags"
	"github.com/mengelbart/camloop/vpx"
)

func init() {
	cmdmain.RegisterSubCmd("encode", func() cmdmain.SubCmd { return new(Encode) })
}

type Encode struct{}

func (e *Encode) Help() string {
	return "Encode a y4m file or the test source to an IVF file"
}

func (e *Encode) Exec(cmd string, args []string) error {
	fs := flag.NewFlagSet("encode", flag.ExitOnError)
	flags.RegisterInto(fs, []flags.FlagName{
		flags.ConfigFlag,
		flags.CodecFlag,
		flags.BitrateFlag,
		flags.WidthFlag,
		flags.HeightFlag,
		flags.FrameRateFlag,
		flags.KeyFrameIntervalFlag,
		flags.SourceTypeFlag,
		flags.SourcePathFlag,
		flags.PacedFlag,
		flags.FramesFlag,
		flags.RecordFlag,
		flags.TraceRTPFlag,
	}...)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Run the encoder until the source is exhausted

Usage:
	%s encode -record <out.ivf> [flags]

Flags:
`, cmd)
		fs.PrintDefaults()
		fmt.Fprintln(os.Stderr)
	}
	fs.Parse(args)

	c, err := flags.Config(fs)
	if err != nil {
		return err
	}
	if c.Record == "" {
		fmt.Fprintf(os.Stderr, "error: missing -%v\n", flags.RecordFlag)
		fs.Usage()
		os.Exit(1)
	}
	logger := slog.Default()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	source, err := openSource(c, logger)
	if err != nil {
		return err
	}
	defer source.Close()

	rec, err := createRecorder(c, logger)
	if err != nil {
		return err
	}

	onChunk := func(chunk camloop.EncodedChunk) {
		if err := rec.WriteChunk(chunk); err != nil {
			logger.Error("failed to record chunk", "error", err, "pts", chunk.Timestamp)
		}
	}
	onError := func(err error) {
		logger.Warn("failed to encode frame", "error", err)
	}
	enc := codec.NewEncoder(vpx.NewEncoderEngine, onChunk, onError, codec.EncoderLogger(logger))
	if err = enc.Configure(codecConfig(c, source.Info())); err != nil {
		return errors.Join(err, rec.Close())
	}

	err = encodeAll(ctx, source, enc, logger)
	err = errors.Join(err, enc.Close(), rec.Close())
	logger.Info("encoding done", "chunks", rec.Chunks(), "encoded", enc.Stats().Encoded)
	return err
}

// encodeAll waits for every frame to be encoded before pulling the next one,
// so nothing is dropped at the encoder.
func encodeAll(ctx context.Context, source camloop.FrameSource, enc *codec.Encoder, logger *slog.Logger) error {
	for {
		frame, err := source.NextFrame(ctx)
		if ctx.Err() != nil {
			if frame != nil {
				frame.Release()
			}
			return nil
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			logger.Warn("failed to pull frame", "error", &camloop.SourceError{Err: err})
			continue
		}
		enc.Encode(frame)
		if err := enc.Sync(ctx); err != nil && ctx.Err() == nil {
			return err
		}
	}
}
