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

	"github.com/mengelbart/camloop/cmdmain"
	"github.com/mengelbart/camloop/codec"
	"github.com/mengelbart/camloop/flags"
	"github.com/mengelbart/camloop/ivf"
	"github.com/mengelbart/camloop/pipeline"
	"github.com/mengelbart/camloop/vpx"
)

func init() {
	cmdmain.RegisterSubCmd("decode", func() cmdmain.SubCmd { return new(Decode) })
}

type Decode struct{}

func (d *Decode) Help() string {
	return "Decode an IVF file to a y4m file"
}

func (d *Decode) Exec(cmd string, args []string) error {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	in := fs.String("in", "", "IVF input file")
	flags.RegisterInto(fs, flags.Y4MSinkFlag, flags.FrameRateFlag, flags.TolerateGapsFlag)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Decode every chunk of an IVF file

Usage:
	%s decode -in <in.ivf> -y4m-out <out.y4m> [flags]

Flags:
`, cmd)
		fs.PrintDefaults()
		fmt.Fprintln(os.Stderr)
	}
	fs.Parse(args)

	if *in == "" || flags.Y4MSink == "" {
		fmt.Fprintln(os.Stderr, "error: missing input or output file")
		fs.Usage()
		os.Exit(1)
	}
	logger := slog.Default()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	f, err := os.Open(*in)
	if err != nil {
		return err
	}
	// y4m has no per frame timestamps, the header timebase is good enough
	reader, err := ivf.NewReader(f, 0)
	if err != nil {
		f.Close()
		return err
	}
	defer reader.Close()

	sink, err := codec.CreateY4MSink(flags.Y4MSink, int(flags.FrameRate), 1)
	if err != nil {
		return err
	}

	opts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.EncoderEngine(vpx.NewEncoderEngine),
		pipeline.DecoderEngine(vpx.NewDecoderEngine),
	}
	if flags.TolerateGaps {
		opts = append(opts, pipeline.TolerateGaps())
	}
	width, height := reader.Size()
	p, err := pipeline.New(nil, sink, codec.Config{
		Codec:  reader.Codec(),
		Width:  uint(width),
		Height: uint(height),
	}, opts...)
	if err != nil {
		return errors.Join(err, sink.Close())
	}

	err = decodeAll(ctx, reader, p)
	err = errors.Join(err, p.Stop(), sink.Close())
	stats := p.Stats()
	logger.Info("decoding done", "chunks", stats.Consumer.Evaluations, "painted", stats.Consumer.Painted, "missing-key-frames", stats.Consumer.MissingKeyFrames)
	return err
}

// decodeAll feeds one chunk at a time through the mailbox and waits for it
// to be painted, so no chunk is overwritten.
func decodeAll(ctx context.Context, reader *ivf.Reader, p *pipeline.Pipeline) error {
	for ctx.Err() == nil {
		chunk, err := reader.ReadChunk()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		p.Mailbox().Put(chunk)
		if err := p.Step(); err != nil {
			return err
		}
		if err := p.Sync(ctx); err != nil && ctx.Err() == nil {
			return err
		}
	}
	return nil
}
