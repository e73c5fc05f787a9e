package subcmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/julienschmidt/httprouter"
	"github.com/mengelbart/camloop"
	"github.com/mengelbart/camloop/cmdmain"
	"github.com/mengelbart/camloop/codec"
	"github.com/mengelbart/camloop/config"
	"github.com/mengelbart/camloop/flags"
	"github.com/mengelbart/camloop/gstreamer"
	api "github.com/mengelbart/camloop/http"
	server "github.com/mengelbart/camloop/internal/http"
	"github.com/mengelbart/camloop/pipeline"
	"github.com/mengelbart/camloop/vpx"
	"golang.org/x/sync/errgroup"
)

var errSourceExhausted = errors.New("source exhausted")

func init() {
	cmdmain.RegisterSubCmd("run", func() cmdmain.SubCmd { return new(Run) })
}

type Run struct{}

// Help implements cmdmain.SubCmd.
func (r *Run) Help() string {
	return "Capture, encode, decode and render frames in one process"
}

// Exec implements cmdmain.SubCmd.
func (r *Run) Exec(cmd string, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	flags.RegisterInto(fs)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Run the capture, encode, decode and render loop

Usage:
	%s run [flags]

Flags:
`, cmd)
		fs.PrintDefaults()
		fmt.Fprintln(os.Stderr)
	}
	fs.Parse(args)

	if len(fs.Args()) > 0 {
		fmt.Fprintf(os.Stderr, "error: unknown extra arguments: %v\n", fs.Args())
		fs.Usage()
		os.Exit(1)
	}

	c, err := flags.Config(fs)
	if err != nil {
		return err
	}
	logger := slog.Default()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	source, err := openSource(c, logger)
	if err != nil {
		return err
	}
	defer source.Close()
	info := source.Info()

	var sinks camloop.MultiSink
	if c.Sink.Y4M != "" {
		y4mSink, err := codec.CreateY4MSink(c.Sink.Y4M, info.TimebaseNum, info.TimebaseDen)
		if err != nil {
			return err
		}
		defer func() {
			if err := y4mSink.Close(); err != nil {
				logger.Error("failed to close y4m sink", "error", err)
			}
		}()
		sinks = append(sinks, y4mSink)
	}
	var snapshots *api.SnapshotSink
	if c.HTTPAddress != "" {
		snapshots = api.NewSnapshotSink(
			api.SnapshotWidth(c.Sink.SnapshotWidth),
			api.SnapshotQuality(c.Sink.SnapshotQuality),
		)
		sinks = append(sinks, snapshots)
	}

	opts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.EncoderEngine(vpx.NewEncoderEngine),
		pipeline.DecoderEngine(vpx.NewDecoderEngine),
		pipeline.KeyFrameRequestInterval(c.KeyFrameRequestInterval),
	}
	if c.TolerateGaps {
		opts = append(opts, pipeline.TolerateGaps())
	}
	if c.Record != "" {
		rec, err := createRecorder(c, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				logger.Error("failed to close recording", "error", err)
			}
		}()
		opts = append(opts, pipeline.WithTaps(rec))
	}

	p, err := pipeline.New(source, sinks, codecConfig(c, info), opts...)
	if err != nil {
		return err
	}
	var srv *server.Server
	if snapshots != nil {
		mux := httprouter.New()
		api.NewAPI(p, snapshots, api.APILogger(logger)).RegisterRoutes(mux)
		srv, err = server.NewServer(serverOptions(c, mux, logger)...)
		if err != nil {
			return err
		}
	}
	if err = p.Start(ctx); err != nil {
		return err
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return p.Drive(ctx, c.RenderInterval)
	})
	eg.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case <-p.Done():
		}
		if ctx.Err() != nil {
			return nil
		}
		if err := p.Drain(ctx); err != nil {
			return err
		}
		return errSourceExhausted
	})
	if srv != nil {
		eg.Go(func() error {
			return srv.ListenAndServe(ctx)
		})
	}

	err = eg.Wait()
	if errors.Is(err, errSourceExhausted) {
		err = nil
	}
	err = errors.Join(err, p.Stop())
	stats := p.Stats()
	logger.Info("done",
		"pulled", stats.Producer.Pulled,
		"chunks", stats.Producer.Chunks,
		"evaluations", stats.Consumer.Evaluations,
		"painted", stats.Consumer.Painted,
		"missing-key-frames", stats.Consumer.MissingKeyFrames,
		"desyncs", stats.Consumer.Desyncs,
	)
	if gs, ok := source.(*gstreamer.Source); ok {
		captured, dropped, restarts := gs.Stats()
		logger.Info("capture done", "captured", captured, "dropped", dropped, "restarts", restarts)
	}
	return err
}

func serverOptions(c config.Config, handler http.Handler, logger *slog.Logger) []server.Option {
	opts := []server.Option{
		server.Address(c.HTTPAddress),
		server.Handle(handler),
		server.Logger(logger),
		server.ShutdownTimeout(c.HTTPShutdownTimeout),
	}
	if c.HTTPCertFile != "" {
		opts = append(opts, server.CertificateFiles(c.HTTPCertFile, c.HTTPKeyFile))
	}
	if c.LogRequests {
		opts = append(opts, server.RequestLogger(logger.With("component", "http")))
	}
	return opts
}
