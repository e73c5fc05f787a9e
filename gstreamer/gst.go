// Package gstreamer captures raw frames from GStreamer pipelines.
package gstreamer

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-gst/go-glib/glib"
	"github.com/go-gst/go-gst/gst"
)

var initOnce sync.Once

func initGStreamer() {
	initOnce.Do(func() {
		gst.Init(nil)
	})
}

// runPipeline sets pipeline to playing and runs a main loop which watches
// the bus until EOS, an error or quit is closed. It returns nil on EOS and
// on quit. The bus watch is removed when the loop ends on a bus message, so
// a failed pipeline can be run again.
func runPipeline(pipeline *gst.Pipeline, logger *slog.Logger, quit <-chan struct{}) error {
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		pipeline.BlockSetState(gst.StateNull)
		return fmt.Errorf("failed to start pipeline: %w", err)
	}

	mainloop := glib.NewMainLoop(glib.MainContextDefault(), false)

	var busErr error
	pipeline.GetPipelineBus().AddWatch(func(msg *gst.Message) bool {
		switch msg.Type() {
		case gst.MessageEOS:
			pipeline.BlockSetState(gst.StateNull)
			mainloop.Quit()
			return false
		case gst.MessageError:
			err := msg.ParseError()
			logger.Error("gstreamer pipeline error", "error", err.Error(), "debug", err.DebugString())
			busErr = wrapBusError(err)
			pipeline.BlockSetState(gst.StateNull)
			mainloop.Quit()
			return false
		}
		return true
	})

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-quit:
			pipeline.BlockSetState(gst.StateNull)
			mainloop.Quit()
		case <-stopped:
		}
	}()

	mainloop.Run()
	return busErr
}

func wrapBusError(err error) error {
	return fmt.Errorf("gstreamer: %w", err)
}

func SetProperties(e *gst.Element, pp map[string]any) error {
	for k, v := range pp {
		if err := e.SetProperty(k, v); err != nil {
			return err
		}
	}
	return nil
}
