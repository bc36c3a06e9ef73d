package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Tutortoise/face-overlay/config"
	"github.com/Tutortoise/face-overlay/detections"
	"github.com/Tutortoise/face-overlay/inference"
	"github.com/Tutortoise/face-overlay/logging"
	"github.com/Tutortoise/face-overlay/pipeline"
	"github.com/Tutortoise/face-overlay/snapshot"
	"github.com/Tutortoise/face-overlay/x11"
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "faceoverlay <model-path>",
	Short: "Outline faces found on the X11 screen in a transparent overlay",
	Long: `faceoverlay captures the screen, runs a BlazeFace-style detector on every
frame and draws the detected faces as rectangles in a click-through window.
It runs until interrupted.

The model path selects the engine by extension. The default build runs .onnx
models through ONNX Runtime; a BlazeFace .tflite model needs either an ONNX
export of it or a binary built with -tags tflite.`,
	Version:       Version,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(args[0], cmd.Flags())
		if err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	config.RegisterFlags(rootCmd.Flags())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// run owns every resource of the process. Each one is closed on the way out,
// whether the loop stopped cleanly or failed.
func run(ctx context.Context, cfg *config.Config) (err error) {
	logger, err := logging.New("faceoverlay", logging.Options{
		Level: cfg.LogLevel,
		Debug: cfg.Debug,
		File:  cfg.LogFile,
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	engine, err := inference.Open(cfg.ModelPath, inference.Options{
		Width:       cfg.Model.Width,
		Height:      cfg.Model.Height,
		Channels:    detections.InputChannels,
		Anchors:     cfg.Model.Anchors,
		BoxStride:   cfg.Model.BoxStride,
		Threads:     cfg.Model.Threads,
		InputName:   cfg.Model.InputName,
		OutputNames: cfg.Model.OutputNames,
		Library:     cfg.Library,
		Logger:      logger.Named("inference"),
	})
	if err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}
	defer multierr.AppendInvoke(&err, multierr.Close(engine))
	logger.Infow("model loaded", "path", cfg.ModelPath, "threshold", cfg.Model.Threshold)

	display, err := x11.Open(cfg.Display, logger.Named("x11"))
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Close(display))

	capturer, err := x11.NewCapturer(display)
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Close(capturer))

	overlay, err := x11.NewOverlay(display, x11.OverlayOptions{
		Color:     cfg.Color,
		LineWidth: cfg.LineWidth,
	})
	if err != nil {
		return err
	}
	defer multierr.AppendInvoke(&err, multierr.Close(overlay))

	stats := pipeline.NewStats(pipeline.DefaultStatsWindow)
	opts := []pipeline.Option{
		pipeline.WithLogger(logger.Named("loop")),
		pipeline.WithStats(stats),
	}

	if cfg.SnapshotDir != "" {
		writer, err := snapshot.New(cfg.SnapshotDir, cfg.SnapshotWidth, logger.Named("snapshot"))
		if err != nil {
			return err
		}
		opts = append(opts, pipeline.WithSnapshotter(writer))
	}

	if cfg.MonitorAddr != "" {
		shutdown, err := serveMonitor(cfg.MonitorAddr, stats, logger.Named("monitor"))
		if err != nil {
			return err
		}
		defer stopMonitor(shutdown, logger)
	}

	loop, err := pipeline.NewLoop(pipeline.Config{
		Width:         cfg.Model.Width,
		Height:        cfg.Model.Height,
		Anchors:       cfg.Model.Anchors,
		BoxStride:     cfg.Model.BoxStride,
		Threshold:     cfg.Model.Threshold,
		Interval:      cfg.Interval,
		Retries:       cfg.Retries,
		RetryWait:     cfg.RetryWait,
		SnapshotEvery: cfg.SnapshotEvery,
	}, capturer, engine, overlay, opts...)
	if err != nil {
		return err
	}

	if err := loop.Run(ctx); err != nil {
		logger.Errorw("detection loop failed", "error", err)
		return err
	}
	return nil
}

func stopMonitor(shutdown func(context.Context) error, logger *zap.SugaredLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Warnw("monitor shutdown", "error", err)
	}
}
