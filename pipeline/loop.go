// Package pipeline runs the capture, infer and render cycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/Tutortoise/face-overlay/detections"
	"github.com/Tutortoise/face-overlay/inference"
	"github.com/Tutortoise/face-overlay/models"
)

// FrameSource blocks until a whole frame is available. The returned pixels
// stay valid until the next call.
type FrameSource interface {
	Capture() (models.Frame, error)
}

// Renderer replaces everything it shows with the given pixel-space boxes.
type Renderer interface {
	Size() (width, height int)
	Draw(boxes []models.BoundingBox) error
}

// Snapshotter persists a frame and its normalized boxes for debugging.
type Snapshotter interface {
	Save(cycle int64, frame models.Frame, boxes []models.BoundingBox) error
}

type Config struct {
	Width     int
	Height    int
	Anchors   int
	BoxStride int
	Threshold float32

	// Interval is slept after every cycle; the cadence does not adapt to
	// how long capture and inference took.
	Interval time.Duration

	// Retries > 0 re-runs a failed inference step, waiting attempt*RetryWait
	// between attempts. Zero makes the first failure fatal.
	Retries   int
	RetryWait time.Duration

	SnapshotEvery int
}

type Option func(*Loop)

func WithClock(c clock.Clock) Option {
	return func(l *Loop) { l.clock = c }
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(l *Loop) { l.logger = logger }
}

func WithStats(s *Stats) Option {
	return func(l *Loop) { l.stats = s }
}

func WithSnapshotter(s Snapshotter) Option {
	return func(l *Loop) { l.snapshots = s }
}

type Loop struct {
	cfg       Config
	source    FrameSource
	engine    inference.Engine
	renderer  Renderer
	decoder   *detections.Decoder
	clock     clock.Clock
	logger    *zap.SugaredLogger
	stats     *Stats
	snapshots Snapshotter

	input      []float32
	scores     []float32
	boxes      []float32
	normalized []models.BoundingBox
	mapped     []models.BoundingBox
	cycle      int64
}

func NewLoop(cfg Config, source FrameSource, engine inference.Engine, renderer Renderer, opts ...Option) (*Loop, error) {
	if source == nil || engine == nil || renderer == nil {
		return nil, errors.New("loop needs a frame source, an engine and a renderer")
	}
	if cfg.Width < 1 || cfg.Height < 1 || cfg.Anchors < 1 {
		return nil, fmt.Errorf("invalid tensor geometry %dx%d with %d anchors", cfg.Width, cfg.Height, cfg.Anchors)
	}
	if cfg.BoxStride == 0 {
		cfg.BoxStride = detections.BoxStride
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %v", cfg.Interval)
	}

	decoder := detections.NewDecoder(cfg.Threshold)
	decoder.BoxStride = cfg.BoxStride

	l := &Loop{
		cfg:        cfg,
		source:     source,
		engine:     engine,
		renderer:   renderer,
		decoder:    decoder,
		input:      make([]float32, cfg.Width*cfg.Height*detections.InputChannels),
		scores:     make([]float32, cfg.Anchors),
		boxes:      make([]float32, cfg.Anchors*cfg.BoxStride),
		normalized: make([]models.BoundingBox, 0, cfg.Anchors),
		mapped:     make([]models.BoundingBox, 0, cfg.Anchors),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.clock == nil {
		l.clock = clock.New()
	}
	if l.logger == nil {
		l.logger = zap.NewNop().Sugar()
	}
	return l, nil
}

// Run cycles until ctx is cancelled or a step fails. Cancellation is checked
// before each capture and again after each render, so a stop request is
// honoured within one cycle. A cancelled context is a clean stop and returns nil.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Infow("detection loop started",
		"model_input", fmt.Sprintf("%dx%d", l.cfg.Width, l.cfg.Height),
		"threshold", l.cfg.Threshold,
		"interval", l.cfg.Interval)

	for {
		if ctx.Err() != nil {
			return l.stopped()
		}
		if err := l.Cycle(ctx); err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return l.stopped()
			}
			if l.stats != nil {
				l.stats.RecordFailure()
			}
			return err
		}
		if ctx.Err() != nil {
			return l.stopped()
		}
		if !l.sleep(ctx, l.cfg.Interval) {
			return l.stopped()
		}
	}
}

func (l *Loop) stopped() error {
	l.logger.Infow("detection loop stopped", "cycles", l.cycle)
	return nil
}

// Cycle runs capture, preprocess, inference, postprocess, mapping and render once.
func (l *Loop) Cycle(ctx context.Context) error {
	l.cycle++
	t := models.ProcessingTimings{Cycle: l.cycle}
	start := l.clock.Now()

	stepStart := start
	frame, err := l.source.Capture()
	t.Capture = l.clock.Since(stepStart)
	if err != nil {
		return l.fail(StageCapture, err)
	}

	stepStart = l.clock.Now()
	l.input, err = detections.Preprocess(frame, l.cfg.Width, l.cfg.Height, l.input)
	t.Preprocess = l.clock.Since(stepStart)
	if err != nil {
		return l.fail(StagePreprocess, err)
	}

	stepStart = l.clock.Now()
	err = l.inferWithRetry(ctx)
	t.Inference = l.clock.Since(stepStart)
	if err != nil {
		return l.fail(StageInference, err)
	}

	stepStart = l.clock.Now()
	l.normalized, err = l.decoder.Decode(l.scores, l.boxes, l.normalized)
	t.Postprocess = l.clock.Since(stepStart)
	if err != nil {
		return l.fail(StagePostprocess, err)
	}

	stepStart = l.clock.Now()
	dstW, dstH := l.renderer.Size()
	l.mapped = detections.MapAll(l.normalized, dstW, dstH, l.mapped)
	t.Mapping = l.clock.Since(stepStart)

	stepStart = l.clock.Now()
	err = l.renderer.Draw(l.mapped)
	t.Render = l.clock.Since(stepStart)
	if err != nil {
		return l.fail(StageRender, err)
	}
	t.Total = l.clock.Since(start)

	if l.stats != nil {
		l.stats.Record(t, len(l.mapped))
	}
	l.logTimings(&t)
	l.snapshot(frame)
	return nil
}

func (l *Loop) inferWithRetry(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= l.cfg.Retries+1; attempt++ {
		lastErr = l.infer()
		if lastErr == nil {
			return nil
		}
		if attempt > l.cfg.Retries {
			break
		}
		l.logger.Warnw("inference failed, retrying", "cycle", l.cycle, "attempt", attempt, "error", lastErr)
		if !l.sleep(ctx, time.Duration(attempt)*l.cfg.RetryWait) {
			return ctx.Err()
		}
	}
	return lastErr
}

func (l *Loop) infer() error {
	if err := l.engine.SetInput(0, l.input); err != nil {
		return fmt.Errorf("write input tensor: %w", err)
	}
	if err := l.engine.Run(); err != nil {
		return err
	}
	if err := l.engine.ReadOutput(0, l.scores); err != nil {
		return fmt.Errorf("read scores: %w", err)
	}
	if err := l.engine.ReadOutput(1, l.boxes); err != nil {
		return fmt.Errorf("read boxes: %w", err)
	}
	return nil
}

// sleep waits d on the loop clock and reports false if ctx ended first.
func (l *Loop) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-l.clock.After(d):
		return true
	}
}

func (l *Loop) fail(stage string, err error) error {
	return &ProcessingError{Stage: stage, Cycle: l.cycle, Cause: err}
}

func (l *Loop) logTimings(t *models.ProcessingTimings) {
	l.logger.Debugw("cycle",
		"cycle", t.Cycle,
		"boxes", len(l.mapped),
		"capture", t.Capture,
		"preprocess", t.Preprocess,
		"inference", t.Inference,
		"postprocess", t.Postprocess,
		"mapping", t.Mapping,
		"render", t.Render,
		"total", t.Total)
}

func (l *Loop) snapshot(frame models.Frame) {
	if l.snapshots == nil || l.cfg.SnapshotEvery <= 0 || l.cycle%int64(l.cfg.SnapshotEvery) != 0 {
		return
	}
	if err := l.snapshots.Save(l.cycle, frame, l.normalized); err != nil {
		l.logger.Warnw("debug snapshot failed", "cycle", l.cycle, "error", err)
	}
}
