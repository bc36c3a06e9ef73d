// Package config loads the runtime settings from flags, FACEOVERLAY_*
// environment variables and an optional config file, in that order.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Tutortoise/face-overlay/detections"
)

const envPrefix = "FACEOVERLAY"

type Config struct {
	ModelPath string

	Model     ModelConfig
	Library   string
	Interval  time.Duration
	Retries   int
	RetryWait time.Duration

	Display   string
	Color     uint32
	LineWidth int

	LogLevel string
	LogFile  string
	Debug    bool

	SnapshotDir   string
	SnapshotEvery int
	SnapshotWidth int

	MonitorAddr string
}

type ModelConfig struct {
	Width       int
	Height      int
	Anchors     int
	BoxStride   int
	Threshold   float32
	Threads     int
	InputName   string
	OutputNames []string
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("model.width", detections.InputWidth)
	v.SetDefault("model.height", detections.InputHeight)
	v.SetDefault("model.anchors", detections.NumAnchors)
	v.SetDefault("model.box-stride", detections.BoxStride)
	v.SetDefault("model.threshold", detections.ConfThreshold)
	v.SetDefault("model.threads", 0)
	v.SetDefault("model.input-name", "input")
	v.SetDefault("model.output-names", []string{"classificators", "regressors"})
	v.SetDefault("onnx.library", "")
	v.SetDefault("loop.interval", 50*time.Millisecond)
	v.SetDefault("inference.retries", 0)
	v.SetDefault("inference.retry-delay", detections.RetryDelayMs*time.Millisecond)
	v.SetDefault("display", "")
	v.SetDefault("overlay.color", uint32(0xFFFF0000))
	v.SetDefault("overlay.line-width", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("debug", false)
	v.SetDefault("snapshot.dir", "")
	v.SetDefault("snapshot.every", 0)
	v.SetDefault("snapshot.width", 960)
	v.SetDefault("monitor.addr", "")
}

// RegisterFlags adds the command line flags. Flag names match the viper keys
// with dots replaced by dashes where that reads better.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Optional YAML config file")
	fs.Float32("threshold", detections.ConfThreshold, "Minimum anchor score for a face (strictly greater)")
	fs.Int("threads", 0, "Inference threads (0 = number of CPUs)")
	fs.String("onnx-library", "", "Path to the onnxruntime shared library (env ONNXRUNTIME_LIB)")
	fs.Duration("interval", 50*time.Millisecond, "Fixed delay between cycles")
	fs.Int("retries", 0, "Retry a failed inference this many times before giving up")
	fs.String("display", "", "X display to capture and draw on (default $DISPLAY)")
	fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.String("log-file", "", "Also write logs to this file, rotated")
	fs.BoolP("debug", "d", false, "Log per-cycle timings")
	fs.String("snapshot-dir", "", "Directory for debug snapshots with boxes drawn")
	fs.Int("snapshot-every", 0, "Write a debug snapshot every N cycles (0 = off)")
	fs.String("monitor-addr", "", "Serve /metrics on this address, e.g. 127.0.0.1:8080 (empty = off)")
}

var flagKeys = map[string]string{
	"threshold":      "model.threshold",
	"threads":        "model.threads",
	"onnx-library":   "onnx.library",
	"interval":       "loop.interval",
	"retries":        "inference.retries",
	"display":        "display",
	"log-level":      "log.level",
	"log-file":       "log.file",
	"debug":          "debug",
	"snapshot-dir":   "snapshot.dir",
	"snapshot-every": "snapshot.every",
	"monitor-addr":   "monitor.addr",
}

// Load builds a Config for the given model path from fs, the environment and
// the config file named by --config.
func Load(modelPath string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("onnx.library", envPrefix+"_ONNX_LIBRARY", "ONNXRUNTIME_LIB"); err != nil {
		return nil, err
	}

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
		if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
			v.SetConfigFile(f.Value.String())
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("could not read config file: %w", err)
			}
		}
	}

	cfg := FromViper(v)
	cfg.ModelPath = modelPath
	// DEBUG=true also turns on debug mode.
	if os.Getenv("DEBUG") == "true" {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func FromViper(v *viper.Viper) *Config {
	return &Config{
		Model: ModelConfig{
			Width:       v.GetInt("model.width"),
			Height:      v.GetInt("model.height"),
			Anchors:     v.GetInt("model.anchors"),
			BoxStride:   v.GetInt("model.box-stride"),
			Threshold:   float32(v.GetFloat64("model.threshold")),
			Threads:     v.GetInt("model.threads"),
			InputName:   v.GetString("model.input-name"),
			OutputNames: v.GetStringSlice("model.output-names"),
		},
		Library:       v.GetString("onnx.library"),
		Interval:      v.GetDuration("loop.interval"),
		Retries:       v.GetInt("inference.retries"),
		RetryWait:     v.GetDuration("inference.retry-delay"),
		Display:       v.GetString("display"),
		Color:         v.GetUint32("overlay.color"),
		LineWidth:     v.GetInt("overlay.line-width"),
		LogLevel:      v.GetString("log.level"),
		LogFile:       v.GetString("log.file"),
		Debug:         v.GetBool("debug"),
		SnapshotDir:   v.GetString("snapshot.dir"),
		SnapshotEvery: v.GetInt("snapshot.every"),
		SnapshotWidth: v.GetInt("snapshot.width"),
		MonitorAddr:   v.GetString("monitor.addr"),
	}
}

func (c *Config) Validate() error {
	m := c.Model
	if m.Width < 1 || m.Height < 1 {
		return fmt.Errorf("invalid model input size %dx%d", m.Width, m.Height)
	}
	if m.Anchors < 1 {
		return fmt.Errorf("invalid anchor count %d", m.Anchors)
	}
	if m.BoxStride < 4 {
		return fmt.Errorf("box stride must be at least 4, got %d", m.BoxStride)
	}
	if m.Threshold < 0 || m.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0.0 and 1.0, got %f", m.Threshold)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", c.Interval)
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must be >= 0, got %d", c.Retries)
	}
	if c.LineWidth < 1 {
		return fmt.Errorf("line width must be >= 1, got %d", c.LineWidth)
	}
	if c.SnapshotEvery < 0 {
		return fmt.Errorf("snapshot-every must be >= 0, got %d", c.SnapshotEvery)
	}
	if c.SnapshotEvery > 0 && c.SnapshotDir == "" {
		return fmt.Errorf("snapshot-every needs snapshot-dir")
	}
	if c.SnapshotWidth < 1 {
		return fmt.Errorf("snapshot width must be >= 1, got %d", c.SnapshotWidth)
	}
	return nil
}
