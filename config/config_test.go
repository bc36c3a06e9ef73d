package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"go.viam.com/test"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("faceoverlay", pflag.ContinueOnError)
	RegisterFlags(fs)
	test.That(t, fs.Parse(args), test.ShouldBeNil)
	return fs
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("face.onnx", newFlags(t))
	test.That(t, err, test.ShouldBeNil)

	test.That(t, cfg.ModelPath, test.ShouldEqual, "face.onnx")
	test.That(t, cfg.Model.Width, test.ShouldEqual, 128)
	test.That(t, cfg.Model.Height, test.ShouldEqual, 128)
	test.That(t, cfg.Model.Anchors, test.ShouldEqual, 896)
	test.That(t, cfg.Model.BoxStride, test.ShouldEqual, 16)
	test.That(t, cfg.Model.Threshold, test.ShouldEqual, float32(0.75))
	test.That(t, cfg.Model.OutputNames, test.ShouldResemble, []string{"classificators", "regressors"})
	test.That(t, cfg.Interval, test.ShouldEqual, 50*time.Millisecond)
	test.That(t, cfg.Retries, test.ShouldEqual, 0)
	test.That(t, cfg.RetryWait, test.ShouldEqual, 100*time.Millisecond)
	test.That(t, cfg.Color, test.ShouldEqual, uint32(0xFFFF0000))
	test.That(t, cfg.LineWidth, test.ShouldEqual, 2)
	test.That(t, cfg.MonitorAddr, test.ShouldEqual, "")
}

func TestLoadFlagsOverride(t *testing.T) {
	cfg, err := Load("face.onnx", newFlags(t,
		"--threshold", "0.5",
		"--interval", "200ms",
		"--retries", "2",
		"--snapshot-dir", "/tmp/snaps",
		"--snapshot-every", "10",
		"-d",
	))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Model.Threshold, test.ShouldEqual, float32(0.5))
	test.That(t, cfg.Interval, test.ShouldEqual, 200*time.Millisecond)
	test.That(t, cfg.Retries, test.ShouldEqual, 2)
	test.That(t, cfg.SnapshotEvery, test.ShouldEqual, 10)
	test.That(t, cfg.Debug, test.ShouldBeTrue)
}

func TestLoadEnvironment(t *testing.T) {
	t.Setenv("FACEOVERLAY_LOOP_INTERVAL", "1s")
	t.Setenv("ONNXRUNTIME_LIB", "/opt/onnxruntime/lib/libonnxruntime.so")
	t.Setenv("DEBUG", "true")

	cfg, err := Load("face.onnx", newFlags(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Interval, test.ShouldEqual, time.Second)
	test.That(t, cfg.Library, test.ShouldEqual, "/opt/onnxruntime/lib/libonnxruntime.so")
	test.That(t, cfg.Debug, test.ShouldBeTrue)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "faceoverlay.yaml")
	body := []byte(`
model:
  width: 256
  height: 256
  input-name: images
  output-names: [scores, boxes]
overlay:
  line-width: 4
`)
	test.That(t, os.WriteFile(path, body, 0o644), test.ShouldBeNil)

	cfg, err := Load("face.onnx", newFlags(t, "--config", path, "--threshold", "0.9"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Model.Width, test.ShouldEqual, 256)
	test.That(t, cfg.Model.InputName, test.ShouldEqual, "images")
	test.That(t, cfg.Model.OutputNames, test.ShouldResemble, []string{"scores", "boxes"})
	test.That(t, cfg.LineWidth, test.ShouldEqual, 4)
	test.That(t, cfg.Model.Threshold, test.ShouldAlmostEqual, 0.9, 1e-6)
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := Load("face.onnx", newFlags(t, "--config", filepath.Join(t.TempDir(), "nope.yaml")))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "could not read config file")
}

func TestValidate(t *testing.T) {
	base, err := Load("face.onnx", nil)
	test.That(t, err, test.ShouldBeNil)

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"zero width", func(c *Config) { c.Model.Width = 0 }, "invalid model input size"},
		{"no anchors", func(c *Config) { c.Model.Anchors = 0 }, "invalid anchor count"},
		{"short stride", func(c *Config) { c.Model.BoxStride = 3 }, "box stride"},
		{"threshold above one", func(c *Config) { c.Model.Threshold = 1.5 }, "threshold"},
		{"zero interval", func(c *Config) { c.Interval = 0 }, "interval"},
		{"negative retries", func(c *Config) { c.Retries = -1 }, "retries"},
		{"snapshots without dir", func(c *Config) { c.SnapshotEvery = 5 }, "snapshot-dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			tt.mutate(&c)
			err := c.Validate()
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tt.want)
		})
	}
}
