// Package inference wraps the neural network runtimes behind a small
// tensor-in/tensor-out contract so the detection math never depends on one.
package inference

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Engine runs one loaded model. Input and output tensors are addressed by
// index and exchanged as flat float32 buffers owned by the caller.
type Engine interface {
	SetInput(index int, data []float32) error
	Run() error
	ReadOutput(index int, dst []float32) error
	Close() error
}

// Options describes the tensor contract of the model being opened.
type Options struct {
	Width     int
	Height    int
	Channels  int
	Anchors   int
	BoxStride int
	Threads   int

	InputName   string
	OutputNames []string

	// Library is the path of the ONNX Runtime shared library.
	Library string

	Logger *zap.SugaredLogger
}

// InputLen is the number of floats in the input tensor.
func (o Options) InputLen() int {
	return o.Width * o.Height * o.Channels
}

// OutputLens returns the float count of the score and box tensors.
func (o Options) OutputLens() []int {
	return []int{o.Anchors, o.Anchors * o.BoxStride}
}

// Opener loads a model file into a ready-to-run Engine.
type Opener func(path string, opts Options) (Engine, error)

var (
	registryMu sync.RWMutex
	openers    = map[string]Opener{}
)

// Register makes an engine available for model files with the given extension.
func Register(ext string, open Opener) {
	registryMu.Lock()
	defer registryMu.Unlock()
	openers[strings.ToLower(ext)] = open
}

// Open picks an engine from the model file extension and loads the model.
func Open(path string, opts Options) (Engine, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("model file not found: %s", path)
		}
		return nil, fmt.Errorf("stat model file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("model path is a directory: %s", path)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}

	ext := strings.ToLower(filepath.Ext(path))
	registryMu.RLock()
	open, ok := openers[ext]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no inference engine for %q models (supported: %s)", ext, strings.Join(Supported(), ", "))
	}
	return open(path, opts)
}

// Supported lists the registered model extensions.
func Supported() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	exts := make([]string, 0, len(openers))
	for ext := range openers {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

func checkLen(what string, index, got, want int) error {
	if got != want {
		return fmt.Errorf("%s tensor %d: got %d values, want %d", what, index, got, want)
	}
	return nil
}
