package inference

import (
	"fmt"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"
)

func init() {
	Register(".onnx", openONNX)
}

// onnxSession keeps the session and its bound tensors; tensors are written
// and read in place around Run.
type onnxSession struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	outputs []*ort.Tensor[float32]
	ownsEnv bool
}

func openONNX(path string, opts Options) (Engine, error) {
	if len(opts.OutputNames) != 2 {
		return nil, fmt.Errorf("onnx model needs 2 output names (scores, boxes), got %d", len(opts.OutputNames))
	}

	ownsEnv := false
	if !ort.IsInitialized() {
		lib, err := ResolveLibrary(opts.Library)
		if err != nil {
			return nil, err
		}
		ort.SetSharedLibraryPath(lib)
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("error initializing onnxruntime environment from %s: %w", lib, err)
		}
		ownsEnv = true
		opts.Logger.Debugw("onnxruntime environment initialized", "library", lib)
	}

	s, err := newONNXSession(path, opts)
	if err != nil {
		if ownsEnv {
			err = multierr.Append(err, ort.DestroyEnvironment())
		}
		return nil, err
	}
	s.ownsEnv = ownsEnv
	return s, nil
}

func newONNXSession(path string, opts Options) (*onnxSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	threads := opts.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	if err := options.SetIntraOpNumThreads(threads); err != nil {
		return nil, fmt.Errorf("error setting intra-op threads: %w", err)
	}
	if err := options.SetInterOpNumThreads(1); err != nil {
		return nil, fmt.Errorf("error setting inter-op threads: %w", err)
	}

	s := &onnxSession{}
	inputShape := ort.NewShape(1, int64(opts.Height), int64(opts.Width), int64(opts.Channels))
	s.input, err = ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	outputShapes := []ort.Shape{
		ort.NewShape(1, int64(opts.Anchors), 1),
		ort.NewShape(1, int64(opts.Anchors), int64(opts.BoxStride)),
	}
	for _, shape := range outputShapes {
		t, err := ort.NewEmptyTensor[float32](shape)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("error creating output tensor %v: %w", shape, err)
		}
		s.outputs = append(s.outputs, t)
	}

	outputs := make([]ort.ArbitraryTensor, len(s.outputs))
	for i, t := range s.outputs {
		outputs[i] = t
	}
	s.session, err = ort.NewAdvancedSession(
		path,
		[]string{opts.InputName},
		opts.OutputNames,
		[]ort.ArbitraryTensor{s.input},
		outputs,
		options,
	)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("error creating session: %w", err)
	}
	return s, nil
}

func (s *onnxSession) SetInput(index int, data []float32) error {
	if index != 0 {
		return fmt.Errorf("input tensor %d out of range", index)
	}
	dst := s.input.GetData()
	if err := checkLen("input", index, len(data), len(dst)); err != nil {
		return err
	}
	copy(dst, data)
	return nil
}

func (s *onnxSession) Run() error {
	if err := s.session.Run(); err != nil {
		return fmt.Errorf("model inference: %w", err)
	}
	return nil
}

func (s *onnxSession) ReadOutput(index int, dst []float32) error {
	if index < 0 || index >= len(s.outputs) {
		return fmt.Errorf("output tensor %d out of range", index)
	}
	src := s.outputs[index].GetData()
	if err := checkLen("output", index, len(dst), len(src)); err != nil {
		return err
	}
	copy(dst, src)
	return nil
}

func (s *onnxSession) Close() error {
	var err error
	if s.session != nil {
		err = multierr.Append(err, s.session.Destroy())
		s.session = nil
	}
	if s.input != nil {
		err = multierr.Append(err, s.input.Destroy())
		s.input = nil
	}
	for _, t := range s.outputs {
		err = multierr.Append(err, t.Destroy())
	}
	s.outputs = nil
	if s.ownsEnv {
		err = multierr.Append(err, ort.DestroyEnvironment())
		s.ownsEnv = false
	}
	return err
}
