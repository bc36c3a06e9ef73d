//go:build tflite

package inference

import (
	"errors"
	"fmt"
	"runtime"

	tflite "github.com/mattn/go-tflite"
)

func init() {
	Register(".tflite", openTFLite)
}

type tfliteInterpreter struct {
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
}

func openTFLite(path string, opts Options) (Engine, error) {
	model := tflite.NewModelFromFile(path)
	if model == nil {
		return nil, fmt.Errorf("failed to load tflite model %s", path)
	}
	t := &tfliteInterpreter{model: model}

	t.options = tflite.NewInterpreterOptions()
	if t.options == nil {
		t.Close()
		return nil, errors.New("interpreter options failed to be created")
	}
	threads := opts.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	t.options.SetNumThread(threads)
	logger := opts.Logger
	t.options.SetErrorReporter(func(msg string, _ interface{}) {
		logger.Warnw("tflite", "msg", msg)
	}, nil)

	t.interpreter = tflite.NewInterpreter(model, t.options)
	if t.interpreter == nil {
		t.Close()
		return nil, errors.New("failed to create interpreter")
	}
	if status := t.interpreter.AllocateTensors(); status != tflite.OK {
		t.Close()
		return nil, fmt.Errorf("failed to allocate tensors: %v", status)
	}
	if n := t.interpreter.GetOutputTensorCount(); n < 2 {
		t.Close()
		return nil, fmt.Errorf("model has %d output tensors, want at least 2", n)
	}
	return t, nil
}

func (t *tfliteInterpreter) SetInput(index int, data []float32) error {
	if index < 0 || index >= t.interpreter.GetInputTensorCount() {
		return fmt.Errorf("input tensor %d out of range", index)
	}
	input := t.interpreter.GetInputTensor(index)
	if err := checkLen("input", index, len(data), int(input.ByteSize())/4); err != nil {
		return err
	}
	if status := input.CopyFromBuffer(data); status != tflite.OK {
		return fmt.Errorf("copying to input tensor %d failed: %v", index, status)
	}
	return nil
}

func (t *tfliteInterpreter) Run() error {
	if status := t.interpreter.Invoke(); status != tflite.OK {
		return fmt.Errorf("invoke failed: %v", status)
	}
	return nil
}

func (t *tfliteInterpreter) ReadOutput(index int, dst []float32) error {
	if index < 0 || index >= t.interpreter.GetOutputTensorCount() {
		return fmt.Errorf("output tensor %d out of range", index)
	}
	output := t.interpreter.GetOutputTensor(index)
	if err := checkLen("output", index, len(dst), int(output.ByteSize())/4); err != nil {
		return err
	}
	if status := output.CopyToBuffer(dst); status != tflite.OK {
		return fmt.Errorf("copying from output tensor %d failed: %v", index, status)
	}
	return nil
}

func (t *tfliteInterpreter) Close() error {
	if t.interpreter != nil {
		t.interpreter.Delete()
		t.interpreter = nil
	}
	if t.options != nil {
		t.options.Delete()
		t.options = nil
	}
	if t.model != nil {
		t.model.Delete()
		t.model = nil
	}
	return nil
}
