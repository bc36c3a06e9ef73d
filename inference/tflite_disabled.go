//go:build !tflite

package inference

import "errors"

func init() {
	Register(".tflite", func(string, Options) (Engine, error) {
		return nil, errors.New("tflite models need a binary built with -tags tflite")
	})
}
