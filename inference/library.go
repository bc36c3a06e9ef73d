package inference

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// defaultLibraryName returns the ONNX Runtime shared library name for the
// current OS, left for the dynamic loader to find.
func defaultLibraryName() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}

// ResolveLibrary returns the shared library to load. A bare file name is
// handed to the loader untouched; a path must exist.
func ResolveLibrary(path string) (string, error) {
	if path == "" {
		return defaultLibraryName(), nil
	}
	if !strings.ContainsRune(path, filepath.Separator) {
		return path, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("onnxruntime library not found: %s", path)
		}
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("onnxruntime library path is a directory: %s", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve onnxruntime library path: %w", err)
	}
	return abs, nil
}
