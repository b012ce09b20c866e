// Package python locates and drives the Python interpreter that hosts the
// ultralytics exporter. Two flavours exist: the interpreter already on PATH
// (System) and an isolated uv-managed virtual environment (Env).
package python

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrInterpreterNotFound is returned when no usable Python executable exists.
var ErrInterpreterNotFound = errors.New("python interpreter not found")

// Interpreter is a Python executable that can run scripts.
type Interpreter interface {
	// Command builds a command running the interpreter with args in dir.
	Command(ctx context.Context, dir string, args ...string) (*exec.Cmd, error)
	// Path returns the interpreter location, resolving it if needed.
	Path() string
}

// System is the interpreter found on PATH (or at an absolute path).
type System struct {
	Executable string // e.g. "python3"
}

// NewSystem returns a System interpreter for name, defaulting to python3.
func NewSystem(name string) *System {
	if name == "" {
		name = "python3"
	}
	return &System{Executable: name}
}

// Path returns the resolved executable, or the configured name if it cannot
// be resolved.
func (s *System) Path() string {
	if p, err := exec.LookPath(s.Executable); err == nil {
		return p
	}
	return s.Executable
}

// Command implements Interpreter.
func (s *System) Command(ctx context.Context, dir string, args ...string) (*exec.Cmd, error) {
	path, err := exec.LookPath(s.Executable)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInterpreterNotFound, s.Executable)
	}
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = dir
	hideWindow(cmd)
	return cmd, nil
}

// ImportName maps a pip distribution name to the module it installs, for
// the distributions whose names differ.
func ImportName(pkg string) string {
	name := pkg
	for _, sep := range []string{"[", ">=", "<=", "==", "!=", "~=", ">", "<"} {
		if idx := strings.Index(name, sep); idx > 0 {
			name = name[:idx]
		}
	}
	name = strings.TrimSpace(name)

	switch strings.ToLower(name) {
	case "opencv-python", "opencv-python-headless":
		return "cv2"
	case "pillow":
		return "PIL"
	case "onnxruntime-gpu":
		return "onnxruntime"
	}
	return strings.ReplaceAll(name, "-", "_")
}

// HasModule reports whether the interpreter can import module. A missing
// interpreter yields ErrInterpreterNotFound.
func HasModule(ctx context.Context, py Interpreter, module string) (bool, error) {
	script := fmt.Sprintf("import importlib.util, sys; sys.exit(0 if importlib.util.find_spec(%q) else 3)", module)
	cmd, err := py.Command(ctx, "", "-c", script)
	if err != nil {
		return false, err
	}
	out, err := cmd.CombinedOutput()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 3 {
		return false, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return false, fmt.Errorf("probing module %s: %s: %w", module, strings.TrimSpace(string(out)), err)
}
