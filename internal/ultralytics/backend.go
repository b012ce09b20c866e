// Package ultralytics implements the exporter's model-loading capability on
// top of the Python ultralytics package.
package ultralytics

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"yolo-export/internal/exporter"
	"yolo-export/internal/logger"
	"yolo-export/internal/python"
)

// ModuleName is the Python module that provides YOLO.
const ModuleName = "ultralytics"

// tailLines is how much unstructured child output is kept for error text.
const tailLines = 20

// maxLineBytes caps one line of child output; the rest of the line is dropped.
const maxLineBytes = 1024 * 1024

// Config configures a Backend.
type Config struct {
	// Progress receives the child's own console output; nil discards it
	Progress io.Writer
	// Prepare runs before the capability probe, e.g. installing packages
	// into a managed environment
	Prepare func(ctx context.Context) error
}

// Backend is an exporter.Loader backed by a Python interpreter.
type Backend struct {
	py      python.Interpreter
	cfg     Config
	progMu  sync.Mutex
	progOut io.Writer
}

// New creates a Backend around py.
func New(py python.Interpreter, cfg Config) *Backend {
	out := cfg.Progress
	if out == nil {
		out = io.Discard
	}
	return &Backend{py: py, cfg: cfg, progOut: out}
}

// Load checks that ultralytics is importable and returns a handle for name.
// The weights themselves are fetched by ultralytics during Export.
func (b *Backend) Load(ctx context.Context, name string) (exporter.Model, error) {
	if b.cfg.Prepare != nil {
		if err := b.cfg.Prepare(ctx); err != nil {
			return nil, capabilityOr(err)
		}
	}

	ok, err := python.HasModule(ctx, b.py, ModuleName)
	if err != nil {
		return nil, capabilityOr(err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s cannot import %s", exporter.ErrCapabilityMissing, b.py.Path(), ModuleName)
	}

	logger.Debug("ultralytics available", logger.String("python", b.py.Path()), logger.String("model", name))
	return &model{backend: b, name: name}, nil
}

// capabilityOr marks a missing interpreter as a missing capability and
// passes other errors through.
func capabilityOr(err error) error {
	if errors.Is(err, python.ErrInterpreterNotFound) {
		return fmt.Errorf("%w: %w", exporter.ErrCapabilityMissing, err)
	}
	return err
}

type model struct {
	backend *Backend
	name    string
}

// event is one marker line from the helper script.
type event struct {
	Event   string `json:"event"`
	Weights string `json:"weights,omitempty"`
	Path    string `json:"path,omitempty"`
	Module  string `json:"module,omitempty"`
	Type    string `json:"type,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Export runs the helper script in opts.WorkDir.
func (m *model) Export(ctx context.Context, opts exporter.ExportOptions) (string, error) {
	scriptPath, err := writeScript()
	if err != nil {
		return "", err
	}
	defer os.Remove(scriptPath)

	simplify := "0"
	if opts.Simplify {
		simplify = "1"
	}

	cmd, err := m.backend.py.Command(ctx, opts.WorkDir,
		scriptPath, m.name+".pt", opts.Format, strconv.Itoa(opts.ImgSize), simplify)
	if err != nil {
		return "", capabilityOr(err)
	}
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1", "PYTHONIOENCODING=utf-8")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("stderr pipe: %w", err)
	}

	logger.Debug("starting export helper",
		logger.String("python", m.backend.py.Path()),
		logger.String("dir", cmd.Dir),
		logger.String("weights", m.name+".pt"))

	if err := cmd.Start(); err != nil {
		return "", capabilityOr(fmt.Errorf("starting python: %w", err))
	}

	var (
		wg     sync.WaitGroup
		events []event
		tail   = newTail(tailLines)
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		events = m.backend.consume(stdout, tail)
	}()
	go func() {
		defer wg.Done()
		m.backend.consume(stderr, tail)
	}()
	wg.Wait()
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return interpret(events, waitErr, tail.String(), opts.WorkDir)
}

// interpret turns the helper's events and exit status into a result.
func interpret(events []event, waitErr error, tail, workDir string) (string, error) {
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		switch ev.Event {
		case "missing":
			return "", fmt.Errorf("%w: %s", exporter.ErrCapabilityMissing, ev.Error)
		case "error":
			return "", errors.New(ev.Error)
		case "exported":
			if waitErr != nil {
				return "", fmt.Errorf("export helper exited abnormally: %w", waitErr)
			}
			path := ev.Path
			if path != "" && !filepath.IsAbs(path) {
				path = filepath.Join(workDir, path)
			}
			return path, nil
		}
	}

	if waitErr != nil {
		if tail != "" {
			return "", fmt.Errorf("export helper failed: %v: %s", waitErr, tail)
		}
		return "", fmt.Errorf("export helper failed: %w", waitErr)
	}
	return "", errors.New("export helper finished without reporting a result")
}

// consume reads lines from r, collects marker events and forwards the rest
// to the progress writer. It always reads r to the end so the child never
// blocks on a full pipe.
func (b *Backend) consume(r io.Reader, tail *tail) []event {
	var events []event
	reader := bufio.NewReaderSize(r, 64*1024)

	for {
		line, err := readLine(reader, maxLineBytes)
		if err == nil || line != "" {
			if ev, ok := parseEvent(line); ok {
				events = append(events, ev)
			} else if !strings.HasPrefix(line, markerPrefix) {
				tail.Add(line)
				logger.Debug("python", logger.String("line", line))
				b.progMu.Lock()
				fmt.Fprintln(b.progOut, line)
				b.progMu.Unlock()
			}
		}
		if err != nil {
			if err != io.EOF {
				logger.Warn("reading helper output", logger.Err(err))
				io.Copy(io.Discard, reader)
			}
			return events
		}
	}
}

// parseEvent decodes a marker line. Malformed markers are logged and dropped.
func parseEvent(line string) (event, bool) {
	if !strings.HasPrefix(line, markerPrefix) {
		return event{}, false
	}
	var ev event
	if err := json.Unmarshal([]byte(line[len(markerPrefix):]), &ev); err != nil {
		logger.Warn("malformed helper event", logger.String("line", line), logger.Err(err))
		return event{}, false
	}
	logger.Debug("helper event", logger.String("event", ev.Event))
	return ev, true
}

// readLine returns the next line without its terminator. Bytes past limit are
// read and discarded.
func readLine(r *bufio.Reader, limit int) (string, error) {
	var buf []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			return string(buf), err
		}
		if room := limit - len(buf); room > 0 {
			if len(chunk) > room {
				chunk = chunk[:room]
			}
			buf = append(buf, chunk...)
		}
		if !isPrefix {
			return string(buf), nil
		}
	}
}

func writeScript() (string, error) {
	f, err := os.CreateTemp("", "yolo-export-*.py")
	if err != nil {
		return "", fmt.Errorf("creating helper script: %w", err)
	}
	if _, err := f.WriteString(exportScript); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("writing helper script: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("writing helper script: %w", err)
	}
	return f.Name(), nil
}

// tail keeps the last n lines, safe for concurrent use.
type tail struct {
	mu    sync.Mutex
	n     int
	lines []string
}

func newTail(n int) *tail {
	return &tail{n: n}
}

func (t *tail) Add(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
	if len(t.lines) > t.n {
		t.lines = t.lines[len(t.lines)-t.n:]
	}
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.lines, "\n")
}
