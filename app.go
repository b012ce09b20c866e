package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"yolo-export/internal/config"
	"yolo-export/internal/downloader"
	"yolo-export/internal/exporter"
	"yolo-export/internal/history"
	"yolo-export/internal/logger"
	"yolo-export/internal/onnxcheck"
	"yolo-export/internal/python"
	"yolo-export/internal/report"
	"yolo-export/internal/types"
	"yolo-export/internal/ultralytics"
)

// App wires configuration, the Python backend, the optional ONNX verifier
// and the run history into one export run.
type App struct {
	config   *config.ConfigManager
	stdout   io.Writer
	stderr   io.Writer
	reporter *report.Reporter

	env       *python.Env // managed mode only
	py        python.Interpreter
	loader    exporter.Loader
	inspector *onnxcheck.Inspector
	history   *history.Manager
}

// NewAppWithConfig loads the configuration at configPath (empty means the
// default file, which may be absent).
func NewAppWithConfig(configPath string, stdout, stderr io.Writer) (*App, error) {
	mgr := config.NewConfigManager(configPath)
	if err := mgr.Load(); err != nil {
		return nil, err
	}
	return &App{config: mgr, stdout: stdout, stderr: stderr}, nil
}

// Config returns the effective configuration. Callers may modify it before
// startup.
func (a *App) Config() *config.Config {
	return a.config.GetConfig()
}

// startup validates the final configuration and builds every collaborator.
func (a *App) startup() error {
	cfg := a.Config()
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if err := a.initLogger(cfg.Logging); err != nil {
		return err
	}
	a.reporter = report.New(a.stdout, cfg.Lang)
	if cfg.Export.ImgSize%32 != 0 {
		logger.Warn("imgsz is not a multiple of 32, ultralytics will round it up",
			logger.Int("imgsz", cfg.Export.ImgSize))
	}

	if a.py == nil {
		if err := a.initPython(cfg.Python); err != nil {
			return err
		}
	}
	if a.loader == nil {
		a.loader = ultralytics.New(a.py, ultralytics.Config{
			Progress: a.stderr,
			Prepare:  a.prepare(cfg.Python),
		})
	}
	if cfg.Verify.Enabled && a.inspector == nil {
		a.inspector = onnxcheck.New(cfg.Verify.LibraryPath)
	}
	if cfg.History.Enabled && a.history == nil {
		path := cfg.History.Path
		if path == "" {
			var err error
			if path, err = history.DefaultPath(config.AppDataDirName); err != nil {
				return err
			}
		}
		mgr, err := history.NewManager(path)
		if err != nil {
			return err
		}
		a.history = mgr
	}

	logger.Info("application startup complete",
		logger.String("python", a.py.Path()),
		logger.Bool("verify", a.inspector != nil),
		logger.Bool("history", a.history != nil))
	return nil
}

func (a *App) initLogger(cfg config.LoggingConfig) error {
	level, _ := logger.ParseLevel(cfg.Level)
	lc := logger.DefaultConfig()
	lc.Level = level
	lc.Console = a.stderr
	lc.LogFilePath = cfg.File
	lc.MaxFileSize = cfg.MaxFileSize
	lc.MaxBackups = cfg.MaxBackups
	lc.StackTraces = level == logger.LevelDebug
	return logger.Init(lc)
}

func (a *App) initPython(cfg config.PythonConfig) error {
	if cfg.Mode != config.PythonModeManaged {
		a.py = python.NewSystem(cfg.Interpreter)
		return nil
	}

	env, err := a.managedEnv(cfg)
	if err != nil {
		return err
	}
	a.env = env
	a.py = env
	return nil
}

func (a *App) managedEnv(cfg config.PythonConfig) (*python.Env, error) {
	if a.env != nil {
		return a.env, nil
	}
	base := cfg.BaseDir
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, types.NewAppError(types.ErrPythonEnv, "failed to get home directory", err)
		}
		base = filepath.Join(home, config.AppDataDirName, "python")
	}
	env, err := python.NewEnv(python.EnvConfig{
		BaseDir:    base,
		Downloader: downloader.NewWithTimeout(10 * time.Minute),
	})
	if err != nil {
		return nil, err
	}
	a.env = env
	return env, nil
}

// prepare returns the managed-mode hook that installs missing packages.
func (a *App) prepare(cfg config.PythonConfig) func(context.Context) error {
	if a.env == nil || !cfg.AutoInstall {
		return nil
	}
	env, packages := a.env, cfg.Packages
	return func(ctx context.Context) error {
		if err := env.EnsureSetup(ctx, a.progress); err != nil {
			return err
		}
		return env.EnsurePackages(ctx, packages, a.progress)
	}
}

func (a *App) progress(msg string) {
	fmt.Fprintln(a.stderr, msg)
}

// shutdown releases the ONNX runtime and flushes the log file.
func (a *App) shutdown() {
	if a.inspector != nil {
		if err := a.inspector.Close(); err != nil {
			logger.Warn("failed to close onnx runtime", logger.Err(err))
		}
	}
	logger.Close()
}

// Export runs one export job from the effective configuration.
func (a *App) Export(ctx context.Context) types.Result {
	cfg := a.Config()
	job := cfg.Job()

	opts := exporter.Options{
		Timeout: cfg.Export.Timeout,
		OnPhase: func(p types.Phase) { logger.Debug("phase", logger.String("phase", string(p))) },
	}
	if a.inspector != nil {
		opts.Verifier = a.inspector
	}

	res := exporter.New(a.loader, a.reporter, opts).Run(ctx, job)

	if a.history != nil {
		if _, err := a.history.Record(job, res); err != nil {
			logger.Warn("failed to record export run", logger.Err(err))
		}
	}
	return res
}

// Inspect prints the input/output signature of an ONNX file.
func (a *App) Inspect(path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	inspector := a.inspector
	if inspector == nil {
		inspector = onnxcheck.New(a.Config().Verify.LibraryPath)
		defer inspector.Close()
	}

	g, err := inspector.Inspect(path)
	if err != nil {
		return err
	}
	a.reporter.Graph(reportPorts(g.Inputs), reportPorts(g.Outputs))
	return nil
}

func reportPorts(ports []onnxcheck.Port) []report.Port {
	out := make([]report.Port, 0, len(ports))
	for _, p := range ports {
		out = append(out, report.Port{Name: p.Name, Shape: p.ShapeString(), DataType: p.DataType})
	}
	return out
}

// SetupEnv creates the managed environment and installs the configured
// packages.
func (a *App) SetupEnv(ctx context.Context) error {
	cfg := a.Config().Python
	env, err := a.managedEnv(cfg)
	if err != nil {
		return err
	}
	if err := env.EnsureSetup(ctx, a.progress); err != nil {
		return err
	}
	return env.EnsurePackages(ctx, cfg.Packages, a.progress)
}

// EnvInfo describes the interpreter the export would use.
func (a *App) EnvInfo(ctx context.Context) error {
	cfg := a.Config().Python
	fmt.Fprintf(a.stdout, "mode:        %s\n", cfg.Mode)
	fmt.Fprintf(a.stdout, "interpreter: %s\n", a.py.Path())

	if a.env != nil {
		fmt.Fprintf(a.stdout, "base dir:    %s\n", a.env.BaseDir)
		ready := a.env.IsReady(ctx)
		fmt.Fprintf(a.stdout, "ready:       %t\n", ready)
		if !ready {
			return nil
		}
	}

	for _, pkg := range cfg.Packages {
		module := python.ImportName(pkg)
		ok, err := python.HasModule(ctx, a.py, module)
		if err != nil {
			return err
		}
		status := "missing"
		if ok {
			status = "ok"
		}
		fmt.Fprintf(a.stdout, "  %-14s %s\n", module, status)
	}
	return nil
}

// CleanEnv removes the managed virtual environment, and uv too when all is set.
func (a *App) CleanEnv(all bool) error {
	env, err := a.managedEnv(a.Config().Python)
	if err != nil {
		return err
	}
	if all {
		return env.CleanupAll()
	}
	return env.Cleanup()
}

// ListHistory prints recorded runs newest first.
func (a *App) ListHistory() error {
	mgr, err := a.historyManager()
	if err != nil {
		return err
	}

	records := mgr.List()
	entries := make([]report.HistoryEntry, 0, len(records))
	for _, r := range records {
		detail := r.Message
		if r.Outcome == types.OutcomeSuccess {
			detail = report.FormatMB(r.SizeBytes) + " MB"
		}
		entries = append(entries, report.HistoryEntry{
			When:    r.Timestamp.Local().Format("2006-01-02 15:04:05"),
			Model:   r.Model,
			Outcome: string(r.Outcome),
			Detail:  detail,
		})
	}
	a.reporter.History(entries)
	return nil
}

// ClearHistory drops all recorded runs.
func (a *App) ClearHistory() error {
	mgr, err := a.historyManager()
	if err != nil {
		return err
	}
	if err := mgr.Clear(); err != nil {
		return err
	}
	a.reporter.HistoryCleared()
	return nil
}

// historyManager opens the history file even when recording is disabled.
func (a *App) historyManager() (*history.Manager, error) {
	if a.history != nil {
		return a.history, nil
	}
	path := a.Config().History.Path
	if path == "" {
		var err error
		if path, err = history.DefaultPath(config.AppDataDirName); err != nil {
			return nil, err
		}
	}
	mgr, err := history.NewManager(path)
	if err != nil {
		return nil, err
	}
	a.history = mgr
	return mgr, nil
}

// InitConfig writes the effective configuration to path.
func (a *App) InitConfig(path string, force bool) error {
	if path == "" {
		path = config.DefaultConfigFileName
	}
	if _, err := os.Stat(path); err == nil && !force {
		return types.NewAppErrorWithDetails(types.ErrConfig, "config file already exists", path, nil)
	}
	mgr := config.NewConfigManager(path)
	mgr.SetConfig(a.Config())
	if err := mgr.Save(); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "✓ Wrote %s\n", path)
	return nil
}
