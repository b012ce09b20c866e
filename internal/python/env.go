package python

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"yolo-export/internal/downloader"
	"yolo-export/internal/logger"
	"yolo-export/internal/types"
)

const (
	// DefaultPythonVersion is the interpreter uv provisions for the venv
	DefaultPythonVersion = "3.11"
	// DefaultUvBaseURL hosts the uv release archives
	DefaultUvBaseURL = "https://github.com/astral-sh/uv/releases/latest/download"
)

// Env manages a local Python virtual environment using uv.
type Env struct {
	BaseDir    string // base directory for .tools and .venv
	ToolsDir   string // contains uv
	VenvDir    string
	UvPath     string
	PythonPath string // python inside the venv

	pythonVersion string
	uvBaseURL     string
	dl            *downloader.Downloader

	mu        sync.Mutex
	setupDone bool
}

// EnvConfig holds configuration for creating a new Env
type EnvConfig struct {
	BaseDir       string // required
	PythonVersion string // default DefaultPythonVersion
	UvBaseURL     string // default DefaultUvBaseURL
	Downloader    *downloader.Downloader
}

// NewEnv creates an Env rooted at cfg.BaseDir. Nothing is downloaded until
// EnsureSetup runs.
func NewEnv(cfg EnvConfig) (*Env, error) {
	if cfg.BaseDir == "" {
		return nil, types.NewAppError(types.ErrPythonEnv, "managed python requires a base directory", nil)
	}
	if err := os.MkdirAll(cfg.BaseDir, 0755); err != nil {
		return nil, types.NewAppError(types.ErrPythonEnv, "failed to create base directory", err)
	}

	env := &Env{
		BaseDir:       cfg.BaseDir,
		ToolsDir:      filepath.Join(cfg.BaseDir, ".tools"),
		VenvDir:       filepath.Join(cfg.BaseDir, ".venv"),
		pythonVersion: cfg.PythonVersion,
		uvBaseURL:     cfg.UvBaseURL,
		dl:            cfg.Downloader,
	}
	if env.pythonVersion == "" {
		env.pythonVersion = DefaultPythonVersion
	}
	if env.uvBaseURL == "" {
		env.uvBaseURL = DefaultUvBaseURL
	}
	if env.dl == nil {
		env.dl = downloader.New()
	}

	if runtime.GOOS == "windows" {
		env.UvPath = filepath.Join(env.ToolsDir, "uv.exe")
		env.PythonPath = filepath.Join(env.VenvDir, "Scripts", "python.exe")
	} else {
		env.UvPath = filepath.Join(env.ToolsDir, "uv")
		env.PythonPath = filepath.Join(env.VenvDir, "bin", "python")
	}

	return env, nil
}

// EnsureSetup installs uv and creates the venv if needed. It is idempotent
// and safe for concurrent use.
func (e *Env) EnsureSetup(ctx context.Context, progress func(string)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.setupDone {
		return nil
	}
	if progress == nil {
		progress = func(string) {}
	}

	progress("Checking uv...")
	if err := e.ensureUv(ctx, progress); err != nil {
		return types.NewAppError(types.ErrPythonEnv, "failed to setup uv", err)
	}

	progress("Checking Python virtual environment...")
	if err := e.ensureVenv(ctx, progress); err != nil {
		return types.NewAppError(types.ErrPythonEnv, "failed to setup venv", err)
	}

	e.setupDone = true
	logger.Info("managed python ready", logger.String("python", e.PythonPath))
	return nil
}

func (e *Env) ensureUv(ctx context.Context, progress func(string)) error {
	if e.isUvInstalled(ctx) {
		progress("✓ uv already installed")
		return nil
	}

	url := UvDownloadURL(e.uvBaseURL, runtime.GOOS, runtime.GOARCH)
	if url == "" {
		return fmt.Errorf("unsupported platform: %s/%s", runtime.GOOS, runtime.GOARCH)
	}

	progress("Downloading uv...")
	archivePath := filepath.Join(e.ToolsDir, filepath.Base(url))
	if err := e.dl.Download(ctx, url, archivePath); err != nil {
		return err
	}
	defer os.Remove(archivePath)

	progress("Extracting uv...")
	if err := downloader.ExtractBinary(archivePath, filepath.Base(e.UvPath), e.UvPath); err != nil {
		return err
	}

	if !e.isUvInstalled(ctx) {
		return fmt.Errorf("uv installation verification failed")
	}

	progress("✓ uv installed")
	return nil
}

func (e *Env) isUvInstalled(ctx context.Context) bool {
	if _, err := os.Stat(e.UvPath); err != nil {
		return false
	}
	cmd := exec.CommandContext(ctx, e.UvPath, "--version")
	hideWindow(cmd)
	return cmd.Run() == nil
}

// UvDownloadURL returns the uv release archive for a platform, or "" when
// uv publishes no build for it.
func UvDownloadURL(baseURL, goos, goarch string) string {
	targets := map[string]string{
		"windows/amd64": "uv-x86_64-pc-windows-msvc.zip",
		"windows/arm64": "uv-aarch64-pc-windows-msvc.zip",
		"darwin/amd64":  "uv-x86_64-apple-darwin.tar.gz",
		"darwin/arm64":  "uv-aarch64-apple-darwin.tar.gz",
		"linux/amd64":   "uv-x86_64-unknown-linux-gnu.tar.gz",
		"linux/arm64":   "uv-aarch64-unknown-linux-gnu.tar.gz",
	}
	name, ok := targets[goos+"/"+goarch]
	if !ok {
		return ""
	}
	return strings.TrimSuffix(baseURL, "/") + "/" + name
}

func (e *Env) ensureVenv(ctx context.Context, progress func(string)) error {
	if e.isVenvValid(ctx) {
		progress("✓ Python virtual environment exists")
		return nil
	}

	progress("Creating Python virtual environment...")

	// a half-created venv makes uv refuse to proceed
	if _, err := os.Stat(e.VenvDir); err == nil {
		os.RemoveAll(e.VenvDir)
	}

	cmd := exec.CommandContext(ctx, e.UvPath, "venv", e.VenvDir, "--python", e.pythonVersion)
	hideWindow(cmd)
	cmd.Dir = e.BaseDir
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to create venv: %s: %w", strings.TrimSpace(string(output)), err)
	}

	if !e.isVenvValid(ctx) {
		return fmt.Errorf("venv creation verification failed")
	}

	progress("✓ Python virtual environment created")
	return nil
}

func (e *Env) isVenvValid(ctx context.Context) bool {
	if _, err := os.Stat(e.PythonPath); err != nil {
		return false
	}
	cmd := exec.CommandContext(ctx, e.PythonPath, "--version")
	hideWindow(cmd)
	return cmd.Run() == nil
}

// InstallPackages installs packages into the venv with uv pip.
func (e *Env) InstallPackages(ctx context.Context, packages []string, progress func(string)) error {
	if len(packages) == 0 {
		return nil
	}
	if err := e.EnsureSetup(ctx, progress); err != nil {
		return err
	}

	if progress != nil {
		progress(fmt.Sprintf("Installing Python packages: %s", strings.Join(packages, ", ")))
	}
	logger.Info("installing python packages", logger.String("packages", strings.Join(packages, ",")))

	args := append([]string{"pip", "install", "--python", e.PythonPath}, packages...)
	cmd := exec.CommandContext(ctx, e.UvPath, args...)
	hideWindow(cmd)
	cmd.Dir = e.BaseDir
	if output, err := cmd.CombinedOutput(); err != nil {
		return types.NewAppErrorWithDetails(types.ErrPythonEnv, "failed to install packages",
			strings.TrimSpace(string(output)), err)
	}

	if progress != nil {
		progress("✓ Python packages installed")
	}
	return nil
}

// MissingPackages returns the packages whose modules cannot be imported.
func (e *Env) MissingPackages(ctx context.Context, packages []string) ([]string, error) {
	if err := e.EnsureSetup(ctx, nil); err != nil {
		return nil, err
	}

	var missing []string
	for _, pkg := range packages {
		ok, err := HasModule(ctx, e, ImportName(pkg))
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, pkg)
		}
	}
	return missing, nil
}

// EnsurePackages installs only the packages that are not importable yet.
func (e *Env) EnsurePackages(ctx context.Context, packages []string, progress func(string)) error {
	missing, err := e.MissingPackages(ctx, packages)
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		if progress != nil {
			progress("✓ All Python packages installed")
		}
		return nil
	}
	return e.InstallPackages(ctx, missing, progress)
}

// Command implements Interpreter. The environment is set up on first use.
func (e *Env) Command(ctx context.Context, dir string, args ...string) (*exec.Cmd, error) {
	if err := e.EnsureSetup(ctx, nil); err != nil {
		return nil, err
	}
	cmd := exec.CommandContext(ctx, e.PythonPath, args...)
	hideWindow(cmd)
	cmd.Dir = dir
	return cmd, nil
}

// Path returns the venv interpreter path.
func (e *Env) Path() string {
	return e.PythonPath
}

// IsReady returns true if uv and the venv both work.
func (e *Env) IsReady(ctx context.Context) bool {
	return e.isUvInstalled(ctx) && e.isVenvValid(ctx)
}

// Cleanup removes the virtual environment but keeps uv.
func (e *Env) Cleanup() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setupDone = false
	return os.RemoveAll(e.VenvDir)
}

// CleanupAll removes both uv and the virtual environment.
func (e *Env) CleanupAll() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setupDone = false

	var errs []error
	if err := os.RemoveAll(e.VenvDir); err != nil {
		errs = append(errs, err)
	}
	if err := os.RemoveAll(e.ToolsDir); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %v", errs)
	}
	return nil
}
