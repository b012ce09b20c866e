// Package config provides configuration management for yolo-export.
package config

import (
	"time"

	"yolo-export/internal/types"
)

const (
	// DefaultConfigFileName is looked up in the working directory when no
	// explicit path is given
	DefaultConfigFileName = "yolo-export.yaml"
	// AppDataDirName is the per-user directory for managed Python and history
	AppDataDirName = ".yolo-export"

	DefaultModel       = "yolo11n"
	DefaultFormat      = "onnx"
	DefaultImgSize     = 640
	DefaultSimplify    = true
	DefaultWorkDir     = "."
	DefaultPythonMode  = PythonModeSystem
	DefaultInterpreter = "python3"
	DefaultLogLevel    = "warn"
	DefaultLang        = "en"
	DefaultMaxLogSize  = 10 * 1024 * 1024
	DefaultMaxBackups  = 3
)

// Python interpreter modes.
const (
	// PythonModeSystem runs the interpreter found on PATH
	PythonModeSystem = "system"
	// PythonModeManaged runs inside a uv-managed virtual environment
	PythonModeManaged = "managed"
)

// DefaultPackages are the pip packages a managed environment needs for export.
var DefaultPackages = []string{"ultralytics", "onnx", "onnxslim"}

// Config is the full tool configuration.
type Config struct {
	Model   string        `yaml:"model"`
	Strict  bool          `yaml:"strict"` // non-zero exit when no file is produced
	Lang    string        `yaml:"lang"`
	Export  ExportConfig  `yaml:"export"`
	Python  PythonConfig  `yaml:"python"`
	Verify  VerifyConfig  `yaml:"verify"`
	History HistoryConfig `yaml:"history"`
	Logging LoggingConfig `yaml:"logging"`
}

// ExportConfig holds the parameters passed to the exporter.
type ExportConfig struct {
	Format   string        `yaml:"format"`
	ImgSize  int           `yaml:"imgsz"`
	Simplify *bool         `yaml:"simplify"` // nil means default (true)
	WorkDir  string        `yaml:"workDir"`
	Timeout  time.Duration `yaml:"timeout"` // 0 = no limit
}

type PythonConfig struct {
	Mode        string   `yaml:"mode"`        // "system" or "managed"
	Interpreter string   `yaml:"interpreter"` // system mode
	BaseDir     string   `yaml:"baseDir"`     // managed mode, default ~/.yolo-export
	AutoInstall bool     `yaml:"autoInstall"`
	Packages    []string `yaml:"packages"`
}

type VerifyConfig struct {
	Enabled     bool   `yaml:"enabled"`
	LibraryPath string `yaml:"libraryPath"` // onnxruntime shared library
}

type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // default ~/.yolo-export/history.json
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	File        string `yaml:"file"`
	MaxFileSize int64  `yaml:"maxFileSize"`
	MaxBackups  int    `yaml:"maxBackups"`
}

// Job builds the export job described by the config.
func (c *Config) Job() types.ExportJob {
	return types.ExportJob{
		Model:    c.Model,
		Format:   c.Export.Format,
		ImgSize:  c.Export.ImgSize,
		Simplify: c.Export.SimplifyEnabled(),
		WorkDir:  c.Export.WorkDir,
	}
}

// SimplifyEnabled resolves the tri-state simplify flag.
func (e ExportConfig) SimplifyEnabled() bool {
	if e.Simplify == nil {
		return DefaultSimplify
	}
	return *e.Simplify
}

// Default returns a Config equal to the tool's built-in behaviour.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills empty fields. Booleans other than simplify default to
// false and are left alone.
func applyDefaults(cfg *Config) {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Lang == "" {
		cfg.Lang = DefaultLang
	}
	if cfg.Export.Format == "" {
		cfg.Export.Format = DefaultFormat
	}
	if cfg.Export.ImgSize == 0 {
		cfg.Export.ImgSize = DefaultImgSize
	}
	if cfg.Export.Simplify == nil {
		v := DefaultSimplify
		cfg.Export.Simplify = &v
	}
	if cfg.Export.WorkDir == "" {
		cfg.Export.WorkDir = DefaultWorkDir
	}
	if cfg.Python.Mode == "" {
		cfg.Python.Mode = DefaultPythonMode
	}
	if cfg.Python.Interpreter == "" {
		cfg.Python.Interpreter = DefaultInterpreter
	}
	if len(cfg.Python.Packages) == 0 {
		cfg.Python.Packages = append([]string(nil), DefaultPackages...)
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.MaxFileSize == 0 {
		cfg.Logging.MaxFileSize = DefaultMaxLogSize
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = DefaultMaxBackups
	}
}
