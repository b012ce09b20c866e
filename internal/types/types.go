// Package types defines core data types and enums for the YOLO export tool.
package types

import (
	"fmt"
	"path/filepath"
	"time"
)

// ExportJob describes a single export run.
type ExportJob struct {
	Model    string `json:"model" yaml:"model"`       // model key, e.g. "yolo11n"
	Format   string `json:"format" yaml:"format"`     // export target, e.g. "onnx"
	ImgSize  int    `json:"imgsz" yaml:"imgsz"`       // square input size in pixels
	Simplify bool   `json:"simplify" yaml:"simplify"` // graph simplification pass
	WorkDir  string `json:"work_dir" yaml:"workDir"`  // where weights and output land
}

// Weights returns the checkpoint file name the loader asks for.
func (j ExportJob) Weights() string {
	return j.Model + ".pt"
}

// OutputName returns the file name the export is expected to produce.
func (j ExportJob) OutputName() string {
	return j.Model + "." + j.Format
}

// OutputPath returns OutputName joined to the working directory.
func (j ExportJob) OutputPath() string {
	dir := j.WorkDir
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, j.OutputName())
}

// Phase is a step of the export state machine.
type Phase string

const (
	PhaseStart     Phase = "start"
	PhaseAcquiring Phase = "acquiring"
	PhaseExporting Phase = "exporting"
	PhaseVerifying Phase = "verifying"
	PhaseSuccess   Phase = "success"
	PhaseFailure   Phase = "failure"
)

// Outcome classifies how a run ended.
type Outcome string

const (
	OutcomeSuccess           Outcome = "success"
	OutcomeCapabilityMissing Outcome = "capability_missing"
	OutcomeExportFailed      Outcome = "export_failed"
	OutcomeFileNotProduced   Outcome = "file_not_produced"
)

// Result is the value returned by an export run.
type Result struct {
	Outcome   Outcome       `json:"outcome"`
	Phase     Phase         `json:"phase"`                // phase reached when the run ended
	Output    string        `json:"output"`               // expected output path
	SizeBytes int64         `json:"size_bytes,omitempty"` // set on success
	Message   string        `json:"message,omitempty"`    // error text on failure
	Err       error         `json:"-"`
	Duration  time.Duration `json:"duration"`
}

// SizeMB returns the output size in megabytes (1024*1024 bytes).
func (r Result) SizeMB() float64 {
	return float64(r.SizeBytes) / (1024 * 1024)
}

// Failed reports whether the run ended in any failure kind.
func (r Result) Failed() bool {
	return r.Outcome != OutcomeSuccess
}

// ExitCode maps the outcome to a process exit status. A missing output file
// exits 0 unless strict is set.
func (r Result) ExitCode(strict bool) int {
	switch r.Outcome {
	case OutcomeSuccess:
		return 0
	case OutcomeFileNotProduced:
		if strict {
			return 2
		}
		return 0
	default:
		return 1
	}
}

// ErrorCode 错误代码枚举
type ErrorCode string

const (
	ErrCapabilityMissing ErrorCode = "CAPABILITY_MISSING"
	ErrExportFailed      ErrorCode = "EXPORT_FAILED"
	ErrFileNotProduced   ErrorCode = "FILE_NOT_PRODUCED"
	ErrVerifyFailed      ErrorCode = "VERIFY_FAILED"
	ErrConfig            ErrorCode = "CONFIG_ERROR"
	ErrPythonEnv         ErrorCode = "PYTHON_ENV_ERROR"
	ErrNetwork           ErrorCode = "NETWORK_ERROR"
	ErrDownload          ErrorCode = "DOWNLOAD_ERROR"
	ErrExtract           ErrorCode = "EXTRACT_ERROR"
	ErrRateLimit         ErrorCode = "RATE_LIMIT"
	ErrInternal          ErrorCode = "INTERNAL_ERROR"
)

// AppError 应用错误
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface for AppError
func (e *AppError) Error() string {
	msg := e.Message
	if e.Details != "" {
		msg += ": " + e.Details
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new AppError with the given code, message, and optional cause
func NewAppError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewAppErrorWithDetails creates a new AppError with details
func NewAppErrorWithDetails(code ErrorCode, message, details string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Details: details,
		Cause:   cause,
	}
}
