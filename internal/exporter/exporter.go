// Package exporter sequences model acquisition, export and output
// verification, and classifies how a run ended.
//
// The run is a linear state machine:
//
//	Start → Acquiring → Exporting → Verifying → {Success, Failure}
//
// and stops at the first error. Nothing is retried.
package exporter

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"yolo-export/internal/logger"
	"yolo-export/internal/types"
)

// ErrCapabilityMissing means the model-loading library is not available in
// the execution environment.
var ErrCapabilityMissing = errors.New("model-loading capability not available")

// ExportOptions are the parameters handed to Model.Export.
type ExportOptions struct {
	Format   string
	ImgSize  int
	Simplify bool
	WorkDir  string
}

// Loader acquires a pretrained model by name.
type Loader interface {
	Load(ctx context.Context, name string) (Model, error)
}

// Model is a loaded model handle.
type Model interface {
	// Export writes the converted model and returns the path the backend
	// reports. The orchestrator still checks the fixed output path itself.
	Export(ctx context.Context, opts ExportOptions) (string, error)
}

// Verifier inspects a produced artifact. Optional.
type Verifier interface {
	Verify(ctx context.Context, path string, job types.ExportJob) error
}

// Reporter renders run progress for the operator.
type Reporter interface {
	Acquiring(job types.ExportJob)
	Exporting(job types.ExportJob)
	Exported(job types.ExportJob, sizeBytes int64)
	NotProduced(job types.ExportJob)
	CapabilityMissing()
	Failed(err error)
}

// Options tune an Orchestrator.
type Options struct {
	Verifier Verifier
	// Timeout bounds the export step; zero means no limit
	Timeout time.Duration
	// OnPhase observes state transitions
	OnPhase func(types.Phase)
}

// Orchestrator runs export jobs.
type Orchestrator struct {
	loader   Loader
	reporter Reporter
	opts     Options
	stat     func(string) (fs.FileInfo, error)
}

// New creates an Orchestrator.
func New(loader Loader, reporter Reporter, opts Options) *Orchestrator {
	return &Orchestrator{
		loader:   loader,
		reporter: reporter,
		opts:     opts,
		stat:     os.Stat,
	}
}

// Run executes job and returns its result. It never panics on collaborator
// errors; every failure is folded into the Result.
func (o *Orchestrator) Run(ctx context.Context, job types.ExportJob) types.Result {
	start := time.Now()
	res := types.Result{Output: job.OutputPath()}
	o.enter(&res, types.PhaseStart)

	o.enter(&res, types.PhaseAcquiring)
	o.reporter.Acquiring(job)
	logger.Info("acquiring model", logger.String("model", job.Model))

	model, err := o.loader.Load(ctx, job.Model)
	if err != nil {
		return o.fail(res, err, time.Since(start))
	}

	o.enter(&res, types.PhaseExporting)
	o.reporter.Exporting(job)
	logger.Info("exporting model",
		logger.String("format", job.Format),
		logger.Int("imgsz", job.ImgSize),
		logger.Bool("simplify", job.Simplify))

	exportCtx := ctx
	if o.opts.Timeout > 0 {
		var cancel context.CancelFunc
		exportCtx, cancel = context.WithTimeout(ctx, o.opts.Timeout)
		defer cancel()
	}

	reported, err := model.Export(exportCtx, ExportOptions{
		Format:   job.Format,
		ImgSize:  job.ImgSize,
		Simplify: job.Simplify,
		WorkDir:  job.WorkDir,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = types.NewAppErrorWithDetails(types.ErrExportFailed, "export timed out", o.opts.Timeout.String(), err)
		}
		return o.fail(res, err, time.Since(start))
	}
	if reported != "" && !samePath(reported, res.Output) {
		logger.Warn("backend reported a different output path",
			logger.String("reported", reported),
			logger.String("expected", res.Output))
	}

	o.enter(&res, types.PhaseVerifying)
	info, err := o.stat(res.Output)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return o.notProduced(res, job, time.Since(start))
	case err != nil:
		return o.fail(res, err, time.Since(start))
	case info.IsDir() || info.Size() == 0:
		logger.Warn("output is not a usable file",
			logger.String("path", res.Output),
			logger.Bool("dir", info.IsDir()),
			logger.Int64("size", info.Size()))
		return o.notProduced(res, job, time.Since(start))
	}

	if o.opts.Verifier != nil {
		if err := o.opts.Verifier.Verify(ctx, res.Output, job); err != nil {
			return o.fail(res, err, time.Since(start))
		}
	}

	res.Outcome = types.OutcomeSuccess
	res.SizeBytes = info.Size()
	res.Duration = time.Since(start)
	o.enter(&res, types.PhaseSuccess)
	o.reporter.Exported(job, res.SizeBytes)
	logger.Info("export complete",
		logger.String("path", res.Output),
		logger.Int64("bytes", res.SizeBytes))
	return res
}

func (o *Orchestrator) enter(res *types.Result, p types.Phase) {
	res.Phase = p
	if o.opts.OnPhase != nil {
		o.opts.OnPhase(p)
	}
}

// fail classifies err. Phase keeps the step that failed.
func (o *Orchestrator) fail(res types.Result, err error, elapsed time.Duration) types.Result {
	res.Err = err
	res.Message = err.Error()
	res.Duration = elapsed

	if errors.Is(err, ErrCapabilityMissing) {
		res.Outcome = types.OutcomeCapabilityMissing
		o.reporter.CapabilityMissing()
		logger.Info("model-loading capability missing", logger.Err(err), logger.String("phase", string(res.Phase)))
	} else {
		res.Outcome = types.OutcomeExportFailed
		o.reporter.Failed(err)
		logger.Info("export run failed", logger.Err(err), logger.String("phase", string(res.Phase)))
	}

	if o.opts.OnPhase != nil {
		o.opts.OnPhase(types.PhaseFailure)
	}
	return res
}

func (o *Orchestrator) notProduced(res types.Result, job types.ExportJob, elapsed time.Duration) types.Result {
	res.Outcome = types.OutcomeFileNotProduced
	res.Message = job.OutputName() + " not found"
	res.Err = types.NewAppErrorWithDetails(types.ErrFileNotProduced, "export produced no file", res.Output, nil)
	res.Duration = elapsed
	o.reporter.NotProduced(job)
	logger.Info("export produced no file", logger.String("path", res.Output))
	if o.opts.OnPhase != nil {
		o.opts.OnPhase(types.PhaseFailure)
	}
	return res
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}
