package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mrsinham/drrforge/internal/dicom"
	"github.com/mrsinham/drrforge/internal/drr"
	"github.com/mrsinham/drrforge/internal/figure"
	"github.com/mrsinham/drrforge/internal/logging"
	"github.com/mrsinham/drrforge/internal/patient"
)

// GenerateOptions selects the dataset and output of a generation run.
type GenerateOptions struct {
	InputDir  string
	OutputDir string
	PatientID string // optional; restricts the run to one patient directory
}

// SeriesFinder picks the series folder to render inside a patient directory.
// It returns "" when the patient has no series.
type SeriesFinder func(patientDir string) (string, error)

// Generator renders one DRR figure per patient.
type Generator struct {
	Loader      drr.Loader
	Projector   drr.Projector
	FindSeries  SeriesFinder
	LoadOptions drr.LoadOptions
	Geometry    drr.Geometry
	Pose        drr.Pose
	Figure      figure.Options
	Caption     bool // write the patient ID above the image

	Logger   *zap.Logger
	Progress bool
	Stderr   io.Writer
}

// NewGenerator returns a Generator with the default geometry, pose, load
// options and figure layout.
func NewGenerator(loader drr.Loader, projector drr.Projector, logger *zap.Logger) *Generator {
	return &Generator{
		Loader:      loader,
		Projector:   projector,
		FindSeries:  dicom.LargestSeriesFolder,
		LoadOptions: drr.DefaultLoadOptions(),
		Geometry:    drr.DefaultGeometry(),
		Pose:        drr.DefaultPose(),
		Figure:      figure.DefaultOptions(),
		Logger:      logging.OrNop(logger),
		Stderr:      os.Stderr,
	}
}

// Run renders every candidate patient under opts.InputDir, or only
// opts.PatientID when set. Per-patient problems are recorded in the report
// and never stop the run; the error is reserved for problems with the run
// itself (missing patient, unreadable dataset, busy or unwritable output).
func (g *Generator) Run(ctx context.Context, opts GenerateOptions) (*Report, error) {
	if g.Loader == nil || g.Projector == nil {
		return nil, fmt.Errorf("generator needs a loader and a projector: %w", ErrConfig)
	}
	if opts.InputDir == "" || opts.OutputDir == "" {
		return nil, fmt.Errorf("input and output directories are required: %w", ErrConfig)
	}
	logger := logging.OrNop(g.Logger)
	find := g.FindSeries
	if find == nil {
		find = dicom.LargestSeriesFolder
	}

	ids, err := g.candidates(opts)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(opts.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	lock, err := LockOutput(opts.OutputDir)
	if err != nil {
		return nil, err
	}
	defer func() { _ = lock.Release() }()

	logger.Info("starting DRR generation",
		zap.String("input", opts.InputDir),
		zap.String("output", opts.OutputDir),
		zap.Int("patients", len(ids)),
	)

	report := newReport(StageGenerate)
	bar := newProgress(g.stderr(), g.Progress, len(ids), "rendering")
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			report.finish()
			return report, err
		}
		res := g.renderPatient(ctx, find, filepath.Join(opts.InputDir, string(id)), id, opts.OutputDir)
		report.add(res)
		_ = bar.Add(1)

		fields := []zap.Field{
			zap.String("patient_id", string(id)),
			zap.String("status", string(res.Status)),
			zap.Duration("duration", res.Duration),
		}
		switch res.Status {
		case StatusFailed:
			logger.Error("patient failed", append(fields, zap.String("error", res.Err))...)
		case StatusSkipped:
			logger.Warn("patient skipped", append(fields, zap.String("reason", res.Err))...)
		default:
			logger.Info("patient rendered", append(fields, zap.String("path", res.Output))...)
		}
	}
	_ = bar.Finish()
	report.finish()

	logger.Info("DRR generation finished",
		zap.Int("rendered", report.Count(StatusRendered)),
		zap.Int("skipped", report.Count(StatusSkipped)),
		zap.Int("failed", report.Count(StatusFailed)),
		zap.Duration("duration", report.Duration()),
	)
	return report, nil
}

// candidates returns the patients to process in order.
func (g *Generator) candidates(opts GenerateOptions) ([]patient.ID, error) {
	if id := strings.TrimSpace(opts.PatientID); id != "" {
		dir := filepath.Join(opts.InputDir, id)
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("patient directory %s: %w", dir, ErrNotFound)
		}
		return []patient.ID{patient.ID(id)}, nil
	}

	entries, err := os.ReadDir(opts.InputDir)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", opts.InputDir, ErrInputDir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return patient.Candidates(names), nil
}

func (g *Generator) renderPatient(ctx context.Context, find SeriesFinder, dir string, id patient.ID, outDir string) (res Result) {
	start := time.Now()
	res = Result{Key: string(id)}
	fail := func(status Status, err error) Result {
		res.Status = status
		res.Err = err.Error()
		res.Duration = time.Since(start)
		return res
	}
	// A panic in a loader or projector fails this patient only.
	defer func() {
		if r := recover(); r != nil {
			res = fail(StatusFailed, fmt.Errorf("panic: %v", r))
		}
	}()

	series, err := find(dir)
	if err != nil {
		return fail(StatusFailed, fmt.Errorf("find series: %w", err))
	}
	if series == "" {
		return fail(StatusSkipped, errors.New("no DICOM series found"))
	}

	vol, err := g.Loader.Load(ctx, series, g.LoadOptions)
	if err != nil {
		return fail(StatusFailed, fmt.Errorf("load %s: %w", series, err))
	}
	proj, err := g.Projector.Project(ctx, vol, g.Geometry, g.Pose)
	if err != nil {
		return fail(StatusFailed, fmt.Errorf("project: %w", err))
	}

	fo := g.Figure
	if g.Caption {
		fo.Caption = string(id)
	}
	img, err := figure.Render(proj, fo)
	if err != nil {
		return fail(StatusFailed, fmt.Errorf("render figure: %w", err))
	}
	out := filepath.Join(outDir, id.FileName())
	if err := figure.Save(img, out); err != nil {
		return fail(StatusFailed, err)
	}

	res.Status = StatusRendered
	res.Output = out
	if info, err := os.Stat(out); err == nil {
		res.Bytes = info.Size()
	}
	res.Duration = time.Since(start)
	return res
}

func (g *Generator) stderr() io.Writer {
	if g.Stderr == nil {
		return os.Stderr
	}
	return g.Stderr
}
