package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mrsinham/drrforge/internal/crop"
	"github.com/mrsinham/drrforge/internal/logging"
)

// CropOptions selects the images of a crop run.
type CropOptions struct {
	InputDir  string
	OutputDir string
	Filter    string // optional substring the file name must contain
}

// Cropper trims the figure margins from rendered images.
type Cropper struct {
	Rect crop.Rect

	Logger   *zap.Logger
	Progress bool
	Stderr   io.Writer
}

// NewCropper returns a Cropper with the default rectangle.
func NewCropper(logger *zap.Logger) *Cropper {
	return &Cropper{Rect: crop.Default(), Logger: logging.OrNop(logger), Stderr: os.Stderr}
}

// Run crops every *.png in opts.InputDir whose name contains opts.Filter
// and writes it under the same name in opts.OutputDir. A missing input
// directory aborts before anything is written; a bad file is recorded as
// failed and the run goes on.
func (c *Cropper) Run(ctx context.Context, opts CropOptions) (*Report, error) {
	if opts.InputDir == "" || opts.OutputDir == "" {
		return nil, fmt.Errorf("input and output directories are required: %w", ErrConfig)
	}
	if err := c.Rect.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	logger := logging.OrNop(c.Logger)

	names, err := listImages(opts.InputDir, opts.Filter)
	if err != nil {
		logger.Error("cannot read input directory", zap.String("path", opts.InputDir), zap.Error(err))
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

	logger.Info("starting crop",
		zap.String("input", opts.InputDir),
		zap.String("output", opts.OutputDir),
		zap.String("filter", opts.Filter),
		zap.Int("images", len(names)),
	)

	report := newReport(StageCrop)
	stderr := c.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	bar := newProgress(stderr, c.Progress, len(names), "cropping")
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			report.finish()
			return report, err
		}
		res := c.cropFile(filepath.Join(opts.InputDir, name), filepath.Join(opts.OutputDir, name), name)
		report.add(res)
		_ = bar.Add(1)

		if res.Status == StatusFailed {
			logger.Error("crop failed", zap.String("path", name), zap.String("error", res.Err))
		} else {
			logger.Debug("cropped", zap.String("path", res.Output), zap.Duration("duration", res.Duration))
		}
	}
	_ = bar.Finish()
	report.finish()

	logger.Info("crop finished",
		zap.Int("cropped", report.Count(StatusCropped)),
		zap.Int("failed", report.Count(StatusFailed)),
	)
	return report, nil
}

func (c *Cropper) cropFile(src, dst, name string) Result {
	start := time.Now()
	res := Result{Key: name}
	if _, err := c.Rect.File(src, dst); err != nil {
		res.Status = StatusFailed
		res.Err = err.Error()
		res.Duration = time.Since(start)
		return res
	}
	res.Status = StatusCropped
	res.Output = dst
	if info, err := os.Stat(dst); err == nil {
		res.Bytes = info.Size()
	}
	res.Duration = time.Since(start)
	return res
}

// listImages returns the sorted names of the PNG files directly in dir
// that contain filter.
func listImages(dir, filter string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", dir, ErrInputDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory: %w", dir, ErrInputDir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", dir, ErrInputDir, err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".png" {
			continue
		}
		if filter != "" && !strings.Contains(name, filter) {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}
