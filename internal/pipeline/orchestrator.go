package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/mrsinham/drrforge/internal/patient"
)

// PatientOptions configures ProcessPatient.
type PatientOptions struct {
	PatientID  string // bare ("0072") or full ("LIDC-IDRI-0072")
	InputDir   string
	ImagesDir  string
	CroppedDir string
}

// PatientResult holds the outputs of a single-patient run.
type PatientResult struct {
	ID       patient.ID
	Image    string
	Cropped  string
	Generate *Report
	Crop     *Report
}

// ProcessPatient renders and crops one patient. The crop filter is the full
// image name, so LIDC-IDRI-0072 does not also match LIDC-IDRI-00721.
// Cropping runs even when rendering produced nothing, in which case
// ErrNoImage is returned along with the partial result.
func ProcessPatient(ctx context.Context, gen *Generator, crp *Cropper, opts PatientOptions) (*PatientResult, error) {
	if gen == nil || crp == nil {
		return nil, fmt.Errorf("generator and cropper are required: %w", ErrConfig)
	}
	id := patient.Normalize(opts.PatientID)
	if id == patient.Prefix {
		return nil, fmt.Errorf("patient ID is required: %w", ErrConfig)
	}

	res := &PatientResult{
		ID:      id,
		Image:   filepath.Join(opts.ImagesDir, id.FileName()),
		Cropped: filepath.Join(opts.CroppedDir, id.FileName()),
	}

	genReport, err := gen.Run(ctx, GenerateOptions{
		InputDir:  opts.InputDir,
		OutputDir: opts.ImagesDir,
		PatientID: string(id),
	})
	res.Generate = genReport
	if err != nil {
		return res, err
	}

	cropReport, err := crp.Run(ctx, CropOptions{
		InputDir:  opts.ImagesDir,
		OutputDir: opts.CroppedDir,
		Filter:    id.FileName(),
	})
	res.Crop = cropReport
	if err != nil {
		return res, err
	}

	if r, ok := genReport.Find(string(id)); !ok || r.Status != StatusRendered {
		reason := "not processed"
		if ok {
			reason = r.Err
		}
		return res, fmt.Errorf("patient %s: %w: %s", id, ErrNoImage, reason)
	}
	return res, nil
}
