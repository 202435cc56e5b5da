// Package pipeline runs the batch stages: DRR generation over a dataset,
// cropping of the rendered figures, and both stages for a single patient.
package pipeline

import "errors"

var (
	// ErrNotFound marks an explicitly requested patient directory that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConfig marks invalid stage options.
	ErrConfig = errors.New("configuration error")
	// ErrInputDir marks an input directory that is missing or unreadable.
	ErrInputDir = errors.New("input directory unavailable")
	// ErrOutputBusy is returned when another run holds the output directory.
	ErrOutputBusy = errors.New("output directory in use")
	// ErrNoImage is returned by ProcessPatient when no figure was produced.
	ErrNoImage = errors.New("no image produced")
)
