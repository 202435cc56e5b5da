package pipeline

import (
	"time"
)

// Status is the outcome of one item.
type Status string

const (
	StatusRendered Status = "rendered"
	StatusCropped  Status = "cropped"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// Stage names used in reports and the journal.
const (
	StageGenerate = "generate"
	StageCrop     = "crop"
)

// Result is the outcome of one patient or file.
type Result struct {
	Key      string // patient ID or file name
	Status   Status
	Output   string
	Bytes    int64
	Duration time.Duration
	Err      string
}

// Report collects the results of one stage run in processing order.
type Report struct {
	Stage    string
	Started  time.Time
	Finished time.Time
	Results  []Result
}

func newReport(stage string) *Report {
	return &Report{Stage: stage, Started: time.Now()}
}

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
}

func (r *Report) finish() {
	r.Finished = time.Now()
}

// Count returns the number of results with status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

// Succeeded returns the number of items that produced an output.
func (r *Report) Succeeded() int {
	return r.Count(StatusRendered) + r.Count(StatusCropped)
}

// Find returns the result for key.
func (r *Report) Find(key string) (Result, bool) {
	for _, res := range r.Results {
		if res.Key == key {
			return res, true
		}
	}
	return Result{}, false
}

// Duration returns the wall time of the run.
func (r *Report) Duration() time.Duration {
	if r.Finished.IsZero() {
		return time.Since(r.Started)
	}
	return r.Finished.Sub(r.Started)
}
