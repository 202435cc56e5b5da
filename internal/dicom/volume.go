package dicom

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/mrsinham/drrforge/internal/drr"
)

var (
	// ErrNoSlices is returned when a folder holds no readable CT slice.
	ErrNoSlices = errors.New("no image slices")
	// ErrEncapsulated is returned for compressed pixel data.
	ErrEncapsulated = errors.New("compressed pixel data is not supported")
	// ErrMalformed is returned when the DICOM parser cannot read a file.
	ErrMalformed = errors.New("malformed DICOM file")

	errNoPixelData = errors.New("no pixel data")
)

// SeriesLoader loads a CT series folder into a drr.Volume. Slices are
// parsed in parallel by Workers goroutines.
type SeriesLoader struct {
	Workers int
	Logger  *zap.Logger
}

// NewSeriesLoader returns a loader. workers <= 0 uses one per CPU.
func NewSeriesLoader(workers int, logger *zap.Logger) *SeriesLoader {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SeriesLoader{Workers: workers, Logger: logger}
}

// slice is one parsed CT image.
type slice struct {
	path       string
	position   []float64
	instance   int
	rows, cols int
	rowSpacing float64
	colSpacing float64
	thickness  float64
	hu         []float32
}

// Load implements drr.Loader.
func (l *SeriesLoader) Load(ctx context.Context, dir string, opts drr.LoadOptions) (*drr.Volume, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	files, err := DICOMFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoSlices)
	}

	slices, err := l.readSlices(ctx, files)
	if err != nil {
		return nil, err
	}
	if len(slices) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrNoSlices)
	}
	sortSlices(slices)

	first := slices[0]
	for _, s := range slices[1:] {
		if s.rows != first.rows || s.cols != first.cols {
			return nil, fmt.Errorf("slice %s is %dx%d, expected %dx%d",
				s.path, s.cols, s.rows, first.cols, first.rows)
		}
	}

	vol := &drr.Volume{
		Dims:        [3]int{first.cols, first.rows, len(slices)},
		Spacing:     r3.Vector{X: first.colSpacing, Y: first.rowSpacing, Z: sliceSpacing(slices)},
		Orientation: opts.Orientation,
		Centered:    opts.CenterVolume,
	}
	if first.position != nil {
		vol.Origin = r3.Vector{X: first.position[0], Y: first.position[1], Z: first.position[2]}
	}

	plane := first.rows * first.cols
	vol.Density = make([]float32, plane*len(slices))
	for k, s := range slices {
		out := vol.Density[k*plane : (k+1)*plane]
		for i, hu := range s.hu {
			out[i] = drr.HUToDensity(hu, opts.BoneAttenuationMultiplier)
		}
	}

	l.Logger.Debug("loaded volume",
		zap.String("path", dir),
		zap.Ints("dims", vol.Dims[:]),
		zap.Float64("spacing_x", vol.Spacing.X),
		zap.Float64("spacing_y", vol.Spacing.Y),
		zap.Float64("spacing_z", vol.Spacing.Z),
	)
	return vol, nil
}

// readSlices parses files with a bounded worker pool. Files without pixel
// data are skipped; any other error aborts the load.
func (l *SeriesLoader) readSlices(ctx context.Context, files []string) ([]*slice, error) {
	numWorkers := l.Workers
	if numWorkers <= 0 {
		numWorkers = 1
	}
	if numWorkers > len(files) {
		numWorkers = len(files)
	}

	type result struct {
		index int
		s     *slice
		err   error
	}
	tasks := make(chan int, len(files))
	results := make(chan result, len(files))

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range tasks {
				if err := ctx.Err(); err != nil {
					results <- result{index: i, err: err}
					continue
				}
				s, err := readSlice(files[i])
				results <- result{index: i, s: s, err: err}
			}
		}()
	}
	for i := range files {
		tasks <- i
	}
	close(tasks)

	go func() {
		wg.Wait()
		close(results)
	}()

	parsed := make([]*slice, len(files))
	var firstErr error
	for r := range results {
		switch {
		case errors.Is(r.err, errNoPixelData):
			l.Logger.Debug("skipping file without pixel data", zap.String("path", files[r.index]))
		case r.err != nil:
			if firstErr == nil {
				firstErr = fmt.Errorf("read %s: %w", files[r.index], r.err)
			}
		default:
			parsed[r.index] = r.s
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}

	out := parsed[:0]
	for _, s := range parsed {
		if s != nil {
			out = append(out, s)
		}
	}
	return out, nil
}

// readSlice parses one file. The parser can panic on malformed headers, so
// a panic is turned into an error for this file.
func readSlice(path string) (s *slice, err error) {
	defer func() {
		if r := recover(); r != nil {
			s, err = nil, fmt.Errorf("%w: %v", ErrMalformed, r)
		}
	}()

	ds, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, err
	}
	pixElem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil || pixElem == nil {
		return nil, errNoPixelData
	}
	info, ok := pixElem.Value.GetValue().(dicom.PixelDataInfo)
	if !ok || len(info.Frames) == 0 {
		return nil, errNoPixelData
	}
	fr := info.Frames[0]
	if fr.Encapsulated || fr.NativeData == nil {
		return nil, ErrEncapsulated
	}

	s = &slice{
		path:      path,
		position:  floats(ds, tag.ImagePositionPatient),
		instance:  intValue(ds, tag.InstanceNumber, 0),
		rows:      intValue(ds, tag.Rows, fr.NativeData.Rows()),
		cols:      intValue(ds, tag.Columns, fr.NativeData.Cols()),
		thickness: floatValue(ds, tag.SliceThickness, 0),
	}
	if len(s.position) < 3 {
		s.position = nil
	}
	s.rowSpacing, s.colSpacing = 1, 1
	if ps := floats(ds, tag.PixelSpacing); len(ps) >= 2 && ps[0] > 0 && ps[1] > 0 {
		s.rowSpacing, s.colSpacing = ps[0], ps[1]
	}

	slope := floatValue(ds, tag.RescaleSlope, 1)
	if slope == 0 {
		slope = 1
	}
	intercept := floatValue(ds, tag.RescaleIntercept, 0)
	signed := intValue(ds, tag.PixelRepresentation, 0) == 1

	stored, err := storedValues(fr.NativeData.RawDataSlice(), signed)
	if err != nil {
		return nil, err
	}
	if len(stored) != s.rows*s.cols {
		return nil, fmt.Errorf("pixel data holds %d samples, expected %dx%d", len(stored), s.cols, s.rows)
	}
	s.hu = make([]float32, len(stored))
	for i, v := range stored {
		s.hu[i] = float32(v*slope + intercept)
	}
	return s, nil
}

// storedValues widens the raw frame samples. Signed data is read back from
// the unsigned words the parser produces.
func storedValues(raw any, signed bool) ([]float64, error) {
	switch data := raw.(type) {
	case []uint16:
		out := make([]float64, len(data))
		for i, v := range data {
			if signed {
				out[i] = float64(int16(v))
			} else {
				out[i] = float64(v)
			}
		}
		return out, nil
	case []int16:
		out := make([]float64, len(data))
		for i, v := range data {
			out[i] = float64(v)
		}
		return out, nil
	case []uint8:
		out := make([]float64, len(data))
		for i, v := range data {
			if signed {
				out[i] = float64(int8(v))
			} else {
				out[i] = float64(v)
			}
		}
		return out, nil
	case []uint32:
		out := make([]float64, len(data))
		for i, v := range data {
			if signed {
				out[i] = float64(int32(v))
			} else {
				out[i] = float64(v)
			}
		}
		return out, nil
	case []int32:
		out := make([]float64, len(data))
		for i, v := range data {
			out[i] = float64(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported pixel sample type %T", raw)
	}
}

// sortSlices orders slices along the patient axis, by position when every
// slice has one and by instance number otherwise.
func sortSlices(slices []*slice) {
	byPosition := true
	for _, s := range slices {
		if s.position == nil {
			byPosition = false
			break
		}
	}
	sort.SliceStable(slices, func(i, j int) bool {
		if byPosition {
			return slices[i].position[2] < slices[j].position[2]
		}
		return slices[i].instance < slices[j].instance
	})
}

// sliceSpacing returns the median gap between adjacent slice positions,
// falling back to the slice thickness and then to 1 mm.
func sliceSpacing(slices []*slice) float64 {
	var gaps []float64
	for i := 1; i < len(slices); i++ {
		a, b := slices[i-1].position, slices[i].position
		if a == nil || b == nil {
			gaps = nil
			break
		}
		if g := math.Abs(b[2] - a[2]); g > 1e-6 {
			gaps = append(gaps, g)
		}
	}
	if len(gaps) > 0 {
		sort.Float64s(gaps)
		return stat.Quantile(0.5, stat.Empirical, gaps, nil)
	}
	if t := slices[0].thickness; t > 0 {
		return t
	}
	return 1
}

func stringValues(ds dicom.Dataset, t tag.Tag) []string {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem == nil {
		return nil
	}
	switch v := elem.Value.GetValue().(type) {
	case []string:
		return v
	case []int:
		out := make([]string, len(v))
		for i, n := range v {
			out[i] = strconv.Itoa(n)
		}
		return out
	default:
		return nil
	}
}

func floats(ds dicom.Dataset, t tag.Tag) []float64 {
	var out []float64
	for _, s := range stringValues(ds, t) {
		for _, part := range strings.Split(s, "\\") {
			f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
			if err != nil {
				return nil
			}
			out = append(out, f)
		}
	}
	return out
}

func floatValue(ds dicom.Dataset, t tag.Tag, def float64) float64 {
	if v := floats(ds, t); len(v) > 0 {
		return v[0]
	}
	return def
}

func intValue(ds dicom.Dataset, t tag.Tag, def int) int {
	if v := floats(ds, t); len(v) > 0 {
		return int(v[0])
	}
	return def
}
