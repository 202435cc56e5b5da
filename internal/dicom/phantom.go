package dicom

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	randv2 "math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// PhantomOptions configures WritePhantomSeries.
type PhantomOptions struct {
	Root           string // dataset root; files go under Root/PatientID
	PatientID      string
	Slices         int
	Rows           int
	Columns        int
	PixelSpacing   float64 // mm
	SliceThickness float64 // mm
	Scout          bool    // also write a 3-slice localizer series
	Workers        int     // 0 uses one per CPU
}

// DefaultPhantomOptions returns a small chest phantom for patientID.
func DefaultPhantomOptions(root, patientID string) PhantomOptions {
	return PhantomOptions{
		Root:           root,
		PatientID:      patientID,
		Slices:         40,
		Rows:           64,
		Columns:        64,
		PixelSpacing:   5,
		SliceThickness: 5,
		Scout:          true,
		Workers:        0,
	}
}

// Validate checks the options.
func (o PhantomOptions) Validate() error {
	if o.Root == "" {
		return fmt.Errorf("phantom root is required")
	}
	if o.PatientID == "" {
		return fmt.Errorf("patient ID is required")
	}
	if o.Slices < 1 || o.Rows < 1 || o.Columns < 1 {
		return fmt.Errorf("phantom needs at least one voxel per axis, got %dx%dx%d", o.Columns, o.Rows, o.Slices)
	}
	if o.PixelSpacing <= 0 || o.SliceThickness <= 0 {
		return fmt.Errorf("phantom spacing must be > 0")
	}
	return nil
}

// PhantomSeries describes one written series.
type PhantomSeries struct {
	Dir       string
	SeriesUID string
	Files     []string
}

// sliceTask holds everything a worker needs to write one slice.
type sliceTask struct {
	path     string
	index    int
	metadata []*dicom.Element
	rows     int
	cols     int
	z        float64
	seed     uint64
	geom     phantomGeometry
}

// phantomGeometry describes the anatomy in millimetres around the volume centre.
type phantomGeometry struct {
	spacing     float64
	halfX       float64
	halfY       float64
	halfZ       float64
	lungOffsetX float64
}

// WritePhantomSeries writes a synthetic chest CT for one patient: an
// elliptical soft tissue body, two lung cavities and a bone spine. The main
// series goes to Root/PatientID/ST000000/SE000000; the optional scout
// series to SE000001.
func WritePhantomSeries(ctx context.Context, opts PhantomOptions) ([]PhantomSeries, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	studyUID := NewUID(opts.PatientID, "study")
	frameUID := NewUID(opts.PatientID, "frame")
	studyDir := filepath.Join(opts.Root, opts.PatientID, "ST000000")

	type seriesPlan struct {
		number      int
		description string
		slices      int
		rows, cols  int
		spacing     float64
		thickness   float64
	}
	plans := []seriesPlan{{
		number: 1, description: "CHEST PHANTOM",
		slices: opts.Slices, rows: opts.Rows, cols: opts.Columns,
		spacing: opts.PixelSpacing, thickness: opts.SliceThickness,
	}}
	if opts.Scout {
		plans = append(plans, seriesPlan{
			number: 2, description: "LOCALIZER",
			slices: min(3, opts.Slices), rows: max(1, opts.Rows/2), cols: max(1, opts.Columns/2),
			spacing: opts.PixelSpacing * 2, thickness: opts.SliceThickness,
		})
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(opts.PatientID))
	baseSeed := h.Sum64()

	centers, widths, windowNames := windowValues(Windows)

	var tasks []sliceTask
	var written []PhantomSeries
	for si, plan := range plans {
		seriesUID := NewUID(opts.PatientID, "series", intToIS(plan.number))
		dir := filepath.Join(studyDir, fmt.Sprintf("SE%06d", si))
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create series dir: %w", err)
		}

		extentX := float64(plan.cols) * plan.spacing
		extentY := float64(plan.rows) * plan.spacing
		extentZ := float64(plan.slices) * plan.thickness
		geom := phantomGeometry{
			spacing:     plan.spacing,
			halfX:       extentX * 0.42,
			halfY:       extentY * 0.32,
			halfZ:       extentZ * 0.45,
			lungOffsetX: extentX * 0.2,
		}

		series := PhantomSeries{Dir: dir, SeriesUID: seriesUID}
		for k := 0; k < plan.slices; k++ {
			// Instances run head to feet, as scanners usually store them.
			z := extentZ/2 - (float64(k)+0.5)*plan.thickness
			sopUID := NewUID(opts.PatientID, "series", intToIS(plan.number), "instance", intToIS(k+1))
			path := filepath.Join(dir, fmt.Sprintf("IM%06d", k+1))

			metadata := []*dicom.Element{
				mustNewElement(tag.TransferSyntaxUID, []string{ExplicitVRLittleEndian}),
				mustNewElement(tag.MediaStorageSOPClassUID, []string{CTImageStorageUID}),
				mustNewElement(tag.MediaStorageSOPInstanceUID, []string{sopUID}),
				mustNewElement(tag.PatientName, []string{"PHANTOM^" + opts.PatientID}),
				mustNewElement(tag.PatientID, []string{opts.PatientID}),
				mustNewElement(tag.StudyInstanceUID, []string{studyUID}),
				mustNewElement(tag.StudyDate, []string{"20000101"}),
				mustNewElement(tag.StudyDescription, []string{"CHEST CT"}),
				mustNewElement(tag.SeriesInstanceUID, []string{seriesUID}),
				mustNewElement(tag.SeriesNumber, []string{intToIS(plan.number)}),
				mustNewElement(tag.SeriesDescription, []string{plan.description}),
				mustNewElement(tag.Modality, []string{"CT"}),
				mustNewElement(tag.SOPClassUID, []string{CTImageStorageUID}),
				mustNewElement(tag.SOPInstanceUID, []string{sopUID}),
				mustNewElement(tag.InstanceNumber, []string{intToIS(k + 1)}),
				mustNewElement(tag.FrameOfReferenceUID, []string{frameUID}),
				mustNewElement(tag.PixelSpacing, []string{floatToDS(plan.spacing), floatToDS(plan.spacing)}),
				mustNewElement(tag.SliceThickness, []string{floatToDS(plan.thickness)}),
				mustNewElement(tag.ImagePositionPatient, []string{
					floatToDS(-extentX / 2), floatToDS(-extentY / 2), floatToDS(z),
				}),
				mustNewElement(tag.ImageOrientationPatient, []string{"1", "0", "0", "0", "1", "0"}),
				mustNewElement(tag.SliceLocation, []string{floatToDS(z)}),
				mustNewElement(tag.Rows, []int{plan.rows}),
				mustNewElement(tag.Columns, []int{plan.cols}),
				mustNewElement(tag.BitsAllocated, []int{16}),
				mustNewElement(tag.BitsStored, []int{16}),
				mustNewElement(tag.HighBit, []int{15}),
				mustNewElement(tag.PixelRepresentation, []int{0}),
				mustNewElement(tag.SamplesPerPixel, []int{1}),
				mustNewElement(tag.PhotometricInterpretation, []string{"MONOCHROME2"}),
				mustNewElement(tag.RescaleIntercept, []string{floatToDS(RescaleIntercept)}),
				mustNewElement(tag.RescaleSlope, []string{floatToDS(RescaleSlope)}),
				mustNewElement(tag.RescaleType, []string{"HU"}),
				mustNewElement(tag.WindowCenter, centers),
				mustNewElement(tag.WindowWidth, widths),
				mustNewElement(tag.WindowCenterWidthExplanation, windowNames),
			}

			tasks = append(tasks, sliceTask{
				path:     path,
				index:    len(tasks),
				metadata: metadata,
				rows:     plan.rows,
				cols:     plan.cols,
				z:        z,
				seed:     baseSeed + uint64(len(tasks)),
				geom:     geom,
			})
			series.Files = append(series.Files, path)
		}
		written = append(written, series)
	}

	if err := runSliceTasks(ctx, tasks, opts.Workers); err != nil {
		return nil, err
	}
	return written, nil
}

// runSliceTasks writes the slices with a bounded worker pool and returns
// the first error.
func runSliceTasks(ctx context.Context, tasks []sliceTask, workers int) error {
	numWorkers := workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	if numWorkers > len(tasks) {
		numWorkers = len(tasks)
	}

	taskChan := make(chan sliceTask, len(tasks))
	errChan := make(chan error, len(tasks))

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskChan {
				if err := ctx.Err(); err != nil {
					errChan <- err
					continue
				}
				if err := writeSlice(task); err != nil {
					errChan <- fmt.Errorf("write slice %d: %w", task.index, err)
				}
			}
		}()
	}

	for _, task := range tasks {
		taskChan <- task
	}
	close(taskChan)
	wg.Wait()
	close(errChan)

	if err, ok := <-errChan; ok {
		return err
	}
	return nil
}

func writeSlice(task sliceTask) error {
	rng := randv2.New(randv2.NewPCG(task.seed, task.seed))
	nativeFrame := frame.NewNativeFrame[uint16](16, task.rows, task.cols, task.rows*task.cols, 1)

	g := task.geom
	for y := 0; y < task.rows; y++ {
		py := (float64(y) - float64(task.rows-1)/2) * g.spacing
		for x := 0; x < task.cols; x++ {
			px := (float64(x) - float64(task.cols-1)/2) * g.spacing
			hu := phantomHU(g, px, py, task.z)
			if hu > HUAir {
				hu += (rng.Float64() - 0.5) * 10
			}
			nativeFrame.RawData[y*task.cols+x] = storeHU(hu)
		}
	}

	elements := make([]*dicom.Element, len(task.metadata)+1)
	copy(elements, task.metadata)
	elements[len(task.metadata)] = mustNewElement(tag.PixelData, dicom.PixelDataInfo{
		Frames: []*frame.Frame{
			{
				Encapsulated: false,
				NativeData:   nativeFrame,
			},
		},
	})
	return writeDatasetToFile(task.path, dicom.Dataset{Elements: elements})
}

// phantomHU returns the tissue value at (x, y, z) mm from the volume centre.
// Image rows run posterior, so +y is towards the back.
func phantomHU(g phantomGeometry, x, y, z float64) float64 {
	if math.Abs(z/g.halfZ) > 1 {
		return HUAir
	}
	if sq(x/g.halfX)+sq(y/g.halfY) > 1 {
		return HUAir
	}

	// Spine: a cylinder just in front of the posterior body wall.
	spineY := g.halfY * 0.7
	spineR := g.halfX * 0.14
	if sq(x)+sq(y-spineY) <= sq(spineR) {
		return HUBone
	}

	// Lungs: two ellipsoids either side of the midline.
	lungA, lungB, lungC := g.halfX*0.32, g.halfY*0.6, g.halfZ*0.8
	for _, cx := range []float64{-g.lungOffsetX, g.lungOffsetX} {
		if sq((x-cx)/lungA)+sq((y+g.halfY*0.05)/lungB)+sq(z/lungC) <= 1 {
			return HULung
		}
	}
	return HUSoftTissue
}

// storeHU converts a Hounsfield value to the stored unsigned sample.
func storeHU(hu float64) uint16 {
	v := math.Round((hu - RescaleIntercept) / RescaleSlope)
	return uint16(math.Max(0, math.Min(HUMax-RescaleIntercept, v)))
}

func sq(v float64) float64 { return v * v }

// writeDatasetToFile writes a DICOM dataset to a file
func writeDatasetToFile(filename string, ds dicom.Dataset, opts ...dicom.WriteOption) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return dicom.Write(f, ds, opts...)
}
