package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrsinham/drrforge/internal/dicom"
	"github.com/mrsinham/drrforge/internal/drr"
)

type stubLoader struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls []string
	opts  []drr.LoadOptions
}

func (s *stubLoader) Load(_ context.Context, dir string, opts drr.LoadOptions) (*drr.Volume, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	patientDir := filepath.Base(dir)
	s.calls = append(s.calls, patientDir)
	s.opts = append(s.opts, opts)
	if s.fail[patientDir] {
		return nil, errors.New("corrupt series")
	}
	return &drr.Volume{
		Dims:        [3]int{1, 1, 1},
		Spacing:     r3.Vector{X: 1, Y: 1, Z: 1},
		Density:     []float32{1},
		Orientation: opts.Orientation,
	}, nil
}

// stubProjector fails its failOn-th call and panics on its panicOn-th call,
// counting from 1. Zero disables either.
type stubProjector struct {
	mu       sync.Mutex
	failOn   int
	panicOn  int
	calls    int
	geometry []drr.Geometry
	poses    []drr.Pose
}

func (s *stubProjector) Project(_ context.Context, _ *drr.Volume, g drr.Geometry, p drr.Pose) (*drr.Projection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	switch s.calls {
	case s.failOn:
		return nil, errors.New("ray casting diverged")
	case s.panicOn:
		panic("index out of range")
	}
	s.geometry = append(s.geometry, g)
	s.poses = append(s.poses, p)
	w, h := g.Size()
	proj := drr.NewProjection(w, h)
	for i := range proj.Data {
		proj.Data[i] = float64(i % w)
	}
	return proj, nil
}

// findSelf treats the patient directory itself as the series, except for
// the names listed in empty.
func findSelf(empty ...string) SeriesFinder {
	return func(dir string) (string, error) {
		for _, e := range empty {
			if filepath.Base(dir) == e {
				return "", nil
			}
		}
		return dir, nil
	}
}

func makeDataset(t *testing.T, names ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, n := range names {
		require.NoError(t, os.MkdirAll(filepath.Join(root, n), 0755))
	}
	return root
}

func newTestGenerator(loader drr.Loader, projector drr.Projector, find SeriesFinder) *Generator {
	g := NewGenerator(loader, projector, nil)
	g.FindSeries = find
	g.Geometry.Height = 20
	return g
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	require.NoError(t, imaging.Save(image.NewGray(image.Rect(0, 0, w, h)), path))
}

func TestGenerator_AllCandidates(t *testing.T) {
	root := makeDataset(t, "LIDC-IDRI-0003", "LIDC-IDRI-0001", "LIDC-IDRI-0002", "notes", "LIDC-IDRI-abc")
	require.NoError(t, os.WriteFile(filepath.Join(root, "LIDC-IDRI-0009"), []byte("file, not dir"), 0644))
	out := filepath.Join(t.TempDir(), "images", "nested")

	loader := &stubLoader{}
	proj := &stubProjector{}
	report, err := newTestGenerator(loader, proj, findSelf()).Run(context.Background(), GenerateOptions{
		InputDir:  root,
		OutputDir: out,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"LIDC-IDRI-0001", "LIDC-IDRI-0002", "LIDC-IDRI-0003"}, loader.calls)
	assert.Equal(t, 3, report.Count(StatusRendered))
	for _, id := range loader.calls {
		img, err := imaging.Open(filepath.Join(out, id+".png"))
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 1000, 1000), img.Bounds())
	}

	// Fixed parameters reach the backends.
	for _, o := range loader.opts {
		assert.Equal(t, drr.DefaultLoadOptions(), o)
	}
	for _, p := range proj.poses {
		assert.Equal(t, drr.DefaultPose(), p)
	}
	assert.Equal(t, 1020.0, proj.geometry[0].SDD)
}

func TestGenerator_IsolatesFailures(t *testing.T) {
	root := makeDataset(t, "LIDC-IDRI-0001", "LIDC-IDRI-0002", "LIDC-IDRI-0003", "LIDC-IDRI-0004")
	out := t.TempDir()

	loader := &stubLoader{fail: map[string]bool{"LIDC-IDRI-0002": true}}
	gen := newTestGenerator(loader, &stubProjector{}, findSelf("LIDC-IDRI-0004"))
	report, err := gen.Run(context.Background(), GenerateOptions{InputDir: root, OutputDir: out})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Count(StatusRendered))
	assert.Equal(t, 1, report.Count(StatusFailed))
	assert.Equal(t, 1, report.Count(StatusSkipped))

	failed, ok := report.Find("LIDC-IDRI-0002")
	require.True(t, ok)
	assert.Contains(t, failed.Err, "corrupt series")

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"LIDC-IDRI-0001.png", "LIDC-IDRI-0003.png"}, names)
}

func pngNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestGenerator_ProjectorFailure(t *testing.T) {
	root := makeDataset(t, "LIDC-IDRI-0001", "LIDC-IDRI-0002", "LIDC-IDRI-0003")
	out := t.TempDir()

	proj := &stubProjector{failOn: 2}
	report, err := newTestGenerator(&stubLoader{}, proj, findSelf()).Run(context.Background(), GenerateOptions{InputDir: root, OutputDir: out})
	require.NoError(t, err)

	assert.Equal(t, 3, proj.calls)
	assert.Equal(t, 2, report.Count(StatusRendered))
	require.Equal(t, 1, report.Count(StatusFailed))
	for _, r := range report.Results {
		if r.Status == StatusFailed {
			assert.Contains(t, r.Err, "ray casting diverged")
		}
	}
	assert.Len(t, pngNames(t, out), 2)
}

func TestGenerator_RecoversPanic(t *testing.T) {
	root := makeDataset(t, "LIDC-IDRI-0001", "LIDC-IDRI-0002")
	out := t.TempDir()

	var report *Report
	var err error
	require.NotPanics(t, func() {
		report, err = newTestGenerator(&stubLoader{}, &stubProjector{panicOn: 1}, findSelf()).Run(context.Background(), GenerateOptions{InputDir: root, OutputDir: out})
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(StatusRendered))
	assert.Equal(t, 1, report.Count(StatusFailed))
	assert.Len(t, pngNames(t, out), 1)
}

func TestGenerator_MalformedSeries(t *testing.T) {
	root := t.TempDir()
	var files [][]string
	for i := 1; i <= 2; i++ {
		opts := dicom.DefaultPhantomOptions(root, fmt.Sprintf("LIDC-IDRI-%04d", i))
		opts.Slices, opts.Rows, opts.Columns, opts.Scout = 4, 8, 8, false
		series, err := dicom.WritePhantomSeries(context.Background(), opts)
		require.NoError(t, err)
		files = append(files, series[0].Files)
	}
	// An unknown transfer syntax of the same length makes the parser lose the
	// byte order of the dataset.
	path := files[0][1]
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, bytes.ReplaceAll(data, []byte(dicom.ExplicitVRLittleEndian), []byte("9.9.9.9.9.9.9.9.9.9")), 0644))

	gen := NewGenerator(dicom.NewSeriesLoader(2, nil), &stubProjector{}, nil)
	gen.Geometry.Height = 20
	out := t.TempDir()
	var report *Report
	require.NotPanics(t, func() {
		report, err = gen.Run(context.Background(), GenerateOptions{InputDir: root, OutputDir: out})
	})
	require.NoError(t, err)

	failed, ok := report.Find("LIDC-IDRI-0001")
	require.True(t, ok)
	assert.Equal(t, StatusFailed, failed.Status)
	rendered, ok := report.Find("LIDC-IDRI-0002")
	require.True(t, ok)
	assert.Equal(t, StatusRendered, rendered.Status)
	assert.Equal(t, []string{"LIDC-IDRI-0002.png"}, pngNames(t, out))
}

func TestGenerator_SinglePatient(t *testing.T) {
	root := makeDataset(t, "LIDC-IDRI-0001", "LIDC-IDRI-0072")
	loader := &stubLoader{}
	report, err := newTestGenerator(loader, &stubProjector{}, findSelf()).Run(context.Background(), GenerateOptions{
		InputDir:  root,
		OutputDir: t.TempDir(),
		PatientID: "LIDC-IDRI-0072",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"LIDC-IDRI-0072"}, loader.calls)
	assert.Len(t, report.Results, 1)
}

func TestGenerator_MissingPatientIsFatal(t *testing.T) {
	root := makeDataset(t, "LIDC-IDRI-0001")
	out := filepath.Join(t.TempDir(), "images")
	loader := &stubLoader{}

	_, err := newTestGenerator(loader, &stubProjector{}, findSelf()).Run(context.Background(), GenerateOptions{
		InputDir:  root,
		OutputDir: out,
		PatientID: "LIDC-IDRI-9999",
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, loader.calls)
	assert.NoDirExists(t, out)
}

func TestGenerator_MissingRoot(t *testing.T) {
	_, err := newTestGenerator(&stubLoader{}, &stubProjector{}, findSelf()).Run(context.Background(), GenerateOptions{
		InputDir:  filepath.Join(t.TempDir(), "absent"),
		OutputDir: t.TempDir(),
	})
	assert.ErrorIs(t, err, ErrInputDir)
}

func TestGenerator_NoCandidates(t *testing.T) {
	root := makeDataset(t, "misc")
	report, err := newTestGenerator(&stubLoader{}, &stubProjector{}, findSelf()).Run(context.Background(), GenerateOptions{
		InputDir:  root,
		OutputDir: t.TempDir(),
	})
	require.NoError(t, err)
	assert.Empty(t, report.Results)
}

func TestGenerator_FinderError(t *testing.T) {
	root := makeDataset(t, "LIDC-IDRI-0001")
	find := func(string) (string, error) { return "", errors.New("permission denied") }
	report, err := newTestGenerator(&stubLoader{}, &stubProjector{}, find).Run(context.Background(), GenerateOptions{
		InputDir:  root,
		OutputDir: t.TempDir(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(StatusFailed))
}

func TestGenerator_Config(t *testing.T) {
	_, err := NewGenerator(nil, &stubProjector{}, nil).Run(context.Background(), GenerateOptions{InputDir: "a", OutputDir: "b"})
	assert.ErrorIs(t, err, ErrConfig)

	_, err = NewGenerator(&stubLoader{}, &stubProjector{}, nil).Run(context.Background(), GenerateOptions{OutputDir: "b"})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestGenerator_OutputBusy(t *testing.T) {
	root := makeDataset(t, "LIDC-IDRI-0001")
	out := t.TempDir()

	held, err := LockOutput(out)
	require.NoError(t, err)
	defer func() { _ = held.Release() }()

	_, err = newTestGenerator(&stubLoader{}, &stubProjector{}, findSelf()).Run(context.Background(), GenerateOptions{
		InputDir:  root,
		OutputDir: out,
	})
	assert.ErrorIs(t, err, ErrOutputBusy)
}

func TestGenerator_Cancelled(t *testing.T) {
	root := makeDataset(t, "LIDC-IDRI-0001", "LIDC-IDRI-0002")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	loader := &stubLoader{}
	report, err := newTestGenerator(loader, &stubProjector{}, findSelf()).Run(ctx, GenerateOptions{
		InputDir:  root,
		OutputDir: t.TempDir(),
	})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Empty(t, loader.calls)
}

func TestLockOutput_Release(t *testing.T) {
	dir := t.TempDir()
	first, err := LockOutput(dir)
	require.NoError(t, err)

	_, err = LockOutput(dir)
	assert.ErrorIs(t, err, ErrOutputBusy)

	require.NoError(t, first.Release())
	second, err := LockOutput(dir)
	require.NoError(t, err)
	require.NoError(t, second.Release())

	assert.Equal(t, LockPath(dir), LockPath(dir+"/"))
	assert.NotEqual(t, LockPath(dir), LockPath(filepath.Join(dir, "other")))
}

func TestCropper_Filter(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "cropped")
	for _, n := range []string{"LIDC-IDRI-0001.png", "LIDC-IDRI-0002.png", "LIDC-IDRI-0010.png"} {
		writePNG(t, filepath.Join(in, n), 1000, 1000)
	}
	require.NoError(t, os.WriteFile(filepath.Join(in, "readme.txt"), []byte("x"), 0644))

	report, err := NewCropper(nil).Run(context.Background(), CropOptions{InputDir: in, OutputDir: out, Filter: "0001"})
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, StatusCropped, report.Results[0].Status)

	img, err := imaging.Open(filepath.Join(out, "LIDC-IDRI-0001.png"))
	require.NoError(t, err)
	assert.Equal(t, 385, img.Bounds().Dx())
	assert.Equal(t, 885, img.Bounds().Dy())
	assert.NoFileExists(t, filepath.Join(out, "LIDC-IDRI-0002.png"))
}

func TestCropper_AllSorted(t *testing.T) {
	in := t.TempDir()
	for _, n := range []string{"b.png", "a.png", "c.png"} {
		writePNG(t, filepath.Join(in, n), 700, 200)
	}
	report, err := NewCropper(nil).Run(context.Background(), CropOptions{InputDir: in, OutputDir: t.TempDir()})
	require.NoError(t, err)
	var keys []string
	for _, r := range report.Results {
		keys = append(keys, r.Key)
	}
	assert.Equal(t, []string{"a.png", "b.png", "c.png"}, keys)
	assert.Equal(t, 3, report.Succeeded())
}

func TestCropper_ZeroMatches(t *testing.T) {
	in := t.TempDir()
	writePNG(t, filepath.Join(in, "LIDC-IDRI-0001.png"), 1000, 1000)
	out := t.TempDir()

	report, err := NewCropper(nil).Run(context.Background(), CropOptions{InputDir: in, OutputDir: out, Filter: "9999"})
	require.NoError(t, err)
	assert.Empty(t, report.Results)
	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCropper_MissingInputDir(t *testing.T) {
	out := filepath.Join(t.TempDir(), "cropped")
	_, err := NewCropper(nil).Run(context.Background(), CropOptions{
		InputDir:  filepath.Join(t.TempDir(), "absent"),
		OutputDir: out,
	})
	assert.ErrorIs(t, err, ErrInputDir)
	assert.NoDirExists(t, out)
}

func TestCropper_InputIsFile(t *testing.T) {
	f := filepath.Join(t.TempDir(), "images")
	require.NoError(t, os.WriteFile(f, nil, 0644))
	_, err := NewCropper(nil).Run(context.Background(), CropOptions{InputDir: f, OutputDir: t.TempDir()})
	assert.ErrorIs(t, err, ErrInputDir)
}

func TestCropper_IsolatesBadFiles(t *testing.T) {
	in := t.TempDir()
	writePNG(t, filepath.Join(in, "good.png"), 1000, 1000)
	writePNG(t, filepath.Join(in, "small.png"), 100, 100)
	require.NoError(t, os.WriteFile(filepath.Join(in, "broken.png"), []byte("not a png"), 0644))

	report, err := NewCropper(nil).Run(context.Background(), CropOptions{InputDir: in, OutputDir: t.TempDir()})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(StatusCropped))
	assert.Equal(t, 2, report.Count(StatusFailed))
}

func TestCropper_NotIdempotent(t *testing.T) {
	in := t.TempDir()
	writePNG(t, filepath.Join(in, "x.png"), 1400, 400)
	once := t.TempDir()
	twice := t.TempDir()

	_, err := NewCropper(nil).Run(context.Background(), CropOptions{InputDir: in, OutputDir: once})
	require.NoError(t, err)
	_, err = NewCropper(nil).Run(context.Background(), CropOptions{InputDir: once, OutputDir: twice})
	require.NoError(t, err)

	img, err := imaging.Open(filepath.Join(twice, "x.png"))
	require.NoError(t, err)
	// 1400x400 -> 785x285 -> 170x170
	assert.Equal(t, image.Rect(0, 0, 170, 170), img.Bounds())
}

func TestProcessPatient_NormalizesID(t *testing.T) {
	for _, raw := range []string{"0072", "LIDC-IDRI-0072"} {
		t.Run(raw, func(t *testing.T) {
			root := makeDataset(t, "LIDC-IDRI-0072", "LIDC-IDRI-00721")
			images := t.TempDir()
			cropped := t.TempDir()
			// A stale image for a patient whose ID extends this one.
			writePNG(t, filepath.Join(images, "LIDC-IDRI-00721.png"), 1000, 1000)

			gen := newTestGenerator(&stubLoader{}, &stubProjector{}, findSelf())
			res, err := ProcessPatient(context.Background(), gen, NewCropper(nil), PatientOptions{
				PatientID:  raw,
				InputDir:   root,
				ImagesDir:  images,
				CroppedDir: cropped,
			})
			require.NoError(t, err)
			assert.Equal(t, "LIDC-IDRI-0072", string(res.ID))
			assert.Equal(t, filepath.Join(images, "LIDC-IDRI-0072.png"), res.Image)
			assert.Equal(t, filepath.Join(cropped, "LIDC-IDRI-0072.png"), res.Cropped)
			assert.FileExists(t, res.Image)
			assert.FileExists(t, res.Cropped)
			assert.NoFileExists(t, filepath.Join(cropped, "LIDC-IDRI-00721.png"))
		})
	}
}

func TestProcessPatient_Missing(t *testing.T) {
	root := makeDataset(t, "LIDC-IDRI-0001")
	gen := newTestGenerator(&stubLoader{}, &stubProjector{}, findSelf())
	_, err := ProcessPatient(context.Background(), gen, NewCropper(nil), PatientOptions{
		PatientID:  "0072",
		InputDir:   root,
		ImagesDir:  t.TempDir(),
		CroppedDir: t.TempDir(),
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProcessPatient_NoImage(t *testing.T) {
	root := makeDataset(t, "LIDC-IDRI-0072")
	gen := newTestGenerator(&stubLoader{fail: map[string]bool{"LIDC-IDRI-0072": true}}, &stubProjector{}, findSelf())
	res, err := ProcessPatient(context.Background(), gen, NewCropper(nil), PatientOptions{
		PatientID:  "0072",
		InputDir:   root,
		ImagesDir:  t.TempDir(),
		CroppedDir: t.TempDir(),
	})
	assert.ErrorIs(t, err, ErrNoImage)
	require.NotNil(t, res)
	assert.Empty(t, res.Crop.Results)
}

func TestProcessPatient_EmptyID(t *testing.T) {
	_, err := ProcessPatient(context.Background(), NewGenerator(&stubLoader{}, &stubProjector{}, nil), NewCropper(nil), PatientOptions{PatientID: "  "})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestEndToEnd_Phantom(t *testing.T) {
	if testing.Short() {
		t.Skip("renders real projections")
	}
	root := t.TempDir()
	for i := 1; i <= 2; i++ {
		opts := dicom.DefaultPhantomOptions(root, fmt.Sprintf("LIDC-IDRI-%04d", i))
		opts.Slices, opts.Rows, opts.Columns = 16, 32, 32
		opts.PixelSpacing, opts.SliceThickness = 10, 10
		_, err := dicom.WritePhantomSeries(context.Background(), opts)
		require.NoError(t, err)
	}

	device, err := drr.SelectDevice("auto", 2)
	require.NoError(t, err)
	gen := NewGenerator(dicom.NewSeriesLoader(2, nil), drr.NewRayCaster(device, drr.DefaultStepScale), nil)
	gen.Geometry.Height = 64
	gen.Geometry.DelX = 6
	images := t.TempDir()
	cropped := t.TempDir()

	genReport, err := gen.Run(context.Background(), GenerateOptions{InputDir: root, OutputDir: images})
	require.NoError(t, err)
	assert.Equal(t, 2, genReport.Count(StatusRendered), "%+v", genReport.Results)

	cropReport, err := NewCropper(nil).Run(context.Background(), CropOptions{InputDir: images, OutputDir: cropped})
	require.NoError(t, err)
	assert.Equal(t, 2, cropReport.Count(StatusCropped))

	img, err := imaging.Open(filepath.Join(cropped, "LIDC-IDRI-0001.png"))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 385, 885), img.Bounds())

	// The body shows up brighter than the letterbox.
	r, _, _, _ := img.At(192, 442).RGBA()
	assert.Greater(t, r, uint32(0))
}
