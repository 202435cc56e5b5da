package drr

import (
	"fmt"
	"math"
	"strings"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Default projection parameters.
const (
	DefaultSDD        = 1020.0 // source-to-detector distance, mm
	DefaultHeight     = 200    // detector rows
	DefaultDelX       = 2.0    // detector pixel spacing, mm
	DefaultConvention = "ZXY"
)

// DefaultTranslation is the source position relative to the isocenter, in mm.
var DefaultTranslation = r3.Vector{X: 0, Y: 850, Z: 0}

// Geometry describes the detector of the virtual X-ray camera.
type Geometry struct {
	SDD    float64 // source-to-detector distance, mm
	Height int     // rows
	Width  int     // columns; 0 means square
	DelX   float64 // column spacing, mm
	DelY   float64 // row spacing, mm; 0 means DelX
}

// DefaultGeometry returns the fixed detector used for every patient.
func DefaultGeometry() Geometry {
	return Geometry{SDD: DefaultSDD, Height: DefaultHeight, DelX: DefaultDelX}
}

// Size returns the detector dimensions in pixels.
func (g Geometry) Size() (width, height int) {
	if g.Width <= 0 {
		return g.Height, g.Height
	}
	return g.Width, g.Height
}

// PixelSpacing returns the column and row spacing in mm.
func (g Geometry) PixelSpacing() (dx, dy float64) {
	if g.DelY <= 0 {
		return g.DelX, g.DelX
	}
	return g.DelX, g.DelY
}

// Validate checks the geometry.
func (g Geometry) Validate() error {
	if !(g.SDD > 0) {
		return fmt.Errorf("sdd must be > 0, got %g", g.SDD)
	}
	if g.Height <= 0 {
		return fmt.Errorf("detector height must be > 0, got %d", g.Height)
	}
	if g.Width < 0 {
		return fmt.Errorf("detector width must be >= 0, got %d", g.Width)
	}
	if !(g.DelX > 0) {
		return fmt.Errorf("pixel spacing must be > 0, got %g", g.DelX)
	}
	if g.DelY < 0 {
		return fmt.Errorf("row spacing must be >= 0, got %g", g.DelY)
	}
	return nil
}

// Pose places the camera in the isocenter frame. Rotation holds Euler angles
// in radians, applied in the order given by Convention.
type Pose struct {
	Rotation    [3]float64
	Translation r3.Vector
	Convention  string
}

// DefaultPose returns the fixed pose used for every patient.
func DefaultPose() Pose {
	return Pose{Translation: DefaultTranslation, Convention: DefaultConvention}
}

// Validate checks the Euler convention.
func (p Pose) Validate() error {
	_, err := EulerMatrix(p.Convention, p.Rotation)
	return err
}

// ValidateConvention checks that convention names three axes from X, Y and Z
// with no axis repeated back to back.
func ValidateConvention(convention string) error {
	c := strings.ToUpper(convention)
	if len(c) != 3 {
		return fmt.Errorf("euler convention must have 3 axes, got %q", convention)
	}
	for i := 0; i < 3; i++ {
		if !strings.ContainsRune("XYZ", rune(c[i])) {
			return fmt.Errorf("invalid axis %q in euler convention %q", c[i], convention)
		}
		if i > 0 && c[i] == c[i-1] {
			return fmt.Errorf("euler convention %q repeats axis %q", convention, c[i])
		}
	}
	return nil
}

// EulerMatrix builds the rotation for the given convention. The elementary
// rotations are multiplied in the order of the convention letters, so "ZXY"
// gives Rz(a0)·Rx(a1)·Ry(a2).
func EulerMatrix(convention string, angles [3]float64) (*mat.Dense, error) {
	if err := ValidateConvention(convention); err != nil {
		return nil, err
	}
	c := strings.ToUpper(convention)
	r := axisMatrix(c[0], angles[0])
	for i := 1; i < 3; i++ {
		var next mat.Dense
		next.Mul(r, axisMatrix(c[i], angles[i]))
		r = &next
	}
	return r, nil
}

func axisMatrix(axis byte, angle float64) *mat.Dense {
	s, c := math.Sincos(angle)
	switch axis {
	case 'X':
		return mat.NewDense(3, 3, []float64{
			1, 0, 0,
			0, c, -s,
			0, s, c,
		})
	case 'Y':
		return mat.NewDense(3, 3, []float64{
			c, 0, s,
			0, 1, 0,
			-s, 0, c,
		})
	default:
		return mat.NewDense(3, 3, []float64{
			c, -s, 0,
			s, c, 0,
			0, 0, 1,
		})
	}
}

// rotation is a 3x3 matrix stored by rows for cheap vector products.
type rotation [3]r3.Vector

func rotationFromDense(m *mat.Dense) rotation {
	var r rotation
	for i := 0; i < 3; i++ {
		r[i] = r3.Vector{X: m.At(i, 0), Y: m.At(i, 1), Z: m.At(i, 2)}
	}
	return r
}

func (r rotation) apply(v r3.Vector) r3.Vector {
	return r3.Vector{X: r[0].Dot(v), Y: r[1].Dot(v), Z: r[2].Dot(v)}
}

// Camera axes in the isocenter frame before rotation: the source looks
// along -Y, columns run along +X and rows run toward -Z (feet).
var (
	cameraForward = r3.Vector{X: 0, Y: -1, Z: 0}
	cameraRight   = r3.Vector{X: 1, Y: 0, Z: 0}
	cameraDown    = r3.Vector{X: 0, Y: 0, Z: -1}
)

// camera holds the world-space source and detector layout of one pose.
type camera struct {
	source  r3.Vector
	corner  r3.Vector // centre of pixel (0, 0)
	colStep r3.Vector
	rowStep r3.Vector
}

func newCamera(g Geometry, p Pose) (camera, error) {
	m, err := EulerMatrix(p.Convention, p.Rotation)
	if err != nil {
		return camera{}, err
	}
	rot := rotationFromDense(m)
	w, h := g.Size()
	dx, dy := g.PixelSpacing()

	forward := rot.apply(cameraForward)
	right := rot.apply(cameraRight)
	down := rot.apply(cameraDown)

	centre := p.Translation.Add(forward.Mul(g.SDD))
	corner := centre.
		Sub(right.Mul(dx * float64(w-1) / 2)).
		Sub(down.Mul(dy * float64(h-1) / 2))

	return camera{
		source:  p.Translation,
		corner:  corner,
		colStep: right.Mul(dx),
		rowStep: down.Mul(dy),
	}, nil
}

// pixel returns the world position of the centre of pixel (x, y).
func (c camera) pixel(x, y int) r3.Vector {
	return c.corner.Add(c.colStep.Mul(float64(x))).Add(c.rowStep.Mul(float64(y)))
}
