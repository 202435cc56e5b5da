package dicom

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// CT storage constants.
const (
	CTImageStorageUID      = "1.2.840.10008.5.1.4.1.1.2"
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"

	RescaleIntercept = -1024.0 // water is stored as 1024
	RescaleSlope     = 1.0
)

// Hounsfield values of the tissues drawn by the phantom writer.
const (
	HUAir        = -1000
	HULung       = -850
	HUSoftTissue = 40
	HUBone       = 700
	HUMax        = 3071
)

// Window is a display window preset.
type Window struct {
	Name   string
	Center float64
	Width  float64
}

// Chest CT presets, written as multi-valued window attributes in phantom
// headers. The first one is the default display window.
var Windows = []Window{
	{Name: "LUNG", Center: -600, Width: 1500},
	{Name: "MEDIASTINUM", Center: 40, Width: 400},
	{Name: "BONE", Center: 400, Width: 2000},
}

// windowValues returns the centers, widths and explanations of the presets
// as DICOM string values.
func windowValues(ws []Window) (centers, widths, names []string) {
	for _, w := range ws {
		centers = append(centers, floatToDS(w.Center))
		widths = append(widths, floatToDS(w.Width))
		names = append(names, w.Name)
	}
	return centers, widths, names
}

// mustNewElement creates a new DICOM element, panicking on error.
func mustNewElement(t tag.Tag, value interface{}) *dicom.Element {
	elem, err := dicom.NewElement(t, value)
	if err != nil {
		panic(fmt.Sprintf("failed to create element %v: %v", t, err))
	}
	return elem
}

// floatToDS converts a float64 to a DICOM Decimal String.
func floatToDS(f float64) string {
	return fmt.Sprintf("%.6g", f)
}

// intToIS converts an int to a DICOM Integer String.
func intToIS(i int) string {
	return fmt.Sprintf("%d", i)
}

// NewUID derives a stable DICOM UID from the given parts, in the 2.25
// (UUID-derived) form.
func NewUID(parts ...string) string {
	u := uuid.NewSHA1(uuid.NameSpaceOID, []byte(strings.Join(parts, "/")))
	return "2.25." + new(big.Int).SetBytes(u[:]).String()
}
