package drr

import (
	"fmt"
	"runtime"
	"strings"
)

// DeviceKind names a compute backend.
type DeviceKind int

const (
	DeviceAuto DeviceKind = iota
	DeviceCPU
	DeviceGPU
)

// String returns the configuration name of the device kind.
func (k DeviceKind) String() string {
	switch k {
	case DeviceCPU:
		return "cpu"
	case DeviceGPU:
		return "gpu"
	default:
		return "auto"
	}
}

// ParseDevice parses a device name.
func ParseDevice(s string) (DeviceKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return DeviceAuto, nil
	case "cpu":
		return DeviceCPU, nil
	case "gpu", "cuda":
		return DeviceGPU, nil
	default:
		return DeviceAuto, fmt.Errorf("invalid device: %s (valid: auto, cpu, gpu)", s)
	}
}

// Device is the resolved compute backend for projections.
type Device struct {
	Requested DeviceKind
	Kind      DeviceKind
	Workers   int
}

// Fallback reports whether a GPU was asked for but the CPU is used instead.
func (d Device) Fallback() bool { return d.Requested == DeviceGPU && d.Kind != DeviceGPU }

func (d Device) String() string {
	return fmt.Sprintf("%s (%d workers)", d.Kind, d.Workers)
}

// SelectDevice resolves the requested device name. Only the CPU ray caster
// is built in, so "auto" and "gpu" both resolve to it; callers should warn
// when Fallback is set. Workers <= 0 uses one worker per CPU.
func SelectDevice(requested string, workers int) (Device, error) {
	kind, err := ParseDevice(requested)
	if err != nil {
		return Device{}, err
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return Device{Requested: kind, Kind: DeviceCPU, Workers: workers}, nil
}
