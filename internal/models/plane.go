package models

import (
	"fmt"
	"strings"
	"time"
)

// Dimensions describes the geometry shared by every view volume:
// Depth planes of Width*Height 16-bit samples each.
type Dimensions struct {
	Width  int
	Height int
	Depth  int
}

// PlaneLen returns the number of samples in one plane
func (d Dimensions) PlaneLen() int {
	return d.Width * d.Height
}

// PlaneBytes returns the size of one plane on disk
func (d Dimensions) PlaneBytes() int64 {
	return int64(d.Width) * int64(d.Height) * 2
}

// VolumeBytes returns the minimum size of a volume file with these dimensions
func (d Dimensions) VolumeBytes() int64 {
	return int64(d.Depth) * d.PlaneBytes()
}

// Validate checks that all dimensions are positive
func (d Dimensions) Validate() error {
	if d.Width <= 0 || d.Height <= 0 || d.Depth <= 0 {
		return fmt.Errorf("invalid dimensions %dx%dx%d: all must be positive", d.Width, d.Height, d.Depth)
	}
	return nil
}

func (d Dimensions) String() string {
	return fmt.Sprintf("%dx%dx%d", d.Width, d.Height, d.Depth)
}

// KernelDimensions is the 2D footprint of the engine's convolution kernels
type KernelDimensions struct {
	Width  int
	Height int
}

// KernelMode selects the iteration strategy of the restoration engine
type KernelMode int

const (
	Independent KernelMode = iota
	EfficientBayesian
	Optimization1
	Optimization2
)

// DefaultKernelMode is the strategy preselected in the preview dialog
const DefaultKernelMode = Optimization1

var kernelModeNames = [...]string{
	Independent:       "INDEPENDENT",
	EfficientBayesian: "EFFICIENT_BAYESIAN",
	Optimization1:     "OPTIMIZATION_1",
	Optimization2:     "OPTIMIZATION_2",
}

func (m KernelMode) String() string {
	if m < 0 || int(m) >= len(kernelModeNames) {
		return fmt.Sprintf("KernelMode(%d)", int(m))
	}
	return kernelModeNames[m]
}

// ParseKernelMode maps a mode name (case-insensitive) onto a KernelMode
func ParseKernelMode(name string) (KernelMode, error) {
	normalized := strings.ToUpper(strings.TrimSpace(name))
	for i, n := range kernelModeNames {
		if n == normalized {
			return KernelMode(i), nil
		}
	}
	return DefaultKernelMode, fmt.Errorf("unknown iteration type %q (want one of %s)",
		name, strings.Join(kernelModeNames[:], ", "))
}

// Request is one interactive recompute ask. Requests are transient: only the most
// recently submitted, not yet started request is ever executed.
type Request struct {
	// ID correlates log lines and status events for this request
	ID string

	// Iterations is the number of engine iterations to run
	Iterations int

	// Plane selects the slice of every view volume to restore
	Plane int

	// SubmittedAt is when the interface layer handed the request over
	SubmittedAt time.Time
}

// WorkerState is the lifecycle state of the recompute worker
type WorkerState int32

const (
	Idle WorkerState = iota
	Computing
	ShuttingDown
)

func (s WorkerState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Computing:
		return "computing"
	case ShuttingDown:
		return "shutting-down"
	default:
		return "unknown"
	}
}
