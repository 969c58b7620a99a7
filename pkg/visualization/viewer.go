package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"spimpreview/internal/models"
	"spimpreview/pkg/framecache"
)

// Summary describes the intensity distribution of a frame
type Summary struct {
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
}

func toFloats(pixels []uint16) []float64 {
	values := make([]float64, len(pixels))
	for i, p := range pixels {
		values[i] = float64(p)
	}
	return values
}

// DisplayRange returns the intensity window used to auto-contrast a frame
func DisplayRange(pixels []uint16) (lo, hi float64) {
	if len(pixels) == 0 {
		return 0, 0
	}
	values := toFloats(pixels)
	return floats.Min(values), floats.Max(values)
}

// Summarize computes min, max, mean and standard deviation of a frame
func Summarize(pixels []uint16) Summary {
	if len(pixels) == 0 {
		return Summary{}
	}
	values := toFloats(pixels)
	mean, std := stat.MeanStdDev(values, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return Summary{
		Min:    floats.Min(values),
		Max:    floats.Max(values),
		Mean:   mean,
		StdDev: std,
	}
}

// RMSE is the root mean square difference of two equally sized frames
func RMSE(a, b []uint16) float64 {
	n := len(a)
	if n != len(b) || n == 0 {
		return 0
	}
	return floats.Distance(toFloats(a), toFloats(b), 2) / math.Sqrt(float64(n))
}

// Render maps pixels linearly from [lo, hi] onto the full 16-bit range
func Render(pixels []uint16, width, height int, lo, hi float64) (*image.Gray16, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("image size %dx%d must be positive", width, height)
	}
	if len(pixels) != width*height {
		return nil, fmt.Errorf("got %d pixels for a %dx%d image", len(pixels), width, height)
	}

	img := image.NewGray16(image.Rect(0, 0, width, height))
	span := hi - lo
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := float64(pixels[y*width+x])
			var scaled float64
			if span > 0 {
				scaled = (v - lo) / span * 65535
			} else if v > 0 {
				scaled = 65535
			}
			value := uint16(math.Max(0, math.Min(65535, math.Round(scaled))))
			img.SetGray16(x, y, color.Gray16{Y: value})
		}
	}
	return img, nil
}

// SaveImage writes img as a PNG file
func SaveImage(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}

// Viewer shows result frames by rendering them and, when a snapshot directory
// is set, writing the latest rendering of each plane to disk.
type Viewer struct {
	dir       string
	dims      models.Dimensions
	saveViews bool
	log       zerolog.Logger

	mu        sync.Mutex
	shown     uint64
	lastSeq   uint64
	lastPlane int
	lastRaw   []uint16
	change    float64
	latest    *image.Gray16
	summary   Summary
}

// NewViewer creates a viewer for planes of dims. An empty dir disables snapshots.
func NewViewer(dir string, dims models.Dimensions, saveViews bool, log zerolog.Logger) (*Viewer, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
		}
	}
	return &Viewer{dir: dir, dims: dims, saveViews: saveViews, log: log}, nil
}

// Show renders frame with auto-contrast. Frames older than the last shown
// one are ignored. planes may be nil.
func (v *Viewer) Show(frame *framecache.ResultFrame, planes *framecache.PlaneSet) error {
	if frame == nil {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.shown > 0 && frame.Seq <= v.lastSeq {
		return nil
	}

	lo, hi := DisplayRange(frame.Pixels)
	img, err := Render(frame.Pixels, v.dims.Width, v.dims.Height, lo, hi)
	if err != nil {
		return err
	}
	// change between consecutive results of one plane tracks convergence
	v.change = 0
	if v.shown > 0 && v.lastPlane == frame.Plane {
		v.change = RMSE(v.lastRaw, frame.Pixels)
	}
	v.latest = img
	v.lastSeq = frame.Seq
	v.lastPlane = frame.Plane
	v.lastRaw = frame.Pixels
	v.shown++
	v.summary = Summarize(frame.Pixels)

	v.log.Debug().
		Int("plane", frame.Plane).
		Uint64("seq", frame.Seq).
		Float64("min", v.summary.Min).
		Float64("max", v.summary.Max).
		Float64("mean", v.summary.Mean).
		Float64("change", v.change).
		Msg("result frame shown")

	if v.dir == "" {
		return nil
	}

	name := filepath.Join(v.dir, fmt.Sprintf("plane_%03d_deconvolved.png", frame.Plane))
	if err := SaveImage(img, name); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	if v.saveViews && planes != nil && planes.Plane == frame.Plane {
		for i, view := range planes.Views {
			lo, hi := DisplayRange(view)
			viewImg, err := Render(view, v.dims.Width, v.dims.Height, lo, hi)
			if err != nil {
				return err
			}
			name := filepath.Join(v.dir, fmt.Sprintf("plane_%03d_view_%d.png", frame.Plane, i))
			if err := SaveImage(viewImg, name); err != nil {
				return fmt.Errorf("failed to save view snapshot: %w", err)
			}
		}
	}
	return nil
}

// Latest returns the most recent rendering, or nil
func (v *Viewer) Latest() *image.Gray16 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.latest
}

// Shown returns how many frames were rendered
func (v *Viewer) Shown() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.shown
}

// LastChange returns the RMSE between the last two frames of the same plane
func (v *Viewer) LastChange() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.change
}

// LastSummary returns the statistics of the most recent frame
func (v *Viewer) LastSummary() Summary {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.summary
}
