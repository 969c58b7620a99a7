package visualization

import (
	"fmt"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"spimpreview/internal/models"
	"spimpreview/pkg/framecache"
)

var testDims = models.Dimensions{Width: 4, Height: 3, Depth: 2}

func rampFrame(plane int, seq uint64, offset uint16) *framecache.ResultFrame {
	pixels := make([]uint16, testDims.PlaneLen())
	for i := range pixels {
		pixels[i] = offset + uint16(i)*10
	}
	return &framecache.ResultFrame{Plane: plane, Seq: seq, Pixels: pixels, UpdatedAt: time.Now()}
}

func TestDisplayRange(t *testing.T) {
	lo, hi := DisplayRange([]uint16{40, 7, 900, 12})
	if lo != 7 || hi != 900 {
		t.Errorf("Expected range [7, 900], got [%f, %f]", lo, hi)
	}

	lo, hi = DisplayRange(nil)
	if lo != 0 || hi != 0 {
		t.Errorf("Expected empty range for no pixels, got [%f, %f]", lo, hi)
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize([]uint16{2, 4, 4, 4, 5, 5, 7, 9})
	if s.Min != 2 || s.Max != 9 || s.Mean != 5 {
		t.Errorf("Unexpected summary %+v", s)
	}
	// sample standard deviation
	if math.Abs(s.StdDev-2.138) > 0.001 {
		t.Errorf("Expected std dev ~2.138, got %f", s.StdDev)
	}

	if s := Summarize([]uint16{3}); s.StdDev != 0 {
		t.Errorf("Expected zero std dev for a single pixel, got %f", s.StdDev)
	}
}

func TestRMSE(t *testing.T) {
	if got := RMSE([]uint16{1, 2, 3, 4}, []uint16{3, 4, 5, 6}); got != 2 {
		t.Errorf("Expected RMSE 2, got %f", got)
	}
	if got := RMSE([]uint16{1}, []uint16{1, 2}); got != 0 {
		t.Errorf("Expected 0 for mismatched lengths, got %f", got)
	}
}

func TestViewerTracksChange(t *testing.T) {
	v, err := NewViewer("", testDims, false, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create viewer: %v", err)
	}

	steps := []struct {
		frame  *framecache.ResultFrame
		change float64
	}{
		{rampFrame(0, 1, 0), 0},
		{rampFrame(0, 2, 4), 4},
		{rampFrame(1, 3, 100), 0},
	}
	for i, step := range steps {
		if err := v.Show(step.frame, nil); err != nil {
			t.Fatalf("Step %d: Show failed: %v", i, err)
		}
		if got := v.LastChange(); math.Abs(got-step.change) > 1e-9 {
			t.Errorf("Step %d: expected change %f, got %f", i, step.change, got)
		}
	}
}

// TestRender verifies the contrast stretch
func TestRender(t *testing.T) {
	pixels := []uint16{100, 150, 200, 100}
	img, err := Render(pixels, 2, 2, 100, 200)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	expected := [][]uint16{{0, 32768}, {65535, 0}}
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			if got := img.Gray16At(x, y).Y; got != expected[y][x] {
				t.Errorf("Pixel (%d,%d): expected %d, got %d", x, y, expected[y][x], got)
			}
		}
	}

	flat, err := Render([]uint16{5, 5}, 2, 1, 5, 5)
	if err != nil {
		t.Fatalf("Render of a flat frame failed: %v", err)
	}
	if flat.Gray16At(0, 0).Y != 65535 {
		t.Errorf("Expected a flat non-zero frame to render white, got %d", flat.Gray16At(0, 0).Y)
	}

	if _, err := Render(pixels, 3, 2, 0, 1); err == nil {
		t.Error("Expected an error for a size mismatch")
	}
	if _, err := Render(nil, 0, 2, 0, 1); err == nil {
		t.Error("Expected an error for a zero width")
	}
}

func TestViewerWithoutSnapshots(t *testing.T) {
	v, err := NewViewer("", testDims, false, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create viewer: %v", err)
	}
	if v.Latest() != nil {
		t.Error("Expected no rendering before the first frame")
	}

	if err := v.Show(rampFrame(0, 1, 0), nil); err != nil {
		t.Fatalf("Show failed: %v", err)
	}
	if err := v.Show(nil, nil); err != nil {
		t.Errorf("Expected nil frames to be ignored, got %v", err)
	}

	img := v.Latest()
	if img == nil || img.Bounds().Dx() != testDims.Width || img.Bounds().Dy() != testDims.Height {
		t.Fatalf("Expected a %dx%d rendering", testDims.Width, testDims.Height)
	}
	if img.Gray16At(0, 0).Y != 0 || img.Gray16At(3, 2).Y != 65535 {
		t.Error("Expected the frame to be stretched across the full range")
	}
	if s := v.LastSummary(); s.Max != 110 {
		t.Errorf("Expected max 110, got %f", s.Max)
	}
}

// TestViewerSkipsStaleFrames makes sure an older frame never replaces a newer one
func TestViewerSkipsStaleFrames(t *testing.T) {
	v, err := NewViewer("", testDims, false, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create viewer: %v", err)
	}

	if err := v.Show(rampFrame(0, 5, 0), nil); err != nil {
		t.Fatalf("Show failed: %v", err)
	}
	if err := v.Show(rampFrame(0, 3, 50), nil); err != nil {
		t.Fatalf("Show failed: %v", err)
	}
	if v.Shown() != 1 {
		t.Errorf("Expected 1 shown frame, got %d", v.Shown())
	}
	if s := v.LastSummary(); s.Min != 0 {
		t.Errorf("Expected the newer frame to stay displayed, got min %f", s.Min)
	}
}

// TestViewerSnapshots checks the files written to the snapshot directory
func TestViewerSnapshots(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snapshots")
	v, err := NewViewer(dir, testDims, true, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create viewer: %v", err)
	}

	planes := &framecache.PlaneSet{Plane: 1, Views: [][]uint16{
		rampFrame(1, 0, 0).Pixels,
		rampFrame(1, 0, 7).Pixels,
	}}
	if err := v.Show(rampFrame(1, 1, 0), planes); err != nil {
		t.Fatalf("Show failed: %v", err)
	}

	expected := []string{
		"plane_001_deconvolved.png",
		"plane_001_view_0.png",
		"plane_001_view_1.png",
	}
	for _, name := range expected {
		path := filepath.Join(dir, name)
		file, err := os.Open(path)
		if err != nil {
			t.Errorf("Expected snapshot %s: %v", name, err)
			continue
		}
		img, err := png.Decode(file)
		file.Close()
		if err != nil {
			t.Errorf("Snapshot %s is not a valid PNG: %v", name, err)
			continue
		}
		if img.Bounds().Dx() != testDims.Width {
			t.Errorf("Snapshot %s has width %d, expected %d", name, img.Bounds().Dx(), testDims.Width)
		}
	}

	// views of another plane are not written next to this result
	other := &framecache.PlaneSet{Plane: 0, Views: planes.Views}
	if err := v.Show(rampFrame(1, 2, 0), other); err != nil {
		t.Fatalf("Show failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, fmt.Sprintf("plane_%03d_view_0.png", 0))); !os.IsNotExist(err) {
		t.Error("Expected no view snapshot for a mismatched plane")
	}
}
