// Package fixtures writes synthetic SPIM folders for tests: raw little-endian
// 16-bit volumes, dims.txt descriptors and PSF folders.
package fixtures

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"spimpreview/internal/models"
)

// Pattern returns the sample value of view v at (x, y) of plane z
type Pattern func(v, x, y, z int) uint16

// DefaultPattern encodes all coordinates so every sample of a small volume is distinct
// and both bytes of each sample are exercised.
func DefaultPattern(v, x, y, z int) uint16 {
	return uint16(v<<12 | z<<8 | y<<4 | x)
}

// WriteVolume writes a plane-major raw volume for view v
func WriteVolume(t testing.TB, path string, dims models.Dimensions, v int, pattern Pattern) {
	t.Helper()

	data := make([]byte, dims.VolumeBytes())
	for z := 0; z < dims.Depth; z++ {
		for y := 0; y < dims.Height; y++ {
			for x := 0; x < dims.Width; x++ {
				idx := z*dims.PlaneLen() + y*dims.Width + x
				binary.LittleEndian.PutUint16(data[idx*2:], pattern(v, x, y, z))
			}
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write volume %s: %v", path, err)
	}
}

// WriteDims writes a dims.txt descriptor with one integer per line
func WriteDims(t testing.TB, dir string, values ...int) {
	t.Helper()

	content := ""
	for _, v := range values {
		content += fmt.Sprintf("%d\n", v)
	}
	if err := os.WriteFile(filepath.Join(dir, "dims.txt"), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write dims.txt in %s: %v", dir, err)
	}
}

// Folders holds the roots of a synthetic dataset
type Folders struct {
	SPIM string
	PSF  string
}

// BuildDataset creates <root>/spim/output/{dims.txt,view*.raw,masks/view*.raw}
// and <root>/psf/{dims.txt,view*.raw} for the given number of views.
func BuildDataset(t testing.TB, root string, views int, dims models.Dimensions, pattern Pattern) Folders {
	t.Helper()

	f := Folders{SPIM: filepath.Join(root, "spim"), PSF: filepath.Join(root, "psf")}
	outputDir := filepath.Join(f.SPIM, "output")
	masksDir := filepath.Join(outputDir, "masks")
	for _, dir := range []string{masksDir, f.PSF} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create %s: %v", dir, err)
		}
	}

	WriteDims(t, outputDir, dims.Width, dims.Height, dims.Depth)
	WriteDims(t, f.PSF, 3, 3, 3)

	ones := func(int, int, int, int) uint16 { return 1 }
	kernelDims := models.Dimensions{Width: 3, Height: 3, Depth: 3}
	for v := 0; v < views; v++ {
		name := fmt.Sprintf("view%d.raw", v)
		WriteVolume(t, filepath.Join(outputDir, name), dims, v, pattern)
		WriteVolume(t, filepath.Join(masksDir, name), dims, v, ones)
		WriteVolume(t, filepath.Join(f.PSF, name), kernelDims, v, ones)
	}
	return f
}
