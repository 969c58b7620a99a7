package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"spimpreview/internal/models"
)

// Layout lists every file a preview session needs, resolved once at startup.
// Views are identified by the *.raw files of <spim>/output/masks; each view
// has a data volume, a weight volume and a kernel file under the same name.
type Layout struct {
	// ViewNames are the raw file names in view order
	ViewNames []string

	// DataFiles are the per-view volumes in <spim>/output
	DataFiles []string

	// WeightFiles are the per-view masks in <spim>/output/masks
	WeightFiles []string

	// KernelFiles are the per-view point spread functions in the PSF folder
	KernelFiles []string

	// Volume is the geometry read from <spim>/output/dims.txt
	Volume models.Dimensions

	// Kernel is the geometry read from <psf>/dims.txt
	Kernel models.KernelDimensions
}

// Views returns the number of discovered views
func (l *Layout) Views() int {
	return len(l.ViewNames)
}

// Discover resolves the view files and geometry descriptors below the SPIM and
// PSF folders. Every inconsistency is a ConfigurationError.
func Discover(spimFolder, psfFolder string) (*Layout, error) {
	outputDir := filepath.Join(spimFolder, "output")
	masksDir := filepath.Join(outputDir, "masks")

	entries, err := os.ReadDir(masksDir)
	if err != nil {
		return nil, &ConfigurationError{Source: masksDir, Reason: "cannot list weight masks", Err: err}
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".raw") {
			continue
		}
		names = append(names, entry.Name())
	}
	if len(names) == 0 {
		return nil, &ConfigurationError{Source: masksDir, Reason: "no .raw views found"}
	}

	// View order must be stable across runs
	sort.Strings(names)

	layout := &Layout{
		ViewNames:   names,
		DataFiles:   make([]string, len(names)),
		WeightFiles: make([]string, len(names)),
		KernelFiles: make([]string, len(names)),
	}

	var missingKernels []string
	for i, name := range names {
		layout.DataFiles[i] = filepath.Join(outputDir, name)
		layout.WeightFiles[i] = filepath.Join(masksDir, name)
		layout.KernelFiles[i] = filepath.Join(psfFolder, name)

		if _, err := os.Stat(layout.DataFiles[i]); err != nil {
			return nil, &ConfigurationError{
				Source: layout.DataFiles[i],
				Reason: fmt.Sprintf("data volume for view %d missing", i),
				Err:    err,
			}
		}
		if _, err := os.Stat(layout.KernelFiles[i]); err != nil {
			missingKernels = append(missingKernels, name)
		}
	}
	if len(missingKernels) > 0 {
		return nil, &ConfigurationError{
			Source: psfFolder,
			Reason: fmt.Sprintf("view count mismatch: %d views but no kernel for %s",
				len(names), strings.Join(missingKernels, ", ")),
		}
	}

	if layout.Volume, err = ReadDimensions(filepath.Join(outputDir, DimsFileName)); err != nil {
		return nil, err
	}
	if layout.Kernel, err = ReadKernelDimensions(filepath.Join(psfFolder, DimsFileName)); err != nil {
		return nil, err
	}

	return layout, nil
}
