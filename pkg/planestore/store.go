// Package planestore gives read-only, per-plane access to a set of raw view volumes.
//
// Every volume is a headerless sequence of Depth planes, each Width*Height
// little-endian uint16 samples, laid out plane-major: plane*(w*h) + y*w + x.
//
// Loads are all-or-nothing per view only. When LoadPlane fails on one view,
// the buffers of the views before it already hold the new plane; callers that
// need a consistent set load into scratch buffers first, as framecache does.
package planestore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"golang.org/x/exp/mmap"

	"spimpreview/internal/models"
	"spimpreview/pkg/config"
)

// ErrPlaneOutOfRange marks a plane index outside [0, depth)
var ErrPlaneOutOfRange = errors.New("plane index out of range")

// IOFailure reports a failed plane load for one view
type IOFailure struct {
	View  int
	Plane int
	Path  string
	Err   error
}

func (e *IOFailure) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("loading plane %d of view %d: %v", e.Plane, e.View, e.Err)
	}
	return fmt.Sprintf("loading plane %d of view %d (%s): %v", e.Plane, e.View, e.Path, e.Err)
}

func (e *IOFailure) Unwrap() error {
	return e.Err
}

// Store is a stateless reader over one volume file per view. Paths are
// resolved and size-checked once; each load maps its file only for the
// duration of the read.
type Store struct {
	paths []string
	dims  models.Dimensions
}

// Open validates the view volumes against the shared geometry
func Open(paths []string, dims models.Dimensions) (*Store, error) {
	if err := dims.Validate(); err != nil {
		return nil, &config.ConfigurationError{Source: "volume geometry", Reason: "invalid", Err: err}
	}
	if len(paths) == 0 {
		return nil, &config.ConfigurationError{Source: "volume files", Reason: "no views configured"}
	}

	for v, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, &config.ConfigurationError{
				Source: path,
				Reason: fmt.Sprintf("volume for view %d unavailable", v),
				Err:    err,
			}
		}
		if info.Size() < dims.VolumeBytes() {
			return nil, &config.ConfigurationError{
				Source: path,
				Reason: fmt.Sprintf("volume for view %d holds %d bytes, %s needs %d",
					v, info.Size(), dims, dims.VolumeBytes()),
			}
		}
	}

	return &Store{
		paths: append([]string(nil), paths...),
		dims:  dims,
	}, nil
}

// Views returns the number of view volumes
func (s *Store) Views() int {
	return len(s.paths)
}

// Dims returns the shared volume geometry
func (s *Store) Dims() models.Dimensions {
	return s.dims
}

// Paths returns a copy of the per-view volume paths
func (s *Store) Paths() []string {
	return append([]string(nil), s.paths...)
}

// LoadPlane fills dst[v] with plane of every view. Each view is read in full
// before its destination is written, so a failing view leaves its buffer as it was.
// Views before the failing one have already been written.
func (s *Store) LoadPlane(plane int, dst [][]uint16) error {
	if len(dst) != len(s.paths) {
		return &IOFailure{
			View:  -1,
			Plane: plane,
			Err:   fmt.Errorf("got %d destination buffers for %d views", len(dst), len(s.paths)),
		}
	}
	if err := s.checkPlane(-1, plane); err != nil {
		return err
	}

	scratch := make([]byte, s.dims.PlaneBytes())
	for v := range s.paths {
		if err := s.loadView(v, plane, dst[v], scratch); err != nil {
			return err
		}
	}
	return nil
}

// LoadView fills dst with one plane of a single view
func (s *Store) LoadView(view, plane int, dst []uint16) error {
	if view < 0 || view >= len(s.paths) {
		return &IOFailure{View: view, Plane: plane, Err: fmt.Errorf("no such view (have %d)", len(s.paths))}
	}
	if err := s.checkPlane(view, plane); err != nil {
		return err
	}
	return s.loadView(view, plane, dst, make([]byte, s.dims.PlaneBytes()))
}

func (s *Store) checkPlane(view, plane int) error {
	if plane < 0 || plane >= s.dims.Depth {
		return &IOFailure{
			View:  view,
			Plane: plane,
			Err:   fmt.Errorf("%w: %d not in [0, %d)", ErrPlaneOutOfRange, plane, s.dims.Depth),
		}
	}
	return nil
}

func (s *Store) loadView(view, plane int, dst []uint16, scratch []byte) error {
	path := s.paths[view]
	if len(dst) != s.dims.PlaneLen() {
		return &IOFailure{
			View:  view,
			Plane: plane,
			Path:  path,
			Err:   fmt.Errorf("destination holds %d samples, plane has %d", len(dst), s.dims.PlaneLen()),
		}
	}

	if err := readRange(path, int64(plane)*s.dims.PlaneBytes(), scratch); err != nil {
		return &IOFailure{View: view, Plane: plane, Path: path, Err: err}
	}

	for i := range dst {
		dst[i] = binary.LittleEndian.Uint16(scratch[i*2:])
	}
	return nil
}

// readRange maps path read-only, copies len(buf) bytes at offset and unmaps
func readRange(path string, offset int64, buf []byte) error {
	reader, err := mmap.Open(path)
	if err != nil {
		return err
	}
	defer reader.Close()

	if end := offset + int64(len(buf)); end > int64(reader.Len()) {
		return fmt.Errorf("truncated volume: need bytes [%d, %d), file has %d", offset, end, reader.Len())
	}

	n, err := reader.ReadAt(buf, offset)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("short read: %d of %d bytes", n, len(buf))
	}
	return nil
}
