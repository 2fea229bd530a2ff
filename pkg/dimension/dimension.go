// Package dimension checks meshes against the printer's build volume.
package dimension

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/example/printshop/pkg/models"
	"github.com/unixpickle/model3d/model3d"
)

// MaxBuildVolume is the printable bounding box of the printer.
var MaxBuildVolume = models.MeshDimensions{Width: 220, Height: 220, Depth: 250}

var (
	ErrDimensionsExceeded = errors.New("model exceeds build volume")
	ErrMalformedSTL       = errors.New("malformed STL")
)

// Binary STL layout: 80 byte header, uint32 triangle count, 50 bytes per triangle.
const (
	stlHeaderSize   = 84
	stlTriangleSize = 50
	stlSniffSize    = 512
)

type Axis string

const (
	AxisWidth  Axis = "width"
	AxisHeight Axis = "height"
	AxisDepth  Axis = "depth"
)

type Violation struct {
	Axis  Axis    `json:"axis"`
	Value float64 `json:"value"`
	Limit float64 `json:"limit"`
}

type ExceededError struct {
	Violations []Violation
}

func (e *ExceededError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = fmt.Sprintf("%s %.1fmm > %.0fmm", v.Axis, v.Value, v.Limit)
	}
	return fmt.Sprintf("%s: %s", ErrDimensionsExceeded, strings.Join(parts, ", "))
}

func (e *ExceededError) Unwrap() error {
	return ErrDimensionsExceeded
}

// Validate reports whether dims fit the build volume. No dimensions means nothing is loaded,
// which never blocks.
func Validate(dims *models.MeshDimensions) bool {
	return len(Exceeded(dims)) == 0
}

// Exceeded lists the axes over the limit in width, height, depth order.
func Exceeded(dims *models.MeshDimensions) []Violation {
	if dims == nil {
		return nil
	}
	var out []Violation
	check := func(axis Axis, value, limit float64) {
		if value > limit {
			out = append(out, Violation{Axis: axis, Value: value, Limit: limit})
		}
	}
	check(AxisWidth, dims.Width, MaxBuildVolume.Width)
	check(AxisHeight, dims.Height, MaxBuildVolume.Height)
	check(AxisDepth, dims.Depth, MaxBuildVolume.Depth)
	return out
}

// Check is Exceeded as an error: nil when dims fit, an *ExceededError naming every axis otherwise.
func Check(dims *models.MeshDimensions) error {
	if v := Exceeded(dims); len(v) > 0 {
		return &ExceededError{Violations: v}
	}
	return nil
}

// FromSTL reads an ASCII or binary STL and returns its bounding box. STL files are Z-up, so Z
// is the build axis. A binary file must be exactly as long as its triangle count says.
func FromSTL(r io.Reader) (models.MeshDimensions, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return models.MeshDimensions{}, fmt.Errorf("failed to read STL: %w", err)
	}
	if err := checkBinarySize(data); err != nil {
		return models.MeshDimensions{}, err
	}

	tris, err := model3d.ReadSTL(bytes.NewReader(data))
	if err != nil {
		return models.MeshDimensions{}, fmt.Errorf("%w: %v", ErrMalformedSTL, err)
	}
	if len(tris) == 0 {
		return models.MeshDimensions{}, fmt.Errorf("%w: no triangles", ErrMalformedSTL)
	}
	mesh := model3d.NewMeshTriangles(tris)
	size := mesh.Max().Sub(mesh.Min())
	return models.MeshDimensions{
		Width:  size.X,
		Height: size.Z,
		Depth:  size.Y,
	}, nil
}

// isASCII sniffs the start of the file the same way the STL reader does: a "solid" prefix
// followed by text only.
func isASCII(data []byte) bool {
	chunk := data[:min(len(data), stlSniffSize)]
	if !bytes.HasPrefix(chunk, []byte("solid")) {
		return false
	}
	for _, b := range chunk {
		if b == 0 || b > 127 {
			return false
		}
	}
	return true
}

// checkBinarySize rejects binary files whose triangle count disagrees with their length, before
// the reader sizes its buffers from that count.
func checkBinarySize(data []byte) error {
	if isASCII(data) {
		return nil
	}
	if len(data) < stlHeaderSize {
		return fmt.Errorf("%w: %d bytes is shorter than the header", ErrMalformedSTL, len(data))
	}
	count := uint64(binary.LittleEndian.Uint32(data[80:stlHeaderSize]))
	if want := stlHeaderSize + stlTriangleSize*count; uint64(len(data)) != want {
		return fmt.Errorf("%w: header declares %d triangles (%d bytes), file has %d bytes",
			ErrMalformedSTL, count, want, len(data))
	}
	return nil
}
