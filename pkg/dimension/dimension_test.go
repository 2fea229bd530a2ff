package dimension

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/example/printshop/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		dims *models.MeshDimensions
		want bool
	}{
		{"nothing loaded", nil, true},
		{"small", &models.MeshDimensions{Width: 10, Height: 10, Depth: 10}, true},
		{"exact limits", &models.MeshDimensions{Width: 220, Height: 220, Depth: 250}, true},
		{"width over", &models.MeshDimensions{Width: 220.01, Height: 10, Depth: 10}, false},
		{"height over", &models.MeshDimensions{Width: 10, Height: 221, Depth: 10}, false},
		{"depth over", &models.MeshDimensions{Width: 10, Height: 10, Depth: 251}, false},
		{"depth 230 fits", &models.MeshDimensions{Width: 10, Height: 10, Depth: 230}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Validate(tt.dims))
		})
	}
}

func TestCheckNamesAxes(t *testing.T) {
	err := Check(&models.MeshDimensions{Width: 300, Height: 100, Depth: 260})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDimensionsExceeded))

	var exceeded *ExceededError
	require.True(t, errors.As(err, &exceeded))
	require.Len(t, exceeded.Violations, 2)
	assert.Equal(t, AxisWidth, exceeded.Violations[0].Axis)
	assert.Equal(t, AxisDepth, exceeded.Violations[1].Axis)
	assert.Contains(t, err.Error(), "width")
	assert.Contains(t, err.Error(), "depth")
	assert.NotContains(t, err.Error(), "height")

	assert.NoError(t, Check(nil))
}

func binarySTL(t *testing.T, tris [][9]float32) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(make([]byte, 80))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(len(tris))))
	for _, tri := range tris {
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, [3]float32{}))
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, tri))
		require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint16(0)))
	}
	return buf.Bytes()
}

func TestFromSTL(t *testing.T) {
	data := binarySTL(t, [][9]float32{
		{0, 0, 0, 40, 0, 0, 0, 30, 0},
		{0, 0, 0, 40, 30, 0, 0, 0, 50},
	})

	dims, err := FromSTL(bytes.NewReader(data))
	require.NoError(t, err)
	assert.InDelta(t, 40, dims.Width, 1e-6)
	assert.InDelta(t, 30, dims.Depth, 1e-6)
	assert.InDelta(t, 50, dims.Height, 1e-6)
}

func TestFromSTLRejectsTruncatedBinary(t *testing.T) {
	huge := make([]byte, 84)
	binary.LittleEndian.PutUint32(huge[80:], 0xFFFFFFFF)

	valid := binarySTL(t, [][9]float32{{0, 0, 0, 1, 0, 0, 0, 1, 0}})
	solidHeader := append([]byte(nil), valid...)
	copy(solidHeader, "solid binary export")

	tests := []struct {
		name string
		data []byte
	}{
		{"count far beyond length", huge},
		{"one triangle short", valid[:len(valid)-1]},
		{"trailing bytes", append(append([]byte(nil), valid...), 0, 0)},
		{"shorter than header", []byte{1, 2, 3}},
		{"empty", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromSTL(bytes.NewReader(tt.data))
			assert.ErrorIs(t, err, ErrMalformedSTL)
		})
	}

	// binary files whose header starts with "solid" still parse as binary
	dims, err := FromSTL(bytes.NewReader(solidHeader))
	require.NoError(t, err)
	assert.InDelta(t, 1, dims.Width, 1e-6)
}

func TestFromSTLASCII(t *testing.T) {
	ascii := `solid cube
facet normal 0 0 1
  outer loop
    vertex 0 0 0
    vertex 10 0 0
    vertex 0 20 5
  endloop
endfacet
endsolid cube
`
	dims, err := FromSTL(bytes.NewReader([]byte(ascii)))
	require.NoError(t, err)
	assert.InDelta(t, 10, dims.Width, 1e-6)
	assert.InDelta(t, 20, dims.Depth, 1e-6)
	assert.InDelta(t, 5, dims.Height, 1e-6)
}
