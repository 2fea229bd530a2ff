package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/example/printshop/pkg/dimension"
	"github.com/example/printshop/pkg/models"
	"github.com/example/printshop/pkg/slicer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeBox(t *testing.T, w, d, h float32) string {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(make([]byte, 80))
	tris := [][9]float32{
		{0, 0, 0, w, 0, 0, 0, d, 0},
		{w, d, h, 0, d, h, w, 0, h},
	}
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(tris)))
	for _, tri := range tris {
		_ = binary.Write(&buf, binary.LittleEndian, [3]float32{})
		_ = binary.Write(&buf, binary.LittleEndian, tri)
		_ = binary.Write(&buf, binary.LittleEndian, uint16(0))
	}
	path := filepath.Join(t.TempDir(), "box.stl")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func run(args ...string) (string, error) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestDimsCommand(t *testing.T) {
	out, err := run("dims", writeBox(t, 50, 40, 30))
	require.NoError(t, err)
	assert.Contains(t, out, "width 50.0mm  height 30.0mm  depth 40.0mm")
	assert.Contains(t, out, "fits the build volume")

	_, err = run("dims", writeBox(t, 230, 40, 30))
	assert.ErrorIs(t, err, dimension.ErrDimensionsExceeded)
}

func TestPriceCommand(t *testing.T) {
	out, err := run("price", "--filament-mm", "10000", "--seconds", "3700")
	require.NoError(t, err)
	assert.Contains(t, out, "filament   8 g")
	assert.Contains(t, out, "time       2 h")
	assert.Contains(t, out, "total      53")

	_, err = run("price", "--material", "nylon")
	assert.ErrorIs(t, err, models.ErrInvalidSettings)
}

type fixedEngine struct{}

func (fixedEngine) Slice(_ context.Context, _ *slicer.EngineRequest, progress func(int)) (*slicer.EngineResult, error) {
	progress(40)
	return &slicer.EngineResult{Metadata: &slicer.Metadata{FilamentUsage: 10000, PrintTime: 3700}}, nil
}

func TestRunSlice(t *testing.T) {
	var out bytes.Buffer
	orch := slicer.NewOrchestrator(fixedEngine{}, zap.NewNop())
	require.NoError(t, runSlice(context.Background(), &out, orch, []byte("solid"), models.DefaultPrintSettings()))
	assert.Contains(t, out.String(), "slicing 100%")
	assert.Contains(t, out.String(), "total      53")
}
