package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/example/printshop/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesToConfiguredPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	logger, err := New(config.LogConfig{Level: "warn", Encoding: "json", OutputPaths: []string{path}})
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "dropped")
	assert.Contains(t, string(data), `"msg":"kept"`)
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}
