package grpc

import (
	"context"
	"errors"
	"testing"

	"github.com/example/printshop/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type staticResolver struct {
	addr string
	err  error
}

func (r staticResolver) Resolve(context.Context, string) (string, error) {
	return r.addr, r.err
}

func TestSlicerTargetPrefersDiscovery(t *testing.T) {
	cfg := &config.SlicerConfig{ServiceName: "slicer-engine", Address: "localhost:50061"}

	m := NewClientManager(cfg, zap.NewNop(), nil)
	assert.Equal(t, "localhost:50061", m.slicerTarget())

	m.resolver = staticResolver{addr: "10.1.2.3:50061"}
	assert.Equal(t, "10.1.2.3:50061", m.slicerTarget())

	m.resolver = staticResolver{err: errors.New("etcd down")}
	assert.Equal(t, "localhost:50061", m.slicerTarget())
}

func TestConnectIsLazy(t *testing.T) {
	m := NewClientManager(&config.SlicerConfig{Address: "localhost:1"}, zap.NewNop(), nil)
	require.NoError(t, m.Connect())
	assert.NotNil(t, m.SlicerConn())
	assert.NoError(t, m.Close())

	m = NewClientManager(&config.SlicerConfig{ServiceName: "slicer-engine"}, zap.NewNop(), nil)
	assert.Error(t, m.Connect())
}
