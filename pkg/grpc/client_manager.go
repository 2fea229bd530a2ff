package grpc

import (
	"context"
	"fmt"
	"time"

	"github.com/example/printshop/pkg/config"
	"github.com/example/printshop/pkg/discovery"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Resolver finds a service address by name.
type Resolver interface {
	Resolve(ctx context.Context, serviceName string) (string, error)
}

// ClientManager owns the connection to the slicing engine.
type ClientManager struct {
	config   *config.SlicerConfig
	resolver Resolver
	logger   *zap.Logger

	slicerConn *grpc.ClientConn
}

// NewClientManager creates a client manager. disc may be nil, in which case the configured
// address is used.
func NewClientManager(cfg *config.SlicerConfig, logger *zap.Logger, disc *discovery.ServiceDiscovery) *ClientManager {
	m := &ClientManager{
		config: cfg,
		logger: logger.Named("grpc"),
	}
	if disc != nil {
		m.resolver = disc
	}
	return m
}

func (m *ClientManager) Connect() error {
	if err := m.connectSlicer(); err != nil {
		return fmt.Errorf("failed to connect to slicer engine: %w", err)
	}
	return nil
}

func (m *ClientManager) slicerTarget() string {
	target := m.config.Address

	if m.resolver != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		addr, err := m.resolver.Resolve(ctx, m.config.ServiceName)
		if err == nil {
			m.logger.Info("Discovered slicer engine", zap.String("address", addr))
			return addr
		}
		m.logger.Info("Using default address for slicer engine",
			zap.String("address", target),
			zap.Error(err))
	}
	return target
}

func (m *ClientManager) connectSlicer() error {
	target := m.slicerTarget()
	if target == "" {
		return fmt.Errorf("no address for %s", m.config.ServiceName)
	}

	m.logger.Info("Connecting to slicer engine", zap.String("target", target))

	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.MaxCallSendMsgSize(256<<20)),
	)
	if err != nil {
		return err
	}

	m.slicerConn = conn
	return nil
}

// SlicerConn returns the engine connection; nil before Connect.
func (m *ClientManager) SlicerConn() *grpc.ClientConn {
	return m.slicerConn
}

func (m *ClientManager) Close() error {
	if m.slicerConn != nil {
		if err := m.slicerConn.Close(); err != nil {
			return fmt.Errorf("slicer connection close error: %w", err)
		}
	}
	return nil
}
