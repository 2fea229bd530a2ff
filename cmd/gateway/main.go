package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/example/printshop/gateway"
	"github.com/example/printshop/pkg/config"
	"github.com/example/printshop/pkg/coupon"
	"github.com/example/printshop/pkg/discovery"
	"github.com/example/printshop/pkg/grpc"
	"github.com/example/printshop/pkg/logging"
	"github.com/example/printshop/pkg/order"
	"github.com/example/printshop/pkg/repository"
	"github.com/example/printshop/pkg/session"
	"github.com/example/printshop/pkg/slicer"
	"github.com/example/printshop/pkg/storefront"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("Starting print shop gateway",
		zap.Int("port", cfg.Gateway.Port),
		zap.String("host", cfg.Gateway.Host),
		zap.String("retention", cfg.Order.Retention))

	ctx := context.Background()

	// Service discovery is optional; the slicer falls back to its configured address.
	var sd *discovery.ServiceDiscovery
	if len(cfg.Etcd.Endpoints) > 0 {
		sd, err = discovery.NewServiceDiscovery(&cfg.Etcd)
		if err != nil {
			logger.Warn("Failed to connect to etcd, continuing without service discovery", zap.Error(err))
			sd = nil
		}
	}

	// Durable store
	db, err := repository.OpenMySQL(&cfg.MySQL)
	if err != nil {
		logger.Fatal("Failed to open MySQL", zap.Error(err))
	}
	files, err := repository.NewFileRepository(db)
	if err != nil {
		logger.Fatal("Failed to prepare file repository", zap.Error(err))
	}
	defer files.Close()

	// Metadata and checkout stores
	redisRepo := repository.NewRedisRepository(&cfg.Redis)
	defer redisRepo.Close()
	if err := redisRepo.Ping(ctx); err != nil {
		logger.Warn("Redis connection failed", zap.Error(err))
	} else {
		logger.Info("Redis connected successfully")
	}
	checkouts := repository.NewCheckoutStore(redisRepo, cfg.Order.CheckoutTTL)

	retention, err := order.ParseRetention(cfg.Order.Retention)
	if err != nil {
		logger.Fatal("Invalid retention policy", zap.Error(err))
	}
	opts := []order.Option{order.WithRetention(retention), order.WithLogger(logger)}

	// Audit log
	var history gateway.History
	if cfg.MongoDB.URI != "" {
		mongoRepo, err := repository.NewMongoRepository(&cfg.MongoDB)
		if err != nil {
			logger.Warn("Failed to connect to MongoDB, audit log disabled", zap.Error(err))
		} else {
			defer mongoRepo.Close(context.Background())
			opts = append(opts, order.WithAuditor(repository.NewAuditor(mongoRepo, cfg.Server.Name, logger)))
			history = mongoRepo
		}
	}

	assembler := order.NewAssembler(files, repository.NewOrderMetaStore(redisRepo, cfg.Order.MetadataTTL), checkouts, opts...)

	// Slicing engine
	clients := grpc.NewClientManager(&cfg.Slicer, logger, sd)
	if err := clients.Connect(); err != nil {
		logger.Fatal("Failed to connect to slicer engine", zap.Error(err))
	}
	defer clients.Close()
	orchestrator := slicer.NewOrchestrator(slicer.NewGRPCEngine(clients.SlicerConn()), logger, slicer.WithTimeout(cfg.Slicer.Timeout))

	shop := storefront.NewClient(&cfg.Storefront, redisRepo, logger)
	ledger := coupon.NewLedger(shop, logger)

	system := actor.NewActorSystem()
	sessions := session.NewManager(system, assembler, ledger, orchestrator, session.Config{
		RequestTimeout: cfg.Session.RequestTimeout,
		OpTimeout:      cfg.Session.OpTimeout,
		IdleTimeout:    cfg.Session.IdleTimeout,
	}, logger)

	gw := gateway.NewGateway(cfg, logger, gateway.Deps{
		Sessions:  sessions,
		Checkouts: checkouts,
		Catalog:   shop,
		History:   history,
	})
	gw.SetupRoutes()

	gwErr := make(chan error, 1)
	go func() {
		if err := gw.Start(); err != nil {
			gwErr <- err
		}
	}()

	instance := &discovery.ServiceInstance{
		Name: cfg.Server.Name,
		Host: cfg.Server.Host,
		Port: cfg.Gateway.Port,
	}
	regCtx, stopKeepAlive := context.WithCancel(ctx)
	defer stopKeepAlive()
	if sd != nil && cfg.Server.Host != "" {
		if err := sd.Register(regCtx, instance); err != nil {
			logger.Warn("Failed to register gateway", zap.Error(err))
		} else {
			logger.Info("Gateway registered in etcd", zap.String("address", instance.Addr()))
		}
	}

	logger.Info("Gateway started successfully")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("Received shutdown signal")
	case err := <-gwErr:
		logger.Fatal("Gateway error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := gw.Shutdown(shutdownCtx); err != nil {
		logger.Error("Gateway shutdown failed", zap.Error(err))
	}
	sessions.Shutdown()

	if sd != nil {
		if err := sd.Deregister(shutdownCtx, instance); err != nil {
			logger.Error("Failed to deregister gateway", zap.Error(err))
		}
		sd.Close()
	}

	logger.Info("Gateway stopped")
}
