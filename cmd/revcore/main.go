package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/revflow-os/revcore/internal/api"
	"github.com/revflow-os/revcore/internal/config"
	"github.com/revflow-os/revcore/internal/dnssrv"
	"github.com/revflow-os/revcore/internal/prober"
	etcdstore "github.com/revflow-os/revcore/pkg/storage/etcd"
	"github.com/revflow-os/revcore/pkg/storage/memory"

	"github.com/revflow-os/revcore/pkg/storage"
)

var configFile string

func init() {
	flag.StringVar(&configFile, "config", "", "path to config file")
}

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "initializing logger: %v\n", err)
		os.Exit(1)
	}

	logger.Info("revcore starting",
		zap.String("store", cfg.Store),
		zap.Int("api_port", cfg.API.Port),
		zap.Duration("probe_interval", cfg.Prober.Interval),
		zap.Bool("dns_enabled", cfg.DNS.Enabled),
	)

	store, cleanup, err := openStore(cfg)
	if err != nil {
		logger.Fatal("opening record store", zap.Error(err))
	}
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := prober.New(store, logger, prober.Options{
		Interval:      cfg.Prober.Interval,
		Timeout:       cfg.Prober.Timeout,
		Workers:       cfg.Prober.Workers,
		PhantomCycles: cfg.Prober.PhantomCycles,
	})
	go func() {
		if err := p.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("prober stopped", zap.Error(err))
		}
	}()

	apiServer := api.NewServer(store, p, cfg, logger)
	apiServer.Start()

	var dnsServer *dnssrv.Server
	if cfg.DNS.Enabled {
		dnsServer = dnssrv.NewServer(store, logger, cfg)
		dnsServer.Start()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("registrar API shutdown failed", zap.Error(err))
	}
	if dnsServer != nil {
		if err := dnsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("discovery DNS shutdown failed", zap.Error(err))
		}
	}

	logger.Info("revcore stopped")
}

func openStore(cfg *config.Config) (storage.RecordStore, func(), error) {
	switch cfg.Store {
	case "memory":
		return memory.NewMemoryStore(), func() {}, nil
	case "etcd", "":
		client, err := etcdstore.NewClient(etcdstore.Config{
			Endpoints:   cfg.Etcd.Endpoints,
			Username:    cfg.Etcd.Username,
			Password:    cfg.Etcd.Password,
			DialTimeout: cfg.Etcd.DialTimeout,
			Prefix:      cfg.Etcd.Prefix,
		})
		if err != nil {
			return nil, nil, err
		}
		return etcdstore.NewRecordStore(client), func() { client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend: %s", cfg.Store)
	}
}
