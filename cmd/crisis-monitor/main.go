package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/revflow-os/revcore/internal/config"
	"github.com/revflow-os/revcore/internal/crisis"
)

// Exit codes consumed by the external scheduler: 0 means normal, 1 means an
// elevated crisis level. Alerting or throttling chains off the code, the
// monitor itself never remediates.
const (
	exitNormal   = 0
	exitElevated = 1
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

	monitor := crisis.New(logger, crisis.Options{
		StateFile:      cfg.Crisis.StateFile,
		LogFile:        cfg.Crisis.LogFile,
		SampleInterval: cfg.Crisis.SampleInterval,
		LoadThreshold:  cfg.Crisis.LoadThreshold,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sample, err := monitor.Sample(ctx)
	if err != nil {
		// Persistence failure does not change the verdict; the exit code
		// stays a trustworthy severity signal.
		logger.Error("persisting crisis sample failed", zap.Error(err))
	}

	if sample.Level.Elevated() {
		os.Exit(exitElevated)
	}
	os.Exit(exitNormal)
}
