package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/revflow-os/revcore/internal/config"
	"github.com/revflow-os/revcore/internal/reconcile"
	etcdstore "github.com/revflow-os/revcore/pkg/storage/etcd"
)

var (
	configFile string
	mode       string
	confirm    bool
	passes     int
)

func init() {
	flag.StringVar(&configFile, "config", "", "path to config file")
	flag.StringVar(&mode, "mode", "all", "which cleanup to run: phantom, ports or all")
	flag.BoolVar(&confirm, "confirm", false, "execute the planned deletions (default is dry-run)")
	flag.IntVar(&passes, "passes", 0, "port-check passes before a record counts as phantom (0 = config default)")
}

func main() {
	flag.Parse()

	if !validMode(mode) {
		fmt.Fprintf(os.Stderr, "unknown -mode %q: want phantom, ports or all\n", mode)
		flag.Usage()
		os.Exit(2)
	}

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

	client, err := etcdstore.NewClient(etcdstore.Config{
		Endpoints:   cfg.Etcd.Endpoints,
		Username:    cfg.Etcd.Username,
		Password:    cfg.Etcd.Password,
		DialTimeout: cfg.Etcd.DialTimeout,
		Prefix:      cfg.Etcd.Prefix,
	})
	if err != nil {
		logger.Fatal("connecting to store", zap.Error(err))
	}
	defer client.Close()

	store := etcdstore.NewRecordStore(client)

	reconciler := reconcile.New(store, logger, reconcile.Options{
		Passes:  passes,
		Timeout: cfg.Prober.Timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	exitCode := 0
	if mode == "phantom" || mode == "all" {
		if err := runPlan(ctx, reconciler, reconciler.PlanPhantoms); err != nil {
			logger.Error("phantom cleanup failed", zap.Error(err))
			exitCode = 1
		}
	}
	if mode == "ports" || mode == "all" {
		if err := runPlan(ctx, reconciler, reconciler.PlanDuplicatePorts); err != nil {
			logger.Error("duplicate-port cleanup failed", zap.Error(err))
			exitCode = 1
		}
	}

	os.Exit(exitCode)
}

func validMode(m string) bool {
	switch m {
	case "phantom", "ports", "all":
		return true
	}
	return false
}

// runPlan prints the plan and, only with -confirm, applies it and prints
// exactly what was removed.
func runPlan(ctx context.Context, r *reconcile.Reconciler,
	plan func(context.Context) (*reconcile.Plan, error)) error {
	p, err := plan(ctx)
	if err != nil {
		return err
	}

	printJSON(p)

	if !confirm {
		if len(p.Removals) > 0 {
			fmt.Fprintln(os.Stderr, "dry-run only; re-run with -confirm to delete")
		}
		return nil
	}

	result, err := r.Apply(ctx, p)
	if err != nil {
		return err
	}

	printJSON(result)
	return nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
