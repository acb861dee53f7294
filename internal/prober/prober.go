package prober

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/revflow-os/revcore/internal/config"
	"github.com/revflow-os/revcore/pkg/model"
	"github.com/revflow-os/revcore/pkg/storage"
)

// Options tunes a Prober. Zero values fall back to the documented defaults.
type Options struct {
	// Interval between probe cycles when running the ticker loop.
	Interval time.Duration
	// Timeout for each individual HTTP probe and port dial.
	Timeout time.Duration
	// Workers bounds how many probes run concurrently.
	Workers int
	// PhantomCycles is how many consecutive port-inactive observations an
	// active record needs before it is flagged as a phantom candidate.
	// Minimum 1.
	PhantomCycles int
}

func (o *Options) applyDefaults() {
	if o.Interval <= 0 {
		o.Interval = 45 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 3 * time.Second
	}
	if o.Workers <= 0 {
		o.Workers = 8
	}
	if o.PhantomCycles < 1 {
		o.PhantomCycles = 1
	}
}

// Prober polls every active service record and reconciles observed reality
// with the stored health state. Only one prober should run against a store at
// a time; concurrent probers converge but waste work.
type Prober struct {
	store   storage.RecordStore
	checker *Checker
	logger  config.Logger
	opts    Options

	mu         sync.RWMutex
	misses     map[string]int
	lastReport *CycleReport
}

// New creates a prober over the given store.
func New(store storage.RecordStore, logger config.Logger, opts Options) *Prober {
	opts.applyDefaults()

	return &Prober{
		store:   store,
		checker: NewChecker(opts.Timeout),
		logger:  logger,
		opts:    opts,
		misses:  make(map[string]int),
	}
}

// Options returns the effective (defaulted) options.
func (p *Prober) Options() Options {
	return p.opts
}

// Run executes probe cycles on the configured interval until ctx is
// cancelled. The first cycle starts immediately.
func (p *Prober) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	for {
		if _, err := p.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Error("probe cycle failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle probes every active record once, writing each observation through
// SetHealth as it completes. Cancelling ctx aborts the remainder of the
// cycle; results already written for completed services stay.
func (p *Prober) RunCycle(ctx context.Context) (*CycleReport, error) {
	started := time.Now()

	records, err := p.store.List(ctx, storage.ListFilter{Status: model.StatusActive})
	if err != nil {
		return nil, err
	}

	p.pruneMisses(records)

	jobs := make(chan *model.ServiceRecord)
	results := make(chan recordResult, len(records))

	var wg sync.WaitGroup
	workers := p.opts.Workers
	if workers > len(records) && len(records) > 0 {
		workers = len(records)
	}

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for record := range jobs {
				result := p.probeOne(ctx, record)
				results <- result
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, record := range records {
			select {
			case <-ctx.Done():
				return
			case jobs <- record:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	report := newCycleReport(started, len(records))
	for result := range results {
		p.track(report, result)
	}
	report.FinishedAt = time.Now()

	p.mu.Lock()
	p.lastReport = report
	p.mu.Unlock()

	p.logger.Info("probe cycle complete",
		zap.String("cycle_id", report.CycleID),
		zap.Int("total", report.Total),
		zap.Int("healthy", report.Healthy),
		zap.Int("unhealthy", report.Unhealthy),
		zap.Int("phantom_candidates", len(report.PhantomCandidates)),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)),
	)

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// pruneMisses drops counters for services no longer in the active set, so a
// deregistered service does not leave a counter entry behind forever.
func (p *Prober) pruneMisses(records []*model.ServiceRecord) {
	known := make(map[string]struct{}, len(records))
	for _, record := range records {
		known[record.ServiceID] = struct{}{}
	}

	p.mu.Lock()
	for id := range p.misses {
		if _, ok := known[id]; !ok {
			delete(p.misses, id)
		}
	}
	p.mu.Unlock()
}

// LastReport returns the most recent cycle report, or nil before the first
// cycle finishes.
func (p *Prober) LastReport() *CycleReport {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastReport
}

type recordResult struct {
	record  *model.ServiceRecord
	probe   ProbeResult
	skipped bool
}

func (p *Prober) probeOne(ctx context.Context, record *model.ServiceRecord) recordResult {
	probe := p.checker.Probe(ctx, record)

	// A probe cut short by cycle cancellation says nothing about the service.
	// Nothing is written and the record stays out of the report; results
	// already written for completed services stand.
	if ctx.Err() != nil {
		return recordResult{record: record, skipped: true}
	}

	if err := p.store.SetHealth(ctx, record.ServiceID, probe.Health(), probe.CheckedAt); err != nil {
		// A store write failure is the only probe-path error worth escalating,
		// and even then the cycle continues.
		p.logger.Error("recording probe result failed",
			zap.String("service_id", record.ServiceID),
			zap.Error(err),
		)
	}

	p.logger.Debug("probed service",
		zap.String("service_id", record.ServiceID),
		zap.Bool("healthy", probe.Healthy),
		zap.String("reason", probe.Reason),
		zap.Bool("port_active", probe.PortActive),
	)

	return recordResult{record: record, probe: probe}
}

// track folds one probe outcome into the report and the consecutive-miss
// counters. It runs on the collector goroutine only; the mutex guards the
// counters against concurrent reads from PhantomMisses.
func (p *Prober) track(report *CycleReport, result recordResult) {
	if result.skipped {
		return
	}
	record, probe := result.record, result.probe

	p.mu.Lock()
	if !probe.PortActive && record.Status == model.StatusActive {
		p.misses[record.ServiceID]++
	} else {
		delete(p.misses, record.ServiceID)
	}
	misses := p.misses[record.ServiceID]
	p.mu.Unlock()

	entry := ServiceProbe{
		ServiceID:  record.ServiceID,
		Name:       record.Name,
		Status:     record.Status,
		PortActive: probe.PortActive,
		HealthOK:   probe.Healthy,
		HTTPStatus: probe.HTTPStatus,
		Reason:     probe.Reason,
		Health:     probe.Health(),
		Detail:     probe.Detail,
		Misses:     misses,
	}
	report.Services = append(report.Services, entry)
	report.observe(entry, p.opts.PhantomCycles)
}

// PhantomMisses returns the current consecutive port-inactive count for a
// service, for the reconciliation tools.
func (p *Prober) PhantomMisses(serviceID string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.misses[serviceID]
}
