package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/revflow-os/revcore/internal/config"
	"github.com/revflow-os/revcore/internal/prober"
	"github.com/revflow-os/revcore/pkg/storage"
)

// Plan kinds.
const (
	KindPhantom       = "phantom"
	KindDuplicatePort = "duplicate_port"
)

// Removal is one record a plan proposes to delete, with the evidence.
type Removal struct {
	ServiceID string `json:"service_id"`
	Reason    string `json:"reason"`
}

// Plan is the dry-run output of a reconciliation pass. Producing a plan
// never mutates the store; only Apply deletes.
type Plan struct {
	Kind        string    `json:"kind"`
	GeneratedAt time.Time `json:"generated_at"`
	Examined    int       `json:"examined"`
	Removals    []Removal `json:"removals"`
}

// Result reports exactly what Apply did, for auditability.
type Result struct {
	Kind    string    `json:"kind"`
	Removed []Removal `json:"removed"`
	// Missing lists planned removals that were already gone; deletion is
	// idempotent but the distinction is reported.
	Missing []string `json:"missing"`
	// Failed lists removals the store rejected.
	Failed map[string]string `json:"failed,omitempty"`
}

// Options tunes a Reconciler.
type Options struct {
	// Passes is how many times the port check must fail before a record
	// counts as phantom. Minimum 1.
	Passes int
	// PassGap is the wait between port-check passes, giving a restarting
	// service time to come back.
	PassGap time.Duration
	// Timeout per port dial and health probe.
	Timeout time.Duration
}

func (o *Options) applyDefaults() {
	if o.Passes < 1 {
		o.Passes = 3
	}
	if o.PassGap <= 0 {
		o.PassGap = 2 * time.Second
	}
	if o.Timeout <= 0 {
		o.Timeout = 3 * time.Second
	}
}

// Reconciler builds and applies cleanup plans against the store.
type Reconciler struct {
	store   storage.RecordStore
	checker *prober.Checker
	logger  config.Logger
	opts    Options
}

// New creates a reconciler.
func New(store storage.RecordStore, logger config.Logger, opts Options) *Reconciler {
	opts.applyDefaults()

	return &Reconciler{
		store:   store,
		checker: prober.NewChecker(opts.Timeout),
		logger:  logger,
		opts:    opts,
	}
}

// Apply executes the deletions a plan proposes and reports exactly which
// records were removed. Records already gone are reported separately rather
// than failing the run.
func (r *Reconciler) Apply(ctx context.Context, plan *Plan) (*Result, error) {
	result := &Result{
		Kind:    plan.Kind,
		Removed: []Removal{},
		Missing: []string{},
	}

	for _, removal := range plan.Removals {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		err := r.store.Delete(ctx, removal.ServiceID)
		switch {
		case err == nil:
			result.Removed = append(result.Removed, removal)
			r.logger.Info("removed service record",
				zap.String("kind", plan.Kind),
				zap.String("service_id", removal.ServiceID),
				zap.String("reason", removal.Reason),
			)
		case storage.IsNotFound(err):
			result.Missing = append(result.Missing, removal.ServiceID)
		default:
			if result.Failed == nil {
				result.Failed = make(map[string]string)
			}
			result.Failed[removal.ServiceID] = err.Error()
			r.logger.Error("removing service record failed",
				zap.String("service_id", removal.ServiceID),
				zap.Error(err),
			)
		}
	}

	return result, nil
}
