package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/revflow-os/revcore/pkg/model"
	"github.com/revflow-os/revcore/pkg/storage"
)

// PlanPhantoms finds active records whose declared port has no listener
// across every pass. A record whose health endpoint still answers is never a
// candidate, whatever the port probe said; that keeps "phantom" and
// "unhealthy but present" strictly disjoint.
func (r *Reconciler) PlanPhantoms(ctx context.Context) (*Plan, error) {
	records, err := r.store.List(ctx, storage.ListFilter{Status: model.StatusActive})
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Kind:        KindPhantom,
		GeneratedAt: time.Now(),
		Examined:    len(records),
		Removals:    []Removal{},
	}

	listenerSeen := make(map[string]bool, len(records))

	for pass := 0; pass < r.opts.Passes; pass++ {
		if pass > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(r.opts.PassGap):
			}
		}

		for _, record := range records {
			if listenerSeen[record.ServiceID] {
				continue
			}
			if r.checker.PortActive(ctx, record.Host, record.Port) {
				listenerSeen[record.ServiceID] = true
			}
		}
	}

	for _, record := range records {
		if listenerSeen[record.ServiceID] {
			continue
		}

		// Final safety net: a service answering its health endpoint is alive
		// no matter what the socket probe saw.
		if probe := r.checker.Probe(ctx, record); probe.Healthy {
			r.logger.Warn("port probe missed a live service, skipping",
				zap.String("service_id", record.ServiceID),
				zap.String("addr", record.Address()),
			)
			continue
		}

		plan.Removals = append(plan.Removals, Removal{
			ServiceID: record.ServiceID,
			Reason: fmt.Sprintf("no listener on %s across %d passes",
				record.Address(), r.opts.Passes),
		})
	}

	return plan, nil
}
