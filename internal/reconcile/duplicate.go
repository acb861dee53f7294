package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/revflow-os/revcore/pkg/model"
	"github.com/revflow-os/revcore/pkg/storage"
)

// PlanDuplicatePorts finds records sharing a (host, port) pair and plans the
// removal of all but the most recently registered one. Duplicate ports on
// the same host are a data-quality defect: two services cannot both own the
// socket.
func (r *Reconciler) PlanDuplicatePorts(ctx context.Context) (*Plan, error) {
	records, err := r.store.List(ctx, storage.ListFilter{})
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Kind:        KindDuplicatePort,
		GeneratedAt: time.Now(),
		Examined:    len(records),
		Removals:    []Removal{},
	}

	byAddr := make(map[string][]*model.ServiceRecord)
	for _, record := range records {
		addr := record.Address()
		byAddr[addr] = append(byAddr[addr], record)
	}

	addrs := make([]string, 0, len(byAddr))
	for addr := range byAddr {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	for _, addr := range addrs {
		group := byAddr[addr]
		if len(group) < 2 {
			continue
		}

		// Newest registration wins; updated_at breaks registration-time ties
		// and service_id makes the ordering deterministic.
		sort.Slice(group, func(i, j int) bool {
			a, b := group[i], group[j]
			if !a.RegisteredAt.Equal(b.RegisteredAt) {
				return a.RegisteredAt.After(b.RegisteredAt)
			}
			if !a.UpdatedAt.Equal(b.UpdatedAt) {
				return a.UpdatedAt.After(b.UpdatedAt)
			}
			return a.ServiceID > b.ServiceID
		})

		keeper := group[0]
		for _, loser := range group[1:] {
			plan.Removals = append(plan.Removals, Removal{
				ServiceID: loser.ServiceID,
				Reason: fmt.Sprintf("duplicate of %s on %s, superseded by %s",
					keeper.ServiceID, addr, keeper.RegisteredAt.Format(time.RFC3339)),
			})
		}
	}

	return plan, nil
}
