package dataplane

import (
	"context"

	"github.com/ibnctl/ibnctl/internal/logging"
	"github.com/ibnctl/ibnctl/internal/model"
)

// policyStore is the slice of *store.Store the Reconciler needs,
// narrowed so tests can fake it without opening a real database.
type policyStore interface {
	AppliedPolicies(plane model.Plane) ([]model.Policy, error)
	UpdatePolicyStatus(ctx context.Context, id string, status model.PolicyStatus, lastError string, consecutiveFailures int, appliedAt any) error
}

// Reconciler converges live data-plane state with the State Store's
// applied Policies at startup, per spec.md §4.7's reconciliation step:
// diff live vs desired (Show vs AppliedPolicies), re-apply what's
// missing. Modeled on the teacher's AtomicIPSetUpdate current-vs-desired
// diff in internal/firewall/atomic.go, generalized from IP set elements
// to policy keys.
type Reconciler struct {
	enforcer Enforcer
	store    policyStore
	iface    string
	logger   *logging.Logger
}

// NewReconciler builds a Reconciler for one data-plane interface.
func NewReconciler(enforcer Enforcer, store policyStore, iface string, logger *logging.Logger) *Reconciler {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	return &Reconciler{enforcer: enforcer, store: store, iface: iface, logger: logger}
}

// Reconcile re-applies every applied Policy the Enforcer can't currently
// show live. It does not touch live state it can't attribute to a known
// Policy key — drift outside the controller's ownership is left alone.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	applied, err := r.store.AppliedPolicies(model.PlaneDataPlane)
	if err != nil {
		return err
	}

	live, err := r.enforcer.Show(ctx, r.iface)
	if err != nil {
		return err
	}

	for _, p := range applied {
		if _, ok := live.Policies[p.Key()]; ok {
			continue
		}
		r.logger.Warn("reconciling missing data-plane policy", "kind", p.Kind, "target", p.Target)
		updated := ApplyWithRetry(ctx, r.enforcer, p)
		if err := r.store.UpdatePolicyStatus(ctx, updated.ID, updated.Status, updated.LastError, updated.ConsecutiveFailures, nullableAppliedAt(updated)); err != nil {
			return err
		}
	}

	return nil
}

func nullableAppliedAt(p model.Policy) any {
	if p.Status != model.PolicyApplied {
		return nil
	}
	return p.AppliedAt.UnixMilli()
}
