package dataplane

import (
	"context"
	"time"

	"github.com/ibnctl/ibnctl/internal/model"
)

// ApplyWithRetry calls Apply under DefaultApplyTimeout and returns policy
// with Status/ConsecutiveFailures/LastError updated per spec.md §4.4's
// "three consecutive failures transitions a Policy to failed" rule. A
// failure that hasn't yet reached MaxConsecutiveFailures leaves the
// Policy pending. Each call makes one Apply attempt; a pending Policy is
// not attempted again by startup reconciliation, which re-applies only
// applied Policies.
func ApplyWithRetry(ctx context.Context, enforcer Enforcer, policy model.Policy) model.Policy {
	ctx, cancel := context.WithTimeout(ctx, DefaultApplyTimeout)
	defer cancel()

	updated := policy
	if err := enforcer.Apply(ctx, policy); err != nil {
		updated.ConsecutiveFailures++
		updated.LastError = err.Error()
		if updated.ConsecutiveFailures >= MaxConsecutiveFailures {
			updated.Status = model.PolicyFailed
		} else {
			updated.Status = model.PolicyPending
		}
		return updated
	}

	updated.ConsecutiveFailures = 0
	updated.LastError = ""
	updated.Status = model.PolicyApplied
	updated.AppliedAt = time.Now()
	return updated
}
