package deviceplane

import (
	"context"
	"time"

	"github.com/ibnctl/ibnctl/internal/model"
)

// ApplyWithRetry calls Apply and maps the outcome onto Policy lifecycle
// fields. An offline device doesn't count against the consecutive-failure
// threshold — it's parked as pending_delivery and redelivered by
// HandleStatusMessage once the device's birth message arrives.
func ApplyWithRetry(ctx context.Context, enforcer *Enforcer, policy model.Policy) model.Policy {
	ctx, cancel := context.WithTimeout(ctx, DefaultApplyTimeout)
	defer cancel()

	updated := policy
	err := enforcer.Apply(ctx, policy)

	switch {
	case err == nil:
		updated.ConsecutiveFailures = 0
		updated.LastError = ""
		updated.Status = model.PolicyApplied
		updated.AppliedAt = time.Now()
	case err == ErrDeviceOffline:
		updated.Status = model.PolicyPendingDelivery
		updated.LastError = ""
	default:
		updated.ConsecutiveFailures++
		updated.LastError = err.Error()
		if updated.ConsecutiveFailures >= MaxConsecutiveFailures {
			updated.Status = model.PolicyFailed
		} else {
			updated.Status = model.PolicyPending
		}
	}
	return updated
}
