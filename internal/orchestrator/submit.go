package orchestrator

import (
	"context"

	"github.com/ibnctl/ibnctl/internal/dataplane"
	"github.com/ibnctl/ibnctl/internal/deviceplane"
	ierrors "github.com/ibnctl/ibnctl/internal/errors"
	"github.com/ibnctl/ibnctl/internal/idgen"
	"github.com/ibnctl/ibnctl/internal/model"
)

// submitRequest is one unit of work for the single submission worker
// (spec.md §5): parse/compile/store/enforce for one raw-text or
// already-parsed intent, replied to on its own channel so callers block
// only on their own request.
type submitRequest struct {
	rawText        string
	parsed         *model.ParsedIntent
	submitter      string
	parentIntentID string
	reply          chan submitResult
}

type submitResult struct {
	intent   model.Intent
	policies []model.Policy
	err      error
}

// SubmitText implements the submit_intent operation named by spec.md §6:
// natural-language text enters the Parser, everything downstream is
// identical to a feedback-driven correction.
func (o *Orchestrator) SubmitText(ctx context.Context, rawText, submitter string) (model.Intent, []model.Policy, error) {
	return o.submit(ctx, submitRequest{rawText: rawText, submitter: submitter})
}

// SubmitParsed implements feedback.Submitter: it lets the Feedback
// Controller route a corrective intent through Compile/Store/Enforce
// without entering at raw text, and without internal/feedback needing
// to import this package.
func (o *Orchestrator) SubmitParsed(ctx context.Context, parsed model.ParsedIntent, submitter, parentIntentID string) (model.Intent, []model.Policy, error) {
	return o.submit(ctx, submitRequest{parsed: &parsed, submitter: submitter, parentIntentID: parentIntentID})
}

func (o *Orchestrator) submit(ctx context.Context, req submitRequest) (model.Intent, []model.Policy, error) {
	if o.inSafeMode() {
		return model.Intent{}, nil, ierrors.New(ierrors.KindUnavailable, "controller is in safe mode: rejecting new submissions")
	}

	req.reply = make(chan submitResult, 1)
	select {
	case o.submitCh <- req:
	case <-ctx.Done():
		return model.Intent{}, nil, ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res.intent, res.policies, res.err
	case <-ctx.Done():
		return model.Intent{}, nil, ctx.Err()
	}
}

// runSubmissionWorker is the single writer for Intent/Policy creation
// (spec.md §5, §4.7): every submission is handled in strict arrival
// order off one channel.
func (o *Orchestrator) runSubmissionWorker(ctx context.Context) error {
	for {
		select {
		case req := <-o.submitCh:
			req.reply <- o.handleSubmit(ctx, req)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (o *Orchestrator) handleSubmit(ctx context.Context, req submitRequest) submitResult {
	parsedClauses, err := o.resolveClauses(req)
	if err != nil {
		return submitResult{err: err}
	}

	top := parsedClauses[0]
	devices := o.catalog.ResolveTargets(top.TargetSelector)
	intentID := idgen.NewIntentID()

	policies, err := o.compiler.Compile(intentID, top, devices)
	if err != nil {
		return submitResult{err: err}
	}

	intent := model.Intent{
		ID:             intentID,
		RawText:        req.rawText,
		Parsed:         top,
		Goal:           top.Goal,
		Status:         model.StatusCompiled,
		Submitter:      req.submitter,
		ParentIntentID: req.parentIntentID,
	}

	if err := o.store.CreateIntent(ctx, &intent, policies); err != nil {
		return submitResult{err: err}
	}

	if req.parentIntentID != "" {
		o.registry.FeedbackCorrections.Inc()
		o.audit.LogFeedbackCorrection(ctx, req.parentIntentID, intent.ID)
	} else {
		o.registry.IntentsSubmitted.Inc()
		o.audit.LogIntentSubmitted(ctx, intent.ID, req.submitter, req.rawText)
	}

	o.enforceAsync(intent.ID, policies)

	return submitResult{intent: intent, policies: policies}
}

func (o *Orchestrator) resolveClauses(req submitRequest) ([]model.ParsedIntent, error) {
	if req.parsed != nil {
		return []model.ParsedIntent{*req.parsed}, nil
	}
	return o.parser.Parse(req.rawText)
}

// enforceAsync hands each Policy to its plane's Enforcer without
// blocking the submission worker on apply latency. Each Policy runs on
// its own goroutine, which waits until the previous Policy of the same
// intent has finished its apply attempt and recorded its status, so one
// intent's Policies are applied one at a time in their compiled order.
func (o *Orchestrator) enforceAsync(intentID string, policies []model.Policy) {
	prev := make(chan struct{})
	close(prev)
	for _, p := range policies {
		p := p
		wait, done := prev, make(chan struct{})
		prev = done
		go func() {
			defer close(done)
			<-wait
			ctx := context.Background()
			var updated model.Policy
			switch p.Plane {
			case model.PlaneDataPlane:
				updated = dataplane.ApplyWithRetry(ctx, o.dataEnforcer, p)
			case model.PlaneDevice:
				updated = deviceplane.ApplyWithRetry(ctx, o.deviceEnforcer, p)
			default:
				return
			}

			var appliedAt any
			if updated.Status == model.PolicyApplied {
				appliedAt = updated.AppliedAt.UnixMilli()
				o.registry.PoliciesApplied.WithLabelValues(string(updated.Plane), string(updated.Kind)).Inc()
				o.audit.LogPolicyApplied(ctx, intentID, updated.ID)
			}
			if updated.Status == model.PolicyFailed {
				o.registry.PoliciesFailed.WithLabelValues(string(updated.Plane), string(updated.Kind)).Inc()
				o.audit.LogPolicyFailed(ctx, intentID, updated.ID, updated.LastError)
			}

			if err := o.store.UpdatePolicyStatus(ctx, updated.ID, updated.Status, updated.LastError, updated.ConsecutiveFailures, appliedAt); err != nil {
				o.logger.Warn("failed to persist policy status", "policy", updated.ID, "error", err)
			}
		}()
	}
}

// RevokeIntent implements the revoke_intent operation (spec.md §6):
// supersede the Intent and roll back every Policy it owns.
func (o *Orchestrator) RevokeIntent(ctx context.Context, intentID, submitter string) error {
	intent, policies, err := o.store.GetIntent(intentID)
	if err != nil {
		return err
	}

	if err := o.store.SupersedeIntent(ctx, intentID); err != nil {
		return err
	}

	for _, p := range policies {
		p := p
		go func() {
			var err error
			switch p.Plane {
			case model.PlaneDataPlane:
				err = o.dataEnforcer.Rollback(ctx, p)
			case model.PlaneDevice:
				err = o.deviceEnforcer.Rollback(ctx, p)
			}
			if err != nil {
				o.logger.Warn("rollback failed", "policy", p.ID, "error", err)
				return
			}
			if upErr := o.store.UpdatePolicyStatus(ctx, p.ID, model.PolicyRolledBack, "", 0, nil); upErr != nil {
				o.logger.Warn("failed to persist rollback", "policy", p.ID, "error", upErr)
			}
			o.audit.LogPolicyRolledBack(ctx, intent.ID, p.ID)
		}()
	}

	o.registry.IntentsRevoked.Inc()
	o.audit.LogIntentRevoked(ctx, intentID, submitter)
	return nil
}
