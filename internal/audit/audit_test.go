package audit_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibnctl/ibnctl/internal/audit"
)

type fakeRecordStore struct {
	events []string
}

func (s *fakeRecordStore) RecordAudit(ctx context.Context, eventType, severity, intentID, policyID, submitter, message string) error {
	s.events = append(s.events, eventType)
	return nil
}

func TestLogIntentSubmittedPersists(t *testing.T) {
	store := &fakeRecordStore{}
	logger := audit.New(store, nil)

	logger.LogIntentSubmitted(context.Background(), "intent-1", "operator", "give camera-1 high priority")

	require.Len(t, store.events, 1)
	assert.Equal(t, string(audit.EventIntentSubmitted), store.events[0])
}

func TestLogWithNilStoreDoesNotPanic(t *testing.T) {
	logger := audit.New(nil, nil)
	assert.NotPanics(t, func() {
		logger.LogPolicyFailed(context.Background(), "intent-1", "policy-1", "apply timeout")
	})
}
