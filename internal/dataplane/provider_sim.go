//go:build !linux
// +build !linux

package dataplane

import (
	"context"
	"sync"

	"github.com/ibnctl/ibnctl/internal/logging"
	"github.com/ibnctl/ibnctl/internal/model"
)

// SimEnforcer is the non-Linux dry-mode data-plane Enforcer: it records
// what it would have applied without touching any kernel facility,
// mirroring the teacher's provider_sim.go fallback used when the real
// kernel provider isn't available on the build platform.
type SimEnforcer struct {
	logger *logging.Logger

	mu       sync.Mutex
	policies map[string]model.Policy
}

// NewLinuxEnforcer's non-Linux counterpart. Named NewSimEnforcer since
// there's no Linux kernel facility to bind an interface to here.
func NewSimEnforcer(logger *logging.Logger) *SimEnforcer {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	return &SimEnforcer{logger: logger, policies: make(map[string]model.Policy)}
}

func (e *SimEnforcer) Apply(ctx context.Context, policy model.Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logger.Info("dry-run apply", "kind", policy.Kind, "target", policy.Target)
	e.policies[policy.Key()] = policy
	return nil
}

func (e *SimEnforcer) Rollback(ctx context.Context, policy model.Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logger.Info("dry-run rollback", "kind", policy.Kind, "target", policy.Target)
	delete(e.policies, policy.Key())
	return nil
}

func (e *SimEnforcer) Show(ctx context.Context, iface string) (Tree, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	tree := Tree{Policies: make(map[string]model.Policy, len(e.policies))}
	for k, p := range e.policies {
		tree.Policies[k] = p
	}
	return tree, nil
}
