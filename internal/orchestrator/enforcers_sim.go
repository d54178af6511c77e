//go:build !linux
// +build !linux

package orchestrator

import "github.com/ibnctl/ibnctl/internal/dataplane"

func (o *Orchestrator) newDataplaneEnforcer() dataplane.Enforcer {
	return dataplane.NewSimEnforcer(o.logger)
}
