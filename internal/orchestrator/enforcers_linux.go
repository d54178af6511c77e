//go:build linux
// +build linux

package orchestrator

import "github.com/ibnctl/ibnctl/internal/dataplane"

const defaultRootRateBps = 1_000_000_000 // 1 Gbps HTB root, overridable via future config

func (o *Orchestrator) newDataplaneEnforcer() dataplane.Enforcer {
	return dataplane.NewLinuxEnforcer(o.cfg.DataplaneIface, defaultRootRateBps, o.logger)
}
