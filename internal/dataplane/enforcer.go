// Package dataplane realizes data-plane Policies (htb_class, netem_delay,
// priority_mark, iptables_rule) against the local network stack, per
// spec.md §4.4.
package dataplane

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/ibnctl/ibnctl/internal/model"
)

// DefaultApplyTimeout bounds a single Apply/Rollback call against the
// kernel, per spec.md §4.4's data-plane deadline.
const DefaultApplyTimeout = 3 * time.Second

// MaxConsecutiveFailures is the number of Apply failures in a row before
// a Policy transitions to failed, per spec.md §4.4.
const MaxConsecutiveFailures = 3

// Tree is the normalized live enforcement state for one interface,
// diffable against the State Store's applied Policies by the same key
// shape as model.Policy.Key(). Modeled on the teacher's
// AtomicIPSetUpdate current-vs-desired comparison, generalized from IP
// set elements to policy keys.
type Tree struct {
	Policies map[string]model.Policy
}

// Enforcer applies, rolls back, and enumerates data-plane Policies. The
// Linux implementation (provider_linux.go) backs it with
// vishvananda/netlink for htb_class/netem_delay and google/nftables for
// priority_mark/iptables_rule; provider_sim.go is the non-Linux dry-mode
// fallback, selected at build time rather than a runtime GOOS branch, per
// SPEC_FULL.md's "capability-based strategy chosen at startup" note.
type Enforcer interface {
	Apply(ctx context.Context, policy model.Policy) error
	Rollback(ctx context.Context, policy model.Policy) error
	Show(ctx context.Context, iface string) (Tree, error)
}

// minorHandle derives a stable HTB minor handle for a policy target that
// doesn't carry an explicit classid parameter (bandwidth/netem/security
// policies key off the device, not a priority band). priority policies
// supply their own classid via Parameters["classid"] and never go
// through this path.
func minorHandle(target string) uint16 {
	h := fnv.New32a()
	h.Write([]byte(target))
	return uint16(0x1000 + h.Sum32()%0xe000)
}

func classIDParam(policy model.Policy) (string, bool) {
	classID, ok := policy.Parameters["classid"].(string)
	return classID, ok
}
