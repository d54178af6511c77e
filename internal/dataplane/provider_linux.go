// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux
// +build linux

package dataplane

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/google/nftables"
	"github.com/vishvananda/netlink"

	ierrors "github.com/ibnctl/ibnctl/internal/errors"
	"github.com/ibnctl/ibnctl/internal/logging"
	"github.com/ibnctl/ibnctl/internal/model"
)

const (
	nftTableName    = "ibnctl"
	nftClassifyChain = "classify"
	nftSecurityChain = "security"
)

// LinuxEnforcer realizes data-plane Policies against this host's network
// stack. htb_class/netem_delay go through vishvananda/netlink, following
// the root-qdisc/root-class/leaf-class/fq_codel shape of the teacher's
// internal/qos/manager.go. priority_mark/iptables_rule are realized as
// nftables rules: applied via an `nft -f -` script (the teacher's own
// atomic-apply idiom, internal/firewall/atomic.go's AtomicRulesetUpdate
// and script_builder.go's flush-then-rebuild-chain pattern) and read back
// via the native google/nftables connection for Show/Rollback, matching
// internal/kernel/provider_linux.go's enumeration style.
type LinuxEnforcer struct {
	iface    string
	rootRate uint64 // bits/s, total interface budget
	logger   *logging.Logger

	mu        sync.Mutex
	rootReady bool
}

// NewLinuxEnforcer creates an Enforcer bound to one interface. rootRate is
// the total HTB root class budget in bits/s.
func NewLinuxEnforcer(iface string, rootRate uint64, logger *logging.Logger) *LinuxEnforcer {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	return &LinuxEnforcer{iface: iface, rootRate: rootRate, logger: logger}
}

func (e *LinuxEnforcer) Apply(ctx context.Context, policy model.Policy) error {
	switch policy.Kind {
	case model.PolicyHTBClass:
		return e.applyHTBClass(policy)
	case model.PolicyNetemDelay:
		return e.applyNetemDelay(policy)
	case model.PolicyPriorityMark:
		return e.applyPriorityMark(policy)
	case model.PolicyIPTablesRule:
		return e.applyIPTablesRule(policy)
	default:
		return ierrors.Errorf(ierrors.KindInternal, "data-plane enforcer cannot apply policy kind %q", policy.Kind)
	}
}

func (e *LinuxEnforcer) Rollback(ctx context.Context, policy model.Policy) error {
	switch policy.Kind {
	case model.PolicyHTBClass:
		return e.rollbackHTBClass(policy)
	case model.PolicyNetemDelay:
		return e.rollbackNetemDelay(policy)
	case model.PolicyPriorityMark:
		return e.rollbackNftRule(nftClassifyChain, policy)
	case model.PolicyIPTablesRule:
		return e.rollbackNftRule(nftSecurityChain, policy)
	default:
		return ierrors.Errorf(ierrors.KindInternal, "data-plane enforcer cannot roll back policy kind %q", policy.Kind)
	}
}

func (e *LinuxEnforcer) link() (netlink.Link, error) {
	link, err := netlink.LinkByName(e.iface)
	if err != nil {
		return nil, ierrors.Wrapf(err, ierrors.KindTransportUnavailable, "data-plane: interface %q not found", e.iface)
	}
	return link, nil
}

// ensureRoot creates the root HTB qdisc and root class once, idempotently,
// mirroring qos/manager.go step 1-3 but without the destructive
// qdisc-clear-on-every-apply of the teacher's ApplyConfig (reconciliation
// must not disturb classes it isn't touching).
func (e *LinuxEnforcer) ensureRoot(link netlink.Link) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rootReady {
		return nil
	}

	qdiscs, err := netlink.QdiscList(link)
	if err != nil {
		return ierrors.Wrap(err, ierrors.KindApplyRejected, "data-plane: list qdiscs")
	}
	for _, q := range qdiscs {
		if q.Attrs().Parent == netlink.HANDLE_ROOT && q.Type() == "htb" {
			e.rootReady = true
			return nil
		}
	}

	rootQdisc := netlink.NewHtb(netlink.QdiscAttrs{
		LinkIndex: link.Attrs().Index,
		Parent:    netlink.HANDLE_ROOT,
		Handle:    netlink.MakeHandle(1, 0),
	})
	if err := netlink.QdiscAdd(rootQdisc); err != nil {
		return ierrors.Wrap(err, ierrors.KindApplyRejected, "data-plane: add root htb qdisc")
	}

	rootClass := netlink.NewHtbClass(netlink.ClassAttrs{
		LinkIndex: link.Attrs().Index,
		Parent:    netlink.MakeHandle(1, 0),
		Handle:    netlink.MakeHandle(1, 1),
	}, netlink.HtbClassAttrs{
		Rate:    e.rootRate,
		Ceil:    e.rootRate,
		Buffer:  1514,
		Cbuffer: 1514,
	})
	if err := netlink.ClassAdd(rootClass); err != nil {
		return ierrors.Wrap(err, ierrors.KindApplyRejected, "data-plane: add root htb class")
	}

	e.rootReady = true
	return nil
}

func (e *LinuxEnforcer) applyHTBClass(policy model.Policy) error {
	link, err := e.link()
	if err != nil {
		return err
	}
	if err := e.ensureRoot(link); err != nil {
		return err
	}

	minor := minorFromPolicy(policy)

	rate := e.rootRate / 8
	ceil := e.rootRate
	if r, ok := policy.Parameters["rate"].(int64); ok {
		rate = uint64(r)
	}
	if c, ok := policy.Parameters["ceil"].(int64); ok {
		ceil = uint64(c)
	}

	class := netlink.NewHtbClass(netlink.ClassAttrs{
		LinkIndex: link.Attrs().Index,
		Parent:    netlink.MakeHandle(1, 1),
		Handle:    netlink.MakeHandle(1, minor),
	}, netlink.HtbClassAttrs{
		Rate:    rate,
		Ceil:    ceil,
		Buffer:  1514,
		Cbuffer: 1514,
	})
	if err := netlink.ClassReplace(class); err != nil {
		return ierrors.Wrap(err, ierrors.KindApplyRejected, "data-plane: add htb class")
	}

	fq := netlink.NewFqCodel(netlink.QdiscAttrs{
		LinkIndex: link.Attrs().Index,
		Parent:    netlink.MakeHandle(1, minor),
		Handle:    netlink.MakeHandle(uint16(minor), 0),
	})
	if err := netlink.QdiscReplace(fq); err != nil {
		return ierrors.Wrap(err, ierrors.KindApplyRejected, "data-plane: add leaf fq_codel qdisc")
	}
	return nil
}

func (e *LinuxEnforcer) rollbackHTBClass(policy model.Policy) error {
	link, err := e.link()
	if err != nil {
		return err
	}
	minor := minorFromPolicy(policy)
	class := netlink.NewHtbClass(netlink.ClassAttrs{
		LinkIndex: link.Attrs().Index,
		Parent:    netlink.MakeHandle(1, 1),
		Handle:    netlink.MakeHandle(1, minor),
	}, netlink.HtbClassAttrs{})
	if err := netlink.ClassDel(class); err != nil {
		return ierrors.Wrap(err, ierrors.KindApplyRejected, "data-plane: delete htb class")
	}
	return nil
}

// applyNetemDelay attaches a netem delay qdisc under a dedicated leaf
// class for the target, creating that leaf if it doesn't already exist
// (a latency-only intent may never have gone through applyHTBClass).
func (e *LinuxEnforcer) applyNetemDelay(policy model.Policy) error {
	link, err := e.link()
	if err != nil {
		return err
	}
	if err := e.ensureRoot(link); err != nil {
		return err
	}

	delayMS, ok := policy.Parameters["delay_ms"].(int64)
	if !ok {
		return ierrors.Errorf(ierrors.KindInternal, "netem_delay policy missing delay_ms parameter")
	}

	minor := minorFromPolicy(policy)
	leafClass := netlink.NewHtbClass(netlink.ClassAttrs{
		LinkIndex: link.Attrs().Index,
		Parent:    netlink.MakeHandle(1, 1),
		Handle:    netlink.MakeHandle(1, minor),
	}, netlink.HtbClassAttrs{
		Rate:    e.rootRate / 8,
		Ceil:    e.rootRate,
		Buffer:  1514,
		Cbuffer: 1514,
	})
	if err := netlink.ClassReplace(leafClass); err != nil {
		return ierrors.Wrap(err, ierrors.KindApplyRejected, "data-plane: add netem leaf class")
	}

	netem := netlink.NewNetem(netlink.QdiscAttrs{
		LinkIndex: link.Attrs().Index,
		Parent:    netlink.MakeHandle(1, minor),
		Handle:    netlink.MakeHandle(uint16(minor), 0),
	}, netlink.NetemQdiscAttrs{
		Latency: uint32(delayMS * 1000), // netlink.NetemQdiscAttrs.Latency is microseconds
	})
	if err := netlink.QdiscReplace(netem); err != nil {
		return ierrors.Wrap(err, ierrors.KindApplyRejected, "data-plane: add netem qdisc")
	}
	return nil
}

func (e *LinuxEnforcer) rollbackNetemDelay(policy model.Policy) error {
	link, err := e.link()
	if err != nil {
		return err
	}
	minor := minorFromPolicy(policy)
	netem := netlink.NewNetem(netlink.QdiscAttrs{
		LinkIndex: link.Attrs().Index,
		Parent:    netlink.MakeHandle(1, minor),
		Handle:    netlink.MakeHandle(uint16(minor), 0),
	}, netlink.NetemQdiscAttrs{})
	if err := netlink.QdiscDel(netem); err != nil {
		return ierrors.Wrap(err, ierrors.KindApplyRejected, "data-plane: delete netem qdisc")
	}
	return nil
}

func minorFromPolicy(policy model.Policy) uint16 {
	if classID, ok := classIDParam(policy); ok {
		var major, minor uint16
		if _, err := fmt.Sscanf(classID, "1:%x", &minor); err == nil {
			return minor
		}
		_ = major
	}
	return minorHandle(policy.Target)
}

func (e *LinuxEnforcer) applyPriorityMark(policy model.Policy) error {
	address, _ := policy.Parameters["address"].(string)
	mark, _ := policy.Parameters["mark"].(int)
	if address == "" {
		return ierrors.Errorf(ierrors.KindInternal, "priority_mark policy missing address parameter")
	}

	rule := fmt.Sprintf("ip saddr %s meta mark set 0x%x comment %q", address, mark, policy.Key())
	return e.runNftScript(nftClassifyChain, "prerouting", "mangle", -150, rule)
}

func (e *LinuxEnforcer) applyIPTablesRule(policy model.Policy) error {
	action, _ := policy.Parameters["action"].(string)
	address, _ := policy.Parameters["address"].(string)
	if address == "" {
		return ierrors.Errorf(ierrors.KindInternal, "iptables_rule policy missing address parameter")
	}

	verdict := "drop"
	if action == "allow" {
		verdict = "accept"
	}
	rule := fmt.Sprintf("ip saddr %s %s comment %q", address, verdict, policy.Key())
	return e.runNftScript(nftSecurityChain, "forward", "filter", 0, rule)
}

// runNftScript declares the table/chain if missing and appends one rule
// to the chain. The chain is not flushed and no other rules are re-added;
// the Enforcer never tracks rule sets itself.
func (e *LinuxEnforcer) runNftScript(chain, hook, family string, priority int, rule string) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "add table inet %s\n", nftTableName)
	fmt.Fprintf(&sb, "add chain inet %s %s { type filter hook %s priority %d; policy accept; }\n", nftTableName, chain, hook, priority)
	fmt.Fprintf(&sb, "add rule inet %s %s %s\n", nftTableName, chain, rule)

	cmd := exec.Command("nft", "-f", "-")
	cmd.Stdin = strings.NewReader(sb.String())
	if out, err := cmd.CombinedOutput(); err != nil {
		return ierrors.Wrapf(err, ierrors.KindApplyRejected, "data-plane: apply nft rule: %s", string(out))
	}
	return nil
}

// rollbackNftRule finds the live rule tagged with policy.Key() (via the
// `comment` clause, stored as nftables rule UserData) and deletes it
// through the native connection, matching the teacher's read-path idiom
// in internal/kernel/provider_linux.go.
func (e *LinuxEnforcer) rollbackNftRule(chain string, policy model.Policy) error {
	conn, err := nftables.New()
	if err != nil {
		return ierrors.Wrap(err, ierrors.KindTransportUnavailable, "data-plane: connect to nftables")
	}

	table := &nftables.Table{Name: nftTableName, Family: nftables.TableFamilyINet}
	chains, err := conn.ListChains()
	if err != nil {
		return ierrors.Wrap(err, ierrors.KindApplyRejected, "data-plane: list chains")
	}

	for _, c := range chains {
		if c.Table.Name != nftTableName || c.Name != chain {
			continue
		}
		rules, err := conn.GetRules(table, c)
		if err != nil {
			return ierrors.Wrap(err, ierrors.KindApplyRejected, "data-plane: get rules")
		}
		for _, r := range rules {
			if string(r.UserData) != policy.Key() {
				continue
			}
			if err := conn.DelRule(r); err != nil {
				return ierrors.Wrap(err, ierrors.KindApplyRejected, "data-plane: delete rule")
			}
			return conn.Flush()
		}
	}
	return nil
}

// Show enumerates live HTB classes and nft rules into a normalized Tree
// keyed by policy key, for startup reconciliation. Class/qdisc
// enumeration follows qos/manager.go's netlink.ClassList shape; nft rule
// enumeration follows kernel/provider_linux.go's GetCounters walk.
func (e *LinuxEnforcer) Show(ctx context.Context, iface string) (Tree, error) {
	tree := Tree{Policies: make(map[string]model.Policy)}

	link, err := netlink.LinkByName(iface)
	if err != nil {
		return tree, ierrors.Wrapf(err, ierrors.KindTransportUnavailable, "data-plane: interface %q not found", iface)
	}

	classes, err := netlink.ClassList(link, netlink.MakeHandle(1, 0))
	if err != nil {
		return tree, ierrors.Wrap(err, ierrors.KindApplyRejected, "data-plane: list classes")
	}
	for _, c := range classes {
		htb, ok := c.(*netlink.HtbClass)
		if !ok || htb.Handle == netlink.MakeHandle(1, 1) {
			continue // skip the root class itself
		}
		key := fmt.Sprintf("%s|minor:%x", model.PolicyHTBClass, htb.Handle&0xffff)
		tree.Policies[key] = model.Policy{
			Kind:   model.PolicyHTBClass,
			Status: model.PolicyApplied,
			Parameters: map[string]any{
				"rate": int64(htb.Rate),
				"ceil": int64(htb.Ceil),
			},
		}
	}

	conn, err := nftables.New()
	if err != nil {
		return tree, ierrors.Wrap(err, ierrors.KindTransportUnavailable, "data-plane: connect to nftables")
	}
	table := &nftables.Table{Name: nftTableName, Family: nftables.TableFamilyINet}
	chains, err := conn.ListChains()
	if err != nil {
		// No ibnctl table yet is not an error: nothing has been applied.
		return tree, nil
	}
	for _, c := range chains {
		if c.Table.Name != nftTableName {
			continue
		}
		rules, err := conn.GetRules(table, c)
		if err != nil {
			continue
		}
		for _, r := range rules {
			if len(r.UserData) == 0 {
				continue
			}
			parts := strings.SplitN(string(r.UserData), "|", 2)
			if len(parts) != 2 {
				continue
			}
			tree.Policies[string(r.UserData)] = model.Policy{
				Kind:   model.PolicyKind(parts[0]),
				Target: parts[1],
				Status: model.PolicyApplied,
			}
		}
	}

	return tree, nil
}
