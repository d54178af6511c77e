package catalog

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gobwas/glob"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	ierrors "github.com/ibnctl/ibnctl/internal/errors"
	"github.com/ibnctl/ibnctl/internal/logging"
	"github.com/ibnctl/ibnctl/internal/model"
)

const (
	devicesFile   = "devices.hcl"
	grammarFile   = "grammar.hcl"
	templatesFile = "templates.hcl"
)

// compiledRule is a GrammarRule with its pattern precompiled, mirroring the
// teacher's precompiled-regexp idiom (internal/validation/validators.go).
type compiledRule struct {
	GrammarRule
	re *regexp.Regexp
}

// snapshot is one immutable, fully-validated load of the catalog. Readers
// hold a reference to one snapshot for the duration of an operation, per
// spec.md §5.
type snapshot struct {
	devices   map[string]model.Device
	rules     []compiledRule
	templates map[string]Template
}

// Catalog serves device/grammar/template lookups from an atomically
// swapped snapshot, so Reload never partially applies (spec.md §4.1).
type Catalog struct {
	dir      string
	logger   *logging.Logger
	current  atomic.Pointer[snapshot]
}

// New creates a Catalog rooted at dir. Call Load before first use.
func New(dir string, logger *logging.Logger) *Catalog {
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	return &Catalog{dir: dir, logger: logger}
}

// Load performs the initial catalog load. Equivalent to Reload but fails
// loudly if this is the very first load (no prior snapshot to keep
// serving on error).
func (c *Catalog) Load() error {
	snap, err := c.loadSnapshot()
	if err != nil {
		return err
	}
	c.current.Store(snap)
	return nil
}

// Reload re-parses all three catalog files and atomically swaps the
// snapshot pointer. In-flight operations continue against the snapshot
// they started with; a failed reload leaves the current snapshot in
// place (spec.md §4.1: "reload never partially applies").
func (c *Catalog) Reload() error {
	snap, err := c.loadSnapshot()
	if err != nil {
		c.logger.Error("catalog reload failed, keeping previous snapshot", "error", err)
		return err
	}
	c.current.Store(snap)
	c.logger.Info("catalog reloaded", "devices", len(snap.devices), "rules", len(snap.rules), "templates", len(snap.templates))
	return nil
}

func decodeHCLFile(path string, target any) error {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return fmt.Errorf("parse %s: %w", path, diags)
	}
	if diags := gohcl.DecodeBody(file.Body, nil, target); diags.HasErrors() {
		return fmt.Errorf("decode %s: %w", path, diags)
	}
	return nil
}

func (c *Catalog) loadSnapshot() (*snapshot, error) {
	var registry DeviceRegistry
	if err := decodeHCLFile(filepath.Join(c.dir, devicesFile), &registry); err != nil {
		return nil, ierrors.Wrap(err, ierrors.KindValidation, "config_invalid: device registry")
	}

	var grammar Grammar
	if err := decodeHCLFile(filepath.Join(c.dir, grammarFile), &grammar); err != nil {
		return nil, ierrors.Wrap(err, ierrors.KindValidation, "config_invalid: grammar")
	}

	var templateSet TemplateSet
	if err := decodeHCLFile(filepath.Join(c.dir, templatesFile), &templateSet); err != nil {
		return nil, ierrors.Wrap(err, ierrors.KindValidation, "config_invalid: templates")
	}

	devices := make(map[string]model.Device, len(registry.Devices))
	for _, d := range registry.Devices {
		if _, exists := devices[d.ID]; exists {
			return nil, ierrors.Errorf(ierrors.KindValidation, "config_invalid: duplicate device id %q", d.ID)
		}
		devices[d.ID] = toModelDevice(d)
	}

	// Uniqueness invariant: control_topic and telemetry_topic unique per id
	// (spec.md §3).
	seenControl := make(map[string]string)
	seenTelemetry := make(map[string]string)
	for id, dev := range devices {
		if owner, ok := seenControl[dev.ControlTopic]; ok {
			return nil, ierrors.Errorf(ierrors.KindValidation, "config_invalid: control_topic %q shared by %q and %q", dev.ControlTopic, owner, id)
		}
		seenControl[dev.ControlTopic] = id
		if owner, ok := seenTelemetry[dev.TelemetryTopic]; ok {
			return nil, ierrors.Errorf(ierrors.KindValidation, "config_invalid: telemetry_topic %q shared by %q and %q", dev.TelemetryTopic, owner, id)
		}
		seenTelemetry[dev.TelemetryTopic] = id
	}

	var allErrs []error

	rules := make([]compiledRule, 0, len(grammar.Rules))
	for _, r := range grammar.Rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			allErrs = append(allErrs, fmt.Errorf("rule %q: invalid pattern: %w", r.IntentType, err))
			continue
		}
		groupSet := make(map[string]bool)
		for _, name := range re.SubexpNames() {
			if name != "" {
				groupSet[name] = true
			}
		}
		targetGroup := r.TargetGroup
		if targetGroup == "" {
			targetGroup = "target"
		}
		if !groupSet[targetGroup] {
			allErrs = append(allErrs, fmt.Errorf("rule %q: pattern has no capture group %q for targets", r.IntentType, targetGroup))
			continue
		}
		for param, group := range r.ParameterMap {
			// A value prefixed with "=" is a literal constant, not a
			// capture group reference (e.g. a fixed goal_comparator).
			if strings.HasPrefix(group, "=") {
				continue
			}
			if !groupSet[group] {
				allErrs = append(allErrs, fmt.Errorf("rule %q: parameter %q references unknown capture group %q", r.IntentType, param, group))
			}
		}
		r.TargetGroup = targetGroup
		rules = append(rules, compiledRule{GrammarRule: r, re: re})
	}

	templates := make(map[string]Template, len(templateSet.Templates))
	for _, t := range templateSet.Templates {
		if !balancedPlaceholders(t.Skeleton) {
			allErrs = append(allErrs, fmt.Errorf("template %q: unbalanced substitution placeholder", t.Kind))
			continue
		}
		templates[t.Kind] = t
	}

	if len(allErrs) > 0 {
		msg := "config_invalid:"
		for _, e := range allErrs {
			msg += " " + e.Error() + ";"
		}
		return nil, ierrors.New(ierrors.KindValidation, msg)
	}

	return &snapshot{devices: devices, rules: rules, templates: templates}, nil
}

func toModelDevice(d DeviceEntry) model.Device {
	caps := make(map[model.Capability]bool, len(d.Capabilities))
	for _, c := range d.Capabilities {
		caps[model.Capability(c)] = true
	}
	statusTopic := d.StatusTopic
	if statusTopic == "" {
		statusTopic = d.ControlTopic + "/status"
	}
	return model.Device{
		ID:              d.ID,
		Kind:            model.DeviceKind(d.Kind),
		Address:         d.Address,
		DefaultPriority: model.Priority(d.DefaultPriority),
		DefaultQoS:      d.DefaultQoS,
		Capabilities:    caps,
		ControlTopic:    d.ControlTopic,
		TelemetryTopic:  d.TelemetryTopic,
		StatusTopic:     statusTopic,
	}
}

func balancedPlaceholders(s string) bool {
	depth := 0
	for i := 0; i < len(s); i++ {
		if i+1 < len(s) && s[i] == '$' && s[i+1] == '{' {
			depth++
			i++
			continue
		}
		if s[i] == '}' && depth > 0 {
			depth--
		}
	}
	return depth == 0
}

// LookupDevice returns the device with the given id.
func (c *Catalog) LookupDevice(id string) (model.Device, bool) {
	snap := c.current.Load()
	if snap == nil {
		return model.Device{}, false
	}
	d, ok := snap.devices[id]
	return d, ok
}

// ResolveTargets resolves a TargetSelector against the current snapshot.
// Callers must treat a zero-length result as unknown_target per spec.md §4.2.
func (c *Catalog) ResolveTargets(sel model.TargetSelector) []model.Device {
	snap := c.current.Load()
	if snap == nil {
		return nil
	}

	if len(sel.IDs) > 0 {
		var out []model.Device
		for _, id := range sel.IDs {
			if d, ok := snap.devices[id]; ok {
				out = append(out, d)
			}
		}
		return out
	}

	if sel.HasKind {
		var out []model.Device
		for _, d := range snap.devices {
			if d.Kind == sel.Kind {
				out = append(out, d)
			}
		}
		return out
	}

	if sel.Glob != "" {
		g, err := glob.Compile(sel.Glob)
		if err != nil {
			return nil
		}
		var out []model.Device
		for id, d := range snap.devices {
			if g.Match(id) {
				out = append(out, d)
			}
		}
		return out
	}

	return nil
}

// GrammarRules returns the ordered, compiled grammar rules.
func (c *Catalog) GrammarRules() []Rule {
	snap := c.current.Load()
	if snap == nil {
		return nil
	}
	out := make([]Rule, len(snap.rules))
	for i, r := range snap.rules {
		out[i] = Rule{GrammarRule: r.GrammarRule, re: r.re}
	}
	return out
}

// Rule is the read-only view of a compiled grammar rule exposed to the
// Parser.
type Rule struct {
	GrammarRule
	re *regexp.Regexp
}

// Match attempts to match clause against the rule's pattern, returning the
// named capture groups on success.
func (r Rule) Match(clause string) (map[string]string, bool) {
	m := r.re.FindStringSubmatch(clause)
	if m == nil {
		return nil, false
	}
	if len(m[0]) != len(clause) {
		// Require a full-clause match (spec.md §4.2 step 3: "the first
		// rule that matches the full clause wins").
		return nil, false
	}
	groups := make(map[string]string)
	for i, name := range r.re.SubexpNames() {
		if name != "" {
			groups[name] = m[i]
		}
	}
	return groups, true
}

// Template returns the policy template for the given kind.
func (c *Catalog) Template(kind string) (Template, bool) {
	snap := c.current.Load()
	if snap == nil {
		return Template{}, false
	}
	t, ok := snap.templates[kind]
	return t, ok
}

// AllDevices returns every known device (used by reconciliation and
// "target glob matching all devices" scenarios).
func (c *Catalog) AllDevices() []model.Device {
	snap := c.current.Load()
	if snap == nil {
		return nil
	}
	out := make([]model.Device, 0, len(snap.devices))
	for _, d := range snap.devices {
		out = append(out, d)
	}
	return out
}

// Watch starts an fsnotify watch on the catalog directory and calls Reload
// whenever any of the three catalog files is written. Writes are debounced
// by debounce to coalesce an editor's multi-write save. Watch blocks until
// stop is closed.
func (c *Catalog) Watch(stop <-chan struct{}, debounce time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return ierrors.Wrap(err, ierrors.KindInternal, "catalog: create watcher")
	}
	defer watcher.Close()

	if err := watcher.Add(c.dir); err != nil {
		return ierrors.Wrapf(err, ierrors.KindInternal, "catalog: watch %s", c.dir)
	}

	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-stop:
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			switch filepath.Base(ev.Name) {
			case devicesFile, grammarFile, templatesFile:
			default:
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			if err := c.Reload(); err != nil {
				c.logger.Warn("catalog watch: reload failed", "error", err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn("catalog watch: fsnotify error", "error", err)
		}
	}
}
