// Package parser turns free-form intent text into structured ParsedIntents,
// per spec.md §4.2.
package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ibnctl/ibnctl/internal/catalog"
	ierrors "github.com/ibnctl/ibnctl/internal/errors"
	"github.com/ibnctl/ibnctl/internal/model"
)

// catalogSource is the subset of *catalog.Catalog the Parser depends on,
// so tests can supply a fake without a full HCL-backed Catalog.
type catalogSource interface {
	GrammarRules() []catalog.Rule
	ResolveTargets(model.TargetSelector) []model.Device
}

// conjunctionSplitter matches the top-level conjunctions named in
// spec.md §4.2 step 2.
var conjunctionSplitter = regexp.MustCompile(`\s+and\s+|\s+then\s+|;\s*`)

// punctuationStrip removes punctuation irrelevant to grammar matches,
// keeping characters a rate/unit token needs (digits, letters, '.', '/',
// '-', ':').
var punctuationStrip = regexp.MustCompile(`[,!?"']`)

// Parser parses raw text into ParsedIntents using the Catalog's grammar.
type Parser struct {
	catalog catalogSource
}

// New creates a Parser backed by the given catalog.
func New(c catalogSource) *Parser {
	return &Parser{catalog: c}
}

// Parse implements spec.md §4.2's algorithm. On any clause failure the
// whole submission fails atomically: no partial results are returned.
func (p *Parser) Parse(rawText string) ([]model.ParsedIntent, error) {
	clauses := splitClauses(rawText)
	if len(clauses) == 0 {
		return nil, ierrors.Errorf(ierrors.KindParseFailure, "empty input")
	}

	parsed := make([]model.ParsedIntent, 0, len(clauses))
	for _, clause := range clauses {
		pi, err := p.parseClause(clause)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, pi)
	}

	if len(parsed) > 1 {
		head := parsed[0]
		head.Conjunctions = parsed[1:]
		return []model.ParsedIntent{head}, nil
	}
	// A single-clause submission still carries an explicit empty (not
	// nil) Conjunctions slice, per SPEC_FULL.md's Parser supplement.
	parsed[0].Conjunctions = []model.ParsedIntent{}
	return parsed, nil
}

func normalize(text string) string {
	s := strings.ToLower(text)
	s = punctuationStrip.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimSpace(s)
}

func splitClauses(rawText string) []string {
	normalized := normalize(rawText)
	if normalized == "" {
		return nil
	}
	parts := conjunctionSplitter.Split(normalized, -1)
	clauses := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			clauses = append(clauses, part)
		}
	}
	return clauses
}

func (p *Parser) parseClause(clause string) (model.ParsedIntent, error) {
	for _, rule := range p.catalog.GrammarRules() {
		groups, ok := rule.Match(clause)
		if !ok {
			continue
		}
		return p.buildParsedIntent(rule, groups)
	}
	return model.ParsedIntent{}, ierrors.Errorf(ierrors.KindParseFailure, "no grammar rule matches clause %q", clause)
}

func (p *Parser) buildParsedIntent(rule catalog.Rule, groups map[string]string) (model.ParsedIntent, error) {
	targetGroup := rule.TargetGroup
	if targetGroup == "" {
		targetGroup = "target"
	}
	rawTarget, ok := groups[targetGroup]
	if !ok {
		return model.ParsedIntent{}, ierrors.Errorf(ierrors.KindInternal, "rule %q: target group %q not captured", rule.IntentType, targetGroup)
	}

	selector := buildTargetSelector(rawTarget)
	devices := p.catalog.ResolveTargets(selector)
	if len(devices) == 0 {
		return model.ParsedIntent{}, ierrors.Errorf(ierrors.KindUnknownTarget, "target selector %q resolved to zero devices", rawTarget)
	}

	itype := model.IntentType(rule.IntentType)

	params := make(map[string]any, len(rule.ParameterMap))
	for name, group := range rule.ParameterMap {
		if literal, ok := strings.CutPrefix(group, "="); ok {
			params[name] = literal
			continue
		}
		raw, ok := groups[group]
		if !ok {
			return model.ParsedIntent{}, ierrors.Errorf(ierrors.KindInternal, "rule %q: parameter group %q not captured", itype, group)
		}
		params[name] = raw
	}

	var goal *model.Goal
	if _, hasGoal := params["goal_metric"]; hasGoal {
		g, err := extractGoal(params)
		if err != nil {
			return model.ParsedIntent{}, err
		}
		goal = g
		delete(params, "goal_metric")
		delete(params, "goal_comparator")
		delete(params, "goal_value")
	}

	if err := validateParameters(itype, params); err != nil {
		return model.ParsedIntent{}, err
	}

	return model.ParsedIntent{
		Type:           itype,
		TargetSelector: selector,
		Parameters:     params,
		Conjunctions:   nil,
		Goal:           goal,
	}, nil
}

func buildTargetSelector(raw string) model.TargetSelector {
	raw = strings.TrimSpace(raw)
	if strings.ContainsAny(raw, "*?") {
		return model.TargetSelector{Glob: raw}
	}
	if ids := strings.Split(raw, ","); len(ids) > 1 {
		trimmed := make([]string, len(ids))
		for i, id := range ids {
			trimmed[i] = strings.TrimSpace(id)
		}
		return model.TargetSelector{IDs: trimmed}
	}
	if kind, ok := kindAlias(raw); ok {
		return model.TargetSelector{Kind: kind, HasKind: true}
	}
	return model.TargetSelector{IDs: []string{raw}}
}

// kindAlias recognizes the plural/collective nouns the grammar's target
// capture group commonly produces ("temperature sensors", "cameras") and
// maps them to a DeviceKind filter.
func kindAlias(raw string) (model.DeviceKind, bool) {
	switch {
	case strings.Contains(raw, "sensor"):
		return model.DeviceSensor, true
	case strings.Contains(raw, "camera"):
		return model.DeviceCamera, true
	case strings.Contains(raw, "audio"):
		return model.DeviceAudio, true
	case strings.Contains(raw, "gateway"):
		return model.DeviceGateway, true
	default:
		return "", false
	}
}

func extractGoal(params map[string]any) (*model.Goal, error) {
	metric, _ := params["goal_metric"].(string)
	comparator, _ := params["goal_comparator"].(string)
	rawValue, _ := params["goal_value"].(string)

	ms, err := parseDuration(rawValue)
	var value float64
	if err == nil {
		value = float64(ms)
	} else if f, ferr := strconv.ParseFloat(rawValue, 64); ferr == nil {
		value = f
	} else {
		return nil, ierrors.Errorf(ierrors.KindParseFailure, "unrecognized goal value %q", rawValue)
	}

	return &model.Goal{
		Metric:     metric,
		Comparator: comparator,
		Value:      value,
		Window:     0,
		Aggregate:  "mean",
	}, nil
}
