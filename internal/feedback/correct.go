package feedback

import "github.com/ibnctl/ibnctl/internal/model"

// boundedStep builds the corrective ParsedIntent for a violated goal,
// adjusting the one parameter that goal type controls by stepFraction
// (spec.md §4.6 step 3: "tighten the delay policy by one step"). Intent
// types with no continuous numeric knob under the controller's own
// control (qos, sampling, camera_config, ...) have no defined bounded-step
// rule and are left for an operator to address manually.
func boundedStep(parsed model.ParsedIntent, goal model.Goal, observed float64) (model.ParsedIntent, bool) {
	corrective := parsed
	corrective.Conjunctions = nil // the corrective intent carries only the adjusted clause
	params := make(map[string]any, len(parsed.Parameters))
	for k, v := range parsed.Parameters {
		params[k] = v
	}
	corrective.Parameters = params

	switch parsed.Type {
	case model.IntentLatency:
		current, ok := params["delay_ms"].(int64)
		if !ok || current <= 0 {
			return model.ParsedIntent{}, false
		}
		next := tighten(current, goal, observed)
		if next == current {
			return model.ParsedIntent{}, false
		}
		params["delay_ms"] = next
		return corrective, true

	case model.IntentBandwidth:
		current, ok := params["rate"].(int64)
		if !ok || current <= 0 {
			return model.ParsedIntent{}, false
		}
		next := loosen(current, goal, observed)
		if next == current {
			return model.ParsedIntent{}, false
		}
		params["rate"] = next
		return corrective, true

	default:
		return model.ParsedIntent{}, false
	}
}

// tighten narrows a delay-style knob: the goal wants the observed metric
// to come down (comparator "<="), so the policy-controlled delay is cut
// by stepFraction. With a ">=" goal on the same knob (unusual, but not
// disallowed by the grammar) the step widens it instead.
func tighten(current int64, goal model.Goal, observed float64) int64 {
	if goal.Comparator == ">=" && observed < goal.Value {
		return scale(current, 1+stepFraction)
	}
	return scale(current, 1-stepFraction)
}

// loosen widens a capacity-style knob (bandwidth rate) when the observed
// metric undershoots a ">=" goal, and narrows it for an overshot "<=" cap.
func loosen(current int64, goal model.Goal, observed float64) int64 {
	if goal.Comparator == "<=" && observed > goal.Value {
		return scale(current, 1-stepFraction)
	}
	return scale(current, 1+stepFraction)
}

func scale(v int64, factor float64) int64 {
	next := int64(float64(v) * factor)
	if next < 1 {
		next = 1
	}
	if next == v {
		// guarantee the bounded step makes forward progress on tiny values
		if factor < 1 {
			next = v - 1
		} else {
			next = v + 1
		}
	}
	return next
}
