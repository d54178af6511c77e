package parser

import (
	"strconv"

	ierrors "github.com/ibnctl/ibnctl/internal/errors"
	"github.com/ibnctl/ibnctl/internal/model"
)

// validateParameters enforces the per-type parameter ranges from spec.md
// §4.2 step 5 and §8's boundary behaviors, canonicalizing raw capture-group
// strings into their base-unit typed form in place.
func validateParameters(itype model.IntentType, params map[string]any) error {
	switch itype {
	case model.IntentPriority:
		return validateEnum(params, "level", "low", "normal", "high")

	case model.IntentBandwidth:
		return canonicalizeBandwidth(params, "rate")

	case model.IntentLatency:
		if err := canonicalizeDuration(params, "delay_ms"); err != nil {
			return err
		}
		return nil

	case model.IntentQoS:
		return validateQoS(params, "level")

	case model.IntentSampling:
		return canonicalizeSamplingInterval(params, "interval_ms")

	case model.IntentAudioGain:
		return validateFloat(params, "value")

	case model.IntentCameraConfig:
		if _, ok := params["field"]; !ok {
			return ierrors.Errorf(ierrors.KindParseFailure, "camera_config requires a field parameter")
		}
		if _, ok := params["value"]; !ok {
			return ierrors.Errorf(ierrors.KindParseFailure, "camera_config requires a value parameter")
		}
		return nil

	case model.IntentEnable, model.IntentReset:
		return nil

	case model.IntentPowerSaving:
		return validateEnum(params, "mode", "active", "eco", "sleep")

	case model.IntentSecurity:
		return validateEnum(params, "action", "quarantine", "allow")

	default:
		return ierrors.Errorf(ierrors.KindParseFailure, "unrecognized intent type %q", itype)
	}
}

func validateEnum(params map[string]any, key string, allowed ...string) error {
	raw, ok := stringParam(params, key)
	if !ok {
		return ierrors.Errorf(ierrors.KindParseFailure, "missing parameter %q", key)
	}
	for _, a := range allowed {
		if raw == a {
			return nil
		}
	}
	return ierrors.Errorf(ierrors.KindParseFailure, "parameter %q value %q not one of %v", key, raw, allowed)
}

func validateFloat(params map[string]any, key string) error {
	raw, ok := stringParam(params, key)
	if !ok {
		return ierrors.Errorf(ierrors.KindParseFailure, "missing parameter %q", key)
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return ierrors.Wrapf(err, ierrors.KindParseFailure, "parameter %q is not numeric", key)
	}
	params[key] = f
	return nil
}

func validateQoS(params map[string]any, key string) error {
	raw, ok := stringParam(params, key)
	if !ok {
		return ierrors.Errorf(ierrors.KindParseFailure, "missing parameter %q", key)
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || n > 2 {
		return ierrors.Errorf(ierrors.KindParseFailure, "qos level must be 0, 1, or 2, got %q", raw)
	}
	params[key] = n
	return nil
}

const minSamplingIntervalMS = 100

func canonicalizeSamplingInterval(params map[string]any, key string) error {
	raw, ok := stringParam(params, key)
	if !ok {
		return ierrors.Errorf(ierrors.KindParseFailure, "missing parameter %q", key)
	}
	ms, err := parseDuration(raw)
	if err != nil {
		return err
	}
	if ms < minSamplingIntervalMS {
		return ierrors.Errorf(ierrors.KindParseFailure, "sampling interval %dms below device minimum %dms", ms, minSamplingIntervalMS)
	}
	params[key] = ms
	return nil
}

func canonicalizeDuration(params map[string]any, key string) error {
	raw, ok := stringParam(params, key)
	if !ok {
		return ierrors.Errorf(ierrors.KindParseFailure, "missing parameter %q", key)
	}
	ms, err := parseDuration(raw)
	if err != nil {
		return err
	}
	if ms <= 0 {
		return ierrors.Errorf(ierrors.KindParseFailure, "duration %q must be positive", raw)
	}
	params[key] = ms
	return nil
}

func canonicalizeBandwidth(params map[string]any, key string) error {
	raw, ok := stringParam(params, key)
	if !ok {
		return ierrors.Errorf(ierrors.KindParseFailure, "missing parameter %q", key)
	}
	bps, err := parseBandwidth(raw)
	if err != nil {
		return err
	}
	params[key] = bps
	return nil
}

func stringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}
