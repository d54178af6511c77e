package feedback

import (
	"fmt"
	"time"
)

// RenderQuery renders the promql-shaped string for the aggregate/window a
// tick evaluated, purely for the feedback loop's debug log line (it is
// not returned by get_intent) — no external timeseries service is
// queried; the actual aggregation reads MetricSample rows from the State
// Store directly.
func RenderQuery(metric, aggregate string, window time.Duration) string {
	rangeVector := fmt.Sprintf("%s{metric=%q}[%s]", "metric", metric, formatDuration(window))
	switch aggregate {
	case "p95":
		return fmt.Sprintf("quantile_over_time(0.95, %s)", rangeVector)
	case "max":
		return fmt.Sprintf("max_over_time(%s)", rangeVector)
	default:
		return fmt.Sprintf("avg_over_time(%s)", rangeVector)
	}
}

func formatDuration(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		return fmt.Sprintf("%dm", d/time.Minute)
	}
	if d >= time.Second {
		return fmt.Sprintf("%ds", d/time.Second)
	}
	return d.String()
}
