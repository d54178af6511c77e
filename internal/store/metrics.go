package store

import (
	"context"
	"database/sql"
	"math"
	"sort"
	"time"

	ierrors "github.com/ibnctl/ibnctl/internal/errors"
	"github.com/ibnctl/ibnctl/internal/model"
)

// AppendMetricSample records a metric observation. This path runs
// independently of the single-writer Intent path (spec.md §4.7, §5) since
// metrics_history and intents are separately writable tables.
//
// Idempotent under replay: the primary key (metric_name, device_id,
// timestamp) makes a duplicate delivery a no-op via INSERT OR IGNORE,
// resolving the source's inconsistent at-most-once/at-least-once
// telemetry QoS mix (spec.md §9 open question) without requiring
// telemetry senders to dedupe themselves.
func (s *Store) AppendMetricSample(sample model.MetricSample) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO metrics_history (metric_name, device_id, value, timestamp)
		VALUES (?, ?, ?, ?)`,
		sample.MetricName, sample.DeviceID, sample.Value, sample.Timestamp.UnixMilli())
	if err != nil {
		return ierrors.Wrap(err, ierrors.KindStoreUnavailable, "store: append metric sample")
	}
	return nil
}

// PruneMetrics deletes samples older than retention.
func (s *Store) PruneMetrics(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UnixMilli()
	res, err := s.db.Exec(`DELETE FROM metrics_history WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, ierrors.Wrap(err, ierrors.KindStoreUnavailable, "store: prune metrics")
	}
	return res.RowsAffected()
}

// SamplesInWindow returns the raw samples for metricName within
// [now-window, now], optionally filtered to one device.
func (s *Store) SamplesInWindow(metricName, deviceID string, window time.Duration, now time.Time) ([]model.MetricSample, error) {
	from := now.Add(-window).UnixMilli()
	query := `SELECT metric_name, device_id, value, timestamp FROM metrics_history WHERE metric_name = ? AND timestamp >= ? AND timestamp <= ?`
	args := []any{metricName, from, now.UnixMilli()}
	if deviceID != "" {
		query += " AND device_id = ?"
		args = append(args, deviceID)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, ierrors.Wrap(err, ierrors.KindMetricUnavailable, "store: query metric samples")
	}
	defer rows.Close()

	var out []model.MetricSample
	for rows.Next() {
		var sample model.MetricSample
		var deviceID sql.NullString
		var ts int64
		if err := rows.Scan(&sample.MetricName, &deviceID, &sample.Value, &ts); err != nil {
			return nil, ierrors.Wrap(err, ierrors.KindMetricUnavailable, "store: scan metric sample")
		}
		sample.DeviceID = deviceID.String
		sample.Timestamp = time.UnixMilli(ts)
		out = append(out, sample)
	}
	return out, rows.Err()
}

// Aggregate computes mean/p95/max over samples, mirroring the
// `avg_over_time`/`quantile_over_time`/`max_over_time` shapes named in
// spec.md §6's metric query contract.
func Aggregate(samples []model.MetricSample, kind string) (float64, error) {
	if len(samples) == 0 {
		return 0, ierrors.Errorf(ierrors.KindMetricUnavailable, "no samples in window")
	}

	values := make([]float64, len(samples))
	for i, s := range samples {
		values[i] = s.Value
	}

	switch kind {
	case "", "mean":
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values)), nil
	case "max":
		max := values[0]
		for _, v := range values[1:] {
			if v > max {
				max = v
			}
		}
		return max, nil
	case "p95":
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)
		idx := int(math.Ceil(0.95*float64(len(sorted)))) - 1
		if idx < 0 {
			idx = 0
		}
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		return sorted[idx], nil
	default:
		return 0, ierrors.Errorf(ierrors.KindInternal, "unrecognized aggregate %q", kind)
	}
}

// RecordAudit appends an audit_log entry. Narrowed from the teacher's
// audit.Logger vocabulary to the controller domain (see internal/audit).
func (s *Store) RecordAudit(ctx context.Context, eventType, severity, intentID, policyID, submitter, message string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (event_type, severity, intent_id, policy_id, submitter, message, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		eventType, severity, nullString(intentID), nullString(policyID), nullString(submitter), message, nowMillis())
	if err != nil {
		return ierrors.Wrap(err, ierrors.KindStoreUnavailable, "store: record audit event")
	}
	return nil
}
