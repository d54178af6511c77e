package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	ierrors "github.com/ibnctl/ibnctl/internal/errors"
	"github.com/ibnctl/ibnctl/internal/idgen"
	"github.com/ibnctl/ibnctl/internal/model"
)

func nowMillis() int64 { return time.Now().UnixMilli() }

// CreateIntent persists a new Intent together with its Policies in one
// transaction, assigning Policy IDs (Compile is otherwise a pure
// function; IDs are assigned here, per SPEC_FULL.md's Compiler
// determinism supplement).
func (s *Store) CreateIntent(ctx context.Context, intent *model.Intent, policies []model.Policy) error {
	if intent.ID == "" {
		intent.ID = idgen.NewIntentID()
	}

	for i := range policies {
		if policies[i].ID == "" {
			policies[i].ID = uuid.NewString()
		}
		policies[i].IntentID = intent.ID
	}

	return s.write(ctx, func(tx *sql.Tx) error {
		if err := insertIntent(tx, intent); err != nil {
			return err
		}
		for _, p := range policies {
			if err := insertPolicy(tx, p); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertIntent(tx *sql.Tx, intent *model.Intent) error {
	parsedJSON, err := marshalJSON(intent.Parsed)
	if err != nil {
		return err
	}
	goalJSON, err := marshalJSON(intent.Goal)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`
		INSERT INTO intents (id, raw_text, intent_type, parsed_json, goal_json, status,
			submitted_at, updated_at, submitter, parent_intent_id, hysteresis_blocked_until_tick, warning)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		intent.ID, intent.RawText, string(intent.Parsed.Type), parsedJSON, goalJSON, string(intent.Status),
		intent.SubmittedAt.UnixMilli(), intent.UpdatedAt.UnixMilli(), intent.Submitter,
		nullString(intent.ParentIntentID), intent.HysteresisBlockedUntilTick, nullString(intent.Warning))
	if err != nil {
		return ierrors.Wrap(err, ierrors.KindStoreUnavailable, "store: insert intent")
	}
	return nil
}

func insertPolicy(tx *sql.Tx, p model.Policy) error {
	paramsJSON, err := marshalJSON(p.Parameters)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
		INSERT INTO policies (id, intent_id, plane, kind, target, parameters_json, status,
			applied_at, last_error, consecutive_failures)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.IntentID, string(p.Plane), string(p.Kind), p.Target, paramsJSON, string(p.Status),
		nullableTime(p.AppliedAt), nullString(p.LastError), p.ConsecutiveFailures)
	if err != nil {
		return ierrors.Wrap(err, ierrors.KindStoreUnavailable, "store: insert policy")
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// UpdateIntentStatus transitions an Intent's status through the single
// writer path.
func (s *Store) UpdateIntentStatus(ctx context.Context, id string, status model.IntentStatus, warning string) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE intents SET status = ?, warning = ?, updated_at = ? WHERE id = ?`,
			string(status), nullString(warning), nowMillis(), id)
		if err != nil {
			return ierrors.Wrap(err, ierrors.KindStoreUnavailable, "store: update intent status")
		}
		return mustAffectOne(res, "intent", id)
	})
}

// UpdatePolicyStatus records a policy's apply/rollback outcome.
func (s *Store) UpdatePolicyStatus(ctx context.Context, id string, status model.PolicyStatus, lastError string, consecutiveFailures int, appliedAt any) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE policies SET status = ?, last_error = ?, consecutive_failures = ?, applied_at = ? WHERE id = ?`,
			string(status), nullString(lastError), consecutiveFailures, appliedAt, id)
		if err != nil {
			return ierrors.Wrap(err, ierrors.KindStoreUnavailable, "store: update policy status")
		}
		return mustAffectOne(res, "policy", id)
	})
}

func mustAffectOne(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return ierrors.Wrap(err, ierrors.KindStoreUnavailable, "store: rows affected")
	}
	if n == 0 {
		return ierrors.Errorf(ierrors.KindNotFound, "%s %q not found", kind, id)
	}
	return nil
}

// SetHysteresisBlock records the tick an Intent's corrective emission is
// damped until, per spec.md §4.6 step 5. untilTick of 0 clears the block.
func (s *Store) SetHysteresisBlock(ctx context.Context, intentID string, untilTick int64) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE intents SET hysteresis_blocked_until_tick = ?, updated_at = ? WHERE id = ?`,
			untilTick, nowMillis(), intentID)
		if err != nil {
			return ierrors.Wrap(err, ierrors.KindStoreUnavailable, "store: set hysteresis block")
		}
		return mustAffectOne(res, "intent", intentID)
	})
}

// SupersedeIntent marks old as superseded and rolls back its applied
// policies, atomically, per spec.md §4.7's "atomic supersede"
// requirement. The successor's link back to old is established by its
// own ParentIntentID at creation time.
func (s *Store) SupersedeIntent(ctx context.Context, oldIntentID string) error {
	return s.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.Exec(`UPDATE intents SET status = ?, updated_at = ? WHERE id = ?`,
			string(model.StatusSuperseded), nowMillis(), oldIntentID)
		if err != nil {
			return ierrors.Wrap(err, ierrors.KindStoreUnavailable, "store: supersede intent")
		}
		if err := mustAffectOne(res, "intent", oldIntentID); err != nil {
			return err
		}
		_, err = tx.Exec(`UPDATE policies SET status = ? WHERE intent_id = ? AND status = ?`,
			string(model.PolicyRolledBack), oldIntentID, string(model.PolicyApplied))
		if err != nil {
			return ierrors.Wrap(err, ierrors.KindStoreUnavailable, "store: roll back superseded policies")
		}
		return nil
	})
}

// GetIntent reads an Intent and its owning Policies.
func (s *Store) GetIntent(id string) (model.Intent, []model.Policy, error) {
	intent, err := scanIntent(s.db.QueryRow(`
		SELECT id, raw_text, intent_type, parsed_json, goal_json, status,
			submitted_at, updated_at, submitter, parent_intent_id, hysteresis_blocked_until_tick, warning
		FROM intents WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return model.Intent{}, nil, ierrors.Errorf(ierrors.KindNotFound, "intent %q not found", id)
	}
	if err != nil {
		return model.Intent{}, nil, err
	}

	policies, err := s.policiesForIntent(id)
	if err != nil {
		return model.Intent{}, nil, err
	}
	return intent, policies, nil
}

func (s *Store) policiesForIntent(intentID string) ([]model.Policy, error) {
	rows, err := s.db.Query(`
		SELECT id, intent_id, plane, kind, target, parameters_json, status, applied_at, last_error, consecutive_failures
		FROM policies WHERE intent_id = ?`, intentID)
	if err != nil {
		return nil, ierrors.Wrap(err, ierrors.KindStoreUnavailable, "store: query policies")
	}
	defer rows.Close()
	return scanPolicies(rows)
}

// ListIntents returns Intents matching the filter. An empty filter (zero
// value) returns all Intents.
type IntentFilter struct {
	Status model.IntentStatus
}

func (s *Store) ListIntents(filter IntentFilter) ([]model.Intent, error) {
	query := `SELECT id, raw_text, intent_type, parsed_json, goal_json, status,
		submitted_at, updated_at, submitter, parent_intent_id, hysteresis_blocked_until_tick, warning FROM intents`
	var args []any
	if filter.Status != "" {
		query += " WHERE status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY submitted_at ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, ierrors.Wrap(err, ierrors.KindStoreUnavailable, "store: list intents")
	}
	defer rows.Close()

	var out []model.Intent
	for rows.Next() {
		intent, err := scanIntentRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, intent)
	}
	return out, rows.Err()
}

// ActiveGoalIntents returns Intents in {applied, satisfied, violated} that
// carry a measurable goal, the working set the Feedback Controller
// evaluates each tick (spec.md §4.6 step 1).
func (s *Store) ActiveGoalIntents() ([]model.Intent, error) {
	rows, err := s.db.Query(`
		SELECT id, raw_text, intent_type, parsed_json, goal_json, status,
			submitted_at, updated_at, submitter, parent_intent_id, hysteresis_blocked_until_tick, warning
		FROM intents
		WHERE status IN (?, ?, ?) AND goal_json != 'null'
		ORDER BY submitted_at ASC`,
		string(model.StatusApplied), string(model.StatusSatisfied), string(model.StatusViolated))
	if err != nil {
		return nil, ierrors.Wrap(err, ierrors.KindStoreUnavailable, "store: list active goal intents")
	}
	defer rows.Close()

	var out []model.Intent
	for rows.Next() {
		intent, err := scanIntentRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, intent)
	}
	return out, rows.Err()
}

// PolicyFilter narrows ListPolicies results.
type PolicyFilter struct {
	Plane  model.Plane
	Status model.PolicyStatus
}

// ListPolicies returns Policies matching the filter.
func (s *Store) ListPolicies(filter PolicyFilter) ([]model.Policy, error) {
	query := `SELECT id, intent_id, plane, kind, target, parameters_json, status, applied_at, last_error, consecutive_failures FROM policies WHERE 1=1`
	var args []any
	if filter.Plane != "" {
		query += " AND plane = ?"
		args = append(args, string(filter.Plane))
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, ierrors.Wrap(err, ierrors.KindStoreUnavailable, "store: list policies")
	}
	defer rows.Close()
	return scanPolicies(rows)
}

// AppliedPolicies returns the set of applied policies for a plane, used
// by Enforcer startup reconciliation (spec.md §4.7).
func (s *Store) AppliedPolicies(plane model.Plane) ([]model.Policy, error) {
	return s.ListPolicies(PolicyFilter{Plane: plane, Status: model.PolicyApplied})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntent(row rowScanner) (model.Intent, error) {
	return scanIntentRows(row)
}

func scanIntentRows(row rowScanner) (model.Intent, error) {
	var (
		intent                     model.Intent
		intentType                 string
		parsedJSON, goalJSON       string
		status                     string
		submittedAt, updatedAt     int64
		parentIntentID, warning    sql.NullString
	)

	if err := row.Scan(&intent.ID, &intent.RawText, &intentType, &parsedJSON, &goalJSON, &status,
		&submittedAt, &updatedAt, &intent.Submitter, &parentIntentID,
		&intent.HysteresisBlockedUntilTick, &warning); err != nil {
		return model.Intent{}, ierrors.Wrap(err, ierrors.KindStoreUnavailable, "store: scan intent")
	}

	parsed, err := unmarshalJSON[model.ParsedIntent](parsedJSON)
	if err != nil {
		return model.Intent{}, err
	}
	goal, err := unmarshalJSON[*model.Goal](goalJSON)
	if err != nil {
		return model.Intent{}, err
	}

	intent.Parsed = parsed
	intent.Goal = goal
	intent.Status = model.IntentStatus(status)
	intent.SubmittedAt = timeFromMillis(sql.NullInt64{Int64: submittedAt, Valid: true})
	intent.UpdatedAt = timeFromMillis(sql.NullInt64{Int64: updatedAt, Valid: true})
	intent.ParentIntentID = parentIntentID.String
	intent.Warning = warning.String
	return intent, nil
}

func scanPolicies(rows *sql.Rows) ([]model.Policy, error) {
	var out []model.Policy
	for rows.Next() {
		var (
			p                    model.Policy
			plane, kind, status  string
			paramsJSON           string
			appliedAt            sql.NullInt64
			lastError            sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.IntentID, &plane, &kind, &p.Target, &paramsJSON, &status,
			&appliedAt, &lastError, &p.ConsecutiveFailures); err != nil {
			return nil, ierrors.Wrap(err, ierrors.KindStoreUnavailable, "store: scan policy")
		}
		params, err := unmarshalJSON[map[string]any](paramsJSON)
		if err != nil {
			return nil, err
		}
		p.Plane = model.Plane(plane)
		p.Kind = model.PolicyKind(kind)
		p.Status = model.PolicyStatus(status)
		p.Parameters = params
		p.AppliedAt = timeFromMillis(appliedAt)
		p.LastError = lastError.String
		out = append(out, p)
	}
	return out, rows.Err()
}
