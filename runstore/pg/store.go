// Package pg implements wc.WorkflowRunStore and wc.ScheduleStore over
// Postgres via pgx/v5, the exclusive owner of workflow_runs and
// workflow_schedules per §3. Grounded on kubernaut's pgx/sqlx +
// sqlutil-style null-converter idiom (retrieved corpus), generalized from
// its many domain repositories to this module's two tables.
package pg

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	wc "github.com/fluxline/workflowcore"
	"github.com/fluxline/workflowcore/runstore"
)

// dbPool is the subset of *pgxpool.Pool this package needs, narrow enough
// that github.com/pashagolub/pgxmock/v4's PgxPoolIface satisfies it too —
// the seam tests use to drive Store without a real Postgres.
type dbPool interface {
	querier
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is a Postgres-backed WorkflowRunStore + ScheduleStore. It publishes
// run-transition events through bus, matching the "every successful
// transition emits exactly two bus events in order" rule in §4.4.
type Store struct {
	pool      dbPool
	publisher wc.EventPublisher
	onFailed  func(context.Context, wc.WorkflowRun)
}

// New wraps pool. onFailed is invoked asynchronously whenever a transition
// lands on wc.RunFailed, per §4.4's "invoke the Run Alerter asynchronously"
// rule; it runs in its own goroutine after commit and has no error return,
// so it cannot fail the transition (alerter.Alerter.OnFailedTransition logs
// and swallows its own errors).
func New(pool dbPool, publisher wc.EventPublisher, onFailed func(context.Context, wc.WorkflowRun)) *Store {
	return &Store{pool: pool, publisher: publisher, onFailed: onFailed}
}

func (s *Store) CreateRun(ctx context.Context, defID string, input wc.CreateRunInput) (wc.WorkflowRun, error) {
	run := wc.WorkflowRun{
		ID:                   uuid.NewString(),
		WorkflowDefinitionID: defID,
		Status:               input.InitialStatus,
		PartitionKey:         input.PartitionKey,
		Parameters:           input.Parameters,
		Trigger:              input.Trigger,
		CreatedAt:            time.Now().UTC(),
		IdempotencyKey:       input.IdempotencyKey,
	}
	if run.Status == "" {
		run.Status = wc.RunPending
	}

	triggerJSON, err := json.Marshal(run.Trigger)
	if err != nil {
		return wc.WorkflowRun{}, err
	}

	const q = `
		INSERT INTO workflow_runs
			(id, workflow_definition_id, status, parameters, trigger, partition_key, created_at, updated_at, idempotency_key)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$7,$8)`
	_, err = s.pool.Exec(ctx, q, run.ID, run.WorkflowDefinitionID, run.Status,
		nullableJSON(run.Parameters), triggerJSON, run.PartitionKey, run.CreatedAt, nullableString(run.IdempotencyKey))
	if isForeignKeyViolation(err) {
		return wc.WorkflowRun{}, errors.Wrap(wc.ErrUnknownWorkflow, "create run", j.MKV{"workflow_definition_id": defID})
	}
	if isUniqueViolation(err) {
		return wc.WorkflowRun{}, errors.Wrap(wc.ErrConflictingRunKey, "create run", j.MKV{"idempotency_key": run.IdempotencyKey})
	}
	if err != nil {
		return wc.WorkflowRun{}, errors.Wrap(wc.ErrStoreUnavailable, "create run", j.MKV{"cause": err.Error()})
	}

	if s.publisher != nil {
		s.publisher.Publish(wc.Event{Type: runEventPending, Data: run, EmittedAt: time.Now().UTC()})
	}
	return run, nil
}

func (s *Store) Transition(ctx context.Context, runID string, next wc.RunStatus, patch wc.TransitionPatch) (wc.WorkflowRun, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wc.WorkflowRun{}, errors.Wrap(wc.ErrStoreUnavailable, "begin transition tx", j.MKV{"cause": err.Error()})
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current wc.RunStatus
	err = tx.QueryRow(ctx, `SELECT status FROM workflow_runs WHERE id = $1 FOR UPDATE`, runID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return wc.WorkflowRun{}, errors.Wrap(wc.ErrUnknownRun, "transition", j.MKV{"run_id": runID})
	}
	if err != nil {
		return wc.WorkflowRun{}, errors.Wrap(wc.ErrStoreUnavailable, "transition", j.MKV{"cause": err.Error()})
	}

	if !runstore.CanTransition(current, next) {
		return wc.WorkflowRun{}, errors.Wrap(wc.ErrIllegalTransition, "transition", j.MKV{
			"run_id": runID, "from": string(current), "to": string(next),
		})
	}

	now := time.Now().UTC()
	var startedAt, completedAt *time.Time
	var durationMs *int64
	var errMsg *string

	if patch.StartedAt != nil {
		startedAt = patch.StartedAt
	} else if next == wc.RunRunning {
		startedAt = &now
	}
	if patch.CompletedAt != nil {
		completedAt = patch.CompletedAt
	} else if next.Terminal() {
		completedAt = &now
	}
	if patch.ErrorMessage != nil {
		errMsg = patch.ErrorMessage
	}

	_, err = tx.Exec(ctx, `
		UPDATE workflow_runs
		SET status = $2, started_at = COALESCE($3, started_at), completed_at = COALESCE($4, completed_at),
		    error_message = COALESCE($5, error_message), updated_at = $6
		WHERE id = $1`, runID, next, startedAt, completedAt, errMsg, now)
	if err != nil {
		return wc.WorkflowRun{}, errors.Wrap(wc.ErrStoreUnavailable, "update run", j.MKV{"cause": err.Error()})
	}

	run, err := s.getRunTx(ctx, tx, runID)
	if err != nil {
		return wc.WorkflowRun{}, err
	}
	if run.StartedAt != nil && run.CompletedAt != nil {
		d := run.CompletedAt.Sub(*run.StartedAt).Milliseconds()
		durationMs = &d
		if _, err := tx.Exec(ctx, `UPDATE workflow_runs SET duration_ms = $2 WHERE id = $1`, runID, d); err != nil {
			return wc.WorkflowRun{}, errors.Wrap(wc.ErrStoreUnavailable, "update run duration", j.MKV{"cause": err.Error()})
		}
		run.DurationMs = durationMs
	}

	if err := tx.Commit(ctx); err != nil {
		return wc.WorkflowRun{}, errors.Wrap(wc.ErrStoreUnavailable, "commit transition", j.MKV{"cause": err.Error()})
	}

	// Only after commit: emit the two events in order, then fire the
	// alerter asynchronously on failure, per §4.4.
	if s.publisher != nil {
		emittedAt := time.Now().UTC()
		s.publisher.Publish(wc.Event{Type: runEventForStatus(next), Data: run, EmittedAt: emittedAt})
		s.publisher.Publish(wc.Event{Type: runEventUpdated, Data: run, EmittedAt: emittedAt})
	}
	if next == wc.RunFailed && s.onFailed != nil {
		go s.onFailed(context.WithoutCancel(ctx), run)
	}

	return run, nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (wc.WorkflowRun, error) {
	return s.getRunTx(ctx, s.pool, runID)
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *Store) getRunTx(ctx context.Context, q querier, runID string) (wc.WorkflowRun, error) {
	var run wc.WorkflowRun
	var params, trigger []byte
	var idempotencyKey *string
	row := q.QueryRow(ctx, `
		SELECT id, workflow_definition_id, status, parameters, trigger, partition_key,
		       started_at, completed_at, duration_ms, created_at, error_message, idempotency_key
		FROM workflow_runs WHERE id = $1`, runID)
	err := row.Scan(&run.ID, &run.WorkflowDefinitionID, &run.Status, &params, &trigger, &run.PartitionKey,
		&run.StartedAt, &run.CompletedAt, &run.DurationMs, &run.CreatedAt, &run.ErrorMessage, &idempotencyKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return wc.WorkflowRun{}, errors.Wrap(wc.ErrUnknownRun, "get run", j.MKV{"run_id": runID})
	}
	if err != nil {
		return wc.WorkflowRun{}, errors.Wrap(wc.ErrStoreUnavailable, "get run", j.MKV{"cause": err.Error()})
	}
	run.Parameters = params
	run.Trigger = trigger
	if idempotencyKey != nil {
		run.IdempotencyKey = *idempotencyKey
	}
	return run, nil
}

func (s *Store) ListRunsByDefinition(ctx context.Context, defID string, status wc.RunStatus, since time.Time, limit int) ([]wc.WorkflowRun, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, workflow_definition_id, status, parameters, trigger, partition_key,
		       started_at, completed_at, duration_ms, created_at, error_message, idempotency_key
		FROM workflow_runs
		WHERE workflow_definition_id = $1 AND ($2 = '' OR status = $2) AND created_at >= $3
		ORDER BY created_at DESC
		LIMIT $4`, defID, status, since, limit)
	if err != nil {
		return nil, errors.Wrap(wc.ErrStoreUnavailable, "list runs by definition", j.MKV{"cause": err.Error()})
	}
	defer rows.Close()

	var out []wc.WorkflowRun
	for rows.Next() {
		var run wc.WorkflowRun
		var params, trigger []byte
		var idempotencyKey *string
		if err := rows.Scan(&run.ID, &run.WorkflowDefinitionID, &run.Status, &params, &trigger, &run.PartitionKey,
			&run.StartedAt, &run.CompletedAt, &run.DurationMs, &run.CreatedAt, &run.ErrorMessage, &idempotencyKey); err != nil {
			return nil, errors.Wrap(wc.ErrStoreUnavailable, "scan run", j.MKV{"cause": err.Error()})
		}
		run.Parameters = params
		run.Trigger = trigger
		if idempotencyKey != nil {
			run.IdempotencyKey = *idempotencyKey
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *Store) CountFailures(ctx context.Context, defID string, windowMinutes int) (int, error) {
	since := time.Now().UTC().Add(-time.Duration(windowMinutes) * time.Minute)
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM workflow_runs
		WHERE workflow_definition_id = $1 AND status = $2 AND completed_at >= $3`,
		defID, wc.RunFailed, since).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(wc.ErrStoreUnavailable, "count failures", j.MKV{"cause": err.Error()})
	}
	return count, nil
}

func nullableJSON(b json.RawMessage) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isForeignKeyViolation(err error) bool {
	return err != nil && pgxErrorCode(err) == "23503"
}

func isUniqueViolation(err error) bool {
	return err != nil && pgxErrorCode(err) == "23505"
}
