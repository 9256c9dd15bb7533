package pg

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	wc "github.com/fluxline/workflowcore"
)

// ScheduleStore is a Postgres-backed wc.ScheduleStore, joining
// workflow_schedules against workflow_definitions so the materializer gets
// a WorkflowDefinition alongside each due Schedule in a single round trip.
type ScheduleStore struct {
	pool dbPool
}

// NewScheduleStore wraps pool.
func NewScheduleStore(pool dbPool) *ScheduleStore {
	return &ScheduleStore{pool: pool}
}

func (s *ScheduleStore) ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]wc.ScheduleWithDefinition, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.id, s.workflow_definition_id, s.cron, s.timezone, s.parameters, s.catch_up,
		       s.next_run_at, s.catchup_cursor, s.last_materialized_window, s.is_active,
		       d.id, d.slug, d.version, d.steps, d.default_parameters
		FROM workflow_schedules s
		JOIN workflow_definitions d ON d.id = s.workflow_definition_id
		WHERE s.is_active = true AND s.next_run_at <= $1
		ORDER BY s.next_run_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, errors.Wrap(wc.ErrStoreUnavailable, "list due schedules", j.MKV{"cause": err.Error()})
	}
	defer rows.Close()

	var out []wc.ScheduleWithDefinition
	for rows.Next() {
		var swd wc.ScheduleWithDefinition
		var params, lastWindow, steps, defaultParams []byte
		if err := rows.Scan(
			&swd.Schedule.ID, &swd.Schedule.WorkflowDefinitionID, &swd.Schedule.Cron, &swd.Schedule.Timezone,
			&params, &swd.Schedule.CatchUp, &swd.Schedule.NextRunAt, &swd.Schedule.CatchupCursor,
			&lastWindow, &swd.Schedule.IsActive,
			&swd.Definition.ID, &swd.Definition.Slug, &swd.Definition.Version, &steps, &defaultParams,
		); err != nil {
			return nil, errors.Wrap(wc.ErrStoreUnavailable, "scan due schedule", j.MKV{"cause": err.Error()})
		}
		swd.Schedule.ParameterOverlay = params
		swd.Definition.DefaultParameters = defaultParams
		if len(steps) > 0 {
			if err := json.Unmarshal(steps, &swd.Definition.Steps); err != nil {
				return nil, errors.Wrap(wc.ErrStoreUnavailable, "decode definition steps", j.MKV{"cause": err.Error()})
			}
		}
		if len(lastWindow) > 0 {
			var w wc.Window
			if err := json.Unmarshal(lastWindow, &w); err == nil {
				swd.Schedule.LastMaterializedWindow = &w
			}
		}
		out = append(out, swd)
	}
	return out, rows.Err()
}

func (s *ScheduleStore) UpdateScheduleRuntimeMetadata(ctx context.Context, id string, patch wc.ScheduleRuntimePatch) error {
	var lastWindowJSON []byte
	if patch.LastWindow != nil {
		b, err := json.Marshal(patch.LastWindow)
		if err != nil {
			return err
		}
		lastWindowJSON = b
	}

	var tag pgconn.CommandTag
	var err error
	if patch.ClearCatchupCursor {
		tag, err = s.pool.Exec(ctx, `
			UPDATE workflow_schedules
			SET next_run_at = COALESCE($2, next_run_at),
			    catchup_cursor = NULL,
			    last_materialized_window = COALESCE($3, last_materialized_window),
			    updated_at = now()
			WHERE id = $1`, id, patch.NextRunAt, nullableJSON(lastWindowJSON))
	} else {
		tag, err = s.pool.Exec(ctx, `
			UPDATE workflow_schedules
			SET next_run_at = COALESCE($2, next_run_at),
			    catchup_cursor = COALESCE($3, catchup_cursor),
			    last_materialized_window = COALESCE($4, last_materialized_window),
			    updated_at = now()
			WHERE id = $1`, id, patch.NextRunAt, patch.CatchupCursor, nullableJSON(lastWindowJSON))
	}
	if err != nil {
		return errors.Wrap(wc.ErrStoreUnavailable, "update schedule runtime metadata", j.MKV{"cause": err.Error()})
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrap(wc.ErrUnknownSchedule, "update schedule runtime metadata", j.MKV{"schedule_id": id})
	}
	return nil
}

var _ wc.ScheduleStore = (*ScheduleStore)(nil)
