package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxPersistHook mirrors completed-task projections into a single table,
// grounded on the teacher's control_plane/store/postgres.go durable
// mirror. The full relational schema for finished-task history (queries,
// joins, retention policy) is out of scope per spec.md §1; this hook only
// ever performs a single upsert per call and never reads back.
type PgxPersistHook struct {
	pool *pgxpool.Pool
}

func NewPgxPersistHook(ctx context.Context, dsn string) (*PgxPersistHook, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("handler: persist hook: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("handler: persist hook: ping: %w", err)
	}
	return &PgxPersistHook{pool: pool}, nil
}

func (h *PgxPersistHook) Close() { h.pool.Close() }

// Persist upserts a projection of (event, params, result) keyed by the
// result's "id" field when present, falling back to a generated row.
func (h *PgxPersistHook) Persist(ctx context.Context, event string, params, result map[string]interface{}) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("handler: persist hook: marshal params: %w", err)
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("handler: persist hook: marshal result: %w", err)
	}

	id, _ := result["id"].(string)
	_, err = h.pool.Exec(ctx, `
		INSERT INTO claudebench_handler_events (id, event, params, result, recorded_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id, event) DO UPDATE SET result = EXCLUDED.result, recorded_at = EXCLUDED.recorded_at
	`, id, event, paramsJSON, resultJSON)
	if err != nil {
		return fmt.Errorf("handler: persist hook: exec: %w", err)
	}
	return nil
}
