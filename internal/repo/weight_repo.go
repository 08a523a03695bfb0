package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WeightRepo хранит таблицу весов в PostgreSQL.
// Реализует weights.Store.
type WeightRepo struct {
	pool *pgxpool.Pool
}

// NewWeightRepo создаёт новый WeightRepo.
func NewWeightRepo(pool *pgxpool.Pool) *WeightRepo {
	return &WeightRepo{pool: pool}
}

// EnsureSchema создаёт таблицу, если её нет.
func (r *WeightRepo) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS task_weights (
			name    text PRIMARY KEY,
			seconds double precision NOT NULL
		)
	`
	if _, err := r.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create task_weights: %w", err)
	}
	return nil
}

// Load возвращает всю таблицу.
func (r *WeightRepo) Load(ctx context.Context) (map[string]float64, error) {
	rows, err := r.pool.Query(ctx, `SELECT name, seconds FROM task_weights`)
	if err != nil {
		return nil, fmt.Errorf("query weights: %w", err)
	}
	defer rows.Close()

	weights := make(map[string]float64)
	for rows.Next() {
		var (
			name    string
			seconds float64
		)
		if err := rows.Scan(&name, &seconds); err != nil {
			return nil, fmt.Errorf("scan weight: %w", err)
		}
		weights[name] = seconds
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate weights: %w", err)
	}
	return weights, nil
}

// Save записывает таблицу одной транзакцией (upsert по имени).
func (r *WeightRepo) Save(ctx context.Context, weights map[string]float64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO task_weights (name, seconds)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET seconds = EXCLUDED.seconds
	`
	batch := &pgx.Batch{}
	for name, seconds := range weights {
		batch.Queue(query, name, seconds)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert weights: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
