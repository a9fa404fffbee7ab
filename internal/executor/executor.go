// Package executor runs validated SQL against the financial warehouse.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/finsight/finsight/internal/config"
)

// Rows is the structured, serializable result of a query: one map per row,
// keyed by column name.
type Rows []map[string]any

// Executor is implemented by anything that can run a SQL statement and
// return rows. The pipeline depends on this interface, not on pgx.
type Executor interface {
	Execute(ctx context.Context, sql string) (Rows, error)
}

// Connect opens a pgx pool against the warehouse and verifies connectivity.
func Connect(ctx context.Context, cfg config.WarehouseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse warehouse URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to warehouse: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping warehouse: %w", err)
	}
	return pool, nil
}

// PgxExecutor executes queries on a pgx pool with a per-query timeout.
type PgxExecutor struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewPgxExecutor creates an executor over the given pool. If timeout <= 0
// a 30s default applies.
func NewPgxExecutor(pool *pgxpool.Pool, timeout time.Duration) *PgxExecutor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PgxExecutor{pool: pool, timeout: timeout}
}

// Execute runs the statement and materializes all rows. The caller is
// responsible for having validated the SQL; this layer only bounds the
// execution time.
func (e *PgxExecutor) Execute(ctx context.Context, sql string) (Rows, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	rows, err := e.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	var out Rows
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("reading row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	return out, nil
}

var _ Executor = (*PgxExecutor)(nil)
