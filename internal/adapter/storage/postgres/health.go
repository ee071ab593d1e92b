package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrSchemaMissing means the database answers but the ledger tables are not
// there, usually because migrations never ran.
var ErrSchemaMissing = errors.New("ledger schema not applied")

// HealthCheck reports PostgreSQL as healthy only when every ledger table
// exists, so a fresh database without migrations fails readiness.
type HealthCheck struct {
	pool   Pool
	tables []string
}

// NewHealthCheck creates a checker for the tables in Tables.
func NewHealthCheck(pool Pool) *HealthCheck {
	return &HealthCheck{pool: pool, tables: Tables}
}

// Ping looks every ledger table up in the catalog in one round trip.
func (h *HealthCheck) Ping(ctx context.Context) error {
	const query = `SELECT COALESCE(array_agg(tbl), '{}') FROM unnest($1::text[]) AS t(tbl)
		WHERE to_regclass(tbl) IS NULL`

	var missing []string
	if err := h.pool.QueryRow(ctx, query, h.tables).Scan(&missing); err != nil {
		return fmt.Errorf("check ledger tables: %w", err)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrSchemaMissing, strings.Join(missing, ", "))
	}
	return nil
}

// Name returns the dependency name.
func (h *HealthCheck) Name() string {
	return "postgresql"
}
