package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/propstrack/maintenance-server/internal/models"
)

// ========== Usage Counter Methods ==========

// ChargeCounter records the charge of ref and bumps the counter in one
// statement. The counter_charges key makes a repeated create a no-op.
func (s *PostgresStore) ChargeCounter(ctx context.Context, ref models.DocRef, tenantID string, kind models.ResourceKind) (bool, error) {
	query := `
        WITH ch AS (
            INSERT INTO counter_charges (collection, document_id, tenant_id, kind)
            VALUES ($1, $2, $3, $4)
            ON CONFLICT DO NOTHING
            RETURNING tenant_id, kind
        )
        INSERT INTO usage_counters (tenant_id, kind, count, updated_at)
        SELECT tenant_id, kind, 1, now() FROM ch
        ON CONFLICT (tenant_id, kind) DO UPDATE SET
            count = usage_counters.count + 1,
            updated_at = now()
        RETURNING count`

	var count int64
	err := s.getDB().QueryRowContext(ctx, query, ref.Collection, ref.ID, tenantID, string(kind)).Scan(&count)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("charge counter %s to %s/%s: %w", ref, tenantID, kind, err)
	}

	return true, nil
}

// ReleaseCounter drops the charge of ref and decrements the counter it was
// made against, clamped at zero.
func (s *PostgresStore) ReleaseCounter(ctx context.Context, ref models.DocRef) (bool, error) {
	query := `
        WITH rel AS (
            DELETE FROM counter_charges
            WHERE collection = $1 AND document_id = $2
            RETURNING tenant_id, kind
        )
        INSERT INTO usage_counters (tenant_id, kind, count, updated_at)
        SELECT tenant_id, kind, 0, now() FROM rel
        ON CONFLICT (tenant_id, kind) DO UPDATE SET
            count = GREATEST(usage_counters.count - 1, 0),
            updated_at = now()
        RETURNING count`

	var count int64
	err := s.getDB().QueryRowContext(ctx, query, ref.Collection, ref.ID).Scan(&count)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("release counter %s: %w", ref, err)
	}

	return true, nil
}

// ListCharges streams every charge ordered by document address
func (s *PostgresStore) ListCharges(ctx context.Context, fn func(models.CounterCharge) error) error {
	rows, err := s.getDB().QueryContext(ctx, `
        SELECT collection, document_id, tenant_id, kind, charged_at
        FROM counter_charges
        ORDER BY collection, document_id`)
	if err != nil {
		return fmt.Errorf("list counter charges: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c models.CounterCharge
		if err := rows.Scan(&c.Ref.Collection, &c.Ref.ID, &c.TenantID, &c.Kind, &c.ChargedAt); err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
	}

	return rows.Err()
}

// GetCounters lists every counter of a tenant
func (s *PostgresStore) GetCounters(ctx context.Context, tenantID string) ([]models.UsageCounter, error) {
	rows, err := s.getDB().QueryContext(ctx, `
        SELECT tenant_id, kind, count, updated_at
        FROM usage_counters
        WHERE tenant_id = $1
        ORDER BY kind`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("get counters %s: %w", tenantID, err)
	}
	defer rows.Close()

	var counters []models.UsageCounter
	for rows.Next() {
		var c models.UsageCounter
		if err := rows.Scan(&c.TenantID, &c.Kind, &c.Count, &c.UpdatedAt); err != nil {
			return nil, err
		}
		counters = append(counters, c)
	}

	return counters, rows.Err()
}
