package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/propstrack/maintenance-server/internal/models"
)

// ========== Document Methods ==========

// GetDocument gets a document by collection and ID
func (s *PostgresStore) GetDocument(ctx context.Context, collection, id string) (*models.Document, error) {
	query := `
        SELECT collection, id, data, created_at, updated_at
        FROM documents
        WHERE collection = $1 AND id = $2`

	doc := &models.Document{}
	err := s.getDB().QueryRowContext(ctx, query, collection, id).Scan(
		&doc.Collection, &doc.ID, &doc.Data, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}

	return doc, nil
}

// PutDocument inserts or replaces a document
func (s *PostgresStore) PutDocument(ctx context.Context, doc *models.Document) error {
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	query := `
        INSERT INTO documents (collection, id, data, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (collection, id) DO UPDATE SET
            data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`

	_, err := s.getDB().ExecContext(ctx, query,
		doc.Collection, doc.ID, doc.Data, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", doc.Collection, doc.ID, err)
	}
	return nil
}

// DeleteDocument deletes a document. Deleting a missing document is not an error.
func (s *PostgresStore) DeleteDocument(ctx context.Context, collection, id string) error {
	_, err := s.getDB().ExecContext(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// ListIDs lists the IDs of documents matching q
func (s *PostgresStore) ListIDs(ctx context.Context, q Query) ([]string, error) {
	if len(q.Values) == 0 {
		return nil, nil
	}

	query := `SELECT id FROM documents WHERE collection = $1 AND data->>$2 = ANY($3)`
	args := []interface{}{q.Collection, q.Field, pq.Array(q.Values)}
	if q.Unset != "" {
		query += ` AND COALESCE(data->>$4, '') = ''`
		args = append(args, q.Unset)
	}
	query += ` ORDER BY id`

	rows, err := s.getDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s by %s: %w", q.Collection, q.Field, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// CountDocuments counts all documents of a collection
func (s *PostgresStore) CountDocuments(ctx context.Context, collection string) (int64, error) {
	var count int64
	err := s.getDB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE collection = $1`, collection).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", collection, err)
	}
	return count, nil
}

// ScanCollection streams every document of a collection to fn in ID order
func (s *PostgresStore) ScanCollection(ctx context.Context, collection string, fn func(*models.Document) error) error {
	rows, err := s.getDB().QueryContext(ctx, `
        SELECT collection, id, data, created_at, updated_at
        FROM documents
        WHERE collection = $1
        ORDER BY id`, collection)
	if err != nil {
		return fmt.Errorf("scan %s: %w", collection, err)
	}
	defer rows.Close()

	for rows.Next() {
		doc := &models.Document{}
		if err := rows.Scan(&doc.Collection, &doc.ID, &doc.Data, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
	}

	return rows.Err()
}

// fieldPath turns a dotted field name into a #>> path argument
func fieldPath(field string) interface{} {
	return pq.Array(strings.Split(field, "."))
}

// retentionWhere builds the WHERE clause shared by FindExpired and CountExpired.
// Values that are not RFC3339 timestamps never match, as in MemoryStore.
func retentionWhere(q RetentionQuery) (string, []interface{}) {
	where := ` WHERE collection = $1` +
		` AND data #>> $2 ~ '^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}'` +
		` AND try_timestamptz(data #>> $2) < $3`
	args := []interface{}{q.Collection, fieldPath(q.DateField), q.Before}
	if q.StatusField != "" {
		where += ` AND data #>> $4 = $5`
		args = append(args, fieldPath(q.StatusField), q.StatusValue)
	}
	return where, args
}

// FindExpired lists up to q.Limit documents matching the retention query
func (s *PostgresStore) FindExpired(ctx context.Context, q RetentionQuery) ([]models.DocRef, error) {
	where, args := retentionWhere(q)
	query := `SELECT id FROM documents` + where + ` ORDER BY id`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.getDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find expired %s: %w", q.Collection, err)
	}
	defer rows.Close()

	var refs []models.DocRef
	for rows.Next() {
		ref := models.DocRef{Collection: q.Collection}
		if err := rows.Scan(&ref.ID); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}

	return refs, rows.Err()
}

// CountExpired counts every document matching the retention query
func (s *PostgresStore) CountExpired(ctx context.Context, q RetentionQuery) (int64, error) {
	where, args := retentionWhere(q)

	var count int64
	if err := s.getDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count expired %s: %w", q.Collection, err)
	}
	return count, nil
}

// ========== Batch ==========

// NewBatch starts an atomic delete batch
func (s *PostgresStore) NewBatch() Batch {
	return &postgresBatch{store: s}
}

type postgresBatch struct {
	store     *PostgresStore
	ops       []models.DocRef
	committed bool
}

func (b *postgresBatch) Delete(ref models.DocRef) error {
	if b.committed {
		return ErrBatchCommitted
	}
	if len(b.ops) >= MaxBatchOps {
		return ErrBatchFull
	}
	b.ops = append(b.ops, ref)
	return nil
}

func (b *postgresBatch) Len() int {
	return len(b.ops)
}

// Commit applies every staged delete in one transaction
func (b *postgresBatch) Commit(ctx context.Context) error {
	if b.committed {
		return ErrBatchCommitted
	}

	tx, err := b.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}

	for _, ref := range b.ops {
		if _, err := tx.getDB().ExecContext(ctx,
			`DELETE FROM documents WHERE collection = $1 AND id = $2`, ref.Collection, ref.ID); err != nil {
			tx.Rollback()
			return fmt.Errorf("delete %s: %w", ref, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	b.committed = true
	return nil
}
