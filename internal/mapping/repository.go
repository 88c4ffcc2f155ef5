package mapping

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nerrad567/tagbox-core/internal/infrastructure/database"
)

// Repository persists the mapping.
type Repository interface {
	// List returns every stored row, valid or not.
	List(ctx context.Context) ([]Record, error)

	// ReplaceAll atomically replaces the stored mapping with entries.
	ReplaceAll(ctx context.Context, entries []Entry) error
}

// SQLiteRepository stores the mapping in the tag_mappings table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on db.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// List implements Repository.
func (r *SQLiteRepository) List(ctx context.Context) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT tag_id, track FROM tag_mappings ORDER BY tag_id`)
	if err != nil {
		return nil, fmt.Errorf("querying tag mappings: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.TagID, &rec.Track); err != nil {
			return nil, fmt.Errorf("scanning tag mapping: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tag mappings: %w", err)
	}
	return records, nil
}

// ReplaceAll implements Repository with a delete-all then insert-all
// transaction, so readers never see a partial mapping.
func (r *SQLiteRepository) ReplaceAll(ctx context.Context, entries []Entry) error {
	return database.InTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tag_mappings`); err != nil {
			return fmt.Errorf("clearing tag mappings: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO tag_mappings (tag_id, track) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("preparing insert: %w", err)
		}
		defer stmt.Close()

		for _, e := range entries {
			if _, err := stmt.ExecContext(ctx, string(e.TagID), string(e.Track)); err != nil {
				return fmt.Errorf("inserting tag %s: %w", e.TagID, err)
			}
		}
		return nil
	})
}
