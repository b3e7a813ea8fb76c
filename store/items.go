package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/use-agent/ingester/datamodel"
	"github.com/use-agent/ingester/models"
)

type (
	Creator = models.Creator
	Item    = models.Item
)

// ItemStore turns a populated data model into saved items.
type ItemStore interface {
	Materialize(ctx context.Context, model *datamodel.Model, snapshot string) ([]Item, error)
}

// SQLItemStore saves items in the items tables.
type SQLItemStore struct {
	db      *sql.DB
	mapping FieldMapping
}

// NewSQLItemStore uses mapping, or DefaultMapping when mapping is empty.
func NewSQLItemStore(db *sql.DB, mapping FieldMapping) *SQLItemStore {
	if len(mapping) == 0 {
		mapping = DefaultMapping()
	}
	return &SQLItemStore{db: db, mapping: mapping}
}

// Materialize creates one item per subject, in subject order. Saving is
// best-effort: a subject that fails to save is logged and skipped.
func (s *SQLItemStore) Materialize(ctx context.Context, model *datamodel.Model, snapshot string) ([]Item, error) {
	var items []Item
	for _, subject := range model.Subjects() {
		item := s.mapping.Apply(subject, model.Predicates(subject))
		item.ID = uuid.NewString()
		item.Snapshot = snapshot
		item.CreatedAt = time.Now().UTC()

		if err := s.save(ctx, &item); err != nil {
			slog.Warn("store: failed to save item", "source", subject, "error", err)
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *SQLItemStore) save(ctx context.Context, item *Item) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO items (id, source, snapshot, created_at) VALUES (?, ?, NULLIF(?, ''), ?)`,
		item.ID, item.Source, item.Snapshot, item.CreatedAt); err != nil {
		return fmt.Errorf("insert item: %w", err)
	}
	for field, value := range item.Fields {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO item_fields (item_id, field, value) VALUES (?, ?, ?)`,
			item.ID, field, value); err != nil {
			return fmt.Errorf("insert field %s: %w", field, err)
		}
	}
	for i, c := range item.Creators {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO item_creators (item_id, position, first_name, last_name) VALUES (?, ?, ?, ?)`,
			item.ID, i, c.FirstName, c.LastName); err != nil {
			return fmt.Errorf("insert creator: %w", err)
		}
	}
	return tx.Commit()
}

// Get loads one item by id.
func (s *SQLItemStore) Get(ctx context.Context, id string) (*Item, error) {
	item := Item{ID: id, Fields: make(map[string]string)}
	var snapshot sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT source, snapshot, created_at FROM items WHERE id = ?`, id).
		Scan(&item.Source, &snapshot, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.NewIngestError(models.ErrCodeNotFound, "item not found: "+id, nil)
	}
	if err != nil {
		return nil, models.NewIngestError(models.ErrCodeStorage, "load item", err)
	}
	item.Snapshot = snapshot.String

	rows, err := s.db.QueryContext(ctx, `SELECT field, value FROM item_fields WHERE item_id = ?`, id)
	if err != nil {
		return nil, models.NewIngestError(models.ErrCodeStorage, "load item fields", err)
	}
	defer rows.Close()
	for rows.Next() {
		var field, value string
		if err := rows.Scan(&field, &value); err != nil {
			return nil, models.NewIngestError(models.ErrCodeStorage, "scan item field", err)
		}
		item.Fields[field] = value
	}
	if err := rows.Err(); err != nil {
		return nil, models.NewIngestError(models.ErrCodeStorage, "iterate item fields", err)
	}

	crows, err := s.db.QueryContext(ctx,
		`SELECT first_name, last_name FROM item_creators WHERE item_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, models.NewIngestError(models.ErrCodeStorage, "load item creators", err)
	}
	defer crows.Close()
	for crows.Next() {
		var c Creator
		if err := crows.Scan(&c.FirstName, &c.LastName); err != nil {
			return nil, models.NewIngestError(models.ErrCodeStorage, "scan item creator", err)
		}
		item.Creators = append(item.Creators, c)
	}
	if err := crows.Err(); err != nil {
		return nil, models.NewIngestError(models.ErrCodeStorage, "iterate item creators", err)
	}
	return &item, nil
}
