package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"tableside/internal/db"
	"tableside/internal/models"
	"tableside/internal/util"

	"go.uber.org/zap"
)

// Store translates order domain operations into persistence-adapter calls.
type Store struct {
	db     *db.DB
	prefix string
	logger *zap.Logger
}

// New creates the store. orderPrefix is the 3-letter order-number prefix.
func New(database *db.DB, orderPrefix string) *Store {
	prefix := strings.ToUpper(orderPrefix)
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}
	return &Store{
		db:     database,
		prefix: prefix,
		logger: util.GetLogger(),
	}
}

// GenerateOrderNumber produces PREFIX + 5 random decimal digits. Uniqueness
// is enforced by the order_number constraint plus the regenerate loop in
// CreateOrderWithItems.
func (s *Store) GenerateOrderNumber() string {
	return fmt.Sprintf("%s%05d", s.prefix, rand.Intn(100000))
}

// GetMenuItemsByIDs fetches the referenced menu items in one statement.
func (s *Store) GetMenuItemsByIDs(ctx context.Context, ids []int64) (map[int64]models.MenuItem, error) {
	result := make(map[int64]models.MenuItem, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	query, args, err := s.db.In("SELECT id, name, price, available FROM menu_items WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}

	var items []models.MenuItem
	if err := s.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, err
	}
	for _, it := range items {
		result[it.ID] = it
	}
	return result, nil
}

// IsEventProcessed checks the webhook/broker dedup table.
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(1) FROM processed_events WHERE event_id = ?", eventID)
	return count > 0, err
}

// MarkEventProcessed records an event id; duplicates are not an error.
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type, processed_at) VALUES (?, ?, ?)",
		eventID, eventType, time.Now().UTC())
	if err != nil && db.IsDuplicateKey(err) {
		return nil
	}
	return err
}

func notFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
