package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"commerce-core/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetProduct retrieves a product by ID
func (s *Store) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProducts retrieves multiple products by ID, keyed by product id.
// It satisfies the order lifecycle's CatalogGateway so checkout re-prices
// against current catalog data instead of cart-cached prices.
func (s *Store) GetProducts(ctx context.Context, ids []string) (map[string]models.Product, error) {
	if len(ids) == 0 {
		return map[string]models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	if err := s.db.SelectContext(ctx, &products, query, args...); err != nil {
		return nil, err
	}

	byID := make(map[string]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return byID, nil
}

// ListProducts retrieves the full catalog
func (s *Store) ListProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := s.db.SelectContext(ctx, &products, "SELECT * FROM products ORDER BY id")
	return products, err
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}

// AppendAudit appends one entry to the audit trail
func (s *Store) AppendAudit(ctx context.Context, entry *models.AuditEntry) error {
	query := `
		INSERT INTO audit_log (event_id, event_type, subject_id, payload)
		VALUES ($1, $2, $3, $4)
		RETURNING id, recorded_at`

	return s.db.GetContext(ctx, entry, query,
		entry.EventID, entry.EventType, entry.SubjectID, entry.Payload)
}

// ListAudit retrieves recent audit entries, newest first
func (s *Store) ListAudit(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	var entries []models.AuditEntry
	err := s.db.SelectContext(ctx, &entries,
		"SELECT * FROM audit_log ORDER BY recorded_at DESC LIMIT $1", limit)
	return entries, err
}
