package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"catalog-sync/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a looked up row does not exist
	ErrNotFound = errors.New("not found")
	// ErrOperationRunning is returned when a status record still belongs to an unfinished run
	ErrOperationRunning = errors.New("operation is running")
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

// Ping checks the connection, used by the readiness check
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetInfoSourceByName retrieves an active info source by its name
func (s *Store) GetInfoSourceByName(ctx context.Context, name string) (*models.InfoSource, error) {
	var src models.InfoSource
	err := s.db.GetContext(ctx, &src,
		"SELECT id, name, deleted FROM info_source WHERE name = $1 AND deleted = $2 ORDER BY id LIMIT 1",
		name, models.StateActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("info source %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &src, nil
}

// GetInfoSourceByID retrieves an info source by ID
func (s *Store) GetInfoSourceByID(ctx context.Context, id int64) (*models.InfoSource, error) {
	var src models.InfoSource
	err := s.db.GetContext(ctx, &src, "SELECT id, name, deleted FROM info_source WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("info source %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &src, nil
}

// GetShopByID retrieves a shop by ID
func (s *Store) GetShopByID(ctx context.Context, id int64) (*models.Shop, error) {
	var shop models.Shop
	err := s.db.GetContext(ctx, &shop, "SELECT id, name FROM shops WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("shop %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &shop, nil
}

// GetShopByName retrieves a shop by name
func (s *Store) GetShopByName(ctx context.Context, name string) (*models.Shop, error) {
	var shop models.Shop
	err := s.db.GetContext(ctx, &shop, "SELECT id, name FROM shops WHERE name = $1 ORDER BY id LIMIT 1", name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("shop %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &shop, nil
}

// GetSynchronizationRuleByID retrieves a synchronization rule by ID
func (s *Store) GetSynchronizationRuleByID(ctx context.Context, id int64) (*models.SynchronizationRule, error) {
	var rule models.SynchronizationRule
	err := s.db.GetContext(ctx, &rule, "SELECT id, code, name FROM synchronization_rules WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("synchronization rule %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}
