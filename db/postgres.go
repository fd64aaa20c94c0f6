package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"mala-sight/models"
)

// PostgresClient stores captures in PostgreSQL
type PostgresClient struct {
	pool *pgxpool.Pool
}

// NewPostgresClient connects, verifies the connection and creates the
// captures table.
func NewPostgresClient(ctx context.Context, dsn string) (*PostgresClient, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS captures (
			key TEXT NOT NULL,
			collection TEXT NOT NULL,
			image TEXT NOT NULL,
			timestamp BIGINT NOT NULL,
			date TEXT NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (collection, key)
		)`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create captures table: %w", err)
	}

	return &PostgresClient{pool: pool}, nil
}

// Close closes the database connection
func (s *PostgresClient) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// StoreCapture stores a captured frame record under key.
func (s *PostgresClient) StoreCapture(ctx context.Context, key, collection string, record models.CaptureRecord) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO captures (key, collection, image, timestamp, date, note) VALUES ($1, $2, $3, $4, $5, $6)",
		key, collection, record.Image, record.Timestamp, record.Date, record.Note)
	if err != nil {
		return fmt.Errorf("failed to store capture: %w", err)
	}
	return nil
}

// Captures returns the newest records of a collection, newest first.
func (s *PostgresClient) Captures(ctx context.Context, collection string, limit int) ([]models.StoredCapture, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT key, collection, image, timestamp, date, note FROM captures WHERE collection = $1 ORDER BY timestamp DESC LIMIT $2",
		collection, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query captures: %w", err)
	}
	defer rows.Close()

	captures := []models.StoredCapture{}
	for rows.Next() {
		var c models.StoredCapture
		if err := rows.Scan(&c.Key, &c.Collection, &c.Record.Image, &c.Record.Timestamp, &c.Record.Date, &c.Record.Note); err != nil {
			return nil, fmt.Errorf("failed to scan capture: %w", err)
		}
		captures = append(captures, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read captures: %w", err)
	}

	return captures, nil
}
