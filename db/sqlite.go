package db

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration

	"mala-sight/models"
	"mala-sight/utils"
)

type SQLiteClient struct {
	db *sql.DB
}

func NewSQLiteClient(dataSourceName string) (*SQLiteClient, error) {
	// Extract the file path before query parameters
	dbPath := dataSourceName
	if idx := strings.Index(dataSourceName, "?"); idx != -1 {
		dbPath = dataSourceName[:idx]
	}

	dbDir := filepath.Dir(dbPath)
	if dbDir != "." && dbDir != "" {
		if err := utils.CreateFolder(dbDir); err != nil {
			return nil, fmt.Errorf("error creating database directory: %w", err)
		}
	}

	// Captures are written from background goroutines; wait on the lock
	// instead of failing with SQLITE_BUSY.
	if !strings.Contains(dataSourceName, "_busy_timeout") {
		if strings.Contains(dataSourceName, "?") {
			dataSourceName += "&_busy_timeout=5000"
		} else {
			dataSourceName += "?_busy_timeout=5000"
		}
	}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("error connecting to SQLite: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating tables: %w", err)
	}

	return &SQLiteClient{db: db}, nil
}

// createTables creates the required tables if they don't exist
func createTables(db *sql.DB) error {
	createCapturesTable := `
    CREATE TABLE IF NOT EXISTS captures (
        key TEXT NOT NULL,
        collection TEXT NOT NULL,
        image TEXT NOT NULL,
        timestamp INTEGER NOT NULL,
        date TEXT NOT NULL,
        note TEXT NOT NULL DEFAULT '',
        PRIMARY KEY (collection, key)
    );
    CREATE INDEX IF NOT EXISTS idx_captures_timestamp ON captures(collection, timestamp);
    `

	if _, err := db.Exec(createCapturesTable); err != nil {
		return fmt.Errorf("error creating captures table: %w", err)
	}
	return nil
}

func (db *SQLiteClient) Close() error {
	if db.db != nil {
		return db.db.Close()
	}
	return nil
}

// StoreCapture stores a captured frame record under key.
func (db *SQLiteClient) StoreCapture(ctx context.Context, key, collection string, record models.CaptureRecord) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO captures (key, collection, image, timestamp, date, note)
		VALUES (?, ?, ?, ?, ?, ?)`,
		key, collection, record.Image, record.Timestamp, record.Date, record.Note,
	)
	if err != nil {
		return fmt.Errorf("error storing capture: %w", err)
	}
	return nil
}

// Captures returns the newest records of a collection, newest first.
func (db *SQLiteClient) Captures(ctx context.Context, collection string, limit int) ([]models.StoredCapture, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT key, collection, image, timestamp, date, note
		FROM captures
		WHERE collection = ?
		ORDER BY timestamp DESC
		LIMIT ?`,
		collection, normalizeLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("error querying captures: %w", err)
	}
	defer rows.Close()

	captures := []models.StoredCapture{}
	for rows.Next() {
		var c models.StoredCapture
		if err := rows.Scan(&c.Key, &c.Collection, &c.Record.Image, &c.Record.Timestamp, &c.Record.Date, &c.Record.Note); err != nil {
			return nil, fmt.Errorf("error scanning capture: %w", err)
		}
		captures = append(captures, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error reading captures: %w", err)
	}

	return captures, nil
}
