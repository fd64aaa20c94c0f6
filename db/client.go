// Package db persists captured frames. The backend is chosen at start-up;
// all of them store the same record under the same key.
package db

import (
	"context"
	"fmt"

	"mala-sight/models"
)

// DefaultListLimit bounds Captures when no limit is given.
const DefaultListLimit = 50

// Archive is a capture archive backend.
type Archive interface {
	StoreCapture(ctx context.Context, key, collection string, record models.CaptureRecord) error
	Captures(ctx context.Context, collection string, limit int) ([]models.StoredCapture, error)
	Close() error
}

// Options selects and configures an archive backend.
type Options struct {
	Backend       string // sqlite, mongo, postgres, file or none
	SQLitePath    string
	MongoURI      string
	MongoDatabase string
	PostgresDSN   string
	FilePath      string
}

// NewArchive opens the configured backend. Backend "none" returns a nil
// archive and no error.
func NewArchive(ctx context.Context, opts Options) (Archive, error) {
	switch opts.Backend {
	case "sqlite", "":
		return NewSQLiteClient(opts.SQLitePath)
	case "mongo":
		return NewMongoClient(ctx, opts.MongoURI, opts.MongoDatabase)
	case "postgres":
		return NewPostgresClient(ctx, opts.PostgresDSN)
	case "file":
		return NewFileArchive(opts.FilePath), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported archive backend: %s", opts.Backend)
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
