package db

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"mala-sight/models"
	"mala-sight/utils"
)

// DefaultCaptureFile is used by FileArchive when no path is given.
const DefaultCaptureFile = "server/captures.json"

// FileArchive keeps every capture in a single JSON file. It suits a station
// without a database; each write rewrites the file.
type FileArchive struct {
	path string
	mu   sync.RWMutex
}

func NewFileArchive(path string) *FileArchive {
	if path == "" {
		path = DefaultCaptureFile
	}
	return &FileArchive{path: path}
}

// load reads all captures from the file (without lock)
func (a *FileArchive) load() ([]models.StoredCapture, error) {
	data, err := os.ReadFile(a.path)
	if os.IsNotExist(err) {
		return []models.StoredCapture{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading captures file: %w", err)
	}

	if len(data) == 0 {
		return []models.StoredCapture{}, nil
	}

	var captures []models.StoredCapture
	if err := json.Unmarshal(data, &captures); err != nil {
		return nil, fmt.Errorf("error unmarshaling captures: %w", err)
	}
	return captures, nil
}

// StoreCapture appends a record to the file.
func (a *FileArchive) StoreCapture(ctx context.Context, key, collection string, record models.CaptureRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	captures, err := a.load()
	if err != nil {
		return err
	}
	captures = append(captures, models.StoredCapture{Key: key, Collection: collection, Record: record})

	dir := filepath.Dir(a.path)
	if dir != "." && dir != "" {
		if err := utils.CreateFolder(dir); err != nil {
			return fmt.Errorf("error creating directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(captures, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling captures: %w", err)
	}

	tmp := a.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("error writing captures file: %w", err)
	}
	if err := os.Rename(tmp, a.path); err != nil {
		return fmt.Errorf("error replacing captures file: %w", err)
	}
	return nil
}

// Captures returns the newest records of a collection, newest first.
func (a *FileArchive) Captures(ctx context.Context, collection string, limit int) ([]models.StoredCapture, error) {
	a.mu.RLock()
	all, err := a.load()
	a.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	captures := []models.StoredCapture{}
	for _, c := range all {
		if c.Collection == collection {
			captures = append(captures, c)
		}
	}
	sort.SliceStable(captures, func(i, j int) bool {
		return captures[i].Record.Timestamp > captures[j].Record.Timestamp
	})
	if limit = normalizeLimit(limit); len(captures) > limit {
		captures = captures[:limit]
	}
	return captures, nil
}

func (a *FileArchive) Close() error {
	return nil
}
