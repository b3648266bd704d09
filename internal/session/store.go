package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const partitionsDir = ".partitions"

// Store resolves session directories of the form
//
//	{root}/{YYYY-MM-DD}/{sessionID}/
//
// The date is the day the session was first seen. It is recorded under
// {root}/.partitions so later events reuse it across midnight.
type Store struct {
	root string
}

// NewStore creates a store rooted at root.
func NewStore(root string) *Store {
	return &Store{root: root}
}

// Root returns the logs root.
func (s *Store) Root() string {
	return s.root
}

// Dir returns the directory for sessionID, creating it if needed.
func (s *Store) Dir(sessionID string, now time.Time) (string, error) {
	date, err := s.Partition(sessionID, now)
	if err != nil {
		return "", err
	}

	dir := s.Path(date, sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create session dir: %w", err)
	}
	return dir, nil
}

// Path returns the directory for sessionID in the given date partition
// without touching the filesystem.
func (s *Store) Path(date, sessionID string) string {
	return filepath.Join(s.root, date, SafeName(sessionID))
}

// Partition returns the date partition for sessionID. The first caller
// records now's date; every later caller gets that recorded date.
func (s *Store) Partition(sessionID string, now time.Time) (string, error) {
	marker := filepath.Join(s.root, partitionsDir, SafeName(sessionID))

	if date, ok := readPartition(marker); ok {
		return date, nil
	}

	if err := os.MkdirAll(filepath.Dir(marker), 0755); err != nil {
		return "", fmt.Errorf("create partition index: %w", err)
	}

	date := now.Format(DateLayout)
	tmp, err := os.CreateTemp(filepath.Dir(marker), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("create partition marker: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	_, writeErr := tmp.WriteString(date)
	closeErr := tmp.Close()
	if writeErr != nil {
		return "", fmt.Errorf("write partition marker: %w", writeErr)
	}
	if closeErr != nil {
		return "", fmt.Errorf("close partition marker: %w", closeErr)
	}

	// Link publishes the complete marker or fails if another process won.
	err = os.Link(tmpPath, marker)
	switch {
	case err == nil:
		return date, nil
	case errors.Is(err, os.ErrExist):
		if existing, ok := readPartition(marker); ok {
			return existing, nil
		}
		fallthrough
	default:
		// Corrupt marker or no hard links here; last writer wins.
		if err := os.Rename(tmpPath, marker); err != nil {
			return "", fmt.Errorf("publish partition marker: %w", err)
		}
		return date, nil
	}
}

func readPartition(marker string) (string, bool) {
	data, err := os.ReadFile(marker)
	if err != nil {
		return "", false
	}
	date := strings.TrimSpace(string(data))
	if _, err := time.Parse(DateLayout, date); err != nil {
		return "", false
	}
	return date, true
}
