package file

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// store keeps one JSON document per record under root/name.
type store[T any] struct {
	dir string
}

func newStore[T any](root, name string) *store[T] {
	return &store[T]{dir: filepath.Join(root, name)}
}

func validateID(id string) error {
	if id == "" {
		return errors.New("id cannot be empty")
	}

	if strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("id %q contains invalid characters", id)
	}

	return nil
}

func (s *store[T]) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// load returns nil without error when the record does not exist.
func (s *store[T]) load(id string) (*T, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read %s: %w", s.path(id), err)
	}

	var record T

	err = json.Unmarshal(data, &record)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", s.path(id), err)
	}

	return &record, nil
}

func (s *store[T]) save(id string, record *T) error {
	if err := validateID(id); err != nil {
		return err
	}

	err := os.MkdirAll(s.dir, 0750)
	if err != nil {
		return fmt.Errorf("failed to create directory %s: %w", s.dir, err)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", id, err)
	}

	tmp := s.path(id) + ".tmp"

	err = os.WriteFile(tmp, data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}

	err = os.Rename(tmp, s.path(id))
	if err != nil {
		return fmt.Errorf("failed to move %s into place: %w", id, err)
	}

	return nil
}

func (s *store[T]) remove(id string) error {
	err := os.Remove(s.path(id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", id, err)
	}

	return nil
}

// filter loads every record and keeps the ones match accepts.
func (s *store[T]) filter(match func(*T) bool) ([]*T, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []*T{}, nil
		}

		return nil, fmt.Errorf("failed to list %s: %w", s.dir, err)
	}

	records := make([]*T, 0, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}

		record, err := s.load(strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}

		if record != nil && (match == nil || match(record)) {
			records = append(records, record)
		}
	}

	return records, nil
}

// first returns the first record match accepts, or nil.
func (s *store[T]) first(match func(*T) bool) (*T, error) {
	records, err := s.filter(match)
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, nil
	}

	return records[0], nil
}
