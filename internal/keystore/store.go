package keystore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	kerrors "github.com/PolarWolf314/sharevault/internal/errors"
)

const keyFileExt = ".key"

// Store holds sealed share key records keyed by share ID and rotation.
type Store interface {
	// Get returns the sealed record or an error wrapping ErrKeyNotFound.
	Get(shareID string, rotation int64) ([]byte, error)
	Put(shareID string, rotation int64, sealed []byte) error
	// Rotations lists stored rotations in ascending order.
	Rotations(shareID string) ([]int64, error)
	// Delete removes every record of the share.
	Delete(shareID string) error
}

// FileStore is a Store backed by a directory.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) Get(shareID string, rotation int64) ([]byte, error) {
	path, err := s.recordPath(shareID, rotation)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &kerrors.KeyError{ShareID: shareID, Rotation: rotation, Err: kerrors.ErrKeyNotFound}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key record: %w", err)
	}
	return data, nil
}

func (s *FileStore) Put(shareID string, rotation int64, sealed []byte) error {
	path, err := s.recordPath(shareID, rotation)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary key file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set key file permissions: %w", err)
	}
	if _, err := tmp.Write(sealed); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write key file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync key file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close key file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to store key file: %w", err)
	}
	return nil
}

func (s *FileStore) Rotations(shareID string) ([]int64, error) {
	if err := validateShareID(shareID); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(filepath.Join(s.dir, shareID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list key records: %w", err)
	}

	var rotations []int64
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, keyFileExt) {
			continue
		}
		rotation, err := strconv.ParseInt(strings.TrimSuffix(name, keyFileExt), 10, 64)
		if err != nil || rotation < 1 {
			continue
		}
		rotations = append(rotations, rotation)
	}
	sort.Slice(rotations, func(i, j int) bool { return rotations[i] < rotations[j] })
	return rotations, nil
}

func (s *FileStore) Delete(shareID string) error {
	if err := validateShareID(shareID); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(s.dir, shareID)); err != nil {
		return fmt.Errorf("failed to delete key records: %w", err)
	}
	return nil
}

func (s *FileStore) recordPath(shareID string, rotation int64) (string, error) {
	if err := validateShareID(shareID); err != nil {
		return "", err
	}
	if rotation < 1 {
		return "", fmt.Errorf("invalid key rotation %d", rotation)
	}
	return filepath.Join(s.dir, shareID, strconv.FormatInt(rotation, 10)+keyFileExt), nil
}

func validateShareID(shareID string) error {
	if shareID == "" || shareID == "." || shareID == ".." || strings.ContainsAny(shareID, `/\`) {
		return fmt.Errorf("invalid share id %q", shareID)
	}
	return nil
}

type recordID struct {
	shareID  string
	rotation int64
}

// MemoryStore is an in-memory Store. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[recordID][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[recordID][]byte)}
}

func (s *MemoryStore) Get(shareID string, rotation int64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.records[recordID{shareID, rotation}]
	if !ok {
		return nil, &kerrors.KeyError{ShareID: shareID, Rotation: rotation, Err: kerrors.ErrKeyNotFound}
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) Put(shareID string, rotation int64, sealed []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[recordID{shareID, rotation}] = append([]byte(nil), sealed...)
	return nil
}

func (s *MemoryStore) Rotations(shareID string) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rotations []int64
	for id := range s.records {
		if id.shareID == shareID {
			rotations = append(rotations, id.rotation)
		}
	}
	sort.Slice(rotations, func(i, j int) bool { return rotations[i] < rotations[j] })
	return rotations, nil
}

func (s *MemoryStore) Delete(shareID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.records {
		if id.shareID == shareID {
			delete(s.records, id)
		}
	}
	return nil
}
