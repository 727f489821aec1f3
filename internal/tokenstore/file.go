package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileBackend stores all keys of a tier as one JSON object in a file with secure permissions.
// Writes use temp file + rename for crash safety.
type FileBackend struct {
	filePath string
	mu       sync.Mutex
}

// Compile-time check to ensure FileBackend implements Backend
var _ Backend = (*FileBackend)(nil)

// NewFileBackend creates a FileBackend for the given path, creating parent directories
// with 0700 permissions if they don't exist.
func NewFileBackend(filePath string) (*FileBackend, error) {
	if filePath == "" {
		return nil, fmt.Errorf("file path cannot be empty")
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	return &FileBackend{
		filePath: filePath,
	}, nil
}

// Path returns the location of the backing file.
func (f *FileBackend) Path() string {
	return f.filePath
}

func (f *FileBackend) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		return "", err
	}

	value, ok := values[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

func (f *FileBackend) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		// A corrupt file is replaced rather than blocking every future write
		values = make(map[string]string)
	}
	values[key] = value

	return f.save(ctx, values)
}

func (f *FileBackend) Remove(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	values, err := f.load()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		values = make(map[string]string)
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)

	return f.save(ctx, values)
}

// load reads the backing file. A missing file yields an empty map.
func (f *FileBackend) load() (map[string]string, error) {
	info, err := os.Stat(f.filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]string), nil
	}
	if err != nil {
		return nil, err
	}
	if info.Mode().Perm() != 0600 {
		return nil, fmt.Errorf("insecure permissions on %s: %04o (expected 0600)", f.filePath, info.Mode().Perm())
	}

	data, err := os.ReadFile(f.filePath)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string)
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", f.filePath, err)
	}
	return values, nil
}

// save atomically replaces the backing file with 0600 permissions.
func (f *FileBackend) save(ctx context.Context, values map[string]string) error {
	data, err := json.Marshal(values)
	if err != nil {
		return err
	}

	// Create secure temp file in same directory for atomic rename
	dir := filepath.Dir(f.filePath)
	tempFile, err := os.CreateTemp(dir, "*.tmp")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	defer func() { _ = os.Remove(tempName) }()
	defer func() { _ = tempFile.Close() }()

	if _, err := tempFile.Write(data); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}

	if err := os.Rename(tempName, f.filePath); err != nil {
		return err
	}

	return os.Chmod(f.filePath, 0600)
}
