package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

const (
	lockFileSuffix            = ".lock"
	tempFileSuffix            = ".tmp"
	stateDirectoryPermissions = 0o755
	stateFilePermissions      = 0o644
	errMessageCorruptState    = "persisted state is corrupt"
	errMessageAcquireLock     = "acquire state lock"
	errMessageReadStateFile   = "read state file"
	errMessageWriteStateFile  = "write state file"
)

// ErrCorruptState reports a persisted snapshot that could not be decoded as a whole.
var ErrCorruptState = errors.New(errMessageCorruptState)

// FileBackend stores all keys in one JSON object on disk. Writes go through a temporary file
// and a rename, guarded by an advisory lock file next to the state file.
type FileBackend struct {
	path string
	lock *flock.Flock
}

// NewFileBackend returns a backend persisting to path.
func NewFileBackend(path string) *FileBackend {
	trimmedPath := strings.TrimSpace(path)
	return &FileBackend{path: trimmedPath, lock: flock.New(trimmedPath + lockFileSuffix)}
}

// Path returns the state file location.
func (backend *FileBackend) Path() string {
	return backend.path
}

// Load reads the state file. A missing file yields an empty result.
func (backend *FileBackend) Load(context.Context) (map[string][]byte, error) {
	if err := backend.ensureDirectory(); err != nil {
		return nil, err
	}
	if err := backend.lock.RLock(); err != nil {
		return nil, fmt.Errorf("%s: %w", errMessageAcquireLock, err)
	}
	defer func() {
		_ = backend.lock.Unlock()
	}()
	return backend.readUnlocked()
}

// Store merges values into the state file.
func (backend *FileBackend) Store(_ context.Context, values map[string][]byte) error {
	if err := backend.ensureDirectory(); err != nil {
		return err
	}
	if err := backend.lock.Lock(); err != nil {
		return fmt.Errorf("%s: %w", errMessageAcquireLock, err)
	}
	defer func() {
		_ = backend.lock.Unlock()
	}()

	existing, err := backend.readUnlocked()
	if err != nil && !errors.Is(err, ErrCorruptState) {
		return err
	}
	merged := make(map[string]json.RawMessage, len(existing)+len(values))
	for key, value := range existing {
		merged[key] = json.RawMessage(value)
	}
	for key, value := range values {
		merged[key] = json.RawMessage(value)
	}
	data, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return fmt.Errorf("%s: %w", errMessageWriteStateFile, err)
	}
	tempPath := backend.path + tempFileSuffix
	if err := os.WriteFile(tempPath, data, stateFilePermissions); err != nil {
		return fmt.Errorf("%s: %w", errMessageWriteStateFile, err)
	}
	if err := os.Rename(tempPath, backend.path); err != nil {
		return fmt.Errorf("%s: %w", errMessageWriteStateFile, err)
	}
	return nil
}

// Close is a no-op; locks are released after every operation.
func (backend *FileBackend) Close() error {
	return nil
}

func (backend *FileBackend) ensureDirectory() error {
	if backend.path == "" {
		return errMissingBackendPath
	}
	directory := filepath.Dir(backend.path)
	if directory == "." {
		return nil
	}
	return os.MkdirAll(directory, stateDirectoryPermissions)
}

func (backend *FileBackend) readUnlocked() (map[string][]byte, error) {
	data, err := os.ReadFile(backend.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string][]byte{}, nil
		}
		return nil, fmt.Errorf("%s: %w", errMessageReadStateFile, err)
	}
	var rawValues map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawValues); err != nil {
		return map[string][]byte{}, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	values := make(map[string][]byte, len(rawValues))
	for key, value := range rawValues {
		values[key] = []byte(value)
	}
	return values, nil
}
