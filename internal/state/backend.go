package state

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

const (
	schemeFile                   = "file"
	schemeMemory                 = "memory"
	schemeMem                    = "mem"
	schemeSQLite                 = "sqlite"
	schemePostgres               = "postgres"
	schemePostgreSQL             = "postgresql"
	errMessageUnsupportedScheme  = "unsupported state backend scheme"
	errMessageMissingBackendPath = "state backend path is empty"
	errMessageParseBackendDSN    = "parse state backend dsn"
	errMessageEmptyBackendDSN    = "state backend dsn is empty"
)

var (
	// ErrUnsupportedScheme is returned for DSNs whose scheme has no backend.
	ErrUnsupportedScheme = errors.New(errMessageUnsupportedScheme)

	errMissingBackendPath = errors.New(errMessageMissingBackendPath)
	errEmptyBackendDSN    = errors.New(errMessageEmptyBackendDSN)
)

// Backend persists a flat set of JSON values by key. Store writes every supplied key in one
// atomic step.
type Backend interface {
	Load(ctx context.Context) (map[string][]byte, error)
	Store(ctx context.Context, values map[string][]byte) error
	Close() error
}

// BackendFactory builds a backend from a DSN.
type BackendFactory func(dsn string) (Backend, error)

var backendFactoryRegistry = struct {
	mu        sync.RWMutex
	factories map[string]BackendFactory
}{
	factories: map[string]BackendFactory{},
}

// RegisterBackendFactory makes factory available for DSNs using scheme.
func RegisterBackendFactory(scheme string, factory BackendFactory) {
	scheme = normalizeBackendScheme(scheme)
	if scheme == "" || factory == nil {
		return
	}
	backendFactoryRegistry.mu.Lock()
	defer backendFactoryRegistry.mu.Unlock()
	backendFactoryRegistry.factories[scheme] = factory
}

func lookupBackendFactory(scheme string) (BackendFactory, bool) {
	scheme = normalizeBackendScheme(scheme)
	backendFactoryRegistry.mu.RLock()
	defer backendFactoryRegistry.mu.RUnlock()
	factory, ok := backendFactoryRegistry.factories[scheme]
	return factory, ok
}

// OpenBackend builds a backend from a DSN. Supported forms are a bare path or file://path
// (JSON file), memory://, sqlite://path and postgres://... .
func OpenBackend(dsn string) (Backend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errEmptyBackendDSN
	}
	if !strings.Contains(dsn, "://") {
		return NewFileBackend(dsn), nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errMessageParseBackendDSN, err)
	}
	scheme := normalizeBackendScheme(parsed.Scheme)
	if factory, ok := lookupBackendFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case schemeFile:
		path, pathErr := dsnPath(parsed)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewFileBackend(path), nil
	case schemeMemory, schemeMem:
		return NewMemoryBackend(), nil
	case schemeSQLite:
		path, pathErr := dsnPath(parsed)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewSQLiteBackend(path), nil
	case schemePostgres, schemePostgreSQL:
		backend, postgresErr := NewPostgresBackend(dsn)
		if postgresErr != nil {
			return nil, postgresErr
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
	}
}

func dsnPath(parsed *url.URL) (string, error) {
	path := parsed.Host + parsed.Path
	if parsed.Opaque != "" {
		path = parsed.Opaque
	}
	if strings.TrimSpace(path) == "" {
		return "", errMissingBackendPath
	}
	return path, nil
}

func normalizeBackendScheme(scheme string) string {
	return strings.ToLower(strings.TrimSpace(scheme))
}

func cloneValues(values map[string][]byte) map[string][]byte {
	cloned := make(map[string][]byte, len(values))
	for key, value := range values {
		copiedValue := make([]byte, len(value))
		copy(copiedValue, value)
		cloned[key] = copiedValue
	}
	return cloned
}

// MemoryBackend keeps values in process memory.
type MemoryBackend struct {
	mu     sync.Mutex
	values map[string][]byte
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: map[string][]byte{}}
}

// Load returns a copy of the stored values.
func (backend *MemoryBackend) Load(context.Context) (map[string][]byte, error) {
	backend.mu.Lock()
	defer backend.mu.Unlock()
	return cloneValues(backend.values), nil
}

// Store merges values into the backend.
func (backend *MemoryBackend) Store(_ context.Context, values map[string][]byte) error {
	backend.mu.Lock()
	defer backend.mu.Unlock()
	for key, value := range cloneValues(values) {
		backend.values[key] = value
	}
	return nil
}

// Close is a no-op.
func (backend *MemoryBackend) Close() error {
	return nil
}
