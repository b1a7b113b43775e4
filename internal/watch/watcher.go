// Package watch reloads a session when its local export files change on disk.
package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	defaultDebounce            = 500 * time.Millisecond
	minimumPollInterval        = 10 * time.Millisecond
	debouncePollDivisor        = 4
	httpSchemePrefix           = "http://"
	httpsSchemePrefix          = "https://"
	errMessageNothingToWatch   = "no local export files to watch"
	errMessageCreateWatcher    = "create file watcher"
	errMessageWatchDirectory   = "watch directory"
	errMessageResolvePath      = "resolve watched path"
	logMessageWatching         = "watching export files"
	logMessageChangeDetected   = "export file changed"
	logMessageReloadFailed     = "reload after file change failed"
	logMessageReloadSucceeded  = "reloaded after file change"
	logMessageWatcherError     = "file watcher error"
	logMessageWatcherStopped   = "file watcher stopped"
	logFieldWatchedPath        = "path"
	logFieldWatchedDirectories = "directories"
	logFieldOperation          = "op"
)

// ErrNothingToWatch is returned when every configured path is remote.
var ErrNothingToWatch = errors.New(errMessageNothingToWatch)

// ReloadFunc refreshes the session from its export sources.
type ReloadFunc func(ctx context.Context) error

// Config configures a Watcher.
type Config struct {
	Paths    []string
	Debounce time.Duration
	Reload   ReloadFunc
	Logger   *zap.Logger
}

// Watcher triggers Reload once writes to the watched files have been quiet for the debounce
// period. Directories are watched instead of files so that editors replacing a file through a
// rename are still observed.
type Watcher struct {
	files       map[string]struct{}
	directories []string
	debounce    time.Duration
	reload      ReloadFunc
	logger      *zap.Logger
	watcher     *fsnotify.Watcher
}

// NewWatcher prepares a watcher for the local paths in configuration. URLs are skipped.
func NewWatcher(configuration Config) (*Watcher, error) {
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	debounce := configuration.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	files := make(map[string]struct{})
	directorySet := make(map[string]struct{})
	directories := make([]string, 0, len(configuration.Paths))
	for _, path := range configuration.Paths {
		trimmedPath := strings.TrimSpace(path)
		if trimmedPath == "" || strings.HasPrefix(trimmedPath, httpSchemePrefix) || strings.HasPrefix(trimmedPath, httpsSchemePrefix) {
			continue
		}
		absolutePath, err := filepath.Abs(trimmedPath)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", errMessageResolvePath, err)
		}
		files[absolutePath] = struct{}{}
		directory := filepath.Dir(absolutePath)
		if _, seen := directorySet[directory]; !seen {
			directorySet[directory] = struct{}{}
			directories = append(directories, directory)
		}
	}
	if len(files) == 0 {
		return nil, ErrNothingToWatch
	}

	fileWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errMessageCreateWatcher, err)
	}
	for _, directory := range directories {
		if err := fileWatcher.Add(directory); err != nil {
			_ = fileWatcher.Close()
			return nil, fmt.Errorf("%s %s: %w", errMessageWatchDirectory, directory, err)
		}
	}

	return &Watcher{
		files:       files,
		directories: directories,
		debounce:    debounce,
		reload:      configuration.Reload,
		logger:      logger,
		watcher:     fileWatcher,
	}, nil
}

// Run processes file events until ctx is cancelled, then releases the watcher.
func (watcher *Watcher) Run(ctx context.Context) error {
	defer func() {
		_ = watcher.watcher.Close()
		watcher.logger.Info(logMessageWatcherStopped)
	}()
	watcher.logger.Info(logMessageWatching, zap.Strings(logFieldWatchedDirectories, watcher.directories))

	pollInterval := watcher.debounce / debouncePollDivisor
	if pollInterval < minimumPollInterval {
		pollInterval = minimumPollInterval
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	var lastChange time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.watcher.Events:
			if !ok {
				return nil
			}
			if watcher.relevant(event) {
				watcher.logger.Debug(logMessageChangeDetected, zap.String(logFieldWatchedPath, event.Name), zap.String(logFieldOperation, event.Op.String()))
				lastChange = time.Now()
			}
		case err, ok := <-watcher.watcher.Errors:
			if !ok {
				return nil
			}
			watcher.logger.Warn(logMessageWatcherError, zap.Error(err))
		case <-ticker.C:
			if lastChange.IsZero() || time.Since(lastChange) < watcher.debounce {
				continue
			}
			lastChange = time.Time{}
			watcher.runReload(ctx)
		}
	}
}

func (watcher *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return false
	}
	absolutePath, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	_, watched := watcher.files[absolutePath]
	return watched
}

func (watcher *Watcher) runReload(ctx context.Context) {
	if watcher.reload == nil {
		return
	}
	if err := watcher.reload(ctx); err != nil {
		watcher.logger.Warn(logMessageReloadFailed, zap.Error(err))
		return
	}
	watcher.logger.Info(logMessageReloadSucceeded)
}
