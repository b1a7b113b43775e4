package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/f-sync/followback/internal/identity"
	"github.com/f-sync/followback/internal/ratelimit"
)

// Persisted keys.
const (
	KeyDone                = "unfollowed"
	KeyToDecide            = "tbd"
	KeyNotFound            = "not_found"
	KeyVisited             = "visited"
	KeyPinned              = "pinned"
	KeyUnfollowEvents      = "unfollow_events"
	KeySafetyMode          = "safety_mode"
	KeyStrictCooldownUntil = "strict_cooldown_until"
)

const (
	errMessageLoadState        = "load persisted state"
	errMessageSaveState        = "save persisted state"
	errMessageEncodeStateValue = "encode persisted value"
	logMessageCorruptValue     = "persisted value is corrupt; using default"
	logMessageCorruptSnapshot  = "persisted state is corrupt; using defaults"
	logMessageDroppedUsernames = "dropped invalid persisted usernames"
	logFieldStateKey           = "key"
	logFieldDroppedCount       = "dropped"
	logFieldStateError         = "error"
)

// Snapshot is the typed view of every persisted key.
type Snapshot struct {
	Done          []string
	ToDecide      []string
	NotFound      []string
	Visited       []string
	Pinned        []string
	Events        []int64
	Mode          ratelimit.Mode
	CooldownUntil int64
}

// DefaultSnapshot is the state of a first run.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		Done:     []string{},
		ToDecide: []string{},
		NotFound: []string{},
		Visited:  []string{},
		Pinned:   []string{},
		Events:   []int64{},
		Mode:     ratelimit.ModeStrict,
	}
}

// Repository maps a Snapshot onto a Backend.
type Repository struct {
	backend Backend
	logger  *zap.Logger
}

// NewRepository wraps backend. A nil logger is replaced by a no-op logger.
func NewRepository(backend Backend, logger *zap.Logger) *Repository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repository{backend: backend, logger: logger}
}

// Load reads every key. Absent or corrupt values fall back to their defaults and are logged;
// only backend I/O failures are returned.
func (repository *Repository) Load(ctx context.Context) (Snapshot, error) {
	values, err := repository.backend.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrCorruptState) {
			return Snapshot{}, fmt.Errorf("%s: %w", errMessageLoadState, err)
		}
		repository.logger.Warn(logMessageCorruptSnapshot, zap.Error(err))
		values = map[string][]byte{}
	}

	snapshot := DefaultSnapshot()
	snapshot.Done = repository.decodeUsernames(values, KeyDone)
	snapshot.ToDecide = repository.decodeUsernames(values, KeyToDecide)
	snapshot.NotFound = repository.decodeUsernames(values, KeyNotFound)
	snapshot.Visited = repository.decodeUsernames(values, KeyVisited)
	snapshot.Pinned = repository.decodeUsernames(values, KeyPinned)
	snapshot.Events = repository.decodeEvents(values)
	snapshot.Mode = repository.decodeMode(values)
	snapshot.CooldownUntil = repository.decodeCooldown(values)
	return snapshot, nil
}

// Save writes every key in one backend call.
func (repository *Repository) Save(ctx context.Context, snapshot Snapshot) error {
	mode := snapshot.Mode
	if mode == "" {
		mode = ratelimit.ModeStrict
	}
	plain := map[string]any{
		KeyDone:                sortedOrEmpty(snapshot.Done),
		KeyToDecide:            sortedOrEmpty(snapshot.ToDecide),
		KeyNotFound:            sortedOrEmpty(snapshot.NotFound),
		KeyVisited:             sortedOrEmpty(snapshot.Visited),
		KeyPinned:              sortedOrEmpty(snapshot.Pinned),
		KeyUnfollowEvents:      eventsOrEmpty(snapshot.Events),
		KeySafetyMode:          string(mode),
		KeyStrictCooldownUntil: snapshot.CooldownUntil,
	}
	encoded := make(map[string][]byte, len(plain))
	for key, value := range plain {
		data, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("%s %s: %w", errMessageEncodeStateValue, key, err)
		}
		encoded[key] = data
	}
	if err := repository.backend.Store(ctx, encoded); err != nil {
		return fmt.Errorf("%s: %w", errMessageSaveState, err)
	}
	return nil
}

// Close releases the backend.
func (repository *Repository) Close() error {
	return repository.backend.Close()
}

func (repository *Repository) decodeUsernames(values map[string][]byte, key string) []string {
	raw, ok := values[key]
	if !ok {
		return []string{}
	}
	var decoded []any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		repository.warnCorrupt(key, err)
		return []string{}
	}
	seen := identity.NewUsernameSet()
	dropped := 0
	for _, entry := range decoded {
		text, isString := entry.(string)
		username := identity.NormalizeUsername(text)
		if !isString || !identity.IsValidUsername(username) {
			dropped++
			continue
		}
		seen.Add(username)
	}
	if dropped > 0 {
		repository.logger.Warn(logMessageDroppedUsernames, zap.String(logFieldStateKey, key), zap.Int(logFieldDroppedCount, dropped))
	}
	return seen.Sorted()
}

func (repository *Repository) decodeEvents(values map[string][]byte) []int64 {
	raw, ok := values[KeyUnfollowEvents]
	if !ok {
		return []int64{}
	}
	var decoded []float64
	if err := json.Unmarshal(raw, &decoded); err != nil {
		repository.warnCorrupt(KeyUnfollowEvents, err)
		return []int64{}
	}
	events := make([]int64, 0, len(decoded))
	for _, value := range decoded {
		if value <= 0 {
			continue
		}
		events = append(events, int64(value))
	}
	sort.Slice(events, func(left, right int) bool { return events[left] < events[right] })
	return events
}

func (repository *Repository) decodeMode(values map[string][]byte) ratelimit.Mode {
	raw, ok := values[KeySafetyMode]
	if !ok {
		return ratelimit.ModeStrict
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		repository.warnCorrupt(KeySafetyMode, err)
		return ratelimit.ModeStrict
	}
	mode, err := ratelimit.ParseMode(name)
	if err != nil {
		repository.warnCorrupt(KeySafetyMode, err)
		return ratelimit.ModeStrict
	}
	return mode
}

func (repository *Repository) decodeCooldown(values map[string][]byte) int64 {
	raw, ok := values[KeyStrictCooldownUntil]
	if !ok {
		return 0
	}
	var value float64
	if err := json.Unmarshal(raw, &value); err != nil {
		repository.warnCorrupt(KeyStrictCooldownUntil, err)
		return 0
	}
	if value < 0 {
		return 0
	}
	return int64(value)
}

func (repository *Repository) warnCorrupt(key string, err error) {
	repository.logger.Warn(logMessageCorruptValue, zap.String(logFieldStateKey, key), zap.String(logFieldStateError, err.Error()))
}

func sortedOrEmpty(usernames []string) []string {
	return identity.NewUsernameSet(usernames...).Sorted()
}

func eventsOrEmpty(events []int64) []int64 {
	if events == nil {
		return []int64{}
	}
	return events
}
