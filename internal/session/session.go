// Package session ties the reconciled exports, the workflow store, the rate gate and the
// persisted state together behind one serialised API.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/f-sync/followback/internal/exports"
	"github.com/f-sync/followback/internal/identity"
	"github.com/f-sync/followback/internal/ratelimit"
	"github.com/f-sync/followback/internal/state"
	"github.com/f-sync/followback/internal/workflow"
)

const (
	errMessageUnknownAccount     = "account is not flagged"
	errMessageMissingRepository  = "session requires a state repository"
	errMessageMissingSources     = "session has no export sources to reload"
	errMessagePersistSession     = "persist session state"
	logMessageSessionInitialized = "session initialized"
	logMessageMalformedDocument  = "export document has no recognizable entries"
	logMessageTransitionBlocked  = "transition blocked by rate gate"
	logMessageTransitionApplied  = "transition applied"
	logMessageModeChanged        = "safety mode changed"
	logMessageStateReset         = "workflow state reset"
	logMessageSessionReloaded    = "session reloaded"
	logFieldSessionID            = "session_id"
	logFieldDocument             = "document"
	logFieldUsername             = "username"
	logFieldFromCategory         = "from"
	logFieldToCategory           = "to"
	logFieldWait                 = "wait"
	logFieldMode                 = "mode"
	logFieldFlaggedCount         = "flagged"
	documentFollowers            = "followers"
	documentFollowing            = "following"
)

var (
	// ErrUnknownAccount is returned for usernames outside the flagged set.
	ErrUnknownAccount = errors.New(errMessageUnknownAccount)

	// ErrNoSources is returned by ReloadSources when the session was not opened from sources.
	ErrNoSources = errors.New(errMessageMissingSources)

	errMissingRepository = errors.New(errMessageMissingRepository)
)

// Options configures a session.
type Options struct {
	Repository *state.Repository
	Limits     ratelimit.Limits
	Logger     *zap.Logger
	HTTPClient *http.Client
}

// TransitionResult describes the outcome of RequestTransition. A blocked transition is not an
// error; Wait holds the time until the gate admits the next unfollow.
type TransitionResult struct {
	Username   string            `json:"username"`
	From       workflow.Category `json:"from"`
	To         workflow.Category `json:"to"`
	Applied    bool              `json:"applied"`
	Changed    bool              `json:"changed"`
	Blocked    bool              `json:"blocked"`
	Wait       time.Duration     `json:"-"`
	WaitMillis int64             `json:"waitMs"`
	Rate       ratelimit.Status  `json:"rate"`
}

// DiagnosticsReport summarises how both exports were interpreted.
type DiagnosticsReport struct {
	Followers          identity.FileDiagnostics `json:"followers"`
	Following          identity.FileDiagnostics `json:"following"`
	FollowersMalformed bool                     `json:"followersMalformed"`
	FollowingMalformed bool                     `json:"followingMalformed"`
	Flagged            int                      `json:"flagged"`
	Counts             workflow.Counts          `json:"counts"`
}

// Session is safe for concurrent use. Every mutation is applied to copies of the store and the
// gate, persisted in one backend write and only then made visible.
type Session struct {
	mu sync.Mutex

	id         string
	logger     *zap.Logger
	repository *state.Repository
	limits     ratelimit.Limits
	loader     exports.Loader
	sources    *exports.Sources

	result    identity.Result
	malformed [2]bool
	store     *workflow.Store
	gate      *ratelimit.Gate
	mode      ratelimit.Mode
}

// Open loads both exports concurrently and initializes a session from them.
func Open(ctx context.Context, sources exports.Sources, options Options) (*Session, error) {
	loader := exports.NewLoader(options.HTTPClient)
	pair, err := loader.LoadPair(ctx, sources)
	if err != nil {
		return nil, err
	}
	session, err := Initialize(ctx, pair.Followers, pair.Following, options)
	if err != nil {
		return nil, err
	}
	session.loader = loader
	session.sources = &sources
	return session, nil
}

// Initialize reconciles the two export documents, restores persisted state and prunes it to
// the flagged set.
func Initialize(ctx context.Context, followersDoc, followingDoc []byte, options Options) (*Session, error) {
	if options.Repository == nil {
		return nil, errMissingRepository
	}
	limits := options.Limits
	if limits == (ratelimit.Limits{}) {
		limits = ratelimit.DefaultLimits()
	}
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sessionID := uuid.NewString()
	logger = logger.With(zap.String(logFieldSessionID, sessionID))

	snapshot, err := options.Repository.Load(ctx)
	if err != nil {
		return nil, err
	}

	session := &Session{
		id:         sessionID,
		logger:     logger,
		repository: options.Repository,
		limits:     limits,
		loader:     exports.NewLoader(options.HTTPClient),
		mode:       snapshot.Mode,
	}
	session.result, session.malformed = session.reconcileDocuments(followersDoc, followingDoc)

	store := workflow.NewStore(session.result.Flagged, workflow.Categories{
		Done:     snapshot.Done,
		ToDecide: snapshot.ToDecide,
		NotFound: snapshot.NotFound,
		Visited:  snapshot.Visited,
		Pinned:   snapshot.Pinned,
	})
	gate := ratelimit.NewGate(limits, snapshot.Events, snapshot.CooldownUntil)
	if err := session.persist(ctx, store, gate, session.mode); err != nil {
		return nil, err
	}
	session.store = store
	session.gate = gate

	logger.Info(logMessageSessionInitialized, zap.Int(logFieldFlaggedCount, len(session.result.Flagged)), zap.String(logFieldMode, string(session.mode)))
	return session, nil
}

// ID returns the random identifier attached to every log line of the session.
func (session *Session) ID() string {
	return session.id
}

// Limits returns the configured rate windows.
func (session *Session) Limits() ratelimit.Limits {
	return session.limits
}

// RequestTransition moves username to target. A move to done is checked against the rate gate
// first and committed to the event log when admitted. Moving to the current category changes
// nothing.
func (session *Session) RequestTransition(ctx context.Context, username string, target workflow.Category, now time.Time) (TransitionResult, error) {
	targetCategory, err := workflow.ParseCategory(string(target))
	if err != nil {
		return TransitionResult{}, err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	normalized, current, err := session.lookupLocked(username)
	if err != nil {
		return TransitionResult{}, err
	}
	result := TransitionResult{Username: normalized, From: current, To: targetCategory}

	if current == targetCategory {
		result.Applied = true
		result.Rate = session.gate.Evaluate(now, session.mode)
		return result, nil
	}

	nextGate := session.gate.Clone()
	if targetCategory == workflow.CategoryDone {
		status := nextGate.Evaluate(now, session.mode)
		if !status.CanProceed {
			result.Blocked = true
			result.Wait = status.Wait
			result.WaitMillis = status.WaitMillis
			result.Rate = status
			session.logger.Info(logMessageTransitionBlocked, zap.String(logFieldUsername, normalized), zap.Duration(logFieldWait, status.Wait))
			return result, nil
		}
		nextGate.Commit(now, session.mode)
	}

	nextStore := session.store.Clone()
	if err := nextStore.MoveTo(normalized, targetCategory); err != nil {
		return TransitionResult{}, err
	}
	if err := session.persist(ctx, nextStore, nextGate, session.mode); err != nil {
		return TransitionResult{}, err
	}
	session.store = nextStore
	session.gate = nextGate

	result.Applied = true
	result.Changed = true
	result.Rate = session.gate.Evaluate(now, session.mode)
	session.logger.Info(logMessageTransitionApplied,
		zap.String(logFieldUsername, normalized),
		zap.String(logFieldFromCategory, string(current)),
		zap.String(logFieldToCategory, string(targetCategory)),
	)
	return result, nil
}

// EvaluateRate reports the admission decision at now.
func (session *Session) EvaluateRate(now time.Time) ratelimit.Status {
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.gate.Evaluate(now, session.mode)
}

// Verify reports where username appears in the exports.
func (session *Session) Verify(username string) identity.Verification {
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.result.Verify(username)
}

// Pin marks a pending account so it sorts first.
func (session *Session) Pin(ctx context.Context, username string) error {
	return session.mutateStore(ctx, username, func(store *workflow.Store, normalized string) error {
		return store.Pin(normalized)
	})
}

// Unpin clears the pin of a pending account.
func (session *Session) Unpin(ctx context.Context, username string) error {
	return session.mutateStore(ctx, username, func(store *workflow.Store, normalized string) error {
		return store.Unpin(normalized)
	})
}

// MarkVisited records that the profile of username was opened.
func (session *Session) MarkVisited(ctx context.Context, username string) error {
	return session.mutateStore(ctx, username, func(store *workflow.Store, normalized string) error {
		store.MarkVisited(normalized)
		return nil
	})
}

// Mode returns the current safety mode.
func (session *Session) Mode() ratelimit.Mode {
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.mode
}

// SetMode switches between strict and risk mode. The cooldown is kept.
func (session *Session) SetMode(ctx context.Context, mode ratelimit.Mode) error {
	parsedMode, err := ratelimit.ParseMode(string(mode))
	if err != nil {
		return err
	}
	session.mu.Lock()
	defer session.mu.Unlock()
	if parsedMode == session.mode {
		return nil
	}
	if err := session.persist(ctx, session.store, session.gate, parsedMode); err != nil {
		return err
	}
	session.mode = parsedMode
	session.logger.Info(logMessageModeChanged, zap.String(logFieldMode, string(parsedMode)))
	return nil
}

// Reset returns every flagged account to pending and clears the cooldown. The event log is kept.
func (session *Session) Reset(ctx context.Context) error {
	session.mu.Lock()
	defer session.mu.Unlock()

	nextStore := session.store.Clone()
	nextStore.Reset()
	nextGate := session.gate.Clone()
	nextGate.ClearCooldown()
	if err := session.persist(ctx, nextStore, nextGate, session.mode); err != nil {
		return err
	}
	session.store = nextStore
	session.gate = nextGate
	session.logger.Info(logMessageStateReset)
	return nil
}

// Counts tallies every category.
func (session *Session) Counts() workflow.Counts {
	session.mu.Lock()
	defer session.mu.Unlock()
	return session.store.Counts()
}

// Diagnostics reports how both exports were interpreted.
func (session *Session) Diagnostics() DiagnosticsReport {
	session.mu.Lock()
	defer session.mu.Unlock()
	return DiagnosticsReport{
		Followers:          session.result.Diagnostics.Followers,
		Following:          session.result.Diagnostics.Following,
		FollowersMalformed: session.malformed[0],
		FollowingMalformed: session.malformed[1],
		Flagged:            len(session.result.Flagged),
		Counts:             session.store.Counts(),
	}
}

// Reload reconciles new export documents and prunes the workflow state to the new flagged set.
func (session *Session) Reload(ctx context.Context, followersDoc, followingDoc []byte) error {
	session.mu.Lock()
	defer session.mu.Unlock()

	result, malformed := session.reconcileDocuments(followersDoc, followingDoc)
	nextStore := session.store.Clone()
	nextStore.Reconcile(result.Flagged)
	if err := session.persist(ctx, nextStore, session.gate, session.mode); err != nil {
		return err
	}
	session.result = result
	session.malformed = malformed
	session.store = nextStore
	session.logger.Info(logMessageSessionReloaded, zap.Int(logFieldFlaggedCount, len(result.Flagged)))
	return nil
}

// ReloadSources fetches the exports again from the sources the session was opened with.
func (session *Session) ReloadSources(ctx context.Context) error {
	if session.sources == nil {
		return ErrNoSources
	}
	pair, err := session.loader.LoadPair(ctx, *session.sources)
	if err != nil {
		return err
	}
	return session.Reload(ctx, pair.Followers, pair.Following)
}

// Sources returns the export locations, if the session was opened from sources.
func (session *Session) Sources() (exports.Sources, bool) {
	if session.sources == nil {
		return exports.Sources{}, false
	}
	return *session.sources, true
}

// Close releases the state backend.
func (session *Session) Close() error {
	return session.repository.Close()
}

func (session *Session) mutateStore(ctx context.Context, username string, mutate func(*workflow.Store, string) error) error {
	session.mu.Lock()
	defer session.mu.Unlock()

	normalized, _, err := session.lookupLocked(username)
	if err != nil {
		return err
	}
	nextStore := session.store.Clone()
	if err := mutate(nextStore, normalized); err != nil {
		return err
	}
	if err := session.persist(ctx, nextStore, session.gate, session.mode); err != nil {
		return err
	}
	session.store = nextStore
	return nil
}

func (session *Session) lookupLocked(username string) (string, workflow.Category, error) {
	normalized := identity.NormalizeUsername(username)
	category, flagged := session.store.CategoryOf(normalized)
	if !flagged {
		return normalized, "", fmt.Errorf("%w: %s", ErrUnknownAccount, normalized)
	}
	return normalized, category, nil
}

func (session *Session) reconcileDocuments(followersDoc, followingDoc []byte) (identity.Result, [2]bool) {
	followers := exports.ParseDocument(followersDoc)
	following := exports.ParseDocument(followingDoc)
	if followers.Malformed {
		session.logger.Warn(logMessageMalformedDocument, zap.String(logFieldDocument, documentFollowers))
	}
	if following.Malformed {
		session.logger.Warn(logMessageMalformedDocument, zap.String(logFieldDocument, documentFollowing))
	}
	return identity.Reconcile(followers.Records, following.Records), [2]bool{followers.Malformed, following.Malformed}
}

func (session *Session) persist(ctx context.Context, store *workflow.Store, gate *ratelimit.Gate, mode ratelimit.Mode) error {
	categories := store.Export()
	snapshot := state.Snapshot{
		Done:          categories.Done,
		ToDecide:      categories.ToDecide,
		NotFound:      categories.NotFound,
		Visited:       categories.Visited,
		Pinned:        categories.Pinned,
		Events:        gate.Events(),
		Mode:          mode,
		CooldownUntil: gate.CooldownUntil(),
	}
	if err := session.repository.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("%s: %w", errMessagePersistSession, err)
	}
	return nil
}
