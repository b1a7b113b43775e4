package ratelimit

import (
	"errors"
	"strings"
	"time"
)

const (
	// DefaultShortWindow is the span of the short sliding window.
	DefaultShortWindow = 90 * time.Minute

	// DefaultShortLimit is the number of unfollows admitted per short window.
	DefaultShortLimit = 10

	// DefaultLongWindow is the span of the long sliding window.
	DefaultLongWindow = 24 * time.Hour

	// DefaultLongLimit is the number of unfollows admitted per long window.
	DefaultLongLimit = 60

	errMessageUnknownMode   = "unknown safety mode"
	errMessageInvalidLimits = "rate limits must be positive and the long window must cover the short window"
	windowExitPrecision     = time.Millisecond
	modeStrictName          = "strict"
	modeRiskName            = "risk"
)

var (
	// ErrUnknownMode is returned when a safety mode name is not recognized.
	ErrUnknownMode = errors.New(errMessageUnknownMode)

	// ErrInvalidLimits is returned by Limits.Validate.
	ErrInvalidLimits = errors.New(errMessageInvalidLimits)
)

// Mode selects whether the gate is enforced.
type Mode string

const (
	// ModeStrict enforces the sliding windows and the cooldown.
	ModeStrict Mode = modeStrictName

	// ModeRisk bypasses enforcement.
	ModeRisk Mode = modeRiskName
)

// ParseMode converts a mode name into a Mode.
func ParseMode(name string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(name))) {
	case ModeStrict:
		return ModeStrict, nil
	case ModeRisk:
		return ModeRisk, nil
	default:
		return "", ErrUnknownMode
	}
}

// Limits configures both sliding windows.
type Limits struct {
	ShortWindow time.Duration
	ShortLimit  int
	LongWindow  time.Duration
	LongLimit   int
}

// DefaultLimits returns 10 unfollows per 90 minutes and 60 per 24 hours.
func DefaultLimits() Limits {
	return Limits{
		ShortWindow: DefaultShortWindow,
		ShortLimit:  DefaultShortLimit,
		LongWindow:  DefaultLongWindow,
		LongLimit:   DefaultLongLimit,
	}
}

// Validate reports whether the limits are usable.
func (limits Limits) Validate() error {
	if limits.ShortWindow <= 0 || limits.LongWindow <= 0 || limits.ShortLimit <= 0 || limits.LongLimit <= 0 {
		return ErrInvalidLimits
	}
	if limits.LongWindow < limits.ShortWindow {
		return ErrInvalidLimits
	}
	return nil
}

// Status is the admission decision for one instant.
type Status struct {
	Mode           Mode          `json:"mode"`
	UsedShort      int           `json:"used90"`
	UsedLong       int           `json:"used24"`
	RemainingShort int           `json:"remaining90"`
	RemainingLong  int           `json:"remaining24"`
	CanProceed     bool          `json:"canProceed"`
	Locked         bool          `json:"locked"`
	Wait           time.Duration `json:"-"`
	WaitMillis     int64         `json:"waitMs"`
	CooldownUntil  int64         `json:"cooldownUntil"`
}

// Gate tracks committed unfollows and the cooldown lock. It is not safe for concurrent use.
type Gate struct {
	limits        Limits
	events        []int64
	cooldownUntil int64
}

// NewGate builds a gate from persisted state. Events are wall-clock milliseconds.
func NewGate(limits Limits, events []int64, cooldownUntil int64) *Gate {
	copiedEvents := make([]int64, len(events))
	copy(copiedEvents, events)
	if cooldownUntil < 0 {
		cooldownUntil = 0
	}
	return &Gate{limits: limits, events: copiedEvents, cooldownUntil: cooldownUntil}
}

// Limits returns the configured windows.
func (gate *Gate) Limits() Limits {
	return gate.limits
}

// Evaluate reports whether a new unfollow may be committed at now under mode.
// Events older than the long window are pruned.
func (gate *Gate) Evaluate(now time.Time, mode Mode) Status {
	nowMillis := now.UnixMilli()
	gate.prune(nowMillis)

	recentShort := gate.eventsWithin(nowMillis, gate.limits.ShortWindow)
	recentLong := gate.eventsWithin(nowMillis, gate.limits.LongWindow)

	status := Status{
		Mode:           mode,
		UsedShort:      len(recentShort),
		UsedLong:       len(recentLong),
		RemainingShort: remaining(gate.limits.ShortLimit, len(recentShort)),
		RemainingLong:  remaining(gate.limits.LongLimit, len(recentLong)),
	}

	if mode == ModeRisk {
		status.CanProceed = true
		return status
	}

	if gate.cooldownActive(nowMillis) {
		status.Locked = true
		status.CooldownUntil = gate.cooldownUntil
		status.Wait = time.Duration(gate.cooldownUntil-nowMillis) * time.Millisecond
		status.WaitMillis = status.Wait.Milliseconds()
		return status
	}

	switch {
	case len(recentShort) >= gate.limits.ShortLimit:
		status.Wait = timeUntilExit(nowMillis, oldest(recentShort), gate.limits.ShortWindow)
	case len(recentLong) >= gate.limits.LongLimit:
		status.Wait = timeUntilExit(nowMillis, oldest(recentLong), gate.limits.LongWindow)
	default:
		status.CanProceed = true
	}
	status.WaitMillis = status.Wait.Milliseconds()
	return status
}

// Commit records an unfollow at now. It does not check admission; callers evaluate first.
// In strict mode, reaching the short limit exactly starts a cooldown of one short window.
func (gate *Gate) Commit(now time.Time, mode Mode) {
	nowMillis := now.UnixMilli()
	gate.events = append(gate.events, nowMillis)
	gate.prune(nowMillis)

	if mode != ModeStrict {
		return
	}
	if len(gate.eventsWithin(nowMillis, gate.limits.ShortWindow)) == gate.limits.ShortLimit {
		gate.cooldownUntil = now.Add(gate.limits.ShortWindow).UnixMilli()
	}
}

// ClearCooldown removes any cooldown lock.
func (gate *Gate) ClearCooldown() {
	gate.cooldownUntil = 0
}

// CooldownUntil returns the cooldown deadline in milliseconds, 0 when unset.
func (gate *Gate) CooldownUntil() int64 {
	return gate.cooldownUntil
}

// Events returns a copy of the event log.
func (gate *Gate) Events() []int64 {
	copiedEvents := make([]int64, len(gate.events))
	copy(copiedEvents, gate.events)
	return copiedEvents
}

// Clone returns an independent copy of the gate.
func (gate *Gate) Clone() *Gate {
	return NewGate(gate.limits, gate.events, gate.cooldownUntil)
}

func (gate *Gate) cooldownActive(nowMillis int64) bool {
	return gate.cooldownUntil != 0 && nowMillis < gate.cooldownUntil
}

func (gate *Gate) prune(nowMillis int64) {
	windowMillis := gate.limits.LongWindow.Milliseconds()
	kept := gate.events[:0]
	for _, eventMillis := range gate.events {
		if nowMillis-eventMillis <= windowMillis {
			kept = append(kept, eventMillis)
		}
	}
	gate.events = kept
}

func (gate *Gate) eventsWithin(nowMillis int64, window time.Duration) []int64 {
	windowMillis := window.Milliseconds()
	within := make([]int64, 0, len(gate.events))
	for _, eventMillis := range gate.events {
		if nowMillis-eventMillis <= windowMillis {
			within = append(within, eventMillis)
		}
	}
	return within
}

func oldest(events []int64) int64 {
	oldestMillis := events[0]
	for _, eventMillis := range events[1:] {
		if eventMillis < oldestMillis {
			oldestMillis = eventMillis
		}
	}
	return oldestMillis
}

// timeUntilExit is the delay after which the event no longer satisfies now-ts <= window.
func timeUntilExit(nowMillis int64, eventMillis int64, window time.Duration) time.Duration {
	exitMillis := eventMillis + window.Milliseconds() + windowExitPrecision.Milliseconds()
	if exitMillis <= nowMillis {
		return 0
	}
	return time.Duration(exitMillis-nowMillis) * time.Millisecond
}

func remaining(limit int, used int) int {
	if used >= limit {
		return 0
	}
	return limit - used
}
