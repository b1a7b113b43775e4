package ratelimit_test

import (
	"errors"
	"testing"
	"time"

	"github.com/f-sync/followback/internal/ratelimit"
)

var gateTestEpoch = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

func TestGateStrictCooldownAfterShortLimit(t *testing.T) {
	gate := ratelimit.NewGate(ratelimit.DefaultLimits(), nil, 0)

	var lastCommit time.Time
	for commitIndex := 0; commitIndex < ratelimit.DefaultShortLimit; commitIndex++ {
		commitTime := gateTestEpoch.Add(time.Duration(commitIndex) * time.Minute)
		status := gate.Evaluate(commitTime, ratelimit.ModeStrict)
		if !status.CanProceed {
			t.Fatalf("commit %d unexpectedly blocked: %+v", commitIndex, status)
		}
		gate.Commit(commitTime, ratelimit.ModeStrict)
		lastCommit = commitTime
	}

	expectedCooldown := lastCommit.Add(ratelimit.DefaultShortWindow).UnixMilli()
	if gate.CooldownUntil() != expectedCooldown {
		t.Fatalf("cooldown = %d, want %d", gate.CooldownUntil(), expectedCooldown)
	}

	status := gate.Evaluate(lastCommit.Add(time.Minute), ratelimit.ModeStrict)
	if status.CanProceed || !status.Locked {
		t.Fatalf("expected locked gate, got %+v", status)
	}
	if status.UsedShort != ratelimit.DefaultShortLimit {
		t.Fatalf("used90 = %d, want %d", status.UsedShort, ratelimit.DefaultShortLimit)
	}
	if status.RemainingShort != 0 {
		t.Fatalf("remaining90 = %d, want 0", status.RemainingShort)
	}
	if status.Wait != 89*time.Minute {
		t.Fatalf("wait = %s, want 89m", status.Wait)
	}

	// The first events have left the short window, but the cooldown still holds.
	stillLocked := gate.Evaluate(lastCommit.Add(85*time.Minute), ratelimit.ModeStrict)
	if stillLocked.UsedShort >= ratelimit.DefaultShortLimit {
		t.Fatalf("expected raw occupancy below the limit, got %d", stillLocked.UsedShort)
	}
	if stillLocked.CanProceed || !stillLocked.Locked {
		t.Fatalf("cooldown should override raw occupancy, got %+v", stillLocked)
	}

	released := gate.Evaluate(lastCommit.Add(ratelimit.DefaultShortWindow), ratelimit.ModeStrict)
	if !released.CanProceed || released.Locked {
		t.Fatalf("expected gate to reopen once the cooldown expires, got %+v", released)
	}
}

func TestGateRiskModeAlwaysProceeds(t *testing.T) {
	events := make([]int64, 0, 100)
	for eventIndex := 0; eventIndex < 100; eventIndex++ {
		events = append(events, gateTestEpoch.Add(time.Duration(eventIndex)*time.Second).UnixMilli())
	}
	gate := ratelimit.NewGate(ratelimit.DefaultLimits(), events, gateTestEpoch.Add(time.Hour).UnixMilli())

	status := gate.Evaluate(gateTestEpoch.Add(2*time.Minute), ratelimit.ModeRisk)
	if !status.CanProceed || status.Wait != 0 || status.Locked {
		t.Fatalf("risk mode must always proceed, got %+v", status)
	}

	gate.Commit(gateTestEpoch.Add(3*time.Minute), ratelimit.ModeRisk)
	if gate.CooldownUntil() != gateTestEpoch.Add(time.Hour).UnixMilli() {
		t.Fatalf("risk commits must not touch the cooldown")
	}
}

func TestGateRiskCommitsDoNotStartCooldown(t *testing.T) {
	gate := ratelimit.NewGate(ratelimit.DefaultLimits(), nil, 0)
	for commitIndex := 0; commitIndex < ratelimit.DefaultShortLimit; commitIndex++ {
		gate.Commit(gateTestEpoch.Add(time.Duration(commitIndex)*time.Second), ratelimit.ModeRisk)
	}
	if gate.CooldownUntil() != 0 {
		t.Fatalf("expected no cooldown, got %d", gate.CooldownUntil())
	}
	status := gate.Evaluate(gateTestEpoch.Add(time.Minute), ratelimit.ModeStrict)
	if status.CanProceed || status.Locked {
		t.Fatalf("expected window block without lock, got %+v", status)
	}
	expectedWait := ratelimit.DefaultShortWindow - time.Minute + time.Millisecond
	if status.Wait != expectedWait {
		t.Fatalf("wait = %s, want %s", status.Wait, expectedWait)
	}
}

func TestGateWindowBoundaryIsInclusive(t *testing.T) {
	limits := ratelimit.Limits{ShortWindow: time.Minute, ShortLimit: 1, LongWindow: time.Hour, LongLimit: 5}
	gate := ratelimit.NewGate(limits, []int64{gateTestEpoch.UnixMilli()}, 0)

	atEdge := gate.Evaluate(gateTestEpoch.Add(time.Minute), ratelimit.ModeStrict)
	if atEdge.UsedShort != 1 || atEdge.CanProceed {
		t.Fatalf("event exactly at the window edge must still count, got %+v", atEdge)
	}
	if atEdge.Wait != time.Millisecond {
		t.Fatalf("wait at edge = %s, want 1ms", atEdge.Wait)
	}

	pastEdge := gate.Evaluate(gateTestEpoch.Add(time.Minute+time.Millisecond), ratelimit.ModeStrict)
	if pastEdge.UsedShort != 0 || !pastEdge.CanProceed {
		t.Fatalf("event past the window edge must be released, got %+v", pastEdge)
	}
}

func TestGateLongWindowBlock(t *testing.T) {
	limits := ratelimit.Limits{ShortWindow: time.Minute, ShortLimit: 10, LongWindow: time.Hour, LongLimit: 3}
	events := []int64{
		gateTestEpoch.UnixMilli(),
		gateTestEpoch.Add(10 * time.Minute).UnixMilli(),
		gateTestEpoch.Add(20 * time.Minute).UnixMilli(),
	}
	gate := ratelimit.NewGate(limits, events, 0)

	status := gate.Evaluate(gateTestEpoch.Add(30*time.Minute), ratelimit.ModeStrict)
	if status.CanProceed {
		t.Fatalf("expected long window block, got %+v", status)
	}
	if status.UsedShort != 0 || status.UsedLong != 3 {
		t.Fatalf("unexpected usage %+v", status)
	}
	expectedWait := 30*time.Minute + time.Millisecond
	if status.Wait != expectedWait || status.WaitMillis != expectedWait.Milliseconds() {
		t.Fatalf("wait = %s, want %s", status.Wait, expectedWait)
	}
}

func TestGatePrunesOldEvents(t *testing.T) {
	events := []int64{
		gateTestEpoch.Add(-25 * time.Hour).UnixMilli(),
		gateTestEpoch.Add(-time.Hour).UnixMilli(),
	}
	gate := ratelimit.NewGate(ratelimit.DefaultLimits(), events, 0)

	status := gate.Evaluate(gateTestEpoch, ratelimit.ModeStrict)
	if status.UsedLong != 1 {
		t.Fatalf("used24 = %d, want 1", status.UsedLong)
	}
	if len(gate.Events()) != 1 {
		t.Fatalf("expected stale event to be pruned, got %v", gate.Events())
	}
}

func TestGateCloneIsIndependent(t *testing.T) {
	gate := ratelimit.NewGate(ratelimit.DefaultLimits(), nil, 0)
	cloned := gate.Clone()
	cloned.Commit(gateTestEpoch, ratelimit.ModeStrict)
	if len(gate.Events()) != 0 {
		t.Fatalf("commit on clone leaked into original")
	}
}

func TestGateClockMovingBackwardDoesNotPanic(t *testing.T) {
	gate := ratelimit.NewGate(ratelimit.DefaultLimits(), []int64{gateTestEpoch.UnixMilli()}, 0)
	status := gate.Evaluate(gateTestEpoch.Add(-time.Hour), ratelimit.ModeStrict)
	if status.UsedShort != 1 {
		t.Fatalf("future event should remain counted, got %+v", status)
	}
}

func TestParseMode(t *testing.T) {
	testCases := []struct {
		name        string
		value       string
		expected    ratelimit.Mode
		expectedErr error
	}{
		{name: "strict", value: "strict", expected: ratelimit.ModeStrict},
		{name: "risk mixed case", value: " Risk ", expected: ratelimit.ModeRisk},
		{name: "unknown", value: "yolo", expectedErr: ratelimit.ErrUnknownMode},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			mode, err := ratelimit.ParseMode(testCase.value)
			if !errors.Is(err, testCase.expectedErr) {
				t.Fatalf("err = %v, want %v", err, testCase.expectedErr)
			}
			if mode != testCase.expected {
				t.Fatalf("mode = %q, want %q", mode, testCase.expected)
			}
		})
	}
}

func TestLimitsValidate(t *testing.T) {
	if err := ratelimit.DefaultLimits().Validate(); err != nil {
		t.Fatalf("default limits invalid: %v", err)
	}
	inverted := ratelimit.Limits{ShortWindow: time.Hour, ShortLimit: 1, LongWindow: time.Minute, LongLimit: 1}
	if !errors.Is(inverted.Validate(), ratelimit.ErrInvalidLimits) {
		t.Fatalf("expected inverted windows to be rejected")
	}
}
