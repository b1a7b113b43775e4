package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/f-sync/followback/internal/config"
	"github.com/f-sync/followback/internal/session"
	"github.com/f-sync/followback/internal/workflow"
)

const (
	testFollowingDocument = `{"relationships_following":[` +
		`{"title":"alice","string_list_data":[{"href":"https://www.instagram.com/alice/","timestamp":1700000000}]},` +
		`{"title":"bob","string_list_data":[{"href":"https://www.instagram.com/bob/","timestamp":1700000100}]},` +
		`{"title":"carol","string_list_data":[{"href":"https://www.instagram.com/carol/","timestamp":1700000200}]}]}`
	testFollowersDocument = `[{"string_list_data":[{"value":"bob"}]}]`
)

var cliTestNow = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

type cliFixture struct {
	followersPath string
	followingPath string
	statePath     string
}

func newCLIFixture(t *testing.T) cliFixture {
	t.Helper()
	directory := t.TempDir()
	fixture := cliFixture{
		followersPath: filepath.Join(directory, "followers_1.json"),
		followingPath: filepath.Join(directory, "following.json"),
		statePath:     filepath.Join(directory, "state.json"),
	}
	require.NoError(t, os.WriteFile(fixture.followersPath, []byte(testFollowersDocument), 0o644))
	require.NoError(t, os.WriteFile(fixture.followingPath, []byte(testFollowingDocument), 0o644))
	return fixture
}

func (fixture cliFixture) run(t *testing.T, arguments ...string) (string, error) {
	t.Helper()
	var stdout bytes.Buffer
	application := newCLIApplication(viper.New(), &stdout)
	application.now = func() time.Time { return cliTestNow }
	root := application.rootCommand()
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{
		"--" + config.KeyFollowers, fixture.followersPath,
		"--" + config.KeyFollowing, fixture.followingPath,
		"--" + config.KeyState, fixture.statePath,
	}, arguments...))
	err := root.Execute()
	return stdout.String(), err
}

func TestReviewWorkflowThroughCommands(t *testing.T) {
	fixture := newCLIFixture(t)

	output, err := fixture.run(t, "list")
	require.NoError(t, err)
	require.Contains(t, output, "alice")
	require.Contains(t, output, "carol")
	require.NotContains(t, output, "bob")
	require.Contains(t, output, session.ProfileURL("alice"))

	output, err = fixture.run(t, "mark", "alice", "done")
	require.NoError(t, err)
	require.Contains(t, output, "alice moved from Pending to Done")

	output, err = fixture.run(t, "mark", "alice", "done")
	require.NoError(t, err)
	require.Contains(t, output, "alice is already Done")

	output, err = fixture.run(t, "status")
	require.NoError(t, err)
	require.Contains(t, output, "1 / 10")

	output, err = fixture.run(t, "pin", "carol")
	require.NoError(t, err)
	require.Contains(t, output, "carol pinned")

	output, err = fixture.run(t, "list", "--category", session.FilterPinned)
	require.NoError(t, err)
	require.Contains(t, output, "carol")
	require.NotContains(t, output, "alice")

	output, err = fixture.run(t, "visit", "carol")
	require.NoError(t, err)
	require.Contains(t, output, "carol marked as visited")

	output, err = fixture.run(t, "verify", "bob")
	require.NoError(t, err)
	require.Contains(t, output, "bob")

	_, err = fixture.run(t, "mark", "carol", "someday")
	require.ErrorIs(t, err, workflow.ErrUnknownCategory)

	_, err = fixture.run(t, "pin", "bob")
	require.ErrorIs(t, err, session.ErrUnknownAccount)
}

func TestMarkDoneIsBlockedByTheRateGate(t *testing.T) {
	fixture := newCLIFixture(t)

	_, err := fixture.run(t, "--"+config.KeyShortLimit, "1", "mark", "alice", "done")
	require.NoError(t, err)

	output, err := fixture.run(t, "--"+config.KeyShortLimit, "1", "mark", "carol", "done")
	require.True(t, errors.Is(err, errTransitionBlocked), "error = %v", err)
	require.Contains(t, output, "Can unfollow")

	output, err = fixture.run(t, "mode", "risk")
	require.NoError(t, err)
	require.Contains(t, output, "safety mode set to risk")

	_, err = fixture.run(t, "--"+config.KeyShortLimit, "1", "mark", "carol", "done")
	require.NoError(t, err)

	output, err = fixture.run(t, "mode")
	require.NoError(t, err)
	require.Contains(t, output, "safety mode: risk")
}

func TestResetRequiresConfirmation(t *testing.T) {
	fixture := newCLIFixture(t)

	_, err := fixture.run(t, "mark", "alice", "tbd")
	require.NoError(t, err)

	_, err = fixture.run(t, "reset")
	require.ErrorIs(t, err, errResetNotConfirmed)

	output, err := fixture.run(t, "reset", "--yes")
	require.NoError(t, err)
	require.Contains(t, output, "workflow state cleared")

	output, err = fixture.run(t, "list", "--category", string(workflow.CategoryToDecide))
	require.NoError(t, err)
	require.Contains(t, output, "no accounts match")
}

func TestDiagnosticsAndConfigSample(t *testing.T) {
	fixture := newCLIFixture(t)

	output, err := fixture.run(t, "diagnostics")
	require.NoError(t, err)
	require.Contains(t, output, "following")
	require.Contains(t, output, "flagged: 2")

	output, err = fixture.run(t, "config", "sample")
	require.NoError(t, err)
	require.Contains(t, output, config.DefaultFollowers)
	require.Contains(t, output, "short-limit")
}

func TestInvalidSortIsRejected(t *testing.T) {
	fixture := newCLIFixture(t)
	_, err := fixture.run(t, "list", "--sort", "sideways")
	require.ErrorIs(t, err, session.ErrUnknownSort)
}
