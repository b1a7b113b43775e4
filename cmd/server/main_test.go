package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/f-sync/followback/internal/config"
	"github.com/f-sync/followback/internal/ratelimit"
)

const (
	testFollowingDocument = `{"relationships_following":[{"title":"alice","string_list_data":[{"href":"https://www.instagram.com/alice/","timestamp":1700000000}]}]}`
	testFollowersDocument = `[]`
	serverStartupTimeout  = 5 * time.Second
)

func writeExports(t *testing.T) (string, string) {
	t.Helper()
	directory := t.TempDir()
	followersPath := filepath.Join(directory, "followers_1.json")
	followingPath := filepath.Join(directory, "following.json")
	require.NoError(t, os.WriteFile(followersPath, []byte(testFollowersDocument), 0o644))
	require.NoError(t, os.WriteFile(followingPath, []byte(testFollowingDocument), 0o644))
	return followersPath, followingPath
}

func freePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	require.NoError(t, listener.Close())
	return port
}

func TestServeAnswersUntilCancelled(t *testing.T) {
	followersPath, followingPath := writeExports(t)
	resolved := config.Config{
		Followers:      followersPath,
		Following:      followingPath,
		State:          "memory://",
		Limits:         ratelimit.DefaultLimits(),
		Host:           config.DefaultHost,
		Port:           freePort(t),
		Watch:          true,
		WatchDebounce:  config.DefaultWatchDebounce,
		StatusInterval: config.DefaultStatusInterval,
	}
	require.NoError(t, resolved.Validate())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, resolved, zap.NewNop()) }()

	healthURL := fmt.Sprintf("http://%s/healthz", resolved.Address())
	require.Eventually(t, func() bool {
		response, err := http.Get(healthURL)
		if err != nil {
			return false
		}
		defer response.Body.Close()
		return response.StatusCode == http.StatusOK
	}, serverStartupTimeout, 20*time.Millisecond)

	response, err := http.Get(fmt.Sprintf("http://%s/api/accounts", resolved.Address()))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, response.StatusCode)
	require.NoError(t, response.Body.Close())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(serverStartupTimeout):
		t.Fatalf("server did not stop")
	}
}

func TestRunServerCommandRejectsInvalidConfiguration(t *testing.T) {
	configuration := viper.New()
	command := newServerCommand(configuration)
	require.NoError(t, command.Flags().Set(config.KeyShortLimit, "0"))

	err := runServerCommand(context.Background(), configuration)
	require.ErrorIs(t, err, config.ErrInvalidConfiguration)
}

func TestServeFailsForMissingExports(t *testing.T) {
	directory := t.TempDir()
	resolved := config.Config{
		Followers:      filepath.Join(directory, "absent.json"),
		Following:      filepath.Join(directory, "absent.json"),
		State:          "memory://",
		Limits:         ratelimit.DefaultLimits(),
		Host:           config.DefaultHost,
		Port:           config.DefaultPort,
		WatchDebounce:  config.DefaultWatchDebounce,
		StatusInterval: config.DefaultStatusInterval,
	}
	err := serve(context.Background(), resolved, zap.NewNop())
	require.ErrorContains(t, err, errMessageOpenSession)
}
