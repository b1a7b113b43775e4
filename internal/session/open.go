package session

import (
	"context"

	"github.com/f-sync/followback/internal/exports"
	"github.com/f-sync/followback/internal/state"
)

// OpenWithState opens the state backend named by stateDSN and then the session. The backend is
// released when opening the session fails.
func OpenWithState(ctx context.Context, sources exports.Sources, stateDSN string, options Options) (*Session, error) {
	backend, err := state.OpenBackend(stateDSN)
	if err != nil {
		return nil, err
	}
	options.Repository = state.NewRepository(backend, options.Logger)
	session, err := Open(ctx, sources, options)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return session, nil
}
