package credentials

import "context"

// Repo is the privileged key-value store holding the login state. Implementations replace the
// whole state on Save; readers always get a copy.
type Repo interface {
	// Load returns the stored state, or a logged-out state when nothing is stored
	Load(ctx context.Context) (*State, error)

	// Save replaces the stored state
	Save(ctx context.Context, state *State) error

	// Clear removes the stored state (logout)
	Clear(ctx context.Context) error
}
