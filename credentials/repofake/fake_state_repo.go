package staterepofake

import (
	"context"
	"sync"

	"github.com/jrsteele09/go-openpims/credentials"
)

var _ credentials.Repo = (*FakeStateRepo)(nil)

type FakeStateRepo struct {
	state *credentials.State
	lock  sync.RWMutex
}

func NewFakeStateRepo() *FakeStateRepo {
	return &FakeStateRepo{}
}

func (sr *FakeStateRepo) Load(_ context.Context) (*credentials.State, error) {
	sr.lock.RLock()
	defer sr.lock.RUnlock()
	if sr.state == nil {
		return &credentials.State{}, nil
	}
	return sr.state.Clone(), nil
}

func (sr *FakeStateRepo) Save(_ context.Context, state *credentials.State) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()
	sr.state = state.Clone()
	return nil
}

func (sr *FakeStateRepo) Clear(_ context.Context) error {
	sr.lock.Lock()
	defer sr.lock.Unlock()
	sr.state = nil
	return nil
}
