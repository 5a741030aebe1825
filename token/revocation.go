package token

import (
	"sync"
	"time"
)

// RevokedSessions remembers bridge sessions ended before their token expired.
type RevokedSessions interface {
	Add(sessionID string, exp time.Time)
	IsRevoked(sessionID string) bool
	Cleanup(now time.Time) // Remove entries whose token has expired anyway
}

// InMemoryRevokedSessions is a map guarded by a RWMutex
type InMemoryRevokedSessions struct {
	revoked map[string]time.Time
	mu      sync.RWMutex
}

func NewInMemoryRevokedSessions() *InMemoryRevokedSessions {
	return &InMemoryRevokedSessions{
		revoked: make(map[string]time.Time),
	}
}

func (c *InMemoryRevokedSessions) Add(sessionID string, exp time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revoked[sessionID] = exp
}

func (c *InMemoryRevokedSessions) IsRevoked(sessionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, exists := c.revoked[sessionID]
	return exists
}

func (c *InMemoryRevokedSessions) Cleanup(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, exp := range c.revoked {
		if now.After(exp) {
			delete(c.revoked, id)
		}
	}
}
