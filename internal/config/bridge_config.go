package config

import "time"

type BridgeConfig interface {
	GetBridgeSecret() string
	GetBridgeTokenTTL() time.Duration
}

type Bridge struct{}

var _ BridgeConfig = Bridge{}

// GetBridgeSecret is the HMAC key for bridge session tokens. An empty value makes the
// server generate a random key at start, invalidating tokens across restarts.
func (Bridge) GetBridgeSecret() string {
	return GetEnv("BRIDGE_SECRET", "")
}

func (Bridge) GetBridgeTokenTTL() time.Duration {
	return GetEnvDuration("BRIDGE_TOKEN_TTL", 24*time.Hour)
}
