package config

type StoreConfig interface {
	GetRedisURL() string
	GetStateKey() string
	GetStateNamespace() string
}

type Store struct{}

var _ StoreConfig = Store{}

// GetRedisURL returns the Redis URL for the login state store; empty keeps state in memory
func (Store) GetRedisURL() string {
	return GetEnv("REDIS_URL", "")
}

// GetStateKey is the 32 byte key (hex or raw) sealing the shared secret at rest
func (Store) GetStateKey() string {
	return GetEnv("STATE_KEY", "")
}

func (Store) GetStateNamespace() string {
	return GetEnv("STATE_NAMESPACE", "openpims")
}
