package config

import (
	"strings"
	"time"
)

// DefaultBaseUserAgent is the browser User-Agent the OpenPIMS suffix is appended to.
const DefaultBaseUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15"

type TaggingConfig interface {
	GetRuleIDSpace() int
	GetRuleStoreCapacity() int
	GetTagChannels() []string
	GetBaseUserAgent() string
	GetLoginTimeout() time.Duration
}

type Tagging struct{}

var _ TaggingConfig = Tagging{}

// GetRuleIDSpace is the number of ids a single channel may use in the rule store
func (Tagging) GetRuleIDSpace() int {
	return GetEnvInt("RULE_ID_SPACE", 10000)
}

// GetRuleStoreCapacity is the maximum number of dynamic rules the store accepts
func (Tagging) GetRuleStoreCapacity() int {
	return GetEnvInt("RULE_STORE_CAPACITY", 5000)
}

// GetTagChannels returns the delivery channels, e.g. "user-agent,cookie"
func (Tagging) GetTagChannels() []string {
	var channels []string
	for _, c := range strings.Split(GetEnv("TAG_CHANNELS", "user-agent"), ",") {
		if c = strings.TrimSpace(c); c != "" {
			channels = append(channels, strings.ToLower(c))
		}
	}
	return channels
}

func (Tagging) GetBaseUserAgent() string {
	return GetEnv("BASE_USER_AGENT", DefaultBaseUserAgent)
}

func (Tagging) GetLoginTimeout() time.Duration {
	return GetEnvDuration("LOGIN_TIMEOUT", 15*time.Second)
}
