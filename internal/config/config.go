package config

type Config interface {
	EnvConfig
	CorsConfig
	TaggingConfig
	BridgeConfig
	StoreConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
	GetLoginURL() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Cors
	Tagging
	Bridge
	Store
}

func New() Config {
	return mainConfig{}
}
