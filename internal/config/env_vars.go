package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	portEnvVar     = "PORT"
	appNameVar     = "APP_NAME"
	logLevelEnvVar = "LOG_LEVEL"
	loginURLEnvVar = "LOGIN_URL"
)

// DefaultLoginURL is the public OpenPIMS login endpoint.
const DefaultLoginURL = "https://me.openpims.de"

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetPort() string {
	port := GetEnv(portEnvVar, "8080")
	if port != "" && port[0] != ':' {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "OpenPIMS")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

// GetLogLevel returns the zerolog level name (debug, info, warn, error)
func (EnvVars) GetLogLevel() string {
	return strings.ToLower(GetEnv(logLevelEnvVar, "info"))
}

// GetLoginURL returns the default login endpoint used when the UI does not supply one
func (EnvVars) GetLoginURL() string {
	return GetEnv(loginURLEnvVar, DefaultLoginURL)
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetEnvInt reads an integer env var or returns the default.
func GetEnvInt(envVar string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(envVar)); err == nil {
		return v
	}
	return defaultValue
}

// GetEnvDuration reads a duration env var (e.g. "30s") or returns the default.
func GetEnvDuration(envVar string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(envVar)); err == nil {
		return d
	}
	return defaultValue
}
