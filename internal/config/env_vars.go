package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	portEnvVar       = "PORT"
	appNameVar       = "APP_NAME"
	authConfigEnvVar = "AUTH_CONFIG"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetPort() string {
	port := GetEnv(portEnvVar, "8080")
	if port[0] != ':' {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Session Authn")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

// GetAuthConfigFile is the YAML file holding realms, authenticators, flows and the endpoint policy.
func (EnvVars) GetAuthConfigFile() string {
	return GetEnv(authConfigEnvVar, "./authn.yaml")
}

func (EnvVars) GetLogLevel() string {
	return GetEnv("LOG_LEVEL", "info")
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetEnvInt falls back to the default when the variable is unset or not a number.
func GetEnvInt(envVar string, defaultValue int) int {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Warn().Str("var", envVar).Str("value", value).Msg("Ignoring non-numeric environment variable")
		return defaultValue
	}
	return n
}

// GetEnvDuration parses values such as "3s" or "500ms", falling back to the default
// when the variable is unset or malformed.
func GetEnvDuration(envVar string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Warn().Str("var", envVar).Str("value", value).Msg("Ignoring malformed duration environment variable")
		return defaultValue
	}
	return d
}
