package config

import "time"

type Config interface {
	EnvConfig
	StoreConfig
	SessionConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetAuthConfigFile() string
	GetLogLevel() string
}

type StoreConfig interface {
	GetStore() StoreKind
	GetMongoURI() string
	GetMongoDatabase() string
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
}

type SessionConfig interface {
	GetActivityWriteDelay() time.Duration
	GetReaperInterval() time.Duration
}

type mainConfig struct {
	EnvVars
	Store
	Sessions
}

func New() Config {
	return mainConfig{}
}
