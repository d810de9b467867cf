package config

import "time"

type Sessions struct{}

var _ SessionConfig = Sessions{}

// GetActivityWriteDelay is the minimum gap between two stored activity updates of one session.
func (Sessions) GetActivityWriteDelay() time.Duration {
	return GetEnvDuration("SESSION_ACTIVITY_WRITE_DELAY", 3*time.Second)
}

func (Sessions) GetReaperInterval() time.Duration {
	return GetEnvDuration("SESSION_REAPER_INTERVAL", 30*time.Second)
}

// StoreKind selects the session store backend.
type StoreKind string

const (
	StoreMemory StoreKind = "memory"
	StoreMongo  StoreKind = "mongo"
	StoreRedis  StoreKind = "redis"
)

type Store struct{}

var _ StoreConfig = Store{}

func (Store) GetStore() StoreKind {
	return StoreKind(GetEnv("SESSION_STORE", string(StoreMemory)))
}

func (Store) GetMongoURI() string {
	return GetEnv("MONGO_URI", "mongodb://localhost:27017")
}

func (Store) GetMongoDatabase() string {
	return GetEnv("MONGO_DATABASE", "authn")
}

func (Store) GetRedisAddr() string {
	return GetEnv("REDIS_ADDR", "localhost:6379")
}

func (Store) GetRedisPassword() string {
	return GetEnv("REDIS_PASSWORD", "")
}

func (Store) GetRedisDB() int {
	return GetEnvInt("REDIS_DB", 0)
}
