package main

import (
	"context"
	"fmt"

	"github.com/jrsteele09/go-session-authn/internal/config"
	"github.com/jrsteele09/go-session-authn/sessions"
	"github.com/jrsteele09/go-session-authn/sessions/mongorepo"
	"github.com/jrsteele09/go-session-authn/sessions/redisrepo"
	"github.com/rs/zerolog/log"
)

type closeFunc func(context.Context) error

// openSessionRepo connects the configured session store.
func openSessionRepo(ctx context.Context, c config.StoreConfig) (sessions.Repo, closeFunc, error) {
	switch c.GetStore() {
	case config.StoreMemory:
		log.Warn().Msg("Using the in-memory session store, sessions are lost on restart")
		return sessions.NewInMemoryRepo(), func(context.Context) error { return nil }, nil

	case config.StoreMongo:
		client, err := mongorepo.Connect(ctx, c.GetMongoURI())
		if err != nil {
			return nil, nil, err
		}
		repo := mongorepo.New(client.Database(c.GetMongoDatabase()), mongorepo.DefaultCollection)
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(ctx)
			return nil, nil, err
		}
		log.Info().Str("database", c.GetMongoDatabase()).Msg("Using the MongoDB session store")
		return repo, client.Disconnect, nil

	case config.StoreRedis:
		client, err := redisrepo.Connect(ctx, c.GetRedisAddr(), c.GetRedisPassword(), c.GetRedisDB())
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("addr", c.GetRedisAddr()).Msg("Using the Redis session store")
		return redisrepo.New(client, ""), func(context.Context) error { return client.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown session store %q", c.GetStore())
	}
}
