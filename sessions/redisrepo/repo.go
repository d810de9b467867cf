// Package redisrepo stores login sessions in Redis as CBOR blobs. Keys expire together
// with their sessions, so Redis itself evicts dead sessions.
package redisrepo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jrsteele09/go-session-authn/internal/codec"
	"github.com/jrsteele09/go-session-authn/sessions"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "authn:"

var _ sessions.Repo = (*Repo)(nil)

// Repo is a Redis implementation of sessions.Repo.
type Repo struct {
	client redis.UniversalClient
	prefix string

	beforeCommit func() // Runs between the version check and EXEC, tests only
}

// New creates a repo over an existing client. An empty prefix selects the default.
func New(client redis.UniversalClient, prefix string) *Repo {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Repo{client: client, prefix: prefix}
}

// Connect dials Redis and verifies the connection.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("[redisrepo.Connect] ping %s: %w", addr, err)
	}
	return client, nil
}

func (r *Repo) sessionKey(sessionID string) string {
	return r.prefix + "session:" + sessionID
}

func (r *Repo) entityKey(entityID int64) string {
	return r.prefix + "entity:" + strconv.FormatInt(entityID, 10)
}

func (r *Repo) Insert(ctx context.Context, session *sessions.LoginSession) error {
	blob, err := codec.Marshal(session)
	if err != nil {
		return fmt.Errorf("[redisrepo.Insert] encode: %w", err)
	}

	key := r.sessionKey(session.ID)
	created, err := r.client.SetNX(ctx, key, blob, 0).Result()
	if err != nil {
		return fmt.Errorf("[redisrepo.Insert] %w", err)
	}
	if !created {
		return sessions.ErrDuplicate
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.PExpireAt(ctx, key, session.Expires)
		pipe.SAdd(ctx, r.entityKey(session.EntityID), session.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("[redisrepo.Insert] index: %w", err)
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, sessionID string) (*sessions.LoginSession, error) {
	return r.get(ctx, r.client, sessionID)
}

func (r *Repo) get(ctx context.Context, cmd redis.Cmdable, sessionID string) (*sessions.LoginSession, error) {
	blob, err := cmd.Get(ctx, r.sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sessions.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("[redisrepo.Get] %w", err)
	}
	return decode(blob)
}

func (r *Repo) Update(ctx context.Context, session *sessions.LoginSession) error {
	key := r.sessionKey(session.ID)

	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := r.get(ctx, tx, session.ID)
		if err != nil {
			return err
		}
		if stored.Version != session.Version {
			return sessions.ErrConflict
		}

		next := session.Clone()
		next.Version++
		blob, err := codec.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode: %w", err)
		}

		if r.beforeCommit != nil {
			r.beforeCommit()
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, blob, 0)
			pipe.PExpireAt(ctx, key, next.Expires)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		session.Version++
		return nil
	case errors.Is(err, redis.TxFailedErr):
		return sessions.ErrConflict
	case errors.Is(err, sessions.ErrConflict), errors.Is(err, sessions.ErrNotFound):
		return err
	default:
		return fmt.Errorf("[redisrepo.Update] %w", err)
	}
}

func (r *Repo) Delete(ctx context.Context, sessionID string) error {
	session, err := r.Get(ctx, sessionID)
	if errors.Is(err, sessions.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.sessionKey(sessionID))
		pipe.SRem(ctx, r.entityKey(session.EntityID), sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("[redisrepo.Delete] %w", err)
	}
	return nil
}

func (r *Repo) ListByEntity(ctx context.Context, entityID int64) ([]*sessions.LoginSession, error) {
	entityKey := r.entityKey(entityID)
	ids, err := r.client.SMembers(ctx, entityKey).Result()
	if err != nil {
		return nil, fmt.Errorf("[redisrepo.ListByEntity] %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.sessionKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("[redisrepo.ListByEntity] %w", err)
	}

	owned := make([]*sessions.LoginSession, 0, len(values))
	var evicted []any
	for i, v := range values {
		blob, ok := v.(string)
		if !ok {
			evicted = append(evicted, ids[i])
			continue
		}
		session, err := decode([]byte(blob))
		if err != nil {
			return nil, fmt.Errorf("[redisrepo.ListByEntity] %w", err)
		}
		owned = append(owned, session)
	}

	// Drop index entries of sessions Redis has already expired
	if len(evicted) > 0 {
		if err := r.client.SRem(ctx, entityKey, evicted...).Err(); err != nil {
			return nil, fmt.Errorf("[redisrepo.ListByEntity] prune index: %w", err)
		}
	}
	return owned, nil
}

// DeleteExpired removes dead sessions Redis has not evicted yet and prunes the
// entity indexes of evicted ones.
func (r *Repo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	iter := r.client.Scan(ctx, 0, r.prefix+"entity:*", 100).Iterator()
	for iter.Next(ctx) {
		entityKey := iter.Val()
		ids, err := r.client.SMembers(ctx, entityKey).Result()
		if err != nil {
			return removed, fmt.Errorf("[redisrepo.DeleteExpired] %w", err)
		}
		for _, id := range ids {
			session, err := r.Get(ctx, id)
			if errors.Is(err, sessions.ErrNotFound) {
				if err := r.client.SRem(ctx, entityKey, id).Err(); err != nil {
					return removed, fmt.Errorf("[redisrepo.DeleteExpired] %w", err)
				}
				continue
			}
			if err != nil {
				return removed, err
			}
			if session.IsExpiredAt(now) {
				if err := r.Delete(ctx, id); err != nil {
					return removed, err
				}
				removed++
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("[redisrepo.DeleteExpired] scan: %w", err)
	}
	return removed, nil
}

func decode(blob []byte) (*sessions.LoginSession, error) {
	var session sessions.LoginSession
	if err := codec.Unmarshal(blob, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if session.SessionData == nil {
		session.SessionData = make(map[string]string)
	}
	return &session, nil
}
