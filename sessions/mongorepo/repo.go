// Package mongorepo stores login sessions in a MongoDB collection.
package mongorepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jrsteele09/go-session-authn/sessions"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const DefaultCollection = "login_sessions"

var _ sessions.Repo = (*Repo)(nil)

type Repo struct {
	collection *mongo.Collection
}

// Connect dials MongoDB and pings the primary.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("[mongorepo.Connect] %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("[mongorepo.Connect] ping: %w", err)
	}
	return client, nil
}

// New wraps the collection. Call EnsureIndexes once at startup.
func New(db *mongo.Database, collection string) *Repo {
	if collection == "" {
		collection = DefaultCollection
	}
	return &Repo{collection: db.Collection(collection)}
}

// EnsureIndexes creates the entity and expiry indexes. The TTL index lets MongoDB
// evict dead sessions on its own schedule; DeleteExpired covers the gap.
func (r *Repo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "entity_id", Value: 1}}},
		{Keys: bson.D{{Key: "expires", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
	})
	if err != nil {
		return fmt.Errorf("[mongorepo.EnsureIndexes] %w", err)
	}
	return nil
}

func (r *Repo) Insert(ctx context.Context, session *sessions.LoginSession) error {
	_, err := r.collection.InsertOne(ctx, toDocument(session))
	if mongo.IsDuplicateKeyError(err) {
		return sessions.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("[mongorepo.Insert] %w", err)
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, sessionID string) (*sessions.LoginSession, error) {
	var doc sessionDocument
	err := r.collection.FindOne(ctx, bson.M{"_id": sessionID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, sessions.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("[mongorepo.Get] %w", err)
	}
	return doc.toSession(), nil
}

func (r *Repo) Update(ctx context.Context, session *sessions.LoginSession) error {
	doc := toDocument(session)
	doc.Version++

	res, err := r.collection.ReplaceOne(ctx, bson.M{"_id": session.ID, "version": session.Version}, doc)
	if err != nil {
		return fmt.Errorf("[mongorepo.Update] %w", err)
	}
	if res.MatchedCount == 0 {
		// Either the session is gone or another writer bumped the version
		if _, err := r.Get(ctx, session.ID); err != nil {
			return err
		}
		return sessions.ErrConflict
	}
	session.Version = doc.Version
	return nil
}

func (r *Repo) Delete(ctx context.Context, sessionID string) error {
	if _, err := r.collection.DeleteOne(ctx, bson.M{"_id": sessionID}); err != nil {
		return fmt.Errorf("[mongorepo.Delete] %w", err)
	}
	return nil
}

func (r *Repo) ListByEntity(ctx context.Context, entityID int64) ([]*sessions.LoginSession, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"entity_id": entityID})
	if err != nil {
		return nil, fmt.Errorf("[mongorepo.ListByEntity] %w", err)
	}
	defer cursor.Close(ctx)

	var docs []sessionDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("[mongorepo.ListByEntity] %w", err)
	}
	owned := make([]*sessions.LoginSession, 0, len(docs))
	for i := range docs {
		owned = append(owned, docs[i].toSession())
	}
	return owned, nil
}

func (r *Repo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := r.collection.DeleteMany(ctx, bson.M{"expires": bson.M{"$lte": now}})
	if err != nil {
		return 0, fmt.Errorf("[mongorepo.DeleteExpired] %w", err)
	}
	return int(res.DeletedCount), nil
}
