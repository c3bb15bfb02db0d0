package mongodb

import (
	"context"
	"fmt"
	"time"

	"mailsync_server/core/port/out"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// =============================================================================
// MongoDB Sync Event Adapter
// =============================================================================

const (
	collectionSyncEvents = "sync_events"

	// Events are audit history, not state. Expire after 30 days.
	syncEventTTL = 30 * 24 * time.Hour
)

// SyncEventAdapter implements out.SyncEventStore using MongoDB.
// Postgres keeps the current job row; this collection keeps the
// append-only run history.
type SyncEventAdapter struct {
	collection *mongo.Collection
}

var _ out.SyncEventStore = (*SyncEventAdapter)(nil)

// Connect opens the client used for event history. The pool is kept
// small: writes are single-document appends off the sync hot path, and
// the service stays up without Mongo at all.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := options.Client().
		ApplyURI(uri).
		SetAppName("mailsync").
		SetMaxPoolSize(20).
		SetMinPoolSize(2).
		SetMaxConnIdleTime(time.Minute)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return client, nil
}

// NewSyncEventAdapter creates a new MongoDB sync event adapter.
func NewSyncEventAdapter(db *mongo.Database) *SyncEventAdapter {
	return &SyncEventAdapter{
		collection: db.Collection(collectionSyncEvents),
	}
}

// EnsureIndexes creates necessary indexes for the collection.
func (a *SyncEventAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "job_id", Value: 1}, {Key: "created_at", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys:    bson.D{{Key: "created_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(syncEventTTL.Seconds())), // TTL index
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// Append stores a single sync event.
func (a *SyncEventAdapter) Append(ctx context.Context, event *out.SyncEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	_, err := a.collection.InsertOne(ctx, event)
	if err != nil {
		return fmt.Errorf("failed to append sync event: %w", err)
	}

	return nil
}

// ListByJob returns all events for a job in chronological order.
func (a *SyncEventAdapter) ListByJob(ctx context.Context, jobID int64) ([]*out.SyncEvent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})

	cursor, err := a.collection.Find(ctx, bson.M{"job_id": jobID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync events: %w", err)
	}
	defer cursor.Close(ctx)

	var events []*out.SyncEvent
	if err := cursor.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("failed to decode sync events: %w", err)
	}

	return events, nil
}

// ListByUser returns the most recent events for a user, newest first.
func (a *SyncEventAdapter) ListByUser(ctx context.Context, userID string, limit int) ([]*out.SyncEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := a.collection.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync events: %w", err)
	}
	defer cursor.Close(ctx)

	var events []*out.SyncEvent
	if err := cursor.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("failed to decode sync events: %w", err)
	}

	return events, nil
}
