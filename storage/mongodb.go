package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/johnwmail/pastebin-lite/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore implements PasteStore using MongoDB. Locks are leases kept on
// the paste document itself in lock_owner and lock_expires.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	lease      leaseOptions
}

// NewMongoStore connects to MongoDB and prepares the pastes collection
func NewMongoStore(ctx context.Context, uri, dbName, collectionName string, opts ...LeaseOption) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	// Test the connection
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	store := &MongoStore{
		client:     client,
		collection: client.Database(dbName).Collection(collectionName),
		lease:      newLeaseOptions(opts...),
	}

	if err := store.createIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create mongodb indexes: %w", err)
	}

	return store, nil
}

// createIndexes creates necessary indexes for the collection. There is no
// TTL index: expired pastes stay so that expiry is judged on the read path.
func (m *MongoStore) createIndexes(ctx context.Context) error {
	_, err := m.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: -1}},
	})
	return err
}

// Create inserts a new paste document
func (m *MongoStore) Create(ctx context.Context, paste *models.Paste) error {
	if _, err := m.collection.InsertOne(ctx, paste); err != nil {
		return fmt.Errorf("failed to insert paste: %w", err)
	}
	return nil
}

// WithTx runs fn under the lease protocol
func (m *MongoStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	return withLeaseTx(ctx, m, m.lease, fn)
}

// Ping checks the MongoDB connection
func (m *MongoStore) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

// Close closes the MongoDB connection
func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return m.client.Disconnect(ctx)
}

func (m *MongoStore) claim(ctx context.Context, id, owner string, now, until time.Time) (*models.Paste, error) {
	filter := bson.M{
		"_id": id,
		"$or": bson.A{
			bson.M{"lock_owner": bson.M{"$exists": false}},
			bson.M{"lock_owner": owner},
			bson.M{"lock_expires": bson.M{"$lte": now}},
		},
	}
	update := bson.M{"$set": bson.M{"lock_owner": owner, "lock_expires": until}}

	var paste models.Paste
	err := m.collection.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&paste)
	if err == nil {
		return &paste, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("failed to claim paste lease: %w", err)
	}

	// Either the paste does not exist or someone else holds it
	count, err := m.collection.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return nil, fmt.Errorf("failed to look up paste: %w", err)
	}
	if count == 0 {
		return nil, ErrNotFound
	}
	return nil, errLeaseHeld
}

func (m *MongoStore) writeViews(ctx context.Context, paste *models.Paste, owner string) error {
	result, err := m.collection.UpdateOne(ctx,
		bson.M{"_id": paste.ID, "lock_owner": owner},
		bson.M{"$set": bson.M{"current_views": paste.CurrentViews}},
	)
	if err != nil {
		return fmt.Errorf("failed to update paste views: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrLockLost
	}
	return nil
}

func (m *MongoStore) release(ctx context.Context, id, owner string) error {
	_, err := m.collection.UpdateOne(ctx,
		bson.M{"_id": id, "lock_owner": owner},
		bson.M{"$unset": bson.M{"lock_owner": "", "lock_expires": ""}},
	)
	return err
}
