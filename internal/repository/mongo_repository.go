package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var ErrCartNotFound = errors.New("cart state not found")

const stateRetention = 90 * 24 * time.Hour

// MongoStateRepository keeps one document per cart session. Each persisted
// slice is a field holding its JSON encoding.
type MongoStateRepository struct {
	collection *mongo.Collection
}

func NewMongoStateRepository(db *mongo.Database) *MongoStateRepository {
	return &MongoStateRepository{
		collection: db.Collection("cart_states"),
	}
}

func (m *MongoStateRepository) Get(ctx context.Context, sessionID, slice string) ([]byte, error) {
	var doc bson.M
	opts := options.FindOne().SetProjection(bson.M{slice: 1})
	err := m.collection.FindOne(ctx, bson.M{"session_id": sessionID}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart state: %w", err)
	}

	raw, ok := doc[slice].(string)
	if !ok {
		return nil, ErrCartNotFound
	}
	return []byte(raw), nil
}

func (m *MongoStateRepository) Set(ctx context.Context, sessionID, slice string, value []byte) error {
	now := time.Now()
	filter := bson.M{"session_id": sessionID}
	update := bson.M{
		"$set":         bson.M{slice: string(value), "updated_at": now},
		"$setOnInsert": bson.M{"created_at": now},
	}
	opts := options.Update().SetUpsert(true)

	if _, err := m.collection.UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("failed to upsert cart state: %w", err)
	}
	return nil
}

// Delete unsets the named slices, or removes the session document when none are named.
func (m *MongoStateRepository) Delete(ctx context.Context, sessionID string, slices ...string) error {
	filter := bson.M{"session_id": sessionID}
	if len(slices) == 0 {
		if _, err := m.collection.DeleteOne(ctx, filter); err != nil {
			return fmt.Errorf("failed to delete cart state: %w", err)
		}
		return nil
	}

	unset := bson.M{}
	for _, s := range slices {
		unset[s] = ""
	}
	update := bson.M{
		"$unset": unset,
		"$set":   bson.M{"updated_at": time.Now()},
	}
	if _, err := m.collection.UpdateOne(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to unset cart state: %w", err)
	}
	return nil
}

func (m *MongoStateRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(stateRetention.Seconds())),
		},
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}
