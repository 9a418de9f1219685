package backup

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/JAAFAR1996/ai-instgram--sub007/shared/database/mongodb"
)

type payloadDocument struct {
	Key      string    `bson:"_id"`
	Payload  []byte    `bson:"payload"`
	Size     int       `bson:"size"`
	StoredAt time.Time `bson:"stored_at"`
}

// MongoStore keeps payloads as documents in a MongoDB collection
type MongoStore struct {
	client     *mongodb.Client
	collection string
	logger     *zap.Logger
}

// NewMongoStore creates a payload store on the given collection
func NewMongoStore(client *mongodb.Client, collection string, logger *zap.Logger) *MongoStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoStore{client: client, collection: collection, logger: logger}
}

// Put upserts the payload document
func (s *MongoStore) Put(ctx context.Context, key string, payload []byte) error {
	doc := payloadDocument{Key: key, Payload: payload, Size: len(payload), StoredAt: time.Now().UTC()}
	err := s.client.Execute(ctx, func(ctx context.Context, db *mongo.Database) error {
		_, err := db.Collection(s.collection).ReplaceOne(ctx,
			bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to store backup payload %s: %w", key, err)
	}
	return nil
}

// Get loads a payload document
func (s *MongoStore) Get(ctx context.Context, key string) ([]byte, error) {
	var doc payloadDocument
	err := s.client.Execute(ctx, func(ctx context.Context, db *mongo.Database) error {
		return db.Collection(s.collection).FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	})
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load backup payload %s: %w", key, err)
	}
	return doc.Payload, nil
}

// Delete removes a payload document
func (s *MongoStore) Delete(ctx context.Context, key string) error {
	err := s.client.Execute(ctx, func(ctx context.Context, db *mongo.Database) error {
		_, err := db.Collection(s.collection).DeleteOne(ctx, bson.M{"_id": key})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete backup payload %s: %w", key, err)
	}
	return nil
}

// Exists counts documents with the key
func (s *MongoStore) Exists(ctx context.Context, key string) (bool, error) {
	var count int64
	err := s.client.Execute(ctx, func(ctx context.Context, db *mongo.Database) error {
		var err error
		count, err = db.Collection(s.collection).CountDocuments(ctx, bson.M{"_id": key})
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to check backup payload %s: %w", key, err)
	}
	return count > 0, nil
}
