package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collConversations = "conversations"
	collMessages      = "messages"
	collUsers         = "users"
)

func NewMongoClient(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}
	return client, nil
}

// EnsureIndexes creates the indexes the stores rely on. The unique ordered
// pair index on conversations is what makes concurrent FindOrCreate safe
// across processes.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(collConversations).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_lo", Value: 1}, {Key: "user_hi", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "participants.user_id", Value: 1}}},
	})
	if err != nil {
		return err
	}
	_, err = db.Collection(collMessages).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "pinned", Value: 1}}},
	})
	return err
}
