package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/yourorg/pairchat/internal/apperr"
	"github.com/yourorg/pairchat/internal/models"
)

type MongoUserStore struct {
	coll *mongo.Collection
}

func NewMongoUserStore(db *mongo.Database) *MongoUserStore {
	return &MongoUserStore{coll: db.Collection(collUsers)}
}

func (s *MongoUserStore) Get(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFoundf("user %d", id)
		}
		return nil, err
	}
	return &u, nil
}

func (s *MongoUserStore) TouchLastActive(ctx context.Context, id int64, at time.Time) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"last_active_at": at}},
	)
	return err
}
