package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/yourorg/pairchat/internal/apperr"
	"github.com/yourorg/pairchat/internal/models"
)

type MongoConversationStore struct {
	coll *mongo.Collection
}

func NewMongoConversationStore(db *mongo.Database) *MongoConversationStore {
	return &MongoConversationStore{coll: db.Collection(collConversations)}
}

func convID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, apperr.Validationf("invalid conversation id %q", id)
	}
	return oid, nil
}

// FindOrCreate looks up the ordered pair and inserts on miss. A duplicate
// key error means a concurrent caller won the insert race, so we re-read
// instead of failing.
func (s *MongoConversationStore) FindOrCreate(ctx context.Context, userA, userB int64) (*models.Conversation, bool, error) {
	lo, hi := models.OrderPair(userA, userB)
	filter := bson.M{"user_lo": lo, "user_hi": hi}

	var existing models.Conversation
	err := s.coll.FindOne(ctx, filter).Decode(&existing)
	if err == nil {
		return &existing, false, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, err
	}

	now := time.Now().UTC()
	conv := &models.Conversation{
		UserLo: lo,
		UserHi: hi,
		Participants: []models.Participant{
			{UserID: lo, JoinedAt: now},
			{UserID: hi, JoinedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	res, err := s.coll.InsertOne(ctx, conv)
	if err == nil {
		conv.ID = res.InsertedID.(primitive.ObjectID)
		return conv, true, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return nil, false, err
	}
	if err := s.coll.FindOne(ctx, filter).Decode(&existing); err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

func (s *MongoConversationStore) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	oid, err := convID(id)
	if err != nil {
		return nil, err
	}
	var conv models.Conversation
	if err := s.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&conv); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFoundf("conversation %s", id)
		}
		return nil, err
	}
	return &conv, nil
}

func (s *MongoConversationStore) ListByUser(ctx context.Context, userID int64) ([]*models.Conversation, error) {
	cur, err := s.coll.Find(ctx, bson.M{"participants.user_id": userID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*models.Conversation
	for cur.Next(ctx) {
		var c models.Conversation
		if err := cur.Decode(&c); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, cur.Err()
}

// AddBlock is idempotent: re-blocking an already blocked user matches
// nothing and is fine.
func (s *MongoConversationStore) AddBlock(ctx context.Context, id string, block models.Block) error {
	oid, err := convID(id)
	if err != nil {
		return err
	}
	_, err = s.coll.UpdateOne(ctx,
		bson.M{"_id": oid, "blocks.blocked_user_id": bson.M{"$ne": block.BlockedUserID}},
		bson.M{"$push": bson.M{"blocks": block}},
	)
	return err
}

func (s *MongoConversationStore) RemoveBlock(ctx context.Context, id string, blockedUserID int64) error {
	oid, err := convID(id)
	if err != nil {
		return err
	}
	_, err = s.coll.UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{"$pull": bson.M{"blocks": bson.M{"blocked_user_id": blockedUserID}}},
	)
	return err
}

func (s *MongoConversationStore) setOverlay(ctx context.Context, id string, userID int64, set bson.M) error {
	oid, err := convID(id)
	if err != nil {
		return err
	}
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": oid, "participants.user_id": userID},
		bson.M{"$set": set},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperr.NotFoundf("conversation %s participant %d", id, userID)
	}
	return nil
}

func (s *MongoConversationStore) SetMuted(ctx context.Context, id string, userID int64, muted bool) error {
	return s.setOverlay(ctx, id, userID, bson.M{"participants.$.muted": muted})
}

func (s *MongoConversationStore) SetNickname(ctx context.Context, id string, userID int64, nickname string) error {
	return s.setOverlay(ctx, id, userID, bson.M{"participants.$.nickname": nickname})
}

func (s *MongoConversationStore) SetDeleted(ctx context.Context, id string, userID int64, at time.Time) error {
	return s.setOverlay(ctx, id, userID, bson.M{
		"participants.$.deleted":    true,
		"participants.$.deleted_at": at,
	})
}

func (s *MongoConversationStore) ClearDeleted(ctx context.Context, id string, userID int64) error {
	return s.setOverlay(ctx, id, userID, bson.M{"participants.$.deleted": false})
}

func (s *MongoConversationStore) Touch(ctx context.Context, id string, at time.Time) error {
	oid, err := convID(id)
	if err != nil {
		return err
	}
	_, err = s.coll.UpdateOne(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": bson.M{"updated_at": at, "last_message_at": at}},
	)
	return err
}

func (s *MongoConversationStore) Delete(ctx context.Context, id string) error {
	oid, err := convID(id)
	if err != nil {
		return err
	}
	_, err = s.coll.DeleteOne(ctx, bson.M{"_id": oid})
	return err
}
