package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/yourorg/pairchat/internal/apperr"
	"github.com/yourorg/pairchat/internal/models"
)

type MongoMessageStore struct {
	coll *mongo.Collection
}

func NewMongoMessageStore(db *mongo.Database) *MongoMessageStore {
	return &MongoMessageStore{coll: db.Collection(collMessages)}
}

func msgID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, apperr.Validationf("invalid message id %q", id)
	}
	return oid, nil
}

func (s *MongoMessageStore) Insert(ctx context.Context, m *models.Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	res, err := s.coll.InsertOne(ctx, m)
	if err != nil {
		return err
	}
	m.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

func (s *MongoMessageStore) GetByID(ctx context.Context, id string) (*models.Message, error) {
	oid, err := msgID(id)
	if err != nil {
		return nil, err
	}
	var m models.Message
	if err := s.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&m); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFoundf("message %s", id)
		}
		return nil, err
	}
	return &m, nil
}

// ListByConversation pages backwards from `before`, newest first in the
// query, returned oldest first. Tombstoned messages and anything older than
// the viewer's conversation deletion timestamp are filtered at the query.
func (s *MongoMessageStore) ListByConversation(ctx context.Context, convID string, viewerID int64, notBefore *time.Time, before time.Time, limit int64) ([]*models.Message, error) {
	oid, err := primitive.ObjectIDFromHex(convID)
	if err != nil {
		return nil, apperr.Validationf("invalid conversation id %q", convID)
	}
	filter := bson.M{
		"conversation_id": oid,
		"deleted_for":     bson.M{"$ne": viewerID},
	}
	created := bson.M{}
	if notBefore != nil {
		created["$gt"] = *notBefore
	}
	if !before.IsZero() {
		created["$lt"] = before
	}
	if len(created) > 0 {
		filter["created_at"] = created
	}

	cur, err := s.coll.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*models.Message
	for cur.Next(ctx) {
		var m models.Message
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	// chronological order for the client
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *MongoMessageStore) ListPinned(ctx context.Context, convID string, viewerID int64) ([]*models.Message, error) {
	oid, err := primitive.ObjectIDFromHex(convID)
	if err != nil {
		return nil, apperr.Validationf("invalid conversation id %q", convID)
	}
	cur, err := s.coll.Find(ctx, bson.M{
		"conversation_id": oid,
		"pinned":          true,
		"deleted_for":     bson.M{"$ne": viewerID},
	}, options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []*models.Message
	for cur.Next(ctx) {
		var m models.Message
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, cur.Err()
}

// ApplyEdit swaps the content and appends the prior version to the
// append-only history in one update.
func (s *MongoMessageStore) ApplyEdit(ctx context.Context, id string, newContent string, entry models.EditEntry) error {
	oid, err := msgID(id)
	if err != nil {
		return err
	}
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{
		"$set": bson.M{
			"content":   newContent,
			"edited":    true,
			"edited_at": entry.EditedAt,
		},
		"$push": bson.M{"edit_history": entry},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperr.NotFoundf("message %s", id)
	}
	return nil
}

func (s *MongoMessageStore) Delete(ctx context.Context, id string) error {
	oid, err := msgID(id)
	if err != nil {
		return err
	}
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return apperr.NotFoundf("message %s", id)
	}
	return nil
}

func (s *MongoMessageStore) DeleteByConversation(ctx context.Context, convID string) error {
	oid, err := primitive.ObjectIDFromHex(convID)
	if err != nil {
		return apperr.Validationf("invalid conversation id %q", convID)
	}
	_, err = s.coll.DeleteMany(ctx, bson.M{"conversation_id": oid})
	return err
}

// AddTombstone hides the message for one user. The filter excludes already
// tombstoned documents so the repeat case is detectable without a second
// round trip for the common path.
func (s *MongoMessageStore) AddTombstone(ctx context.Context, id string, userID int64) (bool, error) {
	oid, err := msgID(id)
	if err != nil {
		return false, err
	}
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": oid, "deleted_for": bson.M{"$ne": userID}},
		bson.M{"$push": bson.M{"deleted_for": userID}},
	)
	if err != nil {
		return false, err
	}
	if res.MatchedCount == 1 {
		return true, nil
	}
	// either missing or already tombstoned; disambiguate
	n, err := s.coll.CountDocuments(ctx, bson.M{"_id": oid})
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, apperr.NotFoundf("message %s", id)
	}
	return false, nil
}

func (s *MongoMessageStore) SetPinned(ctx context.Context, id string, userID int64, pinned bool) error {
	oid, err := msgID(id)
	if err != nil {
		return err
	}
	update := bson.M{"$set": bson.M{"pinned": pinned, "pinned_by": userID}}
	if !pinned {
		update = bson.M{"$set": bson.M{"pinned": false}, "$unset": bson.M{"pinned_by": ""}}
	}
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": oid}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperr.NotFoundf("message %s", id)
	}
	return nil
}

// UpsertReaction writes into the per-user reaction slot, replacing any
// prior emoji from the same user.
func (s *MongoMessageStore) UpsertReaction(ctx context.Context, id string, r models.Reaction) error {
	oid, err := msgID(id)
	if err != nil {
		return err
	}
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": oid},
		bson.M{"$set": bson.M{"reactions." + models.ReactionKey(r.UserID): r}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return apperr.NotFoundf("message %s", id)
	}
	return nil
}

func (s *MongoMessageStore) RemoveReaction(ctx context.Context, id string, userID int64) (bool, error) {
	oid, err := msgID(id)
	if err != nil {
		return false, err
	}
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": oid},
		bson.M{"$unset": bson.M{"reactions." + models.ReactionKey(userID): ""}})
	if err != nil {
		return false, err
	}
	if res.MatchedCount == 0 {
		return false, apperr.NotFoundf("message %s", id)
	}
	return res.ModifiedCount > 0, nil
}

// AddReadReceipt is idempotent: a second receipt from the same user matches
// nothing and reports added=false.
func (s *MongoMessageStore) AddReadReceipt(ctx context.Context, id string, rr models.ReadReceipt) (bool, error) {
	oid, err := msgID(id)
	if err != nil {
		return false, err
	}
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": oid, "read_by.user_id": bson.M{"$ne": rr.UserID}},
		bson.M{"$push": bson.M{"read_by": rr}},
	)
	if err != nil {
		return false, err
	}
	if res.MatchedCount == 1 {
		return true, nil
	}
	n, err := s.coll.CountDocuments(ctx, bson.M{"_id": oid})
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, apperr.NotFoundf("message %s", id)
	}
	return false, nil
}

func (s *MongoMessageStore) CountUnread(ctx context.Context, convID string, userID int64, after *time.Time) (int64, error) {
	oid, err := primitive.ObjectIDFromHex(convID)
	if err != nil {
		return 0, apperr.Validationf("invalid conversation id %q", convID)
	}
	filter := bson.M{
		"conversation_id": oid,
		"sender_id":       bson.M{"$ne": userID},
		"read_by.user_id": bson.M{"$ne": userID},
		"deleted_for":     bson.M{"$ne": userID},
	}
	if after != nil {
		filter["created_at"] = bson.M{"$gt": *after}
	}
	return s.coll.CountDocuments(ctx, filter)
}
