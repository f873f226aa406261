package repository

import (
	"context"
	"time"

	"github.com/yourorg/pairchat/internal/models"
)

// ConversationStore owns the conversation directory rows. Implementations
// must keep the one-row-per-unordered-pair invariant under concurrent
// FindOrCreate callers; lookups for missing rows return apperr.ErrNotFound.
type ConversationStore interface {
	FindOrCreate(ctx context.Context, userA, userB int64) (conv *models.Conversation, created bool, err error)
	GetByID(ctx context.Context, id string) (*models.Conversation, error)
	ListByUser(ctx context.Context, userID int64) ([]*models.Conversation, error)
	AddBlock(ctx context.Context, id string, block models.Block) error
	RemoveBlock(ctx context.Context, id string, blockedUserID int64) error
	SetMuted(ctx context.Context, id string, userID int64, muted bool) error
	SetNickname(ctx context.Context, id string, userID int64, nickname string) error
	SetDeleted(ctx context.Context, id string, userID int64, at time.Time) error
	ClearDeleted(ctx context.Context, id string, userID int64) error
	Touch(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
}

// MessageStore owns message documents and their embedded reaction, receipt,
// tombstone and edit-history state.
type MessageStore interface {
	Insert(ctx context.Context, m *models.Message) error
	GetByID(ctx context.Context, id string) (*models.Message, error)
	ListByConversation(ctx context.Context, convID string, viewerID int64, notBefore *time.Time, before time.Time, limit int64) ([]*models.Message, error)
	ListPinned(ctx context.Context, convID string, viewerID int64) ([]*models.Message, error)
	ApplyEdit(ctx context.Context, id string, newContent string, entry models.EditEntry) error
	Delete(ctx context.Context, id string) error
	DeleteByConversation(ctx context.Context, convID string) error
	AddTombstone(ctx context.Context, id string, userID int64) (added bool, err error)
	SetPinned(ctx context.Context, id string, userID int64, pinned bool) error
	UpsertReaction(ctx context.Context, id string, r models.Reaction) error
	RemoveReaction(ctx context.Context, id string, userID int64) (removed bool, err error)
	AddReadReceipt(ctx context.Context, id string, rr models.ReadReceipt) (added bool, err error)
	CountUnread(ctx context.Context, convID string, userID int64, after *time.Time) (int64, error)
}

// UserStore is read-mostly: profiles belong to the identity service, this
// core only reads them and maintains last-active bookkeeping.
type UserStore interface {
	Get(ctx context.Context, id int64) (*models.User, error)
	TouchLastActive(ctx context.Context, id int64, at time.Time) error
}
