package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Participant is the per-user overlay on a conversation. Mute, nickname and
// deletion only affect this user's view, never the peer's.
type Participant struct {
	UserID    int64      `bson:"user_id" json:"user_id"`
	Nickname  string     `bson:"nickname,omitempty" json:"nickname,omitempty"`
	Muted     bool       `bson:"muted" json:"muted"`
	Deleted   bool       `bson:"deleted" json:"-"`
	DeletedAt *time.Time `bson:"deleted_at,omitempty" json:"-"`
	JoinedAt  time.Time  `bson:"joined_at" json:"joined_at"`
}

type Block struct {
	BlockedUserID int64     `bson:"blocked_user_id" json:"blocked_user_id"`
	BlockedByID   int64     `bson:"blocked_by_id" json:"blocked_by_id"`
	BlockedAt     time.Time `bson:"blocked_at" json:"blocked_at"`
}

// Conversation is the durable 1:1 thread. The pair is stored ordered
// (user_lo < user_hi) and carries a unique index so at most one row exists
// per unordered pair.
type Conversation struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserLo        int64              `bson:"user_lo" json:"-"`
	UserHi        int64              `bson:"user_hi" json:"-"`
	Participants  []Participant      `bson:"participants" json:"participants"`
	Blocks        []Block            `bson:"blocks,omitempty" json:"blocks,omitempty"`
	CreatedAt     time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time          `bson:"updated_at" json:"updated_at"`
	LastMessageAt *time.Time         `bson:"last_message_at,omitempty" json:"last_message_at,omitempty"`
}

// OrderPair normalizes an unordered user pair to its stored ordering.
func OrderPair(a, b int64) (lo, hi int64) {
	if a < b {
		return a, b
	}
	return b, a
}

func (c *Conversation) Participant(userID int64) *Participant {
	for i := range c.Participants {
		if c.Participants[i].UserID == userID {
			return &c.Participants[i]
		}
	}
	return nil
}

func (c *Conversation) HasParticipant(userID int64) bool {
	return c.Participant(userID) != nil
}

// PeerOf returns the other participant's id.
func (c *Conversation) PeerOf(userID int64) int64 {
	if c.UserLo == userID {
		return c.UserHi
	}
	return c.UserLo
}

func (c *Conversation) ParticipantIDs() []int64 {
	return []int64{c.UserLo, c.UserHi}
}

// IsBlocked reports whether userID is on the conversation's block list,
// i.e. the send-gate is closed for them.
func (c *Conversation) IsBlocked(userID int64) bool {
	for _, b := range c.Blocks {
		if b.BlockedUserID == userID {
			return true
		}
	}
	return false
}

// BothDeleted reports whether every participant has soft-deleted the
// thread, which makes it eligible for hard removal.
func (c *Conversation) BothDeleted() bool {
	for i := range c.Participants {
		if !c.Participants[i].Deleted {
			return false
		}
	}
	return len(c.Participants) > 0
}

// VisibleTo implements the reappearance rule: a deleted thread comes back
// once a message newer than the deletion timestamp exists.
func (c *Conversation) VisibleTo(userID int64) bool {
	p := c.Participant(userID)
	if p == nil {
		return false
	}
	if !p.Deleted {
		return true
	}
	if p.DeletedAt == nil || c.LastMessageAt == nil {
		return false
	}
	return c.LastMessageAt.After(*p.DeletedAt)
}
