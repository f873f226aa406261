package models

import (
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindFile     MessageKind = "file"
	KindVoice    MessageKind = "voice"
	KindLocation MessageKind = "location"
)

func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindImage, KindFile, KindVoice, KindLocation:
		return true
	}
	return false
}

type FilePayload struct {
	URL         string `bson:"url" json:"url"`
	Name        string `bson:"name" json:"name"`
	ContentType string `bson:"content_type" json:"content_type"`
	Size        int64  `bson:"size" json:"size"`
	Thumbnail   string `bson:"thumbnail,omitempty" json:"thumbnail,omitempty"`
}

// VoicePayload keeps the duration nullable; the probe collaborator may fail
// and a voice message without a duration is still valid.
type VoicePayload struct {
	URL         string   `bson:"url" json:"url"`
	DurationSec *float64 `bson:"duration_sec,omitempty" json:"duration_sec,omitempty"`
}

type LocationPayload struct {
	Lat float64 `bson:"lat" json:"lat"`
	Lng float64 `bson:"lng" json:"lng"`
	// MapsURL is derived on send, not stored.
	MapsURL string `bson:"-" json:"maps_url,omitempty"`
}

func (l *LocationPayload) FillMapsURL() {
	l.MapsURL = "https://www.google.com/maps?q=" +
		strconv.FormatFloat(l.Lat, 'f', 6, 64) + "," +
		strconv.FormatFloat(l.Lng, 'f', 6, 64)
}

// ForwardOrigin preserves provenance on forwarded copies.
type ForwardOrigin struct {
	SenderID int64     `bson:"sender_id" json:"sender_id"`
	SentAt   time.Time `bson:"sent_at" json:"sent_at"`
}

type Reaction struct {
	UserID    int64     `bson:"user_id" json:"user_id"`
	Emoji     string    `bson:"emoji" json:"emoji"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

type ReadReceipt struct {
	UserID int64     `bson:"user_id" json:"user_id"`
	ReadAt time.Time `bson:"read_at" json:"read_at"`
}

type EditEntry struct {
	OldContent string    `bson:"old_content" json:"old_content"`
	NewContent string    `bson:"new_content" json:"new_content"`
	EditedAt   time.Time `bson:"edited_at" json:"edited_at"`
}

// Message. Reactions are keyed by decimal user id so a second reaction from
// the same user upserts at the storage layer. DeletedFor holds per-viewer
// tombstones; recall removes the whole document instead.
type Message struct {
	ID             primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	ConversationID primitive.ObjectID  `bson:"conversation_id" json:"conversation_id"`
	SenderID       int64               `bson:"sender_id" json:"sender_id"`
	Kind           MessageKind         `bson:"kind" json:"kind"`
	Content        string              `bson:"content,omitempty" json:"content,omitempty"`
	Files          []FilePayload       `bson:"files,omitempty" json:"files,omitempty"`
	Voice          *VoicePayload       `bson:"voice,omitempty" json:"voice,omitempty"`
	Location       *LocationPayload    `bson:"location,omitempty" json:"location,omitempty"`
	ReplyToID      *primitive.ObjectID `bson:"reply_to_id,omitempty" json:"reply_to_id,omitempty"`
	Forward        *ForwardOrigin      `bson:"forward,omitempty" json:"forward,omitempty"`
	Edited         bool                `bson:"edited" json:"edited"`
	EditedAt       *time.Time          `bson:"edited_at,omitempty" json:"edited_at,omitempty"`
	Pinned         bool                `bson:"pinned" json:"pinned"`
	PinnedBy       *int64              `bson:"pinned_by,omitempty" json:"pinned_by,omitempty"`
	Reactions      map[string]Reaction `bson:"reactions,omitempty" json:"reactions,omitempty"`
	ReadBy         []ReadReceipt       `bson:"read_by,omitempty" json:"read_by,omitempty"`
	DeletedFor     []int64             `bson:"deleted_for,omitempty" json:"-"`
	EditHistory    []EditEntry         `bson:"edit_history,omitempty" json:"-"`
	CreatedAt      time.Time           `bson:"created_at" json:"created_at"`
}

// ReactionKey is the map key for a user's reaction slot.
func ReactionKey(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

func (m *Message) DeletedForUser(userID int64) bool {
	for _, id := range m.DeletedFor {
		if id == userID {
			return true
		}
	}
	return false
}

func (m *Message) ReadByUser(userID int64) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}
