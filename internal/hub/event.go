package hub

import "encoding/json"

// Event types pushed over the live channel. The payload matches the
// corresponding REST response DTO shape.
const (
	EventMessageCreated      = "message.created"
	EventMessageEdited       = "message.edited"
	EventMessageRecalled     = "message.recalled"
	EventMessagePinned       = "message.pinned"
	EventMessageUnpinned     = "message.unpinned"
	EventReactionAdded       = "reaction.added"
	EventReactionRemoved     = "reaction.removed"
	EventConversationCreated = "conversation.created"
	EventConversationUpdated = "conversation.updated"
	EventParticipantLeft     = "participant.left"
	EventPresenceChanged     = "presence.changed"
	EventMediaUploadFailed   = "media.upload_failed"
	EventTyping              = "typing"
)

type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
