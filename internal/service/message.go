package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/yourorg/pairchat/internal/apperr"
	"github.com/yourorg/pairchat/internal/delivery"
	"github.com/yourorg/pairchat/internal/hub"
	"github.com/yourorg/pairchat/internal/metrics"
	"github.com/yourorg/pairchat/internal/models"
	"github.com/yourorg/pairchat/internal/repository"
)

// Policy carries the time-window and paging values for the message state
// machine.
type Policy struct {
	EditWindow   time.Duration
	RecallWindow time.Duration
	LocationTTL  time.Duration
	PageSize     int64
}

type SendInput struct {
	ConversationID string
	PeerID         int64
	Kind           models.MessageKind
	Content        string
	Files          []models.FilePayload
	Voice          *models.VoicePayload
	Location       *models.LocationPayload
	ReplyToID      string
}

type ForwardTarget struct {
	ConversationID string          `json:"conversation_id"`
	Message        *models.Message `json:"message,omitempty"`
	Error          string          `json:"error,omitempty"`
}

type MessageService struct {
	convs    repository.ConversationStore
	msgs     repository.MessageStore
	notifier *delivery.Notifier
	policy   Policy
	log      *zap.SugaredLogger

	// indirection for the location expiry timer, overridable in tests
	afterFunc func(d time.Duration, f func()) *time.Timer
}

func NewMessageService(
	convs repository.ConversationStore,
	msgs repository.MessageStore,
	notifier *delivery.Notifier,
	policy Policy,
	log *zap.SugaredLogger,
) *MessageService {
	if policy.PageSize <= 0 {
		policy.PageSize = 50
	}
	return &MessageService{
		convs:     convs,
		msgs:      msgs,
		notifier:  notifier,
		policy:    policy,
		log:       log,
		afterFunc: time.AfterFunc,
	}
}

// Send persists a new message and hands the event to the fan-out layer.
// The conversation is created lazily when only a peer id is supplied.
// Persistence and live delivery are independent phases: once the insert
// succeeds the caller gets the message back no matter what the hub does.
func (s *MessageService) Send(ctx context.Context, senderID int64, in SendInput) (*models.Message, error) {
	if err := validatePayload(&in); err != nil {
		return nil, err
	}

	var conv *models.Conversation
	var err error
	switch {
	case in.ConversationID != "":
		conv, err = s.convs.GetByID(ctx, in.ConversationID)
		if err != nil {
			return nil, err
		}
		if !conv.HasParticipant(senderID) {
			return nil, apperr.Forbiddenf("user %d is not a participant", senderID)
		}
	case in.PeerID > 0:
		if in.PeerID == senderID {
			return nil, apperr.Validationf("cannot message yourself")
		}
		var created bool
		conv, created, err = s.convs.FindOrCreate(ctx, senderID, in.PeerID)
		if err != nil {
			return nil, err
		}
		if created {
			s.notifier.ConversationEvent(ctx, conv, hub.Event{
				Type:    hub.EventConversationCreated,
				Payload: conv,
			})
		}
	default:
		return nil, apperr.Validationf("conversation_id or peer_id is required")
	}

	// send-gate
	if conv.IsBlocked(senderID) {
		return nil, apperr.Forbiddenf("sender is blocked in this conversation")
	}

	if in.ReplyToID != "" {
		target, err := s.msgs.GetByID(ctx, in.ReplyToID)
		if err != nil {
			return nil, apperr.Validationf("reply target %s does not exist", in.ReplyToID)
		}
		if target.ConversationID != conv.ID {
			return nil, apperr.Validationf("reply target belongs to another conversation")
		}
	}

	now := time.Now().UTC()
	msg := &models.Message{
		ConversationID: conv.ID,
		SenderID:       senderID,
		Kind:           in.Kind,
		Content:        in.Content,
		Files:          in.Files,
		Voice:          in.Voice,
		Location:       in.Location,
		CreatedAt:      now,
	}
	if in.ReplyToID != "" {
		if oid, err := primitive.ObjectIDFromHex(in.ReplyToID); err == nil {
			msg.ReplyToID = &oid
		}
	}
	if err := s.msgs.Insert(ctx, msg); err != nil {
		return nil, err
	}
	metrics.MessagesSent.Inc()

	// sending un-deletes the thread for the sender
	if p := conv.Participant(senderID); p != nil && p.Deleted {
		if err := s.convs.ClearDeleted(ctx, conv.ID.Hex(), senderID); err != nil {
			s.log.Warnw("clear deleted flag failed", "conversation", conv.ID.Hex(), "err", err)
		}
	}
	if err := s.convs.Touch(ctx, conv.ID.Hex(), now); err != nil {
		s.log.Warnw("conversation touch failed", "conversation", conv.ID.Hex(), "err", err)
	}

	s.notifier.ConversationEvent(ctx, conv, hub.Event{
		Type:    hub.EventMessageCreated,
		Payload: msg,
	})

	if in.Kind == models.KindLocation && s.policy.LocationTTL > 0 {
		s.scheduleLocationExpiry(msg.ID.Hex(), conv.ID.Hex())
	}
	return msg, nil
}

// Edit replaces the content within the edit window, keeping the prior
// version in the append-only history.
func (s *MessageService) Edit(ctx context.Context, msgID string, editorID int64, newContent string) (*models.Message, error) {
	newContent = strings.TrimSpace(newContent)
	if newContent == "" {
		return nil, apperr.Validationf("content is required")
	}
	m, err := s.msgs.GetByID(ctx, msgID)
	if err != nil {
		return nil, err
	}
	if m.SenderID != editorID {
		return nil, apperr.Forbiddenf("only the sender can edit a message")
	}
	now := time.Now().UTC()
	if now.Sub(m.CreatedAt) > s.policy.EditWindow {
		return nil, fmt.Errorf("%w: messages can only be edited within %s of sending",
			apperr.ErrWindowExpired, s.policy.EditWindow)
	}
	entry := models.EditEntry{OldContent: m.Content, NewContent: newContent, EditedAt: now}
	if err := s.msgs.ApplyEdit(ctx, msgID, newContent, entry); err != nil {
		return nil, err
	}
	m.Content = newContent
	m.Edited = true
	m.EditedAt = &now
	m.EditHistory = append(m.EditHistory, entry)

	if conv, err := s.convs.GetByID(ctx, m.ConversationID.Hex()); err == nil {
		s.notifier.ConversationEvent(ctx, conv, hub.Event{Type: hub.EventMessageEdited, Payload: m})
	}
	return m, nil
}

// Recall hard-removes the message for everyone. Sender-only, time-bounded,
// terminal.
func (s *MessageService) Recall(ctx context.Context, msgID string, requesterID int64) error {
	m, err := s.msgs.GetByID(ctx, msgID)
	if err != nil {
		return err
	}
	if m.SenderID != requesterID {
		return apperr.Forbiddenf("only the sender can recall a message")
	}
	if time.Now().UTC().Sub(m.CreatedAt) > s.policy.RecallWindow {
		return fmt.Errorf("%w: messages can only be recalled within %s of sending",
			apperr.ErrWindowExpired, s.policy.RecallWindow)
	}
	if err := s.msgs.Delete(ctx, msgID); err != nil {
		return err
	}
	if conv, err := s.convs.GetByID(ctx, m.ConversationID.Hex()); err == nil {
		s.notifier.ConversationEvent(ctx, conv, hub.Event{
			Type:    hub.EventMessageRecalled,
			Payload: map[string]any{"message_id": msgID, "conversation_id": conv.ID.Hex()},
		})
	}
	return nil
}

// SoftDelete hides the message for one viewer only. A repeat is surfaced as
// a conflict so the client knows its local state is stale.
func (s *MessageService) SoftDelete(ctx context.Context, msgID string, userID int64) error {
	m, err := s.msgs.GetByID(ctx, msgID)
	if err != nil {
		return err
	}
	if _, err := s.memberOf(ctx, m, userID); err != nil {
		return err
	}
	added, err := s.msgs.AddTombstone(ctx, msgID, userID)
	if err != nil {
		return err
	}
	if !added {
		return apperr.ErrAlreadyDeleted
	}
	return nil
}

// Pin toggles the pinned flag. Either participant may pin; repeating the
// current state is a no-op success.
func (s *MessageService) Pin(ctx context.Context, msgID string, requesterID int64, pinned bool) (*models.Message, error) {
	m, err := s.msgs.GetByID(ctx, msgID)
	if err != nil {
		return nil, err
	}
	conv, err := s.memberOf(ctx, m, requesterID)
	if err != nil {
		return nil, err
	}
	if m.Pinned == pinned {
		return m, nil
	}
	if err := s.msgs.SetPinned(ctx, msgID, requesterID, pinned); err != nil {
		return nil, err
	}
	m.Pinned = pinned
	if pinned {
		m.PinnedBy = &requesterID
	} else {
		m.PinnedBy = nil
	}
	evType := hub.EventMessagePinned
	if !pinned {
		evType = hub.EventMessageUnpinned
	}
	s.notifier.ConversationEvent(ctx, conv, hub.Event{Type: evType, Payload: m})
	return m, nil
}

// React upserts the caller's reaction: one slot per (user, message), a
// second emoji replaces the first.
func (s *MessageService) React(ctx context.Context, msgID string, userID int64, emoji string) error {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return apperr.Validationf("emoji is required")
	}
	m, err := s.msgs.GetByID(ctx, msgID)
	if err != nil {
		return err
	}
	if m.DeletedForUser(userID) {
		return apperr.NotFoundf("message %s", msgID)
	}
	conv, err := s.memberOf(ctx, m, userID)
	if err != nil {
		return err
	}
	if err := s.msgs.UpsertReaction(ctx, msgID, models.Reaction{
		UserID:    userID,
		Emoji:     emoji,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}
	s.notifier.ConversationEvent(ctx, conv, hub.Event{
		Type:    hub.EventReactionAdded,
		Payload: map[string]any{"message_id": msgID, "user_id": userID, "emoji": emoji},
	})
	return nil
}

func (s *MessageService) RemoveReaction(ctx context.Context, msgID string, userID int64) error {
	m, err := s.msgs.GetByID(ctx, msgID)
	if err != nil {
		return err
	}
	conv, err := s.memberOf(ctx, m, userID)
	if err != nil {
		return err
	}
	removed, err := s.msgs.RemoveReaction(ctx, msgID, userID)
	if err != nil {
		return err
	}
	if !removed {
		return apperr.NotFoundf("no reaction from user %d on message %s", userID, msgID)
	}
	s.notifier.ConversationEvent(ctx, conv, hub.Event{
		Type:    hub.EventReactionRemoved,
		Payload: map[string]any{"message_id": msgID, "user_id": userID},
	})
	return nil
}

// MarkRead is idempotent; the boolean reports whether the receipt already
// existed.
func (s *MessageService) MarkRead(ctx context.Context, msgID string, userID int64) (alreadyRead bool, err error) {
	m, err := s.msgs.GetByID(ctx, msgID)
	if err != nil {
		return false, err
	}
	if _, err := s.memberOf(ctx, m, userID); err != nil {
		return false, err
	}
	added, err := s.msgs.AddReadReceipt(ctx, msgID, models.ReadReceipt{
		UserID: userID,
		ReadAt: time.Now().UTC(),
	})
	if err != nil {
		return false, err
	}
	return !added, nil
}

// Forward copies a message into one or more target conversations,
// preserving provenance. The send-gate is evaluated per target, so a
// forward can partially succeed.
func (s *MessageService) Forward(ctx context.Context, msgID string, requesterID int64, targetConvIDs []string) ([]ForwardTarget, error) {
	if len(targetConvIDs) == 0 {
		return nil, apperr.Validationf("at least one target conversation is required")
	}
	m, err := s.msgs.GetByID(ctx, msgID)
	if err != nil {
		return nil, err
	}
	if m.DeletedForUser(requesterID) {
		return nil, apperr.NotFoundf("message %s", msgID)
	}
	if _, err := s.memberOf(ctx, m, requesterID); err != nil {
		return nil, err
	}

	origin := &models.ForwardOrigin{SenderID: m.SenderID, SentAt: m.CreatedAt}
	if m.Forward != nil {
		// forwarding a forward keeps the original provenance
		origin = m.Forward
	}

	out := make([]ForwardTarget, 0, len(targetConvIDs))
	for _, targetID := range targetConvIDs {
		t := ForwardTarget{ConversationID: targetID}
		conv, err := s.convs.GetByID(ctx, targetID)
		switch {
		case err != nil:
			t.Error = "conversation not found"
		case !conv.HasParticipant(requesterID):
			t.Error = "not a participant"
		case conv.IsBlocked(requesterID):
			t.Error = "sender is blocked"
		default:
			copyMsg := &models.Message{
				ConversationID: conv.ID,
				SenderID:       requesterID,
				Kind:           m.Kind,
				Content:        m.Content,
				Files:          append([]models.FilePayload(nil), m.Files...),
				Voice:          m.Voice,
				Location:       m.Location,
				Forward:        origin,
				CreatedAt:      time.Now().UTC(),
			}
			if err := s.msgs.Insert(ctx, copyMsg); err != nil {
				t.Error = "persist failed"
				s.log.Errorw("forward insert failed", "target", targetID, "err", err)
				break
			}
			metrics.MessagesSent.Inc()
			if err := s.convs.Touch(ctx, targetID, copyMsg.CreatedAt); err != nil {
				s.log.Warnw("conversation touch failed", "conversation", targetID, "err", err)
			}
			s.notifier.ConversationEvent(ctx, conv, hub.Event{
				Type:    hub.EventMessageCreated,
				Payload: copyMsg,
			})
			t.Message = copyMsg
		}
		out = append(out, t)
	}
	return out, nil
}

// ListForViewer pages the conversation history as this viewer sees it:
// their tombstones are hidden and, while their deletion overlay is active,
// so is everything older than the deletion timestamp.
func (s *MessageService) ListForViewer(ctx context.Context, convID string, viewerID int64, limit int64, before time.Time) ([]*models.Message, error) {
	conv, err := s.convs.GetByID(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(viewerID) {
		return nil, apperr.Forbiddenf("user %d is not a participant", viewerID)
	}
	var notBefore *time.Time
	if p := conv.Participant(viewerID); p != nil && p.Deleted {
		notBefore = p.DeletedAt
	}
	if limit <= 0 || limit > 200 {
		limit = s.policy.PageSize
	}
	return s.msgs.ListByConversation(ctx, convID, viewerID, notBefore, before, limit)
}

func (s *MessageService) Get(ctx context.Context, msgID string, viewerID int64) (*models.Message, error) {
	m, err := s.msgs.GetByID(ctx, msgID)
	if err != nil {
		return nil, err
	}
	if _, err := s.memberOf(ctx, m, viewerID); err != nil {
		return nil, err
	}
	if m.DeletedForUser(viewerID) {
		return nil, apperr.NotFoundf("message %s", msgID)
	}
	return m, nil
}

// EditHistory lists prior versions, newest first. A message that was never
// edited has no history to show.
func (s *MessageService) EditHistory(ctx context.Context, msgID string, viewerID int64) ([]models.EditEntry, error) {
	m, err := s.Get(ctx, msgID, viewerID)
	if err != nil {
		return nil, err
	}
	if len(m.EditHistory) == 0 {
		return nil, apperr.NotFoundf("message %s was never edited", msgID)
	}
	out := make([]models.EditEntry, len(m.EditHistory))
	copy(out, m.EditHistory)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *MessageService) ListPinned(ctx context.Context, convID string, viewerID int64) ([]*models.Message, error) {
	conv, err := s.convs.GetByID(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(viewerID) {
		return nil, apperr.Forbiddenf("user %d is not a participant", viewerID)
	}
	return s.msgs.ListPinned(ctx, convID, viewerID)
}

// scheduleLocationExpiry removes a location message after the configured
// TTL. The timer runs detached from the sending request's lifetime.
func (s *MessageService) scheduleLocationExpiry(msgID, convID string) {
	s.afterFunc(s.policy.LocationTTL, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.msgs.Delete(ctx, msgID); err != nil {
			// already recalled or conversation purged; nothing to announce
			return
		}
		if conv, err := s.convs.GetByID(ctx, convID); err == nil {
			s.notifier.ConversationEvent(ctx, conv, hub.Event{
				Type:    hub.EventMessageRecalled,
				Payload: map[string]any{"message_id": msgID, "conversation_id": convID, "expired": true},
			})
		}
	})
}

func (s *MessageService) memberOf(ctx context.Context, m *models.Message, userID int64) (*models.Conversation, error) {
	conv, err := s.convs.GetByID(ctx, m.ConversationID.Hex())
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, apperr.Forbiddenf("user %d is not a participant", userID)
	}
	return conv, nil
}

func validatePayload(in *SendInput) error {
	if in.Kind == "" {
		in.Kind = models.KindText
	}
	if !in.Kind.Valid() {
		return apperr.Validationf("unknown message kind %q", in.Kind)
	}
	switch in.Kind {
	case models.KindText:
		if strings.TrimSpace(in.Content) == "" {
			return apperr.Validationf("content is required for text messages")
		}
	case models.KindImage, models.KindFile:
		if len(in.Files) == 0 {
			return apperr.Validationf("at least one file is required")
		}
	case models.KindVoice:
		if in.Voice == nil || in.Voice.URL == "" {
			return apperr.Validationf("voice payload is required")
		}
	case models.KindLocation:
		if in.Location == nil {
			return apperr.Validationf("location payload is required")
		}
		if in.Location.Lat == 0 && in.Location.Lng == 0 {
			return apperr.Validationf("valid coordinates are required")
		}
		in.Location.FillMapsURL()
	}
	return nil
}
