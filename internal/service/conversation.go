package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/pairchat/internal/apperr"
	"github.com/yourorg/pairchat/internal/delivery"
	"github.com/yourorg/pairchat/internal/hub"
	"github.com/yourorg/pairchat/internal/models"
	"github.com/yourorg/pairchat/internal/presence"
	"github.com/yourorg/pairchat/internal/repository"
)

type ConversationSummary struct {
	Conversation *models.Conversation `json:"conversation"`
	UnreadCount  int64                `json:"unread_count"`
	PeerOnline   bool                 `json:"peer_online"`
}

type ParticipantDetail struct {
	models.Participant
	DisplayName string `json:"display_name,omitempty"`
	Avatar      string `json:"avatar,omitempty"`
	Online      bool   `json:"online"`
}

type ConversationDetails struct {
	Conversation *models.Conversation `json:"conversation"`
	Participants []ParticipantDetail  `json:"participants"`
}

type ConversationService struct {
	convs    repository.ConversationStore
	msgs     repository.MessageStore
	users    repository.UserStore
	presence *presence.Tracker
	notifier *delivery.Notifier
	log      *zap.SugaredLogger
}

func NewConversationService(
	convs repository.ConversationStore,
	msgs repository.MessageStore,
	users repository.UserStore,
	tracker *presence.Tracker,
	notifier *delivery.Notifier,
	log *zap.SugaredLogger,
) *ConversationService {
	return &ConversationService{
		convs:    convs,
		msgs:     msgs,
		users:    users,
		presence: tracker,
		notifier: notifier,
		log:      log,
	}
}

// FindOrCreate resolves the canonical conversation for a user pair,
// creating it lazily. The storage layer guarantees at most one row per
// unordered pair.
func (s *ConversationService) FindOrCreate(ctx context.Context, userID, peerID int64) (*models.Conversation, bool, error) {
	if peerID <= 0 {
		return nil, false, apperr.Validationf("peer id is required")
	}
	if peerID == userID {
		return nil, false, apperr.Validationf("cannot start a conversation with yourself")
	}
	conv, created, err := s.convs.FindOrCreate(ctx, userID, peerID)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.notifier.ConversationEvent(ctx, conv, hub.Event{
			Type:    hub.EventConversationCreated,
			Payload: conv,
		})
	}
	return conv, created, nil
}

// ListVisible returns the user's conversation list, hiding threads the user
// deleted unless a newer message has arrived since (reappearance), newest
// activity first.
func (s *ConversationService) ListVisible(ctx context.Context, userID int64) ([]ConversationSummary, error) {
	convs, err := s.convs.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]ConversationSummary, 0, len(convs))
	for _, c := range convs {
		if !c.VisibleTo(userID) {
			continue
		}
		p := c.Participant(userID)
		var after *time.Time
		if p.Deleted {
			after = p.DeletedAt
		}
		unread, err := s.msgs.CountUnread(ctx, c.ID.Hex(), userID, after)
		if err != nil {
			s.log.Warnw("unread count failed", "conversation", c.ID.Hex(), "err", err)
		}
		out = append(out, ConversationSummary{
			Conversation: c,
			UnreadCount:  unread,
			PeerOnline:   s.presence.IsOnline(c.PeerOf(userID)),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		ti := out[i].Conversation.UpdatedAt
		tj := out[j].Conversation.UpdatedAt
		return ti.After(tj)
	})
	return out, nil
}

func (s *ConversationService) Details(ctx context.Context, convID string, userID int64) (*ConversationDetails, error) {
	conv, err := s.member(ctx, convID, userID)
	if err != nil {
		return nil, err
	}
	details := &ConversationDetails{Conversation: conv}
	for _, p := range conv.Participants {
		d := ParticipantDetail{Participant: p, Online: s.presence.IsOnline(p.UserID)}
		if u, err := s.users.Get(ctx, p.UserID); err == nil {
			d.DisplayName = u.DisplayName
			d.Avatar = u.Avatar
		}
		details.Participants = append(details.Participants, d)
	}
	return details, nil
}

// Block closes the send-gate for the target user. Re-blocking is benign.
func (s *ConversationService) Block(ctx context.Context, convID string, actorID, targetID int64) error {
	conv, err := s.member(ctx, convID, actorID)
	if err != nil {
		return err
	}
	if targetID == actorID {
		return apperr.Validationf("cannot block yourself")
	}
	if !conv.HasParticipant(targetID) {
		return apperr.Validationf("user %d is not a participant", targetID)
	}
	if err := s.convs.AddBlock(ctx, convID, models.Block{
		BlockedUserID: targetID,
		BlockedByID:   actorID,
		BlockedAt:     time.Now().UTC(),
	}); err != nil {
		return err
	}
	s.notifyUpdated(ctx, convID)
	return nil
}

// Unblock lifts a block. Only the user who placed it may remove it.
func (s *ConversationService) Unblock(ctx context.Context, convID string, actorID, targetID int64) error {
	conv, err := s.member(ctx, convID, actorID)
	if err != nil {
		return err
	}
	for _, b := range conv.Blocks {
		if b.BlockedUserID == targetID {
			if b.BlockedByID != actorID {
				return apperr.Forbiddenf("only the blocker can unblock")
			}
			if err := s.convs.RemoveBlock(ctx, convID, targetID); err != nil {
				return err
			}
			s.notifyUpdated(ctx, convID)
			return nil
		}
	}
	return apperr.NotFoundf("user %d is not blocked", targetID)
}

// SetMuted toggles the caller's own mute overlay; the peer never sees it.
func (s *ConversationService) SetMuted(ctx context.Context, convID string, userID int64, muted bool) error {
	if _, err := s.member(ctx, convID, userID); err != nil {
		return err
	}
	return s.convs.SetMuted(ctx, convID, userID, muted)
}

// SetNickname stores the nickname the caller assigned; it is per-viewer,
// not a shared attribute of the peer.
func (s *ConversationService) SetNickname(ctx context.Context, convID string, userID int64, nickname string) error {
	if _, err := s.member(ctx, convID, userID); err != nil {
		return err
	}
	return s.convs.SetNickname(ctx, convID, userID, strings.TrimSpace(nickname))
}

// SoftDelete hides the thread for one user. Once both participants have
// deleted it independently the conversation and its messages are removed
// for good.
func (s *ConversationService) SoftDelete(ctx context.Context, convID string, userID int64) error {
	conv, err := s.member(ctx, convID, userID)
	if err != nil {
		return err
	}
	if err := s.convs.SetDeleted(ctx, convID, userID, time.Now().UTC()); err != nil {
		return err
	}
	conv, err = s.convs.GetByID(ctx, convID)
	if err != nil {
		return err
	}
	if conv.BothDeleted() {
		if err := s.msgs.DeleteByConversation(ctx, convID); err != nil {
			return err
		}
		return s.convs.Delete(ctx, convID)
	}
	s.notifier.UserEvent(ctx, conv.PeerOf(userID), hub.Event{
		Type:    hub.EventParticipantLeft,
		Payload: map[string]any{"conversation_id": convID, "user_id": userID},
	})
	return nil
}

// member loads the conversation and enforces participant membership.
func (s *ConversationService) member(ctx context.Context, convID string, userID int64) (*models.Conversation, error) {
	conv, err := s.convs.GetByID(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, apperr.Forbiddenf("user %d is not a participant of %s", userID, convID)
	}
	return conv, nil
}

func (s *ConversationService) notifyUpdated(ctx context.Context, convID string) {
	conv, err := s.convs.GetByID(ctx, convID)
	if err != nil {
		return
	}
	s.notifier.ConversationEvent(ctx, conv, hub.Event{
		Type:    hub.EventConversationUpdated,
		Payload: conv,
	})
}
