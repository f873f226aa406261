package service

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/yourorg/pairchat/internal/apperr"
	"github.com/yourorg/pairchat/internal/delivery"
	"github.com/yourorg/pairchat/internal/hub"
	"github.com/yourorg/pairchat/internal/logger"
	"github.com/yourorg/pairchat/internal/models"
	"github.com/yourorg/pairchat/internal/presence"
)

// In-memory stores mirroring the Mongo implementations' contracts. The
// single mutex stands in for the unique pair index: FindOrCreate races are
// resolved the same way, with exactly one winner.

type memConvStore struct {
	mu   sync.Mutex
	byID map[string]*models.Conversation
}

func newMemConvStore() *memConvStore {
	return &memConvStore{byID: make(map[string]*models.Conversation)}
}

func (s *memConvStore) FindOrCreate(_ context.Context, userA, userB int64) (*models.Conversation, bool, error) {
	lo, hi := models.OrderPair(userA, userB)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.byID {
		if c.UserLo == lo && c.UserHi == hi {
			return c, false, nil
		}
	}
	now := time.Now().UTC()
	c := &models.Conversation{
		ID:     primitive.NewObjectID(),
		UserLo: lo,
		UserHi: hi,
		Participants: []models.Participant{
			{UserID: lo, JoinedAt: now},
			{UserID: hi, JoinedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.byID[c.ID.Hex()] = c
	return c, true, nil
}

func (s *memConvStore) get(id string) (*models.Conversation, error) {
	c, ok := s.byID[id]
	if !ok {
		return nil, apperr.NotFoundf("conversation %s", id)
	}
	return c, nil
}

func (s *memConvStore) GetByID(_ context.Context, id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id)
}

func (s *memConvStore) ListByUser(_ context.Context, userID int64) ([]*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Conversation
	for _, c := range s.byID {
		if c.HasParticipant(userID) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memConvStore) AddBlock(_ context.Context, id string, block models.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.get(id)
	if err != nil {
		return err
	}
	if !c.IsBlocked(block.BlockedUserID) {
		c.Blocks = append(c.Blocks, block)
	}
	return nil
}

func (s *memConvStore) RemoveBlock(_ context.Context, id string, blockedUserID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.get(id)
	if err != nil {
		return err
	}
	kept := c.Blocks[:0]
	for _, b := range c.Blocks {
		if b.BlockedUserID != blockedUserID {
			kept = append(kept, b)
		}
	}
	c.Blocks = kept
	return nil
}

func (s *memConvStore) overlay(id string, userID int64, f func(p *models.Participant)) error {
	c, err := s.get(id)
	if err != nil {
		return err
	}
	p := c.Participant(userID)
	if p == nil {
		return apperr.NotFoundf("conversation %s participant %d", id, userID)
	}
	f(p)
	return nil
}

func (s *memConvStore) SetMuted(_ context.Context, id string, userID int64, muted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlay(id, userID, func(p *models.Participant) { p.Muted = muted })
}

func (s *memConvStore) SetNickname(_ context.Context, id string, userID int64, nickname string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlay(id, userID, func(p *models.Participant) { p.Nickname = nickname })
}

func (s *memConvStore) SetDeleted(_ context.Context, id string, userID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlay(id, userID, func(p *models.Participant) {
		p.Deleted = true
		t := at
		p.DeletedAt = &t
	})
}

func (s *memConvStore) ClearDeleted(_ context.Context, id string, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlay(id, userID, func(p *models.Participant) { p.Deleted = false })
}

func (s *memConvStore) Touch(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.get(id)
	if err != nil {
		return err
	}
	c.UpdatedAt = at
	t := at
	c.LastMessageAt = &t
	return nil
}

func (s *memConvStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
	return nil
}

type memMsgStore struct {
	mu   sync.Mutex
	byID map[string]*models.Message
}

func newMemMsgStore() *memMsgStore {
	return &memMsgStore{byID: make(map[string]*models.Message)}
}

func (s *memMsgStore) Insert(_ context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID.IsZero() {
		m.ID = primitive.NewObjectID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.byID[m.ID.Hex()] = m
	return nil
}

func (s *memMsgStore) get(id string) (*models.Message, error) {
	m, ok := s.byID[id]
	if !ok {
		return nil, apperr.NotFoundf("message %s", id)
	}
	return m, nil
}

// GetByID hands back a detached copy, like a decoded Mongo document, so
// callers mutating the result do not reach into the store.
func (s *memMsgStore) GetByID(_ context.Context, id string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return copyMessage(m), nil
}

func copyMessage(m *models.Message) *models.Message {
	c := *m
	c.Files = append([]models.FilePayload(nil), m.Files...)
	c.DeletedFor = append([]int64(nil), m.DeletedFor...)
	c.ReadBy = append([]models.ReadReceipt(nil), m.ReadBy...)
	c.EditHistory = append([]models.EditEntry(nil), m.EditHistory...)
	if m.Reactions != nil {
		c.Reactions = make(map[string]models.Reaction, len(m.Reactions))
		for k, v := range m.Reactions {
			c.Reactions[k] = v
		}
	}
	return &c
}

func (s *memMsgStore) ListByConversation(_ context.Context, convID string, viewerID int64, notBefore *time.Time, before time.Time, limit int64) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Message
	for _, m := range s.byID {
		if m.ConversationID.Hex() != convID || m.DeletedForUser(viewerID) {
			continue
		}
		if notBefore != nil && !m.CreatedAt.After(*notBefore) {
			continue
		}
		if !before.IsZero() && !m.CreatedAt.Before(before) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if int64(len(out)) > limit {
		out = out[int64(len(out))-limit:]
	}
	return out, nil
}

func (s *memMsgStore) ListPinned(_ context.Context, convID string, viewerID int64) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Message
	for _, m := range s.byID {
		if m.ConversationID.Hex() == convID && m.Pinned && !m.DeletedForUser(viewerID) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *memMsgStore) ApplyEdit(_ context.Context, id string, newContent string, entry models.EditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.get(id)
	if err != nil {
		return err
	}
	m.Content = newContent
	m.Edited = true
	t := entry.EditedAt
	m.EditedAt = &t
	m.EditHistory = append(m.EditHistory, entry)
	return nil
}

func (s *memMsgStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return apperr.NotFoundf("message %s", id)
	}
	delete(s.byID, id)
	return nil
}

func (s *memMsgStore) DeleteByConversation(_ context.Context, convID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range s.byID {
		if m.ConversationID.Hex() == convID {
			delete(s.byID, id)
		}
	}
	return nil
}

func (s *memMsgStore) AddTombstone(_ context.Context, id string, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.get(id)
	if err != nil {
		return false, err
	}
	if m.DeletedForUser(userID) {
		return false, nil
	}
	m.DeletedFor = append(m.DeletedFor, userID)
	return true, nil
}

func (s *memMsgStore) SetPinned(_ context.Context, id string, userID int64, pinned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.get(id)
	if err != nil {
		return err
	}
	m.Pinned = pinned
	if pinned {
		m.PinnedBy = &userID
	} else {
		m.PinnedBy = nil
	}
	return nil
}

func (s *memMsgStore) UpsertReaction(_ context.Context, id string, r models.Reaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.get(id)
	if err != nil {
		return err
	}
	if m.Reactions == nil {
		m.Reactions = make(map[string]models.Reaction)
	}
	m.Reactions[models.ReactionKey(r.UserID)] = r
	return nil
}

func (s *memMsgStore) RemoveReaction(_ context.Context, id string, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.get(id)
	if err != nil {
		return false, err
	}
	key := models.ReactionKey(userID)
	if _, ok := m.Reactions[key]; !ok {
		return false, nil
	}
	delete(m.Reactions, key)
	return true, nil
}

func (s *memMsgStore) AddReadReceipt(_ context.Context, id string, rr models.ReadReceipt) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, err := s.get(id)
	if err != nil {
		return false, err
	}
	if m.ReadByUser(rr.UserID) {
		return false, nil
	}
	m.ReadBy = append(m.ReadBy, rr)
	return true, nil
}

func (s *memMsgStore) CountUnread(_ context.Context, convID string, userID int64, after *time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, m := range s.byID {
		if m.ConversationID.Hex() != convID || m.SenderID == userID {
			continue
		}
		if m.ReadByUser(userID) || m.DeletedForUser(userID) {
			continue
		}
		if after != nil && !m.CreatedAt.After(*after) {
			continue
		}
		n++
	}
	return n, nil
}

type memUserStore struct {
	mu    sync.Mutex
	users map[int64]*models.User
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: make(map[int64]*models.User)}
}

func (s *memUserStore) Get(_ context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, apperr.NotFoundf("user %d", id)
	}
	return u, nil
}

func (s *memUserStore) TouchLastActive(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		t := at
		u.LastActiveAt = &t
	}
	return nil
}

// testEnv wires the services against the in-memory stores and a real hub so
// tests can observe live pushes end to end.
type testEnv struct {
	convs    *memConvStore
	msgs     *memMsgStore
	users    *memUserStore
	tracker  *presence.Tracker
	hub      *hub.Hub
	notifier *delivery.Notifier
	convSvc  *ConversationService
	msgSvc   *MessageService
}

func newTestEnv() *testEnv {
	e := &testEnv{
		convs:   newMemConvStore(),
		msgs:    newMemMsgStore(),
		users:   newMemUserStore(),
		tracker: presence.NewTracker(),
		hub:     hub.NewHub(),
	}
	log := logger.Nop()
	e.notifier = delivery.NewNotifier(e.hub, nil, nil, log)
	e.convSvc = NewConversationService(e.convs, e.msgs, e.users, e.tracker, e.notifier, log)
	e.msgSvc = NewMessageService(e.convs, e.msgs, e.notifier, Policy{
		EditWindow:   15 * time.Minute,
		RecallWindow: 10 * time.Minute,
		LocationTTL:  time.Hour,
		PageSize:     50,
	}, log)
	return e
}

// connect registers a live session for a user and returns its client.
func (e *testEnv) connect(userID int64, connID string) *hub.Client {
	c := hub.NewClient(userID, connID)
	e.hub.Register(c)
	e.tracker.Connect(userID, connID)
	return c
}

func drain(c *hub.Client) []hub.Event {
	var out []hub.Event
	for {
		select {
		case b := <-c.Out():
			var ev hub.Event
			if err := json.Unmarshal(b, &ev); err == nil {
				out = append(out, ev)
			}
		default:
			return out
		}
	}
}
