package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/pairchat/internal/apperr"
	"github.com/yourorg/pairchat/internal/hub"
	"github.com/yourorg/pairchat/internal/models"
)

func mustConv(t *testing.T, e *testEnv, a, b int64) *models.Conversation {
	t.Helper()
	conv, _, err := e.convSvc.FindOrCreate(context.Background(), a, b)
	require.NoError(t, err)
	return conv
}

func insertAged(t *testing.T, e *testEnv, conv *models.Conversation, senderID int64, content string, age time.Duration) *models.Message {
	t.Helper()
	m := &models.Message{
		ConversationID: conv.ID,
		SenderID:       senderID,
		Kind:           models.KindText,
		Content:        content,
		CreatedAt:      time.Now().UTC().Add(-age),
	}
	require.NoError(t, e.msgs.Insert(context.Background(), m))
	return m
}

func TestSendPushesToBothParticipants(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()
	conv := mustConv(t, e, 1, 2)

	sender := e.connect(1, "s-1")
	peer := e.connect(2, "p-1")

	m, err := e.msgSvc.Send(ctx, 1, SendInput{ConversationID: conv.ID.Hex(), Content: "hello"})
	require.NoError(t, err)
	assert.False(t, m.ID.IsZero())
	assert.Equal(t, models.KindText, m.Kind)

	for _, c := range []*hub.Client{sender, peer} {
		evs := drain(c)
		require.Len(t, evs, 1)
		assert.Equal(t, hub.EventMessageCreated, evs[0].Type)
	}

	got, err := e.convs.GetByID(ctx, conv.ID.Hex())
	require.NoError(t, err)
	require.NotNil(t, got.LastMessageAt)
}

func TestSendByPeerIDCreatesConversationLazily(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()

	m, err := e.msgSvc.Send(ctx, 1, SendInput{PeerID: 2, Content: "first contact"})
	require.NoError(t, err)

	conv, err := e.convs.GetByID(ctx, m.ConversationID.Hex())
	require.NoError(t, err)
	assert.True(t, conv.HasParticipant(1))
	assert.True(t, conv.HasParticipant(2))
}

func TestSendValidatesPayloadPerKind(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()
	conv := mustConv(t, e, 1, 2)
	id := conv.ID.Hex()

	_, err := e.msgSvc.Send(ctx, 1, SendInput{ConversationID: id})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = e.msgSvc.Send(ctx, 1, SendInput{ConversationID: id, Kind: models.KindImage})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = e.msgSvc.Send(ctx, 1, SendInput{ConversationID: id, Kind: models.KindVoice, Voice: &models.VoicePayload{}})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = e.msgSvc.Send(ctx, 1, SendInput{ConversationID: id, Kind: models.KindLocation, Location: &models.LocationPayload{}})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = e.msgSvc.Send(ctx, 1, SendInput{ConversationID: id, Kind: "sticker", Content: "x"})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestSendByOutsiderForbidden(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()
	conv := mustConv(t, e, 1, 2)

	_, err := e.msgSvc.Send(ctx, 9, SendInput{ConversationID: conv.ID.Hex(), Content: "let me in"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestReplyMustTargetSameConversation(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()
	conv := mustConv(t, e, 1, 2)
	other := mustConv(t, e, 1, 3)

	orig, err := e.msgSvc.Send(ctx, 1, SendInput{ConversationID: conv.ID.Hex(), Content: "question"})
	require.NoError(t, err)

	reply, err := e.msgSvc.Send(ctx, 2, SendInput{
		ConversationID: conv.ID.Hex(),
		Content:        "answer",
		ReplyToID:      orig.ID.Hex(),
	})
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyToID)
	assert.Equal(t, orig.ID, *reply.ReplyToID)

	// reply target from another conversation is rejected
	_, err = e.msgSvc.Send(ctx, 1, SendInput{
		ConversationID: other.ID.Hex(),
		Content:        "cross",
		ReplyToID:      orig.ID.Hex(),
	})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestEditKeepsHistoryAndNewestContentWins(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()
	conv := mustConv(t, e, 1, 2)

	m, err := e.msgSvc.Send(ctx, 1, SendInput{ConversationID: conv.ID.Hex(), Content: "v1"})
	require.NoError(t, err)

	_, err = e.msgSvc.Edit(ctx, m.ID.Hex(), 1, "v2")
	require.NoError(t, err)
	edited, err := e.msgSvc.Edit(ctx, m.ID.Hex(), 1, "v3")
	require.NoError(t, err)

	assert.Equal(t, "v3", edited.Content)
	assert.True(t, edited.Edited)

	hist, err := e.msgSvc.EditHistory(ctx, m.ID.Hex(), 2)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	// newest first
	assert.Equal(t, "v2", hist[0].OldContent)
	assert.Equal(t, "v3", hist[0].NewContent)
	assert.Equal(t, "v1", hist[1].OldContent)
}

func TestEditOnlyBySenderWithinWindow(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()
	conv := mustConv(t, e, 1, 2)

	m, err := e.msgSvc.Send(ctx, 1, SendInput{ConversationID: conv.ID.Hex(), Content: "mine"})
	require.NoError(t, err)

	_, err = e.msgSvc.Edit(ctx, m.ID.Hex(), 2, "theirs")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	stale := insertAged(t, e, conv, 1, "old", 16*time.Minute)
	_, err = e.msgSvc.Edit(ctx, stale.ID.Hex(), 1, "too late")
	assert.ErrorIs(t, err, apperr.ErrWindowExpired)
}

func TestEditHistoryOfUntouchedMessageIsNotFound(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()
	conv := mustConv(t, e, 1, 2)

	m, err := e.msgSvc.Send(ctx, 1, SendInput{ConversationID: conv.ID.Hex(), Content: "pristine"})
	require.NoError(t, err)

	_, err = e.msgSvc.EditHistory(ctx, m.ID.Hex(), 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRecallRemovesForEveryoneWithinWindow(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()
	conv := mustConv(t, e, 1, 2)
	peer := e.connect(2, "p-1")

	m, err := e.msgSvc.Send(ctx, 1, SendInput{ConversationID: conv.ID.Hex(), Content: "oops"})
	require.NoError(t, err)
	drain(peer)

	require.NoError(t, e.msgSvc.Recall(ctx, m.ID.Hex(), 1))

	_, err = e.msgSvc.Get(ctx, m.ID.Hex(), 2)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	evs := drain(peer)
	require.Len(t, evs, 1)
	assert.Equal(t, hub.EventMessageRecalled, evs[0].Type)
}

func TestRecallWindowAndOwnership(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()
	conv := mustConv(t, e, 1, 2)

	m, err := e.msgSvc.Send(ctx, 1, SendInput{ConversationID: conv.ID.Hex(), Content: "keep"})
	require.NoError(t, err)

	assert.ErrorIs(t, e.msgSvc.Recall(ctx, m.ID.Hex(), 2), apperr.ErrForbidden)

	stale := insertAged(t, e, conv, 1, "aged", 11*time.Minute)
	assert.ErrorIs(t, e.msgSvc.Recall(ctx, stale.ID.Hex(), 1), apperr.ErrWindowExpired)

	// still readable after both failed attempts
	got, err := e.msgSvc.Get(ctx, m.ID.Hex(), 1)
	require.NoError(t, err)
	assert.Equal(t, "keep", got.Content)
}

func TestSoftDeleteMessageIsPerUserAndNotRepeatable(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()
	conv := mustConv(t, e, 1, 2)

	m, err := e.msgSvc.Send(ctx, 1, SendInput{ConversationID: conv.ID.Hex(), Content: "shared"})
	require.NoError(t, err)

	require.NoError(t, e.msgSvc.SoftDelete(ctx, m.ID.Hex(), 2))

	_, err = e.msgSvc.Get(ctx, m.ID.Hex(), 2)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	// unaffected for the other side
	got, err := e.msgSvc.Get(ctx, m.ID.Hex(), 1)
	require.NoError(t, err)
	assert.Equal(t, "shared", got.Content)

	err = e.msgSvc.SoftDelete(ctx, m.ID.Hex(), 2)
	assert.ErrorIs(t, err, apperr.ErrAlreadyDeleted)
}

func TestPinIsIdempotentAndVisibleToBoth(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()
	conv := mustConv(t, e, 1, 2)
	peer := e.connect(1, "s-1")

	m, err := e.msgSvc.Send(ctx, 2, SendInput{ConversationID: conv.ID.Hex(), Content: "important"})
	require.NoError(t, err)
	drain(peer)

	// either participant may pin
	pinned, err := e.msgSvc.Pin(ctx, m.ID.Hex(), 1, true)
	require.NoError(t, err)
	assert.True(t, pinned.Pinned)

	evs := drain(peer)
	require.Len(t, evs, 1)
	assert.Equal(t, hub.EventMessagePinned, evs[0].Type)

	// repeat pin is a quiet success
	again, err := e.msgSvc.Pin(ctx, m.ID.Hex(), 2, true)
	require.NoError(t, err)
	assert.True(t, again.Pinned)
	assert.Empty(t, drain(peer))

	list, err := e.msgSvc.ListPinned(ctx, conv.ID.Hex(), 2)
	require.NoError(t, err)
	require.Len(t, list, 1)

	unpinned, err := e.msgSvc.Pin(ctx, m.ID.Hex(), 2, false)
	require.NoError(t, err)
	assert.False(t, unpinned.Pinned)
}

func TestReactUpsertsOnePerUser(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()
	conv := mustConv(t, e, 1, 2)

	m, err := e.msgSvc.Send(ctx, 1, SendInput{ConversationID: conv.ID.Hex(), Content: "react to me"})
	require.NoError(t, err)
	id := m.ID.Hex()

	require.NoError(t, e.msgSvc.React(ctx, id, 2, "👍"))
	require.NoError(t, e.msgSvc.React(ctx, id, 2, "❤️"))
	require.NoError(t, e.msgSvc.React(ctx, id, 1, "👍"))

	got, err := e.msgs.GetByID(ctx, id)
	require.NoError(t, err)
	require.Len(t, got.Reactions, 2)
	assert.Equal(t, "❤️", got.Reactions[models.ReactionKey(2)].Emoji)
	assert.Equal(t, "👍", got.Reactions[models.ReactionKey(1)].Emoji)

	assert.ErrorIs(t, e.msgSvc.React(ctx, id, 2, ""), apperr.ErrValidation)

	require.NoError(t, e.msgSvc.RemoveReaction(ctx, id, 2))
	assert.ErrorIs(t, e.msgSvc.RemoveReaction(ctx, id, 2), apperr.ErrNotFound)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()
	conv := mustConv(t, e, 1, 2)

	m, err := e.msgSvc.Send(ctx, 1, SendInput{ConversationID: conv.ID.Hex(), Content: "read me"})
	require.NoError(t, err)

	already, err := e.msgSvc.MarkRead(ctx, m.ID.Hex(), 2)
	require.NoError(t, err)
	assert.False(t, already)

	already, err = e.msgSvc.MarkRead(ctx, m.ID.Hex(), 2)
	require.NoError(t, err)
	assert.True(t, already)

	got, err := e.msgs.GetByID(ctx, m.ID.Hex())
	require.NoError(t, err)
	require.Len(t, got.ReadBy, 1)

	n, err := e.msgs.CountUnread(ctx, conv.ID.Hex(), 2, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestForwardPartialSuccess(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()
	src := mustConv(t, e, 1, 2)
	ok := mustConv(t, e, 1, 3)
	blocked := mustConv(t, e, 1, 4)
	foreign := mustConv(t, e, 5, 6)

	require.NoError(t, e.convSvc.Block(ctx, blocked.ID.Hex(), 4, 1))

	m, err := e.msgSvc.Send(ctx, 2, SendInput{ConversationID: src.ID.Hex(), Content: "spread the word"})
	require.NoError(t, err)

	results, err := e.msgSvc.Forward(ctx, m.ID.Hex(), 1, []string{
		ok.ID.Hex(),
		blocked.ID.Hex(),
		foreign.ID.Hex(),
		"deadbeefdeadbeefdeadbeef",
	})
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Empty(t, results[0].Error)
	require.NotNil(t, results[0].Message)
	assert.Equal(t, "spread the word", results[0].Message.Content)
	require.NotNil(t, results[0].Message.Forward)
	assert.Equal(t, int64(2), results[0].Message.Forward.SenderID)
	assert.Equal(t, int64(1), results[0].Message.SenderID)

	assert.Equal(t, "sender is blocked", results[1].Error)
	assert.Equal(t, "not a participant", results[2].Error)
	assert.Equal(t, "conversation not found", results[3].Error)

	// forwarding the forward keeps the original provenance
	second, err := e.msgSvc.Forward(ctx, results[0].Message.ID.Hex(), 1, []string{src.ID.Hex()})
	require.NoError(t, err)
	require.NotNil(t, second[0].Message)
	assert.Equal(t, int64(2), second[0].Message.Forward.SenderID)
}

func TestListForViewerOrdersAndClamps(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()
	conv := mustConv(t, e, 1, 2)

	insertAged(t, e, conv, 1, "a", 3*time.Minute)
	insertAged(t, e, conv, 2, "b", 2*time.Minute)
	insertAged(t, e, conv, 1, "c", time.Minute)

	msgs, err := e.msgSvc.ListForViewer(ctx, conv.ID.Hex(), 1, 2, time.Time{})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "b", msgs[0].Content)
	assert.Equal(t, "c", msgs[1].Content)

	// paging backwards from the oldest returned message
	older, err := e.msgSvc.ListForViewer(ctx, conv.ID.Hex(), 1, 2, msgs[0].CreatedAt)
	require.NoError(t, err)
	require.Len(t, older, 1)
	assert.Equal(t, "a", older[0].Content)

	_, err = e.msgSvc.ListForViewer(ctx, conv.ID.Hex(), 9, 10, time.Time{})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestLocationMessageExpires(t *testing.T) {
	e := newTestEnv()
	ctx := context.Background()
	conv := mustConv(t, e, 1, 2)

	fired := make(chan func(), 1)
	e.msgSvc.afterFunc = func(d time.Duration, f func()) *time.Timer {
		fired <- f
		return time.NewTimer(time.Hour)
	}

	m, err := e.msgSvc.Send(ctx, 1, SendInput{
		ConversationID: conv.ID.Hex(),
		Kind:           models.KindLocation,
		Location:       &models.LocationPayload{Lat: 48.85, Lng: 2.35},
	})
	require.NoError(t, err)
	assert.Contains(t, m.Location.MapsURL, "maps?q=48.85")

	select {
	case f := <-fired:
		f()
	default:
		t.Fatal("expiry timer was not scheduled")
	}

	_, err = e.msgSvc.Get(ctx, m.ID.Hex(), 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
