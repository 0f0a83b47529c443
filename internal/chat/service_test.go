package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"uppy/chat/internal/auth"
	"uppy/chat/internal/rooms"
	"uppy/chat/internal/store"
	"uppy/chat/internal/types"
)

type testConn struct {
	id       string
	identity auth.Identity

	mu     sync.Mutex
	events []rooms.Event
}

func (c *testConn) ID() string              { return c.id }
func (c *testConn) Identity() auth.Identity { return c.identity }

func (c *testConn) Send(ev rooms.Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *testConn) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.Name)
	}
	return out
}

func (c *testConn) last(name string) (rooms.Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].Name == name {
			return c.events[i], true
		}
	}
	return rooms.Event{}, false
}

type fakeAuthz struct {
	mu    sync.Mutex
	owner map[string]string
	err   error
	calls int
}

func (f *fakeAuthz) Check(_ context.Context, conv, main string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return false, f.err
	}
	return f.owner[conv] == main, nil
}

type failingStore struct {
	putErr, historyErr error
}

func (f failingStore) Put(context.Context, types.Message) error { return f.putErr }

func (f failingStore) History(context.Context, string, int) ([]types.Message, error) {
	return nil, f.historyErr
}

func operations(id string) *testConn {
	return &testConn{id: id, identity: auth.Identity{Subject: "ops-" + id, Username: "ops " + id, Role: types.RoleOperations}}
}

func influencer(id, main string) *testConn {
	return &testConn{id: id, identity: auth.Identity{Subject: "inf-" + id, Username: "inf " + id, Role: types.RoleInfluencer, MainInfluencerID: main}}
}

func newService(t *testing.T, authz *fakeAuthz, ms store.MessageStore) *Service {
	t.Helper()
	if authz == nil {
		authz = &fakeAuthz{owner: map[string]string{"enr-1": "inf-main-1"}}
	}
	if ms == nil {
		ms = store.NewMemory(0)
	}
	s := NewService(rooms.NewHub(), authz, ms, Options{HistoryLimit: 50, MaxMessageLength: 10}, zap.NewNop())
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Millisecond)
		return clock
	}
	return s
}

func TestJoinSendsConfirmationHistoryAndNotice(t *testing.T) {
	ms := store.NewMemory(0)
	ctx := context.Background()
	for i, text := range []string{"first", "second", "third"} {
		require.NoError(t, ms.Put(ctx, types.Message{
			ID: text, ConversationID: "enr-1", Text: text,
			CreatedAt: types.Timestamp(time.Date(2024, 1, 1, 0, 0, i, 0, time.UTC)),
		}))
	}
	s := newService(t, nil, ms)

	a, b := operations("a"), operations("b")
	require.NoError(t, s.Join(ctx, a, "enr-1"))
	require.NoError(t, s.Join(ctx, b, "enr-1"))

	assert.Equal(t, []string{EventJoined, EventHistory, EventUserJoined}, a.names())
	assert.Equal(t, []string{EventJoined, EventHistory}, b.names())

	ev, ok := b.last(EventHistory)
	require.True(t, ok)
	hist := ev.Data.(historyPayload)
	assert.Equal(t, "enr-1", hist.EnrollmentID)
	require.Len(t, hist.Messages, 3)
	assert.Equal(t, "first", hist.Messages[0].Text)
	assert.Equal(t, "third", hist.Messages[2].Text)

	ev, _ = a.last(EventUserJoined)
	notice := ev.Data.(userJoinedPayload)
	assert.Equal(t, "ops-b", notice.User.ID)
	assert.Equal(t, types.RoleOperations, notice.User.Role)
	assert.Equal(t, "enr-1", notice.EnrollmentID)
}

func TestJoinAccessRules(t *testing.T) {
	authz := &fakeAuthz{owner: map[string]string{"enr-1": "inf-main-1"}}
	s := newService(t, authz, nil)
	ctx := context.Background()

	err := s.Join(ctx, operations("x"), "")
	assert.ErrorIs(t, err, MissingEnrollmentID)

	noMain := influencer("n", "")
	assert.ErrorIs(t, s.Join(ctx, noMain, "enr-1"), InvalidInfluencerConfig)
	assert.False(t, s.hub.IsMember("enr-1", "n"))
	assert.Empty(t, noMain.names())

	stranger := influencer("s", "inf-main-2")
	assert.ErrorIs(t, s.Join(ctx, stranger, "enr-1"), Denied)
	assert.Equal(t, 0, s.hub.Len())

	owner := influencer("o", "inf-main-1")
	require.NoError(t, s.Join(ctx, owner, "enr-1"))
	assert.True(t, s.hub.IsMember("enr-1", "o"))

	// operations never consults the authorizer
	calls := authz.calls
	require.NoError(t, s.Join(ctx, operations("ops"), "enr-unknown"))
	assert.Equal(t, calls, authz.calls)
}

func TestJoinFailsClosedOnLookupError(t *testing.T) {
	authz := &fakeAuthz{err: errors.New("boom")}
	s := newService(t, authz, nil)

	err := s.Join(context.Background(), influencer("o", "inf-main-1"), "enr-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, AccessUnverified)
	assert.Equal(t, "Error verifying access", PublicMessage(err))
	assert.Equal(t, 0, s.hub.Len())
}

func TestJoinDegradesHistoryErrors(t *testing.T) {
	s := newService(t, nil, failingStore{historyErr: store.ErrUnavailable})
	c := operations("a")
	require.NoError(t, s.Join(context.Background(), c, "enr-1"))

	ev, ok := c.last(EventHistory)
	require.True(t, ok)
	hist := ev.Data.(historyPayload)
	assert.NotNil(t, hist.Messages)
	assert.Empty(t, hist.Messages)
}

func TestLeave(t *testing.T) {
	s := newService(t, nil, nil)
	ctx := context.Background()
	c := operations("a")

	assert.ErrorIs(t, s.Leave(ctx, c, ""), MissingEnrollmentID)

	require.NoError(t, s.Leave(ctx, c, "enr-never"))
	assert.Equal(t, []string{EventLeft}, c.names())

	require.NoError(t, s.Join(ctx, c, "enr-1"))
	require.NoError(t, s.Leave(ctx, c, "enr-1"))
	assert.False(t, s.hub.IsMember("enr-1", "a"))
	assert.Equal(t, 0, s.hub.Len())
}

func TestSendValidation(t *testing.T) {
	s := newService(t, nil, nil)
	ctx := context.Background()
	c := operations("a")

	// field validation comes before the membership check
	assert.ErrorIs(t, s.Send(ctx, c, "", "hi"), MissingMessageFields)
	assert.ErrorIs(t, s.Send(ctx, c, "enr-1", ""), MissingMessageFields)
	assert.ErrorIs(t, s.Send(ctx, c, "enr-1", "hi"), NotJoined)

	require.NoError(t, s.Join(ctx, c, "enr-1"))
	assert.ErrorIs(t, s.Send(ctx, c, "enr-1", strings.Repeat("x", 11)), MessageTooLong)
	// limit counts runes, not bytes
	assert.NoError(t, s.Send(ctx, c, "enr-1", strings.Repeat("é", 10)))
}

func TestSendBroadcastsToEveryoneAndPersists(t *testing.T) {
	ms := store.NewMemory(0)
	s := newService(t, nil, ms)
	s.newID = func() string { return "msg-1" }
	ctx := context.Background()

	sender := influencer("o", "inf-main-1")
	peer := operations("p")
	outsider := operations("x")
	require.NoError(t, s.Join(ctx, sender, "enr-1"))
	require.NoError(t, s.Join(ctx, peer, "enr-1"))
	require.NoError(t, s.Join(ctx, outsider, "enr-2"))

	require.NoError(t, s.Send(ctx, sender, "enr-1", "hello"))

	for _, c := range []*testConn{sender, peer} {
		ev, ok := c.last(EventNewMessage)
		require.True(t, ok, c.id)
		msg := ev.Data.(NewMessage)
		assert.Equal(t, "msg-1", msg.ID)
		assert.Equal(t, "enr-1", msg.ConversationID)
		assert.Equal(t, "inf-o", msg.SenderID)
		assert.Equal(t, types.RoleInfluencer, msg.SenderType)
		assert.Equal(t, "inf o", msg.SenderUsername)
		assert.Equal(t, "hello", msg.Text)
		assert.Equal(t, "2024-05-01T12:00:00.001Z", msg.CreatedAt)
	}
	_, ok := outsider.last(EventNewMessage)
	assert.False(t, ok)

	hist, err := ms.History(ctx, "enr-1", 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "msg-1", hist[0].ID)
}

func TestSendDeliversWhenPersistFails(t *testing.T) {
	s := newService(t, nil, failingStore{putErr: errors.New("throttled")})
	ctx := context.Background()
	sender, peer := operations("a"), operations("b")
	require.NoError(t, s.Join(ctx, sender, "enr-1"))
	require.NoError(t, s.Join(ctx, peer, "enr-1"))

	require.NoError(t, s.Send(ctx, sender, "enr-1", "hi"))
	for _, c := range []*testConn{sender, peer} {
		ev, ok := c.last(EventNewMessage)
		require.True(t, ok, c.id)
		assert.Equal(t, "hi", ev.Data.(NewMessage).Text)
	}
}

func TestSendPersistsAfterCallerCancels(t *testing.T) {
	ms := store.NewMemory(0)
	s := newService(t, nil, ms)
	c := operations("a")
	require.NoError(t, s.Join(context.Background(), c, "enr-1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Send(ctx, c, "enr-1", "late"))

	hist, err := ms.History(context.Background(), "enr-1", 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "late", hist[0].Text)
}

func TestRejoinSeesOwnHistory(t *testing.T) {
	s := newService(t, nil, store.NewMemory(0))
	ctx := context.Background()
	c := operations("a")

	require.NoError(t, s.Join(ctx, c, "enr-1"))
	require.NoError(t, s.Send(ctx, c, "enr-1", "hello"))
	require.NoError(t, s.Send(ctx, c, "enr-1", "again"))
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Leave(ctx, c, "enr-1"))
	}
	require.NoError(t, s.Join(ctx, c, "enr-1"))

	assert.Equal(t, []string{
		EventJoined, EventHistory, EventNewMessage, EventNewMessage,
		EventLeft, EventLeft, EventLeft,
		EventJoined, EventHistory,
	}, c.names())
	ev, _ := c.last(EventHistory)
	hist := ev.Data.(historyPayload)
	require.Len(t, hist.Messages, 2)
	assert.Equal(t, "hello", hist.Messages[0].Text)
	assert.Equal(t, "again", hist.Messages[1].Text)
}

func TestSendRechecksAccess(t *testing.T) {
	authz := &fakeAuthz{owner: map[string]string{"enr-1": "inf-main-1"}}
	s := newService(t, authz, nil)
	ctx := context.Background()
	c := influencer("o", "inf-main-1")
	require.NoError(t, s.Join(ctx, c, "enr-1"))

	authz.mu.Lock()
	authz.owner["enr-1"] = "someone-else"
	authz.mu.Unlock()

	assert.ErrorIs(t, s.Send(ctx, c, "enr-1", "hi"), Denied)
	_, ok := c.last(EventNewMessage)
	assert.False(t, ok)
}

func TestMessageIDsAreUnique(t *testing.T) {
	s := newService(t, nil, nil)
	ctx := context.Background()
	c := operations("a")
	require.NoError(t, s.Join(ctx, c, "enr-1"))
	require.NoError(t, s.Send(ctx, c, "enr-1", "one"))
	require.NoError(t, s.Send(ctx, c, "enr-1", "two"))

	var ids []string
	c.mu.Lock()
	for _, ev := range c.events {
		if ev.Name == EventNewMessage {
			ids = append(ids, ev.Data.(NewMessage).ID)
		}
	}
	c.mu.Unlock()
	require.Len(t, ids, 2)
	assert.NotEqual(t, ids[0], ids[1])
}

func TestPublicMessage(t *testing.T) {
	assert.Equal(t, "You must join the conversation first", PublicMessage(NotJoined))
	assert.Equal(t, "enrollment_id and message_text are required", PublicMessage(MissingMessageFields))
	assert.Equal(t, "Internal server error", PublicMessage(errors.New("secret detail")))
}
