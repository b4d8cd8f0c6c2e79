package realtime

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"spark-client/internal/bus"
	"spark-client/internal/chat"
	"spark-client/internal/matches"
	"spark-client/internal/push"
	"spark-client/internal/storage"
	"spark-client/internal/unread"
	"spark-client/internal/view"
)

const self = 1

type backend struct {
	mu      sync.Mutex
	matches []matches.Match
	history map[int][]chat.Message
	reads   []int
}

func (b *backend) Matches(context.Context) ([]matches.Match, error) {
	return append([]matches.Match(nil), b.matches...), nil
}

func (b *backend) Conversation(_ context.Context, userID int) ([]chat.Message, error) {
	return append([]chat.Message(nil), b.history[userID]...), nil
}

func (b *backend) MarkRead(_ context.Context, userID int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reads = append(b.reads, userID)
	return nil
}

func (b *backend) Reads() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.reads...)
}

type nopSender struct{}

func (nopSender) Send(push.Outbound) error { return nil }

type harness struct {
	d       *Dispatcher
	chat    *chat.Service
	ledger  *unread.Ledger
	matches *matches.Service
	views   *view.Tracker
	backend *backend
	bus     *bus.Bus
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	b := bus.New()
	be := &backend{
		matches: []matches.Match{{UserID: 2, FullName: "Ana"}, {UserID: 3, FullName: "Bea"}},
		history: map[int][]chat.Message{
			2: {
				{SenderID: self, ReceiverID: 2, Content: "first"},
				{SenderID: 2, ReceiverID: self, Content: "reply"},
				{SenderID: self, ReceiverID: 2, Content: "second"},
			},
		},
	}
	store := storage.NewMemory()
	ledger := unread.New(store, be, b)
	chatSvc := chat.NewService(self, be, ledger, nopSender{}, b)
	matchSvc := matches.NewService(be, store, b)
	views := view.NewTracker(b)
	require.NoError(t, chatSvc.Load(ctx))
	require.NoError(t, matchSvc.Refresh(ctx))
	require.NoError(t, matchSvc.MarkViewed(ctx))
	t.Cleanup(func() {
		chatSvc.Close()
		matchSvc.Close()
		ledger.Close()
	})
	return &harness{
		d:       New(chatSvc, ledger, matchSvc, views, b),
		chat:    chatSvc,
		ledger:  ledger,
		matches: matchSvc,
		views:   views,
		backend: be,
		bus:     b,
	}
}

func TestNewMessage_UnfocusedMarksUnreadUntilFocused(t *testing.T) {
	h := newHarness(t)
	h.views.Focus(view.Discovery)

	var toasts []bus.MessageNotice
	bus.On(h.bus, func(e bus.MessageNotice) { toasts = append(toasts, e) })

	for _, text := range []string{"one", "two", "three"} {
		h.d.Handle(push.NewMessage{SenderID: 2, SenderName: "Ana", Content: text})
		require.True(t, h.ledger.IsUnread(2))
	}
	require.Len(t, toasts, 3)
	conv, ok := h.chat.Conversation(2)
	require.True(t, ok)
	require.True(t, conv.Unread)
	require.Equal(t, "three", conv.LastMessage)

	h.views.Focus(view.Chats)
	require.NoError(t, h.chat.Focus(context.Background(), 2))
	require.False(t, h.ledger.IsUnread(2))
}

func TestNewMessage_FocusedSendsMarkRead(t *testing.T) {
	h := newHarness(t)
	h.views.Focus(view.Chats)
	require.NoError(t, h.chat.Focus(context.Background(), 2))
	h.ledger.Wait()
	before := len(h.backend.Reads())

	var toasts []bus.MessageNotice
	bus.On(h.bus, func(e bus.MessageNotice) { toasts = append(toasts, e) })

	h.d.Handle(push.NewMessage{SenderID: 2, SenderName: "Ana", Content: "live"})
	h.ledger.Wait()

	require.False(t, h.ledger.IsUnread(2))
	require.Equal(t, []int{2}, h.backend.Reads()[before:])
	require.Empty(t, toasts)
	msgs := h.chat.Messages()
	require.Equal(t, "live", msgs[len(msgs)-1].Content)
}

func TestNewMessage_OtherConversationWhileChatting(t *testing.T) {
	h := newHarness(t)
	h.views.Focus(view.Chats)
	require.NoError(t, h.chat.Focus(context.Background(), 2))

	h.d.Handle(push.NewMessage{SenderID: 3, SenderName: "Bea", Content: "psst"})

	require.True(t, h.ledger.IsUnread(3))
	require.Len(t, h.chat.Messages(), 3)
}

func TestMessagesRead_FlipsOwnMessages(t *testing.T) {
	h := newHarness(t)
	h.views.Focus(view.Chats)
	require.NoError(t, h.chat.Focus(context.Background(), 2))

	h.d.Handle(push.MessagesRead{ReaderID: 2})

	for _, m := range h.chat.Messages() {
		require.Equal(t, m.SenderID == self, m.IsRead, m.Content)
	}
}

func TestNewMatch_RaisesIndicatorOutsideMatchesView(t *testing.T) {
	h := newHarness(t)

	h.views.Focus(view.Matches)
	h.d.Handle(push.NewMatch{})
	require.False(t, h.matches.HasNew())

	h.views.Focus(view.Discovery)
	h.d.Handle(push.NewMatch{})
	require.True(t, h.matches.HasNew())
}

func TestUserBlocked_RemovesCounterpartEverywhere(t *testing.T) {
	h := newHarness(t)
	h.views.Focus(view.Chats)
	ctx := context.Background()
	require.NoError(t, h.ledger.MarkUnread(ctx, 2))
	require.NoError(t, h.chat.Focus(ctx, 2))
	require.NoError(t, h.ledger.MarkUnread(ctx, 2))

	var notices []bus.Notice
	bus.On(h.bus, func(e bus.Notice) { notices = append(notices, e) })

	h.d.Handle(push.UserBlocked{BlockedBy: 2})

	_, ok := h.chat.Conversation(2)
	require.False(t, ok)
	require.Zero(t, h.chat.Active())
	require.Empty(t, h.chat.Messages())
	_, ok = h.matches.Get(2)
	require.False(t, ok)
	require.False(t, h.ledger.IsUnread(2))
	require.Len(t, notices, 1)
	require.Equal(t, bus.NoticeError, notices[0].Level)
}

func TestUnknownEventIgnored(t *testing.T) {
	h := newHarness(t)
	before := h.chat.Conversations()
	h.d.Handle(push.Unknown{Type: "typing"})
	require.Equal(t, before, h.chat.Conversations())
}
