package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"spark-client/internal/apperr"
	"spark-client/internal/bus"
	"spark-client/internal/jsontime"
	"spark-client/internal/logger"
	"spark-client/internal/matches"
	"spark-client/internal/push"
)

const conversationGone = "Conversation no longer available"

// Backend is the subset of the API the chat cache reads from.
type Backend interface {
	Matches(ctx context.Context) ([]matches.Match, error)
	Conversation(ctx context.Context, userID int) ([]Message, error)
}

// Ledger is the unread set shared with the dispatcher.
type Ledger interface {
	IsUnread(userID int) bool
	MarkRead(ctx context.Context, userID int) error
}

// Sender transmits an outbound frame on the push channel.
type Sender interface {
	Send(out push.Outbound) error
}

// Service holds the conversation list and, while one is open, the active
// conversation's messages.
type Service struct {
	self    int
	backend Backend
	ledger  Ledger
	sender  Sender
	bus     *bus.Bus
	log     *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	convs    []Conversation
	active   int
	messages []Message
	gen      uint64
	unsubs   []func()
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = logger.OrDefault(l) }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds the chat cache for the user with id self.
func NewService(self int, backend Backend, ledger Ledger, sender Sender, b *bus.Bus, opts ...Option) *Service {
	s := &Service{
		self:    self,
		backend: backend,
		ledger:  ledger,
		sender:  sender,
		bus:     b,
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.unsubs = append(s.unsubs,
		bus.On(b, func(e bus.CounterpartRemoved) { s.remove(e) }),
		bus.On(b, func(e bus.UnreadChanged) { s.setUnread(e.UserID, e.Unread) }),
	)
	return s
}

// Load rebuilds the conversation list from the match list.
func (s *Service) Load(ctx context.Context) error {
	list, err := s.backend.Matches(ctx)
	if err != nil {
		return fmt.Errorf("chat: load conversations: %w", err)
	}
	convs := make([]Conversation, 0, len(list))
	for _, m := range list {
		convs = append(convs, Conversation{
			UserID:      m.UserID,
			FullName:    m.FullName,
			Image:       m.Image,
			LastMessage: preview(m.LastMessage),
			Unread:      s.ledger.IsUnread(m.UserID),
		})
	}
	s.mu.Lock()
	s.convs = convs
	s.mu.Unlock()
	return nil
}

func (s *Service) Conversations() []Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Conversation(nil), s.convs...)
}

func (s *Service) Conversation(userID int) (Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(userID); i >= 0 {
		return s.convs[i], true
	}
	return Conversation{}, false
}

// Active is the counterpart of the open conversation, or 0.
func (s *Service) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Service) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// Focus opens the conversation with userID: it is marked read and its
// history is fetched. A history response that arrives after focus has
// moved on is discarded.
func (s *Service) Focus(ctx context.Context, userID int) error {
	s.mu.Lock()
	i := s.indexLocked(userID)
	if i < 0 {
		s.mu.Unlock()
		return apperr.Reject("chat: focus", fmt.Sprintf("no conversation with user %d", userID))
	}
	s.active = userID
	s.messages = nil
	s.convs[i].Unread = false
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	if err := s.ledger.MarkRead(ctx, userID); err != nil {
		s.log.Warn("unread ledger update failed", "user_id", userID, "err", err)
	}

	history, err := s.backend.Conversation(ctx, userID)
	if err != nil {
		s.log.Warn("conversation history fetch failed", "user_id", userID, "err", err)
		return fmt.Errorf("chat: history: %w", err)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		s.log.Debug("discarding stale conversation history", "user_id", userID)
		return nil
	}
	s.messages = history
	count := len(history)
	s.mu.Unlock()

	s.bus.Publish(bus.MessagesChanged{CounterpartID: userID, Count: count})
	return nil
}

// Blur closes the active conversation and drops its messages.
func (s *Service) Blur() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = 0
	s.messages = nil
	s.gen++
}

// Send appends content to the active conversation and then transmits it.
// If the push channel refuses the frame the message stays in the list,
// flagged Unsent, and a ChannelFailure is returned; it is not retried.
func (s *Service) Send(content string) (Message, error) {
	if strings.TrimSpace(content) == "" {
		return Message{}, apperr.Reject("chat: send", "empty message")
	}

	s.mu.Lock()
	to := s.active
	if to == 0 {
		s.mu.Unlock()
		return Message{}, apperr.Reject("chat: send", "no open conversation")
	}
	msg := Message{
		SenderID:   s.self,
		ReceiverID: to,
		Content:    content,
		Timestamp:  jsontime.New(s.now().UTC()),
		LocalID:    uuid.NewString(),
	}
	s.messages = append(s.messages, msg)
	s.touchLocked(to, "", content)
	gen := s.gen
	s.mu.Unlock()

	sendErr := s.sender.Send(push.Outbound{ReceiverID: to, Content: content})
	if sendErr != nil {
		msg.Unsent = true
		s.mu.Lock()
		if s.gen == gen {
			for i := range s.messages {
				if s.messages[i].LocalID == msg.LocalID {
					s.messages[i].Unsent = true
				}
			}
		}
		s.mu.Unlock()
		s.log.Warn("message dropped, push channel unavailable", "receiver_id", to, "err", sendErr)
	}

	s.bus.Publish(bus.MessagesChanged{CounterpartID: to, Count: len(s.Messages())})
	if sendErr != nil {
		return msg, apperr.Channel("chat: send", sendErr)
	}
	return msg, nil
}

// ApplyIncoming records an inbound message: the sender's conversation gets
// the new preview and moves to the top, and if it is the open conversation
// the message is appended. It reports whether the sender was focused.
func (s *Service) ApplyIncoming(ev push.NewMessage) bool {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = jsontime.New(s.now().UTC())
	}

	s.mu.Lock()
	focused := s.active == ev.SenderID
	s.touchLocked(ev.SenderID, ev.SenderName, ev.Content)
	if focused {
		s.messages = append(s.messages, Message{
			SenderID:   ev.SenderID,
			ReceiverID: s.self,
			Content:    ev.Content,
			Timestamp:  ts,
		})
	}
	count := len(s.messages)
	s.mu.Unlock()

	if focused {
		s.bus.Publish(bus.MessagesChanged{CounterpartID: ev.SenderID, Count: count})
	}
	return focused
}

// ApplyRead marks this user's messages in the open conversation as read.
// readerID of 0 means the frame did not name a reader. It returns how many
// messages changed.
func (s *Service) ApplyRead(readerID int) int {
	s.mu.Lock()
	active := s.active
	if active == 0 || (readerID != 0 && readerID != active) {
		s.mu.Unlock()
		return 0
	}
	flipped := 0
	for i := range s.messages {
		if s.messages[i].SenderID == s.self && !s.messages[i].IsRead {
			s.messages[i].IsRead = true
			flipped++
		}
	}
	count := len(s.messages)
	s.mu.Unlock()

	if flipped > 0 {
		s.bus.Publish(bus.MessagesChanged{CounterpartID: active, Count: count})
	}
	return flipped
}

func (s *Service) Close() {
	for _, unsub := range s.unsubs {
		unsub()
	}
}

func (s *Service) remove(e bus.CounterpartRemoved) {
	s.mu.Lock()
	if i := s.indexLocked(e.UserID); i >= 0 {
		s.convs = append(s.convs[:i], s.convs[i+1:]...)
	}
	wasOpen := s.active == e.UserID
	if wasOpen {
		s.active = 0
		s.messages = nil
		s.gen++
	}
	s.mu.Unlock()

	if wasOpen && e.Reason == bus.BlockedByPeer {
		s.bus.Publish(bus.Notice{Level: bus.NoticeError, Text: conversationGone})
	}
}

func (s *Service) setUnread(userID int, unread bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(userID); i >= 0 {
		s.convs[i].Unread = unread
	}
}

// touchLocked updates the preview of userID's conversation and moves it to
// the top, creating it if it is not cached yet.
func (s *Service) touchLocked(userID int, name, content string) {
	conv := Conversation{UserID: userID, FullName: name, Unread: s.ledger.IsUnread(userID)}
	if i := s.indexLocked(userID); i >= 0 {
		conv = s.convs[i]
		s.convs = append(s.convs[:i], s.convs[i+1:]...)
	}
	conv.LastMessage = preview(content)
	s.convs = append([]Conversation{conv}, s.convs...)
}

func (s *Service) indexLocked(userID int) int {
	for i, c := range s.convs {
		if c.UserID == userID {
			return i
		}
	}
	return -1
}
