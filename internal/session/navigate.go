package session

import (
	"context"

	"spark-client/internal/discovery"
	"spark-client/internal/push"
	"spark-client/internal/view"
)

// Navigate moves focus to v and refreshes what that view shows, the way
// mounting the view would. Leaving the chats view closes the open
// conversation.
func (s *Session) Navigate(ctx context.Context, v view.View) error {
	l, err := s.current()
	if err != nil {
		return err
	}

	prev := s.Views.Focus(v)
	if prev == view.Chats && v != view.Chats {
		l.chat.Blur()
	}

	switch v {
	case view.Discovery:
		return l.discovery.Load(ctx)
	case view.Matches:
		if err := l.matches.Refresh(ctx); err != nil {
			s.log.Warn("match list not refreshed", "err", err)
		}
		return l.matches.MarkViewed(ctx)
	case view.Chats:
		return l.chat.Load(ctx)
	}
	return nil
}

// OpenChat switches to the chats view with userID's conversation open.
func (s *Session) OpenChat(ctx context.Context, userID int) error {
	if err := s.Navigate(ctx, view.Chats); err != nil {
		return err
	}
	l, err := s.current()
	if err != nil {
		return err
	}
	return l.chat.Focus(ctx, userID)
}

// Snapshot is a JSON-friendly summary of the session for inspection.
type Snapshot struct {
	Authenticated      bool                `json:"authenticated"`
	UserID             int                 `json:"user_id,omitempty"`
	View               string              `json:"view"`
	Channel            string              `json:"channel"`
	Unread             []int               `json:"unread"`
	Conversations      int                 `json:"conversations"`
	ActiveConversation int                 `json:"active_conversation,omitempty"`
	Matches            int                 `json:"matches"`
	HasNewMatch        bool                `json:"has_new_match"`
	Discovery          *discovery.Snapshot `json:"discovery,omitempty"`
}

func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		View:    string(s.Views.Current()),
		Channel: push.Closed.String(),
		Unread:  s.Ledger.List(),
	}
	l, err := s.current()
	if err != nil {
		return snap
	}
	d := l.discovery.Snapshot()
	snap.Authenticated = true
	snap.UserID = l.user.ID
	snap.Channel = l.push.State().String()
	snap.Conversations = len(l.chat.Conversations())
	snap.ActiveConversation = l.chat.Active()
	snap.Matches = len(l.matches.List())
	snap.HasNewMatch = l.matches.HasNew()
	snap.Discovery = &d
	return snap
}
