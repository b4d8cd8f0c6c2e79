package bus

const (
	TopicUnreadChanged      Topic = "unread_changed"
	TopicMessageNotice      Topic = "message_notice"
	TopicMatchIndicator     Topic = "match_indicator"
	TopicCounterpartRemoved Topic = "counterpart_removed"
	TopicNotice             Topic = "notice"
	TopicViewChanged        Topic = "view_changed"
	TopicSessionChanged     Topic = "session_changed"
	TopicMessagesChanged    Topic = "messages_changed"
)

// UnreadChanged fires whenever a user id enters or leaves the unread ledger.
type UnreadChanged struct {
	UserID int
	Unread bool
	Count  int
}

func (UnreadChanged) Topic() Topic { return TopicUnreadChanged }

// MessageNotice asks the view layer to show a transient "new message" toast.
type MessageNotice struct {
	SenderID   int
	SenderName string
	Content    string
}

func (MessageNotice) Topic() Topic { return TopicMessageNotice }

type MatchIndicator struct {
	HasNew bool
}

func (MatchIndicator) Topic() Topic { return TopicMatchIndicator }

// RemovalReason says who ended the relation.
type RemovalReason string

const (
	BlockedByPeer RemovalReason = "blocked_by_peer"
	BlockedBySelf RemovalReason = "blocked_by_self"
)

// CounterpartRemoved tells every cache to forget UserID.
type CounterpartRemoved struct {
	UserID int
	Reason RemovalReason
}

func (CounterpartRemoved) Topic() Topic { return TopicCounterpartRemoved }

type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeError   NoticeLevel = "error"
)

// Notice is a non-fatal, user-facing message.
type Notice struct {
	Level NoticeLevel
	Text  string
}

func (Notice) Topic() Topic { return TopicNotice }

type ViewChanged struct {
	From string
	To   string
}

func (ViewChanged) Topic() Topic { return TopicViewChanged }

type SessionChanged struct {
	Authenticated bool
	UserID        int
}

func (SessionChanged) Topic() Topic { return TopicSessionChanged }

// MessagesChanged fires when the active conversation's message list changes.
type MessagesChanged struct {
	CounterpartID int
	Count         int
}

func (MessagesChanged) Topic() Topic { return TopicMessagesChanged }
