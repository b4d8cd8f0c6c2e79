package bus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublish_DeliversInSubscriptionOrder(t *testing.T) {
	b := New()
	var got []string
	b.Subscribe(TopicNotice, func(Event) { got = append(got, "first") })
	b.Subscribe(TopicNotice, func(Event) { got = append(got, "second") })
	b.Subscribe(TopicMatchIndicator, func(Event) { got = append(got, "other topic") })

	b.Publish(Notice{Level: NoticeInfo, Text: "hi"})

	require.Equal(t, []string{"first", "second"}, got)
}

func TestPublish_KeepsPublishOrder(t *testing.T) {
	b := New()
	var ids []int
	On(b, func(e UnreadChanged) { ids = append(ids, e.UserID) })

	for _, id := range []int{4, 2, 9, 2} {
		b.Publish(UnreadChanged{UserID: id, Unread: true})
	}

	require.Equal(t, []int{4, 2, 9, 2}, ids)
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	calls := 0
	unsub := On(b, func(MatchIndicator) { calls++ })

	b.Publish(MatchIndicator{HasNew: true})
	unsub()
	unsub()
	b.Publish(MatchIndicator{HasNew: true})

	require.Equal(t, 1, calls)
}

func TestUnsubscribe_KeepsOtherHandlers(t *testing.T) {
	b := New()
	var got []string
	first := b.Subscribe(TopicNotice, func(Event) { got = append(got, "a") })
	b.Subscribe(TopicNotice, func(Event) { got = append(got, "b") })

	first()
	b.Publish(Notice{})

	require.Equal(t, []string{"b"}, got)
}

func TestHandlerMayPublish(t *testing.T) {
	b := New()
	var notices []string
	On(b, func(e CounterpartRemoved) {
		b.Publish(Notice{Level: NoticeError, Text: "gone"})
	})
	On(b, func(e Notice) { notices = append(notices, e.Text) })

	b.Publish(CounterpartRemoved{UserID: 3, Reason: BlockedByPeer})

	require.Equal(t, []string{"gone"}, notices)
}

func TestNilBusPublish(t *testing.T) {
	var b *Bus
	require.NotPanics(t, func() { b.Publish(Notice{}) })
}
