package push

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"spark-client/internal/apperr"
	"spark-client/internal/metrics"
)

type wsServer struct {
	*httptest.Server
	mu       sync.Mutex
	conns    []*websocket.Conn
	accepts  atomic.Int32
	received chan []byte
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{received: make(chan []byte, 16)}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		s.accepts.Add(1)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.received <- data
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/chat/ws/1"
}

func (s *wsServer) latest(t *testing.T) *websocket.Conn {
	t.Helper()
	var conn *websocket.Conn
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if len(s.conns) == 0 {
			return false
		}
		conn = s.conns[len(s.conns)-1]
		return true
	}, time.Second, 5*time.Millisecond)
	return conn
}

func (s *wsServer) push(t *testing.T, frame string) {
	t.Helper()
	require.NoError(t, s.latest(t).WriteMessage(websocket.TextMessage, []byte(frame)))
}

func (s *wsServer) drop(t *testing.T) {
	t.Helper()
	s.latest(t).Close()
}

type countingRecorder struct {
	metrics.Nop
	reconnects  atomic.Int32
	sendDropped atomic.Int32
}

func (r *countingRecorder) RecordReconnect()   { r.reconnects.Add(1) }
func (r *countingRecorder) RecordSendDropped() { r.sendDropped.Add(1) }

func TestDecode(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"new_message","sender_id":4,"sender_name":"Ana","content":"hey","timestamp":"2024-05-01T10:00:00.123456"}`))
	require.NoError(t, err)
	msg, ok := ev.(NewMessage)
	require.True(t, ok)
	require.Equal(t, 4, msg.SenderID)
	require.Equal(t, "Ana", msg.SenderName)
	require.Equal(t, "hey", msg.Content)
	require.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 123456000, time.UTC), msg.Timestamp.Time)

	ev, err = Decode([]byte(`{"type":"messages_read","reader_id":9}`))
	require.NoError(t, err)
	require.Equal(t, MessagesRead{ReaderID: 9}, ev)

	ev, err = Decode([]byte(`{"type":"user_blocked","blocked_by":3}`))
	require.NoError(t, err)
	require.Equal(t, UserBlocked{BlockedBy: 3}, ev)

	ev, err = Decode([]byte(`{"type":"new_match"}`))
	require.NoError(t, err)
	require.Equal(t, TagNewMatch, ev.Tag())

	ev, err = Decode([]byte(`{"type":"typing","user_id":2}`))
	require.NoError(t, err)
	require.Equal(t, Tag("typing"), ev.Tag())

	ev, err = Decode([]byte(`{"content":"no type"}`))
	require.NoError(t, err)
	require.IsType(t, Unknown{}, ev)

	_, err = Decode([]byte(`not json`))
	require.Error(t, err)
}

func TestEncodeAddsType(t *testing.T) {
	b, err := Encode(UserBlocked{BlockedBy: 12})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"user_blocked","blocked_by":12}`, string(b))
}

func TestPolicyDelay(t *testing.T) {
	p := Policy{Initial: time.Second, Max: 5 * time.Second, Multiplier: 2, MaxAttempts: 10}
	require.Equal(t, time.Duration(0), p.Delay(0))
	require.Equal(t, time.Second, p.Delay(1))
	require.Equal(t, 2*time.Second, p.Delay(2))
	require.Equal(t, 4*time.Second, p.Delay(3))
	require.Equal(t, 5*time.Second, p.Delay(4))
	require.Equal(t, 5*time.Second, p.Delay(40))

	require.Equal(t, time.Duration(0), Policy{}.Delay(3))
}

func TestChannelDeliversInArrivalOrder(t *testing.T) {
	srv := newWSServer(t)
	got := make(chan Event, 8)
	ch := NewChannel(srv.url(), nil, func(ev Event) { got <- ev })
	require.Equal(t, Connecting, ch.State())

	require.NoError(t, ch.Open(context.Background()))
	t.Cleanup(func() { ch.Close() })
	require.Equal(t, Open, ch.State())

	srv.push(t, `{"type":"new_message","sender_id":1,"sender_name":"A","content":"one","timestamp":"2024-05-01T10:00:00"}`)
	srv.push(t, `{"type":"messages_read","reader_id":1}`)
	srv.push(t, `garbage`)
	srv.push(t, `{"type":"new_message","sender_id":1,"sender_name":"A","content":"two","timestamp":"2024-05-01T10:00:01"}`)

	var events []Event
	for len(events) < 3 {
		select {
		case ev := <-got:
			events = append(events, ev)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d events", len(events))
		}
	}
	require.Equal(t, "one", events[0].(NewMessage).Content)
	require.Equal(t, TagMessagesRead, events[1].Tag())
	require.Equal(t, "two", events[2].(NewMessage).Content)
}

func TestChannelSendWritesOneFramePerMessage(t *testing.T) {
	srv := newWSServer(t)
	ch := NewChannel(srv.url(), nil, nil)
	require.NoError(t, ch.Open(context.Background()))
	t.Cleanup(func() { ch.Close() })

	require.NoError(t, ch.Send(Outbound{ReceiverID: 7, Content: "hi"}))
	require.NoError(t, ch.Send(Outbound{ReceiverID: 7, Content: "again"}))

	for _, want := range []string{
		`{"receiver_id":7,"content":"hi"}`,
		`{"receiver_id":7,"content":"again"}`,
	} {
		select {
		case frame := <-srv.received:
			require.JSONEq(t, want, string(frame))
			require.NotContains(t, string(frame), "\n")
		case <-time.After(time.Second):
			t.Fatal("frame not received")
		}
	}
}

func TestChannelSendRequiresOpen(t *testing.T) {
	srv := newWSServer(t)
	rec := &countingRecorder{}
	ch := NewChannel(srv.url(), nil, nil, WithMetrics(rec))

	require.ErrorIs(t, ch.Send(Outbound{ReceiverID: 1, Content: "early"}), ErrNotOpen)

	require.NoError(t, ch.Open(context.Background()))
	require.NoError(t, ch.Close())
	require.Equal(t, Closed, ch.State())

	require.ErrorIs(t, ch.Send(Outbound{ReceiverID: 1, Content: "late"}), ErrNotOpen)
	require.Equal(t, int32(2), rec.sendDropped.Load())

	select {
	case <-ch.Done():
	case <-time.After(time.Second):
		t.Fatal("channel not done after close")
	}
	require.NoError(t, ch.Err())
}

func TestChannelServerDropIsError(t *testing.T) {
	srv := newWSServer(t)
	ch := NewChannel(srv.url(), nil, nil)
	require.NoError(t, ch.Open(context.Background()))

	srv.drop(t)

	select {
	case <-ch.Done():
	case <-time.After(time.Second):
		t.Fatal("channel did not notice drop")
	}
	require.Equal(t, Errored, ch.State())
	require.True(t, apperr.IsChannel(ch.Err()))
}

func TestChannelDialFailure(t *testing.T) {
	srv := newWSServer(t)
	url := srv.url()
	srv.Close()

	ch := NewChannel(url, nil, nil)
	err := ch.Open(context.Background())
	require.Error(t, err)
	require.True(t, apperr.IsChannel(err))
	require.Equal(t, Errored, ch.State())
	<-ch.Done()
}

func TestSupervisorReconnectsAfterDrop(t *testing.T) {
	srv := newWSServer(t)
	rec := &countingRecorder{}
	var states []State
	var mu sync.Mutex
	sup := NewSupervisor(func() *Channel {
		return NewChannel(srv.url(), nil, nil)
	}, Policy{Initial: 10 * time.Millisecond, Max: 40 * time.Millisecond, Multiplier: 2, MaxAttempts: 3},
		WithSupervisorMetrics(rec),
		WithStateHook(func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		}))

	require.NoError(t, sup.Start(context.Background()))
	t.Cleanup(sup.Stop)
	require.Equal(t, Open, sup.State())

	first := sup.Current()
	srv.drop(t)

	require.Eventually(t, func() bool {
		return srv.accepts.Load() == 2 && sup.State() == Open
	}, 2*time.Second, 5*time.Millisecond)
	require.NotSame(t, first, sup.Current())
	require.Equal(t, int32(1), rec.reconnects.Load())

	mu.Lock()
	require.Equal(t, []State{Open, Errored, Open}, states)
	mu.Unlock()

	require.NoError(t, sup.Send(Outbound{ReceiverID: 2, Content: "after reconnect"}))
	select {
	case frame := <-srv.received:
		require.JSONEq(t, `{"receiver_id":2,"content":"after reconnect"}`, string(frame))
	case <-time.After(time.Second):
		t.Fatal("frame not received after reconnect")
	}
}

func TestSupervisorWithoutRetriesStaysDown(t *testing.T) {
	srv := newWSServer(t)
	sup := NewSupervisor(func() *Channel {
		return NewChannel(srv.url(), nil, nil)
	}, Policy{})

	require.NoError(t, sup.Start(context.Background()))
	t.Cleanup(sup.Stop)
	srv.drop(t)

	require.Eventually(t, func() bool { return sup.State() == Errored }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(1), srv.accepts.Load())
	require.ErrorIs(t, sup.Send(Outbound{ReceiverID: 1, Content: "x"}), ErrNotOpen)
}

func TestSupervisorStop(t *testing.T) {
	srv := newWSServer(t)
	sup := NewSupervisor(func() *Channel {
		return NewChannel(srv.url(), nil, nil)
	}, DefaultPolicy())

	require.ErrorIs(t, sup.Send(Outbound{ReceiverID: 1, Content: "x"}), ErrNotOpen)
	require.Equal(t, Closed, sup.State())

	require.NoError(t, sup.Start(context.Background()))
	sup.Stop()
	sup.Stop()

	require.Equal(t, Closed, sup.State())
	require.ErrorIs(t, sup.Send(Outbound{ReceiverID: 1, Content: "x"}), ErrNotOpen)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(1), srv.accepts.Load())
}

func TestSupervisorOutlivesStartContext(t *testing.T) {
	srv := newWSServer(t)
	sup := NewSupervisor(func() *Channel {
		return NewChannel(srv.url(), nil, nil)
	}, Policy{Initial: 10 * time.Millisecond, Max: 40 * time.Millisecond, Multiplier: 2, MaxAttempts: 3})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	require.NoError(t, sup.Start(ctx))
	t.Cleanup(sup.Stop)
	cancel()

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, Open, sup.State(), "cancelling the start context must not close the channel")

	srv.drop(t)
	require.Eventually(t, func() bool {
		return srv.accepts.Load() == 2 && sup.State() == Open
	}, 2*time.Second, 5*time.Millisecond, "reconnects continue after the start context ends")
}
