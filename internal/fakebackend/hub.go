package fakebackend

import "log/slog"

type delivery struct {
	userID  int
	payload []byte
}

type query struct {
	userID int
	reply  chan bool
}

// hub owns the per-user connection map. Only run touches clients.
type hub struct {
	clients map[int]*client

	register   chan *client
	unregister chan *client
	deliver    chan delivery
	connected  chan query
	drop       chan int
	quit       chan struct{}
	done       chan struct{}

	log *slog.Logger
}

func newHub(log *slog.Logger) *hub {
	return &hub{
		clients:    make(map[int]*client),
		register:   make(chan *client),
		unregister: make(chan *client),
		deliver:    make(chan delivery),
		connected:  make(chan query),
		drop:       make(chan int),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		log:        log,
	}
}

func (h *hub) run() {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			// A newer connection for the same user replaces the old one.
			if old, ok := h.clients[c.userID]; ok {
				close(old.send)
			}
			h.clients[c.userID] = c
			h.log.Debug("push client registered", "user_id", c.userID)

		case c := <-h.unregister:
			if cur, ok := h.clients[c.userID]; ok && cur == c {
				delete(h.clients, c.userID)
				close(c.send)
			}

		case d := <-h.deliver:
			c, ok := h.clients[d.userID]
			if !ok {
				h.log.Debug("push dropped, user offline", "user_id", d.userID)
				continue
			}
			select {
			case c.send <- d.payload:
			default:
				h.log.Warn("push client too slow, disconnecting", "user_id", d.userID)
				delete(h.clients, d.userID)
				close(c.send)
			}

		case q := <-h.connected:
			_, ok := h.clients[q.userID]
			q.reply <- ok

		case id := <-h.drop:
			if c, ok := h.clients[id]; ok {
				delete(h.clients, id)
				close(c.send)
			}

		case <-h.quit:
			for id, c := range h.clients {
				delete(h.clients, id)
				close(c.send)
			}
			return
		}
	}
}

// send hands payload to the hub unless it has stopped.
func (h *hub) send(userID int, payload []byte) {
	select {
	case h.deliver <- delivery{userID: userID, payload: payload}:
	case <-h.done:
	}
}

func (h *hub) isConnected(userID int) bool {
	q := query{userID: userID, reply: make(chan bool, 1)}
	select {
	case h.connected <- q:
		return <-q.reply
	case <-h.done:
		return false
	}
}

func (h *hub) disconnect(userID int) {
	select {
	case h.drop <- userID:
	case <-h.done:
	}
}

func (h *hub) leave(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *hub) stop() {
	close(h.quit)
	<-h.done
}
