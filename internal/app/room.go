package app

import (
	"sync"

	"quiznight-service/internal/domain"
)

// Role distinguishes the single presenter connection from participant teams.
type Role string

const (
	RolePresenter Role = "presenter"
	RoleTeam      Role = "team"
)

// Client is one connected socket's delivery target. The transport layer
// drains Events and writes them to the wire; the room never blocks on a
// slow client.
type Client struct {
	role   Role
	teamID string
	send   chan domain.Event
}

func (c *Client) Role() Role             { return c.role }
func (c *Client) TeamID() string         { return c.teamID }
func (c *Client) Events() <-chan domain.Event { return c.send }

// Room is the set of sockets currently attached to a session code.
// Attaching and detaching never touch team or session data; a room member
// is purely a broadcast destination.
type Room struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	closed  bool
}

func newRoom() *Room {
	return &Room{clients: make(map[*Client]struct{})}
}

func (r *Room) attach(role Role, teamID string) *Client {
	c := &Client{role: role, teamID: teamID, send: make(chan domain.Event, 16)}
	r.mu.Lock()
	if !r.closed {
		r.clients[c] = struct{}{}
	}
	r.mu.Unlock()
	return c
}

func (r *Room) detach(c *Client) {
	r.mu.Lock()
	if _, ok := r.clients[c]; ok {
		delete(r.clients, c)
		close(c.send)
	}
	r.mu.Unlock()
}

// broadcast delivers ev to every attached socket.
func (r *Room) broadcast(ev domain.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for c := range r.clients {
		deliver(c, ev)
	}
}

// toPresenter delivers ev to presenter sockets only. More than one
// presenter view may be attached (a refreshed browser, a second screen).
func (r *Room) toPresenter(ev domain.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for c := range r.clients {
		if c.role == RolePresenter {
			deliver(c, ev)
		}
	}
}

// to delivers ev to a single socket.
func (r *Room) to(c *Client, ev domain.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.clients[c]; ok {
		deliver(c, ev)
	}
}

// closeAll detaches every socket; used when the session ends.
func (r *Room) closeAll() {
	r.mu.Lock()
	for c := range r.clients {
		delete(r.clients, c)
		close(c.send)
	}
	r.closed = true
	r.mu.Unlock()
}

// deliver never blocks: when a client's buffer is full the oldest event is
// dropped so one stalled socket cannot hold up the room.
func deliver(c *Client, ev domain.Event) {
	select {
	case c.send <- ev:
	default:
		select {
		case <-c.send:
		default:
		}
		select {
		case c.send <- ev:
		default:
		}
	}
}
