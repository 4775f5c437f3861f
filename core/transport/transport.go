// Package transport multiplexes named event channels over shared websocket
// listeners. One Instance exists per host:port; every Socket bound to that
// address shares its connections and addresses one channel on it.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

const (
	DefaultHost = "0.0.0.0"
	DefaultPort = 9889
	DefaultPath = "xqsocket"

	defaultWriteTimeout = 10 * time.Second
	defaultReadLimit    = 1 << 20
)

var (
	// ErrNoChannel is returned by NewSocket when no channel name is given.
	ErrNoChannel = errors.New("no channel was set")

	// ErrUnknownChannel is returned by Receive for an envelope addressed to a
	// channel nobody listens on.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrBadEnvelope is returned by Receive for a frame that is not an envelope.
	ErrBadEnvelope = errors.New("malformed envelope")
)

// Envelope is the JSON frame exchanged with clients.
type Envelope struct {
	EventName string `json:"eventName"`
	Channel   string `json:"channel"`
	Args      []any  `json:"args"`
}

func encode(channel, event string, args []any) ([]byte, error) {
	if args == nil {
		args = []any{}
	}
	b, err := json.Marshal(Envelope{EventName: event, Channel: channel, Args: args})
	if err != nil {
		return nil, fmt.Errorf("encode %s/%s: %w", channel, event, err)
	}
	return b, nil
}

// Peer is the write side of one client connection.
type Peer interface {
	WriteMessage(data []byte) error
	Close() error
}

// Observer is notified of connection and message traffic.
type Observer interface {
	ClientConnected()
	ClientDisconnected()
	MessageReceived(channel, event string)
	MessageSent(channel, event string, peers int)
	SendFailed(channel, event string)
}

// Conn is one registered client connection.
type Conn struct {
	ID          string
	Pathname    string
	ConnectedAt time.Time

	peer      Peer
	mu        sync.Mutex
	groups    map[string]bool
	closeOnce sync.Once
}

func (c *Conn) write(b []byte) error {
	if err := c.peer.WriteMessage(b); err != nil {
		return fmt.Errorf("conn %s: %w", c.ID, err)
	}
	return nil
}

// InGroup reports whether the connection is a member of group.
func (c *Conn) InGroup(group string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.groups[group]
}

// Groups returns the groups the connection belongs to, sorted.
func (c *Conn) Groups() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.groups))
	for g := range c.groups {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

func (c *Conn) setGroup(group string, member bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if member {
		if c.groups == nil {
			c.groups = make(map[string]bool)
		}
		c.groups[group] = true
		return
	}
	delete(c.groups, group)
}
