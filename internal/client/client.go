// Package client implements the observing side of the bridge protocol: it
// binds a logical session to a websocket connection, feeds inbound events
// through protocol normalization into the aggregator, and sends submit
// requests outbound.
package client

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/bridgego-dev/bridgego/internal/aggregate"
	"github.com/bridgego-dev/bridgego/internal/protocol"
)

// ErrDisconnected is returned when submitting on a closed connection.
var ErrDisconnected = errors.New("not connected")

// Client manages one connection to the bridge server.
//
// Reconnecting starts from a fresh, empty transcript: the server does not
// replay events missed while disconnected. Event replay from a durable log
// is a possible server-side extension, not something the client can assume.
type Client struct {
	url    string
	dialer *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	state     *aggregate.State
	connected bool
	// run is the id of the run the current transcript belongs to. Events
	// carrying a different id mark a new run and reset the transcript;
	// late events from a superseded run fold into the old state, never
	// the new one.
	run string

	// onEvent, when set, observes every folded event.
	onEvent func(protocol.Event)
	// done is closed when the read loop exits.
	done chan struct{}
}

// New creates a client for the given websocket URL
// (e.g. ws://localhost:8000/ws/bridge).
func New(url string) *Client {
	return &Client{
		url:    url,
		dialer: websocket.DefaultDialer,
		state:  aggregate.NewState(),
	}
}

// OnEvent registers a hook observing each event after it is folded into the
// aggregate state. Replacing the hook mid-stream is safe.
func (c *Client) OnEvent(fn func(protocol.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvent = fn
}

// Connect dials the server and starts consuming the event stream.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c.conn = conn
	c.connected = true
	c.done = make(chan struct{})
	go c.readLoop(conn, c.done)
	return nil
}

// readLoop consumes events until the connection drops. Malformed events are
// logged and dropped; they are never fatal to the connection.
func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.markDisconnected(conn)
			return
		}
		ev, err := protocol.Decode(data)
		if err != nil {
			log.Printf("dropping malformed event: %v", err)
			continue
		}

		c.mu.Lock()
		if ev.Run != "" && ev.Run != c.run {
			c.run = ev.Run
			c.state = aggregate.NewState()
		}
		c.state.Fold(ev)
		hook := c.onEvent
		c.mu.Unlock()
		if hook != nil {
			hook(ev.Normalized())
		}
	}
}

func (c *Client) markDisconnected(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == conn {
		c.connected = false
	}
}

// Submit sends one query. The server cancels any in-flight run for this
// session and the new run's events arrive under a fresh run id; the
// transcript resets when that id is first seen, not here, so events still in
// flight from the superseded run cannot leak into the new transcript.
func (c *Client) Submit(req protocol.SubmitRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ErrDisconnected
	}
	return c.conn.WriteJSON(req)
}

// Connected reports whether the connection is live. While disconnected,
// submission is disabled.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// State returns a snapshot of the current aggregate state.
func (c *Client) State() aggregate.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Snapshot()
}

// Reconnect tears down any existing connection and dials again with an
// empty transcript.
func (c *Client) Reconnect(ctx context.Context) error {
	if err := c.Close(); err != nil {
		return err
	}
	c.mu.Lock()
	c.state = aggregate.NewState()
	c.run = ""
	c.mu.Unlock()
	return c.Connect(ctx)
}

// Close shuts the connection down and waits for the read loop to exit.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	done := c.done
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	if done != nil {
		<-done
	}
	return err
}
