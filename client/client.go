// Package client provides the client side of the duplex channel: the
// connection handler with reconnect, the streaming buffer, and the
// conversation view that reconciles persisted, optimistic and streaming
// state.
package client

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xuanyiying/ai-ace-job-sub001/domain"
	"github.com/xuanyiying/ai-ace-job-sub001/protocol"
)

// Options configures a Client.
type Options struct {
	// Token is the bearer credential presented at connect time.
	Token string
	// ReconnectMax bounds automatic reconnect attempts after a dropped
	// connection. Zero disables reconnection.
	ReconnectMax int
	// ReconnectBase is the delay before the first reconnect attempt; each
	// attempt doubles it.
	ReconnectBase time.Duration
	// Handler receives every server event after the client's own state has
	// been updated. Called from the read loop goroutine.
	Handler func(domain.StreamEvent)
	// HandshakeTimeout bounds the wait for the connected event.
	HandshakeTimeout time.Duration
}

// State is a snapshot of the client's derived state.
type State struct {
	Connected        bool
	IsStreaming      bool
	StreamingContent string
	Err              string
}

// Client maintains the duplex channel to the server and accumulates
// streamed chunks into a buffer. The buffer grows monotonically during a
// generation and survives disconnects; it is cleared only by Reset or a
// cancel.
type Client struct {
	url  string
	opts Options

	writeMu sync.Mutex

	mu             sync.Mutex
	conn           *websocket.Conn
	connected      bool
	streaming      bool
	cancelled      bool
	buf            strings.Builder
	errMsg         string
	conversationID string

	closed    chan struct{}
	closeOnce sync.Once
}

// Dial connects to the server, performs the handshake and starts the read
// loop.
func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.ReconnectBase == 0 {
		opts.ReconnectBase = time.Second
	}

	c := &Client{
		url:    url,
		opts:   opts,
		closed: make(chan struct{}),
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.readLoop(conn)
	return c, nil
}

// dial opens the connection and waits for the connected event.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(c.opts.HandshakeTimeout))
	var ev domain.StreamEvent
	if err := conn.ReadJSON(&ev); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read handshake: %w", err)
	}
	if ev.Type != domain.EventTypeConnected {
		conn.Close()
		return nil, fmt.Errorf("unexpected handshake event: %s", ev.Type)
	}
	conn.SetReadDeadline(time.Time{})

	return conn, nil
}

// Close tears down the connection and stops reconnection.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })

	c.mu.Lock()
	conn := c.conn
	c.connected = false
	c.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// State returns a snapshot of the derived client state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Connected:        c.connected,
		IsStreaming:      c.streaming,
		StreamingContent: c.buf.String(),
		Err:              c.errMsg,
	}
}

// SendMessage resets the streaming buffer and emits a message request.
// Returns an error without sending when disconnected.
func (c *Client) SendMessage(conversationID, content string, metadata map[string]any) error {
	c.mu.Lock()
	if !c.connected {
		c.errMsg = "not connected"
		c.mu.Unlock()
		return fmt.Errorf("not connected")
	}
	c.buf.Reset()
	c.streaming = true
	c.cancelled = false
	c.errMsg = ""
	c.mu.Unlock()

	return c.send(&protocol.Request{
		Type:           protocol.TypeMessage,
		ConversationID: conversationID,
		Content:        content,
		Metadata:       metadata,
		Ts:             time.Now().UnixMilli(),
	})
}

// JoinConversation subscribes to a conversation's event stream. The
// subscription is re-established automatically after a reconnect.
func (c *Client) JoinConversation(conversationID string) error {
	c.mu.Lock()
	c.conversationID = conversationID
	c.mu.Unlock()

	return c.send(&protocol.Request{
		Type:           protocol.TypeJoin,
		ConversationID: conversationID,
	})
}

// Cancel emits a cancel request and optimistically stops streaming
// locally; the buffered partial output is discarded.
func (c *Client) Cancel() error {
	c.mu.Lock()
	c.streaming = false
	c.cancelled = true
	c.buf.Reset()
	c.mu.Unlock()

	return c.send(&protocol.Request{Type: protocol.TypeCancel})
}

// Reset clears the buffer and error without affecting the connection.
// Callers invoke it after the persisted state is confirmed loaded.
func (c *Client) Reset() {
	c.mu.Lock()
	c.buf.Reset()
	c.streaming = false
	c.cancelled = false
	c.errMsg = ""
	c.mu.Unlock()
}

// NotifyFileUploaded tells the server a resume file finished uploading;
// progress comes back as system events.
func (c *Client) NotifyFileUploaded(conversationID, resumeID, filename string) error {
	return c.send(&protocol.Request{
		Type:           protocol.TypeFileUploaded,
		ConversationID: conversationID,
		ResumeID:       resumeID,
		Filename:       filename,
	})
}

// NotifyResumeParsed tells the server a resume was parsed client-side;
// progress comes back as system events.
func (c *Client) NotifyResumeParsed(conversationID, resumeID, parsedContent string) error {
	return c.send(&protocol.Request{
		Type:           protocol.TypeResumeParsed,
		ConversationID: conversationID,
		ResumeID:       resumeID,
		ParsedContent:  parsedContent,
	})
}

// send writes one request. Writes are serialized.
func (c *Client) send(req *protocol.Request) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.connected
	c.mu.Unlock()

	if !connected || conn == nil {
		return fmt.Errorf("not connected")
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(req)
}

// readLoop consumes server events until the connection drops, then hands
// off to the reconnect loop.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var ev domain.StreamEvent
		if err := conn.ReadJSON(&ev); err != nil {
			select {
			case <-c.closed:
				return
			default:
			}
			log.Printf("Read failed: %v", err)
			c.mu.Lock()
			c.connected = false
			c.mu.Unlock()
			c.reconnect()
			return
		}
		c.handleEvent(ev)
	}
}

// reconnect attempts to re-establish the channel with backoff, bounded by
// ReconnectMax. The streaming buffer is intentionally preserved so the UI
// can resume where it left off.
func (c *Client) reconnect() {
	for attempt := 1; attempt <= c.opts.ReconnectMax; attempt++ {
		delay := c.opts.ReconnectBase << (attempt - 1)
		select {
		case <-time.After(delay):
		case <-c.closed:
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.opts.HandshakeTimeout)
		conn, err := c.dial(ctx)
		cancel()
		if err != nil {
			log.Printf("Reconnect attempt %d/%d failed: %v", attempt, c.opts.ReconnectMax, err)
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.connected = true
		conversationID := c.conversationID
		c.mu.Unlock()

		if conversationID != "" {
			c.send(&protocol.Request{Type: protocol.TypeJoin, ConversationID: conversationID})
		}

		go c.readLoop(conn)
		return
	}

	c.mu.Lock()
	c.errMsg = "connection lost"
	c.mu.Unlock()
}

// handleEvent updates derived state before forwarding to the handler.
func (c *Client) handleEvent(ev domain.StreamEvent) {
	c.mu.Lock()
	switch ev.Type {
	case domain.EventTypeConnected:
		c.connected = true
	case domain.EventTypeTyping:
		if !c.cancelled {
			c.streaming = true
		}
	case domain.EventTypeChunk:
		// Straggler chunks after a local cancel are dropped so nothing
		// leaks into a later view.
		if !c.cancelled {
			c.streaming = true
			c.buf.WriteString(ev.Content)
		}
	case domain.EventTypeCancelled:
		c.streaming = false
		c.buf.Reset()
	case domain.EventTypeError:
		c.streaming = false
		c.errMsg = ev.Content
	}
	// done leaves the buffer and streaming flag untouched: the view swaps
	// to persisted rendering first, then calls Reset after the settle
	// delay.
	handler := c.opts.Handler
	c.mu.Unlock()

	if handler != nil {
		handler(ev)
	}
}
