package realtime

import (
	"sync"

	v1 "localchat/shared/contracts/realtime/v1"
)

// Sink receives envelopes routed to one connection.
//
// Deliver must never block; it reports whether the envelope was queued.
// Close must be idempotent.
type Sink interface {
	Deliver(env v1.Envelope) bool
	Close()
}

// Client is the Sink of one websocket connection.
//
// Send is never closed by the server so concurrent deliveries cannot panic;
// done tells the writer goroutine to stop.
type Client struct {
	ConnectionID string
	Send         chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(connectionID string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = wsDefaultSendQueueSize
	}
	return &Client{
		ConnectionID: connectionID,
		Send:         make(chan v1.Envelope, sendQueueSize),
		done:         make(chan struct{}),
	}
}

// Deliver queues env without blocking. A full queue or a closed client drops it.
func (c *Client) Deliver(env v1.Envelope) bool {
	if c == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.Send <- env:
		return true
	default:
		return false
	}
}

// Done is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals shutdown (idempotent). It does not close Send.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
