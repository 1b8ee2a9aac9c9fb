package relay

import (
	"errors"
	"sync"
)

var (
	ErrSinkClosed = errors.New("relay: sink closed")
	ErrSinkFull   = errors.New("relay: sink buffer full")
)

// Sink is the consumer-facing stream. Push and Error must not block; a
// sink that cannot take a message returns an error instead.
type Sink interface {
	Push(payload string) error
	Error(code, message string) error
	Close()
}

// Message is one item delivered through a ChanSink. Code is set for errors.
type Message struct {
	Payload string
	Code    string
	Err     string
}

func (m Message) IsError() bool { return m.Code != "" }

// ChanSink is a Sink backed by a buffered channel.
type ChanSink struct {
	mu     sync.Mutex
	ch     chan Message
	closed bool
}

func NewChanSink(size int) *ChanSink {
	return &ChanSink{ch: make(chan Message, size)}
}

func (c *ChanSink) Messages() <-chan Message { return c.ch }

func (c *ChanSink) Push(payload string) error {
	return c.send(Message{Payload: payload})
}

func (c *ChanSink) Error(code, message string) error {
	return c.send(Message{Code: code, Err: message})
}

func (c *ChanSink) send(m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSinkClosed
	}
	select {
	case c.ch <- m:
		return nil
	default:
		return ErrSinkFull
	}
}

func (c *ChanSink) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}
