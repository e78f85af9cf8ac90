package server

import (
	"errors"
	"time"

	"github.com/cuemby/warden/pkg/metrics"
)

// ErrQueueFull is returned by Push when the pool is at capacity. The
// caller closes the socket; nothing else happened yet.
var ErrQueueFull = errors.New("client queue full")

// ClientQueue is a bounded FIFO of accepted connections between the
// accept stage (sole producer) and the dispatch stage (sole consumer).
type ClientQueue struct {
	ch chan *Client
}

// NewClientQueue creates a queue with the given capacity
func NewClientQueue(capacity int) *ClientQueue {
	return &ClientQueue{ch: make(chan *Client, capacity)}
}

// Push enqueues a client. It never blocks: a full queue fails
// immediately.
func (q *ClientQueue) Push(c *Client) error {
	select {
	case q.ch <- c:
		metrics.QueueDepth.Set(float64(len(q.ch)))
		return nil
	default:
		return ErrQueueFull
	}
}

// PopWait dequeues the next client, blocking until the absolute deadline.
// Returns nil on deadline expiry.
func (q *ClientQueue) PopWait(deadline time.Time) *Client {
	d := time.Until(deadline)
	if d <= 0 {
		select {
		case c := <-q.ch:
			metrics.QueueDepth.Set(float64(len(q.ch)))
			return c
		default:
			return nil
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case c := <-q.ch:
		metrics.QueueDepth.Set(float64(len(q.ch)))
		return c
	case <-timer.C:
		return nil
	}
}

// Len returns the number of queued clients
func (q *ClientQueue) Len() int {
	return len(q.ch)
}
