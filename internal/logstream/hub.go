// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package logstream keeps a ring buffer of recent log lines and fans
// complete lines out to streaming subscribers.
package logstream

import (
	"context"
	"sync"
)

const (
	// DefaultBufferSize is the number of log lines retained for history.
	DefaultBufferSize = 1000
	// DefaultSubscriberBuffer is the channel capacity given to each subscriber.
	DefaultSubscriberBuffer = 100
)

// Hub retains recent log lines and broadcasts new ones to subscribers.
type Hub struct {
	mu          sync.RWMutex
	lines       []string
	next        int
	filled      int
	subscribers map[*Subscriber]struct{}
}

// Subscriber receives broadcast log lines on a buffered channel until
// unsubscribed or its context ends.
type Subscriber struct {
	ch     chan string
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a Hub retaining up to size lines. A size <= 0 falls back
// to DefaultBufferSize.
func NewHub(size int) *Hub {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Hub{
		lines:       make([]string, size),
		subscribers: make(map[*Subscriber]struct{}),
	}
}

// Write records a line in the ring buffer and broadcasts it. Subscribers
// whose channel is full miss the line rather than stalling the writer.
func (h *Hub) Write(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lines[h.next] = line
	h.next = (h.next + 1) % len(h.lines)
	if h.filled < len(h.lines) {
		h.filled++
	}

	// Broadcasting under the lock keeps Unsubscribe from closing a channel
	// mid-send.
	for sub := range h.subscribers {
		select {
		case sub.ch <- line:
		default:
		}
	}
}

// History returns the most recent n lines, oldest first. n <= 0 or n
// beyond what is retained returns everything available.
func (h *Hub) History(n int) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > h.filled {
		n = h.filled
	}
	if n == 0 {
		return nil
	}

	out := make([]string, 0, n)
	start := (h.next - n + len(h.lines)) % len(h.lines)
	for i := range n {
		out = append(out, h.lines[(start+i)%len(h.lines)])
	}
	return out
}

// Subscribe registers a subscriber that receives every line written after
// this call. The subscription ends when ctx is done or Unsubscribe is
// called, whichever comes first.
func (h *Hub) Subscribe(ctx context.Context) *Subscriber {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscriber{
		ch:     make(chan string, DefaultSubscriberBuffer),
		ctx:    subCtx,
		cancel: cancel,
	}

	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-subCtx.Done()
		h.Unsubscribe(sub)
	}()

	return sub
}

// Unsubscribe removes the subscriber and closes its channel. Calling it
// more than once is harmless.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		sub.cancel()
		close(sub.ch)
	}
	h.mu.Unlock()
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Count returns the number of lines currently retained.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.filled
}

// Channel returns the channel on which broadcast lines arrive.
func (s *Subscriber) Channel() <-chan string {
	return s.ch
}

// Done reports the end of the subscription.
func (s *Subscriber) Done() <-chan struct{} {
	return s.ctx.Done()
}
