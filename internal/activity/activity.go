// Package activity is the in-process activity sink: a capped log of recent
// delivery outcome events with fanout to live subscribers (the websocket
// stream). The outbox records events here; nothing here feeds back into
// queue behaviour.
package activity

import (
	"sync"

	"github.com/snehjoshi/contactrelay/internal/types"
)

// DefaultHistory is how many events the log retains when the configured
// history size is zero.
const DefaultHistory = 256

// subscriber channels are buffered this deep; a subscriber that falls
// further behind misses events rather than blocking the outbox.
const subscriberBuffer = 64

// Log is a bounded, in-memory event log. Safe for concurrent use.
type Log struct {
	mu     sync.Mutex
	max    int
	events []types.Event // oldest first
	subs   map[int]chan types.Event
	nextID int
}

// New returns a Log retaining at most max events (DefaultHistory if max <= 0).
func New(max int) *Log {
	if max <= 0 {
		max = DefaultHistory
	}
	return &Log{
		max:  max,
		subs: make(map[int]chan types.Event),
	}
}

// Record appends ev, evicting the oldest event when the cap is reached, and
// fans it out to subscribers without blocking.
func (l *Log) Record(ev types.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.events = append(l.events, ev)
	if len(l.events) > l.max {
		l.events = l.events[len(l.events)-l.max:]
	}

	for _, ch := range l.subs {
		select {
		case ch <- ev:
		default: // slow subscriber, drop
		}
	}
}

// Recent returns up to n events, newest first. n <= 0 returns everything
// retained.
func (l *Log) Recent(n int) []types.Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > len(l.events) {
		n = len(l.events)
	}
	out := make([]types.Event, n)
	for i := 0; i < n; i++ {
		out[i] = l.events[len(l.events)-1-i]
	}
	return out
}

// Len returns the number of retained events.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

// Subscribe returns a channel of future events and a cancel function.
// The channel is closed by cancel.
func (l *Log) Subscribe() (<-chan types.Event, func()) {
	ch := make(chan types.Event, subscriberBuffer)

	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = ch
	l.mu.Unlock()

	cancel := func() {
		l.mu.Lock()
		if _, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(ch)
		}
		l.mu.Unlock()
	}
	return ch, cancel
}
