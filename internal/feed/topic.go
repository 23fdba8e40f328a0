package feed

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

const DefaultBuffer = 256

// Topic is an in-process pub/sub keyed by K (a project id for document changes).
//
// Publish never blocks. A subscriber whose buffer is full loses the event and
// is signalled on Lagged so it can resynchronise from the source of truth.
type Topic[K comparable, E any] struct {
	mu     sync.RWMutex
	subs   map[K]map[*Subscription[K, E]]struct{}
	buffer int
	closed bool
	logger *slog.Logger
}

func NewTopic[K comparable, E any](buffer int, logger *slog.Logger) *Topic[K, E] {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Topic[K, E]{
		subs:   make(map[K]map[*Subscription[K, E]]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Subscription receives the events published under one key.
type Subscription[K comparable, E any] struct {
	key     K
	topic   *Topic[K, E]
	ch      chan E
	lagged  chan struct{}
	dropped atomic.Int64
	once    sync.Once
}

// Subscribe registers a new subscriber for key. On a closed topic the
// returned subscription is already closed.
func (t *Topic[K, E]) Subscribe(key K) *Subscription[K, E] {
	s := &Subscription[K, E]{
		key:    key,
		topic:  t,
		ch:     make(chan E, t.buffer),
		lagged: make(chan struct{}, 1),
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		s.once.Do(func() { close(s.ch) })
		return s
	}
	set, ok := t.subs[key]
	if !ok {
		set = make(map[*Subscription[K, E]]struct{})
		t.subs[key] = set
	}
	set[s] = struct{}{}
	return s
}

// Publish fans ev out to the current subscribers of key and returns how many received it.
func (t *Topic[K, E]) Publish(key K, ev E) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	delivered := 0
	for s := range t.subs[key] {
		select {
		case s.ch <- ev:
			delivered++
		default:
			n := s.dropped.Add(1)
			select {
			case s.lagged <- struct{}{}:
			default:
			}
			t.logger.Warn("feed.subscriber_lagging", "key", key, "dropped", n)
		}
	}
	return delivered
}

// Subscribers reports the number of live subscriptions for key.
func (t *Topic[K, E]) Subscribers(key K) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs[key])
}

// Close releases every subscription; later Subscribe calls get closed subscriptions.
func (t *Topic[K, E]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for key, set := range t.subs {
		for s := range set {
			s.once.Do(func() { close(s.ch) })
		}
		delete(t.subs, key)
	}
}

// Events is closed when the subscription or topic is closed.
func (s *Subscription[K, E]) Events() <-chan E {
	return s.ch
}

// Lagged fires (coalesced) after events were dropped for this subscriber.
func (s *Subscription[K, E]) Lagged() <-chan struct{} {
	return s.lagged
}

func (s *Subscription[K, E]) Dropped() int64 {
	return s.dropped.Load()
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription[K, E]) Close() {
	t := s.topic
	t.mu.Lock()
	defer t.mu.Unlock()
	if set, ok := t.subs[s.key]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(t.subs, s.key)
		}
	}
	s.once.Do(func() { close(s.ch) })
}
