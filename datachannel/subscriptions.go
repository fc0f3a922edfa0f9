// Copyright 2026 The Go2Link Authors
// SPDX-License-Identifier: Apache-2.0

package datachannel

import (
	"sort"
	"sync"
)

// Handler receives messages published on a subscribed topic.
//
// Handlers run on the goroutine that dispatches inbound traffic, so
// every later message, reply, and heartbeat waits for them. A handler
// must not block; in particular it must not wait on a request reply,
// which cannot arrive until the handler returns. Hand slow work to
// another goroutine.
type Handler func(Message)

// Subscriptions is the durable topic registry. It outlives individual
// channels so handlers survive reconnection.
type Subscriptions struct {
	mu     sync.Mutex
	next   uint64
	topics map[string]map[uint64]Handler
}

// NewSubscriptions returns an empty registry.
func NewSubscriptions() *Subscriptions {
	return &Subscriptions{topics: make(map[string]map[uint64]Handler)}
}

// Subscribe registers handler for topic. Any number of handlers may
// share a topic; each sees every message once. The returned function
// removes the handler.
func (s *Subscriptions) Subscribe(topic string, handler Handler) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	key := s.next
	handlers, ok := s.topics[topic]
	if !ok {
		handlers = make(map[uint64]Handler)
		s.topics[topic] = handlers
	}
	handlers[key] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.topics[topic], key)
			if len(s.topics[topic]) == 0 {
				delete(s.topics, topic)
			}
		})
	}
}

// RemoveTopic drops every handler registered for topic.
func (s *Subscriptions) RemoveTopic(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.topics, topic)
}

// Topics lists topics with at least one handler, sorted.
func (s *Subscriptions) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	topics := make([]string, 0, len(s.topics))
	for topic := range s.topics {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Deliver calls every handler for message.Topic in registration order,
// on the calling goroutine, and returns once they have all returned.
// Handlers run outside the registry lock and may subscribe or
// unsubscribe. It reports how many handlers ran.
func (s *Subscriptions) Deliver(message Message) int {
	if message.Topic == "" {
		return 0
	}

	s.mu.Lock()
	handlers := s.topics[message.Topic]
	keys := make([]uint64, 0, len(handlers))
	for key := range handlers {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	ordered := make([]Handler, 0, len(keys))
	for _, key := range keys {
		ordered = append(ordered, handlers[key])
	}
	s.mu.Unlock()

	for _, handler := range ordered {
		handler(message)
	}
	return len(ordered)
}
