// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package c2s

import (
	"slices"
	"sync"

	"github.com/google/uuid"
)

// SubscriptionID identifies a callback registered with OnData or OnConnected.
type SubscriptionID uuid.UUID

// String returns the canonical UUID form of the ID.
func (id SubscriptionID) String() string {
	return uuid.UUID(id).String()
}

type subscriber[T any] struct {
	id SubscriptionID
	f  T
}

// signals is a registry of callbacks.
// Callbacks are called in the order they were registered.
type signals struct {
	mu        sync.Mutex
	data      []subscriber[func(string)]
	connected []subscriber[func()]
}

func (s *signals) onData(f func(string)) SubscriptionID {
	id := SubscriptionID(uuid.New())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append(s.data, subscriber[func(string)]{id: id, f: f})
	return id
}

func (s *signals) onConnected(f func()) SubscriptionID {
	id := SubscriptionID(uuid.New())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = append(s.connected, subscriber[func()]{id: id, f: f})
	return id
}

func (s *signals) unsubscribe(id SubscriptionID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.data) + len(s.connected)
	s.data = slices.DeleteFunc(s.data, func(sub subscriber[func(string)]) bool {
		return sub.id == id
	})
	s.connected = slices.DeleteFunc(s.connected, func(sub subscriber[func()]) bool {
		return sub.id == id
	})
	return len(s.data)+len(s.connected) != n
}

// Callbacks run without the lock held and may subscribe or unsubscribe.
func (s *signals) emitData(text string) {
	s.mu.Lock()
	subs := slices.Clone(s.data)
	s.mu.Unlock()
	for _, sub := range subs {
		sub.f(text)
	}
}

func (s *signals) emitConnected() {
	s.mu.Lock()
	subs := slices.Clone(s.connected)
	s.mu.Unlock()
	for _, sub := range subs {
		sub.f()
	}
}
