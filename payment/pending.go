// Copyright 2026 The Vault0 Authors
// SPDX-License-Identifier: Apache-2.0

package payment

import (
	"fmt"
	"sync"
	"time"

	"github.com/vault0-foundation/vault0/lib/clock"
)

// maxPending bounds the confirmation queue. An agent hammering a paid
// endpoint with auto-settlement off must not grow memory without
// bound; past the cap, new demands are dropped with an error the proxy
// reports upstream-style.
const maxPending = 100

// Pending is one queued payment demand awaiting operator confirmation.
type Pending struct {
	ID        string    `json:"id"`
	Required  Required  `json:"required"`
	CreatedAt time.Time `json:"created_at"`
}

// Queue is the bounded pending-payment queue. Safe for concurrent use.
type Queue struct {
	clock clock.Clock

	mu      sync.Mutex
	items   []Pending
	counter uint64
}

// NewQueue returns an empty queue. A nil clock uses real time.
func NewQueue(c clock.Clock) *Queue {
	if c == nil {
		c = clock.Real()
	}
	return &Queue{clock: c}
}

// Add queues a demand and returns the assigned entry. Fails when the
// queue is full.
func (q *Queue) Add(required Required) (Pending, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= maxPending {
		return Pending{}, fmt.Errorf("pending payment queue is full (%d entries)", maxPending)
	}

	now := q.clock.Now()
	q.counter++
	entry := Pending{
		// Millisecond timestamp plus a counter so IDs stay unique even
		// within one tick.
		ID:        fmt.Sprintf("pay_%d_%d", now.UnixMilli(), q.counter),
		Required:  required,
		CreatedAt: now,
	}
	q.items = append(q.items, entry)
	return entry, nil
}

// List returns a snapshot in arrival order.
func (q *Queue) List() []Pending {
	q.mu.Lock()
	defer q.mu.Unlock()

	snapshot := make([]Pending, len(q.items))
	copy(snapshot, q.items)
	return snapshot
}

// Remove deletes a queued demand by ID, returning it. Used when the
// operator confirms or rejects the payment.
func (q *Queue) Remove(id string) (Pending, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for index, entry := range q.items {
		if entry.ID == id {
			q.items = append(q.items[:index], q.items[index+1:]...)
			return entry, true
		}
	}
	return Pending{}, false
}

// Len returns the current queue depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
