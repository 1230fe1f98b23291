// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"sync"
)

// Chunk is a block of raw data read from a board.
// Data is owned by the holder of the chunk and never modified.
type Chunk struct {
	Dev  int
	Data []byte
}

func (c Chunk) Len() int { return len(c.Data) }

// QueueStats are the traffic counters of a queue.
type QueueStats struct {
	Pushed uint64 `json:"pushed"` // chunks pushed
	Popped uint64 `json:"popped"` // chunks popped
	Bytes  uint64 `json:"bytes"`  // bytes pushed
	Peak   int    `json:"peak"`   // maximum depth
}

// Queue is an unbounded FIFO of chunks, with one producer and one consumer.
type Queue struct {
	mu     sync.Mutex
	chunks []Chunk
	head   int
	stats  QueueStats
}

// Push appends the chunk to the queue and returns the new depth.
func (q *Queue) Push(c Chunk) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head > 0 && 2*q.head >= len(q.chunks) {
		// move the live chunks to the front of the backing array.
		n := copy(q.chunks, q.chunks[q.head:])
		for i := n; i < len(q.chunks); i++ {
			q.chunks[i] = Chunk{}
		}
		q.chunks = q.chunks[:n]
		q.head = 0
	}
	q.chunks = append(q.chunks, c)
	q.stats.Pushed++
	q.stats.Bytes += uint64(len(c.Data))

	n := len(q.chunks) - q.head
	if n > q.stats.Peak {
		q.stats.Peak = n
	}
	return n
}

// Pop removes and returns the oldest chunk of the queue.
func (q *Queue) Pop() (Chunk, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head == len(q.chunks) {
		return Chunk{}, false
	}
	c := q.chunks[q.head]
	q.chunks[q.head] = Chunk{}
	q.head++
	q.stats.Popped++
	return c, true
}

// Len returns the number of chunks held by the queue.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks) - q.head
}

func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}
