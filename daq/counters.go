// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"sync/atomic"
)

// Counters are the acquisition counters of one board.
type Counters struct {
	bytes    atomic.Uint64
	events   atomic.Uint64
	chunks   atomic.Uint64
	empty    atomic.Uint64 // polls without data
	timeouts atomic.Uint64
	errors   atomic.Uint64
	timedOut atomic.Bool // whether the last read timed out
}

// ReadStats is a snapshot of the acquisition counters of one board.
type ReadStats struct {
	Bytes    uint64 `json:"bytes"`
	Events   uint64 `json:"events"`
	Chunks   uint64 `json:"chunks"`
	Empty    uint64 `json:"empty"`
	Timeouts uint64 `json:"timeouts"`
	Errors   uint64 `json:"errors"`
	TimedOut bool   `json:"timed_out"`
}

func (cnt *Counters) add(bytes, events int) {
	cnt.bytes.Add(uint64(bytes))
	cnt.events.Add(uint64(events))
	cnt.chunks.Add(1)
	cnt.timedOut.Store(false)
}

func (cnt *Counters) Events() uint64 { return cnt.events.Load() }

func (cnt *Counters) Stats() ReadStats {
	return ReadStats{
		Bytes:    cnt.bytes.Load(),
		Events:   cnt.events.Load(),
		Chunks:   cnt.chunks.Load(),
		Empty:    cnt.empty.Load(),
		Timeouts: cnt.timeouts.Load(),
		Errors:   cnt.errors.Load(),
		TimedOut: cnt.timedOut.Load(),
	}
}
