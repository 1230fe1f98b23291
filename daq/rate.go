// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"fmt"
	"time"
)

// ratePeriod is the minimal duration of a rate window.
const ratePeriod = 1 * time.Second

// Report is the data and trigger rates of a board over a window.
type Report struct {
	Board   int
	Bytes   uint64
	Events  uint64
	Elapsed time.Duration
	Timeout bool // whether the last read of the window timed out
}

// MBps returns the data rate, in MB/s.
func (r Report) MBps() float64 {
	ms := float64(r.Elapsed) / float64(time.Millisecond)
	if ms <= 0 {
		return 0
	}
	return float64(r.Bytes) / (ms * 1048.576)
}

// Hz returns the trigger rate.
func (r Report) Hz() float64 {
	ms := float64(r.Elapsed) / float64(time.Millisecond)
	if ms <= 0 {
		return 0
	}
	return float64(r.Events) * 1000 / ms
}

func (r Report) String() string {
	switch {
	case r.Bytes == 0 && r.Timeout:
		return fmt.Sprintf("board %d: timeout...", r.Board)
	case r.Bytes == 0:
		return fmt.Sprintf("board %d: no data...", r.Board)
	}
	return fmt.Sprintf(
		"reading from board %d at %.2f MB/s (trg rate: %.2f Hz)",
		r.Board, r.MBps(), r.Hz(),
	)
}

type window struct {
	beg     time.Time
	bytes   uint64
	events  uint64
	timeout bool
}

// RateMonitor accumulates the data and trigger rates of boards over
// windows of at least one second.
type RateMonitor struct {
	wins []window
}

// NewRateMonitor returns a rate monitor for n boards, with all windows
// starting at now.
func NewRateMonitor(n int, now time.Time) *RateMonitor {
	rm := &RateMonitor{wins: make([]window, n)}
	rm.Reset(now)
	return rm
}

// Reset restarts all the windows at now.
func (rm *RateMonitor) Reset(now time.Time) {
	for i := range rm.wins {
		rm.wins[i] = window{beg: now}
	}
}

// Add accumulates a read of the board into its current window.
func (rm *RateMonitor) Add(dev, bytes, events int, timeout bool) {
	win := &rm.wins[dev]
	win.bytes += uint64(bytes)
	win.events += uint64(events)
	win.timeout = timeout
}

// Tick returns the report of the board window when the window is older
// than one second, and starts a new window at now.
func (rm *RateMonitor) Tick(dev int, now time.Time) (Report, bool) {
	win := &rm.wins[dev]
	dt := now.Sub(win.beg)
	if dt <= ratePeriod {
		return Report{}, false
	}
	rep := Report{
		Board:   dev,
		Bytes:   win.bytes,
		Events:  win.events,
		Elapsed: dt,
		Timeout: win.timeout,
	}
	*win = window{beg: now}
	return rep, true
}
