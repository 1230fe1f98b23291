// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"math"
	"testing"
	"time"
)

func TestRateMonitor(t *testing.T) {
	beg := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rm := NewRateMonitor(3, beg)

	for i := 0; i < 1000; i++ {
		rm.Add(0, 2*1048576/1000, 1, false)
	}
	rm.Add(0, 2*1048576%1000, 0, false)
	rm.Add(1, 0, 0, true)
	rm.Add(2, 0, 0, false)

	if _, ok := rm.Tick(0, beg.Add(1*time.Second)); ok {
		t.Fatalf("window should not be reported before 1s")
	}

	now := beg.Add(2 * time.Second)
	for _, tc := range []struct {
		dev  int
		want string
	}{
		{0, "reading from board 0 at 1.00 MB/s (trg rate: 500.00 Hz)"},
		{1, "board 1: timeout..."},
		{2, "board 2: no data..."},
	} {
		rep, ok := rm.Tick(tc.dev, now)
		if !ok {
			t.Fatalf("board %d: missing report", tc.dev)
		}
		if got, want := rep.String(), tc.want; got != want {
			t.Fatalf("invalid report:\ngot= %q\nwant=%q", got, want)
		}
	}

	// windows are reset after a report.
	rep, ok := rm.Tick(0, now.Add(1500*time.Millisecond))
	if !ok {
		t.Fatalf("missing report")
	}
	if rep.Bytes != 0 || rep.Events != 0 {
		t.Fatalf("window not reset: %+v", rep)
	}
	if got, want := rep.Elapsed, 1500*time.Millisecond; got != want {
		t.Fatalf("invalid elapsed time: got=%v, want=%v", got, want)
	}
}

func TestReportRates(t *testing.T) {
	rep := Report{Bytes: 1048576, Events: 500, Elapsed: time.Second}
	if got, want := rep.MBps(), 1.0; math.Abs(got-want) > 1e-9 {
		t.Fatalf("invalid MB/s: got=%v, want=%v", got, want)
	}
	if got, want := rep.Hz(), 500.0; math.Abs(got-want) > 1e-9 {
		t.Fatalf("invalid Hz: got=%v, want=%v", got, want)
	}

	zero := Report{Bytes: 10}
	if zero.MBps() != 0 || zero.Hz() != 0 {
		t.Fatalf("invalid rates for an empty window: %v, %v", zero.MBps(), zero.Hz())
	}
}
