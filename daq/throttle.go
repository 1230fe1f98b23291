// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"log"
	"time"

	"golang.org/x/time/rate"
)

// throttle is a rate limited logger.
type throttle struct {
	msg *log.Logger
	lim *rate.Limiter
	n   int // suppressed messages
}

func newThrottle(msg *log.Logger, every time.Duration, burst int) *throttle {
	return &throttle{
		msg: msg,
		lim: rate.NewLimiter(rate.Every(every), burst),
	}
}

func (t *throttle) Printf(format string, args ...interface{}) {
	if !t.lim.Allow() {
		t.n++
		return
	}
	if t.n > 0 {
		t.msg.Printf("(%d similar messages suppressed)", t.n)
		t.n = 0
	}
	t.msg.Printf(format, args...)
}
