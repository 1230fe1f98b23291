// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/go-lpc/wfdaq/dgtz"
)

// Reader polls the boards and queues their data blocks.
type Reader struct {
	msg  *log.Logger
	rc   *RunControl
	topo Topology
	devs []*dgtz.Device
	qs   []*Queue
	cnts []*Counters
	cmds <-chan Command

	rates  *RateMonitor
	now    func() time.Time
	idle   time.Duration
	qwarn  int
	report func(rep Report)

	diag *throttle // device errors
	warn *throttle // queue depth
}

// Run runs the acquisition loop until the run control reaches the
// Quit state.
// A canceled context is handled as a quit command.
func (r *Reader) Run(ctx context.Context) error {
	var (
		done  = ctx.Done()
		timer = time.NewTimer(r.idle)
	)
	defer timer.Stop()

	for {
		select {
		case <-done:
			r.rc.Handle(CmdQuit)
			done = nil
		default:
		}
		r.poll()

		started, err := r.rc.MaybeStart(r.topo)
		if err != nil {
			r.msg.Printf("%+v", err)
		}
		if started {
			r.rates.Reset(r.now())
			r.msg.Printf("run started")
		}

		acq := r.rc.Flags().Acquiring
		if acq {
			r.readAll()
		}

		stopped, err := r.rc.MaybeStop(r.topo, r.cnts[0].Events())
		if err != nil {
			r.msg.Printf("%+v", err)
		}
		if stopped {
			r.msg.Printf("run stopped (board 0: %d events)", r.cnts[0].Events())
		}

		if r.rc.State() == Quit {
			return nil
		}
		if acq && !stopped {
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(r.idle)
		select {
		case cmd := <-r.cmds:
			r.rc.Handle(cmd)
		case <-done:
		case <-timer.C:
		}
	}
}

// poll applies all the pending commands.
func (r *Reader) poll() {
	for {
		select {
		case cmd := <-r.cmds:
			r.rc.Handle(cmd)
		default:
			return
		}
	}
}

func (r *Reader) readAll() {
	for i, dev := range r.devs {
		r.read(i, dev)
		if rep, ok := r.rates.Tick(i, r.now()); ok {
			r.report(rep)
		}
	}
}

func (r *Reader) read(i int, dev *dgtz.Device) {
	cnt := r.cnts[i]
	blk, err := dev.ReadBlock()
	switch {
	case errors.Is(err, dgtz.ErrTimeout):
		cnt.timeouts.Add(1)
		cnt.timedOut.Store(true)
		r.rates.Add(i, 0, 0, true)
		return

	case err != nil:
		cnt.errors.Add(1)
		r.diag.Printf("%v", &dgtz.CommError{
			Device:   i,
			Action:   "reading events",
			Resource: "buffer",
			Err:      err,
		})
		r.rates.Add(i, 0, 0, false)
		return

	case len(blk) == 0:
		cnt.empty.Add(1)
		cnt.timedOut.Store(false)
		r.rates.Add(i, 0, 0, false)
		return
	}

	nevts, err := dev.CountEvents(blk)
	if err != nil {
		cnt.errors.Add(1)
		r.diag.Printf("%v", &dgtz.CommError{
			Device:   i,
			Action:   "getting number of events",
			Resource: "buffer",
			Err:      err,
		})
		nevts = 0
	}

	data := make([]byte, len(blk))
	copy(data, blk)
	depth := r.qs[i].Push(Chunk{Dev: i, Data: data})
	cnt.add(len(data), nevts)
	r.rates.Add(i, len(data), nevts, false)

	if r.qwarn > 0 && depth >= r.qwarn {
		r.warn.Printf("board %d: queue depth %d above high-water mark %d", i, depth, r.qwarn)
	}
}
