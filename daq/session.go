// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package daq runs the acquisition of a cluster of synchronized
// digitizer boards.
//
// A Session polls the boards from a Reader goroutine, and writes their
// data blocks to one sink per board from a Writer goroutine.
// Per-board queues decouple the two goroutines.
package daq // import "github.com/go-lpc/wfdaq/daq"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/go-lpc/wfdaq/dgtz"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

type config struct {
	msg    *log.Logger
	target uint64
	mark   int
	qwarn  int
	now    func() time.Time
	idle   time.Duration
	report func(rep Report)
	run    int64
	cmdq   int
}

func newConfig() config {
	return config{
		msg:  log.New(os.Stdout, "daq: ", 0),
		mark: 2,
		now:  time.Now,
		idle: 1 * time.Millisecond,
		cmdq: 16,
	}
}

// Option configures a session.
type Option func(cfg *config)

// WithLogger sets the logger of the session.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithEvents sets the number of events of the primary board after which
// the session ends. Zero means no limit.
func WithEvents(n uint64) Option {
	return func(cfg *config) {
		cfg.target = n
	}
}

// WithWatermark sets the queue depth triggering a write.
func WithWatermark(n int) Option {
	return func(cfg *config) {
		if n < 1 {
			n = 1
		}
		cfg.mark = n
	}
}

// WithQueueWarn sets the queue depth above which a warning is logged.
// Zero disables the warning.
func WithQueueWarn(n int) Option {
	return func(cfg *config) {
		cfg.qwarn = n
	}
}

// WithClock sets the clock used for rates and run metadata.
func WithClock(now func() time.Time) Option {
	return func(cfg *config) {
		cfg.now = now
	}
}

// WithIdlePoll sets the polling interval of idle goroutines.
func WithIdlePoll(d time.Duration) Option {
	return func(cfg *config) {
		cfg.idle = d
	}
}

// WithReports sets the function receiving the rate reports.
// By default, reports are logged.
func WithReports(f func(rep Report)) Option {
	return func(cfg *config) {
		cfg.report = f
	}
}

// WithRunNumber sets the run number recorded in the run metadata.
func WithRunNumber(run int64) Option {
	return func(cfg *config) {
		cfg.run = run
	}
}

// Session is an acquisition session over a synchronized cluster of boards.
type Session struct {
	msg   *log.Logger
	ctl   *dgtz.Controller
	devs  []*dgtz.Device
	sinks []io.Writer
	rc    *RunControl
	cmds  chan Command
	qs    []*Queue
	cnts  []*Counters
	now   func() time.Time

	r *Reader
	w *Writer

	mu   sync.RWMutex
	info RunInfo
}

// NewSession creates a new acquisition session, writing the data of the
// i-th board of the controller to the i-th sink.
func NewSession(ctl *dgtz.Controller, sinks []io.Writer, opts ...Option) (*Session, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	devs := ctl.Devices()
	if len(sinks) != len(devs) {
		return nil, fmt.Errorf(
			"daq: invalid number of sinks (got=%d, want=%d)",
			len(sinks), len(devs),
		)
	}

	s := &Session{
		msg:   cfg.msg,
		ctl:   ctl,
		devs:  devs,
		sinks: sinks,
		rc:    new(RunControl),
		cmds:  make(chan Command, cfg.cmdq),
		qs:    make([]*Queue, len(devs)),
		cnts:  make([]*Counters, len(devs)),
		now:   cfg.now,
	}
	s.rc.SetTarget(cfg.target)
	for i := range devs {
		s.qs[i] = new(Queue)
		s.cnts[i] = new(Counters)
	}

	report := cfg.report
	if report == nil {
		report = func(rep Report) { s.msg.Printf("%v", rep) }
	}

	s.r = &Reader{
		msg:    cfg.msg,
		rc:     s.rc,
		topo:   ctl,
		devs:   devs,
		qs:     s.qs,
		cnts:   s.cnts,
		cmds:   s.cmds,
		rates:  NewRateMonitor(len(devs), cfg.now()),
		now:    cfg.now,
		idle:   cfg.idle,
		qwarn:  cfg.qwarn,
		report: report,
		diag:   newThrottle(cfg.msg, 100*time.Millisecond, 10),
		warn:   newThrottle(cfg.msg, 1*time.Second, 1),
	}
	s.w = newWriter(cfg.msg, s.rc, s.qs, sinks, cfg.mark, cfg.idle)

	s.info = RunInfo{
		ID:        uuid.New(),
		Run:       cfg.run,
		SyncMode:  ctl.Mode().String(),
		StartMode: ctl.StartMode().String(),
		Target:    cfg.target,
		Boards:    make([]BoardInfo, len(devs)),
	}
	for i, dev := range devs {
		s.info.Boards[i] = BoardInfo{
			Board:    i,
			Family:   dev.Family().String(),
			Firmware: dev.Firmware().String(),
			File:     sinkName(sinks[i]),
		}
	}

	return s, nil
}

// Send sends a command to the session.
// Send reports whether the command was queued.
func (s *Session) Send(cmd Command) bool {
	select {
	case s.cmds <- cmd:
		return true
	default:
		s.msg.Printf("command queue full: dropping %v", cmd)
		return false
	}
}

// RunControl returns the run control of the session.
func (s *Session) RunControl() *RunControl { return s.rc }

// Run programs the cluster and runs the acquisition until the session
// quits, then sets all the boards idle.
// Closing the boards is left to the caller.
func (s *Session) Run(ctx context.Context) error {
	err := s.ctl.Program()
	switch {
	case errors.Is(err, dgtz.ErrUnsupportedTopology):
		return fmt.Errorf("daq: could not program cluster: %w", err)
	case err != nil:
		s.msg.Printf("%+v", err)
	}

	s.mu.Lock()
	s.info.Start = s.now().UTC()
	s.mu.Unlock()

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		return s.r.Run(ctx)
	})
	grp.Go(func() error {
		return s.w.Run(ctx)
	})
	err = grp.Wait()

	for _, dev := range s.devs {
		e := dev.Quit()
		if e != nil {
			s.msg.Printf("%+v", e)
		}
	}

	s.mu.Lock()
	s.info.Stop = s.now().UTC()
	for i := range s.info.Boards {
		var (
			brd = &s.info.Boards[i]
			st  = s.w.Stats(i)
		)
		brd.Bytes = st.Bytes
		brd.Chunks = st.Chunks
		brd.Events = s.cnts[i].Events()
		brd.CRC32 = s.w.CRC32(i)
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("daq: session failed: %w", err)
	}
	return nil
}

// Info returns the metadata of the session.
func (s *Session) Info() RunInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := s.info
	info.Boards = append([]BoardInfo(nil), s.info.Boards...)
	return info
}

// Status is a snapshot of the state of a session.
type Status struct {
	ID     string        `json:"id"`
	Run    int64         `json:"run"`
	State  string        `json:"state"`
	Flags  Flags         `json:"flags"`
	Target uint64        `json:"target"`
	Boards []BoardStatus `json:"boards"`
}

// BoardStatus is a snapshot of the counters of a board.
type BoardStatus struct {
	Board    int        `json:"board"`
	Name     string     `json:"name"`
	Role     string     `json:"role"`
	Firmware string     `json:"firmware"`
	Read     ReadStats  `json:"read"`
	Queue    QueueStats `json:"queue"`
	Depth    int        `json:"depth"`
	Write    WriteStats `json:"write"`
}

// Status returns the current status of the session.
func (s *Session) Status() Status {
	st := Status{
		ID:     s.info.ID.String(),
		Run:    s.info.Run,
		State:  s.rc.State().String(),
		Flags:  s.rc.Flags(),
		Target: s.rc.Target(),
		Boards: make([]BoardStatus, len(s.devs)),
	}
	for i := range s.devs {
		st.Boards[i] = s.board(i)
	}
	return st
}

// Board returns the current status of the i-th board.
func (s *Session) Board(i int) (BoardStatus, error) {
	if i < 0 || i >= len(s.devs) {
		return BoardStatus{}, fmt.Errorf("daq: invalid board index %d", i)
	}
	return s.board(i), nil
}

func (s *Session) board(i int) BoardStatus {
	dev := s.devs[i]
	return BoardStatus{
		Board:    i,
		Name:     dev.String(),
		Role:     dev.Role().String(),
		Firmware: dev.Firmware().String(),
		Read:     s.cnts[i].Stats(),
		Queue:    s.qs[i].Stats(),
		Depth:    s.qs[i].Len(),
		Write:    s.w.Stats(i),
	}
}

func sinkName(w io.Writer) string {
	if f, ok := w.(interface{ Name() string }); ok {
		return f.Name()
	}
	return ""
}
