// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-lpc/wfdaq/dgtz"
)

// State is the state of a run.
type State uint8

const (
	Idle State = iota
	Armed
	Acquiring
	Stopping
	Quit
)

func (st State) String() string {
	switch st {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Acquiring:
		return "acquiring"
	case Stopping:
		return "stopping"
	case Quit:
		return "quit"
	}
	return fmt.Sprintf("State(%d)", uint8(st))
}

// Command is an operator command.
type Command byte

const (
	CmdToggle  Command = 's' // start or stop the run
	CmdRestart Command = 'R' // stop and re-arm the run
	CmdQuit    Command = 'q' // stop the run and quit
	CmdStart   Command = '+' // start the run, unless already started
	CmdStop    Command = '-' // stop the run, unless already stopped
)

// ParseCommand returns the command named by s.
func ParseCommand(s string) (Command, error) {
	switch s {
	case "s", "toggle":
		return CmdToggle, nil
	case "start":
		return CmdStart, nil
	case "stop":
		return CmdStop, nil
	case "R", "restart":
		return CmdRestart, nil
	case "q", "quit":
		return CmdQuit, nil
	}
	return 0, fmt.Errorf("daq: invalid command %q", s)
}

func (cmd Command) String() string {
	switch cmd {
	case CmdToggle:
		return "toggle"
	case CmdRestart:
		return "restart"
	case CmdQuit:
		return "quit"
	case CmdStart:
		return "start"
	case CmdStop:
		return "stop"
	}
	return fmt.Sprintf("Command(%q)", byte(cmd))
}

// Topology is the synchronized start and stop of a cluster of boards.
type Topology interface {
	Program() error
	Programmed() bool
	StartRun() error
	StopRun() error
}

// Flags are the run control flags.
type Flags struct {
	Quit      bool `json:"quit"`
	Start     bool `json:"start"`
	Acquiring bool `json:"acquiring"`
}

// RunControl is the run state machine.
// The zero value is an idle run control, ready to use.
type RunControl struct {
	mu sync.Mutex

	state     State
	quit      bool
	start     bool
	acquiring bool
	restart   bool
	target    uint64

	hist []State
}

// SetTarget sets the number of events of the primary board that ends
// the session. A zero target disables the event count watchdog.
func (rc *RunControl) SetTarget(n uint64) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.target = n
}

func (rc *RunControl) Target() uint64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.target
}

// State returns the current state of the run.
func (rc *RunControl) State() State {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.state
}

// Flags returns the current run control flags.
func (rc *RunControl) Flags() Flags {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return Flags{
		Quit:      rc.quit,
		Start:     rc.start,
		Acquiring: rc.acquiring,
	}
}

// History returns the sequence of states the run went through,
// starting with the initial Idle state.
func (rc *RunControl) History() []State {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	o := make([]State, 0, len(rc.hist)+1)
	o = append(o, Idle)
	return append(o, rc.hist...)
}

func (rc *RunControl) setState(st State) {
	if rc.state == st {
		return
	}
	rc.state = st
	rc.hist = append(rc.hist, st)
}

// Handle applies an operator command.
func (rc *RunControl) Handle(cmd Command) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.state == Quit {
		return
	}

	switch cmd {
	case CmdToggle:
		rc.toggle()
	case CmdStart:
		if !rc.start {
			rc.toggle()
		}
	case CmdStop:
		if rc.start {
			rc.toggle()
		}
	case CmdRestart:
		switch {
		case rc.acquiring:
			rc.restart = true
		case rc.state == Idle:
			rc.toggle()
		}
	case CmdQuit:
		rc.quit = true
	}
}

func (rc *RunControl) toggle() {
	rc.start = !rc.start
	switch {
	case rc.state == Idle && rc.start:
		rc.setState(Armed)
	case rc.state == Armed && !rc.start:
		rc.setState(Idle)
	}
}

// MaybeStart starts the run when it is armed.
// MaybeStart reports whether a run was started.
//
// The topology is programmed again when a previous stop left it
// unprogrammed. Communication errors while programming do not prevent
// the run from starting, and are returned with a started run.
func (rc *RunControl) MaybeStart(topo Topology) (bool, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.acquiring || !rc.start || rc.quit {
		return false, nil
	}

	var perr error
	if !topo.Programmed() {
		perr = topo.Program()
		if perr != nil && !errors.Is(perr, dgtz.ErrDeviceComm) {
			rc.start = false
			rc.setState(Idle)
			return false, fmt.Errorf("daq: could not program topology: %w", perr)
		}
	}

	err := topo.StartRun()
	if err != nil {
		rc.start = false
		rc.setState(Idle)
		return false, fmt.Errorf("daq: could not start run: %w", err)
	}

	rc.acquiring = true
	rc.setState(Acquiring)
	if perr != nil {
		return true, fmt.Errorf("daq: run started with programming errors: %w", perr)
	}
	return true, nil
}

// MaybeStop stops the run when it was requested, or when the primary
// board acquired the target number of events.
// MaybeStop reports whether a run was stopped.
func (rc *RunControl) MaybeStop(topo Topology, primaryEvents uint64) (bool, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.acquiring && rc.target > 0 && primaryEvents >= rc.target {
		rc.start = false
		rc.quit = true
	}

	var (
		stopped bool
		err     error
	)
	if rc.acquiring && (!rc.start || rc.quit || rc.restart) {
		rc.setState(Stopping)
		err = topo.StopRun()
		if err != nil {
			err = fmt.Errorf("daq: could not stop run: %w", err)
		}
		rc.acquiring = false
		stopped = true

		switch {
		case rc.quit:
			rc.setState(Quit)
		case rc.restart && rc.start:
			rc.setState(Armed)
		default:
			rc.start = false
			rc.setState(Idle)
		}
		rc.restart = false
	}

	if rc.quit && !rc.acquiring {
		rc.setState(Quit)
	}

	return stopped, err
}
