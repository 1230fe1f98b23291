// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dgtz holds types to drive a cluster of synchronized
// waveform digitizer boards.
package dgtz // import "github.com/go-lpc/wfdaq/dgtz"

import (
	"errors"
	"fmt"
)

// Driver is the register-level access to one opened digitizer board.
type Driver interface {
	ReadRegister(addr uint32) (uint32, error)
	WriteRegister(addr, v uint32) error

	// ReadBlock reads the next block of acquired data into p and
	// returns the number of bytes read.
	// ReadBlock returns ErrTimeout when the board did not answer in time.
	ReadBlock(p []byte) (int, error)

	// CountEvents returns the number of events held in a block.
	CountEvents(p []byte) (int, error)

	SendSWTrigger() error
	SetAcquisition(st AcqState) error

	// MallocReadoutBuffer allocates a buffer large enough to
	// hold any block returned by ReadBlock.
	MallocReadoutBuffer() ([]byte, error)

	Close() error
}

// Opener opens the driver of a board described by its configuration.
type Opener func(cfg BoardConfig) (Driver, error)

// AcqState is the acquisition state of a board.
type AcqState uint8

const (
	AcqIdle AcqState = iota
	AcqArmed
)

func (st AcqState) String() string {
	switch st {
	case AcqIdle:
		return "idle"
	case AcqArmed:
		return "armed"
	}
	return fmt.Sprintf("AcqState(%d)", uint8(st))
}

// Role is the role of a board in the synchronization chain.
type Role uint8

const (
	Master Role = iota
	Slave
)

func (r Role) String() string {
	switch r {
	case Master:
		return "master"
	case Slave:
		return "slave"
	}
	return fmt.Sprintf("Role(%d)", uint8(r))
}

var (
	ErrDeviceComm          = errors.New("dgtz: device communication error")
	ErrUnsupportedTopology = errors.New("dgtz: unsupported synchronization topology")
	ErrAllocation          = errors.New("dgtz: could not allocate readout buffer")
	ErrFirmwareMismatch    = errors.New("dgtz: firmware mismatch")
	ErrTimeout             = errors.New("dgtz: timeout")
	ErrUnsupportedLink     = errors.New("dgtz: unsupported link")
)

// CommError describes a failed access to a board resource.
type CommError struct {
	Device   int    // position of the board in the chain
	Action   string // attempted action (e.g. "writing")
	Resource string // accessed resource (e.g. "Register[ADDR_RUN_DELAY]")
	Err      error
}

func (e *CommError) Error() string {
	return fmt.Sprintf(
		"dgtz: error in %s the %s for board %d: %v",
		e.Action, e.Resource, e.Device, e.Err,
	)
}

func (e *CommError) Unwrap() error { return e.Err }

func (e *CommError) Is(target error) bool { return target == ErrDeviceComm }
