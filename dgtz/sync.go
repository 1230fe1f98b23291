// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dgtz

import (
	"fmt"
	"io"
	"log"
	"math"
	"strings"
	"time"

	"github.com/go-lpc/wfdaq/dgtz/internal/regs"
)

// SyncMode is the synchronization topology of a cluster of boards.
type SyncMode uint8

const (
	CommonExternalTrigger       SyncMode = iota + 1 // common external trigger, TRG-IN/TRG-OUT chain
	IndividualTriggerDaisyChain                     // individual triggers, S-IN/TRG-OUT run chain
	TriggerOneToAllOr                               // one-to-all trigger through an external OR
	LvdsSync                                        // LVDS busy/run synchronization
)

var syncModeNames = map[string]SyncMode{
	"COMMONT_EXTERNAL_TRIGGER_TRGIN_TRGOUT": CommonExternalTrigger,
	"COMMON_EXTERNAL_TRIGGER_TRGIN_TRGOUT":  CommonExternalTrigger,
	"INDIVIDUAL_TRIGGER_SIN_TRGOUT":         IndividualTriggerDaisyChain,
	"TRIGGER_ONE2ALL_EXTOR":                 TriggerOneToAllOr,
	"LVDS_SYNC":                             LvdsSync,
}

// ParseSyncMode returns the synchronization mode named by s.
func ParseSyncMode(s string) (SyncMode, error) {
	if mode, ok := syncModeNames[strings.ToUpper(s)]; ok {
		return mode, nil
	}
	for mode := CommonExternalTrigger; mode <= LvdsSync; mode++ {
		if strings.EqualFold(mode.String(), s) {
			return mode, nil
		}
	}
	return 0, fmt.Errorf("dgtz: invalid sync mode %q: %w", s, ErrUnsupportedTopology)
}

func (mode SyncMode) String() string {
	switch mode {
	case CommonExternalTrigger:
		return "CommonExternalTrigger"
	case IndividualTriggerDaisyChain:
		return "IndividualTriggerDaisyChain"
	case TriggerOneToAllOr:
		return "TriggerOneToAllOr"
	case LvdsSync:
		return "LvdsSync"
	}
	return fmt.Sprintf("SyncMode(%d)", uint8(mode))
}

// StartMode selects how a run is started.
type StartMode uint8

const (
	SoftwareControlled StartMode = iota
	LevelControlled
)

// ParseStartMode returns the start mode named by s.
func ParseStartMode(s string) (StartMode, error) {
	switch strings.ToUpper(s) {
	case "START_SW_CONTROLLED", "SOFTWARECONTROLLED", "SW", "":
		return SoftwareControlled, nil
	case "START_LEVEL_CONTROLLED", "LEVELCONTROLLED", "LEVEL":
		return LevelControlled, nil
	}
	return 0, fmt.Errorf("dgtz: invalid start mode %q", s)
}

func (mode StartMode) String() string {
	switch mode {
	case SoftwareControlled:
		return "SoftwareControlled"
	case LevelControlled:
		return "LevelControlled"
	}
	return fmt.Sprintf("StartMode(%d)", uint8(mode))
}

// Controller programs the synchronization registers of an ordered
// list of boards so they acquire as one instrument.
type Controller struct {
	msg   *log.Logger
	devs  []*Device
	mode  SyncMode
	start StartMode
	dump  io.Writer

	programmed bool
}

// NewController creates a controller for the devices, in chain order.
func NewController(devs []*Device, mode SyncMode, start StartMode, opts ...Option) (*Controller, error) {
	if len(devs) == 0 {
		return nil, fmt.Errorf("dgtz: no device to synchronize")
	}
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Controller{
		msg:   cfg.msg,
		devs:  devs,
		mode:  mode,
		start: start,
		dump:  cfg.dump,
	}, nil
}

func (ctl *Controller) Mode() SyncMode { return ctl.mode }
func (ctl *Controller) StartMode() StartMode { return ctl.start }
func (ctl *Controller) Devices() []*Device { return ctl.devs }

// Programmed reports whether the synchronization registers are programmed
// for the next run.
func (ctl *Controller) Programmed() bool { return ctl.programmed }

func (ctl *Controller) valid() error {
	switch ctl.mode {
	case CommonExternalTrigger, IndividualTriggerDaisyChain, TriggerOneToAllOr, LvdsSync:
		return nil
	}
	return fmt.Errorf("dgtz: sync mode %v: %w", ctl.mode, ErrUnsupportedTopology)
}

// Program programs the synchronization registers of all the devices.
//
// Register access failures do not stop the programming sequence:
// they are logged and a combined error is returned.
func (ctl *Controller) Program() error {
	err := ctl.valid()
	if err != nil {
		return err
	}

	var (
		p = pass{msg: ctl.msg}
		n = len(ctl.devs)
	)

	for i, dev := range ctl.devs {
		switch ctl.mode {
		case CommonExternalTrigger:
			if i == 0 {
				// avoid a start of run on external triggers.
				p.write(dev, regs.ADDR_EXT_TRG_INHIBIT, 1)
			}
			p.write(dev, regs.ADDR_GLOBAL_TRG_MASK, regs.TRG_SW|regs.TRG_EXT)
			p.write(dev, regs.ADDR_TRG_OUT_MASK, regs.TRG_SW|regs.TRG_EXT)
			p.write(dev, regs.ADDR_ACQUISITION_MODE, regs.RUN_START_ON_TRGIN_RISING_EDGE)
			p.write(dev, regs.ADDR_RUN_DELAY, runDelay(ctl.mode, i, n))

		case IndividualTriggerDaisyChain:
			if i == n-1 {
				p.write(dev, regs.ADDR_ACQUISITION_MODE, regs.RUN_START_ON_SIN_LEVEL)
				if v, ok := p.read(dev, regs.ADDR_ACQUISITION_MODE); ok {
					ctl.msg.Printf("board %d starts on S-IN level (acq-mode=0x%x)", i, v)
				}
				continue
			}
			if v, ok := p.read(dev, regs.ADDR_GLOBAL_TRG_MASK); ok {
				ctl.msg.Printf("board %d: global trigger mask=0x%x", i, v)
			}
			p.write(dev, regs.ADDR_TRG_OUT_MASK, 0)
			p.write(dev, regs.ADDR_RUN_DELAY, runDelay(ctl.mode, i, n))
			// TRG-OUT=RUN propagates the run along the S-IN/TRG-OUT chain.
			if v, ok := p.read(dev, regs.ADDR_FRONT_PANEL_IO_SET); ok {
				v = v&^regs.FPIO_TRGOUT_MODE_MASK | regs.FPIO_TRGOUT_RUN
				p.write(dev, regs.ADDR_FRONT_PANEL_IO_SET, v)
			}

		case TriggerOneToAllOr:
			p.set(dev, regs.ADDR_TRG_OUT_MASK, regs.TRG_SW)
			p.write(dev, regs.ADDR_GLOBAL_TRG_MASK, regs.TRG_EXT)
			p.write(dev, regs.ADDR_ACQUISITION_MODE, regs.RUN_START_ON_TRGIN_RISING_EDGE)
			p.write(dev, regs.ADDR_RUN_DELAY, runDelay(ctl.mode, i, n))

		case LvdsSync:
			p.set(dev, regs.ADDR_FRONT_PANEL_IO_SET, regs.FPIO_LVDS_SYNC)
			switch i {
			case 0:
				p.set(dev, regs.ADDR_ACQUISITION_MODE, regs.ACQ_BUSY_MONITOR)
			default:
				p.set(dev, regs.ADDR_ACQUISITION_MODE, regs.ACQ_BUSY_MONITOR|regs.ACQ_RUN|regs.ACQ_START_LVDS)
			}
			// busy is raised when that many buffers are full.
			if code, ok := p.read(dev, regs.ADDR_BUFFER_ORGANIZATION); ok {
				p.write(dev, regs.ADDR_ALMOST_FULL_LEVEL, busyLevel(code))
			}
			p.write(dev, regs.ADDR_RUN_DELAY, runDelay(ctl.mode, i, n))
			p.set(dev, regs.ADDR_LVDS_NEW_FEATURES, regs.LVDS_BUSY_VETO)
		}
	}

	err = p.result(fmt.Sprintf("program %v synchronization", ctl.mode))
	ctl.programmed = true

	if ctl.dump != nil {
		for _, dev := range ctl.devs {
			e := dev.DumpRegisters(ctl.dump)
			if e != nil {
				ctl.msg.Printf("%+v", e)
			}
		}
	}
	return err
}

// StartRun starts the acquisition of the chain.
func (ctl *Controller) StartRun() error {
	err := ctl.valid()
	if err != nil {
		return err
	}

	var (
		p      = pass{msg: ctl.msg}
		master = ctl.devs[0]
	)

	switch ctl.mode {
	case CommonExternalTrigger, TriggerOneToAllOr:
		if ctl.start == SoftwareControlled {
			p.trigger(master)
		}
		if ctl.mode == CommonExternalTrigger {
			// arm the chain.
			p.write(master, regs.ADDR_EXT_TRG_INHIBIT, 0)
		}

	case IndividualTriggerDaisyChain:
		switch ctl.start {
		case SoftwareControlled:
			p.write(master, regs.ADDR_ACQUISITION_MODE, regs.ACQ_RUN|regs.ACQ_START_SW)
		default:
			p.write(master, regs.ADDR_ACQUISITION_MODE, regs.ACQ_RUN|regs.ACQ_START_SIN)
			ctl.msg.Printf("run starts/stops on the S-IN high/low level")
		}

	case LvdsSync:
		// slaves are armed before the master starts the run.
		for i := len(ctl.devs) - 1; i > 0; i-- {
			p.set(ctl.devs[i], regs.ADDR_ACQUISITION_MODE, regs.ACQ_RUN)
		}
		p.set(master, regs.ADDR_ACQUISITION_MODE, regs.ACQ_RUN)
	}

	return p.result("start run")
}

// StopRun stops the acquisition of the chain.
// The chain needs to be programmed again before the next run.
func (ctl *Controller) StopRun() error {
	err := ctl.valid()
	if err != nil {
		return err
	}

	p := pass{msg: ctl.msg}
	switch ctl.mode {
	case CommonExternalTrigger, TriggerOneToAllOr:
		for _, dev := range ctl.devs {
			p.write(dev, regs.ADDR_ACQUISITION_MODE, 0)
		}

	case IndividualTriggerDaisyChain:
		// slaves follow the master through the S-IN chain.
		p.write(ctl.devs[0], regs.ADDR_ACQUISITION_MODE, 0)

	case LvdsSync:
		for _, dev := range ctl.devs {
			p.clear(dev, regs.ADDR_ACQUISITION_MODE, regs.ACQ_RUN)
		}
	}

	ctl.programmed = false
	return p.result("stop run")
}

// runDelay returns the run delay of the device at position i in a chain
// of n devices.
// The delay compensates the propagation of the run signal along the chain.
func runDelay(mode SyncMode, i, n int) uint32 {
	var v int
	switch mode {
	case CommonExternalTrigger:
		v = 4 * (n - 1 - i)
	case IndividualTriggerDaisyChain:
		v = 2 * (n - 1 - i)
	case TriggerOneToAllOr:
		v = 0
	case LvdsSync:
		v = 3 * (n - 1 - i)
		if i == 0 {
			v--
		}
	}
	if v < 0 {
		v = 0
	}
	return uint32(v)
}

// busyLevel returns the number of full buffers raising the busy signal,
// given the buffer organization code of a board.
func busyLevel(code uint32) uint32 {
	v := math.Pow(2, float64(code)) - 10
	if v < 0 {
		return 0
	}
	return uint32(v)
}

var (
	clockSyncSettle = 1 * time.Second
	clockSyncRelock = 10 * time.Second
	sleep           = time.Sleep
)

// ForceClockSync forces the clock phase alignment of the board and waits
// for the PLLs to lock again.
func ForceClockSync(dev *Device) error {
	sleep(clockSyncSettle)
	err := dev.drv.WriteRegister(regs.ADDR_FORCE_SYNC, 1)
	if err != nil {
		return &CommError{
			Device:   dev.pos,
			Action:   "writing",
			Resource: regs.Name(regs.ADDR_FORCE_SYNC),
			Err:      err,
		}
	}
	sleep(clockSyncRelock)
	return nil
}
