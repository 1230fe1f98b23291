// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dgtz

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/go-lpc/wfdaq/dgtz/internal/regs"
)

// Device is an opened digitizer board.
type Device struct {
	drv Driver
	msg *log.Logger
	cfg BoardConfig

	role   Role
	pos    int // position in the synchronization chain
	nchans int
	buf    []byte // readout buffer
}

type config struct {
	msg   *log.Logger
	retry time.Duration // max elapsed time of open retries
	dump  io.Writer     // dump of the sync registers after programming
}

func newConfig() config {
	return config{
		msg:   log.New(os.Stdout, "dgtz: ", 0),
		retry: 3 * time.Second,
	}
}

// Option configures how devices are opened and programmed.
type Option func(cfg *config)

// WithLogger sets the logger for diagnostics.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) {
		cfg.msg = msg
	}
}

// WithOpenRetry sets the maximum time spent retrying to open a board link.
// A zero duration disables retries.
func WithOpenRetry(max time.Duration) Option {
	return func(cfg *config) {
		cfg.retry = max
	}
}

// WithRegisterDump makes the controller write the synchronization
// registers of all the devices to w once they are programmed.
func WithRegisterDump(w io.Writer) Option {
	return func(cfg *config) {
		cfg.dump = w
	}
}

// Open opens the board described by bcfg.
// Open checks the board firmware, its PLL lock status and
// allocates its readout buffer.
func Open(bcfg BoardConfig, open Opener, opts ...Option) (*Device, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	err := bcfg.Family.check(bcfg.Firmware)
	if err != nil {
		return nil, err
	}

	var drv Driver
	op := func() error {
		var err error
		drv, err = open(bcfg)
		if errors.Is(err, ErrUnsupportedLink) {
			return backoff.Permanent(err)
		}
		return err
	}

	switch cfg.retry {
	case 0:
		err = op()
	default:
		err = backoff.Retry(op, &backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: 0.,
			Multiplier:          2.,
			MaxInterval:         1 * time.Second,
			MaxElapsedTime:      cfg.retry,
			Clock:               backoff.SystemClock,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("dgtz: could not open %v board %q: %w", bcfg.Family, bcfg.Path, err)
	}

	dev := &Device{
		drv:    drv,
		msg:    cfg.msg,
		cfg:    bcfg,
		nchans: bcfg.Channels,
	}
	if dev.nchans <= 0 || dev.nchans > bcfg.Family.Channels() {
		dev.nchans = bcfg.Family.Channels()
	}
	defer func() {
		if err != nil {
			_ = drv.Close()
		}
	}()

	err = CheckFailureStatus(dev)
	if err != nil {
		return nil, err
	}

	dev.buf, err = drv.MallocReadoutBuffer()
	if err != nil {
		return nil, fmt.Errorf("dgtz: board %q: %v: %w", bcfg.Path, err, ErrAllocation)
	}
	if len(dev.buf) == 0 {
		err = fmt.Errorf("dgtz: board %q: empty readout buffer: %w", bcfg.Path, ErrAllocation)
		return nil, err
	}

	return dev, nil
}

// CheckFailureStatus checks the board reports a locked PLL.
func CheckFailureStatus(dev *Device) error {
	// first read clears the previous status.
	_, err := dev.drv.ReadRegister(regs.ADDR_ACQUISITION_STATUS)
	if err != nil {
		return fmt.Errorf("dgtz: could not read board failure status: %w", err)
	}
	st, err := dev.drv.ReadRegister(regs.ADDR_ACQUISITION_STATUS)
	if err != nil {
		return fmt.Errorf("dgtz: could not read board failure status: %w", err)
	}
	if st&regs.STATUS_PLL_LOCK == 0 {
		return fmt.Errorf("dgtz: board %q error: PLL not locked (status=0x%x)", dev.cfg.Path, st)
	}
	return nil
}

func (dev *Device) Role() Role { return dev.role }
func (dev *Device) Pos() int { return dev.pos }
func (dev *Device) Channels() int { return dev.nchans }
func (dev *Device) Family() Family { return dev.cfg.Family }
func (dev *Device) Firmware() Firmware { return dev.cfg.Firmware }
func (dev *Device) Config() BoardConfig { return dev.cfg }
func (dev *Device) String() string { return fmt.Sprintf("%v[%d]", dev.cfg.Family, dev.pos) }
func (dev *Device) ReadoutBufferLen() int { return len(dev.buf) }

// ReadBlock reads the next data block into the readout buffer of the device.
// The returned slice aliases the readout buffer and is only valid until
// the next call to ReadBlock.
func (dev *Device) ReadBlock() ([]byte, error) {
	n, err := dev.drv.ReadBlock(dev.buf)
	if n < 0 {
		n = 0
	}
	return dev.buf[:n], err
}

// CountEvents returns the number of events held in the data block p.
func (dev *Device) CountEvents(p []byte) (int, error) {
	return dev.drv.CountEvents(p)
}

// ReadRegister reads the register at addr.
func (dev *Device) ReadRegister(addr uint32) (uint32, error) {
	return dev.drv.ReadRegister(addr)
}

// WriteRegister writes v to the register at addr.
func (dev *Device) WriteRegister(addr, v uint32) error {
	return dev.drv.WriteRegister(addr, v)
}

// Program applies the family specific programming to the board.
func (dev *Device) Program() error {
	p := pass{msg: dev.msg}
	families[dev.cfg.Family].program(&p, dev)
	return p.result(fmt.Sprintf("program board %d", dev.pos))
}

// ProgramAll applies the family programming to all the devices.
// Communication failures are logged and the remaining devices are still
// programmed. Any other failure is returned immediately.
func ProgramAll(devs []*Device) error {
	for _, dev := range devs {
		err := dev.Program()
		switch {
		case err == nil:
		case errors.Is(err, ErrDeviceComm):
			dev.msg.Printf("%+v", err)
		default:
			return err
		}
	}
	return nil
}

// Quit stops the acquisition of the board.
func (dev *Device) Quit() error {
	return families[dev.cfg.Family].quit(dev)
}

// Close closes the board link.
func (dev *Device) Close() error {
	if dev.drv == nil {
		return nil
	}
	err := dev.drv.Close()
	dev.drv = nil
	dev.buf = nil
	if err != nil {
		return fmt.Errorf("dgtz: could not close board %d: %w", dev.pos, err)
	}
	return nil
}

// DumpRegisters writes the values of the synchronization registers to w.
func (dev *Device) DumpRegisters(w io.Writer) error {
	for _, addr := range []uint32{
		regs.ADDR_ACQUISITION_MODE,
		regs.ADDR_GLOBAL_TRG_MASK,
		regs.ADDR_TRG_OUT_MASK,
		regs.ADDR_FRONT_PANEL_IO_SET,
		regs.ADDR_RUN_DELAY,
		regs.ADDR_EXT_TRG_INHIBIT,
	} {
		v, err := dev.drv.ReadRegister(addr)
		if err != nil {
			return fmt.Errorf("dgtz: could not read %s: %w", regs.Name(addr), err)
		}
		fmt.Fprintf(w, "board %d: %-36s 0x%08x\n", dev.pos, regs.Name(addr), v)
	}
	return nil
}

// BoardGroup is an ordered set of boards of the same family.
type BoardGroup struct {
	Family  Family
	Devices []*Device
}

// OpenGroups opens all the boards described by cfgs, grouped by family.
// Groups are ordered by first appearance of their family in cfgs.
//
// A board with an unsupported firmware is skipped.
// Any other failure closes all the already opened boards.
func OpenGroups(cfgs []BoardConfig, open Opener, opts ...Option) ([]*BoardGroup, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	var (
		grps []*BoardGroup
		idx  = make(map[Family]int)
	)
	closeAll := func() {
		for _, grp := range grps {
			for _, dev := range grp.Devices {
				_ = dev.Close()
			}
		}
	}

	for i, bcfg := range cfgs {
		dev, err := Open(bcfg, open, opts...)
		if err != nil {
			if errors.Is(err, ErrFirmwareMismatch) {
				cfg.msg.Printf("skipping board %d: %+v", i, err)
				continue
			}
			closeAll()
			return nil, fmt.Errorf("dgtz: could not open board %d: %w", i, err)
		}
		j, ok := idx[bcfg.Family]
		if !ok {
			j = len(grps)
			idx[bcfg.Family] = j
			grps = append(grps, &BoardGroup{Family: bcfg.Family})
		}
		grps[j].Devices = append(grps[j].Devices, dev)
	}

	if len(grps) == 0 {
		return nil, fmt.Errorf("dgtz: no usable board")
	}

	Flatten(grps...)
	return grps, nil
}

// Flatten returns the global ordering of the devices of all the groups,
// and assigns each device its role and chain position.
// The first device of the first group is the master.
func Flatten(grps ...*BoardGroup) []*Device {
	var devs []*Device
	for _, grp := range grps {
		devs = append(devs, grp.Devices...)
	}
	for i, dev := range devs {
		dev.pos = i
		dev.role = Slave
		if i == 0 {
			dev.role = Master
		}
	}
	return devs
}

// Close closes all the devices and returns the first error encountered.
func Close(devs []*Device) error {
	var err error
	for _, dev := range devs {
		e := dev.Close()
		if e != nil && err == nil {
			err = e
		}
	}
	return err
}
