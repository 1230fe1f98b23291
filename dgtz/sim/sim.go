// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sim provides software emulated digitizer boards.
//
// The register space of each emulated board is a memory-mapped file.
// Boards opened from the same Cluster share their trigger, S-IN and LVDS
// lines, so a cluster of emulated boards reacts to the synchronization
// protocols as a chain of real boards would.
package sim // import "github.com/go-lpc/wfdaq/dgtz/sim"

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/go-lpc/wfdaq/dgtz"
	"github.com/go-lpc/wfdaq/dgtz/internal/regs"
	"github.com/go-lpc/wfdaq/internal/mmap"
)

// Cluster emulates the cables connecting a set of boards.
type Cluster struct {
	mu     sync.Mutex
	boards []*Board

	extTrg bool // external trigger source on the TRG-IN of the first board
	sin    bool // external S-IN level on the first board
}

// NewCluster returns a new cluster with an external trigger source and
// a high S-IN level.
func NewCluster() *Cluster {
	return &Cluster{
		extTrg: true,
		sin:    true,
	}
}

// SetExternalTrigger enables or disables the external trigger source.
func (c *Cluster) SetExternalTrigger(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.extTrg = v
}

// SetSIN sets the external S-IN level.
func (c *Cluster) SetSIN(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sin = v
}

// Opener returns a board opener for the "sim" link, using the board
// configuration path as the register file.
func (c *Cluster) Opener(opts ...Option) dgtz.Opener {
	return func(cfg dgtz.BoardConfig) (dgtz.Driver, error) {
		if cfg.Link != "" && cfg.Link != "sim" {
			return nil, fmt.Errorf("sim: link %q: %w", cfg.Link, dgtz.ErrUnsupportedLink)
		}
		b, err := c.Open(cfg.Path, opts...)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

// Option configures an emulated board.
type Option func(b *Board)

// WithEventsPerRead sets the number of events returned by each block read
// of a running board.
func WithEventsPerRead(n int) Option {
	return func(b *Board) {
		b.evtsPerRead = n
	}
}

// WithSamples sets the number of 32-bit payload words of each event.
func WithSamples(n int) Option {
	return func(b *Board) {
		b.samples = n
	}
}

// WithReadoutBufferSize sets the size of the readout buffer.
// A non-positive size makes the readout buffer allocation fail.
func WithReadoutBufferSize(n int) Option {
	return func(b *Board) {
		b.bufSize = n
	}
}

// WithPLLUnlocked emulates a board whose PLL does not lock.
func WithPLLUnlocked() Option {
	return func(b *Board) {
		b.unlocked = true
	}
}

// WithIdleTimeout makes block reads of a board that is not running
// return dgtz.ErrTimeout.
func WithIdleTimeout() Option {
	return func(b *Board) {
		b.timeout = true
	}
}

// Board is an emulated digitizer board.
type Board struct {
	c    *Cluster
	id   int
	regs *mmap.Handle
	xbuf [4]byte

	evtsPerRead int
	samples     int
	bufSize     int
	unlocked    bool
	timeout     bool

	triggered bool
	nevts     uint32
}

// Open opens an emulated board whose registers live in the fname file.
func (c *Cluster) Open(fname string, opts ...Option) (*Board, error) {
	h, err := mmap.Open(fname, regs.ADDR_SPAN)
	if err != nil {
		return nil, fmt.Errorf("sim: could not map register file: %w", err)
	}

	b := &Board{
		c:           c,
		regs:        h,
		evtsPerRead: 1,
		samples:     16,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.bufSize == 0 {
		b.bufSize = 4 * b.evtsPerRead * (hdrSize + b.samples)
	}

	status := uint32(0x100) // board ready
	if !b.unlocked {
		status |= regs.STATUS_PLL_LOCK
	}
	b.store(regs.ADDR_ACQUISITION_STATUS, status)
	if b.load(regs.ADDR_BUFFER_ORGANIZATION) == 0 {
		b.store(regs.ADDR_BUFFER_ORGANIZATION, 0xA)
	}

	c.mu.Lock()
	b.id = len(c.boards)
	c.boards = append(c.boards, b)
	c.mu.Unlock()

	return b, nil
}

type reg32 struct {
	r func() uint32
	w func(v uint32)
}

func (b *Board) reg(addr uint32) reg32 {
	return reg32{
		r: func() uint32 { return b.load(addr) },
		w: func(v uint32) { b.store(addr, v) },
	}
}

func (b *Board) load(addr uint32) uint32 {
	v, _ := b.readU32(addr)
	return v
}

func (b *Board) store(addr, v uint32) {
	_ = b.writeU32(addr, v)
}

func (b *Board) readU32(addr uint32) (uint32, error) {
	_, err := b.regs.ReadAt(b.xbuf[:4], int64(addr))
	if err != nil {
		return 0, fmt.Errorf("sim: could not read register 0x%x: %w", addr, err)
	}
	return binary.LittleEndian.Uint32(b.xbuf[:4]), nil
}

func (b *Board) writeU32(addr, v uint32) error {
	binary.LittleEndian.PutUint32(b.xbuf[:4], v)
	_, err := b.regs.WriteAt(b.xbuf[:4], int64(addr))
	if err != nil {
		return fmt.Errorf("sim: could not write register 0x%x: %w", addr, err)
	}
	return nil
}

func (b *Board) mode() reg32    { return b.reg(regs.ADDR_ACQUISITION_MODE) }
func (b *Board) trgMask() reg32 { return b.reg(regs.ADDR_GLOBAL_TRG_MASK) }
func (b *Board) trgOut() reg32  { return b.reg(regs.ADDR_TRG_OUT_MASK) }
func (b *Board) fpio() reg32    { return b.reg(regs.ADDR_FRONT_PANEL_IO_SET) }
func (b *Board) inhibit() reg32 { return b.reg(regs.ADDR_EXT_TRG_INHIBIT) }

// ReadRegister implements dgtz.Driver.
func (b *Board) ReadRegister(addr uint32) (uint32, error) {
	b.c.mu.Lock()
	defer b.c.mu.Unlock()

	v, err := b.readU32(addr)
	if err != nil {
		return 0, err
	}
	if addr == regs.ADDR_ACQUISITION_STATUS && b.running() {
		v |= regs.ACQ_RUN
	}
	return v, nil
}

// WriteRegister implements dgtz.Driver.
func (b *Board) WriteRegister(addr, v uint32) error {
	b.c.mu.Lock()
	defer b.c.mu.Unlock()

	err := b.writeU32(addr, v)
	if err != nil {
		return err
	}

	switch addr {
	case regs.ADDR_SW_TRIGGER:
		b.c.swTrigger(b)
	case regs.ADDR_ACQUISITION_MODE:
		if v&regs.ACQ_RUN == 0 {
			b.triggered = false
		}
	}
	return nil
}

// SendSWTrigger implements dgtz.Driver.
func (b *Board) SendSWTrigger() error {
	return b.WriteRegister(regs.ADDR_SW_TRIGGER, 1)
}

// SetAcquisition implements dgtz.Driver.
func (b *Board) SetAcquisition(st dgtz.AcqState) error {
	b.c.mu.Lock()
	defer b.c.mu.Unlock()

	mode := b.mode().r()
	switch st {
	case dgtz.AcqArmed:
		mode |= regs.ACQ_RUN
	case dgtz.AcqIdle:
		mode &^= regs.ACQ_RUN
		b.triggered = false
	default:
		return fmt.Errorf("sim: invalid acquisition state %v", st)
	}
	return b.writeU32(regs.ADDR_ACQUISITION_MODE, mode)
}

// MallocReadoutBuffer implements dgtz.Driver.
func (b *Board) MallocReadoutBuffer() ([]byte, error) {
	if b.bufSize <= 0 {
		return nil, fmt.Errorf("sim: could not allocate readout buffer of %d bytes", b.bufSize)
	}
	return make([]byte, b.bufSize), nil
}

// ReadBlock implements dgtz.Driver.
func (b *Board) ReadBlock(p []byte) (int, error) {
	b.c.mu.Lock()
	defer b.c.mu.Unlock()

	if b.regs.Len() == 0 {
		return 0, fmt.Errorf("sim: board %d closed", b.id)
	}

	b.c.extTrigger()
	if !b.running() {
		if b.timeout {
			return 0, dgtz.ErrTimeout
		}
		return 0, nil
	}

	w := &wbuf{p: p}
	for i := 0; i < b.evtsPerRead; i++ {
		if w.free() < 4*(hdrSize+b.samples) {
			break
		}
		b.nevts++
		err := encodeEvent(w, b.id, b.nevts, b.samples)
		if err != nil {
			return w.c, fmt.Errorf("sim: could not encode event: %w", err)
		}
	}
	return w.c, nil
}

// CountEvents implements dgtz.Driver.
func (b *Board) CountEvents(p []byte) (int, error) {
	return countEvents(p)
}

// Events returns the number of events emitted by the board.
func (b *Board) Events() int {
	b.c.mu.Lock()
	defer b.c.mu.Unlock()
	return int(b.nevts)
}

// Close implements dgtz.Driver.
func (b *Board) Close() error {
	b.c.mu.Lock()
	defer b.c.mu.Unlock()

	if b.regs.Len() == 0 {
		return nil
	}
	err := b.regs.Sync()
	if err != nil {
		_ = b.regs.Close()
		return fmt.Errorf("sim: could not sync register file: %w", err)
	}
	err = b.regs.Close()
	if err != nil {
		return fmt.Errorf("sim: could not close register file: %w", err)
	}
	return nil
}

// running reports whether the board acquires.
// running must be called with the cluster lock held.
func (b *Board) running() bool {
	if b.regs.Len() == 0 {
		return false
	}
	mode := b.mode().r()
	if mode&regs.ACQ_RUN == 0 {
		return false
	}
	switch mode & regs.ACQ_START_MASK {
	case regs.ACQ_START_SW:
		return true
	case regs.ACQ_START_SIN:
		return b.c.sinLevel(b)
	case regs.ACQ_START_TRGIN:
		return b.triggered
	case regs.ACQ_START_LVDS:
		return b.c.lvdsRun(b)
	}
	return false
}

// latch records a trigger received on the TRG-IN of the board.
func (b *Board) latch() {
	mode := b.mode().r()
	if mode&regs.ACQ_RUN != 0 && mode&regs.ACQ_START_MASK == regs.ACQ_START_TRGIN {
		b.triggered = true
	}
}

func (c *Cluster) swTrigger(src *Board) {
	if src.trgMask().r()&regs.TRG_SW != 0 {
		src.latch()
	}
	if src.trgOut().r()&regs.TRG_SW != 0 {
		c.propagate(nil)
	}
}

func (c *Cluster) extTrigger() {
	if !c.extTrg || len(c.boards) == 0 {
		return
	}
	b0 := c.boards[0]
	if b0.regs.Len() == 0 || b0.inhibit().r() != 0 || b0.trgMask().r()&regs.TRG_EXT == 0 {
		return
	}
	b0.latch()
	if b0.trgOut().r()&regs.TRG_EXT != 0 {
		c.propagate(b0)
	}
}

// propagate delivers a trigger-out pulse to the TRG-IN of all boards
// but skip.
func (c *Cluster) propagate(skip *Board) {
	for _, b := range c.boards {
		if b == skip || b.regs.Len() == 0 {
			continue
		}
		if b.trgMask().r()&regs.TRG_EXT != 0 {
			b.latch()
		}
	}
}

// sinLevel returns the S-IN level seen by board b.
// The first board sees the external level, the others see the TRG-OUT
// of an upstream running board propagating its run state.
func (c *Cluster) sinLevel(b *Board) bool {
	if b.id == 0 {
		return c.sin
	}
	for _, up := range c.boards[:b.id] {
		if up.regs.Len() == 0 {
			continue
		}
		if up.fpio().r()&regs.FPIO_TRGOUT_MODE_MASK != regs.FPIO_TRGOUT_RUN {
			continue
		}
		if up.running() {
			return true
		}
	}
	return false
}

// lvdsRun returns the LVDS run level seen by board b.
func (c *Cluster) lvdsRun(b *Board) bool {
	for _, o := range c.boards {
		if o == b || o.regs.Len() == 0 {
			continue
		}
		mode := o.mode().r()
		if mode&regs.ACQ_START_MASK != regs.ACQ_START_SW || mode&regs.ACQ_RUN == 0 {
			continue
		}
		if o.fpio().r()&regs.FPIO_LVDS_SYNC != 0 {
			return true
		}
	}
	return false
}

var (
	_ dgtz.Driver = (*Board)(nil)
)
