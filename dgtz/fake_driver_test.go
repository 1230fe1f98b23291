// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dgtz

import (
	"fmt"
	"io"
	"log"

	"github.com/go-lpc/wfdaq/dgtz/internal/regs"
)

// op is a recorded driver operation.
type op struct {
	dev  int
	kind string // "r", "w", "trg" or "acq"
	addr uint32
	v    uint32
}

func (o op) String() string {
	return fmt.Sprintf("dev=%d %s %s=0x%x", o.dev, o.kind, regs.Name(o.addr), o.v)
}

// oplog is shared by all the fake drivers of a test.
type oplog struct {
	ops []op
}

func (ol *oplog) filter(f func(o op) bool) []op {
	var o []op
	for _, v := range ol.ops {
		if f(v) {
			o = append(o, v)
		}
	}
	return o
}

func (ol *oplog) writes(addr uint32) []op {
	return ol.filter(func(o op) bool { return o.kind == "w" && o.addr == addr })
}

type fakeDriver struct {
	id   int
	ops  *oplog
	regs map[uint32]uint32

	failR map[uint32]error
	failW map[uint32]error
	failT error

	bufSize  int
	allocErr error
	closed   bool
}

func newFakeDriver(id int, ops *oplog) *fakeDriver {
	return &fakeDriver{
		id:  id,
		ops: ops,
		regs: map[uint32]uint32{
			regs.ADDR_ACQUISITION_STATUS:  regs.STATUS_PLL_LOCK,
			regs.ADDR_BUFFER_ORGANIZATION: 0xA,
		},
		failR:   make(map[uint32]error),
		failW:   make(map[uint32]error),
		bufSize: 64,
	}
}

func (drv *fakeDriver) ReadRegister(addr uint32) (uint32, error) {
	drv.ops.ops = append(drv.ops.ops, op{dev: drv.id, kind: "r", addr: addr})
	if err := drv.failR[addr]; err != nil {
		return 0, err
	}
	return drv.regs[addr], nil
}

func (drv *fakeDriver) WriteRegister(addr, v uint32) error {
	drv.ops.ops = append(drv.ops.ops, op{dev: drv.id, kind: "w", addr: addr, v: v})
	if err := drv.failW[addr]; err != nil {
		return err
	}
	drv.regs[addr] = v
	return nil
}

func (drv *fakeDriver) ReadBlock(p []byte) (int, error) { return 0, nil }
func (drv *fakeDriver) CountEvents(p []byte) (int, error) { return 0, nil }

func (drv *fakeDriver) SendSWTrigger() error {
	drv.ops.ops = append(drv.ops.ops, op{dev: drv.id, kind: "trg"})
	return drv.failT
}

func (drv *fakeDriver) SetAcquisition(st AcqState) error {
	drv.ops.ops = append(drv.ops.ops, op{dev: drv.id, kind: "acq", v: uint32(st)})
	return nil
}

func (drv *fakeDriver) MallocReadoutBuffer() ([]byte, error) {
	if drv.allocErr != nil {
		return nil, drv.allocErr
	}
	return make([]byte, drv.bufSize), nil
}

func (drv *fakeDriver) Close() error {
	drv.closed = true
	return nil
}

// newFakeDevices returns n devices, in chain order, backed by fake drivers.
func newFakeDevices(n int) ([]*Device, []*fakeDriver, *oplog) {
	var (
		ops  = new(oplog)
		devs = make([]*Device, n)
		drvs = make([]*fakeDriver, n)
	)
	for i := range devs {
		drvs[i] = newFakeDriver(i, ops)
		devs[i] = &Device{
			drv:    drvs[i],
			msg:    discard,
			cfg:    BoardConfig{Family: V1725, Firmware: Waveform},
			nchans: 16,
			buf:    make([]byte, 64),
		}
	}
	Flatten(&BoardGroup{Family: V1725, Devices: devs})
	return devs, drvs, ops
}

var discard = log.New(io.Discard, "", 0)

var (
	_ Driver = (*fakeDriver)(nil)
)
