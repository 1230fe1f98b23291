// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dgtz

import (
	"fmt"
	"log"

	"github.com/go-lpc/wfdaq/dgtz/internal/regs"
)

// pass is a best-effort sequence of register operations.
// A failed operation is logged and recorded, and the sequence goes on.
type pass struct {
	msg *log.Logger
	n   int   // number of failed operations
	err error // first failure
}

func (p *pass) fail(dev *Device, action, resource string, err error) {
	cerr := &CommError{
		Device:   dev.pos,
		Action:   action,
		Resource: resource,
		Err:      err,
	}
	p.msg.Printf("%v", cerr)
	p.n++
	if p.err == nil {
		p.err = cerr
	}
}

func (p *pass) read(dev *Device, addr uint32) (uint32, bool) {
	v, err := dev.drv.ReadRegister(addr)
	if err != nil {
		p.fail(dev, "reading", regs.Name(addr), err)
		return 0, false
	}
	return v, true
}

func (p *pass) write(dev *Device, addr, v uint32) {
	err := dev.drv.WriteRegister(addr, v)
	if err != nil {
		p.fail(dev, "writing", regs.Name(addr), err)
	}
}

// set ORs mask into the register at addr.
// The write is skipped when the register could not be read.
func (p *pass) set(dev *Device, addr, mask uint32) {
	v, ok := p.read(dev, addr)
	if !ok {
		return
	}
	p.write(dev, addr, v|mask)
}

// clear clears the mask bits of the register at addr.
func (p *pass) clear(dev *Device, addr, mask uint32) {
	v, ok := p.read(dev, addr)
	if !ok {
		return
	}
	p.write(dev, addr, v&^mask)
}

func (p *pass) trigger(dev *Device) {
	err := dev.drv.SendSWTrigger()
	if err != nil {
		p.fail(dev, "sending", "SW trigger", err)
	}
}

func (p *pass) result(what string) error {
	if p.err == nil {
		return nil
	}
	return fmt.Errorf(
		"dgtz: could not %s (%d failed operations): %w",
		what, p.n, p.err,
	)
}
