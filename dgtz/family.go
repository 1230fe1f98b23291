// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dgtz

import (
	"fmt"
	"strings"

	"github.com/go-lpc/wfdaq/dgtz/internal/regs"
)

// Family is a hardware family of digitizer boards.
// Boards of the same family share their programming logic.
type Family uint8

const (
	V1725 Family = iota + 1
	V1742
)

// ParseFamily returns the family named by s.
func ParseFamily(s string) (Family, error) {
	for f := range families {
		if f != 0 && strings.EqualFold(families[f].name, s) {
			return Family(f), nil
		}
	}
	return 0, fmt.Errorf("dgtz: unknown board family %q", s)
}

func (f Family) String() string {
	if f.valid() {
		return families[f].name
	}
	return fmt.Sprintf("Family(%d)", uint8(f))
}

func (f Family) valid() bool {
	return f > 0 && int(f) < len(families)
}

// Channels returns the number of input channels of boards of that family.
func (f Family) Channels() int {
	if !f.valid() {
		return 0
	}
	return families[f].channels
}

// Firmware is the acquisition firmware flashed on a board.
type Firmware uint8

const (
	Waveform Firmware = iota + 1 // waveform recording
	DAW                          // dynamic acquisition window
)

// ParseFirmware returns the firmware named by s.
func ParseFirmware(s string) (Firmware, error) {
	switch strings.ToUpper(s) {
	case "WAVEFORM":
		return Waveform, nil
	case "DAW":
		return DAW, nil
	}
	return 0, fmt.Errorf("unknown firmware %q: %w", s, ErrFirmwareMismatch)
}

func (fw Firmware) String() string {
	switch fw {
	case Waveform:
		return "WAVEFORM"
	case DAW:
		return "DAW"
	}
	return fmt.Sprintf("Firmware(%d)", uint8(fw))
}

// BoardConfig describes one board of the cluster.
type BoardConfig struct {
	Family   Family
	Firmware Firmware
	Link     string // link kind (e.g. "sim", "usb", "optical")
	Path     string // link address

	Channels     int    // enabled channels count (0: family default)
	RecordLength uint32 // samples per event (0: board default)
	ChannelMask  uint32 // enabled channels (0: all channels)
	PostTrigger  uint32 // post trigger size, in percent
	BufferCode   uint32 // buffer organization code (0: board default)
	DRS4Freq     uint32 // DRS4 sampling frequency code (V1742 only)
}

// familySpec is the capability set of a board family.
type familySpec struct {
	name      string
	channels  int
	group     int // channels per group
	firmwares []Firmware

	program func(p *pass, dev *Device)
	quit    func(dev *Device) error
}

// v1742Group is the number of channels per group of V1742 boards.
const v1742Group = 8

var families = [...]familySpec{
	V1725: {
		name:      "V1725",
		channels:  16,
		group:     1,
		firmwares: []Firmware{Waveform, DAW},
		program:   programV1725,
		quit:      quitBoard,
	},
	V1742: {
		name:      "V1742",
		channels:  32,
		group:     v1742Group,
		firmwares: []Firmware{Waveform},
		program:   programV1742,
		quit:      quitBoard,
	},
}

func (f Family) check(fw Firmware) error {
	if !f.valid() {
		return fmt.Errorf("dgtz: invalid board family %v", f)
	}
	for _, v := range families[f].firmwares {
		if v == fw {
			return nil
		}
	}
	return fmt.Errorf(
		"dgtz: firmware %v not supported by %v boards: %w",
		fw, f, ErrFirmwareMismatch,
	)
}

func programV1725(p *pass, dev *Device) {
	cfg := dev.cfg
	if cfg.RecordLength != 0 {
		p.write(dev, regs.ADDR_RECORD_LENGTH, cfg.RecordLength)
	}
	mask := cfg.ChannelMask
	if mask == 0 {
		mask = 1<<uint(dev.nchans) - 1
	}
	p.write(dev, regs.ADDR_CHANNEL_ENABLE_MASK, mask)
	if cfg.PostTrigger != 0 {
		p.write(dev, regs.ADDR_POST_TRIGGER, cfg.PostTrigger)
	}
	if cfg.BufferCode != 0 {
		p.write(dev, regs.ADDR_BUFFER_ORGANIZATION, cfg.BufferCode)
	}
}

func programV1742(p *pass, dev *Device) {
	cfg := dev.cfg
	if cfg.RecordLength != 0 {
		p.write(dev, regs.ADDR_RECORD_LENGTH, cfg.RecordLength)
	}

	// V1742 boards enable their channels by groups.
	mask := cfg.ChannelMask
	if mask == 0 {
		mask = 1<<uint(dev.nchans/v1742Group) - 1
	}
	p.write(dev, regs.ADDR_CHANNEL_ENABLE_MASK, mask)
	if cfg.PostTrigger != 0 {
		p.write(dev, regs.ADDR_POST_TRIGGER, cfg.PostTrigger)
	}
	p.write(dev, regs.ADDR_DRS4_FREQUENCY, cfg.DRS4Freq)
	if cfg.BufferCode != 0 {
		p.write(dev, regs.ADDR_BUFFER_ORGANIZATION, cfg.BufferCode)
	}
}

func quitBoard(dev *Device) error {
	err := dev.drv.SetAcquisition(AcqIdle)
	if err != nil {
		return &CommError{
			Device:   dev.pos,
			Action:   "stopping",
			Resource: "acquisition",
			Err:      err,
		}
	}
	return nil
}
