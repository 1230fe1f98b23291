// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package regs holds the register map of the waveform digitizer boards.
package regs // import "github.com/go-lpc/wfdaq/dgtz/internal/regs"

import "fmt"

const (
	ADDR_RECORD_LENGTH       = 0x8020
	ADDR_BUFFER_ORGANIZATION = 0x800C
	ADDR_DRS4_FREQUENCY      = 0x80D8
	ADDR_ACQUISITION_MODE    = 0x8100
	ADDR_ACQUISITION_STATUS  = 0x8104
	ADDR_SW_TRIGGER          = 0x8108
	ADDR_GLOBAL_TRG_MASK     = 0x810C
	ADDR_TRG_OUT_MASK        = 0x8110
	ADDR_POST_TRIGGER        = 0x8114
	ADDR_FRONT_PANEL_IO_SET  = 0x811C
	ADDR_CHANNEL_ENABLE_MASK = 0x8120
	ADDR_FORCE_SYNC          = 0x813C
	ADDR_ALMOST_FULL_LEVEL   = 0x816C
	ADDR_RUN_DELAY           = 0x8170
	ADDR_EXT_TRG_INHIBIT     = 0x817C
	ADDR_LVDS_NEW_FEATURES   = 0x81A0
	ADDR_GROUP_TRG_MASK      = 0x10A8
	ADDR_RELOAD_PLL          = 0xEF34
	ADDR_SPAN                = 0x10000 // size of the register space
)

const (
	RUN_START_ON_SOFTWARE_COMMAND  = 0xC
	RUN_START_ON_SIN_LEVEL         = 0xD
	RUN_START_ON_TRGIN_RISING_EDGE = 0xE
	RUN_START_ON_LVDS_IO           = 0xF

	ACQ_RUN          = 0x4   // acquisition run/arm bit
	ACQ_START_MASK   = 0x3   // start source selection
	ACQ_START_SW     = 0x0   // software controlled
	ACQ_START_SIN    = 0x1   // S-IN controlled
	ACQ_START_TRGIN  = 0x2   // first trigger controlled
	ACQ_START_LVDS   = 0x3   // LVDS controlled
	ACQ_BUSY_MONITOR = 0x100 // monitor busy to veto triggers

	TRG_SW  = 1 << 31
	TRG_EXT = 1 << 30

	FPIO_TRGOUT_MODE_MASK = 0x000F0000
	FPIO_TRGOUT_RUN       = 0x00010000
	FPIO_LVDS_SYNC        = 0x004d0138
	LVDS_BUSY_VETO        = 0x00002222

	STATUS_PLL_LOCK = 1 << 7
)

var names = map[uint32]string{
	ADDR_RECORD_LENGTH:       "ADDR_RECORD_LENGTH",
	ADDR_BUFFER_ORGANIZATION: "ADDR_BUFFER_ORGANIZATION",
	ADDR_DRS4_FREQUENCY:      "ADDR_DRS4_FREQUENCY",
	ADDR_ACQUISITION_MODE:    "ADDR_ACQUISITION_MODE",
	ADDR_ACQUISITION_STATUS:  "ADDR_ACQUISITION_STATUS",
	ADDR_SW_TRIGGER:          "ADDR_SW_TRIGGER",
	ADDR_GLOBAL_TRG_MASK:     "ADDR_GLOBAL_TRG_MASK",
	ADDR_TRG_OUT_MASK:        "ADDR_TRG_OUT_MASK",
	ADDR_POST_TRIGGER:        "ADDR_POST_TRIGGER",
	ADDR_FRONT_PANEL_IO_SET:  "ADDR_FRONT_PANEL_IO_SET",
	ADDR_CHANNEL_ENABLE_MASK: "ADDR_CHANNEL_ENABLE_MASK",
	ADDR_FORCE_SYNC:          "ADDR_FORCE_SYNC",
	ADDR_ALMOST_FULL_LEVEL:   "ADDR_ALMOST_FULL_LEVEL",
	ADDR_RUN_DELAY:           "ADDR_RUN_DELAY",
	ADDR_EXT_TRG_INHIBIT:     "ADDR_EXT_TRG_INHIBIT",
	ADDR_LVDS_NEW_FEATURES:   "ADDR_LVDS_NEW_FEATURES",
	ADDR_GROUP_TRG_MASK:      "ADDR_GROUP_TRG_MASK",
	ADDR_RELOAD_PLL:          "ADDR_RELOAD_PLL",
}

// Name returns the diagnostic name of the register at addr.
func Name(addr uint32) string {
	if name, ok := names[addr]; ok {
		return "Register[" + name + "]"
	}
	return fmt.Sprintf("Register[0x%04x]", addr)
}
