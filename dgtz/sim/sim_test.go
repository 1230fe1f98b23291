// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sim_test

import (
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"testing"

	"github.com/go-lpc/wfdaq/dgtz"
	"github.com/go-lpc/wfdaq/dgtz/sim"
)

func openCluster(t *testing.T, c *sim.Cluster, n int, opts ...sim.Option) []*dgtz.Device {
	t.Helper()

	dir := t.TempDir()
	cfgs := make([]dgtz.BoardConfig, n)
	for i := range cfgs {
		cfgs[i] = dgtz.BoardConfig{
			Family:   dgtz.V1725,
			Firmware: dgtz.Waveform,
			Link:     "sim",
			Path:     filepath.Join(dir, fmt.Sprintf("board-%d.regs", i)),
		}
	}

	grps, err := dgtz.OpenGroups(
		cfgs, c.Opener(opts...),
		dgtz.WithLogger(log.New(io.Discard, "", 0)),
		dgtz.WithOpenRetry(0),
	)
	if err != nil {
		t.Fatalf("could not open boards: %+v", err)
	}
	devs := dgtz.Flatten(grps...)
	t.Cleanup(func() {
		_ = dgtz.Close(devs)
	})
	return devs
}

func TestSyncModes(t *testing.T) {
	for _, tc := range []struct {
		mode dgtz.SyncMode
		n    int
		ext  bool
		sin  bool
	}{
		{mode: dgtz.CommonExternalTrigger, n: 1, ext: true},
		{mode: dgtz.CommonExternalTrigger, n: 2, ext: true},
		{mode: dgtz.CommonExternalTrigger, n: 3, ext: true},
		{mode: dgtz.IndividualTriggerDaisyChain, n: 1},
		{mode: dgtz.IndividualTriggerDaisyChain, n: 2, sin: true},
		{mode: dgtz.TriggerOneToAllOr, n: 1},
		{mode: dgtz.TriggerOneToAllOr, n: 2},
		{mode: dgtz.TriggerOneToAllOr, n: 4},
		{mode: dgtz.LvdsSync, n: 1},
		{mode: dgtz.LvdsSync, n: 2},
		{mode: dgtz.LvdsSync, n: 3},
	} {
		t.Run(fmt.Sprintf("%v-n=%d", tc.mode, tc.n), func(t *testing.T) {
			c := sim.NewCluster()
			c.SetExternalTrigger(tc.ext)
			c.SetSIN(tc.sin)

			devs := openCluster(t, c, tc.n)
			ctl, err := dgtz.NewController(
				devs, tc.mode, dgtz.SoftwareControlled,
				dgtz.WithLogger(log.New(io.Discard, "", 0)),
			)
			if err != nil {
				t.Fatalf("could not create controller: %+v", err)
			}

			check := func(stage string, want int) {
				t.Helper()
				for _, dev := range devs {
					blk, err := dev.ReadBlock()
					if err != nil {
						t.Fatalf("%s: could not read block from %v: %+v", stage, dev, err)
					}
					n, err := dev.CountEvents(blk)
					if err != nil {
						t.Fatalf("%s: could not count events from %v: %+v", stage, dev, err)
					}
					if got := n; got != want {
						t.Fatalf("%s: invalid events from %v: got=%d, want=%d", stage, dev, got, want)
					}
				}
			}

			err = ctl.Program()
			if err != nil {
				t.Fatalf("could not program: %+v", err)
			}
			check("programmed", 0)

			err = ctl.StartRun()
			if err != nil {
				t.Fatalf("could not start run: %+v", err)
			}
			check("started", 1)
			check("running", 1)

			err = ctl.StopRun()
			if err != nil {
				t.Fatalf("could not stop run: %+v", err)
			}
			check("stopped", 0)
		})
	}
}

func TestAcquisitionStatus(t *testing.T) {
	c := sim.NewCluster()
	devs := openCluster(t, c, 1)
	dev := devs[0]

	const (
		acqStatus = 0x8104
		acqRun    = 0x4
		pllLock   = 0x80
	)

	st, err := dev.ReadRegister(acqStatus)
	if err != nil {
		t.Fatalf("could not read status: %+v", err)
	}
	if st&pllLock == 0 {
		t.Fatalf("invalid PLL status: 0x%x", st)
	}
	if st&acqRun != 0 {
		t.Fatalf("invalid run status: 0x%x", st)
	}

	err = dev.Quit()
	if err != nil {
		t.Fatalf("could not quit: %+v", err)
	}

	ctl, err := dgtz.NewController(devs, dgtz.LvdsSync, dgtz.SoftwareControlled, dgtz.WithLogger(log.New(io.Discard, "", 0)))
	if err != nil {
		t.Fatalf("could not create controller: %+v", err)
	}
	if err := ctl.Program(); err != nil {
		t.Fatalf("could not program: %+v", err)
	}
	if err := ctl.StartRun(); err != nil {
		t.Fatalf("could not start: %+v", err)
	}

	st, err = dev.ReadRegister(acqStatus)
	if err != nil {
		t.Fatalf("could not read status: %+v", err)
	}
	if st&acqRun == 0 {
		t.Fatalf("invalid run status: 0x%x", st)
	}

	err = dev.Quit()
	if err != nil {
		t.Fatalf("could not quit: %+v", err)
	}
	st, err = dev.ReadRegister(acqStatus)
	if err != nil {
		t.Fatalf("could not read status: %+v", err)
	}
	if st&acqRun != 0 {
		t.Fatalf("invalid run status after quit: 0x%x", st)
	}
}

func TestOpenFailures(t *testing.T) {
	for _, tc := range []struct {
		name string
		link string
		opts []sim.Option
		want error
	}{
		{
			name: "pll-unlocked",
			opts: []sim.Option{sim.WithPLLUnlocked()},
		},
		{
			name: "alloc",
			opts: []sim.Option{sim.WithReadoutBufferSize(-1)},
			want: dgtz.ErrAllocation,
		},
		{
			name: "link",
			link: "usb",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := sim.NewCluster()
			link := tc.link
			if link == "" {
				link = "sim"
			}
			_, err := dgtz.Open(dgtz.BoardConfig{
				Family:   dgtz.V1725,
				Firmware: dgtz.DAW,
				Link:     link,
				Path:     filepath.Join(t.TempDir(), "board.regs"),
			}, c.Opener(tc.opts...), dgtz.WithOpenRetry(0))
			if err == nil {
				t.Fatalf("expected an error")
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("invalid error: got=%+v, want=%+v", err, tc.want)
			}
		})
	}
}

func TestIdleTimeout(t *testing.T) {
	c := sim.NewCluster()
	devs := openCluster(t, c, 1, sim.WithIdleTimeout())

	_, err := devs[0].ReadBlock()
	if !errors.Is(err, dgtz.ErrTimeout) {
		t.Fatalf("invalid error: got=%+v, want=%+v", err, dgtz.ErrTimeout)
	}
}

func TestEventsPerRead(t *testing.T) {
	c := sim.NewCluster()
	devs := openCluster(t, c, 1, sim.WithEventsPerRead(5), sim.WithSamples(8))
	dev := devs[0]

	if got, want := dev.ReadoutBufferLen(), 5*4*(4+8); got != want {
		t.Fatalf("invalid readout buffer size: got=%d, want=%d", got, want)
	}

	ctl, err := dgtz.NewController(devs, dgtz.IndividualTriggerDaisyChain, dgtz.SoftwareControlled, dgtz.WithLogger(log.New(io.Discard, "", 0)))
	if err != nil {
		t.Fatalf("could not create controller: %+v", err)
	}
	c.SetSIN(false)
	if err := ctl.Program(); err != nil {
		t.Fatalf("could not program: %+v", err)
	}
	if err := ctl.StartRun(); err != nil {
		t.Fatalf("could not start: %+v", err)
	}

	blk, err := dev.ReadBlock()
	if err != nil {
		t.Fatalf("could not read block: %+v", err)
	}
	if got, want := len(blk), dev.ReadoutBufferLen(); got != want {
		t.Fatalf("invalid block size: got=%d, want=%d", got, want)
	}
	n, err := dev.CountEvents(blk)
	if err != nil {
		t.Fatalf("could not count events: %+v", err)
	}
	if got, want := n, 5; got != want {
		t.Fatalf("invalid events: got=%d, want=%d", got, want)
	}
}

func TestRegisterFile(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "board.regs")

	c := sim.NewCluster()
	b, err := c.Open(fname)
	if err != nil {
		t.Fatalf("could not open board: %+v", err)
	}
	err = b.WriteRegister(0x8170, 42)
	if err != nil {
		t.Fatalf("could not write register: %+v", err)
	}
	err = b.Close()
	if err != nil {
		t.Fatalf("could not close board: %+v", err)
	}

	_, err = b.ReadRegister(0x8170)
	if err == nil {
		t.Fatalf("expected an error reading a closed board")
	}

	b, err = sim.NewCluster().Open(fname)
	if err != nil {
		t.Fatalf("could not reopen board: %+v", err)
	}
	defer b.Close()

	v, err := b.ReadRegister(0x8170)
	if err != nil {
		t.Fatalf("could not read register: %+v", err)
	}
	if got, want := v, uint32(42); got != want {
		t.Fatalf("invalid register value: got=%d, want=%d", got, want)
	}

	_, err = b.ReadRegister(0x20000)
	if err == nil {
		t.Fatalf("expected an error reading out of range")
	}
}
