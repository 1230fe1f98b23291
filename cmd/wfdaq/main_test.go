// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-lpc/wfdaq/config"
	"github.com/go-lpc/wfdaq/daq"
	"github.com/go-lpc/wfdaq/dgtz"
	"github.com/go-lpc/wfdaq/dgtz/sim"
)

func newConfig(t *testing.T, n int) config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.Output = dir + string(os.PathSeparator)
	cfg.Events = uint64(n)
	cfg.Writer.QueueWarn = 0
	for i := range cfg.Boards {
		cfg.Boards[i].Path = filepath.Join(dir, filepath.Base(cfg.Boards[i].Path))
	}
	return cfg
}

func TestRun(t *testing.T) {
	for _, tc := range []struct {
		name  string
		auto  bool
		input string
		mode  string
	}{
		{
			name: "auto-start",
			auto: true,
		},
		{
			name:  "console",
			input: "s\n",
		},
		{
			name:  "lvds",
			auto:  true,
			mode:  "LVDS_SYNC",
			input: "\n",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			const nevts = 50
			cfg := newConfig(t, nevts)
			if tc.mode != "" {
				cfg.SyncMode = tc.mode
			}
			cfg.Log.File = filepath.Join(t.TempDir(), "wfdaq.log")

			err := run(cfg, tc.auto, strings.NewReader(tc.input), make(chan os.Signal, 1))
			if err != nil {
				t.Fatalf("could not run acquisition: %+v", err)
			}

			info, err := daq.ReadRunInfo(daq.MetadataName(cfg.Output))
			if err != nil {
				t.Fatalf("could not read run metadata: %+v", err)
			}

			if got, want := len(info.Boards), len(cfg.Boards); got != want {
				t.Fatalf("invalid number of boards: got=%d, want=%d", got, want)
			}
			if got, want := info.Boards[0].Events, uint64(nevts); got < want {
				t.Fatalf("invalid number of events: got=%d, want>=%d", got, want)
			}

			for i, brd := range info.Boards {
				fi, err := os.Stat(daq.SinkName(cfg.Output, i))
				if err != nil {
					t.Fatalf("could not stat sink %d: %+v", i, err)
				}
				if got, want := uint64(fi.Size()), brd.Bytes; got != want {
					t.Fatalf("invalid sink %d size: got=%d, want=%d", i, got, want)
				}
				if brd.Bytes == 0 {
					t.Fatalf("board %d: no data written", i)
				}
			}

			if _, err := os.Stat(cfg.Log.File); err != nil {
				t.Fatalf("could not stat log file: %+v", err)
			}
		})
	}
}

func TestRunProgramsBoards(t *testing.T) {
	cfg := newConfig(t, 10)
	cfg.SyncMode = "LVDS_SYNC"
	cfg.DumpRegs = true
	cfg.Log.File = filepath.Join(t.TempDir(), "wfdaq.log")
	for i := range cfg.Boards {
		brd := &cfg.Boards[i]
		brd.RecordLength = 0x123
		brd.ChannelMask = 0x5
		brd.PostTrigger = 50
		brd.BufferCode = 0xB
	}

	err := run(cfg, true, strings.NewReader(""), make(chan os.Signal, 1))
	if err != nil {
		t.Fatalf("could not run acquisition: %+v", err)
	}

	for i, brd := range cfg.Boards {
		b, err := sim.NewCluster().Open(brd.Path)
		if err != nil {
			t.Fatalf("could not reopen board %d: %+v", i, err)
		}
		for _, tc := range []struct {
			name string
			addr uint32
			want uint32
		}{
			{"record-length", 0x8020, 0x123},
			{"channel-mask", 0x8120, 0x5},
			{"post-trigger", 0x8114, 50},
			{"buffer-code", 0x800C, 0xB},
		} {
			v, err := b.ReadRegister(tc.addr)
			if err != nil {
				t.Fatalf("board %d: could not read %s: %+v", i, tc.name, err)
			}
			if got, want := v, tc.want; got != want {
				t.Fatalf("board %d: invalid %s: got=0x%x, want=0x%x", i, tc.name, got, want)
			}
		}
		_ = b.Close()
	}

	raw, err := os.ReadFile(cfg.Log.File)
	if err != nil {
		t.Fatalf("could not read log file: %+v", err)
	}
	for _, want := range []string{"board 0: Register[ADDR_RUN_DELAY]", "board 1: Register[ADDR_RUN_DELAY]"} {
		if !strings.Contains(string(raw), want) {
			t.Fatalf("missing register dump %q in log:\n%s", want, raw)
		}
	}
}

func TestRunInterrupt(t *testing.T) {
	cfg := newConfig(t, 0)

	stop := make(chan os.Signal, 1)
	stop <- os.Interrupt

	err := run(cfg, false, strings.NewReader(""), stop)
	if err != nil {
		t.Fatalf("could not run acquisition: %+v", err)
	}

	info, err := daq.ReadRunInfo(daq.MetadataName(cfg.Output))
	if err != nil {
		t.Fatalf("could not read run metadata: %+v", err)
	}
	for _, brd := range info.Boards {
		if brd.Bytes != 0 {
			t.Fatalf("board %d: unexpected data (%d bytes)", brd.Board, brd.Bytes)
		}
	}
}

func TestRunInvalidLink(t *testing.T) {
	cfg := newConfig(t, 10)
	cfg.Boards[0].Link = "optical"

	beg := time.Now()
	err := run(cfg, true, strings.NewReader(""), make(chan os.Signal, 1))
	if err == nil {
		t.Fatalf("expected an error")
	}
	if !errors.Is(err, dgtz.ErrUnsupportedLink) {
		t.Fatalf("invalid error: %+v", err)
	}
	// unsupported links are not retried.
	if dt := time.Since(beg); dt > 1*time.Second {
		t.Fatalf("invalid link took %v to fail", dt)
	}
}

func TestSplit(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a@example.com", 1},
		{"a@example.com, b@example.com,", 2},
	} {
		t.Run(tc.in, func(t *testing.T) {
			if got, want := len(split(tc.in)), tc.want; got != want {
				t.Fatalf("invalid number of targets: got=%d, want=%d", got, want)
			}
		})
	}
}
