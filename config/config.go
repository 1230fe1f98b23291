// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config describes the configuration of a wfdaq process.
package config // import "github.com/go-lpc/wfdaq/config"

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-lpc/wfdaq/dgtz"
	"github.com/go-lpc/wfdaq/dgtz/sim"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	yml "gopkg.in/yaml.v2"
)

// Config is the configuration of an acquisition process.
type Config struct {
	Events    uint64 `koanf:"events" yaml:"events"` // events of the first board ending the session (0: no limit)
	Output    string `koanf:"output" yaml:"output"` // prefix of the output files
	SyncMode  string `koanf:"sync_mode" yaml:"sync_mode"`
	StartMode string `koanf:"start_mode" yaml:"start_mode"`
	ClockSync bool   `koanf:"clock_sync" yaml:"clock_sync"` // force the clock sync of the boards at startup
	DumpRegs  bool   `koanf:"dump_registers" yaml:"dump_registers"` // log the sync registers once programmed

	Boards []Board `koanf:"boards" yaml:"boards"`

	Writer  Writer  `koanf:"writer" yaml:"writer"`
	Log     Log     `koanf:"log" yaml:"log"`
	HTTP    HTTP    `koanf:"http" yaml:"http"`
	RunLog  RunLog  `koanf:"runlog" yaml:"runlog"`
	Monitor Monitor `koanf:"monitor" yaml:"monitor"`
	Alert   Alert   `koanf:"alert" yaml:"alert"`
}

// Board describes one digitizer board.
type Board struct {
	Family   string `koanf:"family" yaml:"family"`
	Firmware string `koanf:"firmware" yaml:"firmware"`
	Link     string `koanf:"link" yaml:"link"`
	Path     string `koanf:"path" yaml:"path"`

	Channels     int    `koanf:"channels" yaml:"channels"`
	RecordLength uint32 `koanf:"record_length" yaml:"record_length"`
	ChannelMask  uint32 `koanf:"channel_mask" yaml:"channel_mask"`
	PostTrigger  uint32 `koanf:"post_trigger" yaml:"post_trigger"`
	BufferCode   uint32 `koanf:"buffer_code" yaml:"buffer_code"`
	DRS4Freq     uint32 `koanf:"drs4_freq" yaml:"drs4_freq"`

	Sim Sim `koanf:"sim" yaml:"sim"`
}

// Sim configures an emulated board.
type Sim struct {
	EventsPerRead int `koanf:"events_per_read" yaml:"events_per_read"`
	Samples       int `koanf:"samples" yaml:"samples"`
}

type Writer struct {
	Watermark int `koanf:"watermark" yaml:"watermark"`
	QueueWarn int `koanf:"queue_warn" yaml:"queue_warn"`
}

// Log configures the rotating log file.
type Log struct {
	File       string `koanf:"file" yaml:"file"`
	MaxSize    int    `koanf:"max_size" yaml:"max_size"` // megabytes
	MaxBackups int    `koanf:"max_backups" yaml:"max_backups"`
	MaxAge     int    `koanf:"max_age" yaml:"max_age"` // days
	Compress   bool   `koanf:"compress" yaml:"compress"`
}

type HTTP struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

type RunLog struct {
	DB string `koanf:"db" yaml:"db"` // data source name of the run registry
}

type Monitor struct {
	PMon bool   `koanf:"pmon" yaml:"pmon"`
	Freq string `koanf:"freq" yaml:"freq"`
}

type Alert struct {
	Mail bool `koanf:"mail" yaml:"mail"`
}

// Default returns the default configuration: two emulated boards
// synchronized with a common external trigger.
func Default() Config {
	return Config{
		Events:    1000,
		Output:    "./",
		SyncMode:  "COMMON_EXTERNAL_TRIGGER_TRGIN_TRGOUT",
		StartMode: "START_SW_CONTROLLED",
		Boards: []Board{
			{
				Family:   "V1725",
				Firmware: "WAVEFORM",
				Link:     "sim",
				Path:     "board_0.regs",
				Sim:      Sim{EventsPerRead: 1, Samples: 16},
			},
			{
				Family:   "V1725",
				Firmware: "WAVEFORM",
				Link:     "sim",
				Path:     "board_1.regs",
				Sim:      Sim{EventsPerRead: 1, Samples: 16},
			},
		},
		Writer: Writer{
			Watermark: 2,
			QueueWarn: 1024,
		},
		Log: Log{
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
		},
		Monitor: Monitor{
			Freq: "1s",
		},
	}
}

// Load loads the configuration from the named YAML file, on top of
// the default configuration.
// An empty file name loads the default configuration.
func Load(fname string) (Config, error) {
	k := koanf.New(".")
	err := k.Load(structs.Provider(Default(), "koanf"), nil)
	if err != nil {
		return Config{}, fmt.Errorf("config: could not load defaults: %w", err)
	}

	if fname != "" {
		err = k.Load(file.Provider(fname), yaml.Parser())
		if err != nil {
			return Config{}, fmt.Errorf("config: could not load %q: %w", fname, err)
		}
	}

	var cfg Config
	err = k.Unmarshal("", &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("config: could not unmarshal configuration: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Write writes the configuration as YAML to w.
func Write(w io.Writer, cfg Config) error {
	enc := yml.NewEncoder(w)
	err := enc.Encode(cfg)
	if err != nil {
		return fmt.Errorf("config: could not encode configuration: %w", err)
	}
	err = enc.Close()
	if err != nil {
		return fmt.Errorf("config: could not flush configuration: %w", err)
	}
	return nil
}

// WriteFile writes the configuration as YAML to the named file.
func WriteFile(fname string, cfg Config) error {
	f, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("config: could not create %q: %w", fname, err)
	}
	defer f.Close()

	err = Write(f, cfg)
	if err != nil {
		return err
	}
	err = f.Close()
	if err != nil {
		return fmt.Errorf("config: could not close %q: %w", fname, err)
	}
	return nil
}

// Validate checks the configuration is consistent.
func (cfg Config) Validate() error {
	_, _, err := cfg.Modes()
	if err != nil {
		return err
	}

	if len(cfg.Boards) == 0 {
		return fmt.Errorf("config: no board configured")
	}
	for i, brd := range cfg.Boards {
		_, err := dgtz.ParseFamily(brd.Family)
		if err != nil {
			return fmt.Errorf("config: invalid board %d: %w", i, err)
		}
		if brd.Path == "" {
			return fmt.Errorf("config: invalid board %d: empty path", i)
		}
		if brd.Channels < 0 {
			return fmt.Errorf("config: invalid board %d: negative channels count", i)
		}
	}

	if cfg.Writer.Watermark < 1 {
		return fmt.Errorf("config: invalid writer watermark %d", cfg.Writer.Watermark)
	}
	if cfg.Writer.QueueWarn < 0 {
		return fmt.Errorf("config: invalid writer queue warning level %d", cfg.Writer.QueueWarn)
	}

	if cfg.Monitor.Freq != "" {
		_, err := time.ParseDuration(cfg.Monitor.Freq)
		if err != nil {
			return fmt.Errorf("config: invalid monitor frequency: %w", err)
		}
	}
	return nil
}

// Modes returns the synchronization and start modes of the cluster.
func (cfg Config) Modes() (dgtz.SyncMode, dgtz.StartMode, error) {
	sync, err := dgtz.ParseSyncMode(cfg.SyncMode)
	if err != nil {
		return 0, 0, fmt.Errorf("config: %w", err)
	}
	start, err := dgtz.ParseStartMode(cfg.StartMode)
	if err != nil {
		return 0, 0, fmt.Errorf("config: %w", err)
	}
	return sync, start, nil
}

// BoardConfigs returns the configurations of the boards.
// A board with an unknown firmware gets an invalid firmware, so it is
// skipped when the boards are opened.
func (cfg Config) BoardConfigs() ([]dgtz.BoardConfig, error) {
	o := make([]dgtz.BoardConfig, len(cfg.Boards))
	for i, brd := range cfg.Boards {
		fam, err := dgtz.ParseFamily(brd.Family)
		if err != nil {
			return nil, fmt.Errorf("config: invalid board %d: %w", i, err)
		}
		fw, err := dgtz.ParseFirmware(brd.Firmware)
		if err != nil && !errors.Is(err, dgtz.ErrFirmwareMismatch) {
			return nil, fmt.Errorf("config: invalid board %d: %w", i, err)
		}
		o[i] = dgtz.BoardConfig{
			Family:       fam,
			Firmware:     fw,
			Link:         brd.Link,
			Path:         brd.Path,
			Channels:     brd.Channels,
			RecordLength: brd.RecordLength,
			ChannelMask:  brd.ChannelMask,
			PostTrigger:  brd.PostTrigger,
			BufferCode:   brd.BufferCode,
			DRS4Freq:     brd.DRS4Freq,
		}
	}
	return o, nil
}

// MonitorFreq returns the sampling period of the process monitor.
func (cfg Config) MonitorFreq() time.Duration {
	d, err := time.ParseDuration(cfg.Monitor.Freq)
	if err != nil || d <= 0 {
		return 1 * time.Second
	}
	return d
}

// Opener returns the opener of the configured board links.
// Emulated boards ("sim" links) share one emulated cluster.
func (cfg Config) Opener() dgtz.Opener {
	var (
		c    = sim.NewCluster()
		opts = make(map[string][]sim.Option, len(cfg.Boards))
	)
	for _, brd := range cfg.Boards {
		var o []sim.Option
		if brd.Sim.EventsPerRead > 0 {
			o = append(o, sim.WithEventsPerRead(brd.Sim.EventsPerRead))
		}
		if brd.Sim.Samples > 0 {
			o = append(o, sim.WithSamples(brd.Sim.Samples))
		}
		opts[brd.Path] = o
	}

	return func(bcfg dgtz.BoardConfig) (dgtz.Driver, error) {
		switch strings.ToLower(bcfg.Link) {
		case "", "sim":
			b, err := c.Open(bcfg.Path, opts[bcfg.Path]...)
			if err != nil {
				return nil, err
			}
			return b, nil
		default:
			return nil, fmt.Errorf("config: link %q for board %q: %w", bcfg.Link, bcfg.Path, dgtz.ErrUnsupportedLink)
		}
	}
}
