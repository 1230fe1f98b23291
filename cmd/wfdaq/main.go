// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command wfdaq acquires data from a cluster of synchronized digitizer
// boards.
//
// Usage: wfdaq [options]
//
// ex:
//
//	$> wfdaq -mkconf wfdaq.yaml
//	$> wfdaq -c wfdaq.yaml -n 10000 -f ./data/
//	wfdaq> s
//
// Operator commands:
//   - s: start or stop the run,
//   - R: restart the run,
//   - q: quit.
package main // import "github.com/go-lpc/wfdaq/cmd/wfdaq"

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-lpc/wfdaq"
	"github.com/go-lpc/wfdaq/config"
	"github.com/go-lpc/wfdaq/daq"
	"github.com/go-lpc/wfdaq/dgtz"
	"github.com/go-lpc/wfdaq/runlog"
	"github.com/peterh/liner"
	"github.com/sbinet/pmon"
	"github.com/theckman/yacspin"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	var (
		cfgName   = flag.String("c", "", "path to the YAML configuration file")
		nevts     = flag.Uint64("n", 0, "number of events of the first board to acquire (0: from configuration)")
		output    = flag.String("f", "", "prefix of the output files (default: from configuration)")
		mkconf    = flag.String("mkconf", "", "write the default configuration to the named file and exit")
		addr      = flag.String("http", "", "[addr]:port of the HTTP status server")
		doMon     = flag.Bool("pmon", false, "enable pmon monitoring")
		freq      = flag.Duration("freq", 0, "pmon frequency (default: from configuration)")
		clockSync = flag.Bool("clock-sync", false, "force the clock synchronization of the boards")
		autoStart = flag.Bool("auto-start", false, "start the run without waiting for an operator command")
		dumpRegs  = flag.Bool("dump-regs", false, "log the synchronization registers once programmed")
	)

	log.SetPrefix("wfdaq: ")
	log.SetFlags(0)

	flag.Parse()

	if v, _ := wfdaq.Version(); v != "" {
		log.Printf("version %s", v)
	}

	if *mkconf != "" {
		err := config.WriteFile(*mkconf, config.Default())
		if err != nil {
			log.Fatalf("%+v", err)
		}
		return
	}

	cfg, err := config.Load(*cfgName)
	if err != nil {
		log.Fatalf("could not load configuration: %+v", err)
	}

	if *nevts != 0 {
		cfg.Events = *nevts
	}
	if *output != "" {
		cfg.Output = *output
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	if *doMon {
		cfg.Monitor.PMon = true
	}
	if *freq > 0 {
		cfg.Monitor.Freq = freq.String()
	}
	if *clockSync {
		cfg.ClockSync = true
	}
	if *dumpRegs {
		cfg.DumpRegs = true
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	defer signal.Stop(stop)

	err = run(cfg, *autoStart, nil, stop)
	if err != nil {
		if cfg.Alert.Mail {
			alertMail(cfg, err)
		}
		log.Fatalf("%+v", err)
	}
}

// run runs an acquisition session described by cfg.
// Operator commands are read from stdin, or from the terminal when stdin
// is nil.
func run(cfg config.Config, autoStart bool, stdin io.Reader, stop chan os.Signal) error {
	out := io.Writer(os.Stdout)
	if cfg.Log.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSize,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAge,
			Compress:   cfg.Log.Compress,
		}
		defer lj.Close()
		out = io.MultiWriter(os.Stdout, lj)
	}
	var (
		msg  = log.New(out, "wfdaq: ", 0)
		dmsg = log.New(out, "dgtz: ", 0)
		qmsg = log.New(out, "daq: ", 0)
	)

	if cfg.Monitor.PMon {
		kill, err := monitor(msg, cfg.Output+"pmon.log", cfg.MonitorFreq())
		if err != nil {
			return err
		}
		defer kill()
	}

	bcfgs, err := cfg.BoardConfigs()
	if err != nil {
		return fmt.Errorf("could not configure boards: %w", err)
	}

	mode, start, err := cfg.Modes()
	if err != nil {
		return fmt.Errorf("could not configure cluster: %w", err)
	}

	grps, err := dgtz.OpenGroups(bcfgs, cfg.Opener(), dgtz.WithLogger(dmsg))
	if err != nil {
		return fmt.Errorf("could not open boards: %w", err)
	}
	devs := dgtz.Flatten(grps...)
	defer func() {
		err := dgtz.Close(devs)
		if err != nil {
			msg.Printf("%+v", err)
		}
	}()
	for _, grp := range grps {
		msg.Printf("opened %d %v board(s)", len(grp.Devices), grp.Family)
	}

	err = dgtz.ProgramAll(devs)
	if err != nil {
		return fmt.Errorf("could not program boards: %w", err)
	}

	if cfg.ClockSync {
		err = forceClockSync(devs)
		if err != nil {
			return fmt.Errorf("could not synchronize clocks: %w", err)
		}
	}

	copts := []dgtz.Option{dgtz.WithLogger(dmsg)}
	if cfg.DumpRegs {
		copts = append(copts, dgtz.WithRegisterDump(out))
	}
	ctl, err := dgtz.NewController(devs, mode, start, copts...)
	if err != nil {
		return fmt.Errorf("could not create sync controller: %w", err)
	}

	var (
		db    *runlog.DB
		runID int64
	)
	if cfg.RunLog.DB != "" {
		db, err = runlog.Open(cfg.RunLog.DB)
		if err != nil {
			return fmt.Errorf("could not open run registry: %w", err)
		}
		defer db.Close()

		last, err := db.LastRun(context.Background())
		if err != nil {
			return fmt.Errorf("could not retrieve last run: %w", err)
		}
		runID = last + 1
	}

	fs, err := daq.CreateSinks(cfg.Output, len(devs))
	if err != nil {
		return fmt.Errorf("could not create sinks: %w", err)
	}
	defer func() {
		_ = daq.CloseSinks(fs)
	}()

	sinks := make([]io.Writer, len(fs))
	for i, f := range fs {
		sinks[i] = f
	}

	sess, err := daq.NewSession(
		ctl, sinks,
		daq.WithLogger(qmsg),
		daq.WithEvents(cfg.Events),
		daq.WithWatermark(cfg.Writer.Watermark),
		daq.WithQueueWarn(cfg.Writer.QueueWarn),
		daq.WithRunNumber(runID),
	)
	if err != nil {
		return fmt.Errorf("could not create session: %w", err)
	}

	if db != nil {
		info := sess.Info()
		err = db.BeginRun(context.Background(), runlog.Run{
			Run:       runID,
			ID:        info.ID,
			SyncMode:  info.SyncMode,
			StartMode: info.StartMode,
			Boards:    len(devs),
			Target:    info.Target,
			Start:     time.Now(),
		})
		if err != nil {
			return fmt.Errorf("could not register run: %w", err)
		}
	}

	if cfg.HTTP.Addr != "" {
		srv := &http.Server{
			Addr:    cfg.HTTP.Addr,
			Handler: daq.NewHandler(sess),
		}
		go func() {
			msg.Printf("serving status on %q...", cfg.HTTP.Addr)
			err := srv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				msg.Printf("could not serve status: %+v", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	cons := daq.NewConsole(sess.Send, msg)
	defer cons.Close()
	go func() {
		var err error
		switch {
		case stdin != nil:
			err = cons.Scan(stdin)
		case liner.TerminalSupported():
			err = cons.Interactive("wfdaq> ")
		default:
			err = cons.Scan(os.Stdin)
		}
		if err != nil {
			msg.Printf("%+v", err)
		}
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-stop:
			msg.Printf("interrupt: quitting...")
			sess.Send(daq.CmdQuit)
		case <-done:
		}
	}()

	if autoStart {
		sess.Send(daq.CmdToggle)
	}

	err = sess.Run(context.Background())
	info := sess.Info()
	if e := info.WriteFile(daq.MetadataName(cfg.Output)); e != nil {
		msg.Printf("%+v", e)
	}

	var evts, bytes uint64
	for _, brd := range info.Boards {
		evts += brd.Events
		bytes += brd.Bytes
		msg.Printf(
			"board %d: %d events, %d bytes (crc32=0x%08x)",
			brd.Board, brd.Events, brd.Bytes, brd.CRC32,
		)
	}

	if db != nil {
		e := db.EndRun(context.Background(), runID, info.Stop, evts, bytes)
		if e != nil {
			msg.Printf("%+v", e)
		}
	}

	if err != nil {
		return fmt.Errorf("could not run acquisition: %w", err)
	}

	err = daq.CloseSinks(fs)
	fs = nil
	if err != nil {
		return fmt.Errorf("could not close sinks: %w", err)
	}
	return nil
}

func monitor(msg *log.Logger, fname string, freq time.Duration) (func(), error) {
	p, err := pmon.Monitor(os.Getpid())
	if err != nil {
		return nil, fmt.Errorf("could not start monitoring: %w", err)
	}
	f, err := os.Create(fname)
	if err != nil {
		return nil, fmt.Errorf("could not create pmon log file: %w", err)
	}
	p.W = f
	p.Freq = freq

	go func() {
		err := p.Run()
		if err != nil {
			msg.Printf("could not run pmon: %+v", err)
		}
	}()

	return func() {
		err := p.Kill()
		if err != nil {
			msg.Printf("could not stop monitoring: %+v", err)
		}
		_ = f.Close()
	}, nil
}

func forceClockSync(devs []*dgtz.Device) error {
	spin, err := yacspin.New(yacspin.Config{
		Frequency:     100 * time.Millisecond,
		CharSet:       yacspin.CharSets[11],
		Suffix:        " clock sync",
		Message:       "aligning clocks",
		StopCharacter: "✓",
		StopColors:    []string{"fgGreen"},
	})
	if err != nil {
		return fmt.Errorf("could not create spinner: %w", err)
	}

	err = spin.Start()
	if err != nil {
		return fmt.Errorf("could not start spinner: %w", err)
	}
	defer spin.Stop()

	for _, dev := range devs {
		spin.Message(fmt.Sprintf("board %d: waiting for PLL lock", dev.Pos()))
		err := dgtz.ForceClockSync(dev)
		if err != nil {
			return err
		}
	}
	return nil
}
