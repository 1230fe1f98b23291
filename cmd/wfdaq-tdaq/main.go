// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command wfdaq-tdaq starts a TDAQ process driving a cluster of
// synchronized digitizer boards.
//
// Usage: wfdaq-tdaq [tdaq-options] name [config.yaml]
//
// The /config command loads the configuration named by its payload, or the
// one given on the command line.
// The /init command opens the boards and creates an acquisition session.
// The /start and /stop commands start and stop the run.
// Rate reports are published on the /rates output.
package main // import "github.com/go-lpc/wfdaq/cmd/wfdaq-tdaq"

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/wfdaq/config"
	"github.com/go-lpc/wfdaq/daq"
	"github.com/go-lpc/wfdaq/dgtz"
)

func main() {
	cmd := flags.New()

	dev := newServer(os.Stdout)
	if len(cmd.Args) > 0 {
		dev.name = cmd.Args[0]
	}
	if len(cmd.Args) > 1 {
		dev.fname = cmd.Args[1]
	}

	srv := tdaq.New(cmd, os.Stdout)
	srv.CmdHandle("/config", dev.OnConfig)
	srv.CmdHandle("/init", dev.OnInit)
	srv.CmdHandle("/reset", dev.OnReset)
	srv.CmdHandle("/start", dev.OnStart)
	srv.CmdHandle("/stop", dev.OnStop)
	srv.CmdHandle("/quit", dev.OnQuit)

	srv.OutputHandle("/rates", dev.rates)

	srv.RunHandle(dev.run)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

type server struct {
	name  string
	fname string // default configuration file
	out   io.Writer

	mu   sync.Mutex
	cfg  config.Config
	devs []*dgtz.Device
	fs   []*os.File
	sess *daq.Session
	done chan error
	wait time.Duration // maximum time waiting for a session to quit

	reps chan daq.Report
}

func newServer(out io.Writer) *server {
	return &server{
		name: "wfdaq",
		out:  out,
		cfg:  config.Default(),
		wait: 10 * time.Second,
		reps: make(chan daq.Report, 1024),
	}
}

func (srv *server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")

	fname := srv.fname
	if len(req.Body) > 0 {
		dec := tdaq.NewDecoder(bytes.NewReader(req.Body))
		fname = dec.ReadStr()
	}

	cfg, err := config.Load(fname)
	if err != nil {
		ctx.Msg.Errorf("could not load configuration %q: %+v", fname, err)
		return fmt.Errorf("could not load configuration %q: %w", fname, err)
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.cfg = cfg
	ctx.Msg.Infof("configuration: %d boards, sync=%s, events=%d", len(cfg.Boards), cfg.SyncMode, cfg.Events)
	return nil
}

func (srv *server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")

	srv.mu.Lock()
	defer srv.mu.Unlock()

	err := srv.teardown(ctx)
	if err != nil {
		return err
	}

	err = srv.setup(ctx)
	if err != nil {
		ctx.Msg.Errorf("could not initialize session: %+v", err)
		return fmt.Errorf("could not initialize session: %w", err)
	}
	return nil
}

func (srv *server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")

	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.teardown(ctx)
}

func (srv *server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")

	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.sess == nil {
		return fmt.Errorf("could not start run: no session")
	}
	if !srv.sess.Send(daq.CmdStart) {
		return fmt.Errorf("could not start run: command queue full")
	}
	return nil
}

func (srv *server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /stop command...")

	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.sess == nil {
		return fmt.Errorf("could not stop run: no session")
	}
	st := srv.sess.Status()
	for _, brd := range st.Boards {
		ctx.Msg.Infof("board %d: %d events, %d bytes", brd.Board, brd.Read.Events, brd.Write.Bytes)
	}
	if !srv.sess.Send(daq.CmdStop) {
		return fmt.Errorf("could not stop run: command queue full")
	}
	return nil
}

func (srv *server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")

	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.teardown(ctx)
}

func (srv *server) setup(ctx tdaq.Context) error {
	cfg := srv.cfg

	bcfgs, err := cfg.BoardConfigs()
	if err != nil {
		return err
	}
	mode, start, err := cfg.Modes()
	if err != nil {
		return err
	}

	var (
		dmsg = log.New(srv.out, "dgtz: ", 0)
		qmsg = log.New(srv.out, "daq: ", 0)
	)

	grps, err := dgtz.OpenGroups(bcfgs, cfg.Opener(), dgtz.WithLogger(dmsg))
	if err != nil {
		return err
	}
	devs := dgtz.Flatten(grps...)

	err = dgtz.ProgramAll(devs)
	if err != nil {
		_ = dgtz.Close(devs)
		return err
	}

	copts := []dgtz.Option{dgtz.WithLogger(dmsg)}
	if cfg.DumpRegs {
		copts = append(copts, dgtz.WithRegisterDump(srv.out))
	}
	ctl, err := dgtz.NewController(devs, mode, start, copts...)
	if err != nil {
		_ = dgtz.Close(devs)
		return err
	}

	fs, err := daq.CreateSinks(cfg.Output, len(devs))
	if err != nil {
		_ = dgtz.Close(devs)
		return err
	}
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
		daq.WithReports(srv.report),
	)
	if err != nil {
		_ = daq.CloseSinks(fs)
		_ = dgtz.Close(devs)
		return err
	}

	srv.devs = devs
	srv.fs = fs
	srv.sess = sess
	srv.done = make(chan error, 1)
	go func() {
		srv.done <- sess.Run(context.Background())
	}()

	ctx.Msg.Infof("session %v: %d boards, %v", sess.Info().ID, len(devs), ctl.Mode())
	return nil
}

// teardown quits the current session, and releases its boards and sinks.
// A session still running after the quit timeout keeps its resources.
func (srv *server) teardown(ctx tdaq.Context) error {
	if srv.sess == nil {
		return nil
	}

	srv.sess.Send(daq.CmdQuit)
	var err error
	select {
	case err = <-srv.done:
	case <-time.After(srv.wait):
		ctx.Msg.Errorf("session %v still running after %v", srv.sess.Info().ID, srv.wait)
		return fmt.Errorf("could not quit session: timeout after %v", srv.wait)
	}
	if err != nil {
		ctx.Msg.Errorf("session failed: %+v", err)
	}

	info := srv.sess.Info()
	if e := info.WriteFile(daq.MetadataName(srv.cfg.Output)); e != nil && err == nil {
		err = e
	}
	if e := daq.CloseSinks(srv.fs); e != nil && err == nil {
		err = e
	}
	if e := dgtz.Close(srv.devs); e != nil && err == nil {
		err = e
	}

	srv.sess = nil
	srv.devs = nil
	srv.fs = nil
	srv.done = nil

	if err != nil {
		return fmt.Errorf("could not quit session: %w", err)
	}
	return nil
}

func (srv *server) report(rep daq.Report) {
	select {
	case srv.reps <- rep:
	default:
		// drop reports nobody consumes.
	}
}

func (srv *server) rates(ctx tdaq.Context, dst *tdaq.Frame) error {
	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
		return nil
	case rep := <-srv.reps:
		raw, err := json.Marshal(rep)
		if err != nil {
			return fmt.Errorf("could not marshal rate report: %w", err)
		}
		dst.Body = raw
	}
	return nil
}

func (srv *server) run(ctx tdaq.Context) error {
	<-ctx.Ctx.Done()
	return nil
}
