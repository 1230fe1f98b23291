// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"unicode"

	"github.com/peterh/liner"
)

// Console reads operator commands and sends them to a session.
//
// Each non-space character of an input line is a command:
//   - s: start or stop the run,
//   - R: restart the run,
//   - q: quit.
type Console struct {
	msg  *log.Logger
	send func(cmd Command) bool

	mu   sync.Mutex
	term *liner.State
}

// NewConsole returns a console sending its commands with send.
func NewConsole(send func(cmd Command) bool, msg *log.Logger) *Console {
	return &Console{msg: msg, send: send}
}

// Scan reads commands from r until a quit command or the end of r.
func (c *Console) Scan(r io.Reader) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if c.handle(line) {
			return nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("daq: could not read commands: %w", err)
		}
	}
}

// Interactive reads commands from the terminal until a quit command.
// Ctrl-C and Ctrl-D send a quit command.
func (c *Console) Interactive(prompt string) error {
	term := liner.NewLiner()
	c.mu.Lock()
	c.term = term
	c.mu.Unlock()
	defer c.Close()
	term.SetCtrlCAborts(true)

	for {
		line, err := term.Prompt(prompt)
		switch {
		case err == nil:
			if strings.TrimSpace(line) != "" {
				term.AppendHistory(line)
			}
			if c.handle(line) {
				return nil
			}
		case errors.Is(err, liner.ErrPromptAborted), errors.Is(err, io.EOF):
			c.send(CmdQuit)
			return nil
		default:
			return fmt.Errorf("daq: could not read prompt: %w", err)
		}
	}
}

// Close restores the terminal of an interactive console.
func (c *Console) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.term == nil {
		return nil
	}
	err := c.term.Close()
	c.term = nil
	if err != nil {
		return fmt.Errorf("daq: could not restore terminal: %w", err)
	}
	return nil
}

// handle sends all the commands of the line, and reports whether a quit
// command was sent.
func (c *Console) handle(line string) bool {
	for _, r := range line {
		if unicode.IsSpace(r) {
			continue
		}
		cmd, err := ParseCommand(string(r))
		if err != nil {
			c.msg.Printf("unknown command %q (valid: s, R, q)", r)
			continue
		}
		c.send(cmd)
		if cmd == CmdQuit {
			return true
		}
	}
	return false
}
