// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	"github.com/snksoft/crc"
)

// WriteStats are the counters of a board sink.
type WriteStats struct {
	Bytes  uint64 `json:"bytes"`
	Chunks uint64 `json:"chunks"`
}

type sinkCounters struct {
	bytes  atomic.Uint64
	chunks atomic.Uint64
}

// Writer drains the board queues into their sinks.
type Writer struct {
	msg   *log.Logger
	rc    *RunControl
	qs    []*Queue
	sinks []io.Writer
	mark  int
	idle  time.Duration

	cnts []sinkCounters
	crc  *crc.Table
	sums []uint64
}

func newWriter(msg *log.Logger, rc *RunControl, qs []*Queue, sinks []io.Writer, mark int, idle time.Duration) *Writer {
	w := &Writer{
		msg:   msg,
		rc:    rc,
		qs:    qs,
		sinks: sinks,
		mark:  mark,
		idle:  idle,
		cnts:  make([]sinkCounters, len(sinks)),
		crc:   crc.NewTable(crc.CRC32),
		sums:  make([]uint64, len(sinks)),
	}
	for i := range w.sums {
		w.sums[i] = w.crc.InitCrc()
	}
	return w
}

// Run writes the queued chunks until the run control reached the Quit
// state and all the queues are drained.
//
// A chunk is written once the depth of its queue reaches the watermark,
// or as soon as it is queued after a quit was requested.
func (w *Writer) Run(ctx context.Context) error {
	for {
		var (
			final = w.rc.State() == Quit
			mark  = w.mark
			n     = 0
		)
		if final || w.rc.Flags().Quit {
			mark = 1
		}

		for i, q := range w.qs {
			if q.Len() < mark {
				continue
			}
			c, ok := q.Pop()
			if !ok {
				continue
			}
			err := w.write(i, c)
			if err != nil {
				return err
			}
			n++
		}

		if final && w.drained() {
			for i := range w.sinks {
				st := w.Stats(i)
				w.msg.Printf("sink %d: %d chunks, %d bytes written", i, st.Chunks, st.Bytes)
			}
			return nil
		}
		if n == 0 {
			time.Sleep(w.idle)
		}
	}
}

func (w *Writer) drained() bool {
	for _, q := range w.qs {
		if q.Len() > 0 {
			return false
		}
	}
	return true
}

func (w *Writer) write(i int, c Chunk) error {
	n, err := w.sinks[i].Write(c.Data)
	if err == nil && n != len(c.Data) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return fmt.Errorf("daq: could not write chunk to sink %d: %w", i, err)
	}
	w.sums[i] = w.crc.UpdateCrc(w.sums[i], c.Data)
	w.cnts[i].bytes.Add(uint64(n))
	w.cnts[i].chunks.Add(1)
	return nil
}

// Stats returns the counters of the sink of the i-th board.
func (w *Writer) Stats(i int) WriteStats {
	return WriteStats{
		Bytes:  w.cnts[i].bytes.Load(),
		Chunks: w.cnts[i].chunks.Load(),
	}
}

// CRC32 returns the checksum of the data written to the sink of the
// i-th board.
// CRC32 must not be called concurrently with Run.
func (w *Writer) CRC32(i int) uint32 {
	return w.crc.CRC32(w.sums[i])
}
