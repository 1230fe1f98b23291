// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"bytes"
	"context"
	"errors"
	"hash/crc32"
	"io"
	"log"
	"testing"
	"time"
)

func quitRunControl(t *testing.T) *RunControl {
	t.Helper()
	rc := new(RunControl)
	rc.Handle(CmdQuit)
	_, err := rc.MaybeStop(&fakeTopo{}, 0)
	if err != nil {
		t.Fatalf("could not quit: %+v", err)
	}
	if got, want := rc.State(), Quit; got != want {
		t.Fatalf("invalid state: got=%v, want=%v", got, want)
	}
	return rc
}

func TestWriter(t *testing.T) {
	const ndevs = 3
	var (
		msg   = log.New(io.Discard, "", 0)
		qs    = make([]*Queue, ndevs)
		bufs  = make([]*bytes.Buffer, ndevs)
		sinks = make([]io.Writer, ndevs)
		wants = make([][]byte, ndevs)
	)
	for i := range qs {
		qs[i] = new(Queue)
		bufs[i] = new(bytes.Buffer)
		sinks[i] = bufs[i]
		for j := 0; j < 10*(i+1); j++ {
			data := bytes.Repeat([]byte{byte(10*i + j)}, 1+j%7)
			qs[i].Push(Chunk{Dev: i, Data: data})
			wants[i] = append(wants[i], data...)
		}
	}

	w := newWriter(msg, quitRunControl(t), qs, sinks, 2, time.Millisecond)
	err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("could not run writer: %+v", err)
	}

	for i := range qs {
		if got, want := bufs[i].Bytes(), wants[i]; !bytes.Equal(got, want) {
			t.Fatalf("invalid sink %d content:\ngot= %v\nwant=%v", i, got, want)
		}
		st := qs[i].Stats()
		if got, want := st.Popped, st.Pushed; got != want {
			t.Fatalf("invalid queue %d stats: popped=%d, pushed=%d", i, got, want)
		}
		if got, want := w.Stats(i), (WriteStats{Bytes: uint64(len(wants[i])), Chunks: st.Pushed}); got != want {
			t.Fatalf("invalid sink %d stats: got=%+v, want=%+v", i, got, want)
		}
		if got, want := w.CRC32(i), crc32.ChecksumIEEE(wants[i]); got != want {
			t.Fatalf("invalid sink %d CRC: got=0x%08x, want=0x%08x", i, got, want)
		}
	}
}

type failingWriter struct {
	n int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.n == 0 {
		return 0, errors.New("disk full")
	}
	w.n--
	return len(p), nil
}

type shortWriter struct{}

func (shortWriter) Write(p []byte) (int, error) { return len(p) / 2, nil }

func TestWriterErrors(t *testing.T) {
	for _, tc := range []struct {
		name string
		sink io.Writer
		want string
	}{
		{"failing", &failingWriter{n: 2}, "daq: could not write chunk to sink 0: disk full"},
		{"short", shortWriter{}, "daq: could not write chunk to sink 0: short write"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			q := new(Queue)
			for i := 0; i < 5; i++ {
				q.Push(Chunk{Data: []byte{1, 2, 3, 4}})
			}
			w := newWriter(
				log.New(io.Discard, "", 0), quitRunControl(t),
				[]*Queue{q}, []io.Writer{tc.sink}, 1, time.Millisecond,
			)
			err := w.Run(context.Background())
			if err == nil {
				t.Fatalf("expected an error")
			}
			if got, want := err.Error(), tc.want; got != want {
				t.Fatalf("invalid error:\ngot= %q\nwant=%q", got, want)
			}
		})
	}
}

func TestWriterWatermark(t *testing.T) {
	var (
		rc   = new(RunControl)
		q    = new(Queue)
		buf  = new(bytes.Buffer)
		topo = &fakeTopo{programmed: true}
		done = make(chan error)
	)
	w := newWriter(log.New(io.Discard, "", 0), rc, []*Queue{q}, []io.Writer{buf}, 2, time.Millisecond)

	rc.Handle(CmdToggle)
	if _, err := rc.MaybeStart(topo); err != nil {
		t.Fatalf("could not start: %+v", err)
	}

	q.Push(Chunk{Data: []byte{1}})
	go func() {
		done <- w.Run(context.Background())
	}()

	// a single chunk stays below the watermark until quit
	time.Sleep(20 * time.Millisecond)
	if got, want := w.Stats(0).Chunks, uint64(0); got != want {
		t.Fatalf("invalid number of written chunks: got=%d, want=%d", got, want)
	}

	rc.Handle(CmdQuit)
	if _, err := rc.MaybeStop(topo, 0); err != nil {
		t.Fatalf("could not stop: %+v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("could not run writer: %+v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("writer did not exit")
	}
	if got, want := buf.Bytes(), []byte{1}; !bytes.Equal(got, want) {
		t.Fatalf("invalid sink content: got=%v, want=%v", got, want)
	}
}
