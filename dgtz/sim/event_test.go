// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sim

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestCountEvents(t *testing.T) {
	var buf bytes.Buffer
	for i := 0; i < 3; i++ {
		err := encodeEvent(&buf, 2, uint32(i+1), 10)
		if err != nil {
			t.Fatalf("could not encode event %d: %+v", i, err)
		}
	}
	raw := buf.Bytes()
	if got, want := len(raw), 3*4*(hdrSize+10); got != want {
		t.Fatalf("invalid buffer size: got=%d, want=%d", got, want)
	}
	if got, want := binary.LittleEndian.Uint32(raw[4:])>>27, uint32(2); got != want {
		t.Fatalf("invalid board id: got=%d, want=%d", got, want)
	}

	for _, tc := range []struct {
		name string
		p    []byte
		want int
		err  bool
	}{
		{name: "empty", p: nil, want: 0},
		{name: "full", p: raw, want: 3},
		{name: "truncated", p: raw[:len(raw)-4], want: 2, err: true},
		{name: "short-header", p: raw[:8], want: 0, err: true},
		{name: "corrupted", p: append(append([]byte{}, raw[:56]...), 0, 0, 0, 0x50, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0), want: 1, err: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			n, err := countEvents(tc.p)
			switch {
			case err != nil && !tc.err:
				t.Fatalf("could not count events: %+v", err)
			case err == nil && tc.err:
				t.Fatalf("expected an error")
			}
			if got, want := n, tc.want; got != want {
				t.Fatalf("invalid events: got=%d, want=%d", got, want)
			}
		})
	}
}
