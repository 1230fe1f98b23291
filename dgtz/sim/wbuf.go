// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sim

import (
	"io"
)

// wbuf writes into a fixed size readout buffer.
type wbuf struct {
	p []byte
	c int
}

func (w *wbuf) Write(p []byte) (int, error) {
	if w.c >= len(w.p) {
		return 0, io.EOF
	}
	n := copy(w.p[w.c:], p)
	w.c += n
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

func (w *wbuf) free() int { return len(w.p) - w.c }
