// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sim

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	hdrSize   = 4 // event header size, in 32-bit words
	hdrMarker = 0xA
	tickNS    = 8 // trigger time tag resolution
	period    = 1000
)

// encodeEvent writes an event with the given counter and samples count
// to w.
//
// Event layout, in little-endian 32-bit words:
//   - word 0: 0xA in the 4 MSBs, event size in words in the 28 LSBs
//   - word 1: board id in the 5 MSBs, channel mask in the 8 LSBs
//   - word 2: event counter (24 bits)
//   - word 3: trigger time tag
//   - samples words, two 14-bit samples per word
func encodeEvent(w io.Writer, board int, cnt uint32, samples int) error {
	var buf [4]byte
	put := func(v uint32) error {
		binary.LittleEndian.PutUint32(buf[:], v)
		_, err := w.Write(buf[:])
		return err
	}

	size := uint32(hdrSize + samples)
	for _, v := range []uint32{
		hdrMarker<<28 | size&0x0FFFFFFF,
		uint32(board&0x1F)<<27 | 0xFF,
		cnt & 0x00FFFFFF,
		cnt * period / tickNS,
	} {
		err := put(v)
		if err != nil {
			return err
		}
	}

	for i := 0; i < samples; i++ {
		lo := (cnt + uint32(2*i)) & 0x3FFF
		hi := (cnt + uint32(2*i+1)) & 0x3FFF
		err := put(hi<<16 | lo)
		if err != nil {
			return err
		}
	}
	return nil
}

// countEvents returns the number of events held in p.
func countEvents(p []byte) (int, error) {
	var (
		n   int
		off int
	)
	for off < len(p) {
		if len(p)-off < 4*hdrSize {
			return n, fmt.Errorf("sim: truncated event header at offset %d", off)
		}
		w0 := binary.LittleEndian.Uint32(p[off:])
		if w0>>28 != hdrMarker {
			return n, fmt.Errorf("sim: invalid event header 0x%08x at offset %d", w0, off)
		}
		size := int(w0&0x0FFFFFFF) * 4
		if size < 4*hdrSize || off+size > len(p) {
			return n, fmt.Errorf("sim: invalid event size %d at offset %d", size, off)
		}
		n++
		off += size
	}
	return n, nil
}
