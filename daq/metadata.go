// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// RunInfo is the metadata of an acquisition session.
type RunInfo struct {
	ID        uuid.UUID   `json:"id"`
	Run       int64       `json:"run"`
	Start     time.Time   `json:"start"`
	Stop      time.Time   `json:"stop"`
	SyncMode  string      `json:"sync_mode"`
	StartMode string      `json:"start_mode"`
	Target    uint64      `json:"target"`
	Boards    []BoardInfo `json:"boards"`
}

// BoardInfo is the metadata of the data acquired from one board.
type BoardInfo struct {
	Board    int    `json:"board"`
	Family   string `json:"family"`
	Firmware string `json:"firmware"`
	File     string `json:"file,omitempty"`
	Bytes    uint64 `json:"bytes"`
	Events   uint64 `json:"events"`
	Chunks   uint64 `json:"chunks"`
	CRC32    uint32 `json:"crc32"`
}

// WriteFile writes the run metadata as JSON to the named file.
func (ri RunInfo) WriteFile(fname string) error {
	raw, err := json.MarshalIndent(ri, "", "  ")
	if err != nil {
		return fmt.Errorf("daq: could not marshal run metadata: %w", err)
	}
	raw = append(raw, '\n')

	err = os.WriteFile(fname, raw, 0644)
	if err != nil {
		return fmt.Errorf("daq: could not write run metadata: %w", err)
	}
	return nil
}

// ReadRunInfo reads the run metadata from the named JSON file.
func ReadRunInfo(fname string) (RunInfo, error) {
	var ri RunInfo
	raw, err := os.ReadFile(fname)
	if err != nil {
		return ri, fmt.Errorf("daq: could not read run metadata: %w", err)
	}
	err = json.Unmarshal(raw, &ri)
	if err != nil {
		return ri, fmt.Errorf("daq: could not unmarshal run metadata: %w", err)
	}
	return ri, nil
}
