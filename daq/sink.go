// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"fmt"
	"os"
)

// SinkName returns the name of the raw data file of the i-th board.
// Output is a prefix: a directory must end with a path separator.
func SinkName(output string, i int) string {
	return fmt.Sprintf("%sboard_%d.bin", output, i)
}

// MetadataName returns the name of the run metadata file.
func MetadataName(output string) string {
	return output + "run.json"
}

// CreateSinks creates the raw data files of n boards.
func CreateSinks(output string, n int) ([]*os.File, error) {
	fs := make([]*os.File, 0, n)
	for i := 0; i < n; i++ {
		f, err := os.Create(SinkName(output, i))
		if err != nil {
			_ = CloseSinks(fs)
			return nil, fmt.Errorf("daq: could not create sink %d: %w", i, err)
		}
		fs = append(fs, f)
	}
	return fs, nil
}

// CloseSinks syncs and closes all the files.
// CloseSinks returns the first error encountered.
func CloseSinks(fs []*os.File) error {
	var err error
	for _, f := range fs {
		e := f.Sync()
		if e != nil && err == nil {
			err = fmt.Errorf("daq: could not sync %q: %w", f.Name(), e)
		}
		e = f.Close()
		if e != nil && err == nil {
			err = fmt.Errorf("daq: could not close %q: %w", f.Name(), e)
		}
	}
	return err
}
