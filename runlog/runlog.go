// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package runlog records acquisition runs into a run registry database.
package runlog // import "github.com/go-lpc/wfdaq/runlog"

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

var (
	drvName = "mysql"
	timeout = 5 * time.Second
)

// DB is a connection to the run registry.
//
// Runs are stored in a table:
//
//	CREATE TABLE runs (
//	    run        INTEGER PRIMARY KEY,
//	    uuid       CHAR(36),
//	    sync_mode  VARCHAR(64),
//	    start_mode VARCHAR(64),
//	    boards     INTEGER,
//	    target     BIGINT,
//	    start      DATETIME,
//	    stop       DATETIME,
//	    events     BIGINT,
//	    bytes      BIGINT
//	);
type DB struct {
	db  *sql.DB
	dsn string
}

// Run describes the beginning of an acquisition run.
type Run struct {
	Run       int64
	ID        uuid.UUID
	SyncMode  string
	StartMode string
	Boards    int
	Target    uint64
	Start     time.Time
}

// Open opens a connection to the run registry described by the data
// source name dsn.
func Open(dsn string) (*DB, error) {
	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("runlog: could not open run registry: %w", err)
	}

	err = ping(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db, dsn: dsn}, nil
}

func ping(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("runlog: could not ping run registry: %w", err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

// LastRun returns the number of the last recorded run.
// LastRun returns 0 when no run was ever recorded.
func (db *DB) LastRun(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var run sql.NullInt64
	rows, err := db.db.QueryContext(ctx, "SELECT MAX(run) FROM runs")
	if err != nil {
		return 0, fmt.Errorf("runlog: could not query last run: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		err = rows.Scan(&run)
		if err != nil {
			return 0, fmt.Errorf("runlog: could not get last run value: %w", err)
		}
	}

	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("runlog: could not scan db for last run: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("runlog: context error while retrieving last run: %w", err)
	}

	if !run.Valid {
		return 0, nil
	}
	return run.Int64, nil
}

// BeginRun records the beginning of a run.
func (db *DB) BeginRun(ctx context.Context, run Run) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := db.db.ExecContext(
		ctx,
		`INSERT INTO runs (run, uuid, sync_mode, start_mode, boards, target, start)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.Run, run.ID.String(), run.SyncMode, run.StartMode,
		int64(run.Boards), int64(run.Target), run.Start.UTC(),
	)
	if err != nil {
		return fmt.Errorf("runlog: could not begin run %d: %w", run.Run, err)
	}
	return nil
}

// EndRun records the end of a run, with its total amount of data.
func (db *DB) EndRun(ctx context.Context, run int64, stop time.Time, events, bytes uint64) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := db.db.ExecContext(
		ctx,
		"UPDATE runs SET stop=?, events=?, bytes=? WHERE run=?",
		stop.UTC(), int64(events), int64(bytes), run,
	)
	if err != nil {
		return fmt.Errorf("runlog: could not end run %d: %w", run, err)
	}
	return nil
}
