// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package store exports pipeline results to an SQLite database.  Each
// writer replaces the rows of the samples it writes, so re-running a batch
// into the same database updates it in place.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/mtw/haplogroup"
	"github.com/grailbio/mtw/heteroplasmy"
	"github.com/grailbio/mtw/summary"

	// Registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id  TEXT PRIMARY KEY,
	command TEXT NOT NULL,
	started TEXT NOT NULL,
	samples INTEGER NOT NULL,
	failed  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS heteroplasmy (
	sample      TEXT NOT NULL,
	pos         INTEGER NOT NULL,
	ref         TEXT NOT NULL,
	major       TEXT NOT NULL,
	minor       TEXT NOT NULL,
	major_count INTEGER NOT NULL,
	minor_count INTEGER NOT NULL,
	fraction    REAL NOT NULL,
	depth       INTEGER NOT NULL,
	ci_low      REAL NOT NULL,
	ci_high     REAL NOT NULL,
	filter      TEXT NOT NULL,
	PRIMARY KEY (sample, pos)
);
CREATE TABLE IF NOT EXISTS summary (
	pos      INTEGER NOT NULL,
	ref      TEXT NOT NULL,
	sample   TEXT NOT NULL,
	fraction REAL,
	PRIMARY KEY (pos, sample)
);
CREATE TABLE IF NOT EXISTS haplogroup_calls (
	sample     TEXT PRIMARY KEY,
	haplogroup TEXT NOT NULL,
	score      REAL NOT NULL,
	evaluable  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS haplogroup_sites (
	sample   TEXT NOT NULL,
	pos      INTEGER NOT NULL,
	ref      TEXT NOT NULL,
	derived  TEXT NOT NULL,
	observed TEXT NOT NULL,
	matched  INTEGER NOT NULL,
	PRIMARY KEY (sample, pos)
);
`

// DB is an open results database.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database at path and ensures its schema.
func Open(ctx context.Context, path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.E(err, "store: open", path)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close() // nolint: errcheck
		return nil, errors.E(err, "store: create schema", path)
	}
	log.Debug.Printf("store: opened %s", path)
	return &DB{db: db, path: path}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// inTx runs fn in a transaction, committing iff fn succeeds.
func (d *DB) inTx(ctx context.Context, what string, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.E(err, "store:", what)
	}
	if err := fn(tx); err != nil {
		tx.Rollback() // nolint: errcheck
		return errors.E(err, "store:", what)
	}
	if err := tx.Commit(); err != nil {
		return errors.E(err, "store:", what)
	}
	return nil
}

// RecordRun records one invocation of the pipeline.
func (d *DB) RecordRun(ctx context.Context, runID, command string, started time.Time, samples, failed int) error {
	return d.inTx(ctx, "record run", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO runs (run_id, command, started, samples, failed) VALUES (?, ?, ?, ?, ?)`,
			runID, command, started.UTC().Format(time.RFC3339), samples, failed)
		return err
	})
}

// WriteTables stores heteroplasmy tables, replacing earlier rows of the same
// samples.
func (d *DB) WriteTables(ctx context.Context, tables []*heteroplasmy.Table) error {
	return d.inTx(ctx, "write heteroplasmy tables", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO heteroplasmy
			(sample, pos, ref, major, minor, major_count, minor_count, fraction, depth, ci_low, ci_high, filter)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close() // nolint: errcheck
		for _, t := range tables {
			if _, err := tx.ExecContext(ctx, `DELETE FROM heteroplasmy WHERE sample = ?`, t.Sample); err != nil {
				return err
			}
			for _, r := range t.Records() {
				if _, err := stmt.ExecContext(ctx, t.Sample, r.Pos, string(r.Ref), string(r.Major), string(r.Minor),
					r.MajorCount, r.MinorCount, r.Fraction, r.Depth, r.CILow, r.CIHigh, r.Filter); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// ReadTable loads the stored table of one sample.
func (d *DB) ReadTable(ctx context.Context, sample string) (*heteroplasmy.Table, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT pos, ref, major, minor, major_count, minor_count,
		fraction, depth, ci_low, ci_high, filter FROM heteroplasmy WHERE sample = ? ORDER BY pos`, sample)
	if err != nil {
		return nil, errors.E(err, "store: read table", sample)
	}
	defer rows.Close() // nolint: errcheck
	var records []heteroplasmy.Record
	for rows.Next() {
		var (
			r                 heteroplasmy.Record
			ref, major, minor string
		)
		if err := rows.Scan(&r.Pos, &ref, &major, &minor, &r.MajorCount, &r.MinorCount,
			&r.Fraction, &r.Depth, &r.CILow, &r.CIHigh, &r.Filter); err != nil {
			return nil, errors.E(err, "store: read table", sample)
		}
		if len(ref) != 1 || len(major) != 1 || len(minor) != 1 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("store: sample %s position %d: malformed allele", sample, r.Pos))
		}
		r.Ref, r.Major, r.Minor = ref[0], major[0], minor[0]
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.E(err, "store: read table", sample)
	}
	if len(records) == 0 {
		return nil, errors.E(errors.NotExist, "store: no table for sample", sample)
	}
	return heteroplasmy.NewTable(sample, records)
}

// WriteMatrix stores a summary matrix.  Missing cells are stored as NULL.
// Rows of the matrix's samples are replaced.
func (d *DB) WriteMatrix(ctx context.Context, m *summary.Matrix) error {
	return d.inTx(ctx, "write summary", func(tx *sql.Tx) error {
		for _, sample := range m.Samples() {
			if _, err := tx.ExecContext(ctx, `DELETE FROM summary WHERE sample = ?`, sample); err != nil {
				return err
			}
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO summary (pos, ref, sample, fraction) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close() // nolint: errcheck
		samples := m.Samples()
		for row, pos := range m.Positions() {
			ref := string(m.Ref(row))
			for col, sample := range samples {
				var fraction sql.NullFloat64
				fraction.Float64, fraction.Valid = m.Cell(row, col)
				if _, err := stmt.ExecContext(ctx, pos, ref, sample, fraction); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// WriteCalls stores haplogroup calls together with their evaluated sites.
func (d *DB) WriteCalls(ctx context.Context, calls []haplogroup.Call) error {
	return d.inTx(ctx, "write haplogroup calls", func(tx *sql.Tx) error {
		for _, c := range calls {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO haplogroup_calls (sample, haplogroup, score, evaluable) VALUES (?, ?, ?, ?)`,
				c.Sample, c.Haplogroup, c.Score, c.Evaluable); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM haplogroup_sites WHERE sample = ?`, c.Sample); err != nil {
				return err
			}
			for matched, sites := range [][]haplogroup.SiteResult{c.Mismatched, c.Matched} {
				for _, s := range sites {
					if _, err := tx.ExecContext(ctx,
						`INSERT INTO haplogroup_sites (sample, pos, ref, derived, observed, matched) VALUES (?, ?, ?, ?, ?, ?)`,
						c.Sample, s.Mutation.Pos, string(s.Mutation.Ref), string(s.Mutation.Derived), string(s.Observed), matched); err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
}
