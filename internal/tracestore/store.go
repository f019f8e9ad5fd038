// Copyright 2025 go-highway Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package tracestore records per-step neighbor statistics of benchmark runs
// in a SQLite database.
package tracestore

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Run describes one benchmark run.
type Run struct {
	ID        uuid.UUID
	Name      string
	Particles int
	Groups    uint32
	StartedAt time.Time
}

// Step is the record of one prepared and computed step.
type Step struct {
	Step    int
	Rebuilt bool
	Reason  string
	Tiles   int
	Pairs   int
	Retries int
	Energy  float64
}

// Summary aggregates the steps of a run.
type Summary struct {
	Steps    int
	Rebuilds int
	MaxTiles int
	MaxPairs int
	Retries  int
}

// Store is a trace database.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("tracestore: opening %s: %w", path, err)
	}
	// SQLite allows one writer.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("tracestore: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("tracestore: applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginRun records a new run and returns it with its ID assigned.
func (s *Store) BeginRun(ctx context.Context, name string, particles int, groups uint32) (Run, error) {
	run := Run{
		ID:        uuid.New(),
		Name:      name,
		Particles: particles,
		Groups:    groups,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, name, particles, groups, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID.String(), run.Name, run.Particles, int64(run.Groups), run.StartedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Run{}, fmt.Errorf("tracestore: inserting run: %w", err)
	}
	return run, nil
}

// RecordStep appends a step to a run.
func (s *Store) RecordStep(ctx context.Context, run uuid.UUID, st Step) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO steps (run_id, step, rebuilt, reason, tiles, pairs, retries, energy)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.String(), st.Step, st.Rebuilt, st.Reason, st.Tiles, st.Pairs, st.Retries, st.Energy)
	if err != nil {
		return fmt.Errorf("tracestore: inserting step %d: %w", st.Step, err)
	}
	return nil
}

// Steps returns the steps of a run in order.
func (s *Store) Steps(ctx context.Context, run uuid.UUID) ([]Step, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT step, rebuilt, reason, tiles, pairs, retries, energy
		 FROM steps WHERE run_id = ? ORDER BY step`, run.String())
	if err != nil {
		return nil, fmt.Errorf("tracestore: querying steps: %w", err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		var st Step
		if err := rows.Scan(&st.Step, &st.Rebuilt, &st.Reason, &st.Tiles, &st.Pairs, &st.Retries, &st.Energy); err != nil {
			return nil, fmt.Errorf("tracestore: scanning step: %w", err)
		}
		steps = append(steps, st)
	}
	return steps, rows.Err()
}

// Summarize aggregates the steps of a run.
func (s *Store) Summarize(ctx context.Context, run uuid.UUID) (Summary, error) {
	var sum Summary
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(rebuilt), 0), COALESCE(MAX(tiles), 0),
		        COALESCE(MAX(pairs), 0), COALESCE(SUM(retries), 0)
		 FROM steps WHERE run_id = ?`, run.String()).
		Scan(&sum.Steps, &sum.Rebuilds, &sum.MaxTiles, &sum.MaxPairs, &sum.Retries)
	if err != nil {
		return Summary{}, fmt.Errorf("tracestore: summarizing run: %w", err)
	}
	return sum, nil
}

// Runs lists every run, oldest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, particles, groups, started_at FROM runs ORDER BY started_at, id`)
	if err != nil {
		return nil, fmt.Errorf("tracestore: querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r           Run
			id, started string
			groups      int64
		)
		if err := rows.Scan(&id, &r.Name, &r.Particles, &groups, &started); err != nil {
			return nil, fmt.Errorf("tracestore: scanning run: %w", err)
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("tracestore: run id %q: %w", id, err)
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("tracestore: run %s start time: %w", id, err)
		}
		r.Groups = uint32(groups)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
