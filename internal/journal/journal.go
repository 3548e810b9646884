// Copyright 2025 Arion Yau
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

// Package journal records one row per handled processing request in a
// local SQLite database, for the stats command and post-hoc latency
// inspection. It is an optional operator feature, not part of the wire
// contract.
package journal

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"iris/internal/logger"
)

// Entry is one recorded request.
type Entry struct {
	ID            int       `json:"id"`
	Op            string    `json:"op"`
	OK            bool      `json:"ok"`
	DurationMS    float64   `json:"duration_ms"`
	RequestBytes  int       `json:"request_bytes"`
	ResponseBytes int       `json:"response_bytes"`
	CreatedAt     time.Time `json:"created_at"`
}

// OpSummary aggregates the journal per op.
type OpSummary struct {
	Op            string  `json:"op"`
	Requests      int     `json:"requests"`
	Failures      int     `json:"failures"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
}

// Journal is the SQLite-backed request log.
type Journal struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (and if needed initializes) the journal database.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	j := &Journal{db: db, logger: logger.New()}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	return j, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) initSchema() error {
	query := `CREATE TABLE IF NOT EXISTS requests (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		op TEXT NOT NULL,
		ok INTEGER NOT NULL,
		duration_ms REAL NOT NULL,
		request_bytes INTEGER NOT NULL,
		response_bytes INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`
	if _, err := j.db.Exec(query); err != nil {
		return err
	}
	_, err := j.db.Exec(`CREATE INDEX IF NOT EXISTS idx_requests_op ON requests(op)`)
	return err
}

// RecordRequest satisfies the server's RequestRecorder. A journal write
// failure is logged, never surfaced into the request path.
func (j *Journal) RecordRequest(op string, ok bool, duration time.Duration, requestBytes, responseBytes int) {
	_, err := j.db.Exec(
		`INSERT INTO requests (op, ok, duration_ms, request_bytes, response_bytes) VALUES (?, ?, ?, ?, ?)`,
		op, ok, float64(duration.Nanoseconds())/1e6, requestBytes, responseBytes,
	)
	if err != nil {
		j.logger.Error().Err(err).Str("op", op).Msg("Failed to journal request")
	}
}

// Recent returns the newest entries, newest first.
func (j *Journal) Recent(limit int) ([]Entry, error) {
	rows, err := j.db.Query(
		`SELECT id, op, ok, duration_ms, request_bytes, response_bytes, created_at
		 FROM requests ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Op, &e.OK, &e.DurationMS, &e.RequestBytes, &e.ResponseBytes, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Summary aggregates request counts and latency per op.
func (j *Journal) Summary() ([]OpSummary, error) {
	rows, err := j.db.Query(
		`SELECT op, COUNT(*), SUM(CASE WHEN ok = 0 THEN 1 ELSE 0 END), AVG(duration_ms)
		 FROM requests GROUP BY op ORDER BY op`)
	if err != nil {
		return nil, fmt.Errorf("failed to query journal summary: %w", err)
	}
	defer rows.Close()

	var summaries []OpSummary
	for rows.Next() {
		var s OpSummary
		if err := rows.Scan(&s.Op, &s.Requests, &s.Failures, &s.AvgDurationMS); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}
