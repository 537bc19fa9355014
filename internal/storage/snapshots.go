/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// language=SQL
// dialect=SQLite
const insertSnapshotSQL = `INSERT INTO snapshots(doc_id, ts, hash, text) VALUES (?, ?, ?, ?)`

// language=SQL
// dialect=SQLite
const selectLatestSnapshotSQL = `SELECT s.ts, s.hash, s.text FROM snapshots s
	JOIN documents d ON d.doc_id = s.doc_id
	WHERE d.path = ? ORDER BY s.ts DESC, s.id DESC LIMIT 1`

// language=SQL
// dialect=SQLite
const listSnapshotsSQL = `SELECT s.ts, s.hash, s.text FROM snapshots s
	JOIN documents d ON d.doc_id = s.doc_id
	WHERE d.path = ? ORDER BY s.ts DESC, s.id DESC LIMIT ?`

// language=SQL
// dialect=SQLite
const pruneOldSnapshotsSQL = `DELETE FROM snapshots WHERE doc_id = ? AND id NOT IN (
	SELECT id FROM snapshots WHERE doc_id = ? ORDER BY ts DESC, id DESC LIMIT ?
)`

// Snapshot is one stored version of a document's text.
type Snapshot struct {
	TS   time.Time
	Hash string
	Text string
}

// GetLatestSnapshot returns the newest stored text of the document at path.
// ok is false when the document has no snapshot.
func GetLatestSnapshot(ctx context.Context, root, path string) (Snapshot, bool, error) {
	db, err := InitOrOpenIndex(root)
	if err != nil {
		return Snapshot{}, false, err
	}
	defer func() { _ = db.Close() }()
	var tsStr string
	var s Snapshot
	err = db.QueryRowContext(ctx, selectLatestSnapshotSQL, filepath.Clean(path)).Scan(&tsStr, &s.Hash, &s.Text)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("latest snapshot: %w", err)
	}
	s.TS, _ = time.Parse(time.RFC3339Nano, tsStr)
	return s, true, nil
}

// ListSnapshots returns up to limit most recent snapshots for a document.
func ListSnapshots(ctx context.Context, root, path string, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	db, err := InitOrOpenIndex(root)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()
	rows, err := db.QueryContext(ctx, listSnapshotsSQL, filepath.Clean(path), limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Snapshot
	for rows.Next() {
		var tsStr string
		var s Snapshot
		if err := rows.Scan(&tsStr, &s.Hash, &s.Text); err != nil {
			return nil, err
		}
		s.TS, _ = time.Parse(time.RFC3339Nano, tsStr)
		out = append(out, s)
	}
	return out, rows.Err()
}

// PruneOldSnapshots keeps at most keepLast snapshots for the document and deletes older ones.
func PruneOldSnapshots(ctx context.Context, root, path string, keepLast int) (int64, error) {
	if keepLast <= 0 {
		return 0, nil
	}
	db, err := InitOrOpenIndex(root)
	if err != nil {
		return 0, err
	}
	defer func() { _ = db.Close() }()
	var docID int64
	err = db.QueryRowContext(ctx, `SELECT doc_id FROM documents WHERE path=?`, filepath.Clean(path)).Scan(&docID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, pruneOldSnapshotsSQL, docID, docID, keepLast)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
