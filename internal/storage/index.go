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
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dialogview/internal/dialog"
	applog "dialogview/internal/log"
	"dialogview/internal/version"

	// Pure-Go SQLite driver (CGO-free)
	_ "modernc.org/sqlite"
)

const (
	// IndexDirName stores all ephemeral/index data under the index root.
	IndexDirName  = ".dialogview"
	IndexFileName = "index.sqlite"

	// schemaVersion tracks the local SQLite schema for the embedded index.
	// Bump this when you perform breaking schema changes and add migrations.
	schemaVersion = 2

	SpanKindWiki = "wiki"
	SpanKindCode = "code"
)

// IndexPath returns the full path to the embedded index database file.
func IndexPath(root string) string {
	return filepath.Join(root, IndexDirName, IndexFileName)
}

// InitOrOpenIndex ensures that the SQLite index exists at .dialogview/index.sqlite,
// opens the database, enables WAL mode, and ensures the meta/version tables exist.
// The returned *sql.DB is ready for use. Callers may close it when no longer needed.
func InitOrOpenIndex(root string) (*sql.DB, error) {
	l := applog.WithOperation(applog.WithComponent("storage"), "index_init").With(
		slog.String("root", root),
	)
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("index root is required")
	}
	if err := os.MkdirAll(filepath.Join(root, IndexDirName), 0o755); err != nil {
		l.Error("create index dir failed", slog.Any("err", err))
		return nil, fmt.Errorf("create %s dir: %w", IndexDirName, err)
	}

	path := IndexPath(root)
	// Use a URI with shared cache and set busy timeout. Convert to forward slashes for SQLite URI.
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(5000)", filepath.ToSlash(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		l.Error("sqlite open failed", slog.Any("err", err))
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		l.Error("enable WAL failed", slog.Any("err", err))
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON;"); err != nil {
		l.Warn("enable foreign_keys failed", slog.Any("err", err))
	}

	if err := ensureMetaAndVersion(ctx, db); err != nil {
		_ = db.Close()
		l.Error("ensure meta/version failed", slog.Any("err", err))
		return nil, err
	}
	if err := ensureIndexSchema(ctx, db); err != nil {
		_ = db.Close()
		l.Error("ensure index schema failed", slog.Any("err", err))
		return nil, err
	}
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		l.Error("run migrations failed", slog.Any("err", err))
		return nil, err
	}

	l.Debug("index ready", slog.String("path", path))
	return db, nil
}

func ensureMetaAndVersion(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS version (
			id          INTEGER PRIMARY KEY CHECK(id=1),
			schema      INTEGER NOT NULL,
			app         TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	now := time.Now().UTC().Format(time.RFC3339)
	appv := version.String()
	var curSchema int
	err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&curSchema)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.ExecContext(ctx, `INSERT INTO version (id, schema, app, created_at, updated_at) VALUES(1, ?, ?, ?, ?)`, schemaVersion, appv, now, now); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read version: %w", err)
	default:
		// Keep the stored schema; runMigrations moves it forward.
		if _, err := db.ExecContext(ctx, `UPDATE version SET app=?, updated_at=? WHERE id=1`, appv, now); err != nil {
			return fmt.Errorf("update version: %w", err)
		}
	}
	return nil
}

// runMigrations applies incremental schema migrations up to schemaVersion.
func runMigrations(ctx context.Context, db *sql.DB) error {
	var cur int
	if err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if cur > schemaVersion {
		// Written by a newer build; never downgrade.
		return nil
	}
	for cur < schemaVersion {
		next := cur + 1
		switch next {
		case 2:
			// Lookup indexes for where-used and speaker filters.
			tx, err := db.BeginTx(ctx, nil)
			if err != nil {
				return fmt.Errorf("begin migration %d: %w", next, err)
			}
			stmts := []string{
				`CREATE INDEX IF NOT EXISTS idx_spans_term ON spans(kind, term);`,
				`CREATE INDEX IF NOT EXISTS idx_messages_speaker ON messages(speaker);`,
			}
			for _, q := range stmts {
				if _, err := tx.ExecContext(ctx, q); err != nil {
					_ = tx.Rollback()
					return fmt.Errorf("migration %d stmt failed: %w", next, err)
				}
			}
			if _, err := tx.ExecContext(ctx, `UPDATE version SET schema=?, updated_at=? WHERE id=1`, next, time.Now().UTC().Format(time.RFC3339)); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d update version: %w", next, err)
			}
			if err := tx.Commit(); err != nil {
				return fmt.Errorf("migration %d commit: %w", next, err)
			}
			// best-effort optimize
			_, _ = db.ExecContext(ctx, `INSERT INTO fts_messages(fts_messages) VALUES('optimize')`)
		}
		cur = next
	}
	return nil
}

// ensureIndexSchema creates core index tables and FTS structures if they do not exist.
func ensureIndexSchema(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			doc_id     INTEGER PRIMARY KEY,
			path       TEXT    NOT NULL UNIQUE,
			hash       TEXT    NOT NULL,
			lines      INTEGER NOT NULL,
			indexed_at TEXT    NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sections (
			doc_id     INTEGER NOT NULL,
			section_id INTEGER NOT NULL,
			parent     INTEGER NOT NULL,
			level      INTEGER NOT NULL,
			text       TEXT    NOT NULL,
			anchor     TEXT    NOT NULL,
			line_start INTEGER NOT NULL,
			line_end   INTEGER NOT NULL,
			PRIMARY KEY(doc_id, section_id),
			FOREIGN KEY(doc_id) REFERENCES documents(doc_id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			msg_id      INTEGER PRIMARY KEY,
			doc_id      INTEGER NOT NULL,
			ordinal     INTEGER NOT NULL,
			speaker     TEXT    NOT NULL,
			section_id  INTEGER NOT NULL,
			line_no     INTEGER NOT NULL,
			direct_text INTEGER NOT NULL DEFAULT 0,
			body        TEXT    NOT NULL,
			UNIQUE(doc_id, ordinal),
			FOREIGN KEY(doc_id) REFERENCES documents(doc_id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_messages_doc ON messages(doc_id);`,

		// External-content FTS5 index over message bodies, fed via triggers.
		`CREATE VIRTUAL TABLE IF NOT EXISTS fts_messages USING fts5(
			body,
			content='messages',
			content_rowid='msg_id',
			tokenize = 'unicode61'
		);`,

		// Per-section span multisets (wiki references and inline code).
		`CREATE TABLE IF NOT EXISTS spans (
			doc_id     INTEGER NOT NULL,
			section_id INTEGER NOT NULL,
			kind       TEXT    NOT NULL,
			term       TEXT    NOT NULL,
			count      INTEGER NOT NULL,
			first_line INTEGER NOT NULL,
			PRIMARY KEY(doc_id, section_id, kind, term),
			FOREIGN KEY(doc_id) REFERENCES documents(doc_id) ON DELETE CASCADE
		);`,

		// Document text history, one row per distinct content hash.
		`CREATE TABLE IF NOT EXISTS snapshots (
			id     INTEGER PRIMARY KEY,
			doc_id INTEGER NOT NULL,
			ts     TEXT    NOT NULL,
			hash   TEXT    NOT NULL,
			text   TEXT    NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_doc_ts ON snapshots(doc_id, ts);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure index schema: %w", err)
		}
	}
	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS messages_ai AFTER INSERT ON messages BEGIN
			INSERT INTO fts_messages(rowid, body) VALUES (new.msg_id, new.body);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS messages_ad AFTER DELETE ON messages BEGIN
			INSERT INTO fts_messages(fts_messages, rowid, body) VALUES ('delete', old.msg_id, old.body);
		END;`,
		`CREATE TRIGGER IF NOT EXISTS messages_au AFTER UPDATE OF body ON messages BEGIN
			INSERT INTO fts_messages(fts_messages, rowid, body) VALUES ('delete', old.msg_id, old.body);
			INSERT INTO fts_messages(rowid, body) VALUES (new.msg_id, new.body);
		END;`,
	}
	for _, q := range triggers {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure fts triggers: %w", err)
		}
	}
	return EnsureRenderCacheMigrated(ctx, db)
}

// ContentHash is the hex SHA-256 of a document's text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// IndexStats summarises one indexed document.
type IndexStats struct {
	Path     string
	Sections int
	Messages int
	Spans    int
	Changed  bool
}

// IndexFile parses the document at path and stores it in the index under root.
func IndexFile(ctx context.Context, root, path string, opts dialog.ParseOptions) (IndexStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return IndexStats{}, fmt.Errorf("read %s: %w", path, err)
	}
	text := string(data)
	db, err := InitOrOpenIndex(root)
	if err != nil {
		return IndexStats{}, err
	}
	defer db.Close()
	return indexDocument(ctx, db, path, text, dialog.ParseWith(text, opts))
}

// IndexDocument stores an already parsed document. Rows previously indexed for
// the same path are replaced; a snapshot is kept when the text changed.
func IndexDocument(ctx context.Context, root, path, text string, c *dialog.Conversation) (IndexStats, error) {
	db, err := InitOrOpenIndex(root)
	if err != nil {
		return IndexStats{}, err
	}
	defer db.Close()
	return indexDocument(ctx, db, path, text, c)
}

func indexDocument(ctx context.Context, db *sql.DB, path, text string, c *dialog.Conversation) (IndexStats, error) {
	l := applog.WithOperation(applog.WithComponent("storage"), "index_document").With(slog.String("path", path))
	path = filepath.Clean(path)
	st := IndexStats{Path: path}
	hash := ContentHash(text)
	now := time.Now().UTC()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return st, fmt.Errorf("begin index tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var docID int64
	var oldHash string
	err = tx.QueryRowContext(ctx, `SELECT doc_id, hash FROM documents WHERE path=?`, path).Scan(&docID, &oldHash)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, ierr := tx.ExecContext(ctx, `INSERT INTO documents(path, hash, lines, indexed_at) VALUES(?,?,?,?)`,
			path, hash, len(c.Lines), now.Format(time.RFC3339))
		if ierr != nil {
			return st, fmt.Errorf("insert document: %w", ierr)
		}
		if docID, err = res.LastInsertId(); err != nil {
			return st, fmt.Errorf("document id: %w", err)
		}
		st.Changed = true
	case err != nil:
		return st, fmt.Errorf("lookup document: %w", err)
	default:
		st.Changed = oldHash != hash
		if _, err := tx.ExecContext(ctx, `UPDATE documents SET hash=?, lines=?, indexed_at=? WHERE doc_id=?`,
			hash, len(c.Lines), now.Format(time.RFC3339), docID); err != nil {
			return st, fmt.Errorf("update document: %w", err)
		}
		for _, q := range []string{
			`DELETE FROM messages WHERE doc_id=?`,
			`DELETE FROM sections WHERE doc_id=?`,
			`DELETE FROM spans WHERE doc_id=?`,
		} {
			if _, err := tx.ExecContext(ctx, q, docID); err != nil {
				return st, fmt.Errorf("clear document rows: %w", err)
			}
		}
	}

	for _, s := range c.Sections {
		if _, err := tx.ExecContext(ctx, `INSERT INTO sections(doc_id, section_id, parent, level, text, anchor, line_start, line_end) VALUES(?,?,?,?,?,?,?,?)`,
			docID, s.ID, s.Parent, s.Level, s.Text, s.Anchor, s.LineStart, s.LineEnd); err != nil {
			return st, fmt.Errorf("insert section %d: %w", s.ID, err)
		}
		st.Sections++
		for _, sp := range []struct {
			kind  string
			terms []dialog.SpanCount
		}{{SpanKindWiki, s.Wikilinks}, {SpanKindCode, s.CodeSpans}} {
			for _, t := range sp.terms {
				if _, err := tx.ExecContext(ctx, `INSERT INTO spans(doc_id, section_id, kind, term, count, first_line) VALUES(?,?,?,?,?,?)`,
					docID, s.ID, sp.kind, t.Term, t.Count, t.FirstLine); err != nil {
					return st, fmt.Errorf("insert span %q: %w", t.Term, err)
				}
				st.Spans++
			}
		}
	}
	for _, m := range c.Messages {
		direct := 0
		if m.DirectText {
			direct = 1
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO messages(doc_id, ordinal, speaker, section_id, line_no, direct_text, body) VALUES(?,?,?,?,?,?,?)`,
			docID, m.Ordinal, m.Speaker, m.SectionID, m.LineNo, direct, m.Body); err != nil {
			return st, fmt.Errorf("insert message %d: %w", m.Ordinal, err)
		}
		st.Messages++
	}
	if st.Changed {
		if _, err := tx.ExecContext(ctx, insertSnapshotSQL, docID, now.Format(time.RFC3339Nano), hash, text); err != nil {
			return st, fmt.Errorf("insert snapshot: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return st, fmt.Errorf("commit index tx: %w", err)
	}
	l.Info("indexed", slog.Int("sections", st.Sections), slog.Int("messages", st.Messages), slog.Int("spans", st.Spans), slog.Bool("changed", st.Changed))
	return st, nil
}

// IndexedPaths lists the document paths stored in the index.
func IndexedPaths(ctx context.Context, root string) ([]string, error) {
	db, err := InitOrOpenIndex(root)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	rows, err := db.QueryContext(ctx, `SELECT path FROM documents ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DetectAndRebuildIndex checks for corruption or missing schema and rebuilds the index
// from the given document paths if needed. It returns true when a rebuild was performed.
func DetectAndRebuildIndex(ctx context.Context, root string, paths []string, opts dialog.ParseOptions) (bool, error) {
	path := IndexPath(root)
	db, err := InitOrOpenIndex(root)
	if err != nil {
		backupIndexFile(path)
		removeIndexFiles(path)
		if rbErr := RebuildIndex(ctx, root, paths, opts); rbErr != nil {
			return false, fmt.Errorf("rebuild after open failure: %w (open err: %v)", rbErr, err)
		}
		return true, nil
	}
	needs := false
	var chk string
	if err := db.QueryRowContext(ctx, `PRAGMA quick_check;`).Scan(&chk); err != nil || !strings.Contains(strings.ToLower(chk), "ok") {
		needs = true
	}
	if !needs {
		if _, err := db.ExecContext(ctx, `SELECT 1 FROM messages LIMIT 1;`); err != nil {
			needs = true
		}
	}
	_ = db.Close()
	if !needs {
		return false, nil
	}
	backupIndexFile(path)
	removeIndexFiles(path)
	if err := RebuildIndex(ctx, root, paths, opts); err != nil {
		return false, err
	}
	return true, nil
}

// RebuildIndex drops every indexed row and indexes paths afresh.
func RebuildIndex(ctx context.Context, root string, paths []string, opts dialog.ParseOptions) error {
	l := applog.WithOperation(applog.WithComponent("storage"), "index_rebuild")
	db, err := InitOrOpenIndex(root)
	if err != nil {
		return err
	}
	defer db.Close()
	for _, q := range []string{
		`DELETE FROM messages;`,
		`DELETE FROM sections;`,
		`DELETE FROM spans;`,
		`DELETE FROM documents;`,
	} {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("clear index: %w", err)
		}
	}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			l.Warn("skipping unreadable document", slog.String("path", p), slog.Any("err", err))
			continue
		}
		text := string(data)
		if _, err := indexDocument(ctx, db, p, text, dialog.ParseWith(text, opts)); err != nil {
			return err
		}
	}
	return nil
}

// backupIndexFile copies the current index file into a timestamped backup in .dialogview/backups.
func backupIndexFile(indexPath string) {
	bdir := filepath.Join(filepath.Dir(indexPath), "backups")
	_ = os.MkdirAll(bdir, 0o755)
	stamp := time.Now().Format("20060102-150405")
	bak := filepath.Join(bdir, fmt.Sprintf("%s.%s.bak", filepath.Base(indexPath), stamp))
	if data, err := os.ReadFile(indexPath); err == nil {
		_ = os.WriteFile(bak, data, 0o644)
	}
}

func removeIndexFiles(indexPath string) {
	for _, suffix := range []string{"", "-wal", "-shm"} {
		_ = os.Remove(indexPath + suffix)
	}
}
