/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package backend

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"

	"dialogview/internal/dialog"
	applog "dialogview/internal/log"
	"dialogview/internal/storage"
)

// PublishStats reports what Publish wrote.
type PublishStats struct {
	DocID    int64
	Sections int
	Messages int
	Spans    int
	Changed  bool
}

// Publish replaces the mirrored rows of path with the parsed conversation in one transaction.
// The document row keeps its id across publishes; Changed is false when the content hash is unchanged.
func Publish(ctx context.Context, db *sql.DB, path, text string, c *dialog.Conversation) (PublishStats, error) {
	path = filepath.ToSlash(filepath.Clean(path))
	l := applog.WithOperation(applog.WithComponent("backend"), "publish").With(slog.String("path", path))
	var st PublishStats
	hash := storage.ContentHash(text)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return st, fmt.Errorf("begin publish tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var oldHash sql.NullString
	_ = tx.QueryRowContext(ctx, `SELECT hash FROM documents WHERE path = $1`, path).Scan(&oldHash)
	st.Changed = !oldHash.Valid || oldHash.String != hash

	// dialect=PostgreSQL
	err = tx.QueryRowContext(ctx, `INSERT INTO documents(path, hash, lines, raw_text, published_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (path) DO UPDATE SET hash = EXCLUDED.hash, lines = EXCLUDED.lines, raw_text = EXCLUDED.raw_text, published_at = now()
		RETURNING id`, path, hash, len(c.Lines), text).Scan(&st.DocID)
	if err != nil {
		return st, fmt.Errorf("upsert document: %w", err)
	}
	for _, q := range []string{
		`DELETE FROM messages WHERE doc_id = $1`,
		`DELETE FROM spans WHERE doc_id = $1`,
		`DELETE FROM sections WHERE doc_id = $1`,
	} {
		if _, err := tx.ExecContext(ctx, q, st.DocID); err != nil {
			return st, fmt.Errorf("clear document rows: %w", err)
		}
	}

	for _, s := range c.Sections {
		if _, err := tx.ExecContext(ctx, `INSERT INTO sections(doc_id, section_id, parent, level, text, anchor, line_start, line_end)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			st.DocID, s.ID, s.Parent, s.Level, s.Text, s.Anchor, s.LineStart, s.LineEnd); err != nil {
			return st, fmt.Errorf("insert section %d: %w", s.ID, err)
		}
		st.Sections++
		for kind, terms := range map[string][]dialog.SpanCount{storage.SpanKindWiki: s.Wikilinks, storage.SpanKindCode: s.CodeSpans} {
			for _, t := range terms {
				if _, err := tx.ExecContext(ctx, `INSERT INTO spans(doc_id, section_id, kind, term, count, first_line)
					VALUES ($1, $2, $3, $4, $5, $6)`,
					st.DocID, s.ID, kind, t.Term, t.Count, t.FirstLine); err != nil {
					return st, fmt.Errorf("insert span %q: %w", t.Term, err)
				}
				st.Spans++
			}
		}
	}
	for _, m := range c.Messages {
		if _, err := tx.ExecContext(ctx, `INSERT INTO messages(doc_id, ordinal, speaker, section_id, line_no, direct_text, body)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			st.DocID, m.Ordinal, m.Speaker, m.SectionID, m.LineNo, m.DirectText, m.Body); err != nil {
			return st, fmt.Errorf("insert message %d: %w", m.Ordinal, err)
		}
		st.Messages++
	}
	if err := tx.Commit(); err != nil {
		return st, fmt.Errorf("commit publish tx: %w", err)
	}
	l.Info("published", slog.Int64("doc_id", st.DocID), slog.Int("messages", st.Messages), slog.Int("spans", st.Spans), slog.Bool("changed", st.Changed))
	return st, nil
}

// Unpublish removes path and its rows from the mirror. It reports whether a document was removed.
func Unpublish(ctx context.Context, db *sql.DB, path string) (bool, error) {
	path = filepath.ToSlash(filepath.Clean(path))
	res, err := db.ExecContext(ctx, `DELETE FROM documents WHERE path = $1`, path)
	if err != nil {
		return false, fmt.Errorf("delete document: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
