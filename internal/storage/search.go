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
	"strings"
)

// SearchQuery describes a message search.
// Text uses SQLite FTS5 syntax (simple terms, phrases in quotes, AND/OR/NOT).
// Speaker filters by normalized speaker name, Path by document path substring and
// Section by section heading substring. Limit/Offset implement pagination.
type SearchQuery struct {
	Text    string
	Speaker string
	Path    string
	Section string
	Limit   int
	Offset  int
}

// SearchResult represents a single matching message.
// Snippet is a highlighted excerpt using [ ] markers when FTS text is used.
type SearchResult struct {
	Path      string `json:"path"`
	Ordinal   int    `json:"ordinal"`
	Speaker   string `json:"speaker"`
	SectionID int    `json:"sectionId"`
	Section   string `json:"section"`
	Anchor    string `json:"anchor"`
	LineNo    int    `json:"lineNo"`
	Snippet   string `json:"snippet"`
}

// SpanUse is one section containing a where-used term.
type SpanUse struct {
	Path      string `json:"path"`
	SectionID int    `json:"sectionId"`
	Section   string `json:"section"`
	Anchor    string `json:"anchor"`
	Kind      string `json:"kind"`
	Term      string `json:"term"`
	Count     int    `json:"count"`
	FirstLine int    `json:"firstLine"`
}

// Search performs full-text search with optional filters over the embedded index.
// When q.Text is empty, it falls back to a non-FTS scan over messages with filters applied.
func Search(ctx context.Context, root string, q SearchQuery) ([]SearchResult, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("index root is required")
	}
	db, err := InitOrOpenIndex(root)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return searchDB(ctx, db, q)
}

func searchDB(ctx context.Context, db *sql.DB, q SearchQuery) ([]SearchResult, error) {
	var args []any
	var sb strings.Builder
	if strings.TrimSpace(q.Text) != "" {
		sb.WriteString("SELECT d.path, m.ordinal, m.speaker, m.section_id, COALESCE(s.text,''), COALESCE(s.anchor,''), m.line_no, snippet(fts_messages, 0, '[', ']', '…', 10)\n")
		sb.WriteString("FROM fts_messages JOIN messages m ON fts_messages.rowid = m.msg_id\n")
		sb.WriteString("JOIN documents d ON d.doc_id = m.doc_id\n")
		sb.WriteString("LEFT JOIN sections s ON s.doc_id = m.doc_id AND s.section_id = m.section_id\n")
		sb.WriteString("WHERE fts_messages MATCH ?\n")
		args = append(args, q.Text)
	} else {
		sb.WriteString("SELECT d.path, m.ordinal, m.speaker, m.section_id, COALESCE(s.text,''), COALESCE(s.anchor,''), m.line_no, ''\n")
		sb.WriteString("FROM messages m JOIN documents d ON d.doc_id = m.doc_id\n")
		sb.WriteString("LEFT JOIN sections s ON s.doc_id = m.doc_id AND s.section_id = m.section_id\n")
		sb.WriteString("WHERE 1=1\n")
	}
	if s := strings.TrimSpace(q.Speaker); s != "" {
		sb.WriteString(" AND m.speaker = ?\n")
		args = append(args, strings.ToLower(s))
	}
	if s := strings.TrimSpace(q.Path); s != "" {
		sb.WriteString(" AND d.path LIKE ?\n")
		args = append(args, likeContains(s))
	}
	if s := strings.TrimSpace(q.Section); s != "" {
		sb.WriteString(" AND lower(s.text) LIKE ?\n")
		args = append(args, likeContains(strings.ToLower(s)))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	sb.WriteString("ORDER BY d.path, m.ordinal\n")
	sb.WriteString("LIMIT ? OFFSET ?")
	args = append(args, limit, q.Offset)

	rows, err := db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("search query: %w", err)
	}
	defer rows.Close()
	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		var sn sql.NullString
		if err := rows.Scan(&r.Path, &r.Ordinal, &r.Speaker, &r.SectionID, &r.Section, &r.Anchor, &r.LineNo, &sn); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if sn.Valid {
			r.Snippet = sn.String
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// WhereUsed returns the sections whose span index contains term, most uses first.
// kind restricts to SpanKindWiki or SpanKindCode; empty means both.
func WhereUsed(ctx context.Context, root, term, kind string, limit, offset int) ([]SpanUse, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("index root is required")
	}
	if strings.TrimSpace(term) == "" {
		return nil, errors.New("term is required")
	}
	db, err := InitOrOpenIndex(root)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return whereUsedDB(ctx, db, term, kind, limit, offset)
}

func whereUsedDB(ctx context.Context, db *sql.DB, term, kind string, limit, offset int) ([]SpanUse, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	args := []any{term}
	q := `SELECT d.path, x.section_id, COALESCE(s.text,''), COALESCE(s.anchor,''), x.kind, x.term, x.count, x.first_line
		FROM spans x
		JOIN documents d ON d.doc_id = x.doc_id
		LEFT JOIN sections s ON s.doc_id = x.doc_id AND s.section_id = x.section_id
		WHERE x.term = ?`
	if kind != "" {
		q += ` AND x.kind = ?`
		args = append(args, kind)
	}
	q += `
		ORDER BY x.count DESC, d.path, x.first_line
		LIMIT ? OFFSET ?`
	args = append(args, limit, offset)
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("where-used query: %w", err)
	}
	defer rows.Close()
	var out []SpanUse
	for rows.Next() {
		var u SpanUse
		if err := rows.Scan(&u.Path, &u.SectionID, &u.Section, &u.Anchor, &u.Kind, &u.Term, &u.Count, &u.FirstLine); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func likeContains(s string) string { return "%" + s + "%" }

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
