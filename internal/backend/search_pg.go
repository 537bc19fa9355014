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
	"errors"
	"fmt"
	"strings"

	"dialogview/internal/storage"
)

// SearchPG executes a message search over the Postgres mirror using tsvector and filters
// and returns results mapped to storage.SearchResult to ease parity checks.
// Text is matched with plainto_tsquery, so FTS5 operators are treated as plain words.
func SearchPG(ctx context.Context, db *sql.DB, q storage.SearchQuery) ([]storage.SearchResult, error) {
	var (
		args []any
		b    strings.Builder
	)
	place := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if text := strings.TrimSpace(q.Text); text != "" {
		p := place(text)
		b.WriteString("SELECT d.path, m.ordinal, m.speaker, m.section_id, COALESCE(s.text,''), COALESCE(s.anchor,''), m.line_no, ")
		b.WriteString("COALESCE(ts_headline('simple', m.body, plainto_tsquery('simple', " + p + "), 'StartSel=[, StopSel=], MaxFragments=1, MaxWords=12'), '') ")
		b.WriteString("FROM messages m JOIN documents d ON d.id = m.doc_id ")
		b.WriteString("LEFT JOIN sections s ON s.doc_id = m.doc_id AND s.section_id = m.section_id ")
		b.WriteString("WHERE m.search_vector @@ plainto_tsquery('simple', " + p + ") ")
	} else {
		b.WriteString("SELECT d.path, m.ordinal, m.speaker, m.section_id, COALESCE(s.text,''), COALESCE(s.anchor,''), m.line_no, '' ")
		b.WriteString("FROM messages m JOIN documents d ON d.id = m.doc_id ")
		b.WriteString("LEFT JOIN sections s ON s.doc_id = m.doc_id AND s.section_id = m.section_id ")
		b.WriteString("WHERE TRUE ")
	}
	if s := strings.TrimSpace(q.Speaker); s != "" {
		b.WriteString(" AND m.speaker = " + place(strings.ToLower(s)) + " ")
	}
	if s := strings.TrimSpace(q.Path); s != "" {
		b.WriteString(" AND d.path LIKE " + place("%"+s+"%") + " ")
	}
	if s := strings.TrimSpace(q.Section); s != "" {
		b.WriteString(" AND lower(s.text) LIKE " + place("%"+strings.ToLower(s)+"%") + " ")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	b.WriteString(" ORDER BY d.path, m.ordinal ")
	b.WriteString(" LIMIT " + place(limit) + " OFFSET " + place(offset))

	rows, err := db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("search pg query: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []storage.SearchResult
	for rows.Next() {
		var r storage.SearchResult
		if err := rows.Scan(&r.Path, &r.Ordinal, &r.Speaker, &r.SectionID, &r.Section, &r.Anchor, &r.LineNo, &r.Snippet); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// WhereUsedPG is the Postgres counterpart of storage.WhereUsed.
func WhereUsedPG(ctx context.Context, db *sql.DB, term, kind string, limit, offset int) ([]storage.SpanUse, error) {
	if strings.TrimSpace(term) == "" {
		return nil, errors.New("term is required")
	}
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	var args []any
	place := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	q := `SELECT d.path, x.section_id, COALESCE(s.text,''), COALESCE(s.anchor,''), x.kind, x.term, x.count, x.first_line
		FROM spans x
		JOIN documents d ON d.id = x.doc_id
		LEFT JOIN sections s ON s.doc_id = x.doc_id AND s.section_id = x.section_id
		WHERE x.term = ` + place(term)
	if kind != "" {
		q += ` AND x.kind = ` + place(kind)
	}
	q += `
		ORDER BY x.count DESC, d.path, x.first_line
		LIMIT ` + place(limit) + ` OFFSET ` + place(offset)
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("where-used pg query: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []storage.SpanUse
	for rows.Next() {
		var u storage.SpanUse
		if err := rows.Scan(&u.Path, &u.SectionID, &u.Section, &u.Anchor, &u.Kind, &u.Term, &u.Count, &u.FirstLine); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// PublishedPaths lists the mirrored document paths.
func PublishedPaths(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT path FROM documents ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
