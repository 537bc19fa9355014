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
	"strings"
	"testing"
	"time"

	"dialogview/internal/storage"
)

// TestSearchParity_SQLiteVsPG indexes the same document into the embedded index and the
// Postgres mirror and checks that both backends return the same rows.
func TestSearchParity_SQLiteVsPG(t *testing.T) {
	db := openPGForTest(t)
	path, c := publishSample(t, db)
	root := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := storage.IndexDocument(ctx, root, path, sampleDoc, c); err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}

	queries := []storage.SearchQuery{
		{Text: "test", Path: path},
		{Text: "module", Path: path},
		{Speaker: "Assistant", Path: path},
		{Section: "flags", Path: path},
		{Path: path, Limit: 2, Offset: 1},
	}
	for _, q := range queries {
		want, err := storage.Search(ctx, root, q)
		if err != nil {
			t.Fatalf("sqlite search %+v: %v", q, err)
		}
		got, err := SearchPG(ctx, db, q)
		if err != nil {
			t.Fatalf("pg search %+v: %v", q, err)
		}
		if len(got) != len(want) {
			t.Fatalf("query %+v: pg returned %d rows, sqlite %d", q, len(got), len(want))
		}
		for i := range want {
			w, g := want[i], got[i]
			if w.Path != g.Path || w.Ordinal != g.Ordinal || w.Speaker != g.Speaker || w.Section != g.Section || w.LineNo != g.LineNo {
				t.Fatalf("query %+v row %d: pg %+v, sqlite %+v", q, i, g, w)
			}
		}
	}
}

func TestWhereUsedPG(t *testing.T) {
	db := openPGForTest(t)
	path, _ := publishSample(t, db)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	uses, err := WhereUsedPG(ctx, db, "go test", storage.SpanKindCode, 100, 0)
	if err != nil {
		t.Fatalf("WhereUsedPG: %v", err)
	}
	var mine []storage.SpanUse
	for _, u := range uses {
		if u.Path == path {
			mine = append(mine, u)
		}
	}
	if len(mine) != 1 || mine[0].Count != 2 || mine[0].Section != "Setup" {
		t.Fatalf("unexpected where-used rows: %+v", mine)
	}

	if _, err := WhereUsedPG(ctx, db, "", "", 0, 0); err == nil {
		t.Fatalf("expected error for empty term")
	}
}

func TestSearchPGSnippetHighlights(t *testing.T) {
	db := openPGForTest(t)
	path, _ := publishSample(t, db)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := SearchPG(ctx, db, storage.SearchQuery{Text: "race", Path: path})
	if err != nil {
		t.Fatalf("SearchPG: %v", err)
	}
	if len(res) != 1 || res[0].Ordinal != 2 {
		t.Fatalf("expected message 2, got %+v", res)
	}
	if !strings.Contains(res[0].Snippet, "[") {
		t.Fatalf("expected snippet, got %q", res[0].Snippet)
	}
}
