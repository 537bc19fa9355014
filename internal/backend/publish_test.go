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
	"os"
	"strings"
	"testing"
	"time"

	"dialogview/internal/config"
	"dialogview/internal/dialog"
)

const sampleDoc = "intro [[Glossary]]\n" +
	"## Setup\n" +
	"<<user>>\n" +
	"how do I run `go test` here?\n" +
	"<<assistant{L}>>\n" +
	"run `go test` from [[Module Root]]\n" +
	"### Flags\n" +
	"<<assistant>>\n" +
	"add `-race` and see [[Module Root]]\n"

// openPGForTest connects to the database named by DLV_PG_DSN and skips when it is unset or unreachable.
func openPGForTest(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv(config.EnvPGDSN)
	if dsn == "" {
		t.Skipf("%s not set", config.EnvPGDSN)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := Open(ctx, config.BackendConfig{DSN: dsn, TimeoutMs: 5000})
	if err != nil {
		t.Skipf("postgres not available: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// publishSample publishes sampleDoc under a unique path and removes it when the test ends.
func publishSample(t *testing.T, db *sql.DB) (string, *dialog.Conversation) {
	t.Helper()
	path := fmt.Sprintf("test/%s/%d/chat.md", strings.ReplaceAll(t.Name(), "/", "_"), time.Now().UnixNano())
	c := dialog.Parse(sampleDoc)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := Publish(ctx, db, path, sampleDoc, c); err != nil {
		t.Fatalf("publish: %v", err)
	}
	t.Cleanup(func() {
		_, _ = Unpublish(context.Background(), db, path)
	})
	return path, c
}

func TestOpenWithoutDSN(t *testing.T) {
	if _, err := Open(context.Background(), config.BackendConfig{}); err != ErrNoDSN {
		t.Fatalf("expected ErrNoDSN, got %v", err)
	}
}

func TestParseVersion(t *testing.T) {
	v, err := parseVersion("migrations/0002_spans.sql")
	if err != nil || v != 2 {
		t.Fatalf("parseVersion: %d %v", v, err)
	}
	if _, err := parseVersion("spans.sql"); err == nil {
		t.Fatalf("expected error for missing version prefix")
	}
	if _, err := parseVersion("x_spans.sql"); err == nil {
		t.Fatalf("expected error for non-numeric version")
	}
}

func TestEmbeddedMigrationsAreOrdered(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}
	var last int64
	for _, e := range entries {
		v, err := parseVersion(e.Name())
		if err != nil {
			t.Fatalf("%s: %v", e.Name(), err)
		}
		if v <= last {
			t.Fatalf("migration %s out of order", e.Name())
		}
		last = v
	}
	if last < 2 {
		t.Fatalf("expected at least two migrations, got %d", last)
	}
}

func TestMigrationsAreRecordedOnce(t *testing.T) {
	db := openPGForTest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := applyMigrations(ctx, db); err != nil {
		t.Fatalf("second applyMigrations: %v", err)
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT count(*) FROM schema_migrations WHERE version IN (1, 2)`).Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 recorded migrations, got %d", n)
	}
}

func TestPublishReplacesRows(t *testing.T) {
	db := openPGForTest(t)
	path, c := publishSample(t, db)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := Publish(ctx, db, path, sampleDoc, c)
	if err != nil {
		t.Fatalf("republish: %v", err)
	}
	if st.Changed {
		t.Fatalf("expected unchanged content on republish")
	}
	if st.Sections != 3 || st.Messages != 3 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	var n int
	if err := db.QueryRowContext(ctx, `SELECT count(*) FROM messages WHERE doc_id = $1`, st.DocID).Scan(&n); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 messages after republish, got %d", n)
	}

	edited := sampleDoc + "<<user>>\nthanks\n"
	st2, err := Publish(ctx, db, path, edited, dialog.Parse(edited))
	if err != nil {
		t.Fatalf("publish edit: %v", err)
	}
	if !st2.Changed || st2.DocID != st.DocID || st2.Messages != 4 {
		t.Fatalf("unexpected stats after edit: %+v", st2)
	}

	paths, err := PublishedPaths(ctx, db)
	if err != nil {
		t.Fatalf("PublishedPaths: %v", err)
	}
	found := false
	for _, p := range paths {
		found = found || p == path
	}
	if !found {
		t.Fatalf("expected %s in %v", path, paths)
	}

	ok, err := Unpublish(ctx, db, path)
	if err != nil || !ok {
		t.Fatalf("unpublish: %v %v", ok, err)
	}
	if err := db.QueryRowContext(ctx, `SELECT count(*) FROM messages WHERE doc_id = $1`, st.DocID).Scan(&n); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected cascade delete, got %d messages", n)
	}
}
