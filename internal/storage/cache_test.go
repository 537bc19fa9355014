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
	"strings"
	"testing"

	"dialogview/internal/dialog"
	"dialogview/internal/render"
)

func TestRenderMessagesUsesCache(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	c := dialog.Parse("<<user>>\n**bold**\n<<bob>>\n```go\nx := 1\n```")
	r := render.New("github")

	out, err := RenderMessages(ctx, root, r, "github", c)
	if err != nil {
		t.Fatalf("RenderMessages: %v", err)
	}
	if len(out) != 2 || !strings.Contains(out[0], "<strong>bold</strong>") {
		t.Fatalf("unexpected html: %v", out)
	}
	total, err := TotalRenderedBytes(ctx, root)
	if err != nil || total == 0 {
		t.Fatalf("expected cached bytes, got %d err %v", total, err)
	}

	db, err := InitOrOpenIndex(root)
	if err != nil {
		t.Fatalf("InitOrOpenIndex: %v", err)
	}
	defer db.Close()
	key := RenderCacheKey("github", c.Messages[0].Body)
	// Overwrite the cached row; a second render must come from the cache.
	if err := PutRendered(ctx, db, key, "github", "<p>cached</p>"); err != nil {
		t.Fatalf("PutRendered: %v", err)
	}
	_ = db.Close()
	out, err = RenderMessages(ctx, root, r, "github", c)
	if err != nil {
		t.Fatalf("RenderMessages again: %v", err)
	}
	if out[0] != "<p>cached</p>" {
		t.Fatalf("expected cached html, got %q", out[0])
	}
}

func TestRenderCacheKeyDependsOnStyle(t *testing.T) {
	if RenderCacheKey("github", "x") == RenderCacheKey("monokai", "x") {
		t.Fatalf("expected style to change the cache key")
	}
}

func TestEvictRenderedToFit(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()
	t.Setenv(EnvRenderCacheMaxBytes, "0")
	db, err := InitOrOpenIndex(root)
	if err != nil {
		t.Fatalf("InitOrOpenIndex: %v", err)
	}
	defer db.Close()
	for _, k := range []string{"a", "b", "c"} {
		if err := PutRendered(ctx, db, k, "github", strings.Repeat(k, 100)); err != nil {
			t.Fatalf("PutRendered %s: %v", k, err)
		}
	}
	// Touch "a" so it becomes the most recently used entry.
	if _, ok, err := GetRendered(ctx, db, "a"); err != nil || !ok {
		t.Fatalf("GetRendered: ok=%v err=%v", ok, err)
	}
	if err := EvictRenderedToFit(ctx, db, 150); err != nil {
		t.Fatalf("EvictRenderedToFit: %v", err)
	}
	if _, ok, _ := GetRendered(ctx, db, "a"); !ok {
		t.Fatalf("expected most recently used entry to survive")
	}
	var total int64
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size),0) FROM render_cache`).Scan(&total); err != nil {
		t.Fatalf("sum: %v", err)
	}
	if total > 150 {
		t.Fatalf("expected total <= 150 after eviction, got %d", total)
	}
}

func TestMaxRenderCacheBytesFromEnv(t *testing.T) {
	t.Setenv(EnvRenderCacheMaxBytes, "1234")
	if got := MaxRenderCacheBytesFromEnv(); got != 1234 {
		t.Fatalf("expected 1234, got %d", got)
	}
	t.Setenv(EnvRenderCacheMaxBytes, "junk")
	if got := MaxRenderCacheBytesFromEnv(); got != 64*1024*1024 {
		t.Fatalf("expected default, got %d", got)
	}
}
