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
	"log/slog"
	"os"
	"strconv"
	"time"

	"dialogview/internal/dialog"
	applog "dialogview/internal/log"
	"dialogview/internal/render"
)

// EnvRenderCacheMaxBytes caps the rendered HTML cache.
const EnvRenderCacheMaxBytes = "DLV_RENDER_CACHE_MAX_BYTES"

// EnsureRenderCacheMigrated guarantees the render_cache table and its LRU index
// exist. It is safe to call multiple times.
func EnsureRenderCacheMigrated(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS render_cache (
		key         TEXT    PRIMARY KEY,
		style       TEXT    NOT NULL,
		html        TEXT    NOT NULL,
		size        INTEGER NOT NULL DEFAULT 0,
		updated_at  TEXT    NOT NULL,
		last_access TEXT
	);`); err != nil {
		return fmt.Errorf("ensure render_cache table: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_render_cache_access ON render_cache(last_access)`); err != nil {
		return fmt.Errorf("create render_cache index: %w", err)
	}
	return nil
}

// RenderCacheKey identifies the HTML of body rendered with a code style.
func RenderCacheKey(style, body string) string {
	return ContentHash(style + "\x00" + body)
}

// GetRendered returns cached HTML for key and updates last_access.
func GetRendered(ctx context.Context, db *sql.DB, key string) (string, bool, error) {
	var html string
	err := db.QueryRowContext(ctx, `SELECT html FROM render_cache WHERE key=?`, key).Scan(&html)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query render cache: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, _ = db.ExecContext(ctx, `UPDATE render_cache SET last_access=? WHERE key=?`, now, key)
	return html, true, nil
}

// PutRendered upserts rendered HTML and enforces the cache size cap via LRU eviction.
func PutRendered(ctx context.Context, db *sql.DB, key, style, html string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := db.ExecContext(ctx, `INSERT INTO render_cache(key, style, html, size, updated_at, last_access)
		VALUES(?,?,?,?,?,?)
		ON CONFLICT(key) DO UPDATE SET html=excluded.html, size=excluded.size, updated_at=excluded.updated_at, last_access=excluded.last_access`,
		key, style, html, len(html), now, now)
	if err != nil {
		return fmt.Errorf("upsert render cache: %w", err)
	}
	if capBytes := MaxRenderCacheBytesFromEnv(); capBytes > 0 {
		return EvictRenderedToFit(ctx, db, capBytes)
	}
	return nil
}

// RenderMessages returns the HTML of every message of c, served from the cache
// under root where possible. Bodies that fail to render are left empty.
func RenderMessages(ctx context.Context, root string, r *render.Renderer, style string, c *dialog.Conversation) ([]string, error) {
	l := applog.WithOperation(applog.WithComponent("storage"), "render_messages")
	db, err := InitOrOpenIndex(root)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	out := make([]string, len(c.Messages))
	hits := 0
	for i, m := range c.Messages {
		key := RenderCacheKey(style, m.Body)
		html, ok, err := GetRendered(ctx, db, key)
		if err != nil {
			return nil, err
		}
		if ok {
			out[i] = html
			hits++
			continue
		}
		html, err = r.Markdown(m.Body)
		if err != nil {
			l.Warn("render failed", slog.Int("ordinal", m.Ordinal), slog.Any("err", err))
			continue
		}
		if err := PutRendered(ctx, db, key, style, html); err != nil {
			return nil, err
		}
		out[i] = html
	}
	l.Debug("rendered", slog.Int("messages", len(out)), slog.Int("cache_hits", hits))
	return out, nil
}

// EvictRenderedToFit deletes least-recently-used rows until total size <= capBytes.
func EvictRenderedToFit(ctx context.Context, db *sql.DB, capBytes int64) error {
	var total int64
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size),0) FROM render_cache`).Scan(&total); err != nil {
		return fmt.Errorf("sum render cache size: %w", err)
	}
	if total <= capBytes {
		return nil
	}
	rows, err := db.QueryContext(ctx, `SELECT key, size FROM render_cache ORDER BY
		CASE WHEN last_access IS NULL THEN 0 ELSE 1 END ASC, last_access ASC`)
	if err != nil {
		return fmt.Errorf("select victims: %w", err)
	}
	victims := make([]any, 0, 32)
	cur := total
	for rows.Next() {
		var key string
		var sz int64
		if err := rows.Scan(&key, &sz); err != nil {
			_ = rows.Close()
			return err
		}
		victims = append(victims, key)
		cur -= sz
		if cur <= capBytes {
			break
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	// Close the cursor before writing.
	if err := rows.Close(); err != nil {
		return err
	}
	if len(victims) == 0 {
		return nil
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM render_cache WHERE key IN (`+placeholders(len(victims))+`)`, victims...); err != nil {
		return fmt.Errorf("evict delete: %w", err)
	}
	return nil
}

// TotalRenderedBytes returns total bytes tracked by render_cache.size.
func TotalRenderedBytes(ctx context.Context, root string) (int64, error) {
	db, err := InitOrOpenIndex(root)
	if err != nil {
		return 0, err
	}
	defer db.Close()
	var total int64
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size),0) FROM render_cache`).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

// MaxRenderCacheBytesFromEnv reads DLV_RENDER_CACHE_MAX_BYTES, defaulting to 64MB if unset.
func MaxRenderCacheBytesFromEnv() int64 {
	v := os.Getenv(EnvRenderCacheMaxBytes)
	if v == "" {
		return 64 * 1024 * 1024
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return 64 * 1024 * 1024
	}
	return n
}
