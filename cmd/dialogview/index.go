/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"dialogview/internal/backend"
	"dialogview/internal/dialog"
	"dialogview/internal/storage"
)

func newIndexCmd(a *app) *cobra.Command {
	var (
		rebuild  bool
		check    bool
		coalesce bool
	)
	cmd := &cobra.Command{
		Use:   "index <file.md>...",
		Short: "Add documents to the local search and span index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Index.Disabled {
				return fmt.Errorf("%w: the index is disabled in the configuration", errUsage)
			}
			ctx := cmd.Context()
			opts := dialog.ParseOptions{CoalesceSameSpeaker: coalesce}
			paths := make([]string, len(args))
			for i, p := range args {
				abs, err := filepath.Abs(p)
				if err != nil {
					return err
				}
				paths[i] = abs
			}
			root := a.indexRoot(paths[0])
			a.scope.Root = root
			out := cmd.OutOrStdout()
			switch {
			case rebuild:
				if err := storage.RebuildIndex(ctx, root, paths, opts); err != nil {
					return err
				}
				fmt.Fprintf(out, "Rebuilt index at %s from %d documents\n", storage.IndexPath(root), len(paths))
				return nil
			case check:
				rebuilt, err := storage.DetectAndRebuildIndex(ctx, root, paths, opts)
				if err != nil {
					return err
				}
				if rebuilt {
					fmt.Fprintf(out, "Index at %s was damaged and has been rebuilt\n", storage.IndexPath(root))
				} else {
					fmt.Fprintf(out, "Index at %s is healthy\n", storage.IndexPath(root))
				}
				return nil
			}
			for _, p := range paths {
				st, err := storage.IndexFile(ctx, root, p, opts)
				if err != nil {
					return err
				}
				state := "unchanged"
				if st.Changed {
					state = "updated"
				}
				fmt.Fprintf(out, "%s: %d sections, %d messages, %d spans (%s)\n", st.Path, st.Sections, st.Messages, st.Spans, state)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "drop the index and rebuild it from the given documents")
	cmd.Flags().BoolVar(&check, "check", false, "rebuild only when the index is damaged")
	cmd.Flags().BoolVar(&coalesce, "coalesce", false, "merge consecutive messages of the same speaker")
	return cmd
}

// openMirror connects to the Postgres mirror configured in backend.pg_dsn.
func (a *app) openMirror(cmd *cobra.Command) (*sql.DB, error) {
	db, err := backend.Open(cmd.Context(), a.cfg.Backend)
	if err != nil {
		return nil, fmt.Errorf("postgres mirror: %w", err)
	}
	return db, nil
}

func newSearchCmd(a *app) *cobra.Command {
	var (
		q      storage.SearchQuery
		root   string
		usePG  bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "search [text]",
		Short: "Search messages by text, speaker, document or section",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				q.Text = args[0]
			}
			var (
				res []storage.SearchResult
				err error
			)
			if usePG {
				db, oerr := a.openMirror(cmd)
				if oerr != nil {
					return oerr
				}
				defer db.Close()
				res, err = backend.SearchPG(cmd.Context(), db, q)
			} else {
				if root == "" {
					root = a.indexRoot("")
				}
				res, err = storage.Search(cmd.Context(), root, q)
			}
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			for _, r := range res {
				loc := r.Section
				if loc == "" {
					loc = "(document)"
				}
				text := r.Snippet
				if text == "" {
					text = "-"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s:%d %s [%s] %s\n", r.Path, r.LineNo+1, r.Speaker, loc, text)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&q.Speaker, "speaker", "", "only messages of this speaker")
	f.StringVar(&q.Path, "path", "", "only documents whose path contains this")
	f.StringVar(&q.Section, "section", "", "only sections whose heading contains this")
	f.IntVar(&q.Limit, "limit", 50, "maximum results")
	f.IntVar(&q.Offset, "offset", 0, "results to skip")
	f.StringVar(&root, "root", "", "index root (default --index-dir or the current directory)")
	f.BoolVar(&usePG, "pg", false, "search the Postgres mirror instead of the local index")
	f.BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

func newWhereUsedCmd(a *app) *cobra.Command {
	var (
		kind   string
		root   string
		limit  int
		usePG  bool
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "where-used <term>",
		Short: "List the sections that reference a wiki page or inline code term",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch kind {
			case "", storage.SpanKindWiki, storage.SpanKindCode:
			default:
				return fmt.Errorf("%w: --kind must be %q or %q", errUsage, storage.SpanKindWiki, storage.SpanKindCode)
			}
			var (
				uses []storage.SpanUse
				err  error
			)
			if usePG {
				db, oerr := a.openMirror(cmd)
				if oerr != nil {
					return oerr
				}
				defer db.Close()
				uses, err = backend.WhereUsedPG(cmd.Context(), db, args[0], kind, limit, 0)
			} else {
				if root == "" {
					root = a.indexRoot("")
				}
				uses, err = storage.WhereUsed(cmd.Context(), root, args[0], kind, limit, 0)
			}
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), uses)
			}
			for _, u := range uses {
				sec := u.Section
				if u.SectionID == dialog.RootSectionID {
					sec = "(document)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s#%s %s x%d (line %d, %s)\n", u.Path, u.Anchor, sec, u.Count, u.FirstLine+1, u.Kind)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&kind, "kind", "", "wiki or code (default both)")
	f.StringVar(&root, "root", "", "index root (default --index-dir or the current directory)")
	f.IntVar(&limit, "limit", 100, "maximum results")
	f.BoolVar(&usePG, "pg", false, "query the Postgres mirror instead of the local index")
	f.BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit int
		prune int
		show  bool
	)
	cmd := &cobra.Command{
		Use:   "history <file.md>",
		Short: "List or prune the stored versions of an indexed document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			abs, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			root := a.indexRoot(abs)
			out := cmd.OutOrStdout()
			if prune > 0 {
				n, err := storage.PruneOldSnapshots(cmd.Context(), root, abs, prune)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Pruned %d snapshots\n", n)
				return nil
			}
			if show {
				snap, ok, err := storage.GetLatestSnapshot(cmd.Context(), root, abs)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no snapshot of %s", args[0])
				}
				_, err = io.WriteString(out, snap.Text)
				return err
			}
			snaps, err := storage.ListSnapshots(cmd.Context(), root, abs, limit)
			if err != nil {
				return err
			}
			for _, s := range snaps {
				fmt.Fprintf(out, "%s  %s  %d bytes\n", s.TS.Local().Format(time.DateTime), s.Hash[:12], len(s.Text))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum versions to list")
	cmd.Flags().IntVar(&prune, "prune", 0, "keep only the newest N versions")
	cmd.Flags().BoolVar(&show, "show", false, "print the newest stored text")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
