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
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"dialogview/internal/dialog"
	"dialogview/internal/render"
	"dialogview/internal/server"
	"dialogview/internal/speaker"
	"dialogview/internal/storage"
)

// renderHTML renders every message body, through the index render cache unless the index is disabled.
func (a *app) renderHTML(ctx context.Context, r *render.Renderer, doc string, c *dialog.Conversation) []string {
	if a.cfg.Index.Disabled {
		return r.Messages(c)
	}
	html, err := storage.RenderMessages(ctx, a.indexRoot(doc), r, a.cfg.General.Theme, c)
	if err != nil {
		a.log.Warn("render cache unavailable", slog.Any("err", err))
		return r.Messages(c)
	}
	return html
}

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve <file.md>",
		Short: "Serve a document for progressive playback in the browser",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, c, err := a.loadDoc(args[0], false)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if !a.cfg.Index.Disabled {
				if _, err := storage.IndexDocument(ctx, a.indexRoot(args[0]), a.scope.Document, text, c); err != nil {
					a.log.Warn("index update failed", slog.Any("err", err))
				}
			}
			r := render.New(a.cfg.General.Theme)
			var css strings.Builder
			if err := r.WriteCSS(&css); err != nil {
				return fmt.Errorf("highlight css: %w", err)
			}
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			srv := server.New(server.Options{
				Source:       filepath.Base(args[0]),
				Conversation: c,
				HTML:         a.renderHTML(ctx, r, args[0], c),
				CSS:          css.String(),
				Config:       a.cfg,
				OnSession: func(id string) {
					a.log.Info("playback session", slog.String("session", id))
				},
			})
			fmt.Fprintf(cmd.OutOrStdout(), "Serving %s on http://%s\n", args[0], displayAddr(addr))
			return srv.Start(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config server.addr)")
	return cmd
}

func displayAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}

func newExportCmd(a *app) *cobra.Command {
	var (
		out      string
		coalesce bool
	)
	cmd := &cobra.Command{
		Use:   "export <file.md>",
		Short: "Write the parsed and rendered document as a JSON artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, c, err := a.loadDoc(args[0], coalesce)
			if err != nil {
				return err
			}
			if out == "" {
				out = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ".dialog.json"
			}
			reg := speaker.NewRegistry()
			reg.RegisterAll(c.Speakers())
			r := render.New(a.cfg.General.Theme)
			art := storage.BuildArtifact(filepath.Base(args[0]), c, a.renderHTML(cmd.Context(), r, args[0], c), reg.Identities())
			if err := storage.ExportArtifact(out, art); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d messages to %s\n", len(art.Messages), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "artifact path (default <file>.dialog.json)")
	cmd.Flags().BoolVar(&coalesce, "coalesce", false, "merge consecutive messages of the same speaker")
	return cmd
}

func newInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <artifact.json>",
		Short: "Validate an exported artifact and print its summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			art, err := storage.OpenArtifact(args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "source:     %s\n", art.Source)
			fmt.Fprintf(w, "generated:  %s by %s\n", art.GeneratedAt.Format("2006-01-02 15:04:05"), art.App)
			fmt.Fprintf(w, "sections:   %d\n", len(art.Sections))
			fmt.Fprintf(w, "messages:   %d\n", len(art.Messages))
			names := make([]string, 0, len(art.Identities))
			for _, id := range art.Identities {
				names = append(names, id.Name)
			}
			fmt.Fprintf(w, "speakers:   %s\n", strings.Join(names, ", "))
			return nil
		},
	}
}
