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
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"dialogview/internal/dialog"
	"dialogview/internal/speaker"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Faint(true)
)

func newParseCmd(a *app) *cobra.Command {
	var (
		asJSON   bool
		coalesce bool
	)
	cmd := &cobra.Command{
		Use:   "parse <file.md>",
		Short: "Print the sections and messages of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, c, err := a.loadDoc(args[0], coalesce)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				reg := speaker.NewRegistry()
				reg.RegisterAll(c.Speakers())
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					*dialog.Conversation
					Identities []speaker.Identity `json:"identities"`
				}{c, reg.Identities()})
			}
			printOutline(out, c)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the conversation as JSON")
	cmd.Flags().BoolVar(&coalesce, "coalesce", false, "merge consecutive messages of the same speaker")
	return cmd
}

func printOutline(w io.Writer, c *dialog.Conversation) {
	for _, s := range c.Sections {
		if s.ID != dialog.RootSectionID {
			fmt.Fprintf(w, "%s%s %s\n", strings.Repeat("  ", s.Level-1), headingStyle.Render(strings.Repeat("#", s.Level)), s.Text)
		}
		for _, m := range c.Messages {
			if m.SectionID != s.ID {
				continue
			}
			indent := strings.Repeat("  ", s.Level)
			words := m.WordCount()
			label := m.Speaker
			if m.DirectText {
				label = "(direct)"
			}
			fmt.Fprintf(w, "%s%d %s %s\n", indent, m.Ordinal, label, dimStyle.Render(fmt.Sprintf("line %d, %d words", m.LineNo+1, words)))
		}
	}
	fmt.Fprintf(w, "%d sections, %d messages\n", len(c.Sections), len(c.Messages))
}

func newSpansCmd(a *app) *cobra.Command {
	var (
		tree    bool
		section int
	)
	cmd := &cobra.Command{
		Use:   "spans <file.md>",
		Short: "Print the wiki references and inline code spans of each section",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, c, err := a.loadDoc(args[0], false)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			ids := make([]int, 0, len(c.Sections))
			if cmd.Flags().Changed("section") {
				if c.Section(section) == nil {
					return fmt.Errorf("%w: no section %d", errUsage, section)
				}
				ids = append(ids, section)
			} else {
				for _, s := range c.Sections {
					ids = append(ids, s.ID)
				}
			}
			for _, id := range ids {
				s := c.Section(id)
				wiki, code := s.Wikilinks, s.CodeSpans
				if tree {
					wiki, code = c.AggregateSpans(id)
				}
				if len(wiki) == 0 && len(code) == 0 {
					continue
				}
				title := s.Text
				if id == dialog.RootSectionID {
					title = "(document)"
				}
				fmt.Fprintln(out, headingStyle.Render(title))
				printSpans(out, "wiki", wiki)
				printSpans(out, "code", code)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&tree, "tree", false, "include spans of nested sections")
	cmd.Flags().IntVar(&section, "section", 0, "only print this section id")
	return cmd
}

func printSpans(w io.Writer, kind string, spans []dialog.SpanCount) {
	for _, sp := range spans {
		fmt.Fprintf(w, "  %s %-30s x%d %s\n", kind, sp.Term, sp.Count, dimStyle.Render(fmt.Sprintf("line %d", sp.FirstLine+1)))
	}
}
