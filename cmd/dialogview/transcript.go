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
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"dialogview/internal/export"
)

func newTranscriptCmd(a *app) *cobra.Command {
	var (
		preset   string
		formats  []string
		outDir   string
		title    string
		guides   bool
		coalesce bool
	)
	cmd := &cobra.Command{
		Use:   "transcript <file.md>",
		Short: "Export a static PDF or PNG transcript of the conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := export.PresetName(strings.ToLower(preset))
			if p != export.PresetWeb && p != export.PresetPrint {
				return fmt.Errorf("%w: unknown preset %q (want web or print)", errUsage, preset)
			}
			_, c, err := a.loadDoc(args[0], coalesce)
			if err != nil {
				return err
			}
			if outDir == "" {
				outDir = filepath.Join(filepath.Dir(args[0]), "transcripts")
			}
			if title == "" {
				title = filepath.Base(args[0])
			}
			opt := export.BatchOptions{
				Preset:   p,
				Formats:  formats,
				OutDir:   outDir,
				BaseName: strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0])),
				Title:    title,
			}
			if cmd.Flags().Changed("guides") {
				opt.Guides = &guides
			}
			files, err := export.BatchExport(c, opt)
			for _, f := range files {
				fmt.Fprintln(cmd.OutOrStdout(), f)
			}
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&preset, "preset", string(export.PresetPrint), "export preset: web or print")
	f.StringSliceVar(&formats, "format", nil, "output formats (pdf, png); default depends on the preset")
	f.StringVarP(&outDir, "out-dir", "o", "", "output directory (default <dir>/transcripts)")
	f.StringVar(&title, "title", "", "title printed on each PDF page (default the file name)")
	f.BoolVar(&guides, "guides", false, "draw the content box on every PDF page")
	f.BoolVar(&coalesce, "coalesce", false, "merge consecutive messages of the same speaker")
	return cmd
}
