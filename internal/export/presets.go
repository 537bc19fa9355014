/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package export

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"dialogview/internal/dialog"
	applog "dialogview/internal/log"
)

// PresetName represents a named export preset.
type PresetName string

const (
	PresetWeb   PresetName = "web"
	PresetPrint PresetName = "print"
)

// BatchOptions controls exporting one conversation to several formats.
//
// Outputs are named <BaseName>.<ext> inside OutDir/<preset>. An empty OutDir
// means the current directory.
type BatchOptions struct {
	Preset   PresetName
	Formats  []string // pdf, png; empty means the preset defaults
	OutDir   string
	BaseName string
	Title    string
	Guides   *bool // overrides the preset's guide default for PDF
}

// BatchExport writes c in every requested format and returns the written paths.
func BatchExport(c *dialog.Conversation, opt BatchOptions) ([]string, error) {
	if c == nil {
		return nil, fmt.Errorf("conversation is nil")
	}
	l := applog.WithOperation(applog.WithComponent("export"), "batch").With(slog.String("preset", string(opt.Preset)))
	formats := opt.Formats
	if len(formats) == 0 {
		formats = presetDefaultFormats(opt.Preset)
	}
	base := opt.BaseName
	if base == "" {
		base = "conversation"
	}
	preset := opt.Preset
	if preset == "" {
		preset = PresetPrint
	}
	dir := filepath.Join(opt.OutDir, string(preset))
	guides := presetIncludeGuides(preset)
	if opt.Guides != nil {
		guides = *opt.Guides
	}

	var written []string
	for _, f := range formats {
		switch strings.ToLower(strings.TrimSpace(f)) {
		case "pdf":
			out := filepath.Join(dir, base+".pdf")
			po := PDFOptions{PageSize: presetPageSize(preset), Title: opt.Title, Guides: guides}
			if err := ExportPDF(out, c, po); err != nil {
				return written, fmt.Errorf("pdf: %w", err)
			}
			written = append(written, out)
		case "png":
			out := filepath.Join(dir, base+".png")
			if err := ExportPNG(out, c, PNGOptions{Width: presetWidth(preset)}); err != nil {
				return written, fmt.Errorf("png: %w", err)
			}
			written = append(written, out)
		default:
			return written, fmt.Errorf("unknown format: %s", f)
		}
	}
	l.Info("exported", slog.Int("files", len(written)))
	return written, nil
}

func presetDefaultFormats(p PresetName) []string {
	switch p {
	case PresetWeb:
		return []string{"png"}
	case PresetPrint:
		return []string{"pdf"}
	default:
		return []string{"pdf"}
	}
}

func presetIncludeGuides(p PresetName) bool {
	return p == PresetPrint
}

func presetPageSize(p PresetName) string {
	if p == PresetWeb {
		return "Letter"
	}
	return "A4"
}

func presetWidth(p PresetName) int {
	if p == PresetPrint {
		return 1024
	}
	return 640
}
