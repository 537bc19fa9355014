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
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"dialogview/internal/dialog"
	"dialogview/internal/reveal"
	"dialogview/internal/version"
)

// PDFOptions controls PDF export. Units are points.
// Built-in Helvetica and Courier keep the text vector without embedding fonts;
// characters outside cp1252 are replaced.
type PDFOptions struct {
	PageSize string  // "A4" (default) or "Letter"
	FontSize float64 // body size, default 11
	Title    string
	Guides   bool // draw the content box on every page for print proofing
}

const pdfMargin = 40.0

var headerColor = rgb{0xFF, 0x63, 0x47}

// WritePDF renders the transcript of c as a multi-page PDF into w.
func WritePDF(w io.Writer, c *dialog.Conversation, opt PDFOptions) error {
	pdf := buildPDF(c, opt)
	if pdf.Err() {
		return fmt.Errorf("build pdf: %w", pdf.Error())
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

// ExportPDF writes the transcript of c to outPath, creating its directory.
func ExportPDF(outPath string, c *dialog.Conversation, opt PDFOptions) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("ensure out dir: %w", err)
	}
	pdf := buildPDF(c, opt)
	if pdf.Err() {
		return fmt.Errorf("build pdf: %w", pdf.Error())
	}
	if err := pdf.OutputFileAndClose(outPath); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

type pdfWriter struct {
	pdf      *gofpdf.Fpdf
	tr       func(string) string
	fs       float64
	lh       float64
	pageH    float64
	contentW float64
	y        float64
}

func buildPDF(c *dialog.Conversation, opt PDFOptions) *gofpdf.Fpdf {
	size := "A4"
	if strings.EqualFold(opt.PageSize, "letter") {
		size = "Letter"
	}
	fs := opt.FontSize
	if fs <= 0 {
		fs = 11
	}
	pdf := gofpdf.New("P", "pt", size, "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetCreator("dialogview "+version.String(), true)
	if opt.Title != "" {
		pdf.SetTitle(opt.Title, true)
	}
	pageW, pageH := pdf.GetPageSize()
	pw := &pdfWriter{
		pdf:      pdf,
		tr:       pdf.UnicodeTranslatorFromDescriptor(""),
		fs:       fs,
		lh:       fs * 1.35,
		pageH:    pageH,
		contentW: pageW - 2*pdfMargin,
		y:        pdfMargin,
	}
	pdf.SetHeaderFunc(func() {
		if opt.Guides {
			pdf.SetDrawColor(255, 0, 0)
			pdf.SetLineWidth(0.2)
			pdf.Rect(pdfMargin, pdfMargin, pw.contentW, pageH-2*pdfMargin, "D")
		}
	})
	pdf.AliasNbPages("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-pdfMargin + 10)
		pdf.SetFont("Helvetica", "", fs*0.8)
		pdf.SetTextColor(0x88, 0x88, 0x88)
		pdf.CellFormat(0, fs, fmt.Sprintf("%d / {nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	if opt.Title != "" {
		ts := fs * 1.6
		pdf.SetFont("Helvetica", "B", ts)
		pdf.SetTextColor(0, 0, 0)
		pdf.Text(pdfMargin, pw.y+ts, pw.tr(opt.Title))
		pw.y += ts * 1.8
	}
	for _, it := range transcript(c) {
		if it.Kind == reveal.KindHeader {
			pw.header(it)
			continue
		}
		pw.message(it)
	}
	return pdf
}

func (w *pdfWriter) ensure(h float64) {
	if w.y+h > w.pageH-pdfMargin {
		w.pdf.AddPage()
		w.y = pdfMargin
	}
}

func (w *pdfWriter) measure(style string) func(string) float64 {
	return func(s string) float64 {
		if style == "code" {
			w.pdf.SetFont("Courier", "", w.fs*0.9)
		} else {
			w.pdf.SetFont("Helvetica", style, w.fs)
		}
		return w.pdf.GetStringWidth(s)
	}
}

func (w *pdfWriter) header(it reveal.Item) {
	size := w.fs * (1.6 - 0.15*float64(it.Level-1))
	if size < w.fs {
		size = w.fs
	}
	w.ensure(size * 2)
	w.y += size * 0.4
	w.pdf.SetFont("Helvetica", "B", size)
	w.pdf.SetTextColor(int(headerColor.R), int(headerColor.G), int(headerColor.B))
	w.pdf.Text(pdfMargin, w.y+size, w.tr(it.Text))
	w.y += size * 1.6
}

type pdfLine struct {
	text string
	code bool
}

func (w *pdfWriter) lines(body string, maxW float64, style string) ([]pdfLine, float64) {
	var (
		out   []pdfLine
		width float64
	)
	textM, codeM := w.measure(style), w.measure("code")
	for _, bl := range bodyLines(body) {
		if bl.code {
			t := codeLine(w.tr(bl.text), maxW, codeM)
			out = append(out, pdfLine{text: t, code: true})
			width = max(width, codeM(t))
			continue
		}
		for _, t := range wrap(w.tr(bl.text), maxW, textM) {
			out = append(out, pdfLine{text: t})
			width = max(width, textM(t))
		}
	}
	return out, width
}

func (w *pdfWriter) drawLines(lines []pdfLine, x, y float64, style string) {
	for i, ln := range lines {
		if ln.code {
			w.pdf.SetFont("Courier", "", w.fs*0.9)
		} else {
			w.pdf.SetFont("Helvetica", style, w.fs)
		}
		w.pdf.Text(x, y+w.fs*0.85+float64(i)*w.lh, ln.text)
	}
}

func (w *pdfWriter) message(it reveal.Item) {
	const pad = 6.0
	gap := w.fs * 0.8
	if it.DirectText {
		lines, _ := w.lines(it.Body, w.contentW, "I")
		w.pdf.SetTextColor(0x88, 0x88, 0x88)
		for len(lines) > 0 {
			w.ensure(w.lh)
			n := min(len(lines), int((w.pageH-pdfMargin-w.y)/w.lh))
			w.drawLines(lines[:n], pdfMargin, w.y, "I")
			w.y += float64(n) * w.lh
			lines = lines[n:]
		}
		w.y += gap
		return
	}

	col := colorOf(it.Identity)
	innerMax := w.contentW*0.7 - 2*pad
	lines, textW := w.lines(it.Body, innerMax, "")
	name := w.tr(it.Speaker)
	nameFS := w.fs * 0.9
	w.pdf.SetFont("Helvetica", "B", nameFS)
	bubbleW := max(textW, w.pdf.GetStringWidth(name)) + 2*pad
	x := pdfMargin + placement(it, w.contentW-bubbleW)
	nameH := nameFS * 1.4

	w.ensure(nameH + w.lh + 2*pad)
	w.pdf.SetFont("Helvetica", "B", nameFS)
	w.pdf.SetTextColor(int(col.R)/2, int(col.G)/2, int(col.B)/2)
	w.pdf.Text(x+pad, w.y+nameFS, name)
	w.y += nameH

	for len(lines) > 0 {
		n := min(len(lines), int((w.pageH-pdfMargin-w.y-2*pad)/w.lh))
		if n < 1 {
			w.pdf.AddPage()
			w.y = pdfMargin
			continue
		}
		h := float64(n)*w.lh + 2*pad
		fill := tint(col, 0.8)
		w.pdf.SetFillColor(int(fill.R), int(fill.G), int(fill.B))
		w.pdf.SetDrawColor(int(col.R), int(col.G), int(col.B))
		w.pdf.SetLineWidth(0.8)
		w.pdf.Rect(x, w.y, bubbleW, h, "FD")
		w.pdf.SetTextColor(0x20, 0x20, 0x20)
		w.drawLines(lines[:n], x+pad, w.y+pad, "")
		w.y += h
		lines = lines[n:]
	}
	w.y += gap
}
