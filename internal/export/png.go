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
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"dialogview/internal/dialog"
	"dialogview/internal/reveal"
	"dialogview/internal/speaker"
)

// PNGOptions controls PNG export.
type PNGOptions struct {
	Width int // image width in pixels, default 640
}

const (
	pngMargin = 16
	pngPad    = 6
	pngLineH  = 15
)

type pngText struct {
	x, y int // y is the baseline
	s    string
	col  color.Color
}

type pngOp struct {
	rect   image.Rectangle
	fill   color.Color
	border color.Color
	texts  []pngText
}

func rgba(c rgb) color.RGBA { return color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xFF} }

// RenderPNG lays the transcript of c out as one tall image using the fixed 7x13 face.
func RenderPNG(c *dialog.Conversation, opt PNGOptions) *image.RGBA {
	width := opt.Width
	if width <= 0 {
		width = 640
	}
	face := basicfont.Face7x13
	measure := func(s string) float64 { return float64(font.MeasureString(face, s).Ceil()) }
	ascent := face.Metrics().Ascent.Ceil()
	contentW := width - 2*pngMargin

	var ops []pngOp
	y := pngMargin
	for _, it := range transcript(c) {
		if it.Kind == reveal.KindHeader {
			y += pngLineH / 2
			ops = append(ops, pngOp{
				rect:  image.Rect(pngMargin, y+pngLineH+2, width-pngMargin, y+pngLineH+3),
				fill:  rgba(headerColor),
				texts: []pngText{{x: pngMargin, y: y + ascent, s: it.Text, col: rgba(headerColor)}},
			})
			y += pngLineH + 10
			continue
		}
		if it.DirectText {
			var texts []pngText
			for _, bl := range bodyLines(it.Body) {
				for _, ln := range wrap(bl.text, float64(contentW), measure) {
					texts = append(texts, pngText{x: pngMargin, y: y + ascent, s: ln, col: rgba(palette[speaker.ColorDirectText])})
					y += pngLineH
				}
			}
			ops = append(ops, pngOp{texts: texts})
			y += pngLineH / 2
			continue
		}

		col := colorOf(it.Identity)
		innerMax := float64(contentW)*0.7 - 2*pngPad
		type line struct {
			s    string
			code bool
		}
		var (
			lines []line
			textW float64
		)
		for _, bl := range bodyLines(it.Body) {
			if bl.code {
				s := codeLine(bl.text, innerMax, measure)
				lines = append(lines, line{s, true})
				textW = max(textW, measure(s))
				continue
			}
			for _, s := range wrap(bl.text, innerMax, measure) {
				lines = append(lines, line{s, false})
				textW = max(textW, measure(s))
			}
		}
		bubbleW := int(max(textW, measure(it.Speaker))) + 2*pngPad
		x := pngMargin + int(placement(it, float64(contentW-bubbleW)))

		ops = append(ops, pngOp{texts: []pngText{{x: x + pngPad, y: y + ascent, s: it.Speaker, col: rgba(rgb{col.R / 2, col.G / 2, col.B / 2})}}})
		y += pngLineH + 2

		h := len(lines)*pngLineH + 2*pngPad
		op := pngOp{
			rect:   image.Rect(x, y, x+bubbleW, y+h),
			fill:   rgba(tint(col, 0.8)),
			border: rgba(col),
		}
		for i, ln := range lines {
			tc := color.RGBA{0x20, 0x20, 0x20, 0xFF}
			if ln.code {
				tc = color.RGBA{0x30, 0x30, 0x80, 0xFF}
			}
			op.texts = append(op.texts, pngText{x: x + pngPad, y: y + pngPad + ascent + i*pngLineH, s: ln.s, col: tc})
		}
		ops = append(ops, op)
		y += h + pngLineH/2 + 4
	}

	img := image.NewRGBA(image.Rect(0, 0, width, y+pngMargin))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	for _, op := range ops {
		if op.fill != nil && !op.rect.Empty() {
			draw.Draw(img, op.rect, image.NewUniform(op.fill), image.Point{}, draw.Src)
		}
		if op.border != nil {
			strokeRect(img, op.rect, op.border)
		}
		for _, t := range op.texts {
			d := &font.Drawer{
				Dst:  img,
				Src:  image.NewUniform(t.col),
				Face: face,
				Dot:  fixed.P(t.x, t.y),
			}
			d.DrawString(t.s)
		}
	}
	return img
}

func strokeRect(img draw.Image, r image.Rectangle, c color.Color) {
	src := image.NewUniform(c)
	for _, edge := range []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+1),
		image.Rect(r.Min.X, r.Max.Y-1, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+1, r.Max.Y),
		image.Rect(r.Max.X-1, r.Min.Y, r.Max.X, r.Max.Y),
	} {
		draw.Draw(img, edge, src, image.Point{}, draw.Src)
	}
}

// WritePNG encodes the transcript image into w.
func WritePNG(w io.Writer, c *dialog.Conversation, opt PNGOptions) error {
	if err := png.Encode(w, RenderPNG(c, opt)); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}

// ExportPNG writes the transcript image to outPath, creating its directory.
func ExportPNG(outPath string, c *dialog.Conversation, opt PNGOptions) (err error) {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("ensure out dir: %w", err)
	}
	f, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return WritePNG(f, c, opt)
}
