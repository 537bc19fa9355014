/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package export writes conversations as printable PDF transcripts and PNG images.
package export

import (
	"strings"
	"unicode/utf8"

	"dialogview/internal/dialog"
	"dialogview/internal/reveal"
	"dialogview/internal/speaker"
)

type rgb struct{ R, G, B uint8 }

// palette mirrors the terminal colors of each identity slot.
var palette = map[speaker.ColorSlot]rgb{
	speaker.ColorUser:       {0x4F, 0xA3, 0xFF},
	speaker.ColorAssistant:  {0x98, 0xFB, 0x98},
	speaker.ColorSpeakerC:   {0xFF, 0xB0, 0x00},
	speaker.ColorSpeakerD:   {0xFF, 0x63, 0x47},
	speaker.ColorSpeakerE:   {0xDA, 0x70, 0xD6},
	speaker.ColorGeneric:    {0xAA, 0xAA, 0xAA},
	speaker.ColorDirectText: {0x88, 0x88, 0x88},
}

func colorOf(id speaker.Identity) rgb {
	if c, ok := palette[id.ColorSlot]; ok {
		return c
	}
	return palette[speaker.ColorGeneric]
}

// tint mixes c with white; f=0 keeps c, f=1 gives white.
func tint(c rgb, f float64) rgb {
	mix := func(v uint8) uint8 { return uint8(float64(v) + (255-float64(v))*f) }
	return rgb{mix(c.R), mix(c.G), mix(c.B)}
}

// placement returns the left offset of a bubble inside free horizontal space.
// Users sit on the right unless the message carries its own layout.
func placement(it reveal.Item, free float64) float64 {
	if free < 0 {
		free = 0
	}
	right := it.Identity.IsUser()
	offset := 0.0
	if it.Layout != nil {
		right = it.Layout.Position == dialog.Right
		offset = it.Layout.Offset
	}
	shift := offset * free
	if right {
		return free - shift
	}
	return shift
}

// bodyLine is one source line of a message body; fence lines are dropped.
type bodyLine struct {
	text string
	code bool
}

func bodyLines(body string) []bodyLine {
	var out []bodyLine
	inFence := false
	for _, ln := range strings.Split(strings.TrimRight(body, "\n"), "\n") {
		if dialog.IsFence(strings.TrimSpace(ln)) {
			inFence = !inFence
			continue
		}
		if inFence {
			out = append(out, bodyLine{text: strings.ReplaceAll(ln, "\t", "    "), code: true})
			continue
		}
		out = append(out, bodyLine{text: strings.TrimSpace(ln)})
	}
	return out
}

// wrap breaks text on spaces so that every line measures at most maxW.
// A word wider than maxW is split by runes.
func wrap(text string, maxW float64, measure func(string) float64) []string {
	if text == "" {
		return []string{""}
	}
	var (
		lines []string
		cur   string
	)
	for _, word := range strings.Fields(text) {
		cand := word
		if cur != "" {
			cand = cur + " " + word
		}
		if measure(cand) <= maxW || maxW <= 0 {
			cur = cand
			continue
		}
		if cur != "" {
			lines = append(lines, cur)
			cur = ""
		}
		for measure(word) > maxW {
			cut := fitRunes(word, maxW, measure)
			lines = append(lines, word[:cut])
			word = word[cut:]
		}
		cur = word
	}
	if cur != "" || len(lines) == 0 {
		lines = append(lines, cur)
	}
	return lines
}

// fitRunes returns the byte length of the longest rune prefix of s within maxW, at least one rune.
func fitRunes(s string, maxW float64, measure func(string) float64) int {
	end := 0
	for i := range s {
		if i > 0 && measure(s[:i]) > maxW {
			break
		}
		end = i
	}
	if end == 0 {
		for i := range s {
			if i > 0 {
				return i
			}
		}
		return len(s)
	}
	if measure(s) <= maxW {
		return len(s)
	}
	return end
}

// codeLine truncates code to maxW instead of wrapping it.
func codeLine(text string, maxW float64, measure func(string) float64) string {
	if measure(text) <= maxW {
		return text
	}
	for measure(text+"…") > maxW && text != "" {
		_, size := utf8.DecodeLastRuneInString(text)
		text = text[:len(text)-size]
	}
	return text + "…"
}

// transcript returns the reveal items of c in document order.
func transcript(c *dialog.Conversation) []reveal.Item {
	return reveal.Items(c, speaker.NewRegistry())
}
