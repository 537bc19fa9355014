/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package term plays a conversation back in a terminal. Sink draws revealed
// items with lipgloss and Viewport treats every item as visible, so the
// scheduler only waits on timing.
package term

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"dialogview/internal/dialog"
	"dialogview/internal/render"
	"dialogview/internal/reveal"
	"dialogview/internal/speaker"
	"dialogview/internal/timing"
)

const clearLine = "\r\x1b[2K"

var slotColors = map[speaker.ColorSlot]lipgloss.Color{
	speaker.ColorUser:       lipgloss.Color("#4FA3FF"),
	speaker.ColorAssistant:  lipgloss.Color("#98FB98"),
	speaker.ColorSpeakerC:   lipgloss.Color("#FFB000"),
	speaker.ColorSpeakerD:   lipgloss.Color("#FF6347"),
	speaker.ColorSpeakerE:   lipgloss.Color("#DA70D6"),
	speaker.ColorGeneric:    lipgloss.Color("#AAAAAA"),
	speaker.ColorDirectText: lipgloss.Color("#888888"),
}

// Sink writes revealed items to an io.Writer.
type Sink struct {
	w         io.Writer
	width     int
	codeStyle string
	typing    bool

	headerStyle lipgloss.Style
	nameStyle   lipgloss.Style
	bubbleStyle lipgloss.Style
	directStyle lipgloss.Style
	hintStyle   lipgloss.Style
}

// NewSink returns a sink drawing into w with the given terminal width.
// codeStyle names the chroma style used for fenced code.
func NewSink(w io.Writer, width int, codeStyle string) *Sink {
	if width <= 0 {
		width = 80
	}
	return &Sink{
		w:         w,
		width:     width,
		codeStyle: codeStyle,
		headerStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6347")).
			MarginTop(1),
		nameStyle: lipgloss.NewStyle().Bold(true),
		bubbleStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1),
		directStyle: lipgloss.NewStyle().
			Italic(true).
			Foreground(lipgloss.Color("#888888")),
		hintStyle: lipgloss.NewStyle().
			Faint(true),
	}
}

func (s *Sink) Show(it reveal.Item, _ reveal.Animation) {
	s.clearIndicator()
	if it.Kind == reveal.KindHeader {
		fmt.Fprintln(s.w, s.headerStyle.Render(strings.Repeat("#", it.Level)+" "+it.Text))
		return
	}
	fmt.Fprintln(s.w, s.message(it))
}

// Hide is a no-op: nothing is printed before it is shown.
func (s *Sink) Hide(reveal.Item) {}

func (s *Sink) InsertTypingIndicatorAfter(_ *reveal.Item, ind reveal.Indicator) {
	s.clearIndicator()
	text := ind.Identity.Name + " is typing…"
	if ind.Size == timing.Large {
		text = ind.Identity.Name + " is typing a long message…"
	}
	fmt.Fprint(s.w, s.hintStyle.Foreground(colorOf(ind.Identity)).Render(text))
	s.typing = true
}

func (s *Sink) RemoveTypingIndicator() { s.clearIndicator() }

// CloneTypingIndicatorForFadeOut is a no-op; terminals have no fade.
func (s *Sink) CloneTypingIndicatorForFadeOut(time.Duration) {}

func (s *Sink) clearIndicator() {
	if s.typing {
		fmt.Fprint(s.w, clearLine)
		s.typing = false
	}
}

func (s *Sink) message(it reveal.Item) string {
	body := render.Terminal(it.Body, s.codeStyle)
	if it.DirectText {
		return s.directStyle.Width(s.width).Render(body)
	}
	maxWidth := s.width * 7 / 10
	color := colorOf(it.Identity)
	name := s.nameStyle.Foreground(color).Render(it.Speaker)
	bubble := s.bubbleStyle.BorderForeground(color).MaxWidth(maxWidth).Render(body)
	block := lipgloss.JoinVertical(lipgloss.Left, name, bubble)

	right := it.Identity.IsUser()
	offset := 0.0
	if it.Layout != nil {
		right = it.Layout.Position == dialog.Right
		offset = it.Layout.Offset
	}
	free := s.width - lipgloss.Width(block)
	if free < 0 {
		free = 0
	}
	shift := int(offset * float64(free))
	if right {
		return lipgloss.NewStyle().MarginLeft(free - shift).Render(block)
	}
	return lipgloss.NewStyle().MarginLeft(shift).Render(block)
}

func colorOf(id speaker.Identity) lipgloss.Color {
	if c, ok := slotColors[id.ColorSlot]; ok {
		return c
	}
	return slotColors[speaker.ColorGeneric]
}

// Viewport reports every item at the top of a fixed-height screen.
type Viewport struct {
	Height float64
}

func (v Viewport) ItemTop(reveal.Item) (float64, bool) { return 0, true }

func (v Viewport) InnerHeight() float64 {
	if v.Height <= 0 {
		return 800
	}
	return v.Height
}
