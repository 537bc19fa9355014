/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package dialog

import (
	"regexp"
	"strconv"
	"strings"
)

var reSlug = regexp.MustCompile(`[^a-z0-9]+`)

// buildSections folds header tokens into the section arena. Index 0 is the root.
func buildSections(tokens []LineToken, lastLine int) []Section {
	secs := []Section{{ID: RootSectionID, Level: 0, Text: "Root", Anchor: "root", LineStart: 0, LineEnd: lastLine, Parent: -1}}
	stack := []int{RootSectionID}
	anchors := map[string]int{"root": 1}

	for _, t := range tokens {
		if t.Kind != TokenHeader {
			continue
		}
		for len(stack) > 1 && secs[stack[len(stack)-1]].Level >= t.Level {
			stack = stack[:len(stack)-1]
		}
		parent := stack[len(stack)-1]
		id := len(secs)
		secs = append(secs, Section{
			ID:        id,
			Level:     t.Level,
			Text:      t.Text,
			Anchor:    uniqueAnchor(anchors, t.Text),
			LineStart: t.LineNo,
			LineEnd:   lastLine,
			Parent:    parent,
		})
		secs[parent].Children = append(secs[parent].Children, id)
		stack = append(stack, id)
	}

	// lineEnd: one before the next header of equal or lower level.
	for i := 1; i < len(secs); i++ {
		for j := i + 1; j < len(secs); j++ {
			if secs[j].Level <= secs[i].Level {
				secs[i].LineEnd = secs[j].LineStart - 1
				break
			}
		}
	}
	return secs
}

func uniqueAnchor(seen map[string]int, text string) string {
	base := strings.Trim(reSlug.ReplaceAllString(strings.ToLower(text), "-"), "-")
	if base == "" {
		base = "section"
	}
	n := seen[base]
	seen[base] = n + 1
	if n == 0 {
		return base
	}
	return base + "-" + strconv.Itoa(n+1)
}

// sectionOfLines maps every line to the deepest section containing it, which is
// the section of the closest header at or above the line.
func sectionOfLines(secs []Section, n int) []int {
	out := make([]int, n)
	cur := RootSectionID
	next := 1
	for line := 0; line < n; line++ {
		for next < len(secs) && secs[next].LineStart <= line {
			cur = next
			next++
		}
		out[line] = cur
	}
	return out
}

type openMessage struct {
	speaker string
	layout  *Layout
	body    []string
	section int
	lineNo  int
}

// buildMessages walks the tokens and emits messages in document order.
func buildMessages(tokens []LineToken, owner []int, opts ParseOptions) []Message {
	var (
		msgs       []Message
		cur        *openMessage
		remembered = map[string]Layout{}
	)

	finalize := func() {
		if cur == nil {
			return
		}
		// Raw lines are kept as written, blank ones included. A marker with
		// no following line (or one directly followed by a header) emits nothing.
		if len(cur.body) > 0 {
			msgs = append(msgs, Message{
				Ordinal:    len(msgs),
				Speaker:    cur.speaker,
				Layout:     cur.layout,
				Body:       strings.Join(cur.body, "\n"),
				SectionID:  cur.section,
				LineNo:     cur.lineNo,
				DirectText: cur.speaker == DirectText,
			})
		}
		cur = nil
	}

	for _, t := range tokens {
		switch t.Kind {
		case TokenSpeakerMarker:
			finalize()
			lay := t.Layout
			if lay != nil {
				if t.Explicit {
					remembered[t.Speaker] = *lay
				}
			} else if r, ok := remembered[t.Speaker]; ok {
				lay = &r
			}
			if lay != nil {
				cp := *lay
				lay = &cp
			}
			cur = &openMessage{speaker: t.Speaker, layout: lay, section: owner[t.LineNo], lineNo: t.LineNo}
			if t.Rest != "" {
				cur.body = append(cur.body, t.Rest)
			}
		case TokenHeader:
			finalize()
		default:
			if cur != nil {
				cur.body = append(cur.body, t.Raw)
			}
		}
	}
	finalize()

	if opts.CoalesceSameSpeaker {
		msgs = coalesce(msgs)
	}
	return msgs
}

// coalesce merges runs of messages with the same speaker and section.
func coalesce(in []Message) []Message {
	out := make([]Message, 0, len(in))
	for _, m := range in {
		if n := len(out); n > 0 && out[n-1].Speaker == m.Speaker && out[n-1].SectionID == m.SectionID {
			out[n-1].Body += "\n" + m.Body
			continue
		}
		m.Ordinal = len(out)
		out = append(out, m)
	}
	return out
}
