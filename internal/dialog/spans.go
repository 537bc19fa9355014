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
	"sort"
	"strings"
	"unicode/utf8"
)

var (
	reWiki   = regexp.MustCompile(`\[\[([^\[\]|]+)(?:\|[^\[\]]*)?\]\]`)
	reInline = regexp.MustCompile("`([^`]+)`")
)

// WikiRefs returns the terms of all [[term]] and [[term|label]] references on a line.
func WikiRefs(line string) []string {
	var out []string
	for _, m := range reWiki.FindAllStringSubmatch(line, -1) {
		if t := strings.TrimSpace(m[1]); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// InlineCode returns the trimmed contents of `code` spans longer than one character.
func InlineCode(line string) []string {
	var out []string
	for _, m := range reInline.FindAllStringSubmatch(line, -1) {
		if t := strings.TrimSpace(m[1]); utf8.RuneCountInString(t) > 1 {
			out = append(out, t)
		}
	}
	return out
}

// fenceState marks every line that sits inside a fenced block. Fence lines
// themselves are not marked. An unclosed fence runs to the end of the document.
func fenceState(tokens []LineToken) []bool {
	in := make([]bool, len(tokens))
	open := false
	for i, t := range tokens {
		if t.Kind == TokenCodeFence {
			open = !open
			continue
		}
		in[i] = open
	}
	return in
}

// spanTally counts terms and remembers the order they were first seen.
type spanTally struct {
	counts map[string]*SpanCount
	order  []string
}

func (s *spanTally) add(term string, line int) {
	s.addCount(SpanCount{Term: term, Count: 1, FirstLine: line})
}

func (s *spanTally) addCount(sc SpanCount) {
	if s.counts == nil {
		s.counts = map[string]*SpanCount{}
	}
	if c, ok := s.counts[sc.Term]; ok {
		c.Count += sc.Count
		if sc.FirstLine < c.FirstLine {
			c.FirstLine = sc.FirstLine
		}
		return
	}
	s.counts[sc.Term] = &sc
	s.order = append(s.order, sc.Term)
}

func (s *spanTally) sorted() []SpanCount {
	out := make([]SpanCount, 0, len(s.order))
	for _, term := range s.order {
		out = append(out, *s.counts[term])
	}
	sortSpans(out)
	return out
}

// sortSpans orders by count descending, then first appearance. Equal keys keep
// their relative order.
func sortSpans(out []SpanCount) {
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].FirstLine < out[j].FirstLine
	})
}

// extractSpans fills Wikilinks and CodeSpans of every section. Lines are
// attributed leaves first, then the uncovered parts of inner sections, then
// the lines before the first header to the root. A line is attributed once.
func extractSpans(secs []Section, tokens []LineToken) {
	inCode := fenceState(tokens)
	done := make([]bool, len(tokens))
	wiki := make([]spanTally, len(secs))
	code := make([]spanTally, len(secs))

	attribute := func(sec, line int) {
		if line < 0 || line >= len(tokens) || done[line] {
			return
		}
		done[line] = true
		t := tokens[line]
		switch t.Kind {
		case TokenHeader, TokenCodeFence:
			return
		case TokenSpeakerMarker:
			for _, w := range WikiRefs(strings.Replace(t.Raw, t.Marker, " ", 1)) {
				wiki[sec].add(w, line)
			}
		default:
			for _, w := range WikiRefs(t.Raw) {
				wiki[sec].add(w, line)
			}
			if !inCode[line] {
				for _, c := range InlineCode(t.Raw) {
					code[sec].add(c, line)
				}
			}
		}
	}

	// leaves
	for i := 1; i < len(secs); i++ {
		if len(secs[i].Children) > 0 {
			continue
		}
		for l := secs[i].LineStart + 1; l <= secs[i].LineEnd; l++ {
			attribute(i, l)
		}
	}
	// inner sections: only lines no child covers
	for i := 1; i < len(secs); i++ {
		if len(secs[i].Children) == 0 {
			continue
		}
		for l := secs[i].LineStart + 1; l <= secs[i].LineEnd; l++ {
			if !coveredByChild(secs, i, l) {
				attribute(i, l)
			}
		}
	}
	// root: lines before the first header
	firstHeader := len(tokens)
	if len(secs) > 1 {
		firstHeader = secs[1].LineStart
	}
	for l := 0; l < firstHeader; l++ {
		attribute(RootSectionID, l)
	}

	for i := range secs {
		secs[i].Wikilinks = wiki[i].sorted()
		secs[i].CodeSpans = code[i].sorted()
	}
}

func coveredByChild(secs []Section, id, line int) bool {
	for _, c := range secs[id].Children {
		if line >= secs[c].LineStart && line <= secs[c].LineEnd {
			return true
		}
	}
	return false
}
