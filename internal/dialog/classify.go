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

var (
	reHeader = regexp.MustCompile(`^(#{2,4})\s+(.+)$`)
	reSpace  = regexp.MustCompile(`\s+`)

	// Speaker markers in priority order: <<name{L}>>, [[[name{L}]]], <!--name{L}-->.
	reMarkers = []*regexp.Regexp{
		regexp.MustCompile(`<<([^<>{}]*)(?:\{([LR](?:\.\d+)?)\})?\s*>>`),
		regexp.MustCompile(`\[\[\[([^\[\]{}]*)(?:\{([LR](?:\.\d+)?)\})?\s*\]\]\]`),
		regexp.MustCompile(`<!--([^<>{}]*?)(?:\{([LR](?:\.\d+)?)\})?\s*-->`),
	}
)

// Classifier turns raw lines into tokens. It remembers the last explicit layout
// of every speaker so markers that omit one inherit it.
type Classifier struct {
	layouts map[string]Layout
}

func NewClassifier() *Classifier {
	return &Classifier{layouts: map[string]Layout{}}
}

// SplitLines splits a document on "\n", dropping a trailing "\r" from each line.
// A final newline does not start an extra line.
func SplitLines(doc string) []string {
	lines := strings.Split(doc, "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// Classify tokenizes a whole document with a fresh Classifier.
func Classify(doc string) []LineToken {
	return NewClassifier().ClassifyLines(SplitLines(doc))
}

// ClassifyLines returns one token per line, in order.
func (c *Classifier) ClassifyLines(lines []string) []LineToken {
	out := make([]LineToken, 0, len(lines))
	for i, l := range lines {
		out = append(out, c.ClassifyLine(i, l))
	}
	return out
}

// ClassifyLine classifies a single line. First match wins: header, fence,
// speaker marker, text.
func (c *Classifier) ClassifyLine(lineNo int, raw string) LineToken {
	raw = strings.TrimSuffix(raw, "\r")
	trim := strings.TrimSpace(raw)
	tok := LineToken{Kind: TokenText, LineNo: lineNo, Raw: raw}

	if m := reHeader.FindStringSubmatch(trim); m != nil {
		tok.Kind = TokenHeader
		tok.Level = len(m[1])
		tok.Text = strings.TrimSpace(m[2])
		return tok
	}
	if IsFence(trim) {
		tok.Kind = TokenCodeFence
		return tok
	}
	for _, re := range reMarkers {
		loc := re.FindStringSubmatchIndex(raw)
		if loc == nil {
			continue
		}
		tok.Kind = TokenSpeakerMarker
		tok.Speaker = NormalizeSpeaker(raw[loc[2]:loc[3]])
		tok.Marker = raw[loc[0]:loc[1]]
		tok.Rest = strings.TrimSpace(raw[:loc[0]] + raw[loc[1]:])
		if loc[4] >= 0 {
			if lay, ok := ParseLayout(raw[loc[4]:loc[5]]); ok {
				tok.Layout = &lay
				tok.Explicit = true
				c.layouts[tok.Speaker] = lay
			}
		} else if lay, ok := c.layouts[tok.Speaker]; ok {
			tok.Layout = &lay
		}
		return tok
	}
	return tok
}

// IsFence reports whether a trimmed line opens or closes a fenced code block.
func IsFence(trim string) bool {
	return strings.HasPrefix(trim, "```") || strings.HasPrefix(trim, "~~~")
}

// NormalizeSpeaker lowercases a marker name and joins whitespace runs with "_".
// A blank name is DirectText.
func NormalizeSpeaker(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DirectText
	}
	return reSpace.ReplaceAllString(strings.ToLower(name), "_")
}

// ParseLayout parses "L", "R", "L.<digits>" or "R.<digits>".
func ParseLayout(s string) (Layout, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Layout{}, false
	}
	var lay Layout
	switch s[0] {
	case 'L':
		lay.Position = Left
	case 'R':
		lay.Position = Right
	default:
		return Layout{}, false
	}
	rest := s[1:]
	if rest == "" {
		return lay, true
	}
	if len(rest) < 2 || rest[0] != '.' {
		return Layout{}, false
	}
	for _, r := range rest[1:] {
		if r < '0' || r > '9' {
			return Layout{}, false
		}
	}
	f, err := strconv.ParseFloat("0"+rest, 64)
	if err != nil || f >= 1 {
		return Layout{}, false
	}
	lay.Offset = f
	return lay, true
}

// String renders the layout back into marker syntax.
func (l Layout) String() string {
	p := "L"
	if l.Position == Right {
		p = "R"
	}
	if l.Offset == 0 {
		return p
	}
	return p + strings.TrimPrefix(strconv.FormatFloat(l.Offset, 'f', -1, 64), "0")
}
