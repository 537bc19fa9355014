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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	applog "dialogview/internal/log"
)

// ErrEmptyPath is returned by ParseFile for a blank path.
var ErrEmptyPath = errors.New("empty document path")

// Parse parses a document with default options.
func Parse(doc string) *Conversation {
	return ParseWith(doc, ParseOptions{})
}

// ParseWith classifies the document, builds the section tree and message list,
// and extracts the per-section span indexes.
func ParseWith(doc string, opts ParseOptions) *Conversation {
	lines := SplitLines(doc)
	tokens := NewClassifier().ClassifyLines(lines)
	secs := buildSections(tokens, len(lines)-1)
	owner := sectionOfLines(secs, len(lines))
	msgs := buildMessages(tokens, owner, opts)
	extractSpans(secs, tokens)
	return &Conversation{Lines: lines, Tokens: tokens, Sections: secs, Messages: msgs}
}

// ParseFile reads a UTF-8 document from disk and parses it.
func ParseFile(path string, opts ParseOptions) (*Conversation, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrEmptyPath
	}
	l := applog.WithOperation(applog.WithComponent("dialog"), "parse_file").With("path", path)
	data, err := os.ReadFile(path)
	if err != nil {
		l.Error("read failed", slog.Any("err", err))
		return nil, fmt.Errorf("read document: %w", err)
	}
	c := ParseWith(string(data), opts)
	l.Debug("parsed", "lines", len(c.Lines), "sections", len(c.Sections), "messages", len(c.Messages))
	return c, nil
}

// Root returns the root section.
func (c *Conversation) Root() *Section { return &c.Sections[RootSectionID] }

// Section returns the section with the given id, or nil.
func (c *Conversation) Section(id int) *Section {
	if id < 0 || id >= len(c.Sections) {
		return nil
	}
	return &c.Sections[id]
}

// Headers returns the non-root sections in document order.
func (c *Conversation) Headers() []Section {
	if len(c.Sections) < 2 {
		return nil
	}
	return c.Sections[1:]
}

// SectionAt returns the id of the deepest section containing line.
func (c *Conversation) SectionAt(line int) int {
	id := RootSectionID
	for i := 1; i < len(c.Sections); i++ {
		if c.Sections[i].LineStart > line {
			break
		}
		id = i
	}
	return id
}

// Ancestors returns the non-root ancestors of a section, outermost first,
// ending with the section itself.
func (c *Conversation) Ancestors(id int) []int {
	var chain []int
	for id > RootSectionID && id < len(c.Sections) {
		chain = append(chain, id)
		id = c.Sections[id].Parent
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}

// WikiIndex returns the wiki references attributed to a section's own content.
func (c *Conversation) WikiIndex(id int) []SpanCount {
	if s := c.Section(id); s != nil {
		return s.Wikilinks
	}
	return nil
}

// CodeIndex returns the inline code spans attributed to a section's own content.
func (c *Conversation) CodeIndex(id int) []SpanCount {
	if s := c.Section(id); s != nil {
		return s.CodeSpans
	}
	return nil
}

// AggregateSpans sums the span indexes of a section and all of its descendants.
func (c *Conversation) AggregateSpans(id int) (wiki, code []SpanCount) {
	if c.Section(id) == nil {
		return nil, nil
	}
	var w, k spanTally
	var walk func(int)
	walk = func(i int) {
		s := &c.Sections[i]
		for _, sc := range s.Wikilinks {
			w.addCount(sc)
		}
		for _, sc := range s.CodeSpans {
			k.addCount(sc)
		}
		for _, ch := range s.Children {
			walk(ch)
		}
	}
	walk(id)
	return w.sorted(), k.sorted()
}

// Speakers returns the speaker names in order of first appearance.
func (c *Conversation) Speakers() []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range c.Messages {
		if !seen[m.Speaker] {
			seen[m.Speaker] = true
			out = append(out, m.Speaker)
		}
	}
	return out
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
