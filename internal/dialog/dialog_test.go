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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyLineKinds(t *testing.T) {
	cases := []struct {
		line  string
		kind  TokenKind
		level int
		text  string
		who   string
	}{
		{"## Alpha", TokenHeader, 2, "Alpha", ""},
		{"  ####   Deep  ", TokenHeader, 4, "Deep", ""},
		{"# Title", TokenText, 0, "", ""},
		{"##### Too deep", TokenText, 0, "", ""},
		{"##NoSpace", TokenText, 0, "", ""},
		{"```go", TokenCodeFence, 0, "", ""},
		{"   ~~~", TokenCodeFence, 0, "", ""},
		{"<<user>>", TokenSpeakerMarker, 0, "", "user"},
		{"[[[Agent]]]", TokenSpeakerMarker, 0, "", "agent"},
		{"<!--Dr  Who-->", TokenSpeakerMarker, 0, "", "dr_who"},
		{"text before <<Bob>> after", TokenSpeakerMarker, 0, "", "bob"},
		{"<<>>", TokenSpeakerMarker, 0, "", DirectText},
		{"<<   >>", TokenSpeakerMarker, 0, "", DirectText},
		{"<<bob{X}>>", TokenText, 0, "", ""},
		{"<<bob", TokenText, 0, "", ""},
		{"## <<user>>", TokenHeader, 2, "<<user>>", ""},
		{"plain [[wiki]]", TokenText, 0, "", ""},
	}
	for _, c := range cases {
		tok := NewClassifier().ClassifyLine(7, c.line)
		assert.Equal(t, c.kind, tok.Kind, c.line)
		assert.Equal(t, 7, tok.LineNo, c.line)
		assert.Equal(t, c.line, tok.Raw, c.line)
		if c.kind == TokenHeader {
			assert.Equal(t, c.level, tok.Level, c.line)
			assert.Equal(t, c.text, tok.Text, c.line)
		}
		if c.kind == TokenSpeakerMarker {
			assert.Equal(t, c.who, tok.Speaker, c.line)
		}
	}
}

func TestMarkerPriorityAndRest(t *testing.T) {
	tok := NewClassifier().ClassifyLine(0, "<!--carol--> then <<bob{R}>> hello")
	require.Equal(t, TokenSpeakerMarker, tok.Kind)
	assert.Equal(t, "bob", tok.Speaker)
	assert.Equal(t, "<<bob{R}>>", tok.Marker)
	assert.Equal(t, "<!--carol--> then  hello", tok.Rest)
	require.NotNil(t, tok.Layout)
	assert.Equal(t, Layout{Position: Right}, *tok.Layout)
}

func TestParseLayout(t *testing.T) {
	cases := map[string]struct {
		ok  bool
		lay Layout
	}{
		"L":     {true, Layout{Position: Left}},
		"R":     {true, Layout{Position: Right}},
		"L.25":  {true, Layout{Position: Left, Offset: 0.25}},
		"R.5":   {true, Layout{Position: Right, Offset: 0.5}},
		"R.999": {true, Layout{Position: Right, Offset: 0.999}},
		"X":     {false, Layout{}},
		"L.":    {false, Layout{}},
		"L.2a":  {false, Layout{}},
		"":      {false, Layout{}},
	}
	for in, want := range cases {
		got, ok := ParseLayout(in)
		assert.Equal(t, want.ok, ok, in)
		if want.ok {
			assert.Equal(t, want.lay, got, in)
			assert.Equal(t, in, got.String(), in)
		}
	}
}

func TestClassifierLayoutStickiness(t *testing.T) {
	toks := Classify("<<user {L.25}>>\nhi\n<<user>>\nagain\n<<bob>>")
	require.Len(t, toks, 5)
	require.NotNil(t, toks[0].Layout)
	assert.True(t, toks[0].Explicit)
	require.NotNil(t, toks[2].Layout)
	assert.False(t, toks[2].Explicit)
	assert.Equal(t, Layout{Position: Left, Offset: 0.25}, *toks[2].Layout)
	assert.Nil(t, toks[4].Layout)
}

func TestSplitLines(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, SplitLines("a\r\nb\r\n"))
	assert.Equal(t, []string{"a", "", "b"}, SplitLines("a\n\nb"))
	assert.Equal(t, []string{""}, SplitLines(""))
}

const scenarioA = "## Alpha\n" +
	"Intro with [[concept]] and `x`.\n" +
	"### Beta\n" +
	"<<user>> hello [[concept]]\n" +
	"<<agent>> hi `y`\n" +
	"## Gamma\n" +
	"<<alice>>\n" +
	"lonely\n"

func TestParseNestedHeadersAndSpans(t *testing.T) {
	c := Parse(scenarioA)
	require.Len(t, c.Sections, 4)

	root, alpha, beta, gamma := c.Sections[0], c.Sections[1], c.Sections[2], c.Sections[3]
	assert.Equal(t, "Root", root.Text)
	assert.Equal(t, -1, root.Parent)
	assert.Equal(t, []int{1, 3}, root.Children)
	assert.Equal(t, 7, root.LineEnd)

	assert.Equal(t, [3]int{2, 0, 4}, [3]int{alpha.Level, alpha.LineStart, alpha.LineEnd})
	assert.Equal(t, [3]int{3, 2, 4}, [3]int{beta.Level, beta.LineStart, beta.LineEnd})
	assert.Equal(t, [3]int{2, 5, 7}, [3]int{gamma.Level, gamma.LineStart, gamma.LineEnd})
	assert.Equal(t, 1, beta.Parent)
	assert.Equal(t, 0, gamma.Parent)

	require.Len(t, c.Messages, 3)
	assert.Equal(t, Message{Ordinal: 0, Speaker: "user", Body: "hello [[concept]]", SectionID: 2, LineNo: 3}, c.Messages[0])
	assert.Equal(t, Message{Ordinal: 1, Speaker: "agent", Body: "hi `y`", SectionID: 2, LineNo: 4}, c.Messages[1])
	assert.Equal(t, Message{Ordinal: 2, Speaker: "alice", Body: "lonely", SectionID: 3, LineNo: 6}, c.Messages[2])

	assert.Equal(t, []SpanCount{{Term: "concept", Count: 1, FirstLine: 1}}, c.WikiIndex(1))
	assert.Equal(t, []SpanCount{{Term: "concept", Count: 1, FirstLine: 3}}, c.WikiIndex(2))
	assert.Empty(t, c.WikiIndex(3))
	assert.Empty(t, c.WikiIndex(0))

	// A reading of this document that expects Alpha:[x] and Beta:[y] in the
	// code index conflicts with two rules applied here: inline code needs more
	// than one character after trimming, and inline code on a speaker-marker
	// line is not indexed. Both rules win, so every code index is empty.
	for id := range c.Sections {
		assert.Empty(t, c.CodeIndex(id), "section %d", id)
	}

	wiki, _ := c.AggregateSpans(1)
	assert.Equal(t, []SpanCount{{Term: "concept", Count: 2, FirstLine: 1}}, wiki)
}

func TestInlineCodeOwnContent(t *testing.T) {
	doc := "## Alpha\nIntro `xy` and `ab`\n### Beta\nbody `ab`\n<<bob>> `zz` skipped\n`ab`\n"
	c := Parse(doc)
	assert.Equal(t, []SpanCount{{Term: "xy", Count: 1, FirstLine: 1}, {Term: "ab", Count: 1, FirstLine: 1}}, c.CodeIndex(1))
	assert.Equal(t, []SpanCount{{Term: "ab", Count: 2, FirstLine: 3}}, c.CodeIndex(2))

	_, code := c.AggregateSpans(0)
	assert.Equal(t, []SpanCount{{Term: "ab", Count: 3, FirstLine: 1}, {Term: "xy", Count: 1, FirstLine: 1}}, code)
}

func TestFencedCodeExcludesInlineCode(t *testing.T) {
	doc := "## S\nuse `foo`\n```\n`bar` and [[inside]]\n```\nthen `baz`\n"
	c := Parse(doc)
	terms := []string{}
	for _, sc := range c.CodeIndex(1) {
		terms = append(terms, sc.Term)
	}
	assert.Equal(t, []string{"foo", "baz"}, terms)
	assert.Equal(t, []SpanCount{{Term: "inside", Count: 1, FirstLine: 3}}, c.WikiIndex(1))
}

func TestUnclosedFenceRunsToEnd(t *testing.T) {
	doc := "`before`\n~~~\n`during`\n## Later\n`after`\n"
	c := Parse(doc)
	assert.Equal(t, []SpanCount{{Term: "before", Count: 1, FirstLine: 0}}, c.CodeIndex(0))
	assert.Empty(t, c.CodeIndex(1))
}

func TestSpeakerStickiness(t *testing.T) {
	c := Parse("<<user {L.25}>>\nhi\n<<user>>\nagain")
	require.Len(t, c.Messages, 2)
	want := Layout{Position: Left, Offset: 0.25}
	for _, m := range c.Messages {
		require.NotNil(t, m.Layout)
		assert.Equal(t, want, *m.Layout)
	}
	assert.Equal(t, "hi", c.Messages[0].Body)
	assert.Equal(t, "again", c.Messages[1].Body)
}

func TestDirectTextMessage(t *testing.T) {
	c := Parse("<<>>\nplain")
	require.Len(t, c.Messages, 1)
	assert.Equal(t, DirectText, c.Messages[0].Speaker)
	assert.True(t, c.Messages[0].DirectText)
	assert.Equal(t, "plain", c.Messages[0].Body)
}

func TestMessageBodies(t *testing.T) {
	doc := "prelude without speaker\n" +
		"<<bob>>\n" +
		"  indented\n" +
		"```\n" +
		"code\n" +
		"```\n" +
		"\n" +
		"<<carol>>\n" +
		"\n" +
		"<<dave>>\n" +
		"last\n" +
		"## Header ends dave\n" +
		"orphan text\n"
	c := Parse(doc)
	require.Len(t, c.Messages, 3)
	assert.Equal(t, "bob", c.Messages[0].Speaker)
	assert.Equal(t, "  indented\n```\ncode\n```\n", c.Messages[0].Body)
	assert.Equal(t, 0, c.Messages[0].SectionID)
	assert.Equal(t, "carol", c.Messages[1].Speaker)
	assert.Equal(t, "", c.Messages[1].Body)
	assert.Equal(t, 0, c.Messages[1].WordCount())
	assert.Equal(t, "dave", c.Messages[2].Speaker)
	assert.Equal(t, 2, c.Messages[2].Ordinal)
	assert.Equal(t, "last", c.Messages[2].Body)
}

func TestBlankLinesStayInBody(t *testing.T) {
	c := Parse("<<user>>\n\n<<bob>>\nhi\n\n## H\n")
	require.Len(t, c.Messages, 2)
	assert.Equal(t, Message{Ordinal: 0, Speaker: "user", Body: "", SectionID: 0, LineNo: 0}, c.Messages[0])
	assert.Equal(t, Message{Ordinal: 1, Speaker: "bob", Body: "hi\n", SectionID: 0, LineNo: 2}, c.Messages[1])
}

func TestMarkerWithoutLinesEmitsNothing(t *testing.T) {
	c := Parse("<<user>>\n## H\n<<bob>>")
	assert.Empty(t, c.Messages)
}

func TestCoalesceSameSpeaker(t *testing.T) {
	doc := "<<bob>>\none\n<<bob>>\ntwo\n<<amy>>\nthree\n## H\n<<amy>>\nfour\n"
	plain := Parse(doc)
	assert.Len(t, plain.Messages, 4)

	c := ParseWith(doc, ParseOptions{CoalesceSameSpeaker: true})
	require.Len(t, c.Messages, 3)
	assert.Equal(t, "one\ntwo", c.Messages[0].Body)
	assert.Equal(t, []int{0, 1, 2}, []int{c.Messages[0].Ordinal, c.Messages[1].Ordinal, c.Messages[2].Ordinal})
	assert.Equal(t, 1, c.Messages[2].SectionID)
}

func TestEmptyDocument(t *testing.T) {
	c := Parse("")
	assert.Len(t, c.Sections, 1)
	assert.Empty(t, c.Messages)
	assert.Empty(t, c.Speakers())
}

func TestSectionTreeProperties(t *testing.T) {
	doc := "intro\n## A\n#### A-deep\n### A-mid\n#### A-mid-deep\ntext\n## B\n### B1\n### B1\n"
	c := Parse(doc)
	for _, s := range c.Headers() {
		p := c.Sections[s.Parent]
		assert.Less(t, p.Level, s.Level, s.Text)
		assert.GreaterOrEqual(t, s.LineStart, p.LineStart, s.Text)
		assert.LessOrEqual(t, s.LineEnd, p.LineEnd, s.Text)
	}
	for _, s := range c.Sections {
		for i := 1; i < len(s.Children); i++ {
			prev, cur := c.Sections[s.Children[i-1]], c.Sections[s.Children[i]]
			assert.Less(t, prev.LineEnd, cur.LineStart)
		}
	}
	assert.Equal(t, 1, c.Sections[2].Parent) // A-deep sits directly under A
	assert.Equal(t, []int{1, 3, 4}, c.Ancestors(4))
	assert.Equal(t, 4, c.SectionAt(5))
	assert.Equal(t, 0, c.SectionAt(0))
	assert.Equal(t, "b1", c.Sections[6].Anchor)
	assert.Equal(t, "b1-2", c.Sections[7].Anchor)
}

func TestParseIsDeterministic(t *testing.T) {
	a := Parse(scenarioA)
	b := Parse(scenarioA)
	assert.Equal(t, a, b)
}

func TestSpeakersInOrder(t *testing.T) {
	c := Parse("<<bob>>\nx\n<<user>>\ny\n<<bob>>\nz\n<<>>\nw")
	assert.Equal(t, []string{"bob", "user", DirectText}, c.Speakers())
	assert.Equal(t, 1, c.Messages[0].WordCount())
}

func TestParseFile(t *testing.T) {
	_, err := ParseFile("  ", ParseOptions{})
	assert.ErrorIs(t, err, ErrEmptyPath)

	_, err = ParseFile(t.TempDir()+"/missing.md", ParseOptions{})
	assert.Error(t, err)
}
