/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package dialog parses markdown conversation documents.
//
// A document is split into lines, every line is classified into a LineToken,
// and the token stream is folded into a section tree (headers of level 2 to 4)
// and an ordered list of speaker-tagged messages. Sections also carry the wiki
// references and inline code spans found in their own content.
//
// Parsing never fails: malformed constructs fall back to plain text.
package dialog

// DirectText is the reserved speaker produced by an empty marker such as "<<>>".
const DirectText = "direct-text"

// RootSectionID is the id of the implicit section spanning the whole document.
const RootSectionID = 0

// TokenKind indicates the kind of a classified line.
type TokenKind int

const (
	TokenText TokenKind = iota
	TokenHeader
	TokenCodeFence
	TokenSpeakerMarker
)

func (k TokenKind) String() string {
	switch k {
	case TokenHeader:
		return "header"
	case TokenCodeFence:
		return "fence"
	case TokenSpeakerMarker:
		return "speaker"
	default:
		return "text"
	}
}

// Position is the horizontal side a speaker's bubble is drawn on.
type Position string

const (
	Left  Position = "left"
	Right Position = "right"
)

// Layout is the optional placement hint of a speaker marker: "L", "R", "L.25".
// Offset is always in [0,1).
type Layout struct {
	Position Position `json:"position"`
	Offset   float64  `json:"offset"`
}

// LineToken is one classified input line. Only the fields relevant to Kind are set.
type LineToken struct {
	Kind   TokenKind
	LineNo int    // 0-based
	Raw    string // original line without the trailing "\r"

	// Header
	Level int
	Text  string

	// SpeakerMarker. Layout is the explicit layout or, when omitted, the one last
	// seen for the same speaker; Explicit tells them apart. Marker is the matched
	// marker text and Rest what is left of the line once it is removed.
	Speaker  string
	Layout   *Layout
	Explicit bool
	Marker   string
	Rest     string
}

// SpanCount is one entry of a section span index.
type SpanCount struct {
	Term      string `json:"term"`
	Count     int    `json:"count"`
	FirstLine int    `json:"firstLine"`
}

// Section is a node of the section tree. Sections live in Conversation.Sections
// and reference each other by id; the id equals the slice index.
type Section struct {
	ID        int    `json:"id"`
	Level     int    `json:"level"`
	Text      string `json:"text"`
	Anchor    string `json:"anchor"`
	LineStart int    `json:"lineStart"`
	LineEnd   int    `json:"lineEnd"`
	Parent    int    `json:"parent"` // -1 for the root
	Children  []int  `json:"children"`

	Wikilinks []SpanCount `json:"wikilinks"`
	CodeSpans []SpanCount `json:"codeSpans"`
}

// Message is a speaker-tagged block of markdown.
type Message struct {
	Ordinal    int     `json:"ordinal"`
	Speaker    string  `json:"speaker"`
	Layout     *Layout `json:"layout,omitempty"`
	Body       string  `json:"body"`
	SectionID  int     `json:"sectionId"`
	LineNo     int     `json:"lineNo"` // line of the speaker marker
	DirectText bool    `json:"directText,omitempty"`
}

// WordCount splits the body on runs of whitespace.
func (m Message) WordCount() int {
	return wordCount(m.Body)
}

// Conversation is the immutable result of parsing one document.
type Conversation struct {
	Lines    []string    `json:"-"`
	Tokens   []LineToken `json:"-"`
	Sections []Section   `json:"sections"`
	Messages []Message   `json:"messages"`
}

// ParseOptions tunes the Conversation Builder.
type ParseOptions struct {
	// CoalesceSameSpeaker merges consecutive messages of the same speaker
	// within one section into a single message.
	CoalesceSameSpeaker bool
}
