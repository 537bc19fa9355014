/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package reveal plays a parsed conversation back one item at a time.
//
// The Scheduler walks the document-ordered stream of headers and messages and
// reveals them through a Sink, pausing for a read delay and a typing indicator
// before each message. Items that end up outside the viewport when their turn
// comes are parked in a failed queue and retried on the next scroll, resize or
// visibility wakeup. The revealed items always form a prefix of the stream.
//
// A Scheduler is not safe for concurrent use; drive it from a single goroutine
// such as a Loop.
package reveal

import (
	"time"

	"dialogview/internal/dialog"
	"dialogview/internal/speaker"
	"dialogview/internal/timing"
)

// Kind is the kind of a reveal item.
type Kind int

const (
	KindHeader Kind = iota
	KindMessage
)

func (k Kind) String() string {
	if k == KindHeader {
		return "header"
	}
	return "message"
}

// Item is one entry of the reveal stream. Ordinal is its index in the stream.
type Item struct {
	Kind      Kind
	Ordinal   int
	Line      int
	SectionID int // the header's own section, or the section owning the message

	// Header
	Level int
	Text  string

	// Message
	MessageIndex int
	Speaker      string
	Identity     speaker.Identity
	Layout       *dialog.Layout
	Body         string
	DirectText   bool
}

// Items merges headers and messages in document order and registers every
// speaker with reg in order of appearance.
func Items(c *dialog.Conversation, reg *speaker.Registry) []Item {
	headers := c.Headers()
	out := make([]Item, 0, len(headers)+len(c.Messages))
	h, m := 0, 0
	for h < len(headers) || m < len(c.Messages) {
		if m >= len(c.Messages) || (h < len(headers) && headers[h].LineStart < c.Messages[m].LineNo) {
			s := headers[h]
			out = append(out, Item{Kind: KindHeader, Ordinal: len(out), Line: s.LineStart, SectionID: s.ID, Level: s.Level, Text: s.Text, MessageIndex: -1})
			h++
			continue
		}
		msg := c.Messages[m]
		out = append(out, Item{
			Kind:         KindMessage,
			Ordinal:      len(out),
			Line:         msg.LineNo,
			SectionID:    msg.SectionID,
			MessageIndex: msg.Ordinal,
			Speaker:      msg.Speaker,
			Identity:     reg.Register(msg.Speaker),
			Layout:       msg.Layout,
			Body:         msg.Body,
			DirectText:   msg.DirectText,
		})
		m++
	}
	return out
}

// Phase is the scheduler activity. Exactly one phase is current.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseHeaderAnim
	PhaseReadDelay
	PhaseTyping
	PhaseRevealing
)

func (p Phase) String() string {
	switch p {
	case PhaseHeaderAnim:
		return "headerAnim"
	case PhaseReadDelay:
		return "readDelay"
	case PhaseTyping:
		return "typing"
	case PhaseRevealing:
		return "revealing"
	default:
		return "idle"
	}
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Fixed animation timings.
const (
	HeaderFade       = 300 * time.Millisecond
	MessageReveal    = 600 * time.Millisecond
	DirectTextFade   = 300 * time.Millisecond
	IndicatorFadeOut = 450 * time.Millisecond
	FailCooldown     = 100 * time.Millisecond
)

// AnimKind selects how the sink shows an item.
type AnimKind string

const (
	AnimNone   AnimKind = "none"
	AnimFade   AnimKind = "fade"
	AnimReveal AnimKind = "reveal"
)

type Animation struct {
	Kind     AnimKind
	Duration time.Duration
}

// Indicator describes the typing indicator shown ahead of a message.
// Size is empty for the user's own messages.
type Indicator struct {
	Target   Item
	Identity speaker.Identity
	Size     timing.Size
	Layout   *dialog.Layout
}

// Sink performs the visual mutations.
type Sink interface {
	Show(it Item, anim Animation)
	Hide(it Item)
	// InsertTypingIndicatorAfter places the indicator right after the given item;
	// after is nil when nothing is visible yet.
	InsertTypingIndicatorAfter(after *Item, ind Indicator)
	RemoveTypingIndicator()
	// CloneTypingIndicatorForFadeOut leaves a copy of the indicator fading out
	// in place for d, so the original can be removed at once.
	CloneTypingIndicatorForFadeOut(d time.Duration)
}

// Viewport reports item geometry. ItemTop is relative to the top of the
// viewport; ok is false when the position is unknown.
type Viewport interface {
	ItemTop(it Item) (top float64, ok bool)
	InnerHeight() float64
}

// EventType names an observable scheduler transition.
type EventType string

const (
	EventShowTyping    EventType = "show-typing"
	EventFinishTyping  EventType = "finish-typing"
	EventRevealMessage EventType = "reveal-message"
	EventRevealHeader  EventType = "reveal-header"
	EventDeferred      EventType = "deferred"
	EventRetry         EventType = "retry"
	EventSkip          EventType = "skip"
)

// Event is delivered to subscribers. Delay is the typing time for
// show-typing and the read delay spent before it for the reveal events.
type Event struct {
	Type  EventType
	Item  Item
	Delay time.Duration
	At    time.Time
}

// Status is a read-only snapshot of the scheduler.
type Status struct {
	Phase        Phase `json:"phase"`
	QueueLength  int   `json:"queueLength"`
	FailedLength int   `json:"failedLength"`
	LastVisible  int   `json:"lastVisible"`
	Enabled      bool  `json:"enabled"`
}

type nopSink struct{}

func (nopSink) Show(Item, Animation)                         {}
func (nopSink) Hide(Item)                                    {}
func (nopSink) InsertTypingIndicatorAfter(*Item, Indicator)  {}
func (nopSink) RemoveTypingIndicator()                       {}
func (nopSink) CloneTypingIndicatorForFadeOut(time.Duration) {}
