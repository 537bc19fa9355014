/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package reveal

import (
	"errors"
	"log/slog"
	"time"

	"dialogview/internal/clock"
	"dialogview/internal/config"
	applog "dialogview/internal/log"
	"dialogview/internal/timing"
)

// ErrUnknownItem is returned by RevealTo for an ordinal outside the stream.
var ErrUnknownItem = errors.New("unknown reveal item")

// Options wires a Scheduler to its capabilities. Nil Sink and Viewport are
// allowed: nothing is drawn and every item counts as out of view.
type Options struct {
	Clock    clock.Clock
	Sink     Sink
	Viewport Viewport
	Config   config.Playback
	Rand     timing.Rand
	Logger   *slog.Logger
	Enabled  bool
}

// Scheduler reveals items in document order.
type Scheduler struct {
	items []Item
	clock clock.Clock
	sink  Sink
	view  Viewport
	cfg   config.Playback
	rnd   timing.Rand
	log   *slog.Logger

	enabled     bool
	revealed    []bool
	lastVisible int
	lastMessage int
	queue       []int
	failed      []int
	pending     map[int]bool // in queue or failed
	retry       map[int]bool // moved back from failed, skips delays
	phase       Phase
	current     int
	indicator   bool
	gen         uint64
	timer       clock.Timer
	scrollTimer clock.Timer
	viewState   string

	subs    []subscriber
	nextSub int
}

type subscriber struct {
	id int
	fn func(Event)
}

// New creates a scheduler over items. Call Init before feeding it events.
func New(items []Item, opts Options) *Scheduler {
	s := &Scheduler{
		items:       items,
		clock:       opts.Clock,
		sink:        opts.Sink,
		view:        opts.Viewport,
		cfg:         opts.Config,
		rnd:         opts.Rand,
		log:         opts.Logger,
		enabled:     opts.Enabled,
		revealed:    make([]bool, len(items)),
		lastVisible: -1,
		lastMessage: -1,
		pending:     map[int]bool{},
		retry:       map[int]bool{},
		current:     -1,
	}
	if s.clock == nil {
		s.clock = clock.Real{}
	}
	if s.sink == nil {
		s.sink = nopSink{}
	}
	if s.log == nil {
		s.log = applog.WithComponent("reveal")
	}
	return s
}

// Init brings the sink in line with the enabled flag and starts playback.
func (s *Scheduler) Init() {
	s.log.Info("init", "items", len(s.items), "enabled", s.enabled)
	s.Reset(s.enabled)
}

// SetEnabled toggles progressive reveal; the scheduler is reset either way.
func (s *Scheduler) SetEnabled(enabled bool) {
	s.Reset(enabled)
}

// SetConfig replaces the playback configuration and resets the scheduler.
func (s *Scheduler) SetConfig(cfg config.Playback) {
	s.cfg = cfg
	s.Reset(s.enabled)
}

// Config returns the active playback configuration.
func (s *Scheduler) Config() config.Playback { return s.cfg }

// Items returns the reveal stream.
func (s *Scheduler) Items() []Item { return s.items }

// Reset drops all queued and in-flight work. Disabled, every item is shown.
// Enabled, the first item is shown, the rest hidden, and playback restarts.
func (s *Scheduler) Reset(enabled bool) {
	s.cancelInFlight()
	s.queue, s.failed = nil, nil
	s.pending = map[int]bool{}
	s.retry = map[int]bool{}
	s.enabled = enabled
	s.viewState = ""

	if !enabled {
		for i := range s.items {
			if !s.revealed[i] {
				s.sink.Show(s.items[i], Animation{Kind: AnimNone})
			}
			s.markRevealed(i)
		}
		s.log.Debug("reset", "enabled", false)
		return
	}

	for i := range s.revealed {
		s.revealed[i] = false
	}
	s.lastVisible, s.lastMessage = -1, -1
	for i, it := range s.items {
		if i == 0 {
			s.markRevealed(0)
			s.sink.Show(it, Animation{Kind: AnimNone})
			continue
		}
		s.sink.Hide(it)
	}
	s.log.Debug("reset", "enabled", true)
	s.checkFollowing()
	s.pump()
}

// RevealTo shows every item up to and including ordinal without animation,
// drops queued work and resumes from there.
func (s *Scheduler) RevealTo(ordinal int) error {
	if ordinal < 0 || ordinal >= len(s.items) {
		return ErrUnknownItem
	}
	if !s.enabled {
		return nil
	}
	s.cancelInFlight()
	s.queue, s.failed = nil, nil
	s.pending = map[int]bool{}
	s.retry = map[int]bool{}
	for i := s.lastVisible + 1; i <= ordinal; i++ {
		s.markRevealed(i)
		s.sink.Show(s.items[i], Animation{Kind: AnimNone})
		s.emit(EventSkip, s.items[i], 0)
	}
	s.checkFollowing()
	s.pump()
	return nil
}

// Status returns a snapshot for observability.
func (s *Scheduler) Status() Status {
	return Status{
		Phase:        s.phase,
		QueueLength:  len(s.queue),
		FailedLength: len(s.failed),
		LastVisible:  s.lastVisible,
		Enabled:      s.enabled,
	}
}

// Done reports whether every item is visible.
func (s *Scheduler) Done() bool {
	return s.lastVisible == len(s.items)-1
}

// Revealed reports whether the item with the given ordinal is visible.
func (s *Scheduler) Revealed(ordinal int) bool {
	return ordinal >= 0 && ordinal < len(s.revealed) && s.revealed[ordinal]
}

// Subscribe registers an observer and returns a function removing it.
func (s *Scheduler) Subscribe(fn func(Event)) func() {
	id := s.nextSub
	s.nextSub++
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	return func() {
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

// ScrollEvent describes the document scroll position in pixels.
type ScrollEvent struct {
	Y              float64
	ViewportHeight float64
	DocumentHeight float64
}

// OnScroll wakes the scheduler once scrolling settles, or at once when the
// viewport is near the bottom of the document.
func (s *Scheduler) OnScroll(ev ScrollEvent) {
	if !s.enabled {
		return
	}
	if ev.DocumentHeight > 0 && ev.DocumentHeight-(ev.Y+ev.ViewportHeight) <= s.cfg.NearBottomPx {
		s.Wake("near-bottom")
		return
	}
	if s.scrollTimer != nil {
		s.scrollTimer.Stop()
	}
	s.scrollTimer = s.clock.AfterFunc(s.cfg.ScrollDebounce(), func() {
		s.scrollTimer = nil
		s.Wake("scroll")
	})
}

// OnVisibilityChange wakes the scheduler when an item becomes visible.
func (s *Scheduler) OnVisibilityChange(ordinal int, visible bool) {
	if visible {
		s.Wake("visibility")
	}
}

// OnResize wakes the scheduler.
func (s *Scheduler) OnResize() { s.Wake("resize") }

// Wake moves failed items back to the head of the queue, looks ahead for
// upcoming items and resumes playback if idle.
func (s *Scheduler) Wake(reason string) {
	if !s.enabled {
		return
	}
	if len(s.failed) > 0 {
		for _, ord := range s.failed {
			s.retry[ord] = true
			s.emit(EventRetry, s.items[ord], 0)
		}
		s.log.Debug("retry failed items", "reason", reason, "count", len(s.failed))
		s.queue = append(append([]int{}, s.failed...), s.queue...)
		s.failed = nil
	}
	s.checkFollowing()
	s.pump()
}

func (s *Scheduler) cancelInFlight() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.indicator {
		s.sink.RemoveTypingIndicator()
		s.indicator = false
	}
	s.current = -1
	s.setPhase(PhaseIdle)
}

// checkFollowing enqueues the items after the queue tail whose top lies
// within the lookahead distance, up to the configured number of messages.
// Nothing is added while failed items wait for a retry. An item without known
// geometry is only taken when the queue is empty; the viewport check then
// parks it in the failed queue.
func (s *Scheduler) checkFollowing() {
	if !s.enabled || len(s.failed) > 0 {
		return
	}
	next := s.lastVisible + 1
	if s.current >= next {
		next = s.current + 1
	}
	msgs := 0
	for _, ord := range s.queue {
		if ord >= next {
			next = ord + 1
		}
		if s.items[ord].Kind == KindMessage {
			msgs++
		}
	}
	var limit float64
	if s.view != nil {
		limit = s.view.InnerHeight() + s.cfg.LookaheadPx
	}
	for i := next; i < len(s.items) && msgs < s.cfg.MaxLookaheadMessages; i++ {
		if s.revealed[i] || s.pending[i] {
			continue
		}
		top, ok := 0.0, false
		if s.view != nil {
			top, ok = s.view.ItemTop(s.items[i])
		}
		if !ok {
			if len(s.queue) == 0 {
				s.enqueue(i)
			}
			break
		}
		if top >= limit {
			break
		}
		s.enqueue(i)
		if s.items[i].Kind == KindMessage {
			msgs++
		}
	}
}

func (s *Scheduler) enqueue(ord int) {
	s.queue = append(s.queue, ord)
	s.pending[ord] = true
}

func (s *Scheduler) pump() {
	for s.enabled && s.phase == PhaseIdle && len(s.failed) == 0 {
		if len(s.queue) == 0 {
			s.checkFollowing()
			if len(s.queue) == 0 {
				return
			}
		}
		ord := s.queue[0]
		s.queue = s.queue[1:]
		delete(s.pending, ord)
		retry := s.retry[ord]
		delete(s.retry, ord)
		if s.revealed[ord] {
			continue
		}
		s.start(ord, retry)
	}
}

func (s *Scheduler) start(ord int, retry bool) {
	it := s.items[ord]
	s.current = ord
	gen := s.gen

	if it.Kind == KindHeader {
		s.setPhase(PhaseHeaderAnim)
		s.markRevealed(ord)
		s.sink.Show(it, Animation{Kind: AnimFade, Duration: HeaderFade})
		s.emit(EventRevealHeader, it, 0)
		s.after(gen, HeaderFade, s.finishItem)
		return
	}
	if retry {
		s.setPhase(PhaseRevealing)
		s.checkViewport(ord, gen, 0)
		return
	}

	var prev *string
	if s.lastMessage >= 0 {
		prev = &s.items[s.lastMessage].Body
	}
	delay := timing.ReadDelay(prev, s.cfg.ReadDelay, s.rnd)
	if it.DirectText {
		delay = timing.DirectTextDelay(delay)
	}
	s.setPhase(PhaseReadDelay)
	s.after(gen, delay, func() {
		if it.DirectText || !s.cfg.TypingAnimation.Enabled {
			s.setPhase(PhaseRevealing)
			s.checkViewport(ord, gen, delay)
			return
		}
		s.showTyping(ord, gen, delay)
	})
}

func (s *Scheduler) showTyping(ord int, gen uint64, readDelay time.Duration) {
	it := s.items[ord]
	ind := Indicator{Target: it, Identity: it.Identity, Layout: it.Layout}
	if !it.Identity.IsUser() {
		ind.Size = timing.MessageSize(it.Body)
	}
	var after *Item
	if s.lastVisible >= 0 {
		after = &s.items[s.lastVisible]
	}
	d := timing.TypingTime(it.Body, it.Identity.IsUser(), s.cfg.TypingAnimation, s.rnd)

	s.setPhase(PhaseTyping)
	s.sink.InsertTypingIndicatorAfter(after, ind)
	s.indicator = true
	s.emit(EventShowTyping, it, d)
	s.after(gen, d, func() {
		s.emit(EventFinishTyping, it, d)
		s.setPhase(PhaseRevealing)
		s.checkViewport(ord, gen, readDelay)
	})
}

func (s *Scheduler) checkViewport(ord int, gen uint64, readDelay time.Duration) {
	it := s.items[ord]
	if s.inView(it) {
		if s.indicator {
			s.sink.CloneTypingIndicatorForFadeOut(IndicatorFadeOut)
			s.sink.RemoveTypingIndicator()
			s.indicator = false
		}
		anim, hold := Animation{Kind: AnimReveal, Duration: MessageReveal}, MessageReveal
		if it.DirectText {
			anim, hold = Animation{Kind: AnimFade, Duration: DirectTextFade}, DirectTextFade
		}
		s.markRevealed(ord)
		s.sink.Show(it, anim)
		s.emit(EventRevealMessage, it, readDelay)
		s.after(gen, hold, s.finishItem)
		return
	}
	if s.indicator {
		s.sink.RemoveTypingIndicator()
		s.indicator = false
	}
	s.failed = append(s.failed, ord)
	s.pending[ord] = true
	s.emit(EventDeferred, it, 0)
	s.after(gen, FailCooldown, s.finishItem)
}

func (s *Scheduler) finishItem() {
	s.current = -1
	s.setPhase(PhaseIdle)
	s.checkFollowing()
	s.pump()
}

// inView treats unknown geometry as out of view.
func (s *Scheduler) inView(it Item) bool {
	in := false
	if s.view != nil {
		if top, ok := s.view.ItemTop(it); ok {
			in = top < s.view.InnerHeight()+s.cfg.ViewportBuffer
		}
	}
	state := "out-of-view"
	if in {
		state = "in-view"
	}
	if state != s.viewState {
		s.log.Debug("viewport state", "state", state, "ordinal", it.Ordinal)
		s.viewState = state
	}
	return in
}

// after runs fn once d has elapsed unless the scheduler was reset meanwhile.
// A non-positive d runs fn immediately.
func (s *Scheduler) after(gen uint64, d time.Duration, fn func()) {
	if d <= 0 {
		fn()
		return
	}
	s.timer = s.clock.AfterFunc(d, func() {
		if s.gen != gen {
			return
		}
		s.timer = nil
		fn()
	})
}

func (s *Scheduler) markRevealed(ord int) {
	s.revealed[ord] = true
	if ord > s.lastVisible {
		s.lastVisible = ord
	}
	if s.items[ord].Kind == KindMessage && ord > s.lastMessage {
		s.lastMessage = ord
	}
}

func (s *Scheduler) setPhase(p Phase) {
	s.phase = p
}

func (s *Scheduler) emit(t EventType, it Item, d time.Duration) {
	if len(s.subs) == 0 {
		return
	}
	ev := Event{Type: t, Item: it, Delay: d, At: s.clock.Now()}
	for _, sub := range s.subs {
		sub.fn(ev)
	}
}
