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
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"dialogview/internal/clock"
	"dialogview/internal/config"
	"dialogview/internal/dialog"
	"dialogview/internal/speaker"
)

type recordingSink struct {
	ops []string
}

func (r *recordingSink) Show(it Item, a Animation) {
	r.ops = append(r.ops, fmt.Sprintf("show:%d:%s", it.Ordinal, a.Kind))
}

func (r *recordingSink) Hide(it Item) {
	r.ops = append(r.ops, fmt.Sprintf("hide:%d", it.Ordinal))
}

func (r *recordingSink) InsertTypingIndicatorAfter(after *Item, ind Indicator) {
	a := -1
	if after != nil {
		a = after.Ordinal
	}
	r.ops = append(r.ops, fmt.Sprintf("typing:%d:%d:%s", a, ind.Target.Ordinal, ind.Size))
}

func (r *recordingSink) RemoveTypingIndicator() { r.ops = append(r.ops, "remove") }

func (r *recordingSink) CloneTypingIndicatorForFadeOut(d time.Duration) {
	r.ops = append(r.ops, "clone:"+d.String())
}

type fakeViewport struct {
	inner   float64
	tops    map[int]float64
	unknown map[int]bool
}

func newFakeViewport() *fakeViewport {
	return &fakeViewport{inner: 800, tops: map[int]float64{}, unknown: map[int]bool{}}
}

func (v *fakeViewport) ItemTop(it Item) (float64, bool) {
	if v.unknown[it.Ordinal] {
		return 0, false
	}
	return v.tops[it.Ordinal], true
}

func (v *fakeViewport) InnerHeight() float64 { return v.inner }

type midRand struct{}

func (midRand) Float64() float64 { return 0.5 }

const sampleDoc = "## Intro\n" +
	"<<user>>\n" +
	"hello there\n" +
	"<<assistant>>\n" +
	"hi, how can I help\n" +
	"### Details\n" +
	"<<bob>>\n" +
	"a b c\n"

type harness struct {
	clk    *clock.Manual
	sink   *recordingSink
	view   *fakeViewport
	sched  *Scheduler
	events []Event
}

func newHarness(doc string, mutate func(*Options)) *harness {
	h := &harness{
		clk:  clock.NewManual(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
		sink: &recordingSink{},
		view: newFakeViewport(),
	}
	items := Items(dialog.Parse(doc), speaker.NewRegistry())
	opts := Options{
		Clock:    h.clk,
		Sink:     h.sink,
		Viewport: h.view,
		Config:   config.DefaultPlayback(),
		Rand:     midRand{},
		Enabled:  true,
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.sched = New(items, opts)
	h.sched.Subscribe(func(e Event) { h.events = append(h.events, e) })
	return h
}

func (h *harness) trace() []string {
	out := make([]string, 0, len(h.events))
	for _, e := range h.events {
		out = append(out, fmt.Sprintf("%s:%d", e.Type, e.Item.Ordinal))
	}
	return out
}

func (h *harness) revealOrder() []int {
	var out []int
	for _, e := range h.events {
		switch e.Type {
		case EventRevealHeader, EventRevealMessage, EventSkip:
			out = append(out, e.Item.Ordinal)
		}
	}
	return out
}

var _ = Describe("Items", func() {
	It("merges headers and messages in document order", func() {
		reg := speaker.NewRegistry()
		items := Items(dialog.Parse(sampleDoc), reg)
		Expect(items).To(HaveLen(5))
		kinds := []Kind{}
		for i, it := range items {
			Expect(it.Ordinal).To(Equal(i))
			kinds = append(kinds, it.Kind)
		}
		Expect(kinds).To(Equal([]Kind{KindHeader, KindMessage, KindMessage, KindHeader, KindMessage}))
		Expect(items[1].Identity.IconSlot).To(Equal(speaker.IconUser))
		Expect(items[2].Identity.ColorSlot).To(Equal(speaker.ColorAssistant))
		Expect(items[4].Identity.ColorSlot).To(Equal(speaker.ColorSpeakerC))
		Expect(items[3].Text).To(Equal("Details"))
		Expect(items[3].MessageIndex).To(Equal(-1))
		Expect(items[4].MessageIndex).To(Equal(2))
		Expect(reg.Len()).To(Equal(3))
	})
})

var _ = Describe("Scheduler", func() {
	var h *harness

	Context("full playback", func() {
		BeforeEach(func() {
			h = newHarness(sampleDoc, nil)
			h.sched.Init()
		})

		It("shows the first item and hides the rest on init", func() {
			Expect(h.sink.ops[:5]).To(Equal([]string{"show:0:none", "hide:1", "hide:2", "hide:3", "hide:4"}))
			Expect(h.sched.Revealed(0)).To(BeTrue())
			Expect(h.sched.Revealed(1)).To(BeFalse())
		})

		It("starts typing the first message without a read delay", func() {
			st := h.sched.Status()
			Expect(st.Phase).To(Equal(PhaseTyping))
			Expect(st.LastVisible).To(Equal(0))
			Expect(st.QueueLength).To(Equal(3))
			Expect(h.sink.ops).To(ContainElement("typing:0:1:"))
		})

		It("reveals the message once the typing time elapsed", func() {
			h.clk.Advance(499 * time.Millisecond)
			Expect(h.sched.Revealed(1)).To(BeFalse())
			h.clk.Advance(time.Millisecond)
			Expect(h.sched.Revealed(1)).To(BeTrue())
			Expect(h.sched.Status().Phase).To(Equal(PhaseRevealing))
			n := len(h.sink.ops)
			Expect(h.sink.ops[n-3:]).To(Equal([]string{"clone:450ms", "remove", "show:1:reveal"}))
		})

		It("plays every item in document order", func() {
			h.clk.RunUntilIdle(100)
			Expect(h.trace()).To(Equal([]string{
				"show-typing:1", "finish-typing:1", "reveal-message:1",
				"show-typing:2", "finish-typing:2", "reveal-message:2",
				"reveal-header:3",
				"show-typing:4", "finish-typing:4", "reveal-message:4",
			}))
			Expect(h.sched.Done()).To(BeTrue())
			Expect(h.sched.Status()).To(Equal(Status{Phase: PhaseIdle, LastVisible: 4, Enabled: true}))
		})

		It("waits for the read delay of the previous message", func() {
			h.clk.Advance(500 * time.Millisecond) // reveal 1
			h.clk.Advance(600 * time.Millisecond) // hold
			Expect(h.sched.Status().Phase).To(Equal(PhaseReadDelay))
			h.clk.Advance(479 * time.Millisecond)
			Expect(h.sched.Status().Phase).To(Equal(PhaseReadDelay))
			h.clk.Advance(time.Millisecond)
			Expect(h.sched.Status().Phase).To(Equal(PhaseTyping))
			Expect(h.sink.ops[len(h.sink.ops)-1]).To(Equal("typing:1:2:small"))
		})

		It("reports the read delay on reveal events", func() {
			h.clk.RunUntilIdle(100)
			var delays []time.Duration
			for _, e := range h.events {
				if e.Type == EventRevealMessage {
					delays = append(delays, e.Delay)
				}
			}
			Expect(delays).To(Equal([]time.Duration{0, 480 * time.Millisecond, 1200 * time.Millisecond}))
		})

		It("ignores stale timers after a reset", func() {
			h.sched.Reset(true)
			h.clk.RunUntilIdle(100)
			reveals := 0
			for _, e := range h.events {
				if e.Type == EventRevealMessage && e.Item.Ordinal == 1 {
					reveals++
				}
			}
			Expect(reveals).To(Equal(1))
		})
	})

	Context("direct text", func() {
		It("skips the typing indicator and reveals within 500ms", func() {
			h = newHarness("<<bob>>\nhello\n<<>>\nplain", nil)
			h.sched.Init()
			Expect(h.sched.Status().Phase).To(Equal(PhaseReadDelay))
			h.clk.RunUntilIdle(10)
			Expect(h.trace()).To(Equal([]string{"reveal-message:1"}))
			Expect(h.events[0].Delay).To(BeNumerically("<=", 500*time.Millisecond))
			Expect(h.events[0].Delay).To(Equal(150 * time.Millisecond))
			Expect(h.sink.ops).To(ContainElement("show:1:fade"))
			for _, op := range h.sink.ops {
				Expect(op).NotTo(HavePrefix("typing:"))
			}
		})
	})

	Context("retry queue", func() {
		BeforeEach(func() {
			h = newHarness(sampleDoc, nil)
			h.view.tops[2] = 1200 // inside lookahead, outside the reveal buffer
			h.sched.Init()
			h.clk.Advance(2680 * time.Millisecond) // typing done at 2580, then the cooldown
		})

		It("parks an off-screen message in the failed queue", func() {
			Expect(h.trace()).To(ContainElement("deferred:2"))
			st := h.sched.Status()
			Expect(st.FailedLength).To(Equal(1))
			Expect(st.QueueLength).To(Equal(2))
			Expect(st.Phase).To(Equal(PhaseIdle))
			Expect(h.sink.ops[len(h.sink.ops)-1]).To(Equal("remove"))
		})

		It("does not overtake the failed message", func() {
			h.clk.Advance(time.Minute)
			Expect(h.revealOrder()).To(Equal([]int{1}))
			Expect(h.sched.Status().Phase).To(Equal(PhaseIdle))
		})

		It("reveals the failed message first after a scroll brings it into view", func() {
			h.clk.Advance(time.Second)
			h.view.tops[2] = 100
			h.sched.OnScroll(ScrollEvent{Y: 300, ViewportHeight: 800, DocumentHeight: 10000})
			Expect(h.revealOrder()).To(Equal([]int{1}))
			h.clk.Advance(100 * time.Millisecond) // debounce
			Expect(h.trace()).To(ContainElement("retry:2"))
			Expect(h.revealOrder()).To(Equal([]int{1, 2}))
			h.clk.RunUntilIdle(100)
			Expect(h.revealOrder()).To(Equal([]int{1, 2, 3, 4}))
		})

		It("retries at once near the bottom of the document", func() {
			h.view.tops[2] = 100
			h.sched.OnScroll(ScrollEvent{Y: 9000, ViewportHeight: 800, DocumentHeight: 10000})
			Expect(h.revealOrder()).To(Equal([]int{1, 2}))
		})

		It("parks the message again when it is still off screen", func() {
			h.sched.OnResize()
			Expect(h.sched.Status().FailedLength).To(Equal(1))
			Expect(h.revealOrder()).To(Equal([]int{1}))
		})
	})

	Context("unknown geometry", func() {
		It("treats a missing viewport as out of view", func() {
			h = newHarness(sampleDoc, func(o *Options) { o.Viewport = nil })
			Expect(h.sched.Init).NotTo(Panic())
			h.clk.RunUntilIdle(100)
			Expect(h.trace()).To(ContainElement("deferred:1"))
			Expect(h.sched.Status().FailedLength).To(Equal(1))
		})

		It("stops the lookahead at an item without a position", func() {
			h = newHarness(sampleDoc, nil)
			h.view.unknown[2] = true
			h.sched.Init()
			Expect(h.sched.Status().QueueLength).To(Equal(0))
			h.clk.RunUntilIdle(100)
			Expect(h.revealOrder()).To(Equal([]int{1}))
			Expect(h.trace()).To(ContainElement("deferred:2"))
		})
	})

	Context("lookahead", func() {
		const six = "<<a>>\n1\n<<b>>\n2\n<<c>>\n3\n<<d>>\n4\n<<e>>\n5\n<<f>>\n6\n"

		It("queues at most the configured number of messages", func() {
			h = newHarness(six, nil)
			h.sched.Init()
			Expect(h.sched.Status().QueueLength).To(Equal(2))
		})

		It("queues only items within the lookahead distance", func() {
			h = newHarness(six, func(o *Options) { o.Config.MaxLookaheadMessages = 10 })
			for i := 0; i < 6; i++ {
				h.view.tops[i] = float64(i) * 400
			}
			h.sched.Init()
			Expect(h.sched.Status().QueueLength).To(Equal(2)) // 1..3 queued, 1 started
		})
	})

	Context("reveal to", func() {
		BeforeEach(func() {
			h = newHarness(sampleDoc, nil)
			h.sched.Init()
		})

		It("shows everything up to the target and resumes after it", func() {
			Expect(h.sched.RevealTo(3)).To(Succeed())
			Expect(h.trace()).To(Equal([]string{"show-typing:1", "skip:1", "skip:2", "skip:3"}))
			Expect(h.sink.ops).To(ContainElement("remove"))
			st := h.sched.Status()
			Expect(st.LastVisible).To(Equal(3))
			Expect(st.Phase).To(Equal(PhaseReadDelay))
			h.clk.RunUntilIdle(100)
			Expect(h.revealOrder()).To(Equal([]int{1, 2, 3, 4}))
		})

		It("rejects unknown ordinals", func() {
			Expect(h.sched.RevealTo(99)).To(MatchError(ErrUnknownItem))
			Expect(h.sched.RevealTo(-1)).To(MatchError(ErrUnknownItem))
		})
	})

	Context("reset", func() {
		It("returns to the initial state after disable and enable", func() {
			h = newHarness(sampleDoc, nil)
			h.sched.Init()
			initial := h.sched.Status()

			h.sched.Reset(false)
			Expect(h.sched.Done()).To(BeTrue())
			Expect(h.sched.Status()).To(Equal(Status{Phase: PhaseIdle, LastVisible: 4, Enabled: false}))
			Expect(h.clk.Pending()).To(Equal(0))

			h.sched.Reset(true)
			Expect(h.sched.Status()).To(Equal(initial))
			for i := 1; i < 5; i++ {
				Expect(h.sched.Revealed(i)).To(BeFalse())
			}
		})

		It("shows everything at once when disabled from the start", func() {
			h = newHarness(sampleDoc, func(o *Options) { o.Enabled = false })
			h.sched.Init()
			Expect(h.sched.Done()).To(BeTrue())
			Expect(h.clk.Pending()).To(Equal(0))
			h.sched.Wake("scroll")
			Expect(h.events).To(BeEmpty())
		})

		It("restarts when toggled through SetEnabled", func() {
			h = newHarness(sampleDoc, func(o *Options) { o.Enabled = false })
			h.sched.Init()
			h.sched.SetEnabled(true)
			Expect(h.sched.Status().Phase).To(Equal(PhaseTyping))
		})
	})

	Context("typing disabled", func() {
		It("reveals messages without an indicator", func() {
			h = newHarness(sampleDoc, func(o *Options) { o.Config.TypingAnimation.Enabled = false })
			h.sched.Init()
			h.clk.RunUntilIdle(100)
			Expect(h.trace()).To(Equal([]string{"reveal-message:1", "reveal-message:2", "reveal-header:3", "reveal-message:4"}))
		})
	})

	Context("observers", func() {
		It("stops delivering after unsubscribe", func() {
			h = newHarness(sampleDoc, nil)
			var n int
			stop := h.sched.Subscribe(func(Event) { n++ })
			h.sched.Init()
			Expect(n).To(Equal(1))
			stop()
			h.clk.RunUntilIdle(100)
			Expect(n).To(Equal(1))
			Expect(h.events).To(HaveLen(10))
		})
	})

	Context("empty stream", func() {
		It("is done immediately", func() {
			h = newHarness("", nil)
			h.sched.Init()
			Expect(h.sched.Done()).To(BeTrue())
			Expect(h.sched.Status().Phase).To(Equal(PhaseIdle))
		})
	})
})
