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
	"context"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"dialogview/internal/clock"
	"dialogview/internal/config"
	"dialogview/internal/dialog"
	"dialogview/internal/speaker"
)

var _ = Describe("Loop", func() {
	It("runs posted work in order on one goroutine", func() {
		l := NewLoop(8)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go l.Run(ctx)

		var got []int
		for i := 0; i < 5; i++ {
			i := i
			Expect(l.Post(func() { got = append(got, i) })).To(BeTrue())
		}
		Expect(l.Do(func() {})).To(BeTrue())
		Expect(got).To(Equal([]int{0, 1, 2, 3, 4}))
	})

	It("refuses work once closed", func() {
		l := NewLoop(1)
		ctx, cancel := context.WithCancel(context.Background())
		go l.Run(ctx)
		cancel()
		Eventually(l.Done()).Should(BeClosed())
		Expect(l.Post(func() {})).To(BeFalse())
		Expect(l.Do(func() {})).To(BeFalse())
	})

	It("adapts Post to a clock poster", func() {
		l := NewLoop(4)
		ctx, cancel := context.WithCancel(context.Background())
		go l.Run(ctx)

		var post clock.Poster = l.Poster()
		ran := make(chan struct{})
		post(func() { close(ran) })
		Eventually(ran).Should(BeClosed())

		cancel()
		Eventually(l.Done()).Should(BeClosed())
		Expect(func() { post(func() {}) }).NotTo(Panic())
	})

	It("drives a scheduler with the real clock", func() {
		l := NewLoop(16)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go l.Run(ctx)

		cfg := config.DefaultPlayback()
		cfg.TypingAnimation.MinTypingTime, cfg.TypingAnimation.MaxTypingTime = 5, 5
		cfg.ReadDelay.Enabled = false
		items := Items(dialog.Parse("<<a>>\nx\n<<b>>\ny\n"), speaker.NewRegistry())
		var revealed atomic.Int32
		var s *Scheduler
		l.Do(func() {
			s = New(items, Options{
				Clock:    clock.Real{Post: l.Poster()},
				Viewport: newFakeViewport(),
				Config:   cfg,
				Enabled:  true,
			})
			s.Subscribe(func(e Event) {
				if e.Type == EventRevealMessage {
					revealed.Add(1)
				}
			})
			s.Init()
		})
		Eventually(revealed.Load, 5*time.Second, 10*time.Millisecond).Should(BeEquivalentTo(1))
		done := false
		Eventually(func() bool {
			l.Do(func() { done = s.Done() })
			return done
		}, 5*time.Second, 10*time.Millisecond).Should(BeTrue())
	})
})
