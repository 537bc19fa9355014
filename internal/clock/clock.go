/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package clock provides the timer capability used by the reveal scheduler.
// The real clock hands fired callbacks to a poster (normally an event loop) so
// they never run concurrently with other scheduler work; the manual clock is
// advanced explicitly by tests.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Timer is a scheduled callback.
type Timer interface {
	// Stop prevents the callback from running. It reports whether it was still pending.
	Stop() bool
}

// Clock creates timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// Poster runs fn on the owner's goroutine.
type Poster func(fn func())

// Real is a wall clock. Fired callbacks are passed to Post; a nil Post runs
// them on the timer goroutine.
type Real struct {
	Post Poster
}

func (r Real) Now() time.Time { return time.Now() }

func (r Real) AfterFunc(d time.Duration, fn func()) Timer {
	if r.Post == nil {
		return time.AfterFunc(d, fn)
	}
	post := r.Post
	return time.AfterFunc(d, func() { post(fn) })
}

// Manual is a deterministic clock for tests. Timers fire only from Advance,
// in deadline order, and timers scheduled by a firing callback fire in the
// same Advance call when they fall due.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	c       *Manual
	at      time.Time
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// NewManual returns a manual clock starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (c *Manual) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d < 0 {
		d = 0
	}
	c.seq++
	t := &manualTimer{c: c, at: c.now.Add(d), seq: c.seq, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward by d, firing every timer that falls due.
func (c *Manual) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	for {
		t := c.nextDue(target)
		if t == nil {
			break
		}
		t.fn()
	}
	c.mu.Lock()
	c.now = target
	c.mu.Unlock()
}

// RunUntilIdle jumps from deadline to deadline until no timer is pending or
// limit jumps were made. It returns the number of jumps.
func (c *Manual) RunUntilIdle(limit int) int {
	n := 0
	for n < limit {
		c.mu.Lock()
		c.compact()
		if len(c.timers) == 0 {
			c.mu.Unlock()
			break
		}
		c.sortTimers()
		at := c.timers[0].at
		c.mu.Unlock()
		c.Advance(at.Sub(c.Now()))
		n++
	}
	return n
}

func (c *Manual) nextDue(target time.Time) *manualTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.compact()
	if len(c.timers) == 0 {
		return nil
	}
	c.sortTimers()
	t := c.timers[0]
	if t.at.After(target) {
		return nil
	}
	c.timers = c.timers[1:]
	t.fired = true
	if t.at.After(c.now) {
		c.now = t.at
	}
	return t
}

// Pending returns the number of timers that have neither fired nor been stopped.
func (c *Manual) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.compact()
	return len(c.timers)
}

// NextDeadline returns the time until the earliest pending timer.
func (c *Manual) NextDeadline() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.compact()
	if len(c.timers) == 0 {
		return 0, false
	}
	c.sortTimers()
	return c.timers[0].at.Sub(c.now), true
}

func (c *Manual) compact() {
	live := c.timers[:0]
	for _, t := range c.timers {
		if !t.stopped {
			live = append(live, t)
		}
	}
	c.timers = live
}

func (c *Manual) sortTimers() {
	sort.SliceStable(c.timers, func(i, j int) bool {
		if !c.timers[i].at.Equal(c.timers[j].at) {
			return c.timers[i].at.Before(c.timers[j].at)
		}
		return c.timers[i].seq < c.timers[j].seq
	})
}
