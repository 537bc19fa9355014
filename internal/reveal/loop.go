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
	"sync"

	"dialogview/internal/clock"
)

// Loop serialises work onto one goroutine. Timer callbacks from a
// clock.Real{Post: loop.Poster()} and external inputs (scroll, settings) all
// run through it, so the Scheduler never sees concurrent calls.
type Loop struct {
	ch     chan func()
	done   chan struct{}
	closer sync.Once
}

// NewLoop creates a loop with a buffered inbox of size buf.
func NewLoop(buf int) *Loop {
	if buf < 1 {
		buf = 64
	}
	return &Loop{ch: make(chan func(), buf), done: make(chan struct{})}
}

// Run executes posted functions until ctx is cancelled or Close is called.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.Close()
			return
		case <-l.done:
			return
		case fn := <-l.ch:
			fn()
		}
	}
}

// Post queues fn. It reports false once the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.ch <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Poster adapts Post to clock.Poster. Callbacks posted after the loop
// stopped are dropped.
func (l *Loop) Poster() clock.Poster {
	return func(fn func()) { l.Post(fn) }
}

// Do runs fn on the loop and waits for it to finish.
func (l *Loop) Do(fn func()) bool {
	finished := make(chan struct{})
	if !l.Post(func() { defer close(finished); fn() }) {
		return false
	}
	select {
	case <-finished:
		return true
	case <-l.done:
		return false
	}
}

// Close stops the loop. Pending functions are dropped.
func (l *Loop) Close() {
	l.closer.Do(func() { close(l.done) })
}

// Done is closed when the loop stops.
func (l *Loop) Done() <-chan struct{} { return l.done }
