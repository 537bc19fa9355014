/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestManualFiresInDeadlineOrder(t *testing.T) {
	c := NewManual(epoch)
	var got []string
	c.AfterFunc(300*time.Millisecond, func() { got = append(got, "c") })
	c.AfterFunc(100*time.Millisecond, func() { got = append(got, "a") })
	c.AfterFunc(100*time.Millisecond, func() { got = append(got, "b") })

	c.Advance(99 * time.Millisecond)
	assert.Empty(t, got)
	c.Advance(time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, got)
	c.Advance(time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Equal(t, epoch.Add(1100*time.Millisecond), c.Now())
}

func TestManualChainedTimersFireWithinOneAdvance(t *testing.T) {
	c := NewManual(epoch)
	var at []time.Duration
	c.AfterFunc(100*time.Millisecond, func() {
		at = append(at, c.Now().Sub(epoch))
		c.AfterFunc(50*time.Millisecond, func() { at = append(at, c.Now().Sub(epoch)) })
	})
	c.Advance(200 * time.Millisecond)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 150 * time.Millisecond}, at)
	assert.Equal(t, 0, c.Pending())
}

func TestManualStop(t *testing.T) {
	c := NewManual(epoch)
	fired := false
	tm := c.AfterFunc(time.Second, func() { fired = true })
	assert.Equal(t, 1, c.Pending())
	assert.True(t, tm.Stop())
	assert.False(t, tm.Stop())
	c.Advance(2 * time.Second)
	assert.False(t, fired)
	assert.Equal(t, 0, c.Pending())
}

func TestRunUntilIdleAndNextDeadline(t *testing.T) {
	c := NewManual(epoch)
	n := 0
	var tick func()
	tick = func() {
		n++
		if n < 5 {
			c.AfterFunc(10*time.Millisecond, tick)
		}
	}
	c.AfterFunc(10*time.Millisecond, tick)
	d, ok := c.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, 10*time.Millisecond, d)
	assert.Equal(t, 5, c.RunUntilIdle(100))
	assert.Equal(t, 5, n)
	_, ok = c.NextDeadline()
	assert.False(t, ok)
}

func TestRealPostsCallbacks(t *testing.T) {
	posted := make(chan func(), 1)
	r := Real{Post: func(fn func()) { posted <- fn }}
	done := make(chan struct{})
	r.AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case fn := <-posted:
		fn()
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not posted")
	}
	<-done
}
