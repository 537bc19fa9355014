/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package speaker

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReservedAndCustomIdentities(t *testing.T) {
	r := NewRegistry()
	got := r.RegisterAll([]string{"bob", "user", "carol", "assistant", "bob"})
	want := []Identity{
		{Name: "bob", IconSlot: "bob", ColorSlot: ColorSpeakerC},
		{Name: "user", IconSlot: IconUser, ColorSlot: ColorUser},
		{Name: "carol", IconSlot: "carol", ColorSlot: ColorSpeakerD},
		{Name: "assistant", IconSlot: IconAgent, ColorSlot: ColorAssistant},
		{Name: "bob", IconSlot: "bob", ColorSlot: ColorSpeakerC},
	}
	assert.Equal(t, want, got)
	assert.Equal(t, 4, r.Len())
	assert.True(t, got[1].IsUser())
	assert.False(t, got[3].IsUser())
}

func TestAgentAliases(t *testing.T) {
	r := NewRegistry()
	for _, n := range []string{"agent", "assistant", "test"} {
		id := r.Register(n)
		assert.Equal(t, IconAgent, id.IconSlot, n)
		assert.Equal(t, ColorAssistant, id.ColorSlot, n)
	}
	// reserved names never consume custom slots
	assert.Equal(t, ColorSpeakerC, r.Register("zed").ColorSlot)
}

func TestPoolFallsBackToGeneric(t *testing.T) {
	r := NewRegistry()
	ids := r.RegisterAll([]string{"a1", "a2", "a3", "a4", "a5"})
	assert.Equal(t, []ColorSlot{ColorSpeakerC, ColorSpeakerD, ColorSpeakerE, ColorGeneric, ColorGeneric},
		[]ColorSlot{ids[0].ColorSlot, ids[1].ColorSlot, ids[2].ColorSlot, ids[3].ColorSlot, ids[4].ColorSlot})
}

func TestDirectTextIsNotCounted(t *testing.T) {
	r := NewRegistry()
	dt := r.Register(DirectText)
	assert.Equal(t, Identity{Name: DirectText, IconSlot: IconEmpty, ColorSlot: ColorDirectText}, dt)
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, ColorSpeakerC, r.Register("bob").ColorSlot)

	got, ok := r.Lookup(DirectText)
	require.True(t, ok)
	assert.Equal(t, dt, got)
	assert.Equal(t, []Identity{{Name: "bob", IconSlot: "bob", ColorSlot: ColorSpeakerC}}, r.Identities())
}

func TestResetInvalidatesIdentities(t *testing.T) {
	r := NewRegistry()
	r.RegisterAll([]string{"bob", "carol"})
	r.Reset()
	_, ok := r.Lookup("bob")
	assert.False(t, ok)
	assert.Empty(t, r.Identities())
	assert.Equal(t, ColorSpeakerC, r.Register("carol").ColorSlot)
}

func TestConcurrentRegistrationIsStable(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	res := make([]Identity, 16)
	for i := range res {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res[i] = r.Register("bob")
		}(i)
	}
	wg.Wait()
	for _, id := range res {
		assert.Equal(t, res[0], id)
	}
	assert.Equal(t, 1, r.Len())
}
