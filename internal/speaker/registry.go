/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package speaker assigns stable visual identities (icon slot and color slot)
// to conversation speakers by order of first appearance.
package speaker

import "sync"

// Reserved icon slots.
const (
	IconUser  = "User_A"
	IconAgent = "Agent_A"
	IconEmpty = "empty"
)

// ColorSlot names the accent color class of a speaker.
type ColorSlot string

const (
	ColorUser       ColorSlot = "user"
	ColorAssistant  ColorSlot = "assistant"
	ColorSpeakerC   ColorSlot = "speakerC"
	ColorSpeakerD   ColorSlot = "speakerD"
	ColorSpeakerE   ColorSlot = "speakerE"
	ColorGeneric    ColorSlot = "generic"
	ColorDirectText ColorSlot = "direct-text"
)

// DirectText is the reserved name of marker-less narration.
const DirectText = "direct-text"

var customPool = []ColorSlot{ColorSpeakerC, ColorSpeakerD, ColorSpeakerE}

// Identity is the visual identity of one speaker.
type Identity struct {
	Name      string    `json:"name"`
	IconSlot  string    `json:"iconSlot"`
	ColorSlot ColorSlot `json:"colorSlot"`
}

// IsUser reports whether the identity renders as the local user.
func (i Identity) IsUser() bool { return i.ColorSlot == ColorUser }

// Registry maps speaker names to identities for one playback session.
// It is safe for concurrent use.
type Registry struct {
	mu     sync.Mutex
	byName map[string]Identity
	order  []string // counted speakers, first appearance first
	nextC  int
}

func NewRegistry() *Registry {
	return &Registry{byName: map[string]Identity{}}
}

// Register returns the identity of name, creating it on first sight.
// Registering the same name again returns the existing entry.
func (r *Registry) Register(name string) Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byName[name]; ok {
		return id
	}
	id := Identity{Name: name}
	switch name {
	case "user":
		id.IconSlot, id.ColorSlot = IconUser, ColorUser
	case "agent", "assistant", "test":
		id.IconSlot, id.ColorSlot = IconAgent, ColorAssistant
	case DirectText:
		id.IconSlot, id.ColorSlot = IconEmpty, ColorDirectText
		r.byName[name] = id
		return id
	default:
		id.IconSlot = name
		id.ColorSlot = ColorGeneric
		if r.nextC < len(customPool) {
			id.ColorSlot = customPool[r.nextC]
			r.nextC++
		}
	}
	r.byName[name] = id
	r.order = append(r.order, name)
	return id
}

// RegisterAll registers names in order and returns their identities.
func (r *Registry) RegisterAll(names []string) []Identity {
	out := make([]Identity, 0, len(names))
	for _, n := range names {
		out = append(out, r.Register(n))
	}
	return out
}

// Lookup returns the identity of an already registered name.
func (r *Registry) Lookup(name string) (Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byName[name]
	return id, ok
}

// Identities returns the counted speakers in order of first appearance.
// DirectText is never part of the ordering.
func (r *Registry) Identities() []Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Identity, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.byName[n])
	}
	return out
}

// Len is the number of counted speakers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Reset forgets every mapping and the appearance order.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName = map[string]Identity{}
	r.order = nil
	r.nextC = 0
}
