/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package timing computes typing and read-delay durations from message word counts.
package timing

import (
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"dialogview/internal/config"
)

// MsPerWordFallback is the per-word rate used when no words-per-minute is configured.
const MsPerWordFallback = 50

// DirectTextCap bounds the delay before a direct-text item is shown.
const DirectTextCap = 500 * time.Millisecond

// Rand is the source of the variance jitter. *rand.Rand satisfies it.
type Rand interface {
	Float64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// WordCount splits on runs of whitespace.
func WordCount(body string) int {
	return len(strings.Fields(body))
}

// TypingTime returns how long the typing indicator is shown before body appears.
// When typing applies only to the other side, the minimum is used.
func TypingTime(body string, isUser bool, cfg config.TypingAnimation, rnd Rand) time.Duration {
	switch cfg.TypingAppliesTo {
	case "assistant":
		if isUser {
			return cfg.Min()
		}
	case "user":
		if !isUser {
			return cfg.Min()
		}
	}
	return scaled(WordCount(body), cfg.WordsPerMinute, cfg.VariancePercentage, cfg.Min(), cfg.Max(), rnd)
}

// ReadDelay returns the pause spent reading prev before the next item starts.
// It is zero when there is no previous message or the delay is disabled.
func ReadDelay(prev *string, cfg config.ReadDelay, rnd Rand) time.Duration {
	if prev == nil || !cfg.Enabled {
		return 0
	}
	return scaled(WordCount(*prev), cfg.WordsPerMinute, cfg.VariancePercentage, cfg.Min(), cfg.Max(), rnd)
}

// DirectTextDelay halves a read delay and caps it at DirectTextCap.
func DirectTextDelay(readDelay time.Duration) time.Duration {
	return min(readDelay/2, DirectTextCap)
}

func scaled(words int, wpm, variancePct float64, lo, hi time.Duration, rnd Rand) time.Duration {
	var base float64
	if wpm <= 0 || math.IsNaN(wpm) {
		base = float64(words) * MsPerWordFallback
	} else {
		base = float64(words) / wpm * 60_000
	}
	if rnd == nil {
		rnd = globalRand{}
	}
	v := variancePct / 100
	ms := base * (1 + (rnd.Float64()*2-1)*v)
	d := time.Duration(math.Round(ms)) * time.Millisecond
	if d < lo {
		d = lo
	}
	if d > hi {
		d = hi
	}
	return d
}

// Size is the typing indicator size bucket.
type Size string

const (
	Small  Size = "small"
	Medium Size = "medium"
	Large  Size = "large"
)

// MessageSize buckets a body by word count: <20 small, <50 medium, else large.
func MessageSize(body string) Size {
	switch w := WordCount(body); {
	case w < 20:
		return Small
	case w < 50:
		return Medium
	default:
		return Large
	}
}
