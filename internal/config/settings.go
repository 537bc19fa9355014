/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed playback.schema.json
var playbackSchema string

// ErrInvalidSettings is returned when browser supplied settings fail schema validation.
var ErrInvalidSettings = errors.New("invalid playback settings")

// ParsePlaybackJSON validates a JSON settings document and applies it on top of base.
// Keys not present keep the value from base. A falsy wordsPerMinute (false, null, 0)
// selects the fixed per-word rate.
func ParsePlaybackJSON(data []byte, base Playback) (Playback, error) {
	res, err := gojsonschema.Validate(gojsonschema.NewStringLoader(playbackSchema), gojsonschema.NewBytesLoader(data))
	if err != nil {
		return base, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return base, fmt.Errorf("%w: %s", ErrInvalidSettings, strings.Join(msgs, "; "))
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return base, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	for _, k := range []string{"typingAnimation", "readDelay"} {
		if sub, ok := raw[k].(map[string]any); ok {
			if v, present := sub["wordsPerMinute"]; present {
				if _, isNum := v.(float64); !isNum {
					sub["wordsPerMinute"] = 0
				}
			}
		}
	}
	clean, err := json.Marshal(raw)
	if err != nil {
		return base, err
	}
	out := base
	if err := json.Unmarshal(clean, &out); err != nil {
		return base, fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	out.Normalize()
	return out, nil
}

// PlaybackSchema returns the JSON schema used for settings validation.
func PlaybackSchema() string { return playbackSchema }
