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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TypingAnimation controls the typing indicator duration of a message.
// WordsPerMinute <= 0 falls back to a fixed 50ms per word. TypingAppliesTo is
// one of "both", "assistant", "user".
type TypingAnimation struct {
	Enabled            bool    `yaml:"enabled" json:"enabled"`
	WordsPerMinute     float64 `yaml:"words_per_minute" json:"wordsPerMinute"`
	MinTypingTime      int     `yaml:"min_typing_time_ms" json:"minTypingTime"`
	MaxTypingTime      int     `yaml:"max_typing_time_ms" json:"maxTypingTime"`
	VariancePercentage float64 `yaml:"variance_percentage" json:"variancePercentage"`
	TypingAppliesTo    string  `yaml:"typing_applies_to" json:"typingAppliesTo"`
}

// ReadDelay controls the pause spent "reading" the previous message.
type ReadDelay struct {
	Enabled            bool    `yaml:"enabled" json:"enabled"`
	WordsPerMinute     float64 `yaml:"words_per_minute" json:"wordsPerMinute"`
	MinReadTime        int     `yaml:"min_read_time_ms" json:"minReadTime"`
	MaxReadTime        int     `yaml:"max_read_time_ms" json:"maxReadTime"`
	VariancePercentage float64 `yaml:"variance_percentage" json:"variancePercentage"`
}

// Playback groups every knob of the progressive reveal.
type Playback struct {
	TypingAnimation      TypingAnimation `yaml:"typing_animation" json:"typingAnimation"`
	ReadDelay            ReadDelay       `yaml:"read_delay" json:"readDelay"`
	ViewportBuffer       float64         `yaml:"viewport_buffer_px" json:"viewportBuffer"`
	LookaheadPx          float64         `yaml:"lookahead_px" json:"lookaheadPx"`
	MaxLookaheadMessages int             `yaml:"max_lookahead_messages" json:"maxLookaheadMessages"`
	ScrollDebounceMs     int             `yaml:"scroll_debounce_ms" json:"scrollDebounceMs"`
	NearBottomPx         float64         `yaml:"near_bottom_px" json:"nearBottomPx"`
}

type GeneralConfig struct {
	TelemetryOptIn    bool   `yaml:"telemetry_opt_in"`
	ProgressiveReveal bool   `yaml:"progressive_reveal"` // false shows documents fully
	Theme             string `yaml:"theme"`              // chroma style name used for code blocks
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// BackendConfig configures the optional Postgres mirror; an empty DSN disables publishing.
// The DSN is not written to disk; it lives in the OS keyring. A pg_dsn key
// left in an older file is still read.
type BackendConfig struct {
	DSN       string `yaml:"pg_dsn,omitempty"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

// IndexConfig locates the SQLite span index. An empty Dir means <document dir>/.dialogview.
type IndexConfig struct {
	Dir      string `yaml:"dir"`
	Disabled bool   `yaml:"disabled"`
}

// AppConfig is the user-editable configuration persisted to a YAML file in the user scope.
// Environment variables are treated as read-only overrides at runtime.
//
// config_version: bump when the structure changes in a backward-incompatible way.
// Keys missing from the file keep their defaults; unknown keys are ignored.
type AppConfig struct {
	ConfigVersion int           `yaml:"config_version"`
	General       GeneralConfig `yaml:"general"`
	Playback      Playback      `yaml:"playback"`
	Logging       LoggingConfig `yaml:"logging"`
	Index         IndexConfig   `yaml:"index"`
	Server        ServerConfig  `yaml:"server"`
	Backend       BackendConfig `yaml:"backend"`
}

// DefaultPlayback returns the playback defaults.
func DefaultPlayback() Playback {
	return Playback{
		TypingAnimation: TypingAnimation{
			Enabled:            true,
			WordsPerMinute:     300,
			MinTypingTime:      500,
			MaxTypingTime:      3000,
			VariancePercentage: 20,
			TypingAppliesTo:    "both",
		},
		ReadDelay: ReadDelay{
			Enabled:            true,
			WordsPerMinute:     250,
			MinReadTime:        300,
			MaxReadTime:        2500,
			VariancePercentage: 15,
		},
		ViewportBuffer:       200,
		LookaheadPx:          800,
		MaxLookaheadMessages: 3,
		ScrollDebounceMs:     100,
		NearBottomPx:         300,
	}
}

// Defaults returns the application defaults.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		General:       GeneralConfig{TelemetryOptIn: false, ProgressiveReveal: true, Theme: "github"},
		Playback:      DefaultPlayback(),
		Logging:       LoggingConfig{Level: "info", Format: "console", Source: false, File: ""},
		Index:         IndexConfig{},
		Server:        ServerConfig{Addr: "127.0.0.1:8787"},
		Backend:       BackendConfig{DSN: "", TimeoutMs: 15000},
	}
}

// Env var names used as overrides.
const (
	EnvConfigFile        = "DLV_CONFIG"
	EnvTelemetryOptIn    = "DLV_TELEMETRY_OPT_IN"
	EnvProgressiveReveal = "DLV_PROGRESSIVE_REVEAL"
	EnvTheme             = "DLV_THEME"
	EnvServerAddr        = "DLV_SERVER_ADDR"
	EnvPGDSN             = "DLV_PG_DSN"
	EnvBackendTimeoutMs  = "DLV_BACKEND_TIMEOUT_MS"
	EnvTypingEnabled     = "DLV_TYPING_ENABLED"
	EnvTypingWPM         = "DLV_TYPING_WPM"
	EnvReadEnabled       = "DLV_READ_DELAY_ENABLED"
	EnvReadWPM           = "DLV_READ_WPM"
	EnvViewportBuffer    = "DLV_VIEWPORT_BUFFER"
	EnvIndexDir          = "DLV_INDEX_DIR"
	// EnvLogLevel Logging envs
	EnvLogLevel  = "DLV_LOG_LEVEL"
	EnvLogFormat = "DLV_LOG_FORMAT"
	EnvLogSource = "DLV_LOG_SOURCE"
	EnvLogFile   = "DLV_LOG_FILE"
)

// ConfigPath returns the per-user config file path. DLV_CONFIG wins when set.
func ConfigPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv(EnvConfigFile)); p != "" {
		return p, nil
	}
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" { // fallback
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "dialogview")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "dialogview")
	default: // linux and others
		base = filepath.Join(os.Getenv("HOME"), ".config", "dialogview")
	}
	if base == "" {
		return "", errors.New("cannot resolve config directory")
	}
	return filepath.Join(base, "config.yaml"), nil
}

// Load reads the user config file (if present), applies defaults, and merges environment overrides.
func Load() (AppConfig, error) {
	path, err := ConfigPath()
	if err != nil {
		cfg := Defaults()
		applyEnvOverrides(&cfg)
		return cfg, err
	}
	return LoadFile(path)
}

// LoadFile is Load for an explicit path. A missing file is not an error;
// a malformed one is reported but the defaults are still returned.
func LoadFile(path string) (AppConfig, error) {
	cfg := Defaults()
	var loadErr error
	if data, err := os.ReadFile(path); err == nil {
		fileCfg := Defaults()
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			loadErr = fmt.Errorf("parse config %s: %w", path, err)
		} else {
			cfg = fileCfg
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		loadErr = fmt.Errorf("read config %s: %w", path, err)
	}
	if cfg.Backend.DSN == "" && strings.TrimSpace(os.Getenv(EnvPGDSN)) == "" {
		// keyring failures only disable publishing
		cfg.Backend.DSN, _ = StoredDSN()
	}
	applyEnvOverrides(&cfg)
	cfg.Normalize()
	return cfg, loadErr
}

// Save writes the user config YAML and moves a non-empty DSN into the OS keyring.
func Save(cfg AppConfig) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveFile(path, cfg)
}

func SaveFile(path string, cfg AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if cfg.Backend.DSN != "" {
		if err := StoreDSN(cfg.Backend.DSN); err != nil {
			return err
		}
		cfg.Backend.DSN = ""
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// Normalize lowercases enumerations and clamps values into their valid ranges.
func (c *AppConfig) Normalize() {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.File = strings.TrimSpace(c.Logging.File)
	if strings.TrimSpace(c.General.Theme) == "" {
		c.General.Theme = Defaults().General.Theme
	}
	c.Playback.Normalize()
}

// Normalize clamps playback values. Variance is limited to [0,50] percent and
// an inverted min/max pair is swapped.
func (p *Playback) Normalize() {
	d := DefaultPlayback()
	t := &p.TypingAnimation
	t.TypingAppliesTo = strings.ToLower(strings.TrimSpace(t.TypingAppliesTo))
	switch t.TypingAppliesTo {
	case "both", "assistant", "user":
	default:
		t.TypingAppliesTo = d.TypingAnimation.TypingAppliesTo
	}
	t.VariancePercentage = clampPct(t.VariancePercentage)
	t.MinTypingTime, t.MaxTypingTime = orderedNonNeg(t.MinTypingTime, t.MaxTypingTime)

	r := &p.ReadDelay
	r.VariancePercentage = clampPct(r.VariancePercentage)
	r.MinReadTime, r.MaxReadTime = orderedNonNeg(r.MinReadTime, r.MaxReadTime)

	if p.ViewportBuffer < 0 {
		p.ViewportBuffer = 0
	}
	if p.LookaheadPx < 0 {
		p.LookaheadPx = 0
	}
	if p.MaxLookaheadMessages < 1 {
		p.MaxLookaheadMessages = d.MaxLookaheadMessages
	}
	if p.ScrollDebounceMs < 0 {
		p.ScrollDebounceMs = 0
	}
	if p.NearBottomPx < 0 {
		p.NearBottomPx = 0
	}
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 50 {
		return 50
	}
	return v
}

func orderedNonNeg(lo, hi int) (int, int) {
	if lo < 0 {
		lo = 0
	}
	if hi < 0 {
		hi = 0
	}
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo, hi
}

// Min and Max expose the clamp bounds as durations.
func (t TypingAnimation) Min() time.Duration { return time.Duration(t.MinTypingTime) * time.Millisecond }
func (t TypingAnimation) Max() time.Duration { return time.Duration(t.MaxTypingTime) * time.Millisecond }
func (r ReadDelay) Min() time.Duration       { return time.Duration(r.MinReadTime) * time.Millisecond }
func (r ReadDelay) Max() time.Duration       { return time.Duration(r.MaxReadTime) * time.Millisecond }

func (p Playback) ScrollDebounce() time.Duration {
	return time.Duration(p.ScrollDebounceMs) * time.Millisecond
}

func truthy(v string) bool {
	lv := strings.ToLower(v)
	return lv == "1" || lv == "true" || lv == "on" || lv == "yes"
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv(EnvTelemetryOptIn)); v != "" {
		cfg.General.TelemetryOptIn = truthy(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvProgressiveReveal)); v != "" {
		cfg.General.ProgressiveReveal = truthy(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvTheme)); v != "" {
		cfg.General.Theme = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvServerAddr)); v != "" {
		cfg.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPGDSN)); v != "" {
		cfg.Backend.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvBackendTimeoutMs)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Backend.TimeoutMs = n
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvIndexDir)); v != "" {
		cfg.Index.Dir = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvTypingEnabled)); v != "" {
		cfg.Playback.TypingAnimation.Enabled = truthy(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvReadEnabled)); v != "" {
		cfg.Playback.ReadDelay.Enabled = truthy(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvViewportBuffer)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Playback.ViewportBuffer = f
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvTypingWPM)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Playback.TypingAnimation.WordsPerMinute = f
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvReadWPM)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Playback.ReadDelay.WordsPerMinute = f
		}
	}
	// logging overrides
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogSource)); v != "" {
		cfg.Logging.Source = truthy(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFile)); v != "" {
		cfg.Logging.File = v
	}
}

// EnvOverrideFor returns the env var name if the field is overridden by environment variables.
func EnvOverrideFor(key string) (string, bool) {
	names := map[string]string{
		"general.telemetry_opt_in":                   EnvTelemetryOptIn,
		"general.progressive_reveal":                 EnvProgressiveReveal,
		"general.theme":                              EnvTheme,
		"server.addr":                                EnvServerAddr,
		"backend.pg_dsn":                             EnvPGDSN,
		"backend.timeout_ms":                         EnvBackendTimeoutMs,
		"playback.typing_animation.words_per_minute": EnvTypingWPM,
		"playback.read_delay.words_per_minute":       EnvReadWPM,
		"logging.level":                              EnvLogLevel,
		"logging.format":                             EnvLogFormat,
		"logging.source":                             EnvLogSource,
		"logging.file":                               EnvLogFile,
		"index.dir":                                  EnvIndexDir,
		"playback.typing_animation.enabled":          EnvTypingEnabled,
		"playback.read_delay.enabled":                EnvReadEnabled,
		"playback.viewport_buffer_px":                EnvViewportBuffer,
	}
	if env, ok := names[key]; ok && os.Getenv(env) != "" {
		return env, true
	}
	return "", false
}

// EffectiveTimeout returns the backend timeout, falling back to the default when unset.
func (b BackendConfig) EffectiveTimeout() time.Duration {
	if b.TimeoutMs <= 0 {
		return time.Duration(Defaults().Backend.TimeoutMs) * time.Millisecond
	}
	return time.Duration(b.TimeoutMs) * time.Millisecond
}
