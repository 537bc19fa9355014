/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package telemetry sends opt-in anonymous usage events and crash reports.
// Nothing leaves the machine unless the user opted in and an endpoint is configured.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"dialogview/internal/config"
	applog "dialogview/internal/log"
	"dialogview/internal/reveal"
	"dialogview/internal/version"
)

// Endpoint env vars. Opt-in itself comes from config.EnvTelemetryOptIn or general.telemetry_opt_in.
const (
	EnvEventsURL = "DLV_TELEMETRY_URL"
	EnvCrashURL  = "DLV_CRASH_UPLOAD_URL"
	EnvTimeoutMs = "DLV_TELEMETRY_TIMEOUT_MS"
	EnvDebug     = "DLV_TELEMETRY_DEBUG"
)

const defaultTimeout = 1500 * time.Millisecond

// Config holds runtime configuration for telemetry and crash uploads.
// Events are dropped when EventsURL is empty, even with OptIn set.
type Config struct {
	OptIn        bool
	EventsURL    string
	CrashURL     string
	Timeout      time.Duration
	DebugLogging bool
}

// FromEnv reads the opt-in flag and endpoints from the environment.
func FromEnv() Config {
	return withEndpoints(Config{OptIn: parseBool(os.Getenv(config.EnvTelemetryOptIn))})
}

// FromAppConfig takes the opt-in flag from the loaded configuration (which already
// carries env overrides) and the endpoints from the environment.
func FromAppConfig(cfg config.AppConfig) Config {
	return withEndpoints(Config{OptIn: cfg.General.TelemetryOptIn})
}

func withEndpoints(cfg Config) Config {
	cfg.EventsURL = strings.TrimSpace(os.Getenv(EnvEventsURL))
	cfg.CrashURL = strings.TrimSpace(os.Getenv(EnvCrashURL))
	cfg.Timeout = defaultTimeout
	cfg.DebugLogging = os.Getenv(EnvDebug) != ""
	if ms, err := strconv.Atoi(strings.TrimSpace(os.Getenv(EnvTimeoutMs))); err == nil && ms > 0 {
		cfg.Timeout = time.Duration(ms) * time.Millisecond
	}
	return cfg
}

func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Client is an async sender with a bounded queue. Send failures are dropped.
type Client struct {
	cfg    Config
	log    *slog.Logger
	cli    *http.Client
	q      chan map[string]any
	once   sync.Once
	closed chan struct{}
	wg     sync.WaitGroup
}

var (
	defaultMu     sync.Mutex
	defaultClient *Client
)

// Default returns the package-level client, creating it from the environment on first use.
func Default() *Client {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultClient == nil {
		defaultClient = New(FromEnv())
	}
	return defaultClient
}

// SetDefault installs c as the package-level client and closes the previous one.
func SetDefault(c *Client) {
	defaultMu.Lock()
	prev := defaultClient
	defaultClient = c
	defaultMu.Unlock()
	if prev != nil && prev != c {
		prev.Close()
	}
}

// New constructs a client and starts its sender goroutine.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := &Client{
		cfg:    cfg,
		log:    applog.WithComponent("telemetry"),
		cli:    &http.Client{Timeout: cfg.Timeout},
		q:      make(chan map[string]any, 64),
		closed: make(chan struct{}),
	}
	c.wg.Add(1)
	go c.loop()
	return c
}

// Enabled reports whether events will be sent.
func (c *Client) Enabled() bool { return c != nil && c.cfg.OptIn && c.cfg.EventsURL != "" }

// Event queues a JSON event. props must not carry document content or paths.
func (c *Client) Event(name string, props map[string]any) {
	if !c.Enabled() || name == "" {
		return
	}
	payload := map[string]any{
		"name":    name,
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
		"version": version.String(),
		"os":      runtime.GOOS,
		"arch":    runtime.GOARCH,
	}
	for k, v := range props {
		if _, reserved := payload[k]; !reserved {
			payload[k] = v
		}
	}
	select {
	case c.q <- payload:
	default:
	}
}

// Event queues name on the default client.
func Event(name string, props map[string]any) { Default().Event(name, props) }

// Flush waits up to 500ms, or until ctx is done, for the queue to drain.
func (c *Client) Flush(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	deadline := time.NewTimer(500 * time.Millisecond)
	defer deadline.Stop()
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()
	for len(c.q) > 0 {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-tick.C:
		}
	}
}

// Close stops the sender goroutine. Queued events that were not sent yet are dropped.
func (c *Client) Close() {
	c.once.Do(func() { close(c.closed) })
	c.wg.Wait()
}

func (c *Client) loop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.closed:
			return
		case item := <-c.q:
			buf, err := json.Marshal(item)
			if err != nil {
				continue
			}
			c.post(c.cfg.EventsURL, "application/json", buf, "event")
		}
	}
}

func (c *Client) post(url, contentType string, body []byte, what string) {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", contentType)
	resp, err := c.cli.Do(req)
	if err != nil {
		if c.cfg.DebugLogging {
			c.log.Debug("telemetry send failed", slog.String("kind", what), slog.Any("err", err))
		}
		return
	}
	_ = resp.Body.Close()
	if c.cfg.DebugLogging {
		c.log.Debug("telemetry sent", slog.String("kind", what), slog.Int("status", resp.StatusCode))
	}
}

// UploadCrash posts a crash report to the crash URL when opted in.
func (c *Client) UploadCrash(report []byte) {
	if c == nil || !c.cfg.OptIn || c.cfg.CrashURL == "" {
		return
	}
	b := append([]byte(nil), report...)
	go c.post(c.cfg.CrashURL, "text/plain; charset=utf-8", b, "crash")
}

// UploadCrash posts report using the default client.
func UploadCrash(report []byte) { Default().UploadCrash(report) }

// PlaybackTally counts scheduler events for one playback session.
type PlaybackTally struct {
	mu     sync.Mutex
	counts map[reveal.EventType]int
	typing time.Duration
	read   time.Duration
}

// Observe subscribes a new tally to s. Call the returned stop func before Report
// when the scheduler is torn down.
func Observe(s *reveal.Scheduler) (*PlaybackTally, func()) {
	t := &PlaybackTally{counts: map[reveal.EventType]int{}}
	stop := s.Subscribe(t.Record)
	return t, stop
}

// Record adds one event.
func (t *PlaybackTally) Record(ev reveal.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[ev.Type]++
	switch ev.Type {
	case reveal.EventShowTyping:
		t.typing += ev.Delay
	case reveal.EventRevealMessage, reveal.EventRevealHeader:
		t.read += ev.Delay
	}
}

// Count returns how many events of type et were recorded.
func (t *PlaybackTally) Count(et reveal.EventType) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[et]
}

// Props returns the tally as event properties.
func (t *PlaybackTally) Props() map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return map[string]any{
		"messages":  t.counts[reveal.EventRevealMessage],
		"headers":   t.counts[reveal.EventRevealHeader],
		"deferred":  t.counts[reveal.EventDeferred],
		"retries":   t.counts[reveal.EventRetry],
		"typing_ms": t.typing.Milliseconds(),
		"read_ms":   t.read.Milliseconds(),
	}
}

// Report sends the tally as a playback_summary event on c.
func (t *PlaybackTally) Report(c *Client) { c.Event("playback_summary", t.Props()) }
