/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"dialogview/internal/clock"
	"dialogview/internal/config"
	"dialogview/internal/dialog"
	applog "dialogview/internal/log"
	"dialogview/internal/reveal"
	"dialogview/internal/speaker"
	"dialogview/internal/timing"
)

const (
	writeWait  = 10 * time.Second
	outboxSize = 256
)

// Client message types.
const (
	MsgHello      = "hello"
	MsgRects      = "rects"
	MsgScroll     = "scroll"
	MsgVisibility = "visibility"
	MsgResize     = "resize"
	MsgRevealTo   = "reveal_to"
	MsgSettings   = "settings"
	MsgEnabled    = "enabled"
	MsgReset      = "reset"
	MsgStatus     = "status"
)

// Server message types.
const (
	OutSession      = "session"
	OutShow         = "show"
	OutHide         = "hide"
	OutTyping       = "typing"
	OutTypingRemove = "typing_remove"
	OutTypingClone  = "typing_clone"
	OutEvent        = "event"
	OutStatus       = "status"
	OutError        = "error"
)

// ClientMessage is sent by the browser. Tops maps item ordinals to their top
// edge relative to the viewport; it replaces the known geometry when present.
type ClientMessage struct {
	Type           string          `json:"type"`
	ViewportHeight float64         `json:"viewportHeight,omitempty"`
	DocumentHeight float64         `json:"documentHeight,omitempty"`
	Y              float64         `json:"y,omitempty"`
	Tops           map[int]float64 `json:"tops,omitempty"`
	Ordinal        int             `json:"ordinal,omitempty"`
	Visible        bool            `json:"visible,omitempty"`
	Enabled        *bool           `json:"enabled,omitempty"`
	Settings       json.RawMessage `json:"settings,omitempty"`
}

// ServerMessage is sent to the browser. After is the ordinal the typing
// indicator follows, or -1 when nothing is visible yet.
type ServerMessage struct {
	Type       string            `json:"type"`
	Session    string            `json:"session,omitempty"`
	Ordinal    int               `json:"ordinal"`
	After      *int              `json:"after,omitempty"`
	Anim       reveal.AnimKind   `json:"anim,omitempty"`
	DurationMs int64             `json:"durationMs,omitempty"`
	Identity   *speaker.Identity `json:"identity,omitempty"`
	Size       timing.Size       `json:"size,omitempty"`
	Layout     *dialog.Layout    `json:"layout,omitempty"`
	Event      reveal.EventType  `json:"event,omitempty"`
	Status     *reveal.Status    `json:"status,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// session is one browser connection. All scheduler access happens on loop;
// sched stays nil until the page says hello.
type session struct {
	id     string
	srv    *Server
	log    *slog.Logger
	loop   *reveal.Loop
	sched  *reveal.Scheduler
	view   *browserViewport
	out    chan ServerMessage
	ctx    context.Context
	cancel context.CancelFunc
}

func (s *Server) handlePlayback(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", slog.Any("err", err))
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sess := s.newSession(ctx, cancel)
	l := sess.log
	l.Info("session opened", slog.String("remote", r.RemoteAddr))

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess.id)
		s.mu.Unlock()
		l.Info("session closed")
	}()
	if s.opts.OnSession != nil {
		s.opts.OnSession(sess.id)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sess.loop.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		defer ws.Close()
		defer cancel()
		sess.writePump(ws)
	}()

	sess.send(ServerMessage{Type: OutSession, Session: sess.id})

	for {
		var msg ClientMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && ctx.Err() == nil {
				l.Warn("websocket read failed", slog.Any("err", err))
			}
			break
		}
		if !sess.loop.Post(func() { sess.handle(msg) }) {
			break
		}
	}
	cancel()
	wg.Wait()
}

func (s *Server) newSession(ctx context.Context, cancel context.CancelFunc) *session {
	id := uuid.NewString()
	return &session{
		id:     id,
		srv:    s,
		log:    applog.WithSession(s.log, id),
		loop:   reveal.NewLoop(outboxSize),
		view:   &browserViewport{tops: map[int]float64{}},
		out:    make(chan ServerMessage, outboxSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// boot creates the scheduler from the hello message and starts playback.
func (s *session) boot(msg ClientMessage) {
	cfg := s.srv.opts.Config.Playback
	if len(msg.Settings) > 0 {
		parsed, err := config.ParsePlaybackJSON(msg.Settings, cfg)
		if err != nil {
			s.log.Warn("settings rejected", slog.Any("err", err))
			s.sendError(err.Error())
		} else {
			cfg = parsed
		}
	}
	enabled := s.srv.opts.Config.General.ProgressiveReveal
	if msg.Enabled != nil {
		enabled = *msg.Enabled
	}
	loop := s.loop
	items := reveal.Items(s.srv.opts.Conversation, speaker.NewRegistry())
	s.sched = reveal.New(items, reveal.Options{
		Clock:    clock.Real{Post: loop.Poster()},
		Sink:     &browserSink{sess: s},
		Viewport: s.view,
		Config:   cfg,
		Logger:   applog.WithSession(applog.WithComponent("reveal"), s.id),
		Enabled:  enabled,
	})
	s.sched.Subscribe(func(ev reveal.Event) {
		s.send(ServerMessage{Type: OutEvent, Event: ev.Type, Ordinal: ev.Item.Ordinal, DurationMs: ev.Delay.Milliseconds()})
	})
	s.sched.Init()
}

// handle applies one client message. It runs on the session loop.
func (s *session) handle(msg ClientMessage) {
	if msg.Tops != nil {
		s.view.setTops(msg.Tops)
	}
	if msg.ViewportHeight > 0 {
		s.view.height = msg.ViewportHeight
	}
	if msg.Type == MsgHello {
		if s.sched == nil {
			s.boot(msg)
		}
		return
	}
	if s.sched == nil {
		s.sendError("hello expected before " + msg.Type)
		return
	}
	switch msg.Type {
	case MsgRects:
		s.sched.Wake("rects")
	case MsgScroll:
		s.sched.OnScroll(reveal.ScrollEvent{Y: msg.Y, ViewportHeight: msg.ViewportHeight, DocumentHeight: msg.DocumentHeight})
	case MsgVisibility:
		s.sched.OnVisibilityChange(msg.Ordinal, msg.Visible)
	case MsgResize:
		s.sched.OnResize()
	case MsgRevealTo:
		if err := s.sched.RevealTo(msg.Ordinal); err != nil {
			s.sendError(err.Error())
		}
	case MsgSettings:
		s.applySettings(msg.Settings)
	case MsgEnabled:
		if msg.Enabled == nil {
			s.sendError("enabled flag missing")
			return
		}
		s.sched.SetEnabled(*msg.Enabled)
	case MsgReset:
		s.sched.Reset(s.sched.Status().Enabled)
	case MsgStatus:
		st := s.sched.Status()
		s.send(ServerMessage{Type: OutStatus, Status: &st})
	default:
		s.sendError("unknown message type " + msg.Type)
	}
}

func (s *session) applySettings(raw json.RawMessage) {
	cfg, err := config.ParsePlaybackJSON(raw, s.sched.Config())
	if err != nil {
		s.log.Warn("settings rejected", slog.Any("err", err))
		s.sendError(err.Error())
		return
	}
	s.sched.SetConfig(cfg)
}

func (s *session) send(m ServerMessage) {
	select {
	case s.out <- m:
	case <-s.ctx.Done():
	}
}

func (s *session) sendError(msg string) {
	s.send(ServerMessage{Type: OutError, Error: msg})
}

func (s *session) writePump(ws *websocket.Conn) {
	for {
		select {
		case <-s.ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case m := <-s.out:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(m); err != nil {
				s.log.Warn("websocket write failed", slog.Any("err", err))
				return
			}
		}
	}
}

// browserSink forwards visual mutations to the page.
type browserSink struct {
	sess *session
}

func (b *browserSink) Show(it reveal.Item, anim reveal.Animation) {
	b.sess.send(ServerMessage{Type: OutShow, Ordinal: it.Ordinal, Anim: anim.Kind, DurationMs: anim.Duration.Milliseconds()})
}

func (b *browserSink) Hide(it reveal.Item) {
	b.sess.send(ServerMessage{Type: OutHide, Ordinal: it.Ordinal})
}

func (b *browserSink) InsertTypingIndicatorAfter(after *reveal.Item, ind reveal.Indicator) {
	at := -1
	if after != nil {
		at = after.Ordinal
	}
	id := ind.Identity
	b.sess.send(ServerMessage{
		Type:     OutTyping,
		Ordinal:  ind.Target.Ordinal,
		After:    &at,
		Identity: &id,
		Size:     ind.Size,
		Layout:   ind.Layout,
	})
}

func (b *browserSink) RemoveTypingIndicator() {
	b.sess.send(ServerMessage{Type: OutTypingRemove})
}

func (b *browserSink) CloneTypingIndicatorForFadeOut(d time.Duration) {
	b.sess.send(ServerMessage{Type: OutTypingClone, DurationMs: d.Milliseconds()})
}

// browserViewport holds the geometry last reported by the page.
type browserViewport struct {
	tops   map[int]float64
	height float64
}

func (v *browserViewport) setTops(tops map[int]float64) {
	v.tops = make(map[int]float64, len(tops))
	for k, top := range tops {
		v.tops[k] = top
	}
}

func (v *browserViewport) ItemTop(it reveal.Item) (float64, bool) {
	top, ok := v.tops[it.Ordinal]
	return top, ok
}

func (v *browserViewport) InnerHeight() float64 { return v.height }
