/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package server serves a parsed conversation to the browser. The page fetches
// the artifact over HTTP and opens a WebSocket playback session; the browser
// acts as the reveal sink and reports item geometry back as the viewport.
package server

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"dialogview/internal/config"
	"dialogview/internal/dialog"
	applog "dialogview/internal/log"
	"dialogview/internal/reveal"
	"dialogview/internal/speaker"
	"dialogview/internal/storage"
	"dialogview/internal/version"
)

//go:embed static
var staticFS embed.FS

// Options configures a Server.
type Options struct {
	Source       string
	Conversation *dialog.Conversation
	// HTML holds the rendered body of each message; it may be nil.
	HTML   []string
	CSS    string
	Config config.AppConfig
	// OnSession, if set, is called with every new session id.
	OnSession func(id string)
}

// Server is the HTTP and WebSocket front end of one document.
type Server struct {
	opts     Options
	view     conversationView
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*session
	srv      *http.Server
}

// ItemView is the browser's description of one reveal item.
type ItemView struct {
	Ordinal      int    `json:"ordinal"`
	Kind         string `json:"kind"`
	MessageIndex int    `json:"messageIndex"`
	SectionID    int    `json:"sectionId"`
	Level        int    `json:"level,omitempty"`
	Text         string `json:"text,omitempty"`
	Speaker      string `json:"speaker,omitempty"`
}

type conversationView struct {
	storage.Artifact
	Items    []ItemView      `json:"items"`
	Playback config.Playback `json:"playback"`
	Enabled  bool            `json:"enabled"`
}

// New prepares a server for one conversation.
func New(opts Options) *Server {
	reg := speaker.NewRegistry()
	items := reveal.Items(opts.Conversation, reg)
	view := conversationView{
		Artifact: storage.BuildArtifact(opts.Source, opts.Conversation, opts.HTML, reg.Identities()),
		Items:    make([]ItemView, len(items)),
		Playback: opts.Config.Playback,
		Enabled:  opts.Config.General.ProgressiveReveal,
	}
	for i, it := range items {
		view.Items[i] = ItemView{
			Ordinal:      it.Ordinal,
			Kind:         it.Kind.String(),
			MessageIndex: it.MessageIndex,
			SectionID:    it.SectionID,
			Level:        it.Level,
			Text:         it.Text,
			Speaker:      it.Speaker,
		}
	}
	return &Server{
		opts:     opts,
		view:     view,
		log:      applog.WithComponent("server"),
		sessions: map[string]*session{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The page is served from the same listener; other origins are refused.
			CheckOrigin: sameOrigin,
		},
	}
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /conversation.json", s.handleConversation)
	mux.HandleFunc("GET /highlight.css", s.handleCSS)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.HandleFunc("GET /ws", s.handlePlayback)

	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		s.log.Error("static assets unavailable", slog.Any("err", err))
	} else {
		mux.Handle("GET /", http.FileServer(http.FS(sub)))
	}
	return mux
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	l := applog.WithOperation(s.log, "start")
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	l.Info("serving", slog.String("addr", addr), slog.String("source", s.opts.Source))

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.closeSessions()
		if err := srv.Shutdown(sctx); err != nil {
			l.Warn("shutdown incomplete", slog.Any("err", err))
			return err
		}
		return nil
	}
}

// Sessions reports the number of open playback sessions.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) closeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		sess.cancel()
	}
}

func (s *Server) handleConversation(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, s.view)
}

func (s *Server) handleCSS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	_, _ = w.Write([]byte(s.opts.CSS))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.Sessions()})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"version": version.String()})
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Warn("write response failed", slog.Any("err", err))
	}
}

func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}
