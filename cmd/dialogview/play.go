/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"dialogview/internal/clock"
	applog "dialogview/internal/log"
	"dialogview/internal/reveal"
	"dialogview/internal/speaker"
	"dialogview/internal/telemetry"
	"dialogview/internal/term"
)

func newPlayCmd(a *app) *cobra.Command {
	var (
		width    int
		instant  bool
		noTyping bool
		noRead   bool
	)
	cmd := &cobra.Command{
		Use:   "play <file.md>",
		Short: "Play a document back in the terminal, one message at a time",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, c, err := a.loadDoc(args[0], false)
			if err != nil {
				return err
			}
			pb := a.cfg.Playback
			if noTyping {
				pb.TypingAnimation.Enabled = false
			}
			if noRead {
				pb.ReadDelay.Enabled = false
			}
			reg := speaker.NewRegistry()
			items := reveal.Items(c, reg)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			loop := reveal.NewLoop(64)
			stopped := make(chan struct{})
			go func() {
				defer close(stopped)
				loop.Run(ctx)
			}()
			defer func() {
				loop.Close()
				<-stopped
			}()

			sched := reveal.New(items, reveal.Options{
				Clock:    clock.Real{Post: loop.Poster()},
				Sink:     term.NewSink(cmd.OutOrStdout(), width, a.cfg.General.Theme),
				Viewport: term.Viewport{},
				Config:   pb,
				Logger:   applog.WithComponent("play"),
				Enabled:  !instant,
			})
			var tally *telemetry.PlaybackTally
			loop.Do(func() {
				tally, _ = telemetry.Observe(sched)
				sched.Init()
			})

			start := time.Now()
			finished := waitPlayback(ctx, loop, sched)
			a.log.Info("playback ended",
				slog.Int("items", len(items)),
				slog.Bool("finished", finished),
				slog.Duration("took", time.Since(start)))
			if tally != nil && finished {
				tally.Report(telemetry.Default())
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&width, "width", "w", 80, "terminal width used for message bubbles")
	cmd.Flags().BoolVar(&instant, "instant", false, "show the whole document at once")
	cmd.Flags().BoolVar(&noTyping, "no-typing", false, "skip typing indicators")
	cmd.Flags().BoolVar(&noRead, "no-read-delay", false, "skip read delays between messages")
	return cmd
}

// waitPlayback polls the scheduler on its loop until every item is visible or ctx ends.
func waitPlayback(ctx context.Context, loop *reveal.Loop, sched *reveal.Scheduler) bool {
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		done := false
		if !loop.Do(func() { done = sched.Done() }) {
			return false
		}
		if done {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-tick.C:
		}
	}
}
