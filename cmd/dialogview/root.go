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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"dialogview/internal/config"
	"dialogview/internal/crash"
	"dialogview/internal/dialog"
	applog "dialogview/internal/log"
	"dialogview/internal/telemetry"
	"dialogview/internal/version"
)

// app carries what every subcommand needs once the root command has set up.
type app struct {
	cfgFile  string
	logLevel string
	indexDir string

	cfg   config.AppConfig
	log   *slog.Logger
	scope *crash.Scope
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "dialogview",
		Short:         "Parse, index and play back markdown conversations",
		Long:          "dialogview turns markdown transcripts with <<speaker>> markers into sections, messages and span indexes,\nand plays them back progressively in the terminal or a browser.",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.SetVersionTemplate("{{.Version}}\n")

	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "config", "c", "", "config file (default is the per-user config.yaml, or $"+config.EnvConfigFile+")")
	pf.StringVarP(&a.logLevel, "log-level", "l", "", "log level: debug, info, warn, error")
	pf.StringVar(&a.indexDir, "index-dir", "", "directory holding the .dialogview index (default is the document's directory)")

	root.AddCommand(
		newParseCmd(a),
		newSpansCmd(a),
		newPlayCmd(a),
		newServeCmd(a),
		newIndexCmd(a),
		newSearchCmd(a),
		newWhereUsedCmd(a),
		newHistoryCmd(a),
		newExportCmd(a),
		newInspectCmd(a),
		newTranscriptCmd(a),
		newPublishCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	var (
		cfg config.AppConfig
		err error
	)
	if a.cfgFile != "" {
		cfg, err = config.LoadFile(a.cfgFile)
	} else {
		cfg, err = config.Load()
	}
	a.cfg = cfg

	opts := applog.Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.Source,
		File:      cfg.Logging.File,
		Console:   cmd.ErrOrStderr(),
	}
	if a.logLevel != "" {
		opts.Level = a.logLevel
	}
	applog.Init(opts)
	a.log = applog.WithComponent("cli")
	if err != nil {
		a.log.Warn("config not loaded, using defaults", slog.Any("err", err))
	}
	if a.indexDir != "" {
		a.cfg.Index.Dir = a.indexDir
	}
	telemetry.SetDefault(telemetry.New(telemetry.FromAppConfig(a.cfg)))
	a.log.Debug("start", slog.String("cmd", cmd.CommandPath()))
	return nil
}

// indexRoot resolves where the index of doc lives.
func (a *app) indexRoot(doc string) string {
	if a.cfg.Index.Dir != "" {
		return a.cfg.Index.Dir
	}
	if doc == "" {
		return "."
	}
	abs, err := filepath.Abs(doc)
	if err != nil {
		return filepath.Dir(doc)
	}
	return filepath.Dir(abs)
}

// loadDoc reads and parses a document and records it in the crash scope.
func (a *app) loadDoc(path string, coalesce bool) (string, *dialog.Conversation, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", nil, fmt.Errorf("read %s: %w", path, err)
	}
	text := string(data)
	a.scope.Document = abs
	if !a.cfg.Index.Disabled {
		a.scope.Root = a.indexRoot(abs)
	}
	return text, dialog.ParseWith(text, dialog.ParseOptions{CoalesceSameSpeaker: coalesce}), nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}

func run(ctx context.Context, args []string) int {
	a := &app{scope: &crash.Scope{}}
	defer crash.Recover(a.scope)

	root := newRootCmd(a)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	telemetry.Default().Flush(ctx)
	if err == nil {
		return 0
	}
	if a.log != nil {
		a.log.Error("command failed", slog.Any("err", err))
	}
	fmt.Fprintln(root.ErrOrStderr(), "Error:", err)
	if errors.Is(err, errUsage) || strings.HasPrefix(err.Error(), "unknown command") {
		return 2
	}
	return 1
}

var errUsage = errors.New("usage")
