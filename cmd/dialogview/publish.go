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
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"dialogview/internal/backend"
	"dialogview/internal/config"
)

func newPublishCmd(a *app) *cobra.Command {
	var (
		remove bool
		list   bool
	)
	cmd := &cobra.Command{
		Use:   "publish [file.md]...",
		Short: "Mirror documents into Postgres for shared search",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !list && len(args) == 0 {
				return fmt.Errorf("%w: publish needs at least one document", errUsage)
			}
			db, err := a.openMirror(cmd)
			if err != nil {
				return err
			}
			defer db.Close()
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if list {
				paths, err := backend.PublishedPaths(ctx, db)
				if err != nil {
					return err
				}
				for _, p := range paths {
					fmt.Fprintln(out, p)
				}
				return nil
			}
			for _, p := range args {
				if remove {
					ok, err := backend.Unpublish(ctx, db, p)
					if err != nil {
						return err
					}
					if ok {
						fmt.Fprintf(out, "Removed %s\n", p)
					}
					continue
				}
				text, c, err := a.loadDoc(p, false)
				if err != nil {
					return err
				}
				st, err := backend.Publish(ctx, db, a.scope.Document, text, c)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Published %s: %d messages, %d spans\n", a.scope.Document, st.Messages, st.Spans)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&remove, "remove", false, "remove the documents from the mirror")
	cmd.Flags().BoolVar(&list, "list", false, "list published documents")
	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or initialise the configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration including environment overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			shown := a.cfg
			shown.Backend.DSN = config.RedactDSN(shown.Backend.DSN)
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(shown); err != nil {
				return err
			}
			return enc.Close()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default configuration to the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := a.cfgFile
			if path == "" {
				p, err := config.ConfigPath()
				if err != nil {
					return err
				}
				path = p
			}
			if err := config.SaveFile(path, config.Defaults()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	})
	var forget bool
	dsn := &cobra.Command{
		Use:   "dsn [postgres-dsn]",
		Short: "Store the Postgres DSN in the OS keyring, or show the stored one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch {
			case forget:
				if err := config.StoreDSN(""); err != nil {
					return err
				}
				fmt.Fprintln(out, "Removed stored DSN")
			case len(args) == 1:
				if err := config.StoreDSN(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(out, "Stored %s\n", config.RedactDSN(args[0]))
			default:
				v, err := config.StoredDSN()
				if err != nil {
					return err
				}
				if v == "" {
					fmt.Fprintln(out, "no DSN stored")
					return nil
				}
				fmt.Fprintln(out, config.RedactDSN(v))
			}
			return nil
		},
	}
	dsn.Flags().BoolVar(&forget, "clear", false, "remove the stored DSN")
	cmd.AddCommand(dsn)
	cmd.AddCommand(&cobra.Command{
		Use:   "env <key>",
		Short: "Print the environment variable overriding a config key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, ok := config.EnvOverrideFor(args[0])
			if !ok {
				return fmt.Errorf("%w: no environment override for %q", errUsage, args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), name)
			return nil
		},
	})
	return cmd
}
