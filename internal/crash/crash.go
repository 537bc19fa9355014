/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package crash turns a panic into a crash report, a final index snapshot of the
// open document and a non-zero exit.
package crash

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"time"

	"dialogview/internal/dialog"
	applog "dialogview/internal/log"
	"dialogview/internal/storage"
	"dialogview/internal/telemetry"
	"dialogview/internal/version"
)

// exitFn is swapped in tests.
var exitFn = os.Exit

// Scope describes what was open when a panic happened. Both fields are optional.
type Scope struct {
	Root     string // index root; reports go to <Root>/.dialogview/backups
	Document string // markdown file whose text is snapshotted into the index
}

// Recover captures a panic, logs it with its stack, writes a report file,
// snapshots the document and exits with code 2.
//
// Usage: defer crash.Recover(scope)
func Recover(sc *Scope) {
	r := recover()
	if r == nil {
		return
	}
	l := applog.WithComponent("crash")
	stack := debug.Stack()
	l.Error("panic recovered", slog.Any("panic", r), slog.String("stack", string(stack)))
	reportPath, err := writeReport(sc, r, stack)
	if err != nil {
		l.Error("write crash report failed", slog.Any("err", err))
	}
	if sc != nil && sc.Root != "" && sc.Document != "" {
		if err := snapshotDocument(sc); err != nil {
			l.Error("crash snapshot failed", slog.Any("err", err))
		} else {
			l.Info("crash snapshot written", slog.String("document", sc.Document))
		}
	}
	_, _ = fmt.Fprintf(os.Stderr, "A fatal error occurred. A crash report was saved to: %s\n", reportPath)
	_, _ = fmt.Fprintf(os.Stderr, "Version: %s\nOS/Arch: %s/%s\n", version.String(), runtime.GOOS, runtime.GOARCH)
	exitFn(2)
}

func reportDir(sc *Scope) string {
	if sc == nil || sc.Root == "" {
		return os.TempDir()
	}
	dir := filepath.Join(sc.Root, storage.IndexDirName, storage.BackupsDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return os.TempDir()
	}
	return dir
}

func writeReport(sc *Scope, panicVal any, stack []byte) (string, error) {
	now := time.Now()
	path := filepath.Join(reportDir(sc), fmt.Sprintf("crash-%s.log", now.Format("20060102-150405")))

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "dialogview crash report\n")
	fmt.Fprintf(&buf, "Timestamp: %s\n", now.Format(time.RFC3339))
	fmt.Fprintf(&buf, "Version: %s\n", version.String())
	fmt.Fprintf(&buf, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	if sc != nil {
		fmt.Fprintf(&buf, "IndexRoot: %s\n", sc.Root)
		fmt.Fprintf(&buf, "Document: %s\n", sc.Document)
	}
	fmt.Fprintf(&buf, "\nPanic: %v\n\n", panicVal)
	fmt.Fprintf(&buf, "Stack:\n%s\n", stack)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return path, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			applog.WithComponent("crash").Error("close crash report", slog.Any("err", err), slog.String("path", path))
		}
	}()
	if _, err := f.Write(buf.Bytes()); err != nil {
		return path, err
	}
	_ = f.Sync()

	// Only leaves the machine when telemetry is opted in.
	telemetry.UploadCrash(buf.Bytes())
	return path, nil
}

// snapshotDocument re-indexes the document so its current text lands in the snapshot history.
func snapshotDocument(sc *Scope) error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := storage.IndexFile(ctx, sc.Root, sc.Document, dialog.ParseOptions{})
	return err
}
