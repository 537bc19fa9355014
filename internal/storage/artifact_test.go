/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dialogview/internal/dialog"
	"dialogview/internal/speaker"
)

func sampleArtifact(source string) Artifact {
	c := dialog.Parse(sampleDoc)
	reg := speaker.NewRegistry()
	ids := reg.RegisterAll(c.Speakers())
	return BuildArtifact(source, c, []string{"<p>one</p>"}, ids)
}

func TestExportArtifactWritesValidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "chat.json")
	a := sampleArtifact("chat.md")
	if err := ExportArtifact(path, a); err != nil {
		t.Fatalf("ExportArtifact: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if err := ValidateArtifact(data); err != nil {
		t.Fatalf("artifact does not conform to schema: %v", err)
	}
	var got Artifact
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal artifact: %v", err)
	}
	if got.Format != ArtifactFormat || got.Source != "chat.md" {
		t.Fatalf("unexpected header: %+v", got)
	}
	if len(got.Messages) != 3 || got.Messages[0].HTML != "<p>one</p>" || got.Messages[1].HTML != "" {
		t.Fatalf("unexpected messages: %+v", got.Messages)
	}
	if got.Messages[1].Layout == nil || got.Messages[1].Layout.Position != dialog.Left {
		t.Fatalf("expected layout to survive export, got %+v", got.Messages[1].Layout)
	}
}

func TestExportArtifactCreatesTimestampedBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chat.json")
	if err := ExportArtifact(path, sampleArtifact("first.md")); err != nil {
		t.Fatalf("ExportArtifact 1: %v", err)
	}
	if err := ExportArtifact(path, sampleArtifact("second.md")); err != nil {
		t.Fatalf("ExportArtifact 2: %v", err)
	}
	ents, err := os.ReadDir(filepath.Join(dir, BackupsDirName))
	if err != nil {
		t.Fatalf("read backups dir: %v", err)
	}
	var bakCount int
	for _, e := range ents {
		if strings.HasPrefix(e.Name(), "chat.json.") && strings.HasSuffix(e.Name(), ".bak") {
			bakCount++
		}
	}
	if bakCount == 0 {
		t.Fatalf("expected at least one backup file, found 0")
	}
	a, err := OpenArtifact(path)
	if err != nil || a.Source != "second.md" {
		t.Fatalf("OpenArtifact got %+v err %v", a, err)
	}
}

func TestOpenArtifactFallsBackToBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chat.json")
	if err := ExportArtifact(path, sampleArtifact("first.md")); err != nil {
		t.Fatalf("ExportArtifact 1: %v", err)
	}
	if err := ExportArtifact(path, sampleArtifact("second.md")); err != nil {
		t.Fatalf("ExportArtifact 2: %v", err)
	}
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("corrupt artifact: %v", err)
	}
	a, err := OpenArtifact(path)
	if err != nil {
		t.Fatalf("OpenArtifact: %v", err)
	}
	if a.Source != "first.md" {
		t.Fatalf("expected backup content, got %q", a.Source)
	}
}

func TestValidateArtifactRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"missing sections": `{"format":1,"source":"x","messages":[],"identities":[]}`,
		"empty speaker":    `{"format":1,"source":"x","sections":[{"id":0,"level":0,"text":"Root","anchor":"root","lineStart":0,"lineEnd":0,"parent":-1}],"messages":[{"ordinal":0,"speaker":"","body":"","sectionId":0,"lineNo":0}],"identities":[]}`,
		"bad color slot":   `{"format":1,"source":"x","sections":[{"id":0,"level":0,"text":"Root","anchor":"root","lineStart":0,"lineEnd":0,"parent":-1}],"messages":[],"identities":[{"name":"a","iconSlot":"empty","colorSlot":"purple"}]}`,
	}
	for name, doc := range cases {
		if err := ValidateArtifact([]byte(doc)); !errors.Is(err, ErrInvalidArtifact) {
			t.Fatalf("%s: expected ErrInvalidArtifact, got %v", name, err)
		}
	}
}

func TestExportArtifactRequiresPath(t *testing.T) {
	if err := ExportArtifact(" ", Artifact{}); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
