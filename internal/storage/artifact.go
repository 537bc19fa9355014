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
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"dialogview/internal/dialog"
	"dialogview/internal/speaker"
	"dialogview/internal/version"
)

const (
	ArtifactFormat = 1
	BackupsDirName = "backups"
)

// ErrInvalidArtifact is returned when an artifact does not match the artifact schema.
var ErrInvalidArtifact = errors.New("invalid artifact")

//go:embed artifact.schema.json
var artifactSchema string

// ArtifactMessage is a message together with its rendered HTML.
type ArtifactMessage struct {
	dialog.Message
	HTML string `json:"html,omitempty"`
}

// Artifact is the exported, self-contained form of a parsed conversation.
type Artifact struct {
	Format      int                `json:"format"`
	App         string             `json:"app"`
	Source      string             `json:"source"`
	GeneratedAt time.Time          `json:"generatedAt"`
	Sections    []dialog.Section   `json:"sections"`
	Messages    []ArtifactMessage  `json:"messages"`
	Identities  []speaker.Identity `json:"identities"`
}

// BuildArtifact assembles an artifact. html may be nil or hold one entry per message.
func BuildArtifact(source string, c *dialog.Conversation, html []string, ids []speaker.Identity) Artifact {
	a := Artifact{
		Format:      ArtifactFormat,
		App:         version.String(),
		Source:      source,
		GeneratedAt: time.Now().UTC(),
		Sections:    c.Sections,
		Messages:    make([]ArtifactMessage, len(c.Messages)),
		Identities:  append([]speaker.Identity{}, ids...),
	}
	for i, m := range c.Messages {
		a.Messages[i] = ArtifactMessage{Message: m}
		if i < len(html) {
			a.Messages[i].HTML = html[i]
		}
	}
	return a
}

// ArtifactSchema returns the embedded JSON schema of exported artifacts.
func ArtifactSchema() string { return artifactSchema }

// ValidateArtifact checks data against the artifact schema.
func ValidateArtifact(data []byte) error {
	res, err := gojsonschema.Validate(gojsonschema.NewStringLoader(artifactSchema), gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidArtifact, strings.Join(msgs, "; "))
	}
	return nil
}

// ExportArtifact validates a and writes it to path with transactional semantics
// and a timestamped backup of the previous file (if present) in <dir>/backups.
func ExportArtifact(path string, a Artifact) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("export path is required")
	}
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}
	data = append(data, '\n')
	if err := ValidateArtifact(data); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure export dir: %w", err)
	}
	if _, statErr := os.Stat(path); statErr == nil {
		bdir := filepath.Join(dir, BackupsDirName)
		if err := os.MkdirAll(bdir, 0o755); err != nil {
			return fmt.Errorf("ensure backups dir: %w", err)
		}
		stamp := time.Now().Format("20060102-150405")
		bpath := filepath.Join(bdir, fmt.Sprintf("%s.%s.bak", filepath.Base(path), stamp))
		if cerr := copyFile(path, bpath); cerr != nil {
			return fmt.Errorf("backup current artifact: %w", cerr)
		}
	}

	// Write to a temp file in the same directory, then rename over the target.
	temp := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%d-%d", filepath.Base(path), os.Getpid(), rand.Int()))
	if werr := writeFileSync(temp, data); werr != nil {
		return fmt.Errorf("write temp artifact: %w", werr)
	}
	// On Windows, replace by removing destination first if needed
	if _, err := os.Stat(path); err == nil {
		_ = os.Remove(path)
	}
	if rerr := os.Rename(temp, path); rerr != nil {
		_ = os.Remove(temp)
		return fmt.Errorf("replace artifact: %w", rerr)
	}
	return nil
}

// OpenArtifact loads an exported artifact. If the file cannot be read or does
// not validate, the latest backup is tried.
func OpenArtifact(path string) (*Artifact, error) {
	a, err := readArtifact(path)
	if err == nil {
		return a, nil
	}
	ba, berr := openFromLatestBackup(path)
	if berr != nil {
		return nil, fmt.Errorf("open artifact: %w; backup attempt: %v", err, berr)
	}
	return ba, nil
}

func readArtifact(path string) (*Artifact, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := ValidateArtifact(b); err != nil {
		return nil, err
	}
	var a Artifact
	if err := json.Unmarshal(b, &a); err != nil {
		return nil, fmt.Errorf("parse artifact: %w", err)
	}
	return &a, nil
}

// writeFileSync writes data to a file, ensures it is flushed to disk.
func writeFileSync(path string, data []byte) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// copyFile copies a file from src to dst (overwrites dst if exists).
func copyFile(src, dst string) (err error) {
	sf, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sf.Close(); err == nil {
			err = cerr
		}
	}()
	df, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := df.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := io.Copy(df, sf); err != nil {
		return err
	}
	return df.Sync()
}

// openFromLatestBackup tries the newest timestamped backup of path.
func openFromLatestBackup(path string) (*Artifact, error) {
	bdir := filepath.Join(filepath.Dir(path), BackupsDirName)
	ents, err := os.ReadDir(bdir)
	if err != nil {
		return nil, fmt.Errorf("read backups dir: %w", err)
	}
	base := filepath.Base(path)
	var candidates []string
	for _, e := range ents {
		name := e.Name()
		if strings.HasPrefix(name, base+".") && strings.HasSuffix(name, ".bak") {
			candidates = append(candidates, filepath.Join(bdir, name))
		}
	}
	if len(candidates) == 0 {
		return nil, errors.New("no backups found")
	}
	sort.Strings(candidates) // timestamp in name yields lexicographic order
	return readArtifact(candidates[len(candidates)-1])
}
