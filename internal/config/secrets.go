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
	"net/url"

	"github.com/zalando/go-keyring"
)

// Service/keys for the OS keyring.
const (
	keyringService = "dialogview"
	keyringPGDSN   = "pg_dsn"
)

// secretStore abstracts the keyring so tests can stub it.
var secretStore SecretStore = osKeyring{}

// SecretStore keeps credentials outside the config file.
type SecretStore interface {
	Get(service, key string) (string, error)
	Set(service, key, value string) error
	Delete(service, key string) error
}

// osKeyring implements SecretStore using the OS keyring via github.com/zalando/go-keyring.
type osKeyring struct{}

func (osKeyring) Get(service, key string) (string, error) { return keyring.Get(service, key) }
func (osKeyring) Set(service, key, value string) error    { return keyring.Set(service, key, value) }
func (osKeyring) Delete(service, key string) error        { return keyring.Delete(service, key) }

// StoredDSN returns the Postgres DSN kept in the keyring, or "" when none is stored.
func StoredDSN() (string, error) {
	v, err := secretStore.Get(keyringService, keyringPGDSN)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("keyring get %s: %w", keyringPGDSN, err)
	}
	return v, nil
}

// StoreDSN saves dsn in the keyring. An empty dsn removes the entry.
func StoreDSN(dsn string) error {
	if dsn == "" {
		if err := secretStore.Delete(keyringService, keyringPGDSN); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("keyring delete %s: %w", keyringPGDSN, err)
		}
		return nil
	}
	if err := secretStore.Set(keyringService, keyringPGDSN, dsn); err != nil {
		return fmt.Errorf("keyring set %s: %w", keyringPGDSN, err)
	}
	return nil
}

// RedactDSN hides the password of a URL-style DSN. Key/value DSNs are
// replaced entirely since their password position is not fixed.
func RedactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return "<redacted>"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
