/*
 *   Copyright 2023 Martin Proffitt <mproffitt@choclab.net>
 *
 *  Licensed under the Apache License, Version 2.0 (the "License");
 *  you may not use this file except in compliance with the License.
 *  You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 *  Unless required by applicable law or agreed to in writing, software
 *  distributed under the License is distributed on an "AS IS" BASIS,
 *  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *  See the License for the specific language governing permissions and
 *  limitations under the License.
 */
package cmd

import (
	"bytes"
	"context"
	"fmt"

	"github.com/notapipeline/fvault/pkg/cache"
	"github.com/notapipeline/fvault/pkg/config"
	"github.com/notapipeline/fvault/pkg/crypto"
	"github.com/notapipeline/fvault/pkg/logging"
	"github.com/notapipeline/fvault/pkg/tools"
	"github.com/notapipeline/fvault/pkg/transport"
	"github.com/notapipeline/fvault/pkg/types"
	"github.com/notapipeline/fvault/pkg/vault"
)

// These are referenced as variables to enable them to be mocked in tests
var (
	newHttpClient func(skipVerify bool) transport.HttpClient = transport.NewHttpClient

	keyCache func() cache.KeyCache = func() cache.KeyCache {
		return cache.Instance()
	}
)

func newVault(c *config.Config) (*vault.Vault, error) {
	base, err := c.BaseURL()
	if err != nil {
		return nil, err
	}

	return vault.New(newHttpClient(c.SkipVerify), base, keyCache(), vault.WithKDF(
		c.KDF.OrDefault(types.DefaultPasswordKDF),
		c.AuthKDF.OrDefault(types.DefaultAuthKDF),
	)), nil
}

// login unlocks the configured account. The password is handed back for
// commands which have to present it a second time, done wipes it and ends
// the session.
func login(ctx context.Context) (v *vault.Vault, password []byte, done func(), err error) {
	var (
		c     *config.Config
		email string
	)

	if c, err = loadClientConfig(); err != nil {
		return
	}
	if v, err = newVault(c); err != nil {
		return
	}
	if email, err = tools.GetEmail(clientCmd.Email, c.Email); err != nil {
		return
	}
	if password, err = tools.GetAccountPassword(email, fmt.Sprintf("Please enter the password for %s.", email)); err != nil {
		return
	}

	if _, err = v.Login(ctx, email, password); err != nil {
		crypto.Wipe(password)
		return nil, nil, nil, err
	}

	done = func() {
		crypto.Wipe(password)
		if err := v.Logout(ctx); err != nil {
			logging.Warn(ctx, "failed to end session", "error", err)
		}
	}
	return
}

// newPassword asks for a password twice unless one is set in the
// environment or secrets store
func newPassword(description string) ([]byte, error) {
	if s := tools.GetSecret(tools.EnvPassword); s != "" {
		return []byte(s), nil
	}
	return confirmPassword(description)
}

func confirmPassword(description string) ([]byte, error) {
	first, err := tools.GetPassword("fvault", description, "Password:")
	if err != nil {
		return nil, err
	}

	second, err := tools.GetPassword("fvault", "Please repeat the password.", "Password:")
	if err != nil {
		crypto.Wipe(first)
		return nil, err
	}
	defer crypto.Wipe(second)

	if !bytes.Equal(first, second) {
		crypto.Wipe(first)
		return nil, fmt.Errorf("passwords do not match")
	}
	return first, nil
}
