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
package tools

import (
	"fmt"
	"os"

	"r00t2.io/gokwallet"
	"r00t2.io/gosecret"
)

const (
	// EnvKeyring restricts secret lookups to one keyring, either
	// "kwallet" or "secretservice"
	EnvKeyring = "FV_KEYRING"

	keyringFolder = "Passwords"
	keyringEntry  = "fvault"
)

// A keyring returns every value fvault keeps in a desktop secret store.
//
// Keys are either one of the Env* names, holding the default for that
// setting, or an account email holding that account's password.
type keyring struct {
	name   string
	values func() (map[string]string, error)
}

func (k keyring) enabled() bool {
	selected := os.Getenv(EnvKeyring)
	return selected == "" || selected == k.name
}

// keyrings are tried in order. Referenced as a variable so tests can
// replace the desktop services.
var keyrings = []keyring{
	{name: "kwallet", values: kwalletValues},
	{name: "secretservice", values: secretServiceValues},
}

// keyringSecret returns the first non empty value stored under any of keys.
// Keyrings are tried in turn and each is searched for keys in order.
func keyringSecret(keys ...string) string {
	for _, k := range keyrings {
		if !k.enabled() {
			continue
		}
		values, err := k.values()
		if err != nil {
			continue
		}
		for _, key := range keys {
			if v := values[key]; v != "" {
				return v
			}
		}
	}
	return ""
}

// kwalletValues reads the fvault map in the Passwords folder of every open
// wallet. The first wallet to hold a key wins.
func kwalletValues() (map[string]string, error) {
	var (
		err error
		r   *gokwallet.RecurseOpts = gokwallet.DefaultRecurseOpts
		wm  *gokwallet.WalletManager
	)

	r.AllWalletItems = true
	if wm, err = gokwallet.NewWalletManager(r, keyringEntry); err != nil {
		return nil, fmt.Errorf("kwallet unavailable: %w", err)
	}

	var values map[string]string = make(map[string]string)
	for _, w := range wm.Wallets {
		f, ok := w.Folders[keyringFolder]
		if !ok {
			continue
		}
		m, ok := f.Maps[keyringEntry]
		if !ok {
			continue
		}
		merge(values, m.Value)
	}
	return values, nil
}

// secretServiceValues reads the attributes of every unlocked item stored at
// /Passwords/fvault
func secretServiceValues() (map[string]string, error) {
	var (
		err     error
		service *gosecret.Service
		items   []*gosecret.Item
	)

	if service, err = gosecret.NewService(); err != nil {
		return nil, fmt.Errorf("secret service unavailable: %w", err)
	}
	defer service.Close()

	service.Legacy = true
	if items, _, err = service.SearchItems(map[string]string{
		"Path": "/" + keyringFolder + "/" + keyringEntry,
	}); err != nil {
		return nil, err
	}

	var values map[string]string = make(map[string]string)
	for _, item := range items {
		attributes, err := item.Attributes()
		if err != nil {
			continue
		}
		merge(values, attributes)
	}
	return values, nil
}

// merge copies src into dst without replacing keys dst already holds
func merge(dst, src map[string]string) {
	for k, v := range src {
		if _, ok := dst[k]; !ok && v != "" {
			dst[k] = v
		}
	}
}
