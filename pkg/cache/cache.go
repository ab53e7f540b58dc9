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
package cache

import (
	"encoding/hex"

	"github.com/awnumar/memguard"
)

// Keys is the decrypted key material held for an unlocked identity.
//
// Values returned from a KeyCache are copies owned by the caller, who should
// Destroy them once finished.
type Keys struct {
	MasterKey  []byte
	PrivateKey []byte
}

// Destroy wipes both keys
func (k *Keys) Destroy() {
	if k == nil {
		return
	}
	memguard.WipeBytes(k.MasterKey)
	memguard.WipeBytes(k.PrivateKey)
}

// KeyCache is a session scoped store of unlocked keys.
//
// The cache is purely an optimisation. Absence of an entry must always be
// recoverable by deriving the keys again from the password, so callers never
// treat it as the only copy.
type KeyCache interface {
	// Get returns a copy of the keys held for identity or a
	// types.KeyNotFoundError.
	Get(identity string) (*Keys, error)

	// Put stores copies of the keys. The caller's slices are left untouched.
	Put(identity string, masterKey, privateKey []byte) error

	// Clear removes and destroys any keys held for identity.
	Clear(identity string)
}

// IdentityKey returns the cache key for an authentication subkey.
//
// Entries are never keyed by email address or password.
func IdentityKey(authKey []byte) string {
	return hex.EncodeToString(authKey)
}
