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
package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/notapipeline/fvault/pkg/types"
)

// DeriveKey stretches password with argon2id using the given parameters.
func DeriveKey(password, salt []byte, params types.KDFParams) ([]byte, error) {
	if len(password) == 0 {
		return nil, types.KdfError{Reason: "password is empty"}
	}
	if len(salt) == 0 {
		return nil, types.KdfError{Reason: "salt is empty"}
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	var digest []byte = argon2IDKey(password, salt,
		params.Iterations, params.Memory, params.Parallelism, params.KeyLength)
	if len(digest) != int(params.KeyLength) {
		return nil, types.KdfError{Reason: "argon2id returned a short digest"}
	}
	return digest, nil
}

// DeriveSubkey expands the password digest into a 32 byte key bound to a
// single purpose.
func DeriveSubkey(digest, salt []byte, context string) (key []byte, err error) {
	if len(digest) == 0 {
		return nil, types.KdfError{Reason: "digest is empty"}
	}
	if len(salt) == 0 {
		return nil, types.KdfError{Reason: fmt.Sprintf("%s salt is empty", context)}
	}

	key = make([]byte, types.KeySize)
	if _, err = io.ReadFull(hkdfNew(sha256.New, digest, salt, []byte(context)), key); err != nil {
		return nil, types.KdfError{Reason: fmt.Sprintf("unable to expand %s key: %v", context, err)}
	}
	return
}

// DeriveSubkeys returns the authentication and encryption subkeys for a
// password digest.
func DeriveSubkeys(digest, authSalt, encSalt []byte) (authKey, encKey []byte, err error) {
	if authKey, err = DeriveSubkey(digest, authSalt, types.ContextAuthentication); err != nil {
		return
	}
	if encKey, err = DeriveSubkey(digest, encSalt, types.ContextEncryption); err != nil {
		Wipe(authKey)
		return nil, nil, err
	}
	return
}

// AuthHash hashes the authentication subkey into the value sent to the
// server at login, so that the subkey itself never leaves the client.
func AuthHash(authKey, authSalt []byte, params types.KDFParams) ([]byte, error) {
	return DeriveKey(authKey, authSalt, params)
}

// AuthVerifier is the value a backend keeps for an authentication hash.
func AuthVerifier(authHash []byte) []byte {
	var sum [sha256.Size]byte = sha256.Sum256(authHash)
	return sum[:]
}
