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
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/awnumar/memguard"
	"github.com/notapipeline/fvault/pkg/types"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

// These are referenced as variables to enable them to be mocked in tests
var (
	randReader   io.Reader = rand.Reader
	argon2IDKey            = argon2.IDKey
	pbkdf2Key              = pbkdf2.Key
	hkdfNew                = hkdf.New
	newAesCipher           = aes.NewCipher
)

// Random returns size bytes read from the secure random source
func Random(size int) ([]byte, error) {
	var b []byte = make([]byte, size)
	if _, err := io.ReadFull(randReader, b); err != nil {
		return nil, fmt.Errorf("unable to read %d random bytes: %w", size, err)
	}
	return b, nil
}

// NewSalt returns a fresh random salt
func NewSalt() ([]byte, error) {
	return Random(types.SaltSize)
}

// NewKey returns a fresh random 256 bit key
func NewKey() ([]byte, error) {
	return Random(types.KeySize)
}

// Wipe overwrites each of the given slices
func Wipe(b ...[]byte) {
	for _, v := range b {
		if v != nil {
			memguard.WipeBytes(v)
		}
	}
}

func gcm(key []byte) (aead cipher.AEAD, err error) {
	if len(key) != types.KeySize {
		return nil, types.ValidationError{
			Field:  "key",
			Reason: types.LengthMismatch(types.KeySize, len(key)),
		}
	}

	var block cipher.Block
	if block, err = newAesCipher(key); err != nil {
		return nil, err
	}
	return cipher.NewGCMWithTagSize(block, types.TagSize)
}

// Seal encrypts plaintext under key with AES-256-GCM and a fresh random
// nonce. The returned ciphertext has the 16 byte tag appended.
func Seal(key, plaintext []byte) (sealed types.Sealed, err error) {
	var (
		aead  cipher.AEAD
		nonce []byte
	)
	if aead, err = gcm(key); err != nil {
		return
	}

	if nonce, err = Random(types.NonceSize); err != nil {
		return
	}

	sealed = types.Sealed{
		Ciphertext: aead.Seal(nil, nonce, plaintext, nil),
		Nonce:      nonce,
	}
	return
}

// Open reverses Seal. Any tag failure is reported as a DecryptionError.
func Open(key []byte, sealed types.Sealed) (plaintext []byte, err error) {
	if err = sealed.Validate("ciphertext"); err != nil {
		return
	}

	var aead cipher.AEAD
	if aead, err = gcm(key); err != nil {
		return
	}

	if plaintext, err = aead.Open(nil, sealed.Nonce, sealed.Ciphertext, nil); err != nil {
		return nil, types.DecryptionError{Reason: types.ReasonTagMismatch}
	}
	return
}
