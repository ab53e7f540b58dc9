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
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"io"

	"github.com/notapipeline/fvault/pkg/types"
	"golang.org/x/crypto/curve25519"
)

// GenerateKeyPair creates an X25519 key pair.
//
// When seed is non-empty the private key is expanded from it with HKDF, so
// the same seed always yields the same pair.
func GenerateKeyPair(seed []byte) (privateKey, publicKey []byte, err error) {
	if len(seed) == 0 {
		if privateKey, err = NewKey(); err != nil {
			return
		}
	} else {
		privateKey = make([]byte, curve25519.ScalarSize)
		reader := hkdfNew(sha256.New, seed, nil, []byte(types.ContextIdentitySeed))
		if _, err = io.ReadFull(reader, privateKey); err != nil {
			return nil, nil, err
		}
	}

	if publicKey, err = PublicKeyOf(privateKey); err != nil {
		Wipe(privateKey)
		return nil, nil, err
	}
	return
}

// PublicKeyOf returns the public half of an X25519 private key
func PublicKeyOf(privateKey []byte) ([]byte, error) {
	if len(privateKey) != curve25519.ScalarSize {
		return nil, types.ValidationError{
			Field:  "private key",
			Reason: types.LengthMismatch(curve25519.ScalarSize, len(privateKey)),
		}
	}
	return curve25519.X25519(privateKey, curve25519.Basepoint)
}

// VerifyKeyPair reports whether publicKey belongs to privateKey
func VerifyKeyPair(privateKey, publicKey []byte) bool {
	derived, err := PublicKeyOf(privateKey)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(derived, publicKey) == 1
}

// privateKeyWrappingKey stretches the hex form of the master key with
// PBKDF2-SHA256.
func privateKeyWrappingKey(masterKey, salt []byte) []byte {
	var password []byte = []byte(hex.EncodeToString(masterKey))
	defer Wipe(password)
	return pbkdf2Key(password, salt, types.PrivateKeyIterations, types.KeySize, sha256.New)
}

// ProtectPrivateKey seals privateKey under a key stretched from masterKey
// with a fresh random salt.
func ProtectPrivateKey(privateKey, masterKey []byte) (protected types.ProtectedKey, err error) {
	if len(masterKey) != types.KeySize {
		err = types.ValidationError{Field: "master key", Reason: types.LengthMismatch(types.KeySize, len(masterKey))}
		return
	}
	if len(privateKey) != curve25519.ScalarSize {
		err = types.ValidationError{Field: "private key", Reason: types.LengthMismatch(curve25519.ScalarSize, len(privateKey))}
		return
	}

	var salt []byte
	if salt, err = NewSalt(); err != nil {
		return
	}

	var key []byte = privateKeyWrappingKey(masterKey, salt)
	defer Wipe(key)

	if protected.Sealed, err = Seal(key, privateKey); err != nil {
		return
	}
	protected.Salt = salt
	return
}

// RevealPrivateKey reverses ProtectPrivateKey
func RevealPrivateKey(protected types.ProtectedKey, masterKey []byte) (privateKey []byte, err error) {
	if err = protected.Validate("private key"); err != nil {
		return
	}
	if len(masterKey) != types.KeySize {
		err = types.ValidationError{Field: "master key", Reason: types.LengthMismatch(types.KeySize, len(masterKey))}
		return
	}

	var key []byte = privateKeyWrappingKey(masterKey, protected.Salt)
	defer Wipe(key)

	if privateKey, err = Open(key, protected.Sealed); err != nil {
		var de types.DecryptionError
		if errors.As(err, &de) {
			de.What = "private key"
			return nil, de.As(types.ReasonKeyMismatch)
		}
		return nil, err
	}
	return
}
