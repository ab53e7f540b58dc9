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
	"crypto/cipher"
	"hash"
	"io"
)

// CryptoMock replaces the primitives used by this package. Nil fields are
// left untouched.
type CryptoMock struct {
	RandReader   io.Reader
	PbkdfKey     func(password []byte, salt []byte, iter int, keyLen int, hashFunc func() hash.Hash) []byte
	Argon2ID     func(password, salt []byte, time, memory uint32, threads uint8, keyLen uint32) []byte
	HkdfNew      func(hash func() hash.Hash, secret, salt, info []byte) io.Reader
	NewAesCipher func(key []byte) (cipher.Block, error)
}

// Apply installs the mock and returns a function restoring the originals
func (m CryptoMock) Apply() (restore func()) {
	var (
		orr = randReader
		opk = pbkdf2Key
		oai = argon2IDKey
		ohk = hkdfNew
		oac = newAesCipher
	)

	if m.RandReader != nil {
		randReader = m.RandReader
	}
	if m.PbkdfKey != nil {
		pbkdf2Key = m.PbkdfKey
	}
	if m.Argon2ID != nil {
		argon2IDKey = m.Argon2ID
	}
	if m.HkdfNew != nil {
		hkdfNew = m.HkdfNew
	}
	if m.NewAesCipher != nil {
		newAesCipher = m.NewAesCipher
	}

	return func() {
		randReader = orr
		pbkdf2Key = opk
		argon2IDKey = oai
		hkdfNew = ohk
		newAesCipher = oac
	}
}
