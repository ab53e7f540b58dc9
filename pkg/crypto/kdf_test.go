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
	"errors"
	"testing"

	"github.com/notapipeline/fvault/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKDF types.KDFParams = types.KDFParams{
	Type:        types.KDFTypeArgon2id,
	Iterations:  1,
	Memory:      64,
	Parallelism: 1,
	KeyLength:   32,
}

func TestDeriveKey(t *testing.T) {
	tests := []struct {
		name     string
		password []byte
		salt     []byte
		params   types.KDFParams
		expected string
	}{
		{
			name:     "empty password",
			password: []byte{},
			salt:     []byte("0123456789abcdef"),
			params:   testKDF,
			expected: "key derivation failed: password is empty",
		},
		{
			name:     "empty salt",
			password: []byte("Sample-Password#12!"),
			params:   testKDF,
			expected: "key derivation failed: salt is empty",
		},
		{
			name:     "argon2i is refused",
			password: []byte("Sample-Password#12!"),
			salt:     []byte("0123456789abcdef"),
			params: types.KDFParams{
				Type:        types.KDFTypeArgon2i,
				Iterations:  1,
				Memory:      64,
				Parallelism: 1,
				KeyLength:   32,
			},
			expected: `key derivation failed: unsupported kdf mode "argon2i"`,
		},
		{
			name:     "insufficient memory",
			password: []byte("Sample-Password#12!"),
			salt:     []byte("0123456789abcdef"),
			params: types.KDFParams{
				Type:        types.KDFTypeArgon2id,
				Iterations:  1,
				Memory:      8,
				Parallelism: 4,
				KeyLength:   32,
			},
			expected: "key derivation failed: memory must be at least 32 KiB",
		},
		{
			name:     "valid",
			password: []byte("Sample-Password#12!"),
			salt:     []byte("0123456789abcdef"),
			params:   testKDF,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			digest, err := DeriveKey(test.password, test.salt, test.params)
			if test.expected != "" {
				require.Error(t, err)
				assert.Equal(t, test.expected, err.Error())

				var kdfErr types.KdfError
				assert.True(t, errors.As(err, &kdfErr))
				return
			}
			require.NoError(t, err)
			assert.Len(t, digest, 32)

			again, err := DeriveKey(test.password, test.salt, test.params)
			require.NoError(t, err)
			assert.Equal(t, digest, again)
		})
	}
}

func TestDeriveKeyReturnsErrorOnShortDigest(t *testing.T) {
	restore := CryptoMock{
		Argon2ID: func(password, salt []byte, time, memory uint32, threads uint8, keyLen uint32) []byte {
			return make([]byte, 4)
		},
	}.Apply()
	defer restore()

	_, err := DeriveKey([]byte("password"), []byte("salt"), testKDF)
	assert.EqualError(t, err, "key derivation failed: argon2id returned a short digest")
}

func TestDeriveSubkeysAreSeparated(t *testing.T) {
	digest, err := DeriveKey([]byte("Sample-Password#12!"), []byte("0123456789abcdef"), testKDF)
	require.NoError(t, err)

	var salt []byte = []byte("fedcba9876543210")

	// Same salt for both to prove the context string alone separates them
	authKey, encKey, err := DeriveSubkeys(digest, salt, salt)
	require.NoError(t, err)
	assert.Len(t, authKey, types.KeySize)
	assert.Len(t, encKey, types.KeySize)
	assert.NotEqual(t, authKey, encKey)

	other, err := DeriveSubkey(digest, []byte("another salt...."), types.ContextEncryption)
	require.NoError(t, err)
	assert.NotEqual(t, encKey, other)

	_, err = DeriveSubkey(nil, salt, types.ContextEncryption)
	assert.EqualError(t, err, "key derivation failed: digest is empty")

	_, err = DeriveSubkey(digest, nil, types.ContextAuthentication)
	assert.EqualError(t, err, "key derivation failed: authentication salt is empty")
}

func TestAuthHashNeverEqualsAuthKey(t *testing.T) {
	digest, err := DeriveKey([]byte("Sample-Password#12!"), []byte("0123456789abcdef"), testKDF)
	require.NoError(t, err)

	authSalt := []byte("authsalt........")
	authKey, err := DeriveSubkey(digest, authSalt, types.ContextAuthentication)
	require.NoError(t, err)

	hash, err := AuthHash(authKey, authSalt, testKDF)
	require.NoError(t, err)
	assert.Len(t, hash, 32)
	assert.NotEqual(t, authKey, hash)
	assert.NotEqual(t, digest, hash)
}
