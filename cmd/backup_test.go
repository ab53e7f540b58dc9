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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/kylelemons/godebug/pretty"
	"github.com/notapipeline/fvault/pkg/tools"
	"github.com/notapipeline/fvault/pkg/types"
	"github.com/notapipeline/fvault/pkg/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupCommands(t *testing.T) {
	teardownSuite := setupSuite(t)
	defer teardownSuite(t)

	_, err := execute(t, "register", "--email", "alice@example.com")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "alice.asc")
	_, err = execute(t, "backup", "export", "--email", "alice@example.com", "-o", path)
	require.NoError(t, err)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), "-----BEGIN "+backupBlockType+"-----"))
	assert.NotContains(t, string(b), samplePassword)

	t.Run("verify", func(t *testing.T) {
		out, err := execute(t, "backup", "verify", path)
		require.NoError(t, err)
		assert.Contains(t, out, "backup of alice@example.com is valid")
	})

	t.Run("verify with the wrong password", func(t *testing.T) {
		t.Setenv(tools.EnvPassword, "not-the-Password#1")
		_, err := execute(t, "backup", "verify", path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot be opened")
	})

	t.Run("verify a missing file", func(t *testing.T) {
		_, err := execute(t, "backup", "verify", filepath.Join(t.TempDir(), "missing.asc"))
		assert.Error(t, err)
	})
}

func TestBackupEncoding(t *testing.T) {
	backup := vault.Backup{
		Email:     "alice@example.com",
		PublicKey: bytes.Repeat([]byte{1}, types.KeySize),
		Challenge: types.LoginChallenge{
			Salt:     bytes.Repeat([]byte{2}, types.SaltSize),
			AuthSalt: bytes.Repeat([]byte{3}, types.SaltSize),
			KDF:      types.DefaultPasswordKDF,
			AuthKDF:  types.DefaultAuthKDF,
		},
		Credentials: types.CredentialEnvelope{
			EncryptedMasterKey:      bytes.Repeat([]byte{4}, types.KeySize+16),
			EncryptedMasterKeyNonce: bytes.Repeat([]byte{5}, 12),
			EncSalt:                 bytes.Repeat([]byte{6}, types.SaltSize),
		},
	}

	var buf bytes.Buffer
	require.NoError(t, encodeBackup(&buf, backup))

	decoded, err := decodeBackup(&buf)
	require.NoError(t, err)
	if diff := pretty.Compare(backup, decoded); diff != "" {
		t.Errorf("decoded backup differs: (-want +got)\n%s", diff)
	}
}

func TestDecodeBackupErrors(t *testing.T) {
	var other bytes.Buffer
	w, err := armor.Encode(&other, "PGP MESSAGE", nil)
	require.NoError(t, err)
	_, err = w.Write([]byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	var garbage bytes.Buffer
	w, err = armor.Encode(&garbage, backupBlockType, nil)
	require.NoError(t, err)
	_, err = w.Write([]byte(`not json`))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "not armoured", input: "hello", expected: "not an armoured backup"},
		{name: "wrong block", input: other.String(), expected: `unexpected armour block "PGP MESSAGE"`},
		{name: "not json", input: garbage.String(), expected: "invalid backup"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := decodeBackup(strings.NewReader(test.input))
			require.Error(t, err)
			assert.Contains(t, err.Error(), test.expected)
		})
	}
}
