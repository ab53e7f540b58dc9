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
	"crypto/rand"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/notapipeline/fvault/pkg/session"
	"github.com/notapipeline/fvault/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	"sigs.k8s.io/yaml"
)

func TestFileCommands(t *testing.T) {
	teardownSuite := setupSuite(t)
	defer teardownSuite(t)

	var (
		dir  string = t.TempDir()
		path string = filepath.Join(dir, "payload.bin")
		body []byte = make([]byte, 4096)
	)
	_, err := rand.Read(body)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, body, 0600))

	for _, email := range []string{"alice@example.com", "bob@example.com"} {
		_, err := execute(t, "register", "--email", email)
		require.NoError(t, err)
	}

	out, err := execute(t, "upload", "--email", "alice@example.com", path)
	require.NoError(t, err)
	fields := strings.Fields(out)
	require.Len(t, fields, 2)
	assert.Equal(t, "payload.bin", fields[1])
	var id string = fields[0]

	t.Run("ls", func(t *testing.T) {
		out, err := execute(t, "ls", "--email", "alice@example.com")
		require.NoError(t, err)
		assert.Contains(t, out, id)
		assert.Contains(t, out, "payload.bin")
		assert.Contains(t, out, "4096")
	})

	t.Run("info", func(t *testing.T) {
		out, err := execute(t, "info", "--email", "alice@example.com", id)
		require.NoError(t, err)
		assert.Contains(t, out, "payload.bin")
		assert.Contains(t, out, "wrappedKey")
	})

	t.Run("download to file", func(t *testing.T) {
		target := filepath.Join(dir, "downloaded.bin")
		_, err := execute(t, "download", "--email", "alice@example.com", "--format", "raw", "-o", target, id)
		require.NoError(t, err)

		got, err := os.ReadFile(target)
		require.NoError(t, err)
		assert.Equal(t, body, got)

		info, err := os.Stat(target)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	})

	t.Run("download as secret", func(t *testing.T) {
		out, err := execute(t, "download", "--email", "alice@example.com", "--format", "secret", "-n", "apps", "-o", "-", id)
		require.NoError(t, err)

		var secret corev1.Secret
		require.NoError(t, yaml.Unmarshal([]byte(out), &secret))
		assert.Equal(t, "Secret", secret.Kind)
		assert.Equal(t, "payload.bin", secret.Name)
		assert.Equal(t, "apps", secret.Namespace)
		assert.Equal(t, body, secret.Data["payload.bin"])
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := execute(t, "download", "--email", "alice@example.com", "--format", "zip", "-o", "-", id)
		assert.EqualError(t, err, `unknown format "zip"`)
	})

	t.Run("recipient cannot read before transfer", func(t *testing.T) {
		_, err := execute(t, "download", "--email", "bob@example.com", "--format", "raw", "-o", "-", id)
		assert.Error(t, err)
	})

	t.Run("transfer", func(t *testing.T) {
		out, err := execute(t, "transfer", "--email", "alice@example.com", "--to", "bob@example.com,nobody@example.com", id)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 of 2 transfers failed")
		assert.Contains(t, out, "bob@example.com\ttransferred")
		assert.Contains(t, out, "nobody@example.com\tfailed")

		got, err := execute(t, "download", "--email", "bob@example.com", "--format", "raw", "-o", "-", id)
		require.NoError(t, err)
		assert.Equal(t, body, []byte(got))
	})

	t.Run("pubkey", func(t *testing.T) {
		out, err := execute(t, "pubkey", "--email", "bob@example.com", "alice@example.com")
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, 2)
		assert.Len(t, lines[0], types.KeySize*2)
		assert.True(t, strings.HasPrefix(lines[1], "fingerprint "))
	})

	t.Run("rm", func(t *testing.T) {
		_, err := execute(t, "rm", "--email", "bob@example.com", id)
		assert.Error(t, err, "only the owner may delete")

		out, err := execute(t, "rm", "--email", "alice@example.com", id)
		require.NoError(t, err)
		assert.Equal(t, "deleted "+id+"\n", out)

		_, err = execute(t, "info", "--email", "alice@example.com", id)
		assert.Error(t, err)
	})
}

func TestSecretManifest(t *testing.T) {
	tests := []struct {
		name     string
		fileName string
		secret   string
		expected string
		err      bool
	}{
		{name: "file name", fileName: "id_ed25519", expected: "id-ed25519"},
		{name: "spaces and case", fileName: "My Key.PEM", expected: "my-key.pem"},
		{name: "explicit name", fileName: "id_rsa", secret: "deploy-key", expected: "deploy-key"},
		{name: "nothing usable", fileName: "___", err: true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			b, err := secretManifest(test.fileName, test.secret, "", []byte("key material"))
			if test.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			var secret corev1.Secret
			require.NoError(t, yaml.Unmarshal(b, &secret))
			assert.Equal(t, test.expected, secret.Name)
			assert.Equal(t, corev1.SecretTypeOpaque, secret.Type)
			assert.Equal(t, []byte("key material"), secret.Data[test.fileName])
		})
	}
}

func TestReportTransfers(t *testing.T) {
	var out bytes.Buffer
	err := reportTransfers(&out, []session.TransferResult{
		{Recipient: "bob@example.com"},
		{Recipient: "carol@example.com", Err: types.RecipientNotFoundError{Recipient: "carol@example.com"}},
	})
	require.Error(t, err)

	var rnf types.RecipientNotFoundError
	assert.True(t, errors.As(err, &rnf))
	assert.Equal(t, "bob@example.com\ttransferred\ncarol@example.com\tfailed: "+rnf.Error()+"\n", out.String())

	out.Reset()
	assert.NoError(t, reportTransfers(&out, []session.TransferResult{{Recipient: "bob@example.com"}}))
}

func TestDetectContentType(t *testing.T) {
	assert.Equal(t, "application/json", detectContentType("data.json", []byte("{}")))
	assert.Equal(t, "text/plain; charset=utf-8", detectContentType("README", []byte("hello")))
}
