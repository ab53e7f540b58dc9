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
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/notapipeline/fvault/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSuite(t *testing.T) func(t *testing.T) {
	t.Log("Setting up config suite")
	tempDir := t.TempDir()
	ConfigPath = func(m ConfigMode) string {
		if m == ConfigModeServer {
			return filepath.Join(tempDir, "server.yaml")
		}
		return filepath.Join(tempDir, "client.yaml")
	}
	err := os.WriteFile(ConfigPath(ConfigModeServer), []byte(`
server:
  whitelist:
    - 127.0.0.0/24
  cert: cert.pem
  key: key.pem
  port: 8080
  maxupload: 1048576
`), 0644)
	require.NoError(t, err)

	err = os.WriteFile(ConfigPath(ConfigModeClient), []byte(`
address: vault.example.com
port: 8443
email: alice@example.com
kdf:
  type: 1
  iterations: 3
  memory: 65536
  parallelism: 2
  keylength: 32
`), 0644)
	require.NoError(t, err)

	return func(t *testing.T) {
		ConfigPath = getConfigPath
	}
}

func TestConfig_LoadServer(t *testing.T) {
	teardownSuite := setupSuite(t)
	defer teardownSuite(t)

	c := New()
	require.NoError(t, c.Load(ConfigModeServer))

	assert.Equal(t, []string{"127.0.0.0/24"}, c.Server.Whitelist)
	assert.Equal(t, "cert.pem", c.Server.Cert)
	assert.Equal(t, "key.pem", c.Server.Key)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, int64(1048576), c.Server.MaxUpload)
	assert.True(t, c.IsSecure())
}

func TestConfig_LoadClient(t *testing.T) {
	teardownSuite := setupSuite(t)
	defer teardownSuite(t)

	c := New()
	require.NoError(t, c.Load(ConfigModeClient))
	assert.Equal(t, "vault.example.com", c.Address)
	assert.Equal(t, 8443, c.Port)
	assert.Equal(t, "alice@example.com", c.Email)
	assert.Equal(t, types.KDFParams{
		Type:        types.KDFTypeArgon2id,
		Iterations:  3,
		Memory:      65536,
		Parallelism: 2,
		KeyLength:   32,
	}, c.KDF)
	assert.True(t, c.AuthKDF.IsZero())
}

func TestConfig_EnvironmentOverrides(t *testing.T) {
	teardownSuite := setupSuite(t)
	defer teardownSuite(t)

	t.Setenv("FV_EMAIL", "env@example.com")
	t.Setenv("FV_KDF_ITERATIONS", "9")
	t.Setenv("FV_AUTHKDF_MEMORY", "1024")
	t.Setenv("FV_WHITELIST", "10.0.0.0/8,192.168.0.0/16")

	c := New()
	require.NoError(t, c.Load(ConfigModeClient))
	assert.Equal(t, "env@example.com", c.Email)
	assert.Equal(t, uint32(9), c.KDF.Iterations)
	assert.Equal(t, uint32(65536), c.KDF.Memory)
	assert.Equal(t, uint32(1024), c.AuthKDF.Memory)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.0.0/16"}, c.Server.Whitelist)
}

func TestConfig_MissingFile(t *testing.T) {
	ConfigPath = func(m ConfigMode) string {
		return filepath.Join(t.TempDir(), "missing.yaml")
	}
	defer func() { ConfigPath = getConfigPath }()

	c := New()
	assert.NoError(t, c.Load(ConfigModeClient))
	assert.Equal(t, "", c.Address)
}

func TestConfig_InvalidYaml(t *testing.T) {
	teardownSuite := setupSuite(t)
	defer teardownSuite(t)

	require.NoError(t, os.WriteFile(ConfigPath(ConfigModeClient), []byte("port: [nope"), 0600))
	assert.Error(t, New().Load(ConfigModeClient))
}

func TestConfig_IsSecure(t *testing.T) {
	c := &Config{}
	assert.False(t, c.IsSecure())

	c.Server.Cert = "cert.pem"
	assert.False(t, c.IsSecure())

	c.Server.Key = "key.pem"
	assert.True(t, c.IsSecure())
}

func TestConfig_Merge(t *testing.T) {
	c := &Config{Address: "a", Port: 1, Email: "x@example.com"}
	c.MergeClientConfig(types.ClientCmd{Server: "b", Insecure: true})
	assert.Equal(t, "b", c.Address)
	assert.Equal(t, 1, c.Port)
	assert.Equal(t, "x@example.com", c.Email)
	assert.True(t, c.Insecure)

	c.MergeServerConfig(types.ServeCmd{Port: 9000, Database: "/tmp/x.db", Whitelist: []string{"10.0.0.1"}})
	assert.Equal(t, 9000, c.Server.Port)
	assert.Equal(t, "/tmp/x.db", c.DatabasePath())
	assert.Equal(t, []string{"10.0.0.1"}, c.Server.Whitelist)
}

func TestConfig_BaseURL(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected string
		err      bool
	}{
		{"bare host", Config{Address: "vault.example.com"}, "https://vault.example.com/api/v1", false},
		{"bare host with port", Config{Address: "vault.example.com", Port: 8443}, "https://vault.example.com:8443/api/v1", false},
		{"insecure", Config{Address: "localhost", Port: 6278, Insecure: true}, "http://localhost:6278/api/v1", false},
		{"explicit scheme and port", Config{Address: "http://127.0.0.1:80/", Port: 1}, "http://127.0.0.1:80/api/v1", false},
		{"empty", Config{}, "", true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			u, err := test.config.BaseURL()
			if test.err {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, test.expected, u)
		})
	}
}

func TestConfig_Save(t *testing.T) {
	teardownSuite := setupSuite(t)
	defer teardownSuite(t)

	c := &Config{}
	require.NoError(t, c.Save(ConfigModeServer))
	assert.Equal(t, []string{"127.0.0.0/24"}, c.Server.Whitelist)

	info, err := os.Stat(ConfigPath(ConfigModeServer))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded := New()
	require.NoError(t, loaded.Load(ConfigModeServer))
	assert.Equal(t, c.Server.Whitelist, loaded.Server.Whitelist)
}
