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
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v2"

	"github.com/notapipeline/fvault/pkg/types"
)

// These functions are referenced as variables to enable them to
// be mocked in tests
var (
	ConfigPath func(m ConfigMode) string = getConfigPath
)

type Config struct {
	Server types.ServeCmd `yaml:"server"`

	Address    string `yaml:"address" env:"FV_ADDRESS"`
	Port       int    `yaml:"port" env:"FV_PORT"`
	Email      string `yaml:"email" env:"FV_EMAIL"`
	SkipVerify bool   `yaml:"skipverify" env:"FV_SKIPVERIFY"`
	Insecure   bool   `yaml:"insecure" env:"FV_INSECURE"`

	// KDF and AuthKDF are only used when registering a new account. Existing
	// accounts always derive with the parameters stored by the server.
	KDF     types.KDFParams `yaml:"kdf" envPrefix:"FV_KDF_"`
	AuthKDF types.KDFParams `yaml:"authkdf" envPrefix:"FV_AUTHKDF_"`
}

type ConfigMode int

const (
	ConfigModeDefault ConfigMode = iota
	ConfigModeClient
	ConfigModeServer
)

func New() *Config {
	return &Config{}
}

// Load the config file from user local config directory
//
// The config file will be loaded from ~/.config/fvault/client.yaml or
// server.yaml if it exists and then the environment will be checked for
// overrides.
//
// Users are expected to call one of `MergeServerConfig` or `MergeClientConfig`
// to override the config with command line options.
func (c *Config) Load(m ConfigMode) (err error) {
	if err = c.loadYaml(m); err != nil {
		return
	}
	if err = c.loadEnv(); err != nil {
		return
	}

	return
}

func (c *Config) loadYaml(m ConfigMode) (err error) {
	var (
		cp       string = ConfigPath(m)
		yamlFile []byte
	)

	if _, err = os.Stat(cp); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if yamlFile, err = os.ReadFile(cp); err != nil {
		return err
	}

	return yaml.Unmarshal(yamlFile, c)
}

func (c *Config) loadEnv() (err error) {
	return env.Parse(c)
}

func (c *Config) MergeClientConfig(cmd types.ClientCmd) {
	if cmd.Server != "" {
		c.Address = cmd.Server
	}
	if cmd.Port != 0 {
		c.Port = cmd.Port
	}
	if cmd.Email != "" {
		c.Email = cmd.Email
	}
	if cmd.SkipVerify {
		c.SkipVerify = cmd.SkipVerify
	}
	if cmd.Insecure {
		c.Insecure = cmd.Insecure
	}
}

func (c *Config) MergeServerConfig(cmd types.ServeCmd) {
	if len(cmd.Whitelist) > 0 {
		c.Server.Whitelist = cmd.Whitelist
	}
	if cmd.Cert != "" {
		c.Server.Cert = cmd.Cert
	}
	if cmd.Key != "" {
		c.Server.Key = cmd.Key
	}
	if cmd.Port != 0 {
		c.Server.Port = cmd.Port
	}
	if cmd.Database != "" {
		c.Server.Database = cmd.Database
	}
	if cmd.MaxUpload != 0 {
		c.Server.MaxUpload = cmd.MaxUpload
	}
	if cmd.Debug {
		c.Server.Debug = cmd.Debug
	}
	if cmd.Quiet {
		c.Server.Quiet = cmd.Quiet
	}
	if cmd.SkipVerify {
		c.Server.SkipVerify = cmd.SkipVerify
	}
}

func (c *Config) IsSecure() (secure bool) {
	if c.Server.Cert != "" && c.Server.Key != "" {
		secure = true
	}
	return
}

// BaseURL returns the API root of the configured server
func (c *Config) BaseURL() (string, error) {
	if c.Address == "" {
		return "", fmt.Errorf("no server address configured")
	}

	var address string = c.Address
	if !strings.Contains(address, "://") {
		scheme := "https"
		if c.Insecure {
			scheme = "http"
		}
		address = scheme + "://" + address
	}

	u, err := url.Parse(address)
	if err != nil {
		return "", fmt.Errorf("invalid server address %q: %w", c.Address, err)
	}
	if c.Port != 0 && u.Port() == "" {
		u.Host = fmt.Sprintf("%s:%d", u.Hostname(), c.Port)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/v1"
	return u.String(), nil
}

// DatabasePath is the bbolt file used by the reference server
func (c *Config) DatabasePath() string {
	if c.Server.Database != "" {
		return c.Server.Database
	}
	return filepath.Join(filepath.Dir(ConfigPath(ConfigModeServer)), "fvault.db")
}

func (c *Config) Save(m ConfigMode) (err error) {
	// Localhost address must always be whitelisted
	if m == ConfigModeServer && len(c.Server.Whitelist) == 0 {
		c.Server.Whitelist = append(c.Server.Whitelist, "127.0.0.0/24")
	}

	var data []byte
	if data, err = yaml.Marshal(c); err != nil {
		return err
	}

	var cp string = ConfigPath(m)
	if err = os.MkdirAll(filepath.Dir(cp), 0700); err != nil {
		return err
	}
	return os.WriteFile(cp, data, 0600)
}

func getConfigPath(m ConfigMode) string {
	home, _ := os.UserHomeDir()
	if m == ConfigModeServer {
		return filepath.Join(home, ".config", "fvault", "server.yaml")
	}
	return filepath.Join(home, ".config", "fvault", "client.yaml")
}
