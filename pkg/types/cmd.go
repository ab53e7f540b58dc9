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
package types

// ServeCmd holds the settings of the reference backend
type ServeCmd struct {
	Cert       string   `yaml:"cert" env:"FV_CERT"`
	Key        string   `yaml:"key" env:"FV_KEY"`
	Port       int      `yaml:"port" env:"FV_SERVE_PORT"`
	Whitelist  []string `yaml:"whitelist" env:"FV_WHITELIST" envSeparator:","`
	Database   string   `yaml:"database" env:"FV_DATABASE"`
	MaxUpload  int64    `yaml:"maxupload" env:"FV_MAX_UPLOAD"`
	SkipVerify bool     `yaml:"skipverify" env:"FV_SKIPVERIFY"`
	Debug      bool     `yaml:"debug" env:"FV_DEBUG"`
	Quiet      bool     `yaml:"quiet" env:"FV_QUIET"`
}

func (s *ServeCmd) Merge(c *ClientCmd) {
	if !s.SkipVerify {
		s.SkipVerify = c.SkipVerify
	}

	if !s.Debug {
		s.Debug = c.Debug
	}

	if !s.Quiet {
		s.Quiet = c.Quiet
	}
}

type ClientCmd struct {
	Server     string `yaml:"server" env:"FV_SERVER"`
	Port       int    `yaml:"port" env:"FV_PORT"`
	Email      string `yaml:"email" env:"FV_EMAIL"`
	SkipVerify bool   `yaml:"skipverify" env:"FV_SKIPVERIFY"`
	Insecure   bool   `yaml:"insecure" env:"FV_INSECURE"`
	Debug      bool   `yaml:"debug" env:"FV_DEBUG"`
	Quiet      bool   `yaml:"quiet" env:"FV_QUIET"`
	Output     string `yaml:"output" env:"FV_OUTPUT"`
}
