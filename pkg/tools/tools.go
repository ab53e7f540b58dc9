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
package tools

import (
	"fmt"
	"os"
	"strings"

	"github.com/peterh/liner"
	"github.com/twpayne/go-pinentry"
)

const (
	EnvEmail    = "FV_EMAIL"
	EnvPassword = "FV_PASSWORD"
)

// ReadPassword reads a password from the user via STDIN
func ReadPassword(prompt string) ([]byte, error) {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	defer line.Close()
	var (
		password string
		err      error
	)
	if password, err = line.PasswordPrompt(prompt); err != nil {
		if err == liner.ErrPromptAborted {
			line.Close()
			os.Exit(0)
		}
		return nil, err
	}
	return []byte(password), nil
}

// ReadLine reads a line of text from the user via STDIN
func ReadLine(prompt string) ([]byte, error) {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	defer line.Close()
	var (
		value string
		err   error
	)
	if value, err = line.Prompt(prompt); err != nil {
		if err == liner.ErrPromptAborted {
			line.Close()
			os.Exit(0)
		}
		return nil, err
	}
	return []byte(strings.TrimSpace(value)), nil
}

// Referenced as a variable to enable it to be mocked in tests
var lookupEnv func(string) (string, bool) = os.LookupEnv

// GetSecret gets a secret from the environment or a desktop keyring
//
// Order is:
// 1. Environment
// 2. KWallet
// 3. Secret Service
func GetSecret(what string) string {
	if value, ok := lookupEnv(what); ok && value != "" {
		return value
	}
	return keyringSecret(what)
}

// GetEmail returns the first non empty email from the given candidates,
// the environment or secrets store, then the user.
func GetEmail(candidates ...string) (string, error) {
	for _, c := range candidates {
		if c != "" {
			return c, nil
		}
	}
	if s := GetSecret(EnvEmail); s != "" {
		return s, nil
	}

	b, err := readLine("Email: ")
	if err != nil {
		return "", err
	}
	if len(b) == 0 {
		return "", fmt.Errorf("No email provided")
	}
	return string(b), nil
}

// GetAccountPassword returns the password for email.
//
// The environment is checked first, then a keyring entry for the account
// itself, then the keyring default. The user is asked when none is set.
func GetAccountPassword(email, description string) ([]byte, error) {
	if value, ok := lookupEnv(EnvPassword); ok && value != "" {
		return []byte(value), nil
	}
	if s := keyringSecret(email, EnvPassword); s != "" {
		return []byte(s), nil
	}
	return GetPassword("fvault", description, "Password:")
}

// GetPassword gets a password from the user
//
// This is a mockable entry point for testing and wraps the password function.
var GetPassword func(title, description, prompt string) ([]byte, error) = password

// password asks the user for a password using pinentry if available and
// falls back to stdin if not.
func password(title, description, prompt string) ([]byte, error) {
	var (
		err         error
		client      *pinentry.Client
		password    string
		usePinentry bool = true
	)

	if client, err = GetPinentry(
		pinentry.WithBinaryNameFromGnuPGAgentConf(),
		pinentry.WithDesc(description),
		pinentry.WithGPGTTY(),
		pinentry.WithPrompt(prompt),
		pinentry.WithTitle(title),
	); err != nil {
		var b []byte
		if b, err = readPassword(prompt + " "); err != nil {
			return nil, err
		}
		password = string(b)
		usePinentry = false
	}

	if usePinentry {
		defer client.Close()
		password, _, err = client.GetPIN()
		if pinentry.IsCancelled(err) {
			return nil, fmt.Errorf("Cancelled")
		}
	}
	if password == "" {
		return nil, fmt.Errorf("No password provided")
	}
	password = strings.TrimSpace(password)
	return []byte(password), err
}

// GetPinentry gets a pinentry client
//
// This is a mockable entry point for testing and wraps the pinentry client.
var GetPinentry func(options ...pinentry.ClientOption) (c *pinentry.Client, err error) = func(options ...pinentry.ClientOption) (c *pinentry.Client, err error) {
	return pinentry.NewClient(options...)
}

var readPassword func(prompt string) ([]byte, error) = func(prompt string) ([]byte, error) {
	return ReadPassword(prompt)
}

var readLine func(prompt string) ([]byte, error) = func(prompt string) ([]byte, error) {
	return ReadLine(prompt)
}
