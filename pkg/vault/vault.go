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
// Package vault drives the backend api with the key operations of the
// session package.
//
// No key material is ever sent to the backend. Requests carry salts, hashes
// and sealed envelopes only.
package vault

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/notapipeline/fvault/pkg/cache"
	"github.com/notapipeline/fvault/pkg/logging"
	"github.com/notapipeline/fvault/pkg/session"
	"github.com/notapipeline/fvault/pkg/transport"
	"github.com/notapipeline/fvault/pkg/types"
)

var ErrInvalidCredentials = errors.New("invalid email or password")

type Vault struct {
	client   transport.HttpClient
	baseURL  string
	sessions *session.Manager

	// cost parameters for new registrations and rotated passwords
	params     types.KDFParams
	authParams types.KDFParams
}

type Option func(v *Vault)

// WithKDF overrides the key derivation parameters used when an account is
// registered or its password is changed
func WithKDF(params, authParams types.KDFParams) Option {
	return func(v *Vault) {
		v.params = params
		v.authParams = authParams
	}
}

// New creates a vault talking to the api rooted at baseURL. keys may be nil
// to disable the key cache.
func New(client transport.HttpClient, baseURL string, keys cache.KeyCache, opts ...Option) *Vault {
	v := &Vault{
		client:     client,
		baseURL:    strings.TrimRight(baseURL, "/"),
		sessions:   session.NewManager(keys),
		params:     types.DefaultPasswordKDF,
		authParams: types.DefaultAuthKDF,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Vault) url(parts ...string) string {
	for i := range parts {
		parts[i] = url.PathEscape(parts[i])
	}
	return v.baseURL + "/" + strings.Join(parts, "/")
}

// Sessions exposes the session manager
func (v *Vault) Sessions() *session.Manager {
	return v.sessions
}

// token returns ctx carrying the bearer token of the active session
func (v *Vault) token(ctx context.Context) (context.Context, error) {
	s, ok := v.sessions.Current()
	if !ok {
		return ctx, types.KeyNotFoundError{}
	}
	return context.WithValue(ctx, transport.AuthToken{}, s.Token), nil
}

// apiError converts the error codes of the backend into the errors callers
// are expected to handle
func apiError(err error, what string) error {
	if err == nil {
		return nil
	}
	switch transport.ErrorCode(err) {
	case types.ErrorCodeRecipientNotFound:
		return types.RecipientNotFoundError{Recipient: what}
	case types.ErrorCodeUnauthorized:
		return fmt.Errorf("%w: %s", ErrInvalidCredentials, err)
	}
	return err
}

// Register creates a new account and leaves it logged in
func (v *Vault) Register(ctx context.Context, email, name string, password []byte) (*session.UnlockedSession, error) {
	reg, err := session.NewRegistration(ctx, email, name, password, v.params, v.authParams, nil)
	if err != nil {
		return nil, err
	}

	var resp types.LoginResponse
	if err = v.client.Post(ctx, v.url("auth", "register"), types.Expect(&resp), reg.Request); err != nil {
		reg.Session.Destroy()
		return nil, err
	}

	s := v.sessions.Register(ctx, reg, resp.Token)
	logging.Info(ctx, "registered", "email", email, "fingerprint", s.Fingerprint())
	return s, nil
}

func (v *Vault) challenge(ctx context.Context, email string) (challenge types.LoginChallenge, err error) {
	err = v.client.Post(ctx, v.url("auth", "init"), types.Expect(&challenge), types.LoginInitRequest{Email: email})
	if transport.ErrorCode(err) == types.ErrorCodeNotFound {
		err = ErrInvalidCredentials
	}
	return
}

// Login unlocks the account of email. The key cache is consulted before
// anything is unwrapped.
func (v *Vault) Login(ctx context.Context, email string, password []byte) (*session.UnlockedSession, error) {
	challenge, err := v.challenge(ctx, email)
	if err != nil {
		return nil, err
	}

	material, err := session.DeriveLoginMaterial(ctx, email, password, challenge)
	if err != nil {
		return nil, err
	}
	defer material.Destroy()

	var resp types.LoginResponse
	if err = v.client.Post(ctx, v.url("auth", "login"), types.Expect(&resp), material.LoginRequest()); err != nil {
		return nil, apiError(err, email)
	}

	s, err := v.sessions.Unlock(ctx, resp, material)
	if err != nil {
		return nil, err
	}
	logging.Info(ctx, "logged in", "email", email, "fingerprint", s.Fingerprint())
	return s, nil
}

// Logout revokes the session token and wipes the session keys. The keys
// are wiped even if the backend cannot be reached.
func (v *Vault) Logout(ctx context.Context) error {
	authed, err := v.token(ctx)
	if err != nil {
		return nil
	}
	defer v.sessions.End()
	return v.client.Post(authed, v.url("auth", "logout"), nil, nil)
}

func (v *Vault) VerifySession(ctx context.Context) (status types.SessionStatus, err error) {
	var authed context.Context
	if authed, err = v.token(ctx); err != nil {
		return status, nil
	}
	err = v.client.Get(authed, v.url("auth", "verify-session"), types.Expect(&status))
	return
}

// verifyPassword derives the material of password and has the backend check
// it, returning the stored credential envelope
func (v *Vault) verifyPassword(ctx context.Context, password []byte) (*session.LoginMaterial, types.CredentialEnvelope, error) {
	var envelope types.CredentialEnvelope

	s, ok := v.sessions.Current()
	if !ok {
		return nil, envelope, types.KeyNotFoundError{}
	}

	challenge, err := v.challenge(ctx, s.Email)
	if err != nil {
		return nil, envelope, err
	}

	material, err := session.DeriveLoginMaterial(ctx, s.Email, password, challenge)
	if err != nil {
		return nil, envelope, err
	}

	authed := context.WithValue(ctx, transport.AuthToken{}, s.Token)
	if err = v.client.Post(authed, v.url("auth", "verify-password"), types.Expect(&envelope), material.LoginRequest()); err != nil {
		material.Destroy()
		if transport.ErrorCode(err) == types.ErrorCodeUnauthorized {
			err = types.DecryptionError{Reason: types.ReasonWrongPassword, What: "current password"}
		}
		return nil, envelope, err
	}
	return material, envelope, nil
}

// VerifyPassword reports whether password is the current account password
func (v *Vault) VerifyPassword(ctx context.Context, password []byte) error {
	material, _, err := v.verifyPassword(ctx, password)
	material.Destroy()
	return err
}

// ChangePassword re-wraps the master key under newPassword. Files and the
// key pair are unaffected.
func (v *Vault) ChangePassword(ctx context.Context, current, newPassword []byte) error {
	material, envelope, err := v.verifyPassword(ctx, current)
	if err != nil {
		return err
	}
	defer material.Destroy()

	var (
		rotation *session.Rotation
		token    string
	)
	err = v.sessions.With(ctx, func(s *session.UnlockedSession) (err error) {
		token = s.Token
		rotation, err = session.Rotate(ctx, s, material, envelope, newPassword, v.params, v.authParams)
		return
	})
	if err != nil {
		return err
	}

	authed := context.WithValue(ctx, transport.AuthToken{}, token)
	if err = v.client.Post(authed, v.url("auth", "update-password"), nil, rotation.Request); err != nil {
		return apiError(err, "")
	}
	return v.sessions.Rekey(ctx, rotation.IdentityKey)
}
