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
package session

import (
	"context"

	"github.com/notapipeline/fvault/pkg/cache"
	"github.com/notapipeline/fvault/pkg/crypto"
	"github.com/notapipeline/fvault/pkg/logging"
	"github.com/notapipeline/fvault/pkg/types"
)

// Registration is a new account ready to be submitted to the backend,
// together with the session it unlocks.
type Registration struct {
	Request types.RegisterRequest
	Session *UnlockedSession
}

// credentials derives a fresh set of salts and subkeys for password
type credentials struct {
	salt, authSalt, encSalt []byte
	authKey, encKey         []byte
	authHash                []byte
}

func (c *credentials) destroy() {
	crypto.Wipe(c.authKey, c.encKey)
}

func newCredentials(ctx context.Context, password []byte, params, authParams types.KDFParams) (c *credentials, err error) {
	if err = checkKDF(params, authParams); err != nil {
		return
	}

	c = &credentials{}
	defer func() {
		if err != nil {
			c.destroy()
			c = nil
		}
	}()

	for _, s := range []*[]byte{&c.salt, &c.authSalt, &c.encSalt} {
		if *s, err = crypto.NewSalt(); err != nil {
			return
		}
	}

	var digest []byte
	if digest, err = derive(ctx, password, c.salt, params); err != nil {
		return
	}
	defer crypto.Wipe(digest)

	if c.authKey, c.encKey, err = crypto.DeriveSubkeys(digest, c.authSalt, c.encSalt); err != nil {
		return
	}
	c.authHash, err = derive(ctx, c.authKey, c.authSalt, authParams)
	return
}

// NewRegistration creates every key an account needs.
//
// The master key and key pair are generated here and nowhere else. When
// seed is non-empty the key pair is derived from it.
func NewRegistration(ctx context.Context, email, name string, password []byte, params, authParams types.KDFParams, seed []byte) (reg *Registration, err error) {
	if email == "" {
		return nil, types.ValidationError{Field: "email", Reason: "value is empty"}
	}
	params = params.OrDefault(types.DefaultPasswordKDF)
	authParams = authParams.OrDefault(types.DefaultAuthKDF)

	var c *credentials
	if c, err = newCredentials(ctx, password, params, authParams); err != nil {
		return
	}
	defer c.destroy()

	var s *UnlockedSession = &UnlockedSession{
		Email:       email,
		IdentityKey: cache.IdentityKey(c.authKey),
	}
	defer func() {
		if err != nil {
			s.Destroy()
		}
	}()

	if s.masterKey, err = crypto.NewMasterKey(); err != nil {
		return
	}

	var publicKey []byte
	if s.privateKey, publicKey, err = crypto.GenerateKeyPair(seed); err != nil {
		return
	}
	s.PublicKey = publicKey

	var (
		wrapped   types.Sealed
		protected types.ProtectedKey
	)
	if wrapped, err = crypto.WrapMasterKey(s.masterKey, c.encKey); err != nil {
		return
	}
	if protected, err = crypto.ProtectPrivateKey(s.privateKey, s.masterKey); err != nil {
		return
	}
	if err = ctx.Err(); err != nil {
		return
	}

	reg = &Registration{
		Request: types.RegisterRequest{
			Name:                     name,
			Email:                    email,
			Salt:                     c.salt,
			AuthSalt:                 c.authSalt,
			EncSalt:                  c.encSalt,
			KDF:                      params,
			AuthKDF:                  authParams,
			HashedAuthenticationKey:  c.authHash,
			EncryptedMasterKey:       wrapped.Ciphertext,
			EncryptedMasterKeyNonce:  wrapped.Nonce,
			PublicKey:                publicKey,
			EncryptedPrivateKey:      protected.Ciphertext,
			EncryptedPrivateKeyNonce: protected.Nonce,
			EncryptedPrivateKeySalt:  protected.Salt,
		},
		Session: s,
	}
	return
}

// Register installs the session of a registration the backend has accepted.
// token is the session token the backend issued with it.
func (m *Manager) Register(ctx context.Context, reg *Registration, token string) *UnlockedSession {
	var s *UnlockedSession = reg.Session
	s.Token = token

	if m.keys != nil {
		if err := m.keys.Put(s.IdentityKey, s.masterKey, s.privateKey); err != nil {
			logging.Warn(ctx, "unable to cache session keys", "error", err)
		}
	}
	m.Begin(s)
	return s
}
