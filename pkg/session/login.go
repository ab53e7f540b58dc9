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

var (
	// PasswordKDFLimits bounds the password stretch this client will run
	PasswordKDFLimits types.KDFLimits = types.DefaultPasswordKDFLimits

	// AuthKDFLimits bounds the authentication hash this client will run
	AuthKDFLimits types.KDFLimits = types.DefaultAuthKDFLimits
)

// checkKDF refuses parameters outside the client limits before any
// derivation starts.
func checkKDF(params, authParams types.KDFParams) error {
	if err := PasswordKDFLimits.Check(params); err != nil {
		return err
	}
	return AuthKDFLimits.Check(authParams)
}

// LoginMaterial is what a password yields before the server has answered.
//
// The password digest is retained so the encryption subkey can be derived
// once the server returns the encryption salt. Destroy wipes it.
type LoginMaterial struct {
	Email    string
	AuthHash types.HexBytes

	digest  []byte
	authKey []byte
}

// IdentityKey is the cache key of the account this material unlocks
func (m *LoginMaterial) IdentityKey() string {
	return cache.IdentityKey(m.authKey)
}

func (m *LoginMaterial) LoginRequest() types.LoginRequest {
	return types.LoginRequest{Email: m.Email, AuthHash: m.AuthHash}
}

// EncryptionKey derives the encryption subkey for encSalt. The caller owns
// the returned slice.
func (m *LoginMaterial) EncryptionKey(encSalt []byte) ([]byte, error) {
	if len(m.digest) == 0 {
		return nil, types.KdfError{Reason: "login material has been destroyed"}
	}
	return crypto.DeriveSubkey(m.digest, encSalt, types.ContextEncryption)
}

func (m *LoginMaterial) Destroy() {
	if m == nil {
		return
	}
	crypto.Wipe(m.digest, m.authKey)
	m.digest = nil
	m.authKey = nil
}

// derive runs the password stretch off the calling goroutine so that a
// cancelled context returns at once. Argon2 cannot be interrupted, so any
// late result is wiped when it arrives.
func derive(ctx context.Context, password, salt []byte, params types.KDFParams) ([]byte, error) {
	type result struct {
		digest []byte
		err    error
	}

	var done chan result = make(chan result, 1)
	go func() {
		d, err := crypto.DeriveKey(password, salt, params)
		done <- result{d, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			r := <-done
			crypto.Wipe(r.digest)
		}()
		return nil, ctx.Err()
	case r := <-done:
		return r.digest, r.err
	}
}

// DeriveLoginMaterial stretches password against the challenge returned by
// the server and computes the authentication hash sent at login.
func DeriveLoginMaterial(ctx context.Context, email string, password []byte, challenge types.LoginChallenge) (material *LoginMaterial, err error) {
	if err = challenge.Validate(); err != nil {
		return
	}

	var (
		params     types.KDFParams = challenge.KDF.OrDefault(types.DefaultPasswordKDF)
		authParams types.KDFParams = challenge.AuthKDF.OrDefault(types.DefaultAuthKDF)
	)
	if err = checkKDF(params, authParams); err != nil {
		return
	}

	material = &LoginMaterial{Email: email}
	defer func() {
		if err != nil {
			material.Destroy()
			material = nil
		}
	}()

	if material.digest, err = derive(ctx, password, challenge.Salt, params); err != nil {
		return
	}
	if material.authKey, err = crypto.DeriveSubkey(material.digest, challenge.AuthSalt, types.ContextAuthentication); err != nil {
		return
	}

	var hash []byte
	if hash, err = derive(ctx, material.authKey, challenge.AuthSalt, authParams); err != nil {
		return
	}
	material.AuthHash = hash
	return
}

// UnlockSession turns a successful login response into an unlocked session.
//
// When keys holds an entry for the material's identity the cached keys are
// used after checking they match the published public key. Otherwise the
// master key and private key are unwrapped and the result is cached. Nothing
// is cached if ctx is cancelled before the unlock completes.
func UnlockSession(ctx context.Context, resp types.LoginResponse, material *LoginMaterial, keys cache.KeyCache) (s *UnlockedSession, err error) {
	if material == nil || len(material.authKey) == 0 {
		return nil, types.KeyNotFoundError{}
	}
	if err = resp.Validate(); err != nil {
		return
	}

	s = &UnlockedSession{
		Email:       material.Email,
		Token:       resp.Token,
		IdentityKey: material.IdentityKey(),
		PublicKey:   resp.PublicKey,
	}
	defer func() {
		if err != nil {
			s.Destroy()
			s = nil
		}
	}()

	if keys != nil {
		if cached, cerr := keys.Get(s.IdentityKey); cerr == nil {
			if crypto.VerifyKeyPair(cached.PrivateKey, resp.PublicKey) {
				s.masterKey, s.privateKey = cached.MasterKey, cached.PrivateKey
				return s, ctx.Err()
			}
			// stale entry, fall through and unwrap again
			cached.Destroy()
			keys.Clear(s.IdentityKey)
		}
	}

	var encKey []byte
	if encKey, err = material.EncryptionKey(resp.EncSalt); err != nil {
		return
	}
	defer crypto.Wipe(encKey)

	if s.masterKey, err = crypto.UnwrapMasterKey(resp.MasterKey(), encKey); err != nil {
		return
	}
	if err = ctx.Err(); err != nil {
		return
	}

	if s.privateKey, err = crypto.RevealPrivateKey(resp.Identity(), s.masterKey); err != nil {
		return
	}
	if !crypto.VerifyKeyPair(s.privateKey, resp.PublicKey) {
		err = types.DecryptionError{Reason: types.ReasonKeyMismatch, What: "identity key pair"}
		return
	}
	if err = ctx.Err(); err != nil {
		return
	}

	if keys != nil {
		if cerr := keys.Put(s.IdentityKey, s.masterKey, s.privateKey); cerr != nil {
			logging.Warn(ctx, "unable to cache session keys", "error", cerr)
		}
	}
	return
}
