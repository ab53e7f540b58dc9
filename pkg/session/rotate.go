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
	"github.com/notapipeline/fvault/pkg/types"
)

// Rotation is a password change ready to be submitted
type Rotation struct {
	Request     types.PasswordUpdateRequest
	IdentityKey string
}

// Rotate re-wraps the session master key under a key derived from
// newPassword with fresh salts.
//
// current must be the material derived from the existing password and
// envelope the credential envelope returned by verify-password. The stored
// master key must open under the current password and match the key held by
// s before anything is re-wrapped. The identity envelope is keyed by the
// master key so it does not change.
func Rotate(ctx context.Context, s *UnlockedSession, current *LoginMaterial, envelope types.CredentialEnvelope, newPassword []byte, params, authParams types.KDFParams) (rot *Rotation, err error) {
	if s == nil || s.locked() {
		return nil, types.KeyNotFoundError{}
	}
	if current == nil {
		return nil, types.KdfError{Reason: "current password material is missing"}
	}
	if err = envelope.EncSalt.Expect("saltEncryption", types.SaltSize); err != nil {
		return
	}
	params = params.OrDefault(types.DefaultPasswordKDF)
	authParams = authParams.OrDefault(types.DefaultAuthKDF)
	if err = checkKDF(params, authParams); err != nil {
		return
	}

	var oldKey []byte
	if oldKey, err = current.EncryptionKey(envelope.EncSalt); err != nil {
		return
	}
	defer crypto.Wipe(oldKey)

	var c *credentials
	if c, err = newCredentials(ctx, newPassword, params, authParams); err != nil {
		return
	}
	defer c.destroy()

	var wrapped types.Sealed
	if wrapped, err = crypto.RewrapMasterKey(envelope.MasterKey(), oldKey, c.encKey, s.masterKey); err != nil {
		return
	}
	if err = ctx.Err(); err != nil {
		return
	}

	rot = &Rotation{
		Request: types.PasswordUpdateRequest{
			Email:                   s.Email,
			CurrentAuthHash:         current.AuthHash,
			Salt:                    c.salt,
			AuthSalt:                c.authSalt,
			EncSalt:                 c.encSalt,
			KDF:                     params,
			AuthKDF:                 authParams,
			HashedAuthenticationKey: c.authHash,
			EncryptedMasterKey:      wrapped.Ciphertext,
			EncryptedMasterKeyNonce: wrapped.Nonce,
		},
		IdentityKey: cache.IdentityKey(c.authKey),
	}
	return
}
