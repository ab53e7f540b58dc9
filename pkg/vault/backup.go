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
package vault

import (
	"context"

	"github.com/notapipeline/fvault/pkg/crypto"
	"github.com/notapipeline/fvault/pkg/session"
	"github.com/notapipeline/fvault/pkg/types"
)

// Backup is an offline copy of everything needed to recover the master key
// of an account from its password. It holds no secret in the clear.
type Backup struct {
	Email       string                   `json:"email"`
	PublicKey   types.HexBytes           `json:"publicKey"`
	Challenge   types.LoginChallenge     `json:"challenge"`
	Credentials types.CredentialEnvelope `json:"credentials"`
}

// Backup confirms password with the backend and returns the wrapped master
// key of the logged in account together with its salts.
func (v *Vault) Backup(ctx context.Context, password []byte) (backup Backup, err error) {
	s, ok := v.sessions.Current()
	if !ok {
		return backup, types.KeyNotFoundError{}
	}

	material, envelope, err := v.verifyPassword(ctx, password)
	if err != nil {
		return
	}
	material.Destroy()

	if backup.Challenge, err = v.challenge(ctx, s.Email); err != nil {
		return
	}

	backup.Email = s.Email
	backup.PublicKey = s.PublicKey
	backup.Credentials = envelope
	return
}

// Verify checks that password still opens the master key held by the backup.
// Nothing is sent anywhere.
func (b Backup) Verify(ctx context.Context, password []byte) error {
	if err := b.Credentials.EncSalt.Expect("saltEncryption", types.SaltSize); err != nil {
		return err
	}

	material, err := session.DeriveLoginMaterial(ctx, b.Email, password, b.Challenge)
	if err != nil {
		return err
	}
	defer material.Destroy()

	encKey, err := material.EncryptionKey(b.Credentials.EncSalt)
	if err != nil {
		return err
	}
	defer crypto.Wipe(encKey)

	masterKey, err := crypto.UnwrapMasterKey(b.Credentials.MasterKey(), encKey)
	if err != nil {
		return err
	}
	crypto.Wipe(masterKey)
	return nil
}
