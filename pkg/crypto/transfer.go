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
package crypto

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/notapipeline/fvault/pkg/types"
	"golang.org/x/crypto/curve25519"
)

// SharedSecret computes X25519(privateKey, peerPublicKey).
//
// The raw output must never be used directly as a key, see TransferKEK.
func SharedSecret(privateKey, peerPublicKey []byte) ([]byte, error) {
	if len(privateKey) != curve25519.ScalarSize {
		return nil, types.ValidationError{
			Field:  "private key",
			Reason: types.LengthMismatch(curve25519.ScalarSize, len(privateKey)),
		}
	}
	if len(peerPublicKey) != curve25519.PointSize {
		return nil, types.ValidationError{
			Field:  "public key",
			Reason: types.LengthMismatch(curve25519.PointSize, len(peerPublicKey)),
		}
	}

	secret, err := curve25519.X25519(privateKey, peerPublicKey)
	if err != nil {
		// low order points produce an all zero output
		return nil, types.ValidationError{Field: "public key", Reason: err.Error()}
	}
	return secret, nil
}

// TransferKEK hashes the X25519 shared secret into a key encryption key.
func TransferKEK(privateKey, peerPublicKey []byte) ([]byte, error) {
	secret, err := SharedSecret(privateKey, peerPublicKey)
	if err != nil {
		return nil, err
	}
	defer Wipe(secret)

	var kek [sha256.Size]byte = sha256.Sum256(secret)
	return kek[:], nil
}

// WrapForRecipient wraps contentKey for the holder of recipientPublicKey.
func WrapForRecipient(contentKey, senderPrivateKey, recipientPublicKey []byte) (env types.FileKeyEnvelope, err error) {
	var (
		kek, senderPublicKey []byte
		wrapped, nonce       []byte
	)

	if senderPublicKey, err = PublicKeyOf(senderPrivateKey); err != nil {
		return
	}

	if kek, err = TransferKEK(senderPrivateKey, recipientPublicKey); err != nil {
		return
	}
	defer Wipe(kek)

	if wrapped, nonce, err = WrapContentKey(contentKey, kek); err != nil {
		return
	}
	env = types.TransferEnvelope(wrapped, nonce, senderPublicKey)
	return
}

// UnwrapEnvelope recovers the content key held in env.
//
// Owner envelopes are opened with masterKey. Transfer envelopes are opened
// with the KEK computed from privateKey and the sender's public key. The
// master key is never used for a transfer envelope.
func UnwrapEnvelope(env types.FileKeyEnvelope, masterKey, privateKey []byte) (contentKey []byte, err error) {
	if err = env.Validate(); err != nil {
		return
	}

	switch env.Kind {
	case types.OwnerWrapped:
		if len(masterKey) == 0 {
			return nil, types.KeyNotFoundError{}
		}
		return UnwrapContentKey(env.WrappedKey, env.KeyNonce, masterKey)
	case types.TransferWrapped:
		if len(privateKey) == 0 {
			return nil, types.KeyNotFoundError{}
		}

		var kek []byte
		if kek, err = TransferKEK(privateKey, env.SenderPublicKey); err != nil {
			return
		}
		defer Wipe(kek)

		if contentKey, err = UnwrapContentKey(env.WrappedKey, env.KeyNonce, kek); err != nil {
			var de types.DecryptionError
			if errors.As(err, &de) {
				return nil, de.As(types.ReasonDifferentIdentity)
			}
		}
		return
	}
	return nil, fmt.Errorf("unsupported envelope kind %s", env.Kind)
}
