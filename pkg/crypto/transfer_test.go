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
	"encoding/hex"
	"errors"
	"testing"

	"github.com/notapipeline/fvault/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedSecretKnownVector(t *testing.T) {
	// RFC 7748 section 6.1
	var (
		alicePriv, _ = hex.DecodeString("77076d0a7318a57d3c16c17251b26645df4c2f87ebc0992ab177fba51db92c2a")
		alicePub, _  = hex.DecodeString("8520f0098930a754748b7ddcb43ef75a0dbf3a0d26381af4eba4a98eaa9b4e6a")
		bobPriv, _   = hex.DecodeString("5dab087e624a8a4b79e17f8b83800ee66f3bb1292618b6fd1c2f8b27ff88e0eb")
		bobPub, _    = hex.DecodeString("de9edb7d7b7dc1b4d35b61c2ece435373f8343c85b78674dadfc7e146f882b4f")
		expected     = "4a5d9d5ba4ce2de1728e3bf480350f25e07e21c947d19e3376f09b3c1e161742"
	)

	ab, err := SharedSecret(alicePriv, bobPub)
	require.NoError(t, err)
	ba, err := SharedSecret(bobPriv, alicePub)
	require.NoError(t, err)

	assert.Equal(t, expected, hex.EncodeToString(ab))
	assert.Equal(t, ab, ba)

	kek, err := TransferKEK(alicePriv, bobPub)
	require.NoError(t, err)
	assert.Len(t, kek, 32)
	assert.NotEqual(t, ab, kek)
}

func TestSharedSecretSymmetry(t *testing.T) {
	for i := 0; i < 16; i++ {
		aPriv, aPub, err := GenerateKeyPair(nil)
		require.NoError(t, err)
		bPriv, bPub, err := GenerateKeyPair(nil)
		require.NoError(t, err)

		ab, err := TransferKEK(aPriv, bPub)
		require.NoError(t, err)
		ba, err := TransferKEK(bPriv, aPub)
		require.NoError(t, err)
		assert.Equal(t, ab, ba)
	}
}

func TestSharedSecretRejectsLowOrderPoint(t *testing.T) {
	priv, _, _ := GenerateKeyPair(nil)
	_, err := SharedSecret(priv, make([]byte, 32))

	var ve types.ValidationError
	assert.True(t, errors.As(err, &ve))

	_, err = SharedSecret(priv, make([]byte, 31))
	assert.EqualError(t, err, "invalid public key: expected 32 bytes, got 31")
}

func TestTransferEnvelope(t *testing.T) {
	var (
		ownerMaster, _         = NewMasterKey()
		ownerPriv, ownerPub, _ = GenerateKeyPair(nil)
		recipPriv, recipPub, _ = GenerateKeyPair(nil)
		strangerPriv, _, _     = GenerateKeyPair(nil)
		contentKey, _          = NewContentKey()
	)

	wrapped, nonce, err := WrapContentKey(contentKey, ownerMaster)
	require.NoError(t, err)
	owner := types.OwnerEnvelope(wrapped, nonce)

	// step 1: the owner unwraps with the master key only
	unwrapped, err := UnwrapEnvelope(owner, ownerMaster, nil)
	require.NoError(t, err)
	require.Equal(t, contentKey, unwrapped)

	// steps 2 to 4
	transfer, err := WrapForRecipient(unwrapped, ownerPriv, recipPub)
	require.NoError(t, err)
	assert.Equal(t, types.TransferWrapped, transfer.Kind)
	assert.Equal(t, ownerPub, []byte(transfer.SenderPublicKey))
	assert.NotEqual(t, owner.KeyNonce, transfer.KeyNonce)

	// step 5: the recipient has no master key involved
	received, err := UnwrapEnvelope(transfer, nil, recipPriv)
	require.NoError(t, err)
	assert.Equal(t, contentKey, received)

	_, err = UnwrapEnvelope(transfer, nil, strangerPriv)
	var de types.DecryptionError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, types.ReasonDifferentIdentity, de.Reason)
	assert.EqualError(t, err, "decryption of content key failed: file may have been shared with a different identity")

	// the owner's master key cannot open a transfer envelope
	_, err = UnwrapEnvelope(transfer, ownerMaster, nil)
	assert.EqualError(t, err, "no unlocked session: please log in again")
}

func TestUnwrapEnvelopeValidatesVariant(t *testing.T) {
	masterKey, _ := NewMasterKey()
	contentKey, _ := NewContentKey()
	wrapped, nonce, _ := WrapContentKey(contentKey, masterKey)

	tests := []struct {
		name     string
		env      types.FileKeyEnvelope
		expected string
	}{
		{
			name: "owner envelope with sender key",
			env: types.FileKeyEnvelope{
				Kind:            types.OwnerWrapped,
				WrappedKey:      wrapped,
				KeyNonce:        nonce,
				SenderPublicKey: make([]byte, 32),
			},
			expected: "invalid envelope: owner envelope carries a sender public key",
		},
		{
			name:     "transfer envelope without sender key",
			env:      types.TransferEnvelope(wrapped, nonce, nil),
			expected: "invalid sender public key: expected 32 bytes, got 0",
		},
		{
			name:     "unknown kind",
			env:      types.FileKeyEnvelope{WrappedKey: wrapped, KeyNonce: nonce},
			expected: "invalid envelope: unknown wrap kind 0",
		},
		{
			name:     "short nonce",
			env:      types.OwnerEnvelope(wrapped, nonce[:4]),
			expected: "invalid wrapped key nonce: expected 12 bytes, got 4",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := UnwrapEnvelope(test.env, masterKey, nil)
			assert.EqualError(t, err, test.expected)
		})
	}
}
