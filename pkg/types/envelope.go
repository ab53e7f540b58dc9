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

import "fmt"

// WrapKind identifies which key a FileKeyEnvelope is wrapped under.
type WrapKind int

func (k WrapKind) String() string {
	switch k {
	case OwnerWrapped:
		return "owner"
	case TransferWrapped:
		return "transfer"
	}
	return fmt.Sprintf("WrapKind(%d)", k)
}

// Sealed is the output of a single AEAD wrap: the ciphertext (with the
// authentication tag appended) and the nonce it was sealed with.
type Sealed struct {
	Ciphertext HexBytes `json:"ciphertext" yaml:"ciphertext"`
	Nonce      HexBytes `json:"nonce" yaml:"nonce"`
}

func (s Sealed) IsZero() bool {
	return s.Ciphertext.IsZero() && s.Nonce.IsZero()
}

func (s Sealed) Validate(field string) error {
	if err := s.Nonce.Expect(field+" nonce", NonceSize); err != nil {
		return err
	}
	if len(s.Ciphertext) < TagSize {
		return ValidationError{
			Field:  field,
			Reason: fmt.Sprintf("ciphertext shorter than the %d byte tag", TagSize),
		}
	}
	return nil
}

// ProtectedKey is a private key sealed under a key stretched from the master
// key with a per-key salt.
type ProtectedKey struct {
	Sealed `yaml:",inline"`
	Salt   HexBytes `json:"salt" yaml:"salt"`
}

func (p ProtectedKey) Validate(field string) error {
	if err := p.Sealed.Validate(field); err != nil {
		return err
	}
	return p.Salt.Expect(field+" salt", SaltSize)
}

// FileKeyEnvelope holds one party's wrapping of a file content key.
//
// Owner envelopes are wrapped under the owner's master key. Transfer
// envelopes are wrapped under SHA-256(X25519(sender, recipient)) and carry the
// sender's public key so the recipient can recompute the same secret.
type FileKeyEnvelope struct {
	Kind            WrapKind
	WrappedKey      HexBytes
	KeyNonce        HexBytes
	SenderPublicKey HexBytes
}

func OwnerEnvelope(wrapped, nonce []byte) FileKeyEnvelope {
	return FileKeyEnvelope{
		Kind:       OwnerWrapped,
		WrappedKey: wrapped,
		KeyNonce:   nonce,
	}
}

func TransferEnvelope(wrapped, nonce, senderPublicKey []byte) FileKeyEnvelope {
	return FileKeyEnvelope{
		Kind:            TransferWrapped,
		WrappedKey:      wrapped,
		KeyNonce:        nonce,
		SenderPublicKey: senderPublicKey,
	}
}

func (e FileKeyEnvelope) Sealed() Sealed {
	return Sealed{Ciphertext: e.WrappedKey, Nonce: e.KeyNonce}
}

func (e FileKeyEnvelope) Validate() error {
	if err := e.Sealed().Validate("wrapped key"); err != nil {
		return err
	}
	switch e.Kind {
	case OwnerWrapped:
		if !e.SenderPublicKey.IsZero() {
			return ValidationError{Field: "envelope", Reason: "owner envelope carries a sender public key"}
		}
	case TransferWrapped:
		return e.SenderPublicKey.Expect("sender public key", KeySize)
	default:
		return ValidationError{Field: "envelope", Reason: fmt.Sprintf("unknown wrap kind %d", e.Kind)}
	}
	return nil
}
