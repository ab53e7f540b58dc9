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
	"errors"

	"github.com/notapipeline/fvault/pkg/types"
)

// NewContentKey returns a fresh key for a single file
func NewContentKey() ([]byte, error) {
	return NewKey()
}

// EncryptBody encrypts a file body. The tag is split from the ciphertext and
// returned separately.
func EncryptBody(plaintext, contentKey []byte) (ciphertext, nonce, tag []byte, err error) {
	var sealed types.Sealed
	if sealed, err = Seal(contentKey, plaintext); err != nil {
		return
	}

	var split int = len(sealed.Ciphertext) - types.TagSize
	ciphertext = sealed.Ciphertext[:split:split]
	tag = sealed.Ciphertext[split:]
	nonce = sealed.Nonce
	return
}

// DecryptBody verifies tag and decrypts ciphertext. The tag is the only
// integrity check applied to file contents.
func DecryptBody(ciphertext, nonce, tag, contentKey []byte) ([]byte, error) {
	if len(tag) != types.TagSize {
		return nil, types.ValidationError{Field: "authTag", Reason: types.LengthMismatch(types.TagSize, len(tag))}
	}

	var joined []byte = make([]byte, 0, len(ciphertext)+len(tag))
	joined = append(joined, ciphertext...)
	joined = append(joined, tag...)

	plaintext, err := Open(contentKey, types.Sealed{Ciphertext: joined, Nonce: nonce})
	if err != nil {
		var de types.DecryptionError
		if errors.As(err, &de) {
			de.What = "file body"
			return nil, de
		}
		return nil, err
	}
	return plaintext, nil
}

// WrapContentKey seals a content key under wrappingKey, which is either the
// owner master key or a transfer KEK.
func WrapContentKey(contentKey, wrappingKey []byte) (wrapped, nonce []byte, err error) {
	if len(contentKey) != types.KeySize {
		return nil, nil, types.ValidationError{
			Field:  "content key",
			Reason: types.LengthMismatch(types.KeySize, len(contentKey)),
		}
	}

	var sealed types.Sealed
	if sealed, err = Seal(wrappingKey, contentKey); err != nil {
		return
	}
	return sealed.Ciphertext, sealed.Nonce, nil
}

// UnwrapContentKey reverses WrapContentKey
func UnwrapContentKey(wrapped, nonce, wrappingKey []byte) (contentKey []byte, err error) {
	if contentKey, err = Open(wrappingKey, types.Sealed{Ciphertext: wrapped, Nonce: nonce}); err != nil {
		var de types.DecryptionError
		if errors.As(err, &de) {
			de.What = "content key"
			return nil, de.As(types.ReasonKeyMismatch)
		}
		return nil, err
	}

	if len(contentKey) != types.KeySize {
		Wipe(contentKey)
		return nil, types.ValidationError{
			Field:  "content key",
			Reason: types.LengthMismatch(types.KeySize, len(contentKey)),
		}
	}
	return
}
