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
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/notapipeline/fvault/pkg/types"
)

// NewMasterKey creates the account master key. This happens exactly once,
// at registration.
func NewMasterKey() ([]byte, error) {
	return NewKey()
}

// WrapMasterKey seals the master key under the password encryption subkey.
func WrapMasterKey(masterKey, encKey []byte) (types.Sealed, error) {
	if len(masterKey) != types.KeySize {
		return types.Sealed{}, types.ValidationError{
			Field:  "master key",
			Reason: types.LengthMismatch(types.KeySize, len(masterKey)),
		}
	}
	return Seal(encKey, masterKey)
}

// UnwrapMasterKey opens the master key envelope. A tag failure here is the
// only signal that the password was wrong.
func UnwrapMasterKey(sealed types.Sealed, encKey []byte) (masterKey []byte, err error) {
	if masterKey, err = Open(encKey, sealed); err != nil {
		var de types.DecryptionError
		if errors.As(err, &de) {
			de.What = "master key"
			return nil, de.As(types.ReasonWrongPassword)
		}
		return nil, err
	}

	if len(masterKey) != types.KeySize {
		Wipe(masterKey)
		return nil, types.ValidationError{
			Field:  "master key",
			Reason: types.LengthMismatch(types.KeySize, len(masterKey)),
		}
	}
	return
}

// RewrapMasterKey confirms that sealed opens under oldKey and holds expected
// before sealing the very same master key under newKey.
func RewrapMasterKey(sealed types.Sealed, oldKey, newKey, expected []byte) (types.Sealed, error) {
	var (
		masterKey []byte
		err       error
	)
	if masterKey, err = UnwrapMasterKey(sealed, oldKey); err != nil {
		return types.Sealed{}, fmt.Errorf("unable to confirm current master key: %w", err)
	}
	defer Wipe(masterKey)

	if expected != nil && subtle.ConstantTimeCompare(masterKey, expected) != 1 {
		return types.Sealed{}, types.DecryptionError{
			Reason: types.ReasonKeyMismatch,
			What:   "master key",
		}
	}
	return WrapMasterKey(masterKey, newKey)
}
