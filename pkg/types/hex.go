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

import (
	"encoding/hex"
	"strings"
)

// HexBytes is a byte slice which crosses the wire as a lowercase hex string.
//
// Every binary field exchanged with the backend (keys, nonces, tags, salts
// and ciphertext) uses this type so that decoding errors surface as a
// ValidationError before any cryptographic operation is attempted.
type HexBytes []byte

// IsZero returns true if there is no data held in the slice
func (h HexBytes) IsZero() bool {
	return len(h) == 0
}

// String returns the hex encoded representation
func (h HexBytes) String() string {
	return hex.EncodeToString(h)
}

// MarshalText - convert HexBytes to its hex form
func (h HexBytes) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// UnmarshalText - convert a hex string into HexBytes
func (h *HexBytes) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*h = nil
		return nil
	}

	var (
		text string = strings.TrimSpace(string(data))
		dst  []byte
		err  error
	)

	if dst, err = hex.DecodeString(text); err != nil {
		return ValidationError{Field: "hex", Reason: err.Error()}
	}
	*h = dst
	return nil
}

// Expect checks the decoded length of a field against a fixed size.
func (h HexBytes) Expect(field string, size int) error {
	if len(h) != size {
		return ValidationError{
			Field:  field,
			Reason: LengthMismatch(size, len(h)),
		}
	}
	return nil
}

// ParseHex decodes a hex string that must be exactly size bytes long.
//
// A size of zero accepts any non-empty value.
func ParseHex(field, value string, size int) (HexBytes, error) {
	var h HexBytes
	if value == "" {
		return nil, ValidationError{Field: field, Reason: "value is empty"}
	}
	if err := h.UnmarshalText([]byte(value)); err != nil {
		return nil, ValidationError{Field: field, Reason: "invalid hex encoding"}
	}
	if size == 0 {
		return h, nil
	}
	return h, h.Expect(field, size)
}
