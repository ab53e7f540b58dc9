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

type KDFType int

func (t KDFType) String() string {
	switch t {
	case KDFTypeArgon2id:
		return "argon2id"
	case KDFTypeArgon2i:
		return "argon2i"
	case KDFTypeArgon2d:
		return "argon2d"
	case KDFTypePBKDF2:
		return "pbkdf2"
	}
	return fmt.Sprintf("KDFType(%d)", t)
}

// KDFParams carries the cost parameters for a memory-hard password hash.
//
// Memory is expressed in KiB. The parameters are stored alongside the
// credential record on the server and returned by the login challenge so that
// the client always derives with the values used at registration.
type KDFParams struct {
	Type        KDFType `json:"kdf" yaml:"type" env:"TYPE"`
	Iterations  uint32  `json:"kdfIterations" yaml:"iterations" env:"ITERATIONS"`
	Memory      uint32  `json:"kdfMemory" yaml:"memory" env:"MEMORY"`
	Parallelism uint8   `json:"kdfParallelism" yaml:"parallelism" env:"PARALLELISM"`
	KeyLength   uint32  `json:"kdfKeyLength" yaml:"keylength" env:"KEYLENGTH"`
}

var (
	// DefaultPasswordKDF stretches the account password
	DefaultPasswordKDF KDFParams = KDFParams{
		Type:        KDFTypeArgon2id,
		Iterations:  6,
		Memory:      128 * 1024,
		Parallelism: 4,
		KeyLength:   KeySize,
	}

	// DefaultAuthKDF hashes the authentication subkey before it is sent
	// to the server
	DefaultAuthKDF KDFParams = KDFParams{
		Type:        KDFTypeArgon2id,
		Iterations:  2,
		Memory:      64 * 1024,
		Parallelism: 2,
		KeyLength:   KeySize,
	}
)

func (p KDFParams) IsZero() bool {
	return p == KDFParams{}
}

// OrDefault returns p unless it is empty, in which case d is returned
func (p KDFParams) OrDefault(d KDFParams) KDFParams {
	if p.IsZero() {
		return d
	}
	if p.Type == 0 {
		p.Type = KDFTypeArgon2id
	}
	if p.KeyLength == 0 {
		p.KeyLength = KeySize
	}
	return p
}

// Validate rejects anything other than argon2id and any parameter set the
// underlying primitive cannot run with.
func (p KDFParams) Validate() error {
	switch {
	case p.Type != KDFTypeArgon2id:
		return KdfError{Reason: fmt.Sprintf("unsupported kdf mode %q", p.Type)}
	case p.Iterations < 1:
		return KdfError{Reason: "iterations must be at least 1"}
	case p.Parallelism < 1:
		return KdfError{Reason: "parallelism must be at least 1"}
	case p.Memory < 8*uint32(p.Parallelism):
		return KdfError{Reason: fmt.Sprintf("memory must be at least %d KiB", 8*uint32(p.Parallelism))}
	case p.KeyLength < 16:
		return KdfError{Reason: "output length must be at least 16 bytes"}
	}
	return nil
}

const (
	// MaxKDFIterations caps the time cost a client will run
	MaxKDFIterations uint32 = 64

	// MaxKDFMemory caps the memory cost a client will allocate, in KiB
	MaxKDFMemory uint32 = 4 * 1024 * 1024

	// MaxKDFParallelism caps the number of lanes
	MaxKDFParallelism uint8 = 64
)

// KDFLimits bounds the parameters a client accepts for a derivation.
//
// The server chooses the parameters returned in a login challenge, so a
// client checks them against its own limits before stretching a password.
type KDFLimits struct {
	Minimum KDFParams
	Maximum KDFParams
}

var (
	DefaultPasswordKDFLimits KDFLimits = KDFLimits{
		Minimum: DefaultPasswordKDF,
		Maximum: KDFParams{
			Type:        KDFTypeArgon2id,
			Iterations:  MaxKDFIterations,
			Memory:      MaxKDFMemory,
			Parallelism: MaxKDFParallelism,
			KeyLength:   KeySize,
		},
	}

	DefaultAuthKDFLimits KDFLimits = KDFLimits{
		Minimum: DefaultAuthKDF,
		Maximum: DefaultPasswordKDFLimits.Maximum,
	}
)

// Check returns a KdfError when p is unusable or falls outside l. The output
// length must always be KeySize.
func (l KDFLimits) Check(p KDFParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	switch {
	case p.KeyLength != KeySize:
		return KdfError{Reason: fmt.Sprintf("output length must be %d bytes", KeySize)}
	case p.Iterations < l.Minimum.Iterations:
		return KdfError{Reason: fmt.Sprintf("iterations %d below minimum %d", p.Iterations, l.Minimum.Iterations)}
	case p.Memory < l.Minimum.Memory:
		return KdfError{Reason: fmt.Sprintf("memory %d KiB below minimum %d KiB", p.Memory, l.Minimum.Memory)}
	case p.Parallelism < l.Minimum.Parallelism:
		return KdfError{Reason: fmt.Sprintf("parallelism %d below minimum %d", p.Parallelism, l.Minimum.Parallelism)}
	case p.Iterations > l.Maximum.Iterations:
		return KdfError{Reason: fmt.Sprintf("iterations %d above maximum %d", p.Iterations, l.Maximum.Iterations)}
	case p.Memory > l.Maximum.Memory:
		return KdfError{Reason: fmt.Sprintf("memory %d KiB above maximum %d KiB", p.Memory, l.Maximum.Memory)}
	case p.Parallelism > l.Maximum.Parallelism:
		return KdfError{Reason: fmt.Sprintf("parallelism %d above maximum %d", p.Parallelism, l.Maximum.Parallelism)}
	}
	return nil
}
