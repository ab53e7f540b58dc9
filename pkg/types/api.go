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
	"time"
)

// ApiResponse wraps every body returned by the backend.
//
// When decoding, Data should be set to a pointer to the expected payload
// before the body is unmarshalled.
type ApiResponse struct {
	Success   bool     `json:"success"`
	Message   string   `json:"message,omitempty"`
	ErrorCode string   `json:"errorCode,omitempty"`
	Data      any      `json:"data,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

func Expect(data any) *ApiResponse {
	return &ApiResponse{Data: data}
}

type LoginInitRequest struct {
	Email string `json:"email"`
}

// LoginChallenge is returned by the init endpoint for a given identity.
type LoginChallenge struct {
	Salt     HexBytes  `json:"salt"`
	AuthSalt HexBytes  `json:"authSalt"`
	KDF      KDFParams `json:"kdf"`
	AuthKDF  KDFParams `json:"authKdf"`
}

func (c LoginChallenge) Validate() error {
	if err := c.Salt.Expect("salt", SaltSize); err != nil {
		return err
	}
	return c.AuthSalt.Expect("authSalt", SaltSize)
}

type LoginRequest struct {
	Email    string   `json:"email"`
	AuthHash HexBytes `json:"authHash"`
}

// LoginResponse carries everything needed to unlock a session.
type LoginResponse struct {
	Token                    string   `json:"token"`
	EncryptedMasterKey       HexBytes `json:"encryptedMasterKey"`
	EncryptedMasterKeyNonce  HexBytes `json:"encryptedMasterKeyNonce"`
	EncSalt                  HexBytes `json:"saltEncryption"`
	PublicKey                HexBytes `json:"publicKey"`
	EncryptedPrivateKey      HexBytes `json:"encryptedPrivateKey"`
	EncryptedPrivateKeyNonce HexBytes `json:"encryptedPrivateKeyNonce"`
	EncryptedPrivateKeySalt  HexBytes `json:"encryptedPrivateKeySalt"`
}

func (r LoginResponse) MasterKey() Sealed {
	return Sealed{Ciphertext: r.EncryptedMasterKey, Nonce: r.EncryptedMasterKeyNonce}
}

func (r LoginResponse) Identity() ProtectedKey {
	return ProtectedKey{
		Sealed: Sealed{Ciphertext: r.EncryptedPrivateKey, Nonce: r.EncryptedPrivateKeyNonce},
		Salt:   r.EncryptedPrivateKeySalt,
	}
}

func (r LoginResponse) Validate() (err error) {
	if err = r.MasterKey().Validate("encryptedMasterKey"); err != nil {
		return
	}
	if err = r.EncSalt.Expect("saltEncryption", SaltSize); err != nil {
		return
	}
	if err = r.PublicKey.Expect("publicKey", KeySize); err != nil {
		return
	}
	return r.Identity().Validate("encryptedPrivateKey")
}

type RegisterRequest struct {
	Name                     string    `json:"name,omitempty"`
	Email                    string    `json:"email"`
	Salt                     HexBytes  `json:"salt"`
	AuthSalt                 HexBytes  `json:"authSalt"`
	EncSalt                  HexBytes  `json:"encSalt"`
	KDF                      KDFParams `json:"kdf"`
	AuthKDF                  KDFParams `json:"authKdf"`
	HashedAuthenticationKey  HexBytes  `json:"hashedAuthenticationKey"`
	EncryptedMasterKey       HexBytes  `json:"encryptedMasterKey"`
	EncryptedMasterKeyNonce  HexBytes  `json:"encryptedMasterKeyNonce"`
	PublicKey                HexBytes  `json:"publicKey"`
	EncryptedPrivateKey      HexBytes  `json:"encryptedPrivateKey"`
	EncryptedPrivateKeySalt  HexBytes  `json:"encryptedPrivateKeySalt"`
	EncryptedPrivateKeyNonce HexBytes  `json:"encryptedPrivateKeyNonce"`
}

func (r RegisterRequest) Validate() (err error) {
	if r.Email == "" {
		return ValidationError{Field: "email", Reason: "value is empty"}
	}
	for field, salt := range map[string]HexBytes{"salt": r.Salt, "authSalt": r.AuthSalt, "encSalt": r.EncSalt} {
		if err = salt.Expect(field, SaltSize); err != nil {
			return
		}
	}
	if err = r.HashedAuthenticationKey.Expect("hashedAuthenticationKey", int(r.AuthKDF.OrDefault(DefaultAuthKDF).KeyLength)); err != nil {
		return
	}
	if err = (Sealed{r.EncryptedMasterKey, r.EncryptedMasterKeyNonce}).Validate("encryptedMasterKey"); err != nil {
		return
	}
	if err = r.PublicKey.Expect("publicKey", KeySize); err != nil {
		return
	}
	return ProtectedKey{
		Sealed: Sealed{r.EncryptedPrivateKey, r.EncryptedPrivateKeyNonce},
		Salt:   r.EncryptedPrivateKeySalt,
	}.Validate("encryptedPrivateKey")
}

// CredentialEnvelope is returned by verify-password so the client can prove
// it can still unwrap the master key before rotating the password.
type CredentialEnvelope struct {
	EncryptedMasterKey      HexBytes `json:"encryptedMasterKey"`
	EncryptedMasterKeyNonce HexBytes `json:"encryptedMasterKeyNonce"`
	EncSalt                 HexBytes `json:"saltEncryption"`
}

func (c CredentialEnvelope) MasterKey() Sealed {
	return Sealed{Ciphertext: c.EncryptedMasterKey, Nonce: c.EncryptedMasterKeyNonce}
}

type PasswordUpdateRequest struct {
	Email                   string    `json:"email"`
	CurrentAuthHash         HexBytes  `json:"currentAuthHash"`
	Salt                    HexBytes  `json:"salt"`
	AuthSalt                HexBytes  `json:"authSalt"`
	EncSalt                 HexBytes  `json:"encSalt"`
	KDF                     KDFParams `json:"kdf"`
	AuthKDF                 KDFParams `json:"authKdf"`
	HashedAuthenticationKey HexBytes  `json:"hashedAuthenticationKey"`
	EncryptedMasterKey      HexBytes  `json:"encryptedMasterKey"`
	EncryptedMasterKeyNonce HexBytes  `json:"encryptedMasterKeyNonce"`
}

func (r PasswordUpdateRequest) Validate() (err error) {
	if r.CurrentAuthHash.IsZero() {
		return ValidationError{Field: "currentAuthHash", Reason: "value is empty"}
	}
	for field, salt := range map[string]HexBytes{"salt": r.Salt, "authSalt": r.AuthSalt, "encSalt": r.EncSalt} {
		if err = salt.Expect(field, SaltSize); err != nil {
			return
		}
	}
	if err = r.HashedAuthenticationKey.Expect("hashedAuthenticationKey", int(r.AuthKDF.OrDefault(DefaultAuthKDF).KeyLength)); err != nil {
		return
	}
	return (Sealed{r.EncryptedMasterKey, r.EncryptedMasterKeyNonce}).Validate("encryptedMasterKey")
}

type SessionStatus struct {
	Valid bool   `json:"isValid"`
	Email string `json:"email,omitempty"`
}

type FileUploadRequest struct {
	FileName     string   `json:"fileName"`
	FileSize     int64    `json:"fileSizeBytes"`
	ContentType  string   `json:"contentType"`
	WrappedKey   HexBytes `json:"wrappedKey"`
	KeyNonce     HexBytes `json:"keyNonce"`
	ContentNonce HexBytes `json:"contentNonce"`
	AuthTag      HexBytes `json:"authTag"`
}

func (r FileUploadRequest) Validate() (err error) {
	if r.FileName == "" {
		return ValidationError{Field: "fileName", Reason: "value is empty"}
	}
	if r.FileSize < 0 {
		return ValidationError{Field: "fileSizeBytes", Reason: "value is negative"}
	}
	if err = r.ContentNonce.Expect("contentNonce", NonceSize); err != nil {
		return
	}
	if err = r.AuthTag.Expect("authTag", TagSize); err != nil {
		return
	}
	return OwnerEnvelope(r.WrappedKey, r.KeyNonce).Validate()
}

type FileUploadResponse struct {
	FileID   string `json:"fileId"`
	FileName string `json:"fileName"`
}

// FileInfo is a single entry of a file listing
type FileInfo struct {
	ID          string    `json:"id"`
	FileName    string    `json:"fileName"`
	FileSize    int64     `json:"fileSizeBytes"`
	ContentType string    `json:"contentType"`
	CreatedAt   time.Time `json:"createdAt"`
	Owner       string    `json:"owner"`
	Transferred bool      `json:"transferred"`
}

type UserFilesResponse struct {
	Files      []FileInfo `json:"files"`
	TotalFiles int        `json:"totalFiles"`
}

// FileMetadata is the caller's view of a stored file, including the
// caller's own key envelope.
type FileMetadata struct {
	FileInfo
	WrappedKey      HexBytes `json:"wrappedKey"`
	KeyNonce        HexBytes `json:"keyNonce"`
	ContentNonce    HexBytes `json:"contentNonce"`
	AuthTag         HexBytes `json:"authTag"`
	SenderPublicKey HexBytes `json:"senderPublicKey,omitempty"`
}

// Envelope converts the wire representation into a tagged envelope.
//
// The presence of a sender public key is the only thing that marks a file as
// transferred.
func (m FileMetadata) Envelope() (env FileKeyEnvelope, err error) {
	if m.SenderPublicKey.IsZero() {
		env = OwnerEnvelope(m.WrappedKey, m.KeyNonce)
	} else {
		env = TransferEnvelope(m.WrappedKey, m.KeyNonce, m.SenderPublicKey)
	}
	err = env.Validate()
	return
}

func (m FileMetadata) Validate() error {
	if err := m.ContentNonce.Expect("contentNonce", NonceSize); err != nil {
		return err
	}
	if err := m.AuthTag.Expect("authTag", TagSize); err != nil {
		return err
	}
	_, err := m.Envelope()
	return err
}

type FileTransferRequest struct {
	FileID          string   `json:"fileId"`
	RecipientEmail  string   `json:"recipientEmail"`
	NewWrappedKey   HexBytes `json:"newWrappedKey"`
	NewKeyNonce     HexBytes `json:"newKeyNonce"`
	SenderPublicKey HexBytes `json:"senderPublicKey"`
}

func (r FileTransferRequest) Envelope() FileKeyEnvelope {
	return TransferEnvelope(r.NewWrappedKey, r.NewKeyNonce, r.SenderPublicKey)
}

func (r FileTransferRequest) Validate() error {
	if r.FileID == "" {
		return ValidationError{Field: "fileId", Reason: "value is empty"}
	}
	if r.RecipientEmail == "" {
		return ValidationError{Field: "recipientEmail", Reason: "value is empty"}
	}
	return r.Envelope().Validate()
}

type PublicKeyResponse struct {
	PublicKey HexBytes `json:"publicKey"`
}
