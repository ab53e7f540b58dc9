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

import "time"

// Credentials is the server-held credential record for an account.
//
// AuthVerifier is SHA-256 of the authentication hash sent by the client. The
// raw value is never stored.
type Credentials struct {
	Salt                    HexBytes  `json:"salt"`
	AuthSalt                HexBytes  `json:"authSalt"`
	EncSalt                 HexBytes  `json:"encSalt"`
	KDF                     KDFParams `json:"kdf"`
	AuthKDF                 KDFParams `json:"authKdf"`
	AuthVerifier            HexBytes  `json:"authVerifier"`
	EncryptedMasterKey      HexBytes  `json:"encryptedMasterKey"`
	EncryptedMasterKeyNonce HexBytes  `json:"encryptedMasterKeyNonce"`
}

type Account struct {
	Email       string       `json:"email"`
	Name        string       `json:"name,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	Credentials Credentials  `json:"credentials"`
	PublicKey   HexBytes     `json:"publicKey"`
	Identity    ProtectedKey `json:"identity"`
}

func (a *Account) Challenge() LoginChallenge {
	return LoginChallenge{
		Salt:     a.Credentials.Salt,
		AuthSalt: a.Credentials.AuthSalt,
		KDF:      a.Credentials.KDF,
		AuthKDF:  a.Credentials.AuthKDF,
	}
}

func (a *Account) LoginResponse(token string) LoginResponse {
	return LoginResponse{
		Token:                    token,
		EncryptedMasterKey:       a.Credentials.EncryptedMasterKey,
		EncryptedMasterKeyNonce:  a.Credentials.EncryptedMasterKeyNonce,
		EncSalt:                  a.Credentials.EncSalt,
		PublicKey:                a.PublicKey,
		EncryptedPrivateKey:      a.Identity.Ciphertext,
		EncryptedPrivateKeyNonce: a.Identity.Nonce,
		EncryptedPrivateKeySalt:  a.Identity.Salt,
	}
}

// FileGrant is one party's key envelope for a stored file
type FileGrant struct {
	Email           string    `json:"email"`
	WrappedKey      HexBytes  `json:"wrappedKey"`
	KeyNonce        HexBytes  `json:"keyNonce"`
	SenderPublicKey HexBytes  `json:"senderPublicKey,omitempty"`
	GrantedAt       time.Time `json:"grantedAt"`
}

type FileRecord struct {
	ID           string               `json:"id"`
	Owner        string               `json:"owner"`
	FileName     string               `json:"fileName"`
	FileSize     int64                `json:"fileSizeBytes"`
	ContentType  string               `json:"contentType"`
	CreatedAt    time.Time            `json:"createdAt"`
	ContentNonce HexBytes             `json:"contentNonce"`
	AuthTag      HexBytes             `json:"authTag"`
	Uploaded     bool                 `json:"uploaded"`
	Grants       map[string]FileGrant `json:"grants"`
}

func (f *FileRecord) Info(email string) FileInfo {
	return FileInfo{
		ID:          f.ID,
		FileName:    f.FileName,
		FileSize:    f.FileSize,
		ContentType: f.ContentType,
		CreatedAt:   f.CreatedAt,
		Owner:       f.Owner,
		Transferred: email != f.Owner,
	}
}

// Metadata returns the file as seen by email. The second return value is
// false when email holds no grant on the file.
func (f *FileRecord) Metadata(email string) (FileMetadata, bool) {
	grant, ok := f.Grants[email]
	if !ok {
		return FileMetadata{}, false
	}
	return FileMetadata{
		FileInfo:        f.Info(email),
		WrappedKey:      grant.WrappedKey,
		KeyNonce:        grant.KeyNonce,
		ContentNonce:    f.ContentNonce,
		AuthTag:         f.AuthTag,
		SenderPublicKey: grant.SenderPublicKey,
	}, true
}
