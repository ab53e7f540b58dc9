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
package server

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/notapipeline/fvault/pkg/crypto"
	"github.com/notapipeline/fvault/pkg/store"
	"github.com/notapipeline/fvault/pkg/types"
)

// checkAuthHash compares the verifier of authHash with the stored one
func checkAuthHash(account *types.Account, authHash []byte) error {
	if len(authHash) == 0 {
		return errInvalidCredentials
	}
	if subtle.ConstantTimeCompare(crypto.AuthVerifier(authHash), account.Credentials.AuthVerifier) != 1 {
		return errInvalidCredentials
	}
	return nil
}

func checkKDF(params ...types.KDFParams) error {
	for _, p := range params {
		if p.IsZero() {
			continue
		}
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// register stores a new account and logs it straight in
func (s *HttpServer) register(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req types.RegisterRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeResponseError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.writeResponseError(w, err)
		return
	}
	if err := checkKDF(req.KDF, req.AuthKDF); err != nil {
		s.writeResponseError(w, err)
		return
	}

	var account *types.Account = &types.Account{
		Email: req.Email,
		Name:  req.Name,
		Credentials: types.Credentials{
			Salt:                    req.Salt,
			AuthSalt:                req.AuthSalt,
			EncSalt:                 req.EncSalt,
			KDF:                     req.KDF.OrDefault(types.DefaultPasswordKDF),
			AuthKDF:                 req.AuthKDF.OrDefault(types.DefaultAuthKDF),
			AuthVerifier:            crypto.AuthVerifier(req.HashedAuthenticationKey),
			EncryptedMasterKey:      req.EncryptedMasterKey,
			EncryptedMasterKeyNonce: req.EncryptedMasterKeyNonce,
		},
		PublicKey: req.PublicKey,
		Identity: types.ProtectedKey{
			Sealed: types.Sealed{Ciphertext: req.EncryptedPrivateKey, Nonce: req.EncryptedPrivateKeyNonce},
			Salt:   req.EncryptedPrivateKeySalt,
		},
	}

	if err := s.store.CreateAccount(account); err != nil {
		s.writeResponseError(w, err)
		return
	}

	token, err := s.store.NewSession(account.Email)
	if err != nil {
		s.writeResponseError(w, err)
		return
	}

	s.log.Info("registered account", "email", account.Email)
	s.writeResponse(w, http.StatusCreated, "account created", account.LoginResponse(token))
}

// initLogin returns the salts and kdf parameters an account was registered
// with
func (s *HttpServer) initLogin(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req types.LoginInitRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeResponseError(w, err)
		return
	}

	account, err := s.store.Account(req.Email)
	if err != nil {
		s.writeResponseError(w, err)
		return
	}
	s.writeResponse(w, http.StatusOK, "", account.Challenge())
}

func (s *HttpServer) login(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req types.LoginRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeResponseError(w, err)
		return
	}

	account, err := s.store.Account(req.Email)
	if errors.Is(err, store.ErrAccountNotFound) {
		err = errInvalidCredentials
	}
	if err == nil {
		err = checkAuthHash(account, req.AuthHash)
	}
	if err != nil {
		s.log.Warn("failed login", "email", req.Email)
		s.writeResponseError(w, err)
		return
	}

	token, err := s.store.NewSession(account.Email)
	if err != nil {
		s.writeResponseError(w, err)
		return
	}
	s.writeResponse(w, http.StatusOK, "", account.LoginResponse(token))
}

// verifyPassword re-checks the auth hash of a logged in account and returns
// its credential envelope
func (s *HttpServer) verifyPassword(w http.ResponseWriter, r *http.Request, email string) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req types.LoginRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeResponseError(w, err)
		return
	}

	account, err := s.store.Account(email)
	if err == nil {
		err = checkAuthHash(account, req.AuthHash)
	}
	if err != nil {
		s.writeResponseError(w, err)
		return
	}

	s.writeResponse(w, http.StatusOK, "", types.CredentialEnvelope{
		EncryptedMasterKey:      account.Credentials.EncryptedMasterKey,
		EncryptedMasterKeyNonce: account.Credentials.EncryptedMasterKeyNonce,
		EncSalt:                 account.Credentials.EncSalt,
	})
}

// updatePassword replaces the credential record. The key pair is untouched
// as it is protected by the master key which does not change.
func (s *HttpServer) updatePassword(w http.ResponseWriter, r *http.Request, email string) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req types.PasswordUpdateRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeResponseError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.writeResponseError(w, err)
		return
	}
	if err := checkKDF(req.KDF, req.AuthKDF); err != nil {
		s.writeResponseError(w, err)
		return
	}

	account, err := s.store.Account(email)
	if err == nil {
		err = checkAuthHash(account, req.CurrentAuthHash)
	}
	if err != nil {
		s.writeResponseError(w, err)
		return
	}

	err = s.store.UpdateCredentials(email, types.Credentials{
		Salt:                    req.Salt,
		AuthSalt:                req.AuthSalt,
		EncSalt:                 req.EncSalt,
		KDF:                     req.KDF.OrDefault(account.Credentials.KDF),
		AuthKDF:                 req.AuthKDF.OrDefault(account.Credentials.AuthKDF),
		AuthVerifier:            crypto.AuthVerifier(req.HashedAuthenticationKey),
		EncryptedMasterKey:      req.EncryptedMasterKey,
		EncryptedMasterKeyNonce: req.EncryptedMasterKeyNonce,
	})
	if err != nil {
		s.writeResponseError(w, err)
		return
	}

	s.log.Info("password updated", "email", email)
	s.writeResponse(w, http.StatusOK, "password updated", nil)
}

// logout revokes the token. Unknown tokens are not an error.
func (s *HttpServer) logout(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var token string = bearer(r)
	if token == "" {
		s.writeResponseError(w, errMissingToken)
		return
	}
	if err := s.store.RevokeSession(token); err != nil {
		s.writeResponseError(w, err)
		return
	}
	s.writeResponse(w, http.StatusOK, "logged out", nil)
}

func (s *HttpServer) verifySession(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	email, err := s.store.SessionEmail(bearer(r))
	if err != nil && !errors.Is(err, store.ErrSessionNotFound) {
		s.writeResponseError(w, err)
		return
	}
	s.writeResponse(w, http.StatusOK, "", types.SessionStatus{
		Valid: email != "",
		Email: email,
	})
}
