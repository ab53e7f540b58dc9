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
	"bytes"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/notapipeline/fvault/pkg/store"
	"github.com/notapipeline/fvault/pkg/types"
)

var errRecipientNotFound = &apiError{http.StatusNotFound, types.ErrorCodeRecipientNotFound, "recipient not found"}

// readable returns the file if email holds a grant on it. Files the caller
// cannot read are reported as missing.
func (s *HttpServer) readable(id, email string) (*types.FileRecord, types.FileMetadata, error) {
	rec, err := s.store.File(id)
	if err != nil {
		return nil, types.FileMetadata{}, err
	}
	metadata, ok := rec.Metadata(email)
	if !ok || !rec.Uploaded {
		return nil, types.FileMetadata{}, store.ErrFileNotFound
	}
	return rec, metadata, nil
}

func (s *HttpServer) listFiles(w http.ResponseWriter, r *http.Request, email string) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	records, err := s.store.Files(email)
	if err != nil {
		s.writeResponseError(w, err)
		return
	}

	var files []types.FileInfo = make([]types.FileInfo, 0, len(records))
	for i := range records {
		files = append(files, records[i].Info(email))
	}
	s.writeResponse(w, http.StatusOK, "", types.UserFilesResponse{
		Files:      files,
		TotalFiles: len(files),
	})
}

// createFile records the metadata and owner envelope of a new file. The
// content is uploaded separately.
func (s *HttpServer) createFile(w http.ResponseWriter, r *http.Request, email string) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req types.FileUploadRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeResponseError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.writeResponseError(w, err)
		return
	}
	if req.FileSize > s.maxUpload() {
		s.writeResponseError(w, &apiError{
			http.StatusRequestEntityTooLarge, types.ErrorCodeValidation,
			fmt.Sprintf("file exceeds the maximum upload size of %d bytes", s.maxUpload()),
		})
		return
	}

	rec, err := s.store.CreateFile(email, req)
	if err != nil {
		s.writeResponseError(w, err)
		return
	}

	s.log.Debug("created file", "id", rec.ID, "owner", email)
	s.writeResponse(w, http.StatusCreated, "", types.FileUploadResponse{
		FileID:   rec.ID,
		FileName: rec.FileName,
	})
}

// uploadContent stores the body ciphertext with its trailing tag
func (s *HttpServer) uploadContent(w http.ResponseWriter, r *http.Request, email string) {
	if !allowMethod(w, r, http.MethodPut, http.MethodPost) {
		return
	}

	var id string = strings.TrimPrefix(r.URL.Path, "/api/v1/files/upload/content/")
	if id == "" || strings.Contains(id, "/") {
		s.writeResponseError(w, store.ErrFileNotFound)
		return
	}

	rec, err := s.store.File(id)
	if err == nil && rec.Owner != email {
		err = store.ErrFileNotFound
	}
	if err != nil {
		s.writeResponseError(w, err)
		return
	}

	content, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxUpload()+types.TagSize))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			err = &apiError{http.StatusRequestEntityTooLarge, types.ErrorCodeValidation, "content exceeds the maximum upload size"}
		}
		s.writeResponseError(w, err)
		return
	}

	if int64(len(content)) != rec.FileSize+types.TagSize {
		s.writeResponseError(w, types.ValidationError{
			Field:  "content",
			Reason: types.LengthMismatch(int(rec.FileSize+types.TagSize), len(content)),
		})
		return
	}
	if subtle.ConstantTimeCompare(content[len(content)-types.TagSize:], rec.AuthTag) != 1 {
		s.writeResponseError(w, types.ValidationError{Field: "content", Reason: "trailing tag does not match the file metadata"})
		return
	}

	if err = s.store.PutContent(id, email, content); err != nil {
		s.writeResponseError(w, err)
		return
	}
	s.writeResponse(w, http.StatusOK, "content uploaded", types.FileUploadResponse{
		FileID:   rec.ID,
		FileName: rec.FileName,
	})
}

// file serves /files/{id} and /files/{id}/content
func (s *HttpServer) file(w http.ResponseWriter, r *http.Request, email string) {
	var (
		parts   []string = strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v1/files/"), "/")
		id      string   = parts[0]
		content bool     = len(parts) == 2 && parts[1] == "content"
	)
	if id == "" || len(parts) > 2 || (len(parts) == 2 && !content) {
		s.writeResponseError(w, &apiError{http.StatusNotFound, types.ErrorCodeNotFound, "no such endpoint"})
		return
	}

	if content {
		s.fileContent(w, r, id, email)
		return
	}

	if !allowMethod(w, r, http.MethodGet, http.MethodDelete) {
		return
	}

	if r.Method == http.MethodDelete {
		if err := s.store.DeleteFile(id, email); err != nil {
			s.writeResponseError(w, err)
			return
		}
		s.writeResponse(w, http.StatusOK, "file deleted", nil)
		return
	}

	_, metadata, err := s.readable(id, email)
	if err != nil {
		s.writeResponseError(w, err)
		return
	}
	s.writeResponse(w, http.StatusOK, "", metadata)
}

func (s *HttpServer) fileContent(w http.ResponseWriter, r *http.Request, id, email string) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	if _, _, err := s.readable(id, email); err != nil {
		s.writeResponseError(w, err)
		return
	}

	content, err := s.store.Content(id)
	if err != nil {
		s.writeResponseError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(content)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(content)
}

// transfer grants a recipient access with an envelope the sender wrapped
// under the shared secret of their key pairs
func (s *HttpServer) transfer(w http.ResponseWriter, r *http.Request, email string) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var req types.FileTransferRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeResponseError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		s.writeResponseError(w, err)
		return
	}

	if _, _, err := s.readable(req.FileID, email); err != nil {
		s.writeResponseError(w, err)
		return
	}

	sender, err := s.store.Account(email)
	if err != nil {
		s.writeResponseError(w, err)
		return
	}
	if !bytes.Equal(sender.PublicKey, req.SenderPublicKey) {
		s.writeResponseError(w, types.ValidationError{Field: "senderPublicKey", Reason: "does not belong to the caller"})
		return
	}

	recipient, err := s.store.Account(req.RecipientEmail)
	if errors.Is(err, store.ErrAccountNotFound) {
		err = errRecipientNotFound
	}
	if err != nil {
		s.writeResponseError(w, err)
		return
	}

	err = s.store.AddGrant(req.FileID, types.FileGrant{
		Email:           recipient.Email,
		WrappedKey:      req.NewWrappedKey,
		KeyNonce:        req.NewKeyNonce,
		SenderPublicKey: req.SenderPublicKey,
	})
	if err != nil {
		s.writeResponseError(w, err)
		return
	}

	s.log.Info("file transferred", "id", req.FileID, "from", email, "to", recipient.Email)
	s.writeResponse(w, http.StatusOK, "file transferred", nil)
}

func (s *HttpServer) publicKey(w http.ResponseWriter, r *http.Request, _ string) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	email, err := url.PathUnescape(strings.TrimPrefix(r.URL.Path, "/api/v1/users/public-key/email/"))
	if err != nil || email == "" {
		s.writeResponseError(w, types.ValidationError{Field: "email", Reason: "value is empty"})
		return
	}

	account, err := s.store.Account(email)
	if errors.Is(err, store.ErrAccountNotFound) {
		err = errRecipientNotFound
	}
	if err != nil {
		s.writeResponseError(w, err)
		return
	}
	s.writeResponse(w, http.StatusOK, "", types.PublicKeyResponse{PublicKey: account.PublicKey})
}
