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
package vault

import (
	"context"
	"errors"
	"net/http"

	"github.com/notapipeline/fvault/pkg/logging"
	"github.com/notapipeline/fvault/pkg/session"
	"github.com/notapipeline/fvault/pkg/types"
)

// Upload encrypts body under a fresh content key and stores it
func (v *Vault) Upload(ctx context.Context, fileName, contentType string, body []byte) (resp types.FileUploadResponse, err error) {
	var upload *session.Upload
	if err = v.sessions.With(ctx, func(s *session.UnlockedSession) (err error) {
		upload, err = session.EncryptForUpload(ctx, body, s)
		return
	}); err != nil {
		return
	}

	authed, err := v.token(ctx)
	if err != nil {
		return
	}

	if err = v.client.Post(authed, v.url("files", "upload"), types.Expect(&resp), upload.Request(fileName, contentType)); err != nil {
		return
	}
	if err = v.client.PutBytes(authed, v.url("files", "upload", "content", resp.FileID), nil, upload.Content); err != nil {
		return
	}

	logging.Debug(ctx, "uploaded", "id", resp.FileID, "name", fileName, "size", upload.Size)
	return
}

func (v *Vault) Files(ctx context.Context) (files types.UserFilesResponse, err error) {
	var authed context.Context
	if authed, err = v.token(ctx); err != nil {
		return
	}
	err = v.client.Get(authed, v.url("files"), types.Expect(&files))
	return
}

// Metadata returns the caller's view of a file including its own envelope
func (v *Vault) Metadata(ctx context.Context, id string) (metadata types.FileMetadata, err error) {
	var authed context.Context
	if authed, err = v.token(ctx); err != nil {
		return
	}
	err = v.client.Get(authed, v.url("files", id), types.Expect(&metadata))
	return
}

// Download fetches and decrypts a file. Owner and transferred files are
// handled alike, the envelope recorded for the caller decides which key is
// used.
func (v *Vault) Download(ctx context.Context, id string) (body []byte, metadata types.FileMetadata, err error) {
	if metadata, err = v.Metadata(ctx, id); err != nil {
		return
	}

	var (
		authed  context.Context
		content []byte
	)
	if authed, err = v.token(ctx); err != nil {
		return
	}
	if content, err = v.client.GetBytes(authed, v.url("files", id, "content")); err != nil {
		return
	}

	err = v.sessions.With(ctx, func(s *session.UnlockedSession) (err error) {
		body, err = session.DecryptDownload(ctx, content, metadata, s)
		return
	})
	return
}

func (v *Vault) Delete(ctx context.Context, id string) error {
	authed, err := v.token(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(authed, http.MethodDelete, v.url("files", id), nil)
	if err != nil {
		return err
	}
	return v.client.DoWithBackoff(authed, req, nil)
}

// PublicKey looks up the identity public key of email
func (v *Vault) PublicKey(ctx context.Context, email string) (types.HexBytes, error) {
	authed, err := v.token(ctx)
	if err != nil {
		return nil, err
	}

	var resp types.PublicKeyResponse
	if err = v.client.Get(authed, v.url("users", "public-key", "email", email), types.Expect(&resp)); err != nil {
		return nil, apiError(err, email)
	}
	if err = resp.PublicKey.Expect("publicKey", types.KeySize); err != nil {
		return nil, err
	}
	return resp.PublicKey, nil
}

// Transfer shares a file with each of emails.
//
// Recipients are handled independently: one recipient failing does not stop
// the others. The returned error is only set when nothing could be
// attempted.
func (v *Vault) Transfer(ctx context.Context, id string, emails []string) ([]session.TransferResult, error) {
	metadata, err := v.Metadata(ctx, id)
	if err != nil {
		return nil, err
	}
	env, err := metadata.Envelope()
	if err != nil {
		return nil, err
	}

	var recipients []session.Recipient = make([]session.Recipient, 0, len(emails))
	for _, email := range emails {
		var recipient session.Recipient = session.Recipient{Email: email}
		if recipient.PublicKey, err = v.PublicKey(ctx, email); err != nil {
			var knf types.KeyNotFoundError
			if ctx.Err() != nil || errors.As(err, &knf) {
				return nil, err
			}
			recipient.Err = err
		}
		recipients = append(recipients, recipient)
	}

	var results []session.TransferResult
	if err = v.sessions.With(ctx, func(s *session.UnlockedSession) (err error) {
		results, err = session.PrepareTransfers(ctx, id, env, recipients, s)
		return
	}); err != nil {
		return nil, err
	}

	authed, err := v.token(ctx)
	if err != nil {
		return nil, err
	}
	for i := range results {
		if results[i].Err != nil {
			logging.Warn(ctx, "transfer skipped", "id", id, "to", results[i].Recipient, "error", results[i].Err)
			continue
		}
		err = v.client.Post(authed, v.url("files", "transfer"), nil, results[i].Request)
		if results[i].Err = apiError(err, results[i].Recipient); results[i].Err == nil {
			logging.Info(ctx, "transferred", "id", id, "to", results[i].Recipient)
		}
	}
	return results, nil
}
