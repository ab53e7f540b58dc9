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
package session

import (
	"context"
	"crypto/subtle"

	"github.com/notapipeline/fvault/pkg/crypto"
	"github.com/notapipeline/fvault/pkg/types"
)

// Upload is an encrypted file ready to be sent to the backend.
//
// Content is the body ciphertext with the tag appended. The tag is also
// carried separately in the metadata.
type Upload struct {
	Envelope     types.FileKeyEnvelope
	Content      []byte
	ContentNonce types.HexBytes
	AuthTag      types.HexBytes
	Size         int64
}

// Request builds the metadata half of the upload
func (u *Upload) Request(fileName, contentType string) types.FileUploadRequest {
	return types.FileUploadRequest{
		FileName:     fileName,
		FileSize:     u.Size,
		ContentType:  contentType,
		WrappedKey:   u.Envelope.WrappedKey,
		KeyNonce:     u.Envelope.KeyNonce,
		ContentNonce: u.ContentNonce,
		AuthTag:      u.AuthTag,
	}
}

// EncryptForUpload encrypts body under a fresh content key and wraps that
// key for the owner.
func EncryptForUpload(ctx context.Context, body []byte, s *UnlockedSession) (*Upload, error) {
	if s == nil || s.locked() {
		return nil, types.KeyNotFoundError{}
	}

	contentKey, err := crypto.NewContentKey()
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(contentKey)

	ciphertext, nonce, tag, err := crypto.EncryptBody(body, contentKey)
	if err != nil {
		return nil, err
	}
	if err = ctx.Err(); err != nil {
		return nil, err
	}

	wrapped, keyNonce, err := crypto.WrapContentKey(contentKey, s.masterKey)
	if err != nil {
		return nil, err
	}

	var content []byte = make([]byte, 0, len(ciphertext)+len(tag))
	content = append(content, ciphertext...)
	content = append(content, tag...)

	return &Upload{
		Envelope:     types.OwnerEnvelope(wrapped, keyNonce),
		Content:      content,
		ContentNonce: nonce,
		AuthTag:      tag,
		Size:         int64(len(body)),
	}, nil
}

// DecryptDownload recovers the plaintext of a downloaded file.
//
// The envelope kind recorded in metadata decides which key unwraps the
// content key. A trailing tag that differs from the recorded tag is treated
// exactly like a failed tag check.
func DecryptDownload(ctx context.Context, content []byte, metadata types.FileMetadata, s *UnlockedSession) ([]byte, error) {
	if s == nil || s.locked() {
		return nil, types.KeyNotFoundError{}
	}
	if err := metadata.Validate(); err != nil {
		return nil, err
	}
	if len(content) < types.TagSize {
		return nil, types.ValidationError{
			Field:  "content",
			Reason: "shorter than the 16 byte tag",
		}
	}

	var (
		split      int    = len(content) - types.TagSize
		ciphertext []byte = content[:split:split]
		tag        []byte = content[split:]
	)
	if subtle.ConstantTimeCompare(tag, metadata.AuthTag) != 1 {
		return nil, types.DecryptionError{Reason: types.ReasonTagMismatch, What: "file body"}
	}

	env, err := metadata.Envelope()
	if err != nil {
		return nil, err
	}

	contentKey, err := crypto.UnwrapEnvelope(env, s.masterKey, s.privateKey)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(contentKey)

	if err = ctx.Err(); err != nil {
		return nil, err
	}
	return crypto.DecryptBody(ciphertext, metadata.ContentNonce, tag, contentKey)
}
