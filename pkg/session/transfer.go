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

	"github.com/notapipeline/fvault/pkg/crypto"
	"github.com/notapipeline/fvault/pkg/types"
)

// Recipient is the target of a transfer. An empty PublicKey means the
// backend has no key on file for Email.
//
// Err carries a failed key lookup so it is reported against this recipient
// alone.
type Recipient struct {
	Email     string
	PublicKey types.HexBytes
	Err       error
}

func (r Recipient) validate() error {
	if r.Err != nil {
		return r.Err
	}
	if len(r.PublicKey) == 0 {
		return types.RecipientNotFoundError{Recipient: r.Email}
	}
	return r.PublicKey.Expect("recipient public key", types.KeySize)
}

// TransferResult is the outcome of preparing a transfer for one recipient
type TransferResult struct {
	Recipient string
	Request   types.FileTransferRequest
	Err       error
}

// PrepareTransfer re-wraps the content key held in env for a single
// recipient. The file body is never touched.
func PrepareTransfer(ctx context.Context, fileID string, env types.FileKeyEnvelope, recipient Recipient, s *UnlockedSession) (types.FileTransferRequest, error) {
	results, err := PrepareTransfers(ctx, fileID, env, []Recipient{recipient}, s)
	if err != nil {
		return types.FileTransferRequest{}, err
	}
	return results[0].Request, results[0].Err
}

// PrepareTransfers unwraps the content key once and wraps it for each
// recipient in turn.
//
// The returned error is only set when the caller's own envelope cannot be
// opened. Failures for individual recipients are reported in their result
// and do not stop the others.
func PrepareTransfers(ctx context.Context, fileID string, env types.FileKeyEnvelope, recipients []Recipient, s *UnlockedSession) ([]TransferResult, error) {
	if s == nil || s.locked() {
		return nil, types.KeyNotFoundError{}
	}
	if fileID == "" {
		return nil, types.ValidationError{Field: "fileId", Reason: "value is empty"}
	}

	var (
		results []TransferResult = make([]TransferResult, len(recipients))
		valid   int
	)
	for i, r := range recipients {
		results[i].Recipient = r.Email
		if results[i].Err = r.validate(); results[i].Err == nil {
			valid++
		}
	}

	// no key material is touched unless at least one recipient can receive it
	if valid == 0 {
		return results, nil
	}

	contentKey, err := crypto.UnwrapEnvelope(env, s.masterKey, s.privateKey)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(contentKey)

	for i, r := range recipients {
		if results[i].Err != nil {
			continue
		}
		if err = ctx.Err(); err != nil {
			results[i].Err = err
			continue
		}

		var wrapped types.FileKeyEnvelope
		if wrapped, err = crypto.WrapForRecipient(contentKey, s.privateKey, r.PublicKey); err != nil {
			results[i].Err = err
			continue
		}
		results[i].Request = types.FileTransferRequest{
			FileID:          fileID,
			RecipientEmail:  r.Email,
			NewWrappedKey:   wrapped.WrappedKey,
			NewKeyNonce:     wrapped.KeyNonce,
			SenderPublicKey: wrapped.SenderPublicKey,
		}
	}
	return results, nil
}
