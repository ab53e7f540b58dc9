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
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/notapipeline/fvault/pkg/types"
)

type ErrBase struct {
	Code int
	Body []byte
}

type ErrStatusCode ErrBase

func (e *ErrStatusCode) Error() string {
	return message(e.Code, e.Body)
}

type ErrBadRequest ErrBase

func (e *ErrBadRequest) Error() string {
	return message(e.Code, e.Body)
}

type ErrUnauthorized ErrBase

func (e *ErrUnauthorized) Error() string {
	return message(e.Code, e.Body)
}

type ErrForbidden ErrBase

func (e *ErrForbidden) Error() string {
	return message(e.Code, e.Body)
}

type ErrNotFound ErrBase

func (e *ErrNotFound) Error() string {
	return message(e.Code, e.Body)
}

type ErrConflict ErrBase

func (e *ErrConflict) Error() string {
	return message(e.Code, e.Body)
}

type ErrTooLarge ErrBase

func (e *ErrTooLarge) Error() string {
	return message(e.Code, e.Body)
}

type ErrTooManyRequests ErrBase

func (e *ErrTooManyRequests) Error() string {
	return message(e.Code, e.Body)
}

type ErrInternal ErrBase

func (e *ErrInternal) Error() string {
	return message(e.Code, e.Body)
}

type ErrUnknown ErrBase

func (e *ErrUnknown) Error() string {
	return message(e.Code, e.Body)
}

// message prefers the message carried in an ApiResponse body
func message(code int, body []byte) string {
	var r types.ApiResponse
	if err := json.Unmarshal(body, &r); err == nil && r.Message != "" {
		return fmt.Sprintf("%s: %s", http.StatusText(code), r.Message)
	}
	return fmt.Sprintf("%s: %s", http.StatusText(code), body)
}

// statusError maps a failed response onto a typed error. Client errors
// other than 429 are wrapped as permanent so they are not retried.
func statusError(code int, body []byte) error {
	var err error
	switch code {
	case http.StatusBadRequest:
		err = &ErrBadRequest{code, body}
	case http.StatusUnauthorized:
		err = &ErrUnauthorized{code, body}
	case http.StatusForbidden:
		err = &ErrForbidden{code, body}
	case http.StatusNotFound:
		err = &ErrNotFound{code, body}
	case http.StatusConflict:
		err = &ErrConflict{code, body}
	case http.StatusRequestEntityTooLarge:
		err = &ErrTooLarge{code, body}
	case http.StatusTooManyRequests:
		return &ErrTooManyRequests{code, body}
	case http.StatusInternalServerError:
		return &ErrInternal{code, body}
	default:
		if code >= 500 {
			return &ErrStatusCode{code, body}
		}
		err = &ErrUnknown{code, body}
	}
	return backoff.Permanent(err)
}

// ErrorCode returns the errorCode of the ApiResponse carried by a client
// error, or an empty string.
func ErrorCode(err error) string {
	var (
		body []byte
		br   *ErrBadRequest
		ua   *ErrUnauthorized
		nf   *ErrNotFound
		cf   *ErrConflict
	)
	switch {
	case errors.As(err, &br):
		body = br.Body
	case errors.As(err, &ua):
		body = ua.Body
	case errors.As(err, &nf):
		body = nf.Body
	case errors.As(err, &cf):
		body = cf.Body
	default:
		return ""
	}

	var r types.ApiResponse
	if json.Unmarshal(body, &r) != nil {
		return ""
	}
	return r.ErrorCode
}
