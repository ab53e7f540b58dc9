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
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	backoff "github.com/cenkalti/backoff/v4"
)

type MockHttpResponse struct {
	Code int
	Body []byte
}

// MockHttpRequest records a call made against the mock
type MockHttpRequest struct {
	Method string
	URL    string
	Token  string
	Body   []byte
}

// MockHttpClient is a mock implementation of the HttpClient interface
// Useful for testing requests throughout the application
type MockHttpClient struct {
	sync.Mutex
	Responses []MockHttpResponse
	Requests  []MockHttpRequest
}

func (m *MockHttpClient) record(ctx context.Context, method, urlstr string, body []byte) {
	m.Lock()
	defer m.Unlock()
	token, _ := ctx.Value(AuthToken{}).(string)
	m.Requests = append(m.Requests, MockHttpRequest{method, urlstr, token, body})
}

func (m *MockHttpClient) Get(ctx context.Context, urlstr string, recv any) error {
	m.record(ctx, http.MethodGet, urlstr, nil)
	return m.DoWithBackoff(ctx, nil, recv)
}

func (m *MockHttpClient) GetBytes(ctx context.Context, urlstr string) (body []byte, err error) {
	err = m.Get(ctx, urlstr, &body)
	return
}

func (m *MockHttpClient) Post(ctx context.Context, urlstr string, recv, send any) error {
	b, _ := json.Marshal(send)
	m.record(ctx, http.MethodPost, urlstr, b)
	return m.DoWithBackoff(ctx, nil, recv)
}

func (m *MockHttpClient) Put(ctx context.Context, urlstr string, recv, send any) error {
	b, _ := json.Marshal(send)
	m.record(ctx, http.MethodPut, urlstr, b)
	return m.DoWithBackoff(ctx, nil, recv)
}

func (m *MockHttpClient) PutBytes(ctx context.Context, urlstr string, recv any, body []byte) error {
	m.record(ctx, http.MethodPut, urlstr, body)
	return m.DoWithBackoff(ctx, nil, recv)
}

func (m *MockHttpClient) DoWithBackoff(ctx context.Context, req *http.Request, recv any) error {
	if req != nil {
		m.record(ctx, req.Method, req.URL.String(), nil)
	}
	err := m.Do(ctx, req, recv)
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}

func (m *MockHttpClient) Do(ctx context.Context, req *http.Request, recv any) error {
	m.Lock()
	if len(m.Responses) == 0 {
		m.Unlock()
		return nil
	}
	response := m.Responses[0]
	m.Responses = m.Responses[1:]
	m.Unlock()

	switch {
	// Soft errors. can be retried
	case response.Code == 429 || response.Code >= 500:
		return m.Do(ctx, req, recv)
	// Hard errors. cannot be retried
	case response.Code >= 400:
		return statusError(response.Code, response.Body)
	}
	return decode(response.Body, recv)
}
