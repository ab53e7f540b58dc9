package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/notapipeline/fvault/pkg/logging"
)

type AuthToken struct{}

// These are referenced as variables to enable them to be shortened in tests
var (
	initialInterval time.Duration = 500 * time.Millisecond
	maxInterval     time.Duration = 5 * time.Second
	maxElapsedTime  time.Duration = 2 * time.Minute
)

func (c *client) send(ctx context.Context, method, urlstr string, recv, send any) error {
	var buffer *bytes.Buffer = new(bytes.Buffer)
	if err := json.NewEncoder(buffer).Encode(send); err != nil {
		return err
	}

	request, err := http.NewRequestWithContext(ctx, method, urlstr, bytes.NewReader(buffer.Bytes()))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	return c.DoWithBackoff(ctx, request, recv)
}

func (c *client) Post(ctx context.Context, urlstr string, recv, send any) error {
	return c.send(ctx, http.MethodPost, urlstr, recv, send)
}

func (c *client) Put(ctx context.Context, urlstr string, recv, send any) error {
	return c.send(ctx, http.MethodPut, urlstr, recv, send)
}

func (c *client) Get(ctx context.Context, urlstr string, recv any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlstr, nil)
	if err != nil {
		return err
	}
	return c.DoWithBackoff(ctx, req, recv)
}

func (c *client) GetBytes(ctx context.Context, urlstr string) (body []byte, err error) {
	err = c.Get(ctx, urlstr, &body)
	return
}

// PutBytes uploads an opaque body
func (c *client) PutBytes(ctx context.Context, urlstr string, recv any, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, urlstr, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	return c.DoWithBackoff(ctx, req, recv)
}

func newBackOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = initialInterval
	exp.RandomizationFactor = 0.1
	exp.Multiplier = 2.0
	exp.MaxInterval = maxInterval
	exp.MaxElapsedTime = maxElapsedTime
	exp.Reset()
	return backoff.WithContext(exp, ctx)
}

// DoWithBackoff retries req until it succeeds, fails permanently or ctx is
// done. Client errors other than 429 are never retried.
func (c *client) DoWithBackoff(ctx context.Context, req *http.Request, recv any) error {
	f := func() error {
		return c.Do(ctx, req, recv)
	}

	notify := func(err error, d time.Duration) {
		logging.Warn(ctx, "retrying request", "method", req.Method, "url", req.URL.Path, "in", d, "error", err)
	}

	return backoff.RetryNotifyWithTimer(f, newBackOff(ctx), notify, nil)
}

func (c *client) Do(ctx context.Context, req *http.Request, recv any) error {
	if token, ok := ctx.Value(AuthToken{}).(string); ok && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	// a retried request needs its body again
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Body = body
	}

	var (
		response *http.Response
		err      error
		body     []byte
	)
	if response, err = c.Client.Do(req); err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}

	defer response.Body.Close()
	if body, err = io.ReadAll(response.Body); err != nil {
		return err
	}

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return statusError(response.StatusCode, body)
	}
	return decode(body, recv)
}

func decode(body []byte, recv any) error {
	switch r := recv.(type) {
	case nil:
		return nil
	case *[]byte:
		*r = body
		return nil
	}

	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, recv); err != nil {
		return backoff.Permanent(fmt.Errorf("unable to decode response: %w", err))
	}
	return nil
}
