package transport

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"
)

// HttpClient is the only way the client talks to the backend.
//
// recv may be a *[]byte to receive the raw body, anything else is decoded
// from JSON.
type HttpClient interface {
	Get(ctx context.Context, urlstr string, recv any) error
	Post(ctx context.Context, urlstr string, recv, send any) error
	Put(ctx context.Context, urlstr string, recv, send any) error
	GetBytes(ctx context.Context, urlstr string) ([]byte, error)
	PutBytes(ctx context.Context, urlstr string, recv any, body []byte) error
	DoWithBackoff(ctx context.Context, req *http.Request, recv any) error
}

type client struct {
	*http.Client
}

var c client = client{
	&http.Client{
		Timeout: 30 * time.Second,
	},
}

var DefaultHttpClient HttpClient = &c

// NewHttpClient returns a client for servers using self signed
// certificates when skipVerify is set.
func NewHttpClient(skipVerify bool) HttpClient {
	if !skipVerify {
		return DefaultHttpClient
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	return &client{
		&http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}
