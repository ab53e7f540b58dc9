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
// Package server is the reference backend for fvault.
//
// It only ever sees ciphertext, key envelopes and a hash of the client's
// authentication hash.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/notapipeline/fvault/pkg/config"
	"github.com/notapipeline/fvault/pkg/logging"
	"github.com/notapipeline/fvault/pkg/store"
	"github.com/notapipeline/fvault/pkg/tools"
	"github.com/notapipeline/fvault/pkg/types"
)

const (
	DefaultPort       = 6278
	DefaultMaxUpload  = 100 << 20
	DefaultSessionTTL = 12 * time.Hour

	// json request bodies are small, only file content may be large
	maxRequestBody = 1 << 20
)

type HttpServer struct {
	c     *config.Config
	store *store.Store
	log   logging.Logger
}

func NewHttpServer() *HttpServer {
	return &HttpServer{
		c:   config.New(),
		log: logging.Default(),
	}
}

// New creates a server around an already opened store
func New(c *config.Config, st *store.Store, log logging.Logger) *HttpServer {
	if log == nil {
		log = logging.Default()
	}
	return &HttpServer{c: c, store: st, log: log}
}

// apiError is a failure which knows how it is presented to the client
type apiError struct {
	status    int
	errorCode string
	message   string
}

func (e *apiError) Error() string {
	return e.message
}

var (
	errInvalidCredentials = &apiError{http.StatusUnauthorized, types.ErrorCodeUnauthorized, "invalid credentials"}
	errMissingToken       = &apiError{http.StatusUnauthorized, types.ErrorCodeUnauthorized, "missing or invalid token"}
	errForbidden          = &apiError{http.StatusForbidden, types.ErrorCodeUnauthorized, "fvault denied request"}
)

func (s *HttpServer) writeResponse(w http.ResponseWriter, code int, message string, data any) {
	var b, err = json.Marshal(types.ApiResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
	if err != nil {
		s.writeResponseError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(b)
}

// writeResponseError maps err onto a status code and error code. Anything
// not recognised is logged and reported as an internal error.
func (s *HttpServer) writeResponseError(w http.ResponseWriter, err error) {
	var (
		ae *apiError
		ve types.ValidationError
		ke types.KdfError
	)

	switch {
	case errors.As(err, &ae):
	case errors.As(err, &ve):
		ae = &apiError{http.StatusBadRequest, types.ErrorCodeValidation, ve.Error()}
	case errors.As(err, &ke):
		ae = &apiError{http.StatusBadRequest, types.ErrorCodeValidation, ke.Error()}
	case errors.Is(err, store.ErrAccountExists), errors.Is(err, store.ErrGrantExists), errors.Is(err, store.ErrUploaded):
		ae = &apiError{http.StatusConflict, types.ErrorCodeConflict, err.Error()}
	case errors.Is(err, store.ErrAccountNotFound), errors.Is(err, store.ErrFileNotFound):
		ae = &apiError{http.StatusNotFound, types.ErrorCodeNotFound, err.Error()}
	case errors.Is(err, store.ErrSessionNotFound):
		ae = errMissingToken
	default:
		s.log.Error("request failed", "error", err)
		ae = &apiError{http.StatusInternalServerError, types.ErrorCodeInternal, "an internal server error has occurred - please try again later"}
	}

	var b, _ = json.Marshal(types.ApiResponse{
		Success:   false,
		Message:   ae.message,
		ErrorCode: ae.errorCode,
	})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ae.status)
	_, _ = w.Write(b)
}

func (s *HttpServer) IsSecure() (secure bool) {
	return s.c.IsSecure()
}

func (s *HttpServer) maxUpload() int64 {
	if s.c.Server.MaxUpload > 0 {
		return s.c.Server.MaxUpload
	}
	return DefaultMaxUpload
}

func decodeRequest(w http.ResponseWriter, r *http.Request, v any) error {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(v); err != nil {
		var ve types.ValidationError
		if errors.As(err, &ve) {
			return ve
		}
		return types.ValidationError{Field: "request", Reason: err.Error()}
	}
	return nil
}

func allowMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	w.WriteHeader(http.StatusMethodNotAllowed)
	return false
}

func bearer(r *http.Request) string {
	var auth []string = strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(auth) != 2 || auth[0] != "Bearer" {
		return ""
	}
	return strings.TrimSpace(auth[1])
}

// guard rejects callers outside the whitelist. An empty whitelist is only
// permitted for a server running with TLS.
func (s *HttpServer) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var addr string = tools.RemoteIp(r.RemoteAddr)
		if addr == "" {
			s.writeResponseError(w, types.ValidationError{Field: "remote address", Reason: "value is empty"})
			return
		}

		if len(s.c.Server.Whitelist) != 0 && !tools.Whitelisted(s.c.Server.Whitelist, addr) {
			s.log.Warn("denied request", "addr", addr, "path", r.URL.Path)
			s.writeResponseError(w, errForbidden)
			return
		}

		s.log.Debug("request", "method", r.Method, "path", r.URL.Path, "addr", addr)
		next.ServeHTTP(w, r)
	})
}

type authenticatedHandler func(w http.ResponseWriter, r *http.Request, email string)

// authenticated resolves the bearer token to the account it was issued for
func (s *HttpServer) authenticated(next authenticatedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email, err := s.store.SessionEmail(bearer(r))
		if err != nil {
			s.writeResponseError(w, err)
			return
		}
		next(w, r, email)
	}
}

// Handler returns the routes of the api
func (s *HttpServer) Handler() http.Handler {
	var mux *http.ServeMux = http.NewServeMux()

	mux.HandleFunc("/api/v1/auth/register", s.register)
	mux.HandleFunc("/api/v1/auth/init", s.initLogin)
	mux.HandleFunc("/api/v1/auth/login", s.login)
	mux.HandleFunc("/api/v1/auth/verify-password", s.authenticated(s.verifyPassword))
	mux.HandleFunc("/api/v1/auth/update-password", s.authenticated(s.updatePassword))
	mux.HandleFunc("/api/v1/auth/logout", s.logout)
	mux.HandleFunc("/api/v1/auth/verify-session", s.verifySession)

	mux.HandleFunc("/api/v1/files", s.authenticated(s.listFiles))
	mux.HandleFunc("/api/v1/files/upload", s.authenticated(s.createFile))
	mux.HandleFunc("/api/v1/files/upload/content/", s.authenticated(s.uploadContent))
	mux.HandleFunc("/api/v1/files/transfer", s.authenticated(s.transfer))
	mux.HandleFunc("/api/v1/files/", s.authenticated(s.file))

	mux.HandleFunc("/api/v1/users/public-key/email/", s.authenticated(s.publicKey))

	return s.guard(mux)
}

// ListenAndServe starts the HTTP server and listens for requests until ctx
// is cancelled
func (s *HttpServer) ListenAndServe(ctx context.Context, cmdConfig types.ServeCmd) (err error) {
	var listener net.Listener

	if err = s.c.Load(config.ConfigModeServer); err != nil {
		return fmt.Errorf("invalid config file: %w", err)
	}
	s.c.MergeServerConfig(cmdConfig)

	if !s.IsSecure() && len(s.c.Server.Whitelist) == 0 {
		return fmt.Errorf("Cowardly - refusing to start unsecure server without a whitelist")
	}

	if s.c.Server.Port == 0 {
		s.c.Server.Port = DefaultPort
		if err = s.c.Save(config.ConfigModeServer); err != nil {
			return err
		}
	}

	if s.store == nil {
		if s.store, err = store.Open(s.c.DatabasePath(), DefaultSessionTTL); err != nil {
			return err
		}
		defer s.store.Close()
	}

	if listener, err = net.Listen("tcp4", fmt.Sprintf(":%d", s.c.Server.Port)); err != nil {
		return err
	}

	var server *http.Server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdown)
	}()

	if s.IsSecure() {
		s.log.Info("listening for secure connections", "port", s.c.Server.Port, "whitelist", strings.Join(s.c.Server.Whitelist, ","))
		err = server.ServeTLS(listener, s.c.Server.Cert, s.c.Server.Key)
	} else {
		s.log.Info("listening for unsecured connections", "port", s.c.Server.Port, "whitelist", strings.Join(s.c.Server.Whitelist, ","))
		err = server.Serve(listener)
	}

	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return
}
