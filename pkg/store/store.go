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
// Package store persists the reference backend in a single bbolt file.
//
// Only what the server is allowed to see is kept: credential records, the
// wrapped key envelopes, and file ciphertext. Emails are stored lower case.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/notapipeline/fvault/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketAccounts = []byte("accounts")
	bucketSessions = []byte("sessions")
	bucketFiles    = []byte("files")
	bucketContent  = []byte("content")
)

var (
	ErrAccountExists   = errors.New("account already exists")
	ErrAccountNotFound = errors.New("account not found")
	ErrSessionNotFound = errors.New("session not found or expired")
	ErrFileNotFound    = errors.New("file not found")
	ErrGrantExists     = errors.New("recipient already holds the file")
	ErrUploaded        = errors.New("file content has already been uploaded")
)

// These are referenced as variables to enable them to be mocked in tests
var (
	now     func() time.Time = time.Now
	newUUID func() string    = func() string { return uuid.New().String() }
)

type Store struct {
	db         *bolt.DB
	sessionTTL time.Duration
}

type session struct {
	Email   string    `json:"email"`
	Expires time.Time `json:"expires"`
}

// Open opens or creates the database at path
func Open(path string, sessionTTL time.Duration) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("unable to create database directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("unable to open database %q: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketAccounts, bucketSessions, bucketFiles, bucketContent} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, sessionTTL: sessionTTL}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func key(email string) []byte {
	return []byte(strings.ToLower(strings.TrimSpace(email)))
}

func get(b *bolt.Bucket, k []byte, v any) (bool, error) {
	data := b.Get(k)
	if data == nil {
		return false, nil
	}
	return true, json.Unmarshal(data, v)
}

func put(b *bolt.Bucket, k []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(k, data)
}

// CreateAccount stores a new account. The email must be unused.
func (s *Store) CreateAccount(a *types.Account) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccounts)
		if b.Get(key(a.Email)) != nil {
			return ErrAccountExists
		}
		a.Email = string(key(a.Email))
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now().UTC()
		}
		return put(b, key(a.Email), a)
	})
}

func (s *Store) Account(email string) (a *types.Account, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		a = &types.Account{}
		ok, err := get(tx.Bucket(bucketAccounts), key(email), a)
		if err == nil && !ok {
			err = ErrAccountNotFound
		}
		return err
	})
	if err != nil {
		a = nil
	}
	return
}

// UpdateCredentials replaces the credential record of an account. The key
// pair is left untouched.
func (s *Store) UpdateCredentials(email string, c types.Credentials) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var (
			b *bolt.Bucket  = tx.Bucket(bucketAccounts)
			a types.Account = types.Account{}
		)
		ok, err := get(b, key(email), &a)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAccountNotFound
		}
		a.Credentials = c
		return put(b, key(email), &a)
	})
}

// NewSession issues a bearer token for email
func (s *Store) NewSession(email string) (token string, err error) {
	token = newUUID()
	err = s.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucketSessions), []byte(token), session{
			Email:   string(key(email)),
			Expires: now().Add(s.sessionTTL),
		})
	})
	if err != nil {
		token = ""
	}
	return
}

// SessionEmail resolves a token to its account. Expired tokens are removed.
func (s *Store) SessionEmail(token string) (email string, err error) {
	if token == "" {
		return "", ErrSessionNotFound
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		var (
			b    *bolt.Bucket = tx.Bucket(bucketSessions)
			sess session
		)
		ok, err := get(b, []byte(token), &sess)
		if err != nil {
			return err
		}
		if !ok {
			return ErrSessionNotFound
		}
		if now().After(sess.Expires) {
			if err = b.Delete([]byte(token)); err != nil {
				return err
			}
			return ErrSessionNotFound
		}
		email = sess.Email
		return nil
	})
	if errors.Is(err, ErrSessionNotFound) {
		email = ""
	}
	return
}

func (s *Store) RevokeSession(token string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).Delete([]byte(token))
	})
}

// CreateFile stores the metadata of a new file and grants its owner access
// with the owner's envelope.
func (s *Store) CreateFile(owner string, req types.FileUploadRequest) (rec *types.FileRecord, err error) {
	var email string = string(key(owner))
	rec = &types.FileRecord{
		ID:           newUUID(),
		Owner:        email,
		FileName:     req.FileName,
		FileSize:     req.FileSize,
		ContentType:  req.ContentType,
		CreatedAt:    now().UTC(),
		ContentNonce: req.ContentNonce,
		AuthTag:      req.AuthTag,
		Grants: map[string]types.FileGrant{
			email: {
				Email:      email,
				WrappedKey: req.WrappedKey,
				KeyNonce:   req.KeyNonce,
				GrantedAt:  now().UTC(),
			},
		},
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		return put(tx.Bucket(bucketFiles), []byte(rec.ID), rec)
	})
	if err != nil {
		rec = nil
	}
	return
}

func (s *Store) File(id string) (rec *types.FileRecord, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		rec = &types.FileRecord{}
		ok, err := get(tx.Bucket(bucketFiles), []byte(id), rec)
		if err == nil && !ok {
			err = ErrFileNotFound
		}
		return err
	})
	if err != nil {
		rec = nil
	}
	return
}

// Files lists every file email holds a grant for, oldest first
func (s *Store) Files(email string) (files []types.FileRecord, err error) {
	var k string = string(key(email))
	err = s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFiles).ForEach(func(_, v []byte) error {
			var rec types.FileRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if _, ok := rec.Grants[k]; ok && rec.Uploaded {
				files = append(files, rec)
			}
			return nil
		})
	})
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].CreatedAt.Before(files[j].CreatedAt)
	})
	return
}

// PutContent stores the ciphertext of a file. Only the owner may upload and
// only once.
func (s *Store) PutContent(id, owner string, content []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var (
			files *bolt.Bucket = tx.Bucket(bucketFiles)
			rec   types.FileRecord
		)
		ok, err := get(files, []byte(id), &rec)
		if err != nil {
			return err
		}
		if !ok || rec.Owner != string(key(owner)) {
			return ErrFileNotFound
		}
		if rec.Uploaded {
			return ErrUploaded
		}

		if err = tx.Bucket(bucketContent).Put([]byte(id), content); err != nil {
			return err
		}
		rec.Uploaded = true
		return put(files, []byte(id), &rec)
	})
}

// Content returns a copy of the stored ciphertext
func (s *Store) Content(id string) (content []byte, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketContent).Get([]byte(id))
		if data == nil {
			return ErrFileNotFound
		}
		content = make([]byte, len(data))
		copy(content, data)
		return nil
	})
	return
}

// AddGrant records a transfer envelope for a recipient
func (s *Store) AddGrant(id string, grant types.FileGrant) error {
	grant.Email = string(key(grant.Email))
	return s.db.Update(func(tx *bolt.Tx) error {
		var (
			files *bolt.Bucket = tx.Bucket(bucketFiles)
			rec   types.FileRecord
		)
		ok, err := get(files, []byte(id), &rec)
		if err != nil {
			return err
		}
		if !ok {
			return ErrFileNotFound
		}
		if _, exists := rec.Grants[grant.Email]; exists {
			return ErrGrantExists
		}
		if grant.GrantedAt.IsZero() {
			grant.GrantedAt = now().UTC()
		}
		if rec.Grants == nil {
			rec.Grants = make(map[string]types.FileGrant)
		}
		rec.Grants[grant.Email] = grant
		return put(files, []byte(id), &rec)
	})
}

// DeleteFile removes a file and its content. Only the owner may delete.
func (s *Store) DeleteFile(id, owner string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var rec types.FileRecord
		ok, err := get(tx.Bucket(bucketFiles), []byte(id), &rec)
		if err != nil {
			return err
		}
		if !ok || rec.Owner != string(key(owner)) {
			return ErrFileNotFound
		}
		if err = tx.Bucket(bucketContent).Delete([]byte(id)); err != nil {
			return err
		}
		return tx.Bucket(bucketFiles).Delete([]byte(id))
	})
}
