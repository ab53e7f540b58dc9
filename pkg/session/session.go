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
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/notapipeline/fvault/pkg/cache"
	"github.com/notapipeline/fvault/pkg/crypto"
	"github.com/notapipeline/fvault/pkg/logging"
	"github.com/notapipeline/fvault/pkg/types"
)

// UnlockedSession holds the decrypted keys of a logged in account.
//
// An UnlockedSession is immutable once handed to a Manager. Its keys are
// wiped when the manager ends or replaces it.
type UnlockedSession struct {
	Email       string
	Token       string
	IdentityKey string
	PublicKey   types.HexBytes
	Version     uint64

	masterKey  []byte
	privateKey []byte
}

// Fingerprint is a short, human comparable digest of the public key
func (s *UnlockedSession) Fingerprint() string {
	return Fingerprint(s.PublicKey)
}

func (s *UnlockedSession) Destroy() {
	crypto.Wipe(s.masterKey, s.privateKey)
	s.masterKey = nil
	s.privateKey = nil
}

func (s *UnlockedSession) locked() bool {
	return len(s.masterKey) == 0 || len(s.privateKey) == 0
}

// Fingerprint renders the first 16 bytes of SHA-256(publicKey) as colon
// separated groups.
func Fingerprint(publicKey []byte) string {
	var (
		sum   [sha256.Size]byte = sha256.Sum256(publicKey)
		h     string            = hex.EncodeToString(sum[:16])
		parts []string
	)
	for i := 0; i < len(h); i += 4 {
		parts = append(parts, h[i:i+4])
	}
	return strings.Join(parts, ":")
}

// Provider gives read access to the current session
type Provider interface {
	Current() (*UnlockedSession, bool)
}

// Manager owns the active session and the key cache.
//
// Operations run through With hold a read lock for their whole duration.
// Begin, End and Rekey take the write lock, so they wait for every in-flight
// operation to complete with the keys it started with.
type Manager struct {
	lock    sync.RWMutex
	current *UnlockedSession
	version uint64
	keys    cache.KeyCache
}

// NewManager creates a manager backed by keys. A nil cache disables caching.
func NewManager(keys cache.KeyCache) *Manager {
	return &Manager{keys: keys}
}

func (m *Manager) Current() (*UnlockedSession, bool) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.current, m.current != nil
}

// Begin installs s as the active session, destroying any previous one.
func (m *Manager) Begin(s *UnlockedSession) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.current != nil && m.current != s {
		m.current.Destroy()
	}
	m.version++
	s.Version = m.version
	m.current = s
}

// Unlock derives the session keys and installs the session. The key cache
// is consulted before anything is unwrapped.
func (m *Manager) Unlock(ctx context.Context, resp types.LoginResponse, material *LoginMaterial) (*UnlockedSession, error) {
	s, err := UnlockSession(ctx, resp, material, m.keys)
	if err != nil {
		return nil, err
	}
	m.Begin(s)
	logging.Debug(ctx, "session unlocked", "email", s.Email, "version", s.Version)
	return s, nil
}

// End clears the cache entry of the active session and wipes its keys.
func (m *Manager) End() {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.current == nil {
		return
	}
	if m.keys != nil {
		m.keys.Clear(m.current.IdentityKey)
	}
	m.current.Destroy()
	m.current = nil
}

// With runs fn against the active session while holding the read lock.
//
// fn must not call back into the Manager.
func (m *Manager) With(ctx context.Context, fn func(s *UnlockedSession) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.lock.RLock()
	defer m.lock.RUnlock()

	if m.current == nil || m.current.locked() {
		return types.KeyNotFoundError{}
	}
	return fn(m.current)
}

// Rekey moves the active session to a new identity key after a password
// rotation. The cached keys follow it.
func (m *Manager) Rekey(ctx context.Context, identityKey string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.current == nil || m.current.locked() {
		return types.KeyNotFoundError{}
	}

	if m.keys != nil {
		if err := m.keys.Put(identityKey, m.current.masterKey, m.current.privateKey); err != nil {
			return err
		}
		m.keys.Clear(m.current.IdentityKey)
	}
	m.version++
	m.current.IdentityKey = identityKey
	m.current.Version = m.version
	logging.Debug(ctx, "session rekeyed", "email", m.current.Email, "version", m.version)
	return nil
}
