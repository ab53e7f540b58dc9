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
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/notapipeline/fvault/pkg/cache"
	"github.com/notapipeline/fvault/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKDF types.KDFParams = types.KDFParams{
	Type:        types.KDFTypeArgon2id,
	Iterations:  1,
	Memory:      64,
	Parallelism: 1,
	KeyLength:   types.KeySize,
}

const samplePassword = "Sample-Password#12!"

// account plays the part of the backend for a single registration
type account struct {
	req types.RegisterRequest
}

func (a *account) challenge() types.LoginChallenge {
	return types.LoginChallenge{
		Salt:     a.req.Salt,
		AuthSalt: a.req.AuthSalt,
		KDF:      a.req.KDF,
		AuthKDF:  a.req.AuthKDF,
	}
}

func (a *account) response(token string) types.LoginResponse {
	return types.LoginResponse{
		Token:                    token,
		EncryptedMasterKey:       a.req.EncryptedMasterKey,
		EncryptedMasterKeyNonce:  a.req.EncryptedMasterKeyNonce,
		EncSalt:                  a.req.EncSalt,
		PublicKey:                a.req.PublicKey,
		EncryptedPrivateKey:      a.req.EncryptedPrivateKey,
		EncryptedPrivateKeyNonce: a.req.EncryptedPrivateKeyNonce,
		EncryptedPrivateKeySalt:  a.req.EncryptedPrivateKeySalt,
	}
}

func (a *account) envelope() types.CredentialEnvelope {
	return types.CredentialEnvelope{
		EncryptedMasterKey:      a.req.EncryptedMasterKey,
		EncryptedMasterKeyNonce: a.req.EncryptedMasterKeyNonce,
		EncSalt:                 a.req.EncSalt,
	}
}

// relaxKDFLimits lets the suite derive with testKDF until t completes
func relaxKDFLimits(t *testing.T) {
	t.Helper()
	opl, oal := PasswordKDFLimits, AuthKDFLimits
	PasswordKDFLimits.Minimum = testKDF
	AuthKDFLimits.Minimum = testKDF
	t.Cleanup(func() {
		PasswordKDFLimits, AuthKDFLimits = opl, oal
	})
}

func register(t *testing.T, email, password string) (*account, *UnlockedSession) {
	t.Helper()
	relaxKDFLimits(t)
	reg, err := NewRegistration(context.Background(), email, "", []byte(password), testKDF, testKDF, nil)
	require.NoError(t, err)
	require.NoError(t, reg.Request.Validate())
	return &account{req: reg.Request}, reg.Session
}

func login(t *testing.T, a *account, email, password string, keys cache.KeyCache) *UnlockedSession {
	t.Helper()
	material, err := DeriveLoginMaterial(context.Background(), email, []byte(password), a.challenge())
	require.NoError(t, err)
	defer material.Destroy()

	s, err := UnlockSession(context.Background(), a.response("token-"+email), material, keys)
	require.NoError(t, err)
	return s
}

func TestRegistrationLoginRoundTrip(t *testing.T) {
	a, registered := register(t, "a@example.com", samplePassword)
	defer registered.Destroy()

	var keys *cache.MemoryCache = cache.NewMemoryCache()
	s := login(t, a, "a@example.com", samplePassword, keys)
	defer s.Destroy()

	assert.Equal(t, registered.masterKey, s.masterKey)
	assert.Equal(t, registered.privateKey, s.privateKey)
	assert.Equal(t, registered.IdentityKey, s.IdentityKey)
	assert.Equal(t, "token-a@example.com", s.Token)
	assert.Equal(t, 1, keys.Len())
	assert.Equal(t, registered.Fingerprint(), s.Fingerprint())
	assert.Len(t, s.Fingerprint(), 39)
}

func TestLoginWrongPassword(t *testing.T) {
	a, registered := register(t, "a@example.com", samplePassword)
	defer registered.Destroy()

	material, err := DeriveLoginMaterial(context.Background(), "a@example.com", []byte("not-the-password"), a.challenge())
	require.NoError(t, err)
	defer material.Destroy()

	// a different password yields a different auth hash and identity
	assert.NotEqual(t, registered.IdentityKey, material.IdentityKey())

	var keys *cache.MemoryCache = cache.NewMemoryCache()
	_, err = UnlockSession(context.Background(), a.response("t"), material, keys)
	var de types.DecryptionError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, types.ReasonWrongPassword, de.Reason)
	assert.Equal(t, 0, keys.Len())
}

func TestUnlockUsesCache(t *testing.T) {
	a, registered := register(t, "a@example.com", samplePassword)
	defer registered.Destroy()

	var keys *cache.MemoryCache = cache.NewMemoryCache()
	require.NoError(t, keys.Put(registered.IdentityKey, registered.masterKey, registered.privateKey))

	// the wrapped master key is corrupted, so only the cache can unlock
	resp := a.response("t")
	resp.EncryptedMasterKey = bytes.Repeat([]byte{0xff}, len(resp.EncryptedMasterKey))

	material, err := DeriveLoginMaterial(context.Background(), "a@example.com", []byte(samplePassword), a.challenge())
	require.NoError(t, err)
	defer material.Destroy()

	s, err := UnlockSession(context.Background(), resp, material, keys)
	require.NoError(t, err)
	assert.Equal(t, registered.masterKey, s.masterKey)
}

func TestUnlockIgnoresStaleCache(t *testing.T) {
	a, registered := register(t, "a@example.com", samplePassword)
	defer registered.Destroy()

	var keys *cache.MemoryCache = cache.NewMemoryCache()
	require.NoError(t, keys.Put(registered.IdentityKey, bytes.Repeat([]byte{1}, 32), bytes.Repeat([]byte{2}, 32)))

	s := login(t, a, "a@example.com", samplePassword, keys)
	assert.Equal(t, registered.masterKey, s.masterKey)

	cached, err := keys.Get(registered.IdentityKey)
	require.NoError(t, err)
	assert.Equal(t, registered.privateKey, cached.PrivateKey)
}

func TestUnlockKeyPairMismatch(t *testing.T) {
	a, registered := register(t, "a@example.com", samplePassword)
	defer registered.Destroy()
	b, other := register(t, "b@example.com", samplePassword)
	defer other.Destroy()

	resp := a.response("t")
	resp.PublicKey = b.req.PublicKey

	material, err := DeriveLoginMaterial(context.Background(), "a@example.com", []byte(samplePassword), a.challenge())
	require.NoError(t, err)
	defer material.Destroy()

	_, err = UnlockSession(context.Background(), resp, material, nil)
	var de types.DecryptionError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, types.ReasonKeyMismatch, de.Reason)
}

func TestDeriveLoginMaterialCancelled(t *testing.T) {
	a, registered := register(t, "a@example.com", samplePassword)
	defer registered.Destroy()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	material, err := DeriveLoginMaterial(ctx, "a@example.com", []byte(samplePassword), a.challenge())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, material)
}

func TestUnlockCancelledIsNotCached(t *testing.T) {
	a, registered := register(t, "a@example.com", samplePassword)
	defer registered.Destroy()

	material, err := DeriveLoginMaterial(context.Background(), "a@example.com", []byte(samplePassword), a.challenge())
	require.NoError(t, err)
	defer material.Destroy()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var keys *cache.MemoryCache = cache.NewMemoryCache()
	_, err = UnlockSession(ctx, a.response("t"), material, keys)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, keys.Len())
}

func TestDeriveLoginMaterialInvalidChallenge(t *testing.T) {
	tests := []struct {
		name      string
		challenge types.LoginChallenge
	}{
		{"missing salt", types.LoginChallenge{AuthSalt: make([]byte, 16)}},
		{"short auth salt", types.LoginChallenge{Salt: make([]byte, 16), AuthSalt: make([]byte, 4)}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := DeriveLoginMaterial(context.Background(), "a", []byte("p"), test.challenge)
			var ve types.ValidationError
			assert.ErrorAs(t, err, &ve)
		})
	}
}

func TestDeriveLoginMaterialRefusesWeakKDF(t *testing.T) {
	var (
		weak   types.KDFParams = types.KDFParams{Type: types.KDFTypeArgon2id, Iterations: 1, Memory: 8, Parallelism: 1, KeyLength: 16}
		salt   []byte          = make([]byte, types.SaltSize)
		strong types.KDFParams = types.DefaultPasswordKDF
	)
	huge := strong
	huge.Memory = 64 * 1024 * 1024

	tests := []struct {
		name    string
		kdf     types.KDFParams
		authKdf types.KDFParams
	}{
		{"weakened password stretch", weak, types.DefaultAuthKDF},
		{"weakened auth hash", strong, weak},
		{"weakened both", weak, weak},
		{"short output", types.KDFParams{Type: types.KDFTypeArgon2id, Iterations: 6, Memory: 128 * 1024, Parallelism: 4, KeyLength: 16}, types.DefaultAuthKDF},
		{"excessive memory", huge, types.DefaultAuthKDF},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			challenge := types.LoginChallenge{Salt: salt, AuthSalt: salt, KDF: test.kdf, AuthKDF: test.authKdf}

			start := time.Now()
			material, err := DeriveLoginMaterial(context.Background(), "a@example.com", []byte(samplePassword), challenge)
			var ke types.KdfError
			assert.ErrorAs(t, err, &ke)
			assert.Nil(t, material)
			// refused before any stretch is run
			assert.Less(t, time.Since(start), time.Second)
		})
	}
}

func TestRegistrationRefusesWeakKDF(t *testing.T) {
	_, err := NewRegistration(context.Background(), "a@example.com", "", []byte(samplePassword), testKDF, testKDF, nil)
	var ke types.KdfError
	assert.ErrorAs(t, err, &ke)
	assert.EqualError(t, err, "key derivation failed: iterations 1 below minimum 6")
}

func TestRegistrationRequiresEmail(t *testing.T) {
	_, err := NewRegistration(context.Background(), "", "", []byte("p"), testKDF, testKDF, nil)
	assert.EqualError(t, err, "invalid email: value is empty")
}

func TestRegistrationRejectsBadKDF(t *testing.T) {
	bad := testKDF
	bad.Type = types.KDFTypePBKDF2
	_, err := NewRegistration(context.Background(), "a@example.com", "", []byte("p"), bad, testKDF, nil)
	var ke types.KdfError
	assert.ErrorAs(t, err, &ke)
}

func TestSeededRegistration(t *testing.T) {
	relaxKDFLimits(t)
	var seed []byte = []byte("correct horse battery staple")
	first, err := NewRegistration(context.Background(), "a@example.com", "", []byte(samplePassword), testKDF, testKDF, seed)
	require.NoError(t, err)
	second, err := NewRegistration(context.Background(), "a@example.com", "", []byte(samplePassword), testKDF, testKDF, seed)
	require.NoError(t, err)

	assert.Equal(t, first.Request.PublicKey, second.Request.PublicKey)
	assert.NotEqual(t, first.Request.Salt, second.Request.Salt)
	assert.NotEqual(t, first.Session.masterKey, second.Session.masterKey)
}

func TestManagerWithoutSession(t *testing.T) {
	var m *Manager = NewManager(cache.NewMemoryCache())

	_, ok := m.Current()
	assert.False(t, ok)

	err := m.With(context.Background(), func(s *UnlockedSession) error {
		t.Fatal("must not be called")
		return nil
	})
	var nf types.KeyNotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestManagerCancelledContext(t *testing.T) {
	var m *Manager = NewManager(nil)
	_, s := register(t, "a@example.com", samplePassword)
	m.Begin(s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.With(ctx, func(*UnlockedSession) error { return nil }), context.Canceled)
}

func TestManagerUnlockAndEnd(t *testing.T) {
	a, registered := register(t, "a@example.com", samplePassword)
	defer registered.Destroy()

	var (
		keys *cache.MemoryCache = cache.NewMemoryCache()
		m    *Manager           = NewManager(keys)
	)

	material, err := DeriveLoginMaterial(context.Background(), "a@example.com", []byte(samplePassword), a.challenge())
	require.NoError(t, err)
	defer material.Destroy()

	s, err := m.Unlock(context.Background(), a.response("t"), material)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s.Version)

	current, ok := m.Current()
	require.True(t, ok)
	assert.Same(t, s, current)
	assert.Equal(t, 1, keys.Len())

	m.End()
	_, ok = m.Current()
	assert.False(t, ok)
	assert.Equal(t, 0, keys.Len())
	assert.Nil(t, s.masterKey)

	// ending twice is harmless
	m.End()
}

func TestManagerBeginReplacesSession(t *testing.T) {
	var m *Manager = NewManager(nil)
	_, first := register(t, "a@example.com", samplePassword)
	_, second := register(t, "b@example.com", samplePassword)

	m.Begin(first)
	m.Begin(second)

	assert.Nil(t, first.masterKey)
	assert.Equal(t, uint64(2), second.Version)
}

func TestManagerWriteWaitsForInFlight(t *testing.T) {
	var m *Manager = NewManager(nil)
	_, s := register(t, "a@example.com", samplePassword)
	m.Begin(s)

	var (
		started  = make(chan struct{})
		release  = make(chan struct{})
		observed uint64
		key      []byte
		wg       sync.WaitGroup
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, m.With(context.Background(), func(s *UnlockedSession) error {
			close(started)
			<-release
			observed = s.Version
			key = append([]byte(nil), s.masterKey...)
			return nil
		}))
	}()

	<-started
	var ended = make(chan struct{})
	go func() {
		m.End()
		close(ended)
	}()

	select {
	case <-ended:
		t.Fatal("logout completed while an operation was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	wg.Wait()
	<-ended

	assert.Equal(t, uint64(1), observed)
	assert.Len(t, key, types.KeySize)
	assert.NotEqual(t, make([]byte, types.KeySize), key)
}

func TestManagerRekey(t *testing.T) {
	_, s := register(t, "a@example.com", samplePassword)

	var (
		keys *cache.MemoryCache = cache.NewMemoryCache()
		m    *Manager           = NewManager(keys)
		old  string             = s.IdentityKey
	)
	require.NoError(t, keys.Put(old, s.masterKey, s.privateKey))
	m.Begin(s)

	require.NoError(t, m.Rekey(context.Background(), "new-identity"))
	assert.Equal(t, "new-identity", s.IdentityKey)
	assert.Equal(t, uint64(2), s.Version)

	_, err := keys.Get(old)
	assert.Error(t, err)
	cached, err := keys.Get("new-identity")
	require.NoError(t, err)
	assert.Equal(t, s.masterKey, cached.MasterKey)

	m.End()
	assert.Error(t, m.Rekey(context.Background(), "again"))
}

func TestManagerRegister(t *testing.T) {
	relaxKDFLimits(t)
	reg, err := NewRegistration(context.Background(), "a@example.com", "A", []byte(samplePassword), testKDF, testKDF, nil)
	require.NoError(t, err)

	var (
		keys *cache.MemoryCache = cache.NewMemoryCache()
		m    *Manager           = NewManager(keys)
	)
	s := m.Register(context.Background(), reg, "token")
	defer m.End()

	assert.Equal(t, "token", s.Token)
	assert.Equal(t, uint64(1), s.Version)
	assert.Equal(t, 1, keys.Len())

	// a later login for the same password is served from the cache
	a := &account{req: reg.Request}
	material, err := DeriveLoginMaterial(context.Background(), "a@example.com", []byte(samplePassword), a.challenge())
	require.NoError(t, err)
	defer material.Destroy()
	assert.Equal(t, s.IdentityKey, material.IdentityKey())

	cached, err := keys.Get(material.IdentityKey())
	require.NoError(t, err)
	defer cached.Destroy()
	assert.Equal(t, s.privateKey, cached.PrivateKey)
}
