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
package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/kylelemons/godebug/pretty"
	"github.com/notapipeline/fvault/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var clock time.Time = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func setupSuite(t *testing.T) (*Store, func(t *testing.T)) {
	var ids int
	now = func() time.Time { return clock }
	newUUID = func() string {
		ids++
		return fmt.Sprintf("id-%d", ids)
	}

	s, err := Open(filepath.Join(t.TempDir(), "db", "fvault.db"), time.Hour)
	require.NoError(t, err)

	return s, func(t *testing.T) {
		s.Close()
		now = time.Now
		newUUID = func() string { return "" }
	}
}

func upload(name string) types.FileUploadRequest {
	return types.FileUploadRequest{
		FileName:     name,
		FileSize:     10,
		ContentType:  "text/plain",
		WrappedKey:   []byte{1},
		KeyNonce:     []byte{2},
		ContentNonce: []byte{3},
		AuthTag:      []byte{4},
	}
}

func TestAccounts(t *testing.T) {
	s, teardownSuite := setupSuite(t)
	defer teardownSuite(t)

	a := &types.Account{
		Email:     "Alice@Example.com ",
		PublicKey: []byte{9, 9},
		Credentials: types.Credentials{
			Salt: []byte{1, 2, 3},
			KDF:  types.DefaultPasswordKDF,
		},
	}
	require.NoError(t, s.CreateAccount(a))
	assert.Equal(t, "alice@example.com", a.Email)
	assert.ErrorIs(t, s.CreateAccount(&types.Account{Email: "ALICE@example.com"}), ErrAccountExists)

	got, err := s.Account("alice@EXAMPLE.com")
	require.NoError(t, err)
	if diff := pretty.Compare(a, got); diff != "" {
		t.Errorf("account differs: (-want +got)\n%s", diff)
	}

	_, err = s.Account("bob@example.com")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	var creds types.Credentials = types.Credentials{Salt: []byte{7}}
	require.NoError(t, s.UpdateCredentials("alice@example.com", creds))
	got, err = s.Account("alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, types.HexBytes{7}, got.Credentials.Salt)
	assert.Equal(t, types.HexBytes{9, 9}, got.PublicKey)

	assert.ErrorIs(t, s.UpdateCredentials("bob@example.com", creds), ErrAccountNotFound)
}

func TestSessions(t *testing.T) {
	s, teardownSuite := setupSuite(t)
	defer teardownSuite(t)

	token, err := s.NewSession("Alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "id-1", token)

	email, err := s.SessionEmail(token)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", email)

	_, err = s.SessionEmail("")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, s.RevokeSession(token))
	_, err = s.SessionEmail(token)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionExpiry(t *testing.T) {
	s, teardownSuite := setupSuite(t)
	defer teardownSuite(t)

	token, err := s.NewSession("alice@example.com")
	require.NoError(t, err)

	now = func() time.Time { return clock.Add(2 * time.Hour) }
	_, err = s.SessionEmail(token)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// the expired token was removed
	now = func() time.Time { return clock }
	_, err = s.SessionEmail(token)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestFiles(t *testing.T) {
	s, teardownSuite := setupSuite(t)
	defer teardownSuite(t)

	rec, err := s.CreateFile("Alice@example.com", upload("a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "id-1", rec.ID)
	assert.Equal(t, "alice@example.com", rec.Owner)
	assert.Contains(t, rec.Grants, "alice@example.com")

	// not listed until its content arrives
	files, err := s.Files("alice@example.com")
	require.NoError(t, err)
	assert.Empty(t, files)

	assert.ErrorIs(t, s.PutContent(rec.ID, "bob@example.com", []byte("x")), ErrFileNotFound)
	require.NoError(t, s.PutContent(rec.ID, "alice@example.com", []byte("ciphertext")))
	assert.ErrorIs(t, s.PutContent(rec.ID, "alice@example.com", []byte("again")), ErrUploaded)

	content, err := s.Content(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("ciphertext"), content)

	_, err = s.Content("missing")
	assert.ErrorIs(t, err, ErrFileNotFound)

	files, err = s.Files("alice@example.com")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.True(t, files[0].Uploaded)

	files, err = s.Files("bob@example.com")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestGrants(t *testing.T) {
	s, teardownSuite := setupSuite(t)
	defer teardownSuite(t)

	rec, err := s.CreateFile("alice@example.com", upload("a.txt"))
	require.NoError(t, err)
	require.NoError(t, s.PutContent(rec.ID, "alice@example.com", []byte("c")))

	grant := types.FileGrant{
		Email:           "Bob@example.com",
		WrappedKey:      []byte{5},
		KeyNonce:        []byte{6},
		SenderPublicKey: []byte{7},
	}
	require.NoError(t, s.AddGrant(rec.ID, grant))
	assert.ErrorIs(t, s.AddGrant(rec.ID, grant), ErrGrantExists)
	assert.ErrorIs(t, s.AddGrant("missing", grant), ErrFileNotFound)

	files, err := s.Files("bob@example.com")
	require.NoError(t, err)
	require.Len(t, files, 1)

	meta, ok := files[0].Metadata("bob@example.com")
	require.True(t, ok)
	assert.True(t, meta.Transferred)
	assert.Equal(t, types.HexBytes{7}, meta.SenderPublicKey)
	assert.Equal(t, clock, files[0].Grants["bob@example.com"].GrantedAt)
}

func TestFilesOrderedByCreation(t *testing.T) {
	s, teardownSuite := setupSuite(t)
	defer teardownSuite(t)

	for i, name := range []string{"c", "a", "b"} {
		now = func() time.Time { return clock.Add(time.Duration(i) * time.Minute) }
		rec, err := s.CreateFile("alice@example.com", upload(name))
		require.NoError(t, err)
		require.NoError(t, s.PutContent(rec.ID, "alice@example.com", []byte(name)))
	}

	files, err := s.Files("alice@example.com")
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, []string{"c", "a", "b"}, []string{files[0].FileName, files[1].FileName, files[2].FileName})
}

func TestDeleteFile(t *testing.T) {
	s, teardownSuite := setupSuite(t)
	defer teardownSuite(t)

	rec, err := s.CreateFile("alice@example.com", upload("a.txt"))
	require.NoError(t, err)
	require.NoError(t, s.PutContent(rec.ID, "alice@example.com", []byte("c")))

	assert.ErrorIs(t, s.DeleteFile(rec.ID, "bob@example.com"), ErrFileNotFound)
	require.NoError(t, s.DeleteFile(rec.ID, "alice@example.com"))

	_, err = s.File(rec.ID)
	assert.ErrorIs(t, err, ErrFileNotFound)
	_, err = s.Content(rec.ID)
	assert.ErrorIs(t, err, ErrFileNotFound)
}
