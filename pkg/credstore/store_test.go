// Copyright (c) 2025 Archmagece
// SPDX-License-Identifier: MIT

package credstore

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "credentials.json"), Options{WALMode: true})
	require.NoError(t, err)
	return s
}

func testUser(email string) User {
	now := time.Now().UTC()
	return User{ID: uuid.NewString(), Name: "Test User", Email: email, CreatedAt: now, UpdatedAt: now}
}

func testAccount(userID, accountID string) Account {
	now := time.Now().UTC()
	return Account{
		ID:          uuid.NewString(),
		AccountID:   accountID,
		ProviderID:  ProviderGitLab,
		UserID:      userID,
		AccessToken: "tok-" + accountID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestInsertUserDuplicateIDFails(t *testing.T) {
	s := newStore(t)
	user := testUser("alice@example.com")
	require.NoError(t, s.InsertUser(user))

	dup := user
	dup.Email = "other@example.com"
	assert.Error(t, s.InsertUser(dup))
}

func TestUpsertUserByEmail(t *testing.T) {
	s := newStore(t)
	original := testUser("alice@example.com")
	require.NoError(t, s.InsertUser(original))

	updated := testUser("alice@example.com")
	updated.Name = "Alice Renamed"
	result, err := s.UpsertUser(updated)
	require.NoError(t, err)

	// Email is the conflict key: id and createdAt survive.
	assert.Equal(t, original.ID, result.ID)
	assert.Equal(t, "Alice Renamed", result.Name)
	assert.Equal(t, original.CreatedAt.Unix(), result.CreatedAt.Unix())

	found := s.FindUserByEmail("alice@example.com")
	require.NotNil(t, found)
	assert.Equal(t, "Alice Renamed", found.Name)
}

func TestInsertAccountRequiresUser(t *testing.T) {
	s := newStore(t)
	err := s.InsertAccount(testAccount("missing-user", "acc-1"))
	assert.Error(t, err)
}

func TestUpdateAccountBumpsUpdatedAt(t *testing.T) {
	s := newStore(t)
	user := testUser("alice@example.com")
	require.NoError(t, s.InsertUser(user))
	account := testAccount(user.ID, "acc-1")
	account.UpdatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, s.InsertAccount(account))

	newToken := "rotated"
	updated, err := s.UpdateAccount("acc-1", AccountPatch{AccessToken: &newToken})
	require.NoError(t, err)

	assert.Equal(t, "rotated", updated.AccessToken)
	assert.True(t, updated.UpdatedAt.After(account.UpdatedAt))
}

func TestDeleteUserCascadesAccounts(t *testing.T) {
	s := newStore(t)
	user := testUser("alice@example.com")
	require.NoError(t, s.InsertUser(user))
	require.NoError(t, s.InsertAccount(testAccount(user.ID, "acc-1")))
	require.NoError(t, s.InsertAccount(testAccount(user.ID, "acc-2")))

	require.NoError(t, s.DeleteUser(user.ID))

	assert.Nil(t, s.FindAccountByAccountID("acc-1"))
	assert.Nil(t, s.FindAccountByAccountID("acc-2"))
}

func TestGetAccountsWithUsers(t *testing.T) {
	s := newStore(t)
	alice := testUser("alice@example.com")
	bob := testUser("bob@example.com")
	require.NoError(t, s.InsertUser(alice))
	require.NoError(t, s.InsertUser(bob))
	require.NoError(t, s.InsertAccount(testAccount(alice.ID, "acc-a")))
	require.NoError(t, s.InsertAccount(testAccount(bob.ID, "acc-b")))

	rows := s.GetAccountsWithUsers()
	require.Len(t, rows, 2)

	byAccount := map[string]string{}
	for _, row := range rows {
		byAccount[row.Account.AccountID] = row.User.Email
	}
	assert.Equal(t, "alice@example.com", byAccount["acc-a"])
	assert.Equal(t, "bob@example.com", byAccount["acc-b"])
}

func TestMutationsPersistBeforeReturning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	s, err := Open(path, Options{WALMode: true})
	require.NoError(t, err)

	user := testUser("alice@example.com")
	require.NoError(t, s.InsertUser(user))

	// A fresh store reading the same file sees the committed write.
	reopened, err := Open(path, Options{WALMode: true})
	require.NoError(t, err)
	assert.NotNil(t, reopened.FindUserByEmail("alice@example.com"))
}

func TestCorruptedFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	s, err := Open(path, Options{WALMode: true})
	require.NoError(t, err)
	assert.Empty(t, s.GetAccountsWithUsers())
}

func TestConcurrentMutations(t *testing.T) {
	s := newStore(t)
	user := testUser("alice@example.com")
	require.NoError(t, s.InsertUser(user))
	require.NoError(t, s.InsertAccount(testAccount(user.ID, "acc-1")))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			token := "tok"
			_, err := s.UpdateAccount("acc-1", AccountPatch{AccessToken: &token})
			assert.NoError(t, err)
			_ = s.FindAccountByAccountID("acc-1")
		}(i)
	}
	wg.Wait()

	account := s.FindAccountByAccountID("acc-1")
	require.NotNil(t, account)
	assert.Equal(t, "tok", account.AccessToken)
}
