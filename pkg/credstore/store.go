// Copyright (c) 2025 Archmagece
// SPDX-License-Identifier: MIT

// Package credstore persists users and OAuth2 accounts in a human-readable
// JSON document file. All mutations run behind a single writer and hit disk
// before returning; readers see the last committed snapshot.
package credstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/copima/copima/internal/logger"
)

// Store is the credential document store.
type Store struct {
	path    string
	walMode bool
	log     logger.CommonLogger

	mu  sync.RWMutex
	doc document
}

// Options configures Open.
type Options struct {
	// WALMode keeps the write-ahead temp file next to the target so the
	// rename stays on one filesystem. When false the temp file lives in
	// os.TempDir.
	WALMode bool
	Logger  logger.CommonLogger
}

// Open loads the store at path; parent directories are created on the first
// write. A corrupted file is treated as empty and logged at warn level; it
// never fails Open.
func Open(path string, opts Options) (*Store, error) {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}

	s := &Store{path: path, walMode: opts.WALMode, log: log}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// First auth creates the file.
	case err != nil:
		return nil, fmt.Errorf("read credential store %s: %w", path, err)
	default:
		if err := json.Unmarshal(data, &s.doc); err != nil {
			log.Warn("credential store is corrupted, starting empty",
				"path", path, "error", err.Error())
			s.doc = document{}
		}
	}
	return s, nil
}

// Path returns the store's file location.
func (s *Store) Path() string { return s.path }

// InsertUser adds a new user. Duplicate ids and duplicate emails fail.
func (s *Store) InsertUser(user User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.doc.Users {
		if existing.ID == user.ID {
			return fmt.Errorf("user %s already exists", user.ID)
		}
		if existing.Email == user.Email {
			return fmt.Errorf("user email %s already exists", user.Email)
		}
	}
	s.doc.Users = append(s.doc.Users, user)
	return s.persist()
}

// UpsertUser inserts user or, when a user with the same email exists,
// updates it in place keeping the original id and createdAt.
func (s *Store) UpsertUser(user User) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.doc.Users {
		if existing.Email == user.Email {
			user.ID = existing.ID
			user.CreatedAt = existing.CreatedAt
			user.UpdatedAt = time.Now().UTC()
			s.doc.Users[i] = user
			return user, s.persist()
		}
	}
	s.doc.Users = append(s.doc.Users, user)
	return user, s.persist()
}

// FindUserByID returns the user or nil.
func (s *Store) FindUserByID(id string) *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.doc.Users {
		if user.ID == id {
			u := user
			return &u
		}
	}
	return nil
}

// FindUserByEmail returns the user or nil.
func (s *Store) FindUserByEmail(email string) *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, user := range s.doc.Users {
		if user.Email == email {
			u := user
			return &u
		}
	}
	return nil
}

// DeleteUser removes the user and cascades to its accounts.
func (s *Store) DeleteUser(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := s.doc.Users[:0]
	found := false
	for _, user := range s.doc.Users {
		if user.ID == id {
			found = true
			continue
		}
		users = append(users, user)
	}
	if !found {
		return fmt.Errorf("user %s not found", id)
	}
	s.doc.Users = users

	accounts := s.doc.Accounts[:0]
	for _, account := range s.doc.Accounts {
		if account.UserID != id {
			accounts = append(accounts, account)
		}
	}
	s.doc.Accounts = accounts
	return s.persist()
}

// InsertAccount adds a new account. The owning user must exist.
func (s *Store) InsertAccount(account Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	owned := false
	for _, user := range s.doc.Users {
		if user.ID == account.UserID {
			owned = true
			break
		}
	}
	if !owned {
		return fmt.Errorf("account %s references unknown user %s", account.AccountID, account.UserID)
	}
	for _, existing := range s.doc.Accounts {
		if existing.ID == account.ID {
			return fmt.Errorf("account %s already exists", account.ID)
		}
		if existing.AccountID == account.AccountID {
			return fmt.Errorf("accountId %s already exists", account.AccountID)
		}
	}
	s.doc.Accounts = append(s.doc.Accounts, account)
	return s.persist()
}

// FindAccountByAccountID returns the account or nil.
func (s *Store) FindAccountByAccountID(accountID string) *Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, account := range s.doc.Accounts {
		if account.AccountID == accountID {
			a := account
			return &a
		}
	}
	return nil
}

// FindAccountsByUserID returns all accounts owned by a user.
func (s *Store) FindAccountsByUserID(userID string) []Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Account
	for _, account := range s.doc.Accounts {
		if account.UserID == userID {
			out = append(out, account)
		}
	}
	return out
}

// UpdateAccount applies patch to the account and bumps UpdatedAt.
func (s *Store) UpdateAccount(accountID string, patch AccountPatch) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.doc.Accounts {
		if s.doc.Accounts[i].AccountID != accountID {
			continue
		}
		account := &s.doc.Accounts[i]
		if patch.AccessToken != nil {
			account.AccessToken = *patch.AccessToken
		}
		if patch.RefreshToken != nil {
			account.RefreshToken = patch.RefreshToken
		}
		if patch.AccessTokenExpiresAt != nil {
			account.AccessTokenExpiresAt = patch.AccessTokenExpiresAt
		}
		if patch.RefreshTokenExpiresAt != nil {
			account.RefreshTokenExpiresAt = patch.RefreshTokenExpiresAt
		}
		if patch.Scope != nil {
			account.Scope = patch.Scope
		}
		account.UpdatedAt = time.Now().UTC()
		updated := *account
		if err := s.persist(); err != nil {
			return nil, err
		}
		return &updated, nil
	}
	return nil, fmt.Errorf("account %s not found", accountID)
}

// DeleteAccount removes the account.
func (s *Store) DeleteAccount(accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts := s.doc.Accounts[:0]
	found := false
	for _, account := range s.doc.Accounts {
		if account.AccountID == accountID {
			found = true
			continue
		}
		accounts = append(accounts, account)
	}
	if !found {
		return fmt.Errorf("account %s not found", accountID)
	}
	s.doc.Accounts = accounts
	return s.persist()
}

// GetAccountsWithUsers inner-joins accounts with their owning users.
func (s *Store) GetAccountsWithUsers() []AccountWithUser {
	s.mu.RLock()
	defer s.mu.RUnlock()

	usersByID := make(map[string]User, len(s.doc.Users))
	for _, user := range s.doc.Users {
		usersByID[user.ID] = user
	}

	var out []AccountWithUser
	for _, account := range s.doc.Accounts {
		user, ok := usersByID[account.UserID]
		if !ok {
			continue
		}
		out = append(out, AccountWithUser{Account: account, User: user})
	}
	return out
}

// persist writes the document atomically: temp file then rename. Callers
// hold the write lock.
func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credential store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create credential store directory: %w", err)
	}

	tmpDir := dir
	if !s.walMode {
		tmpDir = os.TempDir()
	}
	tmp, err := os.CreateTemp(tmpDir, ".credentials-*.json")
	if err != nil {
		return fmt.Errorf("create temp credential file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp credential file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp credential file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp credential file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("commit credential store: %w", err)
	}
	return nil
}
