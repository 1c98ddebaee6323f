// Copyright (c) 2025 Archmagece
// SPDX-License-Identifier: MIT

package credstore

import "time"

// Provider identifiers accepted for accounts.
const (
	ProviderGitLab = "gitlab"
	ProviderGitHub = "github"
	ProviderCustom = "custom"
)

// User is the owner of one or more OAuth2 accounts. Email is the upsert key.
type User struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Account holds OAuth2 credentials for one provider account.
// A nil RefreshToken means the token cannot be auto-refreshed; a nil
// AccessTokenExpiresAt means the token never expires.
type Account struct {
	ID                    string     `json:"id"`
	AccountID             string     `json:"accountId"`
	ProviderID            string     `json:"providerId"`
	UserID                string     `json:"userId"`
	AccessToken           string     `json:"accessToken"`
	RefreshToken          *string    `json:"refreshToken,omitempty"`
	AccessTokenExpiresAt  *time.Time `json:"accessTokenExpiresAt,omitempty"`
	RefreshTokenExpiresAt *time.Time `json:"refreshTokenExpiresAt,omitempty"`
	Scope                 *string    `json:"scope,omitempty"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

// AccountPatch carries the mutable fields of UpdateAccount. Nil fields are
// left untouched.
type AccountPatch struct {
	AccessToken           *string
	RefreshToken          *string
	AccessTokenExpiresAt  *time.Time
	RefreshTokenExpiresAt *time.Time
	Scope                 *string
}

// AccountWithUser is one row of the accounts ⋈ users join.
type AccountWithUser struct {
	Account Account `json:"account"`
	User    User    `json:"user"`
}

// document is the on-disk shape of the store file.
type document struct {
	Users    []User    `json:"users"`
	Accounts []Account `json:"accounts"`
}
