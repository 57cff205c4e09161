package models

import (
	"strings"
	"time"
)

// Account is the identity aggregate: credentials plus the token and
// verification-code state owned by one user.
type Account struct {
	ID                 string             `json:"id"`
	Username           string             `json:"username"`
	NormalizedUsername string             `json:"normalized_username"`
	Email              string             `json:"email"`
	PassHash           string             `json:"pass_hash"`
	NewPassHash        string             `json:"new_pass_hash,omitempty"`
	ExternalID         string             `json:"external_id,omitempty"`
	Verified           bool               `json:"verified"`
	RefreshTokens      []RefreshToken     `json:"refresh_tokens"`
	MailCodes          []VerificationCode `json:"mail_codes"`
	CreatedAt          time.Time          `json:"created_at"`
}

type RefreshToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (t RefreshToken) IsExpired() bool {
	return t.ExpiresAt.Before(time.Now())
}

type VerificationCode struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
	Restore   bool      `json:"restore"`
}

func (c VerificationCode) IsExpired() bool {
	return c.ExpiresAt.Before(time.Now())
}

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

type Message struct {
	Email   string `json:"to"`
	Code    string `json:"code"`
	Purpose string `json:"purpose"`
}

const (
	PurposeActivate = "activate"
	PurposeRestore  = "restore"
)

// Rename updates the display name and keeps the normalized form in sync.
func (a *Account) Rename(username string) {
	a.Username = username
	a.NormalizedUsername = strings.ToLower(username)
}

// FindToken returns the index of the refresh token with the given value, or -1.
func (a *Account) FindToken(token string) int {
	for i, t := range a.RefreshTokens {
		if t.Token == token {
			return i
		}
	}
	return -1
}

// RemoveToken deletes the token at index i preserving order.
func (a *Account) RemoveToken(i int) {
	a.RefreshTokens = append(a.RefreshTokens[:i], a.RefreshTokens[i+1:]...)
}

// FindCode returns the index of the verification code with the given value, or -1.
func (a *Account) FindCode(code string) int {
	for i, c := range a.MailCodes {
		if c.Code == code {
			return i
		}
	}
	return -1
}

// RemoveCode deletes the code at index i preserving order.
func (a *Account) RemoveCode(i int) {
	a.MailCodes = append(a.MailCodes[:i], a.MailCodes[i+1:]...)
}
