package storage

import "errors"

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("account already exists")
	ErrTokenNotIndexed = errors.New("refresh token not indexed")
)

// Filter narrows account lookups. Zero-valued fields are ignored; Verified
// filters only when non-nil. Name matches the normalized (lowercased)
// username, Email is compared case-insensitively.
type Filter struct {
	ID       string
	Name     string
	Email    string
	Verified *bool
}

func BoolPtr(v bool) *bool { return &v }
