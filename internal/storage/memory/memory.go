// Package memory is a map-backed account store with the same query-by-filter
// surface as the postgres store. It backs the engine tests.
package memory

import (
	"context"
	"strings"
	"sync"

	"account_service/internal/models"
	"account_service/internal/storage"
)

type Storage struct {
	mu       sync.RWMutex
	accounts map[string]models.Account
}

func New() *Storage {
	return &Storage{accounts: make(map[string]models.Account)}
}

func (s *Storage) SaveAccount(_ context.Context, acc models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[acc.ID]; ok {
		return storage.ErrAccountExists
	}

	s.accounts[acc.ID] = clone(acc)

	return nil
}

func (s *Storage) UpdateAccount(_ context.Context, id string, acc models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[id]; !ok {
		return storage.ErrAccountNotFound
	}

	acc.ID = id
	s.accounts[id] = clone(acc)

	return nil
}

func (s *Storage) DeleteAccount(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[id]; !ok {
		return storage.ErrAccountNotFound
	}

	delete(s.accounts, id)

	return nil
}

func (s *Storage) Account(_ context.Context, f storage.Filter) (models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, acc := range s.accounts {
		if matches(acc, f) {
			return clone(acc), nil
		}
	}

	return models.Account{}, storage.ErrAccountNotFound
}

func (s *Storage) AccountByRefreshToken(_ context.Context, token string) (models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, acc := range s.accounts {
		if acc.FindToken(token) >= 0 {
			return clone(acc), nil
		}
	}

	return models.Account{}, storage.ErrAccountNotFound
}

func matches(acc models.Account, f storage.Filter) bool {
	if f.ID != "" && acc.ID != f.ID {
		return false
	}
	if f.Name != "" && acc.NormalizedUsername != f.Name {
		return false
	}
	if f.Email != "" && !strings.EqualFold(acc.Email, f.Email) {
		return false
	}
	if f.Verified != nil && acc.Verified != *f.Verified {
		return false
	}
	return true
}

// clone detaches the slice state so callers never alias stored aggregates.
func clone(acc models.Account) models.Account {
	acc.RefreshTokens = append([]models.RefreshToken(nil), acc.RefreshTokens...)
	acc.MailCodes = append([]models.VerificationCode(nil), acc.MailCodes...)
	return acc
}
