package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"account_service/internal/lib/crypto"
	"account_service/internal/lib/jwt"
	sl "account_service/internal/lib/logger"
	"account_service/internal/models"
	"account_service/internal/storage"
)

// IssueTokens mints an access/refresh pair for an account located by name or
// email. Callers are expected to have verified credentials first; a missing
// account here is an invariant violation, not a business outcome.
func (a *Accounts) IssueTokens(ctx context.Context, nameOrEmail string) (models.TokenPair, error) {
	const op = "accounts.IssueTokens"

	acc, err := a.byNameOrEmail(ctx, nameOrEmail)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	unlock := a.locks.Lock(acc.ID)
	defer unlock()

	acc, err = a.provider.Account(ctx, storage.Filter{ID: acc.ID})
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: account vanished during issue: %w", op, err)
	}

	a.reconcileIdentity(ctx, &acc)

	pair, rt, err := a.mintPair(&acc)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := a.saver.UpdateAccount(ctx, acc.ID, acc); err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	a.indexToken(ctx, rt, acc.ID)

	a.log.Info("tokens issued", slog.String("op", op), slog.String("id", acc.ID))

	return pair, nil
}

// CheckToken reports whether a refresh token is still valid. An expired token
// is evicted from its account on the spot.
func (a *Accounts) CheckToken(ctx context.Context, refreshToken string) error {
	const op = "accounts.CheckToken"

	acc, err := a.findOwner(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	unlock := a.locks.Lock(acc.ID)
	defer unlock()

	acc, err = a.provider.Account(ctx, storage.Filter{ID: acc.ID})
	if err != nil {
		return fmt.Errorf("%s: account vanished during check: %w", op, err)
	}

	i := acc.FindToken(refreshToken)
	if i < 0 {
		return ErrUserNotFound
	}

	if acc.RefreshTokens[i].IsExpired() {
		acc.RemoveToken(i)
		if err := a.saver.UpdateAccount(ctx, acc.ID, acc); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		a.deindexTokens(ctx, refreshToken)
		return ErrTokenExpired
	}

	return nil
}

// RotateTokens exchanges a refresh token for a fresh pair. The presented
// token is invalidated unconditionally; there is no grace window.
func (a *Accounts) RotateTokens(ctx context.Context, refreshToken string) (models.TokenPair, error) {
	const op = "accounts.RotateTokens"

	acc, err := a.findOwner(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			return models.TokenPair{}, ErrUserNotFound
		}
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	unlock := a.locks.Lock(acc.ID)
	defer unlock()

	acc, err = a.provider.Account(ctx, storage.Filter{ID: acc.ID})
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: account vanished during rotate: %w", op, err)
	}

	i := acc.FindToken(refreshToken)
	if i < 0 {
		return models.TokenPair{}, ErrUserNotFound
	}

	a.reconcileIdentity(ctx, &acc)

	acc.RemoveToken(i)

	pair, rt, err := a.mintPair(&acc)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := a.saver.UpdateAccount(ctx, acc.ID, acc); err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	a.deindexTokens(ctx, refreshToken)
	a.indexToken(ctx, rt, acc.ID)

	a.log.Info("tokens rotated", slog.String("op", op), slog.String("id", acc.ID))

	return pair, nil
}

// RevokeAllTokens clears every refresh token the owning account holds and
// issues a single new pair ("log out everywhere").
func (a *Accounts) RevokeAllTokens(ctx context.Context, refreshToken string) (models.TokenPair, error) {
	const op = "accounts.RevokeAllTokens"

	acc, err := a.findOwner(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			return models.TokenPair{}, ErrUserNotFound
		}
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	unlock := a.locks.Lock(acc.ID)
	defer unlock()

	acc, err = a.provider.Account(ctx, storage.Filter{ID: acc.ID})
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: account vanished during revoke: %w", op, err)
	}

	revoked := make([]string, 0, len(acc.RefreshTokens))
	for _, t := range acc.RefreshTokens {
		revoked = append(revoked, t.Token)
	}
	acc.RefreshTokens = nil

	pair, rt, err := a.mintPair(&acc)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := a.saver.UpdateAccount(ctx, acc.ID, acc); err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	a.deindexTokens(ctx, revoked...)
	a.indexToken(ctx, rt, acc.ID)

	a.log.Info("all tokens revoked", slog.String("op", op), slog.String("id", acc.ID))

	return pair, nil
}

// RevokeToken removes a single refresh token without issuing a replacement.
func (a *Accounts) RevokeToken(ctx context.Context, refreshToken string) error {
	const op = "accounts.RevokeToken"

	acc, err := a.findOwner(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	unlock := a.locks.Lock(acc.ID)
	defer unlock()

	acc, err = a.provider.Account(ctx, storage.Filter{ID: acc.ID})
	if err != nil {
		return fmt.Errorf("%s: account vanished during revoke: %w", op, err)
	}

	i := acc.FindToken(refreshToken)
	if i < 0 {
		return ErrUserNotFound
	}

	acc.RemoveToken(i)

	if err := a.saver.UpdateAccount(ctx, acc.ID, acc); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	a.deindexTokens(ctx, refreshToken)

	a.log.Info("token revoked", slog.String("op", op), slog.String("id", acc.ID))

	return nil
}

// findOwner locates the account holding a refresh token: index first, then
// the storage scan. A stale index entry is dropped and the scan decides.
func (a *Accounts) findOwner(ctx context.Context, refreshToken string) (models.Account, error) {
	if a.index != nil {
		id, err := a.index.AccountIDByToken(ctx, refreshToken)
		switch {
		case err == nil:
			acc, err := a.provider.Account(ctx, storage.Filter{ID: id})
			if err == nil && acc.FindToken(refreshToken) >= 0 {
				return acc, nil
			}
			a.deindexTokens(ctx, refreshToken)
		case !errors.Is(err, storage.ErrTokenNotIndexed):
			a.log.Warn("token index lookup failed", sl.Err(err))
		}
	}

	return a.provider.AccountByRefreshToken(ctx, refreshToken)
}

// mintPair creates a refresh token, appends it to the account and signs an
// access token for it.
func (a *Accounts) mintPair(acc *models.Account) (models.TokenPair, models.RefreshToken, error) {
	value, err := crypto.NewRefreshToken()
	if err != nil {
		return models.TokenPair{}, models.RefreshToken{}, err
	}

	rt := models.RefreshToken{
		Token:     value,
		ExpiresAt: time.Now().Add(a.refreshTTL),
	}
	acc.RefreshTokens = append(acc.RefreshTokens, rt)

	access, err := jwt.NewAccessToken(acc.ID, a.secret, a.issuer, a.audience, a.accessTTL)
	if err != nil {
		return models.TokenPair{}, models.RefreshToken{}, err
	}

	return models.TokenPair{
		AccessToken:  access,
		RefreshToken: rt.Token,
	}, rt, nil
}

// reconcileIdentity refreshes the stored name from the external source of
// truth. Resolver failures keep the old name.
func (a *Accounts) reconcileIdentity(ctx context.Context, acc *models.Account) {
	if !a.identityEnabled || acc.ExternalID == "" {
		return
	}

	name, err := a.identity.ResolveName(ctx, acc.ExternalID)
	if err != nil || name == "" {
		return
	}

	if strings.ToLower(name) != acc.NormalizedUsername {
		acc.Rename(name)
	}
}

func (a *Accounts) indexToken(ctx context.Context, rt models.RefreshToken, accountID string) {
	if a.index == nil {
		return
	}

	if err := a.index.SetToken(ctx, rt.Token, accountID, time.Until(rt.ExpiresAt)); err != nil {
		a.log.Warn("failed to index refresh token", sl.Err(err))
	}
}

func (a *Accounts) deindexTokens(ctx context.Context, tokens ...string) {
	if a.index == nil || len(tokens) == 0 {
		return
	}

	if err := a.index.DeleteTokens(ctx, tokens...); err != nil {
		a.log.Warn("failed to deindex refresh tokens", sl.Err(err))
	}
}
