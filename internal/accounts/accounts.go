// Package accounts implements the credential and token lifecycle engine:
// registration with provisional-account supersede, credential verification,
// refresh token rotation and short-lived one-time mail codes.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"account_service/internal/config"
	"account_service/internal/lib/crypto"
	"account_service/internal/lib/keymutex"
	sl "account_service/internal/lib/logger"
	"account_service/internal/models"
	"account_service/internal/storage"

	"github.com/google/uuid"
)

var (
	ErrInvalidFormat          = errors.New("invalid format")
	ErrNameTaken              = errors.New("name already taken")
	ErrEmailTaken             = errors.New("email already registered")
	ErrUserNotFound           = errors.New("user not found")
	ErrInvalidPassword        = errors.New("invalid password")
	ErrTokenExpired           = errors.New("refresh token expired")
	ErrAccountNotVerified     = errors.New("account not verified")
	ErrExternalIdentityFailed = errors.New("external identity verification failed")
	ErrCodeNotFound           = errors.New("verification code not found")
	ErrCodeExpired            = errors.New("verification code expired")
)

type AccountSaver interface {
	SaveAccount(ctx context.Context, acc models.Account) error
	UpdateAccount(ctx context.Context, id string, acc models.Account) error
	DeleteAccount(ctx context.Context, id string) error
}

type AccountProvider interface {
	Account(ctx context.Context, f storage.Filter) (models.Account, error)
	AccountByRefreshToken(ctx context.Context, token string) (models.Account, error)
}

// TokenIndex maps refresh token values to owning account ids. It is a fast
// path only: misses and failures fall back to the storage scan.
type TokenIndex interface {
	SetToken(ctx context.Context, token, accountID string, ttl time.Duration) error
	DeleteTokens(ctx context.Context, tokens ...string) error
	AccountIDByToken(ctx context.Context, token string) (string, error)
}

type IdentityResolver interface {
	ResolveID(ctx context.Context, name string) (string, error)
	ResolveName(ctx context.Context, externalID string) (string, error)
}

type Publisher interface {
	SendMessage(ctx context.Context, msg models.Message) error
}

type Accounts struct {
	log      *slog.Logger
	saver    AccountSaver
	provider AccountProvider
	index    TokenIndex
	identity IdentityResolver
	mail     Publisher
	hasher   crypto.Hasher
	locks    *keymutex.KeyMutex

	accessTTL  time.Duration
	refreshTTL time.Duration
	codeTTL    time.Duration
	secret     string
	issuer     string
	audience   string

	mailEnabled     bool
	identityEnabled bool
}

func New(
	log *slog.Logger,
	saver AccountSaver,
	provider AccountProvider,
	index TokenIndex,
	identity IdentityResolver,
	mail Publisher,
	hasher crypto.Hasher,
	cfg *config.Config,
) *Accounts {
	return &Accounts{
		log:             log,
		saver:           saver,
		provider:        provider,
		index:           index,
		identity:        identity,
		mail:            mail,
		hasher:          hasher,
		locks:           keymutex.New(),
		accessTTL:       cfg.Tokens.AccessTokenTTL,
		refreshTTL:      cfg.Tokens.RefreshTokenTTL,
		codeTTL:         cfg.Tokens.CodeTTL,
		secret:          cfg.Tokens.Secret,
		issuer:          cfg.Tokens.Issuer,
		audience:        cfg.Tokens.Audience,
		mailEnabled:     cfg.Features.MailActivation && mail != nil,
		identityEnabled: cfg.Features.ExternalIdentity && identity != nil,
	}
}

// Register creates a new account. A pending unverified account holding the
// same name or email is superseded: deleted outright, never reused. Conflict
// checks apply to verified accounts only.
func (a *Accounts) Register(ctx context.Context, username, password, email string) error {
	const op = "accounts.Register"

	log := a.log.With(slog.String("op", op))

	if !ValidUsername(username) || !ValidPassword(password) || !ValidEmail(email) {
		return ErrInvalidFormat
	}

	var externalID string
	if a.identityEnabled {
		id, err := a.identity.ResolveID(ctx, username)
		if err != nil {
			log.Warn("failed to resolve external identity", sl.Err(err))
			return ErrExternalIdentityFailed
		}
		externalID = id
	}

	normalized := strings.ToLower(username)
	lowEmail := strings.ToLower(email)

	if err := a.supersedeProvisional(ctx, log, normalized, lowEmail); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	_, err := a.provider.Account(ctx, storage.Filter{Email: lowEmail, Verified: storage.BoolPtr(true)})
	if err == nil {
		return ErrEmailTaken
	}
	if !errors.Is(err, storage.ErrAccountNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}

	_, err = a.provider.Account(ctx, storage.Filter{Name: normalized, Verified: storage.BoolPtr(true)})
	if err == nil {
		return ErrNameTaken
	}
	if !errors.Is(err, storage.ErrAccountNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}

	passHash, err := a.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if externalID == "" {
		externalID = strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	now := time.Now()
	code := crypto.NewOpaqueCode(now.UTC().String())

	acc := models.Account{
		ID:                 uuid.NewString(),
		Username:           username,
		NormalizedUsername: normalized,
		Email:              email,
		PassHash:           passHash,
		ExternalID:         externalID,
		Verified:           !a.mailEnabled,
		MailCodes: []models.VerificationCode{{
			Code:      code,
			ExpiresAt: now.Add(a.codeTTL),
		}},
		CreatedAt: now,
	}

	if err := a.saver.SaveAccount(ctx, acc); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if a.mailEnabled {
		a.dispatch(ctx, email, code, models.PurposeActivate)
	} else {
		log.Info("activation code issued", slog.String("code", code))
	}

	log.Info("account registered", slog.String("id", acc.ID))

	return nil
}

// VerifyCredentials checks a password against the account found by name or,
// failing that, by email. An unverified account never passes.
func (a *Accounts) VerifyCredentials(ctx context.Context, nameOrEmail, password string) error {
	const op = "accounts.VerifyCredentials"

	acc, err := a.byNameOrEmail(ctx, nameOrEmail)
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	if !a.hasher.Compare(acc.PassHash, password) {
		return ErrInvalidPassword
	}

	if !acc.Verified {
		return ErrAccountNotVerified
	}

	return nil
}

// RequestPasswordReset stores the hash of the requested password as pending
// and issues a restore code. The pending hash becomes active only when the
// code is consumed.
func (a *Accounts) RequestPasswordReset(ctx context.Context, email, newPassword string) error {
	const op = "accounts.RequestPasswordReset"

	log := a.log.With(slog.String("op", op))

	if !ValidEmail(email) || !ValidPassword(newPassword) {
		return ErrInvalidFormat
	}

	acc, err := a.provider.Account(ctx, storage.Filter{Email: strings.ToLower(email)})
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
		return fmt.Errorf("%s: account vanished during reset: %w", op, err)
	}

	newHash, err := a.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now()
	code := crypto.NewOpaqueCode(now.UTC().String())

	acc.NewPassHash = newHash
	acc.MailCodes = append(acc.MailCodes, models.VerificationCode{
		Code:      code,
		ExpiresAt: now.Add(a.codeTTL),
		Restore:   true,
	})

	if err := a.saver.UpdateAccount(ctx, acc.ID, acc); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if a.mail != nil {
		a.dispatch(ctx, acc.Email, code, models.PurposeRestore)
	} else {
		log.Info("restore code issued", slog.String("code", code))
	}

	log.Info("password reset requested", slog.String("id", acc.ID))

	return nil
}

// supersedeProvisional deletes an unverified account holding the requested
// name or email: a new registration attempt always wins over an abandoned one.
func (a *Accounts) supersedeProvisional(ctx context.Context, log *slog.Logger, normalized, lowEmail string) error {
	stale, err := a.provider.Account(ctx, storage.Filter{Name: normalized, Verified: storage.BoolPtr(false)})
	if errors.Is(err, storage.ErrAccountNotFound) {
		stale, err = a.provider.Account(ctx, storage.Filter{Email: lowEmail, Verified: storage.BoolPtr(false)})
	}
	if err != nil {
		if errors.Is(err, storage.ErrAccountNotFound) {
			return nil
		}
		return err
	}

	if err := a.saver.DeleteAccount(ctx, stale.ID); err != nil {
		return err
	}

	log.Info("superseded provisional account", slog.String("id", stale.ID))

	return nil
}

func (a *Accounts) byNameOrEmail(ctx context.Context, nameOrEmail string) (models.Account, error) {
	low := strings.ToLower(nameOrEmail)

	acc, err := a.provider.Account(ctx, storage.Filter{Name: low})
	if errors.Is(err, storage.ErrAccountNotFound) {
		acc, err = a.provider.Account(ctx, storage.Filter{Email: low})
	}

	return acc, err
}

// dispatch hands a code to the mail queue. Delivery is fire-and-forget: a
// publish failure is logged and never fails the triggering operation.
func (a *Accounts) dispatch(ctx context.Context, email, code, purpose string) {
	msg := models.Message{
		Email:   email,
		Code:    code,
		Purpose: purpose,
	}

	if err := a.mail.SendMessage(ctx, msg); err != nil {
		a.log.Warn("failed to dispatch mail", slog.String("purpose", purpose), sl.Err(err))
	}
}
