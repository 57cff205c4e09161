package accounts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"account_service/internal/config"
	"account_service/internal/lib/crypto"
	"account_service/internal/models"
	"account_service/internal/storage"
	"account_service/internal/storage/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	mu   sync.Mutex
	msgs []models.Message
	fail bool
}

func (p *fakePublisher) SendMessage(_ context.Context, msg models.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fail {
		return errors.New("broker unavailable")
	}

	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *fakePublisher) lastCode(t *testing.T) string {
	t.Helper()

	p.mu.Lock()
	defer p.mu.Unlock()

	require.NotEmpty(t, p.msgs, "no mail dispatched")
	return p.msgs[len(p.msgs)-1].Code
}

type fakeResolver struct {
	ids   map[string]string
	names map[string]string
	err   error
}

func (r *fakeResolver) ResolveID(_ context.Context, name string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return r.ids[name], nil
}

func (r *fakeResolver) ResolveName(_ context.Context, externalID string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return r.names[externalID], nil
}

type fakeIndex struct {
	mu      sync.Mutex
	entries map[string]string
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{entries: make(map[string]string)}
}

func (i *fakeIndex) SetToken(_ context.Context, token, accountID string, _ time.Duration) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.entries[token] = accountID
	return nil
}

func (i *fakeIndex) DeleteTokens(_ context.Context, tokens ...string) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	for _, t := range tokens {
		delete(i.entries, t)
	}
	return nil
}

func (i *fakeIndex) AccountIDByToken(_ context.Context, token string) (string, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	id, ok := i.entries[token]
	if !ok {
		return "", storage.ErrTokenNotIndexed
	}
	return id, nil
}

func (i *fakeIndex) size() int {
	i.mu.Lock()
	defer i.mu.Unlock()

	return len(i.entries)
}

type env struct {
	svc   *Accounts
	store *memory.Storage
	pub   *fakePublisher
	idx   *fakeIndex
	res   *fakeResolver
}

func newEnv(t *testing.T, mutate func(cfg *config.Config)) *env {
	t.Helper()

	cfg := &config.Config{
		Tokens: config.Tokens{
			AccessTokenTTL:  5 * time.Minute,
			RefreshTokenTTL: 30 * 24 * time.Hour,
			CodeTTL:         5 * time.Minute,
			Secret:          "test-secret",
			Issuer:          "account_service",
			Audience:        "account_service_clients",
		},
		Features: config.Features{MailActivation: true},
	}
	if mutate != nil {
		mutate(cfg)
	}

	store := memory.New()
	pub := &fakePublisher{}
	idx := newFakeIndex()
	res := &fakeResolver{
		ids:   make(map[string]string),
		names: make(map[string]string),
	}

	var mail Publisher
	if cfg.Features.MailActivation {
		mail = pub
	}

	var identity IdentityResolver
	if cfg.Features.ExternalIdentity {
		identity = res
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := New(log, store, store, idx, identity, mail, crypto.SHA256Hasher{}, cfg)

	return &env{
		svc:   svc,
		store: store,
		pub:   pub,
		idx:   idx,
		res:   res,
	}
}

// register creates an account and returns the dispatched activation code.
func (e *env) register(t *testing.T, username, password, email string) string {
	t.Helper()

	require.NoError(t, e.svc.Register(context.Background(), username, password, email))
	return e.pub.lastCode(t)
}

func (e *env) account(t *testing.T, name string) models.Account {
	t.Helper()

	acc, err := e.store.Account(context.Background(), storage.Filter{Name: name})
	require.NoError(t, err)
	return acc
}

func TestRegister_ActivateLogin(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	ctx := context.Background()

	code := e.register(t, "Alice1", "Passw0rd", "a@x.com")

	err := e.svc.VerifyCredentials(ctx, "Alice1", "Passw0rd")
	require.ErrorIs(t, err, ErrAccountNotVerified)

	require.NoError(t, e.svc.ConsumeCode(ctx, "Alice1", code))

	require.NoError(t, e.svc.VerifyCredentials(ctx, "Alice1", "Passw0rd"))

	acc := e.account(t, "alice1")
	assert.True(t, acc.Verified)
	assert.Equal(t, "alice1", acc.NormalizedUsername)
	assert.Empty(t, acc.MailCodes)
}

func TestRegister_InvalidFormat(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		username string
		password string
		email    string
	}{
		{"short username", "Al", "Passw0rd", "a@x.com"},
		{"long username", "ThisNameIsWayTooLong1", "Passw0rd", "a@x.com"},
		{"username with dash", "Alice-1", "Passw0rd", "a@x.com"},
		{"short password", "Alice1", "Pw0rd", "a@x.com"},
		{"password without digit", "Alice1", "Password", "a@x.com"},
		{"password without upper", "Alice1", "passw0rd", "a@x.com"},
		{"password without lower", "Alice1", "PASSW0RD", "a@x.com"},
		{"bad email", "Alice1", "Passw0rd", "not-an-email"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := e.svc.Register(ctx, tc.username, tc.password, tc.email)
			assert.ErrorIs(t, err, ErrInvalidFormat)
		})
	}
}

func TestRegister_SupersedesProvisional(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	ctx := context.Background()

	e.register(t, "Alice1", "Passw0rd", "a@x.com")

	// A new attempt with the same name always wins over the abandoned one.
	code := e.register(t, "Alice1", "Passw0rd", "b@x.com")

	_, err := e.store.Account(ctx, storage.Filter{Email: "a@x.com"})
	require.ErrorIs(t, err, storage.ErrAccountNotFound)

	require.NoError(t, e.svc.ConsumeCode(ctx, "Alice1", code))

	// Once verified the name is final.
	err = e.svc.Register(ctx, "Alice1", "Passw0rd", "c@x.com")
	require.ErrorIs(t, err, ErrNameTaken)
}

func TestRegister_SupersedesProvisionalByEmail(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	ctx := context.Background()

	e.register(t, "Alice1", "Passw0rd", "a@x.com")
	e.register(t, "Bob222", "Passw0rd", "a@x.com")

	_, err := e.store.Account(ctx, storage.Filter{Name: "alice1"})
	require.ErrorIs(t, err, storage.ErrAccountNotFound)

	acc := e.account(t, "bob222")
	assert.False(t, acc.Verified)
}

func TestRegister_EmailTaken(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	ctx := context.Background()

	code := e.register(t, "Alice1", "Passw0rd", "a@x.com")
	require.NoError(t, e.svc.ConsumeCode(ctx, "Alice1", code))

	err := e.svc.Register(ctx, "Bob222", "Passw0rd", "a@x.com")
	require.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegister_MailDisabled(t *testing.T) {
	t.Parallel()

	e := newEnv(t, func(cfg *config.Config) {
		cfg.Features.MailActivation = false
	})
	ctx := context.Background()

	require.NoError(t, e.svc.Register(ctx, "Alice1", "Passw0rd", "a@x.com"))

	// No mail pipeline: the account is created already verified.
	require.NoError(t, e.svc.VerifyCredentials(ctx, "Alice1", "Passw0rd"))
	assert.Empty(t, e.pub.msgs)
}

func TestRegister_ExternalIdentity(t *testing.T) {
	t.Parallel()

	e := newEnv(t, func(cfg *config.Config) {
		cfg.Features.ExternalIdentity = true
	})
	e.res.ids["Alice1"] = "ext-uuid-1"

	e.register(t, "Alice1", "Passw0rd", "a@x.com")

	acc := e.account(t, "alice1")
	assert.Equal(t, "ext-uuid-1", acc.ExternalID)
}

func TestRegister_ExternalIdentityFailed(t *testing.T) {
	t.Parallel()

	e := newEnv(t, func(cfg *config.Config) {
		cfg.Features.ExternalIdentity = true
	})
	e.res.err = errors.New("resolver down")

	err := e.svc.Register(context.Background(), "Alice1", "Passw0rd", "a@x.com")
	require.ErrorIs(t, err, ErrExternalIdentityFailed)
}

func TestRegister_MailFailureDoesNotFailRegistration(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	e.pub.fail = true

	require.NoError(t, e.svc.Register(context.Background(), "Alice1", "Passw0rd", "a@x.com"))
}

func TestVerifyCredentials(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	ctx := context.Background()

	code := e.register(t, "Alice1", "Passw0rd", "a@x.com")
	require.NoError(t, e.svc.ConsumeCode(ctx, "Alice1", code))

	require.NoError(t, e.svc.VerifyCredentials(ctx, "Alice1", "Passw0rd"))

	// Lookup falls back to email.
	require.NoError(t, e.svc.VerifyCredentials(ctx, "a@x.com", "Passw0rd"))

	err := e.svc.VerifyCredentials(ctx, "Alice1", "WrongPass1")
	require.ErrorIs(t, err, ErrInvalidPassword)

	err = e.svc.VerifyCredentials(ctx, "Nobody1", "Passw0rd")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestPasswordReset(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	ctx := context.Background()

	code := e.register(t, "Alice1", "Passw0rd", "a@x.com")
	require.NoError(t, e.svc.ConsumeCode(ctx, "Alice1", code))

	require.NoError(t, e.svc.RequestPasswordReset(ctx, "a@x.com", "NewPassw0rd"))

	// Pending password is not active until the code is consumed.
	require.NoError(t, e.svc.VerifyCredentials(ctx, "Alice1", "Passw0rd"))
	require.ErrorIs(t, e.svc.VerifyCredentials(ctx, "Alice1", "NewPassw0rd"), ErrInvalidPassword)

	restoreCode := e.pub.lastCode(t)
	require.NoError(t, e.svc.ConsumeCode(ctx, "Alice1", restoreCode))

	require.NoError(t, e.svc.VerifyCredentials(ctx, "Alice1", "NewPassw0rd"))
	require.ErrorIs(t, e.svc.VerifyCredentials(ctx, "Alice1", "Passw0rd"), ErrInvalidPassword)

	acc := e.account(t, "alice1")
	assert.Empty(t, acc.NewPassHash)
}

func TestPasswordReset_Errors(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	ctx := context.Background()

	err := e.svc.RequestPasswordReset(ctx, "nobody@x.com", "NewPassw0rd")
	require.ErrorIs(t, err, ErrUserNotFound)

	err = e.svc.RequestPasswordReset(ctx, "a@x.com", "weak")
	require.ErrorIs(t, err, ErrInvalidFormat)
}

func TestConsumeCode_SingleUse(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)
	ctx := context.Background()

	code := e.register(t, "Alice1", "Passw0rd", "a@x.com")

	require.NoError(t, e.svc.ConsumeCode(ctx, "Alice1", code))

	err := e.svc.ConsumeCode(ctx, "Alice1", code)
	require.ErrorIs(t, err, ErrCodeNotFound)
}

func TestConsumeCode_Expired(t *testing.T) {
	t.Parallel()

	e := newEnv(t, func(cfg *config.Config) {
		cfg.Tokens.CodeTTL = -time.Minute
	})
	ctx := context.Background()

	code := e.register(t, "Alice1", "Passw0rd", "a@x.com")

	err := e.svc.ConsumeCode(ctx, "Alice1", code)
	require.ErrorIs(t, err, ErrCodeExpired)

	// The expired copy was evicted: replaying it cannot succeed.
	err = e.svc.ConsumeCode(ctx, "Alice1", code)
	require.ErrorIs(t, err, ErrCodeNotFound)
}

func TestConsumeCode_UnknownUser(t *testing.T) {
	t.Parallel()

	e := newEnv(t, nil)

	err := e.svc.ConsumeCode(context.Background(), "Nobody1", "deadbeef")
	require.ErrorIs(t, err, ErrUserNotFound)
}
