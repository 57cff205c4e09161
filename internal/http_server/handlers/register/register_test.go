package register_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"account_service/internal/accounts"
	"account_service/internal/config"
	"account_service/internal/http_server/handlers/register"
	"account_service/internal/lib/crypto"
	"account_service/internal/storage/memory"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandler(t *testing.T) http.HandlerFunc {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := &config.Config{}
	cfg.Tokens.Secret = "test-secret"

	store := memory.New()
	service := accounts.New(log, store, store, nil, nil, nil, crypto.SHA256Hasher{}, cfg)

	return register.New(log, validator.New(), service)
}

func do(t *testing.T, handler http.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body))
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	return rr
}

func TestRegister_Success(t *testing.T) {
	t.Parallel()

	handler := newHandler(t)

	rr := do(t, handler, `{"username":"steve","password":"Passw0rd","email":"steve@example.com"}`)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestRegister_MissingFields(t *testing.T) {
	t.Parallel()

	handler := newHandler(t)

	rr := do(t, handler, `{"username":"steve"}`)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "required field")
}

func TestRegister_BadJSON(t *testing.T) {
	t.Parallel()

	handler := newHandler(t)

	rr := do(t, handler, `{"username":`)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRegister_InvalidFormat(t *testing.T) {
	t.Parallel()

	handler := newHandler(t)

	// Password has no uppercase letter.
	rr := do(t, handler, `{"username":"steve","password":"passw0rd","email":"steve@example.com"}`)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "format")
}

func TestRegister_NameTaken(t *testing.T) {
	t.Parallel()

	handler := newHandler(t)

	rr := do(t, handler, `{"username":"steve","password":"Passw0rd","email":"steve@example.com"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, handler, `{"username":"steve","password":"Passw0rd","email":"other@example.com"}`)

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "name already taken")
}

func TestRegister_EmailTaken(t *testing.T) {
	t.Parallel()

	handler := newHandler(t)

	rr := do(t, handler, `{"username":"steve","password":"Passw0rd","email":"steve@example.com"}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, handler, `{"username":"alex","password":"Passw0rd","email":"steve@example.com"}`)

	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "email already registered")
}
