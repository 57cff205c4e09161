package jwt

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// NewAccessToken issues a compact HS256 token whose sole claim of interest is
// the account id in "sub". Issuer and audience identify this service to the
// downstream verifiers.
func NewAccessToken(accountID, secret, issuer, audience string, ttl time.Duration) (string, error) {
	const op = "jwt.NewAccessToken"

	now := time.Now()

	claims := jwt.RegisteredClaims{
		Subject:   accountID,
		Issuer:    issuer,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return signed, nil
}

// ParseAccessToken validates the signature and expiry and returns the account
// id carried in the "sub" claim.
func ParseAccessToken(tokenStr, secret string) (string, error) {
	const op = "jwt.ParseAccessToken"

	claims := &jwt.RegisteredClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%s: unexpected signing method", op)
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	if !token.Valid {
		return "", fmt.Errorf("%s: invalid token", op)
	}

	if claims.Subject == "" {
		return "", fmt.Errorf("%s: missing sub claim", op)
	}

	return claims.Subject, nil
}
