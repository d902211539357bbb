// Package auth turns bearer tokens into caller identities and answers
// role questions about them. Credentials and token issuance for real
// logins belong to the authentication module; this package only needs to
// verify what it issued.
package auth

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/setu/events-api/internal/types"
)

// Claims carries the caller's role next to the standard claims; the
// subject is the numeric identity id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type JWTManager struct {
	secret []byte
	expiry time.Duration
	issuer string
}

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

func NewJWTManager(secret string, expiry time.Duration, issuer string) *JWTManager {
	return &JWTManager{
		secret: []byte(secret),
		expiry: expiry,
		issuer: issuer,
	}
}

// Generate signs a token for the identity.
func (m *JWTManager) Generate(id types.Identity) (string, error) {
	if id.ID <= 0 || !id.Role.Valid() {
		return "", ErrInvalidToken
	}

	now := time.Now()
	claims := &Claims{
		Role: string(id.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(id.ID, 10),
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Authenticate validates a token and returns the identity it carries.
func (m *JWTManager) Authenticate(tokenString string) (types.Identity, error) {
	if strings.TrimSpace(tokenString) == "" {
		return types.Identity{}, ErrMissingToken
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer))
	if err != nil {
		return types.Identity{}, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return types.Identity{}, ErrInvalidToken
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return types.Identity{}, ErrInvalidToken
	}
	role := types.Role(strings.ToLower(claims.Role))
	if !role.Valid() {
		return types.Identity{}, ErrInvalidToken
	}
	return types.Identity{ID: id, Role: role}, nil
}

func TokenFromHeader(authHeader string) (string, error) {
	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(parts[1]), nil
}
