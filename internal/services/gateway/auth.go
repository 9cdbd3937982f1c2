package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// PlayerClaims is the token payload identifying a player. The subject is the
// player id.
type PlayerClaims struct {
	Scopes []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier checks HMAC-signed player tokens.
type TokenVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokenVerifier creates a verifier for tokens signed with secret. A
// non-empty issuer is required to match the iss claim.
func NewTokenVerifier(secret []byte, issuer string) (*TokenVerifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("token secret is required")
	}
	return &TokenVerifier{
		secret: append([]byte(nil), secret...),
		issuer: strings.TrimSpace(issuer),
		now:    time.Now,
	}, nil
}

// Issue signs a token for playerID valid for ttl.
func (v *TokenVerifier) Issue(playerID string, scopes []string, ttl time.Duration) (string, error) {
	playerID = strings.TrimSpace(playerID)
	if playerID == "" {
		return "", errors.New("player id is required")
	}
	now := v.now()
	claims := PlayerClaims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   playerID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses token and returns its claims.
func (v *TokenVerifier) Verify(token string) (PlayerClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return PlayerClaims{}, errors.New("token is required")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	var claims PlayerClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return PlayerClaims{}, fmt.Errorf("verify token: %w", err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return PlayerClaims{}, errors.New("token subject is required")
	}
	return claims, nil
}

// tokenFromRequest reads a bearer token from the Authorization header, or
// from the token query parameter since browsers cannot set headers on
// websocket upgrades.
func tokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if value, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		if token := strings.TrimSpace(value); token != "" {
			return token
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
