package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims are the token claims this service consumes from the identity
// provider: the subject (user ID) and a display name.
type Claims struct {
	UserID      string `json:"sub"`
	DisplayName string `json:"name"`
	jwt.RegisteredClaims
}

// TokenVerifier validates HS256 bearer tokens issued by the identity
// provider.
type TokenVerifier struct {
	secretKey []byte
	issuer    string
}

// NewTokenVerifier creates a verifier for tokens signed with secretKey.
// If issuer is non-empty, the token's issuer claim must match.
func NewTokenVerifier(secretKey, issuer string) *TokenVerifier {
	return &TokenVerifier{secretKey: []byte(secretKey), issuer: issuer}
}

// Verify parses and validates a token string, returning its claims.
func (v *TokenVerifier) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	if v.issuer != "" {
		issuer, err := claims.GetIssuer()
		if err != nil || issuer != v.issuer {
			return nil, ErrInvalidToken
		}
	}
	return claims, nil
}

// IssueToken signs a token for a user. Used by tests and local tooling; in
// production the external identity provider issues tokens.
func (v *TokenVerifier) IssueToken(userID, displayName string, validity time.Duration) (string, error) {
	claims := Claims{
		UserID:      userID,
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validity)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    v.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secretKey)
}
