package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sumanyunandwani/AnalyzeAI/internal/identity"
)

// CookieName carries the access token on browser requests.
const CookieName = "access_token"

var ErrInvalidToken = errors.New("invalid token")

// Claims identify a signed-in user. UserID is the pseudonymized id derived
// from name and email.
type Claims struct {
	UserID   string `json:"user_id"`
	Name     string `json:"name,omitempty"`
	Email    string `json:"email,omitempty"`
	OAuthTag string `json:"oauth_tag,omitempty"`
	jwt.RegisteredClaims
}

// NewClaims builds claims for a user, computing the pseudonymized id.
func NewClaims(name, email, oauthTag string) Claims {
	return Claims{
		UserID:   identity.PseudonymizeUser(name, email),
		Name:     name,
		Email:    email,
		OAuthTag: oauthTag,
	}
}

func SignJWT(c Claims, secret string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(c.UserID) == "" {
		return "", fmt.Errorf("sign jwt: empty user id")
	}
	now := time.Now()
	c.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   c.UserID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}

// ParseJWT verifies an HS256 token and returns its claims.
func ParseJWT(tokenStr, secret string) (*Claims, error) {
	var c Claims
	tok, err := jwt.ParseWithClaims(tokenStr, &c, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if !tok.Valid || strings.TrimSpace(c.UserID) == "" {
		return nil, ErrInvalidToken
	}
	return &c, nil
}

// UserIdentity verifies tokenStr and returns the user identity it names.
func UserIdentity(tokenStr, secret string) (identity.Identity, error) {
	c, err := ParseJWT(tokenStr, secret)
	if err != nil {
		return identity.Identity{}, err
	}
	return identity.User(c.UserID), nil
}
