package api

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/jmcleod/ebm/model"
)

const (
	accessTokenTTL  = 24 * time.Hour
	refreshTokenTTL = 7 * 24 * time.Hour
	tokenIssuer     = "ebm"
	refreshType     = "refresh"
)

// tokenClaims are carried by both token kinds. Type is "refresh" for
// refresh tokens and empty for access tokens.
type tokenClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
	Type   string `json:"type,omitempty"`
	jwt.RegisteredClaims
}

// tokenSigner issues and verifies HS256 tokens.
type tokenSigner struct {
	secret []byte
	now    func() time.Time
}

func (s *tokenSigner) sign(claims tokenClaims, ttl time.Duration) (string, error) {
	now := s.now()
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    tokenIssuer,
		Subject:   claims.UserID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// issue returns a fresh token pair for user.
func (s *tokenSigner) issue(user model.User) (*model.AuthToken, error) {
	access, err := s.sign(tokenClaims{UserID: user.ID, Email: user.Email}, accessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("signing access token: %w", err)
	}
	refresh, err := s.sign(tokenClaims{UserID: user.ID, Type: refreshType}, refreshTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("signing refresh token: %w", err)
	}
	return &model.AuthToken{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(accessTokenTTL / time.Second),
		TokenType:    "Bearer",
	}, nil
}

// verify parses raw and checks its signature, expiry and kind.
func (s *tokenSigner) verify(raw string, wantRefresh bool) (*tokenClaims, error) {
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, err
	}
	if (claims.Type == refreshType) != wantRefresh || claims.UserID == "" {
		return nil, fmt.Errorf("unexpected token kind")
	}
	return &claims, nil
}
