package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// tokenIssuer and tokenSubject identify event stream tokens.
	tokenIssuer  = "homecore"
	tokenSubject = "stream"

	// defaultTokenTTL applies when security.jwt.access_token_ttl is unset.
	defaultTokenTTL = 15 * time.Minute
)

// errTokensDisabled is returned when no JWT secret is configured.
var errTokensDisabled = errors.New("stream tokens are not configured")

// passwordOK reports whether given matches the configured api_password,
// stored either as plaintext or as an Argon2id hash. An unset password
// rejects every request.
func (s *Server) passwordOK(given string) bool {
	return s.password.Match(given)
}

func (s *Server) tokenTTL() time.Duration {
	if s.secCfg.JWT.AccessTokenTTL <= 0 {
		return defaultTokenTTL
	}
	return time.Duration(s.secCfg.JWT.AccessTokenTTL) * time.Minute
}

// issueToken signs a short-lived HS256 token for /api/stream.
func (s *Server) issueToken() (string, time.Duration, error) {
	if s.secCfg.JWT.Secret == "" {
		return "", 0, errTokensDisabled
	}

	ttl := s.tokenTTL()
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   tokenSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.secCfg.JWT.Secret))
	if err != nil {
		return "", 0, fmt.Errorf("signing token: %w", err)
	}
	return signed, ttl, nil
}

// validToken reports whether raw is an unexpired stream token signed with
// the configured secret.
func (s *Server) validToken(raw string) bool {
	if raw == "" || s.secCfg.JWT.Secret == "" {
		return false
	}

	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(raw, &claims,
		func(*jwt.Token) (any, error) { return []byte(s.secCfg.JWT.Secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithSubject(tokenSubject),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	return err == nil && token.Valid
}

// streamToken exchanges api_password for an event stream token.
func (s *Server) streamToken(_ *http.Request) reply {
	token, ttl, err := s.issueToken()
	if err != nil {
		return clientError(fmt.Sprintf("Cannot issue token: %v.", err))
	}
	return ok("Stream token issued.", map[string]any{
		"token":      token,
		"token_type": "Bearer",
		"expires_in": int(ttl.Seconds()),
	})
}
