package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
)

// DevTokenSignature marks an unsigned development token: the payload segment
// is decoded without verification when dev tokens are allowed.
const DevTokenSignature = "demo-signature"

const maxTokenLen = 16 * 1024

type Config struct {
	JWTSecret      string
	AllowDevTokens bool
	Now            func() time.Time
}

type identityClaims struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func (c identityClaims) identity() Identity {
	return Identity{ID: c.ID, Name: c.Name, Email: c.Email, Role: c.Role}
}

type tokenVerifier struct {
	secret   []byte
	allowDev bool
	parser   *jwt.Parser
	validate *validator.Validate
}

func NewVerifier(cfg Config) (Verifier, error) {
	if cfg.JWTSecret == "" && !cfg.AllowDevTokens {
		return nil, errors.New("auth: JWT secret is required when dev tokens are disabled")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &tokenVerifier{
		secret:   []byte(cfg.JWTSecret),
		allowDev: cfg.AllowDevTokens,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
			jwt.WithTimeFunc(now),
		),
		validate: validator.New(),
	}, nil
}

func (v *tokenVerifier) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingCredentials
	}
	if len(token) > maxTokenLen {
		return Identity{}, fmt.Errorf("%w: token too long", ErrInvalidCredentials)
	}

	var (
		claims identityClaims
		err    error
	)
	if strings.HasSuffix(token, "."+DevTokenSignature) {
		if !v.allowDev {
			return Identity{}, fmt.Errorf("%w: dev tokens are disabled", ErrInvalidCredentials)
		}
		claims, err = decodeDevToken(token)
	} else {
		claims, err = v.verifyJWT(token)
	}
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	ident := claims.identity()
	if err := v.validate.Struct(ident); err != nil {
		return Identity{}, fmt.Errorf("%w: missing required identity claims", ErrInvalidCredentials)
	}
	return ident, nil
}

func (v *tokenVerifier) verifyJWT(token string) (identityClaims, error) {
	if len(v.secret) == 0 {
		return identityClaims{}, errors.New("no JWT secret configured")
	}
	var claims identityClaims
	_, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return identityClaims{}, err
	}
	return claims, nil
}

func decodeDevToken(token string) (identityClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return identityClaims{}, errors.New("invalid dev token format")
	}
	payload, err := decodeSegment(parts[1])
	if err != nil {
		return identityClaims{}, errors.New("invalid dev token payload")
	}
	var claims identityClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return identityClaims{}, errors.New("invalid dev token payload")
	}
	return claims, nil
}

// decodeSegment accepts both base64url (JWT style) and the padded standard
// alphabet produced by btoa() in browsers.
func decodeSegment(seg string) ([]byte, error) {
	encodings := []*base64.Encoding{
		base64.RawURLEncoding,
		base64.URLEncoding,
		base64.StdEncoding,
		base64.RawStdEncoding,
	}
	var lastErr error
	for _, enc := range encodings {
		b, err := enc.DecodeString(seg)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
