// Package auth implements single-operator bearer authentication for the
// dashboard API: one bcrypt credential, one JWT claim set, no roles,
// sessions, or SSO. Narrowed from the teacher's multi-user/SSO auth, whose
// JWT-issuance and bcrypt idiom it otherwise keeps.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/hostwatch/hostwatch/pkg/config"
)

// Auth issues and validates the dashboard's operator bearer tokens.
type Auth struct {
	cfg       *config.JWTConfig
	jwtSecret []byte
}

// Claims is the JWT payload identifying the authenticated operator.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// LoginRequest is the dashboard's login payload.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse is the dashboard's login reply.
type LoginResponse struct {
	Token     string `json:"token"`
	Username  string `json:"username"`
	ExpiresAt int64  `json:"expires_at"`
}

// NewAuth builds an Auth from the dashboard's JWT configuration. The secret
// is expected to already be populated — config.Load generates one outside
// production — so NewAuth fails fast rather than silently minting its own.
func NewAuth(cfg *config.JWTConfig) (*Auth, error) {
	if cfg.Secret == "" {
		return nil, errors.New("auth: jwt secret is empty")
	}
	return &Auth{cfg: cfg, jwtSecret: []byte(cfg.Secret)}, nil
}

// HashPassword hashes a password with bcrypt for storage.
func (a *Auth) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword compares a password against its bcrypt hash.
func (a *Auth) CheckPassword(password, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// GenerateToken issues a bearer token for the operator.
func (a *Auth) GenerateToken(username string) (string, int64, error) {
	expiresHours := a.cfg.ExpiresHours
	if expiresHours <= 0 {
		expiresHours = 12
	}
	expirationTime := time.Now().Add(time.Duration(expiresHours) * time.Hour)

	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "hostwatch-dashboard",
			Subject:   username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(a.jwtSecret)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, expirationTime.Unix(), nil
}

// ValidateToken validates a bearer token and returns its claims.
func (a *Auth) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, errors.New("invalid token")
}
