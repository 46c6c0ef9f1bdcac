package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	RoleAdmin = "admin"

	issuer       = "financerag"
	revokePrefix = "revoked:"
	minSecretLen = 16
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrRevokedToken = errors.New("token revoked")
	ErrNotAdmin     = errors.New("admin role required")
)

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs and checks admin tokens. rdb is optional; without it tokens
// cannot be revoked before they expire.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	rdb    *redis.Client
}

func NewIssuer(secret string, ttl time.Duration, rdb *redis.Client) (*Issuer, error) {
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("JWT_SECRET must be at least %d characters", minSecretLen)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, rdb: rdb}, nil
}

// IssueAdminToken returns a signed token with the admin role and its expiry.
func (i *Issuer) IssueAdminToken(subject string) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(i.ttl)
	claims := Claims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (i *Issuer) Validate(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Prevent algorithm confusion attacks
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return i.secret, nil
	}, jwt.WithIssuer(issuer))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	if i.rdb != nil {
		n, err := i.rdb.Exists(ctx, revokePrefix+claims.ID).Result()
		if err != nil {
			return nil, fmt.Errorf("check revocation: %w", err)
		}
		if n > 0 {
			return nil, ErrRevokedToken
		}
	}
	return claims, nil
}

// ValidateAdminToken validates the token and requires the admin role.
func (i *Issuer) ValidateAdminToken(ctx context.Context, tokenString string) (*Claims, error) {
	claims, err := i.Validate(ctx, tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Role != RoleAdmin {
		return nil, ErrNotAdmin
	}
	return claims, nil
}

// Revoke blacklists the token id until the token would have expired anyway.
func (i *Issuer) Revoke(ctx context.Context, claims *Claims) error {
	if i.rdb == nil {
		return errors.New("token revocation requires redis")
	}
	ttl := i.ttl
	if claims.ExpiresAt != nil {
		ttl = time.Until(claims.ExpiresAt.Time)
	}
	if ttl <= 0 {
		return nil
	}
	return i.rdb.Set(ctx, revokePrefix+claims.ID, claims.Subject, ttl).Err()
}
