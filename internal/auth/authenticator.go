// Package auth resolves bearer tokens to the Principal making a request.
//
// Two token shapes are accepted:
//
//	sk_<prefix>_<secret>  service keys held by machine callers such as the
//	                      work order subsystem; verified against a bcrypt hash
//	<jwt>                 HS256 user tokens whose subject is the user id;
//	                      roles and site scope are loaded from role_assignments
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"facilitypm/internal/db"
	"facilitypm/internal/types"
)

// ServiceKeyPrefix marks a bearer token as a service key.
const ServiceKeyPrefix = "sk_"

// bcryptCost is the cost factor for service key hashes.
const bcryptCost = 12

// AccessStore loads the data needed to build a Principal.
type AccessStore interface {
	ListRoleAssignments(ctx context.Context, userID string) ([]types.RoleAssignment, error)
	GetServiceKeyByPrefix(ctx context.Context, prefix string) (*db.ServiceKey, error)
}

// KeyHasher abstracts bcrypt for testability.
type KeyHasher interface {
	CompareHashAndPassword(hashed, plain string) error
	GenerateFromPassword(plain string) (string, error)
}

type bcryptHasher struct{}

func (bcryptHasher) CompareHashAndPassword(hashed, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
}

func (bcryptHasher) GenerateFromPassword(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Claims are the JWT claims issued to users.
type Claims struct {
	jwt.RegisteredClaims
}

// Config holds the dependencies of an Authenticator. Hasher, Now and Logger
// are optional.
type Config struct {
	Store      AccessStore
	SigningKey []byte
	Issuer     string
	Hasher     KeyHasher
	Now        func() time.Time
	Logger     *slog.Logger
}

// Authenticator implements core.Authenticator.
type Authenticator struct {
	store      AccessStore
	signingKey []byte
	issuer     string
	hasher     KeyHasher
	now        func() time.Time
	logger     *slog.Logger
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(cfg Config) *Authenticator {
	a := &Authenticator{
		store:      cfg.Store,
		signingKey: cfg.SigningKey,
		issuer:     cfg.Issuer,
		hasher:     cfg.Hasher,
		now:        cfg.Now,
		logger:     cfg.Logger,
	}
	if a.hasher == nil {
		a.hasher = bcryptHasher{}
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a
}

// ResolveToken returns the Principal for token.
func (a *Authenticator) ResolveToken(ctx context.Context, token string) (*types.Principal, error) {
	if strings.HasPrefix(token, ServiceKeyPrefix) {
		return a.resolveServiceKey(ctx, token)
	}
	return a.resolveUserToken(ctx, token)
}

func (a *Authenticator) resolveUserToken(ctx context.Context, token string) (*types.Principal, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.signingKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, types.NewAppError(types.ErrCodeAuthTokenExpired, "token expired", err)
		}
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid token", err)
	}
	if claims.Subject == "" {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "token has no subject", nil)
	}

	assignments, err := a.store.ListRoleAssignments(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}

	return &types.Principal{
		Actor: types.UserActor(claims.Subject),
		Scope: types.ScopeFromAssignments(assignments),
		Roles: distinctRoles(assignments),
	}, nil
}

func (a *Authenticator) resolveServiceKey(ctx context.Context, token string) (*types.Principal, error) {
	prefix, ok := serviceKeyLookupPrefix(token)
	if !ok {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "malformed service key", nil)
	}

	key, err := a.store.GetServiceKeyByPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if key.RevokedAt != nil {
		a.logger.WarnContext(ctx, "revoked service key presented", "key_id", key.ID)
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid service key", nil)
	}
	if err := a.hasher.CompareHashAndPassword(key.KeyHash, token); err != nil {
		return nil, types.NewAppError(types.ErrCodeAuthTokenInvalid, "invalid service key", nil)
	}

	return &types.Principal{
		Actor: types.Actor{ID: key.ID, Type: types.ActorTypeSystem},
		Scope: types.Unrestricted(),
	}, nil
}

// IssueUserToken signs a token for userID valid for ttl.
func (a *Authenticator) IssueUserToken(userID string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.signingKey)
}

// GenerateServiceKey returns a new raw key, its lookup prefix and the hash
// to store. The raw key is shown once and never persisted.
func (a *Authenticator) GenerateServiceKey() (raw, prefix, hash string, err error) {
	b := make([]byte, 28)
	if _, err := rand.Read(b); err != nil {
		return "", "", "", fmt.Errorf("generate service key: %w", err)
	}
	encoded := hex.EncodeToString(b)
	prefix = encoded[:8]
	raw = ServiceKeyPrefix + prefix + "_" + encoded[8:]

	hash, err = a.hasher.GenerateFromPassword(raw)
	if err != nil {
		return "", "", "", fmt.Errorf("hash service key: %w", err)
	}
	return raw, prefix, hash, nil
}

// serviceKeyLookupPrefix extracts <prefix> from sk_<prefix>_<secret>.
func serviceKeyLookupPrefix(token string) (string, bool) {
	rest := strings.TrimPrefix(token, ServiceKeyPrefix)
	prefix, secret, ok := strings.Cut(rest, "_")
	if !ok || prefix == "" || secret == "" {
		return "", false
	}
	return prefix, true
}

func distinctRoles(assignments []types.RoleAssignment) []string {
	seen := make(map[string]bool, len(assignments))
	var roles []string
	for _, a := range assignments {
		if !seen[a.Role] {
			seen[a.Role] = true
			roles = append(roles, a.Role)
		}
	}
	return roles
}
