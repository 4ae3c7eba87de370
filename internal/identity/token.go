// Package identity adapts the external identity collaborator: it resolves a
// bearer token to the caller's account id and role. The core treats the role
// as an opaque capability set; everything else about sessions lives outside
// this system.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/approvals/approvalsd/internal/shared"
)

// Token format: "<token-id>.<secret>". Only the bcrypt hash of the secret is
// stored.
type tokenRecord struct {
	AccountID  uuid.UUID
	Role       shared.Role
	SecretHash []byte
}

// Resolver resolves bearer tokens to identities.
type Resolver interface {
	Resolve(ctx context.Context, bearer string) (shared.Identity, error)
}

var _ Resolver = (*TokenStore)(nil)

// TokenStore is a postgres-backed token resolver.
type TokenStore struct {
	pool *pgxpool.Pool
}

// NewTokenStore constructs a TokenStore.
func NewTokenStore(pool *pgxpool.Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

// Resolve parses and verifies a bearer token.
func (s *TokenStore) Resolve(ctx context.Context, bearer string) (shared.Identity, error) {
	tokenID, secret, ok := strings.Cut(bearer, ".")
	if !ok {
		return shared.Identity{}, fmt.Errorf("identity: malformed token: %w", shared.ErrForbidden)
	}
	id, err := uuid.Parse(tokenID)
	if err != nil {
		return shared.Identity{}, fmt.Errorf("identity: malformed token id: %w", shared.ErrForbidden)
	}

	var rec tokenRecord
	var role string
	err = s.pool.QueryRow(ctx, `SELECT account_id, role, secret_hash
FROM api_tokens WHERE id=$1 AND revoked_at IS NULL`, id).
		Scan(&rec.AccountID, &role, &rec.SecretHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return shared.Identity{}, fmt.Errorf("identity: unknown token: %w", shared.ErrForbidden)
	}
	if err != nil {
		return shared.Identity{}, err
	}
	rec.Role = shared.Role(role)

	if err := bcrypt.CompareHashAndPassword(rec.SecretHash, []byte(secret)); err != nil {
		return shared.Identity{}, fmt.Errorf("identity: bad token secret: %w", shared.ErrForbidden)
	}
	if !rec.Role.Valid() {
		return shared.Identity{}, fmt.Errorf("identity: unknown role %q: %w", rec.Role, shared.ErrForbidden)
	}
	return shared.Identity{AccountID: rec.AccountID, Role: rec.Role}, nil
}

// Issue mints a token for an account and returns the bearer string once; only
// the hash is persisted.
func (s *TokenStore) Issue(ctx context.Context, accountID uuid.UUID, role shared.Role) (string, error) {
	if !role.Valid() {
		return "", fmt.Errorf("identity: unknown role %q: %w", role, shared.ErrBadRequest)
	}
	id := uuid.New()
	secret := uuid.NewString()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO api_tokens (id, account_id, role, secret_hash, created_at)
VALUES ($1, $2, $3, $4, NOW())`, id, accountID, string(role), hash)
	if err != nil {
		return "", err
	}
	return id.String() + "." + secret, nil
}
