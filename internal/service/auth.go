package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/cloo-solutions/ragquery/internal/domain"
)

const (
	apiKeyPrefix = "rqk_"
	// Random bytes per token; hex encoding doubles the length.
	apiKeyBytes = 32
)

type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByName(ctx context.Context, name string) (*domain.User, error)
	List(ctx context.Context) ([]*domain.User, error)
}

type APIKeyRepository interface {
	Create(ctx context.Context, key *domain.APIKey) error
	GetByHash(ctx context.Context, hash string) (*domain.APIKey, error)
	GetByUserID(ctx context.Context, userID string) ([]*domain.APIKey, error)
	Revoke(ctx context.Context, id string) error
}

// AuthService manages users and their API keys and resolves bearer tokens
// to the owning user.
type AuthService struct {
	users   UserRepository
	keys    APIKeyRepository
	uuidGen UUIDGenerator
	now     func() time.Time
}

func NewAuthService(users UserRepository, keys APIKeyRepository, uuidGen UUIDGenerator) *AuthService {
	return &AuthService{
		users:   users,
		keys:    keys,
		uuidGen: uuidGen,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *AuthService) CreateUser(ctx context.Context, name string) (*domain.User, error) {
	user := domain.NewUser(s.uuidGen.NewString(), strings.TrimSpace(name), s.now())
	if err := domain.ValidateUser(user); err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// EnsureUser returns the user with the given name, creating it if needed.
func (s *AuthService) EnsureUser(ctx context.Context, name string) (*domain.User, error) {
	user, err := s.users.GetByName(ctx, strings.TrimSpace(name))
	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, domain.ErrUserNotFound):
		return s.CreateUser(ctx, name)
	default:
		return nil, err
	}
}

func (s *AuthService) ListUsers(ctx context.Context) ([]*domain.User, error) {
	return s.users.List(ctx)
}

// CreateAPIKey issues a fresh random token for the user. The plaintext is
// returned once and only its hash is stored.
func (s *AuthService) CreateAPIKey(ctx context.Context, userID, name string) (string, error) {
	token, err := generateAPIToken()
	if err != nil {
		return "", domain.NewDomainErrorWithCause(domain.ErrCodeInternalError, "failed to generate API key", err)
	}
	if err := s.issueKey(ctx, userID, name, token); err != nil {
		return "", err
	}
	return token, nil
}

// CreateAPIKeyWithToken registers a caller-chosen token, used to bootstrap
// a deployment with a key known in advance.
func (s *AuthService) CreateAPIKeyWithToken(ctx context.Context, userID, name, token string) error {
	if !IsValidAPIToken(token) {
		return domain.NewDomainError(domain.ErrCodeValidation, "invalid API key format (expected rqk_<64 hex chars>)")
	}
	return s.issueKey(ctx, userID, name, token)
}

func (s *AuthService) issueKey(ctx context.Context, userID, name, token string) error {
	key := domain.NewAPIKey(s.uuidGen.NewString(), userID, strings.TrimSpace(name), hashToken(token), s.now(), nil)
	if err := domain.ValidateAPIKey(key); err != nil {
		return err
	}
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		return err
	}
	return s.keys.Create(ctx, key)
}

// ValidateAPIKey resolves a bearer token to its user ID. Malformed and
// unknown tokens are indistinguishable to the caller.
func (s *AuthService) ValidateAPIKey(ctx context.Context, token string) (string, error) {
	key, err := s.LookupAPIKey(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrAPIKeyNotFound) {
			return "", domain.ErrInvalidAPIKey
		}
		return "", err
	}
	if key.IsRevoked() {
		return "", domain.ErrAPIKeyRevoked
	}
	return key.UserID, nil
}

// LookupAPIKey finds the stored key for a plaintext token, revoked or not.
func (s *AuthService) LookupAPIKey(ctx context.Context, token string) (*domain.APIKey, error) {
	if !IsValidAPIToken(token) {
		return nil, domain.ErrInvalidAPIKey
	}
	return s.keys.GetByHash(ctx, hashToken(token))
}

func (s *AuthService) RevokeAPIKey(ctx context.Context, keyID string) error {
	if keyID == "" {
		return domain.NewDomainError(domain.ErrCodeValidation, "API key ID is required")
	}
	return s.keys.Revoke(ctx, keyID)
}

func (s *AuthService) ListAPIKeys(ctx context.Context, userID string) ([]*domain.APIKey, error) {
	if userID == "" {
		return nil, domain.NewDomainError(domain.ErrCodeValidation, "user ID is required")
	}
	return s.keys.GetByUserID(ctx, userID)
}

func generateAPIToken() (string, error) {
	b := make([]byte, apiKeyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return apiKeyPrefix + hex.EncodeToString(b), nil
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// IsValidAPIToken reports whether token has the rqk_<64 hex> shape. It says
// nothing about whether the key exists.
func IsValidAPIToken(token string) bool {
	digits, ok := strings.CutPrefix(token, apiKeyPrefix)
	if !ok || len(digits) != 2*apiKeyBytes {
		return false
	}
	_, err := hex.DecodeString(digits)
	return err == nil
}
