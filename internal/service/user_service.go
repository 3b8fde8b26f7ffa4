package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/unboundops/be-cmd-gateway/internal/errors"
	"github.com/unboundops/be-cmd-gateway/internal/platform/database"
	"github.com/unboundops/be-cmd-gateway/internal/platform/logger"
	"github.com/unboundops/be-cmd-gateway/internal/repository"
)

// UserService handles user registration, API key authentication and key
// rotation. API keys are returned in plaintext exactly once at issuance; only
// the SHA-256 hash is stored.
type UserService struct {
	db        *database.DB
	userRepo  *repository.UserRepository
	auditRepo *repository.AuditRepository
	log       *logger.Logger
}

// NewUserService creates a new user service.
func NewUserService(
	db *database.DB,
	userRepo *repository.UserRepository,
	auditRepo *repository.AuditRepository,
	log *logger.Logger,
) *UserService {
	return &UserService{
		db:        db,
		userRepo:  userRepo,
		auditRepo: auditRepo,
		log:       log,
	}
}

// CreateUserRequest represents a create user request.
type CreateUserRequest struct {
	Username          string
	Email             *string
	NotificationEmail *string
	Role              repository.Role
	Tier              repository.Tier
}

// CreateUser registers a user and issues their API key. The very first user
// in the system is promoted to an admin with the lead tier regardless of the
// requested role, so a fresh deployment always has someone who can vote.
func (s *UserService) CreateUser(ctx context.Context, req *CreateUserRequest) (*repository.User, string, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return nil, "", errors.InvalidInput("username", "username is required")
	}

	role := req.Role
	if role == "" {
		role = repository.RoleMember
	}
	if !role.Valid() {
		return nil, "", errors.InvalidInput("role", "must be one of: member, admin")
	}

	tier := req.Tier
	if tier == "" {
		tier = repository.TierJunior
	}
	if !tier.Valid() {
		return nil, "", errors.InvalidInput("user_tier", "must be one of: junior, mid, senior, lead")
	}

	apiKey, apiKeyHash, err := generateAPIKey()
	if err != nil {
		return nil, "", err
	}

	user := &repository.User{
		Username:          username,
		Email:             req.Email,
		NotificationEmail: req.NotificationEmail,
		Role:              role,
		Tier:              tier,
	}

	err = s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		count, err := s.userRepo.Count(ctx, tx)
		if err != nil {
			return err
		}
		if count == 0 {
			user.Role = repository.RoleAdmin
			user.Tier = repository.TierLead
		}

		if err := s.userRepo.Create(ctx, tx, user, apiKeyHash); err != nil {
			return err
		}

		return s.auditRepo.Append(ctx, tx, &repository.AuditLogEntry{
			UserID:       &user.ID,
			ActionType:   repository.AuditUserCreated,
			ResourceType: ptr("user"),
			ResourceID:   &user.ID,
			NewValues: map[string]any{
				"username":  user.Username,
				"role":      user.Role,
				"user_tier": user.Tier,
			},
		})
	})
	if err != nil {
		return nil, "", err
	}

	s.log.Info().
		Str("user_id", user.ID).
		Str("username", user.Username).
		Str("role", string(user.Role)).
		Str("user_tier", string(user.Tier)).
		Msg("User created")

	return user, apiKey, nil
}

// Authenticate resolves an API key to its active owner.
func (s *UserService) Authenticate(ctx context.Context, apiKey string) (*repository.User, error) {
	if apiKey == "" {
		return nil, errors.New(errors.ErrCodeUnauthorized, "missing API key")
	}

	user, err := s.userRepo.GetByAPIKeyHash(ctx, s.db, hashAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, errors.New(errors.ErrCodeForbidden, "user is deactivated")
	}
	return user, nil
}

// GetUser retrieves a user by ID.
func (s *UserService) GetUser(ctx context.Context, id string) (*repository.User, error) {
	return s.userRepo.GetByID(ctx, s.db, id)
}

// RotateAPIKey issues a fresh API key for a user by username, invalidating
// the previous key. Returns the new plaintext key.
func (s *UserService) RotateAPIKey(ctx context.Context, username string) (*repository.User, string, error) {
	apiKey, apiKeyHash, err := generateAPIKey()
	if err != nil {
		return nil, "", err
	}

	var user *repository.User
	err = s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		user, err = s.userRepo.GetByUsername(ctx, tx, username)
		if err != nil {
			return err
		}
		if !user.IsActive {
			return errors.New(errors.ErrCodeForbidden, "user is deactivated")
		}
		return s.userRepo.UpdateAPIKey(ctx, tx, user.ID, apiKeyHash)
	})
	if err != nil {
		return nil, "", err
	}

	s.log.Info().
		Str("user_id", user.ID).
		Str("username", user.Username).
		Msg("API key rotated")

	return user, apiKey, nil
}

// generateAPIKey creates a random key and its stored hash. The key has a
// recognizable prefix so it can be spotted in leaked configuration.
func generateAPIKey() (key, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", errors.Wrap(err, errors.ErrCodeInternal, "failed to generate API key")
	}
	key = "cgk_" + hex.EncodeToString(buf)
	return key, hashAPIKey(key), nil
}

func hashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func ptr[T any](v T) *T {
	return &v
}
