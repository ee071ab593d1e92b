package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"private-ledger/internal/core/domain"
	"private-ledger/internal/core/ports"
	"private-ledger/pkg/apperror"
	"private-ledger/pkg/envelope"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const minPasswordLength = 8

// UserServiceImpl implements ports.UserService.
type UserServiceImpl struct {
	userRepo ports.UserRepository
	hashSvc  ports.HashService
	keys     ports.KeyManager
	tokenSvc ports.TokenService
	log      zerolog.Logger
}

// NewUserService creates a new UserServiceImpl.
func NewUserService(
	userRepo ports.UserRepository,
	hashSvc ports.HashService,
	keys ports.KeyManager,
	tokenSvc ports.TokenService,
	log zerolog.Logger,
) *UserServiceImpl {
	return &UserServiceImpl{
		userRepo: userRepo,
		hashSvc:  hashSvc,
		keys:     keys,
		tokenSvc: tokenSvc,
		log:      log,
	}
}

// Register creates a user with a fresh encryption key wrapped under the
// master key. The plaintext key never leaves this call.
func (s *UserServiceImpl) Register(ctx context.Context, req ports.RegisterRequest) (*domain.User, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, apperror.Validation("name is required")
	}
	if err := checkPassword(req.Password); err != nil {
		return nil, err
	}

	// Check email uniqueness
	existing, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, apperror.ErrStore(fmt.Errorf("check email: %w", err))
	}
	if existing != nil {
		return nil, apperror.ErrEmailExists()
	}

	passwordHash, err := s.hashSvc.Hash(req.Password)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("hash password: %w", err))
	}

	userKey, err := s.keys.GenerateUserKey()
	if err != nil {
		return nil, err
	}
	defer envelope.Zero(userKey)

	wrapped, err := s.keys.Wrap(userKey)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		ID:           uuid.Must(uuid.NewV7()),
		Name:         strings.TrimSpace(req.Name),
		Email:        email,
		Active:       true,
		Admin:        req.Admin,
		PasswordHash: passwordHash,
		WrappedKey:   wrapped,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, apperror.ErrStore(fmt.Errorf("create user: %w", err))
	}

	s.log.Info().Str("user_id", user.ID.String()).Bool("admin", user.Admin).Msg("user registered")
	return user, nil
}

// Login validates credentials and returns a JWT token carrying the user's scopes.
func (s *UserServiceImpl) Login(ctx context.Context, email, password string) (string, time.Time, error) {
	user, err := s.userRepo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return "", time.Time{}, apperror.ErrStore(fmt.Errorf("find user: %w", err))
	}
	if user == nil {
		return "", time.Time{}, apperror.ErrInvalidCredentials()
	}

	valid, err := s.hashSvc.Verify(password, user.PasswordHash)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("verify password: %w", err))
	}
	if !valid {
		return "", time.Time{}, apperror.ErrInvalidCredentials()
	}

	if !user.Active {
		return "", time.Time{}, apperror.ErrUserInactive()
	}

	token, expiry, err := s.tokenSvc.Generate(user.ID, user.Scopes())
	if err != nil {
		return "", time.Time{}, apperror.InternalError(fmt.Errorf("generate token: %w", err))
	}

	return token, expiry, nil
}

// GetUser returns a user by id.
func (s *UserServiceImpl) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrStore(fmt.Errorf("find user: %w", err))
	}
	if user == nil {
		return nil, apperror.ErrNotFound("user")
	}
	return user, nil
}

// List pages through users for admins, oldest first.
func (s *UserServiceImpl) List(ctx context.Context, filter ports.UserFilter, actor domain.Actor) ([]domain.User, int64, error) {
	if !actor.IsAdmin() {
		return nil, 0, apperror.ErrForbidden()
	}
	if filter.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*filter.Email))
		filter.Email = &email
	}
	filter.Normalize()

	users, total, err := s.userRepo.List(ctx, filter)
	if err != nil {
		return nil, 0, apperror.ErrStore(fmt.Errorf("list users: %w", err))
	}
	return users, total, nil
}

// Update changes a user's name, email or password. Users may edit
// themselves; admins may edit anyone.
func (s *UserServiceImpl) Update(ctx context.Context, id uuid.UUID, req ports.UpdateUserRequest, actor domain.Actor) (*domain.User, error) {
	if actor.UserID != id && !actor.IsAdmin() {
		return nil, apperror.ErrForbidden()
	}
	if req.Name == nil && req.Email == nil && req.Password == nil {
		return nil, apperror.Validation("nothing to update")
	}

	user, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, apperror.Validation("name is required")
		}
		user.Name = name
	}
	if req.Email != nil {
		email, err := normalizeEmail(*req.Email)
		if err != nil {
			return nil, err
		}
		if email != user.Email {
			existing, err := s.userRepo.GetByEmail(ctx, email)
			if err != nil {
				return nil, apperror.ErrStore(fmt.Errorf("check email: %w", err))
			}
			if existing != nil {
				return nil, apperror.ErrEmailExists()
			}
			user.Email = email
		}
	}
	if req.Password != nil {
		if err := checkPassword(*req.Password); err != nil {
			return nil, err
		}
		hash, err := s.hashSvc.Hash(*req.Password)
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("hash password: %w", err))
		}
		user.PasswordHash = hash
	}

	now := time.Now().UTC()
	user.UpdatedAt = &now
	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, apperror.ErrStore(fmt.Errorf("update user: %w", err))
	}

	s.log.Info().
		Str("user_id", user.ID.String()).
		Str("actor_id", actor.UserID.String()).
		Bool("password_changed", req.Password != nil).
		Msg("user updated")
	return user, nil
}

// Delete removes a user who owns no accounts. Users may delete themselves;
// admins may delete anyone.
func (s *UserServiceImpl) Delete(ctx context.Context, id uuid.UUID, actor domain.Actor) error {
	if actor.UserID != id && !actor.IsAdmin() {
		return apperror.ErrForbidden()
	}
	if _, err := s.GetUser(ctx, id); err != nil {
		return err
	}

	if err := s.userRepo.Delete(ctx, id); err != nil {
		if errors.Is(err, domain.ErrUserHasAccounts) {
			return apperror.ErrUserHasAccounts()
		}
		return apperror.ErrStore(fmt.Errorf("delete user: %w", err))
	}

	s.log.Info().Str("user_id", id.String()).Str("actor_id", actor.UserID.String()).Msg("user deleted")
	return nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if _, err := mail.ParseAddress(email); err != nil {
		return "", apperror.Validation("invalid email address")
	}
	return email, nil
}

func checkPassword(password string) error {
	if len(password) < minPasswordLength {
		return apperror.Validation(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	return nil
}
