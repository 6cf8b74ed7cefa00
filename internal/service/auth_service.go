package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"roomlens/internal/config"
	"roomlens/internal/errs"
	"roomlens/internal/ids"
	"roomlens/internal/models"
	"roomlens/internal/security"
)

type UserStore interface {
	Create(ctx context.Context, user models.User) error
	GetByID(ctx context.Context, id string) (models.User, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
}

type AuthService struct {
	users    UserStore
	metering *MeteringService
	cfg      *config.AppConfig
	log      zerolog.Logger
}

func NewAuthService(users UserStore, metering *MeteringService, cfg *config.AppConfig, log zerolog.Logger) *AuthService {
	return &AuthService{
		users:    users,
		metering: metering,
		cfg:      cfg,
		log:      log,
	}
}

type RegisterInput struct {
	Email       string
	Password    string
	DisplayName string
}

type AuthResult struct {
	AccessToken string
	User        models.User
}

func (s *AuthService) Register(ctx context.Context, input RegisterInput) (AuthResult, error) {
	input.Email = strings.TrimSpace(strings.ToLower(input.Email))
	if input.Email == "" || input.Password == "" {
		return AuthResult{}, fmt.Errorf("%w: email and password required", errs.ErrInvalidInput)
	}

	if _, err := s.users.FindByEmail(ctx, input.Email); err == nil {
		return AuthResult{}, fmt.Errorf("%w: email already registered", errs.ErrAlreadyExists)
	} else if !errors.Is(err, errs.ErrNotFound) {
		return AuthResult{}, err
	}

	passwordHash, err := security.HashPassword(input.Password)
	if err != nil {
		return AuthResult{}, err
	}

	user := models.User{
		ID:           ids.New(),
		Email:        input.Email,
		PasswordHash: passwordHash,
		DisplayName:  input.DisplayName,
		Role:         models.UserRoleUser,
		Status:       models.UserStatusActive,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return AuthResult{}, err
	}

	if err := s.metering.EnsureAccount(ctx, user.ID, s.cfg.Metering.DefaultLimit); err != nil {
		return AuthResult{}, fmt.Errorf("init metering account: %w", err)
	}

	return s.issueToken(user)
}

func (s *AuthService) Login(ctx context.Context, email, password string) (AuthResult, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return AuthResult{}, fmt.Errorf("%w: invalid credentials", errs.ErrForbidden)
		}
		return AuthResult{}, err
	}

	ok, err := security.VerifyPassword(password, user.PasswordHash)
	if err != nil || !ok {
		return AuthResult{}, fmt.Errorf("%w: invalid credentials", errs.ErrForbidden)
	}
	if user.Status != models.UserStatusActive {
		return AuthResult{}, fmt.Errorf("%w: account suspended", errs.ErrForbidden)
	}

	return s.issueToken(user)
}

func (s *AuthService) issueToken(user models.User) (AuthResult, error) {
	token, err := security.GenerateAccessToken(
		s.cfg.Security.JWTSecret,
		user.ID,
		string(user.Role),
		s.cfg.Security.JWTAccessTTL,
	)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{AccessToken: token, User: user}, nil
}
