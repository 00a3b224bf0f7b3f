package service

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"storefront/internal/auth"
	"storefront/internal/domain"
	"storefront/internal/repository"
)

const minPasswordLength = 6

// UserService регистрация, вход и проверка токена
type UserService struct {
	users  repository.UserRepository
	hasher auth.PasswordHasher
	issuer TokenIssuer
	valid  *validator.Validate
	log    logrus.FieldLogger
}

func NewUserService(users repository.UserRepository, hasher auth.PasswordHasher, issuer TokenIssuer, log logrus.FieldLogger) *UserService {
	return &UserService{users: users, hasher: hasher, issuer: issuer, valid: validator.New(), log: log}
}

type RegisterInput struct {
	Name       string
	Email      string
	Password   string
	Address    string
	City       string
	State      string
	PostalCode string
}

// Register самостоятельная регистрация всегда выдаёт роль User
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*domain.User, string, error) {
	u, err := s.create(ctx, in, domain.RoleUser)
	if err != nil {
		return nil, "", err
	}
	token, err := s.issuer.Issue(u.ID, u.Role)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

func (s *UserService) create(ctx context.Context, in RegisterInput, role domain.Role) (*domain.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	if in.Name == "" || in.Email == "" || in.Password == "" {
		return nil, errors.Wrap(domain.ErrInvalidInput, "name, email and password are required")
	}
	if err := s.valid.Var(in.Email, "required,email"); err != nil {
		return nil, errors.Wrap(domain.ErrInvalidInput, "invalid email address")
	}
	if len(in.Password) < minPasswordLength {
		return nil, errors.Wrapf(domain.ErrInvalidInput, "password must be at least %d characters long", minPasswordLength)
	}
	if len(in.Password) > auth.MaxPasswordBytes {
		return nil, errors.Wrapf(domain.ErrInvalidInput, "password must be at most %d bytes long", auth.MaxPasswordBytes)
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	u := domain.User{
		ID:           uuid.NewString(),
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         role,
		Address:      in.Address,
		City:         in.City,
		State:        in.State,
		PostalCode:   in.PostalCode,
	}
	if err := s.users.Create(ctx, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *UserService) Login(ctx context.Context, email, password string) (*domain.User, string, error) {
	if email == "" || password == "" {
		return nil, "", errors.Wrap(domain.ErrInvalidInput, "email and password are required")
	}
	u, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, "", domain.ErrInvalidCredentials
	}
	if err != nil {
		return nil, "", err
	}
	ok, err := s.hasher.Check(u.PasswordHash, password)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", domain.ErrInvalidCredentials
	}
	token, err := s.issuer.Issue(u.ID, u.Role)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

// Authenticate проверяет токен и загружает пользователя
func (s *UserService) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, domain.ErrUnauthorized
	}
	claims, err := s.issuer.Verify(token)
	if err != nil {
		return nil, err
	}
	u, err := s.users.GetByID(ctx, claims.UserID())
	if errors.Is(err, domain.ErrNotFound) {
		return nil, errors.Wrap(domain.ErrUnauthorized, "user not found")
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// EnsureAdmin создаёт администратора, если email ещё свободен
func (s *UserService) EnsureAdmin(ctx context.Context, name, email, password string) (*domain.User, error) {
	existing, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		if existing.Role != domain.RoleAdmin {
			s.log.WithField("email", email).Warn("admin seed email belongs to a non-admin user")
		}
		return existing, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	u, err := s.create(ctx, RegisterInput{Name: name, Email: email, Password: password}, domain.RoleAdmin)
	if err != nil {
		return nil, err
	}
	s.log.WithField("email", email).Info("admin user created")
	return u, nil
}
