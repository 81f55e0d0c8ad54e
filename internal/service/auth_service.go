package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"authkit/internal/auth"
	"authkit/internal/domain"
	"authkit/internal/repository"
)

// RegisterInput carries the fields accepted at registration.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

// LoginResult is returned on a successful login.
type LoginResult struct {
	Token string
	User  *domain.User
}

// AuthService describes the credential lifecycle: registration, login and token checks.
type AuthService interface {
	Register(ctx context.Context, in RegisterInput) (*domain.User, error)
	Login(ctx context.Context, email, password string) (*LoginResult, error)
	// ResolveIdentity verifies the token and loads the user it names.
	ResolveIdentity(ctx context.Context, token string) (*domain.User, error)
	// Guard verifies the token only and returns its subject without touching the store.
	Guard(ctx context.Context, token string) (string, error)
	GetUser(ctx context.Context, id int64) (*domain.User, error)
	IssueToken(user *domain.User) (string, error)
}

type authService struct {
	users     repository.UserRepository
	hasher    auth.Hasher
	tokens    *auth.TokenIssuer
	logger    logrus.FieldLogger
	dummyHash string
}

func NewAuthService(users repository.UserRepository, hasher auth.Hasher, tokens *auth.TokenIssuer, logger logrus.FieldLogger) AuthService {
	if logger == nil {
		logger = logrus.New()
	}
	// compared against when the email is unknown so both failure paths cost one hash check
	dummy, err := hasher.Hash("authkit-timing-equalizer")
	if err != nil {
		logger.Warnf("prepare dummy hash: %v", err)
	}
	return &authService{
		users:     users,
		hasher:    hasher,
		tokens:    tokens,
		logger:    logger,
		dummyHash: dummy,
	}
}

func (s *authService) Register(ctx context.Context, in RegisterInput) (*domain.User, error) {
	email := strings.TrimSpace(in.Email)
	name := strings.TrimSpace(in.Name)

	if email == "" {
		return nil, validationError("email is required")
	}
	if utf8.RuneCountInString(email) > domain.MaxEmailLength {
		return nil, validationError(fmt.Sprintf("email must be at most %d characters", domain.MaxEmailLength))
	}
	if in.Password == "" {
		return nil, validationError("password is required")
	}
	if utf8.RuneCountInString(name) > domain.MaxNameLength {
		return nil, validationError(fmt.Sprintf("name must be at most %d characters", domain.MaxNameLength))
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return nil, validationError(err.Error())
		}
		return nil, err
	}

	user := &domain.User{
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		IsActive:     true,
	}

	if _, err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			s.logger.WithField("email", email).Info("registration rejected: email taken")
			return nil, ErrUserAlreadyExists
		}
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{"user_id": user.ID, "email": email}).Info("user registered")
	return sanitizeUser(user), nil
}

func (s *authService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, validationError("email is required")
	}
	if password == "" {
		return nil, validationError("password is required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.hasher.Verify(s.dummyHash, password)
			s.logger.WithField("email", email).Debug("login failed")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !s.hasher.Verify(user.PasswordHash, password) {
		s.logger.WithField("email", email).Debug("login failed")
		return nil, ErrInvalidCredentials
	}

	token, err := s.IssueToken(user)
	if err != nil {
		return nil, err
	}

	s.logger.WithField("user_id", user.ID).Debug("login succeeded")
	return &LoginResult{Token: token, User: sanitizeUser(user)}, nil
}

func (s *authService) ResolveIdentity(ctx context.Context, token string) (*domain.User, error) {
	identity, err := s.verify(token)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, identity.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	// the email was freed and taken by a newer account
	if identity.UserID != 0 && identity.UserID != user.ID {
		return nil, ErrUserNotFound
	}

	return sanitizeUser(user), nil
}

func (s *authService) Guard(_ context.Context, token string) (string, error) {
	identity, err := s.verify(token)
	if err != nil {
		return "", err
	}
	return identity.Subject, nil
}

func (s *authService) GetUser(ctx context.Context, id int64) (*domain.User, error) {
	if id <= 0 {
		return nil, validationError("invalid user id")
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return sanitizeUser(user), nil
}

func (s *authService) IssueToken(user *domain.User) (string, error) {
	if user == nil {
		return "", errors.New("issue token: nil user")
	}
	return s.tokens.Issue(user.Email, user.ID)
}

func (s *authService) verify(token string) (auth.Identity, error) {
	identity, err := s.tokens.Verify(token)
	if err != nil {
		s.logger.WithError(err).Debug("token rejected")
		return auth.Identity{}, ErrInvalidToken
	}
	return identity, nil
}

func sanitizeUser(user *domain.User) *domain.User {
	if user == nil {
		return nil
	}
	return &domain.User{
		ID:       user.ID,
		Email:    user.Email,
		Name:     user.Name,
		IsActive: user.IsActive,
	}
}
