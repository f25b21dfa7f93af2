package auth

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/suPer8Hu/book-chat/internal/common"
	"github.com/suPer8Hu/book-chat/internal/logging"
	"github.com/suPer8Hu/book-chat/internal/models"
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Service implements register/login/logout on top of the user repo and token registry.
type Service struct {
	repo     *Repo
	hasher   *Hasher
	registry *Registry
	log      *zap.Logger
}

func NewService(repo *Repo, hasher *Hasher, registry *Registry, log *zap.Logger) *Service {
	return &Service{repo: repo, hasher: hasher, registry: registry, log: logging.OrNop(log)}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) Register(ctx context.Context, email, password, name string) (Identity, string, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return Identity{}, "", common.E(common.KindInvalidRequest, "email and password required")
	}

	exists, err := s.repo.EmailExists(ctx, email)
	if err != nil {
		return Identity{}, "", common.Wrap(common.KindInternal, "", err)
	}
	if exists {
		return Identity{}, "", common.Wrap(common.KindAuth, ErrUserExists.Error(), ErrUserExists)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.log.Error("hash password failed", zap.Error(err))
		return Identity{}, "", common.Wrap(common.KindInternal, "", err)
	}

	id, err := common.NewULID()
	if err != nil {
		return Identity{}, "", common.Wrap(common.KindInternal, "", err)
	}

	u := &models.User{
		ID:           id,
		Email:        email,
		Name:         strings.TrimSpace(name),
		Provider:     "email",
		PasswordHash: hash,
	}
	if err := s.repo.CreateUser(ctx, u); err != nil {
		// lost a race against a concurrent registration of the same email
		if exists, _ := s.repo.EmailExists(ctx, email); exists {
			return Identity{}, "", common.Wrap(common.KindAuth, ErrUserExists.Error(), ErrUserExists)
		}
		s.log.Error("create user failed", zap.String("email", email), zap.Error(err))
		return Identity{}, "", common.Wrap(common.KindInternal, "", err)
	}

	ident := identityOf(u)
	tok, err := s.registry.Issue(ident)
	if err != nil {
		s.log.Error("issue session failed", zap.String("user_id", ident.ID), zap.Error(err))
		return Identity{}, "", common.Wrap(common.KindInternal, "", err)
	}
	s.log.Info("user registered", zap.String("user_id", ident.ID))
	return ident, tok, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (Identity, string, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return Identity{}, "", common.E(common.KindInvalidRequest, "email and password required")
	}

	u, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Identity{}, "", common.Wrap(common.KindAuth, ErrInvalidCredentials.Error(), ErrInvalidCredentials)
		}
		return Identity{}, "", common.Wrap(common.KindInternal, "", err)
	}
	if !s.hasher.Verify(password, u.PasswordHash) {
		return Identity{}, "", common.Wrap(common.KindAuth, ErrInvalidCredentials.Error(), ErrInvalidCredentials)
	}

	ident := identityOf(u)
	tok, err := s.registry.Issue(ident)
	if err != nil {
		return Identity{}, "", common.Wrap(common.KindInternal, "", err)
	}
	return ident, tok, nil
}

func (s *Service) Logout(token string) {
	if token != "" {
		s.registry.Revoke(token)
	}
}

func (s *Service) CurrentSession(token string) (Identity, bool) {
	return s.registry.Resolve(token)
}

func identityOf(u *models.User) Identity {
	return Identity{ID: u.ID, Email: u.Email, DisplayName: u.Name, Provider: u.Provider}
}
