package services

import (
	"context"

	"github.com/tunefile/apiserver/types"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByUsername(ctx context.Context, username string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Update(ctx context.Context, user types.User) (types.User, error)
	UpdateRole(ctx context.Context, id int, role string) error
	ListByRole(ctx context.Context, role string) ([]types.User, error)
	ListByDigest(ctx context.Context, digest string) ([]types.User, error)
}

// UserService encapsulates user use-cases.
type UserService struct {
	repo UserRepository
}

func NewUserService(repo UserRepository) *UserService {
	return &UserService{repo: repo}
}

func (s *UserService) GetByID(ctx context.Context, id int) (types.User, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *UserService) GetByUsername(ctx context.Context, username string) (types.User, error) {
	return s.repo.GetByUsername(ctx, username)
}

func (s *UserService) Create(ctx context.Context, user types.User) (types.User, error) {
	return s.repo.Create(ctx, user)
}

func (s *UserService) Update(ctx context.Context, user types.User) (types.User, error) {
	return s.repo.Update(ctx, user)
}

func (s *UserService) ListByRole(ctx context.Context, role string) ([]types.User, error) {
	return s.repo.ListByRole(ctx, role)
}

// SetRole changes a user's role. Only known roles are accepted.
func (s *UserService) SetRole(ctx context.Context, id int, role string) error {
	switch role {
	case types.RoleUser, types.RoleExpert, types.RoleAdmin:
	default:
		return ErrInvalidStatus
	}
	return s.repo.UpdateRole(ctx, id, role)
}

// SetDigest changes a user's email digest preference.
func (s *UserService) SetDigest(ctx context.Context, user types.User, digest string) (types.User, error) {
	switch digest {
	case types.DigestNone, types.DigestDaily, types.DigestWeekly:
	default:
		return types.User{}, ErrInvalidStatus
	}
	user.EmailDigest = digest
	return s.repo.Update(ctx, user)
}
