package user

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

var (
	// errors
	ErrNotFound = errors.New("user not found")
)

type (
	// Repository is the identity store. Identity and class data may live in different stores,
	// so users are never joined with class rows at the storage layer.
	Repository interface {
		GetUser(ctx context.Context, id int) (User, error)
		CreateUser(ctx context.Context, usr User) (User, error)
	}

	Service struct {
		repo Repository
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (svc *Service) GetByID(ctx context.Context, id int) (User, error) {
	if id <= 0 {
		return User{}, ErrNotFound
	}
	return svc.repo.GetUser(ctx, id)
}

// DisplayName resolves an actor id to a human readable name.
// Unknown ids resolve to a placeholder instead of failing: audit rows outlive their users.
func (svc *Service) DisplayName(ctx context.Context, id int) (string, error) {
	usr, err := svc.GetByID(ctx, id)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return fmt.Sprintf("unknown (#%d)", id), nil
		}
		return "", errors.Wrap(err, "finding user by ID")
	}
	return usr.DisplayName(), nil
}
