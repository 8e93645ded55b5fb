package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"otzaria/internal/util"
	"otzaria/pkg/auth"
	"otzaria/pkg/domain"
	"otzaria/pkg/store"
)

// AdminPoints is the balance an operator-created admin starts with.
const AdminPoints = 1000

// AdminRequest describes an administrator account to create or refresh.
type AdminRequest struct {
	Name     string
	Email    string
	Password string
}

// CreateAdmin upserts an administrator by email. An existing account is
// promoted and its password replaced.
func CreateAdmin(ctx context.Context, s store.Store, req AdminRequest) (domain.User, bool, error) {
	name := normalizeName(req.Name)
	if name == "" {
		return domain.User{}, false, errors.New("admin name required")
	}
	email, ok := normalizeEmail(req.Email)
	if !ok {
		return domain.User{}, false, fmt.Errorf("invalid admin email %q", strings.TrimSpace(req.Email))
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		return domain.User{}, false, err
	}
	hash, err := auth.HashPassword(req.Password, auth.AdminCost)
	if err != nil {
		return domain.User{}, false, fmt.Errorf("hash password: %w", err)
	}
	now := time.Now().UTC()
	user := domain.User{
		ID:           util.NewID(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleAdmin,
		Points:       AdminPoints,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	created, err := s.UpsertUserByEmail(ctx, user)
	if err != nil {
		return domain.User{}, false, fmt.Errorf("upsert admin: %w", err)
	}
	stored, found, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, false, fmt.Errorf("reload admin: %w", err)
	}
	if !found {
		return domain.User{}, false, fmt.Errorf("admin %s missing after upsert", email)
	}
	return stored, created, nil
}
