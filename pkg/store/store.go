package store

import (
	"context"
	"errors"
	"strings"

	"otzaria/pkg/domain"
)

var (
	// ErrNotFound is returned when an update targets a missing row.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a write would break a unique key.
	ErrDuplicate = errors.New("store: duplicate key")
)

// EmailKey is the form emails are stored and compared in. Uniqueness of
// emails is case-insensitive.
func EmailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// PageCounts summarizes the pages of one book.
type PageCounts struct {
	Total     int
	Completed int
}

// ClaimantCount is the number of pages claimed by one user.
type ClaimantCount struct {
	UserID string
	Name   string
	Count  int
}

// Store defines the persistence operations the restore needs from the target
// database.
type Store interface {
	// users
	CreateUser(ctx context.Context, u domain.User) error
	UpdateUserStanding(ctx context.Context, id string, role domain.UserRole, points int) error
	UpsertUserByEmail(ctx context.Context, u domain.User) (created bool, err error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	UserCount(ctx context.Context) (int, error)

	// books
	SaveBook(ctx context.Context, b domain.Book) error
	GetBookByName(ctx context.Context, name string) (domain.Book, bool, error)
	HasBookSlug(ctx context.Context, slug string) (bool, error)
	SetBookCounters(ctx context.Context, id string, counts PageCounts) error
	ListBooks(ctx context.Context) ([]domain.Book, error)

	// pages
	SavePages(ctx context.Context, bookID string, pages []domain.Page) error
	CountPages(ctx context.Context, bookID string) (PageCounts, error)

	// messages and uploads
	SaveMessages(ctx context.Context, msgs []domain.Message) error
	SaveUploads(ctx context.Context, uploads []domain.Upload) error

	// aggregates
	TopClaimants(ctx context.Context, limit int) ([]ClaimantCount, error)
	ClaimedPageCount(ctx context.Context) (int, error)

	// ClearAll removes every restored entity. Used by replace-mode runs.
	ClearAll(ctx context.Context) error
}
