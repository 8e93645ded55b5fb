package app

import (
	"context"
	"fmt"

	"otzaria/pkg/store"
)

// CounterMismatch is a book whose stored counters disagree with its pages.
type CounterMismatch struct {
	Book             string
	CompletedPages   int
	CountedCompleted int
	TotalPages       int
	CountedTotal     int
}

// Verification is the integrity summary of the target store.
type Verification struct {
	Users        int
	Books        int
	ClaimedPages int
	TopClaimants []store.ClaimantCount
	Mismatches   []CounterMismatch
	// Critical is set when no page references a claimant, which means user
	// links were lost during the restore.
	Critical bool
}

// Verify aggregates the target store. It only reads.
func Verify(ctx context.Context, s store.Store, topN int) (Verification, error) {
	var v Verification
	var err error
	if v.Users, err = s.UserCount(ctx); err != nil {
		return v, fmt.Errorf("count users: %w", err)
	}
	books, err := s.ListBooks(ctx)
	if err != nil {
		return v, fmt.Errorf("list books: %w", err)
	}
	v.Books = len(books)
	for _, b := range books {
		counts, err := s.CountPages(ctx, b.ID)
		if err != nil {
			return v, fmt.Errorf("count pages of %s: %w", b.Name, err)
		}
		if counts.Completed != b.CompletedPages || counts.Total != b.TotalPages {
			v.Mismatches = append(v.Mismatches, CounterMismatch{
				Book:             b.Name,
				CompletedPages:   b.CompletedPages,
				CountedCompleted: counts.Completed,
				TotalPages:       b.TotalPages,
				CountedTotal:     counts.Total,
			})
		}
	}
	if v.ClaimedPages, err = s.ClaimedPageCount(ctx); err != nil {
		return v, fmt.Errorf("count claimed pages: %w", err)
	}
	if v.TopClaimants, err = s.TopClaimants(ctx, topN); err != nil {
		return v, fmt.Errorf("top claimants: %w", err)
	}
	v.Critical = v.ClaimedPages == 0
	return v, nil
}

// Warnings renders the findings that belong in a report.
func (v Verification) Warnings() []string {
	var out []string
	for _, m := range v.Mismatches {
		out = append(out, fmt.Sprintf("book counters out of sync book=%s completedPages=%d counted=%d totalPages=%d counted=%d",
			m.Book, m.CompletedPages, m.CountedCompleted, m.TotalPages, m.CountedTotal))
	}
	if v.Critical {
		out = append(out, "CRITICAL: no page references a claimant; user links were not restored")
	}
	return out
}
