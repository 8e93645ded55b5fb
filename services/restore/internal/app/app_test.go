package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"otzaria/internal/util"
	"otzaria/pkg/domain"
	"otzaria/pkg/legacy"
	"otzaria/pkg/notify"
	"otzaria/pkg/store"
)

func quietLogger() *slog.Logger {
	return util.NewLogger(io.Discard, "error", "text")
}

func record(path string, data any) map[string]any {
	return map[string]any{"path": path, "data": data}
}

func usersRecord(users ...map[string]any) map[string]any {
	items := make([]any, 0, len(users))
	for _, u := range users {
		items = append(items, u)
	}
	return record("data/users.json", items)
}

func pagesRecord(book string, pages ...map[string]any) map[string]any {
	items := make([]any, 0, len(pages))
	for _, p := range pages {
		items = append(items, p)
	}
	return record("data/pages/"+book+".json", items)
}

func source(label string, docs ...map[string]any) legacy.StaticSource {
	out := make([]any, 0, len(docs))
	for _, d := range docs {
		out = append(out, d)
	}
	return legacy.StaticSource{Label: label, Docs: out}
}

func newTestApp(t *testing.T, s store.Store, mode Mode, files legacy.Source, backups ...legacy.Source) *App {
	t.Helper()
	a, err := New(Config{
		Store:   s,
		Mode:    mode,
		Files:   files,
		Backups: backups,
		Logger:  quietLogger(),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a
}

func mustRun(t *testing.T, a *App) Report {
	t.Helper()
	report, err := a.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return report
}

func bookPagesOf(t *testing.T, s *store.MemoryStore, name string) (domain.Book, []domain.Page) {
	t.Helper()
	ctx := context.Background()
	book, ok, err := s.GetBookByName(ctx, name)
	if err != nil || !ok {
		t.Fatalf("book %q not found: %v", name, err)
	}
	pages, err := s.ListPages(ctx, book.ID)
	if err != nil {
		t.Fatalf("list pages: %v", err)
	}
	return book, pages
}

func userByEmail(t *testing.T, s *store.MemoryStore, email string) domain.User {
	t.Helper()
	u, ok, err := s.GetUserByEmail(context.Background(), email)
	if err != nil || !ok {
		t.Fatalf("user %q not found: %v", email, err)
	}
	return u
}

func danAndFoo() legacy.StaticSource {
	return source("files.json",
		usersRecord(map[string]any{"legacyId": "u1", "name": "Dan", "email": "d@x.com"}),
		pagesRecord("Foo",
			map[string]any{"number": 1, "status": "available", "updatedAt": "2024-01-01T00:00:00Z"},
			map[string]any{"number": 1, "status": "completed", "claimedById": "u1", "updatedAt": "2024-02-01T00:00:00Z"},
		),
	)
}

func TestRunLatestRevisionWins(t *testing.T) {
	s := store.NewMemoryStore()
	report := mustRun(t, newTestApp(t, s, ModeReplace, danAndFoo()))

	dan := userByEmail(t, s, "d@x.com")
	book, pages := bookPagesOf(t, s, "Foo")
	if len(pages) != 1 {
		t.Fatalf("expected exactly one page, got %d", len(pages))
	}
	p := pages[0]
	if p.PageNumber != 1 || p.Status != domain.PageCompleted {
		t.Fatalf("unexpected page: %+v", p)
	}
	if p.ClaimedBy == nil || *p.ClaimedBy != dan.ID {
		t.Fatalf("expected page claimed by Dan (%s), got %v", dan.ID, p.ClaimedBy)
	}
	if book.CompletedPages != 1 || book.TotalPages != 1 {
		t.Fatalf("unexpected counters: completed=%d total=%d", book.CompletedPages, book.TotalPages)
	}
	if p.ImagePath != "/uploads/books/"+book.Slug+"/page.1.jpg" {
		t.Fatalf("unexpected image path %q", p.ImagePath)
	}
	if book.Category != domain.DefaultCategory {
		t.Fatalf("unexpected category %q", book.Category)
	}
	if report.Critical() {
		t.Fatalf("report should not be critical")
	}
	if len(report.Verification.TopClaimants) != 1 || report.Verification.TopClaimants[0].Name != "Dan" {
		t.Fatalf("unexpected top claimants: %+v", report.Verification.TopClaimants)
	}
}

func TestRunOlderRevisionInBackupLoses(t *testing.T) {
	s := store.NewMemoryStore()
	files := source("files.json",
		usersRecord(map[string]any{"id": "u1", "name": "Dan", "email": "d@x.com"}),
		pagesRecord("Foo", map[string]any{"number": 2, "status": "completed", "claimedById": "u1", "updatedAt": map[string]any{"$date": "2024-03-01T00:00:00Z"}}),
	)
	backup := source("backups.json",
		pagesRecord("Foo", map[string]any{"number": 2, "status": "in-progress", "claimedById": "u1", "updatedAt": "2024-01-01T00:00:00Z"}),
	)
	mustRun(t, newTestApp(t, s, ModeReplace, files, backup))

	_, pages := bookPagesOf(t, s, "Foo")
	if len(pages) != 1 || pages[0].Status != domain.PageCompleted {
		t.Fatalf("expected newer primary revision to win, got %+v", pages)
	}
}

func TestRunEqualTimestampsLaterSeenWins(t *testing.T) {
	s := store.NewMemoryStore()
	files := source("files.json",
		usersRecord(map[string]any{"id": "u1", "name": "Dan", "email": "d@x.com"}),
		pagesRecord("Foo",
			map[string]any{"number": 1, "status": "available", "updatedAt": "2024-01-01T00:00:00Z"},
			map[string]any{"number": 3, "status": "available"},
		),
	)
	backup := source("backups.json",
		pagesRecord("Foo",
			map[string]any{"number": 1, "status": "in-progress", "claimedById": "u1", "updatedAt": "2024-01-01T00:00:00Z"},
			map[string]any{"number": 3, "status": "completed", "claimedById": "u1"},
		),
	)
	mustRun(t, newTestApp(t, s, ModeReplace, files, backup))

	_, pages := bookPagesOf(t, s, "Foo")
	if len(pages) != 2 {
		t.Fatalf("expected 2 pages, got %d", len(pages))
	}
	if pages[0].Status != domain.PageInProgress {
		t.Fatalf("equal timestamps: expected later-seen revision, got %s", pages[0].Status)
	}
	if pages[1].Status != domain.PageCompleted {
		t.Fatalf("absent timestamps: expected later-seen revision, got %s", pages[1].Status)
	}
}

func TestRunAttachesContent(t *testing.T) {
	s := store.NewMemoryStore()
	files := source("files.json",
		usersRecord(map[string]any{"id": "u1", "name": "Dan", "email": "d@x.com"}),
		record("data/content/Foo_page_1.txt", map[string]any{"content": "hello"}),
		record("data/content/Foo_page_2.txt", "=== ימין ===\nright text\n\n=== שמאל ===\nleft text"),
		record("data/content/no_pattern_here.txt", "ignored"),
		pagesRecord("Foo",
			map[string]any{"number": 1, "status": "completed", "claimedById": "u1", "thumbnail": "https://example.com/foo/1.jpg"},
			map[string]any{"number": 2, "status": "in-progress", "claimedBy": "Dan"},
			map[string]any{"number": 3, "status": "available"},
		),
	)
	report := mustRun(t, newTestApp(t, s, ModeReplace, files))

	dan := userByEmail(t, s, "d@x.com")
	_, pages := bookPagesOf(t, s, "Foo")
	if len(pages) != 3 {
		t.Fatalf("expected 3 pages, got %d", len(pages))
	}
	if pages[0].Content != "hello" {
		t.Fatalf("page 1 content = %q, want hello", pages[0].Content)
	}
	if pages[0].ImagePath != "https://example.com/foo/1.jpg" {
		t.Fatalf("thumbnail should be kept, got %q", pages[0].ImagePath)
	}
	two := pages[1]
	if !two.IsTwoColumns || two.RightColumn != "right text" || two.LeftColumn != "left text" {
		t.Fatalf("unexpected two-column page: %+v", two)
	}
	if two.RightColumnName != "ימין" || two.LeftColumnName != "שמאל" {
		t.Fatalf("unexpected column names: %q %q", two.RightColumnName, two.LeftColumnName)
	}
	if two.ClaimedBy == nil || *two.ClaimedBy != dan.ID {
		t.Fatalf("expected claimant resolved by display name")
	}
	if pages[2].Content != "" {
		t.Fatalf("page without content file should be empty, got %q", pages[2].Content)
	}
	if report.Skipped[entityContent] != 1 {
		t.Fatalf("expected one skipped content file, got %d", report.Skipped[entityContent])
	}
}

func TestRunIgnoresContentWithoutPage(t *testing.T) {
	build := func(extra ...map[string]any) legacy.StaticSource {
		docs := []map[string]any{
			usersRecord(map[string]any{"id": "u1", "name": "Dan", "email": "d@x.com"}),
			record("data/content/Foo_page_1.txt", "hello"),
			pagesRecord("Foo", map[string]any{"number": 1, "status": "completed", "claimedById": "u1"}),
		}
		return source("files.json", append(docs, extra...)...)
	}

	baseline := mustRun(t, newTestApp(t, store.NewMemoryStore(), ModeReplace, build()))

	s := store.NewMemoryStore()
	report := mustRun(t, newTestApp(t, s, ModeReplace, build(
		record("data/content/Foo_page_9.txt", "orphan page"),
		record("data/content/Bar_page_1.txt", "orphan book"),
	)))

	book, pages := bookPagesOf(t, s, "Foo")
	if len(pages) != 1 || pages[0].PageNumber != 1 || pages[0].Content != "hello" {
		t.Fatalf("expected only page 1 with its content, got %+v", pages)
	}
	if book.TotalPages != 1 || book.CompletedPages != 1 {
		t.Fatalf("unexpected counters: total=%d completed=%d", book.TotalPages, book.CompletedPages)
	}
	if _, ok, _ := s.GetBookByName(context.Background(), "Bar"); ok {
		t.Fatalf("content alone must not create a book")
	}
	if report.Skipped[entityContent] != 0 || report.Skipped[entityPages] != 0 {
		t.Fatalf("unused content must not be skipped, got %v", report.Skipped)
	}
	if len(report.Warnings) != len(baseline.Warnings) {
		t.Fatalf("unused content must not warn, got %q want %q", report.Warnings, baseline.Warnings)
	}
	for _, w := range report.Warnings {
		if strings.Contains(w, "Foo_page_9") || strings.Contains(w, "Bar") {
			t.Fatalf("unexpected warning about unused content: %q", w)
		}
	}
}

func TestRunAvailablePageHasNoTimestamps(t *testing.T) {
	s := store.NewMemoryStore()
	files := source("files.json",
		usersRecord(map[string]any{"id": "u1", "name": "Dan", "email": "d@x.com"}),
		pagesRecord("Foo", map[string]any{
			"number": 1, "status": "available",
			"claimedAt": "2024-01-01T00:00:00Z", "completedAt": "2024-01-02T00:00:00Z",
		}),
	)
	mustRun(t, newTestApp(t, s, ModeReplace, files))

	_, pages := bookPagesOf(t, s, "Foo")
	if pages[0].ClaimedAt != nil || pages[0].CompletedAt != nil {
		t.Fatalf("available page must not carry claim timestamps: %+v", pages[0])
	}
}

func TestRunUnnumberedPagesAreNotRestored(t *testing.T) {
	s := store.NewMemoryStore()
	files := source("files.json",
		pagesRecord("Foo",
			map[string]any{"status": "completed"},
			map[string]any{"number": "x", "status": "completed"},
			map[string]any{"number": 4, "status": "available"},
		),
	)
	report := mustRun(t, newTestApp(t, s, ModeReplace, files))

	book, pages := bookPagesOf(t, s, "Foo")
	if len(pages) != 1 || pages[0].PageNumber != 4 {
		t.Fatalf("expected only page 4, got %+v", pages)
	}
	if book.CompletedPages != 0 {
		t.Fatalf("unnumbered completed pages must not count, got %d", book.CompletedPages)
	}
	if report.Skipped[entityPages] != 1 {
		t.Fatalf("expected one skipped page group, got %d", report.Skipped[entityPages])
	}
}

func TestRunCompletedPagesMatchesStoredPages(t *testing.T) {
	files := source("files.json",
		usersRecord(
			map[string]any{"id": "u1", "name": "Dan", "email": "d@x.com"},
			map[string]any{"id": "u2", "name": "Ruth", "email": "r@x.com"},
		),
		pagesRecord("Foo",
			map[string]any{"number": 1, "status": "completed", "claimedById": "u1"},
			map[string]any{"number": 2, "status": "completed", "claimedById": "u2"},
			map[string]any{"number": 3, "status": "in-progress", "claimedById": "u2"},
		),
		pagesRecord("Bar",
			map[string]any{"number": 1, "status": "available"},
			map[string]any{"number": 2, "status": "completed", "claimedById": "ghost"},
		),
	)
	for _, mode := range []Mode{ModeUpsert, ModeReplace} {
		t.Run(string(mode), func(t *testing.T) {
			s := store.NewMemoryStore()
			ctx := context.Background()
			for i := 0; i < 2; i++ {
				report := mustRun(t, newTestApp(t, s, mode, files))
				if len(report.Verification.Mismatches) != 0 {
					t.Fatalf("run %d: counter mismatches %+v", i, report.Verification.Mismatches)
				}
			}
			books, err := s.ListBooks(ctx)
			if err != nil {
				t.Fatalf("list books: %v", err)
			}
			if len(books) != 2 {
				t.Fatalf("expected 2 books after re-run, got %d", len(books))
			}
			for _, b := range books {
				counts, err := s.CountPages(ctx, b.ID)
				if err != nil {
					t.Fatalf("count pages: %v", err)
				}
				if b.CompletedPages != counts.Completed || b.TotalPages != counts.Total {
					t.Fatalf("book %s counters %d/%d, stored %d/%d", b.Name, b.CompletedPages, b.TotalPages, counts.Completed, counts.Total)
				}
			}
			users, err := s.UserCount(ctx)
			if err != nil || users != 2 {
				t.Fatalf("expected 2 users after re-run, got %d %v", users, err)
			}
		})
	}
}

func TestRunUpsertKeepsExistingBookAndPages(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	mustRun(t, newTestApp(t, s, ModeUpsert, danAndFoo()))
	before, pagesBefore := bookPagesOf(t, s, "Foo")

	extra := source("files.json",
		usersRecord(map[string]any{"legacyId": "u1", "name": "Dan", "email": "d@x.com", "points": 40}),
		pagesRecord("Foo", map[string]any{"number": 2, "status": "completed", "claimedById": "u1"}),
	)
	mustRun(t, newTestApp(t, s, ModeUpsert, extra))

	after, pagesAfter := bookPagesOf(t, s, "Foo")
	if after.ID != before.ID || after.Slug != before.Slug {
		t.Fatalf("upsert must reuse the book: %+v vs %+v", before, after)
	}
	if len(pagesAfter) != 2 || pagesAfter[0].ID != pagesBefore[0].ID {
		t.Fatalf("upsert must keep existing pages: %+v", pagesAfter)
	}
	if after.CompletedPages != 2 {
		t.Fatalf("expected counters from stored pages, got %d", after.CompletedPages)
	}
	dan := userByEmail(t, s, "d@x.com")
	if dan.Points != 40 {
		t.Fatalf("upsert should refresh points, got %d", dan.Points)
	}
	if n, _ := s.UserCount(ctx); n != 1 {
		t.Fatalf("expected one user, got %d", n)
	}
}

func TestRunReplaceClearsTarget(t *testing.T) {
	s := store.NewMemoryStore()
	mustRun(t, newTestApp(t, s, ModeReplace, danAndFoo()))

	other := source("files.json",
		usersRecord(map[string]any{"id": "u9", "name": "Leah", "email": "l@x.com"}),
		pagesRecord("Baz", map[string]any{"number": 1, "status": "completed", "claimedById": "u9"}),
	)
	mustRun(t, newTestApp(t, s, ModeReplace, other))

	ctx := context.Background()
	if _, ok, _ := s.GetBookByName(ctx, "Foo"); ok {
		t.Fatalf("replace mode should drop books from earlier runs")
	}
	if _, ok, _ := s.GetUserByEmail(ctx, "d@x.com"); ok {
		t.Fatalf("replace mode should drop users from earlier runs")
	}
}

func TestRunSlugCollisionsGetSuffix(t *testing.T) {
	s := store.NewMemoryStore()
	files := source("files.json",
		pagesRecord("Foo Bar", map[string]any{"number": 1}),
		pagesRecord("foo-bar", map[string]any{"number": 1}),
	)
	mustRun(t, newTestApp(t, s, ModeReplace, files))

	first, _ := bookPagesOf(t, s, "Foo Bar")
	second, _ := bookPagesOf(t, s, "foo-bar")
	if first.Slug != "foo-bar" || second.Slug != "foo-bar-2" {
		t.Fatalf("unexpected slugs %q %q", first.Slug, second.Slug)
	}
	if second.FolderPath != "/uploads/books/foo-bar-2" {
		t.Fatalf("unexpected folder %q", second.FolderPath)
	}
}

func TestRunDecodesEncodedBookNames(t *testing.T) {
	s := store.NewMemoryStore()
	files := source("files.json",
		pagesRecord("_D7_90_D7_91", map[string]any{"number": 3}),
		record("data/content/_D7_90_D7_91_page_3.txt", "שלום"),
	)
	mustRun(t, newTestApp(t, s, ModeReplace, files))

	_, pages := bookPagesOf(t, s, "אב")
	if len(pages) != 1 || pages[0].Content != "שלום" {
		t.Fatalf("unexpected pages for decoded book: %+v", pages)
	}
}

func TestRunMessages(t *testing.T) {
	s := store.NewMemoryStore()
	files := danAndFoo()
	messages := legacy.StaticSource{Label: "messages.json", Docs: []any{
		map[string]any{
			"_id":      map[string]any{"$oid": "65a000000000000000000001"},
			"senderId": "u1",
			"subject":  "",
			"message":  "hi",
			"readAt":   "2024-01-05T00:00:00Z",
			"replies": []any{
				map[string]any{"senderId": "u1", "message": "kept"},
				map[string]any{"senderId": "nobody", "message": "dropped"},
			},
		},
		map[string]any{
			"_id":      map[string]any{"$oid": "65a000000000000000000002"},
			"senderId": "ghost",
			"message":  "lost",
			"replies":  []any{map[string]any{"senderId": "u1", "message": "irrelevant"}},
		},
	}}
	a, err := New(Config{Store: s, Mode: ModeUpsert, Files: files, Messages: messages, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	for i := 0; i < 2; i++ {
		report, err := a.Run(context.Background())
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if report.Migrated[entityMessages] != 1 || report.Skipped[entityMessages] != 1 {
			t.Fatalf("run %d: migrated=%d skipped=%d", i, report.Migrated[entityMessages], report.Skipped[entityMessages])
		}
	}

	msgs, err := s.ListMessages(context.Background())
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected re-runs not to duplicate messages, got %d", len(msgs))
	}
	msg := msgs[0]
	if msg.Subject != domain.DefaultSubject || msg.Content != "hi" || !msg.IsRead {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.RecipientID != nil {
		t.Fatalf("recipient should be nil")
	}
	if len(msg.Replies) != 1 || msg.Replies[0].Content != "kept" {
		t.Fatalf("unexpected replies: %+v", msg.Replies)
	}
}

func TestRunUploads(t *testing.T) {
	s := store.NewMemoryStore()
	files := source("files.json",
		usersRecord(
			map[string]any{"id": "u1", "name": "Dan", "email": "d@x.com"},
			map[string]any{"id": "a1", "name": "Admin", "email": "a@x.com", "role": "admin"},
		),
		record("data/uploads-meta.json", []any{
			map[string]any{"fileName": "f1.txt", "uploadedById": "u1", "bookName": "Foo", "status": "approved", "reviewedBy": "Admin"},
			map[string]any{"fileName": "f2.txt", "uploadedById": "ghost", "bookName": "Foo"},
		}),
		record("data/uploads/f1.txt", map[string]any{"content": "uploaded text"}),
		pagesRecord("Foo", map[string]any{"number": 1, "status": "completed", "claimedById": "u1"}),
	)
	report := mustRun(t, newTestApp(t, s, ModeReplace, files))
	if report.Migrated[entityUploads] != 1 || report.Skipped[entityUploads] != 1 {
		t.Fatalf("uploads migrated=%d skipped=%d", report.Migrated[entityUploads], report.Skipped[entityUploads])
	}
	n, err := s.UploadCount(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected one stored upload, got %d %v", n, err)
	}
}

func TestRunUpsertKeepsUndatedRecordsUnique(t *testing.T) {
	s := store.NewMemoryStore()
	files := source("files.json",
		usersRecord(map[string]any{"id": "u1", "name": "Dan", "email": "d@x.com"}),
		record("data/uploads-meta.json", []any{
			map[string]any{"uploadedById": "u1", "bookName": "Foo", "originalFileName": "scan.txt"},
		}),
		pagesRecord("Foo", map[string]any{"number": 1, "status": "completed", "claimedById": "u1"}),
	)
	messages := legacy.StaticSource{Label: "messages.json", Docs: []any{
		map[string]any{"senderId": "u1", "subject": "hello", "message": "no id, no date"},
	}}
	clock := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	a, err := New(Config{
		Store:    s,
		Mode:     ModeUpsert,
		Files:    files,
		Messages: messages,
		Logger:   quietLogger(),
		Now: func() time.Time {
			clock = clock.Add(time.Hour)
			return clock
		},
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := a.Run(context.Background()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}

	ctx := context.Background()
	msgs, err := s.ListMessages(ctx)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected one message after re-runs, got %d", len(msgs))
	}
	if n, _ := s.UploadCount(ctx); n != 1 {
		t.Fatalf("expected one upload after re-runs, got %d", n)
	}
}

func TestMessageIDUsesOnlyExportedFields(t *testing.T) {
	doc := map[string]any{"senderId": "u1", "message": "hi"}
	a := messageID(doc, domain.Message{SenderID: "id-1", Content: "hi", CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)})
	b := messageID(doc, domain.Message{SenderID: "id-1", Content: "hi", CreatedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)})
	if a != b {
		t.Fatalf("undated message id depends on the run clock: %s vs %s", a, b)
	}
	dated := map[string]any{"senderId": "u1", "message": "hi", "createdAt": "2024-01-02T00:00:00Z"}
	if messageID(dated, domain.Message{SenderID: "id-1", Content: "hi"}) == a {
		t.Fatalf("exported creation time should distinguish messages")
	}
}

func TestRunWithoutClaimantsIsCritical(t *testing.T) {
	s := store.NewMemoryStore()
	files := source("files.json",
		pagesRecord("Foo", map[string]any{"number": 1, "status": "completed", "claimedById": "ghost"}),
	)
	report := mustRun(t, newTestApp(t, s, ModeReplace, files))
	if !report.Critical() {
		t.Fatalf("expected critical report without claimed pages")
	}
	if !strings.Contains(report.String(), "CRITICAL") {
		t.Fatalf("rendered report should flag the critical state:\n%s", report.String())
	}
}

func TestRunSkipsMalformedRecords(t *testing.T) {
	s := store.NewMemoryStore()
	files := source("files.json",
		record("data/users.json", "not an array"),
		record("data/pages/Foo.json", map[string]any{"number": 1}),
		map[string]any{"data": "no path"},
	)
	report := mustRun(t, newTestApp(t, s, ModeReplace, files))
	if report.Skipped[entityRecords] != 3 {
		t.Fatalf("expected 3 skipped records, got %d", report.Skipped[entityRecords])
	}
}

func TestNewValidatesConfig(t *testing.T) {
	s := store.NewMemoryStore()
	if _, err := New(Config{Store: s, Files: danAndFoo()}); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode without mode, got %v", err)
	}
	if _, err := New(Config{Store: s, Mode: "merge", Files: danAndFoo()}); !errors.Is(err, ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode for unknown mode, got %v", err)
	}
	if _, err := New(Config{Store: s, Mode: ModeUpsert}); !errors.Is(err, ErrNoSources) {
		t.Fatalf("expected ErrNoSources, got %v", err)
	}
}

func TestRunRefusesWhileLocked(t *testing.T) {
	lock := store.NewMemoryRunLock()
	release, err := lock.Acquire(context.Background(), time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release(context.Background())

	a, err := New(Config{Store: store.NewMemoryStore(), Mode: ModeUpsert, Files: danAndFoo(), Lock: lock, Logger: quietLogger()})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if _, err := a.Run(context.Background()); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
}

type memoryObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memoryObjects) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return io.NopCloser(strings.NewReader(string(m.objects[key]))), nil
}

func (m *memoryObjects) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

type recordingPublisher struct {
	events []notify.RunFinished
}

func (p *recordingPublisher) Publish(ctx context.Context, ev notify.RunFinished) error {
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func TestRunArchivesReportAndPublishes(t *testing.T) {
	objects := &memoryObjects{objects: make(map[string][]byte)}
	pub := &recordingPublisher{}
	a, err := New(Config{
		Store:     store.NewMemoryStore(),
		Mode:      ModeReplace,
		DryRun:    true,
		Files:     danAndFoo(),
		Reports:   objects,
		Publisher: pub,
		Logger:    quietLogger(),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	report, err := a.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(pub.events) != 1 {
		t.Fatalf("expected one event, got %d", len(pub.events))
	}
	ev := pub.events[0]
	if ev.RunID != report.RunID || !ev.DryRun || ev.Migrated[entityPages] != 1 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	body, ok := objects.objects[ev.ReportKey]
	if !ok {
		t.Fatalf("report %q not archived", ev.ReportKey)
	}
	if !strings.Contains(string(body), "dry run") {
		t.Fatalf("archived report missing header:\n%s", body)
	}
}
