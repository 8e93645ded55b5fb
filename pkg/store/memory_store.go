package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"otzaria/pkg/domain"
)

// MemoryStore keeps the restored dataset in-process. It backs dry runs and
// tests and mirrors the uniqueness rules of the database schema.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]domain.User // key: user ID
	email    map[string]string      // EmailKey -> user ID
	books    map[string]domain.Book
	bookName map[string]string // name -> book ID
	pages    map[string]map[int]domain.Page
	messages map[string]domain.Message
	uploads  map[string]domain.Upload
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{}
	m.reset()
	return m
}

func (m *MemoryStore) reset() {
	m.users = make(map[string]domain.User)
	m.email = make(map[string]string)
	m.books = make(map[string]domain.Book)
	m.bookName = make(map[string]string)
	m.pages = make(map[string]map[int]domain.Page)
	m.messages = make(map[string]domain.Message)
	m.uploads = make(map[string]domain.Upload)
}

// CreateUser registers a user. The email must be unused.
func (m *MemoryStore) CreateUser(_ context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.Email = EmailKey(u.Email)
	if _, ok := m.email[u.Email]; ok {
		return ErrDuplicate
	}
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

// UpdateUserStanding refreshes role and points of an existing user.
func (m *MemoryStore) UpdateUserStanding(_ context.Context, id string, role domain.UserRole, points int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Role = role
	u.Points = points
	u.UpdatedAt = time.Now().UTC()
	m.users[id] = u
	return nil
}

// UpsertUserByEmail creates the user or overwrites the one holding the email.
func (m *MemoryStore) UpsertUserByEmail(_ context.Context, u domain.User) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.Email = EmailKey(u.Email)
	if id, ok := m.email[u.Email]; ok {
		existing := m.users[id]
		existing.Name = u.Name
		existing.PasswordHash = u.PasswordHash
		existing.Role = u.Role
		existing.Points = u.Points
		existing.UpdatedAt = u.UpdatedAt
		m.users[id] = existing
		return false, nil
	}
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return true, nil
}

// GetUserByEmail looks up a user by email, ignoring case.
func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[EmailKey(email)]
	if !ok {
		return domain.User{}, false, nil
	}
	return m.users[id], true, nil
}

// UserCount returns number of users.
func (m *MemoryStore) UserCount(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

// SaveBook stores or replaces a book.
func (m *MemoryStore) SaveBook(_ context.Context, b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.bookName[b.Name]; ok && id != b.ID {
		return ErrDuplicate
	}
	for id, other := range m.books {
		if id != b.ID && other.Slug == b.Slug {
			return ErrDuplicate
		}
	}
	if prev, ok := m.books[b.ID]; ok && prev.Name != b.Name {
		delete(m.bookName, prev.Name)
	}
	m.books[b.ID] = b
	m.bookName[b.Name] = b.ID
	return nil
}

// GetBookByName finds a book by its unique name.
func (m *MemoryStore) GetBookByName(_ context.Context, name string) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.bookName[name]
	if !ok {
		return domain.Book{}, false, nil
	}
	return m.books[id], true, nil
}

// HasBookSlug checks if a slug is taken.
func (m *MemoryStore) HasBookSlug(_ context.Context, slug string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.books {
		if b.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

// SetBookCounters updates the derived page counters of a book.
func (m *MemoryStore) SetBookCounters(_ context.Context, id string, counts PageCounts) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return ErrNotFound
	}
	b.TotalPages = counts.Total
	b.CompletedPages = counts.Completed
	b.UpdatedAt = time.Now().UTC()
	m.books[id] = b
	return nil
}

// ListBooks returns all books ordered by name.
func (m *MemoryStore) ListBooks(_ context.Context) ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Book, 0, len(m.books))
	for _, b := range m.books {
		res = append(res, b)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res, nil
}

// SavePages upserts pages on (book, page number). Existing pages keep their ID
// and creation time.
func (m *MemoryStore) SavePages(_ context.Context, bookID string, pages []domain.Page) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[bookID]; !ok {
		return ErrNotFound
	}
	byNumber := m.pages[bookID]
	if byNumber == nil {
		byNumber = make(map[int]domain.Page)
		m.pages[bookID] = byNumber
	}
	for _, p := range pages {
		p.BookID = bookID
		if prev, ok := byNumber[p.PageNumber]; ok {
			p.ID = prev.ID
			p.CreatedAt = prev.CreatedAt
		}
		byNumber[p.PageNumber] = p
	}
	return nil
}

// CountPages returns total and completed page counts for a book.
func (m *MemoryStore) CountPages(_ context.Context, bookID string) (PageCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var counts PageCounts
	for _, p := range m.pages[bookID] {
		counts.Total++
		if p.Status == domain.PageCompleted {
			counts.Completed++
		}
	}
	return counts, nil
}

// ListPages returns the pages of a book ordered by page number.
func (m *MemoryStore) ListPages(_ context.Context, bookID string) ([]domain.Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Page, 0, len(m.pages[bookID]))
	for _, p := range m.pages[bookID] {
		res = append(res, p)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].PageNumber < res[j].PageNumber })
	return res, nil
}

// SaveMessages upserts messages by ID.
func (m *MemoryStore) SaveMessages(_ context.Context, msgs []domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		if _, ok := m.users[msg.SenderID]; !ok {
			return ErrNotFound
		}
		m.messages[msg.ID] = msg
	}
	return nil
}

// ListMessages returns every message ordered by creation time.
func (m *MemoryStore) ListMessages(_ context.Context) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Message, 0, len(m.messages))
	for _, msg := range m.messages {
		res = append(res, msg)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res, nil
}

// SaveUploads upserts uploads by ID.
func (m *MemoryStore) SaveUploads(_ context.Context, uploads []domain.Upload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range uploads {
		m.uploads[u.ID] = u
	}
	return nil
}

// UploadCount returns number of uploads.
func (m *MemoryStore) UploadCount(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.uploads), nil
}

// TopClaimants groups claimed pages by user, largest first, ties by name.
func (m *MemoryStore) TopClaimants(_ context.Context, limit int) ([]ClaimantCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		return []ClaimantCount{}, nil
	}
	counts := make(map[string]int)
	for _, byNumber := range m.pages {
		for _, p := range byNumber {
			if p.ClaimedBy == nil {
				continue
			}
			if _, ok := m.users[*p.ClaimedBy]; !ok {
				continue
			}
			counts[*p.ClaimedBy]++
		}
	}
	res := make([]ClaimantCount, 0, len(counts))
	for id, n := range counts {
		res = append(res, ClaimantCount{UserID: id, Name: m.users[id].Name, Count: n})
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Count != res[j].Count {
			return res[i].Count > res[j].Count
		}
		return res[i].Name < res[j].Name
	})
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// ClaimedPageCount returns how many pages reference a claimant.
func (m *MemoryStore) ClaimedPageCount(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, byNumber := range m.pages {
		for _, p := range byNumber {
			if p.ClaimedBy != nil {
				n++
			}
		}
	}
	return n, nil
}

// ClearAll removes every restored entity.
func (m *MemoryStore) ClearAll(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reset()
	return nil
}
