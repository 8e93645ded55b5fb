package app

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"otzaria/internal/util"
	"otzaria/pkg/domain"
	"otzaria/pkg/legacy"
)

// epoch stands in for a missing page timestamp so any dated revision wins.
var epoch = time.Unix(0, 0).UTC()

// pageCandidate is the current winner for one page key.
type pageCandidate struct {
	doc       map[string]any
	updatedAt time.Time
	source    string
}

// pageGroups holds the winning revision of every page seen in any dump.
type pageGroups struct {
	order   []string // book names, first-seen
	byBook  map[string]map[legacy.PageKey]pageCandidate
	skipped int
}

func newPageGroups() *pageGroups {
	return &pageGroups{byBook: make(map[string]map[legacy.PageKey]pageCandidate)}
}

// add offers one legacy page entry. A candidate replaces the current winner
// when its updatedAt is not older, so among equal timestamps the entry seen
// last wins.
func (g *pageGroups) add(book, source string, item any) {
	doc, ok := item.(map[string]any)
	if !ok {
		g.skipped++
		return
	}
	key := legacy.PageKey{Book: book}
	if n, ok := legacy.Int(doc["number"]); ok {
		key.Number = n
		key.Numbered = true
	}
	updatedAt := epoch
	if t, ok := legacy.Time(doc["updatedAt"]); ok {
		updatedAt = t
	}
	pages, ok := g.byBook[book]
	if !ok {
		pages = make(map[legacy.PageKey]pageCandidate)
		g.byBook[book] = pages
		g.order = append(g.order, book)
	}
	if cur, ok := pages[key]; ok && updatedAt.Before(cur.updatedAt) {
		return
	}
	pages[key] = pageCandidate{doc: doc, updatedAt: updatedAt, source: source}
}

// groupPages runs the merge over every page collection in scan order.
func groupPages(entries []legacy.Entry) *pageGroups {
	g := newPageGroups()
	for _, e := range entries {
		pc, ok := e.(legacy.PageCollection)
		if !ok || pc.BookName == "" {
			continue
		}
		for _, item := range pc.Items {
			g.add(pc.BookName, legacy.SourceOf(e), item)
		}
	}
	return g
}

// bookPages is the finalized page set of one book.
type bookPages struct {
	Name           string
	Pages          []domain.Page
	CompletedCount int
	// Unnumbered counts page groups without a usable number. They are never
	// materialized.
	Unnumbered int
}

// finalize turns the winning revisions into pages, resolving claimants and
// attaching text. ImagePath stays empty when the legacy page had no
// thumbnail; the materializer fills it once the book slug is known.
func finalize(st *runState) []bookPages {
	out := make([]bookPages, 0, len(st.groups.order))
	for _, book := range st.groups.order {
		bp := bookPages{Name: book}
		for key, cand := range st.groups.byBook[book] {
			if !key.Numbered {
				bp.Unnumbered++
				continue
			}
			page := finalizePage(st, key, cand)
			if page.Status == domain.PageCompleted {
				bp.CompletedCount++
			}
			bp.Pages = append(bp.Pages, page)
		}
		sort.Slice(bp.Pages, func(i, j int) bool { return bp.Pages[i].PageNumber < bp.Pages[j].PageNumber })
		out = append(out, bp)
	}
	return out
}

func finalizePage(st *runState, key legacy.PageKey, cand pageCandidate) domain.Page {
	doc := cand.doc
	rawStatus, _ := legacy.String(doc["status"])
	rawStatus = strings.TrimSpace(rawStatus)
	status, known := domain.ParsePageStatus(rawStatus)
	if !known && rawStatus != "" {
		st.warn("unknown page status, using available", "book", key.Book, "page", key.Number, "status", rawStatus)
	}

	page := domain.Page{
		ID:         util.NewID(),
		PageNumber: key.Number,
		Status:     status,
		ClaimedBy:  st.identity.resolvePtr(refFrom(doc, "claimedById", "claimedBy")),
		CreatedAt:  st.startedAt,
		UpdatedAt:  st.startedAt,
	}
	if t, ok := legacy.Time(doc["createdAt"]); ok {
		page.CreatedAt = t
	}
	if !cand.updatedAt.Equal(epoch) {
		page.UpdatedAt = cand.updatedAt
	}
	if status != domain.PageAvailable {
		page.ClaimedAt = timePtr(doc["claimedAt"])
		page.CompletedAt = timePtr(doc["completedAt"])
		if page.ClaimedBy == nil {
			st.warn("page has no resolvable claimant", "book", key.Book, "page", key.Number, "status", string(status), "source", cand.source)
		}
	}

	if text, ok := st.content.Lookup(key.Book, key.Number); ok {
		applyText(&page, text)
	}
	if thumb, ok := legacy.String(doc["thumbnail"]); ok {
		page.ImagePath = strings.TrimSpace(thumb)
	}
	return page
}

func applyText(page *domain.Page, text legacy.PageText) {
	page.Content = text.Content
	page.IsTwoColumns = text.IsTwoColumns
	if !text.IsTwoColumns {
		return
	}
	page.RightColumn = text.RightColumn
	page.LeftColumn = text.LeftColumn
	page.RightColumnName = text.RightColumnName
	page.LeftColumnName = text.LeftColumnName
	if page.RightColumnName == "" {
		page.RightColumnName = domain.DefaultRightColumnName
	}
	if page.LeftColumnName == "" {
		page.LeftColumnName = domain.DefaultLeftColumnName
	}
}

// pageImagePath keeps a legacy thumbnail URL or derives the uploads path.
func pageImagePath(slug string, number int, thumbnail string) string {
	if thumbnail != "" {
		return thumbnail
	}
	return fmt.Sprintf("%s/page.%d.jpg", bookFolder(slug), number)
}

func bookFolder(slug string) string {
	return "/uploads/books/" + slug
}

func timePtr(v any) *time.Time {
	t, ok := legacy.Time(v)
	if !ok {
		return nil
	}
	t = t.UTC()
	return &t
}
