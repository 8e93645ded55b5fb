package legacy

import (
	"regexp"
	"strings"
)

// PageKey identifies a page by book name and number. Numbered is false for
// legacy entries that carried no usable page number; all of those share one key
// per book and never collide with a real page.
type PageKey struct {
	Book     string
	Number   int
	Numbered bool
}

// PageText is the migrated text of a page, split into columns when the legacy
// file used the two-column layout.
type PageText struct {
	Content         string
	IsTwoColumns    bool
	RightColumn     string
	LeftColumn      string
	RightColumnName string
	LeftColumnName  string
}

var columnPattern = regexp.MustCompile(`(?s)=== ([^\n]+?) ===\n(.*?)\n\n=== ([^\n]+?) ===\n(.*)`)

// SplitColumns detects the "=== name ===" markers the legacy editor wrote for
// two-column pages. Text without two markers is single-column content.
func SplitColumns(text string) PageText {
	m := columnPattern.FindStringSubmatch(text)
	if m == nil {
		return PageText{Content: text}
	}
	return PageText{
		IsTwoColumns:    true,
		RightColumnName: m[1],
		RightColumn:     m[2],
		LeftColumnName:  m[3],
		LeftColumn:      m[4],
	}
}

// ContentIndex maps (book, page) to migrated text.
type ContentIndex map[PageKey]PageText

// BuildContentIndex indexes every content file whose name parses. Later
// records replace earlier ones for the same page. It returns the names of the
// files that were skipped.
func BuildContentIndex(entries []Entry) (ContentIndex, []string) {
	idx := make(ContentIndex)
	var skipped []string
	for _, e := range entries {
		cf, ok := e.(ContentFile)
		if !ok {
			continue
		}
		ref, ok := ParseContentFilename(cf.FileName)
		if !ok {
			skipped = append(skipped, cf.FileName)
			continue
		}
		idx[PageKey{Book: ref.BookName, Number: ref.PageNumber, Numbered: true}] = SplitColumns(strings.TrimPrefix(cf.Text, "\uFEFF"))
	}
	return idx, skipped
}

// Lookup returns the text for a page, or empty text when none was indexed.
func (idx ContentIndex) Lookup(book string, number int) (PageText, bool) {
	t, ok := idx[PageKey{Book: book, Number: number, Numbered: true}]
	return t, ok
}
