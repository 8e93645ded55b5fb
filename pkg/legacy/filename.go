package legacy

import (
	"path"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ContentRef identifies the page a legacy content file belongs to.
type ContentRef struct {
	BookName   string
	PageNumber int
}

var pageFilePattern = regexp.MustCompile(`(?i)(.*?)[\s_]+(?:page|daf|amud|p)[\s_]*(\d+)`)

// DecodeFileName decodes the legacy store's escape encoding for non-ASCII
// names: each byte written as "_XX" in hex, so "_D7_90" is "א". Only the
// leading run of escapes is decoded, trimmed back to the longest prefix that is
// printable UTF-8. Names without such a prefix are returned unchanged.
func DecodeFileName(name string) string {
	var (
		decoded []byte
		ends    []int
	)
	i := 0
	for i+2 < len(name) && name[i] == '_' && isHex(name[i+1]) && isHex(name[i+2]) {
		decoded = append(decoded, unhex(name[i+1])<<4|unhex(name[i+2]))
		i += 3
		ends = append(ends, i)
	}
	for k := len(decoded); k > 0; k-- {
		if printableUTF8(decoded[:k]) {
			return string(decoded[:k]) + name[ends[k-1]:]
		}
	}
	return name
}

// ParseContentFilename extracts the book name and page number from a content
// file name such as "Foo_page_3.txt" or "_D7_90_D7_91_daf_12.txt". ok is false
// when the name carries no page marker; callers skip such files.
func ParseContentFilename(name string) (ContentRef, bool) {
	decoded := DecodeFileName(name)
	m := pageFilePattern.FindStringSubmatch(decoded)
	if m == nil {
		return ContentRef{}, false
	}
	num, err := strconv.Atoi(m[2])
	if err != nil {
		return ContentRef{}, false
	}
	book := strings.TrimSpace(strings.ReplaceAll(m[1], "_", " "))
	return ContentRef{BookName: book, PageNumber: num}, true
}

// BookNameFromPath derives the book name of a page-collection record from its
// virtual path, e.g. "data/pages/_D7_90.json" is "א".
func BookNameFromPath(p string) string {
	base := strings.TrimSuffix(path.Base(p), ".json")
	return strings.TrimSpace(DecodeFileName(base))
}

func printableUTF8(b []byte) bool {
	if !utf8.Valid(b) {
		return false
	}
	for _, r := range string(b) {
		if unicode.IsControl(r) {
			return false
		}
	}
	return true
}

func isHex(c byte) bool {
	return ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}
