package legacy

import (
	"path"
	"strings"
)

const (
	usersPath       = "data/users.json"
	uploadsMetaPath = "data/uploads-meta.json"
	pagesPrefix     = "data/pages/"
	contentPrefix   = "data/content/"
	uploadsPrefix   = "data/uploads/"
)

// Entry is a classified legacy record. The concrete types are Users,
// PageCollection, ContentFile, UploadsMeta, UploadFile, Malformed and Unknown.
type Entry interface {
	record() RawRecord
}

type base struct{ Raw RawRecord }

func (b base) record() RawRecord { return b.Raw }

// Users is the legacy user export, one element per user.
type Users struct {
	base
	Items []any
}

// PageCollection holds every page entry of one book.
type PageCollection struct {
	base
	BookName string
	Items    []any
}

// ContentFile is the text of one page, keyed by its encoded file name.
type ContentFile struct {
	base
	FileName string
	Text     string
}

// UploadsMeta lists user uploads awaiting or past review.
type UploadsMeta struct {
	base
	Items []any
}

// UploadFile is the body of one uploaded file.
type UploadFile struct {
	base
	FileName string
	Text     string
}

// Malformed is a record whose path is known but whose payload has the wrong shape.
type Malformed struct {
	base
	Reason string
}

// Unknown is any record the restore does not consume.
type Unknown struct {
	base
}

// Classify dispatches a record on its virtual path.
func Classify(rec RawRecord) Entry {
	b := base{Raw: rec}
	p := rec.Path
	switch {
	case p == usersPath:
		items, ok := rec.Data.([]any)
		if !ok {
			return Malformed{base: b, Reason: "user export is not an array"}
		}
		return Users{base: b, Items: items}
	case p == uploadsMetaPath:
		items, ok := rec.Data.([]any)
		if !ok {
			return Malformed{base: b, Reason: "uploads metadata is not an array"}
		}
		return UploadsMeta{base: b, Items: items}
	case strings.HasPrefix(p, pagesPrefix) && strings.HasSuffix(p, ".json"):
		items, ok := rec.Data.([]any)
		if !ok {
			return Malformed{base: b, Reason: "page collection is not an array"}
		}
		return PageCollection{base: b, BookName: BookNameFromPath(p), Items: items}
	case strings.HasPrefix(p, contentPrefix):
		text, ok := textPayload(rec.Data)
		if !ok {
			return Malformed{base: b, Reason: "content file has no text"}
		}
		return ContentFile{base: b, FileName: path.Base(p), Text: text}
	case strings.HasPrefix(p, uploadsPrefix):
		text, _ := textPayload(rec.Data)
		return UploadFile{base: b, FileName: path.Base(p), Text: text}
	}
	return Unknown{base: b}
}

// Path returns the virtual path of a classified record.
func Path(e Entry) string { return e.record().Path }

// SourceOf returns the dump a classified record was read from.
func SourceOf(e Entry) string { return e.record().Source }

// textPayload accepts both shapes the legacy store used for text files: a
// bare string, or an object with a content field.
func textPayload(data any) (string, bool) {
	switch x := data.(type) {
	case string:
		return x, true
	case map[string]any:
		if s, ok := x["content"].(string); ok {
			return s, true
		}
	}
	return "", false
}
