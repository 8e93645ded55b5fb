package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"otzaria/internal/util"
	"otzaria/pkg/domain"
	"otzaria/pkg/legacy"
	"otzaria/pkg/slug"
)

// materializeBooks writes each book and its pages, one book at a time, then
// sets the book counters from what the store actually holds.
func (a *App) materializeBooks(ctx context.Context, st *runState, books []bookPages) error {
	for _, bp := range books {
		if bp.Unnumbered > 0 {
			st.skip(entityPages, bp.Unnumbered)
			st.warn("pages without a number were not restored", "book", bp.Name, "groups", bp.Unnumbered)
		}
		book, err := a.ensureBook(ctx, st, bp.Name)
		if err != nil {
			return err
		}
		pages := make([]domain.Page, 0, len(bp.Pages))
		for _, p := range bp.Pages {
			p.BookID = book.ID
			p.ImagePath = pageImagePath(book.Slug, p.PageNumber, p.ImagePath)
			pages = append(pages, p)
		}
		if err := a.store.SavePages(ctx, book.ID, pages); err != nil {
			return fmt.Errorf("save pages of %s: %w", bp.Name, err)
		}
		counts, err := a.store.CountPages(ctx, book.ID)
		if err != nil {
			return fmt.Errorf("count pages of %s: %w", bp.Name, err)
		}
		if err := a.store.SetBookCounters(ctx, book.ID, counts); err != nil {
			return fmt.Errorf("update counters of %s: %w", bp.Name, err)
		}
		st.bookIDs[bp.Name] = book.ID
		st.count(entityBooks, 1)
		st.count(entityPages, len(pages))
		st.logger.Debug("book restored", "book", bp.Name, "pages", len(pages), "completed", counts.Completed)
	}
	return nil
}

// ensureBook returns the stored book with this name, creating it with a
// fresh unique slug when absent.
func (a *App) ensureBook(ctx context.Context, st *runState, name string) (domain.Book, error) {
	existing, found, err := a.store.GetBookByName(ctx, name)
	if err != nil {
		return domain.Book{}, fmt.Errorf("lookup book %s: %w", name, err)
	}
	if found {
		return existing, nil
	}
	bookSlug, err := slug.Unique(slug.Make(name), func(candidate string) (bool, error) {
		return a.store.HasBookSlug(ctx, candidate)
	})
	if err != nil {
		return domain.Book{}, fmt.Errorf("slug for %s: %w", name, err)
	}
	book := domain.Book{
		ID:         util.NewID(),
		Name:       name,
		Slug:       bookSlug,
		Category:   a.defaultCategory,
		FolderPath: bookFolder(bookSlug),
		CreatedAt:  st.startedAt,
		UpdatedAt:  st.startedAt,
	}
	if err := a.store.SaveBook(ctx, book); err != nil {
		return domain.Book{}, fmt.Errorf("save book %s: %w", name, err)
	}
	return book, nil
}

// materializeMessages restores the message export. A message whose sender
// cannot be resolved is dropped with its replies; replies are dropped one by
// one when only their sender is unknown.
func (a *App) materializeMessages(ctx context.Context, st *runState) error {
	if len(st.messages) == 0 {
		return nil
	}
	msgs := make([]domain.Message, 0, len(st.messages))
	seen := make(map[string]bool)
	droppedUnknownSender := 0
	for _, item := range st.messages {
		doc, ok := item.(map[string]any)
		if !ok {
			st.skip(entityMessages, 1)
			continue
		}
		senderID, ok := st.identity.resolve(refFrom(doc, "senderId", "senderName"))
		if !ok {
			droppedUnknownSender++
			st.skip(entityMessages, 1)
			continue
		}
		msg := domain.Message{
			SenderID:    senderID,
			RecipientID: st.identity.resolvePtr(refFrom(doc, "recipientId", "recipientName")),
			Subject:     domain.DefaultSubject,
			Content:     firstText(doc, "message", "content"),
			IsRead:      messageRead(doc),
			CreatedAt:   timeOr(doc["createdAt"], st.startedAt),
		}
		msg.UpdatedAt = timeOr(doc["updatedAt"], msg.CreatedAt)
		if subject := firstText(doc, "subject"); subject != "" {
			msg.Subject = subject
		}
		msg.ID = messageID(doc, msg)
		if seen[msg.ID] {
			st.skip(entityMessages, 1)
			continue
		}
		seen[msg.ID] = true
		msg.Replies = a.restoreReplies(st, doc["replies"])
		msgs = append(msgs, msg)
	}
	if droppedUnknownSender > 0 {
		st.warn("messages dropped, sender not found", "count", droppedUnknownSender)
	}
	if err := a.store.SaveMessages(ctx, msgs); err != nil {
		return fmt.Errorf("save messages: %w", err)
	}
	st.count(entityMessages, len(msgs))
	return nil
}

func (a *App) restoreReplies(st *runState, raw any) []domain.Reply {
	items, _ := raw.([]any)
	replies := make([]domain.Reply, 0, len(items))
	for _, item := range items {
		doc, ok := item.(map[string]any)
		if !ok {
			st.skip(entityReplies, 1)
			continue
		}
		senderID, ok := st.identity.resolve(refFrom(doc, "senderId", "senderName"))
		if !ok {
			st.skip(entityReplies, 1)
			continue
		}
		replies = append(replies, domain.Reply{
			SenderID:  senderID,
			Content:   firstText(doc, "message", "content"),
			CreatedAt: timeOr(doc["createdAt"], st.startedAt),
		})
	}
	st.count(entityReplies, len(replies))
	return replies
}

// messageID derives a stable ID so upsert re-runs update instead of
// duplicating. Exports without an _id fall back to the message's own fields;
// a creation time the export lacks is left out, never taken from the run clock.
func messageID(doc map[string]any, msg domain.Message) string {
	for _, field := range []string{"_id", "id"} {
		if v, ok := legacy.String(doc[field]); ok && strings.TrimSpace(v) != "" {
			return util.StableID("message", strings.TrimSpace(v))
		}
	}
	created := ""
	if t, ok := legacy.Time(doc["createdAt"]); ok {
		created = t.UTC().Format(time.RFC3339Nano)
	}
	return util.StableID("message", msg.SenderID, created, msg.Subject, msg.Content)
}

func messageRead(doc map[string]any) bool {
	if v, ok := doc["readAt"]; ok && v != nil {
		if s, isStr := v.(string); !isStr || strings.TrimSpace(s) != "" {
			return true
		}
	}
	if legacy.Bool(doc["isRead"]) {
		return true
	}
	status, _ := legacy.String(doc["status"])
	return strings.EqualFold(strings.TrimSpace(status), "read")
}

// materializeUploads restores user uploads from the uploads metadata and the
// uploaded file bodies.
func (a *App) materializeUploads(ctx context.Context, st *runState) error {
	bodies := make(map[string]string)
	var metas []legacy.UploadsMeta
	for _, e := range st.entries {
		switch x := e.(type) {
		case legacy.UploadFile:
			bodies[x.FileName] = x.Text
		case legacy.UploadsMeta:
			metas = append(metas, x)
		}
	}
	if len(metas) == 0 {
		return nil
	}
	seen := make(map[string]bool)
	var uploads []domain.Upload
	for _, meta := range metas {
		for _, item := range meta.Items {
			doc, ok := item.(map[string]any)
			if !ok {
				st.skip(entityUploads, 1)
				continue
			}
			fileName := firstText(doc, "fileName")
			uploaderID, ok := st.identity.resolve(refFrom(doc, "uploadedById", "uploadedBy"))
			if !ok {
				st.skip(entityUploads, 1)
				st.warn("upload dropped, uploader not found", "file", fileName)
				continue
			}
			up := domain.Upload{
				UploaderID:       uploaderID,
				BookName:         firstText(doc, "bookName"),
				OriginalFileName: firstText(doc, "originalFileName", "fileName"),
				Status:           domain.ParseUploadStatus(firstText(doc, "status")),
				ReviewedBy:       st.identity.resolvePtr(refFrom(doc, "reviewedById", "reviewedBy")),
				CreatedAt:        timeOr(doc["uploadedAt"], st.startedAt),
			}
			up.UpdatedAt = timeOr(doc["reviewedAt"], up.CreatedAt)
			if body, ok := bodies[fileName]; ok {
				up.Content = body
			} else if fileName != "" {
				st.logger.Debug("upload body missing", "file", fileName)
			}
			up.ID = uploadID(doc, up, fileName)
			if seen[up.ID] {
				st.skip(entityUploads, 1)
				continue
			}
			seen[up.ID] = true
			uploads = append(uploads, up)
		}
	}
	if err := a.store.SaveUploads(ctx, uploads); err != nil {
		return fmt.Errorf("save uploads: %w", err)
	}
	st.count(entityUploads, len(uploads))
	return nil
}

// firstText returns the first non-empty string among fields.
// uploadID keys an upload by its stored file name, or by the metadata the
// export carries when there is none. The run clock never enters the ID.
func uploadID(doc map[string]any, up domain.Upload, fileName string) string {
	if fileName != "" {
		return util.StableID("upload", fileName)
	}
	uploaded := ""
	if t, ok := legacy.Time(doc["uploadedAt"]); ok {
		uploaded = t.UTC().Format(time.RFC3339Nano)
	}
	return util.StableID("upload", up.UploaderID, up.BookName, up.OriginalFileName, uploaded)
}

func firstText(doc map[string]any, fields ...string) string {
	for _, f := range fields {
		if v, ok := legacy.String(doc[f]); ok && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func timeOr(v any, fallback time.Time) time.Time {
	if t, ok := legacy.Time(v); ok {
		return t.UTC()
	}
	return fallback
}
