package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"otzaria/pkg/domain"
)

const migrateLockID int64 = 51734022

// pageBatchSize bounds one INSERT statement; a book's pages are written in
// batches of this size.
const pageBatchSize = 200

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stderr, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &BookModel{}, &PageModel{}, &MessageModel{}, &UploadModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'page_models'
					AND constraint_name = 'page_models_book_id_fkey'
				) THEN
					ALTER TABLE page_models
					ADD CONSTRAINT page_models_book_id_fkey
					FOREIGN KEY (book_id) REFERENCES book_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'page_models'
					AND constraint_name = 'page_models_claimed_by_fkey'
				) THEN
					ALTER TABLE page_models
					ADD CONSTRAINT page_models_claimed_by_fkey
					FOREIGN KEY (claimed_by) REFERENCES user_models(id) ON DELETE SET NULL;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'message_models'
					AND constraint_name = 'message_models_sender_id_fkey'
				) THEN
					ALTER TABLE message_models
					ADD CONSTRAINT message_models_sender_id_fkey
					FOREIGN KEY (sender_id) REFERENCES user_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure foreign keys: %w", err)
		}
		if err := tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_user_models_email_lower ON user_models (LOWER(email))`).Error; err != nil {
			return fmt.Errorf("ensure email index: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateUser inserts a new user.
func (s *GormStore) CreateUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	return s.db.WithContext(ctx).Create(&model).Error
}

// UpdateUserStanding refreshes role and points of an existing user.
func (s *GormStore) UpdateUserStanding(ctx context.Context, id string, role domain.UserRole, points int) error {
	return s.db.WithContext(ctx).Model(&UserModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"role":       string(role),
			"points":     points,
			"updated_at": time.Now().UTC(),
		}).Error
}

// UpsertUserByEmail creates the user or overwrites name, hash, role and
// points of the user already registered under the email.
func (s *GormStore) UpsertUserByEmail(ctx context.Context, u domain.User) (bool, error) {
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing UserModel
		err := whereEmail(tx, u.Email).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			created = true
			model := userToModel(u)
			return tx.Create(&model).Error
		}
		if err != nil {
			return err
		}
		return tx.Model(&existing).Updates(map[string]any{
			"name":          u.Name,
			"password_hash": u.PasswordHash,
			"role":          string(u.Role),
			"points":        u.Points,
			"updated_at":    u.UpdatedAt,
		}).Error
	})
	return created, err
}

// GetUserByEmail looks up a user by email, ignoring case.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	var model UserModel
	if err := whereEmail(s.db.WithContext(ctx), email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

func whereEmail(db *gorm.DB, email string) *gorm.DB {
	return db.Where("LOWER(email) = ?", EmailKey(email))
}

// UserCount returns number of users.
func (s *GormStore) UserCount(ctx context.Context) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&UserModel{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// SaveBook stores or updates a book.
func (s *GormStore) SaveBook(ctx context.Context, b domain.Book) error {
	model := bookToModel(b)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "slug", "total_pages", "completed_pages", "category", "folder_path", "updated_at"}),
	}).Create(&model).Error
}

// GetBookByName finds a book by its unique name.
func (s *GormStore) GetBookByName(ctx context.Context, name string) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// HasBookSlug checks if a slug is taken.
func (s *GormStore) HasBookSlug(ctx context.Context, slug string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&BookModel{}).Where("slug = ?", slug).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// SetBookCounters updates the derived page counters of a book.
func (s *GormStore) SetBookCounters(ctx context.Context, id string, counts PageCounts) error {
	return s.db.WithContext(ctx).Model(&BookModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"total_pages":     counts.Total,
			"completed_pages": counts.Completed,
			"updated_at":      time.Now().UTC(),
		}).Error
}

// ListBooks returns all books ordered by name.
func (s *GormStore) ListBooks(ctx context.Context) ([]domain.Book, error) {
	var models []BookModel
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, nil
}

// SavePages upserts the pages of one book on (book_id, page_number). Rows that
// already exist keep their ID.
func (s *GormStore) SavePages(ctx context.Context, bookID string, pages []domain.Page) error {
	if len(pages) == 0 {
		return nil
	}
	models := make([]PageModel, 0, len(pages))
	for _, p := range pages {
		model := pageToModel(p)
		model.BookID = bookID
		models = append(models, model)
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "book_id"}, {Name: "page_number"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"content", "is_two_columns", "right_column", "left_column",
			"right_column_name", "left_column_name", "status", "claimed_by",
			"claimed_at", "completed_at", "image_path", "updated_at",
		}),
	}).CreateInBatches(&models, pageBatchSize).Error
}

// CountPages returns total and completed page counts for a book.
func (s *GormStore) CountPages(ctx context.Context, bookID string) (PageCounts, error) {
	var row struct {
		Total     int64
		Completed int64
	}
	err := s.db.WithContext(ctx).Model(&PageModel{}).
		Select("COUNT(*) AS total, COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS completed", string(domain.PageCompleted)).
		Where("book_id = ?", bookID).
		Scan(&row).Error
	if err != nil {
		return PageCounts{}, err
	}
	return PageCounts{Total: int(row.Total), Completed: int(row.Completed)}, nil
}

// SaveMessages upserts messages by ID.
func (s *GormStore) SaveMessages(ctx context.Context, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	models := make([]MessageModel, 0, len(msgs))
	for _, m := range msgs {
		model, err := messageToModel(m)
		if err != nil {
			return err
		}
		models = append(models, model)
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"sender_id", "recipient_id", "subject", "content", "is_read", "replies", "updated_at"}),
	}).CreateInBatches(&models, pageBatchSize).Error
}

// SaveUploads upserts uploads by ID.
func (s *GormStore) SaveUploads(ctx context.Context, uploads []domain.Upload) error {
	if len(uploads) == 0 {
		return nil
	}
	models := make([]UploadModel, 0, len(uploads))
	for _, u := range uploads {
		models = append(models, uploadToModel(u))
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"uploader_id", "book_name", "original_file_name", "content", "status", "reviewed_by", "updated_at"}),
	}).CreateInBatches(&models, pageBatchSize).Error
}

// TopClaimants groups claimed pages by user, largest first.
func (s *GormStore) TopClaimants(ctx context.Context, limit int) ([]ClaimantCount, error) {
	if limit <= 0 {
		return []ClaimantCount{}, nil
	}
	var rows []struct {
		UserID string
		Name   string
		Count  int64
	}
	err := s.db.WithContext(ctx).Model(&PageModel{}).
		Select("page_models.claimed_by AS user_id, user_models.name AS name, COUNT(*) AS count").
		Joins("JOIN user_models ON user_models.id = page_models.claimed_by").
		Where("page_models.claimed_by IS NOT NULL").
		Group("page_models.claimed_by, user_models.name").
		Order("count DESC").
		Order("user_models.name ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	res := make([]ClaimantCount, 0, len(rows))
	for _, r := range rows {
		res = append(res, ClaimantCount{UserID: r.UserID, Name: r.Name, Count: int(r.Count)})
	}
	return res, nil
}

// ClaimedPageCount returns how many pages reference a claimant.
func (s *GormStore) ClaimedPageCount(ctx context.Context) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&PageModel{}).Where("claimed_by IS NOT NULL").Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

// ClearAll deletes every restored entity in dependency order.
func (s *GormStore) ClearAll(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&UploadModel{}, &MessageModel{}, &PageModel{}, &BookModel{}, &UserModel{}} {
			if err := tx.Where("1 = 1").Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Name:         u.Name,
		Email:        EmailKey(u.Email),
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		Points:       u.Points,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Name:         m.Name,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Role:         domain.ParseUserRole(m.Role),
		Points:       m.Points,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func bookToModel(b domain.Book) BookModel {
	return BookModel{
		ID:             b.ID,
		Name:           b.Name,
		Slug:           b.Slug,
		TotalPages:     b.TotalPages,
		CompletedPages: b.CompletedPages,
		Category:       b.Category,
		FolderPath:     b.FolderPath,
		CreatedAt:      b.CreatedAt,
		UpdatedAt:      b.UpdatedAt,
	}
}

func bookFromModel(m BookModel) domain.Book {
	return domain.Book{
		ID:             m.ID,
		Name:           m.Name,
		Slug:           m.Slug,
		TotalPages:     m.TotalPages,
		CompletedPages: m.CompletedPages,
		Category:       m.Category,
		FolderPath:     m.FolderPath,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func pageToModel(p domain.Page) PageModel {
	return PageModel{
		ID:              p.ID,
		BookID:          p.BookID,
		PageNumber:      p.PageNumber,
		Content:         p.Content,
		IsTwoColumns:    p.IsTwoColumns,
		RightColumn:     p.RightColumn,
		LeftColumn:      p.LeftColumn,
		RightColumnName: p.RightColumnName,
		LeftColumnName:  p.LeftColumnName,
		Status:          string(p.Status),
		ClaimedBy:       p.ClaimedBy,
		ClaimedAt:       p.ClaimedAt,
		CompletedAt:     p.CompletedAt,
		ImagePath:       p.ImagePath,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

func messageToModel(msg domain.Message) (MessageModel, error) {
	replies := make([]replyRecord, 0, len(msg.Replies))
	for _, r := range msg.Replies {
		replies = append(replies, replyRecord{SenderID: r.SenderID, Content: r.Content, CreatedAt: r.CreatedAt})
	}
	raw, err := json.Marshal(replies)
	if err != nil {
		return MessageModel{}, fmt.Errorf("encode replies of message %s: %w", msg.ID, err)
	}
	return MessageModel{
		ID:          msg.ID,
		SenderID:    msg.SenderID,
		RecipientID: msg.RecipientID,
		Subject:     msg.Subject,
		Content:     msg.Content,
		IsRead:      msg.IsRead,
		Replies:     raw,
		CreatedAt:   msg.CreatedAt,
		UpdatedAt:   msg.UpdatedAt,
	}, nil
}

func uploadToModel(u domain.Upload) UploadModel {
	return UploadModel{
		ID:               u.ID,
		UploaderID:       u.UploaderID,
		BookName:         u.BookName,
		OriginalFileName: u.OriginalFileName,
		Content:          u.Content,
		Status:           string(u.Status),
		ReviewedBy:       u.ReviewedBy,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}
}
