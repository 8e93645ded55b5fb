package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string    `gorm:"primaryKey"`
	Name         string    `gorm:"not null;index"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	Role         string    `gorm:"not null"`
	Points       int       `gorm:"not null;default:0"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type BookModel struct {
	ID             string `gorm:"primaryKey"`
	Name           string `gorm:"uniqueIndex;not null"`
	Slug           string `gorm:"uniqueIndex;not null"`
	TotalPages     int    `gorm:"not null;default:0"`
	CompletedPages int    `gorm:"not null;default:0"`
	Category       string `gorm:"not null"`
	FolderPath     string
	CreatedAt      time.Time `gorm:"not null"`
	UpdatedAt      time.Time `gorm:"not null"`
}

type PageModel struct {
	ID              string `gorm:"primaryKey"`
	BookID          string `gorm:"not null;uniqueIndex:idx_page_book_number,priority:1"`
	PageNumber      int    `gorm:"not null;uniqueIndex:idx_page_book_number,priority:2"`
	Content         string `gorm:"type:text"`
	IsTwoColumns    bool   `gorm:"not null;default:false"`
	RightColumn     string `gorm:"type:text"`
	LeftColumn      string `gorm:"type:text"`
	RightColumnName string
	LeftColumnName  string
	Status          string  `gorm:"not null;index"`
	ClaimedBy       *string `gorm:"index"`
	ClaimedAt       *time.Time
	CompletedAt     *time.Time
	ImagePath       string    `gorm:"not null"`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null"`
}

type MessageModel struct {
	ID          string  `gorm:"primaryKey"`
	SenderID    string  `gorm:"not null;index"`
	RecipientID *string `gorm:"index"`
	Subject     string  `gorm:"not null"`
	Content     string  `gorm:"type:text;not null"`
	IsRead      bool    `gorm:"not null;default:false"`
	// Replies holds []replyRecord; replies are only ever read with their message.
	Replies   datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time      `gorm:"not null;index"`
	UpdatedAt time.Time      `gorm:"not null"`
}

type UploadModel struct {
	ID               string `gorm:"primaryKey"`
	UploaderID       string `gorm:"not null;index"`
	BookName         string `gorm:"not null"`
	OriginalFileName string
	Content          string `gorm:"type:text"`
	Status           string `gorm:"not null"`
	ReviewedBy       *string
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

type replyRecord struct {
	SenderID  string    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
