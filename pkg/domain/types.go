package domain

import "time"

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

// ParseUserRole maps a legacy role string onto a known role. Unknown roles are users.
func ParseUserRole(raw string) UserRole {
	if UserRole(raw) == RoleAdmin {
		return RoleAdmin
	}
	return RoleUser
}

type PageStatus string

const (
	PageAvailable  PageStatus = "available"
	PageInProgress PageStatus = "in-progress"
	PageCompleted  PageStatus = "completed"
)

// ParsePageStatus reports whether raw is one of the known page statuses.
func ParsePageStatus(raw string) (PageStatus, bool) {
	switch PageStatus(raw) {
	case PageAvailable, PageInProgress, PageCompleted:
		return PageStatus(raw), true
	}
	return PageAvailable, false
}

type UploadStatus string

const (
	UploadPending  UploadStatus = "pending"
	UploadApproved UploadStatus = "approved"
	UploadRejected UploadStatus = "rejected"
)

// ParseUploadStatus maps a legacy upload status, defaulting to pending.
func ParseUploadStatus(raw string) UploadStatus {
	switch UploadStatus(raw) {
	case UploadApproved, UploadRejected:
		return UploadStatus(raw)
	}
	return UploadPending
}

const (
	DefaultCategory        = "כללי"
	DefaultSubject         = "ללא נושא"
	DefaultRightColumnName = "חלק 1"
	DefaultLeftColumnName  = "חלק 2"
)

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	Points       int       `json:"points"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type Book struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Slug           string    `json:"slug"`
	TotalPages     int       `json:"totalPages"`
	CompletedPages int       `json:"completedPages"`
	Category       string    `json:"category"`
	FolderPath     string    `json:"folderPath"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type Page struct {
	ID              string     `json:"id"`
	BookID          string     `json:"bookId"`
	PageNumber      int        `json:"pageNumber"`
	Content         string     `json:"content"`
	IsTwoColumns    bool       `json:"isTwoColumns"`
	RightColumn     string     `json:"rightColumn"`
	LeftColumn      string     `json:"leftColumn"`
	RightColumnName string     `json:"rightColumnName"`
	LeftColumnName  string     `json:"leftColumnName"`
	Status          PageStatus `json:"status"`
	ClaimedBy       *string    `json:"claimedBy"`
	ClaimedAt       *time.Time `json:"claimedAt"`
	CompletedAt     *time.Time `json:"completedAt"`
	ImagePath       string     `json:"imagePath"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

type Reply struct {
	SenderID  string    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type Message struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"sender"`
	RecipientID *string   `json:"recipient"`
	Subject     string    `json:"subject"`
	Content     string    `json:"content"`
	IsRead      bool      `json:"isRead"`
	Replies     []Reply   `json:"replies"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Upload struct {
	ID               string       `json:"id"`
	UploaderID       string       `json:"uploader"`
	BookName         string       `json:"bookName"`
	OriginalFileName string       `json:"originalFileName"`
	Content          string       `json:"content"`
	Status           UploadStatus `json:"status"`
	ReviewedBy       *string      `json:"reviewedBy"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}
