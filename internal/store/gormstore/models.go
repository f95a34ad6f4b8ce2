package gormstore

import (
	"time"

	"gorm.io/datatypes"
)

// User represents the users table.
type User struct {
	ID           int64     `gorm:"primaryKey;autoIncrement"`
	Username     string    `gorm:"size:150;not null;uniqueIndex:uniq_users_username"`
	PasswordHash string    `gorm:"size:150;not null"`
	Role         string    `gorm:"size:50;not null;default:user"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (User) TableName() string { return "users" }

// Book represents the books table.
type Book struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	Title       string    `gorm:"size:150;not null"`
	Author      string    `gorm:"size:100;not null"`
	Description string    `gorm:"type:text"`
	Category    string    `gorm:"size:100"`
	Photo       string    `gorm:"size:200"`
	ReleaseDate time.Time `gorm:"not null"`
	PriceCents  int64     `gorm:"not null"`
	Stock       int       `gorm:"not null;default:0"`
	CreatedAt   time.Time `gorm:"not null"`
}

func (Book) TableName() string { return "books" }

// Borrow represents the borrows table.
type Borrow struct {
	ID               int64      `gorm:"primaryKey;autoIncrement"`
	UserID           int64      `gorm:"not null;index:idx_borrows_user_book,priority:1"`
	BookID           int64      `gorm:"not null;index:idx_borrows_user_book,priority:2"`
	BorrowDate       time.Time  `gorm:"not null"`
	ReturnDate       *time.Time `gorm:""`
	Status           string     `gorm:"size:50;not null;default:pending;index"`
	BorrowPriceCents int64      `gorm:"not null"`
	Instructions     *string    `gorm:"type:text"`
	CreatedAt        time.Time  `gorm:"not null"`
	UpdatedAt        time.Time  `gorm:"not null"`
}

func (Borrow) TableName() string { return "borrows" }

// Sale represents the sales table.
type Sale struct {
	ID              int64          `gorm:"primaryKey;autoIncrement"`
	UserID          int64          `gorm:"not null;index"`
	BookID          int64          `gorm:"not null"`
	PhoneNumber     string         `gorm:"size:15;not null"`
	AmountCents     int64          `gorm:"not null"`
	Status          string         `gorm:"size:50;not null;default:pending"`
	ProviderPayload datatypes.JSON `gorm:""`
	CreatedAt       time.Time      `gorm:"not null"`
	UpdatedAt       time.Time      `gorm:"not null"`
}

func (Sale) TableName() string { return "sales" }
