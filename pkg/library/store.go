package library

import (
	"context"
	"time"
)

// BorrowChanges carries the optional field updates applied together with a
// borrow status transition.
type BorrowChanges struct {
	ReturnDate   *time.Time
	Instructions *string
}

// Store is the persistence contract used by Service. Implementations must
// make DecrementStock a single conditional update so stock can never drop
// below zero, and TransitionBorrow a guarded update that fails when the
// record is no longer in the expected state.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	GetBook(ctx context.Context, bookID BookID) (Book, error)
	ListBooks(ctx context.Context) ([]Book, error)
	CreateBook(ctx context.Context, book Book) (BookID, error)
	DecrementStock(ctx context.Context, bookID BookID) error
	IncrementStock(ctx context.Context, bookID BookID) error

	GetUser(ctx context.Context, userID UserID) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
	CreateUser(ctx context.Context, user User) (UserID, error)
	UpdateUser(ctx context.Context, user User) error
	DeleteUser(ctx context.Context, userID UserID) error
	ListUsers(ctx context.Context) ([]User, error)

	CreateBorrow(ctx context.Context, borrow Borrow) (BorrowID, error)
	GetBorrow(ctx context.Context, borrowID BorrowID) (Borrow, error)
	HasPendingBorrow(ctx context.Context, userID UserID, bookID BookID) (bool, error)
	TransitionBorrow(ctx context.Context, borrowID BorrowID, from, to BorrowStatus, changes BorrowChanges) error
	DeleteBorrow(ctx context.Context, borrowID BorrowID) error
	ListBorrowsByUser(ctx context.Context, userID UserID) ([]Borrow, error)
	ListBorrows(ctx context.Context) ([]Borrow, error)

	CreateSale(ctx context.Context, sale Sale) (SaleID, error)
	GetSale(ctx context.Context, saleID SaleID) (Sale, error)
	UpdateSaleStatus(ctx context.Context, saleID SaleID, status SaleStatus, providerPayload string) error
	ListSales(ctx context.Context) ([]Sale, error)
	SalesByMonth(ctx context.Context) ([]MonthlySales, error)
}
