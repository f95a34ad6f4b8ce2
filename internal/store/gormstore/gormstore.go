package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/quietlibrary/tracker/pkg/library"
)

const (
	pgUniqueViolationCode = "23505"
	sqliteConstraintCode  = 19
	errorOperationStore   = "store"
	errorSubjectBook      = "book"
	errorSubjectUser      = "user"
	errorSubjectBorrow    = "borrow"
	errorSubjectSale      = "sale"
	errorCodeCreate       = "create"
	errorCodeDelete       = "delete"
	errorCodeDuplicate    = "duplicate"
	errorCodeGet          = "get"
	errorCodeInvalid      = "invalid"
	errorCodeList         = "list"
	errorCodeLookup       = "lookup"
	errorCodeStock        = "stock"
	errorCodeTransition   = "transition"
	errorCodeUpdate       = "update"
)

// Store implements library.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the schema.
func (store *Store) Migrate() error {
	return store.db.AutoMigrate(&User{}, &Book{}, &Borrow{}, &Sale{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore library.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) GetBook(ctx context.Context, bookID library.BookID) (library.Book, error) {
	var model Book
	err := store.db.WithContext(ctx).Take(&model, int64(bookID)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return library.Book{}, wrapStoreError(errorSubjectBook, errorCodeGet, library.ErrBookNotFound)
		}
		return library.Book{}, wrapStoreError(errorSubjectBook, errorCodeGet, err)
	}
	return mapBook(model)
}

func (store *Store) ListBooks(ctx context.Context) ([]library.Book, error) {
	var rows []Book
	if err := store.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectBook, errorCodeList, err)
	}
	books := make([]library.Book, 0, len(rows))
	for _, row := range rows {
		book, err := mapBook(row)
		if err != nil {
			return nil, err
		}
		books = append(books, book)
	}
	return books, nil
}

func (store *Store) CreateBook(ctx context.Context, book library.Book) (library.BookID, error) {
	model := Book{
		Title:       book.Title,
		Author:      book.Author,
		Description: book.Description,
		Category:    book.Category,
		Photo:       book.Photo,
		ReleaseDate: book.ReleaseDate,
		PriceCents:  book.PriceCents.Int64(),
		Stock:       book.Stock,
		CreatedAt:   time.Now().UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return 0, wrapStoreError(errorSubjectBook, errorCodeCreate, err)
	}
	return library.NewBookID(model.ID)
}

// DecrementStock performs the conditional decrement guarding the
// non-negative stock invariant: the row is only touched while stock
// remains, so concurrent callers cannot drive it below zero.
func (store *Store) DecrementStock(ctx context.Context, bookID library.BookID) error {
	result := store.db.WithContext(ctx).
		Model(&Book{}).
		Where("id = ? AND stock > 0", int64(bookID)).
		UpdateColumn("stock", gorm.Expr("stock - 1"))
	if result.Error != nil {
		return wrapStoreError(errorSubjectBook, errorCodeStock, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBook, errorCodeStock, library.ErrBookUnavailable)
	}
	return nil
}

func (store *Store) IncrementStock(ctx context.Context, bookID library.BookID) error {
	result := store.db.WithContext(ctx).
		Model(&Book{}).
		Where("id = ?", int64(bookID)).
		UpdateColumn("stock", gorm.Expr("stock + 1"))
	if result.Error != nil {
		return wrapStoreError(errorSubjectBook, errorCodeStock, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBook, errorCodeStock, library.ErrBookNotFound)
	}
	return nil
}

func (store *Store) GetUser(ctx context.Context, userID library.UserID) (library.User, error) {
	var model User
	err := store.db.WithContext(ctx).Take(&model, int64(userID)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return library.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, library.ErrUserNotFound)
		}
		return library.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, err)
	}
	return mapUser(model)
}

func (store *Store) GetUserByUsername(ctx context.Context, username string) (library.User, error) {
	var model User
	err := store.db.WithContext(ctx).Where("username = ?", username).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return library.User{}, wrapStoreError(errorSubjectUser, errorCodeLookup, library.ErrUserNotFound)
		}
		return library.User{}, wrapStoreError(errorSubjectUser, errorCodeLookup, err)
	}
	return mapUser(model)
}

func (store *Store) CreateUser(ctx context.Context, user library.User) (library.UserID, error) {
	model := User{
		Username:     user.Username,
		PasswordHash: user.PasswordHash,
		Role:         user.Role.String(),
		CreatedAt:    time.Now().UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return 0, wrapStoreError(errorSubjectUser, errorCodeDuplicate, library.ErrUsernameTaken)
	}
	if err != nil {
		return 0, wrapStoreError(errorSubjectUser, errorCodeCreate, err)
	}
	return library.NewUserID(model.ID)
}

func (store *Store) UpdateUser(ctx context.Context, user library.User) error {
	result := store.db.WithContext(ctx).
		Model(&User{}).
		Where("id = ?", int64(user.ID)).
		Updates(map[string]interface{}{
			"username":      user.Username,
			"password_hash": user.PasswordHash,
			"role":          user.Role.String(),
		})
	if isUniqueViolation(result.Error) {
		return wrapStoreError(errorSubjectUser, errorCodeDuplicate, library.ErrUsernameTaken)
	}
	if result.Error != nil {
		return wrapStoreError(errorSubjectUser, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectUser, errorCodeUpdate, library.ErrUserNotFound)
	}
	return nil
}

func (store *Store) DeleteUser(ctx context.Context, userID library.UserID) error {
	result := store.db.WithContext(ctx).Delete(&User{}, int64(userID))
	if result.Error != nil {
		return wrapStoreError(errorSubjectUser, errorCodeDelete, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectUser, errorCodeDelete, library.ErrUserNotFound)
	}
	return nil
}

func (store *Store) ListUsers(ctx context.Context) ([]library.User, error) {
	var rows []User
	if err := store.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectUser, errorCodeList, err)
	}
	users := make([]library.User, 0, len(rows))
	for _, row := range rows {
		user, err := mapUser(row)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}

func (store *Store) CreateBorrow(ctx context.Context, borrow library.Borrow) (library.BorrowID, error) {
	model := Borrow{
		UserID:           int64(borrow.UserID),
		BookID:           int64(borrow.BookID),
		BorrowDate:       borrow.BorrowDate,
		ReturnDate:       borrow.ReturnDate,
		Status:           borrow.Status.String(),
		BorrowPriceCents: borrow.BorrowPriceCents.Int64(),
		Instructions:     optionalText(borrow.Instructions),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return 0, wrapStoreError(errorSubjectBorrow, errorCodeCreate, err)
	}
	return library.NewBorrowID(model.ID)
}

func (store *Store) GetBorrow(ctx context.Context, borrowID library.BorrowID) (library.Borrow, error) {
	var model Borrow
	err := store.db.WithContext(ctx).Take(&model, int64(borrowID)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return library.Borrow{}, wrapStoreError(errorSubjectBorrow, errorCodeGet, library.ErrBorrowNotFound)
		}
		return library.Borrow{}, wrapStoreError(errorSubjectBorrow, errorCodeGet, err)
	}
	return mapBorrow(model)
}

func (store *Store) HasPendingBorrow(ctx context.Context, userID library.UserID, bookID library.BookID) (bool, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&Borrow{}).
		Where("user_id = ? AND book_id = ? AND status = ?", int64(userID), int64(bookID), library.BorrowStatusPending.String()).
		Count(&count).Error
	if err != nil {
		return false, wrapStoreError(errorSubjectBorrow, errorCodeLookup, err)
	}
	return count > 0, nil
}

// TransitionBorrow is a guarded update: the row is matched on its current
// status, so a transition lost to a concurrent writer affects zero rows
// and reports ErrInvalidBorrowState instead of double-applying.
func (store *Store) TransitionBorrow(ctx context.Context, borrowID library.BorrowID, from, to library.BorrowStatus, changes library.BorrowChanges) error {
	assignments := map[string]interface{}{
		"status": to.String(),
	}
	if changes.ReturnDate != nil {
		assignments["return_date"] = *changes.ReturnDate
	}
	if changes.Instructions != nil {
		assignments["instructions"] = *changes.Instructions
	}
	result := store.db.WithContext(ctx).
		Model(&Borrow{}).
		Where("id = ? AND status = ?", int64(borrowID), from.String()).
		Updates(assignments)
	if result.Error != nil {
		return wrapStoreError(errorSubjectBorrow, errorCodeTransition, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBorrow, errorCodeTransition, library.ErrInvalidBorrowState)
	}
	return nil
}

func (store *Store) DeleteBorrow(ctx context.Context, borrowID library.BorrowID) error {
	result := store.db.WithContext(ctx).Delete(&Borrow{}, int64(borrowID))
	if result.Error != nil {
		return wrapStoreError(errorSubjectBorrow, errorCodeDelete, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBorrow, errorCodeDelete, library.ErrBorrowNotFound)
	}
	return nil
}

func (store *Store) ListBorrowsByUser(ctx context.Context, userID library.UserID) ([]library.Borrow, error) {
	var rows []Borrow
	err := store.db.WithContext(ctx).
		Where("user_id = ?", int64(userID)).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectBorrow, errorCodeList, err)
	}
	return mapBorrows(rows)
}

func (store *Store) ListBorrows(ctx context.Context) ([]library.Borrow, error) {
	var rows []Borrow
	if err := store.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectBorrow, errorCodeList, err)
	}
	return mapBorrows(rows)
}

func (store *Store) CreateSale(ctx context.Context, sale library.Sale) (library.SaleID, error) {
	model := Sale{
		UserID:      int64(sale.UserID),
		BookID:      int64(sale.BookID),
		PhoneNumber: sale.PhoneNumber.String(),
		AmountCents: sale.AmountCents.Int64(),
		Status:      sale.Status.String(),
		CreatedAt:   sale.CreatedAt,
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return 0, wrapStoreError(errorSubjectSale, errorCodeCreate, err)
	}
	return library.NewSaleID(model.ID)
}

func (store *Store) GetSale(ctx context.Context, saleID library.SaleID) (library.Sale, error) {
	var model Sale
	err := store.db.WithContext(ctx).Take(&model, int64(saleID)).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return library.Sale{}, wrapStoreError(errorSubjectSale, errorCodeGet, library.ErrSaleNotFound)
		}
		return library.Sale{}, wrapStoreError(errorSubjectSale, errorCodeGet, err)
	}
	return mapSale(model)
}

func (store *Store) UpdateSaleStatus(ctx context.Context, saleID library.SaleID, status library.SaleStatus, providerPayload string) error {
	assignments := map[string]interface{}{
		"status": status.String(),
	}
	if providerPayload != "" {
		assignments["provider_payload"] = datatypes.JSON([]byte(providerPayload))
	}
	result := store.db.WithContext(ctx).
		Model(&Sale{}).
		Where("id = ?", int64(saleID)).
		Updates(assignments)
	if result.Error != nil {
		return wrapStoreError(errorSubjectSale, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectSale, errorCodeUpdate, library.ErrSaleNotFound)
	}
	return nil
}

func (store *Store) ListSales(ctx context.Context) ([]library.Sale, error) {
	var rows []Sale
	if err := store.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectSale, errorCodeList, err)
	}
	sales := make([]library.Sale, 0, len(rows))
	for _, row := range rows {
		sale, err := mapSale(row)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	return sales, nil
}

type monthlyRow struct {
	Month string
	Total int64
}

func (store *Store) SalesByMonth(ctx context.Context) ([]library.MonthlySales, error) {
	monthExpression := "strftime('%Y-%m', created_at)"
	if store.db.Dialector.Name() == "postgres" {
		monthExpression = "to_char(created_at, 'YYYY-MM')"
	}
	var rows []monthlyRow
	err := store.db.WithContext(ctx).
		Model(&Sale{}).
		Select(monthExpression + " as month, coalesce(sum(amount_cents),0) as total").
		Group("month").
		Order("month").
		Scan(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectSale, errorCodeList, err)
	}
	totals := make([]library.MonthlySales, 0, len(rows))
	for _, row := range rows {
		totals = append(totals, library.MonthlySales{
			Month:      row.Month,
			TotalCents: library.AmountCents(row.Total),
		})
	}
	return totals, nil
}

func mapBook(model Book) (library.Book, error) {
	bookID, err := library.NewBookID(model.ID)
	if err != nil {
		return library.Book{}, wrapStoreError(errorSubjectBook, errorCodeInvalid, err)
	}
	price, err := library.NewPriceCents(model.PriceCents)
	if err != nil {
		return library.Book{}, wrapStoreError(errorSubjectBook, errorCodeInvalid, err)
	}
	return library.Book{
		ID:          bookID,
		Title:       model.Title,
		Author:      model.Author,
		Description: model.Description,
		Category:    model.Category,
		Photo:       model.Photo,
		ReleaseDate: model.ReleaseDate,
		PriceCents:  price,
		Stock:       model.Stock,
	}, nil
}

func mapUser(model User) (library.User, error) {
	userID, err := library.NewUserID(model.ID)
	if err != nil {
		return library.User{}, wrapStoreError(errorSubjectUser, errorCodeInvalid, err)
	}
	role, err := library.ParseRole(model.Role)
	if err != nil {
		return library.User{}, wrapStoreError(errorSubjectUser, errorCodeInvalid, err)
	}
	return library.User{
		ID:           userID,
		Username:     model.Username,
		PasswordHash: model.PasswordHash,
		Role:         role,
	}, nil
}

func mapBorrow(model Borrow) (library.Borrow, error) {
	borrowID, err := library.NewBorrowID(model.ID)
	if err != nil {
		return library.Borrow{}, wrapStoreError(errorSubjectBorrow, errorCodeInvalid, err)
	}
	status, err := library.ParseBorrowStatus(model.Status)
	if err != nil {
		return library.Borrow{}, wrapStoreError(errorSubjectBorrow, errorCodeInvalid, err)
	}
	userID, err := library.NewUserID(model.UserID)
	if err != nil {
		return library.Borrow{}, wrapStoreError(errorSubjectBorrow, errorCodeInvalid, err)
	}
	bookID, err := library.NewBookID(model.BookID)
	if err != nil {
		return library.Borrow{}, wrapStoreError(errorSubjectBorrow, errorCodeInvalid, err)
	}
	instructions := ""
	if model.Instructions != nil {
		instructions = *model.Instructions
	}
	return library.Borrow{
		ID:               borrowID,
		UserID:           userID,
		BookID:           bookID,
		BorrowDate:       model.BorrowDate,
		ReturnDate:       model.ReturnDate,
		Status:           status,
		BorrowPriceCents: library.AmountCents(model.BorrowPriceCents),
		Instructions:     instructions,
	}, nil
}

func mapBorrows(rows []Borrow) ([]library.Borrow, error) {
	borrows := make([]library.Borrow, 0, len(rows))
	for _, row := range rows {
		borrow, err := mapBorrow(row)
		if err != nil {
			return nil, err
		}
		borrows = append(borrows, borrow)
	}
	return borrows, nil
}

func mapSale(model Sale) (library.Sale, error) {
	saleID, err := library.NewSaleID(model.ID)
	if err != nil {
		return library.Sale{}, wrapStoreError(errorSubjectSale, errorCodeInvalid, err)
	}
	userID, err := library.NewUserID(model.UserID)
	if err != nil {
		return library.Sale{}, wrapStoreError(errorSubjectSale, errorCodeInvalid, err)
	}
	bookID, err := library.NewBookID(model.BookID)
	if err != nil {
		return library.Sale{}, wrapStoreError(errorSubjectSale, errorCodeInvalid, err)
	}
	phone, err := library.NewPhoneNumber(model.PhoneNumber)
	if err != nil {
		return library.Sale{}, wrapStoreError(errorSubjectSale, errorCodeInvalid, err)
	}
	status, err := library.NewSaleStatus(model.Status)
	if err != nil {
		return library.Sale{}, wrapStoreError(errorSubjectSale, errorCodeInvalid, err)
	}
	return library.Sale{
		ID:              saleID,
		UserID:          userID,
		BookID:          bookID,
		PhoneNumber:     phone,
		AmountCents:     library.AmountCents(model.AmountCents),
		Status:          status,
		ProviderPayload: string(model.ProviderPayload),
		CreatedAt:       model.CreatedAt,
	}, nil
}

func optionalText(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func wrapStoreError(subject string, code string, err error) error {
	return library.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
