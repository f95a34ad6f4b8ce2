package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quietlibrary/tracker/pkg/library"
)

const (
	pgUniqueViolationCode = "23505"
	errorOperationStore   = "store"
	errorSubjectBook      = "book"
	errorSubjectUser      = "user"
	errorSubjectBorrow    = "borrow"
	errorSubjectSale      = "sale"
	errorSubjectTx        = "transaction"
	errorCodeBegin        = "begin"
	errorCodeCommit       = "commit"
	errorCodeCreate       = "create"
	errorCodeDelete       = "delete"
	errorCodeDuplicate    = "duplicate"
	errorCodeGet          = "get"
	errorCodeInvalid      = "invalid"
	errorCodeList         = "list"
	errorCodeLookup       = "lookup"
	errorCodeMigrate      = "migrate"
	errorCodeStock        = "stock"
	errorCodeTransition   = "transition"
	errorCodeUpdate       = "update"

	sqlSelectBook = `
		select id, title, author, description, category, photo, release_date, price_cents, stock
		from books where id = $1
	`

	sqlListBooks = `
		select id, title, author, description, category, photo, release_date, price_cents, stock
		from books order by id
	`

	sqlInsertBook = `
		insert into books(title, author, description, category, photo, release_date, price_cents, stock, created_at)
		values($1, $2, $3, $4, $5, $6, $7, $8, now())
		returning id
	`

	sqlDecrementStock = `
		update books set stock = stock - 1 where id = $1 and stock > 0
	`

	sqlIncrementStock = `
		update books set stock = stock + 1 where id = $1
	`

	sqlSelectUser = `
		select id, username, password_hash, role from users where id = $1
	`

	sqlSelectUserByUsername = `
		select id, username, password_hash, role from users where username = $1
	`

	sqlInsertUser = `
		insert into users(username, password_hash, role, created_at)
		values($1, $2, $3, now())
		returning id
	`

	sqlUpdateUser = `
		update users set username = $2, password_hash = $3, role = $4 where id = $1
	`

	sqlDeleteUser = `
		delete from users where id = $1
	`

	sqlListUsers = `
		select id, username, password_hash, role from users order by id
	`

	sqlInsertBorrow = `
		insert into borrows(user_id, book_id, borrow_date, return_date, status, borrow_price_cents, instructions, created_at, updated_at)
		values($1, $2, $3, $4, $5, $6, nullif($7,''), now(), now())
		returning id
	`

	sqlSelectBorrow = `
		select id, user_id, book_id, borrow_date, return_date, status, borrow_price_cents, coalesce(instructions,'')
		from borrows where id = $1
	`

	sqlCountPendingBorrow = `
		select count(*) from borrows where user_id = $1 and book_id = $2 and status = $3
	`

	sqlTransitionBorrow = `
		update borrows set
			status = $3,
			return_date = coalesce($4, return_date),
			instructions = coalesce(nullif($5,''), instructions),
			updated_at = now()
		where id = $1 and status = $2
	`

	sqlDeleteBorrow = `
		delete from borrows where id = $1
	`

	sqlListBorrowsByUser = `
		select id, user_id, book_id, borrow_date, return_date, status, borrow_price_cents, coalesce(instructions,'')
		from borrows where user_id = $1 order by id
	`

	sqlListBorrows = `
		select id, user_id, book_id, borrow_date, return_date, status, borrow_price_cents, coalesce(instructions,'')
		from borrows order by id
	`

	sqlInsertSale = `
		insert into sales(user_id, book_id, phone_number, amount_cents, status, created_at, updated_at)
		values($1, $2, $3, $4, $5, $6, now())
		returning id
	`

	sqlSelectSale = `
		select id, user_id, book_id, phone_number, amount_cents, status, coalesce(provider_payload::text,''), created_at
		from sales where id = $1
	`

	sqlUpdateSaleStatus = `
		update sales set
			status = $2,
			provider_payload = coalesce(nullif($3,'')::jsonb, provider_payload),
			updated_at = now()
		where id = $1
	`

	sqlListSales = `
		select id, user_id, book_id, phone_number, amount_cents, status, coalesce(provider_payload::text,''), created_at
		from sales order by id
	`

	sqlSalesByMonth = `
		select to_char(created_at, 'YYYY-MM') as month, coalesce(sum(amount_cents),0)
		from sales group by month order by month
	`
)

var schemaStatements = []string{
	`create table if not exists users (
		id bigserial primary key,
		username varchar(150) not null unique,
		password_hash varchar(150) not null,
		role varchar(50) not null default 'user',
		created_at timestamptz not null default now()
	)`,
	`create table if not exists books (
		id bigserial primary key,
		title varchar(150) not null,
		author varchar(100) not null,
		description text,
		category varchar(100),
		photo varchar(200),
		release_date date not null,
		price_cents bigint not null,
		stock integer not null default 0 check (stock >= 0),
		created_at timestamptz not null default now()
	)`,
	`create table if not exists borrows (
		id bigserial primary key,
		user_id bigint not null references users(id),
		book_id bigint not null references books(id),
		borrow_date date not null,
		return_date timestamptz,
		status varchar(50) not null default 'pending',
		borrow_price_cents bigint not null,
		instructions text,
		created_at timestamptz not null default now(),
		updated_at timestamptz not null default now()
	)`,
	`create index if not exists idx_borrows_user_book on borrows (user_id, book_id)`,
	`create table if not exists sales (
		id bigserial primary key,
		user_id bigint not null references users(id),
		book_id bigint not null references books(id),
		phone_number varchar(15) not null,
		amount_cents bigint not null,
		status varchar(50) not null default 'pending',
		provider_payload jsonb,
		created_at timestamptz not null default now(),
		updated_at timestamptz not null default now()
	)`,
}

// querier is the subset of pgx shared by pools and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements library.Store using a pgx connection pool. Outside
// WithTx each statement runs autocommit; inside, the same methods run on
// the open transaction.
type Store struct {
	pool    *pgxpool.Pool
	querier querier
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, querier: pool}
}

// Migrate creates the schema when missing.
func (store *Store) Migrate(ctx context.Context) error {
	for _, statement := range schemaStatements {
		if _, err := store.querier.Exec(ctx, statement); err != nil {
			return wrapStoreError(errorSubjectTx, errorCodeMigrate, err)
		}
	}
	return nil
}

// WithTx executes fn within a transaction. Nested calls reuse the open
// transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore library.Store) error) error {
	if _, alreadyInTx := store.querier.(pgx.Tx); alreadyInTx {
		return fn(ctx, store)
	}
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTx, errorCodeBegin, err)
	}
	transactionStore := &Store{pool: store.pool, querier: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTx, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) GetBook(ctx context.Context, bookID library.BookID) (library.Book, error) {
	row := store.querier.QueryRow(ctx, sqlSelectBook, int64(bookID))
	book, err := scanBook(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return library.Book{}, wrapStoreError(errorSubjectBook, errorCodeGet, library.ErrBookNotFound)
		}
		return library.Book{}, wrapStoreError(errorSubjectBook, errorCodeGet, err)
	}
	return book, nil
}

func (store *Store) ListBooks(ctx context.Context) ([]library.Book, error) {
	rows, err := store.querier.Query(ctx, sqlListBooks)
	if err != nil {
		return nil, wrapStoreError(errorSubjectBook, errorCodeList, err)
	}
	defer rows.Close()
	var books []library.Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectBook, errorCodeInvalid, err)
		}
		books = append(books, book)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectBook, errorCodeList, err)
	}
	return books, nil
}

func (store *Store) CreateBook(ctx context.Context, book library.Book) (library.BookID, error) {
	var bookIDValue int64
	err := store.querier.QueryRow(ctx, sqlInsertBook,
		book.Title,
		book.Author,
		book.Description,
		book.Category,
		book.Photo,
		book.ReleaseDate,
		book.PriceCents.Int64(),
		book.Stock,
	).Scan(&bookIDValue)
	if err != nil {
		return 0, wrapStoreError(errorSubjectBook, errorCodeCreate, err)
	}
	return library.NewBookID(bookIDValue)
}

func (store *Store) DecrementStock(ctx context.Context, bookID library.BookID) error {
	tag, err := store.querier.Exec(ctx, sqlDecrementStock, int64(bookID))
	if err != nil {
		return wrapStoreError(errorSubjectBook, errorCodeStock, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectBook, errorCodeStock, library.ErrBookUnavailable)
	}
	return nil
}

func (store *Store) IncrementStock(ctx context.Context, bookID library.BookID) error {
	tag, err := store.querier.Exec(ctx, sqlIncrementStock, int64(bookID))
	if err != nil {
		return wrapStoreError(errorSubjectBook, errorCodeStock, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectBook, errorCodeStock, library.ErrBookNotFound)
	}
	return nil
}

func (store *Store) GetUser(ctx context.Context, userID library.UserID) (library.User, error) {
	row := store.querier.QueryRow(ctx, sqlSelectUser, int64(userID))
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return library.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, library.ErrUserNotFound)
		}
		return library.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, err)
	}
	return user, nil
}

func (store *Store) GetUserByUsername(ctx context.Context, username string) (library.User, error) {
	row := store.querier.QueryRow(ctx, sqlSelectUserByUsername, username)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return library.User{}, wrapStoreError(errorSubjectUser, errorCodeLookup, library.ErrUserNotFound)
		}
		return library.User{}, wrapStoreError(errorSubjectUser, errorCodeLookup, err)
	}
	return user, nil
}

func (store *Store) CreateUser(ctx context.Context, user library.User) (library.UserID, error) {
	var userIDValue int64
	err := store.querier.QueryRow(ctx, sqlInsertUser,
		user.Username,
		user.PasswordHash,
		user.Role.String(),
	).Scan(&userIDValue)
	if isUniqueViolation(err) {
		return 0, wrapStoreError(errorSubjectUser, errorCodeDuplicate, library.ErrUsernameTaken)
	}
	if err != nil {
		return 0, wrapStoreError(errorSubjectUser, errorCodeCreate, err)
	}
	return library.NewUserID(userIDValue)
}

func (store *Store) UpdateUser(ctx context.Context, user library.User) error {
	tag, err := store.querier.Exec(ctx, sqlUpdateUser,
		int64(user.ID),
		user.Username,
		user.PasswordHash,
		user.Role.String(),
	)
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectUser, errorCodeDuplicate, library.ErrUsernameTaken)
	}
	if err != nil {
		return wrapStoreError(errorSubjectUser, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectUser, errorCodeUpdate, library.ErrUserNotFound)
	}
	return nil
}

func (store *Store) DeleteUser(ctx context.Context, userID library.UserID) error {
	tag, err := store.querier.Exec(ctx, sqlDeleteUser, int64(userID))
	if err != nil {
		return wrapStoreError(errorSubjectUser, errorCodeDelete, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectUser, errorCodeDelete, library.ErrUserNotFound)
	}
	return nil
}

func (store *Store) ListUsers(ctx context.Context) ([]library.User, error) {
	rows, err := store.querier.Query(ctx, sqlListUsers)
	if err != nil {
		return nil, wrapStoreError(errorSubjectUser, errorCodeList, err)
	}
	defer rows.Close()
	var users []library.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectUser, errorCodeInvalid, err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectUser, errorCodeList, err)
	}
	return users, nil
}

func (store *Store) CreateBorrow(ctx context.Context, borrow library.Borrow) (library.BorrowID, error) {
	var borrowIDValue int64
	err := store.querier.QueryRow(ctx, sqlInsertBorrow,
		int64(borrow.UserID),
		int64(borrow.BookID),
		borrow.BorrowDate,
		borrow.ReturnDate,
		borrow.Status.String(),
		borrow.BorrowPriceCents.Int64(),
		borrow.Instructions,
	).Scan(&borrowIDValue)
	if err != nil {
		return 0, wrapStoreError(errorSubjectBorrow, errorCodeCreate, err)
	}
	return library.NewBorrowID(borrowIDValue)
}

func (store *Store) GetBorrow(ctx context.Context, borrowID library.BorrowID) (library.Borrow, error) {
	row := store.querier.QueryRow(ctx, sqlSelectBorrow, int64(borrowID))
	borrow, err := scanBorrow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return library.Borrow{}, wrapStoreError(errorSubjectBorrow, errorCodeGet, library.ErrBorrowNotFound)
		}
		return library.Borrow{}, wrapStoreError(errorSubjectBorrow, errorCodeGet, err)
	}
	return borrow, nil
}

func (store *Store) HasPendingBorrow(ctx context.Context, userID library.UserID, bookID library.BookID) (bool, error) {
	var count int64
	err := store.querier.QueryRow(ctx, sqlCountPendingBorrow, int64(userID), int64(bookID), library.BorrowStatusPending.String()).Scan(&count)
	if err != nil {
		return false, wrapStoreError(errorSubjectBorrow, errorCodeLookup, err)
	}
	return count > 0, nil
}

func (store *Store) TransitionBorrow(ctx context.Context, borrowID library.BorrowID, from, to library.BorrowStatus, changes library.BorrowChanges) error {
	instructions := ""
	if changes.Instructions != nil {
		instructions = *changes.Instructions
	}
	tag, err := store.querier.Exec(ctx, sqlTransitionBorrow,
		int64(borrowID),
		from.String(),
		to.String(),
		changes.ReturnDate,
		instructions,
	)
	if err != nil {
		return wrapStoreError(errorSubjectBorrow, errorCodeTransition, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectBorrow, errorCodeTransition, library.ErrInvalidBorrowState)
	}
	return nil
}

func (store *Store) DeleteBorrow(ctx context.Context, borrowID library.BorrowID) error {
	tag, err := store.querier.Exec(ctx, sqlDeleteBorrow, int64(borrowID))
	if err != nil {
		return wrapStoreError(errorSubjectBorrow, errorCodeDelete, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectBorrow, errorCodeDelete, library.ErrBorrowNotFound)
	}
	return nil
}

func (store *Store) ListBorrowsByUser(ctx context.Context, userID library.UserID) ([]library.Borrow, error) {
	return store.listBorrows(ctx, sqlListBorrowsByUser, int64(userID))
}

func (store *Store) ListBorrows(ctx context.Context) ([]library.Borrow, error) {
	return store.listBorrows(ctx, sqlListBorrows)
}

func (store *Store) listBorrows(ctx context.Context, query string, args ...any) ([]library.Borrow, error) {
	rows, err := store.querier.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapStoreError(errorSubjectBorrow, errorCodeList, err)
	}
	defer rows.Close()
	var borrows []library.Borrow
	for rows.Next() {
		borrow, err := scanBorrow(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectBorrow, errorCodeInvalid, err)
		}
		borrows = append(borrows, borrow)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectBorrow, errorCodeList, err)
	}
	return borrows, nil
}

func (store *Store) CreateSale(ctx context.Context, sale library.Sale) (library.SaleID, error) {
	var saleIDValue int64
	err := store.querier.QueryRow(ctx, sqlInsertSale,
		int64(sale.UserID),
		int64(sale.BookID),
		sale.PhoneNumber.String(),
		sale.AmountCents.Int64(),
		sale.Status.String(),
		sale.CreatedAt,
	).Scan(&saleIDValue)
	if err != nil {
		return 0, wrapStoreError(errorSubjectSale, errorCodeCreate, err)
	}
	return library.NewSaleID(saleIDValue)
}

func (store *Store) GetSale(ctx context.Context, saleID library.SaleID) (library.Sale, error) {
	row := store.querier.QueryRow(ctx, sqlSelectSale, int64(saleID))
	sale, err := scanSale(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return library.Sale{}, wrapStoreError(errorSubjectSale, errorCodeGet, library.ErrSaleNotFound)
		}
		return library.Sale{}, wrapStoreError(errorSubjectSale, errorCodeGet, err)
	}
	return sale, nil
}

func (store *Store) UpdateSaleStatus(ctx context.Context, saleID library.SaleID, status library.SaleStatus, providerPayload string) error {
	tag, err := store.querier.Exec(ctx, sqlUpdateSaleStatus, int64(saleID), status.String(), providerPayload)
	if err != nil {
		return wrapStoreError(errorSubjectSale, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectSale, errorCodeUpdate, library.ErrSaleNotFound)
	}
	return nil
}

func (store *Store) ListSales(ctx context.Context) ([]library.Sale, error) {
	rows, err := store.querier.Query(ctx, sqlListSales)
	if err != nil {
		return nil, wrapStoreError(errorSubjectSale, errorCodeList, err)
	}
	defer rows.Close()
	var sales []library.Sale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectSale, errorCodeInvalid, err)
		}
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectSale, errorCodeList, err)
	}
	return sales, nil
}

func (store *Store) SalesByMonth(ctx context.Context) ([]library.MonthlySales, error) {
	rows, err := store.querier.Query(ctx, sqlSalesByMonth)
	if err != nil {
		return nil, wrapStoreError(errorSubjectSale, errorCodeList, err)
	}
	defer rows.Close()
	var totals []library.MonthlySales
	for rows.Next() {
		var (
			month string
			total int64
		)
		if err := rows.Scan(&month, &total); err != nil {
			return nil, wrapStoreError(errorSubjectSale, errorCodeInvalid, err)
		}
		totals = append(totals, library.MonthlySales{Month: month, TotalCents: library.AmountCents(total)})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectSale, errorCodeList, err)
	}
	return totals, nil
}

func scanBook(row pgx.Row) (library.Book, error) {
	var (
		model       library.Book
		bookIDValue int64
		priceValue  int64
		releaseDate time.Time
	)
	err := row.Scan(
		&bookIDValue,
		&model.Title,
		&model.Author,
		&model.Description,
		&model.Category,
		&model.Photo,
		&releaseDate,
		&priceValue,
		&model.Stock,
	)
	if err != nil {
		return library.Book{}, err
	}
	bookID, err := library.NewBookID(bookIDValue)
	if err != nil {
		return library.Book{}, err
	}
	price, err := library.NewPriceCents(priceValue)
	if err != nil {
		return library.Book{}, err
	}
	model.ID = bookID
	model.ReleaseDate = releaseDate
	model.PriceCents = price
	return model, nil
}

func scanUser(row pgx.Row) (library.User, error) {
	var (
		userIDValue int64
		username    string
		hash        string
		roleValue   string
	)
	if err := row.Scan(&userIDValue, &username, &hash, &roleValue); err != nil {
		return library.User{}, err
	}
	userID, err := library.NewUserID(userIDValue)
	if err != nil {
		return library.User{}, err
	}
	role, err := library.ParseRole(roleValue)
	if err != nil {
		return library.User{}, err
	}
	return library.User{ID: userID, Username: username, PasswordHash: hash, Role: role}, nil
}

func scanBorrow(row pgx.Row) (library.Borrow, error) {
	var (
		borrowIDValue int64
		userIDValue   int64
		bookIDValue   int64
		borrowDate    time.Time
		returnDate    *time.Time
		statusValue   string
		priceValue    int64
		instructions  string
	)
	err := row.Scan(
		&borrowIDValue,
		&userIDValue,
		&bookIDValue,
		&borrowDate,
		&returnDate,
		&statusValue,
		&priceValue,
		&instructions,
	)
	if err != nil {
		return library.Borrow{}, err
	}
	borrowID, err := library.NewBorrowID(borrowIDValue)
	if err != nil {
		return library.Borrow{}, err
	}
	userID, err := library.NewUserID(userIDValue)
	if err != nil {
		return library.Borrow{}, err
	}
	bookID, err := library.NewBookID(bookIDValue)
	if err != nil {
		return library.Borrow{}, err
	}
	status, err := library.ParseBorrowStatus(statusValue)
	if err != nil {
		return library.Borrow{}, err
	}
	return library.Borrow{
		ID:               borrowID,
		UserID:           userID,
		BookID:           bookID,
		BorrowDate:       borrowDate,
		ReturnDate:       returnDate,
		Status:           status,
		BorrowPriceCents: library.AmountCents(priceValue),
		Instructions:     instructions,
	}, nil
}

func scanSale(row pgx.Row) (library.Sale, error) {
	var (
		saleIDValue int64
		userIDValue int64
		bookIDValue int64
		phoneValue  string
		amountValue int64
		statusValue string
		payload     string
		createdAt   time.Time
	)
	err := row.Scan(
		&saleIDValue,
		&userIDValue,
		&bookIDValue,
		&phoneValue,
		&amountValue,
		&statusValue,
		&payload,
		&createdAt,
	)
	if err != nil {
		return library.Sale{}, err
	}
	saleID, err := library.NewSaleID(saleIDValue)
	if err != nil {
		return library.Sale{}, err
	}
	userID, err := library.NewUserID(userIDValue)
	if err != nil {
		return library.Sale{}, err
	}
	bookID, err := library.NewBookID(bookIDValue)
	if err != nil {
		return library.Sale{}, err
	}
	phone, err := library.NewPhoneNumber(phoneValue)
	if err != nil {
		return library.Sale{}, err
	}
	status, err := library.NewSaleStatus(statusValue)
	if err != nil {
		return library.Sale{}, err
	}
	return library.Sale{
		ID:              saleID,
		UserID:          userID,
		BookID:          bookID,
		PhoneNumber:     phone,
		AmountCents:     library.AmountCents(amountValue),
		Status:          status,
		ProviderPayload: payload,
		CreatedAt:       createdAt,
	}, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return library.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	return false
}
