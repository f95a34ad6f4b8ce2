package library

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"
)

// stubStore is an in-memory Store used by the service tests. Guarded
// updates behave like the SQL implementations: conditional decrement and
// status-checked transitions.
type stubStore struct {
	mutex        sync.Mutex
	books        map[BookID]Book
	users        map[UserID]User
	borrows      map[BorrowID]Borrow
	sales        map[SaleID]Sale
	nextBookID   int64
	nextUserID   int64
	nextBorrowID int64
	nextSaleID   int64
}

func newStubStore() *stubStore {
	return &stubStore{
		books:   make(map[BookID]Book),
		users:   make(map[UserID]User),
		borrows: make(map[BorrowID]Borrow),
		sales:   make(map[SaleID]Sale),
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) GetBook(_ context.Context, bookID BookID) (Book, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	book, found := store.books[bookID]
	if !found {
		return Book{}, ErrBookNotFound
	}
	return book, nil
}

func (store *stubStore) ListBooks(context.Context) ([]Book, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	books := make([]Book, 0, len(store.books))
	for _, book := range store.books {
		books = append(books, book)
	}
	sort.Slice(books, func(left, right int) bool { return books[left].ID < books[right].ID })
	return books, nil
}

func (store *stubStore) CreateBook(_ context.Context, book Book) (BookID, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.nextBookID++
	book.ID = BookID(store.nextBookID)
	store.books[book.ID] = book
	return book.ID, nil
}

func (store *stubStore) DecrementStock(_ context.Context, bookID BookID) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	book, found := store.books[bookID]
	if !found || book.Stock <= 0 {
		return ErrBookUnavailable
	}
	book.Stock--
	store.books[bookID] = book
	return nil
}

func (store *stubStore) IncrementStock(_ context.Context, bookID BookID) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	book, found := store.books[bookID]
	if !found {
		return ErrBookNotFound
	}
	book.Stock++
	store.books[bookID] = book
	return nil
}

func (store *stubStore) GetUser(_ context.Context, userID UserID) (User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	user, found := store.users[userID]
	if !found {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (store *stubStore) GetUserByUsername(_ context.Context, username string) (User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	for _, user := range store.users {
		if user.Username == username {
			return user, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (store *stubStore) CreateUser(_ context.Context, user User) (UserID, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	for _, existing := range store.users {
		if existing.Username == user.Username {
			return 0, ErrUsernameTaken
		}
	}
	store.nextUserID++
	user.ID = UserID(store.nextUserID)
	store.users[user.ID] = user
	return user.ID, nil
}

func (store *stubStore) UpdateUser(_ context.Context, user User) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if _, found := store.users[user.ID]; !found {
		return ErrUserNotFound
	}
	store.users[user.ID] = user
	return nil
}

func (store *stubStore) DeleteUser(_ context.Context, userID UserID) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if _, found := store.users[userID]; !found {
		return ErrUserNotFound
	}
	delete(store.users, userID)
	return nil
}

func (store *stubStore) ListUsers(context.Context) ([]User, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	users := make([]User, 0, len(store.users))
	for _, user := range store.users {
		users = append(users, user)
	}
	sort.Slice(users, func(left, right int) bool { return users[left].ID < users[right].ID })
	return users, nil
}

func (store *stubStore) CreateBorrow(_ context.Context, borrow Borrow) (BorrowID, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.nextBorrowID++
	borrow.ID = BorrowID(store.nextBorrowID)
	store.borrows[borrow.ID] = borrow
	return borrow.ID, nil
}

func (store *stubStore) GetBorrow(_ context.Context, borrowID BorrowID) (Borrow, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	borrow, found := store.borrows[borrowID]
	if !found {
		return Borrow{}, ErrBorrowNotFound
	}
	return borrow, nil
}

func (store *stubStore) HasPendingBorrow(_ context.Context, userID UserID, bookID BookID) (bool, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	for _, borrow := range store.borrows {
		if borrow.UserID == userID && borrow.BookID == bookID && borrow.Status == BorrowStatusPending {
			return true, nil
		}
	}
	return false, nil
}

func (store *stubStore) TransitionBorrow(_ context.Context, borrowID BorrowID, from, to BorrowStatus, changes BorrowChanges) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	borrow, found := store.borrows[borrowID]
	if !found || borrow.Status != from {
		return ErrInvalidBorrowState
	}
	borrow.Status = to
	if changes.ReturnDate != nil {
		returnDate := *changes.ReturnDate
		borrow.ReturnDate = &returnDate
	}
	if changes.Instructions != nil && *changes.Instructions != "" {
		borrow.Instructions = *changes.Instructions
	}
	store.borrows[borrowID] = borrow
	return nil
}

func (store *stubStore) DeleteBorrow(_ context.Context, borrowID BorrowID) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if _, found := store.borrows[borrowID]; !found {
		return ErrBorrowNotFound
	}
	delete(store.borrows, borrowID)
	return nil
}

func (store *stubStore) ListBorrowsByUser(_ context.Context, userID UserID) ([]Borrow, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	borrows := make([]Borrow, 0)
	for _, borrow := range store.borrows {
		if borrow.UserID == userID {
			borrows = append(borrows, borrow)
		}
	}
	sort.Slice(borrows, func(left, right int) bool { return borrows[left].ID < borrows[right].ID })
	return borrows, nil
}

func (store *stubStore) ListBorrows(context.Context) ([]Borrow, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	borrows := make([]Borrow, 0, len(store.borrows))
	for _, borrow := range store.borrows {
		borrows = append(borrows, borrow)
	}
	sort.Slice(borrows, func(left, right int) bool { return borrows[left].ID < borrows[right].ID })
	return borrows, nil
}

func (store *stubStore) CreateSale(_ context.Context, sale Sale) (SaleID, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	store.nextSaleID++
	sale.ID = SaleID(store.nextSaleID)
	store.sales[sale.ID] = sale
	return sale.ID, nil
}

func (store *stubStore) GetSale(_ context.Context, saleID SaleID) (Sale, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	sale, found := store.sales[saleID]
	if !found {
		return Sale{}, ErrSaleNotFound
	}
	return sale, nil
}

func (store *stubStore) UpdateSaleStatus(_ context.Context, saleID SaleID, status SaleStatus, providerPayload string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	sale, found := store.sales[saleID]
	if !found {
		return ErrSaleNotFound
	}
	sale.Status = status
	if providerPayload != "" {
		sale.ProviderPayload = providerPayload
	}
	store.sales[saleID] = sale
	return nil
}

func (store *stubStore) ListSales(context.Context) ([]Sale, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	sales := make([]Sale, 0, len(store.sales))
	for _, sale := range store.sales {
		sales = append(sales, sale)
	}
	sort.Slice(sales, func(left, right int) bool { return sales[left].ID < sales[right].ID })
	return sales, nil
}

func (store *stubStore) SalesByMonth(context.Context) ([]MonthlySales, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	totals := make(map[string]int64)
	for _, sale := range store.sales {
		totals[sale.CreatedAt.Format("2006-01")] += sale.AmountCents.Int64()
	}
	months := make([]MonthlySales, 0, len(totals))
	for month, total := range totals {
		months = append(months, MonthlySales{Month: month, TotalCents: AmountCents(total)})
	}
	sort.Slice(months, func(left, right int) bool { return months[left].Month < months[right].Month })
	return months, nil
}

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() time.Time {
		return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	}, options...)
	if err != nil {
		test.Fatalf("NewService: %v", err)
	}
	return service
}

func (store *stubStore) mustAddUser(test *testing.T, username string, role Role) User {
	test.Helper()
	userID, err := store.CreateUser(context.Background(), User{Username: username, PasswordHash: "hash", Role: role})
	if err != nil {
		test.Fatalf("CreateUser(%q): %v", username, err)
	}
	user, err := store.GetUser(context.Background(), userID)
	if err != nil {
		test.Fatalf("GetUser(%d): %v", userID, err)
	}
	return user
}

func (store *stubStore) mustAddBook(test *testing.T, title string, priceCents int64, stock int) Book {
	test.Helper()
	price, err := NewPriceCents(priceCents)
	if err != nil {
		test.Fatalf("NewPriceCents(%d): %v", priceCents, err)
	}
	bookID, err := store.CreateBook(context.Background(), Book{
		Title:       title,
		Author:      "Author",
		ReleaseDate: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		PriceCents:  price,
		Stock:       stock,
	})
	if err != nil {
		test.Fatalf("CreateBook(%q): %v", title, err)
	}
	book, err := store.GetBook(context.Background(), bookID)
	if err != nil {
		test.Fatalf("GetBook(%d): %v", bookID, err)
	}
	return book
}

func (store *stubStore) mustBorrow(test *testing.T, borrowID BorrowID) Borrow {
	test.Helper()
	borrow, err := store.GetBorrow(context.Background(), borrowID)
	if err != nil {
		test.Fatalf("GetBorrow(%d): %v", borrowID, err)
	}
	return borrow
}

func adminPrincipal(user User) Principal {
	return Principal{UserID: user.ID, Role: user.Role}
}
