package webapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/quietlibrary/tracker/internal/auth"
	"github.com/quietlibrary/tracker/internal/store/gormstore"
	"github.com/quietlibrary/tracker/pkg/library"
)

type testEnv struct {
	server  *httptest.Server
	store   *gormstore.Store
	gateway *recordingGateway
}

type recordingGateway struct {
	failWith error
	requests int
}

func (gateway *recordingGateway) RequestPayment(_ context.Context, _ library.PhoneNumber, _ library.AmountCents, _ string) (json.RawMessage, error) {
	gateway.requests++
	if gateway.failWith != nil {
		return nil, gateway.failWith
	}
	return json.RawMessage(`{"CheckoutRequestID":"ws_CO_1"}`), nil
}

func newTestEnv(test *testing.T) *testEnv {
	test.Helper()
	databasePath := filepath.Join(test.TempDir(), "tracker.db")
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{TranslateError: true})
	if err != nil {
		test.Fatalf("open sqlite: %v", err)
	}
	store := gormstore.New(db)
	if err := store.Migrate(); err != nil {
		test.Fatalf("migrate: %v", err)
	}

	gateway := &recordingGateway{}
	service, err := library.NewService(store, time.Now, library.WithPaymentGateway(gateway))
	if err != nil {
		test.Fatalf("NewService: %v", err)
	}
	tokenManager, err := auth.NewTokenManager("test-signing-key")
	if err != nil {
		test.Fatalf("NewTokenManager: %v", err)
	}

	cfg := Config{
		ListenAddr:      ":0",
		TokenSigningKey: "test-signing-key",
	}
	if err := cfg.Validate(); err != nil {
		test.Fatalf("config: %v", err)
	}

	handler := &httpHandler{
		logger:       zap.NewNop(),
		service:      service,
		tokenManager: tokenManager,
	}
	server := httptest.NewServer(setupRouter(cfg, handler))
	test.Cleanup(server.Close)

	return &testEnv{server: server, store: store, gateway: gateway}
}

// seedUser inserts an account with a bcrypt-hashed password.
func (env *testEnv) seedUser(test *testing.T, username string, password string, role library.Role) library.UserID {
	test.Helper()
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		test.Fatalf("HashPassword: %v", err)
	}
	userID, err := env.store.CreateUser(context.Background(), library.User{
		Username:     username,
		PasswordHash: passwordHash,
		Role:         role,
	})
	if err != nil {
		test.Fatalf("CreateUser(%q): %v", username, err)
	}
	return userID
}

func (env *testEnv) seedBook(test *testing.T, title string, priceCents int64, stock int) library.BookID {
	test.Helper()
	price, err := library.NewPriceCents(priceCents)
	if err != nil {
		test.Fatalf("NewPriceCents: %v", err)
	}
	bookID, err := env.store.CreateBook(context.Background(), library.Book{
		Title:       title,
		Author:      "Author",
		ReleaseDate: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		PriceCents:  price,
		Stock:       stock,
	})
	if err != nil {
		test.Fatalf("CreateBook(%q): %v", title, err)
	}
	return bookID
}

func (env *testEnv) login(test *testing.T, username string, password string) string {
	test.Helper()
	status, body := env.do(test, http.MethodPost, "/login", "", map[string]string{
		"username": username,
		"password": password,
	})
	if status != http.StatusOK {
		test.Fatalf("login %q: status %d: %s", username, status, body)
	}
	var response struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		test.Fatalf("decode login response: %v", err)
	}
	if response.Token == "" {
		test.Fatal("empty token")
	}
	return response.Token
}

func (env *testEnv) do(test *testing.T, method string, path string, token string, payload any) (int, []byte) {
	test.Helper()
	var body *bytes.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			test.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	} else {
		body = bytes.NewReader(nil)
	}
	request, err := http.NewRequest(method, env.server.URL+path, body)
	if err != nil {
		test.Fatalf("new request: %v", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := env.server.Client().Do(request)
	if err != nil {
		test.Fatalf("%s %s: %v", method, path, err)
	}
	defer response.Body.Close()
	buffer := &bytes.Buffer{}
	if _, err := buffer.ReadFrom(response.Body); err != nil {
		test.Fatalf("read response body: %v", err)
	}
	return response.StatusCode, buffer.Bytes()
}

func TestLoginRejectsBadCredentials(test *testing.T) {
	env := newTestEnv(test)
	env.seedUser(test, "reader", "correct", library.RoleUser)

	status, _ := env.do(test, http.MethodPost, "/login", "", map[string]string{
		"username": "reader",
		"password": "wrong",
	})
	if status != http.StatusUnauthorized {
		test.Fatalf("status = %d, want 401", status)
	}
	status, _ = env.do(test, http.MethodPost, "/login", "", map[string]string{
		"username": "ghost",
		"password": "whatever",
	})
	if status != http.StatusUnauthorized {
		test.Fatalf("unknown user status = %d, want 401", status)
	}
}

func TestRoutesRequireAuthentication(test *testing.T) {
	env := newTestEnv(test)

	status, _ := env.do(test, http.MethodGet, "/books", "", nil)
	if status != http.StatusUnauthorized {
		test.Fatalf("unauthenticated /books = %d, want 401", status)
	}
	status, _ = env.do(test, http.MethodGet, "/admin/users", "", nil)
	if status != http.StatusUnauthorized {
		test.Fatalf("unauthenticated /admin/users = %d, want 401", status)
	}
}

func TestAdminRoutesRejectNonAdmins(test *testing.T) {
	env := newTestEnv(test)
	env.seedUser(test, "reader", "password", library.RoleUser)
	token := env.login(test, "reader", "password")

	status, _ := env.do(test, http.MethodGet, "/admin/users", token, nil)
	if status != http.StatusForbidden {
		test.Fatalf("status = %d, want 403", status)
	}
}

func TestBorrowLifecycleOverHTTP(test *testing.T) {
	env := newTestEnv(test)
	env.seedUser(test, "reader", "password", library.RoleUser)
	env.seedUser(test, "admin", "password", library.RoleAdmin)
	bookID := env.seedBook(test, "Dubliners", 45000, 1)

	readerToken := env.login(test, "reader", "password")
	adminToken := env.login(test, "admin", "password")

	status, body := env.do(test, http.MethodPost, fmt.Sprintf("/books/%d/borrow", bookID), readerToken, nil)
	if status != http.StatusCreated {
		test.Fatalf("borrow request status = %d: %s", status, body)
	}
	var borrowResponse struct {
		Borrow struct {
			ID               int64  `json:"id"`
			Status           string `json:"status"`
			BorrowPriceCents int64  `json:"borrow_price_cents"`
		} `json:"borrow"`
	}
	if err := json.Unmarshal(body, &borrowResponse); err != nil {
		test.Fatalf("decode borrow response: %v", err)
	}
	if borrowResponse.Borrow.Status != "pending" || borrowResponse.Borrow.BorrowPriceCents != 9000 {
		test.Fatalf("unexpected borrow: %+v", borrowResponse.Borrow)
	}
	borrowID := borrowResponse.Borrow.ID

	// A second request for the same book conflicts while one is pending.
	status, _ = env.do(test, http.MethodPost, fmt.Sprintf("/books/%d/borrow", bookID), readerToken, nil)
	if status != http.StatusConflict {
		test.Fatalf("duplicate borrow status = %d, want 409", status)
	}

	status, body = env.do(test, http.MethodPost, fmt.Sprintf("/admin/borrows/%d/approve", borrowID), adminToken, map[string]string{
		"return_date":  "2030-07-15",
		"instructions": "front desk",
	})
	if status != http.StatusOK {
		test.Fatalf("approve status = %d: %s", status, body)
	}

	status, body = env.do(test, http.MethodPost, fmt.Sprintf("/admin/borrows/%d/pickup", borrowID), adminToken, nil)
	if status != http.StatusOK {
		test.Fatalf("pickup status = %d: %s", status, body)
	}

	book, err := env.store.GetBook(context.Background(), bookID)
	if err != nil {
		test.Fatalf("GetBook: %v", err)
	}
	if book.Stock != 0 {
		test.Fatalf("stock after pickup = %d, want 0", book.Stock)
	}

	status, body = env.do(test, http.MethodPost, fmt.Sprintf("/admin/borrows/%d/return", borrowID), adminToken, nil)
	if status != http.StatusOK {
		test.Fatalf("return status = %d: %s", status, body)
	}
	book, err = env.store.GetBook(context.Background(), bookID)
	if err != nil {
		test.Fatalf("GetBook: %v", err)
	}
	if book.Stock != 1 {
		test.Fatalf("stock after return = %d, want 1", book.Stock)
	}

	status, body = env.do(test, http.MethodGet, "/borrows", readerToken, nil)
	if status != http.StatusOK {
		test.Fatalf("list borrows status = %d", status)
	}
	var listResponse struct {
		Borrows []struct {
			Status string `json:"status"`
		} `json:"borrows"`
	}
	if err := json.Unmarshal(body, &listResponse); err != nil {
		test.Fatalf("decode borrows: %v", err)
	}
	if len(listResponse.Borrows) != 1 || listResponse.Borrows[0].Status != "returned" {
		test.Fatalf("unexpected borrows: %+v", listResponse.Borrows)
	}
}

func TestCancelBorrowOverHTTP(test *testing.T) {
	env := newTestEnv(test)
	env.seedUser(test, "reader", "password", library.RoleUser)
	env.seedUser(test, "other", "password", library.RoleUser)
	bookID := env.seedBook(test, "Dubliners", 45000, 1)

	readerToken := env.login(test, "reader", "password")
	otherToken := env.login(test, "other", "password")

	status, body := env.do(test, http.MethodPost, fmt.Sprintf("/books/%d/borrow", bookID), readerToken, nil)
	if status != http.StatusCreated {
		test.Fatalf("borrow status = %d: %s", status, body)
	}
	var borrowResponse struct {
		Borrow struct {
			ID int64 `json:"id"`
		} `json:"borrow"`
	}
	if err := json.Unmarshal(body, &borrowResponse); err != nil {
		test.Fatalf("decode borrow: %v", err)
	}

	status, _ = env.do(test, http.MethodDelete, fmt.Sprintf("/borrows/%d", borrowResponse.Borrow.ID), otherToken, nil)
	if status != http.StatusForbidden {
		test.Fatalf("foreign cancel status = %d, want 403", status)
	}
	status, _ = env.do(test, http.MethodDelete, fmt.Sprintf("/borrows/%d", borrowResponse.Borrow.ID), readerToken, nil)
	if status != http.StatusOK {
		test.Fatalf("owner cancel status = %d, want 200", status)
	}
}

func TestCheckoutAndCallbackOverHTTP(test *testing.T) {
	env := newTestEnv(test)
	env.seedUser(test, "buyer", "password", library.RoleUser)
	env.seedUser(test, "admin", "password", library.RoleAdmin)
	bookID := env.seedBook(test, "Dubliners", 45000, 2)

	buyerToken := env.login(test, "buyer", "password")
	adminToken := env.login(test, "admin", "password")

	status, body := env.do(test, http.MethodPost, fmt.Sprintf("/books/%d/checkout", bookID), buyerToken, map[string]string{
		"phone_number": "0712345678",
	})
	if status != http.StatusCreated {
		test.Fatalf("checkout status = %d: %s", status, body)
	}
	var checkout struct {
		SaleID      int64  `json:"sale_id"`
		AmountCents int64  `json:"amount_cents"`
		Status      string `json:"status"`
	}
	if err := json.Unmarshal(body, &checkout); err != nil {
		test.Fatalf("decode checkout: %v", err)
	}
	if checkout.AmountCents != 45000 || checkout.Status != "pending" {
		test.Fatalf("unexpected checkout: %+v", checkout)
	}
	if env.gateway.requests != 1 {
		test.Fatalf("gateway requests = %d, want 1", env.gateway.requests)
	}

	// Provider confirms; the public callback always acknowledges.
	status, _ = env.do(test, http.MethodPost, "/mpesa/callback", "", map[string]any{
		"sale_id": checkout.SaleID,
		"status":  "completed",
	})
	if status != http.StatusOK {
		test.Fatalf("callback status = %d, want 200", status)
	}

	status, body = env.do(test, http.MethodGet, fmt.Sprintf("/payments/%d/status", checkout.SaleID), buyerToken, nil)
	if status != http.StatusOK {
		test.Fatalf("payment status = %d: %s", status, body)
	}
	var paymentStatus struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &paymentStatus); err != nil {
		test.Fatalf("decode payment status: %v", err)
	}
	if paymentStatus.Status != "completed" {
		test.Fatalf("status = %q, want completed", paymentStatus.Status)
	}

	// Unknown sale callbacks are still acknowledged.
	status, _ = env.do(test, http.MethodPost, "/mpesa/callback", "", map[string]any{
		"sale_id": 9999,
		"status":  "completed",
	})
	if status != http.StatusOK {
		test.Fatalf("unknown sale callback status = %d, want 200", status)
	}

	status, body = env.do(test, http.MethodGet, "/admin/sales", adminToken, nil)
	if status != http.StatusOK {
		test.Fatalf("admin sales status = %d", status)
	}
	var salesResponse struct {
		Sales []struct {
			Status string `json:"status"`
		} `json:"sales"`
	}
	if err := json.Unmarshal(body, &salesResponse); err != nil {
		test.Fatalf("decode sales: %v", err)
	}
	if len(salesResponse.Sales) != 1 || salesResponse.Sales[0].Status != "completed" {
		test.Fatalf("unexpected sales: %+v", salesResponse.Sales)
	}

	status, body = env.do(test, http.MethodGet, "/admin/sales/analytics", adminToken, nil)
	if status != http.StatusOK {
		test.Fatalf("analytics status = %d", status)
	}
	var analytics struct {
		MonthlySales []struct {
			Month      string `json:"month"`
			TotalCents int64  `json:"total_cents"`
		} `json:"monthly_sales"`
	}
	if err := json.Unmarshal(body, &analytics); err != nil {
		test.Fatalf("decode analytics: %v", err)
	}
	if len(analytics.MonthlySales) != 1 || analytics.MonthlySales[0].TotalCents != 45000 {
		test.Fatalf("unexpected analytics: %+v", analytics.MonthlySales)
	}
}

func TestCheckoutUpstreamFailureReturnsSaleID(test *testing.T) {
	env := newTestEnv(test)
	env.gateway.failWith = errors.New("connection refused")
	env.seedUser(test, "buyer", "password", library.RoleUser)
	bookID := env.seedBook(test, "Dubliners", 45000, 2)
	buyerToken := env.login(test, "buyer", "password")

	status, body := env.do(test, http.MethodPost, fmt.Sprintf("/books/%d/checkout", bookID), buyerToken, map[string]string{
		"phone_number": "0712345678",
	})
	if status != http.StatusBadGateway {
		test.Fatalf("status = %d, want 502: %s", status, body)
	}
	var response struct {
		SaleID int64 `json:"sale_id"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		test.Fatalf("decode response: %v", err)
	}
	if response.SaleID == 0 {
		test.Fatalf("expected sale id in upstream failure response: %s", body)
	}
	if _, err := env.store.GetSale(context.Background(), library.SaleID(response.SaleID)); err != nil {
		test.Fatalf("sale not persisted: %v", err)
	}
}

func TestUserAdministrationOverHTTP(test *testing.T) {
	env := newTestEnv(test)
	adminID := env.seedUser(test, "admin", "password", library.RoleAdmin)
	adminToken := env.login(test, "admin", "password")

	status, body := env.do(test, http.MethodPost, "/admin/users", adminToken, map[string]string{
		"username": "newreader",
		"password": "password",
		"role":     "user",
	})
	if status != http.StatusCreated {
		test.Fatalf("register status = %d: %s", status, body)
	}
	var created struct {
		User struct {
			ID int64 `json:"id"`
		} `json:"user"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		test.Fatalf("decode created user: %v", err)
	}

	// The created account can log in with the supplied password.
	env.login(test, "newreader", "password")

	// Duplicate usernames conflict.
	status, _ = env.do(test, http.MethodPost, "/admin/users", adminToken, map[string]string{
		"username": "newreader",
		"password": "password",
		"role":     "user",
	})
	if status != http.StatusConflict {
		test.Fatalf("duplicate register status = %d, want 409", status)
	}

	// Editing one's own account is rejected.
	status, _ = env.do(test, http.MethodPut, fmt.Sprintf("/admin/users/%d", adminID), adminToken, map[string]string{
		"username": "renamed",
	})
	if status != http.StatusBadRequest {
		test.Fatalf("self edit status = %d, want 400", status)
	}

	status, _ = env.do(test, http.MethodPut, fmt.Sprintf("/admin/users/%d", created.User.ID), adminToken, map[string]string{
		"role": "admin",
	})
	if status != http.StatusOK {
		test.Fatalf("edit status = %d, want 200", status)
	}

	status, _ = env.do(test, http.MethodDelete, fmt.Sprintf("/admin/users/%d", created.User.ID), adminToken, nil)
	if status != http.StatusOK {
		test.Fatalf("delete status = %d, want 200", status)
	}
	status, _ = env.do(test, http.MethodDelete, fmt.Sprintf("/admin/users/%d", created.User.ID), adminToken, nil)
	if status != http.StatusNotFound {
		test.Fatalf("repeat delete status = %d, want 404", status)
	}
}

func TestAddBookValidationOverHTTP(test *testing.T) {
	env := newTestEnv(test)
	env.seedUser(test, "admin", "password", library.RoleAdmin)
	adminToken := env.login(test, "admin", "password")

	status, _ := env.do(test, http.MethodPost, "/admin/books", adminToken, map[string]any{
		"title":        "Dubliners",
		"author":       "James Joyce",
		"release_date": "1914-06-15",
		"price_cents":  45001,
		"stock":        3,
	})
	if status != http.StatusBadRequest {
		test.Fatalf("invalid price status = %d, want 400", status)
	}

	status, body := env.do(test, http.MethodPost, "/admin/books", adminToken, map[string]any{
		"title":        "Dubliners",
		"author":       "James Joyce",
		"release_date": "1914-06-15",
		"price_cents":  45000,
		"stock":        3,
	})
	if status != http.StatusCreated {
		test.Fatalf("add book status = %d: %s", status, body)
	}
	var bookResponse struct {
		Book struct {
			DepositCents int64 `json:"deposit_cents"`
		} `json:"book"`
	}
	if err := json.Unmarshal(body, &bookResponse); err != nil {
		test.Fatalf("decode book: %v", err)
	}
	if bookResponse.Book.DepositCents != 9000 {
		test.Fatalf("deposit = %d, want 9000", bookResponse.Book.DepositCents)
	}
}
