package webapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/quietlibrary/tracker/internal/auth"
	"github.com/quietlibrary/tracker/pkg/library"
)

type httpHandler struct {
	logger       *zap.Logger
	service      *library.Service
	tokenManager *auth.TokenManager
}

func (handler *httpHandler) handleLogin(ctx *gin.Context) {
	var request loginRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body with username and password"))
		return
	}
	user, err := handler.service.UserByUsername(ctx.Request.Context(), request.Username)
	if err != nil {
		if errors.Is(err, library.ErrUserNotFound) {
			ctx.JSON(http.StatusUnauthorized, errorResponse("invalid_credentials", "unknown username or wrong password"))
			return
		}
		handler.respondServiceError(ctx, err)
		return
	}
	if err := auth.CheckPassword(user.PasswordHash, request.Password); err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("invalid_credentials", "unknown username or wrong password"))
		return
	}
	token, err := handler.tokenManager.Issue(library.Principal{UserID: user.ID, Role: user.Role})
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, loginResponse{
		Token:    token,
		UserID:   int64(user.ID),
		Username: user.Username,
		Role:     user.Role.String(),
	})
}

func (handler *httpHandler) handleListBooks(ctx *gin.Context) {
	books, err := handler.service.Books(ctx.Request.Context())
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	payload := make([]bookPayload, 0, len(books))
	for _, book := range books {
		payload = append(payload, newBookPayload(book))
	}
	ctx.JSON(http.StatusOK, gin.H{"books": payload})
}

func (handler *httpHandler) handleRequestBorrow(ctx *gin.Context) {
	principal, ok := getPrincipal(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	bookID, ok := handler.bookIDParam(ctx)
	if !ok {
		return
	}
	borrow, err := handler.service.RequestBorrow(ctx.Request.Context(), principal.UserID, bookID)
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"borrow": newBorrowPayload(borrow)})
}

func (handler *httpHandler) handleMyBorrows(ctx *gin.Context) {
	principal, ok := getPrincipal(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	borrows, err := handler.service.BorrowsForUser(ctx.Request.Context(), principal)
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"borrows": newBorrowPayloads(borrows)})
}

func (handler *httpHandler) handleCancelBorrow(ctx *gin.Context) {
	principal, ok := getPrincipal(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	borrowID, ok := handler.borrowIDParam(ctx)
	if !ok {
		return
	}
	if err := handler.service.CancelBorrow(ctx.Request.Context(), principal, borrowID); err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "borrow request cancelled"})
}

func (handler *httpHandler) handleCheckout(ctx *gin.Context) {
	principal, ok := getPrincipal(ctx)
	if !ok {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return
	}
	bookID, ok := handler.bookIDParam(ctx)
	if !ok {
		return
	}
	var request checkoutRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body with phone_number"))
		return
	}
	result, err := handler.service.Checkout(ctx.Request.Context(), principal, bookID, request.PhoneNumber)
	if err != nil {
		if errors.Is(err, library.ErrPaymentUpstream) && result.Sale.ID != 0 {
			ctx.JSON(http.StatusBadGateway, gin.H{
				"error":   errorBody("payment_upstream", "payment provider request failed; sale recorded as pending"),
				"sale_id": int64(result.Sale.ID),
			})
			return
		}
		handler.respondServiceError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, checkoutResponse{
		SaleID:           int64(result.Sale.ID),
		AmountCents:      result.Sale.AmountCents.Int64(),
		Status:           result.Sale.Status.String(),
		ProviderResponse: result.ProviderResponse,
	})
}

func (handler *httpHandler) handlePaymentStatus(ctx *gin.Context) {
	saleID, ok := handler.saleIDParam(ctx)
	if !ok {
		return
	}
	status, err := handler.service.PaymentStatus(ctx.Request.Context(), saleID)
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"sale_id": int64(saleID), "status": status.String()})
}

// handlePaymentCallback receives provider notifications. The endpoint is
// public and always acknowledges with 200 so the provider does not retry
// forever; malformed or unknown notifications are logged and dropped.
func (handler *httpHandler) handlePaymentCallback(ctx *gin.Context) {
	body, err := io.ReadAll(ctx.Request.Body)
	if err != nil {
		handler.logger.Warn("payment callback body unreadable", zap.Error(err))
		ctx.JSON(http.StatusOK, gin.H{"message": "notification received"})
		return
	}
	var request callbackRequest
	if err := json.Unmarshal(body, &request); err != nil {
		handler.logger.Warn("payment callback not JSON", zap.Error(err))
		ctx.JSON(http.StatusOK, gin.H{"message": "notification received"})
		return
	}
	saleID, err := library.NewSaleID(request.SaleID)
	if err != nil {
		handler.logger.Warn("payment callback without sale id", zap.Int64("sale_id", request.SaleID))
		ctx.JSON(http.StatusOK, gin.H{"message": "notification received"})
		return
	}
	status, err := library.NewSaleStatus(request.Status)
	if err != nil {
		handler.logger.Warn("payment callback without status", zap.Int64("sale_id", request.SaleID))
		ctx.JSON(http.StatusOK, gin.H{"message": "notification received"})
		return
	}
	if err := handler.service.ApplyPaymentCallback(ctx.Request.Context(), saleID, status, string(body)); err != nil {
		handler.logger.Error("payment callback apply failed", zap.Int64("sale_id", request.SaleID), zap.Error(err))
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "notification received"})
}

func (handler *httpHandler) handleListUsers(ctx *gin.Context) {
	principal, _ := getPrincipal(ctx)
	users, err := handler.service.Users(ctx.Request.Context(), principal)
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	payload := make([]userPayload, 0, len(users))
	for _, user := range users {
		payload = append(payload, userPayload{
			ID:       int64(user.ID),
			Username: user.Username,
			Role:     user.Role.String(),
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"users": payload})
}

func (handler *httpHandler) handleRegisterUser(ctx *gin.Context) {
	principal, _ := getPrincipal(ctx)
	var request registerUserRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body with username, password and role"))
		return
	}
	role, err := library.ParseRole(request.Role)
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	passwordHash, err := auth.HashPassword(request.Password)
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	user, err := handler.service.RegisterUser(ctx.Request.Context(), principal, request.Username, passwordHash, role)
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"user": userPayload{
		ID:       int64(user.ID),
		Username: user.Username,
		Role:     user.Role.String(),
	}})
}

func (handler *httpHandler) handleEditUser(ctx *gin.Context) {
	principal, _ := getPrincipal(ctx)
	targetID, ok := handler.userIDParam(ctx)
	if !ok {
		return
	}
	var request editUserRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	changes := library.UserChanges{Username: request.Username}
	if request.Password != nil {
		passwordHash, err := auth.HashPassword(*request.Password)
		if err != nil {
			handler.respondServiceError(ctx, err)
			return
		}
		changes.PasswordHash = &passwordHash
	}
	if request.Role != nil {
		role, err := library.ParseRole(*request.Role)
		if err != nil {
			handler.respondServiceError(ctx, err)
			return
		}
		changes.Role = &role
	}
	if err := handler.service.EditUser(ctx.Request.Context(), principal, targetID, changes); err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "user updated"})
}

func (handler *httpHandler) handleDeleteUser(ctx *gin.Context) {
	principal, _ := getPrincipal(ctx)
	targetID, ok := handler.userIDParam(ctx)
	if !ok {
		return
	}
	if err := handler.service.DeleteUser(ctx.Request.Context(), principal, targetID); err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "user deleted"})
}

func (handler *httpHandler) handleAddBook(ctx *gin.Context) {
	principal, _ := getPrincipal(ctx)
	var request addBookRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	book, err := handler.service.AddBook(ctx.Request.Context(), principal, library.NewBookInput{
		Title:          request.Title,
		Author:         request.Author,
		Description:    request.Description,
		Category:       request.Category,
		Photo:          request.Photo,
		ReleaseDateRaw: request.ReleaseDate,
		PriceCents:     request.PriceCents,
		Stock:          request.Stock,
	})
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"book": newBookPayload(book)})
}

func (handler *httpHandler) handleBorrowRequests(ctx *gin.Context) {
	principal, _ := getPrincipal(ctx)
	borrows, err := handler.service.BorrowRequests(ctx.Request.Context(), principal)
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"borrows": newBorrowPayloads(borrows)})
}

func (handler *httpHandler) handleApproveBorrow(ctx *gin.Context) {
	principal, _ := getPrincipal(ctx)
	borrowID, ok := handler.borrowIDParam(ctx)
	if !ok {
		return
	}
	var request approveBorrowRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body with return_date"))
		return
	}
	if err := handler.service.ApproveBorrow(ctx.Request.Context(), principal, borrowID, request.ReturnDate, request.Instructions); err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "borrow approved"})
}

func (handler *httpHandler) handleMarkPickedUp(ctx *gin.Context) {
	principal, _ := getPrincipal(ctx)
	borrowID, ok := handler.borrowIDParam(ctx)
	if !ok {
		return
	}
	if err := handler.service.MarkPickedUp(ctx.Request.Context(), principal, borrowID); err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "borrow marked as picked up"})
}

func (handler *httpHandler) handleMarkReturned(ctx *gin.Context) {
	principal, _ := getPrincipal(ctx)
	borrowID, ok := handler.borrowIDParam(ctx)
	if !ok {
		return
	}
	if err := handler.service.MarkReturned(ctx.Request.Context(), principal, borrowID); err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"message": "borrow marked as returned"})
}

func (handler *httpHandler) handleListSales(ctx *gin.Context) {
	principal, _ := getPrincipal(ctx)
	sales, err := handler.service.Sales(ctx.Request.Context(), principal)
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	payload := make([]salePayload, 0, len(sales))
	for _, sale := range sales {
		payload = append(payload, salePayload{
			ID:          int64(sale.ID),
			UserID:      int64(sale.UserID),
			BookID:      int64(sale.BookID),
			PhoneNumber: sale.PhoneNumber.String(),
			AmountCents: sale.AmountCents.Int64(),
			Status:      sale.Status.String(),
			CreatedAt:   sale.CreatedAt.Format(time.RFC3339),
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"sales": payload})
}

func (handler *httpHandler) handleSalesAnalytics(ctx *gin.Context) {
	principal, _ := getPrincipal(ctx)
	totals, err := handler.service.SalesAnalytics(ctx.Request.Context(), principal)
	if err != nil {
		handler.respondServiceError(ctx, err)
		return
	}
	payload := make([]monthlySalesPayload, 0, len(totals))
	for _, total := range totals {
		payload = append(payload, monthlySalesPayload{
			Month:      total.Month,
			TotalCents: total.TotalCents.Int64(),
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"monthly_sales": payload})
}

func (handler *httpHandler) bookIDParam(ctx *gin.Context) (library.BookID, bool) {
	raw, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_id", "book id must be a positive integer"))
		return 0, false
	}
	bookID, err := library.NewBookID(raw)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_id", "book id must be a positive integer"))
		return 0, false
	}
	return bookID, true
}

func (handler *httpHandler) borrowIDParam(ctx *gin.Context) (library.BorrowID, bool) {
	raw, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_id", "borrow id must be a positive integer"))
		return 0, false
	}
	borrowID, err := library.NewBorrowID(raw)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_id", "borrow id must be a positive integer"))
		return 0, false
	}
	return borrowID, true
}

func (handler *httpHandler) userIDParam(ctx *gin.Context) (library.UserID, bool) {
	raw, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_id", "user id must be a positive integer"))
		return 0, false
	}
	userID, err := library.NewUserID(raw)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_id", "user id must be a positive integer"))
		return 0, false
	}
	return userID, true
}

func (handler *httpHandler) saleIDParam(ctx *gin.Context) (library.SaleID, bool) {
	raw, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_id", "sale id must be a positive integer"))
		return 0, false
	}
	saleID, err := library.NewSaleID(raw)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_id", "sale id must be a positive integer"))
		return 0, false
	}
	return saleID, true
}

func (handler *httpHandler) respondServiceError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, library.ErrBookNotFound),
		errors.Is(err, library.ErrUserNotFound),
		errors.Is(err, library.ErrBorrowNotFound),
		errors.Is(err, library.ErrSaleNotFound):
		ctx.JSON(http.StatusNotFound, errorResponse("not_found", err.Error()))
	case errors.Is(err, library.ErrPermissionDenied),
		errors.Is(err, library.ErrNotBorrowOwner):
		ctx.JSON(http.StatusForbidden, errorResponse("forbidden", err.Error()))
	case errors.Is(err, library.ErrBorrowPending),
		errors.Is(err, library.ErrBookUnavailable),
		errors.Is(err, library.ErrInvalidBorrowState),
		errors.Is(err, library.ErrUsernameTaken):
		ctx.JSON(http.StatusConflict, errorResponse("conflict", err.Error()))
	case errors.Is(err, library.ErrSelfEdit),
		errors.Is(err, library.ErrInvalidPhoneNumber),
		errors.Is(err, library.ErrInvalidRole),
		errors.Is(err, library.ErrInvalidReturnDate),
		errors.Is(err, library.ErrInvalidReleaseDate),
		errors.Is(err, library.ErrInvalidUsername),
		errors.Is(err, library.ErrInvalidBookField),
		errors.Is(err, library.ErrInvalidPriceCents),
		errors.Is(err, library.ErrInvalidStock):
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_request", err.Error()))
	case errors.Is(err, library.ErrPaymentUpstream):
		ctx.JSON(http.StatusBadGateway, errorResponse("payment_upstream", err.Error()))
	default:
		handler.logger.Error("request failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("internal_error", "unexpected failure"))
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{"error": errorBody(code, message)}
}

func errorBody(code string, message string) gin.H {
	return gin.H{
		"code":    code,
		"message": message,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token    string `json:"token"`
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type checkoutRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type checkoutResponse struct {
	SaleID           int64           `json:"sale_id"`
	AmountCents      int64           `json:"amount_cents"`
	Status           string          `json:"status"`
	ProviderResponse json.RawMessage `json:"provider_response,omitempty"`
}

type callbackRequest struct {
	SaleID int64  `json:"sale_id"`
	Status string `json:"status"`
}

type registerUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type editUserRequest struct {
	Username *string `json:"username"`
	Password *string `json:"password"`
	Role     *string `json:"role"`
}

type addBookRequest struct {
	Title       string `json:"title"`
	Author      string `json:"author"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Photo       string `json:"photo"`
	ReleaseDate string `json:"release_date"`
	PriceCents  int64  `json:"price_cents"`
	Stock       int    `json:"stock"`
}

type approveBorrowRequest struct {
	ReturnDate   string `json:"return_date"`
	Instructions string `json:"instructions"`
}

type bookPayload struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	Author       string `json:"author"`
	Description  string `json:"description,omitempty"`
	Category     string `json:"category,omitempty"`
	Photo        string `json:"photo,omitempty"`
	ReleaseDate  string `json:"release_date"`
	PriceCents   int64  `json:"price_cents"`
	DepositCents int64  `json:"deposit_cents"`
	Stock        int    `json:"stock"`
}

type userPayload struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type borrowPayload struct {
	ID               int64  `json:"id"`
	UserID           int64  `json:"user_id"`
	BookID           int64  `json:"book_id"`
	BorrowDate       string `json:"borrow_date"`
	ReturnDate       string `json:"return_date,omitempty"`
	Status           string `json:"status"`
	BorrowPriceCents int64  `json:"borrow_price_cents"`
	Instructions     string `json:"instructions,omitempty"`
}

type salePayload struct {
	ID          int64  `json:"id"`
	UserID      int64  `json:"user_id"`
	BookID      int64  `json:"book_id"`
	PhoneNumber string `json:"phone_number"`
	AmountCents int64  `json:"amount_cents"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

type monthlySalesPayload struct {
	Month      string `json:"month"`
	TotalCents int64  `json:"total_cents"`
}

func newBookPayload(book library.Book) bookPayload {
	return bookPayload{
		ID:           int64(book.ID),
		Title:        book.Title,
		Author:       book.Author,
		Description:  book.Description,
		Category:     book.Category,
		Photo:        book.Photo,
		ReleaseDate:  book.ReleaseDate.Format("2006-01-02"),
		PriceCents:   book.PriceCents.Int64(),
		DepositCents: book.PriceCents.DepositCents().Int64(),
		Stock:        book.Stock,
	}
}

func newBorrowPayload(borrow library.Borrow) borrowPayload {
	payload := borrowPayload{
		ID:               int64(borrow.ID),
		UserID:           int64(borrow.UserID),
		BookID:           int64(borrow.BookID),
		BorrowDate:       borrow.BorrowDate.Format("2006-01-02"),
		Status:           borrow.Status.String(),
		BorrowPriceCents: borrow.BorrowPriceCents.Int64(),
		Instructions:     borrow.Instructions,
	}
	if borrow.ReturnDate != nil {
		payload.ReturnDate = borrow.ReturnDate.Format("2006-01-02")
	}
	return payload
}

func newBorrowPayloads(borrows []library.Borrow) []borrowPayload {
	payload := make([]borrowPayload, 0, len(borrows))
	for _, borrow := range borrows {
		payload = append(payload, newBorrowPayload(borrow))
	}
	return payload
}
