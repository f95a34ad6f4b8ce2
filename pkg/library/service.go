package library

import (
	"context"
	"fmt"
	"time"
)

// Service contains the domain logic over a Store.
type Service struct {
	store   Store
	nowFn   func() time.Time
	gateway PaymentGateway
	logger  OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// RequestBorrow creates a pending borrow for (user, book). The stock check
// is advisory only: stock is not reserved until pickup, so concurrent
// requests past the limit are resolved at MarkPickedUp time.
func (service *Service) RequestBorrow(ctx context.Context, userID UserID, bookID BookID) (Borrow, error) {
	var created Borrow
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if _, err := transactionStore.GetUser(ctx, userID); err != nil {
			return err
		}
		book, err := transactionStore.GetBook(ctx, bookID)
		if err != nil {
			return err
		}
		if book.Stock <= 0 {
			return ErrBookUnavailable
		}
		hasPending, err := transactionStore.HasPendingBorrow(ctx, userID, bookID)
		if err != nil {
			return err
		}
		if hasPending {
			return ErrBorrowPending
		}
		created = Borrow{
			UserID:           userID,
			BookID:           bookID,
			BorrowDate:       service.nowFn().UTC(),
			Status:           BorrowStatusPending,
			BorrowPriceCents: book.PriceCents.DepositCents(),
		}
		borrowID, err := transactionStore.CreateBorrow(ctx, created)
		if err != nil {
			return err
		}
		created.ID = borrowID
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationRequestBorrow,
		UserID:    userID,
		BookID:    bookID,
		BorrowID:  created.ID,
		Amount:    created.BorrowPriceCents,
		Error:     operationError,
	})
	if operationError != nil {
		return Borrow{}, operationError
	}
	return created, nil
}

// ApproveBorrow moves a pending borrow to awaiting_pickup, recording the
// agreed return date and any pickup instructions.
func (service *Service) ApproveBorrow(ctx context.Context, actor Principal, borrowID BorrowID, returnDateRaw string, instructions string) error {
	operationError := func() error {
		if err := requireAdministrator(actor); err != nil {
			return err
		}
		returnDate, err := parseReturnDate(returnDateRaw)
		if err != nil {
			return err
		}
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			borrow, err := transactionStore.GetBorrow(ctx, borrowID)
			if err != nil {
				return err
			}
			if borrow.Status != BorrowStatusPending {
				return fmt.Errorf("%w: borrow is %s", ErrInvalidBorrowState, borrow.Status)
			}
			return transactionStore.TransitionBorrow(ctx, borrowID, BorrowStatusPending, BorrowStatusAwaitingPickup, BorrowChanges{
				ReturnDate:   &returnDate,
				Instructions: &instructions,
			})
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationApproveBorrow,
		UserID:    actor.UserID,
		BorrowID:  borrowID,
		Error:     operationError,
	})
	return operationError
}

// MarkPickedUp records the physical handover: the borrow moves to
// "picked up" and the book stock is decremented in the same transaction.
// The decrement is conditional on stock remaining, so two concurrent calls
// against the last copy leave exactly one winner and stock at zero.
func (service *Service) MarkPickedUp(ctx context.Context, actor Principal, borrowID BorrowID) error {
	operationError := func() error {
		if err := requireAdministrator(actor); err != nil {
			return err
		}
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			borrow, err := transactionStore.GetBorrow(ctx, borrowID)
			if err != nil {
				return err
			}
			if borrow.Status != BorrowStatusAwaitingPickup {
				return fmt.Errorf("%w: borrow is %s", ErrInvalidBorrowState, borrow.Status)
			}
			if err := transactionStore.DecrementStock(ctx, borrow.BookID); err != nil {
				return err
			}
			return transactionStore.TransitionBorrow(ctx, borrowID, BorrowStatusAwaitingPickup, BorrowStatusPickedUp, BorrowChanges{})
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationMarkPickedUp,
		UserID:    actor.UserID,
		BorrowID:  borrowID,
		Error:     operationError,
	})
	return operationError
}

// MarkReturned records the physical return: the borrow moves to "returned"
// with the return date set to now, and stock is incremented in the same
// transaction.
func (service *Service) MarkReturned(ctx context.Context, actor Principal, borrowID BorrowID) error {
	operationError := func() error {
		if err := requireAdministrator(actor); err != nil {
			return err
		}
		return service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			borrow, err := transactionStore.GetBorrow(ctx, borrowID)
			if err != nil {
				return err
			}
			if borrow.Status != BorrowStatusPickedUp {
				return fmt.Errorf("%w: borrow is %s", ErrInvalidBorrowState, borrow.Status)
			}
			if err := transactionStore.IncrementStock(ctx, borrow.BookID); err != nil {
				return err
			}
			returnedAt := service.nowFn().UTC()
			return transactionStore.TransitionBorrow(ctx, borrowID, BorrowStatusPickedUp, BorrowStatusReturned, BorrowChanges{
				ReturnDate: &returnedAt,
			})
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationMarkReturned,
		UserID:    actor.UserID,
		BorrowID:  borrowID,
		Error:     operationError,
	})
	return operationError
}

// CancelBorrow deletes a pending borrow. Only the owning user may cancel,
// and only while the request is still pending; no stock was reserved, so
// nothing else changes.
func (service *Service) CancelBorrow(ctx context.Context, actor Principal, borrowID BorrowID) error {
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		borrow, err := transactionStore.GetBorrow(ctx, borrowID)
		if err != nil {
			return err
		}
		if borrow.UserID != actor.UserID {
			return ErrNotBorrowOwner
		}
		if borrow.Status != BorrowStatusPending {
			return fmt.Errorf("%w: borrow is %s", ErrInvalidBorrowState, borrow.Status)
		}
		return transactionStore.DeleteBorrow(ctx, borrowID)
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationCancelBorrow,
		UserID:    actor.UserID,
		BorrowID:  borrowID,
		Error:     operationError,
	})
	return operationError
}

// BorrowsForUser lists the caller's own borrow records.
func (service *Service) BorrowsForUser(ctx context.Context, actor Principal) ([]Borrow, error) {
	return service.store.ListBorrowsByUser(ctx, actor.UserID)
}

// BorrowRequests lists every borrow record for administrative review.
func (service *Service) BorrowRequests(ctx context.Context, actor Principal) ([]Borrow, error) {
	if err := requireAdministrator(actor); err != nil {
		return nil, err
	}
	return service.store.ListBorrows(ctx)
}

func requireAdministrator(actor Principal) error {
	if !actor.Role.CanAdminister() {
		return ErrPermissionDenied
	}
	return nil
}

func parseReturnDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: return date is required", ErrInvalidReturnDate)
	}
	returnDate, err := time.Parse(returnDateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: use YYYY-MM-DD", ErrInvalidReturnDate)
	}
	return returnDate.UTC(), nil
}
