package library

import (
	"context"
	"errors"
	"testing"
)

type recorderLogger struct {
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.entries = append(logger.entries, entry)
}

func TestServiceLogsBorrowRequest(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	logger := &recorderLogger{}
	service := mustNewService(test, store, WithOperationLogger(logger))
	reader := store.mustAddUser(test, "reader", RoleUser)
	book := store.mustAddBook(test, "Dubliners", 45000, 2)

	borrow, err := service.RequestBorrow(context.Background(), reader.ID, book.ID)
	if err != nil {
		test.Fatalf("RequestBorrow: %v", err)
	}
	if len(logger.entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(logger.entries))
	}
	entry := logger.entries[0]
	if entry.Operation != operationRequestBorrow {
		test.Fatalf("operation = %q", entry.Operation)
	}
	if entry.UserID != reader.ID || entry.BookID != book.ID || entry.BorrowID != borrow.ID {
		test.Fatalf("unexpected log entry: %+v", entry)
	}
	if entry.Amount != borrow.BorrowPriceCents {
		test.Fatalf("log amount = %d, want %d", entry.Amount, borrow.BorrowPriceCents)
	}
	if entry.Error != nil {
		test.Fatalf("expected successful entry, got %v", entry.Error)
	}
}

func TestServiceLogsFailures(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	logger := &recorderLogger{}
	service := mustNewService(test, store, WithOperationLogger(logger))
	reader := store.mustAddUser(test, "reader", RoleUser)

	_, err := service.RequestBorrow(context.Background(), reader.ID, BookID(404))
	if !errors.Is(err, ErrBookNotFound) {
		test.Fatalf("expected ErrBookNotFound, got %v", err)
	}
	if len(logger.entries) != 1 {
		test.Fatalf("expected one log entry, got %d", len(logger.entries))
	}
	if !errors.Is(logger.entries[0].Error, ErrBookNotFound) {
		test.Fatalf("log error = %v", logger.entries[0].Error)
	}
}

func TestNewServiceRejectsNilDependencies(test *testing.T) {
	test.Parallel()
	if _, err := NewService(nil, nil); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig, got %v", err)
	}
	if _, err := NewService(newStubStore(), nil); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected ErrInvalidServiceConfig for nil clock, got %v", err)
	}
}
