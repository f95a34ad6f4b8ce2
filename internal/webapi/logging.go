package webapi

import (
	"context"

	"go.uber.org/zap"

	"github.com/quietlibrary/tracker/pkg/library"
)

// zapOperationLogger emits one structured log line per service operation.
type zapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger adapts a zap logger to library.OperationLogger.
func NewZapOperationLogger(logger *zap.Logger) library.OperationLogger {
	return &zapOperationLogger{logger: logger}
}

func (adapter *zapOperationLogger) LogOperation(_ context.Context, entry library.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
	}
	if entry.UserID != 0 {
		fields = append(fields, zap.Int64("user_id", int64(entry.UserID)))
	}
	if entry.BookID != 0 {
		fields = append(fields, zap.Int64("book_id", int64(entry.BookID)))
	}
	if entry.BorrowID != 0 {
		fields = append(fields, zap.Int64("borrow_id", int64(entry.BorrowID)))
	}
	if entry.SaleID != 0 {
		fields = append(fields, zap.Int64("sale_id", int64(entry.SaleID)))
	}
	if entry.Amount != 0 {
		fields = append(fields, zap.Int64("amount_cents", entry.Amount.Int64()))
	}
	if entry.Status != "" {
		fields = append(fields, zap.String("status", entry.Status))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		adapter.logger.Warn("operation failed", fields...)
		return
	}
	adapter.logger.Info("operation completed", fields...)
}
