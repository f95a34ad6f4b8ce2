package library

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// PaymentGateway submits a payment-push request to the provider and
// returns its raw response uninterpreted.
type PaymentGateway interface {
	RequestPayment(ctx context.Context, phone PhoneNumber, amount AmountCents, reference string) (json.RawMessage, error)
}

// CheckoutResult carries the persisted sale together with the raw provider
// response, which may be absent when the provider call failed.
type CheckoutResult struct {
	Sale             Sale
	ProviderResponse json.RawMessage
}

// Checkout persists a pending sale at the full book price and then asks
// the provider to push a payment to the given phone number. The sale is
// committed before the provider call and is never rolled back: a provider
// failure surfaces as ErrPaymentUpstream alongside the created sale, which
// stays pending for callback-driven or manual resolution.
func (service *Service) Checkout(ctx context.Context, actor Principal, bookID BookID, rawPhoneNumber string) (CheckoutResult, error) {
	var result CheckoutResult
	operationError := func() error {
		phone, err := NewPhoneNumber(rawPhoneNumber)
		if err != nil {
			return err
		}
		var sale Sale
		err = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			book, err := transactionStore.GetBook(ctx, bookID)
			if err != nil {
				return err
			}
			sale = Sale{
				UserID:      actor.UserID,
				BookID:      bookID,
				PhoneNumber: phone,
				AmountCents: book.PriceCents,
				Status:      SaleStatusPending,
				CreatedAt:   service.nowFn().UTC(),
			}
			saleID, err := transactionStore.CreateSale(ctx, sale)
			if err != nil {
				return err
			}
			sale.ID = saleID
			return nil
		})
		if err != nil {
			return err
		}
		result.Sale = sale
		if service.gateway == nil {
			return fmt.Errorf("%w: no gateway configured", ErrPaymentUpstream)
		}
		reference := fmt.Sprintf("sale-%d", sale.ID)
		providerResponse, err := service.gateway.RequestPayment(ctx, phone, sale.AmountCents, reference)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPaymentUpstream, err)
		}
		result.ProviderResponse = providerResponse
		return nil
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationCheckout,
		UserID:    actor.UserID,
		BookID:    bookID,
		SaleID:    result.Sale.ID,
		Amount:    result.Sale.AmountCents,
		Error:     operationError,
	})
	return result, operationError
}

// ApplyPaymentCallback overwrites the sale status with the value delivered
// by the provider. Unknown sale ids are ignored: the caller is an external
// webhook and repeated or stray notifications must not fail. The overwrite
// is unconditional, so replaying a callback is idempotent.
func (service *Service) ApplyPaymentCallback(ctx context.Context, saleID SaleID, status SaleStatus, providerPayload string) error {
	operationError := func() error {
		err := service.store.UpdateSaleStatus(ctx, saleID, status, providerPayload)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrSaleNotFound) {
			return nil
		}
		return err
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationPaymentCallback,
		SaleID:    saleID,
		Status:    status.String(),
		Error:     operationError,
	})
	return operationError
}

// PaymentStatus returns the current status string for a sale.
func (service *Service) PaymentStatus(ctx context.Context, saleID SaleID) (SaleStatus, error) {
	sale, err := service.store.GetSale(ctx, saleID)
	if err != nil {
		return "", err
	}
	return sale.Status, nil
}

// Sales lists every sale for administrative review.
func (service *Service) Sales(ctx context.Context, actor Principal) ([]Sale, error) {
	if err := requireAdministrator(actor); err != nil {
		return nil, err
	}
	return service.store.ListSales(ctx)
}

// SalesAnalytics sums sale amounts per calendar month.
func (service *Service) SalesAnalytics(ctx context.Context, actor Principal) ([]MonthlySales, error) {
	if err := requireAdministrator(actor); err != nil {
		return nil, err
	}
	return service.store.SalesByMonth(ctx)
}
