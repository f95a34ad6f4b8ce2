package library

const (
	operationRequestBorrow   = "request_borrow"
	operationApproveBorrow   = "approve_borrow"
	operationMarkPickedUp    = "mark_picked_up"
	operationMarkReturned    = "mark_returned"
	operationCancelBorrow    = "cancel_borrow"
	operationCheckout        = "checkout"
	operationPaymentCallback = "payment_callback"

	returnDateLayout = "2006-01-02"
)
