package ledger

import "errors"

var (
	// Validation
	ErrInvalidAddress = errors.New("ledger: invalid address")
	ErrSelfInvoice    = errors.New("ledger: cannot create invoice for yourself")
	ErrZeroAmount     = errors.New("ledger: amount must be greater than zero")
	ErrInvalidAmount  = errors.New("ledger: invalid amount")
	ErrUnknownMessage = errors.New("ledger: unknown message")

	// Authorization
	ErrUnauthorized = errors.New("ledger: only the recipient can pay this invoice")

	// State
	ErrInvoiceNotFound     = errors.New("ledger: invoice not found")
	ErrAlreadyPaid         = errors.New("ledger: invoice is already paid")
	ErrNotInstantiated     = errors.New("ledger: not instantiated")
	ErrAlreadyInstantiated = errors.New("ledger: already instantiated")
	ErrCounterOverflow     = errors.New("ledger: invoice id counter overflow")

	// Payment
	ErrIncorrectPayment = errors.New("ledger: incorrect payment amount")
)

