// Package errors provides the error taxonomy for the folio ledger.
// Service and engine errors are AppErrors so callers can branch on a stable
// code while the underlying driver or parse error stays available via Unwrap.
package errors

// AppError represents a structured ledger error with a stable code,
// a human-readable message, and an optional internal cause.
type AppError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Internal error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Internal != nil {
		return e.Message + ": " + e.Internal.Error()
	}
	return e.Message
}

// Unwrap returns the internal error for use with errors.Is/As.
func (e *AppError) Unwrap() error { return e.Internal }

// Is reports whether target is an AppError with the same code, so a wrapped
// sentinel still matches errors.Is(err, ErrInsufficientUnits).
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Wrap creates a new AppError with the same code/message but wraps an internal error.
func Wrap(sentinel *AppError, internal error) *AppError {
	return &AppError{
		Code:     sentinel.Code,
		Message:  sentinel.Message,
		Internal: internal,
	}
}

// WithMessage creates a new AppError with a custom message.
func WithMessage(sentinel *AppError, message string) *AppError {
	return &AppError{
		Code:     sentinel.Code,
		Message:  message,
		Internal: sentinel.Internal,
	}
}

// General errors.
var (
	ErrInvalidInput   = &AppError{Code: "INVALID_INPUT", Message: "Invalid input"}
	ErrInternalServer = &AppError{Code: "INTERNAL_ERROR", Message: "An internal error occurred"}
)

// Account errors.
var (
	ErrAccountNotFound = &AppError{Code: "ACCOUNT_NOT_FOUND", Message: "Account not found"}
)

// Ledger errors.
var (
	ErrInsufficientUnits      = &AppError{Code: "INSUFFICIENT_UNITS", Message: "Cannot sell more units than held"}
	ErrPositionNotFound       = &AppError{Code: "POSITION_NOT_FOUND", Message: "Position not found"}
	ErrMissingRequiredField   = &AppError{Code: "MISSING_REQUIRED_FIELD", Message: "A required field is missing"}
	ErrInvalidDate            = &AppError{Code: "INVALID_DATE", Message: "Date must be formatted as YYYY-MM-DD"}
	ErrTransactionConflict    = &AppError{Code: "TRANSACTION_CONFLICT", Message: "Position changed concurrently, retries exhausted"}
	ErrInvalidTransactionType = &AppError{Code: "INVALID_TRANSACTION_TYPE", Message: "Unsupported transaction type for this position"}
	ErrTransactionNotFound    = &AppError{Code: "TRANSACTION_NOT_FOUND", Message: "Transaction not found"}
	ErrAlreadyReversed        = &AppError{Code: "ALREADY_REVERSED", Message: "Transaction has already been reversed"}
)

// Installment errors.
var (
	ErrInstallmentNotFound    = &AppError{Code: "INSTALLMENT_NOT_FOUND", Message: "Installment not found"}
	ErrInstallmentAlreadyPaid = &AppError{Code: "INSTALLMENT_ALREADY_PAID", Message: "Installment is already paid"}
	ErrInstallmentNotPaid     = &AppError{Code: "INSTALLMENT_NOT_PAID", Message: "Installment is not paid"}
)

// Record errors.
var (
	ErrRecordNotFound = &AppError{Code: "RECORD_NOT_FOUND", Message: "Record not found"}
	ErrRecordClosed   = &AppError{Code: "RECORD_CLOSED", Message: "All installments of this record are already paid"}
)
