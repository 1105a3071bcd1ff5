package ledger

import "errors"

var (
	// ErrValidation reports malformed or missing input.
	ErrValidation = errors.New("validation error")

	// ErrConflict reports a duplicate wallet name or a wallet that could not
	// be updated because of sustained concurrent writes.
	ErrConflict = errors.New("conflict")

	// ErrNotFound reports an unknown wallet identifier.
	ErrNotFound = errors.New("wallet not found")

	// ErrInsufficientBalance reports a debit larger than the wallet balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrStorage wraps failures of the underlying persistence layer.
	ErrStorage = errors.New("storage error")

	// ErrUnavailable reports that the wallet could not be acquired before the
	// caller's context ended.
	ErrUnavailable = errors.New("wallet temporarily unavailable")

	// ErrVersionConflict is returned by Tx.UpdateBalance when the wallet was
	// modified since it was read. The engine retries on it.
	ErrVersionConflict = errors.New("wallet version conflict")
)
