package ledger

import "errors"

// Ledger errors
var (
	// ErrHeadConflict is returned by Store.AppendIfHeadIs when the chain head
	// moved between the read and the append. Nothing was written.
	ErrHeadConflict = errors.New("ledger head changed concurrently")

	// ErrContentionExceeded is returned by Service.Append once the retry budget
	// is spent. The caller should retry the whole originating operation.
	ErrContentionExceeded = errors.New("ledger append contention exceeded")

	// ErrStoreUnavailable wraps failures of the persistence layer.
	ErrStoreUnavailable = errors.New("ledger store unavailable")

	ErrStoreClosed  = errors.New("ledger store closed")
	ErrInvalidEvent = errors.New("invalid ledger event")
	ErrInvalidHash  = errors.New("invalid ledger hash")
)
