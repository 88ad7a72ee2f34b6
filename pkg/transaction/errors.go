package transaction

import "errors"

var (
	// ErrReadOnlyTransaction is returned when a mutation is attempted on a
	// read-only transaction
	ErrReadOnlyTransaction = errors.New("transaction is read-only")

	// ErrTransactionClosed is returned when using a transaction after
	// commit or rollback
	ErrTransactionClosed = errors.New("transaction is already committed or rolled back")

	// ErrWriterBusy is returned under the fail-fast writer policy when
	// another write transaction holds the writer slot
	ErrWriterBusy = errors.New("another write transaction is active")

	// ErrManagerClosed is returned when beginning a transaction on a
	// closed manager
	ErrManagerClosed = errors.New("transaction manager is closed")
)
