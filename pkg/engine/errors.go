package engine

import (
	"errors"

	"github.com/GroveDB/grove/pkg/btree"
)

var (
	// ErrEngineClosed is returned when operations are performed on a
	// closed engine
	ErrEngineClosed = errors.New("engine is closed")

	// ErrActiveTransactions is returned when closing an engine that still
	// has transactions in flight
	ErrActiveTransactions = errors.New("engine has active transactions")

	// ErrKeyNotFound is returned when a key is not found
	ErrKeyNotFound = btree.ErrKeyNotFound

	// ErrIteratorExhausted is returned by Next once an iterator has
	// passed its last entry. The condition is permanent.
	ErrIteratorExhausted = errors.New("iterator is exhausted")

	// ErrIteratorClosed is returned by Next after Close
	ErrIteratorClosed = errors.New("iterator is closed")
)
