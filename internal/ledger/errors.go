package ledger

import "errors"

// ErrDuplicateID is returned by RecordOpen when the position id already exists.
var ErrDuplicateID = errors.New("ledger: duplicate position id")

// ErrNotFound is returned when no active position matches the id.
var ErrNotFound = errors.New("ledger: position not found")

// ErrAlreadyClosing is returned by BeginClose when a close is already in
// flight. This is an expected concurrency outcome, not a failure: the caller
// must simply not submit another close order.
var ErrAlreadyClosing = errors.New("ledger: close already in flight")

// ErrTerminal is returned when an operation targets a closed position.
var ErrTerminal = errors.New("ledger: position already closed")
