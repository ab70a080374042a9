package kv

import "errors"

// ErrConflict is returned by Transaction.Commit when the transaction's read
// set was invalidated by a concurrent committed write. Callers use
// DoTransact, which retries on this error the way on_error does.
var ErrConflict = errors.New("kv: transaction conflict")

// ErrNotFound names the "key not found" condition. Get and GetKey do not
// return it: both report absence as ok=false with a nil error.
var ErrNotFound = errors.New("kv: key not found")

// ErrTooManyRetries is returned by DoTransact after exhausting its retry
// budget against repeated ErrConflict.
var ErrTooManyRetries = errors.New("kv: too many transaction retries")
