package models

import "errors"

var (
	// ErrStorageUnavailable means the store could not be opened. Fatal to the
	// operation; a later Open may succeed.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrStorageWrite means a write transaction aborted. Callers may retry.
	ErrStorageWrite = errors.New("storage write failed")
	// ErrFetch covers every price source failure for a single symbol.
	ErrFetch = errors.New("price fetch failed")
	// ErrExtraction means the page exposes no recognizable symbol.
	ErrExtraction = errors.New("no stock symbol found on page")
	// ErrTimeout means a bridge command was not acknowledged in time.
	ErrTimeout = errors.New("bridge command not acknowledged")

	ErrInvalidSymbol = errors.New("invalid stock symbol")
)
