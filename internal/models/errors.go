package models

import "errors"

// ErrNotFound is returned by every store implementation for a missing keyed row.
var ErrNotFound = errors.New("not found")

// ErrStockConflict means a conditional stock decrement lost against concurrent orders.
var ErrStockConflict = errors.New("stock changed concurrently")

type StockConflictError struct {
	PartID string
}

func (e *StockConflictError) Error() string { return "insufficient stock for part " + e.PartID }

func (e *StockConflictError) Is(target error) bool { return target == ErrStockConflict }
