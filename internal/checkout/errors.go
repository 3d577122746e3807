package checkout

import (
	"fmt"

	"github.com/example/ec-checkout/internal/apperr"
	"github.com/example/ec-checkout/internal/domain/order"
)

var (
	ErrEmptyCart      = apperr.Validation("EMPTY_CART", "cart is empty")
	ErrOutOfStock     = apperr.Conflict("OUT_OF_STOCK", "item is out of stock")
	ErrCartChanged    = apperr.Conflict("CART_CHANGED", "cart changed during checkout")
	ErrInvalidAddress = order.ErrInvalidAddress
)

// OutOfStockError names the line that could not be reserved. It matches
// ErrOutOfStock with errors.Is.
type OutOfStockError struct {
	VariantID string
	SKU       string
	Name      string
	Requested int
	Available int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("%s (%s): %d requested, %d available", ErrOutOfStock.Error(), e.SKU, e.Requested, e.Available)
}

func (e *OutOfStockError) Is(target error) bool { return target == ErrOutOfStock }

func (e *OutOfStockError) Kind() apperr.Kind { return apperr.KindConflict }

func (e *OutOfStockError) Code() string { return ErrOutOfStock.Code() }
