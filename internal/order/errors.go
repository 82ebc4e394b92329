package order

import "errors"

var (
	// ErrEmptyCart rejects checkout of a cart with no lines.
	ErrEmptyCart = errors.New("cart is empty, nothing to checkout")

	// ErrCheckoutInFlight rejects a second concurrent checkout for the
	// same user before the first completes.
	ErrCheckoutInFlight = errors.New("checkout already in progress")

	// ErrInvalidTransition rejects an illegal status change, including any
	// transition out of a terminal state.
	ErrInvalidTransition = errors.New("illegal order status transition")

	// ErrOrderNotFound is returned when the order id is unknown.
	ErrOrderNotFound = errors.New("order not found")

	// ErrUnknownProduct is returned when a cart line references a product
	// the catalog does not know.
	ErrUnknownProduct = errors.New("unknown product in cart")

	// ErrPersistence wraps repository failures. The operation is safe to
	// retry with the same idempotency key; no partial order is visible.
	ErrPersistence = errors.New("order persistence failed")
)
