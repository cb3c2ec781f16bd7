package payments

import (
	"errors"
	"fmt"
)

var (
	ErrMethodUnsupported = errors.New("payment method is not supported")
	ErrIncompleteDraft   = errors.New("draft is incomplete")
	ErrOrderNotFound     = errors.New("order not found for payment signal")
	ErrTransient         = errors.New("payment provider unavailable")
	ErrUnmappable        = errors.New("payment provider returned an unknown status")
	ErrPreCheckout       = errors.New("pre-checkout rejected")
	ErrBadSignature      = errors.New("invalid webhook signature")

	// ErrInvoiceMismatch is reported as a missing order to callers.
	ErrInvoiceMismatch = fmt.Errorf("%w: invoice does not belong to the order", ErrOrderNotFound)
)
