// Package payments turns outcome signals from the payment rails into order transitions.
package payments

import (
	"context"

	"VPN-Shop-bot/internal/db"
)

type Outcome string

const (
	OutcomePaid      Outcome = "paid"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomePending   Outcome = "pending"
	OutcomeUnknown   Outcome = "unknown"
)

// OrderStatus returns the order status an outcome settles to, or "" if it settles nothing.
func (o Outcome) OrderStatus() string {
	switch o {
	case OutcomePaid:
		return db.OrderPaid
	case OutcomeFailed:
		return db.OrderFailed
	case OutcomeCancelled:
		return db.OrderCancelled
	}
	return ""
}

// Signal is one inbound outcome notification. Which correlation field is set
// depends on the rail: simulation and pull checks carry OrderID, Stars carries
// ChargeRef, the CryptoBot webhook carries ChargeRef and InvoiceID.
type Signal struct {
	Method     string
	TelegramID int64
	OrderID    uint
	ChargeRef  string
	InvoiceID  string
	Status     string // raw provider or button status, empty when the backend must look it up
	Currency   string
	Amount     int64
}

type InvoiceRequest struct {
	Order       *db.Order
	ChargeRef   string
	Title       string
	Description string
}

type Invoice struct {
	ExternalID string
	PayURL     string
}

// Backend is one payment rail.
type Backend interface {
	Method() string
	CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error)
	// Confirm maps a signal to an outcome. An error means the provider could not be reached.
	Confirm(ctx context.Context, s Signal) (Outcome, error)
}

type Registry struct {
	backends map[string]Backend
	order    []string
}

func NewRegistry(backends ...Backend) *Registry {
	r := &Registry{backends: make(map[string]Backend, len(backends))}
	for _, b := range backends {
		if _, dup := r.backends[b.Method()]; !dup {
			r.order = append(r.order, b.Method())
		}
		r.backends[b.Method()] = b
	}
	return r
}

func (r *Registry) Get(method string) (Backend, error) {
	b, ok := r.backends[method]
	if !ok {
		return nil, ErrMethodUnsupported
	}
	return b, nil
}

// Methods lists enabled methods in registration order.
func (r *Registry) Methods() []string {
	return append([]string(nil), r.order...)
}
