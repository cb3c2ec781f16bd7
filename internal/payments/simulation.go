package payments

import (
	"context"

	"VPN-Shop-bot/internal/db"
)

// Simulation buttons.
const (
	SimSuccess = "success"
	SimFailed  = "failed"
	SimCancel  = "cancel"
)

// Simulation is the local rail: the user picks the outcome with a button.
type Simulation struct{}

func (Simulation) Method() string { return db.MethodSimulation }

func (Simulation) CreateInvoice(context.Context, InvoiceRequest) (*Invoice, error) {
	return &Invoice{}, nil
}

func (Simulation) Confirm(_ context.Context, s Signal) (Outcome, error) {
	switch s.Status {
	case SimSuccess:
		return OutcomePaid, nil
	case SimFailed:
		return OutcomeFailed, nil
	case SimCancel:
		return OutcomeCancelled, nil
	}
	return OutcomeUnknown, nil
}
