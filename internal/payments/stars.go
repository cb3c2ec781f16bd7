package payments

import (
	"context"
	"fmt"

	"VPN-Shop-bot/internal/db"
)

const StarsCurrency = "XTR"

// InvoiceSender issues a Telegram Stars invoice in the user's chat.
type InvoiceSender interface {
	SendStarsInvoice(ctx context.Context, chatID int64, title, description, payload string, stars int64) error
}

// Stars is the push rail. The invoice payload is the order's charge reference
// and the confirmation arrives as a successful_payment message.
type Stars struct {
	sender InvoiceSender
}

func NewStars(sender InvoiceSender) *Stars {
	return &Stars{sender: sender}
}

func (s *Stars) Method() string { return db.MethodStars }

func (s *Stars) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	stars := req.Order.AmountStars
	if stars < 1 {
		stars = 1
	}
	if err := s.sender.SendStarsInvoice(ctx, req.Order.TelegramID, req.Title, req.Description, req.ChargeRef, stars); err != nil {
		return nil, fmt.Errorf("send stars invoice: %w", err)
	}
	return &Invoice{}, nil
}

func (s *Stars) Confirm(_ context.Context, sig Signal) (Outcome, error) {
	if sig.Currency != StarsCurrency || sig.ChargeRef == "" {
		return OutcomeUnknown, nil
	}
	return OutcomePaid, nil
}
