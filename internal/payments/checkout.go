package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"VPN-Shop-bot/internal/db"
	"VPN-Shop-bot/internal/draft"
	"VPN-Shop-bot/internal/eventlog"
	"VPN-Shop-bot/internal/ledger"
	"VPN-Shop-bot/internal/pricing"
)

// Quoter prices a selection against the current overrides.
type Quoter interface {
	Quote(ctx context.Context, sel pricing.Selection) (pricing.Amount, error)
}

type Checkout struct {
	ledger   *ledger.Ledger
	drafts   draft.Store
	quoter   Quoter
	backends *Registry
	events   *eventlog.Log
	log      *zap.Logger
	newRef   func() string
}

func NewCheckout(l *ledger.Ledger, drafts draft.Store, quoter Quoter, backends *Registry, events *eventlog.Log, log *zap.Logger) *Checkout {
	if log == nil {
		log = zap.NewNop()
	}
	return &Checkout{
		ledger:   l,
		drafts:   drafts,
		quoter:   quoter,
		backends: backends,
		events:   events,
		log:      log,
		newRef:   uuid.NewString,
	}
}

// SelectionFromDraft validates the draft. Ready plans are pinned to the auto server and default protocol.
func SelectionFromDraft(d *db.Draft) (pricing.Selection, error) {
	sel := pricing.Selection{Plan: d.Plan, Server: d.Server, Protocol: d.Protocol, Months: d.Months, Devices: d.Devices}
	switch {
	case pricing.IsTier(d.Plan):
		sel.Server = pricing.ServerAuto
		sel.Protocol = pricing.ProtocolDefault
		sel.Devices = 1
	case d.Plan == pricing.PlanCustom:
		if !pricing.IsServer(d.Server) || !pricing.IsProtocol(d.Protocol) || d.Devices < 1 || d.Devices > pricing.MaxDevices {
			return sel, fmt.Errorf("%w: custom plan", ErrIncompleteDraft)
		}
	default:
		return sel, fmt.Errorf("%w: no plan", ErrIncompleteDraft)
	}
	if !pricing.IsMonths(d.Months) {
		return sel, fmt.Errorf("%w: no duration", ErrIncompleteDraft)
	}
	return sel, nil
}

// Quote prices the user's current draft.
func (c *Checkout) Quote(ctx context.Context, telegramID int64) (*db.Draft, pricing.Amount, error) {
	d, err := c.drafts.GetOrCreate(ctx, telegramID)
	if err != nil {
		return nil, pricing.Amount{}, err
	}
	sel, err := SelectionFromDraft(d)
	if err != nil {
		return d, pricing.Amount{}, err
	}
	amount, err := c.quoter.Quote(ctx, sel)
	return d, amount, err
}

// PlaceOrder copies the draft into a new pending order. The draft itself is kept until the order is paid.
func (c *Checkout) PlaceOrder(ctx context.Context, telegramID int64) (*db.Order, error) {
	d, err := c.drafts.GetOrCreate(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	sel, err := SelectionFromDraft(d)
	if err != nil {
		return nil, err
	}
	if _, err := c.backends.Get(d.PaymentMethod); err != nil {
		return nil, fmt.Errorf("%w: payment method %q", ErrIncompleteDraft, d.PaymentMethod)
	}
	amount, err := c.quoter.Quote(ctx, sel)
	if err != nil {
		return nil, err
	}
	return c.ledger.Create(ctx, ledger.Snapshot{TelegramID: telegramID, Selection: sel, Amount: amount}, d.PaymentMethod)
}

// IssueInvoice records a charge reference on the order and then asks the rail
// for an invoice. A provider failure leaves the order pending.
func (c *Checkout) IssueInvoice(ctx context.Context, o *db.Order, title, description string) (*Invoice, error) {
	backend, err := c.backends.Get(o.PaymentMethod)
	if err != nil {
		return nil, err
	}
	ref := c.newRef()
	if err := c.ledger.AttachChargeRef(ctx, o.ID, ref); err != nil {
		return nil, err
	}
	o.ChargeRef = &ref

	ev := eventlog.Event{OrderID: eventlog.OrderRef(o.ID), TelegramID: o.TelegramID, Method: o.PaymentMethod, ChargeRef: ref}
	inv, err := backend.CreateInvoice(ctx, InvoiceRequest{Order: o, ChargeRef: ref, Title: title, Description: description})
	if err != nil {
		c.events.Appendf(ctx, typed(ev, eventlog.InvoiceFailed), "%v", err)
		c.log.Warn("invoice not created", zap.Uint("order_id", o.ID), zap.String("method", o.PaymentMethod), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if inv.ExternalID != "" {
		if err := c.ledger.SetExternalInvoice(ctx, o.ID, inv.ExternalID); err != nil {
			return nil, err
		}
		o.ExternalInvoiceID = inv.ExternalID
	}
	c.events.Appendf(ctx, typed(ev, eventlog.InvoiceCreated), "external_id=%s usd_cents=%d stars=%d", inv.ExternalID, o.AmountUSDCents, o.AmountStars)
	return inv, nil
}

// ValidatePreCheckout accepts a Stars pre-checkout query only for a pending Stars order with the same amount.
func (c *Checkout) ValidatePreCheckout(ctx context.Context, payload, currency string, total int64) error {
	if currency != StarsCurrency {
		return fmt.Errorf("%w: currency %s", ErrPreCheckout, currency)
	}
	o, err := c.ledger.FindByChargeRef(ctx, payload)
	if errors.Is(err, ledger.ErrNotFound) {
		return fmt.Errorf("%w: unknown charge reference", ErrPreCheckout)
	}
	if err != nil {
		return err
	}
	if o.Status != db.OrderPending || o.PaymentMethod != db.MethodStars {
		return fmt.Errorf("%w: order %d is %s", ErrPreCheckout, o.ID, o.Status)
	}
	if o.AmountStars != total && !(o.AmountStars < 1 && total == 1) {
		return fmt.Errorf("%w: amount %d != %d", ErrPreCheckout, total, o.AmountStars)
	}
	return nil
}
