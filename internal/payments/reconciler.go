package payments

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"VPN-Shop-bot/internal/db"
	"VPN-Shop-bot/internal/draft"
	"VPN-Shop-bot/internal/eventlog"
	"VPN-Shop-bot/internal/ledger"
	"VPN-Shop-bot/internal/logger"
	"VPN-Shop-bot/internal/provisioning"
)

// Provisioner submits a paid order to the master node.
type Provisioner interface {
	Submit(ctx context.Context, o *db.Order) (*db.Connection, bool, error)
}

// PollStarter schedules status checks for a submitted connection.
type PollStarter interface {
	Start(c *db.Connection) bool
}

// Result describes what a signal did. Changed is true only for the delivery
// that moved the order out of pending.
type Result struct {
	Order      *db.Order
	Outcome    Outcome
	Changed    bool
	Connection *db.Connection
}

type Reconciler struct {
	ledger      *ledger.Ledger
	drafts      draft.Store
	backends    *Registry
	events      *eventlog.Log
	provisioner Provisioner
	poller      PollStarter
	log         *zap.Logger
}

func NewReconciler(l *ledger.Ledger, drafts draft.Store, backends *Registry, events *eventlog.Log, provisioner Provisioner, poller PollStarter, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		ledger:      l,
		drafts:      drafts,
		backends:    backends,
		events:      events,
		provisioner: provisioner,
		poller:      poller,
		log:         log,
	}
}

// Handle applies one outcome signal. Every signal is logged before the order
// transition. Repeated deliveries return Changed=false and have no side effects.
func (r *Reconciler) Handle(ctx context.Context, sig Signal) (*Result, error) {
	ev := eventlog.Event{
		OrderID:    eventlog.OrderRef(sig.OrderID),
		TelegramID: sig.TelegramID,
		Method:     sig.Method,
		ChargeRef:  sig.ChargeRef,
	}

	backend, err := r.backends.Get(sig.Method)
	if err != nil {
		r.events.Appendf(ctx, typed(ev, eventlog.OutcomeReceived), "unsupported method status=%q", sig.Status)
		return nil, err
	}

	o, err := r.resolve(ctx, sig)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			r.events.Appendf(ctx, typed(ev, eventlog.OrderNotFound), "status=%q invoice=%s", sig.Status, sig.InvoiceID)
		}
		return nil, err
	}
	ev.OrderID = eventlog.OrderRef(o.ID)
	ev.TelegramID = o.TelegramID

	bound, err := bindInvoice(o, sig)
	if err != nil {
		r.events.Appendf(ctx, typed(ev, eventlog.InvoiceMismatch), "signal invoice=%q order invoice=%q", sig.InvoiceID, o.ExternalInvoiceID)
		r.log.Warn("payment signal rejected", zap.Uint("order_id", o.ID), zap.String("invoice", sig.InvoiceID), zap.Error(err))
		return nil, err
	}
	sig = bound

	outcome, err := backend.Confirm(ctx, sig)
	if err != nil {
		r.events.Appendf(ctx, typed(ev, eventlog.PollFailed), "invoice=%s: %v", sig.InvoiceID, err)
		r.log.Warn("payment confirmation unavailable", zap.String("method", sig.Method), zap.Uint("order_id", o.ID), zap.Error(err))
		return &Result{Order: o, Outcome: OutcomePending}, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	r.events.Appendf(ctx, typed(ev, eventlog.OutcomeReceived), "outcome=%s status=%q invoice=%s", outcome, sig.Status, sig.InvoiceID)
	res := &Result{Order: o, Outcome: outcome}

	switch outcome {
	case OutcomePending:
		r.events.Appendf(ctx, typed(ev, eventlog.PollChecked), "still pending")
		return res, nil
	case OutcomeUnknown:
		r.events.Appendf(ctx, typed(ev, eventlog.PollChecked), "unmapped status %q", sig.Status)
		return res, fmt.Errorf("%w: %q", ErrUnmappable, sig.Status)
	}

	reason := ""
	if outcome != OutcomePaid {
		reason = fmt.Sprintf("%s: %s", sig.Method, firstNonEmpty(sig.Status, string(outcome)))
	}
	o, changed, err := r.ledger.Transition(ctx, o.ID, outcome.OrderStatus(), reason)
	if err != nil {
		return nil, err
	}
	res.Order = o
	res.Changed = changed
	if !changed {
		if outcome == OutcomePaid && o.Status != db.OrderPaid && sig.Method != db.MethodSimulation {
			r.latePayment(ctx, ev, o, sig)
			return res, nil
		}
		r.events.Appendf(ctx, typed(ev, eventlog.DuplicateIgnored), "outcome=%s order is already %s", outcome, o.Status)
		return res, nil
	}
	r.events.Appendf(ctx, typed(ev, eventlog.StatusChanged), "%s -> %s", db.OrderPending, o.Status)
	r.log.Info("order settled", zap.Uint("order_id", o.ID), zap.String("status", o.Status), zap.String("method", o.PaymentMethod))

	if o.Status == db.OrderPaid {
		res.Connection = r.afterPaid(ctx, o)
	}
	return res, nil
}

// latePayment records money taken for an order that had already been closed.
// Nothing is provisioned; support settles it by hand.
func (r *Reconciler) latePayment(ctx context.Context, ev eventlog.Event, o *db.Order, sig Signal) {
	r.events.Appendf(ctx, typed(ev, eventlog.LatePayment), "paid after the order became %s invoice=%s", o.Status, sig.InvoiceID)
	r.log.Error("payment for a closed order", zap.Uint("order_id", o.ID), zap.String("status", o.Status), zap.String("method", sig.Method))
	logger.NotifyAdmin(fmt.Sprintf("Order #%d (user %d) was paid via %s after it became %s. Refund or provision it manually.",
		o.ID, o.TelegramID, sig.Method, o.Status))
}

func (r *Reconciler) afterPaid(ctx context.Context, o *db.Order) *db.Connection {
	if err := r.drafts.Clear(ctx, o.TelegramID); err != nil {
		r.log.Warn("draft not cleared", zap.Int64("telegram_id", o.TelegramID), zap.Error(err))
	}
	conn, created, err := r.provisioner.Submit(ctx, o)
	if err != nil {
		r.log.Error("provisioning not recorded", zap.Uint("order_id", o.ID), zap.Error(err))
		return nil
	}
	if created && !provisioning.Terminal(conn.Status) {
		r.poller.Start(conn)
	}
	return conn
}

func (r *Reconciler) resolve(ctx context.Context, sig Signal) (*db.Order, error) {
	var (
		o   *db.Order
		err error
	)
	switch {
	case sig.OrderID != 0:
		o, err = r.ledger.GetByID(ctx, sig.OrderID)
	case sig.ChargeRef != "":
		o, err = r.ledger.FindByChargeRef(ctx, sig.ChargeRef)
	case sig.InvoiceID != "":
		o, err = r.ledger.FindByExternalInvoice(ctx, sig.Method, sig.InvoiceID)
	default:
		return nil, ErrOrderNotFound
	}
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	// the signal must agree with everything the order knows about itself
	if o.PaymentMethod != sig.Method ||
		(sig.TelegramID != 0 && o.TelegramID != sig.TelegramID) ||
		(sig.ChargeRef != "" && (o.ChargeRef == nil || *o.ChargeRef != sig.ChargeRef)) {
		return nil, ErrOrderNotFound
	}
	return o, nil
}

// bindInvoice ties a CryptoBot signal to the invoice recorded on the order.
// A pull check carries no status and is only ever answered for that invoice.
// A webhook already matched the charge reference and may name the invoice
// when the order never got to store it.
func bindInvoice(o *db.Order, sig Signal) (Signal, error) {
	if o.PaymentMethod != db.MethodCryptoBot {
		return sig, nil
	}
	if sig.ChargeRef == "" && o.ChargeRef != nil {
		sig.ChargeRef = *o.ChargeRef
	}
	switch {
	case o.ExternalInvoiceID != "" && sig.InvoiceID != "" && sig.InvoiceID != o.ExternalInvoiceID:
		return sig, ErrInvoiceMismatch
	case o.ExternalInvoiceID != "":
		sig.InvoiceID = o.ExternalInvoiceID
	case sig.Status == "" || sig.InvoiceID == "":
		return sig, ErrInvoiceMismatch
	}
	return sig, nil
}

func typed(e eventlog.Event, t string) eventlog.Event {
	e.Type = t
	return e
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
