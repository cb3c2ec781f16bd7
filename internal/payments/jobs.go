package payments

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"VPN-Shop-bot/internal/db"
	"VPN-Shop-bot/internal/eventlog"
)

// SettleFunc is told about orders settled outside of a user interaction.
type SettleFunc func(ctx context.Context, res *Result)

// RunReconcileBatch pulls the status of pending CryptoBot invoices older than minAge.
func (r *Reconciler) RunReconcileBatch(ctx context.Context, minAge time.Duration, limit int, notify SettleFunc) error {
	orders, err := r.ledger.ListPending(ctx, db.MethodCryptoBot, time.Now().Add(-minAge), limit)
	if err != nil {
		return err
	}
	var firstErr error
	for _, o := range orders {
		if o.ExternalInvoiceID == "" {
			continue
		}
		res, err := r.Handle(ctx, Signal{Method: o.PaymentMethod, TelegramID: o.TelegramID, OrderID: o.ID, InvoiceID: o.ExternalInvoiceID})
		if err != nil {
			firstErr = keepFirstErr(firstErr, err)
			continue
		}
		if res.Changed && notify != nil {
			notify(ctx, res)
		}
	}
	return firstErr
}

// RunExpirePendingBatch cancels orders left pending longer than ttl. Orders
// with an external invoice are checked with the provider instead, since the
// user can still pay them; they settle from the invoice status.
func (r *Reconciler) RunExpirePendingBatch(ctx context.Context, ttl time.Duration, limit int, notify SettleFunc) error {
	orders, err := r.ledger.ListPending(ctx, "", time.Now().Add(-ttl), limit)
	if err != nil {
		return err
	}
	var firstErr error
	for _, o := range orders {
		if o.ExternalInvoiceID != "" {
			if err := r.settleFromInvoice(ctx, o, notify); err != nil {
				firstErr = keepFirstErr(firstErr, err)
			}
			continue
		}

		ev := eventlog.Event{OrderID: eventlog.OrderRef(o.ID), TelegramID: o.TelegramID, Method: o.PaymentMethod}
		r.events.Appendf(ctx, typed(ev, eventlog.OutcomeReceived), "outcome=%s pending longer than %s", OutcomeCancelled, ttl)

		updated, changed, err := r.ledger.Transition(ctx, o.ID, db.OrderCancelled, "expired")
		if err != nil {
			firstErr = keepFirstErr(firstErr, err)
			continue
		}
		if !changed {
			r.events.Appendf(ctx, typed(ev, eventlog.DuplicateIgnored), "order is already %s", updated.Status)
			continue
		}
		r.events.Appendf(ctx, typed(ev, eventlog.StatusChanged), "%s -> %s", db.OrderPending, updated.Status)
		r.log.Info("pending order expired", zap.Uint("order_id", o.ID))
		if notify != nil {
			notify(ctx, &Result{Order: updated, Outcome: OutcomeCancelled, Changed: true})
		}
	}
	return firstErr
}

// settleFromInvoice pulls the invoice status of a stale order. An invoice that
// is still active or unreachable leaves the order pending for the next run.
func (r *Reconciler) settleFromInvoice(ctx context.Context, o db.Order, notify SettleFunc) error {
	res, err := r.Handle(ctx, Signal{Method: o.PaymentMethod, TelegramID: o.TelegramID, OrderID: o.ID})
	if IsRetryable(err) || errors.Is(err, ErrMethodUnsupported) {
		r.log.Info("stale order kept, invoice status unavailable", zap.Uint("order_id", o.ID), zap.Error(err))
		return nil
	}
	if err != nil {
		return err
	}
	if res.Changed && notify != nil {
		notify(ctx, res)
	}
	return nil
}

func keepFirstErr(current, next error) error {
	if current != nil {
		return current
	}
	return next
}

// IsRetryable reports errors the user can retry right away.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrUnmappable)
}
