// Package ledger stores orders and applies their status transitions.
//
// Status only moves out of pending. Transition is a conditional update, so the
// first writer wins and every later delivery of an outcome is reported as a
// no-op instead of an error.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"VPN-Shop-bot/internal/db"
	"VPN-Shop-bot/internal/pricing"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order transition")
	ErrNotPending        = errors.New("order is not pending")
)

// Snapshot is the finalized selection copied from a draft.
type Snapshot struct {
	TelegramID int64
	Selection  pricing.Selection
	Amount     pricing.Amount
}

type Ledger struct {
	db  *gorm.DB
	now func() time.Time
}

func New(gdb *gorm.DB) *Ledger {
	return &Ledger{db: gdb, now: time.Now}
}

func (l *Ledger) Create(ctx context.Context, snap Snapshot, method string) (*db.Order, error) {
	o := db.Order{
		TelegramID:     snap.TelegramID,
		Plan:           snap.Selection.Plan,
		Server:         snap.Selection.Server,
		Protocol:       snap.Selection.Protocol,
		Months:         snap.Selection.Months,
		Devices:        snap.Selection.Devices,
		PaymentMethod:  method,
		AmountUSDCents: snap.Amount.USDCents,
		AmountRUB:      snap.Amount.RUB,
		AmountStars:    snap.Amount.Stars,
		Status:         db.OrderPending,
	}
	if err := l.db.WithContext(ctx).Create(&o).Error; err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	return &o, nil
}

// Transition moves the order to target if its current status is one of expected
// (pending when none is given). changed is false when the guard did not match.
func (l *Ledger) Transition(ctx context.Context, id uint, target, reason string, expected ...string) (*db.Order, bool, error) {
	switch target {
	case db.OrderPaid, db.OrderFailed, db.OrderCancelled:
	default:
		return nil, false, fmt.Errorf("%w: to %q", ErrInvalidTransition, target)
	}
	if len(expected) == 0 {
		expected = []string{db.OrderPending}
	}

	now := l.now()
	updates := map[string]interface{}{"status": target, "updated_at": now}
	if target == db.OrderPaid {
		updates["paid_at"] = now
	}
	if reason != "" {
		updates["failure_reason"] = reason
	}

	res := l.db.WithContext(ctx).Model(&db.Order{}).
		Where("id = ? AND status IN ?", id, expected).
		Updates(updates)
	if res.Error != nil {
		return nil, false, fmt.Errorf("transition order %d to %s: %w", id, target, res.Error)
	}

	o, err := l.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return o, res.RowsAffected == 1, nil
}

// AttachChargeRef records the correlation key before an invoice is issued.
func (l *Ledger) AttachChargeRef(ctx context.Context, id uint, ref string) error {
	res := l.db.WithContext(ctx).Model(&db.Order{}).
		Where("id = ? AND status = ?", id, db.OrderPending).
		Updates(map[string]interface{}{"charge_ref": ref, "updated_at": l.now()})
	if res.Error != nil {
		return fmt.Errorf("attach charge ref to order %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrNotPending, id)
	}
	return nil
}

func (l *Ledger) SetExternalInvoice(ctx context.Context, id uint, invoiceID string) error {
	return l.db.WithContext(ctx).Model(&db.Order{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"external_invoice_id": invoiceID, "updated_at": l.now()}).Error
}

func (l *Ledger) GetByID(ctx context.Context, id uint) (*db.Order, error) {
	return l.first(ctx, "id = ?", id)
}

func (l *Ledger) FindByChargeRef(ctx context.Context, ref string) (*db.Order, error) {
	if ref == "" {
		return nil, ErrNotFound
	}
	return l.first(ctx, "charge_ref = ?", ref)
}

func (l *Ledger) FindByExternalInvoice(ctx context.Context, method, invoiceID string) (*db.Order, error) {
	if invoiceID == "" {
		return nil, ErrNotFound
	}
	return l.first(ctx, "payment_method = ? AND external_invoice_id = ?", method, invoiceID)
}

// ListForUser returns the user's orders, newest first.
func (l *Ledger) ListForUser(ctx context.Context, telegramID int64, limit int) ([]db.Order, error) {
	var orders []db.Order
	q := l.db.WithContext(ctx).Where("telegram_id = ?", telegramID).Order("created_at desc, id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("list orders of %d: %w", telegramID, err)
	}
	return orders, nil
}

// ListPending returns pending orders of a method created before the cutoff, oldest first.
// An empty method matches all methods.
func (l *Ledger) ListPending(ctx context.Context, method string, createdBefore time.Time, limit int) ([]db.Order, error) {
	var orders []db.Order
	q := l.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", db.OrderPending, createdBefore).
		Order("created_at asc, id asc")
	if method != "" {
		q = q.Where("payment_method = ?", method)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("list pending orders: %w", err)
	}
	return orders, nil
}

func (l *Ledger) first(ctx context.Context, query string, args ...interface{}) (*db.Order, error) {
	var o db.Order
	err := l.db.WithContext(ctx).Where(query, args...).First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}
