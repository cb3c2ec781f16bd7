// Package eventlog is the append-only audit trail of payment and provisioning signals.
package eventlog

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"VPN-Shop-bot/internal/db"
)

const (
	InvoiceCreated        = "invoice-created"
	InvoiceFailed         = "invoice-failed"
	OutcomeReceived       = "outcome-received"
	PollChecked           = "poll-checked"
	PollFailed            = "poll-failed"
	StatusChanged         = "status-changed"
	DuplicateIgnored      = "duplicate-ignored"
	OrderNotFound         = "order-not-found"
	InvoiceMismatch       = "invoice-mismatch"
	LatePayment           = "late-payment"
	ProvisioningSubmitted = "provisioning-submitted"
	ProvisioningFailed    = "provisioning-failed"
	ProvisioningReady     = "provisioning-ready"
	ProvisioningPollError = "provisioning-poll-error"
	ProvisioningRenewed   = "provisioning-renewed"
)

type Event struct {
	OrderID    *uint
	TelegramID int64
	Method     string
	Type       string
	Details    string
	ChargeRef  string
}

// Publisher mirrors stored events to an external stream.
type Publisher interface {
	Publish(ctx context.Context, e db.PaymentEvent) error
}

type Log struct {
	db  *gorm.DB
	pub Publisher
	log *zap.Logger
}

// New builds the log. pub may be nil.
func New(gdb *gorm.DB, pub Publisher, log *zap.Logger) *Log {
	if log == nil {
		log = zap.NewNop()
	}
	return &Log{db: gdb, pub: pub, log: log}
}

// Append stores the event. Failures are logged and never returned to the caller.
func (l *Log) Append(ctx context.Context, e Event) {
	row := db.PaymentEvent{
		OrderID:    e.OrderID,
		TelegramID: e.TelegramID,
		Method:     e.Method,
		EventType:  e.Type,
		Details:    e.Details,
		ChargeRef:  e.ChargeRef,
	}
	if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
		l.log.Error("payment event not stored",
			zap.String("type", e.Type),
			zap.Any("order_id", e.OrderID),
			zap.String("details", e.Details),
			zap.Error(err))
		return
	}
	if l.pub == nil {
		return
	}
	if err := l.pub.Publish(ctx, row); err != nil {
		l.log.Warn("payment event not published", zap.Uint("event_id", row.ID), zap.Error(err))
	}
}

// Appendf is Append with formatted details.
func (l *Log) Appendf(ctx context.Context, e Event, format string, args ...interface{}) {
	e.Details = fmt.Sprintf(format, args...)
	l.Append(ctx, e)
}

func (l *Log) ListForOrder(ctx context.Context, orderID uint) ([]db.PaymentEvent, error) {
	var events []db.PaymentEvent
	err := l.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id asc").Find(&events).Error
	return events, err
}

func (l *Log) CountByType(ctx context.Context, orderID uint, eventType string) (int64, error) {
	var n int64
	err := l.db.WithContext(ctx).Model(&db.PaymentEvent{}).
		Where("order_id = ? AND event_type = ?", orderID, eventType).
		Count(&n).Error
	return n, err
}

// OrderRef is a helper for the nullable order reference.
func OrderRef(id uint) *uint {
	if id == 0 {
		return nil
	}
	return &id
}
