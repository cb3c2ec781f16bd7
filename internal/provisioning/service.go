// Package provisioning submits paid orders to the master node and tracks the
// resulting config tasks until they are ready or failed.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"VPN-Shop-bot/internal/db"
	"VPN-Shop-bot/internal/eventlog"
)

var (
	ErrNotFound   = errors.New("connection not found")
	ErrInProgress = errors.New("connection is still being provisioned")
	ErrNotPaid    = errors.New("order is not paid")
)

const (
	taskRunning = "running"
	taskReady   = "ready"
	taskFailed  = "failed"
	taskUnknown = "unknown"
)

// mapTaskStatus folds the master node task states into running, ready, failed or unknown.
func mapTaskStatus(s string) string {
	switch s {
	case "pending", "running", "queued", "in_progress":
		return taskRunning
	case "done", "ready", "completed":
		return taskReady
	case "failed", "error":
		return taskFailed
	}
	return taskUnknown
}

func Terminal(status string) bool {
	return status == db.ConnReady || status == db.ConnFailed || status == db.ConnExpired
}

type Service struct {
	db          *gorm.DB
	node        Node
	events      *eventlog.Log
	log         *zap.Logger
	callTimeout time.Duration
	now         func() time.Time
}

func NewService(gdb *gorm.DB, node Node, events *eventlog.Log, log *zap.Logger, callTimeout time.Duration) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if callTimeout <= 0 {
		callTimeout = 12 * time.Second
	}
	return &Service{db: gdb, node: node, events: events, log: log, callTimeout: callTimeout, now: time.Now}
}

// Submit requests a config for a paid order. created is false when the order
// already had a connection, in which case nothing is sent to the node.
// A node failure leaves the connection in failed status.
func (s *Service) Submit(ctx context.Context, o *db.Order) (conn *db.Connection, created bool, err error) {
	if o.Status != db.OrderPaid {
		return nil, false, fmt.Errorf("%w: order %d is %s", ErrNotPaid, o.ID, o.Status)
	}

	row := db.Connection{
		TelegramID: o.TelegramID,
		OrderID:    o.ID,
		Server:     o.Server,
		Protocol:   o.Protocol,
		Devices:    o.Devices,
		Months:     o.Months,
		Status:     db.ConnSubmitted,
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "order_id"}}, DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return nil, false, fmt.Errorf("create connection for order %d: %w", o.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		existing, err := s.byOrder(ctx, o.ID)
		return existing, false, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	taskID, nodeErr := s.node.CreateConfig(callCtx, ConfigRequest{
		OrderID:    o.ID,
		TelegramID: o.TelegramID,
		Server:     o.Server,
		Protocol:   o.Protocol,
		Months:     o.Months,
		Devices:    o.Devices,
	})
	cancel()

	ev := eventlog.Event{OrderID: eventlog.OrderRef(o.ID), TelegramID: o.TelegramID, Method: o.PaymentMethod}
	updates := map[string]interface{}{"updated_at": s.now()}
	if nodeErr != nil {
		updates["status"] = db.ConnFailed
		updates["last_error"] = nodeErr.Error()
		ev.Type = eventlog.ProvisioningFailed
		ev.Details = nodeErr.Error()
		s.log.Warn("provisioning submit failed", zap.Uint("order_id", o.ID), zap.Error(nodeErr))
	} else {
		updates["task_id"] = taskID
		ev.Type = eventlog.ProvisioningSubmitted
		ev.Details = "task_id=" + taskID
	}
	if err := s.db.WithContext(ctx).Model(&db.Connection{}).Where("id = ?", row.ID).Updates(updates).Error; err != nil {
		return nil, true, fmt.Errorf("record provisioning task for order %d: %w", o.ID, err)
	}
	s.events.Append(ctx, ev)

	conn, err = s.Get(ctx, row.ID)
	return conn, true, err
}

// Poll performs a single status check of the connection's task.
// Transport errors are recorded on the row and returned; status is untouched.
func (s *Service) Poll(ctx context.Context, c *db.Connection) (*db.Connection, error) {
	if Terminal(c.Status) {
		return c, nil
	}
	ev := eventlog.Event{OrderID: eventlog.OrderRef(c.OrderID), TelegramID: c.TelegramID}
	if c.TaskID == "" {
		s.events.Appendf(ctx, withType(ev, eventlog.ProvisioningFailed), "connection %d has no task", c.ID)
		return s.finish(ctx, c, db.ConnFailed, map[string]interface{}{"last_error": "no task id"})
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	task, err := s.node.TaskStatus(callCtx, c.TaskID)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return c, ctx.Err()
		}
		s.events.Appendf(ctx, withType(ev, eventlog.ProvisioningPollError), "task %s: %v", c.TaskID, err)
		if uerr := s.db.WithContext(ctx).Model(&db.Connection{}).
			Where("id = ? AND task_id = ?", c.ID, c.TaskID).
			Updates(map[string]interface{}{
				"poll_attempts": gorm.Expr("poll_attempts + 1"),
				"last_error":    err.Error(),
				"updated_at":    s.now(),
			}).Error; uerr != nil {
			s.log.Warn("poll error not recorded", zap.Uint("connection_id", c.ID), zap.Error(uerr))
		}
		return c, err
	}

	switch mapTaskStatus(task.Status) {
	case taskReady:
		expires := s.now().AddDate(0, max(c.Months, 1), 0)
		s.events.Appendf(ctx, withType(ev, eventlog.ProvisioningReady), "task %s", c.TaskID)
		return s.finish(ctx, c, db.ConnReady, map[string]interface{}{
			"config":     task.Config,
			"expires_at": expires,
			"last_error": "",
		})
	case taskFailed:
		msg := firstNonEmpty(task.Message, "task failed")
		s.events.Appendf(ctx, withType(ev, eventlog.ProvisioningFailed), "task %s: %s", c.TaskID, msg)
		return s.finish(ctx, c, db.ConnFailed, map[string]interface{}{"last_error": msg})
	case taskUnknown:
		s.events.Appendf(ctx, withType(ev, eventlog.ProvisioningPollError), "task %s: unmapped status %q", c.TaskID, task.Status)
	}

	err = s.db.WithContext(ctx).Model(&db.Connection{}).
		Where("id = ? AND task_id = ? AND status IN ?", c.ID, c.TaskID, []string{db.ConnSubmitted, db.ConnPolling}).
		Updates(map[string]interface{}{
			"status":        db.ConnPolling,
			"poll_attempts": gorm.Expr("poll_attempts + 1"),
			"updated_at":    s.now(),
		}).Error
	if err != nil {
		return c, err
	}
	return s.Get(ctx, c.ID)
}

func (s *Service) finish(ctx context.Context, c *db.Connection, status string, fields map[string]interface{}) (*db.Connection, error) {
	fields["status"] = status
	fields["updated_at"] = s.now()
	fields["poll_attempts"] = gorm.Expr("poll_attempts + 1")
	err := s.db.WithContext(ctx).Model(&db.Connection{}).
		Where("id = ? AND task_id = ? AND status IN ?", c.ID, c.TaskID, []string{db.ConnSubmitted, db.ConnPolling}).
		Updates(fields).Error
	if err != nil {
		return c, err
	}
	return s.Get(ctx, c.ID)
}

// Renew asks the node for a fresh config on the same connection row. No order or payment is created.
func (s *Service) Renew(ctx context.Context, connID uint, telegramID int64) (*db.Connection, error) {
	c, err := s.Get(ctx, connID)
	if err != nil {
		return nil, err
	}
	if c.TelegramID != telegramID {
		return nil, ErrNotFound
	}
	if !Terminal(c.Status) {
		return nil, ErrInProgress
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	taskID, err := s.node.RenewConfig(callCtx, ConfigRequest{
		ConnectionID: c.ID,
		RenewOf:      c.OrderID,
		TelegramID:   c.TelegramID,
		Server:       c.Server,
		Protocol:     c.Protocol,
		Months:       c.Months,
		Devices:      c.Devices,
	})
	cancel()
	ev := eventlog.Event{OrderID: eventlog.OrderRef(c.OrderID), TelegramID: c.TelegramID}
	if err != nil {
		s.events.Appendf(ctx, withType(ev, eventlog.ProvisioningPollError), "renew connection %d: %v", c.ID, err)
		return nil, err
	}

	res := s.db.WithContext(ctx).Model(&db.Connection{}).
		Where("id = ? AND status = ?", c.ID, c.Status).
		Updates(map[string]interface{}{
			"task_id":           taskID,
			"status":            db.ConnSubmitted,
			"last_error":        "",
			"poll_attempts":     0,
			"notified_expiring": false,
			"updated_at":        s.now(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrInProgress
	}
	s.events.Appendf(ctx, withType(ev, eventlog.ProvisioningRenewed), "connection %d task_id=%s", c.ID, taskID)
	return s.Get(ctx, c.ID)
}

// MarkFailed fails a connection that is still in progress.
func (s *Service) MarkFailed(ctx context.Context, id uint, reason string) (*db.Connection, bool, error) {
	res := s.db.WithContext(ctx).Model(&db.Connection{}).
		Where("id = ? AND status IN ?", id, []string{db.ConnSubmitted, db.ConnPolling}).
		Updates(map[string]interface{}{"status": db.ConnFailed, "last_error": reason, "updated_at": s.now()})
	if res.Error != nil {
		return nil, false, res.Error
	}
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if res.RowsAffected == 1 {
		s.events.Appendf(ctx, eventlog.Event{
			OrderID:    eventlog.OrderRef(c.OrderID),
			TelegramID: c.TelegramID,
			Type:       eventlog.ProvisioningFailed,
		}, "connection %d: %s", id, reason)
	}
	return c, res.RowsAffected == 1, nil
}

func (s *Service) Get(ctx context.Context, id uint) (*db.Connection, error) {
	var c db.Connection
	err := s.db.WithContext(ctx).First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Service) byOrder(ctx context.Context, orderID uint) (*db.Connection, error) {
	var c db.Connection
	err := s.db.WithContext(ctx).Where("order_id = ?", orderID).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Service) ListForUser(ctx context.Context, telegramID int64) ([]db.Connection, error) {
	var conns []db.Connection
	err := s.db.WithContext(ctx).Where("telegram_id = ?", telegramID).Order("id desc").Find(&conns).Error
	return conns, err
}

// ListUnfinished returns connections still waiting on the node.
func (s *Service) ListUnfinished(ctx context.Context) ([]db.Connection, error) {
	var conns []db.Connection
	err := s.db.WithContext(ctx).
		Where("status IN ?", []string{db.ConnSubmitted, db.ConnPolling}).
		Order("id asc").Find(&conns).Error
	return conns, err
}

// ExpireDue moves ready connections past their expiration to expired and returns them.
func (s *Service) ExpireDue(ctx context.Context) ([]db.Connection, error) {
	now := s.now()
	var due []db.Connection
	if err := s.db.WithContext(ctx).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at < ?", db.ConnReady, now).
		Find(&due).Error; err != nil {
		return nil, err
	}
	var expired []db.Connection
	for _, c := range due {
		res := s.db.WithContext(ctx).Model(&db.Connection{}).
			Where("id = ? AND status = ?", c.ID, db.ConnReady).
			Updates(map[string]interface{}{"status": db.ConnExpired, "updated_at": now})
		if res.Error != nil {
			return expired, res.Error
		}
		if res.RowsAffected == 1 {
			c.Status = db.ConnExpired
			expired = append(expired, c)
		}
	}
	return expired, nil
}

// ExpiringWithin returns ready connections expiring inside the window that were not yet announced.
func (s *Service) ExpiringWithin(ctx context.Context, window time.Duration) ([]db.Connection, error) {
	now := s.now()
	var conns []db.Connection
	err := s.db.WithContext(ctx).
		Where("status = ? AND notified_expiring = ? AND expires_at > ? AND expires_at <= ?",
			db.ConnReady, false, now, now.Add(window)).
		Find(&conns).Error
	return conns, err
}

func (s *Service) MarkNotified(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Model(&db.Connection{}).Where("id = ?", id).Update("notified_expiring", true).Error
}

func withType(e eventlog.Event, t string) eventlog.Event {
	e.Type = t
	return e
}
