// Package draft keeps the single in-progress selection of every user.
package draft

import (
	"context"

	"VPN-Shop-bot/internal/db"
)

// Store is last-writer-wins and keyed by Telegram user id.
type Store interface {
	GetOrCreate(ctx context.Context, telegramID int64) (*db.Draft, error)
	Update(ctx context.Context, telegramID int64, p Patch) (*db.Draft, error)
	Clear(ctx context.Context, telegramID int64) error
}

// Patch carries the fields changed by one selection step. Nil fields are left as they are.
type Patch struct {
	Plan          *string
	Server        *string
	Protocol      *string
	Months        *int
	Devices       *int
	PaymentMethod *string
}

func Str(v string) *string { return &v }
func Int(v int) *int       { return &v }

func (p Patch) apply(d *db.Draft) {
	if p.Plan != nil {
		d.Plan = *p.Plan
	}
	if p.Server != nil {
		d.Server = *p.Server
	}
	if p.Protocol != nil {
		d.Protocol = *p.Protocol
	}
	if p.Months != nil {
		d.Months = *p.Months
	}
	if p.Devices != nil {
		d.Devices = *p.Devices
	}
	if p.PaymentMethod != nil {
		d.PaymentMethod = *p.PaymentMethod
	}
}

func (p Patch) columns() map[string]interface{} {
	cols := map[string]interface{}{}
	if p.Plan != nil {
		cols["plan"] = *p.Plan
	}
	if p.Server != nil {
		cols["server"] = *p.Server
	}
	if p.Protocol != nil {
		cols["protocol"] = *p.Protocol
	}
	if p.Months != nil {
		cols["months"] = *p.Months
	}
	if p.Devices != nil {
		cols["devices"] = *p.Devices
	}
	if p.PaymentMethod != nil {
		cols["payment_method"] = *p.PaymentMethod
	}
	return cols
}
