// Package admin answers the /admin_ commands of support admins.
package admin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"VPN-Shop-bot/internal/db"
	"VPN-Shop-bot/internal/eventlog"
	"VPN-Shop-bot/internal/ledger"
	"VPN-Shop-bot/internal/logger"
)

// PollRegistry reports the connections with a running poll loop.
type PollRegistry interface {
	Running() []uint
}

type Handler struct {
	db      *gorm.DB
	ledger  *ledger.Ledger
	events  *eventlog.Log
	polls   PollRegistry
	isAdmin func(int64) bool
	now     func() time.Time
}

func NewHandler(gdb *gorm.DB, l *ledger.Ledger, events *eventlog.Log, polls PollRegistry, isAdmin func(int64) bool) *Handler {
	return &Handler{db: gdb, ledger: l, events: events, polls: polls, isAdmin: isAdmin, now: time.Now}
}

func (h *Handler) IsAdmin(userID int64) bool {
	return h != nil && h.isAdmin != nil && h.isAdmin(userID)
}

// Commands lists what admins see on their reply keyboard.
func Commands() []string {
	return []string{"/admin_stats", "/admin_order", "/admin_servers", "/admin_polls"}
}

// Execute runs one command and returns the reply text. Unknown commands and
// non-admin callers get ok=false.
func (h *Handler) Execute(ctx context.Context, adminID int64, cmd, args string) (reply string, ok bool) {
	if !h.IsAdmin(adminID) {
		return "", false
	}
	var err error
	switch cmd {
	case "admin_stats":
		reply, err = h.stats(ctx)
	case "admin_order":
		reply, err = h.order(ctx, args)
	case "admin_servers":
		reply, err = h.servers(ctx)
	case "admin_polls":
		reply = h.pollsText()
	default:
		return "", false
	}
	logger.LogAdminAction(adminID, cmd, args)
	if err != nil {
		return "Error: " + err.Error(), true
	}
	return reply, true
}

func (h *Handler) stats(ctx context.Context) (string, error) {
	now := h.now()
	gdb := h.db.WithContext(ctx)
	today, err := db.CollectStats(gdb, now.Truncate(24*time.Hour), now)
	if err != nil {
		return "", err
	}
	month, err := db.CollectStats(gdb, now.AddDate(0, 0, -30), now)
	if err != nil {
		return "", err
	}
	all, err := db.CollectStats(gdb, time.Time{}, now)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Users: %d\n", all.Users)
	statuses := make([]string, 0, len(all.OrdersByStatus))
	for s := range all.OrdersByStatus {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	sb.WriteString("Orders:")
	for _, s := range statuses {
		fmt.Fprintf(&sb, " %s=%d", s, all.OrdersByStatus[s])
	}
	fmt.Fprintf(&sb, "\nRevenue: today $%s, 30 days $%s, total $%s\n",
		usd(today.PaidUSDCents), usd(month.PaidUSDCents), usd(all.PaidUSDCents))
	fmt.Fprintf(&sb, "Configs: ready %d, in progress %d", all.ActiveConns, all.ConnsInProgress)
	return sb.String(), nil
}

func (h *Handler) order(ctx context.Context, args string) (string, error) {
	fields := strings.Fields(args)
	if len(fields) != 1 {
		return "Usage: /admin_order <id>", nil
	}
	id, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return "Usage: /admin_order <id>", nil
	}
	o, err := h.ledger.GetByID(ctx, uint(id))
	if errors.Is(err, ledger.ErrNotFound) {
		return fmt.Sprintf("Order #%d not found", id), nil
	}
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Order #%d user %d\n%s %s/%s %d mo x%d dev\n", o.ID, o.TelegramID, o.Plan, o.Server, o.Protocol, o.Months, o.Devices)
	fmt.Fprintf(&sb, "Method: %s, status: %s", o.PaymentMethod, o.Status)
	if o.FailureReason != "" {
		fmt.Fprintf(&sb, " (%s)", o.FailureReason)
	}
	fmt.Fprintf(&sb, "\nAmount: $%s / %d RUB / %d XTR\n", usd(o.AmountUSDCents), o.AmountRUB, o.AmountStars)
	if o.ExternalInvoiceID != "" {
		fmt.Fprintf(&sb, "Invoice: %s\n", o.ExternalInvoiceID)
	}

	events, err := h.events.ListForOrder(ctx, o.ID)
	if err != nil {
		return "", err
	}
	sb.WriteString("Events:\n")
	for _, e := range events {
		fmt.Fprintf(&sb, "%s %s %s\n", e.CreatedAt.Format("02.01 15:04:05"), e.EventType, e.Details)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (h *Handler) servers(ctx context.Context) (string, error) {
	list, err := db.ListServers(h.db.WithContext(ctx))
	if err != nil {
		return "", err
	}
	if len(list) == 0 {
		return "No servers reported by the master node yet", nil
	}
	var sb strings.Builder
	sb.WriteString("Servers:\n")
	for _, s := range list {
		fmt.Fprintf(&sb, "%s (%s): %s, ping %d ms, checked %s\n", s.ID, s.Country, s.Status, s.PingMS, s.UpdatedAt.Format("02.01 15:04"))
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (h *Handler) pollsText() string {
	ids := h.polls.Running()
	if len(ids) == 0 {
		return "No active poll loops"
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	return fmt.Sprintf("Polling %d connections: %s", len(ids), strings.Join(parts, ", "))
}

func usd(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
