package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"VPN-Shop-bot/internal/db"
	"VPN-Shop-bot/internal/draft"
	"VPN-Shop-bot/internal/payments"
	"VPN-Shop-bot/internal/pricing"
	"VPN-Shop-bot/internal/provisioning"
)

// view is the chat a handler answers in.
type view struct {
	chatID int64
	userID int64
	lang   string
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	if _, err := b.Users.Ensure(ctx, msg.From.ID, msg.From.LanguageCode); err != nil {
		b.log.Error("user not stored", zap.Int64("telegram_id", msg.From.ID), zap.Error(err))
		return
	}
	v := view{chatID: msg.Chat.ID, userID: msg.From.ID, lang: b.Users.Language(ctx, msg.From.ID)}

	if msg.SuccessfulPayment != nil {
		b.handleStarsPayment(ctx, v, msg.SuccessfulPayment)
		return
	}
	if !msg.IsCommand() {
		return
	}

	cmd := msg.Command()
	if strings.HasPrefix(cmd, "admin_") {
		if reply, ok := b.Admin.Execute(ctx, v.userID, cmd, msg.CommandArguments()); ok {
			out := tgbotapi.NewMessage(v.chatID, reply)
			out.ReplyMarkup = adminReplyKeyboard()
			if _, err := b.api.Send(out); err != nil {
				b.log.Warn("admin reply not sent", zap.Error(err))
			}
			return
		}
	}
	b.show(ctx, v, tr(v.lang, "welcome"), mainMenu(v.lang))
}

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if q.From == nil || q.Message == nil || q.Message.Chat == nil {
		return
	}
	if _, err := b.Users.Ensure(ctx, q.From.ID, q.From.LanguageCode); err != nil {
		b.log.Error("user not stored", zap.Int64("telegram_id", q.From.ID), zap.Error(err))
		b.answer(q.ID, "")
		return
	}
	v := view{chatID: q.Message.Chat.ID, userID: q.From.ID, lang: b.Users.Language(ctx, q.From.ID)}

	if b.limiter.IsLimited(v.userID, actionOf(q.Data)) {
		b.answer(q.ID, tr(v.lang, "pay_slow_down"))
		return
	}
	b.answer(q.ID, "")
	b.route(ctx, v, q.Data)
}

// route dispatches callback data. Anything it does not understand leads back to a menu.
func (b *Bot) route(ctx context.Context, v view, data string) {
	switch data {
	case "menu:buy", "back:buy":
		b.show(ctx, v, tr(v.lang, "buy_title"), buyMenu(v.lang))
		return
	case "back:main":
		b.show(ctx, v, tr(v.lang, "welcome"), mainMenu(v.lang))
		return
	case "menu:account":
		b.show(ctx, v, tr(v.lang, "menu_account"), accountMenu(v.lang))
		return
	case "menu:lang":
		b.show(ctx, v, tr(v.lang, "lang_title"), languageMenu(v.lang))
		return
	case "buy:ready":
		b.showReadyPlans(ctx, v)
		return
	case "buy:custom":
		b.show(ctx, v, tr(v.lang, "custom_server_title"), customServerMenu(v.lang))
		return
	case "back:payment":
		b.showPayment(ctx, v)
		return
	case "menu:orders":
		b.showOrders(ctx, v)
		return
	case "menu:configs":
		b.showConfigs(ctx, v)
		return
	case "pay:start":
		b.startPayment(ctx, v)
		return
	}

	if args, ok := callbackArgs(data, "lang", 1); ok {
		if err := b.Users.SetLanguage(ctx, v.userID, args[0]); err != nil {
			b.fail(ctx, v, err)
			return
		}
		v.lang = b.Users.Language(ctx, v.userID)
		b.show(ctx, v, tr(v.lang, "welcome"), mainMenu(v.lang))
		return
	}
	if args, ok := callbackArgs(data, "ready_plan", 1); ok && pricing.IsTier(args[0]) {
		b.showReadyMonths(ctx, v, args[0])
		return
	}
	if args, ok := callbackArgs(data, "ready_month", 2); ok {
		months, err := strconv.Atoi(args[1])
		if err == nil && pricing.IsTier(args[0]) && pricing.IsMonths(months) {
			b.updateDraft(ctx, v, draft.Patch{
				Plan:     draft.Str(args[0]),
				Server:   draft.Str(pricing.ServerAuto),
				Protocol: draft.Str(pricing.ProtocolDefault),
				Months:   draft.Int(months),
				Devices:  draft.Int(1),
			})
			return
		}
	}
	if args, ok := callbackArgs(data, "custom_server", 1); ok && pricing.IsServer(args[0]) {
		b.show(ctx, v, tr(v.lang, "custom_protocol_title"), customProtocolMenu(v.lang, args[0]))
		return
	}
	if args, ok := callbackArgs(data, "custom_protocol", 2); ok && pricing.IsServer(args[0]) && pricing.IsProtocol(args[1]) {
		b.show(ctx, v, tr(v.lang, "custom_months_title"), customMonthsMenu(v.lang, args[0], args[1]))
		return
	}
	if args, ok := callbackArgs(data, "custom_month", 3); ok && pricing.IsServer(args[0]) && pricing.IsProtocol(args[1]) {
		if months, err := strconv.Atoi(args[2]); err == nil && pricing.IsMonths(months) {
			b.show(ctx, v, tr(v.lang, "custom_devices_title"), customDevicesMenu(v.lang, args[0], args[1], months))
			return
		}
	}
	if args, ok := callbackArgs(data, "custom_devices", 4); ok && pricing.IsServer(args[0]) && pricing.IsProtocol(args[1]) {
		months, errM := strconv.Atoi(args[2])
		devices, errD := strconv.Atoi(args[3])
		if errM == nil && errD == nil && pricing.IsMonths(months) && devices >= 1 && devices <= pricing.MaxDevices {
			b.updateDraft(ctx, v, draft.Patch{
				Plan:     draft.Str(pricing.PlanCustom),
				Server:   draft.Str(args[0]),
				Protocol: draft.Str(args[1]),
				Months:   draft.Int(months),
				Devices:  draft.Int(devices),
			})
			return
		}
	}
	if args, ok := callbackArgs(data, "payment", 1); ok {
		if _, err := b.Backends.Get(args[0]); err == nil {
			if _, err := b.Drafts.Update(ctx, v.userID, draft.Patch{PaymentMethod: draft.Str(args[0])}); err != nil {
				b.fail(ctx, v, err)
				return
			}
			b.showSummary(ctx, v)
			return
		}
	}
	if args, ok := callbackArgs(data, "pay:result", 2); ok {
		if id, err := strconv.ParseUint(args[1], 10, 64); err == nil {
			b.simulationResult(ctx, v, args[0], uint(id))
			return
		}
	}
	if args, ok := callbackArgs(data, "pay:check:cryptobot", 1); ok {
		if id, err := strconv.ParseUint(args[0], 10, 64); err == nil {
			b.checkCryptoBot(ctx, v, uint(id))
			return
		}
	}
	if args, ok := callbackArgs(data, "conn:renew", 1); ok {
		if id, err := strconv.ParseUint(args[0], 10, 64); err == nil {
			b.renew(ctx, v, uint(id))
			return
		}
	}

	b.show(ctx, v, tr(v.lang, "buy_title"), buyMenu(v.lang))
}

// callbackArgs splits data of the form "<prefix>:a:b..." into exactly n arguments.
func callbackArgs(data, prefix string, n int) ([]string, bool) {
	if !strings.HasPrefix(data, prefix+":") {
		return nil, false
	}
	args := strings.Split(strings.TrimPrefix(data, prefix+":"), ":")
	if len(args) != n {
		return nil, false
	}
	for _, a := range args {
		if a == "" {
			return nil, false
		}
	}
	return args, true
}

// actionOf names the rate-limited action of callback data, e.g. "pay:check".
func actionOf(data string) string {
	parts := strings.SplitN(data, ":", 3)
	if len(parts) < 2 {
		return data
	}
	return parts[0] + ":" + parts[1]
}

func (b *Bot) showReadyPlans(ctx context.Context, v view) {
	prices := map[string]pricing.Amount{}
	for _, plan := range pricing.Tiers {
		a, err := b.Prices.Quote(ctx, readySelection(plan, 1))
		if err == nil {
			prices[plan] = a
		}
	}
	b.show(ctx, v, tr(v.lang, "ready_plan_title"), readyPlanMenu(v.lang, prices))
}

func (b *Bot) showReadyMonths(ctx context.Context, v view, plan string) {
	prices := map[int]pricing.Amount{}
	for _, m := range pricing.Months {
		a, err := b.Prices.Quote(ctx, readySelection(plan, m))
		if err == nil {
			prices[m] = a
		}
	}
	b.show(ctx, v, tr(v.lang, "ready_months_title"), readyMonthsMenu(v.lang, plan, prices))
}

func readySelection(plan string, months int) pricing.Selection {
	return pricing.Selection{Plan: plan, Server: pricing.ServerAuto, Protocol: pricing.ProtocolDefault, Months: months, Devices: 1}
}

func (b *Bot) updateDraft(ctx context.Context, v view, p draft.Patch) {
	if _, err := b.Drafts.Update(ctx, v.userID, p); err != nil {
		b.fail(ctx, v, err)
		return
	}
	b.showPayment(ctx, v)
}

// showPayment prices the draft and asks for a payment method.
func (b *Bot) showPayment(ctx context.Context, v view) {
	d, amount, err := b.Checkout.Quote(ctx, v.userID)
	if errors.Is(err, payments.ErrIncompleteDraft) {
		b.show(ctx, v, tr(v.lang, "pay_missing_draft"), buyMenu(v.lang))
		return
	}
	if err != nil {
		b.fail(ctx, v, err)
		return
	}
	text := offerText(v.lang, d, amount) + "\n\n" + tr(v.lang, "payment_title")
	b.show(ctx, v, text, paymentMenu(v.lang, b.Backends.Methods()))
}

func (b *Bot) showSummary(ctx context.Context, v view) {
	d, amount, err := b.Checkout.Quote(ctx, v.userID)
	if errors.Is(err, payments.ErrIncompleteDraft) {
		b.show(ctx, v, tr(v.lang, "pay_missing_draft"), buyMenu(v.lang))
		return
	}
	if err != nil {
		b.fail(ctx, v, err)
		return
	}
	b.show(ctx, v, offerText(v.lang, d, amount), summaryMenu(v.lang))
}

func offerText(lang string, d *db.Draft, a pricing.Amount) string {
	sel, _ := payments.SelectionFromDraft(d)
	method := tr(lang, "not_selected")
	if d.PaymentMethod != "" {
		method = tr(lang, "payment_"+d.PaymentMethod)
	}
	return tr(lang, "offer",
		tr(lang, "plan_"+sel.Plan), tr(lang, "server_"+sel.Server), sel.Protocol,
		sel.Months, sel.Devices, usd(a.USDCents), a.RUB, a.Stars, method)
}

func orderText(lang string, o *db.Order) string {
	return fmt.Sprintf("%s, %s, %s, %s",
		tr(lang, "plan_"+o.Plan), tr(lang, "server_"+o.Server), o.Protocol, tr(lang, "months_short", o.Months))
}

func (b *Bot) showOrders(ctx context.Context, v view) {
	orders, err := b.Ledger.ListForUser(ctx, v.userID, 10)
	if err != nil {
		b.fail(ctx, v, err)
		return
	}
	if len(orders) == 0 {
		b.show(ctx, v, tr(v.lang, "orders_empty"), accountMenu(v.lang))
		return
	}
	var sb strings.Builder
	sb.WriteString(tr(v.lang, "orders_title"))
	for i := range orders {
		o := &orders[i]
		fmt.Fprintf(&sb, "\n#%d %s · $%s · %s", o.ID, orderText(v.lang, o), usd(o.AmountUSDCents), tr(v.lang, "status_"+o.Status))
	}
	b.show(ctx, v, sb.String(), accountMenu(v.lang))
}

func (b *Bot) showConfigs(ctx context.Context, v view) {
	conns, err := b.Provisioning.ListForUser(ctx, v.userID)
	if err != nil {
		b.fail(ctx, v, err)
		return
	}
	if len(conns) == 0 {
		b.show(ctx, v, tr(v.lang, "configs_empty"), accountMenu(v.lang))
		return
	}
	var sb strings.Builder
	sb.WriteString(tr(v.lang, "configs_title"))
	for _, c := range conns {
		fmt.Fprintf(&sb, "\n\n#%d %s/%s · %s", c.ID, tr(v.lang, "server_"+c.Server), c.Protocol, tr(v.lang, "conn_"+c.Status))
		if c.ExpiresAt != nil {
			fmt.Fprintf(&sb, " · %s", c.ExpiresAt.Format("02.01.2006"))
		}
		if c.Status == db.ConnReady && c.Config != "" {
			sb.WriteString("\n" + c.Config)
		}
	}
	b.show(ctx, v, sb.String(), configsMenu(v.lang, conns))
}

func (b *Bot) renew(ctx context.Context, v view, connID uint) {
	c, err := b.Provisioning.Renew(ctx, connID, v.userID)
	switch {
	case errors.Is(err, provisioning.ErrNotFound):
		b.showConfigs(ctx, v)
		return
	case errors.Is(err, provisioning.ErrInProgress):
		b.show(ctx, v, tr(v.lang, "renew_busy", connID), accountMenu(v.lang))
		return
	case err != nil:
		b.log.Warn("renew failed", zap.Uint("connection_id", connID), zap.Error(err))
		b.show(ctx, v, tr(v.lang, "renew_unavailable"), accountMenu(v.lang))
		return
	}
	b.Poller.Start(c)
	b.show(ctx, v, tr(v.lang, "renew_started", c.ID), doneMenu(v.lang))
}

// show replaces the user's previous screen with a new message.
func (b *Bot) show(ctx context.Context, v view, text string, markup interface{}) {
	if u, err := b.Users.Get(ctx, v.userID); err == nil && u.LastMessageID != 0 {
		// the old screen may already be gone
		_, _ = b.api.Request(tgbotapi.NewDeleteMessage(v.chatID, u.LastMessageID))
	}
	msg := tgbotapi.NewMessage(v.chatID, text)
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	sent, err := b.api.Send(msg)
	if err != nil {
		b.log.Warn("screen not sent", zap.Int64("chat_id", v.chatID), zap.Error(err))
		return
	}
	if err := b.Users.SetLastMessage(ctx, v.userID, sent.MessageID); err != nil {
		b.log.Warn("last message not stored", zap.Int64("telegram_id", v.userID), zap.Error(err))
	}
}

// fail shows a generic retry screen for storage errors.
func (b *Bot) fail(ctx context.Context, v view, err error) {
	b.log.Error("update failed", zap.Int64("telegram_id", v.userID), zap.Error(err))
	b.show(ctx, v, tr(v.lang, "error"), mainMenu(v.lang))
}

func (b *Bot) answer(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		b.log.Debug("callback not answered", zap.Error(err))
	}
}
