package bot

import (
	"context"
	"errors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"VPN-Shop-bot/internal/db"
	"VPN-Shop-bot/internal/payments"
)

// startPayment turns the draft into an order and opens the chosen rail.
func (b *Bot) startPayment(ctx context.Context, v view) {
	o, err := b.Checkout.PlaceOrder(ctx, v.userID)
	if errors.Is(err, payments.ErrIncompleteDraft) {
		b.show(ctx, v, tr(v.lang, "pay_missing_draft"), buyMenu(v.lang))
		return
	}
	if err != nil {
		b.fail(ctx, v, err)
		return
	}

	title := tr(v.lang, "stars_invoice_title", tr(v.lang, "plan_"+o.Plan), o.Months)
	inv, err := b.Checkout.IssueInvoice(ctx, o, title, orderText(v.lang, o))
	if errors.Is(err, payments.ErrTransient) {
		b.show(ctx, v, tr(v.lang, "pay_unavailable"), retryMenu(v.lang))
		return
	}
	if err != nil {
		b.fail(ctx, v, err)
		return
	}

	switch o.PaymentMethod {
	case db.MethodSimulation:
		b.show(ctx, v, tr(v.lang, "pay_sim_title", o.ID, orderText(v.lang, o)), simulationMenu(v.lang, o.ID))
	case db.MethodStars:
		b.show(ctx, v, tr(v.lang, "stars_invoice_sent", o.ID), doneMenu(v.lang))
	case db.MethodCryptoBot:
		b.show(ctx, v, tr(v.lang, "cryptobot_invoice_text", o.ID, orderText(v.lang, o)),
			cryptoBotMenu(v.lang, o.ID, inv.PayURL))
	}
}

func (b *Bot) simulationResult(ctx context.Context, v view, status string, orderID uint) {
	res, err := b.Reconciler.Handle(ctx, payments.Signal{
		Method:     db.MethodSimulation,
		TelegramID: v.userID,
		OrderID:    orderID,
		Status:     status,
	})
	b.showResult(ctx, v, res, err)
}

// checkCryptoBot is the pull channel: the reconciler asks Crypto Pay about the
// invoice recorded on the order.
func (b *Bot) checkCryptoBot(ctx context.Context, v view, orderID uint) {
	res, err := b.Reconciler.Handle(ctx, payments.Signal{
		Method:     db.MethodCryptoBot,
		TelegramID: v.userID,
		OrderID:    orderID,
	})
	if payments.IsRetryable(err) {
		b.show(ctx, v, tr(v.lang, "cryptobot_pending", orderID), cryptoBotMenu(v.lang, orderID, ""))
		return
	}
	b.showResult(ctx, v, res, err)
}

func (b *Bot) handlePreCheckout(ctx context.Context, q *tgbotapi.PreCheckoutQuery) {
	cfg := tgbotapi.PreCheckoutConfig{PreCheckoutQueryID: q.ID, OK: true}
	if err := b.Checkout.ValidatePreCheckout(ctx, q.InvoicePayload, q.Currency, int64(q.TotalAmount)); err != nil {
		lang := "en"
		if q.From != nil {
			lang = b.Users.Language(ctx, q.From.ID)
		}
		b.log.Info("pre-checkout rejected", zap.String("payload", q.InvoicePayload), zap.Error(err))
		cfg.OK = false
		cfg.ErrorMessage = tr(lang, "stars_precheckout_error")
	}
	if _, err := b.api.Request(cfg); err != nil {
		b.log.Warn("pre-checkout not answered", zap.Error(err))
	}
}

// handleStarsPayment is the push channel. The order is found by the charge
// reference carried in the invoice payload.
func (b *Bot) handleStarsPayment(ctx context.Context, v view, p *tgbotapi.SuccessfulPayment) {
	res, err := b.Reconciler.Handle(ctx, payments.Signal{
		Method:     db.MethodStars,
		TelegramID: v.userID,
		ChargeRef:  p.InvoicePayload,
		InvoiceID:  p.TelegramPaymentChargeID,
		Status:     "successful_payment",
		Currency:   p.Currency,
		Amount:     int64(p.TotalAmount),
	})
	b.showResult(ctx, v, res, err)
}

func (b *Bot) showResult(ctx context.Context, v view, res *payments.Result, err error) {
	switch {
	case errors.Is(err, payments.ErrOrderNotFound):
		b.show(ctx, v, tr(v.lang, "pay_missing_order"), mainMenu(v.lang))
		return
	case payments.IsRetryable(err):
		b.show(ctx, v, tr(v.lang, "pay_unavailable"), retryMenu(v.lang))
		return
	case err != nil:
		b.fail(ctx, v, err)
		return
	}

	o := res.Order
	switch o.Status {
	case db.OrderPaid:
		b.show(ctx, v, tr(v.lang, "pay_paid", o.ID), doneMenu(v.lang))
	case db.OrderFailed:
		b.show(ctx, v, tr(v.lang, "pay_failed_text", o.ID), retryMenu(v.lang))
	case db.OrderCancelled:
		b.show(ctx, v, cancelText(v.lang, o), doneMenu(v.lang))
	default:
		b.show(ctx, v, tr(v.lang, "cryptobot_pending", o.ID), cryptoBotMenu(v.lang, o.ID, ""))
	}
}

func cancelText(lang string, o *db.Order) string {
	if o.FailureReason == "expired" {
		return tr(lang, "pay_expired_text", o.ID)
	}
	return tr(lang, "pay_cancel_text", o.ID)
}
