// Package bot turns Telegram updates into draft, order and payment operations.
package bot

import (
	"context"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"VPN-Shop-bot/internal/admin"
	"VPN-Shop-bot/internal/db"
	"VPN-Shop-bot/internal/draft"
	"VPN-Shop-bot/internal/ledger"
	"VPN-Shop-bot/internal/logger"
	"VPN-Shop-bot/internal/payments"
	"VPN-Shop-bot/internal/pricing"
	"VPN-Shop-bot/internal/provisioning"
	"VPN-Shop-bot/internal/users"
)

// Sender is the part of *tgbotapi.BotAPI the bot uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// PollStarter schedules status checks for a renewed connection.
type PollStarter interface {
	Start(c *db.Connection) bool
}

type Deps struct {
	Users        *users.Store
	Drafts       draft.Store
	Prices       *pricing.OverrideStore
	Ledger       *ledger.Ledger
	Checkout     *payments.Checkout
	Reconciler   *payments.Reconciler
	Backends     *payments.Registry
	Provisioning *provisioning.Service
	Poller       PollStarter
	Admin        *admin.Handler
}

type Bot struct {
	api Sender
	Deps
	limiter *RateLimiter
	log     *zap.Logger
	wg      sync.WaitGroup
}

func New(api Sender, deps Deps, log *zap.Logger) *Bot {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bot{
		api:     api,
		Deps:    deps,
		limiter: NewRateLimiter(deps.Admin.IsAdmin),
		log:     log,
	}
}

// Run handles updates until ctx is done or the channel closes, then waits for
// in-flight handlers.
func (b *Bot) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	defer b.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			b.wg.Add(1)
			go func(upd tgbotapi.Update) {
				defer b.wg.Done()
				b.HandleUpdate(ctx, upd)
			}(upd)
		}
	}
}

func (b *Bot) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	defer logger.NotifyOnPanic("HandleUpdate")
	switch {
	case upd.PreCheckoutQuery != nil:
		b.handlePreCheckout(ctx, upd.PreCheckoutQuery)
	case upd.CallbackQuery != nil:
		b.handleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil:
		b.handleMessage(ctx, upd.Message)
	}
}

// StarsInvoices sends Telegram Stars invoices. It implements payments.InvoiceSender.
type StarsInvoices struct {
	api Sender
}

func NewStarsInvoices(api Sender) *StarsInvoices {
	return &StarsInvoices{api: api}
}

func (s *StarsInvoices) SendStarsInvoice(_ context.Context, chatID int64, title, description, payload string, stars int64) error {
	inv := tgbotapi.NewInvoice(chatID, title, description, payload, "", "", payments.StarsCurrency,
		[]tgbotapi.LabeledPrice{{Label: title, Amount: int(stars)}})
	// the library sends null tips otherwise and Telegram rejects the invoice
	inv.SuggestedTipAmounts = []int{}
	_, err := s.api.Send(inv)
	return err
}
