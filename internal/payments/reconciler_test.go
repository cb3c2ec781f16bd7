package payments

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"VPN-Shop-bot/internal/db"
	"VPN-Shop-bot/internal/db/dbtest"
	"VPN-Shop-bot/internal/draft"
	"VPN-Shop-bot/internal/eventlog"
	"VPN-Shop-bot/internal/ledger"
	"VPN-Shop-bot/internal/pricing"
	"VPN-Shop-bot/internal/provisioning"
)

type stubNode struct {
	mu      sync.Mutex
	creates int
	err     error
}

func (n *stubNode) CreateConfig(context.Context, provisioning.ConfigRequest) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.creates++
	if n.err != nil {
		return "", n.err
	}
	return "task-1", nil
}

func (n *stubNode) RenewConfig(context.Context, provisioning.ConfigRequest) (string, error) {
	return "task-2", nil
}

func (n *stubNode) TaskStatus(_ context.Context, id string) (*provisioning.Task, error) {
	return &provisioning.Task{TaskID: id, Status: "pending"}, nil
}

func (n *stubNode) Servers(context.Context) ([]provisioning.NodeServer, error) { return nil, nil }

type recordingPoller struct {
	mu      sync.Mutex
	started []uint
}

func (p *recordingPoller) Start(c *db.Connection) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = append(p.started, c.ID)
	return true
}

type stubBackend struct {
	method  string
	outcome Outcome
	err     error
	invoice *Invoice
	seen    []Signal
}

func (b *stubBackend) Method() string { return b.method }

func (b *stubBackend) CreateInvoice(context.Context, InvoiceRequest) (*Invoice, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.invoice, nil
}

func (b *stubBackend) Confirm(_ context.Context, s Signal) (Outcome, error) {
	b.seen = append(b.seen, s)
	return b.outcome, b.err
}

type env struct {
	gdb      *gorm.DB
	ledger   *ledger.Ledger
	drafts   draft.Store
	events   *eventlog.Log
	node     *stubNode
	poller   *recordingPoller
	checkout *Checkout
	rec      *Reconciler
}

func newEnv(t *testing.T, backends ...Backend) *env {
	gdb := dbtest.New(t)
	e := &env{
		gdb:    gdb,
		ledger: ledger.New(gdb),
		drafts: draft.NewGormStore(gdb),
		events: eventlog.New(gdb, nil, zap.NewNop()),
		node:   &stubNode{},
		poller: &recordingPoller{},
	}
	if len(backends) == 0 {
		backends = []Backend{Simulation{}}
	}
	reg := NewRegistry(backends...)
	prov := provisioning.NewService(gdb, e.node, e.events, zap.NewNop(), time.Second)
	e.checkout = NewCheckout(e.ledger, e.drafts, pricing.NewOverrideStore(gdb), reg, e.events, zap.NewNop())
	e.rec = NewReconciler(e.ledger, e.drafts, reg, e.events, prov, e.poller, zap.NewNop())
	return e
}

func (e *env) readyDraft(t *testing.T, user int64, method string) {
	t.Helper()
	_, err := e.drafts.Update(context.Background(), user, draft.Patch{
		Plan:          draft.Str(pricing.PlanStandard),
		Months:        draft.Int(3),
		PaymentMethod: draft.Str(method),
	})
	require.NoError(t, err)
}

func (e *env) count(t *testing.T, orderID uint, eventType string) int64 {
	t.Helper()
	n, err := e.events.CountByType(context.Background(), orderID, eventType)
	require.NoError(t, err)
	return n
}

func (e *env) connections(t *testing.T) []db.Connection {
	t.Helper()
	var conns []db.Connection
	require.NoError(t, e.gdb.Find(&conns).Error)
	return conns
}

func TestSimulationSuccessPaysOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.readyDraft(t, 1, db.MethodSimulation)

	o, err := e.checkout.PlaceOrder(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, db.OrderPending, o.Status)
	assert.Equal(t, pricing.ServerAuto, o.Server)
	assert.Equal(t, pricing.ProtocolDefault, o.Protocol)
	assert.Equal(t, int64(800), o.AmountUSDCents)

	res, err := e.rec.Handle(ctx, Signal{Method: db.MethodSimulation, TelegramID: 1, OrderID: o.ID, Status: SimSuccess})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, db.OrderPaid, res.Order.Status)
	require.NotNil(t, res.Connection)
	assert.Equal(t, db.ConnSubmitted, res.Connection.Status)
	assert.Equal(t, "task-1", res.Connection.TaskID)
	assert.Equal(t, []uint{res.Connection.ID}, e.poller.started)

	d, err := e.drafts.GetOrCreate(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, d.Plan, "draft is cleared on payment")
}

func TestSimulationDoubleTap(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.readyDraft(t, 1, db.MethodSimulation)
	o, err := e.checkout.PlaceOrder(ctx, 1)
	require.NoError(t, err)

	sig := Signal{Method: db.MethodSimulation, TelegramID: 1, OrderID: o.ID, Status: SimSuccess}
	first, err := e.rec.Handle(ctx, sig)
	require.NoError(t, err)
	second, err := e.rec.Handle(ctx, sig)
	require.NoError(t, err)

	assert.True(t, first.Changed)
	assert.False(t, second.Changed)
	assert.Equal(t, db.OrderPaid, second.Order.Status)
	assert.Nil(t, second.Connection)

	assert.Equal(t, 1, e.node.creates)
	assert.Len(t, e.poller.started, 1)
	assert.Len(t, e.connections(t), 1)
	assert.Equal(t, int64(1), e.count(t, o.ID, eventlog.StatusChanged))
	assert.Equal(t, int64(1), e.count(t, o.ID, eventlog.DuplicateIgnored))
	assert.Equal(t, int64(2), e.count(t, o.ID, eventlog.OutcomeReceived))
}

func TestConcurrentSignalsSettleOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.readyDraft(t, 1, db.MethodSimulation)
	o, err := e.checkout.PlaceOrder(ctx, 1)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, status := range []string{SimSuccess, SimSuccess, SimFailed, SimCancel, SimSuccess} {
		wg.Add(1)
		go func(status string) {
			defer wg.Done()
			_, err := e.rec.Handle(ctx, Signal{Method: db.MethodSimulation, OrderID: o.ID, Status: status})
			assert.NoError(t, err)
		}(status)
	}
	wg.Wait()

	assert.Equal(t, int64(1), e.count(t, o.ID, eventlog.StatusChanged))
	stored, err := e.ledger.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, stored.Terminal())
	assert.LessOrEqual(t, e.node.creates, 1)
}

func TestSimulationFailedAndCancel(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	for status, want := range map[string]string{SimFailed: db.OrderFailed, SimCancel: db.OrderCancelled} {
		e.readyDraft(t, 1, db.MethodSimulation)
		o, err := e.checkout.PlaceOrder(ctx, 1)
		require.NoError(t, err)

		res, err := e.rec.Handle(ctx, Signal{Method: db.MethodSimulation, OrderID: o.ID, Status: status})
		require.NoError(t, err)
		assert.Equal(t, want, res.Order.Status)
		assert.NotEmpty(t, res.Order.FailureReason)
		assert.Nil(t, res.Connection)

		// a late success cannot revive the order
		res, err = e.rec.Handle(ctx, Signal{Method: db.MethodSimulation, OrderID: o.ID, Status: SimSuccess})
		require.NoError(t, err)
		assert.False(t, res.Changed)
		assert.Equal(t, want, res.Order.Status)

		d, err := e.drafts.GetOrCreate(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, pricing.PlanStandard, d.Plan, "draft survives a failed payment")
	}
	assert.Zero(t, e.node.creates)
}

func TestPullExpiredFailsAndKeepsDraft(t *testing.T) {
	ctx := context.Background()
	backend := &stubBackend{method: db.MethodCryptoBot, outcome: OutcomeFailed, invoice: &Invoice{ExternalID: "77", PayURL: "https://t.me/CryptoBot?start=x"}}
	e := newEnv(t, backend)
	e.readyDraft(t, 1, db.MethodCryptoBot)

	o, err := e.checkout.PlaceOrder(ctx, 1)
	require.NoError(t, err)
	inv, err := e.checkout.IssueInvoice(ctx, o, "VPN", "standard 3m")
	require.NoError(t, err)
	assert.Equal(t, "77", inv.ExternalID)

	res, err := e.rec.Handle(ctx, Signal{Method: db.MethodCryptoBot, TelegramID: 1, OrderID: o.ID, InvoiceID: "77"})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, db.OrderFailed, res.Order.Status)

	d, err := e.drafts.GetOrCreate(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, pricing.PlanStandard, d.Plan)
	assert.Equal(t, 3, d.Months)
	assert.Equal(t, db.MethodCryptoBot, d.PaymentMethod)
	assert.Zero(t, e.node.creates)
}

func TestPullPendingAndUnknown(t *testing.T) {
	ctx := context.Background()
	backend := &stubBackend{method: db.MethodCryptoBot, outcome: OutcomePending, invoice: &Invoice{ExternalID: "5"}}
	e := newEnv(t, backend)
	e.readyDraft(t, 1, db.MethodCryptoBot)
	o, err := e.checkout.PlaceOrder(ctx, 1)
	require.NoError(t, err)
	_, err = e.checkout.IssueInvoice(ctx, o, "VPN", "")
	require.NoError(t, err)

	res, err := e.rec.Handle(ctx, Signal{Method: db.MethodCryptoBot, OrderID: o.ID})
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, db.OrderPending, res.Order.Status)

	backend.outcome = OutcomeUnknown
	res, err = e.rec.Handle(ctx, Signal{Method: db.MethodCryptoBot, OrderID: o.ID, InvoiceID: "5", Status: "refunded"})
	assert.ErrorIs(t, err, ErrUnmappable)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, db.OrderPending, res.Order.Status)
	assert.Equal(t, int64(2), e.count(t, o.ID, eventlog.PollChecked))
}

func TestPullTransportErrorIsTransient(t *testing.T) {
	ctx := context.Background()
	backend := &stubBackend{method: db.MethodCryptoBot, invoice: &Invoice{ExternalID: "5"}}
	e := newEnv(t, backend)
	e.readyDraft(t, 1, db.MethodCryptoBot)
	o, err := e.checkout.PlaceOrder(ctx, 1)
	require.NoError(t, err)
	_, err = e.checkout.IssueInvoice(ctx, o, "VPN", "")
	require.NoError(t, err)

	backend.err = errors.New("dial tcp: connection refused")
	res, err := e.rec.Handle(ctx, Signal{Method: db.MethodCryptoBot, OrderID: o.ID})
	assert.ErrorIs(t, err, ErrTransient)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, OutcomePending, res.Outcome)

	stored, err := e.ledger.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, db.OrderPending, stored.Status)
	assert.Equal(t, int64(1), e.count(t, o.ID, eventlog.PollFailed))

	// retry right away once the provider is back
	backend.err = nil
	backend.outcome = OutcomePaid
	res, err = e.rec.Handle(ctx, Signal{Method: db.MethodCryptoBot, OrderID: o.ID})
	require.NoError(t, err)
	assert.True(t, res.Changed)
}

func TestPullCheckUsesOrderInvoice(t *testing.T) {
	ctx := context.Background()
	backend := &stubBackend{method: db.MethodCryptoBot, outcome: OutcomePaid, invoice: &Invoice{ExternalID: "100"}}
	e := newEnv(t, backend)
	e.readyDraft(t, 1, db.MethodCryptoBot)

	paid, err := e.checkout.PlaceOrder(ctx, 1)
	require.NoError(t, err)
	_, err = e.checkout.IssueInvoice(ctx, paid, "VPN", "")
	require.NoError(t, err)

	// the second order never got an invoice
	unbilled, err := e.checkout.PlaceOrder(ctx, 1)
	require.NoError(t, err)
	backend.err = errors.New("HTTP 503")
	_, err = e.checkout.IssueInvoice(ctx, unbilled, "VPN", "")
	require.Error(t, err)
	backend.err = nil

	res, err := e.rec.Handle(ctx, Signal{Method: db.MethodCryptoBot, TelegramID: 1, OrderID: paid.ID})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	require.Len(t, backend.seen, 1)
	assert.Equal(t, "100", backend.seen[0].InvoiceID)
	assert.Equal(t, *paid.ChargeRef, backend.seen[0].ChargeRef)

	// the paid invoice cannot settle another order
	_, err = e.rec.Handle(ctx, Signal{Method: db.MethodCryptoBot, TelegramID: 1, OrderID: unbilled.ID, InvoiceID: "100"})
	assert.ErrorIs(t, err, ErrInvoiceMismatch)
	assert.ErrorIs(t, err, ErrOrderNotFound)
	_, err = e.rec.Handle(ctx, Signal{Method: db.MethodCryptoBot, TelegramID: 1, OrderID: unbilled.ID})
	assert.ErrorIs(t, err, ErrInvoiceMismatch)
	_, err = e.rec.Handle(ctx, Signal{Method: db.MethodCryptoBot, TelegramID: 1, OrderID: paid.ID, InvoiceID: "999"})
	assert.ErrorIs(t, err, ErrInvoiceMismatch)
	assert.Len(t, backend.seen, 1, "mismatched signals never reach the provider")

	stored, err := e.ledger.GetByID(ctx, unbilled.ID)
	require.NoError(t, err)
	assert.Equal(t, db.OrderPending, stored.Status)
	assert.Len(t, e.connections(t), 1)
	assert.Equal(t, int64(2), e.count(t, unbilled.ID, eventlog.InvoiceMismatch))
}

func TestWebhookSettlesOrderWithoutStoredInvoice(t *testing.T) {
	ctx := context.Background()
	backend := &stubBackend{method: db.MethodCryptoBot, outcome: OutcomePaid, err: errors.New("timeout")}
	e := newEnv(t, backend)
	e.readyDraft(t, 1, db.MethodCryptoBot)
	o, err := e.checkout.PlaceOrder(ctx, 1)
	require.NoError(t, err)
	_, err = e.checkout.IssueInvoice(ctx, o, "VPN", "")
	require.Error(t, err)
	backend.err = nil

	res, err := e.rec.Handle(ctx, Signal{Method: db.MethodCryptoBot, ChargeRef: *o.ChargeRef, InvoiceID: "41", Status: "paid"})
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, db.OrderPaid, res.Order.Status)
}

type starsSender struct {
	payloads []string
	amounts  []int64
}

func (s *starsSender) SendStarsInvoice(_ context.Context, _ int64, _, _, payload string, stars int64) error {
	s.payloads = append(s.payloads, payload)
	s.amounts = append(s.amounts, stars)
	return nil
}

func TestStarsChargeRefCorrelation(t *testing.T) {
	ctx := context.Background()
	sender := &starsSender{}
	e := newEnv(t, NewStars(sender))

	e.readyDraft(t, 1, db.MethodStars)
	first, err := e.checkout.PlaceOrder(ctx, 1)
	require.NoError(t, err)
	_, err = e.checkout.IssueInvoice(ctx, first, "VPN", "")
	require.NoError(t, err)

	second, err := e.checkout.PlaceOrder(ctx, 1)
	require.NoError(t, err)
	_, err = e.checkout.IssueInvoice(ctx, second, "VPN", "")
	require.NoError(t, err)

	require.Len(t, sender.payloads, 2)
	assert.Equal(t, []int64{400, 400}, sender.amounts)
	assert.Equal(t, *first.ChargeRef, sender.payloads[0])

	// the user pays the older invoice
	require.NoError(t, e.checkout.ValidatePreCheckout(ctx, sender.payloads[0], StarsCurrency, 400))
	res, err := e.rec.Handle(ctx, Signal{Method: db.MethodStars, TelegramID: 1, ChargeRef: sender.payloads[0], Currency: StarsCurrency, Amount: 400})
	require.NoError(t, err)
	assert.Equal(t, first.ID, res.Order.ID)
	assert.Equal(t, db.OrderPaid, res.Order.Status)

	newer, err := e.ledger.GetByID(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, db.OrderPending, newer.Status)

	// paid order no longer passes pre-checkout
	assert.ErrorIs(t, e.checkout.ValidatePreCheckout(ctx, sender.payloads[0], StarsCurrency, 400), ErrPreCheckout)
}

func TestStarsRejectsForeignSignals(t *testing.T) {
	ctx := context.Background()
	sender := &starsSender{}
	e := newEnv(t, NewStars(sender), Simulation{})
	e.readyDraft(t, 1, db.MethodStars)
	o, err := e.checkout.PlaceOrder(ctx, 1)
	require.NoError(t, err)
	_, err = e.checkout.IssueInvoice(ctx, o, "VPN", "")
	require.NoError(t, err)
	ref := sender.payloads[0]

	_, err = e.rec.Handle(ctx, Signal{Method: db.MethodStars, TelegramID: 1, ChargeRef: "unknown", Currency: StarsCurrency})
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = e.rec.Handle(ctx, Signal{Method: db.MethodStars, TelegramID: 2, ChargeRef: ref, Currency: StarsCurrency})
	assert.ErrorIs(t, err, ErrOrderNotFound, "another user cannot settle the order")

	_, err = e.rec.Handle(ctx, Signal{Method: db.MethodSimulation, OrderID: o.ID, Status: SimSuccess})
	assert.ErrorIs(t, err, ErrOrderNotFound, "method must match the order")

	assert.ErrorIs(t, e.checkout.ValidatePreCheckout(ctx, ref, "USD", 400), ErrPreCheckout)
	assert.ErrorIs(t, e.checkout.ValidatePreCheckout(ctx, ref, StarsCurrency, 1), ErrPreCheckout)

	var unresolved int64
	require.NoError(t, e.gdb.Model(&db.PaymentEvent{}).Where("order_id IS NULL AND event_type = ?", eventlog.OrderNotFound).Count(&unresolved).Error)
	assert.Equal(t, int64(2), unresolved)

	stored, err := e.ledger.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, db.OrderPending, stored.Status)
}

func TestInvoiceFailureLeavesOrderPending(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, &stubBackend{method: db.MethodCryptoBot, err: errors.New("HTTP 503")})
	e.readyDraft(t, 1, db.MethodCryptoBot)
	o, err := e.checkout.PlaceOrder(ctx, 1)
	require.NoError(t, err)

	_, err = e.checkout.IssueInvoice(ctx, o, "VPN", "")
	assert.ErrorIs(t, err, ErrTransient)

	stored, err := e.ledger.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, db.OrderPending, stored.Status)
	assert.NotNil(t, stored.ChargeRef)
	assert.Equal(t, int64(1), e.count(t, o.ID, eventlog.InvoiceFailed))
}

func TestProvisioningFailureSkipsPolling(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.node.err = errors.New("master node down")
	e.readyDraft(t, 1, db.MethodSimulation)
	o, err := e.checkout.PlaceOrder(ctx, 1)
	require.NoError(t, err)

	res, err := e.rec.Handle(ctx, Signal{Method: db.MethodSimulation, OrderID: o.ID, Status: SimSuccess})
	require.NoError(t, err)
	assert.Equal(t, db.OrderPaid, res.Order.Status)
	require.NotNil(t, res.Connection)
	assert.Equal(t, db.ConnFailed, res.Connection.Status)
	assert.Empty(t, e.poller.started)
}

func TestPlaceOrderRejectsIncompleteDraft(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	_, err := e.checkout.PlaceOrder(ctx, 1)
	assert.ErrorIs(t, err, ErrIncompleteDraft)

	_, err = e.drafts.Update(ctx, 1, draft.Patch{Plan: draft.Str(pricing.PlanCustom), Months: draft.Int(1), PaymentMethod: draft.Str(db.MethodSimulation)})
	require.NoError(t, err)
	_, err = e.checkout.PlaceOrder(ctx, 1)
	assert.ErrorIs(t, err, ErrIncompleteDraft)

	_, err = e.drafts.Update(ctx, 1, draft.Patch{Server: draft.Str("fi"), Protocol: draft.Str("vless"), Devices: draft.Int(2), PaymentMethod: draft.Str(db.MethodStars)})
	require.NoError(t, err)
	_, err = e.checkout.PlaceOrder(ctx, 1)
	assert.ErrorIs(t, err, ErrIncompleteDraft, "stars is not enabled")

	_, err = e.drafts.Update(ctx, 1, draft.Patch{PaymentMethod: draft.Str(db.MethodSimulation)})
	require.NoError(t, err)
	o, err := e.checkout.PlaceOrder(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "fi", o.Server)
	assert.Equal(t, 2, o.Devices)
	assert.Equal(t, int64(350), o.AmountUSDCents)
}

func TestRunExpirePendingBatch(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.readyDraft(t, 1, db.MethodSimulation)
	stale, err := e.checkout.PlaceOrder(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, e.gdb.Model(&db.Order{}).Where("id = ?", stale.ID).Update("created_at", time.Now().Add(-2*time.Hour)).Error)
	fresh, err := e.checkout.PlaceOrder(ctx, 1)
	require.NoError(t, err)

	var settled []uint
	err = e.rec.RunExpirePendingBatch(ctx, time.Hour, 10, func(_ context.Context, res *Result) {
		settled = append(settled, res.Order.ID)
	})
	require.NoError(t, err)
	assert.Equal(t, []uint{stale.ID}, settled)

	got, err := e.ledger.GetByID(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, db.OrderCancelled, got.Status)
	assert.Equal(t, "expired", got.FailureReason)

	got, err = e.ledger.GetByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, db.OrderPending, got.Status)
}

func TestRunExpirePendingBatchChecksLiveInvoices(t *testing.T) {
	ctx := context.Background()
	backend := &stubBackend{method: db.MethodCryptoBot, outcome: OutcomePending, invoice: &Invoice{ExternalID: "7"}}
	e := newEnv(t, backend)
	e.readyDraft(t, 1, db.MethodCryptoBot)

	billed, err := e.checkout.PlaceOrder(ctx, 1)
	require.NoError(t, err)
	_, err = e.checkout.IssueInvoice(ctx, billed, "VPN", "")
	require.NoError(t, err)
	unbilled, err := e.checkout.PlaceOrder(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, e.gdb.Model(&db.Order{}).Where("id IN ?", []uint{billed.ID, unbilled.ID}).Update("created_at", time.Now().Add(-2*time.Hour)).Error)

	var settled []*Result
	notify := func(_ context.Context, res *Result) { settled = append(settled, res) }

	// the invoice is still payable, so only the order without one is cancelled
	require.NoError(t, e.rec.RunExpirePendingBatch(ctx, time.Hour, 10, notify))
	require.Len(t, settled, 1)
	assert.Equal(t, unbilled.ID, settled[0].Order.ID)
	assert.Equal(t, db.OrderCancelled, settled[0].Order.Status)
	got, err := e.ledger.GetByID(ctx, billed.ID)
	require.NoError(t, err)
	assert.Equal(t, db.OrderPending, got.Status)

	backend.err = errors.New("dial tcp: i/o timeout")
	require.NoError(t, e.rec.RunExpirePendingBatch(ctx, time.Hour, 10, notify))
	assert.Len(t, settled, 1)

	// a late payment settles the order instead of being dropped
	backend.err = nil
	backend.outcome = OutcomePaid
	require.NoError(t, e.rec.RunExpirePendingBatch(ctx, time.Hour, 10, notify))
	require.Len(t, settled, 2)
	assert.Equal(t, billed.ID, settled[1].Order.ID)
	assert.Equal(t, db.OrderPaid, settled[1].Order.Status)
	assert.NotNil(t, settled[1].Connection)
}

func TestPaymentAfterOrderClosedIsFlagged(t *testing.T) {
	ctx := context.Background()
	backend := &stubBackend{method: db.MethodCryptoBot, outcome: OutcomeFailed, invoice: &Invoice{ExternalID: "7"}}
	e := newEnv(t, backend)
	e.readyDraft(t, 1, db.MethodCryptoBot)
	o, err := e.checkout.PlaceOrder(ctx, 1)
	require.NoError(t, err)
	_, err = e.checkout.IssueInvoice(ctx, o, "VPN", "")
	require.NoError(t, err)

	res, err := e.rec.Handle(ctx, Signal{Method: db.MethodCryptoBot, OrderID: o.ID})
	require.NoError(t, err)
	assert.Equal(t, db.OrderFailed, res.Order.Status)

	backend.outcome = OutcomePaid
	res, err = e.rec.Handle(ctx, Signal{Method: db.MethodCryptoBot, ChargeRef: *o.ChargeRef, InvoiceID: "7", Status: "paid"})
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, db.OrderFailed, res.Order.Status)
	assert.Equal(t, int64(1), e.count(t, o.ID, eventlog.LatePayment))
	assert.Zero(t, e.count(t, o.ID, eventlog.DuplicateIgnored))
	assert.Empty(t, e.connections(t))
}

func TestRunReconcileBatch(t *testing.T) {
	ctx := context.Background()
	backend := &stubBackend{method: db.MethodCryptoBot, outcome: OutcomePaid, invoice: &Invoice{ExternalID: "9"}}
	e := newEnv(t, backend)
	e.readyDraft(t, 1, db.MethodCryptoBot)
	o, err := e.checkout.PlaceOrder(ctx, 1)
	require.NoError(t, err)
	_, err = e.checkout.IssueInvoice(ctx, o, "VPN", "")
	require.NoError(t, err)

	var settled []*Result
	notify := func(_ context.Context, res *Result) { settled = append(settled, res) }
	require.NoError(t, e.rec.RunReconcileBatch(ctx, 0, 10, notify))
	require.Len(t, settled, 1)
	assert.Equal(t, db.OrderPaid, settled[0].Order.Status)
	assert.NotNil(t, settled[0].Connection)

	require.NoError(t, e.rec.RunReconcileBatch(ctx, 0, 10, notify))
	assert.Len(t, settled, 1)
}
