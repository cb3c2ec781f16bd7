package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"VPN-Shop-bot/internal/db"
)

const CryptoBotSignatureHeader = "crypto-pay-api-signature"

// maxInvoiceLifetime is the largest expires_in Crypto Pay accepts, in seconds.
const maxInvoiceLifetime = 2678400

type CryptoInvoice struct {
	InvoiceID int64  `json:"invoice_id"`
	Status    string `json:"status"`
	PayURL    string `json:"pay_url"`
	BotURL    string `json:"bot_invoice_url"`
	Payload   string `json:"payload"`
}

func (i CryptoInvoice) URL() string {
	if i.PayURL != "" {
		return i.PayURL
	}
	return i.BotURL
}

// CryptoBotClient is a minimal Crypto Pay API client.
type CryptoBotClient struct {
	token   string
	apiBase string
	http    *http.Client
}

func NewCryptoBotClient(token, apiBase string) *CryptoBotClient {
	return &CryptoBotClient{
		token:   token,
		apiBase: strings.TrimRight(apiBase, "/"),
		http:    &http.Client{Timeout: 12 * time.Second},
	}
}

// CreateInvoice opens an invoice. A positive expiresIn makes Crypto Pay expire
// it, after which it can no longer be paid.
func (c *CryptoBotClient) CreateInvoice(ctx context.Context, amount, asset, description, payload string, expiresIn time.Duration) (*CryptoInvoice, error) {
	params := map[string]interface{}{
		"asset":       asset,
		"amount":      amount,
		"description": description,
		"payload":     payload,
	}
	if secs := int64(expiresIn / time.Second); secs > 0 {
		if secs > maxInvoiceLifetime {
			secs = maxInvoiceLifetime
		}
		params["expires_in"] = secs
	}
	var inv CryptoInvoice
	err := c.call(ctx, "createInvoice", params, &inv)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// GetInvoice returns nil when the invoice does not exist.
func (c *CryptoBotClient) GetInvoice(ctx context.Context, invoiceID string) (*CryptoInvoice, error) {
	var out struct {
		Items []CryptoInvoice `json:"items"`
	}
	if err := c.call(ctx, "getInvoices", map[string]string{"invoice_ids": invoiceID}, &out); err != nil {
		return nil, err
	}
	if len(out.Items) == 0 {
		return nil, nil
	}
	return &out.Items[0], nil
}

func (c *CryptoBotClient) call(ctx context.Context, method string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/"+method, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Crypto-Pay-API-Token", c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cryptobot %s: %w", method, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("cryptobot %s: %w", method, err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("cryptobot %s: HTTP %d: %.250s", method, resp.StatusCode, raw)
	}
	var env struct {
		OK     bool            `json:"ok"`
		Result json.RawMessage `json:"result"`
		Error  json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("cryptobot %s: invalid json: %w", method, err)
	}
	if !env.OK {
		return fmt.Errorf("cryptobot %s: api error: %s", method, env.Error)
	}
	return json.Unmarshal(env.Result, out)
}

// CryptoBot is the pull rail: the bot checks the invoice status on request.
type CryptoBot struct {
	client     *CryptoBotClient
	asset      string
	invoiceTTL time.Duration
}

// NewCryptoBot builds the rail. Invoices expire after invoiceTTL; zero leaves
// them open until Crypto Pay's own limit.
func NewCryptoBot(client *CryptoBotClient, asset string, invoiceTTL time.Duration) *CryptoBot {
	return &CryptoBot{client: client, asset: asset, invoiceTTL: invoiceTTL}
}

func (b *CryptoBot) Method() string { return db.MethodCryptoBot }

func (b *CryptoBot) CreateInvoice(ctx context.Context, req InvoiceRequest) (*Invoice, error) {
	amount := strconv.FormatFloat(float64(req.Order.AmountUSDCents)/100, 'f', 2, 64)
	inv, err := b.client.CreateInvoice(ctx, amount, b.asset, req.Description, req.ChargeRef, b.invoiceTTL)
	if err != nil {
		return nil, err
	}
	return &Invoice{ExternalID: strconv.FormatInt(inv.InvoiceID, 10), PayURL: inv.URL()}, nil
}

func (b *CryptoBot) Confirm(ctx context.Context, s Signal) (Outcome, error) {
	status := s.Status
	if status == "" {
		if s.InvoiceID == "" {
			return OutcomeUnknown, nil
		}
		inv, err := b.client.GetInvoice(ctx, s.InvoiceID)
		if err != nil {
			return OutcomeUnknown, err
		}
		if inv == nil {
			return OutcomeUnknown, nil
		}
		if inv.Payload != "" && s.ChargeRef != "" && inv.Payload != s.ChargeRef {
			return OutcomeUnknown, nil
		}
		status = inv.Status
	}
	return MapCryptoBotStatus(status), nil
}

func MapCryptoBotStatus(status string) Outcome {
	switch strings.ToLower(status) {
	case "paid":
		return OutcomePaid
	case "expired", "cancelled", "canceled":
		return OutcomeFailed
	case "active":
		return OutcomePending
	}
	return OutcomeUnknown
}

// WebhookUpdate is a Crypto Pay webhook body.
type WebhookUpdate struct {
	UpdateID   int64         `json:"update_id"`
	UpdateType string        `json:"update_type"`
	Payload    CryptoInvoice `json:"payload"`
}

// VerifyCryptoBotWebhook checks the hex HMAC-SHA256 of the body keyed with SHA256(token).
func VerifyCryptoBotWebhook(token string, body []byte, signature string) bool {
	if token == "" || signature == "" {
		return false
	}
	secret := sha256.Sum256([]byte(token))
	h := hmac.New(sha256.New, secret[:])
	h.Write(body)
	calc := hex.EncodeToString(h.Sum(nil))
	return hmac.Equal([]byte(strings.ToLower(signature)), []byte(calc))
}

// ParseCryptoBotWebhook verifies and decodes a webhook into a signal.
func ParseCryptoBotWebhook(token string, body []byte, signature string) (*WebhookUpdate, Signal, error) {
	if !VerifyCryptoBotWebhook(token, body, signature) {
		return nil, Signal{}, ErrBadSignature
	}
	var upd WebhookUpdate
	if err := json.Unmarshal(body, &upd); err != nil {
		return nil, Signal{}, fmt.Errorf("decode cryptobot webhook: %w", err)
	}
	if upd.Payload.InvoiceID == 0 {
		return &upd, Signal{}, errors.New("cryptobot webhook has no invoice")
	}
	return &upd, Signal{
		Method:    db.MethodCryptoBot,
		ChargeRef: upd.Payload.Payload,
		InvoiceID: strconv.FormatInt(upd.Payload.InvoiceID, 10),
		Status:    upd.Payload.Status,
	}, nil
}
