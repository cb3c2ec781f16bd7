package services

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"VPN-Shop-bot/internal/logger"
	"VPN-Shop-bot/internal/payments"
)

// SignalHandler applies a payment outcome. *payments.Reconciler implements it.
type SignalHandler interface {
	Handle(ctx context.Context, sig payments.Signal) (*payments.Result, error)
}

// HTTP holds the endpoints the bot exposes: health and payment webhooks.
type HTTP struct {
	CryptoBotToken string
	Handler        SignalHandler
	Notifier       Notifier
	Log            *zap.Logger
}

func (h *HTTP) logger() *zap.Logger {
	if h.Log == nil {
		return zap.NewNop()
	}
	return h.Log
}

// Echo builds the server. The CryptoBot route is registered only when a token is configured.
func (h *HTTP) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogMethod:   true,
		LogRemoteIP: true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("remote_ip", v.RemoteIP),
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			h.logger().Info("http_request", fields...)
			return nil
		},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if h.CryptoBotToken != "" {
		e.POST("/cryptobot/webhook", h.cryptoBotWebhook)
	}
	return e
}

// cryptoBotWebhook answers 200 for everything the provider should not redeliver
// and 500 when the outcome could not be stored.
func (h *HTTP) cryptoBotWebhook(c echo.Context) error {
	defer logger.NotifyOnPanic("cryptobot webhook")

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.String(http.StatusBadRequest, "bad body")
	}
	sig := c.Request().Header.Get(payments.CryptoBotSignatureHeader)
	upd, signal, err := payments.ParseCryptoBotWebhook(h.CryptoBotToken, body, sig)
	if errors.Is(err, payments.ErrBadSignature) {
		logger.NotifyAdmin("CryptoBot webhook with invalid signature from " + c.RealIP())
		return c.String(http.StatusUnauthorized, "invalid signature")
	}
	if err != nil {
		h.logger().Warn("cryptobot webhook rejected", zap.Error(err))
		return c.String(http.StatusBadRequest, "bad payload")
	}
	if upd.UpdateType != "invoice_paid" {
		return c.NoContent(http.StatusOK)
	}

	res, err := h.Handler.Handle(c.Request().Context(), signal)
	switch {
	case errors.Is(err, payments.ErrOrderNotFound):
		h.logger().Warn("cryptobot webhook for unknown order", zap.String("invoice_id", signal.InvoiceID))
		return c.NoContent(http.StatusOK)
	case err != nil:
		h.logger().Error("cryptobot webhook not applied", zap.String("invoice_id", signal.InvoiceID), zap.Error(err))
		return c.String(http.StatusInternalServerError, "retry later")
	}
	if res.Changed && h.Notifier != nil {
		h.Notifier.OrderSettled(c.Request().Context(), res)
	}
	return c.NoContent(http.StatusOK)
}
