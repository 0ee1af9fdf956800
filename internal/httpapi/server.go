// Package httpapi is the daemon's external HTTP surface (spec §6): the
// venue-delivered webhook ingress endpoint, a liveness/readiness probe, and
// a Prometheus scrape endpoint. Built on gofiber/fiber/v2 with the same
// short read/write timeouts as the teacher's internal/signal.Server, since
// this package is that server generalized from a single /signal route into
// the three routes the expanded daemon needs.
package httpapi

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"walltrack/internal/domain"
	"walltrack/internal/health"
	"walltrack/internal/supervisor"
)

// Ingestor is the subset of Signal Ingress the webhook route needs.
type Ingestor interface {
	Ingest(ctx context.Context, baseMint string, raw domain.RawEvent) (domain.Ack, error)
}

// Server is the daemon's HTTP surface.
type Server struct {
	app *fiber.App
}

// webhookPayload is the venue-delivered swap notification shape (a
// Shyft/Geyser-style enhanced webhook), trimmed to the fields Signal
// Ingress needs.
type webhookPayload struct {
	TxSignature   string `json:"tx_signature"`
	WalletAddress string `json:"wallet_address"`
	TokenInMint   string `json:"token_in_mint"`
	TokenOutMint  string `json:"token_out_mint"`
	AmountIn      string `json:"amount_in"`
	AmountOut     string `json:"amount_out"`
}

// New builds a Server. baseMint is the quote-side mint Signal Ingress
// classifies buy/sell against.
func New(baseMint string, ingress Ingestor, checker *health.Checker, sup *supervisor.Supervisor) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          5 * time.Second,
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		deps := checker.GetStatuses()
		components := sup.Health()

		healthy := true
		for _, d := range deps {
			if !d.Healthy {
				healthy = false
			}
		}
		for _, comp := range components {
			if comp.Quiesced {
				healthy = false
			}
		}

		status := fiber.StatusOK
		if !healthy {
			status = fiber.StatusServiceUnavailable
		}
		return c.Status(status).JSON(fiber.Map{
			"dependencies": deps,
			"components":   components,
		})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Post("/webhook/monitor", func(c *fiber.Ctx) error {
		var payload webhookPayload
		if err := c.BodyParser(&payload); err != nil {
			log.Warn().Err(err).Msg("httpapi: malformed webhook payload")
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid payload"})
		}

		amountIn, err := decimal.NewFromString(payload.AmountIn)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid amount_in"})
		}
		amountOut, err := decimal.NewFromString(payload.AmountOut)
		if err != nil {
			amountOut = decimal.Zero
		}

		raw := domain.RawEvent{
			TxSignature:   payload.TxSignature,
			WalletAddress: payload.WalletAddress,
			TokenInMint:   payload.TokenInMint,
			TokenOutMint:  payload.TokenOutMint,
			AmountIn:      amountIn,
			AmountOut:     amountOut,
			ReceivedAt:    time.Now(),
			Raw:           c.Body(),
		}

		ack, err := ingress.Ingest(c.Context(), baseMint, raw)
		if err != nil {
			log.Error().Err(err).Msg("httpapi: ingest failed")
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "ingest failed"})
		}

		resp := fiber.Map{"ack": ack.String()}
		if ack == domain.AckRetry {
			return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
		}
		return c.JSON(resp)
	})

	return &Server{app: app}
}

// Start listens on host:port, blocking until the server stops.
func (s *Server) Start(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Info().Str("addr", addr).Msg("httpapi: starting server")
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
