package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	mpconfig "github.com/mercadopago/sdk-go/pkg/config"
	"github.com/mercadopago/sdk-go/pkg/payment"

	appconfig "github.com/tunefile/apiserver/config"
)

// ErrMissingAccessToken is returned when the gateway is constructed
// without a Mercado Pago access token and mock mode is off.
var ErrMissingAccessToken = errors.New("missing mercado pago access token")

// MercadoPagoGateway charges credit purchases through Mercado Pago.
// In mock mode every charge is approved locally, which keeps development
// and tests independent of the provider.
type MercadoPagoGateway struct {
	client   payment.Client
	mockMode bool
	logger   *slog.Logger
}

func NewMercadoPagoGateway(cfg appconfig.PaymentsConfig, logger *slog.Logger) (*MercadoPagoGateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.MockMode {
		logger.Info("payment gateway running in mock mode")
		return &MercadoPagoGateway{mockMode: true, logger: logger}, nil
	}

	if cfg.MercadoPagoAccessToken == "" {
		return nil, ErrMissingAccessToken
	}

	sdkCfg, err := mpconfig.New(cfg.MercadoPagoAccessToken)
	if err != nil {
		return nil, fmt.Errorf("mercado pago sdk config: %w", err)
	}

	return &MercadoPagoGateway{
		client: payment.NewClient(sdkCfg),
		logger: logger,
	}, nil
}

// Charge creates a payment for the given amount. amountCents is converted
// to the provider's decimal currency unit.
func (g *MercadoPagoGateway) Charge(ctx context.Context, amountCents int, method, payerEmail string) (providerID, status string, err error) {
	if g.mockMode {
		id := strconv.FormatInt(time.Now().UTC().UnixNano(), 10)
		g.logger.Info("mock charge approved", "amount_cents", amountCents, "method", method)
		return id, "approved", nil
	}

	req := payment.Request{
		TransactionAmount: float64(amountCents) / 100,
		Description:       "tuning credit purchase",
		PaymentMethodID:   method,
		Payer: &payment.PayerRequest{
			Email: payerEmail,
		},
	}

	resp, err := g.client.Create(ctx, req)
	if err != nil {
		g.logger.Error("mercado pago create failed", "err", err)
		return "", "", err
	}

	g.logger.Info("charge created", "provider_id", resp.ID, "status", resp.Status)
	return fmt.Sprintf("%d", resp.ID), resp.Status, nil
}
