// Package payments hands a billing issuance to the card registration provider
// and returns where the browser must navigate.
package payments

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"activation-orchestrator/internal/common/config"
	apperrors "activation-orchestrator/internal/common/errors"
	"activation-orchestrator/internal/models"
)

// CardRegistrar starts card registration. The returned Navigation ends local
// control flow: nothing after it may assume the user comes back.
type CardRegistrar interface {
	Name() string
	RegisterCard(ctx context.Context, issuance models.BillingIssuance) (*models.Navigation, error)
}

// NewRegistrar returns the registrar selected by payment.provider.
func NewRegistrar(cfg config.PaymentConfig) (CardRegistrar, error) {
	switch cfg.Provider {
	case "", config.ProviderHosted:
		return NewHostedCheckout(cfg.CheckoutURL, cfg.ClientKey, cfg.Method), nil
	case config.ProviderStripe:
		return NewStripeCheckout(cfg.Stripe.SecretKey, cfg.Stripe.Currency), nil
	default:
		return nil, fmt.Errorf("unknown payment provider %q", cfg.Provider)
	}
}

// HostedCheckout builds the provider's hosted billing-auth page URL.
type HostedCheckout struct {
	checkoutURL string
	clientKey   string
	method      string
}

func NewHostedCheckout(checkoutURL, clientKey, method string) *HostedCheckout {
	if method == "" {
		method = "CARD"
	}
	return &HostedCheckout{
		checkoutURL: strings.TrimSpace(checkoutURL),
		clientKey:   strings.TrimSpace(clientKey),
		method:      method,
	}
}

func (h *HostedCheckout) Name() string { return config.ProviderHosted }

func (h *HostedCheckout) RegisterCard(_ context.Context, issuance models.BillingIssuance) (*models.Navigation, error) {
	if h.clientKey == "" {
		return nil, apperrors.NewGatewayUnavailableError("payment client key is not configured")
	}
	if h.checkoutURL == "" {
		return nil, apperrors.NewGatewayUnavailableError("payment checkout url is not configured")
	}
	u, err := url.Parse(h.checkoutURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, apperrors.NewGatewayUnavailableError("payment checkout url is invalid")
	}

	q := u.Query()
	q.Set("clientKey", h.clientKey)
	q.Set("method", h.method)
	q.Set("customerKey", issuance.CustomerKey)
	q.Set("orderName", issuance.OrderName)
	q.Set("amount", strconv.FormatInt(issuance.Amount, 10))
	q.Set("successUrl", issuance.SuccessURL)
	q.Set("failUrl", issuance.FailURL)
	u.RawQuery = q.Encode()

	return &models.Navigation{URL: u.String(), Provider: h.Name()}, nil
}

// appendRawQuery adds an already encoded query fragment to target.
func appendRawQuery(target, raw string) string {
	if strings.Contains(target, "?") {
		return target + "&" + raw
	}
	return target + "?" + raw
}
