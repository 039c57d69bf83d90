package payments

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"activation-orchestrator/internal/common/config"
	apperrors "activation-orchestrator/internal/common/errors"
	"activation-orchestrator/internal/models"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
)

// checkoutSessionPlaceholder is substituted by Stripe with the session id.
const checkoutSessionPlaceholder = "{CHECKOUT_SESSION_ID}"

// StripeCheckout registers a card through a Checkout Session in setup mode.
// The success landing receives the session id as authKey.
type StripeCheckout struct {
	secretKey  string
	currency   string
	newSession func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

func NewStripeCheckout(secretKey, currency string) *StripeCheckout {
	if secretKey != "" {
		stripe.Key = secretKey
	}
	return &StripeCheckout{
		secretKey:  secretKey,
		currency:   currency,
		newSession: session.New,
	}
}

func (s *StripeCheckout) Name() string { return config.ProviderStripe }

func (s *StripeCheckout) RegisterCard(_ context.Context, issuance models.BillingIssuance) (*models.Navigation, error) {
	if s.secretKey == "" {
		return nil, apperrors.NewGatewayUnavailableError("stripe secret key is not configured")
	}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModeSetup)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		ClientReferenceID:  stripe.String(issuance.CustomerKey),
		SuccessURL: stripe.String(appendRawQuery(issuance.SuccessURL,
			"authKey="+checkoutSessionPlaceholder+"&customerKey="+url.QueryEscape(issuance.CustomerKey))),
		CancelURL: stripe.String(appendRawQuery(issuance.FailURL,
			"code=USER_CANCEL&message="+url.QueryEscape("Card registration was canceled"))),
		Metadata: map[string]string{
			"customer_key": issuance.CustomerKey,
			"order_name":   issuance.OrderName,
		},
	}
	if s.currency != "" {
		params.Currency = stripe.String(s.currency)
	}

	cs, err := s.newSession(params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	if cs == nil || cs.URL == "" {
		return nil, apperrors.NewGatewayUnavailableError("stripe returned a session without url")
	}
	return &models.Navigation{URL: cs.URL, Provider: s.Name()}, nil
}

func mapStripeError(err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return apperrors.NewNetworkError("stripe checkout session", err)
	}
	switch {
	case se.HTTPStatusCode == http.StatusUnauthorized || se.HTTPStatusCode == http.StatusForbidden:
		return apperrors.NewGatewayUnavailableError(se.Msg)
	case se.HTTPStatusCode >= 400:
		return apperrors.NewServerRejectedError(se.HTTPStatusCode, se.Msg)
	default:
		return apperrors.NewNetworkError("stripe checkout session", err)
	}
}
