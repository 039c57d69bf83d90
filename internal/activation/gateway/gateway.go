// Package gateway is the single boundary between the activation flow and the
// outside world: the subscription backend and the card registration provider.
package gateway

import (
	"context"
	"strings"
	"time"

	"activation-orchestrator/internal/common/backend"
	"activation-orchestrator/internal/common/config"
	apperrors "activation-orchestrator/internal/common/errors"
	httpclient "activation-orchestrator/internal/common/http"
	"activation-orchestrator/internal/common/logger"
	"activation-orchestrator/internal/common/observability"
	"activation-orchestrator/internal/common/payments"
	"activation-orchestrator/internal/common/session"
	"activation-orchestrator/internal/common/validation"
	"activation-orchestrator/internal/models"
)

// Gateway lists every external operation of the activation flow. Failures are
// *errors.StandardError values carrying one of the taxonomy codes.
type Gateway interface {
	SendPhoneAuth(ctx context.Context, phoneNumber string) (*models.VerificationChallenge, error)
	VerifyPhoneAuth(ctx context.Context, phoneNumber, requestID, code string) (*models.VerificationResult, error)
	IssueBillingKey(ctx context.Context, order models.OrderDescriptor) (*models.BillingIssuance, error)
	RegisterCard(ctx context.Context, issuance models.BillingIssuance) (*models.Navigation, error)
	ConfirmBillingKey(ctx context.Context, authKey, customerKey string) (models.BillingConfirmation, error)
	StartSubscription(ctx context.Context) (models.SubscriptionRecord, error)
	FetchSnapshot(ctx context.Context) (*models.SubscriptionSnapshot, error)
	CancelAutoPay(ctx context.Context) (models.SubscriptionRecord, error)
	ReactivateAutoPay(ctx context.Context) (models.SubscriptionRecord, error)
}

// Backend is the subset of *backend.Client used by the adapter.
type Backend interface {
	SendPhoneAuth(ctx context.Context, phoneNumber string) (*models.VerificationChallenge, error)
	VerifyPhoneAuth(ctx context.Context, phoneNumber, requestID, code string) (*models.VerificationResult, error)
	IssueBillingKey(ctx context.Context, order models.OrderDescriptor) (*models.BillingIssuance, error)
	ConfirmBillingKey(ctx context.Context, authKey, customerKey string) (models.BillingConfirmation, error)
	StartSubscription(ctx context.Context) (models.SubscriptionRecord, error)
	FetchSnapshot(ctx context.Context) (*models.SubscriptionSnapshot, error)
	CancelAutoPay(ctx context.Context) (models.SubscriptionRecord, error)
	ReactivateAutoPay(ctx context.Context) (models.SubscriptionRecord, error)
}

// Adapter validates inputs locally and delegates to the backend and registrar.
type Adapter struct {
	backend   Backend
	registrar payments.CardRegistrar
	logger    logger.Logger
}

func NewAdapter(b Backend, registrar payments.CardRegistrar, log logger.Logger) *Adapter {
	return &Adapter{
		backend:   b,
		registrar: registrar,
		logger:    log.WithFields(map[string]interface{}{"component": "gateway"}),
	}
}

func (a *Adapter) SendPhoneAuth(ctx context.Context, phoneNumber string) (*models.VerificationChallenge, error) {
	phone := validation.NormalizePhone(phoneNumber)
	if err := checkInput(map[string]interface{}{"phoneNumber": phone}, validation.PhoneSendSchema()); err != nil {
		return nil, err
	}
	return a.backend.SendPhoneAuth(ctx, phone)
}

func (a *Adapter) VerifyPhoneAuth(ctx context.Context, phoneNumber, requestID, code string) (*models.VerificationResult, error) {
	phone := validation.NormalizePhone(phoneNumber)
	code = strings.TrimSpace(code)
	if err := checkInput(map[string]interface{}{
		"phoneNumber": phone,
		"requestId":   requestID,
		"code":        code,
	}, validation.PhoneVerifySchema()); err != nil {
		return nil, err
	}
	return a.backend.VerifyPhoneAuth(ctx, phone, requestID, code)
}

func (a *Adapter) IssueBillingKey(ctx context.Context, order models.OrderDescriptor) (*models.BillingIssuance, error) {
	if err := checkInput(map[string]interface{}{
		"orderName": order.OrderName,
		"amount":    order.Amount,
	}, validation.OrderSchema()); err != nil {
		return nil, err
	}
	return a.backend.IssueBillingKey(ctx, order)
}

func (a *Adapter) RegisterCard(ctx context.Context, issuance models.BillingIssuance) (*models.Navigation, error) {
	if a.registrar == nil {
		return nil, apperrors.NewGatewayUnavailableError("no card registrar configured")
	}
	nav, err := a.registrar.RegisterCard(ctx, issuance)
	if err != nil {
		a.logger.Warn("Card registration could not start", map[string]interface{}{
			"provider":    a.registrar.Name(),
			"customerKey": issuance.CustomerKey,
			"error":       err.Error(),
		})
		return nil, err
	}
	a.logger.Info("Redirecting to card registration", map[string]interface{}{
		"provider":    nav.Provider,
		"customerKey": issuance.CustomerKey,
	})
	return nav, nil
}

func (a *Adapter) ConfirmBillingKey(ctx context.Context, authKey, customerKey string) (models.BillingConfirmation, error) {
	if strings.TrimSpace(authKey) == "" || strings.TrimSpace(customerKey) == "" {
		return nil, apperrors.NewValidationRejectedError("Missing billing confirmation parameters", "authKey and customerKey are required")
	}
	return a.backend.ConfirmBillingKey(ctx, authKey, customerKey)
}

func (a *Adapter) StartSubscription(ctx context.Context) (models.SubscriptionRecord, error) {
	return a.backend.StartSubscription(ctx)
}

func (a *Adapter) FetchSnapshot(ctx context.Context) (*models.SubscriptionSnapshot, error) {
	return a.backend.FetchSnapshot(ctx)
}

func (a *Adapter) CancelAutoPay(ctx context.Context) (models.SubscriptionRecord, error) {
	return a.backend.CancelAutoPay(ctx)
}

func (a *Adapter) ReactivateAutoPay(ctx context.Context) (models.SubscriptionRecord, error) {
	return a.backend.ReactivateAutoPay(ctx)
}

func checkInput(input map[string]interface{}, schema validation.JSONSchema) error {
	result := validation.ValidateInput(input, schema)
	if result.Valid {
		return nil
	}
	msg := "Invalid input"
	switch {
	case result.HasErrors("phoneNumber"):
		msg = "Invalid phone number"
	case result.HasErrors("code"):
		msg = "Invalid verification code"
	case result.HasErrors("requestId"):
		msg = "Verification code was not requested"
	}
	return apperrors.NewValidationRejectedError(msg, result.Summary())
}

// Factory builds a Gateway bound to one session's credentials.
type Factory struct {
	baseURL   string
	timeout   time.Duration
	registrar payments.CardRegistrar
	obs       *observability.Observability
	logger    logger.Logger
}

func NewFactory(cfg config.BackendConfig, registrar payments.CardRegistrar, obs *observability.Observability, log logger.Logger) *Factory {
	return &Factory{
		baseURL:   cfg.BaseURL,
		timeout:   config.GetDuration(cfg.Timeout),
		registrar: registrar,
		obs:       obs,
		logger:    log,
	}
}

func (f *Factory) ForSession(credentials session.CredentialProvider) Gateway {
	h := httpclient.NewClient(f.baseURL, f.timeout, credentials, f.obs)
	return NewAdapter(backend.NewClient(h, f.logger), f.registrar, f.logger)
}
