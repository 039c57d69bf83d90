// Package backend is the typed client of the subscription backend API.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	nethttp "net/http"
	"strconv"
	"strings"
	"time"

	apperrors "activation-orchestrator/internal/common/errors"
	httpclient "activation-orchestrator/internal/common/http"
	"activation-orchestrator/internal/common/logger"
	"activation-orchestrator/internal/common/metrics"
	"activation-orchestrator/internal/common/validation"
	"activation-orchestrator/internal/models"
)

const (
	PathPhoneAuthSend     = "/subscriptions/phone-auth/send"
	PathPhoneAuthVerify   = "/subscriptions/phone-auth/verify"
	PathBillingIssue      = "/subscriptions/billing/issue"
	PathBillingConfirm    = "/payments/billing-key/confirm"
	PathSubscriptionStart = "/subscriptions/start"
	PathSubscriptionMe    = "/subscriptions/me"
	PathAutoPayCancel     = "/subscriptions/auto-pay/cancel"
	PathAutoPayReactivate = "/subscriptions/auto-pay/reactivate"
)

// Doer is satisfied by *httpclient.Client.
type Doer interface {
	Do(ctx context.Context, method, path string, body interface{}) (*httpclient.Response, error)
}

type Client struct {
	http   Doer
	logger logger.Logger
	now    func() time.Time
}

func NewClient(http Doer, log logger.Logger) *Client {
	return &Client{
		http:   http,
		logger: log.WithFields(map[string]interface{}{"component": "backend"}),
		now:    time.Now,
	}
}

type sendResponse struct {
	RequestID        string `json:"requestId"`
	ExpiresInSeconds int    `json:"expiresInSeconds"`
}

type verifyResponse struct {
	Verified          bool    `json:"verified"`
	VerificationToken *string `json:"verificationToken"`
}

type issueResponse struct {
	CustomerKey string      `json:"customerKey"`
	OrderName   string      `json:"orderName"`
	Amount      json.Number `json:"amount"`
	SuccessURL  string      `json:"successUrl"`
	FailURL     string      `json:"failUrl"`
}

type snapshotResponse struct {
	Status          *string `json:"status"`
	HasBillingKey   bool    `json:"hasBillingKey"`
	CustomerKey     *string `json:"customerKey"`
	PhoneVerifiedAt *string `json:"phoneVerifiedAt"`
}

func (c *Client) SendPhoneAuth(ctx context.Context, phoneNumber string) (*models.VerificationChallenge, error) {
	payload, err := c.call(ctx, nethttp.MethodPost, PathPhoneAuthSend, true,
		map[string]interface{}{"phoneNumber": phoneNumber})
	if err != nil {
		return nil, err
	}

	var out sendResponse
	if err := json.Unmarshal(payload, &out); err != nil || out.RequestID == "" {
		return nil, malformed(PathPhoneAuthSend, "requestId missing")
	}
	return &models.VerificationChallenge{
		PhoneNumber:      phoneNumber,
		RequestID:        out.RequestID,
		ExpiresInSeconds: out.ExpiresInSeconds,
		IssuedAt:         c.now().UTC(),
	}, nil
}

// VerifyPhoneAuth fails with VALIDATION_REJECTED when the backend answers verified:false.
func (c *Client) VerifyPhoneAuth(ctx context.Context, phoneNumber, requestID, code string) (*models.VerificationResult, error) {
	payload, err := c.call(ctx, nethttp.MethodPost, PathPhoneAuthVerify, true, map[string]interface{}{
		"phoneNumber": phoneNumber,
		"requestId":   requestID,
		"code":        code,
	})
	if err != nil {
		return nil, err
	}

	var out verifyResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, malformed(PathPhoneAuthVerify, err.Error())
	}
	if !out.Verified {
		return nil, apperrors.NewValidationRejectedError("Verification code is incorrect", "verified: false")
	}
	result := &models.VerificationResult{Verified: true}
	if out.VerificationToken != nil {
		result.VerificationToken = *out.VerificationToken
	}
	return result, nil
}

func (c *Client) IssueBillingKey(ctx context.Context, order models.OrderDescriptor) (*models.BillingIssuance, error) {
	payload, err := c.call(ctx, nethttp.MethodPost, PathBillingIssue, false, order)
	if err != nil {
		return nil, err
	}

	var out issueResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, malformed(PathBillingIssue, err.Error())
	}
	if out.CustomerKey == "" || out.SuccessURL == "" || out.FailURL == "" {
		return nil, malformed(PathBillingIssue, "customerKey, successUrl and failUrl are required")
	}

	issuance := &models.BillingIssuance{
		CustomerKey: out.CustomerKey,
		OrderName:   out.OrderName,
		Amount:      order.Amount,
		SuccessURL:  out.SuccessURL,
		FailURL:     out.FailURL,
	}
	if issuance.OrderName == "" {
		issuance.OrderName = order.OrderName
	}
	if out.Amount != "" {
		amount, err := parseAmount(out.Amount)
		if err != nil {
			return nil, malformed(PathBillingIssue, err.Error())
		}
		issuance.Amount = amount
	}
	return issuance, nil
}

// parseAmount accepts integral values only; "9900" and "9900.0" are fine,
// "99.5" is not.
func parseAmount(n json.Number) (int64, error) {
	if v, err := n.Int64(); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return 0, fmt.Errorf("amount is not a number")
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("amount %s is not an integral value", n.String())
	}
	return int64(f), nil
}

func (c *Client) ConfirmBillingKey(ctx context.Context, authKey, customerKey string) (models.BillingConfirmation, error) {
	payload, err := c.call(ctx, nethttp.MethodPost, PathBillingConfirm, false, map[string]interface{}{
		"authKey":     authKey,
		"customerKey": customerKey,
	})
	if err != nil {
		return nil, err
	}
	confirmation := models.BillingConfirmation{}
	// the confirmation is opaque; a non-object body is kept empty
	_ = json.Unmarshal(payload, &confirmation)
	return confirmation, nil
}

func (c *Client) StartSubscription(ctx context.Context) (models.SubscriptionRecord, error) {
	return c.record(ctx, PathSubscriptionStart)
}

func (c *Client) CancelAutoPay(ctx context.Context) (models.SubscriptionRecord, error) {
	return c.record(ctx, PathAutoPayCancel)
}

func (c *Client) ReactivateAutoPay(ctx context.Context) (models.SubscriptionRecord, error) {
	return c.record(ctx, PathAutoPayReactivate)
}

func (c *Client) record(ctx context.Context, path string) (models.SubscriptionRecord, error) {
	payload, err := c.call(ctx, nethttp.MethodPost, path, false, nil)
	if err != nil {
		return nil, err
	}
	rec := models.SubscriptionRecord{}
	_ = json.Unmarshal(payload, &rec)
	return rec, nil
}

// FetchSnapshot reads GET /subscriptions/me. Consistency of the returned
// snapshot is not checked here.
func (c *Client) FetchSnapshot(ctx context.Context) (*models.SubscriptionSnapshot, error) {
	payload, err := c.call(ctx, nethttp.MethodGet, PathSubscriptionMe, false, nil)
	if err != nil {
		return nil, err
	}

	var doc interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, malformed(PathSubscriptionMe, err.Error())
	}
	if err := validation.ValidateSnapshotPayload(doc); err != nil {
		return nil, malformed(PathSubscriptionMe, err.Error())
	}

	var out snapshotResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, malformed(PathSubscriptionMe, err.Error())
	}

	snap := &models.SubscriptionSnapshot{
		HasBillingKey: out.HasBillingKey,
		FetchedAt:     c.now().UTC(),
	}
	if out.Status != nil {
		snap.Status = models.ParseSubscriptionStatus(*out.Status)
	} else {
		snap.Status = models.StatusNone
	}
	if out.CustomerKey != nil {
		snap.CustomerKey = *out.CustomerKey
	}
	if out.PhoneVerifiedAt != nil && *out.PhoneVerifiedAt != "" {
		ts, ok := parseTimestamp(*out.PhoneVerifiedAt)
		if !ok {
			// only presence matters for step derivation
			c.logger.Warn("Unparseable phoneVerifiedAt, treating phone as verified", map[string]interface{}{
				"phoneVerifiedAt": *out.PhoneVerifiedAt,
			})
			ts = snap.FetchedAt
		}
		snap.PhoneVerifiedAt = &ts
	}
	return snap, nil
}

// timestampLayouts are tried in order; zone-less values are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func parseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

// call performs the request, maps failures to the error taxonomy and returns
// the unwrapped payload of a 2xx answer.
func (c *Client) call(ctx context.Context, method, path string, phoneAuth bool, body interface{}) (json.RawMessage, error) {
	start := time.Now()
	resp, err := c.http.Do(ctx, method, path, body)
	if err != nil {
		metrics.BackendRequestDuration.WithLabelValues(path, string(apperrors.CodeOf(err))).Observe(time.Since(start).Seconds())
		c.logger.Warn("Backend request failed", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
		return nil, err
	}
	metrics.BackendRequestDuration.WithLabelValues(path, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	c.logger.Debug("Backend request completed", map[string]interface{}{
		"method":    method,
		"path":      path,
		"status":    resp.StatusCode,
		"requestId": resp.RequestID,
		"duration":  time.Since(start).String(),
	})

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return unwrap(resp.Body), nil
	}
	return nil, mapStatus(resp, phoneAuth)
}

func mapStatus(resp *httpclient.Response, phoneAuth bool) error {
	msg := errorMessage(resp.Body)
	switch {
	case resp.StatusCode == nethttp.StatusUnauthorized || resp.StatusCode == nethttp.StatusForbidden:
		return apperrors.NewUnauthenticatedError(msg).WithMetadata("requestId", resp.RequestID)
	case phoneAuth && (resp.StatusCode == nethttp.StatusBadRequest || resp.StatusCode == nethttp.StatusUnprocessableEntity):
		if msg == "" {
			msg = "Phone number or code was rejected"
		}
		return apperrors.NewValidationRejectedError(msg, fmt.Sprintf("status: %d", resp.StatusCode)).
			WithMetadata("requestId", resp.RequestID)
	default:
		return apperrors.NewServerRejectedError(resp.StatusCode, msg).WithMetadata("requestId", resp.RequestID)
	}
}

func malformed(path, details string) error {
	e := apperrors.NewServerRejectedError(nethttp.StatusBadGateway, "Malformed response from "+strings.TrimPrefix(path, "/"))
	e.Details = details
	e.Retryable = false
	return e
}
