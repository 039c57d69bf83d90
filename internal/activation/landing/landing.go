// Package landing handles the two pages the payment provider redirects the
// browser back to. Neither trusts the query string alone: both rebuild the
// activation state from a fresh snapshot.
package landing

import (
	"context"
	"time"

	"activation-orchestrator/internal/activation/gateway"
	"activation-orchestrator/internal/activation/journal"
	"activation-orchestrator/internal/activation/orchestrator"
	apperrors "activation-orchestrator/internal/common/errors"
	"activation-orchestrator/internal/common/logger"
	"activation-orchestrator/internal/common/metrics"
	"activation-orchestrator/internal/models"
)

type Outcome string

const (
	OutcomeConfirmed          Outcome = "CONFIRMED"
	OutcomeConfirmationFailed Outcome = "CONFIRMATION_FAILED"
	OutcomeAlreadyRegistered  Outcome = "ALREADY_REGISTERED"
	OutcomeRetry              Outcome = "RETRY"
	OutcomeLoginRequired      Outcome = "LOGIN_REQUIRED"
)

const (
	landingSuccess = "billing_success"
	landingFailure = "billing_fail"
)

// Result is what a landing page renders.
type Result struct {
	Outcome Outcome `json:"outcome"`
	// RetryStep is the step a manual retry re-enters, when one is offered.
	RetryStep models.ActivationStep `json:"retryStep,omitempty"`
	// Code and Message echo the provider's failure parameters.
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	// Corroborated is false when the server state could not be read.
	Corroborated bool                    `json:"corroborated"`
	Duplicate    bool                    `json:"duplicate,omitempty"`
	Error        *apperrors.Presentation `json:"error,omitempty"`
	View         *orchestrator.View      `json:"view,omitempty"`

	// Orchestrator is the freshly mounted instance; callers adopt it as the
	// session's orchestrator.
	Orchestrator *orchestrator.Orchestrator `json:"-"`
}

// Session binds a landing to one browser session.
type Session struct {
	ID      string
	Gateway gateway.Gateway
	// NewOrchestrator returns an unmounted orchestrator for this session.
	NewOrchestrator func() *orchestrator.Orchestrator
}

type Handler struct {
	ledger    Ledger
	ledgerTTL time.Duration
	journal   journal.Recorder
	errs      *apperrors.ErrorHandler
	logger    logger.Logger
}

func NewHandler(ledger Ledger, ledgerTTL time.Duration, rec journal.Recorder, log logger.Logger) *Handler {
	if rec == nil {
		rec = journal.NopRecorder{}
	}
	log = log.WithFields(map[string]interface{}{"component": "landing"})
	return &Handler{
		ledger:    ledger,
		ledgerTTL: ledgerTTL,
		journal:   rec,
		errs:      apperrors.NewErrorHandler(log),
		logger:    log,
	}
}

// Success confirms the billing key at most once per authKey and re-enters a
// fresh orchestrator.
func (h *Handler) Success(ctx context.Context, s Session, p models.BillingSuccessParams) *Result {
	res := h.success(ctx, s, p)
	h.record(ctx, s.ID, landingSuccess, res)
	return res
}

func (h *Handler) success(ctx context.Context, s Session, p models.BillingSuccessParams) *Result {
	if !p.Complete() {
		err := apperrors.NewValidationRejectedError("Missing billing confirmation parameters", "authKey and customerKey are required")
		return &Result{
			Outcome:   OutcomeConfirmationFailed,
			RetryStep: models.StepBilling,
			Error:     h.errs.Handle(landingSuccess, err),
		}
	}

	claimed := true
	if h.ledger != nil {
		ok, err := h.ledger.Claim(ctx, p.AuthKey, h.ledgerTTL)
		if err != nil {
			// without the ledger a reload could confirm twice; the backend
			// is expected to reject that, so confirmation still proceeds
			h.logger.Warn("Confirmation ledger unavailable", map[string]interface{}{"error": err.Error()})
		} else {
			claimed = ok
		}
	}

	if !claimed {
		return h.duplicate(ctx, s)
	}

	if _, err := s.Gateway.ConfirmBillingKey(ctx, p.AuthKey, p.CustomerKey); err != nil {
		if h.ledger != nil && apperrors.IsRetryable(err) {
			// a reload of the same landing may confirm again
			if rerr := h.ledger.Release(context.WithoutCancel(ctx), p.AuthKey); rerr != nil {
				h.logger.Warn("Confirmation claim not released", map[string]interface{}{"error": rerr.Error()})
			}
		}
		pres := h.errs.Handle(landingSuccess, err)
		if pres.Recovery == apperrors.RecoverLogin {
			return &Result{Outcome: OutcomeLoginRequired, Error: pres}
		}
		return &Result{
			Outcome:   OutcomeConfirmationFailed,
			RetryStep: models.StepBilling,
			Error:     pres,
		}
	}

	h.logger.Info("Billing key confirmed", map[string]interface{}{
		"sessionId":   s.ID,
		"customerKey": p.CustomerKey,
	})
	o, view, err := mount(ctx, s)
	if err != nil {
		return &Result{Outcome: OutcomeConfirmed, Corroborated: false}
	}
	return &Result{
		Outcome:      OutcomeConfirmed,
		Corroborated: view.Ready,
		View:         &view,
		Orchestrator: o,
	}
}

// duplicate handles a success landing whose authKey was already claimed: it
// reports success only if the server already holds the billing key.
func (h *Handler) duplicate(ctx context.Context, s Session) *Result {
	h.logger.Info("Duplicate success landing, skipping confirmation", map[string]interface{}{"sessionId": s.ID})

	o, view, err := mount(ctx, s)
	if err != nil || !view.Ready {
		res := &Result{Outcome: OutcomeConfirmationFailed, RetryStep: models.StepBilling, Duplicate: true}
		if err == nil {
			res.Error = view.Error
			res.View = &view
			res.Orchestrator = o
			if view.LoginRequired {
				res.Outcome = OutcomeLoginRequired
				res.RetryStep = ""
			}
		}
		return res
	}

	res := &Result{Duplicate: true, Corroborated: true, View: &view, Orchestrator: o}
	if view.Snapshot != nil && view.Snapshot.HasBillingKey {
		res.Outcome = OutcomeConfirmed
	} else {
		res.Outcome = OutcomeConfirmationFailed
		res.RetryStep = models.StepBilling
	}
	return res
}

// Failure corroborates the provider's failure report against the server.
func (h *Handler) Failure(ctx context.Context, s Session, p models.BillingFailureParams) *Result {
	res := h.failure(ctx, s, p)
	h.record(ctx, s.ID, landingFailure, res)
	return res
}

func (h *Handler) failure(ctx context.Context, s Session, p models.BillingFailureParams) *Result {
	h.logger.Info("Billing registration reported failure", map[string]interface{}{
		"sessionId": s.ID,
		"code":      p.Code,
		"message":   p.Message,
	})

	o, view, err := mount(ctx, s)
	if err != nil {
		return &Result{Outcome: OutcomeRetry, RetryStep: models.StepBilling, Code: p.Code, Message: p.Message}
	}

	res := &Result{Code: p.Code, Message: p.Message, View: &view, Orchestrator: o}
	switch {
	case view.LoginRequired:
		res.Outcome = OutcomeLoginRequired
		res.Error = view.Error
	case !view.Ready:
		res.Outcome = OutcomeRetry
		res.RetryStep = models.StepBilling
		res.Error = view.Error
	case view.Snapshot != nil && view.Snapshot.HasBillingKey:
		res.Outcome = OutcomeAlreadyRegistered
		res.Corroborated = true
	default:
		res.Outcome = OutcomeRetry
		res.RetryStep = view.Step
		res.Corroborated = true
	}
	return res
}

func mount(ctx context.Context, s Session) (*orchestrator.Orchestrator, orchestrator.View, error) {
	o := s.NewOrchestrator()
	view, err := o.Mount(ctx)
	if err != nil {
		o.Close()
		return nil, orchestrator.View{}, err
	}
	return o, view, nil
}

func (h *Handler) record(ctx context.Context, sessionID, landing string, res *Result) {
	metrics.LandingOutcomes.WithLabelValues(landing, string(res.Outcome)).Inc()

	details := map[string]interface{}{
		"corroborated": res.Corroborated,
		"duplicate":    res.Duplicate,
	}
	if res.Code != "" {
		details["code"] = res.Code
	}
	ev := journal.Event{
		SessionID:  sessionID,
		Kind:       journal.KindLanding,
		Action:     landing,
		Outcome:    string(res.Outcome),
		Details:    details,
		OccurredAt: time.Now().UTC(),
	}
	if res.Error != nil {
		ev.ErrorCode = string(res.Error.Code)
	}
	if err := h.journal.Record(ctx, ev); err != nil {
		h.logger.Warn("Landing outcome not recorded", map[string]interface{}{"error": err.Error()})
	}
}
