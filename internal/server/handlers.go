package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"activation-orchestrator/internal/activation/landing"
	"activation-orchestrator/internal/activation/orchestrator"
	"activation-orchestrator/internal/common/logger"
	"activation-orchestrator/internal/models"
)

const maxBodyBytes = 1 << 16

// APIHandlers exposes the activation flow over HTTP.
type APIHandlers struct {
	logger        logger.Logger
	registry      *Registry
	landing       *landing.Handler
	sessionHeader string
	sessionCookie string
}

// NewAPIHandlers constructs an APIHandlers instance.
func NewAPIHandlers(log logger.Logger, registry *Registry, landingHandler *landing.Handler, sessionHeader, sessionCookie string) *APIHandlers {
	if sessionHeader == "" {
		sessionHeader = "X-Session-ID"
	}
	if sessionCookie == "" {
		sessionCookie = "session_id"
	}
	return &APIHandlers{
		logger:        log.WithFields(map[string]interface{}{"component": "api"}),
		registry:      registry,
		landing:       landingHandler,
		sessionHeader: sessionHeader,
		sessionCookie: sessionCookie,
	}
}

type actionFunc func(ctx context.Context, o *orchestrator.Orchestrator, r *http.Request) (orchestrator.View, error)

type sendCodeRequest struct {
	PhoneNumber string `json:"phoneNumber"`
}

type verifyCodeRequest struct {
	Code string `json:"code"`
}

type errorResponse struct {
	Error string             `json:"error"`
	View  *orchestrator.View `json:"view,omitempty"`
}

func (h *APIHandlers) sessionID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(h.sessionHeader)); id != "" {
		return id
	}
	if c, err := r.Cookie(h.sessionCookie); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

// orchestratorFor returns the session's orchestrator, mounting it when new.
func (h *APIHandlers) orchestratorFor(ctx context.Context, id string) (*orchestrator.Orchestrator, bool) {
	o, created := h.registry.Get(id)
	if created {
		_, _ = o.Mount(ctx)
	}
	return o, created
}

func (h *APIHandlers) handleView(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	id := h.sessionID(r)
	if id == "" {
		writeError(w, http.StatusBadRequest, "session id is required")
		return
	}
	o, created := h.orchestratorFor(r.Context(), id)
	if !created && o.Stale() && !o.Busy() {
		// an in-flight action will refresh the cache itself
		if _, err := o.Resync(r.Context()); err != nil && !errors.Is(err, orchestrator.ErrInFlight) {
			h.respondView(w, r, id, o.View(), err)
			return
		}
	}
	h.respondView(w, r, id, o.View(), nil)
}

// post adapts an action to a POST-only handler.
func (h *APIHandlers) post(action actionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}
		id := h.sessionID(r)
		if id == "" {
			writeError(w, http.StatusBadRequest, "session id is required")
			return
		}
		o, _ := h.orchestratorFor(r.Context(), id)
		view, err := action(r.Context(), o, r)
		var bad *badRequestError
		if errors.As(err, &bad) {
			writeError(w, http.StatusBadRequest, bad.msg)
			return
		}
		h.respondView(w, r, id, view, err)
	}
}

func (h *APIHandlers) respondView(w http.ResponseWriter, r *http.Request, id string, view orchestrator.View, err error) {
	switch {
	case view.LoginRequired:
		// also covers a first POST whose mount was rejected
		h.registry.Drop(r.Context(), id)
		respondJSON(w, http.StatusUnauthorized, view)
	case err != nil:
		status := statusFor(err)
		respondJSON(w, status, errorResponse{Error: err.Error(), View: &view})
	default:
		respondJSON(w, http.StatusOK, view)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrInFlight),
		errors.Is(err, orchestrator.ErrWrongStep),
		errors.Is(err, orchestrator.ErrNotReady),
		errors.Is(err, orchestrator.ErrNoChallenge),
		errors.Is(err, orchestrator.ErrBillingBlocked),
		errors.Is(err, orchestrator.ErrClosed):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// ==========================
// Actions
// ==========================

func (h *APIHandlers) resync(ctx context.Context, o *orchestrator.Orchestrator, _ *http.Request) (orchestrator.View, error) {
	return o.Resync(ctx)
}

func (h *APIHandlers) sendCode(ctx context.Context, o *orchestrator.Orchestrator, r *http.Request) (orchestrator.View, error) {
	var req sendCodeRequest
	if err := decodeBody(r, &req); err != nil {
		return orchestrator.View{}, err
	}
	return o.SendCode(ctx, req.PhoneNumber)
}

func (h *APIHandlers) verifyCode(ctx context.Context, o *orchestrator.Orchestrator, r *http.Request) (orchestrator.View, error) {
	var req verifyCodeRequest
	if err := decodeBody(r, &req); err != nil {
		return orchestrator.View{}, err
	}
	return o.VerifyCode(ctx, req.Code)
}

func (h *APIHandlers) registerBilling(ctx context.Context, o *orchestrator.Orchestrator, _ *http.Request) (orchestrator.View, error) {
	return o.RegisterBilling(ctx)
}

func (h *APIHandlers) startSubscription(ctx context.Context, o *orchestrator.Orchestrator, _ *http.Request) (orchestrator.View, error) {
	return o.StartSubscription(ctx)
}

func (h *APIHandlers) cancelAutoPay(ctx context.Context, o *orchestrator.Orchestrator, _ *http.Request) (orchestrator.View, error) {
	return o.CancelAutoPay(ctx)
}

func (h *APIHandlers) reactivateAutoPay(ctx context.Context, o *orchestrator.Orchestrator, _ *http.Request) (orchestrator.View, error) {
	return o.ReactivateAutoPay(ctx)
}

func (h *APIHandlers) dismissError(_ context.Context, o *orchestrator.Orchestrator, _ *http.Request) (orchestrator.View, error) {
	return o.DismissError(), nil
}

// ==========================
// Redirect landings
// ==========================

func (h *APIHandlers) handleBillingSuccess(w http.ResponseWriter, r *http.Request) {
	h.handleLanding(w, r, func(ctx context.Context, s landing.Session) *landing.Result {
		return h.landing.Success(ctx, s, models.ParseBillingSuccess(r.URL.Query()))
	})
}

func (h *APIHandlers) handleBillingFailure(w http.ResponseWriter, r *http.Request) {
	h.handleLanding(w, r, func(ctx context.Context, s landing.Session) *landing.Result {
		return h.landing.Failure(ctx, s, models.ParseBillingFailure(r.URL.Query()))
	})
}

func (h *APIHandlers) handleLanding(w http.ResponseWriter, r *http.Request, run func(context.Context, landing.Session) *landing.Result) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	id := h.sessionID(r)
	if id == "" {
		writeError(w, http.StatusBadRequest, "session id is required")
		return
	}

	res := run(r.Context(), h.registry.Landing(id))
	if res.Outcome == landing.OutcomeLoginRequired {
		if res.Orchestrator != nil {
			res.Orchestrator.Close()
		}
		h.registry.Drop(r.Context(), id)
		respondJSON(w, http.StatusUnauthorized, res)
		return
	}
	if res.Orchestrator != nil {
		h.registry.Adopt(id, res.Orchestrator)
	}
	respondJSON(w, http.StatusOK, res)
}

// ==========================
// Helpers
// ==========================

type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &badRequestError{msg: "invalid request body: " + err.Error()}
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

func methodNotAllowed(w http.ResponseWriter, methods ...string) {
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
