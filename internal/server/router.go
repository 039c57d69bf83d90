package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"activation-orchestrator/internal/common/logger"
	"activation-orchestrator/internal/common/observability"

	"go.opentelemetry.io/otel/attribute"
)

// RouterDependencies collects handler dependencies.
type RouterDependencies struct {
	Health           HealthService
	API              *APIHandlers
	Metrics          http.Handler
	MetricsPath      string
	Observability    *observability.Observability
	AllowedOrigins   []string
	AllowCredentials bool
}

// NewRouter wires the HTTP routes exposed by the activation BFF.
func NewRouter(log logger.Logger, deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		payload := map[string]any{
			"status": "ok",
		}

		if deps.Health != nil {
			if err := deps.Health.Probe(ctx); err != nil {
				log.Error("health probe failed", map[string]interface{}{"error": err.Error()})
				status = http.StatusServiceUnavailable
				payload["status"] = "degraded"
				payload["error"] = err.Error()
			}
		}

		respondJSON(w, status, payload)
	})

	if deps.Metrics != nil {
		path := deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle(path, deps.Metrics)
	}

	if deps.API != nil {
		mux.HandleFunc("/api/activation", deps.API.handleView)
		mux.HandleFunc("/api/activation/resync", deps.API.post(deps.API.resync))
		mux.HandleFunc("/api/activation/phone/send", deps.API.post(deps.API.sendCode))
		mux.HandleFunc("/api/activation/phone/verify", deps.API.post(deps.API.verifyCode))
		mux.HandleFunc("/api/activation/billing", deps.API.post(deps.API.registerBilling))
		mux.HandleFunc("/api/activation/subscribe", deps.API.post(deps.API.startSubscription))
		mux.HandleFunc("/api/activation/auto-pay/cancel", deps.API.post(deps.API.cancelAutoPay))
		mux.HandleFunc("/api/activation/auto-pay/reactivate", deps.API.post(deps.API.reactivateAutoPay))
		mux.HandleFunc("/api/activation/error/dismiss", deps.API.post(deps.API.dismissError))
		mux.HandleFunc("/billing/success", deps.API.handleBillingSuccess)
		mux.HandleFunc("/billing/fail", deps.API.handleBillingFailure)
	}

	handler := http.Handler(loggingMiddleware(log, deps.Observability, mux))
	if len(deps.AllowedOrigins) > 0 {
		handler = corsMiddleware(deps.AllowedOrigins, deps.AllowCredentials)(handler)
	}
	return handler
}

func loggingMiddleware(log logger.Logger, obs *observability.Observability, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := obs.StartSpan(r.Context(), "http "+r.Method+" "+r.URL.Path,
			attribute.String("http.method", r.Method),
			attribute.String("http.route", r.URL.Path),
		)
		defer span.End()

		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", rec.status))
		fields := map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"duration_ms": time.Since(start).Milliseconds(),
		}
		if traceID := observability.TraceID(ctx); traceID != "" {
			fields["traceId"] = traceID
		}
		log.Info("request completed", fields)
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func corsMiddleware(allowedOrigins []string, allowCredentials bool) func(http.Handler) http.Handler {
	normalized := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		normalized[origin] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" || (!containsOrigin(normalized, origin) && !containsOrigin(normalized, "*")) {
				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
			if allowCredentials {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Session-ID")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func containsOrigin(set map[string]struct{}, origin string) bool {
	_, ok := set[origin]
	return ok
}
