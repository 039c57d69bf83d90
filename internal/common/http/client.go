// internal/common/http/client.go
package http

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "activation-orchestrator/internal/common/errors"
	"activation-orchestrator/internal/common/observability"
	"activation-orchestrator/internal/common/session"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const RequestIDHeader = "X-Request-ID"

// Response is the raw answer of the backend; status mapping is left to callers.
type Response struct {
	StatusCode int
	Body       []byte
	RequestID  string
}

// Client performs authenticated JSON requests against one base URL.
type Client struct {
	rc          *resty.Client
	credentials session.CredentialProvider
	obs         *observability.Observability
}

func NewClient(baseURL string, timeout time.Duration, credentials session.CredentialProvider, obs *observability.Observability) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &Client{rc: rc, credentials: credentials, obs: obs}
}

// Do sends body as JSON (when non-nil) with the session bearer token.
// A missing credential fails with UNAUTHENTICATED before any request is made;
// transport failures and timeouts fail with NETWORK_ERROR.
func (c *Client) Do(ctx context.Context, method, path string, body interface{}) (*Response, error) {
	if c.credentials == nil {
		return nil, apperrors.NewUnauthenticatedError("no credential provider")
	}
	token, err := c.credentials.Token(ctx)
	if err != nil {
		if errors.Is(err, session.ErrNoCredential) {
			return nil, apperrors.NewUnauthenticatedError(err.Error())
		}
		return nil, apperrors.NewNetworkError("credential lookup", err)
	}

	requestID := uuid.NewString()
	ctx, span := c.obs.StartSpan(ctx, fmt.Sprintf("%s %s", method, path),
		attribute.String("http.method", method),
		attribute.String("http.route", path),
		attribute.String("request.id", requestID),
	)
	defer span.End()

	req := c.rc.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader(RequestIDHeader, requestID)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		return nil, apperrors.NewNetworkError(fmt.Sprintf("%s %s", method, path), err)
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode()))
	if resp.StatusCode() >= 400 {
		span.SetStatus(codes.Error, resp.Status())
	}

	return &Response{
		StatusCode: resp.StatusCode(),
		Body:       resp.Body(),
		RequestID:  requestID,
	}, nil
}
