package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "activation-orchestrator/internal/common/errors"
	httpclient "activation-orchestrator/internal/common/http"
	"activation-orchestrator/internal/common/logger"
	"activation-orchestrator/internal/common/session"
	"activation-orchestrator/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	h := httpclient.NewClient(srv.URL, 2*time.Second, session.StaticCredentials("tok"), nil)
	return NewClient(h, logger.NewTestLogger(t))
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

// ==========================
// Request shape
// ==========================

func TestSendPhoneAuth_RequestHeadersAndBody(t *testing.T) {
	var gotAuth, gotRequestID string
	var gotBody map[string]interface{}

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, PathPhoneAuthSend, r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.Header.Get(httpclient.RequestIDHeader)
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		writeJSON(w, http.StatusOK, `{"requestId":"req-1","expiresInSeconds":180}`)
	})

	ch, err := c.SendPhoneAuth(context.Background(), "01012345678")
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok", gotAuth)
	_, parseErr := uuid.Parse(gotRequestID)
	assert.NoError(t, parseErr)
	assert.Equal(t, "01012345678", gotBody["phoneNumber"])

	assert.Equal(t, "req-1", ch.RequestID)
	assert.Equal(t, 180, ch.ExpiresInSeconds)
	assert.Equal(t, "01012345678", ch.PhoneNumber)
}

func TestSendPhoneAuth_DataEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"success":true,"message":"sent","data":{"requestId":"req-2","expiresInSeconds":60}}`)
	})

	ch, err := c.SendPhoneAuth(context.Background(), "01012345678")
	require.NoError(t, err)
	assert.Equal(t, "req-2", ch.RequestID)
	assert.Equal(t, 60, ch.ExpiresInSeconds)
}

// ==========================
// Error mapping
// ==========================

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		call      func(c *Client) error
		wantCode  apperrors.ErrorCode
		wantMsg   string
		retryable bool
	}{
		{
			name:   "phone send 400 is validation",
			status: http.StatusBadRequest,
			body:   `{"message":"invalid phone number"}`,
			call: func(c *Client) error {
				_, err := c.SendPhoneAuth(context.Background(), "123")
				return err
			},
			wantCode: apperrors.ErrCodeValidationRejected,
			wantMsg:  "invalid phone number",
		},
		{
			name:   "phone verify 422 is validation",
			status: http.StatusUnprocessableEntity,
			body:   `{"error":{"message":"code expired"}}`,
			call: func(c *Client) error {
				_, err := c.VerifyPhoneAuth(context.Background(), "010", "r", "1234")
				return err
			},
			wantCode: apperrors.ErrCodeValidationRejected,
			wantMsg:  "code expired",
		},
		{
			name:   "issue 400 is server rejected",
			status: http.StatusBadRequest,
			body:   `{"errors":[{"message":"order name too long"}]}`,
			call: func(c *Client) error {
				_, err := c.IssueBillingKey(context.Background(), models.OrderDescriptor{OrderName: "x"})
				return err
			},
			wantCode: apperrors.ErrCodeServerRejected,
			wantMsg:  "order name too long",
		},
		{
			name:   "401 is unauthenticated",
			status: http.StatusUnauthorized,
			body:   `{"error":"token expired"}`,
			call: func(c *Client) error {
				_, err := c.FetchSnapshot(context.Background())
				return err
			},
			wantCode: apperrors.ErrCodeUnauthenticated,
		},
		{
			name:   "403 is unauthenticated",
			status: http.StatusForbidden,
			body:   `{}`,
			call: func(c *Client) error {
				_, err := c.StartSubscription(context.Background())
				return err
			},
			wantCode: apperrors.ErrCodeUnauthenticated,
		},
		{
			name:   "500 is retryable server rejected",
			status: http.StatusInternalServerError,
			body:   `{"message":"database down"}`,
			call: func(c *Client) error {
				_, err := c.StartSubscription(context.Background())
				return err
			},
			wantCode:  apperrors.ErrCodeServerRejected,
			wantMsg:   "database down",
			retryable: true,
		},
		{
			name:   "409 without body uses status text",
			status: http.StatusConflict,
			body:   ``,
			call: func(c *Client) error {
				_, err := c.ConfirmBillingKey(context.Background(), "a", "c")
				return err
			},
			wantCode: apperrors.ErrCodeServerRejected,
			wantMsg:  "Conflict",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})

			err := tt.call(c)
			require.Error(t, err)
			stdErr := apperrors.Wrap(err)
			assert.Equal(t, tt.wantCode, stdErr.Code)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, stdErr.Message)
			}
			assert.Equal(t, tt.retryable, stdErr.Retryable)
		})
	}
}

func TestVerifyPhoneAuth_NotVerified(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"verified":false,"verificationToken":null}`)
	})

	_, err := c.VerifyPhoneAuth(context.Background(), "010", "req-1", "0000")
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidationRejected))
}

func TestVerifyPhoneAuth_Verified(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"data":{"verified":true,"verificationToken":"vt"}}`)
	})

	res, err := c.VerifyPhoneAuth(context.Background(), "010", "req-1", "1234")
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.Equal(t, "vt", res.VerificationToken)
}

func TestNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	h := httpclient.NewClient(url, time.Second, session.StaticCredentials("tok"), nil)
	c := NewClient(h, logger.NewNoOpLogger())

	_, err := c.FetchSnapshot(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNetwork))
	assert.True(t, apperrors.Wrap(err).Retryable)
}

func TestTimeoutIsNetworkError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		writeJSON(w, http.StatusOK, `{}`)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.StartSubscription(ctx)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNetwork))
}

func TestMissingCredential(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	h := httpclient.NewClient(srv.URL, time.Second, session.StaticCredentials(""), nil)
	c := NewClient(h, logger.NewNoOpLogger())

	_, err := c.FetchSnapshot(context.Background())
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeUnauthenticated))
	assert.False(t, called)
}

// ==========================
// Payload mapping
// ==========================

func TestFetchSnapshot(t *testing.T) {
	tests := []struct {
		name string
		body string
		want models.SubscriptionSnapshot
	}{
		{
			name: "bare payload",
			body: `{"status":"NONE","hasBillingKey":false,"customerKey":null,"phoneVerifiedAt":null}`,
			want: models.SubscriptionSnapshot{Status: models.StatusNone},
		},
		{
			name: "enveloped payload",
			body: `{"success":true,"data":{"status":"ACTIVE","hasBillingKey":true,"customerKey":"cus_1","phoneVerifiedAt":"2024-01-01T00:00:00Z"}}`,
			want: models.SubscriptionSnapshot{
				Status:          models.StatusActive,
				HasBillingKey:   true,
				CustomerKey:     "cus_1",
				PhoneVerifiedAt: timePtr(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
			},
		},
		{
			name: "missing status means none",
			body: `{"hasBillingKey":true,"extra":"ignored"}`,
			want: models.SubscriptionSnapshot{Status: models.StatusNone, HasBillingKey: true},
		},
		{
			name: "zone-less timestamp",
			body: `{"data":{"status":"NONE","hasBillingKey":false,"phoneVerifiedAt":"2024-01-01T00:00:00"}}`,
			want: models.SubscriptionSnapshot{
				Status:          models.StatusNone,
				PhoneVerifiedAt: timePtr(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
			},
		},
		{
			name: "zone-less timestamp with fraction",
			body: `{"status":"NONE","hasBillingKey":false,"phoneVerifiedAt":"2024-01-01T09:30:00.123"}`,
			want: models.SubscriptionSnapshot{
				Status:          models.StatusNone,
				PhoneVerifiedAt: timePtr(time.Date(2024, 1, 1, 9, 30, 0, 123000000, time.UTC)),
			},
		},
		{
			name: "british spelling",
			body: `{"status":"CANCELLED","hasBillingKey":true}`,
			want: models.SubscriptionSnapshot{Status: models.StatusCanceled, HasBillingKey: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, PathSubscriptionMe, r.URL.Path)
				writeJSON(w, http.StatusOK, tt.body)
			})

			snap, err := c.FetchSnapshot(context.Background())
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(*snap), "got %+v", *snap)
			assert.False(t, snap.FetchedAt.IsZero())
		})
	}
}

func TestFetchSnapshot_UnparseableVerifiedAtStillVerified(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"status":"NONE","hasBillingKey":false,"phoneVerifiedAt":"yesterday"}`)
	})

	snap, err := c.FetchSnapshot(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.PhoneVerified())
}

func TestFetchSnapshot_SchemaViolation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"status":"ACTIVE","hasBillingKey":"yes"}`)
	})

	_, err := c.FetchSnapshot(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeServerRejected))
}

func TestIssueBillingKey(t *testing.T) {
	var gotBody map[string]interface{}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		writeJSON(w, http.StatusOK, `{"data":{"customerKey":"cus_9","orderName":"Monthly","amount":9900,
			"successUrl":"https://app/billing/success","failUrl":"https://app/billing/fail"}}`)
	})

	iss, err := c.IssueBillingKey(context.Background(), models.OrderDescriptor{OrderName: "Monthly", Amount: 9900})
	require.NoError(t, err)

	assert.Equal(t, "Monthly", gotBody["orderName"])
	assert.EqualValues(t, 9900, gotBody["amount"])
	assert.Equal(t, &models.BillingIssuance{
		CustomerKey: "cus_9",
		OrderName:   "Monthly",
		Amount:      9900,
		SuccessURL:  "https://app/billing/success",
		FailURL:     "https://app/billing/fail",
	}, iss)
}

func TestIssueBillingKey_Amount(t *testing.T) {
	tests := []struct {
		name    string
		amount  string
		want    int64
		wantErr bool
	}{
		{name: "integer", amount: "9900", want: 9900},
		{name: "integral float", amount: "9900.0", want: 9900},
		{name: "exponent", amount: "9.9e3", want: 9900},
		{name: "fractional", amount: "99.5", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, `{"customerKey":"cus_9","amount":`+tt.amount+`,
					"successUrl":"https://app/billing/success","failUrl":"https://app/billing/fail"}`)
			})

			iss, err := c.IssueBillingKey(context.Background(), models.OrderDescriptor{OrderName: "Monthly", Amount: 1})
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeServerRejected))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, iss.Amount)
		})
	}
}

func TestIssueBillingKey_MissingURLs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"customerKey":"cus_9"}`)
	})

	_, err := c.IssueBillingKey(context.Background(), models.OrderDescriptor{OrderName: "Monthly"})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeServerRejected))
}

func TestConfirmAndRecords(t *testing.T) {
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		writeJSON(w, http.StatusOK, `{"data":{"status":"ACTIVE","id":"sub_1"}}`)
	})
	ctx := context.Background()

	conf, err := c.ConfirmBillingKey(ctx, "auth", "cus")
	require.NoError(t, err)
	assert.Equal(t, "sub_1", conf["id"])

	rec, err := c.StartSubscription(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, rec.Status())

	_, err = c.CancelAutoPay(ctx)
	require.NoError(t, err)
	_, err = c.ReactivateAutoPay(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{PathBillingConfirm, PathSubscriptionStart, PathAutoPayCancel, PathAutoPayReactivate}, paths)
}

func timePtr(t time.Time) *time.Time { return &t }
