package landing

import (
	"context"
	"errors"
	"testing"
	"time"

	"activation-orchestrator/internal/activation/gateway/gatewaytest"
	"activation-orchestrator/internal/activation/journal"
	"activation-orchestrator/internal/activation/orchestrator"
	apperrors "activation-orchestrator/internal/common/errors"
	"activation-orchestrator/internal/common/logger"
	"activation-orchestrator/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Helpers
// ==========================

type recordingJournal struct {
	events []journal.Event
}

func (r *recordingJournal) Record(_ context.Context, e journal.Event) error {
	r.events = append(r.events, e)
	return nil
}

type failingLedger struct{}

func (failingLedger) Claim(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func (failingLedger) Release(context.Context, string) error {
	return errors.New("redis: connection refused")
}

func verified() *time.Time {
	t := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &t
}

func withKey() *models.SubscriptionSnapshot {
	return &models.SubscriptionSnapshot{Status: models.StatusNone, HasBillingKey: true, CustomerKey: "cus_1", PhoneVerifiedAt: verified()}
}

func withoutKey() *models.SubscriptionSnapshot {
	return &models.SubscriptionSnapshot{Status: models.StatusNone, PhoneVerifiedAt: verified()}
}

func newSession(t *testing.T) (Session, *gatewaytest.MockGateway) {
	t.Helper()
	gw := new(gatewaytest.MockGateway)
	log := logger.NewTestLogger(t)
	return Session{
		ID:      "sess-1",
		Gateway: gw,
		NewOrchestrator: func() *orchestrator.Orchestrator {
			return orchestrator.New(gw, orchestrator.Options{SessionID: "sess-1"}, orchestrator.Deps{Logger: log})
		},
	}, gw
}

func newHandler(t *testing.T, ledger Ledger) (*Handler, *recordingJournal) {
	t.Helper()
	rec := &recordingJournal{}
	return NewHandler(ledger, time.Hour, rec, logger.NewTestLogger(t)), rec
}

var successParams = models.BillingSuccessParams{AuthKey: "auth-1", CustomerKey: "cus_1"}

// ==========================
// Success landing
// ==========================

func TestSuccess_ConfirmsOnceAndReenters(t *testing.T) {
	h, rec := newHandler(t, NewMemoryLedger())
	s, gw := newSession(t)

	gw.On("ConfirmBillingKey", mock.Anything, "auth-1", "cus_1").Return(models.BillingConfirmation{"billingKey": "bk"}, nil).Once()
	gw.On("FetchSnapshot", mock.Anything).Return(withKey(), nil)

	res := h.Success(context.Background(), s, successParams)
	assert.Equal(t, OutcomeConfirmed, res.Outcome)
	assert.True(t, res.Corroborated)
	require.NotNil(t, res.View)
	assert.Equal(t, models.StepSubscribe, res.View.Step)
	require.NotNil(t, res.Orchestrator)
	assert.Equal(t, models.StepSubscribe, res.Orchestrator.View().Step)

	// reloading the landing page must not confirm again
	again := h.Success(context.Background(), s, successParams)
	assert.Equal(t, OutcomeConfirmed, again.Outcome)
	assert.True(t, again.Duplicate)

	gw.AssertNumberOfCalls(t, "ConfirmBillingKey", 1)
	require.Len(t, rec.events, 2)
	assert.Equal(t, journal.KindLanding, rec.events[0].Kind)
	assert.Equal(t, "CONFIRMED", rec.events[0].Outcome)
}

func TestSuccess_DuplicateWithoutBillingKey(t *testing.T) {
	ledger := NewMemoryLedger()
	_, err := ledger.Claim(context.Background(), "auth-1", time.Hour)
	require.NoError(t, err)

	h, _ := newHandler(t, ledger)
	s, gw := newSession(t)
	gw.On("FetchSnapshot", mock.Anything).Return(withoutKey(), nil).Once()

	res := h.Success(context.Background(), s, successParams)
	assert.Equal(t, OutcomeConfirmationFailed, res.Outcome)
	assert.Equal(t, models.StepBilling, res.RetryStep)
	assert.True(t, res.Duplicate)
	gw.AssertNotCalled(t, "ConfirmBillingKey", mock.Anything, mock.Anything, mock.Anything)
}

func TestSuccess_ConfirmationFailure(t *testing.T) {
	h, rec := newHandler(t, NewMemoryLedger())
	s, gw := newSession(t)
	gw.On("ConfirmBillingKey", mock.Anything, "auth-1", "cus_1").
		Return(nil, apperrors.NewServerRejectedError(400, "authKey expired")).Once()

	res := h.Success(context.Background(), s, successParams)
	assert.Equal(t, OutcomeConfirmationFailed, res.Outcome)
	assert.Equal(t, models.StepBilling, res.RetryStep)
	require.NotNil(t, res.Error)
	assert.Equal(t, "authKey expired", res.Error.Message)
	assert.Nil(t, res.Orchestrator)
	gw.AssertNotCalled(t, "FetchSnapshot", mock.Anything)

	require.Len(t, rec.events, 1)
	assert.Equal(t, string(apperrors.ErrCodeServerRejected), rec.events[0].ErrorCode)
}

func TestSuccess_NetworkFailureAllowsReloadToConfirm(t *testing.T) {
	h, _ := newHandler(t, NewMemoryLedger())
	s, gw := newSession(t)
	gw.On("ConfirmBillingKey", mock.Anything, "auth-1", "cus_1").
		Return(nil, apperrors.NewNetworkError("confirm billing key", errors.New("i/o timeout"))).Once()

	res := h.Success(context.Background(), s, successParams)
	assert.Equal(t, OutcomeConfirmationFailed, res.Outcome)
	assert.False(t, res.Duplicate)

	// the reload confirms instead of taking the duplicate path
	gw.On("ConfirmBillingKey", mock.Anything, "auth-1", "cus_1").Return(models.BillingConfirmation{}, nil).Once()
	gw.On("FetchSnapshot", mock.Anything).Return(withKey(), nil).Once()

	res = h.Success(context.Background(), s, successParams)
	assert.Equal(t, OutcomeConfirmed, res.Outcome)
	assert.False(t, res.Duplicate)
	gw.AssertNumberOfCalls(t, "ConfirmBillingKey", 2)
}

func TestSuccess_RejectedConfirmationKeepsClaim(t *testing.T) {
	ledger := NewMemoryLedger()
	h, _ := newHandler(t, ledger)
	s, gw := newSession(t)
	gw.On("ConfirmBillingKey", mock.Anything, "auth-1", "cus_1").
		Return(nil, apperrors.NewServerRejectedError(400, "authKey expired")).Once()

	h.Success(context.Background(), s, successParams)

	ok, err := ledger.Claim(context.Background(), "auth-1", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSuccess_Unauthenticated(t *testing.T) {
	h, _ := newHandler(t, NewMemoryLedger())
	s, gw := newSession(t)
	gw.On("ConfirmBillingKey", mock.Anything, "auth-1", "cus_1").
		Return(nil, apperrors.NewUnauthenticatedError("token expired")).Once()

	res := h.Success(context.Background(), s, successParams)
	assert.Equal(t, OutcomeLoginRequired, res.Outcome)
}

func TestSuccess_MissingParams(t *testing.T) {
	h, _ := newHandler(t, NewMemoryLedger())
	s, gw := newSession(t)

	res := h.Success(context.Background(), s, models.BillingSuccessParams{AuthKey: "auth-1"})
	assert.Equal(t, OutcomeConfirmationFailed, res.Outcome)
	require.NotNil(t, res.Error)
	assert.Equal(t, apperrors.ErrCodeValidationRejected, res.Error.Code)
	gw.AssertNotCalled(t, "ConfirmBillingKey", mock.Anything, mock.Anything, mock.Anything)
}

func TestSuccess_LedgerUnavailableStillConfirms(t *testing.T) {
	h, _ := newHandler(t, failingLedger{})
	s, gw := newSession(t)
	gw.On("ConfirmBillingKey", mock.Anything, "auth-1", "cus_1").Return(models.BillingConfirmation{}, nil).Once()
	gw.On("FetchSnapshot", mock.Anything).Return(withKey(), nil).Once()

	res := h.Success(context.Background(), s, successParams)
	assert.Equal(t, OutcomeConfirmed, res.Outcome)
	gw.AssertExpectations(t)
}

// ==========================
// Failure landing
// ==========================

func TestFailure_ServerHasBillingKey(t *testing.T) {
	h, rec := newHandler(t, NewMemoryLedger())
	s, gw := newSession(t)
	gw.On("FetchSnapshot", mock.Anything).Return(withKey(), nil).Once()

	res := h.Failure(context.Background(), s, models.BillingFailureParams{Code: "USER_CANCEL", Message: "canceled"})
	assert.Equal(t, OutcomeAlreadyRegistered, res.Outcome)
	assert.True(t, res.Corroborated)
	require.NotNil(t, res.View)
	assert.Equal(t, models.StepSubscribe, res.View.Step)

	require.Len(t, rec.events, 1)
	assert.Equal(t, "ALREADY_REGISTERED", rec.events[0].Outcome)
	assert.Equal(t, "USER_CANCEL", rec.events[0].Details["code"])
}

func TestFailure_RetryWithProviderCode(t *testing.T) {
	h, _ := newHandler(t, NewMemoryLedger())
	s, gw := newSession(t)
	gw.On("FetchSnapshot", mock.Anything).Return(withoutKey(), nil).Once()

	res := h.Failure(context.Background(), s, models.BillingFailureParams{Code: "USER_CANCEL", Message: "canceled"})
	assert.Equal(t, OutcomeRetry, res.Outcome)
	assert.True(t, res.Corroborated)
	assert.Equal(t, models.StepBilling, res.RetryStep)
	assert.Equal(t, "USER_CANCEL", res.Code)
	assert.Equal(t, "canceled", res.Message)
}

func TestFailure_SnapshotUnavailable(t *testing.T) {
	h, _ := newHandler(t, NewMemoryLedger())
	s, gw := newSession(t)
	gw.On("FetchSnapshot", mock.Anything).Return(nil, apperrors.NewNetworkError("GET /subscriptions/me", nil)).Once()

	res := h.Failure(context.Background(), s, models.BillingFailureParams{Code: "PAY_PROCESS_ABORTED"})
	assert.Equal(t, OutcomeRetry, res.Outcome)
	assert.False(t, res.Corroborated)
	assert.Equal(t, "PAY_PROCESS_ABORTED", res.Code)
	require.NotNil(t, res.Error)
	assert.Equal(t, apperrors.ErrCodeNetwork, res.Error.Code)
}

func TestFailure_Unauthenticated(t *testing.T) {
	h, _ := newHandler(t, NewMemoryLedger())
	s, gw := newSession(t)
	gw.On("FetchSnapshot", mock.Anything).Return(nil, apperrors.NewUnauthenticatedError("")).Once()

	res := h.Failure(context.Background(), s, models.BillingFailureParams{})
	assert.Equal(t, OutcomeLoginRequired, res.Outcome)
}
