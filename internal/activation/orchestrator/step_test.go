package orchestrator

import (
	"testing"
	"time"

	"activation-orchestrator/internal/models"

	"github.com/stretchr/testify/assert"
)

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestDeriveStep(t *testing.T) {
	tests := []struct {
		name string
		snap models.SubscriptionSnapshot
		want models.ActivationStep
	}{
		{
			name: "nothing done",
			snap: models.SubscriptionSnapshot{Status: models.StatusNone},
			want: models.StepPhone,
		},
		{
			name: "verification precedes billing key",
			snap: models.SubscriptionSnapshot{Status: models.StatusNone, HasBillingKey: true},
			want: models.StepPhone,
		},
		{
			name: "verified without billing key",
			snap: models.SubscriptionSnapshot{Status: models.StatusNone, PhoneVerifiedAt: ts("2024-01-01T00:00:00Z")},
			want: models.StepBilling,
		},
		{
			name: "verified with billing key",
			snap: models.SubscriptionSnapshot{Status: models.StatusNone, HasBillingKey: true, PhoneVerifiedAt: ts("2024-01-01T00:00:00Z")},
			want: models.StepSubscribe,
		},
		{
			name: "canceled subscription returns to subscribe",
			snap: models.SubscriptionSnapshot{Status: models.StatusCanceled, HasBillingKey: true, PhoneVerifiedAt: ts("2024-01-01T00:00:00Z")},
			want: models.StepSubscribe,
		},
		{
			name: "active wins over missing verification",
			snap: models.SubscriptionSnapshot{Status: models.StatusActive, HasBillingKey: true},
			want: models.StepDone,
		},
		{
			name: "active wins even without billing key",
			snap: models.SubscriptionSnapshot{Status: models.StatusActive},
			want: models.StepDone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveStep(tt.snap))
		})
	}
}

func TestDeriveStep_Pure(t *testing.T) {
	a := models.SubscriptionSnapshot{
		Status:          models.StatusNone,
		HasBillingKey:   true,
		CustomerKey:     "cus_1",
		PhoneVerifiedAt: ts("2024-01-01T00:00:00Z"),
		FetchedAt:       time.Now(),
	}
	b := a.Clone()
	b.FetchedAt = a.FetchedAt.Add(time.Hour)

	first := DeriveStep(a)
	assert.Equal(t, first, DeriveStep(a))
	assert.Equal(t, first, DeriveStep(b))
	assert.Equal(t, "cus_1", a.CustomerKey)
	assert.True(t, a.Equal(b))
}

func TestAllowedActions(t *testing.T) {
	active := &models.SubscriptionSnapshot{Status: models.StatusActive, HasBillingKey: true}
	canceled := &models.SubscriptionSnapshot{Status: models.StatusCanceled, HasBillingKey: true}

	assert.Equal(t, []string{ActionSendCode}, allowedActions(models.StepPhone, nil, false, false))
	assert.Equal(t, []string{ActionSendCode, ActionVerifyCode}, allowedActions(models.StepPhone, nil, true, false))
	assert.Equal(t, []string{ActionRegisterBilling}, allowedActions(models.StepBilling, nil, false, false))
	assert.Empty(t, allowedActions(models.StepBilling, nil, false, true))
	assert.Equal(t, []string{ActionStartSubscription, ActionReactivateAutoPay}, allowedActions(models.StepSubscribe, canceled, false, false))
	assert.Equal(t, []string{ActionCancelAutoPay}, allowedActions(models.StepDone, active, false, false))
}
