// Package gatewaytest provides a testify mock of gateway.Gateway.
package gatewaytest

import (
	"context"

	"activation-orchestrator/internal/models"

	"github.com/stretchr/testify/mock"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) SendPhoneAuth(ctx context.Context, phoneNumber string) (*models.VerificationChallenge, error) {
	args := m.Called(ctx, phoneNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.VerificationChallenge), args.Error(1)
}

func (m *MockGateway) VerifyPhoneAuth(ctx context.Context, phoneNumber, requestID, code string) (*models.VerificationResult, error) {
	args := m.Called(ctx, phoneNumber, requestID, code)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.VerificationResult), args.Error(1)
}

func (m *MockGateway) IssueBillingKey(ctx context.Context, order models.OrderDescriptor) (*models.BillingIssuance, error) {
	args := m.Called(ctx, order)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.BillingIssuance), args.Error(1)
}

func (m *MockGateway) RegisterCard(ctx context.Context, issuance models.BillingIssuance) (*models.Navigation, error) {
	args := m.Called(ctx, issuance)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Navigation), args.Error(1)
}

func (m *MockGateway) ConfirmBillingKey(ctx context.Context, authKey, customerKey string) (models.BillingConfirmation, error) {
	args := m.Called(ctx, authKey, customerKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(models.BillingConfirmation), args.Error(1)
}

func (m *MockGateway) StartSubscription(ctx context.Context) (models.SubscriptionRecord, error) {
	return m.record(m.Called(ctx))
}

func (m *MockGateway) FetchSnapshot(ctx context.Context) (*models.SubscriptionSnapshot, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.SubscriptionSnapshot), args.Error(1)
}

func (m *MockGateway) CancelAutoPay(ctx context.Context) (models.SubscriptionRecord, error) {
	return m.record(m.Called(ctx))
}

func (m *MockGateway) ReactivateAutoPay(ctx context.Context) (models.SubscriptionRecord, error) {
	return m.record(m.Called(ctx))
}

func (m *MockGateway) record(args mock.Arguments) (models.SubscriptionRecord, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(models.SubscriptionRecord), args.Error(1)
}
