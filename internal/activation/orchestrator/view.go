package orchestrator

import (
	apperrors "activation-orchestrator/internal/common/errors"
	"activation-orchestrator/internal/models"
)

// Action names, used for metrics, logs and the allowed-action list of a View.
const (
	ActionMount             = "mount"
	ActionResync            = "resync"
	ActionSendCode          = "send_code"
	ActionVerifyCode        = "verify_code"
	ActionRegisterBilling   = "register_billing"
	ActionStartSubscription = "start_subscription"
	ActionCancelAutoPay     = "cancel_auto_pay"
	ActionReactivateAutoPay = "reactivate_auto_pay"
)

// ChallengeView is the part of a pending verification a UI may show.
type ChallengeView struct {
	PhoneNumber      string `json:"phoneNumber"`
	RequestID        string `json:"requestId"`
	ExpiresInSeconds int    `json:"expiresInSeconds"`
}

// View is a value copy of the orchestrator state for rendering.
type View struct {
	Step        models.ActivationStep `json:"step,omitempty"`
	Provisional bool                  `json:"provisional"`
	Ready       bool                  `json:"ready"`

	Snapshot   *models.SubscriptionSnapshot `json:"snapshot,omitempty"`
	Stale      bool                         `json:"stale"`
	Challenge  *ChallengeView               `json:"challenge,omitempty"`
	Navigation *models.Navigation           `json:"navigation,omitempty"`

	Error          *apperrors.Presentation `json:"error,omitempty"`
	LoginRequired  bool                    `json:"loginRequired"`
	BillingBlocked bool                    `json:"billingBlocked"`
	Busy           bool                    `json:"busy"`
	Actions        []string                `json:"actions"`
}

// allowedActions lists what the UI may offer for step and snapshot.
func allowedActions(step models.ActivationStep, snap *models.SubscriptionSnapshot, hasChallenge, billingBlocked bool) []string {
	actions := []string{}
	switch step {
	case models.StepPhone:
		actions = append(actions, ActionSendCode)
		if hasChallenge {
			actions = append(actions, ActionVerifyCode)
		}
	case models.StepBilling:
		if !billingBlocked {
			actions = append(actions, ActionRegisterBilling)
		}
	case models.StepSubscribe:
		actions = append(actions, ActionStartSubscription)
	}
	if snap != nil {
		switch snap.Status {
		case models.StatusActive:
			actions = append(actions, ActionCancelAutoPay)
		case models.StatusCanceled:
			if snap.HasBillingKey {
				actions = append(actions, ActionReactivateAutoPay)
			}
		}
	}
	return actions
}
