package orchestrator

import "activation-orchestrator/internal/models"

// DeriveStep maps a snapshot to the activation step. It is pure: the same
// snapshot always yields the same step.
//
// An ACTIVE subscription wins over everything else; phone verification is
// checked before the billing key.
func DeriveStep(s models.SubscriptionSnapshot) models.ActivationStep {
	switch {
	case s.Status == models.StatusActive:
		return models.StepDone
	case !s.PhoneVerified():
		return models.StepPhone
	case !s.HasBillingKey:
		return models.StepBilling
	default:
		return models.StepSubscribe
	}
}
