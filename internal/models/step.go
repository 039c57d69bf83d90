package models

// ActivationStep is derived from a SubscriptionSnapshot and never stored.
type ActivationStep string

const (
	StepPhone     ActivationStep = "PHONE"
	StepBilling   ActivationStep = "BILLING"
	StepSubscribe ActivationStep = "SUBSCRIBE"
	StepDone      ActivationStep = "DONE"
)

// Terminal reports whether no further onboarding transitions exist.
func (s ActivationStep) Terminal() bool {
	return s == StepDone
}

// Ordinal orders steps along the forward progression; unknown steps are -1.
func (s ActivationStep) Ordinal() int {
	switch s {
	case StepPhone:
		return 0
	case StepBilling:
		return 1
	case StepSubscribe:
		return 2
	case StepDone:
		return 3
	}
	return -1
}

func (s ActivationStep) String() string {
	return string(s)
}
