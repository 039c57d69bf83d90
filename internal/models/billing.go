package models

import (
	"net/url"
	"strings"
)

// OrderDescriptor is the order submitted when a billing key is issued.
type OrderDescriptor struct {
	OrderName string `json:"orderName"`
	Amount    int64  `json:"amount"`
}

// BillingIssuance is produced once per registration attempt and handed to the
// card registrar. It is not retained across the redirect.
type BillingIssuance struct {
	CustomerKey string `json:"customerKey"`
	OrderName   string `json:"orderName"`
	Amount      int64  `json:"amount"`
	SuccessURL  string `json:"successUrl"`
	FailURL     string `json:"failUrl"`
}

// Navigation tells the UI to leave the application for URL.
type Navigation struct {
	URL      string `json:"url"`
	Provider string `json:"provider"`
}

// BillingConfirmation is the opaque confirmation returned by the backend.
type BillingConfirmation map[string]interface{}

// BillingSuccessParams are the query parameters of the success landing.
type BillingSuccessParams struct {
	AuthKey     string `json:"authKey"`
	CustomerKey string `json:"customerKey"`
}

func ParseBillingSuccess(q url.Values) BillingSuccessParams {
	return BillingSuccessParams{
		AuthKey:     strings.TrimSpace(q.Get("authKey")),
		CustomerKey: strings.TrimSpace(q.Get("customerKey")),
	}
}

// Complete reports whether both parameters were supplied.
func (p BillingSuccessParams) Complete() bool {
	return p.AuthKey != "" && p.CustomerKey != ""
}

// BillingFailureParams are the query parameters of the fail landing; both optional.
type BillingFailureParams struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

func ParseBillingFailure(q url.Values) BillingFailureParams {
	return BillingFailureParams{
		Code:    strings.TrimSpace(q.Get("code")),
		Message: strings.TrimSpace(q.Get("message")),
	}
}
