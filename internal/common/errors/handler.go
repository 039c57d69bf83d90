// internal/common/errors/handler.go
package errors

// ErrorHandler normalizes step-action errors and logs them
type ErrorHandler struct {
	logger Logger
}

type Logger interface {
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Presentation is the dismissible, user-facing form of an error.
type Presentation struct {
	Code      ErrorCode      `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	Recovery  RecoveryPolicy `json:"recovery"`
}

// Handle normalizes err, logs it with the action context and returns its presentation.
func (h *ErrorHandler) Handle(action string, err error) *Presentation {
	if err == nil {
		return nil
	}
	stdErr := Wrap(err)
	policy := GetRecoveryPolicy(stdErr.Code)

	h.logError(action, stdErr, policy)

	return &Presentation{
		Code:      stdErr.Code,
		Message:   stdErr.Message,
		Retryable: stdErr.Retryable,
		Recovery:  policy,
	}
}

func (h *ErrorHandler) logError(action string, stdErr *StandardError, policy RecoveryPolicy) {
	fields := map[string]interface{}{
		"action":     action,
		"errorCode":  string(stdErr.Code),
		"message":    stdErr.Message,
		"details":    stdErr.Details,
		"retryable":  stdErr.Retryable,
		"retries":    GetRetryCount(stdErr.Code),
		"recovery":   string(policy),
		"statusCode": stdErr.StatusCode,
	}
	for k, v := range stdErr.Metadata {
		fields[k] = v
	}

	// input mistakes are expected traffic
	if stdErr.Code == ErrCodeValidationRejected {
		h.logger.Warn("Action rejected", fields)
		return
	}
	h.logger.Error("Action failed", fields)
}
