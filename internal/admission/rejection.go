package admission

import (
	"fmt"
	"net/http"
	"time"

	"telemetry-gateway/internal/model"
)

// Code is the stable machine-readable rejection code.
type Code string

const (
	CodeBlocked           Code = "blocked"
	CodeThrottled         Code = "throttled"
	CodeConflict          Code = "conflict"
	CodeQuotaExceeded     Code = "quota_exceeded"
	CodeValidation        Code = "validation_error"
	CodeDependencyFailure Code = "dependency_failure"
	CodeUnauthorized      Code = "unauthorized"
	CodeProcessing        Code = "processing_error"
)

var codeTitles = map[Code]string{
	CodeBlocked:           "Access denied",
	CodeThrottled:         "Too many requests",
	CodeConflict:          "Upload in progress",
	CodeQuotaExceeded:     "Quota exceeded",
	CodeValidation:        "Invalid request",
	CodeDependencyFailure: "Service temporarily unavailable",
	CodeUnauthorized:      "Unauthorized",
	CodeProcessing:        "Processing failed",
}

// Rejection is a terminal admission outcome.
type Rejection struct {
	Status     int
	Code       Code
	Message    string
	Reason     string
	Dimension  model.QuotaDimension
	RetryAfter time.Duration
	Headers    http.Header
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Code, r.Message)
}

// Title is a short human-readable summary of the code.
func (r *Rejection) Title() string {
	if t, ok := codeTitles[r.Code]; ok {
		return t
	}
	return http.StatusText(r.Status)
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (r *Rejection) RetryAfterSeconds() int64 {
	return ceilSeconds(r.RetryAfter)
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Second - 1) / time.Second)
}

func Blocked(reason string, retryAfter time.Duration) *Rejection {
	return &Rejection{
		Status:     http.StatusForbidden,
		Code:       CodeBlocked,
		Message:    "access denied: " + reason,
		Reason:     reason,
		RetryAfter: retryAfter,
	}
}

func Throttled(retryAfter time.Duration, headers http.Header) *Rejection {
	return &Rejection{
		Status:     http.StatusTooManyRequests,
		Code:       CodeThrottled,
		Message:    "rate limit exceeded, retry later",
		RetryAfter: retryAfter,
		Headers:    headers,
	}
}

func Conflict(message string) *Rejection {
	return &Rejection{Status: http.StatusConflict, Code: CodeConflict, Message: message}
}

func QuotaExceeded(dim model.QuotaDimension, message string, retryAfter time.Duration) *Rejection {
	return &Rejection{
		Status:     http.StatusTooManyRequests,
		Code:       CodeQuotaExceeded,
		Message:    message,
		Dimension:  dim,
		RetryAfter: retryAfter,
	}
}

func Invalid(format string, args ...interface{}) *Rejection {
	return &Rejection{
		Status:  http.StatusBadRequest,
		Code:    CodeValidation,
		Message: fmt.Sprintf(format, args...),
	}
}

func Unauthorized(message string) *Rejection {
	return &Rejection{Status: http.StatusUnauthorized, Code: CodeUnauthorized, Message: message}
}

func DependencyFailure(stage string) *Rejection {
	return &Rejection{
		Status:     http.StatusServiceUnavailable,
		Code:       CodeDependencyFailure,
		Message:    stage + " check unavailable, retry with backoff",
		RetryAfter: DependencyRetryAfter,
	}
}

func ProcessingError(message string) *Rejection {
	return &Rejection{Status: http.StatusInternalServerError, Code: CodeProcessing, Message: message}
}
