package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"telemetry-gateway/internal/admission"
	"telemetry-gateway/internal/util"
)

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// ErrorResponse is the body of every rejection.
type ErrorResponse struct {
	Success    bool   `json:"success"`
	Code       string `json:"code"`
	Error      string `json:"error"`
	Message    string `json:"message"`
	Reason     string `json:"reason,omitempty"`
	Dimension  string `json:"dimension,omitempty"`
	RetryAfter *int64 `json:"retry_after,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		util.Warn("Failed to encode response", util.ErrorField(err))
	}
}

func writeRejection(w http.ResponseWriter, rej *admission.Rejection) {
	for k, v := range rej.Headers {
		w.Header()[k] = v
	}

	body := ErrorResponse{
		Success:   false,
		Code:      string(rej.Code),
		Error:     rej.Title(),
		Message:   rej.Message,
		Reason:    rej.Reason,
		Dimension: string(rej.Dimension),
	}
	if rej.RetryAfter > 0 {
		secs := rej.RetryAfterSeconds()
		body.RetryAfter = &secs
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeJSON(w, rej.Status, body)
}

func writeError(w http.ResponseWriter, status int, code admission.Code, message string) {
	writeRejection(w, &admission.Rejection{Status: status, Code: code, Message: message})
}
