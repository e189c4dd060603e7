package handler

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"telemetry-gateway/internal/admission"
	"telemetry-gateway/internal/auth"
	"telemetry-gateway/internal/util"
)

// RequestIDMiddleware honours a safe inbound X-Request-ID and otherwise
// assigns a UUID. The id is exposed through middleware.GetReqID and becomes
// part of the payload's storage key.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(middleware.RequestIDHeader))
		if !util.IsSafeIdentifier(id) {
			id = uuid.NewString()
		}
		w.Header().Set(middleware.RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LoggerMiddleware creates a middleware that logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("request_id", middleware.GetReqID(r.Context())),
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("remote_addr", r.RemoteAddr),
					util.Int("status", ww.Status()),
					util.Int("bytes", ww.BytesWritten()),
					util.Duration("duration", time.Since(start)),
					util.String("user_agent", r.UserAgent()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// AdmissionMiddleware runs the request-level admission stages (ban gate and
// rate limiter) and hands the admission request to later handlers through
// the context. Finalizers registered by any stage run when the handler
// chain returns.
func AdmissionMiddleware(pipeline *admission.Pipeline) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req, deviceProblem := newAdmissionRequest(r)
			defer req.Finish()

			if rej := pipeline.Run(r.Context(), req); rej != nil {
				writeRejection(w, rej)
				return
			}
			if deviceProblem != "" {
				writeError(w, http.StatusBadRequest, admission.CodeValidation, deviceProblem)
				return
			}

			for k, v := range req.ResponseHeader {
				w.Header()[k] = v
			}
			next.ServeHTTP(w, r.WithContext(admission.WithRequest(r.Context(), req)))
		})
	}
}

// RequireValidClaims rejects requests whose presented credentials failed
// verification. Anonymous requests pass.
func RequireValidClaims(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := auth.FromContext(r.Context()); err != nil {
			writeError(w, http.StatusUnauthorized, admission.CodeUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// newAdmissionRequest resolves the caller's device identity. A verified
// claim's device id always wins; the X-Device-ID header only identifies
// callers without one. A non-empty problem means the request must be
// refused once the ban gate and rate limiter have run on the identity that
// could be trusted.
func newAdmissionRequest(r *http.Request) (*admission.Request, string) {
	claims, claimsErr := auth.FromContext(r.Context())
	if claimsErr != nil {
		claims = nil
	}

	var problem string
	deviceID := strings.TrimSpace(r.Header.Get("X-Device-ID"))
	if claims != nil && claims.DeviceID != "" {
		if deviceID != "" && deviceID != claims.DeviceID {
			problem = "X-Device-ID does not match the authenticated device"
		}
		deviceID = claims.DeviceID
	}
	if deviceID != "" && !util.IsSafeIdentifier(deviceID) {
		deviceID = ""
		if problem == "" {
			problem = "device id contains invalid characters"
		}
	}

	return &admission.Request{
		ID:         middleware.GetReqID(r.Context()),
		IP:         clientIP(r),
		DeviceID:   deviceID,
		Path:       r.URL.Path,
		Header:     r.Header,
		Claims:     claims,
		ClaimsErr:  claimsErr,
		ReceivedAt: time.Now().UTC(),
	}, problem
}

// clientIP expects middleware.RealIP to have rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
