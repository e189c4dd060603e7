// Package admission implements the ordered chain of checks a telemetry
// request passes before its payload is accepted: ban gate, rate limiter,
// upload lock, structural validation and quota.
package admission

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"telemetry-gateway/internal/model"
)

// FailurePolicy decides what a stage's dependency failure means for the
// request.
type FailurePolicy int

const (
	FailClosed FailurePolicy = iota
	FailOpen
)

func (p FailurePolicy) String() string {
	if p == FailOpen {
		return "open"
	}
	return "closed"
}

// ParseFailurePolicy accepts "open"; anything else is closed.
func ParseFailurePolicy(v string) FailurePolicy {
	if strings.EqualFold(strings.TrimSpace(v), "open") {
		return FailOpen
	}
	return FailClosed
}

// DependencyRetryAfter is the backoff hint sent with dependency failures.
const DependencyRetryAfter = 5 * time.Second

// Stage is one admission check. Admit returns a non-nil Rejection to stop
// the request, or an error when a dependency could not be consulted.
type Stage interface {
	Name() string
	Admit(ctx context.Context, req *Request) (*Rejection, error)
}

// Step binds a stage to its dependency failure policy.
type Step struct {
	Stage  Stage
	Policy FailurePolicy
}

// Pipeline runs steps strictly in order. A later step never runs once an
// earlier one rejects.
type Pipeline struct {
	steps  []Step
	logger *zap.Logger
}

func NewPipeline(logger *zap.Logger, steps ...Step) *Pipeline {
	return &Pipeline{steps: steps, logger: logger}
}

// Run returns nil when every step admits the request.
func (p *Pipeline) Run(ctx context.Context, req *Request) *Rejection {
	for _, step := range p.steps {
		rej, err := step.Stage.Admit(ctx, req)
		if err != nil {
			if step.Policy == FailOpen {
				p.logger.Warn("Admission stage unavailable, failing open",
					zap.String("stage", step.Stage.Name()),
					zap.String("request_id", req.ID),
					zap.Error(err))
				continue
			}
			p.logger.Error("Admission stage unavailable, failing closed",
				zap.String("stage", step.Stage.Name()),
				zap.String("request_id", req.ID),
				zap.Error(err))
			return DependencyFailure(step.Stage.Name())
		}
		if rej != nil {
			p.logger.Debug("Request rejected",
				zap.String("stage", step.Stage.Name()),
				zap.String("code", string(rej.Code)),
				zap.String("request_id", req.ID),
				zap.String("identity", req.Identity()))
			return rej
		}
	}
	return nil
}

// Stages lists step names in execution order.
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.steps))
	for i, s := range p.steps {
		names[i] = s.Stage.Name()
	}
	return names
}

// Request is the admission view of one HTTP request. It is owned by a
// single goroutine except for Finish, which is safe to call more than once.
type Request struct {
	ID         string
	IP         string
	DeviceID   string
	Path       string
	Header     http.Header
	Claims     *model.Claims // verified claims, nil when absent or invalid
	ClaimsErr  error
	ReceivedAt time.Time

	// Populated by stages as the request advances.
	UserType model.UserType
	Body     []byte
	BodyErr  error
	Batch    model.TelemetryBatch
	Scope    model.Scope

	// ResponseHeader collects headers stages want on the final response.
	ResponseHeader http.Header

	mu         sync.Mutex
	finalizers []func()
}

// Identity is the key per-caller state is tracked under: the device id
// when known, else the client IP.
func (r *Request) Identity() string {
	if r.DeviceID != "" {
		return r.DeviceID
	}
	return r.IP
}

// OnFinish registers cleanup to run when the request completes.
func (r *Request) OnFinish(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finalizers = append(r.finalizers, fn)
}

// Finish runs registered cleanup in reverse registration order.
func (r *Request) Finish() {
	r.mu.Lock()
	fns := r.finalizers
	r.finalizers = nil
	r.mu.Unlock()

	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

type requestKey struct{}

func WithRequest(ctx context.Context, req *Request) context.Context {
	return context.WithValue(ctx, requestKey{}, req)
}

func RequestFrom(ctx context.Context) (*Request, bool) {
	req, ok := ctx.Value(requestKey{}).(*Request)
	return req, ok
}
