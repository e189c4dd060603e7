package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"telemetry-gateway/internal/model"
)

// ErrObjectNotFound is returned by ObjectStore.GetObject for a missing key.
var ErrObjectNotFound = errors.New("object not found")

type object struct {
	data        []byte
	contentType string
	meta        map[string]string
}

// ObjectStore keeps objects in a map.
type ObjectStore struct {
	health
	mu      sync.RWMutex
	objects map[string]object
}

func NewObjectStore() *ObjectStore {
	return &ObjectStore{objects: make(map[string]object)}
}

func (o *ObjectStore) PutObject(ctx context.Context, key string, data []byte, contentType string, meta map[string]string) (int64, error) {
	if err := o.check(); err != nil {
		return 0, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[key] = object{
		data:        append([]byte(nil), data...),
		contentType: contentType,
		meta:        copyMeta(meta),
	}
	return int64(len(data)), nil
}

func (o *ObjectStore) GetObject(ctx context.Context, key string) ([]byte, map[string]string, error) {
	if err := o.check(); err != nil {
		return nil, nil, err
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	obj, ok := o.objects[key]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}
	return append([]byte(nil), obj.data...), copyMeta(obj.meta), nil
}

func (o *ObjectStore) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.objects)
}

func (o *ObjectStore) HealthCheck(ctx context.Context) error {
	return o.check()
}

func copyMeta(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}

// Message is one record handed to Queue.ProduceMessage.
type Message struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Queue records produced messages in order.
type Queue struct {
	health
	mu       sync.Mutex
	messages []Message
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) ProduceMessage(ctx context.Context, key, value []byte, headers map[string]string) error {
	if err := q.check(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, Message{
		Key:     append([]byte(nil), key...),
		Value:   append([]byte(nil), value...),
		Headers: copyMeta(headers),
	})
	return nil
}

func (q *Queue) Messages() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Message(nil), q.messages...)
}

func (q *Queue) HealthCheck(ctx context.Context) error {
	return q.check()
}

func (q *Queue) Close() error {
	return nil
}

// TenantRegistry serves quotas set with SetQuota. Unknown tenants are
// unlimited.
type TenantRegistry struct {
	health
	mu     sync.RWMutex
	quotas map[string]model.TenantQuota
}

func NewTenantRegistry() *TenantRegistry {
	return &TenantRegistry{quotas: make(map[string]model.TenantQuota)}
}

func (r *TenantRegistry) SetQuota(q model.TenantQuota) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quotas[q.TenantID] = q
}

func (r *TenantRegistry) EffectiveQuota(ctx context.Context, tenantID string) (model.TenantQuota, error) {
	if err := r.check(); err != nil {
		return model.TenantQuota{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if q, ok := r.quotas[tenantID]; ok {
		return q, nil
	}
	return model.TenantQuota{TenantID: tenantID}, nil
}

func (r *TenantRegistry) HealthCheck(ctx context.Context) error {
	return r.check()
}

// UsageLedger serves per-day usage set with SetUsage.
type UsageLedger struct {
	health
	mu    sync.RWMutex
	usage map[string]model.TenantUsage
}

func NewUsageLedger() *UsageLedger {
	return &UsageLedger{usage: make(map[string]model.TenantUsage)}
}

func usageKey(tenantID string, day time.Time) string {
	return tenantID + "|" + day.UTC().Format("2006-01-02")
}

func (l *UsageLedger) SetUsage(u model.TenantUsage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.usage[usageKey(u.TenantID, u.Day)] = u
}

func (l *UsageLedger) DailyUsage(ctx context.Context, tenantID string, day time.Time) (model.TenantUsage, error) {
	if err := l.check(); err != nil {
		return model.TenantUsage{}, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if u, ok := l.usage[usageKey(tenantID, day)]; ok {
		return u, nil
	}
	y, m, d := day.UTC().Date()
	return model.TenantUsage{TenantID: tenantID, Day: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}, nil
}

func (l *UsageLedger) HealthCheck(ctx context.Context) error {
	return l.check()
}

// AuditSink records emitted quota breach events.
type AuditSink struct {
	health
	mu     sync.Mutex
	events []model.QuotaBreachEvent
	notify chan struct{}
}

func NewAuditSink() *AuditSink {
	return &AuditSink{notify: make(chan struct{}, 64)}
}

func (a *AuditSink) EmitQuotaBreach(ctx context.Context, event model.QuotaBreachEvent) error {
	if err := a.check(); err != nil {
		return err
	}
	a.mu.Lock()
	a.events = append(a.events, event)
	a.mu.Unlock()
	select {
	case a.notify <- struct{}{}:
	default:
	}
	return nil
}

func (a *AuditSink) Events() []model.QuotaBreachEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.QuotaBreachEvent(nil), a.events...)
}

// Emitted is signalled after each successful emit, for tests that wait on
// asynchronous audit writes.
func (a *AuditSink) Emitted() <-chan struct{} {
	return a.notify
}

func (a *AuditSink) HealthCheck(ctx context.Context) error {
	return a.check()
}
