package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"telemetry-gateway/internal/config"
	"telemetry-gateway/internal/model"
	"telemetry-gateway/internal/repository/memory"
	rediscache "telemetry-gateway/internal/repository/redis"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	clock *fakeClock
	store *memory.Store
	cache *rediscache.AdmissionCache
}

func newHarness() *harness {
	clock := newFakeClock()
	store := memory.NewStore(clock.Now)
	return &harness{
		clock: clock,
		store: store,
		cache: rediscache.NewAdmissionCache(store, zap.NewNop()),
	}
}

func (h *harness) gateAndRate() *Pipeline {
	return NewPipeline(zap.NewNop(),
		Step{Stage: NewBlacklistGate(h.cache), Policy: FailClosed},
		Step{Stage: NewRateLimiter(h.cache, config.DefaultTiers(), time.Minute, 7*24*time.Hour, zap.NewNop()), Policy: FailClosed},
	)
}

func deviceRequest(device, ip string) *Request {
	return &Request{
		ID:       "req-" + device,
		IP:       ip,
		DeviceID: device,
		Path:     "/api/v1/telemetry",
		Header:   http.Header{},
	}
}

func batchBody(items, sensorsPerItem int) []byte {
	batch := make(model.TelemetryBatch, items)
	for i := range batch {
		readings := make([]model.SensorReading, sensorsPerItem)
		for j := range readings {
			readings[j] = model.SensorReading{SensorID: fmt.Sprintf("s-%d", j), Value: json.RawMessage("1.5")}
		}
		batch[i] = model.EquipmentRecord{EquipmentID: fmt.Sprintf("eq-%d", i), Sensors: readings}
	}
	raw, _ := json.Marshal(batch)
	return raw
}

// countingStage records how often it ran and optionally fails.
type countingStage struct {
	name  string
	calls int
	err   error
	rej   *Rejection
	trace *[]string
}

func (s *countingStage) Name() string { return s.name }

func (s *countingStage) Admit(ctx context.Context, req *Request) (*Rejection, error) {
	s.calls++
	if s.trace != nil {
		*s.trace = append(*s.trace, s.name)
	}
	return s.rej, s.err
}

var errTest = errors.New("token signature is invalid")

func itoa(i int) string { return strconv.Itoa(i) }
