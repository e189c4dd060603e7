package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"telemetry-gateway/internal/admission"
	"telemetry-gateway/internal/auth"
	"telemetry-gateway/internal/bucketing"
	"telemetry-gateway/internal/config"
	"telemetry-gateway/internal/model"
	"telemetry-gateway/internal/repository/memory"
	rediscache "telemetry-gateway/internal/repository/redis"
	"telemetry-gateway/internal/service"
)

const testAdminToken = "s3cret-admin"

type testServer struct {
	router  http.Handler
	store   *memory.Store
	cache   *rediscache.AdmissionCache
	objects *memory.ObjectStore
	queue   *memory.Queue
	tenants *memory.TenantRegistry
	usage   *memory.UsageLedger
	audit   *memory.AuditSink
}

func newTestServer(t *testing.T, adminToken string) *testServer {
	t.Helper()
	logger := zap.NewNop()

	ts := &testServer{
		store:   memory.NewStore(nil),
		objects: memory.NewObjectStore(),
		queue:   memory.NewQueue(),
		tenants: memory.NewTenantRegistry(),
		usage:   memory.NewUsageLedger(),
		audit:   memory.NewAuditSink(),
	}
	ts.cache = rediscache.NewAdmissionCache(ts.store, logger)

	requestStages := admission.NewPipeline(logger,
		admission.Step{Stage: admission.NewBlacklistGate(ts.cache), Policy: admission.FailClosed},
		admission.Step{Stage: admission.NewRateLimiter(ts.cache, config.DefaultTiers(), time.Minute, 7*24*time.Hour, logger), Policy: admission.FailClosed},
	)
	ingestStages := admission.NewPipeline(logger,
		admission.Step{Stage: admission.NewConcurrencyLock(ts.cache, 300*time.Second, time.Second, logger), Policy: admission.FailClosed},
		admission.Step{Stage: admission.NewValidator(500), Policy: admission.FailClosed},
		admission.Step{Stage: admission.NewQuotaEnforcer(ts.tenants, ts.usage, logger, admission.WithAuditSink(ts.audit, time.Second)), Policy: admission.FailClosed},
	)

	cfg := &config.Config{Ingestion: config.IngestionConfig{RepublishInterval: time.Minute, RepublishBatchSize: 100}}
	services := service.NewServiceFactory(cfg,
		service.NewPayloadStore(ts.objects, nil, logger),
		bucketing.NewBucketingManager(8),
		ts.queue,
		ts.cache,
		admission.BanDuration,
		logger,
	)

	ts.router = NewRouter(RouterDeps{
		Health: NewHealthHandler("telemetry-gateway", map[string]HealthChecker{
			"state": ts.store,
			"queue": ts.queue,
		}),
		Claims:         auth.NewResolver(nil, true, logger),
		Admission:      requestStages,
		Ingest:         NewIngestHandler(ingestStages, services.IngestionService(), 1<<20, logger),
		Admin:          NewAdminHandler(services.BanService(), services.Republisher(), services.IngestionService(), adminToken, logger),
		AllowedOrigins: []string{"*"},
		Logger:         logger,
	}, false)
	return ts
}

func telemetryBody(items int) []byte {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i := 0; i < items; i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, `{"equipment_id":"eq-%d","sensors":[{"sensor_id":"temp","value":%d,"unit":"C"}]}`, i, i)
	}
	buf.WriteByte(']')
	return buf.Bytes()
}

func (ts *testServer) ingest(device string, body []byte, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/telemetry", bytes.NewReader(body))
	req.RemoteAddr = "198.51.100.7:40000"
	req.Header.Set("Content-Type", "application/json")
	if device != "" {
		req.Header.Set("X-Device-ID", device)
	}
	req.Header.Set("X-Tenant-ID", "tenant-a")
	req.Header.Set("X-Organization-ID", "org-a")
	req.Header.Set("X-Workspace-ID", "ws-a")
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) admin(method, path string, body []byte, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.RemoteAddr = "203.0.113.50:1"
	if token != "" {
		req.Header.Set("X-Admin-Token", token)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return body
}

func (ts *testServer) lockHeld(t *testing.T, device string) bool {
	t.Helper()
	_, found, err := ts.store.Get(context.Background(), "upload_lock:"+device)
	if err != nil {
		t.Fatalf("read lock: %v", err)
	}
	return found
}

func setQuota(ts *testServer, items int64, used int64) {
	ts.tenants.SetQuota(model.TenantQuota{TenantID: "tenant-a", ItemsPerDay: model.Int64(items)})
	ts.usage.SetUsage(model.TenantUsage{TenantID: "tenant-a", Day: time.Now().UTC(), ItemsCount: used})
}
