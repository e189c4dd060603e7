package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"telemetry-gateway/internal/model"
)

func TestAdminRequiresToken(t *testing.T) {
	ts := newTestServer(t, testAdminToken)

	if rec := ts.admin(http.MethodGet, "/api/v1/admin/bans", nil, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: status %d", rec.Code)
	}
	if rec := ts.admin(http.MethodGet, "/api/v1/admin/bans", nil, "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: status %d", rec.Code)
	}
	if rec := ts.admin(http.MethodGet, "/api/v1/admin/bans", nil, testAdminToken); rec.Code != http.StatusOK {
		t.Fatalf("valid token: status %d", rec.Code)
	}
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	ts := newTestServer(t, "")
	if rec := ts.admin(http.MethodGet, "/api/v1/admin/bans", nil, "anything"); rec.Code != http.StatusNotFound {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestAdminBanLifecycle(t *testing.T) {
	ts := newTestServer(t, testAdminToken)

	rec := ts.admin(http.MethodPost, "/api/v1/admin/bans",
		[]byte(`{"scope":"device","identifier":"dev-9","reason":"tampering","duration_seconds":600}`), testAdminToken)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d body %s", rec.Code, rec.Body.String())
	}

	if rec := ts.ingest("dev-9", telemetryBody(1)); rec.Code != http.StatusForbidden {
		t.Fatalf("banned device admitted: status %d", rec.Code)
	}

	rec = ts.admin(http.MethodGet, "/api/v1/admin/bans", nil, testAdminToken)
	var listed struct {
		Data []model.BanRecord `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listed.Data) != 1 || listed.Data[0].Identifier != "dev-9" || listed.Data[0].Reason != "tampering" {
		t.Fatalf("listed %+v", listed.Data)
	}

	if rec := ts.admin(http.MethodDelete, "/api/v1/admin/bans/device/dev-9", nil, testAdminToken); rec.Code != http.StatusOK {
		t.Fatalf("delete: status %d", rec.Code)
	}
	if rec := ts.admin(http.MethodDelete, "/api/v1/admin/bans/device/dev-9", nil, testAdminToken); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete: status %d", rec.Code)
	}
	if rec := ts.ingest("dev-9", telemetryBody(1)); rec.Code != http.StatusAccepted {
		t.Fatalf("unbanned device refused: status %d", rec.Code)
	}
}

func TestAdminRejectsInvalidBan(t *testing.T) {
	ts := newTestServer(t, testAdminToken)
	rec := ts.admin(http.MethodPost, "/api/v1/admin/bans",
		[]byte(`{"scope":"planet","identifier":"x","duration_seconds":60}`), testAdminToken)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestAdminRepublishDrainsPending(t *testing.T) {
	ts := newTestServer(t, testAdminToken)
	ts.queue.SetHealthy(false)
	if rec := ts.ingest("dev-1", telemetryBody(1)); rec.Code != http.StatusAccepted {
		t.Fatalf("ingest: status %d", rec.Code)
	}

	rec := ts.admin(http.MethodGet, "/api/v1/admin/claim-checks/pending", nil, testAdminToken)
	var pending struct {
		Data []model.ClaimCheck `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &pending); err != nil || len(pending.Data) != 1 {
		t.Fatalf("pending: %s err=%v", rec.Body.String(), err)
	}

	ts.queue.SetHealthy(true)
	rec = ts.admin(http.MethodPost, "/api/v1/admin/claim-checks/republish", nil, testAdminToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("republish: status %d body %s", rec.Code, rec.Body.String())
	}
	if len(ts.queue.Messages()) != 1 {
		t.Fatalf("claim check not republished")
	}
	left, err := ts.cache.ListPending(context.Background(), 10)
	if err != nil || len(left) != 0 {
		t.Fatalf("pending after sweep: %+v err=%v", left, err)
	}

	key := pending.Data[0].StorageKey
	rec = ts.admin(http.MethodGet, "/api/v1/admin/claim-checks/payload?key="+key, nil, testAdminToken)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"equipment_id":"eq-0"`) {
		t.Fatalf("payload: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestAdminViolations(t *testing.T) {
	ts := newTestServer(t, testAdminToken)
	if _, err := ts.cache.IncrementViolations(context.Background(), "dev-3", time.Hour); err != nil {
		t.Fatalf("seed violations: %v", err)
	}

	rec := ts.admin(http.MethodGet, "/api/v1/admin/violations/dev-3", nil, testAdminToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"violations":1`) {
		t.Fatalf("body %s", rec.Body.String())
	}
}

func TestAdminCallsWithTokenSkipAdmission(t *testing.T) {
	ts := newTestServer(t, testAdminToken)

	for i := 1; i <= 100; i++ {
		if rec := ts.admin(http.MethodGet, "/api/v1/admin/bans", nil, testAdminToken); rec.Code != http.StatusOK {
			t.Fatalf("call %d: status %d body %s", i, rec.Code, rec.Body.String())
		}
	}

	// An operator whose own address is banned can still lift the ban.
	if err := ts.cache.Ban(context.Background(), model.BanScopeIP, "203.0.113.50", "manual", time.Hour); err != nil {
		t.Fatalf("ban: %v", err)
	}
	if rec := ts.admin(http.MethodDelete, "/api/v1/admin/bans/ip/203.0.113.50", nil, testAdminToken); rec.Code != http.StatusOK {
		t.Fatalf("unban: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestAdminTokenGuessesAreRateLimited(t *testing.T) {
	ts := newTestServer(t, testAdminToken)

	var last int
	for i := 1; i <= 40; i++ {
		last = ts.admin(http.MethodGet, "/api/v1/admin/bans", nil, "guess").Code
		if i <= 30 && last != http.StatusUnauthorized {
			t.Fatalf("guess %d: status %d", i, last)
		}
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("guess 40: status %d", last)
	}
	if n, _, _ := ts.cache.Violations(context.Background(), "203.0.113.50"); n != 0 {
		t.Fatalf("throttled guesses recorded %d violations", n)
	}
}

func TestAdminResetsViolationsWithoutActiveBan(t *testing.T) {
	ts := newTestServer(t, testAdminToken)
	if _, err := ts.cache.IncrementViolations(context.Background(), "dev-4", time.Hour); err != nil {
		t.Fatalf("seed violations: %v", err)
	}

	rec := ts.admin(http.MethodDelete, "/api/v1/admin/bans/device/dev-4?reset_violations=true", nil, testAdminToken)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	if n, _, _ := ts.cache.Violations(context.Background(), "dev-4"); n != 0 {
		t.Fatalf("violations = %d after reset", n)
	}
}
