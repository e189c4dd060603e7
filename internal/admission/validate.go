package admission

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"telemetry-gateway/internal/model"
	"telemetry-gateway/internal/util"
)

// Validator checks the batch shape and resolves the tenant scope. It never
// touches a dependency, so it never returns an error.
type Validator struct {
	maxItems int
}

func NewValidator(maxItems int) *Validator {
	return &Validator{maxItems: maxItems}
}

func (v *Validator) Name() string { return "validation" }

func (v *Validator) Admit(ctx context.Context, req *Request) (*Rejection, error) {
	if req.BodyErr != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(req.BodyErr, &tooLarge) {
			return Invalid("request body exceeds %d bytes", tooLarge.Limit), nil
		}
		return Invalid("failed to read request body: %v", req.BodyErr), nil
	}
	batch, rej := v.parseBatch(req.Body)
	if rej != nil {
		return rej, nil
	}
	scope, rej := ResolveScope(req)
	if rej != nil {
		return rej, nil
	}
	req.Batch = batch
	req.Scope = scope
	return nil, nil
}

func (v *Validator) parseBatch(body []byte) (model.TelemetryBatch, *Rejection) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, Invalid("request body is empty")
	}
	if trimmed[0] != '[' {
		return nil, Invalid("request body must be a JSON array of equipment records")
	}

	var batch model.TelemetryBatch
	if err := json.Unmarshal(trimmed, &batch); err != nil {
		return nil, Invalid("malformed JSON body: %v", err)
	}
	if len(batch) == 0 {
		return nil, Invalid("batch must contain at least one equipment record")
	}
	if v.maxItems > 0 && len(batch) > v.maxItems {
		return nil, Invalid("batch has %d equipment records, maximum is %d", len(batch), v.maxItems)
	}

	for i, rec := range batch {
		if strings.TrimSpace(rec.EquipmentID) == "" {
			return nil, Invalid("record %d: equipment_id is required", i)
		}
		if !util.IsSafeIdentifier(rec.EquipmentID) {
			return nil, Invalid("record %d: equipment_id contains invalid characters", i)
		}
		if len(rec.Sensors) == 0 {
			return nil, Invalid("record %d (%s): sensors must not be empty", i, rec.EquipmentID)
		}
		for j, reading := range rec.Sensors {
			if strings.TrimSpace(reading.SensorID) == "" {
				return nil, Invalid("record %d (%s) sensor %d: sensor_id is required", i, rec.EquipmentID, j)
			}
			if util.ContainsSuspicious(reading.Unit) {
				return nil, Invalid("record %d (%s) sensor %d: unit contains invalid content", i, rec.EquipmentID, j)
			}
		}
	}
	return batch, nil
}

// ResolveScope takes each scope field from the verified claims, falling
// back to the matching X-*-ID header. All three are required.
func ResolveScope(req *Request) (model.Scope, *Rejection) {
	var claims model.Claims
	if req.Claims != nil && req.ClaimsErr == nil {
		claims = *req.Claims
	}

	var scope model.Scope
	var rej *Rejection
	if scope.TenantID, rej = scopeField(req, "tenant_id", "X-Tenant-ID", claims.TenantID); rej != nil {
		return scope, rej
	}
	if scope.OrganizationID, rej = scopeField(req, "organization_id", "X-Organization-ID", claims.OrganizationID); rej != nil {
		return scope, rej
	}
	if scope.WorkspaceID, rej = scopeField(req, "workspace_id", "X-Workspace-ID", claims.WorkspaceID); rej != nil {
		return scope, rej
	}
	return scope, nil
}

func scopeField(req *Request, name, header, claim string) (string, *Rejection) {
	value := strings.TrimSpace(claim)
	if value == "" {
		value = strings.TrimSpace(req.Header.Get(header))
	}
	if value == "" {
		return "", Invalid("missing %s: provide it in claims or the %s header", name, header)
	}
	if !util.IsSafeIdentifier(value) {
		return "", Invalid("%s contains invalid characters", name)
	}
	return value, nil
}
