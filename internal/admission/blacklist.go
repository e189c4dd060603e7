package admission

import (
	"context"

	"telemetry-gateway/internal/model"
)

// BanStore answers whether an identity currently has a ban record.
type BanStore interface {
	LookupBan(ctx context.Context, scope model.BanScope, identifier string) (*model.BanRecord, error)
}

// BlacklistGate rejects callers whose IP or device is banned.
type BlacklistGate struct {
	bans BanStore
}

func NewBlacklistGate(bans BanStore) *BlacklistGate {
	return &BlacklistGate{bans: bans}
}

func (g *BlacklistGate) Name() string { return "blacklist" }

func (g *BlacklistGate) Admit(ctx context.Context, req *Request) (*Rejection, error) {
	if req.IP != "" {
		rec, err := g.bans.LookupBan(ctx, model.BanScopeIP, req.IP)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return Blocked(rec.Reason, rec.TTL), nil
		}
	}
	if req.DeviceID != "" {
		rec, err := g.bans.LookupBan(ctx, model.BanScopeDevice, req.DeviceID)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			return Blocked(rec.Reason, rec.TTL), nil
		}
	}
	return nil, nil
}
