package model

import "time"

// UserType selects the rate-limit tier a caller is measured against.
type UserType string

const (
	UserTypeDevice   UserType = "device"
	UserTypeFrontend UserType = "frontend"
	UserTypeDefault  UserType = "default"
)

// ParseUserType normalises a claim or header value. Unknown values yield
// ok=false so callers can fall through to the next classification source.
func ParseUserType(v string) (UserType, bool) {
	switch UserType(v) {
	case UserTypeDevice, UserTypeFrontend, UserTypeDefault:
		return UserType(v), true
	}
	return "", false
}

// BanScope is the identity namespace a ban applies to.
type BanScope string

const (
	BanScopeIP     BanScope = "ip"
	BanScopeDevice BanScope = "device"
)

func ParseBanScope(v string) (BanScope, bool) {
	switch BanScope(v) {
	case BanScopeIP, BanScopeDevice:
		return BanScope(v), true
	}
	return "", false
}

// BanRecord is an active ban. Presence in the shared state store means
// banned; the record disappears when its TTL elapses or on explicit unban.
type BanRecord struct {
	Scope      BanScope      `json:"scope"`
	Identifier string        `json:"identifier"`
	Reason     string        `json:"reason"`
	TTL        time.Duration `json:"-"`
	ExpiresIn  int64         `json:"expires_in_seconds"`
}

// Claims is the verified identity an upstream authenticator vouches for.
type Claims struct {
	Subject        string   `json:"sub,omitempty"`
	UserType       UserType `json:"user_type,omitempty"`
	TenantID       string   `json:"tenant_id,omitempty"`
	OrganizationID string   `json:"organization_id,omitempty"`
	WorkspaceID    string   `json:"workspace_id,omitempty"`
	DeviceID       string   `json:"device_id,omitempty"`
}

// Scope identifies the tenant/organization/workspace a batch belongs to.
type Scope struct {
	TenantID       string `json:"tenant_id"`
	OrganizationID string `json:"organization_id"`
	WorkspaceID    string `json:"workspace_id"`
}

func (s Scope) Complete() bool {
	return s.TenantID != "" && s.OrganizationID != "" && s.WorkspaceID != ""
}
