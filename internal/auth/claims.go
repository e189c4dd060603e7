package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"telemetry-gateway/internal/model"
)

var (
	ErrNoVerifier   = errors.New("bearer token presented but no verification key is configured")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Forward-auth headers set by the upstream authenticating proxy.
const (
	HeaderUserType       = "X-Auth-User-Type"
	HeaderTenantID       = "X-Auth-Tenant-ID"
	HeaderOrganizationID = "X-Auth-Organization-ID"
	HeaderWorkspaceID    = "X-Auth-Workspace-ID"
	HeaderDeviceID       = "X-Auth-Device-ID"
)

type gatewayClaims struct {
	UserType       string `json:"user_type"`
	TenantID       string `json:"tenant_id"`
	OrganizationID string `json:"organization_id"`
	WorkspaceID    string `json:"workspace_id"`
	DeviceID       string `json:"device_id"`
	jwt.RegisteredClaims
}

// Verifier checks RS256 tokens issued by the platform's auth service.
type Verifier struct {
	publicKey *rsa.PublicKey
	leeway    time.Duration
}

func NewVerifier(publicKey *rsa.PublicKey) *Verifier {
	return &Verifier{publicKey: publicKey, leeway: 30 * time.Second}
}

// LoadVerifier reads a PEM encoded RSA public key from path.
func LoadVerifier(path string) (*Verifier, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	key, err := ParseRSAPublicKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return NewVerifier(key), nil
}

func ParseRSAPublicKey(raw []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("invalid public PEM")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	keyAny, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := keyAny.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return key, nil
}

func (v *Verifier) Verify(raw string) (*model.Claims, error) {
	parsed, err := jwt.ParseWithClaims(raw, &gatewayClaims{}, func(token *jwt.Token) (any, error) {
		return v.publicKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}), jwt.WithLeeway(v.leeway))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*gatewayClaims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("%w: unexpected claims", ErrInvalidToken)
	}

	return &model.Claims{
		Subject:        claims.Subject,
		UserType:       model.UserType(strings.ToLower(claims.UserType)),
		TenantID:       claims.TenantID,
		OrganizationID: claims.OrganizationID,
		WorkspaceID:    claims.WorkspaceID,
		DeviceID:       claims.DeviceID,
	}, nil
}

// Resolver extracts the caller's claims from a request. It never rejects;
// the outcome is stored for later stages to act on.
type Resolver struct {
	verifier         *Verifier
	trustForwardAuth bool
	logger           *zap.Logger
}

func NewResolver(verifier *Verifier, trustForwardAuth bool, logger *zap.Logger) *Resolver {
	return &Resolver{verifier: verifier, trustForwardAuth: trustForwardAuth, logger: logger}
}

// Resolve returns nil claims and a nil error for anonymous requests.
func (r *Resolver) Resolve(req *http.Request) (*model.Claims, error) {
	if authz := req.Header.Get("Authorization"); authz != "" {
		raw, ok := strings.CutPrefix(authz, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			return nil, fmt.Errorf("%w: malformed Authorization header", ErrInvalidToken)
		}
		if r.verifier == nil {
			return nil, ErrNoVerifier
		}
		return r.verifier.Verify(strings.TrimSpace(raw))
	}

	if r.trustForwardAuth {
		claims := &model.Claims{
			UserType:       model.UserType(strings.ToLower(req.Header.Get(HeaderUserType))),
			TenantID:       req.Header.Get(HeaderTenantID),
			OrganizationID: req.Header.Get(HeaderOrganizationID),
			WorkspaceID:    req.Header.Get(HeaderWorkspaceID),
			DeviceID:       req.Header.Get(HeaderDeviceID),
		}
		if *claims != (model.Claims{}) {
			return claims, nil
		}
	}
	return nil, nil
}

// Middleware stores the resolved claims (or the resolution error) on the
// request context.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		claims, err := r.Resolve(req)
		if err != nil {
			r.logger.Debug("Claims rejected",
				zap.String("path", req.URL.Path),
				zap.Error(err))
		}
		next.ServeHTTP(w, req.WithContext(withResult(req.Context(), claims, err)))
	})
}

type claimsKey struct{}

type result struct {
	claims *model.Claims
	err    error
}

func withResult(ctx context.Context, claims *model.Claims, err error) context.Context {
	return context.WithValue(ctx, claimsKey{}, result{claims: claims, err: err})
}

// FromContext returns the claims and resolution error stored by Middleware.
func FromContext(ctx context.Context) (*model.Claims, error) {
	res, _ := ctx.Value(claimsKey{}).(result)
	return res.claims, res.err
}
