package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"telemetry-gateway/internal/encryption"
	"telemetry-gateway/internal/model"
)

const (
	metaTenantID       = "tenant-id"
	metaOrganizationID = "organization-id"
	metaWorkspaceID    = "workspace-id"
	metaRequestID      = "request-id"
	metaEncryptedDEK   = "encrypted-dek"
	metaKeyID          = "key-id"
	metaEncVersion     = "encryption-version"
)

var ErrEncryptedPayload = errors.New("payload is encrypted but no encryption manager is configured")

// ObjectStore is the durable blob store raw batches are written to.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string, meta map[string]string) (int64, error)
	GetObject(ctx context.Context, key string) ([]byte, map[string]string, error)
}

// PayloadStore writes raw batches to the object store, sealing them with
// envelope encryption when an encryption manager is configured. Get always
// returns the bytes that were given to Put.
type PayloadStore struct {
	objects    ObjectStore
	encryption *encryption.EncryptionManager
	logger     *zap.Logger
}

// NewPayloadStore stores plaintext when enc is nil.
func NewPayloadStore(objects ObjectStore, enc *encryption.EncryptionManager, logger *zap.Logger) *PayloadStore {
	return &PayloadStore{objects: objects, encryption: enc, logger: logger}
}

// Put stores data under key and returns the pointer and the raw size.
func (s *PayloadStore) Put(ctx context.Context, key string, data []byte, scope model.Scope, requestID string) (string, int64, error) {
	meta := map[string]string{
		metaTenantID:       scope.TenantID,
		metaOrganizationID: scope.OrganizationID,
		metaWorkspaceID:    scope.WorkspaceID,
		metaRequestID:      requestID,
	}

	body := data
	contentType := "application/json"
	if s.encryption != nil {
		blob, err := s.encryption.EncryptBlob(ctx, data)
		if err != nil {
			return "", 0, fmt.Errorf("failed to encrypt payload: %w", err)
		}
		body = blob.Ciphertext
		contentType = "application/octet-stream"
		meta[metaEncryptedDEK] = blob.EncryptedDEK
		meta[metaKeyID] = blob.KeyID
		meta[metaEncVersion] = blob.Version
	}

	if _, err := s.objects.PutObject(ctx, key, body, contentType, meta); err != nil {
		return "", 0, err
	}
	return key, int64(len(data)), nil
}

// Get dereferences a pointer returned by Put.
func (s *PayloadStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, meta, err := s.objects.GetObject(ctx, key)
	if err != nil {
		return nil, err
	}

	wrappedDEK, encrypted := lookupMeta(meta, metaEncryptedDEK)
	if !encrypted {
		return data, nil
	}
	if s.encryption == nil {
		return nil, ErrEncryptedPayload
	}
	plaintext, err := s.encryption.DecryptBlob(ctx, data, wrappedDEK)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt payload %s: %w", key, err)
	}
	return plaintext, nil
}

// lookupMeta matches keys case-insensitively; S3 implementations return
// user metadata in canonical header form.
func lookupMeta(meta map[string]string, key string) (string, bool) {
	for k, v := range meta {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}
