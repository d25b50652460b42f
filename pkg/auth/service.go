/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/errors"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/kvstore"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/logger/log"
)

const rawKeyLength = 32

type Service struct {
	store  *kvstore.Client
	secret []byte
	prefix string
}

func NewService(store *kvstore.Client, secret, prefix string) *Service {
	return &Service{
		store:  store,
		secret: []byte(secret),
		prefix: prefix,
	}
}

// GenerateRawKey produces "ak_" + 32 URL-safe base64 characters of randomness.
func (s *Service) GenerateRawKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.WrapError(err, "generate api key", errors.TypeInternal)
	}
	return s.prefix + base64.RawURLEncoding.EncodeToString(buf)[:rawKeyLength], nil
}

func newKeyID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", errors.WrapError(err, "generate key id", errors.TypeInternal)
	}
	return hex.EncodeToString(buf), nil
}

// HashKey derives the storage identity of a raw key. The raw key itself is
// never persisted.
func (s *Service) HashKey(rawKey string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(rawKey))
	return hex.EncodeToString(mac.Sum(nil))
}

// CreateKey mints a new key for the user and persists its record. The raw
// key is returned exactly once.
func (s *Service) CreateKey(ctx context.Context, userID string, tier Tier, permissions []Permission, expiresAt *time.Time) (string, *APIKey, error) {
	if userID == "" {
		return "", nil, errors.NewValidation("user_id is required")
	}
	if !IsValidTier(tier) {
		return "", nil, errors.NewValidation("tier must be one of basic, standard, premium, enterprise").
			WithDetail("tier", string(tier))
	}
	if len(permissions) == 0 {
		permissions = []Permission{PermissionRead}
	}
	for _, p := range permissions {
		if !IsValidPermission(p) {
			return "", nil, errors.NewValidation("unknown permission").WithDetail("permission", string(p))
		}
	}

	rawKey, err := s.GenerateRawKey()
	if err != nil {
		return "", nil, err
	}
	keyID, err := newKeyID()
	if err != nil {
		return "", nil, err
	}

	key := &APIKey{
		KeyID:       keyID,
		UserID:      userID,
		Tier:        tier,
		Permissions: permissions,
		Status:      KeyStatusActive,
		CreatedAt:   time.Now().UTC(),
		ExpiresAt:   expiresAt,
	}

	fields := map[string]interface{}{
		"key_id":      key.KeyID,
		"user_id":     key.UserID,
		"tier":        string(key.Tier),
		"permissions": joinPermissions(key.Permissions),
		"status":      string(key.Status),
		"created_at":  key.CreatedAt.Unix(),
	}
	if expiresAt != nil {
		fields["expires_at"] = expiresAt.Unix()
	}

	hash := s.HashKey(rawKey)
	if err := s.store.HSet(ctx, kvstore.APIKeyKey(hash), fields); err != nil {
		return "", nil, errors.WrapError(err, "persist api key", errors.TypeInternal)
	}
	if err := s.store.SAdd(ctx, kvstore.UserKeysKey(userID), keyID); err != nil {
		return "", nil, errors.WrapError(err, "index api key", errors.TypeInternal)
	}
	return rawKey, key, nil
}

// ValidateKey authenticates a raw key and returns the identity bound to it.
func (s *Service) ValidateKey(ctx context.Context, rawKey string) (*APIKey, error) {
	if !strings.HasPrefix(rawKey, s.prefix) {
		return nil, errors.NewUnauthorized("invalid api key")
	}

	hash := s.HashKey(rawKey)
	fields, err := s.store.HGetAll(ctx, kvstore.APIKeyKey(hash))
	if err != nil {
		return nil, errors.WrapError(err, "api key lookup failed", errors.TypeInternal)
	}
	if len(fields) == 0 {
		return nil, errors.NewUnauthorized("invalid api key")
	}

	key := keyFromFields(fields)
	if key.Status != KeyStatusActive {
		return nil, errors.NewUnauthorized("api key revoked")
	}
	if key.IsExpired(time.Now()) {
		return nil, errors.NewUnauthorized("api key expired")
	}

	if err := s.store.HSet(ctx, kvstore.APIKeyKey(hash), map[string]interface{}{
		"last_used_at": time.Now().Unix(),
	}); err != nil {
		log.Warnf("failed to update last_used_at for key %s: %v", key.KeyID, err)
	}
	return key, nil
}

// ListKeys returns all key records belonging to the user, raw keys excluded.
func (s *Service) ListKeys(ctx context.Context, userID string) ([]*APIKey, error) {
	hashes, err := s.store.Scan(ctx, "api_key:*", 100)
	if err != nil {
		return nil, errors.WrapError(err, "scan api keys", errors.TypeInternal)
	}
	var keys []*APIKey
	for _, hashKey := range hashes {
		fields, err := s.store.HGetAll(ctx, hashKey)
		if err != nil {
			return nil, err
		}
		if fields["user_id"] != userID {
			continue
		}
		keys = append(keys, keyFromFields(fields))
	}
	return keys, nil
}

// RevokeKey marks the user's key revoked. Revocation is idempotent.
func (s *Service) RevokeKey(ctx context.Context, userID, keyID string) error {
	hashes, err := s.store.Scan(ctx, "api_key:*", 100)
	if err != nil {
		return errors.WrapError(err, "scan api keys", errors.TypeInternal)
	}
	for _, hashKey := range hashes {
		fields, err := s.store.HGetAll(ctx, hashKey)
		if err != nil {
			return err
		}
		if fields["user_id"] != userID || fields["key_id"] != keyID {
			continue
		}
		if err := s.store.HSet(ctx, hashKey, map[string]interface{}{
			"status": string(KeyStatusRevoked),
		}); err != nil {
			return errors.WrapError(err, "revoke api key", errors.TypeInternal)
		}
		return s.store.SRem(ctx, kvstore.UserKeysKey(userID), keyID)
	}
	return errors.NewNotFound("api key", keyID)
}

func keyFromFields(fields map[string]string) *APIKey {
	key := &APIKey{
		KeyID:       fields["key_id"],
		UserID:      fields["user_id"],
		Tier:        Tier(fields["tier"]),
		Permissions: splitPermissions(fields["permissions"]),
		Status:      KeyStatus(fields["status"]),
	}
	if v, err := strconv.ParseInt(fields["created_at"], 10, 64); err == nil {
		key.CreatedAt = time.Unix(v, 0).UTC()
	}
	if raw, ok := fields["last_used_at"]; ok {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			ts := time.Unix(v, 0).UTC()
			key.LastUsedAt = &ts
		}
	}
	if raw, ok := fields["expires_at"]; ok {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			ts := time.Unix(v, 0).UTC()
			key.ExpiresAt = &ts
		}
	}
	return key
}
