/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package auth

import (
	"strings"
	"time"
)

type Tier string

const (
	TierBasic      Tier = "basic"
	TierStandard   Tier = "standard"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// tierRank gives the total ordering basic < standard < premium < enterprise.
func tierRank(t Tier) int {
	switch t {
	case TierBasic:
		return 0
	case TierStandard:
		return 1
	case TierPremium:
		return 2
	case TierEnterprise:
		return 3
	}
	return -1
}

func IsValidTier(t Tier) bool {
	return tierRank(t) >= 0
}

// AtLeast reports whether t meets the required tier.
func (t Tier) AtLeast(required Tier) bool {
	return tierRank(t) >= tierRank(required)
}

type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
	PermissionAdmin Permission = "admin"
)

func IsValidPermission(p Permission) bool {
	return p == PermissionRead || p == PermissionWrite || p == PermissionAdmin
}

type KeyStatus string

const (
	KeyStatusActive  KeyStatus = "active"
	KeyStatusRevoked KeyStatus = "revoked"
)

type APIKey struct {
	KeyID       string       `json:"key_id"`
	UserID      string       `json:"user_id"`
	Tier        Tier         `json:"tier"`
	Permissions []Permission `json:"permissions"`
	Status      KeyStatus    `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	LastUsedAt  *time.Time   `json:"last_used_at,omitempty"`
	ExpiresAt   *time.Time   `json:"expires_at,omitempty"`
}

func (k *APIKey) HasPermission(p Permission) bool {
	for _, have := range k.Permissions {
		if have == PermissionAdmin || have == p {
			return true
		}
	}
	return false
}

func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

func joinPermissions(perms []Permission) string {
	parts := make([]string, 0, len(perms))
	for _, p := range perms {
		parts = append(parts, string(p))
	}
	return strings.Join(parts, ",")
}

func splitPermissions(s string) []Permission {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	perms := make([]Permission, 0, len(parts))
	for _, p := range parts {
		perms = append(perms, Permission(p))
	}
	return perms
}

// Identity is attached to the request context after authentication.
type Identity struct {
	UserID      string
	Tier        Tier
	Permissions []Permission
	KeyID       string
	Anonymous   bool
}

func AnonymousIdentity(clientIP string) *Identity {
	return &Identity{
		UserID:      "anon:" + clientIP,
		Tier:        TierBasic,
		Permissions: []Permission{PermissionRead},
		Anonymous:   true,
	}
}

func (id *Identity) HasPermission(p Permission) bool {
	for _, have := range id.Permissions {
		if have == PermissionAdmin || have == p {
			return true
		}
	}
	return false
}
