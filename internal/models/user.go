package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// Roles assignable to a user. Exactly one owner exists per deployment.
const (
	// RoleOwner is the unique, unremovable bootstrap role.
	RoleOwner = "owner"
	// RoleAdmin grants user-management access.
	RoleAdmin = "admin"
	// RoleUser is the default role for API consumers.
	RoleUser = "user"
)

// Capability permission keys. The set of keys is fixed.
const (
	// CapabilityTextCompletion gates the completions endpoint.
	CapabilityTextCompletion = "text_completion_models"
	// CapabilityChatCompletion gates the chat completions endpoint.
	CapabilityChatCompletion = "chat_completion_models"
	// CapabilityEmbeddings gates the embeddings endpoint.
	CapabilityEmbeddings = "embeddings"
	// CapabilityFineTune gates file upload and fine-tune endpoints.
	CapabilityFineTune = "fine_tune"
)

// CapabilityKeys lists every valid permission key.
var CapabilityKeys = []string{
	CapabilityTextCompletion,
	CapabilityChatCompletion,
	CapabilityEmbeddings,
	CapabilityFineTune,
}

// ValidRole reports whether role is one of the assignable roles.
func ValidRole(role string) bool {
	return role == RoleOwner || role == RoleAdmin || role == RoleUser
}

// PermissionSet maps capability keys to grant flags.
type PermissionSet map[string]bool

// DefaultPermissions returns the permission set applied to new users.
func DefaultPermissions() PermissionSet {
	return PermissionSet{
		CapabilityTextCompletion: true,
		CapabilityChatCompletion: true,
		CapabilityEmbeddings:     true,
		CapabilityFineTune:       false,
	}
}

// Validate checks that the set contains exactly the fixed capability keys.
func (p PermissionSet) Validate() error {
	if len(p) != len(CapabilityKeys) {
		return fmt.Errorf("permissions: expected %d keys, got %d", len(CapabilityKeys), len(p))
	}
	for _, key := range CapabilityKeys {
		if _, ok := p[key]; !ok {
			return fmt.Errorf("permissions: missing key %q", key)
		}
	}
	return nil
}

// Allows reports whether the capability is granted.
func (p PermissionSet) Allows(capability string) bool {
	return p != nil && p[capability]
}

// JSON encodes the set into a JSON column value.
func (p PermissionSet) JSON() (datatypes.JSON, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("permissions: marshal: %w", err)
	}
	return datatypes.JSON(payload), nil
}

// DecodePermissions parses a JSON column value into a PermissionSet.
func DecodePermissions(raw datatypes.JSON) (PermissionSet, error) {
	if len(raw) == 0 {
		return PermissionSet{}, nil
	}
	var set PermissionSet
	if errUnmarshal := json.Unmarshal(raw, &set); errUnmarshal != nil {
		return nil, fmt.Errorf("permissions: unmarshal: %w", errUnmarshal)
	}
	return set, nil
}

// User represents a registered principal stored in the database.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID string `gorm:"type:text;not null;uniqueIndex"` // External user identifier.
	Name   string `gorm:"type:text"`                      // Display name.

	Role string `gorm:"type:text;not null;default:'user';index"` // One of owner/admin/user.

	Password   string `gorm:"type:text;not null"`    // Hashed login password.
	APIKeyHash string `gorm:"type:text;uniqueIndex"` // SHA-256 digest of the API key.
	TOTPSecret string `gorm:"type:text"`             // Optional TOTP secret for login MFA.

	Permissions datatypes.JSON `gorm:"type:jsonb;not null;default:'{}'"` // Capability permission flags.

	RequestLimit  int64 `gorm:"not null;default:0"` // Remaining general request quota.
	FineTuneLimit int64 `gorm:"not null;default:0"` // Remaining fine-tune quota.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// IsAdmin reports whether the user's role grants administrative actions.
func (u *User) IsAdmin() bool {
	return u.Role == RoleOwner || u.Role == RoleAdmin
}

// PermissionSet decodes the stored permission flags.
func (u *User) PermissionSet() PermissionSet {
	set, err := DecodePermissions(u.Permissions)
	if err != nil {
		return PermissionSet{}
	}
	return set
}
