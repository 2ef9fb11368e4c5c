package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"hermannm.dev/enumnames"
)

type Role uint8

const (
	// RoleAnalyst may ask questions, run authorized SQL and chat.
	RoleAnalyst Role = iota + 1
	// RoleUploader may create tables from CSV uploads.
	RoleUploader
)

var roleNames = enumnames.NewMap(map[Role]string{
	RoleAnalyst:  "analyst",
	RoleUploader: "uploader",
})

func (role Role) IsValid() bool {
	return roleNames.ContainsEnumValue(role)
}

func (role Role) String() string {
	return roleNames.GetNameOrFallback(role, "INVALID_ROLE")
}

func (role Role) MarshalJSON() ([]byte, error) {
	return roleNames.MarshalToNameJSON(role)
}

func (role *Role) UnmarshalJSON(bytes []byte) error {
	return roleNames.UnmarshalFromNameJSON(bytes, role)
}

func parseRole(name string) (Role, bool) {
	for _, role := range []Role{RoleAnalyst, RoleUploader} {
		if role.String() == name {
			return role, true
		}
	}
	return 0, false
}

type Identity struct {
	Subject string
	Roles   []Role
}

func (i Identity) HasRole(role Role) bool {
	return slices.Contains(i.Roles, role)
}

type APIKeyValidator interface {
	Validate(ctx context.Context, apiKey string) (Identity, bool)
}

// StaticAPIKeyValidator holds keys by SHA-256 digest so raw keys do not sit in
// memory after parsing.
type StaticAPIKeyValidator struct {
	identities map[[sha256.Size]byte]Identity
}

// NewStaticAPIKeyValidator parses comma separated entries of the form
// key:subject:role|role.
func NewStaticAPIKeyValidator(entries string) (*StaticAPIKeyValidator, error) {
	validator := &StaticAPIKeyValidator{identities: map[[sha256.Size]byte]Identity{}}
	entries = strings.TrimSpace(entries)
	if entries == "" {
		return validator, nil
	}

	for _, entry := range strings.Split(entries, ",") {
		entry = strings.TrimSpace(entry)
		key, identity, err := parseKeyEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("invalid static key entry %q: %w", entry, err)
		}
		digest := sha256.Sum256([]byte(key))
		if existing, exists := validator.identities[digest]; exists {
			return nil, fmt.Errorf("static key for %q is already assigned to %q", identity.Subject, existing.Subject)
		}
		validator.identities[digest] = identity
	}
	return validator, nil
}

func parseKeyEntry(entry string) (string, Identity, error) {
	parts := strings.Split(entry, ":")
	if len(parts) != 3 {
		return "", Identity{}, fmt.Errorf("expected key:subject:role|role")
	}
	key, subject := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if key == "" || subject == "" {
		return "", Identity{}, fmt.Errorf("key and subject are required")
	}

	var roles []Role
	for _, name := range strings.Split(parts[2], "|") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		role, ok := parseRole(name)
		if !ok {
			return "", Identity{}, fmt.Errorf("unknown role %q", name)
		}
		if !slices.Contains(roles, role) {
			roles = append(roles, role)
		}
	}
	if len(roles) == 0 {
		return "", Identity{}, fmt.Errorf("at least one role is required")
	}
	slices.Sort(roles)
	return key, Identity{Subject: subject, Roles: roles}, nil
}

func (v *StaticAPIKeyValidator) Validate(_ context.Context, apiKey string) (Identity, bool) {
	identity, ok := v.identities[sha256.Sum256([]byte(apiKey))]
	return identity, ok
}

// Fingerprint identifies a key in logs without revealing it.
func Fingerprint(apiKey string) string {
	digest := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(digest[:4])
}
