package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

type Identity struct {
	UserID string
	Roles  []string
}

// HasRole matches case-insensitively: whitelist entries store roles in
// whatever case the operator typed, tokens usually carry lower case.
func (i Identity) HasRole(role string) bool {
	for _, candidate := range i.Roles {
		if strings.EqualFold(candidate, role) {
			return true
		}
	}
	return false
}

const (
	RoleAdmin   = "admin"
	RoleAnalyst = "analyst"
)

// Permissions maps an identity's roles onto the capability flags the UI
// consumes.
func Permissions(identity Identity) map[string]bool {
	return map[string]bool{
		"can_chat":               true,
		"can_execute_sql":        true,
		"can_manage_connections": identity.HasRole(RoleAdmin),
		"can_export":             identity.HasRole(RoleAdmin) || identity.HasRole(RoleAnalyst),
	}
}

type loginToken struct {
	UserID    string   `json:"userId"`
	RoleNames []string `json:"roleNames"`
}

// ParseLoginToken decodes a Login-Token header value: a JSON object with
// userId and roleNames, either raw or base64-encoded.
func ParseLoginToken(raw string) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}, fmt.Errorf("login token is empty")
	}

	payload := []byte(raw)
	if !strings.HasPrefix(raw, "{") {
		decoded, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(raw)
		}
		if err != nil {
			return Identity{}, fmt.Errorf("decode login token: %w", err)
		}
		payload = decoded
	}

	var token loginToken
	if err := json.Unmarshal(payload, &token); err != nil {
		return Identity{}, fmt.Errorf("parse login token: %w", err)
	}
	if strings.TrimSpace(token.UserID) == "" {
		return Identity{}, fmt.Errorf("login token is missing userId")
	}
	return Identity{UserID: token.UserID, Roles: token.RoleNames}, nil
}

// Validator checks a Login-Token header value and resolves it to an
// identity.
type Validator interface {
	Validate(ctx context.Context, token string) (Identity, bool)
}

// WhitelistLookup is implemented by the whitelist repository.
type WhitelistLookup interface {
	IsWhitelisted(ctx context.Context, userID string) (bool, error)
	Role(ctx context.Context, userID string) (string, error)
}

// WhitelistValidator accepts a parseable token whose user is on the
// whitelist. The role stored on the whitelist entry is folded into the
// identity; token roles remain as a fallback.
type WhitelistValidator struct {
	Whitelist WhitelistLookup
}

func (v *WhitelistValidator) Validate(ctx context.Context, token string) (Identity, bool) {
	identity, err := ParseLoginToken(token)
	if err != nil {
		return Identity{}, false
	}
	allowed, err := v.Whitelist.IsWhitelisted(ctx, identity.UserID)
	if err != nil || !allowed {
		return Identity{}, false
	}
	// A role lookup failure downgrades to token roles rather than
	// rejecting an already whitelisted user.
	if role, err := v.Whitelist.Role(ctx, identity.UserID); err == nil && role != "" && !identity.HasRole(role) {
		identity.Roles = append([]string{role}, identity.Roles...)
	}
	return identity, true
}
