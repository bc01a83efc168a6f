package auth

import (
	"context"
	"strings"
)

type ctxKey string

const (
	userIDKey    ctxKey = "auth_user_id"
	roleKey      ctxKey = "auth_role"
	profileIDKey ctxKey = "auth_profile_id"
)

// ContextWithUser stores the authenticated identity in the context.
func ContextWithUser(ctx context.Context, userID, role, profileID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, strings.TrimSpace(userID))
	ctx = context.WithValue(ctx, roleKey, strings.TrimSpace(strings.ToLower(role)))
	if profileID = strings.TrimSpace(profileID); profileID != "" {
		ctx = context.WithValue(ctx, profileIDKey, profileID)
	}
	return ctx
}

// UserIDFromContext extracts the authenticated user ID from context.
func UserIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userIDKey).(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// RoleFromContext returns the authenticated role, if any.
func RoleFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(roleKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// ProfileIDFromContext returns the business or customer profile bound to the
// authenticated user.
func ProfileIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(profileIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// HasRole checks whether the context carries the specified role.
func HasRole(ctx context.Context, role string) bool {
	got, ok := RoleFromContext(ctx)
	return ok && got == strings.TrimSpace(strings.ToLower(role))
}
