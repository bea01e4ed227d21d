package auth

import (
	"context"
	"errors"
)

// Identity is the verified caller of a tenant API request.
type Identity struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

type identityKey struct{}

var ErrNoIdentity = errors.New("no identity in context")

func WithIdentity(ctx context.Context, userID, tenantID, role string) context.Context {
	return context.WithValue(ctx, identityKey{}, Identity{UserID: userID, TenantID: tenantID, Role: role})
}

// IdentityFrom returns the identity set by RequireAccessToken.
func IdentityFrom(ctx context.Context) (Identity, error) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	if !ok {
		return Identity{}, ErrNoIdentity
	}
	return id, nil
}

func UserID(ctx context.Context) (string, error) {
	return field(ctx, func(id Identity) string { return id.UserID }, "user_id")
}

func TenantID(ctx context.Context) (string, error) {
	return field(ctx, func(id Identity) string { return id.TenantID }, "tenant_id")
}

func Role(ctx context.Context) (string, error) {
	return field(ctx, func(id Identity) string { return id.Role }, "role")
}

func field(ctx context.Context, get func(Identity) string, name string) (string, error) {
	id, err := IdentityFrom(ctx)
	if err != nil {
		return "", err
	}
	if v := get(id); v != "" {
		return v, nil
	}
	return "", errors.New(name + " not in context")
}
