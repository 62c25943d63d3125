// Package context carries per-request upstream credentials so that adapter
// code can authenticate outbound calls without threading tokens through every
// function signature.
package context

import (
	"context"
	"maps"
)

type credentialsContextKey struct{}

// Credentials are the caller-supplied secrets for a single request.
// Token is the primary secret (OAuth access token, API key or password);
// Values holds any auxiliary fields from an auth blob, e.g. "site_url".
type Credentials struct {
	Token  string
	Values map[string]string
}

// Value returns the named auxiliary value, or "" if unset.
func (c *Credentials) Value(key string) string {
	if c == nil {
		return ""
	}
	return c.Values[key]
}

// AsCredentials returns a copy of ctx carrying creds. The values map is copied
// so later mutation by the caller cannot leak into in-flight requests.
func AsCredentials(ctx context.Context, creds *Credentials) context.Context {
	if creds == nil {
		return ctx
	}

	stored := &Credentials{Token: creds.Token}
	if len(creds.Values) > 0 {
		stored.Values = maps.Clone(creds.Values)
	}
	return context.WithValue(ctx, credentialsContextKey{}, stored)
}

func CredentialsFromContext(ctx context.Context) *Credentials {
	c, ok := ctx.Value(credentialsContextKey{}).(*Credentials)
	if !ok {
		return nil
	}

	return c
}

// TokenFromContext safely extracts the token from the context.
// Returns an empty string if no credentials are found.
func TokenFromContext(ctx context.Context) string {
	if c := CredentialsFromContext(ctx); c != nil {
		return c.Token
	}
	return ""
}

// ValueFromContext safely extracts an auxiliary credential value.
func ValueFromContext(ctx context.Context, key string) string {
	return CredentialsFromContext(ctx).Value(key)
}
