package upstream

import "context"

const defaultEndpoint = "default"

type endpointContextKey struct{}

// WithEndpoint labels upstream requests made with ctx.
func WithEndpoint(ctx context.Context, endpoint string) context.Context {
	return context.WithValue(ctx, endpointContextKey{}, endpoint)
}

// EndpointFromContext returns the endpoint label stored by [WithEndpoint].
func EndpointFromContext(ctx context.Context) string {
	if ep, ok := ctx.Value(endpointContextKey{}).(string); ok && ep != "" {
		return ep
	}
	return defaultEndpoint
}
