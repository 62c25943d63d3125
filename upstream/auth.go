package upstream

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	mcpcontext "github.com/coder/mcpbridge/context"
)

// Authenticator adds credentials to an outbound request. Credentials found in
// ctx take precedence over configured fallbacks.
type Authenticator func(ctx context.Context, req *http.Request) error

func tokenOr(ctx context.Context, fallback string) string {
	if tok := mcpcontext.TokenFromContext(ctx); tok != "" {
		return tok
	}
	return fallback
}

// BearerAuth sets "Authorization: Bearer <token>".
func BearerAuth(fallback string) Authenticator {
	return func(ctx context.Context, req *http.Request) error {
		tok := tokenOr(ctx, fallback)
		if tok == "" {
			return ErrMissingCredentials
		}
		req.Header.Set("Authorization", "Bearer "+tok)
		return nil
	}
}

// OptionalBearerAuth is like [BearerAuth] but sends unauthenticated requests
// when no token is available.
func OptionalBearerAuth(fallback string) Authenticator {
	return func(ctx context.Context, req *http.Request) error {
		if tok := tokenOr(ctx, fallback); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
		return nil
	}
}

// HeaderAuth sends the token verbatim in the named header.
func HeaderAuth(header, fallback string) Authenticator {
	return func(ctx context.Context, req *http.Request) error {
		tok := tokenOr(ctx, fallback)
		if tok == "" {
			return ErrMissingCredentials
		}
		req.Header.Set(header, tok)
		return nil
	}
}

// QueryAuth sends the token as a query parameter.
func QueryAuth(param, fallback string) Authenticator {
	return func(ctx context.Context, req *http.Request) error {
		tok := tokenOr(ctx, fallback)
		if tok == "" {
			return ErrMissingCredentials
		}
		q := req.URL.Query()
		q.Set(param, tok)
		req.URL.RawQuery = q.Encode()
		return nil
	}
}

// BasicAuth uses the username and password returned by creds.
func BasicAuth(creds func(ctx context.Context) (username, password string)) Authenticator {
	return func(ctx context.Context, req *http.Request) error {
		user, pass := creds(ctx)
		if user == "" && pass == "" {
			return ErrMissingCredentials
		}
		req.SetBasicAuth(user, pass)
		return nil
	}
}

// TokenSourceAuth sends a bearer token from ctx or fallback, and otherwise
// one obtained from src. A nil src behaves like [BearerAuth].
func TokenSourceAuth(fallback string, src oauth2.TokenSource) Authenticator {
	return func(ctx context.Context, req *http.Request) error {
		if tok := tokenOr(ctx, fallback); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
			return nil
		}
		if src == nil {
			return ErrMissingCredentials
		}

		tok, err := src.Token()
		if err != nil {
			return fmt.Errorf("obtain oauth2 token: %w", err)
		}
		tok.SetAuthHeader(req)
		return nil
	}
}
