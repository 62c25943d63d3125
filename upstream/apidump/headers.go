package apidump

import "net/url"

// sensitiveRequestHeaders are headers that should be redacted from request dumps.
// Note: header names use Go's canonical form (http.CanonicalHeaderKey).
var sensitiveRequestHeaders = map[string]struct{}{
	"Authorization":       {},
	"X-Api-Key":           {},
	"X-Auth-Data":         {},
	"X-Auth-Token":        {},
	"Cookie":              {},
	"Proxy-Authorization": {},
}

// sensitiveResponseHeaders are headers that should be redacted from response dumps.
var sensitiveResponseHeaders = map[string]struct{}{
	"Set-Cookie":         {},
	"Www-Authenticate":   {},
	"Proxy-Authenticate": {},
}

// sensitiveQueryParams are query parameters some APIs use to carry credentials.
var sensitiveQueryParams = []string{"key", "api_key", "access_token", "token"}

// redactValue redacts a sensitive value, showing only partial content.
// For values >= 8 bytes: shows first 4 and last 4 bytes with "..." in between.
// For values < 8 bytes: shows first and last byte with "..." in between.
func redactValue(value string) string {
	if len(value) >= 8 {
		return value[:4] + "..." + value[len(value)-4:]
	}
	if len(value) >= 2 {
		return value[:1] + "..." + value[len(value)-1:]
	}
	// Single character or empty - just return as-is
	return value
}

// redactQuery returns the request URI of u with credential-bearing query
// parameters redacted.
func redactQuery(u *url.URL) string {
	q := u.Query()
	changed := false
	for _, key := range sensitiveQueryParams {
		if vals, ok := q[key]; ok {
			for i, v := range vals {
				vals[i] = redactValue(v)
			}
			changed = true
		}
	}
	if !changed {
		return u.RequestURI()
	}

	out := *u
	out.RawQuery = q.Encode()
	return out.RequestURI()
}
