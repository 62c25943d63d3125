package mcpbridge

import (
	"encoding/base64"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/tidwall/gjson"

	mcpcontext "github.com/coder/mcpbridge/context"
)

// DefaultAuthHeader carries per-request credentials unless configured otherwise.
const DefaultAuthHeader = "X-Auth-Data"

// ErrEmptyAuthData is returned for auth blobs which carry no usable value.
var ErrEmptyAuthData = errors.New("auth data carries no credentials")

// Keys of an auth blob which hold the primary secret, in order of preference.
var tokenKeys = []string{"access_token", "token", "api_key"}

var base64Encodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.RawStdEncoding,
	base64.URLEncoding,
	base64.RawURLEncoding,
}

// ParseAuthHeader parses a credential header value. The value is either a raw
// token, optionally prefixed with "Bearer ", or a base64 encoded JSON object
// such as {"access_token": "...", "site_url": "..."}. Scalar fields besides
// the token become credential values. An empty value yields nil credentials.
func ParseAuthHeader(value string) (*mcpcontext.Credentials, error) {
	value = strings.TrimSpace(value)
	switch {
	case strings.EqualFold(value, "bearer"):
		value = ""
	case len(value) >= 7 && strings.EqualFold(value[:7], "bearer "):
		value = strings.TrimSpace(value[7:])
	}
	if value == "" {
		return nil, nil
	}

	blob, ok := decodeAuthBlob(value)
	if !ok {
		return &mcpcontext.Credentials{Token: value}, nil
	}

	creds := &mcpcontext.Credentials{}
	for _, key := range tokenKeys {
		if tok := blob.Get(gjson.Escape(key)); tok.Type == gjson.String && tok.String() != "" {
			creds.Token = tok.String()
			break
		}
	}

	blob.ForEach(func(k, v gjson.Result) bool {
		key := k.String()
		if key == "" || slices.Contains(tokenKeys, key) {
			return true
		}
		var s string
		switch v.Type {
		case gjson.String:
			s = v.String()
		case gjson.Number:
			s = v.Raw
		case gjson.True, gjson.False:
			s = v.String()
		default:
			return true
		}
		if s == "" {
			return true
		}
		if creds.Values == nil {
			creds.Values = make(map[string]string)
		}
		creds.Values[key] = s
		return true
	})

	if creds.Token == "" && len(creds.Values) == 0 {
		return nil, ErrEmptyAuthData
	}
	return creds, nil
}

func decodeAuthBlob(value string) (gjson.Result, bool) {
	for _, enc := range base64Encodings {
		raw, err := enc.DecodeString(value)
		if err != nil || !gjson.ValidBytes(raw) {
			continue
		}
		if r := gjson.ParseBytes(raw); r.IsObject() {
			return r, true
		}
	}
	return gjson.Result{}, false
}

// credentialsFromRequest reads header, falling back to a bearer Authorization
// header.
func credentialsFromRequest(r *http.Request, header string) (*mcpcontext.Credentials, error) {
	if v := r.Header.Get(header); v != "" {
		return ParseAuthHeader(v)
	}
	if v := r.Header.Get("Authorization"); len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
		return ParseAuthHeader(v)
	}
	return nil, nil
}
