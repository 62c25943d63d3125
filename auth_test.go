package mcpbridge_test

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coder/mcpbridge"
	mcpcontext "github.com/coder/mcpbridge/context"
)

func TestParseAuthHeader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		value   string
		want    *mcpcontext.Credentials
		wantErr error
	}{
		{
			name:  "empty",
			value: "   ",
		},
		{
			name:  "raw token",
			value: "pat-123",
			want:  &mcpcontext.Credentials{Token: "pat-123"},
		},
		{
			name:  "bearer prefix is stripped",
			value: "bearer  pat-123 ",
			want:  &mcpcontext.Credentials{Token: "pat-123"},
		},
		{
			name:  "bearer without token",
			value: "Bearer ",
		},
		{
			name:  "blob with access token",
			value: base64.StdEncoding.EncodeToString([]byte(`{"access_token": "at", "token": "ignored"}`)),
			want:  &mcpcontext.Credentials{Token: "at"},
		},
		{
			name:  "empty access token falls through to api key",
			value: base64.StdEncoding.EncodeToString([]byte(`{"access_token": "", "api_key": "key"}`)),
			want:  &mcpcontext.Credentials{Token: "key"},
		},
		{
			name:  "blob values are stringified",
			value: base64.RawURLEncoding.EncodeToString([]byte(`{"token": "t", "site_url": "https://blog.example.com", "port": 8443, "verify": false, "nested": {"a": 1}, "blank": ""}`)),
			want: &mcpcontext.Credentials{Token: "t", Values: map[string]string{
				"site_url": "https://blog.example.com",
				"port":     "8443",
				"verify":   "false",
			}},
		},
		{
			name:  "blob with values only",
			value: base64.StdEncoding.EncodeToString([]byte(`{"domain": "acme"}`)),
			want:  &mcpcontext.Credentials{Values: map[string]string{"domain": "acme"}},
		},
		{
			name:    "blob without credentials",
			value:   base64.StdEncoding.EncodeToString([]byte(`{"access_token": null}`)),
			wantErr: mcpbridge.ErrEmptyAuthData,
		},
		{
			name:  "base64 of a non-object is a raw token",
			value: base64.StdEncoding.EncodeToString([]byte(`"just a string"`)),
			want:  &mcpcontext.Credentials{Token: base64.StdEncoding.EncodeToString([]byte(`"just a string"`))},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := mcpbridge.ParseAuthHeader(tc.value)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
