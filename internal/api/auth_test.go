package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAPIKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		provided string
		config   string
		want     bool
	}{
		{"match", testKey, testKey, true},
		{"mismatch same length", "test-kez", testKey, false},
		{"prefix of configured", "test", testKey, false},
		{"empty provided", "", testKey, false},
		{"unconfigured server", testKey, "", false},
		{"both empty", "", "", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidateAPIKey(tt.provided, tt.config), tt.name)
	}
}

func TestExtractAPIKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		header  string
		want    string
		wantErr string
	}{
		{name: "plain", header: "Bearer " + testKey, want: testKey},
		{name: "tab padded key", header: "Bearer \t" + testKey + "\t", want: testKey},
		{name: "trailing newline", header: "Bearer " + testKey + "\n", want: testKey},
		{name: "missing header", wantErr: "missing Authorization header"},
		{name: "lowercase scheme", header: "bearer " + testKey, wantErr: "invalid Authorization header format"},
		{name: "basic scheme", header: "Basic dGVzdDprZXk=", wantErr: "invalid Authorization header format"},
		{name: "scheme without space", header: "Bearer" + testKey, wantErr: "invalid Authorization header format"},
		{name: "blank key", header: "Bearer   ", wantErr: "missing API key"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/conditions", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		key, err := ExtractAPIKey(req)
		if tt.wantErr != "" {
			if err == nil || err.Error() != tt.wantErr {
				t.Fatalf("%s: err = %v, want %q", tt.name, err, tt.wantErr)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error %v", tt.name, err)
		}
		assert.Equal(t, tt.want, key, tt.name)
	}
}

func TestAuthMiddlewareErrors(t *testing.T) {
	t.Parallel()

	f := newFixture(t, false)

	tests := []struct {
		header string
		want   string
	}{
		{"", "missing Authorization header"},
		{"bearer " + testKey, "invalid Authorization header format"},
		{"Bearer other-key", "invalid API key"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/conditions", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		rr := httptest.NewRecorder()
		f.srv.Handler().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, tt.header)
		assert.Contains(t, rr.Body.String(), tt.want, tt.header)
	}

	req := httptest.NewRequest(http.MethodGet, "/conditions", nil)
	req.Header.Set("Authorization", "Bearer \t"+testKey)
	rr := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}
