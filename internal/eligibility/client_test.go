package eligibility

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPVerifier_VerifyEligibility(t *testing.T) {
	tests := []struct {
		name        string
		handler     http.HandlerFunc
		want        bool
		unavailable bool
	}{
		{
			name: "eligible",
			handler: func(w http.ResponseWriter, r *http.Request) {
				var req verifyRequest
				_ = json.NewDecoder(r.Body).Decode(&req)
				if req.Destination != "a@b.com" {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				_ = json.NewEncoder(w).Encode(verifyResponse{Eligible: true})
			},
			want: true,
		},
		{
			name: "not eligible in body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(verifyResponse{Eligible: false})
			},
			want: false,
		},
		{
			name: "explicit rejection status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnprocessableEntity)
			},
			want: false,
		},
		{
			name: "server error fails closed",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			unavailable: true,
		},
		{
			name: "rate limited",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "3")
				w.WriteHeader(http.StatusTooManyRequests)
			},
			unavailable: true,
		},
		{
			name: "garbage body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("{not json"))
			},
			unavailable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			client := NewHTTPVerifier(srv.URL, time.Second, 0)
			got, err := client.VerifyEligibility(context.Background(), "a@b.com")

			if tt.unavailable {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrUnavailable))
				assert.False(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHTTPVerifier_RequestShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/base/api/eligibility", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_ = json.NewEncoder(w).Encode(verifyResponse{Eligible: true})
	}))
	defer srv.Close()

	client := NewHTTPVerifier(srv.URL+"/base", time.Second, 10)
	ok, err := client.VerifyEligibility(context.Background(), "x@y.org")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHTTPVerifier_Unreachable(t *testing.T) {
	client := NewHTTPVerifier("http://127.0.0.1:1", 200*time.Millisecond, 0)
	ok, err := client.VerifyEligibility(context.Background(), "a@b.com")
	assert.False(t, ok)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestHTTPVerifier_CanceledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(verifyResponse{Eligible: true})
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewHTTPVerifier(srv.URL, time.Second, 0)
	ok, err := client.VerifyEligibility(ctx, "a@b.com")
	assert.False(t, ok)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 5*time.Second, parseRetryAfter(""))
	assert.Equal(t, 7*time.Second, parseRetryAfter("7"))
	assert.Equal(t, 5*time.Second, parseRetryAfter("soon"))
}

func TestStaticVerifier(t *testing.T) {
	ok, err := StaticVerifier{Eligible: true}.VerifyEligibility(context.Background(), "any")
	require.NoError(t, err)
	assert.True(t, ok)
}
