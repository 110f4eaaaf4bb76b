package idp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/huddleapps/relay-auth/internal/domain"
)

func TestHTTPClient_ExchangeCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/auth/v1/token", r.URL.Path)
		require.Equal(t, "authorization_code", r.URL.Query().Get("grant_type"))
		require.NoError(t, r.ParseForm())
		require.Equal(t, "auth-code", r.PostFormValue("code"))
		require.Equal(t, "anon-key", r.Header.Get("apikey"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "a",
			"refresh_token": "r",
			"expires_in":    3600,
			"user":          map[string]string{"id": "user-1", "aud": "authenticated"},
		})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "anon-key", srv.Client())
	session, err := client.ExchangeCode(context.Background(), "auth-code")
	require.NoError(t, err)
	require.Equal(t, "a", session.AccessToken)
	require.Equal(t, "r", session.RefreshToken)
	require.Equal(t, "user-1", session.User.ID)
}

func TestHTTPClient_ExchangeCode_MissingCode(t *testing.T) {
	client := NewHTTPClient("https://idp.example.com", "", nil)
	_, err := client.ExchangeCode(context.Background(), " ")
	require.ErrorIs(t, err, domain.ErrMissingCode)
}

func TestHTTPClient_ProviderRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "invalid grant"})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "", srv.Client())
	_, err := client.ExchangeCode(context.Background(), "bad-code")

	var rejection *ProviderError
	require.ErrorAs(t, err, &rejection)
	require.Equal(t, http.StatusBadRequest, rejection.Status)
	require.Equal(t, "invalid grant", rejection.Message)
	require.NotErrorIs(t, err, domain.ErrExternalService)
}

func TestHTTPClient_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "user-1"})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "", srv.Client())
	user, err := client.FetchUser(context.Background(), "token")
	require.NoError(t, err)
	require.Equal(t, "user-1", user.ID)
	require.Equal(t, int32(3), calls.Load())
}

func TestHTTPClient_RetryExhaustion(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "", srv.Client())
	_, err := client.FetchUser(context.Background(), "token")
	require.ErrorIs(t, err, domain.ErrExternalService)
	require.Equal(t, int32(3), calls.Load())
}

func TestHTTPClient_NoRetryOnRejection(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "", srv.Client())
	_, err := client.FetchUser(context.Background(), "expired")

	var rejection *ProviderError
	require.ErrorAs(t, err, &rejection)
	require.Equal(t, int32(1), calls.Load())
}

func TestHTTPClient_SessionFromTokens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/v1/user", r.URL.Path)
		require.Equal(t, "Bearer access", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "user-1", "email": "u@example.com"})
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "", srv.Client())
	session, err := client.SessionFromTokens(context.Background(), "access", "refresh")
	require.NoError(t, err)
	require.Equal(t, "access", session.AccessToken)
	require.Equal(t, "refresh", session.RefreshToken)
	require.Equal(t, "u@example.com", session.User.Email)
}

func TestSession_Bundle(t *testing.T) {
	explicit := Session{AccessToken: "a", RefreshToken: "r", ExpiresAt: 1900000000}
	require.Equal(t, int64(1900000000), explicit.Bundle().ExpiresAt)

	relative := Session{AccessToken: "a", RefreshToken: "r", ExpiresIn: 3600}
	bundle := relative.Bundle()
	require.InDelta(t, time.Now().Add(time.Hour).Unix(), bundle.ExpiresAt, 5)
}

func TestHTTPClient_SignOut(t *testing.T) {
	var hit bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/auth/v1/logout", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, "", srv.Client())
	require.NoError(t, client.SignOut(context.Background(), "access"))
	require.True(t, hit)
}
