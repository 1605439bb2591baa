// Copyright (c) 2025, the reelherd contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package realdebrid

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetUser(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/user", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Write([]byte(`{"id": 1, "username": "tester", "premium": 86400, "type": "premium"}`))
	}))
	defer server.Close()

	client := NewClient("test-token", WithBaseURL(server.URL))

	user, err := client.GetUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tester", user.Username)
	assert.Equal(t, 86400, user.Premium)
}

func TestAddMagnet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/torrents/addMagnet", r.URL.Path)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "magnet:?xt=urn:btih:ABC", r.PostForm.Get("magnet"))

		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id": "JKGNO3SQWSUXY", "uri": "https://api.real-debrid.com/rest/1.0/torrents/info/JKGNO3SQWSUXY"}`))
	}))
	defer server.Close()

	client := NewClient("test-token", WithBaseURL(server.URL))

	added, err := client.AddMagnet(context.Background(), "magnet:?xt=urn:btih:ABC")
	require.NoError(t, err)
	assert.Equal(t, "JKGNO3SQWSUXY", added.ID)
}

func TestAddMagnetEmptyMagnet(t *testing.T) {
	client := NewClient("test-token")

	_, err := client.AddMagnet(context.Background(), "  ")
	assert.Error(t, err)
}

func TestAddMagnetRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": "too_many_requests", "error_code": 34}`))
	}))
	defer server.Close()

	client := NewClient("test-token", WithBaseURL(server.URL))

	_, err := client.AddMagnet(context.Background(), "magnet:?xt=urn:btih:ABC")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.IsRateLimited())
	assert.False(t, apiErr.IsPermanent())
	assert.Equal(t, 34, apiErr.ErrorCode)
	assert.Equal(t, 12*time.Second, apiErr.RetryAfter)
}

func TestQuotaCodeOnNon429IsRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error": "too_many_active_downloads", "error_code": 21}`))
	}))
	defer server.Close()

	client := NewClient("test-token", WithBaseURL(server.URL))

	_, err := client.AddMagnet(context.Background(), "magnet:?xt=urn:btih:ABC")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.IsRateLimited())
}

func TestPermanentRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error": "infringing_file", "error_code": 35}`))
	}))
	defer server.Close()

	client := NewClient("test-token", WithBaseURL(server.URL))

	_, err := client.AddMagnet(context.Background(), "magnet:?xt=urn:btih:ABC")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.False(t, apiErr.IsRateLimited())
	assert.False(t, apiErr.IsPermanent(), "5xx without a quota code stays transient")

	server2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error": "permission_denied", "error_code": 9}`))
	}))
	defer server2.Close()

	client2 := NewClient("test-token", WithBaseURL(server2.URL))
	_, err = client2.AddMagnet(context.Background(), "magnet:?xt=urn:btih:ABC")
	require.Error(t, err)

	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.IsPermanent())
}

func TestSelectAllFiles(t *testing.T) {
	var selected string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/torrents/info/ID1":
			w.Write([]byte(`{"id": "ID1", "status": "waiting_files_selection",
				"files": [{"id": 1, "path": "/movie.mkv"}, {"id": 2, "path": "/sample.mkv"}]}`))
		case "/torrents/selectFiles/ID1":
			require.NoError(t, r.ParseForm())
			selected = r.PostForm.Get("files")
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request: %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := NewClient("test-token", WithBaseURL(server.URL))

	require.NoError(t, client.SelectAllFiles(context.Background(), "ID1"))
	assert.Equal(t, "1,2", selected)
}

func TestSelectAllFilesNoFilesYet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/torrents/info/ID1", r.URL.Path)
		w.Write([]byte(`{"id": "ID1", "status": "magnet_conversion", "files": []}`))
	}))
	defer server.Close()

	client := NewClient("test-token", WithBaseURL(server.URL))

	assert.NoError(t, client.SelectAllFiles(context.Background(), "ID1"),
		"a torrent with no files yet is not an error")
}

func TestInstantAvailability(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/torrents/instantAvailability/AAA/BBB", r.URL.Path)
		w.Write([]byte(`{
			"AAA": {"rd": [{"1": {"filename": "movie.mkv", "filesize": 1000}}]},
			"BBB": []
		}`))
	}))
	defer server.Close()

	client := NewClient("test-token", WithBaseURL(server.URL))

	cached, err := client.InstantAvailability(context.Background(), []string{"AAA", "BBB"})
	require.NoError(t, err)

	assert.True(t, cached["AAA"])
	assert.False(t, cached["BBB"], "empty array means uncached")
}

func TestInstantAvailabilityEmptyInput(t *testing.T) {
	client := NewClient("test-token")

	cached, err := client.InstantAvailability(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, cached)
}

func TestAPIErrorPlainTextBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream unavailable"))
	}))
	defer server.Close()

	client := NewClient("test-token", WithBaseURL(server.URL))

	_, err := client.GetUser(context.Background())
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "upstream unavailable", apiErr.Message)
}
