// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAPIServer(t *testing.T, endpoint string) (*Server, *http.ServeMux) {
	t.Helper()
	s := New(testConfig(t, endpoint), "test")
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return s, mux
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	_, mux := testAPIServer(t, "http://127.0.0.1:1")
	rec := doJSON(t, mux, http.MethodGet, "/api/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, "test", resp["version"])
}

func TestStartDownloadValidation(t *testing.T) {
	_, mux := testAPIServer(t, "http://127.0.0.1:1")

	t.Run("invalid body", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodPost, "/api/downloads", "{broken")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing repo", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodPost, "/api/downloads", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed repo", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodPost, "/api/downloads", `{"repo":"noslash"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("saveAs without a single file", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodPost, "/api/downloads", `{"repo":"o/r","saveAs":"x.bin"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestDownloadLifecycleOverAPI(t *testing.T) {
	hub := blockingHub(t)
	_, mux := testAPIServer(t, hub.URL)

	// Start
	rec := doJSON(t, mux, http.MethodPost, "/api/downloads", `{"repo":"o/r","files":["a.bin"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var job Download
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	require.NotEmpty(t, job.ID)

	t.Run("duplicate start returns the existing job", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodPost, "/api/downloads", `{"repo":"o/r","files":["a.bin"]}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), job.ID)
	})

	t.Run("list contains the job keyed by ID", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodGet, "/api/downloads", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var all map[string]Download
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
		assert.Contains(t, all, job.ID)
	})

	t.Run("get by ID", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodGet, "/api/downloads/"+job.ID, "")
		require.Equal(t, http.StatusOK, rec.Code)
		var got Download
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "o/r", got.Repo)
	})

	t.Run("get unknown ID", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodGet, "/api/downloads/nope", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("delete cancels an active job", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodDelete, "/api/downloads/"+job.ID, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "cancelled")

		rec = doJSON(t, mux, http.MethodGet, "/api/downloads/"+job.ID, "")
		var got Download
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, StatusCancelled, got.Status)
	})

	t.Run("second delete removes the finished job", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodDelete, "/api/downloads/"+job.ID, "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "removed")

		rec = doJSON(t, mux, http.MethodGet, "/api/downloads/"+job.ID, "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("delete unknown ID", func(t *testing.T) {
		rec := doJSON(t, mux, http.MethodDelete, "/api/downloads/nope", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
