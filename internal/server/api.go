// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/wolfgrimmm/comfyui-runpod-installer/pkg/downloader"
)

// DownloadRequest is the body for starting a download. The destination
// directory is never taken from the request; the server always writes under
// its configured models directory.
type DownloadRequest struct {
	Repo string `json:"repo"`

	// Files optionally names exact repository paths to download. When empty
	// the repo (or Subfolder within it) is scanned.
	Files []string `json:"files,omitempty"`

	// Subfolder limits a scan to one repository folder.
	Subfolder string `json:"subfolder,omitempty"`

	// SaveAs renames the downloaded file. Only honored for single-file
	// requests.
	SaveAs string `json:"saveAs,omitempty"`
}

// ErrorResponse is the API error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// SuccessResponse is a simple acknowledgement.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStartDownload starts a download job, or returns the existing job when
// an identical one is already active.
func (s *Server) handleStartDownload(w http.ResponseWriter, r *http.Request) {
	var req DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if req.Repo == "" {
		writeError(w, http.StatusBadRequest, "Missing required field: repo", "")
		return
	}
	if !downloader.IsValidRepoID(req.Repo) {
		writeError(w, http.StatusBadRequest, "Invalid repo format", "Expected owner/name")
		return
	}
	if req.SaveAs != "" && len(req.Files) != 1 {
		writeError(w, http.StatusBadRequest, "saveAs requires exactly one file", "")
		return
	}

	job, existed := s.jobs.Create(req)
	if existed {
		writeJSON(w, http.StatusOK, map[string]any{
			"download": job,
			"message":  "Download already in progress",
		})
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

// handleListDownloads returns every tracked download keyed by ID.
func (s *Server) handleListDownloads(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.jobs.All())
}

func (s *Server) handleGetDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, ok := s.jobs.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Download not found", "")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleCancelDownload cancels an active download, or removes a finished one
// from the list.
func (s *Server) handleCancelDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if s.jobs.Cancel(id) {
		writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Download cancelled"})
		return
	}
	if s.jobs.Remove(id) {
		writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Download removed"})
		return
	}
	writeError(w, http.StatusNotFound, "Download not found", "")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, ErrorResponse{Error: message, Details: details})
}
