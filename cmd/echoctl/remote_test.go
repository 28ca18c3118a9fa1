package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/echoproof/echo/internal/evm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const challengeMessage = "Sign in to ECHO\nnonce: abc"

// echodStub answers the routes upload and share use. It checks the wallet
// signature and the bearer token the way echod does.
func echodStub(t *testing.T) *httptest.Server {
	t.Helper()
	var uploaded []byte
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/auth/challenge", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Address string `json:"address"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(map[string]any{"address": body.Address, "message": challengeMessage})
	})
	mux.HandleFunc("/api/v1/auth/verify", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Address   string `json:"address"`
			Signature string `json:"signature"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if err := evm.Verify(challengeMessage, body.Signature, body.Address); err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{"error": err.Error()})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"token": "tok", "address": body.Address})
	})
	mux.HandleFunc("/api/v1/recordings", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{"error": "authorization required"})
			return
		}
		f, _, err := r.FormFile("audio")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		uploaded, _ = io.ReadAll(f)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"success":  true,
			"shareUrl": "http://localhost:3000/share/sh1",
			"shareId":  "sh1",
			"audioCid": "bafyaudio",
			"aquaCid":  "bafyaqua",
		})
	})
	mux.HandleFunc("/api/v1/share/sh1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"recording":    map[string]any{"id": "550e8400-e29b-41d4-a716-446655440000", "share_id": "sh1"},
			"audioData":    uploaded,
			"aquaData":     map[string]any{"revisions": map[string]any{}},
			"verification": map[string]any{"valid": true, "structureValid": true, "issues": []any{}},
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestUploadThenShare(t *testing.T) {
	srv := echodStub(t)
	dir := t.TempDir()

	proofPath := filepath.Join(dir, "proof.json")
	audioPath := filepath.Join(dir, "recording_combined.webm")
	require.NoError(t, os.WriteFile(proofPath, []byte(`{"revisions":{}}`), 0o644))
	require.NoError(t, os.WriteFile(audioPath, []byte("opus-00opus-01"), 0o644))

	text, err := execute(t, "upload", proofPath, "--audio", audioPath, "--key", keyOne, "--server", srv.URL)
	require.NoError(t, err, text)
	assert.Contains(t, text, "Share URL: http://localhost:3000/share/sh1")
	assert.Contains(t, text, "Audio CID: bafyaudio")

	out := filepath.Join(dir, "downloads")
	text, err = execute(t, "share", "sh1", "--out", out, "--server", srv.URL)
	require.NoError(t, err, text)
	assert.Contains(t, text, "Proof: VALID")

	audio, err := os.ReadFile(filepath.Join(out, "sh1.webm"))
	require.NoError(t, err)
	assert.Equal(t, "opus-00opus-01", string(audio))
	_, err = os.Stat(filepath.Join(out, "sh1.aqua.json"))
	assert.NoError(t, err)
}
