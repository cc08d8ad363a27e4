package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/engine"
	"github.com/maxfraieho/claude-notifer-and-bot-sub001/internal/session"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"message": "hello"}

	writeJSON(w, http.StatusOK, data)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	contentType := w.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %s", contentType)
	}

	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if result["message"] != "hello" {
		t.Errorf("Expected message 'hello', got '%s'", result["message"])
	}
}

func TestWriteErrorWithDetails(t *testing.T) {
	w := httptest.NewRecorder()
	details := map[string]any{"prompt": "required"}

	writeErrorWithDetails(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid", details)

	var result ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if result.Error.Code != ErrCodeInvalidRequest {
		t.Errorf("Expected code %s, got %s", ErrCodeInvalidRequest, result.Error.Code)
	}
	if result.Error.Details["prompt"] != "required" {
		t.Errorf("Expected details.prompt 'required', got '%v'", result.Error.Details["prompt"])
	}
}

func TestWriteEngineError(t *testing.T) {
	tests := []struct {
		err  error
		code int
		want string
	}{
		{session.ErrNotFound, http.StatusNotFound, ErrCodeNotFound},
		{fmt.Errorf("lookup: %w", session.ErrNotFound), http.StatusNotFound, ErrCodeNotFound},
		{engine.ErrNotRunning, http.StatusConflict, ErrCodeNotRunning},
		{errors.New("disk full"), http.StatusInternalServerError, ErrCodeInternalError},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		writeEngineError(w, tt.err)

		if w.Code != tt.code {
			t.Errorf("%v: expected status %d, got %d", tt.err, tt.code, w.Code)
		}
		var result ErrorResponse
		if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}
		if result.Error.Code != tt.want {
			t.Errorf("%v: expected code %s, got %s", tt.err, tt.want, result.Error.Code)
		}
	}
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()

	writeSuccess(w)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var result map[string]bool
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !result["success"] {
		t.Error("Expected success true")
	}
}
