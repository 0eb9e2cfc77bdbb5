package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ayusman/bhava/internal/store"
)

// newTestStore creates a new Store with a temporary database for testing.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})

	return s
}

func doRequest(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("failed to marshal request: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestProfileHandler_List(t *testing.T) {
	s := newTestStore(t)
	handler := NewProfileHandler(s)

	profile := &store.Profile{ID: "test-profile-1", Name: "office"}
	if err := s.Profiles().Create(profile); err != nil {
		t.Fatalf("failed to create profile: %v", err)
	}

	rec := doRequest(t, handler, http.MethodGet, "/api/profiles", nil)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	contentType := rec.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", contentType)
	}

	var response listProfilesResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if len(response.Profiles) != 1 {
		t.Fatalf("expected 1 profile, got %d", len(response.Profiles))
	}
	if response.Profiles[0].ID != "test-profile-1" {
		t.Errorf("expected profile ID 'test-profile-1', got %q", response.Profiles[0].ID)
	}
	if string(response.Profiles[0].Tuning) != "{}" {
		t.Errorf("expected empty tuning, got %s", response.Profiles[0].Tuning)
	}
	if response.Profiles[0].Active {
		t.Error("profile should not be active")
	}
}

func TestProfileHandler_Create(t *testing.T) {
	s := newTestStore(t)
	handler := NewProfileHandler(s)

	desc := "dim room"
	rec := doRequest(t, handler, http.MethodPost, "/api/profiles", profileRequest{
		Name:        "night",
		Description: &desc,
		Tuning:      json.RawMessage(`{"smoothing_window":8,"denoise":true}`),
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}

	var response profileResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.ID == "" {
		t.Error("expected non-empty ID")
	}
	if response.Name != "night" || response.Description != "dim room" {
		t.Errorf("unexpected profile %+v", response)
	}

	stored, err := s.Profiles().GetByID(response.ID)
	if err != nil {
		t.Fatalf("profile not stored: %v", err)
	}
	if string(stored.Tuning) != `{"smoothing_window":8,"denoise":true}` {
		t.Errorf("stored tuning = %s", stored.Tuning)
	}
}

func TestProfileHandler_CreateValidation(t *testing.T) {
	s := newTestStore(t)
	handler := NewProfileHandler(s)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"invalid JSON", `{"name":`, http.StatusBadRequest},
		{"missing name", `{"tuning":{}}`, http.StatusBadRequest},
		{"invalid tuning", `{"name":"x","tuning":{"smoothing_window":0}}`, http.StatusBadRequest},
		{"unparseable tuning", `{"name":"x","tuning":{"smoothing_window":"five"}}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, handler, http.MethodPost, "/api/profiles", tt.body)
			if rec.Code != tt.want {
				t.Errorf("expected status %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}

	if rec := doRequest(t, handler, http.MethodPost, "/api/profiles", `{"name":"dup"}`); rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d", http.StatusCreated, rec.Code)
	}
	if rec := doRequest(t, handler, http.MethodPost, "/api/profiles", `{"name":"dup"}`); rec.Code != http.StatusConflict {
		t.Errorf("expected status %d for duplicate, got %d", http.StatusConflict, rec.Code)
	}
}

func TestProfileHandler_Get(t *testing.T) {
	s := newTestStore(t)
	handler := NewProfileHandler(s)

	if err := s.Profiles().Create(&store.Profile{ID: "p1", Name: "day"}); err != nil {
		t.Fatalf("failed to create profile: %v", err)
	}

	rec := doRequest(t, handler, http.MethodGet, "/api/profiles/p1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var response profileResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Name != "day" {
		t.Errorf("expected name 'day', got %q", response.Name)
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/profiles/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestProfileHandler_Update(t *testing.T) {
	s := newTestStore(t)
	handler := NewProfileHandler(s)

	if err := s.Profiles().Create(&store.Profile{ID: "p1", Name: "day", Description: "keep"}); err != nil {
		t.Fatalf("failed to create profile: %v", err)
	}

	rec := doRequest(t, handler, http.MethodPut, "/api/profiles/p1", `{"tuning":{"equalize":false}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	stored, err := s.Profiles().GetByID("p1")
	if err != nil {
		t.Fatalf("failed to get profile: %v", err)
	}
	if stored.Name != "day" || stored.Description != "keep" {
		t.Errorf("unset fields should be preserved, got %+v", stored)
	}
	if string(stored.Tuning) != `{"equalize":false}` {
		t.Errorf("stored tuning = %s", stored.Tuning)
	}

	rec = doRequest(t, handler, http.MethodPut, "/api/profiles/p1", `{"tuning":{"min_confidence":2}}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status %d for invalid tuning, got %d", http.StatusBadRequest, rec.Code)
	}

	rec = doRequest(t, handler, http.MethodPut, "/api/profiles/missing", `{"name":"x"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestProfileHandler_ActivateAndRename(t *testing.T) {
	s := newTestStore(t)
	handler := NewProfileHandler(s)

	if err := s.Profiles().Create(&store.Profile{ID: "p1", Name: "day"}); err != nil {
		t.Fatalf("failed to create profile: %v", err)
	}

	rec := doRequest(t, handler, http.MethodPost, "/api/profiles/p1/activate", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	var response profileResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !response.Active {
		t.Error("activated profile should be reported active")
	}

	rec = doRequest(t, handler, http.MethodPut, "/api/profiles/p1", `{"name":"daylight"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	active, err := s.Settings().Get(store.SettingActiveProfile)
	if err != nil || active != "daylight" {
		t.Errorf("active profile = %q, %v; want daylight", active, err)
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/profiles/p1/activate", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
	rec = doRequest(t, handler, http.MethodPost, "/api/profiles/missing/activate", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestProfileHandler_Delete(t *testing.T) {
	s := newTestStore(t)
	handler := NewProfileHandler(s)

	if err := s.Profiles().Create(&store.Profile{ID: "p1", Name: "day"}); err != nil {
		t.Fatalf("failed to create profile: %v", err)
	}
	if err := s.Settings().Set(store.SettingActiveProfile, "day"); err != nil {
		t.Fatalf("failed to set active profile: %v", err)
	}

	rec := doRequest(t, handler, http.MethodDelete, "/api/profiles/p1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, rec.Code)
	}
	if _, err := s.Settings().Get(store.SettingActiveProfile); err == nil {
		t.Error("deleting the active profile should clear the setting")
	}

	rec = doRequest(t, handler, http.MethodDelete, "/api/profiles/p1", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestProfileHandler_MethodNotAllowed(t *testing.T) {
	handler := NewProfileHandler(newTestStore(t))

	if rec := doRequest(t, handler, http.MethodDelete, "/api/profiles", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
	if rec := doRequest(t, handler, http.MethodPatch, "/api/profiles/p1", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
	}
}
