package integration_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

type mockUser struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

var mockUsers = map[string]mockUser{
	"valid_code_1": {
		Sub:           "google_user_1",
		Email:         "user1@example.com",
		EmailVerified: true,
		Name:          "Test User 1",
	},
	"valid_code_2": {
		Sub:           "google_user_1",
		Email:         "user1@example.com",
		EmailVerified: true,
		Name:          "Test User 1",
	},
	"another_user_code_1": {
		Sub:           "google_user_2",
		Email:         "user2@example.com",
		EmailVerified: true,
		Name:          "Test User 2",
	},
	"unverified_code": {
		Sub:   "google_user_3",
		Email: "user1@example.com",
		Name:  "Impostor",
	},
}

// MockOAuthServer stands in for the Google token and userinfo endpoints.
type MockOAuthServer struct {
	server *httptest.Server

	mu             sync.Mutex
	exchangedCodes map[string]bool
}

func NewMockOAuthServer() *MockOAuthServer {
	m := &MockOAuthServer{
		exchangedCodes: make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", m.handleToken)
	mux.HandleFunc("/v1/userinfo", m.handleUserInfo)

	m.server = httptest.NewServer(mux)
	return m
}

func (m *MockOAuthServer) URL() string {
	return m.server.URL
}

func (m *MockOAuthServer) Close() {
	m.server.Close()
}

func (m *MockOAuthServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "authorization_code" {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	code := r.PostForm.Get("code")
	if _, ok := mockUsers[code]; !ok {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant")
		return
	}

	// Authorization codes are single use
	m.mu.Lock()
	used := m.exchangedCodes[code]
	m.exchangedCodes[code] = true
	m.mu.Unlock()
	if used {
		writeOAuthError(w, http.StatusBadRequest, "invalid_grant")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token": "access_" + code,
		"expires_in":   3600,
		"token_type":   "Bearer",
	})
}

func (m *MockOAuthServer) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_token")
		return
	}

	user, ok := mockUsers[strings.TrimPrefix(token, "access_")]
	if !ok {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_token")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

func writeOAuthError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code})
}
