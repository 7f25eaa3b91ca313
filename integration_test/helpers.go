package integration_test

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	_ "modernc.org/sqlite"
)

type LoginResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	User         *struct {
		ID        string   `json:"id"`
		Email     string   `json:"email"`
		Username  string   `json:"username"`
		Providers []string `json:"providers"`
	} `json:"user"`
}

type UserInfoResponse struct {
	ID        string   `json:"id"`
	Email     string   `json:"email"`
	Username  string   `json:"username"`
	Providers []string `json:"providers"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// newClient returns a client that never follows redirects, so tests can
// inspect the OAuth Location headers.
func newClient() *http.Client {
	return &http.Client{
		Timeout: 5 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func postJSON(baseURL, path string, body interface{}) (*http.Response, error) {
	jsonBody, _ := json.Marshal(body)
	return newClient().Post(baseURL+path, "application/json", bytes.NewReader(jsonBody))
}

func register(baseURL, email, username, password string) (*http.Response, error) {
	return postJSON(baseURL, "/auth/register", map[string]string{
		"email":    email,
		"username": username,
		"password": password,
	})
}

func login(baseURL, email, password string) (*http.Response, error) {
	return postJSON(baseURL, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	})
}

func getUserInfo(baseURL, accessToken string) (*http.Response, error) {
	req, _ := http.NewRequest(http.MethodGet, baseURL+"/auth/user", nil)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return newClient().Do(req)
}

func getUserInfoWithCookie(baseURL, refreshToken string) (*http.Response, error) {
	req, _ := http.NewRequest(http.MethodGet, baseURL+"/auth/user", nil)
	req.AddCookie(&http.Cookie{Name: "refreshToken", Value: refreshToken})
	return newClient().Do(req)
}

func refreshToken(baseURL, refreshToken string) (*http.Response, error) {
	return postJSON(baseURL, "/auth/refresh", map[string]string{
		"refresh_token": refreshToken,
	})
}

func logout(baseURL, refreshToken string) (*http.Response, error) {
	return postJSON(baseURL, "/auth/logout", map[string]string{
		"refresh_token": refreshToken,
	})
}

func logoutAll(baseURL, accessToken string) (*http.Response, error) {
	req, _ := http.NewRequest(http.MethodPost, baseURL+"/auth/logout-all", nil)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	return newClient().Do(req)
}

func startOAuth(baseURL, provider string) (*http.Response, error) {
	return newClient().Get(baseURL + "/auth/" + provider)
}

func oauthCallback(baseURL, provider, code, state, stateCookie string) (*http.Response, error) {
	query := url.Values{"code": {code}, "state": {state}}
	req, _ := http.NewRequest(http.MethodGet, baseURL+"/auth/"+provider+"/callback?"+query.Encode(), nil)
	if stateCookie != "" {
		req.AddCookie(&http.Cookie{Name: "oauthState", Value: stateCookie})
	}
	return newClient().Do(req)
}

func countSessions(dbPath string) (int, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM refresh_tokens").Scan(&count)
	return count, err
}

func countUsers(dbPath string) (int, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM users").Scan(&count)
	return count, err
}

func getUserSessions(dbPath, userID string) ([]string, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.Query("SELECT token_hash FROM refresh_tokens WHERE user_id = ?", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, err
		}
		hashes = append(hashes, hash)
	}

	return hashes, rows.Err()
}

func cleanDatabase(dbPath string) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, table := range []string{"refresh_tokens", "user_identities", "users"} {
		if _, err := db.Exec("DELETE FROM " + table); err != nil {
			return err
		}
	}
	return nil
}

func decodeJSON[T any](resp *http.Response) (*T, error) {
	var result T
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, cookie := range resp.Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}
