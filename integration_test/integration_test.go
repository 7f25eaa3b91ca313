package integration_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"

	"sessiond/core"
	"sessiond/core/providers"
	"sessiond/storage"

	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"
)

type IntegrationTestSuite struct {
	suite.Suite
	mockOAuth *MockOAuthServer
	server    *httptest.Server
	repo      *storage.SQLiteRepository
	baseURL   string
	dbPath    string
}

func (s *IntegrationTestSuite) SetupSuite() {
	s.dbPath = filepath.Join(s.T().TempDir(), "sessiond-integration-test.db")
	s.mockOAuth = NewMockOAuthServer()

	repo, err := storage.NewSQLiteRepository(s.dbPath)
	s.Require().NoError(err)
	s.repo = repo

	config := &core.Config{
		JWT: core.JWTConfig{
			Secret: "test-secret-key-for-integration-tests",
		},
		FrontendURL: "http://frontend.test",
	}
	config.ApplyDefaults()
	s.Require().NoError(config.Validate())

	tokens, err := core.NewTokenService(config.JWT)
	s.Require().NoError(err)

	google := providers.NewGoogleProvider(&providers.GoogleConfig{
		ClientID:        "mock_client_id",
		ClientSecret:    "mock_client_secret",
		RedirectURI:     "http://sessiond.test/auth/google/callback",
		OAuthBaseURL:    s.mockOAuth.URL(),
		UserInfoBaseURL: s.mockOAuth.URL(),
	})

	logger := zaptest.NewLogger(s.T())
	authService := core.NewAuthService(repo, tokens, config,
		map[core.Provider]core.IdentityProvider{core.ProviderGoogle: google},
		nil,
		logger,
	)

	server, err := core.NewServer(authService, config, logger)
	s.Require().NoError(err)

	s.server = httptest.NewServer(server.Routes())
	s.baseURL = s.server.URL
}

func (s *IntegrationTestSuite) TearDownSuite() {
	if s.server != nil {
		s.server.Close()
	}
	if s.mockOAuth != nil {
		s.mockOAuth.Close()
	}
	if s.repo != nil {
		s.repo.Close()
	}
}

func (s *IntegrationTestSuite) SetupTest() {
	if err := cleanDatabase(s.dbPath); err != nil {
		s.T().Fatalf("Failed to clean database: %v", err)
	}
}

func (s *IntegrationTestSuite) registerUser(email, username, password string) *LoginResponse {
	resp, err := register(s.baseURL, email, username, password)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Require().Equal(http.StatusCreated, resp.StatusCode)

	body, err := decodeJSON[LoginResponse](resp)
	s.Require().NoError(err)
	return body
}

// oauthLogin runs the browser side of the authorization-code flow and
// returns the redirect target.
func (s *IntegrationTestSuite) oauthLogin(code string) (*url.URL, *http.Response) {
	start, err := startOAuth(s.baseURL, "google")
	s.Require().NoError(err)
	start.Body.Close()
	s.Require().Equal(http.StatusFound, start.StatusCode)

	stateCookie := findCookie(start, "oauthState")
	s.Require().NotNil(stateCookie)

	authURL, err := url.Parse(start.Header.Get("Location"))
	s.Require().NoError(err)
	s.Equal(stateCookie.Value, authURL.Query().Get("state"))
	s.Equal("mock_client_id", authURL.Query().Get("client_id"))

	resp, err := oauthCallback(s.baseURL, "google", code, stateCookie.Value, stateCookie.Value)
	s.Require().NoError(err)
	resp.Body.Close()
	s.Require().Equal(http.StatusFound, resp.StatusCode)

	target, err := url.Parse(resp.Header.Get("Location"))
	s.Require().NoError(err)
	return target, resp
}

func (s *IntegrationTestSuite) TestHealthCheck() {
	resp, err := newClient().Get(s.baseURL + "/health")
	s.Require().NoError(err)
	defer resp.Body.Close()

	s.Equal(http.StatusOK, resp.StatusCode)
	body, err := decodeJSON[StatusResponse](resp)
	s.Require().NoError(err)
	s.Equal("ok", body.Status)
}

func (s *IntegrationTestSuite) TestPasswordSessionLifecycle() {
	registered := s.registerUser("u@test.com", "u1", "pw123456")
	s.NotEmpty(registered.AccessToken)

	// 1. Access token resolves the user
	resp, err := getUserInfo(s.baseURL, registered.AccessToken)
	s.Require().NoError(err)
	info, err := decodeJSON[UserInfoResponse](resp)
	resp.Body.Close()
	s.Require().NoError(err)
	s.Equal("u@test.com", info.Email)
	s.Equal("u1", info.Username)

	// 2. Rotation: A -> B, A is dead afterwards
	resp, err = refreshToken(s.baseURL, registered.RefreshToken)
	s.Require().NoError(err)
	s.Equal(http.StatusOK, resp.StatusCode)
	rotated, err := decodeJSON[LoginResponse](resp)
	resp.Body.Close()
	s.Require().NoError(err)
	s.NotEqual(registered.RefreshToken, rotated.RefreshToken)

	resp, err = refreshToken(s.baseURL, registered.RefreshToken)
	s.Require().NoError(err)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	sessions, err := getUserSessions(s.dbPath, registered.User.ID)
	s.Require().NoError(err)
	s.Equal([]string{core.HashRefreshToken(rotated.RefreshToken)}, sessions)

	// 3. Logout kills B
	resp, err = logout(s.baseURL, rotated.RefreshToken)
	s.Require().NoError(err)
	s.Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = refreshToken(s.baseURL, rotated.RefreshToken)
	s.Require().NoError(err)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	count, err := countSessions(s.dbPath)
	s.Require().NoError(err)
	s.Equal(0, count)
}

func (s *IntegrationTestSuite) TestLoginErrors() {
	s.registerUser("u@test.com", "u1", "pw123456")

	resp, err := login(s.baseURL, "u@test.com", "wrong")
	s.Require().NoError(err)
	defer resp.Body.Close()

	s.Equal(http.StatusUnauthorized, resp.StatusCode)
	body, err := decodeJSON[ErrorResponse](resp)
	s.Require().NoError(err)
	s.Equal("invalid_credentials", body.Error)

	dup, err := register(s.baseURL, "u@test.com", "u2", "pw123456")
	s.Require().NoError(err)
	defer dup.Body.Close()
	s.Equal(http.StatusConflict, dup.StatusCode)
}

func (s *IntegrationTestSuite) TestConcurrentRefreshReplay() {
	registered := s.registerUser("u@test.com", "u1", "pw123456")

	const workers = 10
	var wg sync.WaitGroup
	statuses := make(chan int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := refreshToken(s.baseURL, registered.RefreshToken)
			if err != nil {
				return
			}
			resp.Body.Close()
			statuses <- resp.StatusCode
		}()
	}
	wg.Wait()
	close(statuses)

	var ok, rejected int
	for status := range statuses {
		switch status {
		case http.StatusOK:
			ok++
		case http.StatusUnauthorized:
			rejected++
		}
	}
	s.Equal(1, ok)
	s.Equal(workers-1, rejected)

	count, err := countSessions(s.dbPath)
	s.Require().NoError(err)
	s.Equal(1, count)
}

func (s *IntegrationTestSuite) TestMultiDeviceLogoutAll() {
	registered := s.registerUser("u@test.com", "u1", "pw123456")

	for i := 0; i < 2; i++ {
		resp, err := login(s.baseURL, "u@test.com", "pw123456")
		s.Require().NoError(err)
		s.Equal(http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}

	count, err := countSessions(s.dbPath)
	s.Require().NoError(err)
	s.Equal(3, count)

	resp, err := logoutAll(s.baseURL, registered.AccessToken)
	s.Require().NoError(err)
	s.Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	count, err = countSessions(s.dbPath)
	s.Require().NoError(err)
	s.Equal(0, count)

	// The access token stays valid until it expires
	resp, err = getUserInfo(s.baseURL, registered.AccessToken)
	s.Require().NoError(err)
	s.Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func (s *IntegrationTestSuite) TestCookieFallbackRespectsLogout() {
	registered := s.registerUser("u@test.com", "u1", "pw123456")

	resp, err := getUserInfoWithCookie(s.baseURL, registered.RefreshToken)
	s.Require().NoError(err)
	s.Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = logout(s.baseURL, registered.RefreshToken)
	s.Require().NoError(err)
	resp.Body.Close()

	resp, err = getUserInfoWithCookie(s.baseURL, registered.RefreshToken)
	s.Require().NoError(err)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()
}

func (s *IntegrationTestSuite) TestOAuthFlow_CreatesAndReusesAccount() {
	target, resp := s.oauthLogin("valid_code_1")

	s.Equal("frontend.test", target.Host)
	s.Equal("/oauth-success", target.Path)
	accessToken := target.Query().Get("accessToken")
	s.Require().NotEmpty(accessToken)
	s.NotNil(findCookie(resp, "refreshToken"))

	info, err := getUserInfo(s.baseURL, accessToken)
	s.Require().NoError(err)
	user, err := decodeJSON[UserInfoResponse](info)
	info.Body.Close()
	s.Require().NoError(err)
	s.Equal("user1@example.com", user.Email)
	s.Equal([]string{"google"}, user.Providers)

	// Same Google subject, new code: same account
	target, _ = s.oauthLogin("valid_code_2")
	s.Equal("/oauth-success", target.Path)

	users, err := countUsers(s.dbPath)
	s.Require().NoError(err)
	s.Equal(1, users)
}

func (s *IntegrationTestSuite) TestOAuthFlow_LinksPasswordAccount() {
	registered := s.registerUser("user2@example.com", "alice", "pw123456")

	target, _ := s.oauthLogin("another_user_code_1")
	s.Equal("/oauth-success", target.Path)

	info, err := getUserInfo(s.baseURL, target.Query().Get("accessToken"))
	s.Require().NoError(err)
	user, err := decodeJSON[UserInfoResponse](info)
	info.Body.Close()
	s.Require().NoError(err)
	s.Equal(registered.User.ID, user.ID)
	s.Equal([]string{"google"}, user.Providers)

	// Password login still works
	resp, err := login(s.baseURL, "user2@example.com", "pw123456")
	s.Require().NoError(err)
	s.Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func (s *IntegrationTestSuite) TestOAuthFlow_UnverifiedEmailDoesNotLink() {
	registered := s.registerUser("user1@example.com", "victim", "pw123456")

	target, _ := s.oauthLogin("unverified_code")
	s.Equal("/oauth-success", target.Path)

	info, err := getUserInfo(s.baseURL, target.Query().Get("accessToken"))
	s.Require().NoError(err)
	user, err := decodeJSON[UserInfoResponse](info)
	info.Body.Close()
	s.Require().NoError(err)
	s.NotEqual(registered.User.ID, user.ID)
	s.Equal("google_user_3@google.user", user.Email)
}

func (s *IntegrationTestSuite) TestOAuthFlow_Failures() {
	resp, err := oauthCallback(s.baseURL, "google", "valid_code_1", "forged", "expected")
	s.Require().NoError(err)
	resp.Body.Close()
	s.Equal(http.StatusFound, resp.StatusCode)
	s.Equal("http://frontend.test/login?error=Authentication+failed", resp.Header.Get("Location"))

	resp, err = oauthCallback(s.baseURL, "google", "unknown_code", "st", "st")
	s.Require().NoError(err)
	resp.Body.Close()
	s.Equal("http://frontend.test/login?error=Authentication+failed", resp.Header.Get("Location"))

	users, err := countUsers(s.dbPath)
	s.Require().NoError(err)
	s.Equal(0, users)

	resp, err = startOAuth(s.baseURL, "myspace")
	s.Require().NoError(err)
	resp.Body.Close()
	s.Equal(http.StatusNotFound, resp.StatusCode)
}

func TestIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	suite.Run(t, new(IntegrationTestSuite))
}
