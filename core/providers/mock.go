package providers

import (
	"context"
	"net/url"
	"sync"

	"sessiond/core"
)

const (
	ProviderMock core.Provider = "mock"
)

// Predefined test authorization codes
const (
	ValidCode1 = "mock_auth_code_1"
	ValidCode2 = "mock_auth_code_2"
	ValidCode3 = "mock_auth_code_3"
)

// Predefined test profiles
var (
	Profile1 = &core.Profile{
		ProviderUserID: "mock_user_1",
		Emails:         []string{"user1@mock.test"},
		DisplayName:    "Mock User One",
	}

	Profile2 = &core.Profile{
		ProviderUserID: "mock_user_2",
		Emails:         []string{"user2@mock.test"},
		DisplayName:    "Mock User Two",
	}

	// Profile3 exposes no email
	Profile3 = &core.Profile{
		ProviderUserID: "mock_user_3",
		DisplayName:    "Mock User Three",
	}
)

// MockProvider is a test implementation of IdentityProvider
type MockProvider struct {
	provider      core.Provider
	mu            sync.Mutex
	codeToProfile map[string]*core.Profile

	// track method calls for verification
	ExchangeCalls int
}

func NewMockProvider() *MockProvider {
	return NewMockProviderAs(ProviderMock)
}

// NewMockProviderAs returns a mock that reports itself as provider.
func NewMockProviderAs(provider core.Provider) *MockProvider {
	return &MockProvider{
		provider: provider,
		codeToProfile: map[string]*core.Profile{
			ValidCode1: Profile1,
			ValidCode2: Profile2,
			ValidCode3: Profile3,
		},
	}
}

// AddCode registers an extra code for the given profile.
func (m *MockProvider) AddCode(code string, profile *core.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codeToProfile[code] = profile
}

func (m *MockProvider) AuthCodeURL(state string) string {
	return "https://mock.test/authorize?" + url.Values{"state": {state}}.Encode()
}

func (m *MockProvider) Exchange(ctx context.Context, code string) (*core.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExchangeCalls++

	profile, ok := m.codeToProfile[code]
	if !ok {
		return nil, core.ErrProviderTokenExchange
	}

	copied := *profile
	copied.Emails = append([]string(nil), profile.Emails...)
	return &copied, nil
}

func (m *MockProvider) Provider() core.Provider {
	return m.provider
}
