package providers

import (
	"context"
	"fmt"
	"net/http"

	"sessiond/core"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const defaultGoogleUserInfoBaseURL = "https://openidconnect.googleapis.com"

type GoogleConfig struct {
	ClientID        string `yaml:"client_id"`
	ClientSecret    string `yaml:"client_secret"`
	RedirectURI     string `yaml:"redirect_uri"`
	OAuthBaseURL    string `yaml:"oauth_base_url"`
	UserInfoBaseURL string `yaml:"userinfo_base_url"`
}

type GoogleProvider struct {
	oauth      *oauth2.Config
	userInfo   string
	httpClient *http.Client
}

func NewGoogleProvider(config *GoogleConfig) *GoogleProvider {
	endpoint := google.Endpoint
	if config.OAuthBaseURL != "" {
		endpoint = oauth2.Endpoint{
			AuthURL:   config.OAuthBaseURL + "/auth",
			TokenURL:  config.OAuthBaseURL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		}
	}

	userInfoBase := config.UserInfoBaseURL
	if userInfoBase == "" {
		userInfoBase = defaultGoogleUserInfoBaseURL
	}

	return &GoogleProvider{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURI,
			Endpoint:     endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		userInfo:   userInfoBase + "/v1/userinfo",
		httpClient: newHTTPClient(),
	}
}

type googleUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
}

func (g *GoogleProvider) AuthCodeURL(state string) string {
	return g.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "select_account"))
}

func (g *GoogleProvider) Exchange(ctx context.Context, code string) (*core.Profile, error) {
	_, client, err := exchangeCode(ctx, g.oauth, g.httpClient, code)
	if err != nil {
		return nil, err
	}

	var info googleUserInfo
	if err := getJSON(ctx, client, g.userInfo, &info); err != nil {
		return nil, err
	}
	if info.Sub == "" {
		return nil, fmt.Errorf("%w: response has no subject", core.ErrProviderUserInfo)
	}

	return googleProfile(info.Sub, info.Email, info.EmailVerified, info.Name), nil
}

func (g *GoogleProvider) Provider() core.Provider {
	return core.ProviderGoogle
}

// googleProfile only passes on verified emails, since an email match is
// enough to link an identity to an existing account.
func googleProfile(sub, email string, verified bool, name string) *core.Profile {
	profile := &core.Profile{
		ProviderUserID: sub,
		DisplayName:    name,
	}
	if email != "" && verified {
		profile.Emails = []string{email}
	}
	return profile
}
