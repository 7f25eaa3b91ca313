package providers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"

	"sessiond/core"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
)

const (
	defaultFacebookGraphBaseURL = "https://graph.facebook.com"
	facebookGraphVersion        = "v19.0"
)

type FacebookConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURI  string `yaml:"redirect_uri"`
	OAuthBaseURL string `yaml:"oauth_base_url"`
	GraphBaseURL string `yaml:"graph_base_url"`
}

type FacebookProvider struct {
	oauth      *oauth2.Config
	graphURL   string
	httpClient *http.Client
}

func NewFacebookProvider(config *FacebookConfig) *FacebookProvider {
	endpoint := facebook.Endpoint
	if config.OAuthBaseURL != "" {
		endpoint = oauth2.Endpoint{
			AuthURL:   config.OAuthBaseURL + "/dialog/oauth",
			TokenURL:  config.OAuthBaseURL + "/oauth/access_token",
			AuthStyle: oauth2.AuthStyleInParams,
		}
	}

	graphBase := config.GraphBaseURL
	if graphBase == "" {
		graphBase = defaultFacebookGraphBaseURL
	}

	return &FacebookProvider{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURI,
			Endpoint:     endpoint,
			Scopes:       []string{"email", "public_profile"},
		},
		graphURL:   graphBase + "/" + facebookGraphVersion + "/me",
		httpClient: newHTTPClient(),
	}
}

type facebookUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (f *FacebookProvider) AuthCodeURL(state string) string {
	return f.oauth.AuthCodeURL(state)
}

func (f *FacebookProvider) Exchange(ctx context.Context, code string) (*core.Profile, error) {
	token, client, err := exchangeCode(ctx, f.oauth, f.httpClient, code)
	if err != nil {
		return nil, err
	}

	query := url.Values{
		"fields":          {"id,name,email"},
		"appsecret_proof": {appSecretProof(token.AccessToken, f.oauth.ClientSecret)},
	}

	var user facebookUser
	if err := getJSON(ctx, client, f.graphURL+"?"+query.Encode(), &user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, fmt.Errorf("%w: response has no id", core.ErrProviderUserInfo)
	}

	// The Graph API only returns confirmed emails
	profile := &core.Profile{
		ProviderUserID: user.ID,
		DisplayName:    user.Name,
	}
	if user.Email != "" {
		profile.Emails = []string{user.Email}
	}
	return profile, nil
}

func (f *FacebookProvider) Provider() core.Provider {
	return core.ProviderFacebook
}

// appSecretProof signs the access token with the app secret, as the Graph
// API requires when "Require App Secret" is enabled.
func appSecretProof(accessToken, appSecret string) string {
	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write([]byte(accessToken))
	return hex.EncodeToString(mac.Sum(nil))
}
