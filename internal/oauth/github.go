package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

const githubAPIBaseURL = "https://api.github.com"

type GitHubProvider struct {
	config     *oauth2.Config
	apiBaseURL string
}

func NewGitHubProvider(clientID, clientSecret, redirectURL string) *GitHubProvider {
	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     github.Endpoint,
			RedirectURL:  redirectURL,
			Scopes:       []string{"read:user", "user:email"},
		},
		apiBaseURL: githubAPIBaseURL,
	}
}

func (p *GitHubProvider) Name() string { return "github" }

func (p *GitHubProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state)
}

func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*Profile, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}

	client := p.config.Client(ctx, token)

	var user struct {
		ID    int64  `json:"id"`
		Login string `json:"login"`
		Name  string `json:"name"`
	}
	if err := getJSON(client, p.apiBaseURL+"/user", &user); err != nil {
		return nil, fmt.Errorf("failed to fetch GitHub user: %w", err)
	}

	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	if err := getJSON(client, p.apiBaseURL+"/user/emails", &emails); err != nil {
		return nil, fmt.Errorf("failed to fetch GitHub emails: %w", err)
	}

	profile := &Profile{
		ProviderAccountID: strconv.FormatInt(user.ID, 10),
		DisplayName:       user.Name,
		TokenMaterial:     marshalToken(token),
	}
	if profile.DisplayName == "" {
		profile.DisplayName = user.Login
	}

	// Prefer the verified primary address, then any verified one.
	for _, e := range emails {
		if e.Verified && (e.Primary || profile.Email == "") {
			profile.Email = e.Email
			profile.EmailVerified = true
		}
	}

	return profile, nil
}

func getJSON(client *http.Client, url string, v interface{}) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
