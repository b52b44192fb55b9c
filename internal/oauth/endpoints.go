package oauth

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/oauth2/github"
)

const (
	// Keycloak endpoint paths
	authPath        = "/protocol/openid-connect/auth"
	tokenPath       = "/protocol/openid-connect/token"
	userInfoPath    = "/protocol/openid-connect/userinfo"
	healthCheckPath = "/.well-known/openid-configuration"

	githubUserURL = "https://api.github.com/user"
)

// KeycloakEndpoints derives the endpoints of a Keycloak realm
func KeycloakEndpoints(baseURL, realm string) (Endpoints, error) {
	if baseURL == "" {
		return Endpoints{}, fmt.Errorf("base URL is required")
	}
	if realm == "" {
		return Endpoints{}, fmt.Errorf("realm is required")
	}

	baseURL = strings.TrimSuffix(baseURL, "/")
	if _, err := url.Parse(baseURL); err != nil {
		return Endpoints{}, fmt.Errorf("invalid base URL: %w", err)
	}

	realmURL := fmt.Sprintf("%s/realms/%s", baseURL, url.PathEscape(realm))
	return Endpoints{
		AuthURL:     realmURL + authPath,
		TokenURL:    realmURL + tokenPath,
		UserInfoURL: realmURL + userInfoPath,
		HealthURL:   realmURL + healthCheckPath,
	}, nil
}

// GitHubEndpoints returns the endpoints of github.com
func GitHubEndpoints() Endpoints {
	return Endpoints{
		AuthURL:     github.Endpoint.AuthURL,
		TokenURL:    github.Endpoint.TokenURL,
		UserInfoURL: githubUserURL,
	}
}
