package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
)

// Identity is the minimal external identity-service collaborator this
// service consumes: token -> (username, scopes). Rendering the HTML
// spawner form and the full identity protocol are out of scope; this
// interface is the seam the HTTP layer needs to stay runnable end to end.
type Identity interface {
	UserInfo(ctx context.Context, token string) (username string, scopes []string, err error)
}

// GafaelfawrIdentity is a minimal net/http client for the identity
// service's token-info endpoint, named after the identity service this
// deployment topology actually uses.
type GafaelfawrIdentity struct {
	BaseURL string
	Client  *http.Client
}

func NewGafaelfawrIdentity(baseURL string) *GafaelfawrIdentity {
	return &GafaelfawrIdentity{BaseURL: baseURL, Client: http.DefaultClient}
}

type tokenInfoResponse struct {
	Username string   `json:"username"`
	Scopes   []string `json:"scopes"`
}

func (g *GafaelfawrIdentity) UserInfo(ctx context.Context, token string) (string, []string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.BaseURL+"/auth/api/v1/token-info", nil)
	if err != nil {
		return "", nil, errors.Wrap(err, "identity: build request")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.Client.Do(req)
	if err != nil {
		return "", nil, errors.Wrap(err, "identity: request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", nil, errors.Errorf("identity: token-info returned %d", resp.StatusCode)
	}
	var info tokenInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", nil, errors.Wrap(err, "identity: decode response")
	}
	return info.Username, info.Scopes, nil
}

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}
