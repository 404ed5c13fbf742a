package platform

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/telekom/acctl/pkg/account"
	"github.com/telekom/acctl/pkg/autherr"
)

// Role is a platform role that can be granted to org or team members.
type Role struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Default bool   `json:"default,omitempty"`
	Org     bool   `json:"org,omitempty"`
	Team    bool   `json:"team,omitempty"`
}

// RoleFilter narrows a role listing.
type RoleFilter struct {
	// Team limits the listing to roles assignable within a team.
	Team bool
}

// RoleClient lists platform roles.
type RoleClient struct {
	client *Client
	auth   Authenticator
}

// Roles returns a RoleClient that validates accounts through auth.
func (c *Client) Roles(auth Authenticator) *RoleClient {
	return &RoleClient{client: c, auth: auth}
}

// List returns the roles available to the account.
func (rc *RoleClient) List(ctx context.Context, acct *account.Account, filter RoleFilter) ([]Role, error) {
	acct, err := authorize(ctx, rc.auth, acct)
	if err != nil {
		return nil, autherr.Wrap(autherr.KindOf(err), err, "Failed to get roles")
	}
	roles, err := rc.client.listRoles(ctx, acct.Auth.Tokens.AccessToken, filter)
	if err != nil {
		return nil, failed(err, "Failed to get roles")
	}
	return roles, nil
}

func (c *Client) listRoles(ctx context.Context, token string, filter RoleFilter) ([]Role, error) {
	var query url.Values
	if filter.Team {
		query = url.Values{"team": {"true"}}
	}
	var roles []Role
	if err := c.do(ctx, token, call{name: "role.list", method: http.MethodGet, path: "/role", query: query}, &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

// validateRoles checks requested against the roles the platform offers. At
// least one requested role must be a default role.
func validateRoles(requested []string, available []Role) error {
	if requested == nil {
		return autherr.Type("Expected roles to be an array")
	}
	ids := make([]string, 0, len(available))
	var defaults []string
	known := make(map[string]Role, len(available))
	for _, r := range available {
		ids = append(ids, r.ID)
		known[r.ID] = r
		if r.Default {
			defaults = append(defaults, r.ID)
		}
	}
	if len(requested) == 0 {
		return autherr.Type("Expected at least one of the following roles: %s", strings.Join(ids, ", "))
	}
	hasDefault := false
	for _, id := range requested {
		r, ok := known[id]
		if !ok {
			return autherr.Type("Invalid role %q, expected one of the following: %s", id, strings.Join(ids, ", "))
		}
		hasDefault = hasDefault || r.Default
	}
	if !hasDefault {
		return autherr.Type("You must specify a default role: %s", strings.Join(defaults, ", "))
	}
	return nil
}
