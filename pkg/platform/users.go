package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/telekom/acctl/pkg/account"
	"github.com/telekom/acctl/pkg/autherr"
)

// OrgUser is a member of an organization.
type OrgUser struct {
	GUID      string   `json:"guid"`
	Email     string   `json:"email"`
	FirstName string   `json:"firstname"`
	LastName  string   `json:"lastname"`
	Phone     string   `json:"phone"`
	Roles     []string `json:"roles"`
	Primary   bool     `json:"primary"`
}

// UserClient manages org membership.
type UserClient struct {
	client *Client
	auth   Authenticator
}

// Users returns a UserClient that validates accounts through auth.
func (c *Client) Users(auth Authenticator) *UserClient {
	return &UserClient{client: c, auth: auth}
}

func userPath(orgID int64, guid string) string {
	p := fmt.Sprintf("/org/%d/user", orgID)
	if guid != "" {
		p += "/" + url.PathEscape(guid)
	}
	return p
}

// List returns the members of the org identified by orgID (empty selects the
// account's current org).
func (uc *UserClient) List(ctx context.Context, acct *account.Account, orgID string) ([]OrgUser, error) {
	acct, org, err := uc.prepare(ctx, acct, orgID)
	if err != nil {
		return nil, err
	}
	return uc.list(ctx, acct, org)
}

func (uc *UserClient) list(ctx context.Context, acct *account.Account, org account.Org) ([]OrgUser, error) {
	var users []OrgUser
	err := uc.client.do(ctx, acct.Auth.Tokens.AccessToken, call{name: "user.list", method: http.MethodGet, path: userPath(org.ID, "")}, &users)
	if err != nil {
		return nil, failed(err, "Failed to get organization users")
	}
	if users == nil {
		users = []OrgUser{}
	}
	return users, nil
}

// Find returns the member matching user by guid or email, or nil when the
// user is not a member.
func (uc *UserClient) Find(ctx context.Context, acct *account.Account, orgID, user string) (*OrgUser, error) {
	acct, org, err := uc.prepare(ctx, acct, orgID)
	if err != nil {
		return nil, err
	}
	return uc.find(ctx, acct, org, user)
}

func (uc *UserClient) find(ctx context.Context, acct *account.Account, org account.Org, user string) (*OrgUser, error) {
	users, err := uc.list(ctx, acct, org)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if users[i].GUID == user || strings.EqualFold(users[i].Email, user) {
			return &users[i], nil
		}
	}
	return nil, nil
}

// Add invites email into the org with roles and returns the new member.
func (uc *UserClient) Add(ctx context.Context, acct *account.Account, orgID, email string, roles []string) (*OrgUser, error) {
	acct, org, err := uc.prepare(ctx, acct, orgID)
	if err != nil {
		return nil, err
	}
	if err := uc.checkRoles(ctx, acct, roles); err != nil {
		return nil, err
	}
	var added struct {
		GUID string `json:"guid"`
	}
	err = uc.client.do(ctx, acct.Auth.Tokens.AccessToken, call{
		name:   "user.add",
		method: http.MethodPost,
		path:   userPath(org.ID, ""),
		body:   map[string]any{"email": email, "roles": roles},
	}, &added)
	if err != nil {
		return nil, failed(err, "Failed to add user to organization")
	}
	user, err := uc.find(ctx, acct, org, added.GUID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return &OrgUser{GUID: added.GUID, Email: email, Roles: roles}, nil
	}
	return user, nil
}

// Update replaces the roles of the member identified by user.
func (uc *UserClient) Update(ctx context.Context, acct *account.Account, orgID, user string, roles []string) (*OrgUser, error) {
	acct, org, err := uc.prepare(ctx, acct, orgID)
	if err != nil {
		return nil, err
	}
	if err := uc.checkRoles(ctx, acct, roles); err != nil {
		return nil, err
	}
	existing, err := uc.find(ctx, acct, org, user)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, autherr.NotFound("Unable to find the user %q", user)
	}
	var updated OrgUser
	err = uc.client.do(ctx, acct.Auth.Tokens.AccessToken, call{
		name:   "user.update",
		method: http.MethodPut,
		path:   userPath(org.ID, existing.GUID),
		body:   map[string]any{"roles": roles},
	}, &updated)
	if err != nil {
		return nil, failed(err, "Failed to update user's organization roles")
	}
	return &updated, nil
}

// Remove takes the member identified by user out of the org.
func (uc *UserClient) Remove(ctx context.Context, acct *account.Account, orgID, user string) (*OrgUser, error) {
	acct, org, err := uc.prepare(ctx, acct, orgID)
	if err != nil {
		return nil, err
	}
	existing, err := uc.find(ctx, acct, org, user)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, autherr.NotFound("Unable to find the user %q", user)
	}
	err = uc.client.do(ctx, acct.Auth.Tokens.AccessToken, call{name: "user.remove", method: http.MethodDelete, path: userPath(org.ID, existing.GUID)}, nil)
	if err != nil {
		return nil, failed(err, "Failed to remove user from organization")
	}
	return existing, nil
}

func (uc *UserClient) prepare(ctx context.Context, acct *account.Account, orgID string) (*account.Account, account.Org, error) {
	acct, err := authorize(ctx, uc.auth, acct)
	if err != nil {
		return nil, account.Org{}, err
	}
	org, err := uc.client.ResolveOrg(ctx, acct, orgID)
	if err != nil {
		return nil, account.Org{}, err
	}
	return acct, org, nil
}

func (uc *UserClient) checkRoles(ctx context.Context, acct *account.Account, roles []string) error {
	if roles == nil {
		return autherr.Type("Expected roles to be an array")
	}
	available, err := uc.client.listRoles(ctx, acct.Auth.Tokens.AccessToken, RoleFilter{})
	if err != nil {
		return failed(err, "Failed to get roles")
	}
	return validateRoles(roles, available)
}
