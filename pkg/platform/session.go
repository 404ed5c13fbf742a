package platform

import (
	"context"
	"net/http"

	"github.com/telekom/acctl/pkg/account"
)

// ServiceClient is the caller identity of a service account session.
type ServiceClient struct {
	ClientID string `json:"client_id"`
	GUID     string `json:"guid"`
	Name     string `json:"name"`
}

// Session is the platform's view of the bearer: who it is and which org it
// is currently scoped to.
type Session struct {
	User   *account.User
	Client *ServiceClient
	Org    *account.Org
	Orgs   []account.Org
}

type wireOrg struct {
	ID         int64     `json:"org_id"`
	GUID       string    `json:"guid"`
	Name       string    `json:"name"`
	Active     bool      `json:"active"`
	Region     string    `json:"region"`
	Default    bool      `json:"default"`
	ParentGUID string    `json:"parent_org_guid"`
	Children   []wireOrg `json:"children"`
}

type wireSession struct {
	User   *account.User  `json:"user"`
	Client *ServiceClient `json:"client"`
	Org    *wireOrg       `json:"org"`
	Orgs   []wireOrg      `json:"orgs"`
}

// FindSession resolves the session behind accessToken.
func (c *Client) FindSession(ctx context.Context, accessToken string) (*Session, error) {
	var ws wireSession
	err := c.do(ctx, accessToken, call{name: "findSession", method: http.MethodGet, path: "/auth/findSession"}, &ws)
	if err != nil {
		return nil, err
	}
	s := &Session{User: ws.User, Client: ws.Client}
	for _, o := range ws.Orgs {
		s.Orgs = append(s.Orgs, toAccountOrg(o, ws.Orgs))
	}
	if ws.Org != nil {
		org := toAccountOrg(*ws.Org, ws.Orgs)
		s.Org = &org
	}
	return s, nil
}

// SwitchOrg scopes the session behind accessToken to orgID. A rejection is
// returned as *HTTPError.
func (c *Client) SwitchOrg(ctx context.Context, accessToken string, orgID int64) error {
	body := map[string]int64{"org_id": orgID}
	return c.do(ctx, accessToken, call{name: "switchOrg", method: http.MethodPut, path: "/auth/switchLoggedInOrg", body: body}, nil)
}

func toAccountOrg(o wireOrg, all []wireOrg) account.Org {
	org := account.Org{ID: o.ID, GUID: o.GUID, Name: o.Name, Default: o.Default}
	if o.ParentGUID == "" {
		return org
	}
	org.ParentOrg = &account.Org{GUID: o.ParentGUID}
	for _, p := range all {
		if p.GUID == o.ParentGUID {
			org.ParentOrg = &account.Org{ID: p.ID, GUID: p.GUID, Name: p.Name}
			break
		}
	}
	return org
}

// Apply merges s into acct: the user profile, the current org and the cached
// org list.
func (s *Session) Apply(acct *account.Account) {
	if s.User != nil {
		u := *s.User
		acct.User = &u
	}
	if s.Org != nil {
		org := *s.Org
		acct.Org = &org
	}
	if s.Orgs != nil {
		acct.Orgs = append([]account.Org(nil), s.Orgs...)
	}
}
