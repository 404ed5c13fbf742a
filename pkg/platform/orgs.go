package platform

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/telekom/acctl/pkg/account"
	"github.com/telekom/acctl/pkg/autherr"
)

// Org is an organization as returned by the org endpoints.
type Org struct {
	ID        int64  `json:"org_id"`
	GUID      string `json:"guid"`
	Name      string `json:"name"`
	Active    bool   `json:"active"`
	Region    string `json:"region,omitempty"`
	Default   bool   `json:"default"`
	ParentOrg *Org   `json:"parentOrg,omitempty"`
	Children  []Org  `json:"children,omitempty"`
}

// Environment is a deployment environment of the current org.
type Environment struct {
	Name         string `json:"name"`
	IsProduction bool   `json:"isProduction"`
}

// Event is one org activity entry.
type Event struct {
	OrgID   int64     `json:"org_id"`
	Event   string    `json:"event"`
	Message string    `json:"message"`
	TS      time.Time `json:"ts"`
}

// Activity is an org activity report.
type Activity struct {
	Org    account.Org `json:"org"`
	From   time.Time   `json:"from"`
	To     time.Time   `json:"to"`
	Events []Event     `json:"events"`
}

// UsageMetric is one metered quota.
type UsageMetric struct {
	Name  string  `json:"name"`
	Quota float64 `json:"quota"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
}

// Usage is an org usage report keyed by product, then metric.
type Usage struct {
	Org   account.Org                       `json:"org"`
	From  time.Time                         `json:"from"`
	To    time.Time                         `json:"to"`
	Usage map[string]map[string]UsageMetric `json:"usage"`
}

// OrgClient reads and manages organizations.
type OrgClient struct {
	client *Client
	auth   Authenticator
}

// Orgs returns an OrgClient that validates accounts through auth.
func (c *Client) Orgs(auth Authenticator) *OrgClient {
	return &OrgClient{client: c, auth: auth}
}

// ResolveOrg finds the org identified by id (org_id, guid or name) among the
// orgs the account can access. An empty id selects the account's current org.
// The cached org list is consulted first and refreshed from the session on a
// miss, which updates acct.Orgs; acct must be a private copy.
func (c *Client) ResolveOrg(ctx context.Context, acct *account.Account, id string) (account.Org, error) {
	if id == "" {
		if acct.Org != nil {
			return *acct.Org, nil
		}
		return account.Org{}, autherr.NotFound("Account %s has no current organization", acct.Name)
	}
	if org, ok := matchOrg(acct.Orgs, id); ok {
		return org, nil
	}
	session, err := c.FindSession(ctx, acct.Auth.Tokens.AccessToken)
	if err != nil {
		return account.Org{}, failed(err, "Failed to get organizations")
	}
	acct.Orgs = session.Orgs
	if org, ok := matchOrg(session.Orgs, id); ok {
		return org, nil
	}
	return account.Org{}, autherr.NotFound("Unable to find the organization %q", id)
}

func matchOrg(orgs []account.Org, id string) (account.Org, bool) {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		for _, o := range orgs {
			if o.ID == n {
				return o, true
			}
		}
	}
	for _, o := range orgs {
		if o.GUID == id {
			return o, true
		}
	}
	for _, o := range orgs {
		if strings.EqualFold(o.Name, id) {
			return o, true
		}
	}
	return account.Org{}, false
}

// List returns every org the account can access, sorted by name. The org
// identified by defaultOrg (or the account's current org) is flagged default.
func (oc *OrgClient) List(ctx context.Context, acct *account.Account, defaultOrg string) ([]Org, error) {
	acct, err := authorize(ctx, oc.auth, acct)
	if err != nil {
		return nil, err
	}
	session, err := oc.client.FindSession(ctx, acct.Auth.Tokens.AccessToken)
	if err != nil {
		return nil, failed(err, "Failed to get organizations")
	}
	acct.Orgs = session.Orgs
	if acct.Org == nil {
		acct.Org = session.Org
	}
	def, err := oc.client.ResolveOrg(ctx, acct, defaultOrg)
	if err != nil {
		return nil, err
	}
	orgs := make([]Org, 0, len(session.Orgs))
	for _, o := range session.Orgs {
		org := fromAccountOrg(o)
		org.Default = o.GUID == def.GUID
		orgs = append(orgs, org)
	}
	sort.SliceStable(orgs, func(i, j int) bool {
		return strings.ToLower(orgs[i].Name) < strings.ToLower(orgs[j].Name)
	})
	return orgs, nil
}

// Find returns the org details for id, including its parent org.
func (oc *OrgClient) Find(ctx context.Context, acct *account.Account, id string) (*Org, error) {
	acct, err := authorize(ctx, oc.auth, acct)
	if err != nil {
		return nil, err
	}
	ref, err := oc.client.ResolveOrg(ctx, acct, id)
	if err != nil {
		return nil, err
	}
	var wo wireOrg
	err = oc.client.do(ctx, acct.Auth.Tokens.AccessToken, call{name: "org.get", method: http.MethodGet, path: orgPath(ref.ID)}, &wo)
	if err != nil {
		return nil, failed(err, "Failed to get organization %q", id)
	}
	org := fromWire(wo, acct.Orgs)
	org.Default = ref.Default
	return &org, nil
}

// Family returns the org with its child orgs.
func (oc *OrgClient) Family(ctx context.Context, acct *account.Account, id string) (*Org, error) {
	acct, err := authorize(ctx, oc.auth, acct)
	if err != nil {
		return nil, err
	}
	ref, err := oc.client.ResolveOrg(ctx, acct, id)
	if err != nil {
		return nil, err
	}
	var wo wireOrg
	err = oc.client.do(ctx, acct.Auth.Tokens.AccessToken, call{name: "org.family", method: http.MethodGet, path: orgPath(ref.ID) + "/family"}, &wo)
	if err != nil {
		return nil, failed(err, "Failed to get organization family")
	}
	org := fromWire(wo, acct.Orgs)
	org.Children = []Org{}
	for _, child := range wo.Children {
		org.Children = append(org.Children, fromWire(child, acct.Orgs))
	}
	return &org, nil
}

// Environments lists the deployment environments of the account's current org.
func (oc *OrgClient) Environments(ctx context.Context, acct *account.Account) ([]Environment, error) {
	acct, err := authorize(ctx, oc.auth, acct)
	if err != nil {
		return nil, err
	}
	var envs []Environment
	err = oc.client.do(ctx, acct.Auth.Tokens.AccessToken, call{name: "org.environments", method: http.MethodGet, path: "/org/env"}, &envs)
	if err != nil {
		return nil, failed(err, "Failed to get organization environments")
	}
	return envs, nil
}

// Rename changes the display name of the org identified by id.
func (oc *OrgClient) Rename(ctx context.Context, acct *account.Account, id, name string) (*Org, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, autherr.Type("Organization name must be a non-empty string")
	}
	acct, err := authorize(ctx, oc.auth, acct)
	if err != nil {
		return nil, err
	}
	ref, err := oc.client.ResolveOrg(ctx, acct, id)
	if err != nil {
		return nil, err
	}
	var wo wireOrg
	err = oc.client.do(ctx, acct.Auth.Tokens.AccessToken, call{
		name:   "org.rename",
		method: http.MethodPut,
		path:   orgPath(ref.ID),
		body:   map[string]string{"name": name},
	}, &wo)
	if err != nil {
		return nil, failed(err, "Failed to rename organization")
	}
	org := fromWire(wo, acct.Orgs)
	org.Default = ref.Default
	return &org, nil
}

// Activity returns the org's activity events within r.
func (oc *OrgClient) Activity(ctx context.Context, acct *account.Account, id string, r DateRange) (*Activity, error) {
	from, to, err := r.Resolve(time.Now())
	if err != nil {
		return nil, err
	}
	acct, err = authorize(ctx, oc.auth, acct)
	if err != nil {
		return nil, err
	}
	ref, err := oc.client.ResolveOrg(ctx, acct, id)
	if err != nil {
		return nil, err
	}
	query := url.Values{
		"org_id": {strconv.FormatInt(ref.ID, 10)},
		"from":   {from.Format(DateLayout)},
		"to":     {to.Format(DateLayout)},
	}
	var events []Event
	err = oc.client.do(ctx, acct.Auth.Tokens.AccessToken, call{name: "org.activity", method: http.MethodGet, path: "/activity", query: query}, &events)
	if err != nil {
		return nil, failed(err, "Failed to get organization activity")
	}
	if events == nil {
		events = []Event{}
	}
	return &Activity{Org: ref, From: from, To: to, Events: events}, nil
}

// Usage returns the org's metered usage within r.
func (oc *OrgClient) Usage(ctx context.Context, acct *account.Account, id string, r DateRange) (*Usage, error) {
	from, to, err := r.Resolve(time.Now())
	if err != nil {
		return nil, err
	}
	acct, err = authorize(ctx, oc.auth, acct)
	if err != nil {
		return nil, err
	}
	ref, err := oc.client.ResolveOrg(ctx, acct, id)
	if err != nil {
		return nil, err
	}
	query := url.Values{
		"from": {from.Format(DateLayout)},
		"to":   {to.Format(DateLayout)},
	}
	var body struct {
		Usage map[string]map[string]UsageMetric `json:"usage"`
	}
	err = oc.client.do(ctx, acct.Auth.Tokens.AccessToken, call{name: "org.usage", method: http.MethodGet, path: orgPath(ref.ID) + "/usage", query: query}, &body)
	if err != nil {
		return nil, failed(err, "Failed to get organization usage")
	}
	return &Usage{Org: ref, From: from, To: to, Usage: body.Usage}, nil
}

func orgPath(id int64) string {
	return fmt.Sprintf("/org/%d", id)
}

func fromAccountOrg(o account.Org) Org {
	org := Org{ID: o.ID, GUID: o.GUID, Name: o.Name, Default: o.Default, Active: true}
	if o.ParentOrg != nil {
		parent := fromAccountOrg(*o.ParentOrg)
		parent.Default = false
		org.ParentOrg = &parent
	}
	return org
}

func fromWire(wo wireOrg, known []account.Org) Org {
	org := Org{ID: wo.ID, GUID: wo.GUID, Name: wo.Name, Active: wo.Active, Region: wo.Region}
	if wo.ParentGUID != "" {
		parent := Org{GUID: wo.ParentGUID}
		for _, p := range known {
			if p.GUID == wo.ParentGUID {
				parent = Org{ID: p.ID, GUID: p.GUID, Name: p.Name}
				break
			}
		}
		org.ParentOrg = &parent
	}
	return org
}
