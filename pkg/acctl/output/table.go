package output

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/telekom/acctl/pkg/account"
	"github.com/telekom/acctl/pkg/discovery"
	"github.com/telekom/acctl/pkg/platform"
)

// AccountView is an account with its tokens left out.
type AccountView struct {
	Name           string    `json:"name" yaml:"name"`
	Kind           string    `json:"kind" yaml:"kind"`
	BaseURL        string    `json:"baseUrl" yaml:"baseUrl"`
	ClientID       string    `json:"clientId,omitempty" yaml:"clientId,omitempty"`
	Realm          string    `json:"realm,omitempty" yaml:"realm,omitempty"`
	Org            string    `json:"org,omitempty" yaml:"org,omitempty"`
	OrgID          int64     `json:"orgId,omitempty" yaml:"orgId,omitempty"`
	User           string    `json:"user,omitempty" yaml:"user,omitempty"`
	AccessExpires  time.Time `json:"accessExpires" yaml:"accessExpires"`
	RefreshExpires time.Time `json:"refreshExpires,omitzero" yaml:"refreshExpires,omitempty"`
	Active         bool      `json:"active" yaml:"active"`
}

// NewAccountView summarizes acct. Active reports whether the account can
// still be used at now without a new login.
func NewAccountView(acct *account.Account, now time.Time) AccountView {
	v := AccountView{
		Name:           acct.Name,
		Kind:           string(acct.Kind),
		BaseURL:        acct.Auth.BaseURL,
		ClientID:       acct.Auth.ClientID,
		Realm:          acct.Auth.Realm,
		AccessExpires:  acct.Auth.Expires.Access,
		RefreshExpires: acct.Auth.Expires.Refresh,
		Active:         !acct.Auth.AccessExpired(now) || !acct.Auth.RefreshExpired(now),
	}
	if acct.Org != nil {
		v.Org = acct.Org.Name
		v.OrgID = acct.Org.ID
	}
	if acct.User != nil {
		v.User = acct.User.Email
	}
	return v
}

// NewAccountViews summarizes accounts.
func NewAccountViews(accounts []*account.Account, now time.Time) []AccountView {
	views := make([]AccountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, NewAccountView(a, now))
	}
	return views
}

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
}

func WriteAccountTable(w io.Writer, accounts []AccountView) {
	tw := newTabWriter(w)
	_, _ = fmt.Fprintln(tw, "ACCOUNT\tKIND\tORG\tREALM\tEXPIRES\tSTATUS")
	for _, a := range accounts {
		status := "expired"
		if a.Active {
			status = "active"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", a.Name, a.Kind, orDash(a.Org), orDash(a.Realm), formatTime(a.AccessExpires), status)
	}
	_ = tw.Flush()
}

func WriteOrgTable(w io.Writer, orgs []platform.Org) {
	tw := newTabWriter(w)
	_, _ = fmt.Fprintln(tw, "ORGANIZATION\tGUID\tORG ID\tREGION\tDEFAULT")
	for _, o := range orgs {
		def := ""
		if o.Default {
			def = "*"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", o.Name, o.GUID, o.ID, orDash(o.Region), def)
	}
	_ = tw.Flush()
}

// WriteOrgDetails prints one org as key/value rows followed by its children.
func WriteOrgDetails(w io.Writer, org *platform.Org) {
	tw := newTabWriter(w)
	_, _ = fmt.Fprintf(tw, "ORGANIZATION:\t%s\n", org.Name)
	_, _ = fmt.Fprintf(tw, "ORG ID:\t%d\n", org.ID)
	_, _ = fmt.Fprintf(tw, "GUID:\t%s\n", org.GUID)
	_, _ = fmt.Fprintf(tw, "REGION:\t%s\n", orDash(org.Region))
	_, _ = fmt.Fprintf(tw, "ACTIVE:\t%t\n", org.Active)
	if org.ParentOrg != nil {
		_, _ = fmt.Fprintf(tw, "PARENT ORG:\t%s (%s)\n", org.ParentOrg.Name, org.ParentOrg.GUID)
	}
	_ = tw.Flush()
	if len(org.Children) > 0 {
		_, _ = fmt.Fprintln(w)
		WriteOrgTable(w, org.Children)
	}
}

func WriteEnvironmentTable(w io.Writer, envs []platform.Environment) {
	tw := newTabWriter(w)
	_, _ = fmt.Fprintln(tw, "ENVIRONMENT\tPRODUCTION")
	for _, e := range envs {
		_, _ = fmt.Fprintf(tw, "%s\t%t\n", e.Name, e.IsProduction)
	}
	_ = tw.Flush()
}

func WriteActivityTable(w io.Writer, a *platform.Activity) {
	_, _ = fmt.Fprintf(w, "Activity for %s from %s to %s\n\n", a.Org.Name, formatDate(a.From), formatDate(a.To))
	if len(a.Events) == 0 {
		_, _ = fmt.Fprintln(w, "No activity found")
		return
	}
	tw := newTabWriter(w)
	_, _ = fmt.Fprintln(tw, "DATE\tEVENT\tMESSAGE")
	for _, e := range a.Events {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", formatTime(e.TS), e.Event, e.Message)
	}
	_ = tw.Flush()
}

func WriteUsageTable(w io.Writer, u *platform.Usage) {
	_, _ = fmt.Fprintf(w, "Usage for %s from %s to %s\n\n", u.Org.Name, formatDate(u.From), formatDate(u.To))
	tw := newTabWriter(w)
	_, _ = fmt.Fprintln(tw, "PRODUCT\tMETRIC\tVALUE\tQUOTA\tUNIT")
	for _, product := range sortedKeys(u.Usage) {
		metrics := u.Usage[product]
		for _, key := range sortedKeys(metrics) {
			m := metrics[key]
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%g\t%g\t%s\n", product, m.Name, m.Value, m.Quota, m.Unit)
		}
	}
	_ = tw.Flush()
}

func WriteUserTable(w io.Writer, users []platform.OrgUser) {
	tw := newTabWriter(w)
	_, _ = fmt.Fprintln(tw, "GUID\tEMAIL\tNAME\tROLES\tPRIMARY")
	for _, u := range users {
		name := strings.TrimSpace(u.FirstName + " " + u.LastName)
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", u.GUID, u.Email, orDash(name), strings.Join(u.Roles, ","), u.Primary)
	}
	_ = tw.Flush()
}

func WriteRoleTable(w io.Writer, roles []platform.Role) {
	tw := newTabWriter(w)
	_, _ = fmt.Fprintln(tw, "ROLE\tNAME\tDEFAULT\tORG\tTEAM")
	for _, r := range roles {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%t\t%t\t%t\n", r.ID, r.Name, r.Default, r.Org, r.Team)
	}
	_ = tw.Flush()
}

func WriteServerInfo(w io.Writer, info *discovery.ServerInfo) {
	tw := newTabWriter(w)
	_, _ = fmt.Fprintf(tw, "ISSUER:\t%s\n", info.Issuer)
	_, _ = fmt.Fprintf(tw, "AUTHORIZATION:\t%s\n", info.AuthorizationEndpoint)
	_, _ = fmt.Fprintf(tw, "TOKEN:\t%s\n", info.TokenEndpoint)
	_, _ = fmt.Fprintf(tw, "REVOCATION:\t%s\n", orDash(info.RevocationEndpoint))
	_, _ = fmt.Fprintf(tw, "USERINFO:\t%s\n", orDash(info.UserInfoEndpoint))
	_, _ = fmt.Fprintf(tw, "END SESSION:\t%s\n", orDash(info.EndSessionEndpoint))
	_, _ = fmt.Fprintf(tw, "PKCE:\t%t\n", info.PKCESupported)
	_ = tw.Flush()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}
