// Package account holds the persisted identity model: accounts, their
// credentials and the organizations they can act in.
package account

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SchemaVersion is written into every persisted record.
const SchemaVersion = 1

// Kind distinguishes interactive platform identities from automation.
type Kind string

const (
	KindPlatform Kind = "platform"
	KindService  Kind = "service"
)

func (k Kind) Valid() bool {
	switch k {
	case KindPlatform, KindService:
		return true
	default:
		return false
	}
}

// Tokens are the opaque bearer strings issued by the provider.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
}

// Expires holds absolute expiry instants. A zero value means unknown.
type Expires struct {
	Access  time.Time `json:"access"`
	Refresh time.Time `json:"refresh,omitzero"`
}

// Credential is the token material of an account and where it is valid.
type Credential struct {
	BaseURL  string  `json:"baseUrl"`
	ClientID string  `json:"clientId,omitempty"`
	Realm    string  `json:"realm,omitempty"`
	Tokens   Tokens  `json:"tokens"`
	Expires  Expires `json:"expires"`
}

// AccessExpired reports whether the access token can no longer be used at now.
// A credential without a known access expiry is treated as valid.
func (c Credential) AccessExpired(now time.Time) bool {
	if c.Tokens.AccessToken == "" {
		return true
	}
	if c.Expires.Access.IsZero() {
		return false
	}
	return !now.Before(c.Expires.Access)
}

// RefreshExpired reports whether a silent refresh is impossible at now.
func (c Credential) RefreshExpired(now time.Time) bool {
	if c.Tokens.RefreshToken == "" {
		return true
	}
	if c.Expires.Refresh.IsZero() {
		return false
	}
	return !now.Before(c.Expires.Refresh)
}

// Org is an organization reference as cached on an account.
type Org struct {
	ID        int64  `json:"org_id"`
	GUID      string `json:"guid"`
	Name      string `json:"name"`
	Default   bool   `json:"default"`
	ParentOrg *Org   `json:"parentOrg,omitempty"`
}

// User is the session profile the platform reports for an account.
type User struct {
	GUID      string `json:"guid,omitempty"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"firstname,omitempty"`
	LastName  string `json:"lastname,omitempty"`
}

// Account is a named identity and its credential.
type Account struct {
	Name          string     `json:"name"`
	Kind          Kind       `json:"kind"`
	Auth          Credential `json:"auth"`
	Org           *Org       `json:"org,omitempty"`
	Orgs          []Org      `json:"orgs,omitempty"`
	User          *User      `json:"user,omitempty"`
	SchemaVersion int        `json:"schemaVersion"`
}

// NameFor derives the account name for a subject under a client.
func NameFor(clientID, subject string) string {
	return clientID + ":" + subject
}

// SplitName returns the client id and subject of an account name.
func SplitName(name string) (clientID, subject string, ok bool) {
	return strings.Cut(name, ":")
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	if a.Org != nil {
		out.Org = cloneOrg(a.Org)
	}
	if a.Orgs != nil {
		out.Orgs = make([]Org, len(a.Orgs))
		for i := range a.Orgs {
			out.Orgs[i] = *cloneOrg(&a.Orgs[i])
		}
	}
	if a.User != nil {
		u := *a.User
		out.User = &u
	}
	return &out
}

func cloneOrg(o *Org) *Org {
	c := *o
	if o.ParentOrg != nil {
		c.ParentOrg = cloneOrg(o.ParentOrg)
	}
	return &c
}

// Validate checks the fields every persisted record needs.
func (a *Account) Validate() error {
	if a == nil {
		return fmt.Errorf("account is nil")
	}
	if a.Name == "" {
		return fmt.Errorf("account name is required")
	}
	if !a.Kind.Valid() {
		return fmt.Errorf("account %s has invalid kind %q", a.Name, a.Kind)
	}
	return nil
}

// Marshal encodes a record, stamping the current schema version.
func Marshal(a *Account) ([]byte, error) {
	rec := a.Clone()
	rec.SchemaVersion = SchemaVersion
	return json.Marshal(rec)
}

// Unmarshal decodes a record and rejects schema versions this build cannot read.
func Unmarshal(data []byte) (*Account, error) {
	var a Account
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode account record: %w", err)
	}
	if a.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("account %s uses schema version %d, newer than supported %d", a.Name, a.SchemaVersion, SchemaVersion)
	}
	if a.SchemaVersion == 0 {
		a.SchemaVersion = SchemaVersion
	}
	return &a, nil
}
