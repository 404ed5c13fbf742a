// Package tokenstore persists accounts keyed by name. Backends are plain
// keyed storage: they do no network I/O against the identity provider and
// apply no expiry or login rules.
//
// Concurrent writers in different processes resolve last-writer-wins. The
// file backend serializes its own index updates but offers no optimistic
// concurrency on records.
package tokenstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/telekom/acctl/pkg/account"
	"github.com/telekom/acctl/pkg/autherr"
)

// Store is the persistence contract the account manager drives.
type Store interface {
	// Get returns the account or nil, nil when it does not exist.
	Get(ctx context.Context, name string) (*account.Account, error)
	// Set creates or replaces the account under acct.Name.
	Set(ctx context.Context, acct *account.Account) error
	// Delete removes the account and reports whether it existed.
	Delete(ctx context.Context, name string) (bool, error)
	// List returns all accounts in insertion order.
	List(ctx context.Context) ([]*account.Account, error)
}

// Type selects a backend.
type Type string

const (
	TypeMemory   Type = "memory"
	TypeFile     Type = "file"
	TypeKeychain Type = "keychain"
	TypeSQLite   Type = "sqlite"
	TypeNone     Type = "none"
)

// Types lists the accepted backend selectors.
var Types = []Type{TypeMemory, TypeFile, TypeKeychain, TypeSQLite, TypeNone}

// ParseType normalizes a selector. Empty selects the file backend and "null"
// is accepted as an alias of none.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return TypeFile, nil
	case "null":
		return TypeNone, nil
	case TypeMemory, TypeFile, TypeKeychain, TypeSQLite, TypeNone:
		return t, nil
	default:
		return "", autherr.Config("invalid token store type %q, expected one of %s", s, joinTypes())
	}
}

func joinTypes() string {
	parts := make([]string, len(Types))
	for i, t := range Types {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}

// Options configures New.
type Options struct {
	Type Type
	// Dir is the directory for file and sqlite backends.
	Dir string
	// ServiceName namespaces keychain entries.
	ServiceName string
	// Password encrypts the file backend. When empty the PasswordEnv variable
	// is read, then a generated secret kept in the OS keychain.
	Password    string
	PasswordEnv string
	Logger      *zap.SugaredLogger
}

const (
	defaultServiceName = "acctl"
	defaultPasswordEnv = "ACCTL_TOKENSTORE_PASSWORD"
)

// DefaultDir returns the directory used for on-disk backends.
func DefaultDir() (string, error) {
	if dir := os.Getenv("ACCTL_HOME"); dir != "" {
		return filepath.Join(dir, "tokens"), nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", autherr.Wrap(autherr.KindConfig, err, "failed to resolve config directory")
	}
	return filepath.Join(base, "acctl", "tokens"), nil
}

// New builds the backend selected by opts.Type. Every backend is wrapped
// with operation metrics.
func New(opts Options) (Store, error) {
	log := opts.Logger
	if log == nil {
		log = zap.S()
	}
	if opts.ServiceName == "" {
		opts.ServiceName = defaultServiceName
	}
	if opts.PasswordEnv == "" {
		opts.PasswordEnv = defaultPasswordEnv
	}
	typ, err := ParseType(string(opts.Type))
	if err != nil {
		return nil, err
	}
	if (typ == TypeFile || typ == TypeSQLite) && opts.Dir == "" {
		if opts.Dir, err = DefaultDir(); err != nil {
			return nil, err
		}
	}

	var s Store
	switch typ {
	case TypeMemory:
		s = NewMemory()
	case TypeNone:
		s = NewNone()
	case TypeKeychain:
		s = NewKeychain(opts.ServiceName, log)
	case TypeFile:
		password, perr := resolvePassword(opts)
		if perr != nil {
			return nil, perr
		}
		s, err = NewFile(opts.Dir, password, log)
	case TypeSQLite:
		s, err = NewSQLite(filepath.Join(opts.Dir, "accounts.db"), log)
	}
	if err != nil {
		return nil, err
	}
	log.Debugw("Token store initialized", "type", typ, "dir", opts.Dir)
	return Instrument(string(typ), s), nil
}

func validateForSet(acct *account.Account) error {
	if err := acct.Validate(); err != nil {
		return autherr.Wrap(autherr.KindType, err, "invalid account")
	}
	return nil
}

func decodeErr(name string, err error) error {
	return autherr.Wrap(autherr.KindConfig, err, "token store record %q is unreadable", name)
}
