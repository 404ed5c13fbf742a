package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"

	gokeyring "github.com/zalando/go-keyring"
	"go.uber.org/zap"

	"github.com/telekom/acctl/pkg/account"
	"github.com/telekom/acctl/pkg/autherr"
)

// keychainIndexUser names the entry that records insertion order, since the
// OS keychain APIs cannot enumerate a service's entries.
const keychainIndexUser = "__accounts__"

// Keychain stores each account as an OS keychain secret.
type Keychain struct {
	mu      sync.Mutex
	service string
	log     *zap.SugaredLogger
}

func NewKeychain(service string, log *zap.SugaredLogger) *Keychain {
	if log == nil {
		log = zap.S()
	}
	if service == "" {
		service = defaultServiceName
	}
	return &Keychain{service: service, log: log}
}

// keychainErr maps keychain failures. An unreachable secret service is
// reported as a network error since it is an out-of-process daemon.
func keychainErr(err error, format string, args ...any) error {
	return autherr.Wrap(autherr.KindNetwork, err, format, args...)
}

func (k *Keychain) Get(_ context.Context, name string) (*account.Account, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.read(name)
}

func (k *Keychain) read(name string) (*account.Account, error) {
	secret, err := gokeyring.Get(k.service, name)
	if errors.Is(err, gokeyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, keychainErr(err, "failed to read account %s from keychain", name)
	}
	acct, err := account.Unmarshal([]byte(secret))
	if err != nil {
		return nil, decodeErr(name, err)
	}
	return acct, nil
}

func (k *Keychain) Set(_ context.Context, acct *account.Account) error {
	if err := validateForSet(acct); err != nil {
		return err
	}
	data, err := account.Marshal(acct)
	if err != nil {
		return decodeErr(acct.Name, err)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := gokeyring.Set(k.service, acct.Name, string(data)); err != nil {
		return keychainErr(err, "failed to write account %s to keychain", acct.Name)
	}
	index, err := k.readIndex()
	if err != nil {
		return err
	}
	if !slices.Contains(index, acct.Name) {
		return k.writeIndex(append(index, acct.Name))
	}
	return nil
}

func (k *Keychain) Delete(_ context.Context, name string) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	existed := true
	if err := gokeyring.Delete(k.service, name); err != nil {
		if !errors.Is(err, gokeyring.ErrNotFound) {
			return false, keychainErr(err, "failed to delete account %s from keychain", name)
		}
		existed = false
	}
	index, err := k.readIndex()
	if err != nil {
		return existed, err
	}
	if slices.Contains(index, name) {
		return existed, k.writeIndex(slices.DeleteFunc(index, func(n string) bool { return n == name }))
	}
	return existed, nil
}

func (k *Keychain) List(_ context.Context) ([]*account.Account, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	index, err := k.readIndex()
	if err != nil {
		return nil, err
	}
	out := make([]*account.Account, 0, len(index))
	for _, name := range index {
		acct, err := k.read(name)
		if err != nil {
			return nil, err
		}
		if acct == nil {
			k.log.Warnw("Keychain index references a missing account", "account", name)
			continue
		}
		out = append(out, acct)
	}
	return out, nil
}

func (k *Keychain) readIndex() ([]string, error) {
	raw, err := gokeyring.Get(k.service, keychainIndexUser)
	if errors.Is(err, gokeyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, keychainErr(err, "failed to read keychain index")
	}
	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return nil, decodeErr(keychainIndexUser, err)
	}
	return names, nil
}

func (k *Keychain) writeIndex(names []string) error {
	if len(names) == 0 {
		if err := gokeyring.Delete(k.service, keychainIndexUser); err != nil && !errors.Is(err, gokeyring.ErrNotFound) {
			return keychainErr(err, "failed to clear keychain index")
		}
		return nil
	}
	data, err := json.Marshal(names)
	if err != nil {
		return decodeErr(keychainIndexUser, err)
	}
	if err := gokeyring.Set(k.service, keychainIndexUser, string(data)); err != nil {
		return keychainErr(err, "failed to write keychain index")
	}
	return nil
}
