package tokenstore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/99designs/keyring"
	"github.com/gofrs/flock"
	gokeyring "github.com/zalando/go-keyring"
	"go.uber.org/zap"

	"github.com/telekom/acctl/pkg/account"
	"github.com/telekom/acctl/pkg/autherr"
)

const (
	fileDirPermissions = 0o700
	indexKey           = "index"
	recordPrefix       = "account-"
	lockRetryDelay     = 25 * time.Millisecond
	fileKeySecretUser  = "file-store-key"
)

// File stores each account as an encrypted JWE file under dir. The insertion
// order lives in a separate encrypted index entry guarded by a file lock.
type File struct {
	mu   sync.Mutex
	dir  string
	ring keyring.Keyring
	lock *flock.Flock
	log  *zap.SugaredLogger
}

// NewFile opens (creating if needed) an encrypted file store.
func NewFile(dir, password string, log *zap.SugaredLogger) (*File, error) {
	if log == nil {
		log = zap.S()
	}
	if password == "" {
		return nil, autherr.Config("file token store requires a password")
	}
	if err := os.MkdirAll(dir, fileDirPermissions); err != nil {
		return nil, autherr.Wrap(autherr.KindConfig, err, "failed to create token store directory %s", dir)
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName:      defaultServiceName,
		AllowedBackends:  []keyring.BackendType{keyring.FileBackend},
		FileDir:          dir,
		FilePasswordFunc: keyring.FixedStringPrompt(password),
	})
	if err != nil {
		return nil, autherr.Wrap(autherr.KindConfig, err, "failed to open file token store")
	}
	return &File{
		dir:  dir,
		ring: ring,
		lock: flock.New(filepath.Join(dir, ".lock")),
		log:  log,
	}, nil
}

func recordKey(name string) string {
	return recordPrefix + base64.RawURLEncoding.EncodeToString([]byte(name))
}

func (f *File) Get(ctx context.Context, name string) (*account.Account, error) {
	unlock, err := f.acquire(ctx, false)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return f.read(name)
}

func (f *File) read(name string) (*account.Account, error) {
	item, err := f.ring.Get(recordKey(name))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, decodeErr(name, err)
	}
	acct, err := account.Unmarshal(item.Data)
	if err != nil {
		return nil, decodeErr(name, err)
	}
	return acct, nil
}

func (f *File) Set(ctx context.Context, acct *account.Account) error {
	if err := validateForSet(acct); err != nil {
		return err
	}
	data, err := account.Marshal(acct)
	if err != nil {
		return decodeErr(acct.Name, err)
	}
	unlock, err := f.acquire(ctx, true)
	if err != nil {
		return err
	}
	defer unlock()

	if err := f.ring.Set(keyring.Item{Key: recordKey(acct.Name), Label: acct.Name, Data: data}); err != nil {
		return autherr.Wrap(autherr.KindConfig, err, "failed to write account %s", acct.Name)
	}
	index, err := f.readIndex()
	if err != nil {
		return err
	}
	if !slices.Contains(index, acct.Name) {
		return f.writeIndex(append(index, acct.Name))
	}
	return nil
}

func (f *File) Delete(ctx context.Context, name string) (bool, error) {
	unlock, err := f.acquire(ctx, true)
	if err != nil {
		return false, err
	}
	defer unlock()

	existed := true
	if err := f.ring.Remove(recordKey(name)); err != nil {
		if !errors.Is(err, keyring.ErrKeyNotFound) && !os.IsNotExist(err) {
			return false, autherr.Wrap(autherr.KindConfig, err, "failed to remove account %s", name)
		}
		existed = false
	}
	index, err := f.readIndex()
	if err != nil {
		return existed, err
	}
	if slices.Contains(index, name) {
		return existed, f.writeIndex(slices.DeleteFunc(index, func(n string) bool { return n == name }))
	}
	return existed, nil
}

func (f *File) List(ctx context.Context) ([]*account.Account, error) {
	unlock, err := f.acquire(ctx, false)
	if err != nil {
		return nil, err
	}
	defer unlock()

	index, err := f.readIndex()
	if err != nil {
		return nil, err
	}
	out := make([]*account.Account, 0, len(index))
	for _, name := range index {
		acct, err := f.read(name)
		if err != nil {
			return nil, err
		}
		if acct == nil {
			f.log.Warnw("Token store index references a missing record", "account", name)
			continue
		}
		out = append(out, acct)
	}
	return out, nil
}

func (f *File) readIndex() ([]string, error) {
	item, err := f.ring.Get(indexKey)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, decodeErr(indexKey, err)
	}
	var names []string
	if err := json.Unmarshal(item.Data, &names); err != nil {
		return nil, decodeErr(indexKey, err)
	}
	return names, nil
}

func (f *File) writeIndex(names []string) error {
	data, err := json.Marshal(names)
	if err != nil {
		return decodeErr(indexKey, err)
	}
	if err := f.ring.Set(keyring.Item{Key: indexKey, Data: data}); err != nil {
		return autherr.Wrap(autherr.KindConfig, err, "failed to write token store index")
	}
	return nil
}

func (f *File) acquire(ctx context.Context, exclusive bool) (func(), error) {
	// One flock handle per store: goroutines of this process serialize on mu
	// before taking the shared or exclusive file lock.
	f.mu.Lock()
	var (
		ok  bool
		err error
	)
	if exclusive {
		ok, err = f.lock.TryLockContext(ctx, lockRetryDelay)
	} else {
		ok, err = f.lock.TryRLockContext(ctx, lockRetryDelay)
	}
	if err != nil || !ok {
		f.mu.Unlock()
		if err == nil {
			err = ctx.Err()
		}
		return nil, autherr.Wrap(autherr.KindConfig, err, "failed to lock token store %s", f.dir)
	}
	return func() {
		if err := f.lock.Unlock(); err != nil {
			f.log.Warnw("Failed to release token store lock", "dir", f.dir, "error", err)
		}
		f.mu.Unlock()
	}, nil
}

// resolvePassword finds the file store secret: explicit option, environment,
// then a random secret generated once and kept in the OS keychain.
func resolvePassword(opts Options) (string, error) {
	if opts.Password != "" {
		return opts.Password, nil
	}
	if v := os.Getenv(opts.PasswordEnv); v != "" {
		return v, nil
	}
	secret, err := gokeyring.Get(opts.ServiceName, fileKeySecretUser)
	if err == nil && secret != "" {
		return secret, nil
	}
	if err != nil && !errors.Is(err, gokeyring.ErrNotFound) {
		return "", autherr.Wrap(autherr.KindConfig, err,
			"no password for the file token store: set %s or make the OS keychain available", opts.PasswordEnv)
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token store key: %w", err)
	}
	secret = hex.EncodeToString(buf)
	if err := gokeyring.Set(opts.ServiceName, fileKeySecretUser, secret); err != nil {
		return "", autherr.Wrap(autherr.KindConfig, err,
			"no password for the file token store: set %s or make the OS keychain available", opts.PasswordEnv)
	}
	return secret, nil
}
