package tokenstore

import (
	"context"

	"github.com/telekom/acctl/pkg/account"
	"github.com/telekom/acctl/pkg/metrics"
)

type instrumented struct {
	backend string
	next    Store
}

// Instrument counts every operation of s under the given backend label.
func Instrument(backend string, s Store) Store {
	if _, ok := s.(*instrumented); ok {
		return s
	}
	return &instrumented{backend: backend, next: s}
}

// Unwrap returns the underlying backend.
func (i *instrumented) Unwrap() Store { return i.next }

func (i *instrumented) observe(op string, err error) {
	metrics.TokenStoreOps.WithLabelValues(i.backend, op, metrics.Result(err)).Inc()
}

func (i *instrumented) Get(ctx context.Context, name string) (*account.Account, error) {
	acct, err := i.next.Get(ctx, name)
	i.observe("get", err)
	return acct, err
}

func (i *instrumented) Set(ctx context.Context, acct *account.Account) error {
	err := i.next.Set(ctx, acct)
	i.observe("set", err)
	return err
}

func (i *instrumented) Delete(ctx context.Context, name string) (bool, error) {
	ok, err := i.next.Delete(ctx, name)
	i.observe("delete", err)
	return ok, err
}

func (i *instrumented) List(ctx context.Context) ([]*account.Account, error) {
	accts, err := i.next.List(ctx)
	i.observe("list", err)
	return accts, err
}
