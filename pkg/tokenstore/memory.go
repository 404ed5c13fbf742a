package tokenstore

import (
	"context"
	"slices"
	"sync"

	"github.com/telekom/acctl/pkg/account"
)

// Memory keeps records for the life of the process. Records are held encoded
// so callers never share memory with the store.
type Memory struct {
	mu      sync.RWMutex
	order   []string
	records map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{records: map[string][]byte{}}
}

func (m *Memory) Get(_ context.Context, name string) (*account.Account, error) {
	m.mu.RLock()
	data, ok := m.records[name]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	acct, err := account.Unmarshal(data)
	if err != nil {
		return nil, decodeErr(name, err)
	}
	return acct, nil
}

func (m *Memory) Set(_ context.Context, acct *account.Account) error {
	if err := validateForSet(acct); err != nil {
		return err
	}
	data, err := account.Marshal(acct)
	if err != nil {
		return decodeErr(acct.Name, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[acct.Name]; !exists {
		m.order = append(m.order, acct.Name)
	}
	m.records[acct.Name] = data
	return nil
}

func (m *Memory) Delete(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[name]; !ok {
		return false, nil
	}
	delete(m.records, name)
	m.order = slices.DeleteFunc(m.order, func(n string) bool { return n == name })
	return true, nil
}

func (m *Memory) List(_ context.Context) ([]*account.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*account.Account, 0, len(m.order))
	for _, name := range m.order {
		acct, err := account.Unmarshal(m.records[name])
		if err != nil {
			return nil, decodeErr(name, err)
		}
		out = append(out, acct)
	}
	return out, nil
}

// None persists nothing. Every login against it is ephemeral.
type None struct{}

func NewNone() None { return None{} }

func (None) Get(context.Context, string) (*account.Account, error) { return nil, nil }

func (None) Set(_ context.Context, acct *account.Account) error { return validateForSet(acct) }

func (None) Delete(context.Context, string) (bool, error) { return false, nil }

func (None) List(context.Context) ([]*account.Account, error) { return []*account.Account{}, nil }
