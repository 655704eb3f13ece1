package session

import (
	"sync"

	"speechbridge/internal/domain"
)

// Mailbox holds at most one undelivered result. Put overwrites, Take drains.
type Mailbox struct {
	mu     sync.Mutex
	result *domain.Result
}

func (m *Mailbox) Put(r domain.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.result = &r
}

func (m *Mailbox) Take() *domain.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.result
	m.result = nil
	return r
}
