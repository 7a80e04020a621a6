package graph

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rmax-ai/acebot/pkg/identity"
)

// Memory is an in-process directory keyed by user principal name. Tokens are
// read as JWTs, so it pairs with identity.DevProvider.
type Memory struct {
	mu        sync.Mutex
	now       func() time.Time
	users     map[string]User
	mailboxes map[string][]Message
}

// NewMemory creates an empty directory.
func NewMemory() *Memory {
	return &Memory{
		now:       time.Now,
		users:     make(map[string]User),
		mailboxes: make(map[string][]Message),
	}
}

// Deliver puts a message into upn's mailbox.
func (m *Memory) Deliver(upn string, msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mailboxes[upn] = append(m.mailboxes[upn], msg)
}

// AddUser registers a profile. Unknown token owners get a profile derived
// from their claims.
func (m *Memory) AddUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.UserPrincipalName] = u
}

func (m *Memory) owner(token string) (User, error) {
	p, err := identity.ParseClaims(token)
	if err != nil || p.UPN == "" {
		return User{}, ErrUnauthorized
	}
	if u, ok := m.users[p.UPN]; ok {
		return u, nil
	}
	return User{DisplayName: p.Name, UserPrincipalName: p.UPN, Mail: p.UPN}, nil
}

func (m *Memory) CurrentUser(ctx context.Context, token string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owner(token)
}

func (m *Memory) RecentMessages(ctx context.Context, token string, count int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.owner(token)
	if err != nil {
		return nil, err
	}
	box := append([]Message(nil), m.mailboxes[u.UserPrincipalName]...)
	sort.SliceStable(box, func(i, j int) bool { return box[i].ReceivedAt.After(box[j].ReceivedAt) })
	if count > 0 && len(box) > count {
		box = box[:count]
	}
	return box, nil
}

func (m *Memory) SendMessage(ctx context.Context, token string, msg OutgoingMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.To == "" {
		return fmt.Errorf("send mail: empty recipient")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, err := m.owner(token)
	if err != nil {
		return err
	}
	from := u.DisplayName
	if from == "" {
		from = u.UserPrincipalName
	}
	m.mailboxes[msg.To] = append(m.mailboxes[msg.To], Message{From: from, Subject: msg.Subject, ReceivedAt: m.now()})
	return nil
}
