// Package graph is the directory and mail collaborator: who the signed-in
// user is, their recent messages, and sending mail on their behalf.
package graph

import (
	"context"
	"errors"
	"time"
)

// ErrUnauthorized means the directory rejected the token.
var ErrUnauthorized = errors.New("directory rejected token")

// User is the profile of the token's owner.
type User struct {
	DisplayName       string `json:"displayName"`
	UserPrincipalName string `json:"userPrincipalName"`
	Mail              string `json:"mail,omitempty"`
}

// Message is one mailbox entry.
type Message struct {
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// OutgoingMessage is a plain text mail to one recipient.
type OutgoingMessage struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Directory is implemented by the Graph HTTP client and the in-memory
// directory.
type Directory interface {
	CurrentUser(ctx context.Context, token string) (User, error)
	// RecentMessages returns at most count messages, newest first.
	RecentMessages(ctx context.Context, token string, count int) ([]Message, error)
	SendMessage(ctx context.Context, token string, msg OutgoingMessage) error
}
