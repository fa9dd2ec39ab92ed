package watcher

import (
	"context"
	"time"
)

// RawMessage represents a raw email message fetched from the mailbox
type RawMessage struct {
	UID      uint32
	Subject  string
	From     string
	To       string
	Date     time.Time
	BodyText string
	BodyHTML string
}

// Conn is one live mailbox connection with the inbox selected read-write.
//
// The watcher owns the connection exclusively and serializes all command
// calls; implementations do not need to support overlapping commands.
type Conn interface {
	// SearchUnseenSince returns UIDs of unread messages received since t.
	SearchUnseenSince(ctx context.Context, t time.Time) ([]uint32, error)
	// Fetch retrieves the full content of one message by UID.
	Fetch(ctx context.Context, uid uint32) (*RawMessage, error)
	// MarkSeen flags the message as read.
	MarkSeen(ctx context.Context, uid uint32) error
	// Noop issues a liveness probe.
	Noop(ctx context.Context) error

	// SupportsIdle reports whether the server advertises IDLE.
	SupportsIdle() bool
	// Idle blocks in long-poll mode until stop is closed or the
	// connection fails. Must not run concurrently with other commands.
	Idle(stop <-chan struct{}) error

	// Notifications delivers a signal when the server reports new mail.
	Notifications() <-chan struct{}
	// Done delivers the terminal error when the connection is lost.
	Done() <-chan error

	Close() error
}

// Transport dials the mail server and produces ready-to-use connections
type Transport interface {
	Connect(ctx context.Context) (Conn, error)
}
