package watcher

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
)

// IMAPConfig configuration for the IMAP transport
type IMAPConfig struct {
	Email       string
	Password    string
	Addr        string // host:port
	TLS         bool
	DialTimeout time.Duration
}

// IMAPTransport dials real IMAP servers
type IMAPTransport struct {
	cfg    IMAPConfig
	logger *slog.Logger
}

// NewIMAPTransport creates a new IMAP transport
func NewIMAPTransport(cfg IMAPConfig, logger *slog.Logger) *IMAPTransport {
	return &IMAPTransport{
		cfg:    cfg,
		logger: logger.With("email", cfg.Email),
	}
}

// Connect dials the server, logs in and selects INBOX read-write
func (t *IMAPTransport) Connect(ctx context.Context) (Conn, error) {
	t.logger.Info("connecting to IMAP server", "server", t.cfg.Addr)

	timeout := t.cfg.DialTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	dialer := &net.Dialer{Timeout: timeout}

	var cl *client.Client
	if t.cfg.TLS {
		conn, err := tls.DialWithDialer(dialer, "tcp", t.cfg.Addr, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to connect: %w", err)
		}
		c, err := client.New(conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create IMAP client: %w", err)
		}
		cl = c
	} else {
		conn, err := dialer.Dial("tcp", t.cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("failed to connect: %w", err)
		}
		c, err := client.New(conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create IMAP client: %w", err)
		}
		cl = c
	}

	if err := cl.Login(t.cfg.Email, t.cfg.Password); err != nil {
		cl.Logout()
		return nil, fmt.Errorf("failed to login: %w", err)
	}

	// Read-write select: marking messages read needs it
	if _, err := cl.Select("INBOX", false); err != nil {
		cl.Logout()
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}

	supportsIdle, err := cl.Support("IDLE")
	if err != nil {
		t.logger.Warn("failed to check IDLE capability", "error", err)
		supportsIdle = false
	}

	c := &imapConn{
		cl:            cl,
		logger:        t.logger,
		supportsIdle:  supportsIdle,
		notifications: make(chan struct{}, 1),
		done:          make(chan error, 1),
		pumpStop:      make(chan struct{}),
	}

	updates := make(chan client.Update, 16)
	cl.Updates = updates
	go c.pump(updates)

	t.logger.Info("connected to IMAP server", "idle", supportsIdle)
	return c, nil
}

type imapConn struct {
	cl            *client.Client
	logger        *slog.Logger
	supportsIdle  bool
	notifications chan struct{}
	done          chan error
	pumpStop      chan struct{}
}

// pump forwards server updates to the notification channel and reports the
// connection's end of life.
func (c *imapConn) pump(updates <-chan client.Update) {
	for {
		select {
		case <-c.pumpStop:
			return
		case <-c.cl.LoggedOut():
			select {
			case c.done <- fmt.Errorf("connection closed by server"):
			default:
			}
			return
		case upd := <-updates:
			switch upd.(type) {
			case *client.MailboxUpdate, *client.MessageUpdate:
				// Coalesce: one pending signal is enough
				select {
				case c.notifications <- struct{}{}:
				default:
				}
			}
		}
	}
}

func (c *imapConn) SearchUnseenSince(ctx context.Context, t time.Time) ([]uint32, error) {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	criteria.Since = t

	uids, err := c.cl.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	return uids, nil
}

func (c *imapConn) Fetch(ctx context.Context, uid uint32) (*RawMessage, error) {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	// Peek: reading a body must not flag the message seen; that only
	// happens explicitly after a code is extracted and stored
	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	fetchDone := make(chan error, 1)
	go func() {
		fetchDone <- c.cl.UidFetch(seqSet, items, messages)
	}()

	var raw *RawMessage
	for msg := range messages {
		raw = c.parseMessage(msg, section)
	}
	if err := <-fetchDone; err != nil {
		return nil, fmt.Errorf("failed to fetch: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("message %d not found", uid)
	}
	return raw, nil
}

// parseMessage decodes an IMAP message into a RawMessage
func (c *imapConn) parseMessage(msg *imap.Message, section *imap.BodySectionName) *RawMessage {
	raw := &RawMessage{UID: msg.Uid}

	if msg.Envelope != nil {
		raw.Subject = msg.Envelope.Subject
		raw.Date = msg.Envelope.Date
		if len(msg.Envelope.From) > 0 {
			raw.From = msg.Envelope.From[0].Address()
		}
		if len(msg.Envelope.To) > 0 {
			raw.To = msg.Envelope.To[0].Address()
		}
	}

	bodyReader := msg.GetBody(section)
	if bodyReader == nil {
		return raw
	}

	mr, err := mail.CreateReader(bodyReader)
	if err != nil {
		c.logger.Warn("failed to create mail reader", "uid", msg.Uid, "error", err)
		return raw
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			c.logger.Warn("failed to read part", "uid", msg.Uid, "error", err)
			break
		}

		if h, ok := part.Header.(*mail.InlineHeader); ok {
			ct, _, _ := h.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			if strings.HasPrefix(ct, "text/html") {
				raw.BodyHTML = string(body)
			} else if strings.HasPrefix(ct, "text/plain") {
				raw.BodyText = string(body)
			}
		}
	}

	return raw
}

func (c *imapConn) MarkSeen(ctx context.Context, uid uint32) error {
	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.SeenFlag}

	if err := c.cl.UidStore(seqSet, item, flags, nil); err != nil {
		return fmt.Errorf("failed to mark as read: %w", err)
	}
	return nil
}

func (c *imapConn) Noop(ctx context.Context) error {
	if err := c.cl.Noop(); err != nil {
		return fmt.Errorf("noop failed: %w", err)
	}
	return nil
}

func (c *imapConn) SupportsIdle() bool {
	return c.supportsIdle
}

func (c *imapConn) Idle(stop <-chan struct{}) error {
	return c.cl.Idle(stop, nil)
}

func (c *imapConn) Notifications() <-chan struct{} {
	return c.notifications
}

func (c *imapConn) Done() <-chan error {
	return c.done
}

// Close releases the connection. Logout can hang on a dead link, so it runs
// with a deadline and the connection is terminated when it misses it.
func (c *imapConn) Close() error {
	close(c.pumpStop)

	logoutDone := make(chan struct{})
	go func() {
		c.cl.Logout()
		close(logoutDone)
	}()
	select {
	case <-logoutDone:
	case <-time.After(2 * time.Second):
		c.cl.Terminate()
	}
	return nil
}
