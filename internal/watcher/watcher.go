package watcher

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mixelka/codeinbox/internal/parser"
	"github.com/mixelka/codeinbox/pkg/models"
)

// State of the mailbox connection
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateTerminated   State = "terminated"
)

// Store is the persistence surface the watcher writes to
type Store interface {
	InsertMessage(ctx context.Context, msg *models.Message) (bool, error)
	InsertCode(ctx context.Context, messageID, code string) (int64, error)
}

// Config watcher configuration. Zero durations fall back to defaults.
type Config struct {
	Account           string        // watched mailbox address
	BaseDelay         time.Duration // reconnect backoff base (default 5s)
	CapDelay          time.Duration // reconnect backoff cap (default 60s)
	MaxAttempts       int           // retry budget before terminating (default 10)
	KeepAliveInterval time.Duration // liveness check period (default 2m)
	SearchWindow      time.Duration // unread search lookback (default 5m)
}

func (c Config) withDefaults() Config {
	if c.BaseDelay == 0 {
		c.BaseDelay = 5 * time.Second
	}
	if c.CapDelay == 0 {
		c.CapDelay = 60 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 10
	}
	if c.KeepAliveInterval == 0 {
		c.KeepAliveInterval = 2 * time.Minute
	}
	if c.SearchWindow == 0 {
		c.SearchWindow = 5 * time.Minute
	}
	return c
}

// Status is a point-in-time snapshot of the connection session
type Status struct {
	State        State  `json:"state"`
	Email        string `json:"email"`
	Attempts     int    `json:"retry_attempts"`
	Reconnecting bool   `json:"reconnecting"`
}

type eventKind int

const (
	evConnected eventKind = iota
	evConnectFailed
	evConnLost
	evNewMail
	evKeepAlive
	evRetry
)

type event struct {
	kind eventKind
	gen  uint64 // session generation the event belongs to
	conn Conn
	err  error
}

// Watcher owns one mailbox connection and its ingestion pipeline.
//
// All session state is transitioned by a single event loop; helper goroutines
// (dialing, IDLE, keep-alive ticker, notification pump) only post events. A
// generation counter invalidates events from torn-down sessions, so a timer
// firing against a dead connection is a no-op rather than an error.
type Watcher struct {
	cfg       Config
	transport Transport
	store     Store
	extractor *parser.Extractor
	html      *parser.HTMLParser
	logger    *slog.Logger

	events chan event

	mu           sync.Mutex
	state        State
	attempts     int
	reconnecting bool

	// Loop-owned session state
	gen           uint64
	conn          Conn
	idleStop      chan struct{}
	idleDone      chan error
	keepAliveStop chan struct{}
	pumpStop      chan struct{}
	retryTimer    *time.Timer
}

// New creates a watcher with injected transport and store
func New(cfg Config, transport Transport, store Store, logger *slog.Logger) *Watcher {
	return &Watcher{
		cfg:       cfg.withDefaults(),
		transport: transport,
		store:     store,
		extractor: parser.NewExtractor(),
		html:      parser.NewHTMLParser(),
		logger:    logger.With("component", "watcher"),
		events:    make(chan event, 64),
		state:     StateDisconnected,
	}
}

// Status returns a snapshot of the current session
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Status{
		State:        w.state,
		Email:        w.cfg.Account,
		Attempts:     w.attempts,
		Reconnecting: w.reconnecting,
	}
}

// Run drives the connection state machine until ctx is cancelled. It releases
// the connection and cancels all pending timers before returning.
func (w *Watcher) Run(ctx context.Context) {
	w.logger.Info("starting mailbox watcher", "account", w.cfg.Account)
	w.startConnect(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("stopping mailbox watcher")
			w.teardownSession()
			w.cancelRetry()
			// A terminated watcher keeps reporting its persistent fault
			if w.state != StateTerminated {
				w.setState(StateDisconnected)
			}
			return
		case ev := <-w.events:
			w.handle(ctx, ev)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case evConnected:
		if ev.gen != w.gen || w.state != StateConnecting {
			// A stale dial won the race against a teardown
			ev.conn.Close()
			return
		}
		w.startSession(ctx, ev.conn)

	case evConnectFailed:
		if ev.gen != w.gen || w.state != StateConnecting {
			return
		}
		w.logger.Warn("connection attempt failed", "error", ev.err)
		w.setState(StateDisconnected)
		w.scheduleReconnect()

	case evConnLost:
		if ev.gen != w.gen || w.state != StateConnected {
			return
		}
		w.logger.Warn("connection lost", "error", ev.err)
		w.teardownSession()
		w.setState(StateDisconnected)
		w.scheduleReconnect()

	case evNewMail:
		if ev.gen != w.gen || w.state != StateConnected {
			return
		}
		w.ingest(ctx)

	case evKeepAlive:
		if ev.gen != w.gen || w.state != StateConnected {
			return
		}
		w.keepAlive(ctx)

	case evRetry:
		if w.state != StateDisconnected {
			return
		}
		w.setReconnecting(false)
		w.startConnect(ctx)
	}
}

// startConnect transitions to connecting and dials in the background
func (w *Watcher) startConnect(ctx context.Context) {
	w.gen++
	gen := w.gen
	w.setState(StateConnecting)

	go func() {
		conn, err := w.transport.Connect(ctx)
		if err != nil {
			w.events <- event{kind: evConnectFailed, gen: gen, err: err}
			return
		}
		w.events <- event{kind: evConnected, gen: gen, conn: conn}
	}()
}

// startSession installs a freshly connected session: resets the retry budget,
// starts the keep-alive timer, the notification pump and IDLE, then sweeps for
// mail that arrived while we were away.
func (w *Watcher) startSession(ctx context.Context, conn Conn) {
	w.conn = conn
	w.setState(StateConnected)
	w.resetAttempts()

	gen := w.gen

	w.keepAliveStop = make(chan struct{})
	go func(stop chan struct{}) {
		ticker := time.NewTicker(w.cfg.KeepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				w.events <- event{kind: evKeepAlive, gen: gen}
			}
		}
	}(w.keepAliveStop)

	w.pumpStop = make(chan struct{})
	go func(stop chan struct{}, conn Conn) {
		for {
			select {
			case <-stop:
				return
			case <-conn.Notifications():
				w.events <- event{kind: evNewMail, gen: gen}
			case err := <-conn.Done():
				w.events <- event{kind: evConnLost, gen: gen, err: err}
				return
			}
		}
	}(w.pumpStop, conn)

	// The initial sweep picks up mail that arrived while disconnected;
	// its deferred restart leaves IDLE running afterwards.
	w.ingest(ctx)
}

// startIdle begins a long-poll session when the server supports it
func (w *Watcher) startIdle() {
	if w.conn == nil || !w.conn.SupportsIdle() {
		return
	}

	gen := w.gen
	w.idleStop = make(chan struct{})
	w.idleDone = make(chan error, 1)
	go func(conn Conn, stop chan struct{}, done chan error) {
		err := conn.Idle(stop)
		done <- err
		if err != nil {
			w.events <- event{kind: evConnLost, gen: gen, err: err}
		}
	}(w.conn, w.idleStop, w.idleDone)
}

// stopIdle ends the long-poll session and waits for it to release the
// connection, so no command can overlap it.
func (w *Watcher) stopIdle() {
	if w.idleStop == nil {
		return
	}
	close(w.idleStop)
	<-w.idleDone
	w.idleStop = nil
	w.idleDone = nil
}

func (w *Watcher) idleActive() bool {
	return w.idleStop != nil
}

// keepAlive checks liveness. While IDLE holds the connection open the server
// is already long-polling and the tick is purely observational; otherwise a
// NOOP probe is issued and its failure counts as a connection fault.
func (w *Watcher) keepAlive(ctx context.Context) {
	if w.idleActive() {
		w.logger.Debug("keep-alive tick", "idle", true)
		return
	}

	if err := w.conn.Noop(ctx); err != nil {
		w.logger.Warn("liveness probe failed", "error", err)
		w.teardownSession()
		w.setState(StateDisconnected)
		w.scheduleReconnect()
	}
}

// ingest searches for unread mail in the lookback window, stores the newest
// message and dispenses its code. Every step logs and skips on failure: a
// malformed message or a failed read-mark must not break the listening loop.
func (w *Watcher) ingest(ctx context.Context) {
	if w.state != StateConnected || w.conn == nil {
		return
	}

	w.stopIdle()
	defer w.startIdle()

	since := time.Now().Add(-w.cfg.SearchWindow)
	uids, err := w.conn.SearchUnseenSince(ctx, since)
	if err != nil {
		w.logger.Error("failed to search unread messages", "error", err)
		return
	}
	if len(uids) == 0 {
		return
	}

	// Most recently numbered message wins
	uid := uids[0]
	for _, u := range uids {
		if u > uid {
			uid = u
		}
	}

	raw, err := w.conn.Fetch(ctx, uid)
	if err != nil {
		w.logger.Error("failed to fetch message", "uid", uid, "error", err)
		return
	}

	// IMAP SINCE is day-granular; enforce the window on the envelope date.
	// Messages without a date pass through.
	if !raw.Date.IsZero() && raw.Date.Before(since) {
		w.logger.Debug("message outside search window", "uid", uid)
		return
	}

	msg := w.decode(raw)
	inserted, err := w.store.InsertMessage(ctx, msg)
	if err != nil {
		w.logger.Error("failed to store message", "uid", uid, "error", err)
		return
	}
	if !inserted {
		w.logger.Debug("message already ingested", "uid", uid)
		return
	}
	w.logger.Info("ingested message", "uid", uid, "from", msg.FromAddr, "subject", msg.Subject)

	code, ok := w.extractor.Extract(msg.BodyText, msg.Subject)
	if !ok {
		w.logger.Debug("no code detected", "uid", uid)
		return
	}

	if _, err := w.store.InsertCode(ctx, msg.ID, code); err != nil {
		w.logger.Error("failed to store code", "uid", uid, "error", err)
		return
	}
	w.logger.Info("detected verification code", "uid", uid, "from", msg.FromAddr)

	if err := w.conn.MarkSeen(ctx, uid); err != nil {
		w.logger.Warn("failed to mark message as read", "uid", uid, "error", err)
	}
}

// decode converts a raw fetched message into a storable Message
func (w *Watcher) decode(raw *RawMessage) *models.Message {
	bodyText := raw.BodyText
	if strings.TrimSpace(bodyText) == "" && raw.BodyHTML != "" {
		text, err := w.html.Parse(raw.BodyHTML)
		if err != nil {
			w.logger.Warn("failed to parse HTML body", "uid", raw.UID, "error", err)
		} else {
			bodyText = text
		}
	}

	return &models.Message{
		ID:         uuid.NewString(),
		Account:    w.cfg.Account,
		Subject:    raw.Subject,
		FromAddr:   raw.From,
		ToAddr:     raw.To,
		BodyText:   bodyText,
		UID:        raw.UID,
		ReceivedAt: raw.Date,
	}
}

// scheduleReconnect arms the retry timer, or terminates the watcher once the
// retry budget is spent. Scheduling is idempotent: a pending timer is never
// stacked with another one.
func (w *Watcher) scheduleReconnect() {
	w.mu.Lock()
	if w.reconnecting {
		w.mu.Unlock()
		return
	}
	if w.attempts >= w.cfg.MaxAttempts {
		w.state = StateTerminated
		w.mu.Unlock()
		w.logger.Error("retry budget exhausted, watcher terminated", "attempts", w.cfg.MaxAttempts)
		return
	}
	w.attempts++
	attempt := w.attempts
	w.reconnecting = true
	w.mu.Unlock()

	delay := backoffDelay(attempt, w.cfg.BaseDelay, w.cfg.CapDelay)
	w.logger.Info("scheduling reconnect", "attempt", attempt, "delay", delay)
	w.retryTimer = time.AfterFunc(delay, func() {
		w.events <- event{kind: evRetry}
	})
}

// backoffDelay returns min(base*attempt, limit)
func backoffDelay(attempt int, base, limit time.Duration) time.Duration {
	d := base * time.Duration(attempt)
	if d > limit {
		d = limit
	}
	return d
}

// teardownSession cancels all session timers and goroutines and releases the
// connection. Events still in flight from the old session are invalidated by
// bumping the generation counter.
func (w *Watcher) teardownSession() {
	w.stopIdle()
	if w.keepAliveStop != nil {
		close(w.keepAliveStop)
		w.keepAliveStop = nil
	}
	if w.pumpStop != nil {
		close(w.pumpStop)
		w.pumpStop = nil
	}
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.gen++
}

func (w *Watcher) cancelRetry() {
	if w.retryTimer != nil {
		w.retryTimer.Stop()
		w.retryTimer = nil
	}
	w.setReconnecting(false)
}

func (w *Watcher) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *Watcher) setReconnecting(v bool) {
	w.mu.Lock()
	w.reconnecting = v
	w.mu.Unlock()
}

func (w *Watcher) resetAttempts() {
	w.mu.Lock()
	w.attempts = 0
	w.mu.Unlock()
}
