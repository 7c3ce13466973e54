// Package chatsync keeps a local chat feed in step with the backend's
// message collection: one bulk history load, then live insert events,
// with sends confirmed only through the live feed.
package chatsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/deploydeck/internal/backend"
	"github.com/vovakirdan/deploydeck/internal/log"
)

// DefaultHistoryLimit bounds the initial history page.
const DefaultHistoryLimit = 100

var (
	// ErrHistoryUnavailable marks a failed history load. The session
	// starts with an empty feed.
	ErrHistoryUnavailable = errors.New("chat history unavailable")
	// ErrSubscribeFailed marks a failed live subscription. The session
	// receives no updates.
	ErrSubscribeFailed = errors.New("live chat subscription failed")
	// ErrSendFailed marks a rejected send. The draft has been restored.
	ErrSendFailed = errors.New("message not sent")
	// ErrFeedDropped marks a live subscription that ended before
	// Teardown. The feed keeps what it has but receives nothing new.
	ErrFeedDropped = errors.New("live chat feed dropped")
)

// Notifier surfaces user-visible errors.
type Notifier interface {
	Notify(err error)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(err error)

// Notify calls f(err).
func (f NotifierFunc) Notify(err error) { f(err) }

// Config configures a Session.
type Config struct {
	// Scope is the conversation to follow.
	Scope string
	// HistoryLimit bounds the initial load; zero means DefaultHistoryLimit.
	HistoryLimit int
	// Notifier receives send failures and feed drops. Nil logs them instead.
	Notifier Notifier
	// OnAppend, if set, is called after a live message joins the feed.
	OnAppend func(Message)
	Logger   *zerolog.Logger
}

// Session is one chat view: it owns the feed, the pending draft and the
// live subscription.
type Session struct {
	ds       backend.DataService
	scope    string
	notifier Notifier
	onAppend func(Message)
	log      *zerolog.Logger

	mu      sync.Mutex
	feed    *Feed
	draft   string
	closed  bool
	dropped bool
	sub     backend.Subscription
	stop    chan struct{}
}

// Initialize loads up to HistoryLimit messages of cfg.Scope, oldest first,
// and subscribes to new inserts in that scope.
//
// The returned Session is always usable. A non-nil error joins non-fatal
// warnings wrapping ErrHistoryUnavailable and/or ErrSubscribeFailed.
func Initialize(ctx context.Context, ds backend.DataService, cfg Config) (*Session, error) {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	s := &Session{
		ds:       ds,
		scope:    cfg.Scope,
		notifier: cfg.Notifier,
		onAppend: cfg.OnAppend,
		log:      log.OrNop(cfg.Logger),
		feed:     NewFeed(),
		stop:     make(chan struct{}),
	}

	var warnings []error

	records, err := ds.Query(ctx, backend.CollectionMessages, backend.Query{
		Filter:  map[string]string{"scope": s.scope},
		OrderBy: backend.FieldCreatedAt,
		Limit:   cfg.HistoryLimit,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("scope", s.scope).Msg("chat history load failed")
		warnings = append(warnings, fmt.Errorf("%w: %w", ErrHistoryUnavailable, err))
	} else {
		s.loadHistory(records)
	}

	sub, err := ds.Subscribe(ctx, backend.CollectionMessages,
		backend.InsertsOnly(map[string]string{"scope": s.scope}),
		s.handleEvent,
	)
	if err != nil {
		s.log.Warn().Err(err).Str("scope", s.scope).Msg("chat subscription failed")
		warnings = append(warnings, fmt.Errorf("%w: %w", ErrSubscribeFailed, err))
	} else {
		s.mu.Lock()
		s.sub = sub
		s.mu.Unlock()
		go s.watch(sub)
	}

	s.log.Debug().Str("scope", s.scope).Int("history", s.Len()).Bool("live", sub != nil).Msg("chat session initialized")
	return s, errors.Join(warnings...)
}

func (s *Session) loadHistory(records []backend.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		m, err := MessageFromRecord(rec)
		if err != nil {
			s.log.Warn().Err(err).Msg("skipping malformed history record")
			continue
		}
		s.feed.Append(m)
	}
}

// watch marks the session as no longer live when sub ends on its own.
func (s *Session) watch(sub backend.Subscription) {
	select {
	case <-sub.Done():
	case <-s.stop:
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.dropped = true
	s.mu.Unlock()

	s.log.Warn().Str("scope", s.scope).Msg("chat feed dropped")
	s.notify(ErrFeedDropped)
}

func (s *Session) handleEvent(ev backend.Event) {
	if ev.Type != backend.EventInsert {
		return
	}
	m, err := MessageFromRecord(ev.Record)
	if err != nil {
		s.log.Warn().Err(err).Msg("dropping malformed message event")
		return
	}
	s.OnRemoteInsert(m)
}

// OnRemoteInsert appends m unless its ID is already in the feed or the
// session has been torn down. Messages are assumed to arrive in
// non-decreasing created_at order and are not re-sorted.
func (s *Session) OnRemoteInsert(m Message) {
	s.mu.Lock()
	if s.closed || !s.feed.Append(m) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if s.onAppend != nil {
		s.onAppend(m)
	}
}

// Send submits body as a new message from author. A body that is blank
// after trimming is ignored. The draft is cleared before the request and
// restored to body if it fails. The feed is only updated when the insert
// comes back through the live subscription.
func (s *Session) Send(ctx context.Context, author Author, body string) error {
	if strings.TrimSpace(body) == "" {
		return nil
	}

	s.mu.Lock()
	s.draft = ""
	s.mu.Unlock()

	_, err := s.ds.Insert(ctx, backend.CollectionMessages, backend.Record{
		"scope":     s.scope,
		"user_id":   author.ID,
		"user_name": author.Name,
		"text":      body,
	})
	if err == nil {
		return nil
	}

	s.mu.Lock()
	s.draft = body
	s.mu.Unlock()

	sendErr := fmt.Errorf("%w: %w", ErrSendFailed, err)
	s.notify(sendErr)
	return sendErr
}

// SendDraft sends the current draft.
func (s *Session) SendDraft(ctx context.Context, author Author) error {
	return s.Send(ctx, author, s.Draft())
}

func (s *Session) notify(err error) {
	if s.notifier != nil {
		s.notifier.Notify(err)
		return
	}
	s.log.Error().Err(err).Str("scope", s.scope).Msg("chat error")
}

// Draft returns the pending input.
func (s *Session) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// SetDraft replaces the pending input.
func (s *Session) SetDraft(text string) {
	s.mu.Lock()
	s.draft = text
	s.mu.Unlock()
}

// Messages returns a copy of the feed.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feed.Messages()
}

// Len returns the number of messages in the feed.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feed.Len()
}

// Scope returns the conversation this session follows.
func (s *Session) Scope() string {
	return s.scope
}

// Live reports whether the session holds a subscription that is still
// delivering.
func (s *Session) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub != nil && !s.closed && !s.dropped
}

// Teardown releases the live subscription. Events arriving afterwards
// are ignored. It is safe to call more than once.
func (s *Session) Teardown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	sub := s.sub
	s.sub = nil
	if s.stop != nil {
		close(s.stop)
	}
	s.mu.Unlock()

	if sub == nil {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}
	return nil
}
