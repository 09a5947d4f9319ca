// Package subscription owns one channel's cursor ("bookmark") and the
// Idle/Active/Cancelled state machine governing when that cursor may
// advance. A Subscription never touches the network or the queue
// directly; it drives an eventrecord.Render + queue.Enqueue sequence
// through a Handler and only advances its in-memory cursor token once
// that sequence reports success.
package subscription

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// State is a subscription's lifecycle stage.
type State int

const (
	Idle State = iota
	Active
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Active:
		return "Active"
	case Cancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// ErrInvalidTransition is returned by TransitionTo for any transition not
// in the Idle→Active→Cancelled state graph.
var ErrInvalidTransition = errors.New("subscription: invalid state transition")

var validTransitions = map[State][]State{
	Idle:      {Active},
	Active:    {Cancelled},
	Cancelled: {},
}

// CursorStore persists an opaque bookmark token per channel, the
// External Interfaces §6 "Config Loader" bookmark sinks.
type CursorStore interface {
	ReadBookmark(channel string) (string, error)
	WriteBookmark(channel, token string) error
}

// Handler converts one delivered event into a queue-ready record and
// reports whether it was accepted. It is the seam to internal/eventrecord
// plus internal/queue without this package importing either directly,
// keeping the cursor state machine independent of record format.
type Handler func(eventXML []byte) (accepted bool)

// Subscription owns one channel's cursor and state.
type Subscription struct {
	ID      string
	Channel string
	Query   string

	store   CursorStore
	handler Handler

	mu     sync.Mutex
	state  State
	cursor string
}

// New creates a subscription for channel, identified by a fresh UUID.
func New(channel, query string, store CursorStore, handler Handler) *Subscription {
	return &Subscription{
		ID:      uuid.NewString(),
		Channel: channel,
		Query:   query,
		store:   store,
		handler: handler,
		state:   Idle,
	}
}

// TransitionTo moves the subscription to newState if the transition is
// legal, mirroring the teacher's explicit validTransitions-map pattern.
func (s *Subscription) TransitionTo(newState State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, allowed := range validTransitions[s.state] {
		if allowed == newState {
			s.state = newState
			return nil
		}
	}
	return ErrInvalidTransition
}

// State returns the current lifecycle state.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe transitions Idle→Active. If a prior cursor is persisted for
// the channel, the caller should open "after that cursor"; otherwise
// "from oldest". The fromOldest result reports which applies.
func (s *Subscription) Subscribe() (cursor string, fromOldest bool, err error) {
	if err := s.TransitionTo(Active); err != nil {
		return "", false, err
	}
	token, readErr := s.store.ReadBookmark(s.Channel)
	if readErr != nil || token == "" {
		// Cursor creation failure at subscribe: fall back to "from oldest".
		s.mu.Lock()
		s.cursor = ""
		s.mu.Unlock()
		return "", true, nil
	}
	s.mu.Lock()
	s.cursor = token
	s.mu.Unlock()
	return token, false, nil
}

// Deliver handles one callback-delivered event: it is rendered and
// handed to the handler; on acceptance the in-memory cursor advances to
// newCursor. The cursor is NOT persisted here — persistence happens on
// Cancel or via an explicit Commit call from the sender once a batch
// containing this event's record has been posted successfully.
func (s *Subscription) Deliver(eventXML []byte, newCursor string) (accepted bool) {
	accepted = s.handler(eventXML)
	if !accepted {
		return false
	}
	s.mu.Lock()
	s.cursor = newCursor
	s.mu.Unlock()
	return true
}

// Cursor returns the current in-memory cursor token.
func (s *Subscription) Cursor() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Commit persists the current in-memory cursor, for use by the sender
// loop after a batch containing this channel's events has been posted
// successfully (commit-after-success semantics, spec.md §4.7 step 3.f).
func (s *Subscription) Commit() error {
	cursor := s.Cursor()
	if cursor == "" {
		return nil
	}
	return s.store.WriteBookmark(s.Channel, cursor)
}

// Cancel transitions Active→Cancelled and persists the final cursor.
func (s *Subscription) Cancel() error {
	if err := s.TransitionTo(Cancelled); err != nil {
		return err
	}
	return s.Commit()
}
