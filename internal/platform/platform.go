// Package platform declares the "Platform Event Source" external
// collaborator from spec.md §6 as a Go interface, plus an in-memory
// FakeSource implementation used by tests and local development. A real
// Windows ETW-backed Source is out of scope per spec.md §1's Non-goals —
// platform event rendering stays an interface, never an implementation,
// in this repository.
package platform

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
)

// ErrSubscriptionNotFound is returned when an operation references a
// subscription handle the Source no longer recognizes (already closed).
var ErrSubscriptionNotFound = errors.New("platform: subscription not found")

// EventHandle opaquely references one platform event, valid only for the
// duration of the callback that delivered it — callers must render it
// (RenderEventXML/FormatEventMessage) before returning from the callback
// if they need its contents afterward.
type EventHandle interface{}

// SubscriptionHandle opaquely references one open subscription.
type SubscriptionHandle interface{}

// PublisherHandle opaquely references metadata needed to format a
// provider's event messages.
type PublisherHandle interface{}

// Cursor opaquely tracks a subscription's bookmark position; it is
// mutated in place by UpdateBookmark and rendered to a persistable
// string by RenderBookmark.
type Cursor interface{}

// Callback is invoked by the Source once per delivered event, on a
// platform-driven callback thread (spec.md §5's "N platform-driven
// callback threads for subscriptions"). internal/subscription.Subscription.
// Deliver is the typical callback body.
type Callback func(eventHandle EventHandle)

// Source is the platform event log collaborator spec.md §6 requires:
// open a live subscription starting at a cursor, track/update/render
// that cursor, and render a delivered event to XML or a formatted
// message string.
type Source interface {
	OpenSubscription(channel, query string, cursor Cursor, startFromOldest bool, callback Callback) (SubscriptionHandle, error)
	CloseSubscription(handle SubscriptionHandle) error
	CreateBookmark(tokenOrEmpty string) (Cursor, error)
	UpdateBookmark(cursor Cursor, eventHandle EventHandle) bool
	RenderBookmark(cursor Cursor) (string, error)
	RenderEventXML(eventHandle EventHandle) ([]byte, error)
	FormatEventMessage(providerMetadata PublisherHandle, eventHandle EventHandle) (string, error)
	OpenPublisherMetadata(providerName string) (PublisherHandle, error)
}

// ---- in-memory fake, for tests and local development -------------------

// FakeEvent is one synthetic platform event a test can push into a
// channel's log.
type FakeEvent struct {
	Provider string
	EventID  int
	Message  string
	Level    string
}

type fakeCursor struct {
	mu    sync.Mutex
	index int // position of the last consumed event; -1 means none consumed yet
}

type fakeSubscription struct {
	channel  string
	cursor   *fakeCursor
	callback Callback
	closed   bool
}

// FakeSource is an in-memory Source: each channel holds an append-only
// log of FakeEvents. OpenSubscription replays anything already logged
// from the cursor forward, then Push delivers new events to every live
// subscription on that channel synchronously, on the calling goroutine —
// callers that want the "platform callback thread" concurrency the real
// Source provides should call Push from their own goroutine.
type FakeSource struct {
	mu       sync.Mutex
	channels map[string][]FakeEvent
	subs     map[*fakeSubscription]struct{}
}

// NewFakeSource returns an empty FakeSource.
func NewFakeSource() *FakeSource {
	return &FakeSource{
		channels: make(map[string][]FakeEvent),
		subs:     make(map[*fakeSubscription]struct{}),
	}
}

// Push appends ev to channel's log and delivers it to every subscription
// currently open on that channel.
func (f *FakeSource) Push(channel string, ev FakeEvent) {
	f.mu.Lock()
	f.channels[channel] = append(f.channels[channel], ev)
	idx := len(f.channels[channel]) - 1
	var targets []*fakeSubscription
	for s := range f.subs {
		if s.channel == channel && !s.closed {
			targets = append(targets, s)
		}
	}
	f.mu.Unlock()

	handle := fakeEventHandle{channel: channel, index: idx}
	for _, s := range targets {
		s.callback(handle)
	}
}

type fakeEventHandle struct {
	channel string
	index   int
}

// OpenSubscription replays any already-logged events in channel after
// cursor's index (from index 0 if cursor is empty and startFromOldest;
// none if cursor is empty otherwise), then registers for future Push
// deliveries.
func (f *FakeSource) OpenSubscription(channel, query string, cursor Cursor, startFromOldest bool, callback Callback) (SubscriptionHandle, error) {
	fc, ok := cursor.(*fakeCursor)
	if !ok || fc == nil {
		fc = &fakeCursor{index: -1}
	}

	f.mu.Lock()
	start := fc.index + 1
	if fc.index < 0 {
		if startFromOldest {
			start = 0
		} else {
			start = len(f.channels[channel])
		}
	}
	backlog := append([]FakeEvent(nil), f.channels[channel][minInt(start, len(f.channels[channel])):]...)
	baseIdx := minInt(start, len(f.channels[channel]))

	sub := &fakeSubscription{channel: channel, cursor: fc, callback: callback}
	f.subs[sub] = struct{}{}
	f.mu.Unlock()

	for i, ev := range backlog {
		_ = ev
		callback(fakeEventHandle{channel: channel, index: baseIdx + i})
	}

	return sub, nil
}

// CloseSubscription stops future delivery to handle.
func (f *FakeSource) CloseSubscription(handle SubscriptionHandle) error {
	sub, ok := handle.(*fakeSubscription)
	if !ok {
		return ErrSubscriptionNotFound
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[sub]; !ok {
		return ErrSubscriptionNotFound
	}
	sub.closed = true
	delete(f.subs, sub)
	return nil
}

// CreateBookmark parses a previously rendered token (a decimal index) or
// returns a fresh "from oldest" cursor if tokenOrEmpty is empty.
func (f *FakeSource) CreateBookmark(tokenOrEmpty string) (Cursor, error) {
	if tokenOrEmpty == "" {
		return &fakeCursor{index: -1}, nil
	}
	idx, err := strconv.Atoi(tokenOrEmpty)
	if err != nil {
		return nil, fmt.Errorf("platform: malformed bookmark token %q: %w", tokenOrEmpty, err)
	}
	return &fakeCursor{index: idx}, nil
}

// UpdateBookmark advances cursor to the position of eventHandle, the
// platform's monotonic-within-channel ordering (spec.md §5).
func (f *FakeSource) UpdateBookmark(cursor Cursor, eventHandle EventHandle) bool {
	fc, ok := cursor.(*fakeCursor)
	if !ok {
		return false
	}
	eh, ok := eventHandle.(fakeEventHandle)
	if !ok {
		return false
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if eh.index > fc.index {
		fc.index = eh.index
	}
	return true
}

// RenderBookmark renders cursor to a persistable decimal-index token.
func (f *FakeSource) RenderBookmark(cursor Cursor) (string, error) {
	fc, ok := cursor.(*fakeCursor)
	if !ok {
		return "", errors.New("platform: not a fake cursor")
	}
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return strconv.Itoa(fc.index), nil
}

// RenderEventXML renders the synthetic event as a minimal XML document
// resembling the platform's native event log schema — enough for
// internal/eventrecord-equivalent callers that parse it. Field values are
// inserted without XML escaping, so a value containing markup characters
// yields a malformed document.
func (f *FakeSource) RenderEventXML(eventHandle EventHandle) ([]byte, error) {
	ev, err := f.lookup(eventHandle)
	if err != nil {
		return nil, err
	}
	xml := fmt.Sprintf(
		`<Event><System><Provider Name="%s"/><EventID>%d</EventID><Level>%s</Level></System><EventData><Message>%s</Message></EventData></Event>`,
		ev.Provider, ev.EventID, ev.Level, ev.Message,
	)
	return []byte(xml), nil
}

// FormatEventMessage returns the event's pre-formatted message text; the
// fake does not distinguish this from RenderEventXML's embedded message
// since it never had a real message-table resource to resolve.
func (f *FakeSource) FormatEventMessage(providerMetadata PublisherHandle, eventHandle EventHandle) (string, error) {
	ev, err := f.lookup(eventHandle)
	if err != nil {
		return "", err
	}
	return ev.Message, nil
}

// OpenPublisherMetadata returns providerName itself as an opaque handle;
// the fake has no message-table resources to load.
func (f *FakeSource) OpenPublisherMetadata(providerName string) (PublisherHandle, error) {
	return providerName, nil
}

func (f *FakeSource) lookup(eventHandle EventHandle) (FakeEvent, error) {
	eh, ok := eventHandle.(fakeEventHandle)
	if !ok {
		return FakeEvent{}, errors.New("platform: not a fake event handle")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	events := f.channels[eh.channel]
	if eh.index < 0 || eh.index >= len(events) {
		return FakeEvent{}, fmt.Errorf("platform: event index %d out of range for channel %q", eh.index, eh.channel)
	}
	return events[eh.index], nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
