// Package mock provides recording fakes for the collaborators of
// [playback.Orchestrator]: [Transport], [Session], [Resolver] and [Notifier].
//
// All fakes are safe for concurrent use. Streams handed to a [Session] stay
// "playing" until the test ends them with [Session.End] or [Session.Fail],
// which makes every transport event explicit in tests.
package mock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/vibot/internal/playback"
)

// ─── Session ──────────────────────────────────────────────────────────────────

// PlayCall records one stream handed to [Session.Play].
type PlayCall struct {
	Stream io.ReadCloser
	done   func(error)
}

// Session is a mock implementation of [playback.Session].
type Session struct {
	SessionID string

	// PlayError, when set, is returned by Play.
	PlayError error

	mu               sync.Mutex
	PlayCalls        []PlayCall
	StopCurrentCalls int
	DestroyCalls     int
	active           *PlayCall
	disconnectCb     func()
}

var _ playback.Session = (*Session)(nil)

// ID implements [playback.Session].
func (s *Session) ID() string { return s.SessionID }

// Play implements [playback.Session].
func (s *Session) Play(stream io.ReadCloser, done func(error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PlayError != nil {
		return s.PlayError
	}
	if s.active != nil {
		return errors.New("mock: stream already active")
	}
	call := &PlayCall{Stream: stream, done: done}
	s.PlayCalls = append(s.PlayCalls, *call)
	s.active = call
	return nil
}

// StopCurrent implements [playback.Session]. The stopped stream's done
// callback fires with nil on a separate goroutine, like a real player.
func (s *Session) StopCurrent() {
	s.mu.Lock()
	s.StopCurrentCalls++
	cur := s.active
	s.active = nil
	s.mu.Unlock()
	if cur != nil {
		_ = cur.Stream.Close()
		go cur.done(nil)
	}
}

// SetPlayError changes PlayError under the lock.
func (s *Session) SetPlayError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PlayError = err
}

// OnDisconnect implements [playback.Session].
func (s *Session) OnDisconnect(cb func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnectCb = cb
}

// Destroy implements [playback.Session].
func (s *Session) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.DestroyCalls++
	s.active = nil
	return nil
}

// End completes the active stream successfully. Reports whether one was active.
func (s *Session) End() bool { return s.finish(nil) }

// Fail completes the active stream with err. Reports whether one was active.
func (s *Session) Fail(err error) bool { return s.finish(err) }

func (s *Session) finish(err error) bool {
	s.mu.Lock()
	cur := s.active
	s.active = nil
	s.mu.Unlock()
	if cur == nil {
		return false
	}
	_ = cur.Stream.Close()
	cur.done(err)
	return true
}

// Drop simulates the platform kicking the bot out of the channel.
func (s *Session) Drop() {
	s.mu.Lock()
	cb := s.disconnectCb
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Active reports whether a stream is playing.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Plays returns the number of successful Play calls.
func (s *Session) Plays() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.PlayCalls)
}

// Destroys returns DestroyCalls under the lock.
func (s *Session) Destroys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.DestroyCalls
}

// PlayedLocators returns the locator of every stream played, in order. Only
// streams opened by [Resolver] carry a locator.
func (s *Session) PlayedLocators() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.PlayCalls))
	for _, c := range s.PlayCalls {
		if st, ok := c.Stream.(*Stream); ok {
			out = append(out, st.Locator)
		}
	}
	return out
}

// ─── Transport ────────────────────────────────────────────────────────────────

// OpenCall records the arguments of a single [Transport.Open] invocation.
type OpenCall struct {
	GuildID string
	Args    playback.JoinArgs
}

// Transport is a mock implementation of [playback.Transport]. Each successful
// Open returns a fresh [Session].
type Transport struct {
	// OpenError, when set, is returned by Open.
	OpenError error

	// Block, when non-nil, makes Open wait until it is closed or ctx ends.
	Block chan struct{}

	mu        sync.Mutex
	OpenCalls []OpenCall
	Sessions  []*Session
	seq       atomic.Int64
}

var _ playback.Transport = (*Transport)(nil)

// Open implements [playback.Transport].
func (t *Transport) Open(ctx context.Context, guildID string, args playback.JoinArgs) (playback.Session, error) {
	t.mu.Lock()
	t.OpenCalls = append(t.OpenCalls, OpenCall{GuildID: guildID, Args: args})
	block := t.Block
	openErr := t.OpenError
	t.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if openErr != nil {
		return nil, openErr
	}

	s := &Session{SessionID: fmt.Sprintf("%s-session-%d", guildID, t.seq.Add(1))}
	t.mu.Lock()
	t.Sessions = append(t.Sessions, s)
	t.mu.Unlock()
	return s, nil
}

// SetOpenError changes OpenError under the lock.
func (t *Transport) SetOpenError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.OpenError = err
}

// Opens returns the number of Open calls.
func (t *Transport) Opens() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.OpenCalls)
}

// Session returns the i-th session opened, or nil.
func (t *Transport) Session(i int) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	if i < 0 || i >= len(t.Sessions) {
		return nil
	}
	return t.Sessions[i]
}

// ─── Resolver ─────────────────────────────────────────────────────────────────

// Stream is the byte stream returned by [Resolver.Open].
type Stream struct {
	io.Reader
	Locator string
	closed  atomic.Bool
}

// Close implements io.Closer.
func (s *Stream) Close() error {
	s.closed.Store(true)
	return nil
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool { return s.closed.Load() }

// Resolver is a mock implementation of [playback.Resolver]. Locators prefixed
// with "bad:" fail validation; locators present in OpenErrors fail to open.
type Resolver struct {
	mu         sync.Mutex
	OpenErrors map[string]error
	OpenCalls  []string

	// Gate, when non-nil, makes Open wait until it is closed or ctx ends.
	Gate chan struct{}

	// IgnoreCancel makes a gated Open wait for Gate alone and return its
	// stream even when ctx ended meanwhile, like a slow extractor that only
	// notices cancellation after the fact.
	IgnoreCancel bool

	streams []*Stream
}

var _ playback.Resolver = (*Resolver)(nil)

// Validate implements [playback.Resolver].
func (r *Resolver) Validate(locator string) bool {
	return !strings.HasPrefix(locator, "bad:")
}

// Open implements [playback.Resolver].
func (r *Resolver) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	r.mu.Lock()
	r.OpenCalls = append(r.OpenCalls, locator)
	err := r.OpenErrors[locator]
	gate := r.Gate
	ignoreCancel := r.IgnoreCancel
	r.mu.Unlock()

	switch {
	case gate != nil && ignoreCancel:
		<-gate
	case gate != nil:
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	st := &Stream{Reader: strings.NewReader(locator), Locator: locator}
	r.mu.Lock()
	r.streams = append(r.streams, st)
	r.mu.Unlock()
	return st, nil
}

// Streams returns every stream Open handed out, in order.
func (r *Resolver) Streams() []*Stream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.streams)
}

// SetOpenError makes Open fail for locator.
func (r *Resolver) SetOpenError(locator string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.OpenErrors == nil {
		r.OpenErrors = make(map[string]error)
	}
	r.OpenErrors[locator] = err
}

// Opened returns the locators passed to Open, in order.
func (r *Resolver) Opened() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.OpenCalls))
	copy(out, r.OpenCalls)
	return out
}

// ─── Notifier ─────────────────────────────────────────────────────────────────

// Notifier is a mock implementation of [playback.Notifier].
type Notifier struct {
	// Err, when set, is returned by every Notify call after recording.
	Err error

	mu       sync.Mutex
	Messages []string
}

var _ playback.Notifier = (*Notifier)(nil)

// Notify implements [playback.Notifier].
func (n *Notifier) Notify(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Messages = append(n.Messages, text)
	return n.Err
}

// Sent returns a copy of the recorded messages.
func (n *Notifier) Sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.Messages))
	copy(out, n.Messages)
	return out
}
