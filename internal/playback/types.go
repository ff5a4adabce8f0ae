// Package playback implements the per-guild music queue: a FIFO of source
// references, at most one streaming item, and an idle-eviction timer, all
// driven by user commands and asynchronous transport events.
//
// Each guild is an independent state machine:
//
//	IDLE ──enqueue──▶ PLAYING ──queue drained──▶ AWAITING_EVICTION
//	  ▲                  ▲                            │      │
//	  │                  └──────────enqueue───────────┘      │
//	  └──────────── leave / idle timeout / disconnect ◀──────┘
//
// [Orchestrator] serialises every mutation of a guild behind that guild's
// own lock; different guilds never contend. Transport callbacks carry the
// play ID they were issued for, and the orchestrator drops any callback
// whose ID is no longer current.
package playback

import (
	"context"
	"io"
	"time"
)

// SourceRef identifies one playable item. Only Locator is interpreted (by the
// [Resolver]); the remaining fields are display metadata.
type SourceRef struct {
	// Locator is the remote source, typically a URL.
	Locator string

	// Title is a human-readable name. Empty when metadata lookup failed.
	Title string

	// Duration of the item if known.
	Duration time.Duration

	// RequestedBy is the display name of the user who queued the item.
	RequestedBy string

	// AddedAt is when the item was queued.
	AddedAt time.Time
}

// DisplayName returns Title when known, the locator otherwise.
func (r SourceRef) DisplayName() string {
	if r.Title != "" {
		return r.Title
	}
	return r.Locator
}

// JoinArgs tells the transport which voice channel to join.
type JoinArgs struct {
	ChannelID string
}

// State is the externally visible state of one guild.
type State int

const (
	// StateIdle means no entry exists for the guild.
	StateIdle State = iota

	// StatePlaying means an item has been dispatched and not yet completed.
	StatePlaying

	// StateAwaitingEviction means the queue drained and the idle timer is armed.
	StateAwaitingEviction
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StateAwaitingEviction:
		return "awaiting_eviction"
	default:
		return "unknown"
	}
}

// ─── Collaborators ────────────────────────────────────────────────────────────

// Notifier delivers asynchronous status messages to users. Delivery failures
// are logged by the orchestrator and otherwise ignored.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// NotifierFunc adapts a function to [Notifier].
type NotifierFunc func(ctx context.Context, text string) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, text string) error { return f(ctx, text) }

// Transport establishes voice sessions.
type Transport interface {
	// Open joins the voice channel described by args. It may block for the
	// duration of the handshake and must honour ctx.
	Open(ctx context.Context, guildID string, args JoinArgs) (Session, error)
}

// Session is one live voice connection with a single-stream player.
//
// Implementations must never invoke done or the disconnect callback
// synchronously from within Play, StopCurrent or Destroy.
type Session interface {
	// ID uniquely identifies the session for logging.
	ID() string

	// Play starts streaming PCM from stream. The session owns stream from
	// here on. done fires exactly once: nil when the stream ended (or was
	// stopped), the cause when it failed. Play fails if a stream is active.
	Play(stream io.ReadCloser, done func(error)) error

	// StopCurrent interrupts the active stream, if any, and returns once no
	// more audio from it will be sent.
	StopCurrent()

	// OnDisconnect registers a callback for when the platform drops the
	// session without a Destroy call.
	OnDisconnect(cb func())

	// Destroy leaves the channel and releases everything. Idempotent.
	Destroy() error
}

// Resolver turns locators into PCM byte streams.
type Resolver interface {
	// Validate reports whether locator is something the resolver can open.
	Validate(locator string) bool

	// Open starts decoding locator into s16le 48 kHz stereo PCM. Errors that
	// occur after Open returns surface as the stream's Read error. Cancelling
	// ctx aborts the stream.
	Open(ctx context.Context, locator string) (io.ReadCloser, error)
}

// ─── Results ──────────────────────────────────────────────────────────────────

// EnqueueOutcome distinguishes the two successful enqueue results.
type EnqueueOutcome int

const (
	// OutcomeQueued means the item was appended behind the playing one.
	OutcomeQueued EnqueueOutcome = iota

	// OutcomeNowPlaying means the item was dispatched immediately.
	OutcomeNowPlaying
)

// EnqueueResult is returned by [Orchestrator.Enqueue].
type EnqueueResult struct {
	Outcome EnqueueOutcome
	Ref     SourceRef

	// Position is the 1-based queue position for OutcomeQueued, 0 otherwise.
	Position int
}

// SkipResult is returned by [Orchestrator.Skip].
type SkipResult struct {
	// Skipped is false when nothing was playing.
	Skipped bool

	// Ref is the item that was stopped.
	Ref SourceRef
}

// StopResult is returned by [Orchestrator.Stop].
type StopResult struct {
	// Cleared is the number of queued (not playing) items discarded.
	Cleared int

	// WasPlaying reports whether an active item was stopped.
	WasPlaying bool
}

// LeaveResult is returned by [Orchestrator.Leave].
type LeaveResult struct {
	// Left is false when the guild had no entry.
	Left bool
}

// Snapshot is a read-only copy of one guild's queue.
type Snapshot struct {
	State State

	// NowPlaying is the dispatched, not yet completed item.
	NowPlaying *SourceRef

	// Upcoming holds queued items in play order.
	Upcoming []SourceRef
}

// Empty reports whether nothing is playing or queued.
func (s Snapshot) Empty() bool {
	return s.NowPlaying == nil && len(s.Upcoming) == 0
}
