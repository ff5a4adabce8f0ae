package playback

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/MrWong99/vibot/internal/observe"
)

const (
	// DefaultIdleTimeout is how long a guild may sit with an empty queue
	// before its voice session is released.
	DefaultIdleTimeout = 120 * time.Second

	// DefaultConnectTimeout bounds a voice channel join.
	DefaultConnectTimeout = 15 * time.Second

	// defaultNotifyTimeout bounds a single notice delivery.
	defaultNotifyTimeout = 10 * time.Second
)

// Option configures an [Orchestrator] during construction.
type Option func(*Orchestrator)

// WithClock replaces the wall clock that drives idle eviction.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// WithIdleTimeout sets the idle-eviction cooldown. Non-positive values are
// ignored.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.idleTimeout.Store(int64(d))
		}
	}
}

// WithConnectTimeout bounds how long Enqueue waits for a voice join.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.connectTimeout = d
		}
	}
}

// WithMetrics records instruments on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// Orchestrator owns the playback state of every guild.
//
// All exported methods are safe for concurrent use. Calls for the same guild
// are serialised; calls for different guilds run in parallel. Only Enqueue
// blocks on I/O (the voice join), and it does so while holding that guild's
// lock so that concurrent enqueues cannot open two sessions. Leave and Close
// abort a pending join instead of waiting for it, and QueueSnapshot reports
// a joining guild as idle.
type Orchestrator struct {
	transport      Transport
	resolver       Resolver
	clock          clock.Clock
	metrics        *observe.Metrics
	idleTimeout    atomic.Int64
	connectTimeout time.Duration
	notifyTimeout  time.Duration

	// ctx parents every stream context; cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup // in-flight resolves

	mu     sync.Mutex
	groups map[string]*group
	closed bool
}

// New creates an Orchestrator that joins voice channels through transport
// and opens sources through resolver.
func New(transport Transport, resolver Resolver, opts ...Option) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		transport:      transport,
		resolver:       resolver,
		clock:          clock.New(),
		connectTimeout: DefaultConnectTimeout,
		notifyTimeout:  defaultNotifyTimeout,
		ctx:            ctx,
		cancel:         cancel,
		groups:         make(map[string]*group),
	}
	o.idleTimeout.Store(int64(DefaultIdleTimeout))
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// SetIdleTimeout changes the cooldown for timers armed from now on.
// Non-positive values are ignored.
func (o *Orchestrator) SetIdleTimeout(d time.Duration) {
	if d > 0 {
		o.idleTimeout.Store(int64(d))
	}
}

// IdleTimeout returns the current idle-eviction cooldown.
func (o *Orchestrator) IdleTimeout() time.Duration {
	return time.Duration(o.idleTimeout.Load())
}

// ─── Commands ─────────────────────────────────────────────────────────────────

// Enqueue appends ref to the guild's queue. When the guild has no entry yet,
// Enqueue joins args.ChannelID first; notify then becomes the guild's notice
// channel for the lifetime of the entry. If nothing is playing, ref is
// dispatched immediately.
//
// A failed join leaves no entry behind and is not retried.
func (o *Orchestrator) Enqueue(ctx context.Context, guildID string, ref SourceRef, notify Notifier, args JoinArgs) (EnqueueResult, error) {
	const op = "enqueue"
	ctx, span := observe.StartGuildSpan(ctx, "playback.enqueue", guildID)
	defer span.End()

	ref.Locator = strings.TrimSpace(ref.Locator)
	if ref.Locator == "" || !o.resolver.Validate(ref.Locator) {
		return EnqueueResult{}, newError(ErrInvalidInput, guildID, op, fmt.Errorf("unsupported locator %q", ref.Locator))
	}
	if ref.AddedAt.IsZero() {
		ref.AddedAt = o.clock.Now()
	}

	g, created, err := o.acquire(guildID, true)
	if err != nil {
		return EnqueueResult{}, newError(ErrTransport, guildID, op, err)
	}
	defer g.mu.Unlock()

	if created {
		if args.ChannelID == "" {
			o.unregisterLocked(g)
			return EnqueueResult{}, newError(ErrInvalidInput, guildID, op, fmt.Errorf("no voice channel to join"))
		}
		joinCtx, cancelJoin := context.WithCancel(ctx)
		o.setJoin(g, cancelJoin)
		err := o.connectLocked(joinCtx, g, args)
		o.setJoin(g, nil)
		cancelJoin()
		if err != nil {
			o.unregisterLocked(g)
			observe.Logger(ctx).Warn("playback: voice join failed", "guild_id", guildID, "channel_id", args.ChannelID, "err", err)
			return EnqueueResult{}, newError(ErrTransport, guildID, op, err)
		}
		g.sink = newSink(guildID, notify, o.notifyTimeout)
		o.metrics.ActiveGroups.Add(ctx, 1)
	}

	g.queue = append(g.queue, ref)
	if g.current != nil {
		return EnqueueResult{Outcome: OutcomeQueued, Ref: ref, Position: len(g.queue)}, nil
	}

	o.dispatchLocked(g, false)
	return EnqueueResult{Outcome: OutcomeNowPlaying, Ref: ref}, nil
}

// Skip stops the item that is currently playing and dispatches the next one,
// or arms the idle timer when the queue is empty.
func (o *Orchestrator) Skip(ctx context.Context, guildID string) (SkipResult, error) {
	g, _, err := o.acquire(guildID, false)
	if err != nil {
		return SkipResult{}, newError(ErrTransport, guildID, "skip", err)
	}
	if g == nil {
		return SkipResult{}, nil
	}
	defer g.mu.Unlock()

	if g.current == nil {
		return SkipResult{}, nil
	}
	ref := *g.current
	o.stopCurrentLocked(g)
	o.dispatchLocked(g, true)

	observe.Logger(ctx).Info("playback: skipped", "guild_id", guildID, "locator", ref.Locator)
	return SkipResult{Skipped: true, Ref: ref}, nil
}

// Stop clears the queue and stops the current item. The voice session stays
// up until the idle timer fires. Stop is idempotent.
func (o *Orchestrator) Stop(ctx context.Context, guildID string) (StopResult, error) {
	g, _, err := o.acquire(guildID, false)
	if err != nil {
		return StopResult{}, newError(ErrTransport, guildID, "stop", err)
	}
	if g == nil {
		return StopResult{}, nil
	}
	defer g.mu.Unlock()

	res := StopResult{Cleared: len(g.queue), WasPlaying: g.current != nil}
	clear(g.queue)
	g.queue = nil
	if res.WasPlaying {
		o.stopCurrentLocked(g)
		o.dispatchLocked(g, false)
	}

	observe.Logger(ctx).Info("playback: stopped", "guild_id", guildID, "cleared", res.Cleared, "was_playing", res.WasPlaying)
	return res, nil
}

// Leave tears down the guild's session and deletes its entry regardless of
// state. A voice join still in progress is aborted, which fails the Enqueue
// that started it. Leave on an unknown guild succeeds with Left=false.
func (o *Orchestrator) Leave(ctx context.Context, guildID string) (LeaveResult, error) {
	aborted := o.abortJoin(guildID)
	if aborted {
		observe.Logger(ctx).Info("playback: voice join aborted", "guild_id", guildID)
	}

	g, _, err := o.acquire(guildID, false)
	if err != nil {
		return LeaveResult{}, newError(ErrTransport, guildID, "leave", err)
	}
	if g == nil {
		return LeaveResult{Left: aborted}, nil
	}
	defer g.mu.Unlock()

	o.teardownLocked(ctx, g, observe.ReasonLeave)
	return LeaveResult{Left: true}, nil
}

// QueueSnapshot returns a copy of the guild's queue. It never mutates state.
func (o *Orchestrator) QueueSnapshot(guildID string) Snapshot {
	if o.joining(guildID) {
		return Snapshot{State: StateIdle}
	}
	g, _, err := o.acquire(guildID, false)
	if err != nil || g == nil {
		return Snapshot{State: StateIdle}
	}
	defer g.mu.Unlock()
	return g.snapshotLocked()
}

// State returns the guild's current state.
func (o *Orchestrator) State(guildID string) State {
	return o.QueueSnapshot(guildID).State
}

// Groups returns the number of guilds with a live entry.
func (o *Orchestrator) Groups() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.groups)
}

// Close leaves every guild and waits for in-flight resolves to wind down or
// for ctx to expire. Every later call fails with [ErrClosed]. Close is
// idempotent.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	groups := make([]*group, 0, len(o.groups))
	for _, g := range o.groups {
		if g.cancelJoin != nil {
			g.cancelJoin()
		}
		groups = append(groups, g)
	}
	o.mu.Unlock()

	for _, g := range groups {
		g.mu.Lock()
		if !g.deleted {
			o.teardownLocked(ctx, g, observe.ReasonShutdown)
		}
		g.mu.Unlock()
	}
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("playback: close: %w", ctx.Err())
	}
}

// ─── Registry ─────────────────────────────────────────────────────────────────

// acquire returns the guild's group with its lock held, creating the entry
// when create is set. It returns a nil group when no entry exists and create
// is false.
//
// Lock order is group.mu before o.mu. acquire never waits on a group lock
// while holding o.mu; a freshly created group is locked before it becomes
// reachable, so that lock cannot block.
func (o *Orchestrator) acquire(guildID string, create bool) (g *group, created bool, err error) {
	for {
		o.mu.Lock()
		if o.closed {
			o.mu.Unlock()
			return nil, false, ErrClosed
		}
		g = o.groups[guildID]
		if g == nil {
			if !create {
				o.mu.Unlock()
				return nil, false, nil
			}
			g = newGroup(guildID)
			g.mu.Lock()
			o.groups[guildID] = g
			o.mu.Unlock()
			return g, true, nil
		}
		o.mu.Unlock()

		g.mu.Lock()
		if !g.deleted {
			return g, false, nil
		}
		// Torn down while we waited; look again.
		g.mu.Unlock()
	}
}

// unregisterLocked removes g from the registry. Must be called with g.mu held.
func (o *Orchestrator) unregisterLocked(g *group) {
	g.deleted = true
	o.mu.Lock()
	if o.groups[g.id] == g {
		delete(o.groups, g.id)
	}
	o.mu.Unlock()
}

// setJoin publishes or clears the cancel func of g's pending voice join.
func (o *Orchestrator) setJoin(g *group, cancel context.CancelFunc) {
	o.mu.Lock()
	g.cancelJoin = cancel
	o.mu.Unlock()
}

// abortJoin cancels the guild's pending voice join, if any, without taking
// the group lock.
func (o *Orchestrator) abortJoin(guildID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	g := o.groups[guildID]
	if g == nil || g.cancelJoin == nil {
		return false
	}
	g.cancelJoin()
	return true
}

func (o *Orchestrator) joining(guildID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	g := o.groups[guildID]
	return g != nil && g.cancelJoin != nil
}

// ─── State transitions (g.mu held) ────────────────────────────────────────────

func (o *Orchestrator) connectLocked(ctx context.Context, g *group, args JoinArgs) error {
	ctx, cancel := context.WithTimeout(ctx, o.connectTimeout)
	defer cancel()

	start := time.Now()
	session, err := o.transport.Open(ctx, g.id, args)
	if err != nil {
		return err
	}
	observe.ObserveSince(ctx, o.metrics.ConnectDuration, start)

	g.session = session
	sessionID := session.ID()
	session.OnDisconnect(func() { o.handleDisconnect(g, sessionID) })

	slog.Info("playback: voice session opened", "guild_id", g.id, "channel_id", args.ChannelID, "session_id", sessionID)
	return nil
}

// dispatchLocked pops the queue head and starts resolving it in the
// background. An empty queue arms the idle timer instead. announce controls
// whether the now-playing notice goes to the guild's notifier.
func (o *Orchestrator) dispatchLocked(g *group, announce bool) {
	if len(g.queue) == 0 {
		g.current = nil
		o.armIdleTimerLocked(g)
		return
	}
	o.disarmIdleTimerLocked(g)

	ref := g.queue[0]
	g.queue[0] = SourceRef{}
	g.queue = g.queue[1:]
	g.current = &ref
	g.playID++

	ctx, cancel := context.WithCancel(o.ctx)
	g.stopStream = cancel

	o.wg.Add(1)
	go o.startStream(ctx, g, g.session, g.playID, ref, announce)
}

// stopCurrentLocked invalidates the current dispatch and silences it.
func (o *Orchestrator) stopCurrentLocked(g *group) {
	g.playID++
	if g.stopStream != nil {
		g.stopStream()
		g.stopStream = nil
	}
	if g.session != nil {
		g.session.StopCurrent()
	}
	g.current = nil
}

// failCurrentLocked reports a broken item and moves on to the next one.
func (o *Orchestrator) failCurrentLocked(g *group, ref SourceRef, cause error) {
	err := newError(ErrResolve, g.id, "stream", cause)
	slog.Warn("playback: stream failed, advancing queue", "guild_id", g.id, "locator", ref.Locator, "err", err)
	o.metrics.StreamErrors.Add(context.Background(), 1)

	if g.stopStream != nil {
		g.stopStream()
		g.stopStream = nil
	}
	g.sink.post(MsgStreamError)
	o.dispatchLocked(g, true)
}

// teardownLocked releases everything the guild holds and deletes the entry.
func (o *Orchestrator) teardownLocked(ctx context.Context, g *group, reason string) {
	o.stopCurrentLocked(g)
	o.disarmIdleTimerLocked(g)
	clear(g.queue)
	g.queue = nil

	if g.session != nil {
		if err := g.session.Destroy(); err != nil {
			slog.Warn("playback: destroy voice session", "guild_id", g.id, "session_id", g.session.ID(), "err", err)
		}
		g.session = nil
	}
	o.unregisterLocked(g)
	o.metrics.RecordEviction(ctx, reason)

	slog.Info("playback: guild released", "guild_id", g.id, "reason", reason)
}

// ─── Idle timer (g.mu held) ───────────────────────────────────────────────────

func (o *Orchestrator) armIdleTimerLocked(g *group) {
	o.disarmIdleTimerLocked(g)
	epoch := g.timerEpoch
	g.timer = o.clock.AfterFunc(o.IdleTimeout(), func() { o.handleIdle(g, epoch) })
}

// disarmIdleTimerLocked cancels the timer. Bumping the epoch also neutralises
// a callback that already fired and is waiting for g.mu.
func (o *Orchestrator) disarmIdleTimerLocked(g *group) {
	g.timerEpoch++
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

// ─── Asynchronous events ──────────────────────────────────────────────────────

// startStream opens the source for dispatch id and hands it to the session.
func (o *Orchestrator) startStream(ctx context.Context, g *group, session Session, id uint64, ref SourceRef, announce bool) {
	defer o.wg.Done()

	start := time.Now()
	stream, err := o.resolver.Open(ctx, ref.Locator)
	if err == nil {
		observe.ObserveSince(ctx, o.metrics.ResolveDuration, start)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.deleted || g.playID != id {
		if stream != nil {
			_ = stream.Close()
		}
		return
	}

	if err == nil {
		err = session.Play(stream, func(err error) { o.handleStreamDone(g, id, err) })
		if err != nil {
			_ = stream.Close()
		}
	}
	if err != nil {
		o.metrics.RecordDispatch(context.Background(), false)
		o.failCurrentLocked(g, ref, err)
		return
	}

	o.metrics.RecordDispatch(context.Background(), true)
	slog.Info("playback: now playing", "guild_id", g.id, "session_id", session.ID(), "locator", ref.Locator)
	if announce {
		g.sink.post(NowPlayingNotice(ref))
	}
}

// handleStreamDone is the session's terminal callback for dispatch id.
func (o *Orchestrator) handleStreamDone(g *group, id uint64, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.deleted || g.playID != id || g.current == nil {
		slog.Debug("playback: ignoring stale stream event", "guild_id", g.id, "play_id", id)
		return
	}
	ref := *g.current
	if err != nil {
		o.failCurrentLocked(g, ref, err)
		return
	}

	if g.stopStream != nil {
		g.stopStream()
		g.stopStream = nil
	}
	slog.Debug("playback: stream ended", "guild_id", g.id, "locator", ref.Locator)
	o.dispatchLocked(g, true)
}

func (o *Orchestrator) handleIdle(g *group, epoch uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.deleted || g.timerEpoch != epoch {
		return
	}
	g.timer = nil
	if g.current != nil || len(g.queue) > 0 {
		return
	}

	g.sink.post(MsgIdleEviction)
	o.teardownLocked(context.Background(), g, observe.ReasonIdle)
}

func (o *Orchestrator) handleDisconnect(g *group, sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.deleted || g.session == nil || g.session.ID() != sessionID {
		return
	}

	slog.Warn("playback: voice session dropped", "guild_id", g.id, "session_id", sessionID)
	g.sink.post(MsgDisconnected)
	o.teardownLocked(context.Background(), g, observe.ReasonDisconnect)
}
