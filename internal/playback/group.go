package playback

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
)

// group is the playback state of one guild. Every field is guarded by mu.
type group struct {
	id string

	mu sync.Mutex

	// deleted is set once the entry left the registry. A goroutine that
	// locked a deleted group must drop it and look the guild up again.
	deleted bool

	queue   []SourceRef
	current *SourceRef // dispatched, not yet completed
	session Session
	sink    *sink

	// playID identifies the current dispatch. Every dispatch, skip and stop
	// bumps it, which turns callbacks from older dispatches into no-ops.
	playID     uint64
	stopStream context.CancelFunc

	// timerEpoch plays the same role for the idle timer.
	timerEpoch uint64
	timer      *clock.Timer

	// cancelJoin aborts the voice join of an entry that Enqueue is still
	// creating. Guarded by Orchestrator.mu rather than mu: the join runs with
	// mu held.
	cancelJoin context.CancelFunc
}

func newGroup(id string) *group {
	return &group{id: id}
}

// stateLocked derives the externally visible state.
func (g *group) stateLocked() State {
	switch {
	case g.deleted:
		return StateIdle
	case g.current != nil:
		return StatePlaying
	case g.timer != nil:
		return StateAwaitingEviction
	default:
		return StateIdle
	}
}

func (g *group) snapshotLocked() Snapshot {
	s := Snapshot{State: g.stateLocked()}
	if g.current != nil {
		ref := *g.current
		s.NowPlaying = &ref
	}
	if len(g.queue) > 0 {
		s.Upcoming = make([]SourceRef, len(g.queue))
		copy(s.Upcoming, g.queue)
	}
	return s
}
