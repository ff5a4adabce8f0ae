package playback

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// User-facing notices sent to a guild's notifier.
const (
	MsgIdleEviction = "Leaving the voice channel due to inactivity."
	MsgStreamError  = "An error occurred during playback. Trying the next song..."
	MsgDisconnected = "I was disconnected from the voice channel, so I cleared the queue."
)

// NowPlayingNotice formats the announcement for a freshly dispatched item.
func NowPlayingNotice(ref SourceRef) string {
	return "🎶 Now playing: " + ref.DisplayName()
}

// sink delivers a guild's notices in order without ever blocking the caller.
// At most one delivery goroutine runs per sink.
type sink struct {
	guildID string
	n       Notifier
	timeout time.Duration

	mu      sync.Mutex
	pending []string
	running bool
}

func newSink(guildID string, n Notifier, timeout time.Duration) *sink {
	return &sink{guildID: guildID, n: n, timeout: timeout}
}

// post queues text for delivery. Safe on a nil sink.
func (s *sink) post(text string) {
	if s == nil || s.n == nil {
		return
	}
	s.mu.Lock()
	s.pending = append(s.pending, text)
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.drain()
}

func (s *sink) drain() {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		text := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		err := s.n.Notify(ctx, text)
		cancel()
		if err != nil {
			slog.Warn("playback: notification not delivered", "guild_id", s.guildID, "err", err)
		}
	}
}
