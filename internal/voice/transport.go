// Package voice adapts an [audio.Platform] to the playback transport
// contract. Each session owns one voice connection and one
// [player.Player] feeding it.
package voice

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/MrWong99/vibot/internal/playback"
	"github.com/MrWong99/vibot/pkg/audio"
	"github.com/MrWong99/vibot/pkg/audio/player"
)

// Transport opens voice sessions on a platform.
type Transport struct {
	platform audio.Platform
}

var _ playback.Transport = (*Transport)(nil)

// New returns a Transport joining channels through platform.
func New(platform audio.Platform) *Transport {
	return &Transport{platform: platform}
}

// Open implements [playback.Transport]. It blocks until the voice
// connection is established or ctx ends.
func (t *Transport) Open(ctx context.Context, guildID string, args playback.JoinArgs) (playback.Session, error) {
	conn, err := t.platform.Connect(ctx, guildID, args.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("voice: join guild %s channel %s: %w", guildID, args.ChannelID, err)
	}

	s := &Session{
		id:      uuid.NewString(),
		guildID: guildID,
		conn:    conn,
		player:  player.New(conn.OutputStream()),
	}
	slog.Debug("voice: session opened", "guild_id", guildID, "channel_id", args.ChannelID, "session_id", s.id)
	return s, nil
}

// Session is one joined voice channel.
type Session struct {
	id      string
	guildID string
	conn    audio.Connection
	player  *player.Player

	destroyOnce sync.Once
	destroyErr  error
}

var _ playback.Session = (*Session)(nil)

// ID implements [playback.Session]. IDs are unique per Open call.
func (s *Session) ID() string { return s.id }

// Play implements [playback.Session].
func (s *Session) Play(stream io.ReadCloser, done func(error)) error {
	if err := s.player.Play(stream, done); err != nil {
		return fmt.Errorf("voice: play in guild %s: %w", s.guildID, err)
	}
	return nil
}

// StopCurrent implements [playback.Session]. It returns once no more frames
// of the stopped stream will be sent.
func (s *Session) StopCurrent() {
	s.player.Stop()
}

// OnDisconnect implements [playback.Session].
func (s *Session) OnDisconnect(cb func()) {
	s.conn.OnDisconnect(cb)
}

// Destroy implements [playback.Session]. Only the first call has an effect.
func (s *Session) Destroy() error {
	s.destroyOnce.Do(func() {
		_ = s.player.Close()
		if err := s.conn.Disconnect(); err != nil {
			s.destroyErr = fmt.Errorf("voice: leave guild %s: %w", s.guildID, err)
		}
		slog.Debug("voice: session destroyed", "guild_id", s.guildID, "session_id", s.id)
	})
	return s.destroyErr
}
