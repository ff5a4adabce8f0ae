// Package discord provides an [audio.Platform] implementation backed by
// Discord voice channels via the bwmarrin/discordgo library. It bridges
// Discord's Opus-based voice transport with the PCM [audio.AudioFrame]
// pipeline.
//
// A single Platform serves every guild the bot is in. Each call to
// [Platform.Connect] joins the requested voice channel and returns a
// [Connection] that encodes outbound audio and reports forced disconnects.
package discord

import (
	"context"
	"fmt"

	"github.com/MrWong99/vibot/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// Compile-time interface assertion.
var _ audio.Platform = (*Platform)(nil)

// Platform implements [audio.Platform] using discordgo voice connections.
// It requires an open *discordgo.Session (owned by the bot layer).
//
// Platform is safe for concurrent use.
type Platform struct {
	session *discordgo.Session
}

// New creates a Discord Platform on top of session.
func New(session *discordgo.Session) *Platform {
	return &Platform{session: session}
}

// Connect joins the voice channel identified by channelID in guildID and
// returns an active [audio.Connection]. The bot joins self-deafened because
// it only ever transmits. ctx bounds the join; if it expires first the
// half-open voice connection is torn down.
func (p *Platform) Connect(ctx context.Context, guildID, channelID string) (audio.Connection, error) {
	type joinResult struct {
		vc  *discordgo.VoiceConnection
		err error
	}
	ch := make(chan joinResult, 1)
	go func() {
		vc, err := p.session.ChannelVoiceJoin(guildID, channelID, false, true)
		ch <- joinResult{vc: vc, err: err}
	}()

	var res joinResult
	select {
	case res = <-ch:
	case <-ctx.Done():
		go func() {
			if late := <-ch; late.vc != nil {
				_ = late.vc.Disconnect()
			}
		}()
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, ctx.Err())
	}
	if res.err != nil {
		if res.vc != nil {
			_ = res.vc.Disconnect()
		}
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, res.err)
	}

	conn := newConnection(res.vc, guildID, p.botUserID())
	conn.removeHandler = p.session.AddHandler(conn.handleVoiceStateUpdate)
	return conn, nil
}

func (p *Platform) botUserID() string {
	if p.session.State == nil || p.session.State.User == nil {
		return ""
	}
	return p.session.State.User.ID
}
