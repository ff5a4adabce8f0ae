package discord

import (
	"log/slog"
	"sync"

	"github.com/MrWong99/vibot/pkg/audio"
	"github.com/bwmarrin/discordgo"
)

// Compile-time interface assertion.
var _ audio.Connection = (*Connection)(nil)

const outputChannelBuffer = 16

// Connection wraps a discordgo.VoiceConnection and adapts it to the
// [audio.Connection] interface. Outgoing PCM frames are sliced into exact
// 20 ms chunks, Opus-encoded and handed to discordgo, which paces them onto
// the wire.
//
// Connection is safe for concurrent use.
type Connection struct {
	vc        *discordgo.VoiceConnection
	guildID   string
	botUserID string

	output chan audio.AudioFrame

	disconnectCb func()
	cbMu         sync.Mutex

	done      chan struct{}
	closeOnce sync.Once

	removeHandler func() // removes the VoiceStateUpdate handler

	// disconnectVC tears down the voice connection during Disconnect.
	// Defaults to vc.Disconnect; overridden in tests.
	disconnectVC func() error

	// speaking toggles the speaking indicator. Defaults to vc.Speaking.
	speaking func(bool) error
}

// newConnection initialises a Connection for an already-joined voice channel
// and starts the send loop. botUserID identifies the bot's own voice state
// updates; when empty, forced disconnects are not detected.
func newConnection(vc *discordgo.VoiceConnection, guildID, botUserID string) *Connection {
	c := &Connection{
		vc:           vc,
		guildID:      guildID,
		botUserID:    botUserID,
		output:       make(chan audio.AudioFrame, outputChannelBuffer),
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
		speaking:     vc.Speaking,
	}
	go c.sendLoop()
	return c
}

// OutputStream returns the write-only channel for outbound PCM.
func (c *Connection) OutputStream() chan<- audio.AudioFrame {
	return c.output
}

// OnDisconnect registers cb to run when Discord drops the bot from the
// voice channel. Only one callback is kept; subsequent calls replace it.
func (c *Connection) OnDisconnect(cb func()) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.disconnectCb = cb
}

// Disconnect leaves the voice channel and stops the send loop. It is safe to
// call more than once; subsequent calls return nil.
func (c *Connection) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		if c.removeHandler != nil {
			c.removeHandler()
		}
		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}
	})
	return err
}

func (c *Connection) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// sendLoop reads PCM frames from the output channel, extracts exact Opus
// frame-sized chunks, encodes them and sends them via the voice connection.
// The speaking flag is raised while frames flow and lowered once the output
// channel runs dry.
func (c *Connection) sendLoop() {
	enc, err := newOpusEncoder()
	if err != nil {
		slog.Error("discord: failed to create opus encoder", "guild_id", c.guildID, "err", err)
		return
	}

	speakingSet := false
	var buf []byte

	for {
		var frame audio.AudioFrame
		select {
		case <-c.done:
			if speakingSet {
				c.setSpeaking(false)
			}
			return
		case frame = <-c.output:
		default:
			// Nothing queued: the stream paused or ended, so drop the
			// partial remainder and stop advertising speech.
			if speakingSet {
				c.setSpeaking(false)
				speakingSet = false
			}
			buf = buf[:0]
			select {
			case <-c.done:
				return
			case frame = <-c.output:
			}
		}

		if !frame.Matches() {
			slog.Warn("discord: dropping frame with foreign format",
				"guild_id", c.guildID, "sample_rate", frame.SampleRate, "channels", frame.Channels)
			continue
		}

		if !speakingSet {
			c.setSpeaking(true)
			speakingSet = true
		}

		buf = append(buf, frame.Data...)
		for len(buf) >= opusFrameBytes {
			packet, eErr := enc.encode(buf[:opusFrameBytes])
			buf = buf[opusFrameBytes:]
			if eErr != nil {
				slog.Warn("discord: opus encode error", "guild_id", c.guildID, "err", eErr)
				continue
			}

			select {
			case c.vc.OpusSend <- packet:
			case <-c.done:
				return
			}
		}
	}
}

// handleVoiceStateUpdate watches the bot's own voice state. A state with no
// channel in our guild that we did not request means Discord removed us.
func (c *Connection) handleVoiceStateUpdate(_ *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if vsu == nil || vsu.VoiceState == nil {
		return
	}
	if c.botUserID == "" || vsu.UserID != c.botUserID || vsu.GuildID != c.guildID {
		return
	}
	if vsu.ChannelID != "" || c.closed() {
		return
	}

	slog.Info("discord: voice connection dropped by server", "guild_id", c.guildID)
	c.cbMu.Lock()
	cb := c.disconnectCb
	c.cbMu.Unlock()
	if cb != nil {
		go cb()
	}
}

// setSpeaking sends a speaking notification to Discord, logging any errors.
func (c *Connection) setSpeaking(b bool) {
	if c.speaking == nil {
		return
	}
	if err := c.speaking(b); err != nil {
		slog.Debug("discord: speaking notification error", "guild_id", c.guildID, "speaking", b, "err", err)
	}
}
