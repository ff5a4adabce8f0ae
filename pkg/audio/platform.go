// Package audio defines the voice-channel abstractions the playback stack is
// built on.
//
// The two primary abstractions are:
//
//   - [Platform] joins a voice channel in a guild and returns a [Connection].
//   - [Connection] is an active voice session that accepts outbound PCM frames
//     and reports when the platform drops the bot from the channel.
//
// Implementations live in platform-specific adapter packages (e.g.
// audio/discord). The interfaces stay narrow so the playback core never sees
// provider details.
package audio

import (
	"context"
)

// Connection represents an active session on a voice channel.
//
// A Connection is obtained by calling [Platform.Connect] and remains valid
// until [Connection.Disconnect] is called or the platform drops the session.
// Implementations must be safe for concurrent use.
type Connection interface {
	// OutputStream returns the write-only channel that carries outbound PCM.
	// Frames written here are encoded and transmitted to the channel. The
	// channel is never closed by the connection; writers must select on their
	// own cancellation signal.
	OutputStream() chan<- AudioFrame

	// OnDisconnect registers cb to run once when the platform removes the
	// connection without a call to Disconnect (kicked, moved out, network
	// loss). Only one callback is kept; later calls replace it. cb is invoked
	// on its own goroutine.
	OnDisconnect(cb func())

	// Disconnect leaves the voice channel and releases all resources.
	// It is safe to call more than once; subsequent calls return nil.
	Disconnect() error
}

// Platform is the entry point for a voice transport.
type Platform interface {
	// Connect joins the voice channel channelID in guild guildID.
	// ctx bounds the join handshake only; the returned Connection outlives it.
	Connect(ctx context.Context, guildID, channelID string) (Connection, error)
}
