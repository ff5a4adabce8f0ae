// Package mock provides in-memory mock implementations of the [audio.Platform]
// and [audio.Connection] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	out := make(chan audio.AudioFrame, 16)
//	conn := &mock.Connection{OutputStreamResult: out}
//	platform := &mock.Platform{ConnectResult: conn}
//	got, err := platform.Connect(ctx, "guild-1", "channel-42")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/vibot/pkg/audio"
)

// ─── Connection ───────────────────────────────────────────────────────────────

// Connection is a mock implementation of [audio.Connection].
// Set the exported Result fields before use; inspect the Call* fields after.
type Connection struct {
	mu sync.Mutex

	// OutputStreamResult is returned by [Connection.OutputStream].
	OutputStreamResult chan<- audio.AudioFrame

	// DisconnectError is returned by [Connection.Disconnect].
	DisconnectError error

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	// CallCountOnDisconnect records how many times OnDisconnect was called.
	CallCountOnDisconnect int

	disconnectCb func()
}

// OutputStream implements [audio.Connection]. Returns OutputStreamResult.
func (c *Connection) OutputStream() chan<- audio.AudioFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.OutputStreamResult
}

// OnDisconnect implements [audio.Connection]. The latest callback wins; use
// [Connection.Drop] to fire it.
func (c *Connection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountOnDisconnect++
	c.disconnectCb = cb
}

// Disconnect implements [audio.Connection]. Returns DisconnectError.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountDisconnect++
	return c.DisconnectError
}

// Drop simulates the platform removing the connection. It invokes the
// registered disconnect callback synchronously and reports whether one was set.
func (c *Connection) Drop() bool {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb == nil {
		return false
	}
	cb()
	return true
}

// Disconnects returns CallCountDisconnect under the lock.
func (c *Connection) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountDisconnect
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// ConnectCall records the arguments of a single [Platform.Connect] invocation.
type ConnectCall struct {
	GuildID   string
	ChannelID string
}

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// ConnectResult is the [audio.Connection] returned by Connect.
	ConnectResult audio.Connection

	// ConnectError is the error returned by Connect.
	ConnectError error

	// ConnectCalls records all Connect invocations.
	ConnectCalls []ConnectCall
}

// Connect implements [audio.Platform]. Records the call and returns ConnectResult / ConnectError.
func (p *Platform) Connect(_ context.Context, guildID, channelID string) (audio.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{GuildID: guildID, ChannelID: channelID})
	if p.ConnectError != nil {
		return nil, p.ConnectError
	}
	return p.ConnectResult, nil
}

// Calls returns a copy of ConnectCalls.
func (p *Platform) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConnectCall, len(p.ConnectCalls))
	copy(out, p.ConnectCalls)
	return out
}
