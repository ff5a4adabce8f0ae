// Package player pumps a single PCM byte stream at a time into an
// [audio.Connection] output channel.
//
// A [Player] owns at most one active stream. Every stream handed to
// [Player.Play] produces exactly one terminal callback: nil when the stream
// reached EOF or was stopped, the read error otherwise.
package player

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/MrWong99/vibot/pkg/audio"
)

var (
	// ErrBusy is returned by [Player.Play] while another stream is active.
	ErrBusy = errors.New("player: a stream is already active")

	// ErrClosed is returned by [Player.Play] after [Player.Close].
	ErrClosed = errors.New("player: closed")
)

// track is one stream in flight.
type track struct {
	r         io.ReadCloser
	cancel    chan struct{} // closed to interrupt the pump
	stopped   chan struct{} // closed once the pump no longer writes frames
	closeOnce sync.Once
}

func (t *track) interrupt() {
	t.closeOnce.Do(func() {
		close(t.cancel)
		// Closing the reader unblocks a pump parked in Read.
		_ = t.r.Close()
	})
}

func (t *track) interrupted() bool {
	select {
	case <-t.cancel:
		return true
	default:
		return false
	}
}

// Player streams PCM from an [io.ReadCloser] into an output channel in
// [audio.FrameBytes] chunks. The output consumer paces playback; the player
// itself never sleeps.
//
// All exported methods are safe for concurrent use.
type Player struct {
	out chan<- audio.AudioFrame

	mu     sync.Mutex
	cur    *track
	closed bool
}

// New creates a Player that writes frames to out.
func New(out chan<- audio.AudioFrame) *Player {
	return &Player{out: out}
}

// Play starts pumping r into the output channel on a background goroutine
// and returns immediately. done is invoked exactly once, from that goroutine
// and never before Play returns, after the stream has been closed and the
// player is ready for the next stream. The player owns r from here on.
//
// If a stream is already active, Play returns [ErrBusy] and leaves r
// untouched.
func (p *Player) Play(r io.ReadCloser, done func(error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if p.cur != nil {
		return ErrBusy
	}

	t := &track{
		r:       r,
		cancel:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
	p.cur = t
	go p.pump(t, done)
	return nil
}

// Stop interrupts the active stream and blocks until the pump has stopped
// writing frames. The stream's done callback still fires (with nil) but may
// run after Stop returns. Reports whether a stream was active.
func (p *Player) Stop() bool {
	p.mu.Lock()
	t := p.cur
	p.mu.Unlock()

	if t == nil {
		return false
	}
	t.interrupt()
	<-t.stopped
	return true
}

// Active reports whether a stream is currently being pumped.
func (p *Player) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur != nil
}

// Close stops any active stream and rejects further Play calls. Close is
// idempotent.
func (p *Player) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.Stop()
	return nil
}

func (p *Player) pump(t *track, done func(error)) {
	err := p.stream(t)
	if t.interrupted() {
		err = nil
	}
	t.closeOnce.Do(func() { _ = t.r.Close() })

	p.mu.Lock()
	if p.cur == t {
		p.cur = nil
	}
	p.mu.Unlock()
	close(t.stopped)

	if done != nil {
		done(err)
	}
}

// stream copies whole frames until EOF, a read error or an interrupt. A
// trailing short frame is zero-padded.
func (p *Player) stream(t *track) error {
	var ts time.Duration
	for {
		buf := make([]byte, audio.FrameBytes)
		n, err := io.ReadFull(t.r, buf)
		if n > 0 {
			frame := audio.AudioFrame{
				Data:       buf,
				SampleRate: audio.SampleRate,
				Channels:   audio.Channels,
				Timestamp:  ts,
			}
			select {
			case p.out <- frame:
			case <-t.cancel:
				return nil
			}
			ts += audio.FrameDuration
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil
		default:
			return err
		}
	}
}
