package audio

import "time"

// Discord-compatible PCM layout used across the playback stack: 48 kHz,
// interleaved stereo, signed 16-bit little-endian.
const (
	SampleRate     = 48000
	Channels       = 2
	BytesPerSample = 2

	// FrameDuration is the length of one transmitted frame.
	FrameDuration = 20 * time.Millisecond

	// FrameBytes is the PCM size of one 20 ms frame: 960 × 2 × 2.
	FrameBytes = SampleRate / 1000 * int(FrameDuration/time.Millisecond) * Channels * BytesPerSample
)

// AudioFrame is one chunk of PCM audio headed for a voice connection.
type AudioFrame struct {
	// Data is interleaved s16le PCM.
	Data []byte

	// SampleRate in Hz. Connections reject frames that do not match [SampleRate].
	SampleRate int

	// Channels is the interleaved channel count.
	Channels int

	// Timestamp is the offset of this frame from the start of its stream.
	Timestamp time.Duration
}

// Matches reports whether f is in the stack's native PCM layout.
func (f AudioFrame) Matches() bool {
	return f.SampleRate == SampleRate && f.Channels == Channels
}
