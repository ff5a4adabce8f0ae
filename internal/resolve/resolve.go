// Package resolve turns remote source locators into raw PCM streams
// (signed 16-bit little-endian, 48 kHz, stereo) that the voice player can
// send without further conversion.
//
// A [Source] runs an external pipeline: [YTDLP] extracts the audio with
// yt-dlp and decodes it with ffmpeg, [Direct] hands the locator straight to
// ffmpeg. A [Chain] tries several sources in order behind per-source circuit
// breakers and implements the playback resolver contract.
package resolve

import (
	"context"
	"io"
	"time"
)

// Source opens a locator as a PCM stream.
//
// Open returns once the underlying processes have started. Failures that
// happen later surface as the stream's read error. Closing the stream stops
// every process belonging to it.
type Source interface {
	// Name identifies the source in logs, metrics and configuration.
	Name() string

	// Open starts streaming locator.
	Open(ctx context.Context, locator string) (io.ReadCloser, error)
}

// Metadata is display information about a locator.
type Metadata struct {
	Title    string
	Duration time.Duration
}

// Describer looks up display metadata without downloading the media.
type Describer interface {
	Describe(ctx context.Context, locator string) (Metadata, error)
}
