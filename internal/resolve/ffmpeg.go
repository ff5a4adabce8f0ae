package resolve

import (
	"context"
	"io"
	"os/exec"
	"strconv"

	"github.com/MrWong99/vibot/pkg/audio"
)

// DefaultFFmpeg is the ffmpeg executable looked up on PATH.
const DefaultFFmpeg = "ffmpeg"

// ffmpegCommand decodes input to raw PCM on stdout in the player's format.
// inputArgs go before -i.
func ffmpegCommand(ctx context.Context, bin, input string, inputArgs ...string) *exec.Cmd {
	if bin == "" {
		bin = DefaultFFmpeg
	}
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error"}
	args = append(args, inputArgs...)
	args = append(args,
		"-i", input,
		"-vn",
		"-f", "s16le",
		"-ar", strconv.Itoa(audio.SampleRate),
		"-ac", strconv.Itoa(audio.Channels),
		"pipe:1",
	)
	return exec.CommandContext(ctx, bin, args...)
}

// Direct streams a locator by handing it straight to ffmpeg. It suits plain
// media URLs and serves as the fallback when extraction is unavailable.
type Direct struct {
	// FFmpeg is the ffmpeg executable. Default: [DefaultFFmpeg].
	FFmpeg string
}

var _ Source = (*Direct)(nil)

// Name implements [Source].
func (d *Direct) Name() string { return "direct" }

// Open implements [Source].
func (d *Direct) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	ctx, cancel := context.WithCancel(ctx)
	cmd := ffmpegCommand(ctx, d.FFmpeg, locator,
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5",
	)
	return startPipeline(cancel, newStage("ffmpeg", cmd))
}
