package resolve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
)

const (
	// DefaultYTDLP is the yt-dlp executable looked up on PATH.
	DefaultYTDLP = "yt-dlp"

	// DefaultFormat selects the best audio-only format, preferring webm/opus.
	DefaultFormat = "bestaudio[ext=webm]/bestaudio"
)

// YTDLP extracts audio with yt-dlp and decodes it with ffmpeg. It also
// implements [Describer].
type YTDLP struct {
	// Binary is the yt-dlp executable. Default: [DefaultYTDLP].
	Binary string

	// Format is the yt-dlp format selector. Default: [DefaultFormat].
	Format string

	// FFmpeg is the ffmpeg executable. Default: [DefaultFFmpeg].
	FFmpeg string
}

var (
	_ Source    = (*YTDLP)(nil)
	_ Describer = (*YTDLP)(nil)
)

// Name implements [Source].
func (y *YTDLP) Name() string { return "ytdlp" }

func (y *YTDLP) command() *ytdlp.Command {
	bin := y.Binary
	if bin == "" {
		bin = DefaultYTDLP
	}
	return ytdlp.New().
		SetExecutable(bin).
		NoWarnings().
		IgnoreConfig()
}

// extractCommand writes the selected audio format of locator to stdout.
func (y *YTDLP) extractCommand(ctx context.Context, locator string) *exec.Cmd {
	format := y.Format
	if format == "" {
		format = DefaultFormat
	}
	return y.command().
		Format(format).
		Output("-").
		NoPart().
		NoPlaylist().
		BuildCommand(ctx, locator)
}

// Open implements [Source].
func (y *YTDLP) Open(ctx context.Context, locator string) (io.ReadCloser, error) {
	ctx, cancel := context.WithCancel(ctx)
	return startPipeline(cancel,
		newStage("yt-dlp", y.extractCommand(ctx, locator)),
		newStage("ffmpeg", ffmpegCommand(ctx, y.FFmpeg, "pipe:0")),
	)
}

// Describe implements [Describer].
func (y *YTDLP) Describe(ctx context.Context, locator string) (Metadata, error) {
	res, err := y.command().
		Print("%(title)s\t%(duration)s").
		NoPlaylist().
		Run(ctx, "--skip-download", locator)
	if err != nil {
		return Metadata{}, fmt.Errorf("resolve: describe %q: %w", locator, err)
	}
	md, err := parseMetadata(res.Stdout)
	if err != nil {
		return Metadata{}, fmt.Errorf("resolve: describe %q: %w", locator, err)
	}
	return md, nil
}

// parseMetadata reads the first "title<TAB>duration" line printed by yt-dlp.
// yt-dlp prints "NA" for unknown fields.
func parseMetadata(out string) (Metadata, error) {
	for line := range strings.SplitSeq(strings.TrimSpace(out), "\n") {
		title, dur, ok := strings.Cut(strings.TrimRight(line, "\r"), "\t")
		if !ok {
			continue
		}
		md := Metadata{}
		if title != "NA" {
			md.Title = strings.TrimSpace(title)
		}
		if d, err := time.ParseDuration(strings.TrimSpace(dur) + "s"); err == nil && d > 0 {
			md.Duration = d
		}
		return md, nil
	}
	return Metadata{}, errors.New("no metadata in yt-dlp output")
}
