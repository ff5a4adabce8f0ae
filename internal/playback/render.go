package playback

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
)

// DefaultMaxMessageLength is Discord's message size limit.
const DefaultMaxMessageLength = 2000

const (
	// MsgQueueEmpty is rendered for a guild with nothing playing or queued.
	MsgQueueEmpty = "The music queue is currently empty."

	queueHeader    = "**Current Music Queue:**"
	nowPlayingTag  = "\n**Now Playing:** "
	upNextHeader   = "\n**Up Next:**"
	maxTitleLength = 120
)

// RenderQueue formats s as a chat message of at most maxLen bytes.
//
// Upcoming items are listed in order until the next line would leave no room
// for the truncation marker; the remaining count is then reported as
// "… and N more". The returned text is always usable. When items were
// omitted, the error is an [*Error] of kind [ErrCapacity].
func RenderQueue(s Snapshot, maxLen int, now time.Time) (string, error) {
	if maxLen <= 0 {
		maxLen = DefaultMaxMessageLength
	}
	if s.Empty() {
		return MsgQueueEmpty, nil
	}

	// The header, the now-playing line and the worst-case marker always fit;
	// the now-playing title gives way first.
	reserve := 0
	if len(s.Upcoming) > 0 {
		reserve = len(upNextHeader) + len(moreMarker(len(s.Upcoming)))
	}

	var b strings.Builder
	b.WriteString(queueHeader)
	if s.NowPlaying != nil {
		b.WriteString(nowPlayingLine(*s.NowPlaying, maxLen-len(queueHeader)-reserve))
	}
	if len(s.Upcoming) > 0 {
		b.WriteString(upNextHeader)
	}

	omitted := 0
	for i, ref := range s.Upcoming {
		line := fmt.Sprintf("\n%d. %s · added %s", i+1, describe(ref), humanize.RelTime(ref.AddedAt, now, "ago", "from now"))
		left := len(s.Upcoming) - i - 1
		need := len(line)
		if left > 0 {
			need += len(moreMarker(left))
		}
		if b.Len()+need > maxLen {
			omitted = len(s.Upcoming) - i
			b.WriteString(moreMarker(omitted))
			break
		}
		b.WriteString(line)
	}

	// Only a limit smaller than the header plus the marker gets here.
	text := clipBytes(b.String(), maxLen)
	if omitted > 0 {
		return text, newError(ErrCapacity, "", "render", fmt.Errorf("%d of %d queued items omitted", omitted, len(s.Upcoming)))
	}
	return text, nil
}

// nowPlayingLine renders the now-playing line in at most budget bytes. The
// title is clipped first, then the requester is dropped.
func nowPlayingLine(ref SourceRef, budget int) string {
	title := clipRunes(ref.DisplayName(), maxTitleLength)
	var dur, by string
	if ref.Duration > 0 {
		dur = " [" + FormatDuration(ref.Duration) + "]"
	}
	if ref.RequestedBy != "" {
		by = " · requested by " + ref.RequestedBy
	}

	line := nowPlayingTag + title + dur + by
	if len(line) <= budget {
		return line
	}
	const minTitle = 16
	if budget-len(nowPlayingTag)-len(dur)-len(by) < minTitle {
		by = ""
	}
	room := budget - len(nowPlayingTag) - len(dur) - len(by)
	if room <= 0 {
		return clipBytes(nowPlayingTag+title, budget)
	}
	return nowPlayingTag + clipBytes(title, room) + dur + by
}

func moreMarker(n int) string {
	return "\n… and " + humanize.Comma(int64(n)) + " more"
}

// describe renders one item as "title [m:ss]".
func describe(ref SourceRef) string {
	name := clipRunes(ref.DisplayName(), maxTitleLength)
	if ref.Duration <= 0 {
		return name
	}
	return name + " [" + FormatDuration(ref.Duration) + "]"
}

// FormatDuration renders d as m:ss, or h:mm:ss from one hour up.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	sec := int(d % time.Minute / time.Second)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%d:%02d", m, sec)
}

func clipRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-1]) + "…"
}

// clipBytes cuts s to at most n bytes on a rune boundary, ending in "…".
func clipBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	const ellipsis = "…"
	cut := n - len(ellipsis)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut <= 0 {
		return s[:0]
	}
	return s[:cut] + ellipsis
}
