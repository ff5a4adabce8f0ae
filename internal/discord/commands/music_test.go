package commands

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/vibot/internal/discord"
	"github.com/MrWong99/vibot/internal/discord/mock"
	"github.com/MrWong99/vibot/internal/playback"
	"github.com/MrWong99/vibot/internal/resolve"
)

// fakePlayer records calls and returns canned results.
type fakePlayer struct {
	mu sync.Mutex

	enqueueRes playback.EnqueueResult
	enqueueErr error
	skipRes    playback.SkipResult
	stopErr    error
	leaveRes   playback.LeaveResult
	snapshot   playback.Snapshot

	enqueued []playback.SourceRef
	args     []playback.JoinArgs
	notifies []playback.Notifier
	calls    []string
}

func (p *fakePlayer) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *fakePlayer) Enqueue(_ context.Context, guildID string, ref playback.SourceRef, n playback.Notifier, args playback.JoinArgs) (playback.EnqueueResult, error) {
	p.record("enqueue:" + guildID)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enqueued = append(p.enqueued, ref)
	p.args = append(p.args, args)
	p.notifies = append(p.notifies, n)
	if p.enqueueErr != nil {
		return playback.EnqueueResult{}, p.enqueueErr
	}
	res := p.enqueueRes
	res.Ref = ref
	return res, nil
}

func (p *fakePlayer) Skip(_ context.Context, guildID string) (playback.SkipResult, error) {
	p.record("skip:" + guildID)
	return p.skipRes, nil
}

func (p *fakePlayer) Stop(_ context.Context, guildID string) (playback.StopResult, error) {
	p.record("stop:" + guildID)
	return playback.StopResult{}, p.stopErr
}

func (p *fakePlayer) Leave(_ context.Context, guildID string) (playback.LeaveResult, error) {
	p.record("leave:" + guildID)
	return p.leaveRes, nil
}

func (p *fakePlayer) QueueSnapshot(guildID string) playback.Snapshot {
	p.record("queue:" + guildID)
	return p.snapshot
}

type fakeDescriber struct {
	md  resolve.Metadata
	err error
}

func (d fakeDescriber) Describe(context.Context, string) (resolve.Metadata, error) {
	return d.md, d.err
}

type fixture struct {
	player *fakePlayer
	router *discord.CommandRouter
	resp   *mock.InteractionResponder
	voice  map[string]string
}

func newFixture(t *testing.T, describer resolve.Describer) *fixture {
	t.Helper()
	f := &fixture{
		player: &fakePlayer{},
		router: discord.NewCommandRouter(),
		resp:   &mock.InteractionResponder{},
		voice:  map[string]string{"user-1": "voice-1"},
	}
	mc := NewMusicCommands(MusicConfig{
		Player: f.player,
		Voice: func(guildID, userID string) string {
			return f.voice[userID]
		},
		Notifier: func(channelID string) playback.Notifier {
			return discord.NewChannelNotifier(&mock.MessageSender{}, channelID)
		},
		Describer: describer,
		Now:       func() time.Time { return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) },
	})
	mc.Register(f.router)
	return f
}

func interaction(sub string, opts ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			Type:      discordgo.InteractionApplicationCommand,
			GuildID:   "guild-1",
			ChannelID: "text-1",
			Member: &discordgo.Member{
				Nick: "alice",
				User: &discordgo.User{ID: "user-1", Username: "alice_"},
			},
			Data: discordgo.ApplicationCommandInteractionData{
				Name: "music",
				Options: []*discordgo.ApplicationCommandInteractionDataOption{
					{Name: sub, Type: discordgo.ApplicationCommandOptionSubCommand, Options: opts},
				},
			},
		},
	}
}

func playInteraction(url string) *discordgo.InteractionCreate {
	return interaction("play", &discordgo.ApplicationCommandInteractionDataOption{
		Name:  "url",
		Type:  discordgo.ApplicationCommandOptionString,
		Value: url,
	})
}

// reply returns the text the user ends up seeing.
func (f *fixture) reply(t *testing.T) string {
	t.Helper()
	if fu := f.resp.LastFollowUp(); fu != nil {
		return fu.Content
	}
	last := f.resp.LastResponse()
	if last == nil || last.Data == nil {
		t.Fatal("no reply recorded")
	}
	return last.Data.Content
}

func TestPlay_NowPlaying(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fakeDescriber{md: resolve.Metadata{Title: "Song A", Duration: 3 * time.Minute}})
	f.player.enqueueRes = playback.EnqueueResult{Outcome: playback.OutcomeNowPlaying}

	f.router.Handle(f.resp, playInteraction("  https://youtu.be/a  "))

	if got, want := f.reply(t), "🎶 Now playing: Song A"; got != want {
		t.Errorf("reply = %q, want %q", got, want)
	}
	if first := f.resp.Responses[0]; first.Type != discordgo.InteractionResponseDeferredChannelMessageWithSource {
		t.Errorf("first response type = %v, want deferred", first.Type)
	}

	ref := f.player.enqueued[0]
	if ref.Locator != "https://youtu.be/a" {
		t.Errorf("locator = %q, want trimmed URL", ref.Locator)
	}
	if ref.RequestedBy != "alice" || ref.Duration != 3*time.Minute {
		t.Errorf("ref = %+v", ref)
	}
	if f.player.args[0].ChannelID != "voice-1" {
		t.Errorf("join channel = %q, want voice-1", f.player.args[0].ChannelID)
	}
	if n, ok := f.player.notifies[0].(*discord.ChannelNotifier); !ok || n == nil {
		t.Errorf("notifier = %T, want *discord.ChannelNotifier", f.player.notifies[0])
	}
}

func TestPlay_Queued(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.player.enqueueRes = playback.EnqueueResult{Outcome: playback.OutcomeQueued, Position: 2}

	f.router.Handle(f.resp, playInteraction("https://youtu.be/b"))

	if got, want := f.reply(t), "🎶 Added to queue: https://youtu.be/b"; got != want {
		t.Errorf("reply = %q, want %q", got, want)
	}
}

func TestPlay_MetadataFailureFallsBackToLocator(t *testing.T) {
	t.Parallel()

	f := newFixture(t, fakeDescriber{err: errors.New("yt-dlp exited 1")})
	f.player.enqueueRes = playback.EnqueueResult{Outcome: playback.OutcomeNowPlaying}

	f.router.Handle(f.resp, playInteraction("https://youtu.be/c"))

	if got, want := f.reply(t), "🎶 Now playing: https://youtu.be/c"; got != want {
		t.Errorf("reply = %q, want %q", got, want)
	}
	if f.player.enqueued[0].Title != "" {
		t.Errorf("title = %q, want empty", f.player.enqueued[0].Title)
	}
}

func TestPlay_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		interaction func() *discordgo.InteractionCreate
		voice       map[string]string
		want        string
	}{
		{
			name:        "empty url",
			interaction: func() *discordgo.InteractionCreate { return playInteraction("   ") },
			want:        MsgInvalidLocator,
		},
		{
			name:        "caller not in voice",
			interaction: func() *discordgo.InteractionCreate { return playInteraction("https://youtu.be/a") },
			voice:       map[string]string{},
			want:        MsgNotInVoice,
		},
		{
			name: "outside a guild",
			interaction: func() *discordgo.InteractionCreate {
				i := playInteraction("https://youtu.be/a")
				i.GuildID = ""
				return i
			},
			want: MsgGuildOnly,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, nil)
			if tt.voice != nil {
				f.voice = tt.voice
			}
			f.router.Handle(f.resp, tt.interaction())

			if got := f.reply(t); got != tt.want {
				t.Errorf("reply = %q, want %q", got, tt.want)
			}
			if len(f.player.enqueued) != 0 {
				t.Errorf("enqueued %d items, want 0", len(f.player.enqueued))
			}
		})
	}
}

func TestPlay_EnqueueErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "invalid locator",
			err:  &playback.Error{Kind: playback.ErrInvalidInput, Op: "enqueue"},
			want: MsgInvalidLocator,
		},
		{
			name: "join failed",
			err:  &playback.Error{Kind: playback.ErrTransport, Op: "enqueue", Err: errors.New("timeout")},
			want: MsgJoinFailed,
		},
		{
			name: "closed",
			err:  &playback.Error{Kind: playback.ErrTransport, Op: "enqueue", Err: playback.ErrClosed},
			want: MsgUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, nil)
			f.player.enqueueErr = tt.err
			f.router.Handle(f.resp, playInteraction("https://youtu.be/a"))
			if got := f.reply(t); got != tt.want {
				t.Errorf("reply = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSkip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		res  playback.SkipResult
		want string
	}{
		{name: "skipped", res: playback.SkipResult{Skipped: true}, want: MsgSkipped},
		{name: "nothing playing", res: playback.SkipResult{}, want: MsgNothingPlaying},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, nil)
			f.player.skipRes = tt.res
			f.router.Handle(f.resp, interaction("skip"))
			if got := f.reply(t); got != tt.want {
				t.Errorf("reply = %q, want %q", got, tt.want)
			}
			if f.player.calls[0] != "skip:guild-1" {
				t.Errorf("calls = %v", f.player.calls)
			}
		})
	}
}

func TestStop(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.router.Handle(f.resp, interaction("stop"))
	if got := f.reply(t); got != MsgStopped {
		t.Errorf("reply = %q, want %q", got, MsgStopped)
	}

	f.resp.Reset()
	f.player.stopErr = &playback.Error{Kind: playback.ErrTransport, Err: playback.ErrClosed}
	f.router.Handle(f.resp, interaction("stop"))
	if got := f.reply(t); got != MsgUnavailable {
		t.Errorf("reply after close = %q, want %q", got, MsgUnavailable)
	}
}

func TestLeave(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		res  playback.LeaveResult
		want string
	}{
		{name: "left", res: playback.LeaveResult{Left: true}, want: MsgLeft},
		{name: "not connected", res: playback.LeaveResult{}, want: MsgNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, nil)
			f.player.leaveRes = tt.res
			f.router.Handle(f.resp, interaction("leave"))
			if got := f.reply(t); got != tt.want {
				t.Errorf("reply = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestQueue(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.router.Handle(f.resp, interaction("queue"))
	if got, want := f.reply(t), "The music queue is currently empty."; got != want {
		t.Errorf("empty reply = %q, want %q", got, want)
	}

	f.resp.Reset()
	f.player.snapshot = playback.Snapshot{
		State:      playback.StatePlaying,
		NowPlaying: &playback.SourceRef{Locator: "https://youtu.be/a", Title: "Song A", RequestedBy: "alice"},
		Upcoming:   []playback.SourceRef{{Locator: "https://youtu.be/b", Title: "Song B"}},
	}
	f.router.Handle(f.resp, interaction("queue"))
	got := f.reply(t)
	for _, want := range []string{"**Current Music Queue:**", "Song A", "1. Song B"} {
		if !strings.Contains(got, want) {
			t.Errorf("reply %q does not contain %q", got, want)
		}
	}
}

func TestDefinition(t *testing.T) {
	t.Parallel()

	def := NewMusicCommands(MusicConfig{}).Definition()
	if def.Name != "music" {
		t.Fatalf("name = %q, want music", def.Name)
	}
	var subs []string
	for _, o := range def.Options {
		subs = append(subs, o.Name)
	}
	if got, want := strings.Join(subs, ","), "play,skip,stop,queue,leave"; got != want {
		t.Errorf("subcommands = %s, want %s", got, want)
	}
	if play := def.Options[0]; len(play.Options) != 1 || !play.Options[0].Required {
		t.Error("play must take one required url option")
	}
}
