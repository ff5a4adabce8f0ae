// Package commands implements Discord slash command handlers for vibot.
package commands

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/vibot/internal/discord"
	"github.com/MrWong99/vibot/internal/observe"
	"github.com/MrWong99/vibot/internal/playback"
	"github.com/MrWong99/vibot/internal/resolve"
)

// Replies sent by the /music command group.
const (
	MsgInvalidLocator = "Please provide a valid YouTube URL."
	MsgNotInVoice     = "You're not in a voice channel."
	MsgGuildOnly      = "This command only works inside a server."
	MsgSkipped        = "Skipped the current song."
	MsgNothingPlaying = "There is no song playing right now."
	MsgStopped        = "Stopped the music and cleared the queue."
	MsgLeft           = "Left the voice channel and cleared the queue."
	MsgNotConnected   = "I am not in a voice channel."
	MsgJoinFailed     = "I couldn't join your voice channel. Please try again later."
	MsgUnavailable    = "Music playback is unavailable right now."
)

const (
	// DefaultCommandTimeout bounds the work done for one interaction.
	DefaultCommandTimeout = 30 * time.Second

	// DefaultDescribeTimeout bounds the metadata lookup done before enqueuing.
	DefaultDescribeTimeout = 10 * time.Second
)

// Player is the playback surface driven by the /music commands.
type Player interface {
	Enqueue(ctx context.Context, guildID string, ref playback.SourceRef, notify playback.Notifier, args playback.JoinArgs) (playback.EnqueueResult, error)
	Skip(ctx context.Context, guildID string) (playback.SkipResult, error)
	Stop(ctx context.Context, guildID string) (playback.StopResult, error)
	Leave(ctx context.Context, guildID string) (playback.LeaveResult, error)
	QueueSnapshot(guildID string) playback.Snapshot
}

var _ Player = (*playback.Orchestrator)(nil)

// VoiceLocator returns the voice channel a user is connected to, or "".
type VoiceLocator func(guildID, userID string) string

// NotifierFactory returns the notice channel for a text channel.
type NotifierFactory func(channelID string) playback.Notifier

// MusicConfig holds the dependencies for [MusicCommands].
type MusicConfig struct {
	Player   Player
	Voice    VoiceLocator
	Notifier NotifierFactory

	// Describer fills in titles and durations. Optional.
	Describer resolve.Describer

	// Metrics records command counts. Optional.
	Metrics *observe.Metrics

	// MaxMessageLength caps /music queue replies. Default:
	// [playback.DefaultMaxMessageLength].
	MaxMessageLength int

	// Timeout bounds each interaction. Default: [DefaultCommandTimeout].
	Timeout time.Duration

	// DescribeTimeout bounds the metadata lookup. Default:
	// [DefaultDescribeTimeout].
	DescribeTimeout time.Duration

	// Now is the time source for queue rendering. Default: time.Now.
	Now func() time.Time
}

// MusicCommands holds the dependencies for /music slash commands.
type MusicCommands struct {
	cfg MusicConfig
}

// NewMusicCommands creates a MusicCommands with defaults applied.
func NewMusicCommands(cfg MusicConfig) *MusicCommands {
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = playback.DefaultMaxMessageLength
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultCommandTimeout
	}
	if cfg.DescribeTimeout <= 0 {
		cfg.DescribeTimeout = DefaultDescribeTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &MusicCommands{cfg: cfg}
}

// Register registers the /music command group with the router.
func (mc *MusicCommands) Register(router *discord.CommandRouter) {
	def := mc.Definition()
	router.RegisterCommand("music", def, func(r discord.Responder, i *discordgo.InteractionCreate) {
		discord.RespondEphemeral(r, i, "Please use a subcommand: `/music play`, `skip`, `stop`, `queue` or `leave`.")
	})
	router.RegisterHandler("music/play", mc.handlePlay)
	router.RegisterHandler("music/skip", mc.handleSkip)
	router.RegisterHandler("music/stop", mc.handleStop)
	router.RegisterHandler("music/queue", mc.handleQueue)
	router.RegisterHandler("music/leave", mc.handleLeave)
}

// Definition returns the ApplicationCommand definition for Discord.
func (mc *MusicCommands) Definition() *discordgo.ApplicationCommand {
	dmPermission := false
	return &discordgo.ApplicationCommand{
		Name:         "music",
		Description:  "Play music in your voice channel",
		DMPermission: &dmPermission,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "play",
				Description: "Play a song or add it to the queue",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "url",
						Description: "YouTube URL of the song",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "skip",
				Description: "Skip the current song",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "stop",
				Description: "Stop the music and clear the queue",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "queue",
				Description: "Show the current music queue",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "leave",
				Description: "Leave the voice channel and clear the queue",
			},
		},
	}
}

// handlePlay handles /music play.
func (mc *MusicCommands) handlePlay(r discord.Responder, i *discordgo.InteractionCreate) {
	ctx, cancel := mc.begin(i, "play")
	defer cancel()

	guildID := i.GuildID
	if guildID == "" {
		discord.RespondEphemeral(r, i, MsgGuildOnly)
		return
	}

	locator := strings.TrimSpace(subcommandString(i, "url"))
	if locator == "" {
		discord.RespondEphemeral(r, i, MsgInvalidLocator)
		return
	}

	userID := interactionUserID(i)
	channelID := mc.cfg.Voice(guildID, userID)
	if channelID == "" {
		discord.RespondEphemeral(r, i, MsgNotInVoice)
		return
	}

	// Joining and the metadata lookup can exceed the acknowledgement window.
	discord.DeferReply(r, i)

	ref := playback.SourceRef{
		Locator:     locator,
		RequestedBy: interactionUserName(i),
	}
	mc.describe(ctx, &ref)

	res, err := mc.cfg.Player.Enqueue(ctx, guildID, ref, mc.cfg.Notifier(i.ChannelID), playback.JoinArgs{ChannelID: channelID})
	if err != nil {
		observe.Logger(ctx).Warn("commands: play failed", "guild_id", guildID, "err", err)
		discord.FollowUp(r, i, playErrorMessage(err))
		return
	}

	switch res.Outcome {
	case playback.OutcomeNowPlaying:
		discord.FollowUp(r, i, playback.NowPlayingNotice(res.Ref))
	default:
		discord.FollowUp(r, i, "🎶 Added to queue: "+res.Ref.DisplayName())
	}
}

// handleSkip handles /music skip.
func (mc *MusicCommands) handleSkip(r discord.Responder, i *discordgo.InteractionCreate) {
	ctx, cancel := mc.begin(i, "skip")
	defer cancel()

	res, err := mc.cfg.Player.Skip(ctx, i.GuildID)
	if err != nil {
		discord.RespondEphemeral(r, i, MsgUnavailable)
		return
	}
	if !res.Skipped {
		discord.Respond(r, i, MsgNothingPlaying)
		return
	}
	discord.Respond(r, i, MsgSkipped)
}

// handleStop handles /music stop.
func (mc *MusicCommands) handleStop(r discord.Responder, i *discordgo.InteractionCreate) {
	ctx, cancel := mc.begin(i, "stop")
	defer cancel()

	if _, err := mc.cfg.Player.Stop(ctx, i.GuildID); err != nil {
		discord.RespondEphemeral(r, i, MsgUnavailable)
		return
	}
	discord.Respond(r, i, MsgStopped)
}

// handleQueue handles /music queue.
func (mc *MusicCommands) handleQueue(r discord.Responder, i *discordgo.InteractionCreate) {
	ctx, cancel := mc.begin(i, "queue")
	defer cancel()

	text, err := playback.RenderQueue(mc.cfg.Player.QueueSnapshot(i.GuildID), mc.cfg.MaxMessageLength, mc.cfg.Now())
	if err != nil {
		// Truncated output is still a usable reply.
		observe.Logger(ctx).Debug("commands: queue listing truncated", "guild_id", i.GuildID, "err", err)
	}
	discord.Respond(r, i, text)
}

// handleLeave handles /music leave.
func (mc *MusicCommands) handleLeave(r discord.Responder, i *discordgo.InteractionCreate) {
	ctx, cancel := mc.begin(i, "leave")
	defer cancel()

	res, err := mc.cfg.Player.Leave(ctx, i.GuildID)
	if err != nil {
		discord.RespondEphemeral(r, i, MsgUnavailable)
		return
	}
	if !res.Left {
		discord.Respond(r, i, MsgNotConnected)
		return
	}
	discord.Respond(r, i, MsgLeft)
}

// begin opens the per-interaction context and counts the command.
func (mc *MusicCommands) begin(i *discordgo.InteractionCreate, name string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), mc.cfg.Timeout)
	if mc.cfg.Metrics != nil {
		mc.cfg.Metrics.RecordCommand(ctx, "music/"+name)
	}
	slog.Debug("commands: music", "sub", name, "guild_id", i.GuildID, "user_id", interactionUserID(i))
	return ctx, cancel
}

// describe fills in display metadata. Lookup failures leave ref untouched.
func (mc *MusicCommands) describe(ctx context.Context, ref *playback.SourceRef) {
	if mc.cfg.Describer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, mc.cfg.DescribeTimeout)
	defer cancel()

	md, err := mc.cfg.Describer.Describe(ctx, ref.Locator)
	if err != nil {
		slog.Debug("commands: metadata lookup failed", "locator", ref.Locator, "err", err)
		return
	}
	ref.Title = md.Title
	ref.Duration = md.Duration
}

func playErrorMessage(err error) string {
	switch {
	case errors.Is(err, playback.ErrInvalidInput):
		return MsgInvalidLocator
	case errors.Is(err, playback.ErrClosed):
		return MsgUnavailable
	case errors.Is(err, playback.ErrTransport):
		return MsgJoinFailed
	default:
		return MsgUnavailable
	}
}

// subcommandString returns the named string option of the invoked subcommand.
func subcommandString(i *discordgo.InteractionCreate, name string) string {
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		return ""
	}
	for _, opt := range data.Options[0].Options {
		if opt.Name == name && opt.Type == discordgo.ApplicationCommandOptionString {
			return opt.StringValue()
		}
	}
	return ""
}

// interactionUserID extracts the user ID from an interaction, handling
// both guild (Member) and DM (User) contexts.
func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

// interactionUserName returns the caller's display name for queue listings.
func interactionUserName(i *discordgo.InteractionCreate) string {
	if i.Member != nil {
		if i.Member.Nick != "" {
			return i.Member.Nick
		}
		if i.Member.User != nil {
			return i.Member.User.DisplayName()
		}
	}
	if i.User != nil {
		return i.User.DisplayName()
	}
	return ""
}
