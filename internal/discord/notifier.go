package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/vibot/internal/playback"
)

// MessageSender is the subset of *discordgo.Session used to post channel messages.
type MessageSender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var _ MessageSender = (*discordgo.Session)(nil)

// ChannelNotifier posts playback notices to a single text channel.
type ChannelNotifier struct {
	sender    MessageSender
	channelID string
}

var _ playback.Notifier = (*ChannelNotifier)(nil)

// NewChannelNotifier returns a notifier that posts to channelID.
func NewChannelNotifier(sender MessageSender, channelID string) *ChannelNotifier {
	return &ChannelNotifier{sender: sender, channelID: channelID}
}

// Notify sends text to the channel. The request is abandoned when ctx ends.
func (n *ChannelNotifier) Notify(ctx context.Context, text string) error {
	if n.channelID == "" {
		return fmt.Errorf("discord: notify: no channel")
	}
	if _, err := n.sender.ChannelMessageSend(n.channelID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: notify channel %s: %w", n.channelID, err)
	}
	return nil
}
