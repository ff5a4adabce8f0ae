package discord

import (
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/vibot/internal/discord/mock"
)

func TestRespond_Public(t *testing.T) {
	t.Parallel()

	resp := &mock.InteractionResponder{}
	Respond(resp, commandInteraction("music", "play"), "hello")

	last := resp.LastResponse()
	if last == nil || last.Data.Content != "hello" {
		t.Fatalf("response = %+v, want content hello", last)
	}
	if last.Data.Flags&discordgo.MessageFlagsEphemeral != 0 {
		t.Error("public response must not be ephemeral")
	}
}

func TestRespondError_Ephemeral(t *testing.T) {
	t.Parallel()

	resp := &mock.InteractionResponder{}
	RespondError(resp, commandInteraction("music", "play"), errors.New("boom"))

	last := resp.LastResponse()
	if last == nil || last.Data.Content != "Error: boom" {
		t.Fatalf("response = %+v, want content %q", last, "Error: boom")
	}
	if last.Data.Flags&discordgo.MessageFlagsEphemeral == 0 {
		t.Error("error response should be ephemeral")
	}
}

func TestDeferReplyThenFollowUp(t *testing.T) {
	t.Parallel()

	resp := &mock.InteractionResponder{}
	i := commandInteraction("music", "play")
	DeferReply(resp, i)
	FollowUp(resp, i, "done")

	last := resp.LastResponse()
	if last == nil || last.Type != discordgo.InteractionResponseDeferredChannelMessageWithSource {
		t.Fatalf("response = %+v, want deferred", last)
	}
	if fu := resp.LastFollowUp(); fu == nil || fu.Content != "done" {
		t.Fatalf("follow-up = %+v, want content done", fu)
	}
}

func TestRespond_ErrorIsSwallowed(t *testing.T) {
	t.Parallel()

	resp := &mock.InteractionResponder{Err: errors.New("rate limited")}
	i := commandInteraction("music", "play")
	Respond(resp, i, "x")
	FollowUp(resp, i, "y")

	if len(resp.Responses) != 1 || len(resp.FollowUps) != 1 {
		t.Errorf("recorded %d responses and %d follow-ups, want 1 and 1", len(resp.Responses), len(resp.FollowUps))
	}
}
