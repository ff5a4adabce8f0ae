package discord

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/vibot/internal/discord/mock"
)

func TestChannelNotifier_Notify(t *testing.T) {
	t.Parallel()

	sender := &mock.MessageSender{}
	n := NewChannelNotifier(sender, "chan-1")

	if err := n.Notify(context.Background(), "🎶 Now playing: x"); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	sent := sender.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	if sent[0].ChannelID != "chan-1" || sent[0].Content != "🎶 Now playing: x" {
		t.Errorf("sent = %+v", sent[0])
	}
}

func TestChannelNotifier_WrapsError(t *testing.T) {
	t.Parallel()

	cause := errors.New("missing access")
	n := NewChannelNotifier(&mock.MessageSender{Err: cause}, "chan-1")

	err := n.Notify(context.Background(), "hi")
	if !errors.Is(err, cause) {
		t.Fatalf("Notify() error = %v, want wrapping %v", err, cause)
	}
}

func TestChannelNotifier_NoChannel(t *testing.T) {
	t.Parallel()

	sender := &mock.MessageSender{}
	n := NewChannelNotifier(sender, "")
	if err := n.Notify(context.Background(), "hi"); err == nil {
		t.Fatal("expected error without a channel")
	}
	if len(sender.Sent()) != 0 {
		t.Error("nothing should be sent without a channel")
	}
}
