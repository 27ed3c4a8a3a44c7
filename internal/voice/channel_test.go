package voice_test

import (
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/glizzus/voice-relay/internal/voice"
)

type fakeLister struct {
	channels []*discordgo.Channel
	err      error
}

func (f fakeLister) GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error) {
	return f.channels, f.err
}

func TestResolveVoiceChannel(t *testing.T) {
	channels := []*discordgo.Channel{
		{ID: "text", GuildID: "g", Type: discordgo.ChannelTypeGuildText},
		{ID: "voice", GuildID: "g", Type: discordgo.ChannelTypeGuildVoice},
		{ID: "stage", GuildID: "g", Type: discordgo.ChannelTypeGuildStageVoice},
	}

	tc := []struct {
		name      string
		lister    fakeLister
		channelID string
		err       bool
	}{
		{name: "voice channel", lister: fakeLister{channels: channels}, channelID: "voice"},
		{name: "stage channel", lister: fakeLister{channels: channels}, channelID: "stage"},
		{name: "text channel", lister: fakeLister{channels: channels}, channelID: "text", err: true},
		{name: "missing channel", lister: fakeLister{channels: channels}, channelID: "nope", err: true},
		{name: "listing fails", lister: fakeLister{err: errors.New("unauthorized")}, channelID: "voice", err: true},
	}

	for _, test := range tc {
		t.Run(test.name, func(t *testing.T) {
			channel, err := voice.ResolveVoiceChannel(test.lister, "g", test.channelID)
			if test.err {
				var resolutionErr *voice.ChannelResolutionError
				if !errors.As(err, &resolutionErr) {
					t.Fatalf("expected a ChannelResolutionError, got %v", err)
				}
				if resolutionErr.ChannelID != test.channelID {
					t.Errorf("expected channel ID %s in error, got %s", test.channelID, resolutionErr.ChannelID)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if channel.ID != test.channelID {
				t.Errorf("expected channel %s, got %s", test.channelID, channel.ID)
			}
		})
	}
}

type fakeJoiner struct {
	vc   *discordgo.VoiceConnection
	args []any
}

func (f *fakeJoiner) ChannelVoiceJoin(guildID, channelID string, mute, deaf bool) (*discordgo.VoiceConnection, error) {
	f.args = []any{guildID, channelID, mute, deaf}
	return f.vc, nil
}

func TestJoinListensUndeafened(t *testing.T) {
	joiner := &fakeJoiner{vc: &discordgo.VoiceConnection{}}

	if _, err := voice.Join(joiner, &discordgo.Channel{ID: "c", GuildID: "g"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []any{"g", "c", false, false}
	for i := range expected {
		if joiner.args[i] != expected[i] {
			t.Errorf("expected join args %v, got %v", expected, joiner.args)
			break
		}
	}
}

func TestActiveConnectionRequiresReadyConnection(t *testing.T) {
	vc := &discordgo.VoiceConnection{OpusSend: make(chan []byte, 1)}
	session := voice.NewSession(vc)

	if session.ActiveConnection() != nil {
		t.Errorf("expected no active connection before the voice connection is ready")
	}

	vc.Ready = true
	conn := session.ActiveConnection()
	if conn == nil {
		t.Fatal("expected an active connection")
	}
	conn.OpusSender() <- []byte("frame")
	if got := string(<-vc.OpusSend); got != "frame" {
		t.Errorf("expected frame to reach the voice connection, got %q", got)
	}
}

func TestReleaseWithoutConnection(t *testing.T) {
	session := voice.NewSession(nil)
	if err := session.Release(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if session.ActiveConnection() != nil {
		t.Errorf("expected no active connection")
	}
}
