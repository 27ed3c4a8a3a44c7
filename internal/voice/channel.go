package voice

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/glizzus/voice-relay/internal/util"
)

// ChannelLister is the part of *discordgo.Session used to find channels.
type ChannelLister interface {
	GuildChannels(guildID string, options ...discordgo.RequestOption) ([]*discordgo.Channel, error)
}

var _ ChannelLister = (*discordgo.Session)(nil)

// ChannelResolutionError indicates that the configured voice channel
// could not be used. It is a fatal startup error.
type ChannelResolutionError struct {
	GuildID   string
	ChannelID string
	Reason    string
}

func (e *ChannelResolutionError) Error() string {
	return fmt.Sprintf("cannot use channel %s in guild %s: %s", e.ChannelID, e.GuildID, e.Reason)
}

var _ error = (*ChannelResolutionError)(nil)

// IsVoiceCapable reports whether the bot can join and listen in channel.
func IsVoiceCapable(channel *discordgo.Channel) bool {
	return channel.Type == discordgo.ChannelTypeGuildVoice ||
		channel.Type == discordgo.ChannelTypeGuildStageVoice
}

// ResolveVoiceChannel finds channelID among the guild's channels and
// checks that it is voice capable.
func ResolveVoiceChannel(lister ChannelLister, guildID, channelID string) (*discordgo.Channel, error) {
	channels, err := lister.GuildChannels(guildID)
	if err != nil {
		return nil, &ChannelResolutionError{
			GuildID:   guildID,
			ChannelID: channelID,
			Reason:    fmt.Sprintf("failed to list guild channels: %v", err),
		}
	}

	channel, ok := util.FindFirst(channels, func(c *discordgo.Channel) bool {
		return c.ID == channelID
	})
	if !ok {
		return nil, &ChannelResolutionError{GuildID: guildID, ChannelID: channelID, Reason: "channel not found"}
	}
	if !IsVoiceCapable(channel) {
		return nil, &ChannelResolutionError{GuildID: guildID, ChannelID: channelID, Reason: "not a voice channel"}
	}

	return channel, nil
}
