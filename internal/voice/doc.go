// Package voice adapts a discordgo voice connection to the bridge: it
// resolves and joins the target channel, demultiplexes received audio by
// speaker, and plays replies back into the channel.
package voice
