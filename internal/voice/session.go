package voice

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// Connection is where reply audio is sent.
type Connection interface {
	OpusSender() chan<- []byte
	Speaking(speaking bool) error
}

// ConnectionSource returns the current voice connection, or nil when
// there is none to play into.
type ConnectionSource interface {
	ActiveConnection() Connection
}

type Joiner interface {
	ChannelVoiceJoin(guildID, channelID string, mute, deaf bool) (*discordgo.VoiceConnection, error)
}

var _ Joiner = (*discordgo.Session)(nil)

// Session owns the bot's single voice connection.
type Session struct {
	mu       sync.Mutex
	vc       *discordgo.VoiceConnection
	released bool
}

// Join connects to channel undeafened, so audio is received.
func Join(joiner Joiner, channel *discordgo.Channel) (*Session, error) {
	vc, err := joiner.ChannelVoiceJoin(channel.GuildID, channel.ID, false, false)
	if err != nil {
		return nil, fmt.Errorf("unable to join the voice channel: %w", err)
	}
	return NewSession(vc), nil
}

func NewSession(vc *discordgo.VoiceConnection) *Session {
	return &Session{vc: vc}
}

// Packets is the raw receive channel shared by every speaker.
func (s *Session) Packets() <-chan *discordgo.Packet {
	return s.vc.OpusRecv
}

// OnSpeakingUpdate registers h for speaking updates from other users.
func (s *Session) OnSpeakingUpdate(h discordgo.VoiceSpeakingUpdateHandler) {
	s.vc.AddHandler(h)
}

func (s *Session) ActiveConnection() Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released || s.vc == nil {
		return nil
	}

	s.vc.RLock()
	ready := s.vc.Ready
	s.vc.RUnlock()
	if !ready {
		return nil
	}
	return discordConnection{vc: s.vc}
}

// Release leaves the voice channel. Calling it again is a no-op.
func (s *Session) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released || s.vc == nil {
		return nil
	}
	s.released = true

	if err := s.vc.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect from voice: %w", err)
	}
	return nil
}

var _ ConnectionSource = (*Session)(nil)

type discordConnection struct {
	vc *discordgo.VoiceConnection
}

func (c discordConnection) OpusSender() chan<- []byte {
	return c.vc.OpusSend
}

func (c discordConnection) Speaking(speaking bool) error {
	return c.vc.Speaking(speaking)
}
