package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/botwatch/platform"
)

// maxBufferedMessages caps memory if nobody drains the buffer for a while.
const maxBufferedMessages = 50000

// ircClient is the subset of *twitch.Client used by TwitchSource.
type ircClient interface {
	OnPrivateMessage(callback func(message twitch.PrivateMessage))
	Join(channels ...string)
	Depart(channel string)
	Connect() error
	Disconnect() error
}

// TwitchSource exposes Twitch IRC chat as a platform.ChatSource. The chat id is
// the channel login. An empty page token starts a new window: anything buffered
// before it is discarded so messages are never attributed to the wrong window.
type TwitchSource struct {
	client ircClient

	mu        sync.Mutex
	channel   string
	connected bool
	connErr   chan error
	buf       []platform.ChatMessage
	dropped   int
	seq       int
}

// NewTwitchSource connects lazily with the bot credentials on first use. The
// token needs the chat:read scope.
func NewTwitchSource(username, oauthToken string) *TwitchSource {
	if !strings.HasPrefix(oauthToken, "oauth:") {
		oauthToken = "oauth:" + oauthToken
	}
	return newTwitchSource(twitch.NewClient(username, oauthToken))
}

func newTwitchSource(c ircClient) *TwitchSource {
	s := &TwitchSource{client: c, connErr: make(chan error, 1)}
	c.OnPrivateMessage(s.onMessage)
	return s
}

func (s *TwitchSource) onMessage(msg twitch.PrivateMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !strings.EqualFold(msg.Channel, s.channel) {
		return
	}
	if len(s.buf) >= maxBufferedMessages {
		s.dropped++
		return
	}
	author := msg.User.ID
	if author == "" {
		author = msg.User.Name
	}
	s.buf = append(s.buf, platform.ChatMessage{
		AuthorID:    author,
		IsModerator: msg.User.Badges["moderator"] > 0,
		IsOwner:     msg.User.Badges["broadcaster"] > 0,
	})
}

// ListMessages drains the messages buffered since the previous call.
func (s *TwitchSource) ListMessages(ctx context.Context, chatID, pageToken string) (*platform.ChatPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, platform.Wrap(platform.StageChat, chatID, err)
	}
	chatID = strings.ToLower(chatID)

	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case err := <-s.connErr:
		s.connected = false
		s.channel = ""
		if err == nil || errors.Is(err, twitch.ErrClientDisconnected) {
			err = errors.New("connection closed")
		}
		return nil, platform.Wrap(platform.StageChat, chatID, fmt.Errorf("twitch irc: %w", err))
	default:
	}

	if !s.connected {
		s.channel = chatID
		s.client.Join(chatID)
		s.connected = true
		go func() {
			err := s.client.Connect()
			s.connErr <- err
		}()
		slog.Info("twitch irc: connecting", slog.String("channel", chatID))
	} else if s.channel != chatID {
		s.client.Depart(s.channel)
		s.client.Join(chatID)
		s.channel = chatID
		s.buf = nil
	}

	if pageToken == "" {
		s.buf = nil
		s.seq = 0
	}
	if s.dropped > 0 {
		slog.Warn("twitch irc: buffer full, messages dropped", slog.String("channel", chatID), slog.Int("dropped", s.dropped))
		s.dropped = 0
	}
	items := s.buf
	s.buf = nil
	s.seq++
	return &platform.ChatPage{
		Items:           items,
		NextPageToken:   strconv.Itoa(s.seq),
		PollingInterval: platform.DefaultPollingInterval,
	}, nil
}

// Close disconnects from IRC.
func (s *TwitchSource) Close() error {
	s.mu.Lock()
	connected := s.connected
	s.connected = false
	s.mu.Unlock()
	if !connected {
		return nil
	}
	if err := s.client.Disconnect(); err != nil && !errors.Is(err, twitch.ErrConnectionIsNotOpen) {
		return err
	}
	return nil
}
