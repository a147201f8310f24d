package twitchapi

import (
	"context"
	"strings"
	"sync"

	"github.com/onnwee/botwatch/platform"
)

// Client adapts HelixClient to platform.Locator and platform.StatsProvider.
// The broadcast id is the Helix stream id and the chat id is the channel login,
// which is what the IRC chat source joins.
type Client struct {
	helix *HelixClient

	mu     sync.Mutex
	logins map[string]string // stream id -> login
}

// NewClient wraps helix.
func NewClient(helix *HelixClient) *Client {
	return &Client{helix: helix, logins: make(map[string]string)}
}

func (c *Client) FindLiveBroadcast(ctx context.Context, channelID string) (string, error) {
	login := strings.ToLower(channelID)
	streams, err := c.helix.GetStreams(ctx, login)
	if err != nil {
		return "", platform.Wrap(platform.StageDiscovery, channelID, err)
	}
	for _, s := range streams {
		if s.Type != "" && s.Type != "live" {
			continue
		}
		c.remember(s.ID, login)
		return s.ID, nil
	}
	return "", nil
}

// GetStats re-reads the stream to get a fresh viewer count. It returns nil if the
// stream id is unknown or the channel has gone offline or restarted.
func (c *Client) GetStats(ctx context.Context, broadcastID string) (*platform.Stats, error) {
	c.mu.Lock()
	login, ok := c.logins[broadcastID]
	c.mu.Unlock()
	if !ok {
		return nil, nil
	}
	streams, err := c.helix.GetStreams(ctx, login)
	if err != nil {
		return nil, platform.Wrap(platform.StageStats, broadcastID, err)
	}
	for _, s := range streams {
		if s.ID == broadcastID {
			return &platform.Stats{ConcurrentViewers: s.ViewerCount, ActiveChatID: login}, nil
		}
	}
	c.mu.Lock()
	delete(c.logins, broadcastID)
	c.mu.Unlock()
	return nil, nil
}

// remember maps id to login and forgets earlier stream ids of that login, so
// restarts do not accumulate entries.
func (c *Client) remember(id, login string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for old, l := range c.logins {
		if l == login && old != id {
			delete(c.logins, old)
		}
	}
	c.logins[id] = login
}
