// Package platform defines the contracts the monitor needs from a live-video
// platform: locating a live broadcast, reading its viewer stats, and paging
// through its chat. Concrete bindings live in youtubeapi and twitchapi.
package platform

import (
	"context"
	"time"
)

// DefaultPollingInterval is used when a chat page carries no suggested interval.
const DefaultPollingInterval = 2 * time.Second

// Stats is a point-in-time reading of a live broadcast.
type Stats struct {
	ConcurrentViewers int
	// ActiveChatID is empty when chat is disabled or the broadcast is DVR-only.
	ActiveChatID string
}

// ChatMessage carries only the author attributes the sampler needs.
type ChatMessage struct {
	AuthorID    string
	IsModerator bool
	IsOwner     bool
}

// ChatPage is one page of chat messages.
type ChatPage struct {
	Items         []ChatMessage
	NextPageToken string
	// PollingInterval is the source's suggested wait before the next request; zero means unset.
	PollingInterval time.Duration
}

// Locator finds the live broadcast of a channel. An empty id with a nil error means
// the channel is not live.
type Locator interface {
	FindLiveBroadcast(ctx context.Context, channelID string) (string, error)
}

// StatsProvider reads viewer stats for a broadcast. A nil *Stats with a nil error
// means the platform had nothing for that broadcast.
type StatsProvider interface {
	GetStats(ctx context.Context, broadcastID string) (*Stats, error)
}

// ChatSource lists chat messages page by page.
type ChatSource interface {
	ListMessages(ctx context.Context, chatID, pageToken string) (*ChatPage, error)
}

// Client bundles the three collaborators one platform binding provides.
type Client interface {
	Locator
	StatsProvider
	ChatSource
}

// Poll returns the page's suggested interval or DefaultPollingInterval.
func (p *ChatPage) Poll() time.Duration {
	if p == nil || p.PollingInterval <= 0 {
		return DefaultPollingInterval
	}
	return p.PollingInterval
}

type composite struct {
	Locator
	StatsProvider
	ChatSource
}

// Compose builds a Client from separate collaborators, for platforms whose chat
// comes from a different transport than their REST API.
func Compose(l Locator, s StatsProvider, c ChatSource) Client {
	return composite{Locator: l, StatsProvider: s, ChatSource: c}
}
