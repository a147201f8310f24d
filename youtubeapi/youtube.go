// Package youtubeapi binds the YouTube Data API v3 to the platform contracts:
// search for a channel's live video, read its live streaming details, and page
// through its live chat. Requests are authenticated with an API key.
package youtubeapi

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/botwatch/platform"
)

// maxChatResults is the largest page liveChatMessages.list accepts.
const maxChatResults = 2000

// Client implements platform.Client against the YouTube Data API.
type Client struct {
	svc *yt.Service
}

// New builds a Client. Extra options (endpoint, HTTP client) are for tests.
func New(ctx context.Context, apiKey string, opts ...option.ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("youtube api key empty")
	}
	opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}
	return &Client{svc: svc}, nil
}

// FindLiveBroadcast returns the id of the channel's current live video, or "".
func (c *Client) FindLiveBroadcast(ctx context.Context, channelID string) (string, error) {
	res, err := c.svc.Search.List([]string{"id"}).
		ChannelId(channelID).
		EventType("live").
		Type("video").
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", platform.Wrap(platform.StageDiscovery, channelID, fmt.Errorf("youtube search: %w", err))
	}
	for _, item := range res.Items {
		if item.Id != nil && item.Id.VideoId != "" {
			return item.Id.VideoId, nil
		}
	}
	return "", nil
}

// GetStats reads concurrent viewers and the active live chat id of a video.
func (c *Client) GetStats(ctx context.Context, broadcastID string) (*platform.Stats, error) {
	res, err := c.svc.Videos.List([]string{"liveStreamingDetails", "statistics"}).
		Id(broadcastID).
		Context(ctx).
		Do()
	if err != nil {
		return nil, platform.Wrap(platform.StageStats, broadcastID, fmt.Errorf("youtube videos: %w", err))
	}
	if len(res.Items) == 0 {
		slog.Warn("no video details found", slog.String("video_id", broadcastID))
		return nil, nil
	}
	st := &platform.Stats{}
	if d := res.Items[0].LiveStreamingDetails; d != nil {
		st.ConcurrentViewers = int(d.ConcurrentViewers)
		st.ActiveChatID = d.ActiveLiveChatId
	}
	return st, nil
}

// ListMessages fetches one page of live chat messages.
func (c *Client) ListMessages(ctx context.Context, chatID, pageToken string) (*platform.ChatPage, error) {
	call := c.svc.LiveChatMessages.List(chatID, []string{"snippet", "authorDetails"}).
		MaxResults(maxChatResults).
		Context(ctx)
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Do()
	if err != nil {
		return nil, platform.Wrap(platform.StageChat, chatID, fmt.Errorf("youtube live chat: %w", err))
	}
	page := &platform.ChatPage{
		Items:           make([]platform.ChatMessage, 0, len(res.Items)),
		NextPageToken:   res.NextPageToken,
		PollingInterval: time.Duration(res.PollingIntervalMillis) * time.Millisecond,
	}
	for _, item := range res.Items {
		msg, ok := toMessage(item)
		if !ok {
			continue
		}
		page.Items = append(page.Items, msg)
	}
	return page, nil
}

func toMessage(item *yt.LiveChatMessage) (platform.ChatMessage, bool) {
	if item == nil {
		return platform.ChatMessage{}, false
	}
	if a := item.AuthorDetails; a != nil && a.ChannelId != "" {
		return platform.ChatMessage{AuthorID: a.ChannelId, IsModerator: a.IsChatModerator, IsOwner: a.IsChatOwner}, true
	}
	if item.Snippet != nil && item.Snippet.AuthorChannelId != "" {
		return platform.ChatMessage{AuthorID: item.Snippet.AuthorChannelId}, true
	}
	return platform.ChatMessage{}, false
}
