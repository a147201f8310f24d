// Package twitchapi contains the Twitch Helix binding: resolving a channel's
// live stream and its viewer count with an app access token.
package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	json "github.com/goccy/go-json"
	"golang.org/x/oauth2"
)

// DefaultBaseURL is the Helix API root.
const DefaultBaseURL = "https://api.twitch.tv/helix"

// HelixClient provides the Helix calls the monitor needs.
type HelixClient struct {
	TokenSource oauth2.TokenSource
	ClientID    string
	HTTPClient  *http.Client
	BaseURL     string
}

// Stream is a live stream as reported by /helix/streams.
type Stream struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	UserLogin   string    `json:"user_login"`
	Title       string    `json:"title"`
	Type        string    `json:"type"`
	ViewerCount int       `json:"viewer_count"`
	StartedAt   time.Time `json:"started_at"`
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) baseURL() string {
	if hc.BaseURL != "" {
		return hc.BaseURL
	}
	return DefaultBaseURL
}

// GetStreams returns the live streams for a login; an empty slice means offline.
func (hc *HelixClient) GetStreams(ctx context.Context, login string) ([]Stream, error) {
	if login == "" {
		return nil, errors.New("login empty")
	}
	q := url.Values{}
	q.Set("user_login", login)
	var body struct {
		Data []Stream `json:"data"`
	}
	if err := hc.get(ctx, "/streams", q, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

func (hc *HelixClient) get(ctx context.Context, path string, q url.Values, out any) error {
	if hc.TokenSource == nil {
		return errors.New("helix: no token source")
	}
	tok, err := hc.TokenSource.Token()
	if err != nil {
		return fmt.Errorf("helix token: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hc.baseURL()+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("helix %s: %s: %s", path, resp.Status, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
