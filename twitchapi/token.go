package twitchapi

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenURL is the Twitch OAuth token endpoint.
const TokenURL = "https://id.twitch.tv/oauth2/token"

// NewAppTokenSource returns a cached client-credentials (app access) token
// source for Helix calls. App tokens cannot be used for IRC chat; chat needs a
// user token with chat:read.
func NewAppTokenSource(ctx context.Context, clientID, clientSecret string, hc *http.Client) oauth2.TokenSource {
	if hc != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, hc)
	}
	cc := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	return cc.TokenSource(ctx)
}
