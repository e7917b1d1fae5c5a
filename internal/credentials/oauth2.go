package credentials

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/vyrodovalexey/avarfc/internal/config"
	"github.com/vyrodovalexey/avarfc/internal/rfc"
)

// OAuth2 obtains a bearer token with the client credentials flow. Tokens
// are reused until shortly before they expire.
type OAuth2 struct {
	source oauth2.TokenSource
}

// NewOAuth2 creates a client credentials provider.
func NewOAuth2(cfg config.OAuth2Config) *OAuth2 {
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	return &OAuth2{source: cc.TokenSource(context.Background())}
}

// Credentials implements rfc.CredentialProvider.
func (o *OAuth2) Credentials(_ context.Context) (rfc.Credentials, error) {
	token, err := o.source.Token()
	if err != nil {
		return rfc.Credentials{}, fmt.Errorf("failed to obtain access token: %w", err)
	}
	return rfc.Credentials{Token: token.AccessToken}, nil
}
